package ipctransport

import (
	"encoding/hex"
	"encoding/json"
	"os"
	"path/filepath"
)

// SessionInfo is the daemon-port fact recorded for a running root, read by
// every other process that wants to attach to the same daemon.
type SessionInfo struct {
	Port int `json:"port"`
	Pid  int `json:"pid"`
}

func sessionDir() (string, error) {
	dir := filepath.Join(os.TempDir(), "collab")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	return dir, nil
}

// sessionKey is a reversible hex encoding of the absolute root path, used
// in place of a lossy '/'->'!' substitution so the root can always be
// recovered from the key name alone.
func sessionKey(absRoot string) string {
	return hex.EncodeToString([]byte(absRoot))
}

func sessionKeyToRoot(key string) (string, bool) {
	b, err := hex.DecodeString(key)
	if err != nil {
		return "", false
	}
	return string(b), true
}

// Bind records this daemon's IPC port for absRoot, creating the session
// key file read by clients and by ActiveSessions.
func Bind(absRoot string, port int) error {
	dir, err := sessionDir()
	if err != nil {
		return err
	}
	return writeSessionFile(filepath.Join(dir, sessionKey(absRoot)), SessionInfo{Port: port, Pid: os.Getpid()})
}

func writeSessionFile(path string, info SessionInfo) error {
	data, err := json.Marshal(info)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}

// Unbind removes the session key file, called on clean shutdown.
func Unbind(absRoot string) error {
	dir, err := sessionDir()
	if err != nil {
		return err
	}
	err = os.Remove(filepath.Join(dir, sessionKey(absRoot)))
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

func readSessionFile(path string) (SessionInfo, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return SessionInfo{}, err
	}
	var info SessionInfo
	if err := json.Unmarshal(data, &info); err != nil {
		return SessionInfo{}, err
	}
	return info, nil
}

// FindSession walks startDir and its ancestors looking for a live session
// key. A key whose recorded pid is no longer alive is deleted and the
// walk continues upward.
func FindSession(startDir string) (root string, info SessionInfo, found bool, err error) {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return "", SessionInfo{}, false, err
	}
	sdir, err := sessionDir()
	if err != nil {
		return "", SessionInfo{}, false, err
	}
	for {
		keyPath := filepath.Join(sdir, sessionKey(dir))
		if si, readErr := readSessionFile(keyPath); readErr == nil {
			if isAlive(si.Pid) {
				return dir, si, true, nil
			}
			os.Remove(keyPath)
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", SessionInfo{}, false, nil
		}
		dir = parent
	}
}

// ActiveSessions scans the session directory and returns every root whose
// recorded daemon is still alive. Stale keys are skipped, not deleted —
// only FindSession's ancestor walk cleans up a given root's stale key,
// since deleting here could race a daemon that is mid-restart and about
// to rebind the same key.
func ActiveSessions() ([]string, error) {
	dir, err := sessionDir()
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var roots []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		root, ok := sessionKeyToRoot(e.Name())
		if !ok {
			continue
		}
		info, err := readSessionFile(filepath.Join(dir, e.Name()))
		if err != nil || !isAlive(info.Pid) {
			continue
		}
		roots = append(roots, root)
	}
	return roots, nil
}
