package ipctransport

import (
	"os"
	"path/filepath"
	"testing"
)

func TestBindThenFindSessionFromNestedDir(t *testing.T) {
	root := t.TempDir()
	nested := filepath.Join(root, "a", "b", "c")
	if err := os.MkdirAll(nested, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := Bind(root, 9123); err != nil {
		t.Fatal(err)
	}
	defer Unbind(root)

	foundRoot, info, found, err := FindSession(nested)
	if err != nil {
		t.Fatal(err)
	}
	if !found {
		t.Fatal("expected to find the session from a nested ancestor directory")
	}
	if foundRoot != root || info.Port != 9123 {
		t.Fatalf("unexpected session: root=%q info=%+v", foundRoot, info)
	}
}

func TestFindSessionRemovesStaleKey(t *testing.T) {
	root := t.TempDir()
	// A pid that (almost certainly) doesn't exist.
	if err := bindWithPid(root, 1, 999999999); err != nil {
		t.Fatal(err)
	}

	_, _, found, err := FindSession(root)
	if err != nil {
		t.Fatal(err)
	}
	if found {
		t.Fatal("expected stale session to be treated as not found")
	}

	dir, err := sessionDir()
	if err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(filepath.Join(dir, sessionKey(root))); !os.IsNotExist(err) {
		t.Fatal("expected stale session key to be removed")
	}
}

func TestActiveSessionsSkipsStaleWithoutDeleting(t *testing.T) {
	root := t.TempDir()
	if err := bindWithPid(root, 1, 999999999); err != nil {
		t.Fatal(err)
	}

	roots, err := ActiveSessions()
	if err != nil {
		t.Fatal(err)
	}
	for _, r := range roots {
		if r == root {
			t.Fatal("stale session must not appear in ActiveSessions")
		}
	}

	dir, err := sessionDir()
	if err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(filepath.Join(dir, sessionKey(root))); err != nil {
		t.Fatal("ActiveSessions must not delete a stale key, only skip it")
	}
	os.Remove(filepath.Join(dir, sessionKey(root)))
}

// bindWithPid is a test-only helper writing a session key with an
// arbitrary pid, to simulate a daemon that is no longer running.
func bindWithPid(absRoot string, port, pid int) error {
	dir, err := sessionDir()
	if err != nil {
		return err
	}
	return writeSessionFile(filepath.Join(dir, sessionKey(absRoot)), SessionInfo{Port: port, Pid: pid})
}
