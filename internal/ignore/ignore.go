// Package ignore implements the layered .gitignore/.ignore matcher the FS
// watcher consults before turning a filesystem event into an FsDiff.
package ignore

import (
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	gitignore "github.com/sabhiram/go-gitignore"
)

// IsIgnoreFile reports whether name is one of the two filenames the system
// treats as an ignore-rule source.
func IsIgnoreFile(name string) bool {
	base := filepath.Base(name)
	return base == ".gitignore" || base == ".ignore"
}

// Matcher maintains the set of active ignore-file source paths (relative
// to root, '/'-separated) and a compiled matcher built from their
// concatenation. SetSource and RemoveSource rebuild and replace the
// compiled matcher under the write lock, so IsIgnored never observes a
// half-updated rule set.
type Matcher struct {
	mu      sync.RWMutex
	sources map[string][]string // relative ignore-file path -> its lines
	compiled *gitignore.GitIgnore
}

// New returns an empty matcher (nothing ignored until a source is added).
func New() *Matcher {
	return &Matcher{sources: make(map[string][]string)}
}

// SetSource records (or updates) the parsed lines for the ignore file at
// relPath and rebuilds the compiled matcher.
func (m *Matcher) SetSource(relPath string, contents string) error {
	lines := splitLines(contents)
	m.mu.Lock()
	m.sources[relPath] = lines
	err := m.rebuildLocked()
	m.mu.Unlock()
	return err
}

// RemoveSource drops relPath from the active set and rebuilds.
func (m *Matcher) RemoveSource(relPath string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sources[relPath]; !ok {
		return nil
	}
	delete(m.sources, relPath)
	return m.rebuildLocked()
}

// rebuildLocked recompiles the matcher from every active source. Each
// source's patterns are anchored to the directory containing that ignore
// file, so a nested .gitignore never matches paths outside its own subtree.
func (m *Matcher) rebuildLocked() error {
	var all []string
	for relPath, lines := range m.sources {
		dir := filepath.ToSlash(filepath.Dir(relPath))
		if dir == "." {
			dir = ""
		}
		for _, line := range lines {
			all = append(all, anchor(line, dir))
		}
	}
	compiled := gitignore.CompileIgnoreLines(all...)
	m.compiled = compiled
	return nil
}

// anchor rewrites a single gitignore line so that it applies relative to
// dir instead of the matcher's overall root. Comments and blank lines pass
// through unchanged; negated patterns keep their leading "!".
func anchor(line string, dir string) string {
	trimmed := strings.TrimRight(line, "\r")
	if trimmed == "" || strings.HasPrefix(trimmed, "#") {
		return trimmed
	}
	if dir == "" {
		return trimmed
	}
	negate := strings.HasPrefix(trimmed, "!")
	body := trimmed
	if negate {
		body = trimmed[1:]
	}
	if strings.HasPrefix(body, "/") {
		body = dir + body
	} else {
		body = dir + "/**/" + body
	}
	if negate {
		return "!" + body
	}
	return body
}

func splitLines(s string) []string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	return strings.Split(s, "\n")
}

// IsIgnored reports whether path (relative to root, '/'-separated) matches
// the compiled rule set, honoring negations (whitelist rules override).
func (m *Matcher) IsIgnored(path string) bool {
	m.mu.RLock()
	compiled := m.compiled
	m.mu.RUnlock()
	if compiled == nil {
		return false
	}
	return compiled.MatchesPath(path)
}

// LoadExisting walks root and seeds m with every .gitignore/.ignore file
// already on disk, so the watcher's initial scan honors ignore rules that
// predate the daemon starting rather than only ones written afterwards.
// It does not itself skip ignored subtrees while walking (the rule set
// isn't known until the walk completes), so a large ignored directory is
// still traversed once at startup.
func LoadExisting(root string) (*Matcher, error) {
	m := New()
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !IsIgnoreFile(path) {
			return nil
		}
		rel, relErr := filepath.Rel(root, path)
		if relErr != nil {
			return relErr
		}
		data, readErr := os.ReadFile(path)
		if readErr != nil {
			return readErr
		}
		return m.SetSource(filepath.ToSlash(rel), string(data))
	})
	if err != nil {
		return nil, err
	}
	return m, nil
}

// Sources returns the set of active ignore-file relative paths, mostly for
// diagnostics and tests.
func (m *Matcher) Sources() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.sources))
	for k := range m.sources {
		out = append(out, k)
	}
	return out
}
