package ignore

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLayeredMatchingScenario(t *testing.T) {
	m := New()
	if err := m.SetSource(".ignore", "ignored_file\nignored_directory\n*.ignored\n!whitelisted.ignored\n"); err != nil {
		t.Fatal(err)
	}

	cases := map[string]bool{
		"ignored_file":            true,
		"ignored_directory":       true,
		"ignored_directory/a":     true,
		"a.ignored":               true,
		"whitelisted.ignored":     false,
		".ignore":                 false,
		"unrelated.txt":           false,
	}
	for path, want := range cases {
		if got := m.IsIgnored(path); got != want {
			t.Errorf("IsIgnored(%q) = %v, want %v", path, got, want)
		}
	}
}

func TestNestedIgnoreFileIsAnchored(t *testing.T) {
	m := New()
	if err := m.SetSource("sub/.gitignore", "secret.txt\n"); err != nil {
		t.Fatal(err)
	}
	if !m.IsIgnored("sub/secret.txt") {
		t.Error("expected sub/secret.txt to be ignored by sub/.gitignore")
	}
	if m.IsIgnored("secret.txt") {
		t.Error("root-level secret.txt must not be ignored by a nested .gitignore")
	}
}

func TestRemoveSourceRebuilds(t *testing.T) {
	m := New()
	m.SetSource(".ignore", "a.txt\n")
	if !m.IsIgnored("a.txt") {
		t.Fatal("expected a.txt ignored before removal")
	}
	if err := m.RemoveSource(".ignore"); err != nil {
		t.Fatal(err)
	}
	if m.IsIgnored("a.txt") {
		t.Fatal("expected a.txt not ignored after source removal")
	}
}

func TestLoadExistingSeedsFromDisk(t *testing.T) {
	root := t.TempDir()
	if err := os.WriteFile(filepath.Join(root, ".gitignore"), []byte("*.log\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.MkdirAll(filepath.Join(root, "sub"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(root, "sub", ".ignore"), []byte("secret\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	m, err := LoadExisting(root)
	if err != nil {
		t.Fatal(err)
	}
	if !m.IsIgnored("build.log") {
		t.Error("expected root .gitignore pattern to be loaded")
	}
	if !m.IsIgnored("sub/secret") {
		t.Error("expected nested .ignore pattern to be loaded and anchored")
	}
	if m.IsIgnored("secret") {
		t.Error("nested .ignore pattern must not apply outside its directory")
	}
}

func TestIsIgnoreFile(t *testing.T) {
	if !IsIgnoreFile(".gitignore") || !IsIgnoreFile(".ignore") {
		t.Fatal("expected both .gitignore and .ignore recognized")
	}
	if IsIgnoreFile("foo.txt") {
		t.Fatal("unexpected match for foo.txt")
	}
}
