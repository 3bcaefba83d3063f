package fsreg

import "testing"

func TestWriteChangesRegister(t *testing.T) {
	reg := NewRegistry()
	d := WriteDiff("a.txt", []byte("hello"))

	if !d.ChangesRegister(reg) {
		t.Fatal("expected change on first write")
	}
	if err := d.Register(reg); err != nil {
		t.Fatalf("register: %v", err)
	}
	if d.ChangesRegister(reg) {
		t.Fatal("IDEMPOTENT-DIFF: re-registering identical write must not change registry")
	}

	// Re-registering the identical diff must leave the registry unchanged.
	before := reg["a.txt"]
	if err := d.Register(reg); err != nil {
		t.Fatalf("register again: %v", err)
	}
	if reg["a.txt"] != before {
		t.Fatal("re-registering identical diff mutated the registry")
	}
}

func TestWriteIgnoresPermsForChange(t *testing.T) {
	reg := NewRegistry()
	d := WriteDiff("a.txt", []byte("hello"))
	if err := d.Register(reg); err != nil {
		t.Fatal(err)
	}
	perm := FilePerm{Executable: true}
	if err := ChmodDiff("a.txt", perm).Register(reg); err != nil {
		t.Fatal(err)
	}
	// Re-writing identical bytes must not report a change even though the
	// entry now carries permission bits the diff doesn't mention.
	if d.ChangesRegister(reg) {
		t.Fatal("Write must ignore permissions when checking for change")
	}
	// Registering the same write again must preserve the existing perm.
	if err := d.Register(reg); err != nil {
		t.Fatal(err)
	}
	if reg["a.txt"].Perm == nil || !reg["a.txt"].Perm.Executable {
		t.Fatal("re-registering a Write must preserve existing permissions")
	}
}

func TestNewDirIdempotent(t *testing.T) {
	reg := NewRegistry()
	d := NewDirDiff("dir")
	if !d.ChangesRegister(reg) {
		t.Fatal("expected change for new dir")
	}
	d.Register(reg)
	if d.ChangesRegister(reg) {
		t.Fatal("re-registering NewDir must not change registry")
	}
}

func TestDelRequiresExistingEntry(t *testing.T) {
	reg := NewRegistry()
	d := DelDiff("missing")
	if d.ChangesRegister(reg) {
		t.Fatal("Del of absent path must not report a change")
	}
	if err := d.Register(reg); err == nil {
		t.Fatal("expected registry-invariant error deleting an absent path")
	}
}

func TestDelThenRepeat(t *testing.T) {
	reg := NewRegistry()
	WriteDiff("f", []byte("x")).Register(reg)
	d := DelDiff("f")
	if !d.ChangesRegister(reg) {
		t.Fatal("expected change deleting existing path")
	}
	if err := d.Register(reg); err != nil {
		t.Fatal(err)
	}
	if d.ChangesRegister(reg) {
		t.Fatal("re-deleting an already-absent path must not report a change")
	}
}

func TestMoveSilentlyNoopsWhenFromAbsent(t *testing.T) {
	reg := NewRegistry()
	d := MoveDiff("from", "to")
	if d.ChangesRegister(reg) {
		t.Fatal("Move with absent 'from' must not report a change")
	}
	if err := d.Register(reg); err != nil {
		t.Fatal("Move with absent 'from' must silently no-op, not error")
	}
	if _, ok := reg["to"]; ok {
		t.Fatal("no entry should appear at 'to' when 'from' never existed")
	}
}

func TestMoveRelocatesEntry(t *testing.T) {
	reg := NewRegistry()
	WriteDiff("from", []byte("x")).Register(reg)
	d := MoveDiff("from", "to")
	if !d.ChangesRegister(reg) {
		t.Fatal("expected change moving an existing entry")
	}
	if err := d.Register(reg); err != nil {
		t.Fatal(err)
	}
	if _, ok := reg["from"]; ok {
		t.Fatal("'from' must be removed after a move")
	}
	if _, ok := reg["to"]; !ok {
		t.Fatal("'to' must hold the moved entry")
	}
	if d.ChangesRegister(reg) {
		t.Fatal("re-registering an already-applied move must not change registry")
	}
}

func TestChmodRequiresFileEntry(t *testing.T) {
	reg := NewRegistry()
	NewDirDiff("d").Register(reg)
	d := ChmodDiff("d", FilePerm{Executable: true})
	if d.ChangesRegister(reg) {
		t.Fatal("Chmod on a directory must not report a change")
	}
	if err := d.Register(reg); err == nil {
		t.Fatal("expected registry-invariant error chmod'ing a directory")
	}
}

func TestChmodIdempotent(t *testing.T) {
	reg := NewRegistry()
	WriteDiff("f", []byte("x")).Register(reg)
	d := ChmodDiff("f", FilePerm{Executable: true})
	if !d.ChangesRegister(reg) {
		t.Fatal("expected change setting a new permission")
	}
	d.Register(reg)
	if d.ChangesRegister(reg) {
		t.Fatal("re-registering an identical Chmod must not change registry")
	}
}

func TestRelPathRejectsEscape(t *testing.T) {
	if _, err := NewRelPath("../evil"); err == nil {
		t.Fatal("expected rejection of a path escaping the root")
	}
	if _, err := NewRelPath("/abs"); err == nil {
		t.Fatal("expected rejection of an absolute path")
	}
	p, err := NewRelPath(`sub\dir\file.txt`)
	if err != nil {
		t.Fatal(err)
	}
	if p.String() != "sub/dir/file.txt" {
		t.Fatalf("expected backslashes normalized to '/', got %q", p.String())
	}
}
