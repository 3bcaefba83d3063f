package fsreg

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
)

// Op discriminates the five kinds of filesystem mutation a Diff can carry.
type Op int

const (
	OpWrite Op = iota
	OpNewDir
	OpDel
	OpMove
	OpChmod
)

func (o Op) String() string {
	switch o {
	case OpWrite:
		return "Write"
	case OpNewDir:
		return "NewDir"
	case OpDel:
		return "Del"
	case OpMove:
		return "Move"
	case OpChmod:
		return "Chmod"
	default:
		return "Unknown"
	}
}

// Diff is a single filesystem mutation event. Only the fields relevant to
// Op are populated: Write uses Path+Data, NewDir/Del use Path, Move uses
// Path (the "from") and To, Chmod uses Path+Perm.
type Diff struct {
	Op   Op
	Path RelPath
	To   RelPath
	Data []byte
	Perm FilePerm
}

func WriteDiff(p RelPath, data []byte) Diff   { return Diff{Op: OpWrite, Path: p, Data: data} }
func NewDirDiff(p RelPath) Diff                { return Diff{Op: OpNewDir, Path: p} }
func DelDiff(p RelPath) Diff                   { return Diff{Op: OpDel, Path: p} }
func MoveDiff(from, to RelPath) Diff           { return Diff{Op: OpMove, Path: from, To: to} }
func ChmodDiff(p RelPath, perm FilePerm) Diff  { return Diff{Op: OpChmod, Path: p, Perm: perm} }

// ChangesRegister reports whether applying d via Register would alter reg.
// This is the sole echo-suppression mechanism the router relies on.
func (d Diff) ChangesRegister(reg Registry) bool {
	switch d.Op {
	case OpWrite:
		entry, ok := reg[d.Path]
		if !ok {
			return true
		}
		if entry.Kind != KindFile {
			return true
		}
		return entry.Hash != HashBytes(d.Data)
	case OpNewDir:
		entry, ok := reg[d.Path]
		return !ok || entry.Kind != KindDir
	case OpDel:
		_, ok := reg[d.Path]
		return ok
	case OpMove:
		from, ok := reg[d.Path]
		if !ok {
			return false
		}
		to, toOk := reg[d.To]
		if !toOk {
			return true
		}
		return !entriesEqual(from, to)
	case OpChmod:
		entry, ok := reg[d.Path]
		if !ok || entry.Kind != KindFile {
			return false
		}
		if entry.Perm == nil {
			return true
		}
		return *entry.Perm != d.Perm
	default:
		return false
	}
}

func entriesEqual(a, b Entry) bool {
	if a.Kind != b.Kind {
		return false
	}
	if a.Kind == KindDir {
		return true
	}
	if a.Hash != b.Hash {
		return false
	}
	if (a.Perm == nil) != (b.Perm == nil) {
		return false
	}
	if a.Perm != nil && *a.Perm != *b.Perm {
		return false
	}
	return true
}

// Register applies d to reg, mutating it in place. It returns a
// registry-invariant error for operations that assume state which isn't
// there (Chmod on an absent/non-file entry, Del on an absent entry) — the
// router surfaces these as per-event errors rather than crashing.
func (d Diff) Register(reg Registry) error {
	switch d.Op {
	case OpWrite:
		var perm *FilePerm
		if existing, ok := reg[d.Path]; ok && existing.Kind == KindFile {
			perm = existing.Perm
		}
		reg[d.Path] = Entry{Kind: KindFile, Hash: HashBytes(d.Data), Perm: perm}
		return nil
	case OpNewDir:
		reg[d.Path] = Entry{Kind: KindDir}
		return nil
	case OpDel:
		if _, ok := reg[d.Path]; !ok {
			return fmt.Errorf("fsreg: registry invariant violated: del of absent path %q", d.Path)
		}
		delete(reg, d.Path)
		return nil
	case OpMove:
		entry, ok := reg[d.Path]
		if !ok {
			// The move was already cancelled by an earlier event; silently
			// no-op rather than error, since a racing Del of the source is
			// a normal outcome of coalesced filesystem events.
			return nil
		}
		delete(reg, d.Path)
		reg[d.To] = entry
		return nil
	case OpChmod:
		entry, ok := reg[d.Path]
		if !ok || entry.Kind != KindFile {
			return fmt.Errorf("fsreg: registry invariant violated: chmod on non-file path %q", d.Path)
		}
		perm := d.Perm
		entry.Perm = &perm
		reg[d.Path] = entry
		return nil
	default:
		return fmt.Errorf("fsreg: unknown diff op %v", d.Op)
	}
}

// ApplyToDisk reflects d on the local filesystem rooted at root. It lives
// next to the Diff type itself rather than in the router package, since
// applying a diff to disk is a property of the diff, not of the router;
// the router is the only caller, and only for peer-sourced diffs.
func (d Diff) ApplyToDisk(root string) error {
	switch d.Op {
	case OpWrite:
		full := filepath.Join(root, filepath.FromSlash(string(d.Path)))
		if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
			return fmt.Errorf("fsreg: mkdir parent of %s: %w", d.Path, err)
		}
		if err := os.WriteFile(full, d.Data, 0o644); err != nil {
			return fmt.Errorf("fsreg: write %s: %w", d.Path, err)
		}
		return nil
	case OpNewDir:
		full := filepath.Join(root, filepath.FromSlash(string(d.Path)))
		if err := os.MkdirAll(full, 0o755); err != nil {
			return fmt.Errorf("fsreg: mkdir %s: %w", d.Path, err)
		}
		return nil
	case OpDel:
		full := filepath.Join(root, filepath.FromSlash(string(d.Path)))
		info, err := os.Stat(full)
		if err != nil {
			return fmt.Errorf("fsreg: stat %s: %w", d.Path, err)
		}
		if info.IsDir() {
			err = os.RemoveAll(full)
		} else {
			err = os.Remove(full)
		}
		if err != nil {
			return fmt.Errorf("fsreg: del %s: %w", d.Path, err)
		}
		return nil
	case OpMove:
		from := filepath.Join(root, filepath.FromSlash(string(d.Path)))
		to := filepath.Join(root, filepath.FromSlash(string(d.To)))
		if err := os.MkdirAll(filepath.Dir(to), 0o755); err != nil {
			return fmt.Errorf("fsreg: mkdir parent of %s: %w", d.To, err)
		}
		if err := os.Rename(from, to); err != nil {
			return fmt.Errorf("fsreg: move %s -> %s: %w", d.Path, d.To, err)
		}
		return nil
	case OpChmod:
		full := filepath.Join(root, filepath.FromSlash(string(d.Path)))
		return applyPerm(full, d.Perm)
	default:
		return fmt.Errorf("fsreg: unknown diff op %v", d.Op)
	}
}

// GetPerm reads the current permission bits of the file at path. On
// Windows Executable is always false; on every other host it reflects the
// user-execute bit, including non-Unix hosts such as plan9 or js.
func GetPerm(path string) (FilePerm, error) {
	info, err := os.Stat(path)
	if err != nil {
		return FilePerm{}, err
	}
	perm := FilePerm{Readonly: info.Mode().Perm()&0o200 == 0}
	if runtime.GOOS != "windows" {
		perm.Executable = info.Mode().Perm()&0o100 != 0
	}
	return perm, nil
}
