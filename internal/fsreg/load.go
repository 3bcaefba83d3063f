package fsreg

import (
	"io/fs"
	"os"
	"path/filepath"
)

// LoadDir walks root and returns the Diff sequence that would construct an
// identical registry from scratch: a NewDir for every non-ignored
// directory and a Write+Chmod pair for every non-ignored file. It is used
// both by the FS watcher's initial scan and by the startup handshake's
// snapshot of the registry for a newly connected peer.
//
// ignored is called with the path relative to root; a nil ignored treats
// nothing as ignored.
func LoadDir(root string, ignored func(RelPath) bool) ([]Diff, error) {
	var diffs []Diff

	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if path == root {
			return nil
		}
		rel, relErr := filepath.Rel(root, path)
		if relErr != nil {
			return relErr
		}
		relPath, pathErr := NewRelPath(filepath.ToSlash(rel))
		if pathErr != nil {
			return pathErr
		}

		if ignored != nil && ignored(relPath) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		if d.IsDir() {
			diffs = append(diffs, NewDirDiff(relPath))
			return nil
		}

		data, readErr := os.ReadFile(path)
		if readErr != nil {
			return readErr
		}
		perm, permErr := GetPerm(path)
		if permErr != nil {
			return permErr
		}
		diffs = append(diffs, WriteDiff(relPath, data))
		diffs = append(diffs, ChmodDiff(relPath, perm))
		return nil
	})
	if err != nil {
		return nil, err
	}
	return diffs, nil
}
