//go:build !unix

package fsreg

import "os"

// applyPerm on non-Unix hosts only replicates the readonly flag; the
// executable dimension is inert.
func applyPerm(path string, perm FilePerm) error {
	mode := os.FileMode(0o644)
	if perm.Readonly {
		mode = 0o444
	}
	return os.Chmod(path, mode)
}
