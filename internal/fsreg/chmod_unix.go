//go:build unix

package fsreg

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// applyPerm sets the readonly flag and the user-execute bit on path,
// leaving group/other bits untouched.
func applyPerm(path string, perm FilePerm) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("fsreg: stat %s: %w", path, err)
	}
	mode := uint32(info.Mode().Perm())

	userExec := mode&0o100 != 0
	if perm.Executable && !userExec {
		mode |= 0o100
	} else if !perm.Executable && userExec {
		mode &^= 0o100
	}

	if err := unix.Chmod(path, mode); err != nil {
		return fmt.Errorf("fsreg: chmod %s: %w", path, err)
	}

	if perm.Readonly {
		mode &^= 0o200
	} else {
		mode |= 0o200
	}
	if err := unix.Chmod(path, mode); err != nil {
		return fmt.Errorf("fsreg: chmod (readonly) %s: %w", path, err)
	}
	return nil
}
