//go:build unix

package ipctransport

import "golang.org/x/sys/unix"

// isAlive reports whether pid is a running process, signalling it with 0
// (no-op signal, delivery is still checked by the kernel).
func isAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	return unix.Kill(pid, 0) == nil
}
