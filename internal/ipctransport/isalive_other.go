//go:build !unix

package ipctransport

import "os"

// isAlive on non-Unix hosts has no kill(pid, 0) equivalent; finding the
// process is enough of a liveness check since FindProcess itself fails for
// a pid that was never valid.
func isAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	_, err := os.FindProcess(pid)
	return err == nil
}
