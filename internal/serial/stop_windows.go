//go:build windows

package serial

import "os"

// Windows has no graceful stop signal for console processes.
func terminate(p *os.Process) error {
	return p.Kill()
}
