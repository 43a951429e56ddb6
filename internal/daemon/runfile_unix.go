//go:build !windows

package daemon

import (
	"fmt"
	"syscall"
)

// IsRunning reads the run file and reports whether its process is alive.
func (f *RunFile) IsRunning() (*RunInfo, bool) {
	info, err := f.Read()
	if err != nil {
		return nil, false
	}
	// Signal 0 tests if the process exists without sending a signal.
	err = syscall.Kill(info.PID, 0)
	return info, err == nil
}

// Signal sends the given signal to the process in the run file.
func (f *RunFile) Signal(sig syscall.Signal) error {
	info, err := f.Read()
	if err != nil {
		return fmt.Errorf("read run file: %w", err)
	}
	return syscall.Kill(info.PID, sig)
}
