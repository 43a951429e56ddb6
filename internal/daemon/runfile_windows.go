//go:build windows

package daemon

import (
	"fmt"
	"os"
	"syscall"
)

// IsRunning reads the run file and reports whether its process is alive.
func (f *RunFile) IsRunning() (*RunInfo, bool) {
	info, err := f.Read()
	if err != nil {
		return nil, false
	}
	proc, err := os.FindProcess(info.PID)
	if err != nil {
		return info, false
	}
	// On Windows, FindProcess always succeeds; test with Signal(0) equivalent.
	err = proc.Signal(syscall.Signal(0))
	return info, err == nil
}

// Signal sends the given signal to the process in the run file.
// On Windows, only SIGKILL (os.Kill) is reliably supported.
func (f *RunFile) Signal(sig syscall.Signal) error {
	info, err := f.Read()
	if err != nil {
		return fmt.Errorf("read run file: %w", err)
	}
	proc, err := os.FindProcess(info.PID)
	if err != nil {
		return fmt.Errorf("find process %d: %w", info.PID, err)
	}
	return proc.Signal(sig)
}
