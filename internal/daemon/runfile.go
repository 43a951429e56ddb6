package daemon

import (
	"encoding/json"
	"fmt"
	"os"
	"time"
)

// RunInfo describes a background server process.
type RunInfo struct {
	PID       int       `json:"pid"`
	Addr      string    `json:"addr"`
	StartedAt time.Time `json:"started_at"`
}

// RunFile manages the run file a background server writes so `serve stop`
// and `serve status` can find it.
type RunFile struct {
	Path string
}

// NewRunFile creates a RunFile manager for the given path.
func NewRunFile(path string) *RunFile {
	return &RunFile{Path: path}
}

// Write records the current process listening on addr.
func (f *RunFile) Write(addr string) error {
	return f.WriteInfo(RunInfo{PID: os.Getpid(), Addr: addr, StartedAt: time.Now().UTC()})
}

// WriteInfo writes info to the file.
func (f *RunFile) WriteInfo(info RunInfo) error {
	data, err := json.Marshal(info)
	if err != nil {
		return err
	}
	return os.WriteFile(f.Path, append(data, '\n'), 0o644)
}

// Read reads the run file.
func (f *RunFile) Read() (*RunInfo, error) {
	data, err := os.ReadFile(f.Path)
	if err != nil {
		return nil, err
	}
	var info RunInfo
	if err := json.Unmarshal(data, &info); err != nil {
		return nil, fmt.Errorf("invalid run file content: %w", err)
	}
	if info.PID <= 0 {
		return nil, fmt.Errorf("invalid run file content: pid %d", info.PID)
	}
	return &info, nil
}

// Remove deletes the run file.
func (f *RunFile) Remove() error {
	return os.Remove(f.Path)
}
