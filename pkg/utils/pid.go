package utils

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// PIDManager handles PID file operations for the running daemon
type PIDManager struct {
	pidFile string
}

// NewPIDManager creates a new PIDManager instance
func NewPIDManager(pidFile string) *PIDManager {
	return &PIDManager{
		pidFile: pidFile,
	}
}

// WritePID writes the current process ID to the PID file
func (p *PIDManager) WritePID() error {
	dir := filepath.Dir(p.pidFile)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create PID directory: %w", err)
	}

	return os.WriteFile(p.pidFile, []byte(fmt.Sprintf("%d\n", os.Getpid())), 0644)
}

// RemovePID removes the PID file. A missing file is not an error.
func (p *PIDManager) RemovePID() error {
	if err := os.Remove(p.pidFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

// GetPIDFile returns the PID file path
func (p *PIDManager) GetPIDFile() string {
	return p.pidFile
}
