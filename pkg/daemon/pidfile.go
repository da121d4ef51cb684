//go:build !windows

package daemon

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"syscall"
)

var (
	// ErrInvalidPid is returned when a PID file does not hold a positive integer.
	ErrInvalidPid = errors.New("invalid PID in file")

	// ErrProcessDone is returned by Signal when the process no longer exists.
	ErrProcessDone = errors.New("process already finished")
)

// WritePidFile writes pid in decimal to path, replacing any previous content.
// The file is not removed when the process exits.
func WritePidFile(path string, pid int) error {
	if err := os.WriteFile(path, []byte(strconv.Itoa(pid)), 0644); err != nil {
		return fmt.Errorf("failed to write PID file: %w", err)
	}
	return nil
}

// ReadPidFile returns the pid stored in path.
func ReadPidFile(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}

	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid <= 0 {
		return 0, fmt.Errorf("%w: %s: %q", ErrInvalidPid, path, strings.TrimSpace(string(data)))
	}
	return pid, nil
}

// IsProcessRunning reads a PID from the given file and checks whether
// that process is still alive. Returns the PID and true if running,
// or 0 and false otherwise.
func IsProcessRunning(path string) (int, bool) {
	pid, err := ReadPidFile(path)
	if err != nil {
		return 0, false
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		return 0, false
	}

	if err := process.Signal(syscall.Signal(0)); err != nil {
		// EPERM means the process exists but belongs to someone else.
		if errors.Is(err, syscall.EPERM) {
			return pid, true
		}
		return 0, false
	}

	return pid, true
}

// Signal sends sig to pid.
func Signal(pid int, sig syscall.Signal) error {
	process, err := os.FindProcess(pid)
	if err != nil {
		return fmt.Errorf("failed to find process %d: %w", pid, err)
	}

	err = process.Signal(sig)
	if errors.Is(err, os.ErrProcessDone) || errors.Is(err, syscall.ESRCH) {
		return ErrProcessDone
	}
	if err != nil {
		return fmt.Errorf("failed to send signal: %w", err)
	}
	return nil
}
