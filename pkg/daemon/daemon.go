//go:build !windows

// Package daemon decides whether the server detaches from its terminal and
// performs the detach.
//
// Go cannot fork a running runtime safely, so detaching re-executes the
// current binary in a new session with the original arguments plus
// --foreground. The parent returns as soon as the child has started. The
// child is marked with EnvDaemonized so it can tell that no console is
// attached.
package daemon

import (
	"fmt"
	"os"
	"os/exec"
	"slices"
	"strings"
	"syscall"

	"github.com/kingphisher/kingphisher/pkg/config"
)

const (
	// EnvDaemonized is set to "1" in the environment of a detached child.
	EnvDaemonized = "KING_PHISHER_DAEMONIZED"

	// ForegroundFlag is passed to the child so it does not detach again.
	ForegroundFlag = "--foreground"
)

// ShouldFork applies the fork decision precedence: a process that is
// already detached never forks, then an explicit foreground request wins,
// then server.fork, then the default of detaching.
func ShouldFork(foreground, daemonized bool, cfg *config.Configuration) bool {
	if daemonized || foreground {
		return false
	}
	return cfg.GetBoolDefault(config.OptionServerFork, true)
}

// IsDaemonized reports whether this process was started by a Detacher.
func IsDaemonized() bool {
	return os.Getenv(EnvDaemonized) == "1"
}

// Detacher starts a detached copy of the current process.
type Detacher interface {
	// Detach starts the child and returns its pid. The caller is the parent
	// and should exit successfully without doing further work.
	Detach() (int, error)
}

// Reexec is the Detacher that re-executes a binary.
type Reexec struct {
	Executable string
	Args       []string
	Env        []string
}

// NewReexec returns a Reexec for the running binary and its arguments.
func NewReexec() (*Reexec, error) {
	executable, err := os.Executable()
	if err != nil {
		return nil, fmt.Errorf("failed to get executable path: %w", err)
	}
	return &Reexec{
		Executable: executable,
		Args:       os.Args[1:],
		Env:        os.Environ(),
	}, nil
}

// Command builds the child command without starting it. Foreground flags
// carrying an explicit value are dropped so the child cannot be told to
// detach again.
func (r *Reexec) Command() *exec.Cmd {
	args := []string{ForegroundFlag}
	for i, arg := range r.Args {
		if arg == "--" {
			args = append(args, r.Args[i:]...)
			break
		}
		if arg == ForegroundFlag || strings.HasPrefix(arg, ForegroundFlag+"=") || strings.HasPrefix(arg, "-f=") {
			continue
		}
		args = append(args, arg)
	}

	cmd := exec.Command(r.Executable, args...)
	cmd.Env = append(slices.Clone(r.Env), EnvDaemonized+"=1")
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Setsid: true,
	}
	return cmd
}

// Detach starts the child with stdio on the null device in a new session.
func (r *Reexec) Detach() (int, error) {
	devNull, err := os.OpenFile(os.DevNull, os.O_RDWR, 0)
	if err != nil {
		return 0, fmt.Errorf("failed to open %s: %w", os.DevNull, err)
	}
	defer func() { _ = devNull.Close() }()

	cmd := r.Command()
	cmd.Stdin = devNull
	cmd.Stdout = devNull
	cmd.Stderr = devNull

	if err := cmd.Start(); err != nil {
		return 0, fmt.Errorf("failed to start daemon: %w", err)
	}

	pid := cmd.Process.Pid
	if err := cmd.Process.Release(); err != nil {
		return pid, fmt.Errorf("failed to release daemon process: %w", err)
	}
	return pid, nil
}
