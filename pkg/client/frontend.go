package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"time"

	"github.com/kingphisher/kingphisher/internal/sysexits"
)

// Environment passed to the frontend process.
const (
	EnvUIFile     = "KING_PHISHER_UI_FILE"
	EnvConfigFile = "KING_PHISHER_CONFIG"
	EnvLoggerName = "KING_PHISHER_LOGGER"
	EnvLogLevel   = "KING_PHISHER_LOG_LEVEL"
)

// interruptGrace is how long the frontend has to exit after an interrupt
// before it is killed.
const interruptGrace = 10 * time.Second

// FrontendProcess runs the frontend executable as a child process.
type FrontendProcess struct {
	Path string
	Args []string
	Env  []string

	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer

	log *slog.Logger
}

// NewFrontendProcess is the default ApplicationFactory.
func NewFrontendProcess(l Launch) Application {
	env := append(os.Environ(),
		EnvUIFile+"="+l.UIFile,
		EnvConfigFile+"="+l.ConfigFile,
		EnvLoggerName+"="+l.LoggerName,
		EnvLogLevel+"="+l.LogLevel.String(),
	)
	log := l.Log
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	return &FrontendProcess{
		Path:   l.Config.Frontend,
		Args:   l.Config.Args,
		Env:    env,
		Stdin:  os.Stdin,
		Stdout: os.Stdout,
		Stderr: os.Stderr,
		log:    log,
	}
}

// Run starts the frontend and waits for it. Cancelling ctx interrupts the
// frontend; it is killed if it does not exit within interruptGrace. A
// non-zero exit of the frontend is returned as its status, not as an error.
func (p *FrontendProcess) Run(ctx context.Context) (int, error) {
	path, err := exec.LookPath(p.Path)
	if err != nil {
		return sysexits.Software, fmt.Errorf("frontend %q: %w", p.Path, err)
	}

	cmd := exec.CommandContext(ctx, path, p.Args...)
	cmd.Env = p.Env
	cmd.Stdin = p.Stdin
	cmd.Stdout = p.Stdout
	cmd.Stderr = p.Stderr
	cmd.Cancel = func() error {
		return cmd.Process.Signal(os.Interrupt)
	}
	cmd.WaitDelay = interruptGrace

	if p.log != nil {
		p.log.Info("Starting frontend", "path", path, "args", p.Args)
	}
	err = cmd.Run()
	if err == nil {
		return sysexits.OK, nil
	}

	// Interrupted on request: the frontend stopped cleanly.
	if ctxErr := ctx.Err(); ctxErr != nil && errors.Is(err, ctxErr) {
		return sysexits.OK, nil
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		if code := exitErr.ExitCode(); code >= 0 {
			return code, nil
		}
		// Killed by a signal.
		if ctx.Err() != nil {
			return sysexits.OK, nil
		}
		return sysexits.Software, nil
	}
	return sysexits.Software, err
}
