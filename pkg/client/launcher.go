// Package client launches the King Phisher client.
//
// The launcher locates the UI definition on the client data path, loads the
// client configuration and hands both to an Application, by default the
// frontend executable run as a child process.
package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/kingphisher/kingphisher/internal/cli/output"
	"github.com/kingphisher/kingphisher/internal/logger"
	"github.com/kingphisher/kingphisher/internal/sysexits"
	"github.com/kingphisher/kingphisher/pkg/config"
)

// UIFileName is the UI definition the frontend renders.
const UIFileName = "king-phisher-client.ui"

// ErrUIFileNotFound is returned when no data directory holds UIFileName.
var ErrUIFileNotFound = errors.New("client UI data file not found")

// Application is the running client.
type Application interface {
	// Run blocks until the client exits and returns its exit status.
	Run(ctx context.Context) (int, error)
}

// Launch describes what the application is started with.
type Launch struct {
	UIFile     string
	ConfigFile string
	Config     *Config
	LoggerName string
	LogLevel   logger.Level
	Log        *slog.Logger
}

// ApplicationFactory builds the application for a launch.
type ApplicationFactory func(l Launch) Application

// Options are the launcher command line inputs.
type Options struct {
	// ConfigFile is the -c/--config value; empty means DefaultConfigPath.
	ConfigFile string
	LogLevel   logger.Level
	// LoggerName is attached to every log record.
	LoggerName string
	// DataDirs are searched before the default client data directories.
	DataDirs []string
}

// Launcher starts the client once.
type Launcher struct {
	opts    Options
	console *output.Console
	logs    *logger.Context
	newApp  ApplicationFactory
}

// NewLauncher creates a launcher. A nil console prints to stderr and a nil
// factory runs the frontend process.
func NewLauncher(opts Options, console *output.Console, newApp ApplicationFactory) *Launcher {
	if console == nil {
		console = output.StderrConsole()
	}
	if newApp == nil {
		newApp = NewFrontendProcess
	}
	if opts.LoggerName == "" {
		opts.LoggerName = logger.DefaultName
	}
	return &Launcher{opts: opts, console: console, newApp: newApp}
}

// WithLogging makes the launcher use logs instead of creating a context.
func (l *Launcher) WithLogging(logs *logger.Context) *Launcher {
	l.logs = logs
	return l
}

// Run launches the application and returns the process exit status.
func (l *Launcher) Run(ctx context.Context) int {
	if l.logs == nil {
		l.logs = logger.New(logger.Options{Name: l.opts.LoggerName, ConsoleLevel: l.opts.LogLevel})
	}
	defer func() { _ = l.logs.Close() }()
	log := l.logs.Logger("launcher")

	uiFile, err := config.NewDataPath(config.DataKindClient, l.opts.DataDirs...).Find(UIFileName)
	if err != nil {
		l.console.Error("%v: %s", ErrUIFileNotFound, UIFileName)
		log.Error("Failed to locate the UI file", "name", UIFileName, "error", err)
		return sysexits.NoInput
	}
	log.Debug("Found UI file", "path", uiFile)

	configFile, explicit := l.opts.ConfigFile, l.opts.ConfigFile != ""
	if !explicit {
		configFile = DefaultConfigPath()
	}
	cfg, err := LoadConfig(configFile, explicit)
	if err != nil {
		l.console.Error("Failed to load the client configuration: %v", err)
		if errors.Is(err, config.ErrNotFound) {
			return sysexits.NoInput
		}
		return sysexits.Config
	}

	app := l.newApp(Launch{
		UIFile:     uiFile,
		ConfigFile: configFile,
		Config:     cfg,
		LoggerName: l.opts.LoggerName,
		LogLevel:   l.opts.LogLevel,
		Log:        l.logs.Logger("frontend"),
	})

	status, err := app.Run(ctx)
	if err != nil {
		l.console.Error("%v", fmt.Errorf("failed to run the client: %w", err))
		return sysexits.Software
	}
	log.Debug("Client exited", "status", status)
	return status
}
