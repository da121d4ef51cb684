//go:build !windows

package lifecycle

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"syscall"

	"github.com/kingphisher/kingphisher/internal/cli/output"
	"github.com/kingphisher/kingphisher/internal/logger"
	"github.com/kingphisher/kingphisher/pkg/config"
	"github.com/kingphisher/kingphisher/pkg/daemon"
	"github.com/kingphisher/kingphisher/pkg/privilege"
	"github.com/kingphisher/kingphisher/pkg/server"
	"github.com/kingphisher/kingphisher/pkg/shutdown"
	"github.com/kingphisher/kingphisher/pkg/store"
)

// Service is the long-running object the sequencer constructs and drives.
// Shutdown must be idempotent and safe to call while ServeForever runs.
type Service interface {
	ServeForever() error
	Shutdown() error
	// LocalStoragePath returns the database file if the store is local.
	LocalStoragePath() (string, bool)
}

// ServiceFactory builds the service from the verified configuration.
type ServiceFactory func(cfg *config.Configuration, log *slog.Logger) (Service, error)

// NewServer is the default ServiceFactory.
func NewServer(cfg *config.Configuration, log *slog.Logger) (Service, error) {
	srv, err := server.New(cfg, log)
	if err != nil {
		return nil, err
	}
	return srv, nil
}

// Options are the command line inputs of a run.
type Options struct {
	ConfigFile string

	// LogLevel is the console level. LogLevelSet reports whether it was
	// given explicitly, in which case logging.console does not override it.
	LogLevel    logger.Level
	LogLevelSet bool

	Foreground bool
	VerifyOnly bool
}

// Option customizes a Sequencer.
type Option func(*Sequencer)

// WithConsole sets where diagnostics are printed.
func WithConsole(c *output.Console) Option {
	return func(s *Sequencer) { s.console = c }
}

// WithLogging uses an existing logging context instead of creating one.
// The sequencer still closes it at the end of the run.
func WithLogging(logs *logger.Context) Option {
	return func(s *Sequencer) { s.logs = logs }
}

// WithGuard sets the privilege guard.
func WithGuard(g *privilege.Guard) Option {
	return func(s *Sequencer) { s.guard = g }
}

// WithDetacher sets how the process detaches into the background.
func WithDetacher(d daemon.Detacher) Option {
	return func(s *Sequencer) { s.detacher = d }
}

// WithServiceFactory sets how the service is constructed.
func WithServiceFactory(f ServiceFactory) Option {
	return func(s *Sequencer) { s.newService = f }
}

// WithShutdownOptions passes options to the shutdown coordinator.
func WithShutdownOptions(opts ...shutdown.Option) Option {
	return func(s *Sequencer) { s.shutdownOpts = append(s.shutdownOpts, opts...) }
}

// WithPid sets the function reporting the process id written to the PID file.
func WithPid(getpid func() int) Option {
	return func(s *Sequencer) { s.getpid = getpid }
}

// WithDaemonized overrides detection of a detached child.
func WithDaemonized(daemonized bool) Option {
	return func(s *Sequencer) { s.daemonized = daemonized }
}

// WithDataDirs adds directories searched for data files after
// server.data_path.
func WithDataDirs(dirs ...string) Option {
	return func(s *Sequencer) { s.dataDirs = append(s.dataDirs, dirs...) }
}

// Sequencer runs the server startup sequence once.
type Sequencer struct {
	opts Options

	console      *output.Console
	logs         *logger.Context
	guard        *privilege.Guard
	detacher     daemon.Detacher
	newService   ServiceFactory
	shutdownOpts []shutdown.Option
	getpid       func() int
	daemonized   bool
	dataDirs     []string

	log      *slog.Logger
	logFile  string
	childPID int
	states   []State
}

// New creates a sequencer for one run.
func New(opts Options, options ...Option) *Sequencer {
	s := &Sequencer{
		opts:       opts,
		newService: NewServer,
		getpid:     os.Getpid,
		daemonized: daemon.IsDaemonized(),
	}
	for _, opt := range options {
		opt(s)
	}
	if s.console == nil {
		s.console = output.StderrConsole()
	}
	return s
}

// States returns the states entered so far, in order.
func (s *Sequencer) States() []State {
	return append([]State(nil), s.states...)
}

// ChildPID returns the pid of the detached child after a ParentExit.
func (s *Sequencer) ChildPID() int {
	return s.childPID
}

// Run executes the sequence. A nil result means the process should exit
// successfully: after verification only, in the parent of a detached child,
// or after an orderly shutdown. Any other result is an *Error whose
// diagnostic has already been printed.
func (s *Sequencer) Run() error {
	s.enter(StateStartLogging)
	if s.logs == nil {
		s.logs = logger.New(logger.Options{ConsoleLevel: s.opts.LogLevel})
	}
	defer func() { _ = s.logs.Close() }()
	s.log = s.logs.Logger("server")
	if s.guard == nil {
		s.guard = privilege.NewGuard(privilege.NewSystem(), s.logs.Logger("privilege"))
	}

	s.enter(StateCheckPrivilegedUser)
	if err := s.guard.CheckPrivileged(); err != nil {
		e := &Error{
			Kind:    KindPrivilege,
			Message: "The server must be started as root",
			Details: []string{"Configure the " + config.OptionServerSetuidUsername + " option to drop privileges after startup"},
			Err:     err,
		}
		return s.abort(e)
	}

	s.enter(StateLoadConfig)
	cfg, err := config.Load(s.opts.ConfigFile)
	if err != nil {
		if errors.Is(err, config.ErrNotFound) {
			return s.fail(KindUsage, err, "Invalid configuration file")
		}
		return s.fail(KindConfigValidation, err, "Failed to load the configuration file")
	}

	s.enter(StateResolveDataPaths)
	dataPath := config.NewDataPath(config.DataKindServer, s.dataDirs...)
	if dir := cfg.GetString(config.OptionServerDataPath); dir != "" {
		dataPath.Prepend(dir)
	}
	schemaPath, err := dataPath.Find(config.SchemaFileName)
	if err != nil {
		return s.fail(KindConfigSchema, err, "Missing server data file %s", config.SchemaFileName)
	}

	s.enter(StateVerifyConfig)
	if e := s.verify(cfg, schemaPath); e != nil {
		return s.abort(e)
	}
	if s.opts.VerifyOnly {
		s.enter(StateVerifyOnlyExit)
		s.console.Success("Configuration verification passed")
		return nil
	}

	s.enter(StateConfigureLogging)
	if e := s.configureLogging(cfg); e != nil {
		return s.abort(e)
	}

	s.enter(StateDecideFork)
	if daemon.ShouldFork(s.opts.Foreground, s.daemonized, cfg) {
		if err := s.detach(); err != nil {
			return s.fail(KindSoftware, err, "Failed to fork into the background")
		}
		s.enter(StateParentExit)
		return nil
	}
	s.enter(StateContinueAsChild)

	s.enter(StateConstructService)
	svc, err := s.newService(cfg, s.logs.Logger("service"))
	if err != nil {
		if errors.Is(err, store.ErrMissingDriver) {
			return s.fail(KindDependency, err, "Missing required database driver")
		}
		return s.fail(KindServiceConstruction, err, "Failed to construct the server")
	}

	s.enter(StateWritePidFile)
	pidFile := cfg.GetString(config.OptionServerPidFile)
	if pidFile != "" {
		if err := daemon.WritePidFile(pidFile, s.getpid()); err != nil {
			s.shutdownService(svc)
			return s.fail(KindSoftware, err, "Failed to write the PID file %s", pidFile)
		}
	}

	s.enter(StateDropPrivileges)
	if e := s.dropPrivileges(cfg, pidFile); e != nil {
		s.shutdownService(svc)
		return s.abort(e)
	}

	s.enter(StateCheckStorageAccess)
	if path, ok := svc.LocalStoragePath(); ok {
		dir := filepath.Dir(path)
		if err := s.guard.CheckWritable(dir); err != nil {
			s.shutdownService(svc)
			return s.fail(KindStorageAccess, err, "The SQLite database directory is not writable: %s", dir)
		}
	}

	s.enter(StateInstallSignalHandler)
	coordinator := shutdown.New(svc, s.logs.Logger("shutdown"), s.shutdownOpts...)
	coordinator.Install(s.shutdownSignals()...)

	s.enter(StateServeForever)
	s.log.Info("Server ready", "pid", s.getpid(), "config", cfg.Path())
	serveErr := svc.ServeForever()

	s.enter(StateShutdown)
	s.shutdownService(svc)
	coordinator.Close()
	if serveErr != nil {
		return s.fail(KindSoftware, serveErr, "The server stopped unexpectedly")
	}

	s.enter(StateTerminate)
	s.log.Info("Server shut down")
	return nil
}

func (s *Sequencer) enter(state State) {
	s.states = append(s.states, state)
	if s.log != nil {
		s.log.Debug("Entering state", "state", state.String())
	}
}

func (s *Sequencer) fail(kind Kind, err error, format string, args ...any) error {
	return s.abort(&Error{Kind: kind, Message: fmt.Sprintf(format, args...), Err: err})
}

// abort prints the diagnostic of e and returns it.
func (s *Sequencer) abort(e *Error) error {
	s.enter(StateAbort)

	line := e.Message
	if e.Err != nil {
		line += ": " + e.Err.Error()
	}
	s.console.Error("%s", line)
	for _, detail := range e.Details {
		s.console.Error("%s", detail)
	}

	if s.log != nil {
		logger.Critical(s.log, e.Message, "kind", e.Kind.String(), "error", e.Err, "exit_status", e.Kind.ExitStatus())
	}
	return e
}

// verify checks cfg against the schema at schemaPath, listing every
// problem at once.
func (s *Sequencer) verify(cfg *config.Configuration, schemaPath string) *Error {
	schema, err := config.LoadSchema(schemaPath)
	if err != nil {
		return &Error{Kind: KindConfigSchema, Message: "Failed to load the verification data", Err: err}
	}

	result := cfg.Verify(schema)
	if result.Valid() {
		s.log.Debug("Configuration verified", "config", cfg.Path(), "schema", schemaPath)
		return nil
	}

	details := make([]string, 0, len(result.Missing)+len(result.Incompatible))
	for _, option := range result.Missing {
		details = append(details, "Missing option: "+option)
	}
	for _, inc := range result.Incompatible {
		details = append(details, fmt.Sprintf("Incompatible option: %s (type: %s)", inc.Option, inc.Observed))
	}
	return &Error{Kind: KindConfigValidation, Message: "Configuration verification failed", Details: details}
}

// configureLogging applies the logging section. logging.console is either
// a level name or false to silence the console.
func (s *Sequencer) configureLogging(cfg *config.Configuration) *Error {
	if !s.opts.LogLevelSet && cfg.HasOption(config.OptionLoggingConsole) {
		switch value := cfg.Get(config.OptionLoggingConsole).(type) {
		case nil:
		case bool:
			if !value {
				s.logs.RemoveConsole()
			}
		default:
			level, err := logger.ParseLevel(fmt.Sprint(value))
			if err != nil {
				return &Error{Kind: KindConfigValidation, Message: "Invalid " + config.OptionLoggingConsole, Err: err}
			}
			s.logs.SetLevel(logger.SinkConsole, level)
		}
	}

	if format := cfg.GetString(config.OptionLoggingFormat); format != "" {
		s.logs.SetFormat(format)
	}

	logFile := cfg.GetString(config.OptionLoggingFile)
	if logFile == "" {
		return nil
	}
	level := logger.LevelInfo
	if name := cfg.GetString(config.OptionLoggingLevel); name != "" {
		parsed, err := logger.ParseLevel(name)
		if err != nil {
			return &Error{Kind: KindConfigValidation, Message: "Invalid " + config.OptionLoggingLevel, Err: err}
		}
		level = parsed
	}
	if err := s.logs.AddFile(logFile, level); err != nil {
		return &Error{Kind: KindSoftware, Message: "Failed to open the log file", Err: err}
	}
	s.logFile = logFile
	s.log.Debug("Logging to file", "path", logFile, "level", level.String())
	return nil
}

func (s *Sequencer) detach() error {
	detacher := s.detacher
	if detacher == nil {
		reexec, err := daemon.NewReexec()
		if err != nil {
			return err
		}
		detacher = reexec
	}
	pid, err := detacher.Detach()
	if err != nil {
		return err
	}
	s.childPID = pid
	return nil
}

// dropPrivileges switches to server.setuid_username. The log file and, when
// logging to a file, the PID file are handed to that user first.
func (s *Sequencer) dropPrivileges(cfg *config.Configuration, pidFile string) *Error {
	name := cfg.GetString(config.OptionServerSetuidUsername)
	if name == "" {
		s.log.Warn("Running with root privileges is dangerous, configure " + config.OptionServerSetuidUsername + " to drop them")
		s.console.Warning("Running with root privileges is dangerous, configure %s to drop them", config.OptionServerSetuidUsername)
		return nil
	}

	id, err := s.guard.Resolve(name)
	if err != nil {
		return &Error{Kind: KindUnknownDropUser, Message: "Invalid user id: " + name, Err: err}
	}

	var owned []string
	if s.logFile != "" {
		owned = append(owned, s.logFile, pidFile)
	}
	if err := s.guard.Drop(id, owned...); err != nil {
		return &Error{Kind: KindPrivilege, Message: "Failed to drop privileges to " + name, Err: err}
	}
	return nil
}

func (s *Sequencer) shutdownService(svc Service) {
	if err := svc.Shutdown(); err != nil {
		s.log.Error("Server shutdown failed", "error", err)
	}
}

// shutdownSignals returns the signals that request an orderly shutdown.
// SIGINT only counts when a console is attached.
func (s *Sequencer) shutdownSignals() []os.Signal {
	sigs := []os.Signal{syscall.SIGHUP, syscall.SIGTERM}
	if !s.daemonized {
		sigs = append(sigs, os.Interrupt)
	}
	return sigs
}
