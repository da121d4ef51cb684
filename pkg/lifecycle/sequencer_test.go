//go:build !windows

package lifecycle

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/kingphisher/kingphisher/internal/cli/output"
	"github.com/kingphisher/kingphisher/internal/logger"
	"github.com/kingphisher/kingphisher/pkg/config"
	"github.com/kingphisher/kingphisher/pkg/privilege"
	"github.com/kingphisher/kingphisher/pkg/shutdown"
	"github.com/kingphisher/kingphisher/pkg/store"
)

const testSchema = `
settings:
  server.address.host: str
  server.address.port: int
  server.database: str
  server.data_path: str|null
  server.fork: bool|null
  server.pid_file: str|null
  server.setuid_username: str|null
  logging.console: str|bool|null
  logging.file: str|null
  logging.level: str|null
`

// fakeOS records identity syscalls in order.
type fakeOS struct {
	euid  int
	users map[string]privilege.Identity
	fail  map[string]error
	calls []string
}

func (f *fakeOS) record(call string) error {
	f.calls = append(f.calls, call)
	name, _, _ := strings.Cut(call, "(")
	return f.fail[name]
}

func (f *fakeOS) Geteuid() int { return f.euid }

func (f *fakeOS) LookupUser(name string) (privilege.Identity, error) {
	id, ok := f.users[name]
	if !ok {
		return privilege.Identity{}, errors.New("no matching entries in passwd file")
	}
	return id, nil
}

func (f *fakeOS) Chown(path string, uid, gid int) error {
	return f.record(fmt.Sprintf("chown(%s,%d,%d)", path, uid, gid))
}

func (f *fakeOS) Setgroups(gids []int) error { return f.record(fmt.Sprintf("setgroups(%v)", gids)) }
func (f *fakeOS) Setgid(gid int) error       { return f.record(fmt.Sprintf("setgid(%d)", gid)) }
func (f *fakeOS) Setuid(uid int) error       { return f.record(fmt.Sprintf("setuid(%d)", uid)) }
func (f *fakeOS) Writable(dir string) error  { return f.record(fmt.Sprintf("writable(%s)", dir)) }

// fakeService blocks in ServeForever until Shutdown when block is set.
type fakeService struct {
	block     bool
	serveErr  error
	localPath string

	serving   chan struct{}
	stop      chan struct{}
	once      sync.Once
	shutdowns atomic.Int32
}

func newFakeService(block bool) *fakeService {
	return &fakeService{
		block:   block,
		serving: make(chan struct{}),
		stop:    make(chan struct{}),
	}
}

func (f *fakeService) ServeForever() error {
	close(f.serving)
	if !f.block {
		return f.serveErr
	}
	<-f.stop
	return nil
}

func (f *fakeService) Shutdown() error {
	f.shutdowns.Add(1)
	f.once.Do(func() { close(f.stop) })
	return nil
}

func (f *fakeService) LocalStoragePath() (string, bool) {
	return f.localPath, f.localPath != ""
}

type fakeDetacher struct {
	calls int
	err   error
}

func (f *fakeDetacher) Detach() (int, error) {
	f.calls++
	return 9999, f.err
}

type fakeNotifier struct {
	mu      sync.Mutex
	ch      chan<- os.Signal
	sigs    []os.Signal
	stopped bool
}

func (f *fakeNotifier) notify(c chan<- os.Signal, sig ...os.Signal) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ch = c
	f.sigs = sig
}

func (f *fakeNotifier) stop(chan<- os.Signal) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopped = true
}

func (f *fakeNotifier) deliver(sig os.Signal) {
	f.mu.Lock()
	ch := f.ch
	f.mu.Unlock()
	ch <- sig
}

type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

type harness struct {
	t        *testing.T
	dir      string
	dataDir  string
	settings map[string]any

	out      bytes.Buffer
	logs     *logger.Context
	os       *fakeOS
	svc      *fakeService
	detacher *fakeDetacher
	notifier *fakeNotifier

	constructed  bool
	constructErr error
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	t.Setenv(config.EnvDataPath, "")

	h := &harness{
		t:       t,
		dir:     t.TempDir(),
		dataDir: t.TempDir(),
		settings: map[string]any{
			"server": map[string]any{
				"address":  map[string]any{"host": "127.0.0.1", "port": 8080},
				"database": "sqlite:///var/lib/king-phisher/king-phisher.db",
			},
		},
		logs: logger.New(logger.Options{Console: io.Discard}),
		os: &fakeOS{
			users: map[string]privilege.Identity{
				"kingphisher": {Name: "kingphisher", UID: 1000, GID: 1001},
			},
			fail: map[string]error{},
		},
		svc:      newFakeService(false),
		detacher: &fakeDetacher{},
		notifier: &fakeNotifier{},
	}
	require.NoError(t, os.WriteFile(filepath.Join(h.dataDir, config.SchemaFileName), []byte(testSchema), 0644))
	return h
}

// set assigns a dotted option in the configuration document.
func (h *harness) set(option string, value any) {
	parts := strings.Split(option, ".")
	section := h.settings
	for _, part := range parts[:len(parts)-1] {
		next, ok := section[part].(map[string]any)
		if !ok {
			next = map[string]any{}
			section[part] = next
		}
		section = next
	}
	section[parts[len(parts)-1]] = value
}

func (h *harness) unset(option string) {
	parts := strings.Split(option, ".")
	section := h.settings
	for _, part := range parts[:len(parts)-1] {
		section = section[part].(map[string]any)
	}
	delete(section, parts[len(parts)-1])
}

func (h *harness) path(name string) string {
	return filepath.Join(h.dir, name)
}

func (h *harness) writeConfig() string {
	h.t.Helper()
	data, err := yaml.Marshal(h.settings)
	require.NoError(h.t, err)
	path := h.path("server_config.yml")
	require.NoError(h.t, os.WriteFile(path, data, 0644))
	return path
}

func (h *harness) sequencer(opts Options, extra ...Option) *Sequencer {
	if opts.ConfigFile == "" {
		opts.ConfigFile = h.writeConfig()
	}
	options := []Option{
		WithConsole(output.NewConsole(&h.out, false)),
		WithLogging(h.logs),
		WithGuard(privilege.NewGuard(h.os, nil)),
		WithDetacher(h.detacher),
		WithServiceFactory(func(cfg *config.Configuration, log *slog.Logger) (Service, error) {
			h.constructed = true
			if h.constructErr != nil {
				return nil, h.constructErr
			}
			return h.svc, nil
		}),
		WithShutdownOptions(shutdown.WithNotify(h.notifier.notify, h.notifier.stop)),
		WithPid(func() int { return 4321 }),
		WithDaemonized(false),
		WithDataDirs(h.dataDir),
	}
	return New(opts, append(options, extra...)...)
}

func (h *harness) run(opts Options, extra ...Option) (*Sequencer, error) {
	s := h.sequencer(opts, extra...)
	return s, s.Run()
}

func lastState(s *Sequencer) State {
	states := s.States()
	return states[len(states)-1]
}

func TestRunMissingConfigFile(t *testing.T) {
	h := newHarness(t)

	s, err := h.run(Options{ConfigFile: h.path("missing.yml"), Foreground: true})
	require.Error(t, err)
	assert.Equal(t, ExitUsage, ExitStatus(err))
	assert.False(t, h.constructed)
	assert.Contains(t, h.out.String(), "[-] Invalid configuration file")
	assert.NotContains(t, s.States(), StateConfigureLogging)
}

func TestRunRequiresRoot(t *testing.T) {
	h := newHarness(t)
	h.os.euid = 1000
	h.set(config.OptionServerPidFile, h.path("kp.pid"))

	s, err := h.run(Options{Foreground: true})
	require.Error(t, err)
	assert.Equal(t, ExitNoPerm, ExitStatus(err))
	assert.True(t, strings.HasPrefix(h.out.String(), "[-] The server must be started as root"))
	assert.Equal(t, []State{StateStartLogging, StateCheckPrivilegedUser, StateAbort}, s.States())
	assert.NoFileExists(t, h.path("kp.pid"))
}

func TestVerifyOnlyValid(t *testing.T) {
	h := newHarness(t)
	h.set(config.OptionServerPidFile, h.path("kp.pid"))
	h.set(config.OptionServerSetuidUsername, "kingphisher")

	s, err := h.run(Options{VerifyOnly: true})
	require.NoError(t, err)
	assert.Equal(t, StateVerifyOnlyExit, lastState(s))
	assert.Contains(t, h.out.String(), "[+] Configuration verification passed")

	assert.Zero(t, h.detacher.calls, "no fork")
	assert.False(t, h.constructed, "no service")
	assert.NoFileExists(t, h.path("kp.pid"))
	assert.Empty(t, h.os.calls, "no privilege change")
}

func TestVerifyOnlyInvalid(t *testing.T) {
	h := newHarness(t)
	h.unset("server.database")
	h.unset("server.address.host")
	h.set("server.address.port", "eighty")
	h.set(config.OptionServerFork, "yes")

	_, err := h.run(Options{VerifyOnly: true})
	require.Error(t, err)
	assert.Equal(t, ExitConfig, ExitStatus(err))

	out := h.out.String()
	assert.Equal(t, 1, strings.Count(out, "[-] Missing option: server.address.host\n"))
	assert.Equal(t, 1, strings.Count(out, "[-] Missing option: server.database\n"))
	assert.Contains(t, out, "[-] Incompatible option: server.address.port (type: str)\n")
	assert.Contains(t, out, "[-] Incompatible option: server.fork (type: str)\n")
	assert.False(t, h.constructed)
}

func TestInvalidConfigurationStopsNormalStart(t *testing.T) {
	h := newHarness(t)
	h.unset("server.database")

	s, err := h.run(Options{Foreground: true})
	assert.Equal(t, ExitConfig, ExitStatus(err))
	assert.NotContains(t, s.States(), StateDecideFork)
	assert.False(t, h.constructed)
}

func TestMissingVerificationSchema(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, os.Remove(filepath.Join(h.dataDir, config.SchemaFileName)))

	_, err := h.run(Options{Foreground: true})
	require.Error(t, err)
	assert.Equal(t, ExitNoInput, ExitStatus(err))
	assert.Contains(t, h.out.String(), "[-] Missing server data file "+config.SchemaFileName)
	assert.False(t, h.constructed)
}

func TestServerDataPathOption(t *testing.T) {
	h := newHarness(t)
	custom := t.TempDir()
	require.NoError(t, os.Rename(filepath.Join(h.dataDir, config.SchemaFileName), filepath.Join(custom, config.SchemaFileName)))
	h.set(config.OptionServerDataPath, custom)

	_, err := h.run(Options{VerifyOnly: true})
	assert.NoError(t, err)
}

func TestForkByDefault(t *testing.T) {
	h := newHarness(t)
	h.set(config.OptionServerPidFile, h.path("kp.pid"))

	s, err := h.run(Options{})
	require.NoError(t, err)
	assert.Equal(t, 1, h.detacher.calls)
	assert.Equal(t, 9999, s.ChildPID())
	assert.Equal(t, StateParentExit, lastState(s))
	assert.False(t, h.constructed, "parent returns before service construction")
	assert.NoFileExists(t, h.path("kp.pid"))
}

func TestForkDisabledByConfig(t *testing.T) {
	h := newHarness(t)
	h.set(config.OptionServerFork, false)

	s, err := h.run(Options{})
	require.NoError(t, err)
	assert.Zero(t, h.detacher.calls)
	assert.True(t, h.constructed)
	assert.Contains(t, s.States(), StateContinueAsChild)
}

func TestForegroundOverridesFork(t *testing.T) {
	h := newHarness(t)
	h.set(config.OptionServerFork, true)

	_, err := h.run(Options{Foreground: true})
	require.NoError(t, err)
	assert.Zero(t, h.detacher.calls)
	assert.True(t, h.constructed)
}

func TestDetachedChildDoesNotForkAgain(t *testing.T) {
	h := newHarness(t)
	h.set(config.OptionServerFork, true)

	s, err := h.run(Options{}, WithDaemonized(true))
	require.NoError(t, err)
	assert.Zero(t, h.detacher.calls)
	assert.True(t, h.constructed)
	assert.Contains(t, s.States(), StateContinueAsChild)
}

func TestAbortLogsCritical(t *testing.T) {
	h := newHarness(t)
	var console lockedBuffer
	h.logs = logger.New(logger.Options{Console: &console, ConsoleLevel: logger.LevelCritical})
	h.detacher.err = errors.New("fork/exec: resource temporarily unavailable")

	_, err := h.run(Options{LogLevel: logger.LevelCritical})
	require.Error(t, err)
	assert.Contains(t, console.String(), "[CRITICAL] Failed to fork into the background")
	assert.Contains(t, console.String(), "exit_status=70")
}

func TestForkFailure(t *testing.T) {
	h := newHarness(t)
	h.detacher.err = errors.New("fork/exec: resource temporarily unavailable")

	_, err := h.run(Options{})
	assert.Equal(t, ExitSoftware, ExitStatus(err))
	assert.False(t, h.constructed)
}

func TestUnknownDropUser(t *testing.T) {
	h := newHarness(t)
	h.set(config.OptionServerSetuidUsername, "ghost")
	h.set(config.OptionServerPidFile, h.path("kp.pid"))

	_, err := h.run(Options{Foreground: true})
	require.Error(t, err)
	assert.Equal(t, ExitNoUser, ExitStatus(err))

	assert.True(t, h.constructed)
	assert.Equal(t, int32(1), h.svc.shutdowns.Load(), "service is shut down before exiting")
	assert.NotContains(t, h.os.calls, "setuid(1000)")
	assert.Contains(t, h.out.String(), "[-] Invalid user id: ghost")

	data, err := os.ReadFile(h.path("kp.pid"))
	require.NoError(t, err)
	assert.Equal(t, "4321", string(data))
}

func TestDropPrivilegesOrder(t *testing.T) {
	h := newHarness(t)
	logFile := h.path("king-phisher.log")
	pidFile := h.path("kp.pid")
	h.set(config.OptionServerSetuidUsername, "kingphisher")
	h.set(config.OptionServerPidFile, pidFile)
	h.set(config.OptionLoggingFile, logFile)

	_, err := h.run(Options{Foreground: true})
	require.NoError(t, err)

	assert.Equal(t, []string{
		fmt.Sprintf("chown(%s,1000,1001)", logFile),
		fmt.Sprintf("chown(%s,1000,1001)", pidFile),
		"setgroups([1001])",
		"setgid(1001)",
		"setuid(1000)",
	}, h.os.calls)
	assert.FileExists(t, logFile)
}

func TestDropWithoutLogFileKeepsOwnership(t *testing.T) {
	h := newHarness(t)
	h.set(config.OptionServerSetuidUsername, "kingphisher")
	h.set(config.OptionServerPidFile, h.path("kp.pid"))

	_, err := h.run(Options{Foreground: true})
	require.NoError(t, err)
	assert.Equal(t, []string{"setgroups([1001])", "setgid(1001)", "setuid(1000)"}, h.os.calls)
}

func TestDropGroupFailure(t *testing.T) {
	h := newHarness(t)
	h.set(config.OptionServerSetuidUsername, "kingphisher")
	h.os.fail["setgid"] = errors.New("operation not permitted")

	_, err := h.run(Options{Foreground: true})
	require.Error(t, err)
	assert.Equal(t, ExitNoPerm, ExitStatus(err))
	assert.NotContains(t, h.os.calls, "setuid(1000)")
	assert.Equal(t, int32(1), h.svc.shutdowns.Load())
}

func TestNoDropTargetWarns(t *testing.T) {
	h := newHarness(t)

	_, err := h.run(Options{Foreground: true})
	require.NoError(t, err)
	assert.Contains(t, h.out.String(), "[!] Running with root privileges is dangerous")
	assert.Empty(t, h.os.calls)
}

func TestStorageNotWritable(t *testing.T) {
	h := newHarness(t)
	h.svc.localPath = "/var/lib/king-phisher/king-phisher.db"
	h.os.fail["writable"] = errors.New("permission denied")

	_, err := h.run(Options{Foreground: true})
	require.Error(t, err)
	assert.Equal(t, ExitNoPerm, ExitStatus(err))
	assert.Equal(t, int32(1), h.svc.shutdowns.Load())
	assert.Contains(t, h.out.String(), "[-] The SQLite database directory is not writable: /var/lib/king-phisher")
}

func TestStorageCheckedAfterDrop(t *testing.T) {
	h := newHarness(t)
	h.set(config.OptionServerSetuidUsername, "kingphisher")
	h.svc.localPath = "/var/lib/king-phisher/king-phisher.db"

	_, err := h.run(Options{Foreground: true})
	require.NoError(t, err)
	assert.Equal(t, []string{
		"setgroups([1001])", "setgid(1001)", "setuid(1000)", "writable(/var/lib/king-phisher)",
	}, h.os.calls)
}

func TestServiceConstructionFailure(t *testing.T) {
	h := newHarness(t)
	h.set(config.OptionServerPidFile, h.path("kp.pid"))
	h.set(config.OptionServerSetuidUsername, "kingphisher")
	h.constructErr = errors.New("database unreachable")

	_, err := h.run(Options{Foreground: true})
	require.Error(t, err)
	assert.Equal(t, ExitSoftware, ExitStatus(err))

	var lerr *Error
	require.True(t, errors.As(err, &lerr))
	assert.Equal(t, KindServiceConstruction, lerr.Kind)
	assert.NoFileExists(t, h.path("kp.pid"))
	assert.Empty(t, h.os.calls)
}

func TestMissingDatabaseDriver(t *testing.T) {
	h := newHarness(t)
	h.constructErr = fmt.Errorf("failed to open database: %w", store.ErrMissingDriver)

	_, err := h.run(Options{Foreground: true})
	var lerr *Error
	require.True(t, errors.As(err, &lerr))
	assert.Equal(t, KindDependency, lerr.Kind)
	assert.Equal(t, ExitSoftware, ExitStatus(err))
}

func TestHangupShutsDownService(t *testing.T) {
	h := newHarness(t)
	h.svc = newFakeService(true)

	go func() {
		select {
		case <-h.svc.serving:
			h.notifier.deliver(syscall.SIGHUP)
		case <-time.After(5 * time.Second):
		}
	}()

	s, err := h.run(Options{Foreground: true})
	require.NoError(t, err)

	states := s.States()
	assert.Equal(t, []State{StateServeForever, StateShutdown, StateTerminate}, states[len(states)-3:])
	assert.GreaterOrEqual(t, h.svc.shutdowns.Load(), int32(1))
	assert.True(t, h.notifier.stopped)
	assert.Equal(t, []os.Signal{syscall.SIGHUP, syscall.SIGTERM, os.Interrupt}, h.notifier.sigs)

	assert.Error(t, h.logs.AddFile(h.path("late.log"), logger.LevelInfo), "logging is closed on exit")
}

func TestDaemonizedChildIgnoresInterrupt(t *testing.T) {
	h := newHarness(t)

	_, err := h.run(Options{Foreground: true}, WithDaemonized(true))
	require.NoError(t, err)
	assert.Equal(t, []os.Signal{syscall.SIGHUP, syscall.SIGTERM}, h.notifier.sigs)
}

func TestServeFailure(t *testing.T) {
	h := newHarness(t)
	h.svc.serveErr = errors.New("accept: too many open files")

	_, err := h.run(Options{Foreground: true})
	assert.Equal(t, ExitSoftware, ExitStatus(err))
	assert.Equal(t, int32(1), h.svc.shutdowns.Load())
}

func TestLoggingConsoleOption(t *testing.T) {
	h := newHarness(t)
	var console lockedBuffer
	h.logs = logger.New(logger.Options{Console: &console, ConsoleLevel: logger.LevelCritical})
	h.set(config.OptionLoggingConsole, "DEBUG")

	_, err := h.run(Options{Foreground: true, LogLevel: logger.LevelCritical})
	require.NoError(t, err)
	assert.Contains(t, console.String(), "DecideFork")
}

func TestNullLoggingConsoleKeepsLevel(t *testing.T) {
	h := newHarness(t)
	var console lockedBuffer
	h.logs = logger.New(logger.Options{Console: &console, ConsoleLevel: logger.LevelCritical})
	h.set(config.OptionLoggingConsole, nil)

	_, err := h.run(Options{Foreground: true, LogLevel: logger.LevelCritical})
	require.NoError(t, err)
	assert.True(t, h.constructed)
	assert.NotContains(t, console.String(), "DecideFork")
}

func TestExplicitLogLevelWins(t *testing.T) {
	h := newHarness(t)
	var console lockedBuffer
	h.logs = logger.New(logger.Options{Console: &console, ConsoleLevel: logger.LevelCritical})
	h.set(config.OptionLoggingConsole, "DEBUG")

	_, err := h.run(Options{Foreground: true, LogLevel: logger.LevelCritical, LogLevelSet: true})
	require.NoError(t, err)
	assert.NotContains(t, console.String(), "DecideFork")
}

func TestInvalidLoggingLevel(t *testing.T) {
	h := newHarness(t)
	h.set(config.OptionLoggingFile, h.path("kp.log"))
	h.set(config.OptionLoggingLevel, "LOUD")

	_, err := h.run(Options{Foreground: true})
	assert.Equal(t, ExitConfig, ExitStatus(err))
	assert.False(t, h.constructed)
}
