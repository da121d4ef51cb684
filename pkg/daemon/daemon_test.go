//go:build !windows

package daemon

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kingphisher/kingphisher/pkg/config"
)

func TestShouldFork(t *testing.T) {
	tests := []struct {
		name       string
		foreground bool
		daemonized bool
		settings   map[string]any
		want       bool
	}{
		{"default forks", false, false, nil, true},
		{"config disables fork", false, false, map[string]any{"server.fork": false}, false},
		{"config enables fork", false, false, map[string]any{"server.fork": true}, true},
		{"foreground wins over config", true, false, map[string]any{"server.fork": true}, false},
		{"foreground without config", true, false, nil, false},
		{"detached child never forks", false, true, nil, false},
		{"detached child ignores config", false, true, map[string]any{"server.fork": true}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ShouldFork(tt.foreground, tt.daemonized, config.FromMap(tt.settings)))
		})
	}
}

func TestIsDaemonized(t *testing.T) {
	t.Setenv(EnvDaemonized, "")
	assert.False(t, IsDaemonized())

	t.Setenv(EnvDaemonized, "1")
	assert.True(t, IsDaemonized())
}

func TestReexecCommand(t *testing.T) {
	r := &Reexec{
		Executable: "/usr/bin/kingphisher-server",
		Args:       []string{"-L", "DEBUG", "/etc/king-phisher/server_config.yml"},
		Env:        []string{"PATH=/usr/bin"},
	}

	cmd := r.Command()
	assert.Equal(t, "/usr/bin/kingphisher-server", cmd.Path)
	assert.Equal(t, []string{
		"/usr/bin/kingphisher-server", "--foreground", "-L", "DEBUG", "/etc/king-phisher/server_config.yml",
	}, cmd.Args)
	assert.Contains(t, cmd.Env, EnvDaemonized+"=1")
	assert.Equal(t, []string{"PATH=/usr/bin"}, r.Env, "caller environment is not modified")
	require.NotNil(t, cmd.SysProcAttr)
	assert.True(t, cmd.SysProcAttr.Setsid)
}

func TestReexecCommandKeepsExistingForeground(t *testing.T) {
	r := &Reexec{Executable: "/bin/kp", Args: []string{"--foreground", "cfg.yml"}}
	assert.Equal(t, []string{"/bin/kp", "--foreground", "cfg.yml"}, r.Command().Args)
}

func TestReexecCommandOverridesForegroundValue(t *testing.T) {
	r := &Reexec{Executable: "/bin/kp", Args: []string{"--foreground=false", "-f=false", "-L", "INFO", "cfg.yml"}}
	args := r.Command().Args
	assert.Equal(t, []string{"/bin/kp", "--foreground", "-L", "INFO", "cfg.yml"}, args)

	flags := pflag.NewFlagSet("kingphisher-server", pflag.ContinueOnError)
	foreground := flags.BoolP("foreground", "f", false, "")
	flags.StringP("log", "L", "", "")
	require.NoError(t, flags.Parse(args[1:]))
	assert.True(t, *foreground)
	assert.Equal(t, []string{"cfg.yml"}, flags.Args())
}

func TestReexecCommandKeepsArgsAfterTerminator(t *testing.T) {
	r := &Reexec{Executable: "/bin/kp", Args: []string{"--", "--foreground=false"}}
	assert.Equal(t, []string{"/bin/kp", "--foreground", "--", "--foreground=false"}, r.Command().Args)
}

func TestPidFileRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "kp.pid")
	require.NoError(t, WritePidFile(path, 4242))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "4242", string(data))

	pid, err := ReadPidFile(path)
	require.NoError(t, err)
	assert.Equal(t, 4242, pid)
}

func TestReadPidFileInvalid(t *testing.T) {
	for _, content := range []string{"", "abc", "-5", "0"} {
		path := filepath.Join(t.TempDir(), "kp.pid")
		require.NoError(t, os.WriteFile(path, []byte(content), 0644))

		_, err := ReadPidFile(path)
		assert.True(t, errors.Is(err, ErrInvalidPid), "content %q", content)
	}
}

func TestIsProcessRunning(t *testing.T) {
	dir := t.TempDir()

	self := filepath.Join(dir, "self.pid")
	require.NoError(t, WritePidFile(self, os.Getpid()))
	pid, running := IsProcessRunning(self)
	assert.True(t, running)
	assert.Equal(t, os.Getpid(), pid)

	_, running = IsProcessRunning(filepath.Join(dir, "missing.pid"))
	assert.False(t, running)
}
