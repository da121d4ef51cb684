//go:build !windows

package commands

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kingphisher/kingphisher/internal/cli/health"
	"github.com/kingphisher/kingphisher/internal/cli/output"
	"github.com/kingphisher/kingphisher/internal/sysexits"
	"github.com/kingphisher/kingphisher/pkg/config"
	"github.com/kingphisher/kingphisher/pkg/lifecycle"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestConfigFileArg(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "server_config.yml", "server: {}\n")

	assert.NoError(t, configFileArg(nil, []string{path}))

	var uerr usageError
	err := configFileArg(nil, nil)
	assert.True(t, errors.As(err, &uerr))

	err = configFileArg(nil, []string{filepath.Join(dir, "missing.yml")})
	require.True(t, errors.As(err, &uerr))
	assert.True(t, errors.Is(err, os.ErrNotExist))
	assert.Contains(t, err.Error(), "can't open")
}

func TestExitStatus(t *testing.T) {
	var buf bytes.Buffer
	console := output.NewConsole(&buf, false)

	assert.Equal(t, sysexits.OK, exitStatus(console, nil))
	assert.Empty(t, buf.String())

	assert.Equal(t, sysexits.Usage, exitStatus(console, usageError{errors.New("unknown flag: --bogus")}))
	assert.Contains(t, buf.String(), "[-] unknown flag: --bogus\n")
	assert.Contains(t, buf.String(), "usage: kingphisher-server")
	assert.NotContains(t, buf.String(), "Error:")

	buf.Reset()
	assert.Equal(t, sysexits.Software, exitStatus(console, errors.New("failed to load config")))
	assert.Equal(t, "[-] failed to load config\n", buf.String())

	buf.Reset()
	startup := &lifecycle.Error{Kind: lifecycle.KindConfigValidation, Message: "Configuration verification failed"}
	assert.Equal(t, sysexits.Config, exitStatus(console, startup))
	assert.Empty(t, buf.String(), "startup errors are printed by the sequencer")
}

func TestResolvePidFile(t *testing.T) {
	dir := t.TempDir()

	got, err := resolvePidFile("/run/kp.pid", nil)
	require.NoError(t, err)
	assert.Equal(t, "/run/kp.pid", got)

	_, err = resolvePidFile("", nil)
	assert.ErrorIs(t, err, errNoPidFile)

	withPid := writeFile(t, dir, "with.yml", "server:\n  pid_file: /var/run/king-phisher.pid\n")
	got, err = resolvePidFile("", []string{withPid})
	require.NoError(t, err)
	assert.Equal(t, "/var/run/king-phisher.pid", got)

	withoutPid := writeFile(t, dir, "without.yml", "server:\n  fork: false\n")
	_, err = resolvePidFile("", []string{withoutPid})
	assert.ErrorIs(t, err, errNoPidFile)

	_, err = resolvePidFile("", []string{filepath.Join(dir, "absent.yml")})
	assert.ErrorIs(t, err, config.ErrNotFound)
}

func TestHealthURL(t *testing.T) {
	tests := []struct {
		name     string
		settings map[string]any
		want     string
	}{
		{
			name:     "wildcard host",
			settings: map[string]any{"server.address.host": "0.0.0.0", "server.address.port": 8080, "server.database": "sqlite://:memory:"},
			want:     "http://127.0.0.1:8080/health",
		},
		{
			name:     "ipv6",
			settings: map[string]any{"server.address.host": "::1", "server.address.port": 80, "server.database": "sqlite://:memory:"},
			want:     "http://[::1]:80/health",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := healthURL(config.FromMap(tt.settings))
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCheckHealth(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(health.Response{
			Status: health.StatusHealthy,
			Data: health.Data{
				InstanceID: "0b4c2e3e-8e8f-4c5a-9d47-6f3f2b1f7a10",
				PID:        4321,
				StartedAt:  "2026-10-17T08:00:00Z",
				Uptime:     "1h0m0s",
				Database:   health.StatusHealthy,
			},
		})
	}))
	defer srv.Close()

	var status ServerStatus
	checkHealth(srv.Client(), srv.URL+"/health", &status)
	assert.True(t, status.Running)
	assert.True(t, status.Healthy)
	assert.Equal(t, 4321, status.PID)
	assert.Equal(t, "Server is running and healthy", status.Message)

	var buf bytes.Buffer
	require.NoError(t, printStatusTable(&buf, status))
	assert.Contains(t, buf.String(), "running")
	assert.Contains(t, buf.String(), "4321")
}

func TestCheckHealthUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	status := ServerStatus{Running: true, PID: 7, Message: "Server is not running"}
	checkHealth(&http.Client{Timeout: time.Second}, url, &status)
	assert.False(t, status.Healthy)
	assert.Equal(t, "Server process exists but health check failed", status.Message)
}

func TestShowLogs(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "server.log", strings.Join([]string{
		"[2026-10-17 08:00:00] [INFO] first",
		"[2026-10-17 09:00:00] [INFO] second",
		`{"time":"2026-10-17T10:00:00Z","level":"INFO","msg":"third"}`,
		"[2026-10-17 11:00:00] [WARNING] fourth",
	}, "\n")+"\n")

	var buf bytes.Buffer
	require.NoError(t, showLogs(&buf, path, 2, time.Time{}))
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], "third")
	assert.Contains(t, lines[1], "fourth")

	buf.Reset()
	since := time.Date(2026, 10, 17, 8, 30, 0, 0, time.Local)
	require.NoError(t, showLogs(&buf, path, 100, since))
	assert.NotContains(t, buf.String(), "first")
	assert.Contains(t, buf.String(), "second")
}

func TestExtractTimestamp(t *testing.T) {
	assert.Equal(t,
		time.Date(2026, 10, 17, 8, 0, 0, 0, time.Local),
		extractTimestamp("[2026-10-17 08:00:00] [INFO] started"))
	assert.True(t,
		time.Date(2026, 10, 17, 10, 0, 0, 0, time.UTC).Equal(
			extractTimestamp(`{"time":"2026-10-17T10:00:00Z","msg":"x"}`)))
	assert.True(t, extractTimestamp("no timestamp").IsZero())
}

func TestLineFollowerHoldsPartialLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "server.log")
	w, err := os.Create(path)
	require.NoError(t, err)
	defer func() { _ = w.Close() }()

	r, err := os.Open(path)
	require.NoError(t, err)
	defer func() { _ = r.Close() }()
	follower := &lineFollower{r: bufio.NewReader(r)}

	var buf bytes.Buffer
	_, _ = w.WriteString("complete\npart")
	follower.copyTo(&buf)
	assert.Equal(t, "complete\n", buf.String())

	_, _ = w.WriteString("ial\n")
	follower.copyTo(&buf)
	assert.Equal(t, "complete\npartial\n", buf.String())
}

func TestFollowLogsStopsOnCancel(t *testing.T) {
	path := writeFile(t, t.TempDir(), "server.log", "[2026-10-17 08:00:00] [INFO] first\n")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var buf bytes.Buffer
	require.NoError(t, followLogs(ctx, &buf, path, 10, time.Time{}))
	assert.Contains(t, buf.String(), "first")
}
