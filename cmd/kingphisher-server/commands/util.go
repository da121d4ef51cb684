//go:build !windows

package commands

import (
	"errors"
	"fmt"
	"net"
	"strconv"

	"github.com/kingphisher/kingphisher/pkg/config"
	"github.com/kingphisher/kingphisher/pkg/server"
)

var errNoPidFile = errors.New("no PID file: pass --pid-file or a configuration file with server.pid_file")

// resolvePidFile returns flagValue if set, otherwise server.pid_file from the
// optional configuration file argument.
func resolvePidFile(flagValue string, args []string) (string, error) {
	if flagValue != "" {
		return flagValue, nil
	}
	if len(args) == 0 {
		return "", errNoPidFile
	}
	cfg, err := config.Load(args[0])
	if err != nil {
		return "", err
	}
	path := cfg.GetString(config.OptionServerPidFile)
	if path == "" {
		return "", errNoPidFile
	}
	return path, nil
}

// healthURL builds the /health URL of the server described by cfg.
func healthURL(cfg *config.Configuration) (string, error) {
	c, err := server.ConfigFrom(cfg)
	if err != nil {
		return "", err
	}
	host := c.Address.Host
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "127.0.0.1"
	}
	return fmt.Sprintf("http://%s/health", net.JoinHostPort(host, strconv.Itoa(c.Address.Port))), nil
}
