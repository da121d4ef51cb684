//go:build !windows

package commands

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/kingphisher/kingphisher/internal/cli/health"
	"github.com/kingphisher/kingphisher/internal/cli/output"
	"github.com/kingphisher/kingphisher/pkg/config"
	"github.com/kingphisher/kingphisher/pkg/daemon"
)

var (
	statusOutput  string
	statusPidFile string
	statusURL     string
)

var statusCmd = &cobra.Command{
	Use:   "status [config_file]",
	Short: "Show server status",
	Long: `Display the status of a King Phisher server.

The PID file is checked for a live process and the server's /health endpoint
is queried. Both locations default to the values in the configuration file.

Examples:
  # Status from the configuration file
  kingphisher-server status /etc/king-phisher/server_config.yml

  # Explicit locations, as JSON
  kingphisher-server status --pid-file /var/run/king-phisher.pid --url http://127.0.0.1:8080/health -o json`,
	Args: cobra.MaximumNArgs(1),
	RunE: runStatus,
}

func init() {
	statusCmd.Flags().StringVar(&statusPidFile, "pid-file", "", "path to the PID file (default: server.pid_file)")
	statusCmd.Flags().StringVar(&statusURL, "url", "", "health endpoint (default: derived from server.address)")
	statusCmd.Flags().StringVarP(&statusOutput, "output", "o", "table", "Output format (table|json|yaml)")
}

// ServerStatus represents the server status information.
type ServerStatus struct {
	Running    bool   `json:"running" yaml:"running"`
	PID        int    `json:"pid,omitempty" yaml:"pid,omitempty"`
	Message    string `json:"message" yaml:"message"`
	InstanceID string `json:"instance_id,omitempty" yaml:"instance_id,omitempty"`
	StartedAt  string `json:"started_at,omitempty" yaml:"started_at,omitempty"`
	Uptime     string `json:"uptime,omitempty" yaml:"uptime,omitempty"`
	Database   string `json:"database,omitempty" yaml:"database,omitempty"`
	Healthy    bool   `json:"healthy" yaml:"healthy"`
}

func runStatus(cmd *cobra.Command, args []string) error {
	format, err := output.ParseFormat(statusOutput)
	if err != nil {
		return err
	}

	pidPath, url := statusPidFile, statusURL
	if len(args) == 1 && (pidPath == "" || url == "") {
		cfg, err := config.Load(args[0])
		if err != nil {
			return err
		}
		if pidPath == "" {
			pidPath = cfg.GetString(config.OptionServerPidFile)
		}
		if url == "" {
			if url, err = healthURL(cfg); err != nil {
				return err
			}
		}
	}

	status := ServerStatus{Message: "Server is not running"}
	if pidPath != "" {
		if pid, ok := daemon.IsProcessRunning(pidPath); ok {
			status.Running = true
			status.PID = pid
		}
	}
	if url != "" {
		checkHealth(&http.Client{Timeout: 2 * time.Second}, url, &status)
	} else if status.Running {
		status.Message = "Server process is running"
	}

	out := cmd.OutOrStdout()
	switch format {
	case output.FormatJSON:
		return output.PrintJSON(out, status)
	case output.FormatYAML:
		return output.PrintYAML(out, status)
	default:
		return printStatusTable(out, status)
	}
}

// checkHealth queries url and merges the response into status.
func checkHealth(client *http.Client, url string, status *ServerStatus) {
	resp, err := client.Get(url)
	if err != nil {
		if status.Running {
			status.Message = "Server process exists but health check failed"
		}
		return
	}
	defer func() { _ = resp.Body.Close() }()

	var healthResp health.Response
	if err := json.NewDecoder(resp.Body).Decode(&healthResp); err != nil {
		status.Running = true
		status.Message = "Server is running but health response invalid"
		return
	}

	status.Running = true
	status.Healthy = healthResp.Status == health.StatusHealthy
	status.InstanceID = healthResp.Data.InstanceID
	status.StartedAt = healthResp.Data.StartedAt
	status.Uptime = healthResp.Data.Uptime
	status.Database = healthResp.Data.Database
	if status.PID == 0 {
		status.PID = healthResp.Data.PID
	}
	if status.Healthy {
		status.Message = "Server is running and healthy"
	} else {
		status.Message = fmt.Sprintf("Server is running but unhealthy: %s", healthResp.Error)
	}
}

func printStatusTable(w io.Writer, status ServerStatus) error {
	state := "stopped"
	switch {
	case status.Running && status.Healthy:
		state = "running"
	case status.Running:
		state = "running (unhealthy)"
	}

	pairs := [][2]string{{"Status", state}}
	if status.PID != 0 {
		pairs = append(pairs, [2]string{"PID", strconv.Itoa(status.PID)})
	}
	if status.InstanceID != "" {
		pairs = append(pairs, [2]string{"Instance", status.InstanceID})
	}
	if status.StartedAt != "" {
		pairs = append(pairs, [2]string{"Started", status.StartedAt})
	}
	if status.Uptime != "" {
		pairs = append(pairs, [2]string{"Uptime", status.Uptime})
	}
	if status.Database != "" {
		pairs = append(pairs, [2]string{"Database", status.Database})
	}
	pairs = append(pairs, [2]string{"Message", status.Message})

	return output.SimpleTable(w, pairs)
}
