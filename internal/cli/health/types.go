// Package health provides shared types for health check responses.
package health

// Response is the body of the server's GET /health endpoint.
type Response struct {
	Status    string `json:"status" yaml:"status"`
	Timestamp string `json:"timestamp" yaml:"timestamp"`
	Data      Data   `json:"data" yaml:"data"`
	Error     string `json:"error,omitempty" yaml:"error,omitempty"`
}

// Data carries the liveness details.
type Data struct {
	Service    string `json:"service" yaml:"service"`
	InstanceID string `json:"instance_id" yaml:"instance_id"`
	PID        int    `json:"pid" yaml:"pid"`
	StartedAt  string `json:"started_at" yaml:"started_at"`
	Uptime     string `json:"uptime" yaml:"uptime"`
	UptimeSec  int64  `json:"uptime_sec" yaml:"uptime_sec"`
	Database   string `json:"database" yaml:"database"`
}

// Status values.
const (
	StatusHealthy   = "healthy"
	StatusUnhealthy = "unhealthy"
)
