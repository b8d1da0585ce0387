package api

import "github.com/mattjoyce/chronicle/internal/history"

// HealthzResponse is returned by GET /healthz.
type HealthzResponse struct {
	Status        string `json:"status"`
	UptimeSeconds int64  `json:"uptime_seconds"`
	Targets       int    `json:"targets"`
}

// TargetStatus describes one configured target.
type TargetStatus struct {
	Name             string         `json:"name"`
	Dir              string         `json:"dir"`
	RetentionEnabled bool           `json:"retention_enabled"`
	LastSweep        *history.Entry `json:"last_sweep,omitempty"`
}

// StatusResponse is returned by GET /status.
type StatusResponse struct {
	Service       string         `json:"service"`
	UptimeSeconds int64          `json:"uptime_seconds"`
	Targets       []TargetStatus `json:"targets"`
}

// SweepRequest is the optional body of POST /targets/{target}/sweep.
type SweepRequest struct {
	Pattern string `json:"pattern,omitempty"`
}

// AppendRequest is the body of POST /targets/{target}/append.
type AppendRequest struct {
	Line string `json:"line"`
}

// AppendResponse reports append success only, mirroring the write path's
// boolean contract.
type AppendResponse struct {
	OK bool `json:"ok"`
}

// SweepsResponse is returned by GET /sweeps.
type SweepsResponse struct {
	Sweeps []history.Entry `json:"sweeps"`
}

// ErrorResponse is the uniform error body.
type ErrorResponse struct {
	Error string `json:"error"`
}
