package types

import "time"

// LaunchResult describes the launch and readiness phase of one attempt.
type LaunchResult struct {
	Success      bool      `json:"success"`
	ErrorKind    ErrorKind `json:"error_kind,omitempty"`
	Error        string    `json:"error,omitempty"`
	ContainerID  string    `json:"container_id,omitempty"`
	ReadySeconds float64   `json:"ready_seconds,omitempty"`
	// Last lines of container output, kept only on failure.
	LogsTail []string `json:"logs_tail,omitempty"`
}

// FunctionalResult describes the single chat completion probe.
type FunctionalResult struct {
	Attempted      bool    `json:"attempted"`
	Success        bool    `json:"success"`
	StatusCode     int     `json:"status_code,omitempty"`
	Response       string  `json:"response,omitempty"`
	LatencySeconds float64 `json:"latency_seconds,omitempty"`
	Error          string  `json:"error,omitempty"`
}

// ModelReport is the ledger entry for one model.
type ModelReport struct {
	Config           ModelSpec         `json:"config"`
	LaunchResult     *LaunchResult     `json:"launch_result,omitempty"`
	FunctionalResult *FunctionalResult `json:"functional_result,omitempty"`
	Status           Outcome           `json:"status"`
	RegistryStatus   CompatStatus      `json:"registry_status,omitempty"`
	EvictedCache     bool              `json:"evicted_cache,omitempty"`
	GPUBefore        *GPUSnapshot      `json:"gpu_before,omitempty"`
	GPUAfter         *GPUSnapshot      `json:"gpu_after,omitempty"`
	StartedAt        time.Time         `json:"started_at"`
	DurationSeconds  float64           `json:"duration_seconds"`
}

// Summary aggregates a ledger.
type Summary struct {
	TotalTested      int `json:"total_tested"`
	Successful       int `json:"successful"`
	Failed           int `json:"failed"`
	Incompatible     int `json:"incompatible"`
	RemovedFromCache int `json:"removed_from_cache"`
}

// LedgerDocument is the persisted results report of one run. The working
// subset uses the same shape.
type LedgerDocument struct {
	RunID     string                 `json:"run_id"`
	Timestamp time.Time              `json:"timestamp"`
	Host      string                 `json:"host,omitempty"`
	Models    map[string]ModelReport `json:"models"`
	Summary   Summary                `json:"summary"`
}

// StatusResponse is returned by GET /status on the status server.
type StatusResponse struct {
	RunID string `json:"run_id,omitempty"`
	// Unix time the current or last run started.
	RunStartedUnix int64 `json:"run_started_unix,omitempty"`
	// idle, running or done
	State string `json:"state"`
	// Model currently being processed, if any.
	Active     string `json:"active,omitempty"`
	ActivePort int    `json:"active_port,omitempty"`
	// Attempt phase of the active model (pending, polling, ready, failed).
	Phase          string  `json:"phase,omitempty"`
	Completed      int     `json:"completed"`
	Total          int     `json:"total"`
	UptimeSeconds  int64   `json:"uptime_seconds"`
	ServerTimeUnix int64   `json:"server_time_unix"`
	Summary        Summary `json:"summary"`
}

// ErrorResponse is a consistent JSON error payload.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  int    `json:"code"`
}
