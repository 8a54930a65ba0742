package types

import "time"

// LaunchParams are the backend serving flags for one model.
type LaunchParams struct {
	// Maximum sequence length passed as --max-model-len (0 = backend default).
	// example: 4096
	MaxModelLen int `json:"max_model_len,omitempty" yaml:"max_model_len,omitempty" toml:"max_model_len,omitempty" example:"4096"`
	// Fraction of accelerator memory the backend may claim.
	// example: 0.85
	GPUMemoryUtilization float64 `json:"gpu_memory_utilization,omitempty" yaml:"gpu_memory_utilization,omitempty" toml:"gpu_memory_utilization,omitempty" example:"0.85"`
	// Disable CUDA graph capture.
	EnforceEager bool `json:"enforce_eager,omitempty" yaml:"enforce_eager,omitempty" toml:"enforce_eager,omitempty"`
	// Allow the backend to execute model repository code.
	TrustRemoteCode bool `json:"trust_remote_code,omitempty" yaml:"trust_remote_code,omitempty" toml:"trust_remote_code,omitempty"`
	// Additional raw backend flags appended verbatim.
	ExtraArgs []string `json:"extra_args,omitempty" yaml:"extra_args,omitempty" toml:"extra_args,omitempty"`
}

// ModelSpec identifies one candidate inference backend.
type ModelSpec struct {
	// Model identifier as understood by the backend (e.g. a Hugging Face repo id).
	// example: Qwen/Qwen2-VL-2B-Instruct
	ID string `json:"id,omitempty" yaml:"id,omitempty" toml:"id,omitempty" example:"Qwen/Qwen2-VL-2B-Instruct"`
	// example: modelprobe-qwen2-vl-2b
	ContainerName string `json:"container_name,omitempty" yaml:"container_name,omitempty" toml:"container_name,omitempty" example:"modelprobe-qwen2-vl-2b"`
	// Host port the backend is published on.
	// example: 9000
	Port         int          `json:"port" yaml:"port" toml:"port" example:"9000"`
	LaunchParams LaunchParams `json:"launch_params" yaml:"launch_params" toml:"launch_params"`
	// Lower values are scheduled first.
	Priority int `json:"priority" yaml:"priority" toml:"priority"`
	// On-disk weight size; ties on priority go to the smaller model.
	SizeBytes int64 `json:"size_bytes,omitempty" yaml:"size_bytes,omitempty" toml:"size_bytes,omitempty"`
	// Last known registry verdict, denormalized into the config.
	KnownStatus CompatStatus `json:"status,omitempty" yaml:"status,omitempty" toml:"status,omitempty"`
	// Optional override of the readiness budget.
	TimeoutSeconds int `json:"timeout_seconds,omitempty" yaml:"timeout_seconds,omitempty" toml:"timeout_seconds,omitempty"`
}

// ReadyTimeout returns the per-model readiness budget, or def when unset.
func (s ModelSpec) ReadyTimeout(def time.Duration) time.Duration {
	if s.TimeoutSeconds > 0 {
		return time.Duration(s.TimeoutSeconds) * time.Second
	}
	return def
}

// GPUSnapshot is a point-in-time reading of accelerator memory.
type GPUSnapshot struct {
	Index      int       `json:"index"`
	Device     string    `json:"device,omitempty"`
	TotalBytes uint64    `json:"total_bytes"`
	UsedBytes  uint64    `json:"used_bytes"`
	FreeBytes  uint64    `json:"free_bytes"`
	Timestamp  time.Time `json:"timestamp"`
}
