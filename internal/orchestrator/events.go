package orchestrator

import "time"

// Event represents a scheduler lifecycle event.
// Minimal and stable: name + model ID and optional fields via key/values.
type Event struct {
	Time    time.Time      `json:"time"`
	Name    string         `json:"name"`
	ModelID string         `json:"model_id,omitempty"`
	Fields  map[string]any `json:"fields,omitempty"`
}

// Event names.
const (
	EventRunStart     = "run_start"
	EventSkip         = "skip"
	EventEvict        = "evict"
	EventLaunch       = "launch"
	EventLaunchError  = "launch_error"
	EventReady        = "ready"
	EventProbeFailed  = "probe_failed"
	EventVerified     = "verified"
	EventStop         = "stop"
	EventAttemptDone  = "attempt_done"
	EventSweep        = "sweep"
	EventRunDone      = "run_done"
	EventRegistrySeed = "registry_seed"
)

// EventPublisher receives events from the scheduler. Implementations should
// be lightweight and non-blocking; Publish must not panic.
type EventPublisher interface {
	Publish(Event)
}

// noopPublisher is the default; it drops events.
type noopPublisher struct{}

func (noopPublisher) Publish(Event) {}

// MultiPublisher fans out to several publishers.
type MultiPublisher []EventPublisher

func (m MultiPublisher) Publish(e Event) {
	for _, p := range m {
		if p != nil {
			p.Publish(e)
		}
	}
}
