// Package orchestrator runs the sequential probe loop over a list of model
// specs. It is structured into small files by concern:
//
//   - scheduler.go: Scheduler type, constructor and Run.
//   - config.go: Config, Deps and package defaults; New applies defaults.
//   - deps.go: interfaces of the collaborators (launcher, prober, verifier,
//     resource monitor, registry, evictor).
//   - attempt.go: one launch attempt with unconditional cleanup.
//   - order.go: queue ordering.
//   - errors.go: error types and helpers (IsActiveConflict).
//   - events.go, eventpub_memory.go, eventpub_ring.go, eventpub_log.go:
//     lifecycle events.
//   - metrics.go: Prometheus collectors on a per-scheduler registry.
//   - status_report.go: progress snapshot for the status server.
//
// At most one container is alive at any time: attempts run one after another
// and the active-handle guard refuses a second Start while one is tracked.
package orchestrator
