// Package probe decides whether a launched backend became usable.
//
//   - classify.go: ordered fatal-signature table and the pure Classify function.
//   - clock.go: Clock abstraction (real and fake) used by the poll loop.
//   - poller.go: readiness state machine (health polling + periodic log scans).
//   - verifier.go: one OpenAI-style chat completion to confirm generation works.
//
// Nothing here starts or stops containers; callers pass a Container view of
// the running attempt and always clean up themselves.
package probe
