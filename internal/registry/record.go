package registry

import (
	"time"

	"modelprobe/pkg/types"
)

// Record is the persisted verdict for one model id.
type Record struct {
	ID            string             `json:"id"`
	Status        types.CompatStatus `json:"status"`
	LastOutcome   types.Outcome      `json:"last_outcome,omitempty"`
	LastTestedAt  time.Time          `json:"last_tested_at,omitempty"`
	LastErrorKind types.ErrorKind    `json:"last_error_kind,omitempty"`
	LastError     string             `json:"last_error,omitempty"`
}

// NextStatus is the status a record moves to after an attempt finished with
// outcome and kind. Blocked statuses are sticky; only an operator reset
// clears them.
func NextStatus(prev types.CompatStatus, outcome types.Outcome, kind types.ErrorKind) types.CompatStatus {
	if prev.Blocked() {
		return prev
	}
	switch {
	case outcome == types.OutcomeWorking:
		return types.StatusTestedWorking
	case kind.Structural():
		return types.StatusKnownIncompatible
	default:
		return types.StatusUntested
	}
}
