package types

import (
	"fmt"
	"strings"
)

// CompatStatus is the compatibility verdict recorded for a model id.
type CompatStatus string

const (
	StatusUntested          CompatStatus = "untested"
	StatusKnownIncompatible CompatStatus = "known_incompatible"
	StatusLikelyBroken      CompatStatus = "likely_broken"
	StatusTestedWorking     CompatStatus = "tested_working"
)

// Blocked reports whether a model with this status must never be launched.
func (s CompatStatus) Blocked() bool {
	return s == StatusKnownIncompatible || s == StatusLikelyBroken
}

// ParseCompatStatus accepts the canonical names plus a few spellings used in
// hand-written config files. Empty input maps to untested.
func ParseCompatStatus(s string) (CompatStatus, error) {
	v := strings.ToLower(strings.TrimSpace(s))
	v = strings.ReplaceAll(v, "-", "_")
	switch v {
	case "", "untested", "unknown":
		return StatusUntested, nil
	case "known_incompatible", "incompatible":
		return StatusKnownIncompatible, nil
	case "likely_broken", "broken":
		return StatusLikelyBroken, nil
	case "tested_working", "working":
		return StatusTestedWorking, nil
	default:
		return "", fmt.Errorf("unknown compatibility status %q", s)
	}
}

// Outcome is the terminal result of processing one model in a run.
type Outcome string

const (
	OutcomeWorking             Outcome = "working"
	OutcomeLaunchFailed        Outcome = "launch_failed"
	OutcomeFunctionFailed      Outcome = "launch_ok_function_failed"
	OutcomeSkippedIncompatible Outcome = "skipped_incompatible"
	OutcomeSkippedBroken       Outcome = "skipped_broken"
	// The registry could not be read, so the model was held back.
	OutcomeSkippedUnverified   Outcome = "skipped_registry_unavailable"
)

// Skipped reports whether the model was never launched.
func (o Outcome) Skipped() bool {
	return o == OutcomeSkippedIncompatible || o == OutcomeSkippedBroken || o == OutcomeSkippedUnverified
}

// ErrorKind classifies why an attempt failed.
type ErrorKind string

const (
	KindNone            ErrorKind = ""
	KindContainerStart  ErrorKind = "container_start_error"
	KindImport          ErrorKind = "import_error"
	KindModule          ErrorKind = "module_error"
	KindMemory          ErrorKind = "memory_error"
	KindTimeout         ErrorKind = "timeout"
	KindFunctionFail    ErrorKind = "function_fail"
	KindContainerExited ErrorKind = "container_exited"
	KindCancelled       ErrorKind = "cancelled"
	KindRegistry        ErrorKind = "registry_error"
)

// Structural reports whether the failure points at a missing dependency in the
// backend image rather than a transient condition.
func (k ErrorKind) Structural() bool {
	return k == KindImport || k == KindModule
}
