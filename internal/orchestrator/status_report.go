package orchestrator

import (
	"modelprobe/pkg/types"
)

// Status builds the progress view served at /status.
func (s *Scheduler) Status() types.StatusResponse {
	now := s.clock.Now()
	s.mu.RLock()
	defer s.mu.RUnlock()
	resp := types.StatusResponse{
		State:          s.state,
		Active:         s.current,
		Phase:          string(s.phase),
		Completed:      s.completed,
		Total:          s.total,
		UptimeSeconds:  int64(now.Sub(s.startTime).Seconds()),
		ServerTimeUnix: now.Unix(),
	}
	if s.active != nil {
		resp.ActivePort = s.active.Port
	}
	if s.ledger != nil {
		resp.RunID = s.ledger.RunID()
		resp.RunStartedUnix = s.ledger.Started().Unix()
		resp.Summary = s.ledger.Summary()
	}
	return resp
}

// LedgerDocument returns the current results report, or false before the
// first run starts.
func (s *Scheduler) LedgerDocument() (types.LedgerDocument, bool) {
	s.mu.RLock()
	led := s.ledger
	s.mu.RUnlock()
	if led == nil {
		return types.LedgerDocument{}, false
	}
	return led.Document(s.clock.Now()), true
}

// ActiveContainer returns the name of the tracked container, if any.
func (s *Scheduler) ActiveContainer() (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.active == nil {
		return "", false
	}
	return s.active.Name, true
}
