// Package ledger accumulates per-model outcomes of one run and persists them
// as the results report and the working-models subset.
package ledger

import (
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"modelprobe/internal/common/fsutil"
	"modelprobe/pkg/types"
)

// Ledger is append-only for the duration of a run. It is safe for concurrent
// readers (the status server) while the scheduler appends.
type Ledger struct {
	mu      sync.RWMutex
	runID   string
	host    string
	started time.Time
	order   []string
	reports map[string]types.ModelReport
}

// New starts an empty ledger.
func New(runID, host string, started time.Time) *Ledger {
	return &Ledger{runID: runID, host: host, started: started, reports: map[string]types.ModelReport{}}
}

// RunID returns the run identifier.
func (l *Ledger) RunID() string { return l.runID }

// Started returns the run start time.
func (l *Ledger) Started() time.Time { return l.started }

// Add appends the report for one model. A model can be reported once per run;
// a second report replaces the first without changing its position.
func (l *Ledger) Add(r types.ModelReport) {
	l.mu.Lock()
	defer l.mu.Unlock()
	id := r.Config.ID
	if _, ok := l.reports[id]; !ok {
		l.order = append(l.order, id)
	}
	l.reports[id] = r
}

// Len returns the number of reported models.
func (l *Ledger) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.order)
}

// Reports returns reports in processing order.
func (l *Ledger) Reports() []types.ModelReport {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]types.ModelReport, 0, len(l.order))
	for _, id := range l.order {
		out = append(out, l.reports[id])
	}
	return out
}

// Summary counts outcomes. TotalTested counts models that were launched;
// Incompatible counts skips plus launches that ended known_incompatible.
// Models held back by a registry read error count as Failed only.
func (l *Ledger) Summary() types.Summary {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return summarize(l.reports)
}

func summarize(reports map[string]types.ModelReport) types.Summary {
	var s types.Summary
	for _, r := range reports {
		switch r.Status {
		case types.OutcomeWorking:
			s.TotalTested++
			s.Successful++
		case types.OutcomeLaunchFailed, types.OutcomeFunctionFailed:
			s.TotalTested++
			s.Failed++
			if r.RegistryStatus == types.StatusKnownIncompatible {
				s.Incompatible++
			}
		case types.OutcomeSkippedIncompatible, types.OutcomeSkippedBroken:
			s.Incompatible++
		case types.OutcomeSkippedUnverified:
			s.Failed++
		}
		if r.EvictedCache {
			s.RemovedFromCache++
		}
	}
	return s
}

// Working returns the ids that reached OutcomeWorking, sorted.
func (l *Ledger) Working() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	var ids []string
	for id, r := range l.reports {
		if r.Status == types.OutcomeWorking {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

// Document returns the full results report.
func (l *Ledger) Document(at time.Time) types.LedgerDocument {
	return l.document(at, func(types.ModelReport) bool { return true })
}

// WorkingSubset returns a document restricted to working models. Its config
// entries carry tested_working so the file can be fed back as run input.
func (l *Ledger) WorkingSubset(at time.Time) types.LedgerDocument {
	doc := l.document(at, func(r types.ModelReport) bool { return r.Status == types.OutcomeWorking })
	for id, r := range doc.Models {
		r.Config.KnownStatus = types.StatusTestedWorking
		doc.Models[id] = r
	}
	return doc
}

func (l *Ledger) document(at time.Time, keep func(types.ModelReport) bool) types.LedgerDocument {
	l.mu.RLock()
	models := make(map[string]types.ModelReport, len(l.reports))
	for id, r := range l.reports {
		if keep(r) {
			models[id] = r
		}
	}
	l.mu.RUnlock()
	doc := types.LedgerDocument{
		RunID:     l.runID,
		Timestamp: at.UTC(),
		Host:      l.host,
		Models:    models,
	}
	doc.Summary = summarize(models)
	return doc
}

// WriteJSON persists doc to path atomically.
func WriteJSON(path string, doc types.LedgerDocument) error {
	b, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("encode ledger: %w", err)
	}
	return fsutil.WriteFileAtomic(path, append(b, '\n'), 0o644)
}
