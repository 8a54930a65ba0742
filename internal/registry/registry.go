package registry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"modelprobe/pkg/types"
)

// Registry applies verdict transitions on top of a Store.
type Registry struct {
	store Store
	now   func() time.Time
	log   zerolog.Logger
}

// New wraps store. A nil now uses time.Now.
func New(store Store, now func() time.Time, log zerolog.Logger) *Registry {
	if now == nil {
		now = time.Now
	}
	return &Registry{store: store, now: now, log: log}
}

// Lookup returns the record for id, or an untested record if none exists.
func (r *Registry) Lookup(ctx context.Context, id string) (Record, error) {
	rec, err := r.store.Get(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return Record{ID: id, Status: types.StatusUntested}, nil
	}
	if err != nil {
		return Record{}, err
	}
	if rec.Status == "" {
		rec.Status = types.StatusUntested
	}
	return rec, nil
}

// Record stores the result of an attempt and returns the updated record.
// Skipped outcomes leave the record untouched.
func (r *Registry) Record(ctx context.Context, id string, outcome types.Outcome, kind types.ErrorKind, msg string) (Record, error) {
	rec, err := r.Lookup(ctx, id)
	if err != nil {
		return rec, err
	}
	if outcome.Skipped() {
		return rec, nil
	}
	prev := rec.Status
	rec.Status = NextStatus(prev, outcome, kind)
	rec.LastOutcome = outcome
	rec.LastTestedAt = r.now().UTC()
	rec.LastErrorKind = kind
	rec.LastError = msg
	if err := r.store.Put(ctx, rec); err != nil {
		return rec, err
	}
	if prev != rec.Status {
		r.log.Info().Str("model", id).Str("from", string(prev)).Str("to", string(rec.Status)).Msg("registry status changed")
	}
	return rec, nil
}

// Seed records status for id only when no record exists yet. It lets a spec
// file carry verdicts for a fresh registry.
func (r *Registry) Seed(ctx context.Context, id string, status types.CompatStatus) (bool, error) {
	if status == types.StatusUntested || status == "" {
		return false, nil
	}
	_, err := r.store.Get(ctx, id)
	if err == nil {
		return false, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return false, err
	}
	return true, r.store.Put(ctx, Record{ID: id, Status: status})
}

// Mark sets status unconditionally. Operator use only.
func (r *Registry) Mark(ctx context.Context, id string, status types.CompatStatus, note string) (Record, error) {
	if id == "" {
		return Record{}, fmt.Errorf("mark: empty model id")
	}
	rec, err := r.Lookup(ctx, id)
	if err != nil {
		return rec, err
	}
	rec.Status = status
	if note != "" {
		rec.LastError = note
	}
	return rec, r.store.Put(ctx, rec)
}

// Reset forgets id so the next run treats it as untested.
func (r *Registry) Reset(ctx context.Context, id string) error {
	return r.store.Delete(ctx, id)
}

// List returns all records sorted by id.
func (r *Registry) List(ctx context.Context) ([]Record, error) {
	return r.store.List(ctx)
}

// Close releases the underlying store.
func (r *Registry) Close() error { return r.store.Close() }
