package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"modelprobe/internal/config"
	"modelprobe/internal/container"
	"modelprobe/internal/ledger"
	"modelprobe/internal/probe"
	"modelprobe/pkg/types"
)

// Run states reported by Status.
const (
	RunIdle    = "idle"
	RunRunning = "running"
	RunDone    = "done"
)

// Scheduler processes model specs one at a time.
type Scheduler struct {
	cfg       Config
	launcher  Launcher
	prober    Prober
	verifier  Verifier
	monitor   ResourceMonitor
	registry  CompatRegistry
	evictor   CacheEvictor
	clock     probe.Clock
	log       zerolog.Logger
	publisher EventPublisher
	metrics   *Metrics

	// mu guards the progress fields read by Status.
	mu        sync.RWMutex
	state     string
	active    *container.Handle
	phase     probe.State
	current   string
	completed int
	total     int
	ledger    *ledger.Ledger
	startTime time.Time
}

// New constructs a Scheduler. It panics if a required dependency is missing,
// since that is a wiring bug rather than a runtime condition.
func New(cfg Config, d Deps) *Scheduler {
	if d.Launcher == nil || d.Prober == nil || d.Verifier == nil || d.Registry == nil || d.Evictor == nil {
		panic("orchestrator: missing required dependency")
	}
	cfg.applyDefaults()
	s := &Scheduler{
		cfg:       cfg,
		launcher:  d.Launcher,
		prober:    d.Prober,
		verifier:  d.Verifier,
		monitor:   d.Monitor,
		registry:  d.Registry,
		evictor:   d.Evictor,
		clock:     d.Clock,
		log:       d.Logger,
		publisher: d.Publisher,
		metrics:   d.Metrics,
		state:     RunIdle,
	}
	if s.monitor == nil {
		s.monitor = noMonitor{}
	}
	if s.clock == nil {
		s.clock = probe.RealClock()
	}
	if s.publisher == nil {
		s.publisher = noopPublisher{}
	}
	s.startTime = s.clock.Now()
	return s
}

// Run validates and orders specs, processes each one and persists the
// results. A failed spec never aborts the run; only invalid input does. If ctx
// is cancelled the current attempt is cleaned up and the remaining specs are
// not attempted. Persisting errors are returned together with the ledger.
func (s *Scheduler) Run(ctx context.Context, specs []types.ModelSpec) (*ledger.Ledger, error) {
	if err := config.ValidateSpecs(specs); err != nil {
		return nil, invalidSpecsError{err: err}
	}
	queue := SortSpecs(specs)
	led := ledger.New(uuid.NewString(), s.cfg.Host, s.clock.Now())

	s.mu.Lock()
	s.state, s.ledger, s.total, s.completed = RunRunning, led, len(queue), 0
	s.mu.Unlock()
	s.log.Info().Str("run_id", led.RunID()).Int("models", len(queue)).Msg("run started")
	s.publish(EventRunStart, "", map[string]any{"run_id": led.RunID(), "models": len(queue)})

	s.seedRegistry(ctx, queue)

	for i, spec := range queue {
		if ctx.Err() != nil {
			s.log.Warn().Int("remaining", len(queue)-i).Msg("run cancelled; remaining models not attempted")
			break
		}
		rep := s.process(ctx, spec)
		led.Add(rep)
		s.metrics.observeReport(rep)
		s.publish(EventAttemptDone, spec.ID, map[string]any{"status": string(rep.Status), "registry_status": string(rep.RegistryStatus)})

		s.mu.Lock()
		s.completed++
		s.current = ""
		s.phase = ""
		s.mu.Unlock()

		if i < len(queue)-1 && !rep.Status.Skipped() && s.cfg.Cooldown > 0 {
			if err := s.clock.Sleep(ctx, s.cfg.Cooldown); err != nil {
				continue
			}
		}
	}

	s.sweep(ctx)
	err := s.persist(led)

	sum := led.Summary()
	s.mu.Lock()
	s.state = RunDone
	s.mu.Unlock()
	s.metrics.markRunDone(s.clock.Now().Unix())
	if s.cfg.MetricsTextfile != "" && s.metrics != nil {
		if werr := s.metrics.WriteTextfile(s.cfg.MetricsTextfile); werr != nil {
			err = errors.Join(err, fmt.Errorf("write metrics textfile: %w", werr))
		}
	}
	s.log.Info().
		Int("tested", sum.TotalTested).
		Int("working", sum.Successful).
		Int("failed", sum.Failed).
		Int("incompatible", sum.Incompatible).
		Int("evicted", sum.RemovedFromCache).
		Msg("run finished")
	s.publish(EventRunDone, "", map[string]any{"summary": sum})
	return led, err
}

// seedRegistry copies bad verdicts from the spec file into an empty registry.
func (s *Scheduler) seedRegistry(ctx context.Context, specs []types.ModelSpec) {
	for _, spec := range specs {
		if !spec.KnownStatus.Blocked() {
			continue
		}
		ok, err := s.registry.Seed(ctx, spec.ID, spec.KnownStatus)
		if err != nil {
			s.log.Warn().Err(err).Str("model", spec.ID).Msg("registry seed failed")
			continue
		}
		if ok {
			s.publish(EventRegistrySeed, spec.ID, map[string]any{"status": string(spec.KnownStatus)})
		}
	}
}

// process handles one spec: skip-and-evict for blocked models, otherwise a
// full attempt followed by the registry update.
func (s *Scheduler) process(ctx context.Context, spec types.ModelSpec) types.ModelReport {
	started := s.clock.Now()
	rep := types.ModelReport{Config: spec, StartedAt: started}
	s.mu.Lock()
	s.current = spec.ID
	s.mu.Unlock()
	l := s.log.With().Str("model", spec.ID).Logger()

	rec, err := s.registry.Lookup(ctx, spec.ID)
	if err != nil {
		// No verdict, no launch and no eviction.
		l.Error().Err(err).Msg("registry lookup failed; not launching")
		rep.Status = types.OutcomeSkippedUnverified
		rep.LaunchResult = &types.LaunchResult{ErrorKind: types.KindRegistry, Error: err.Error()}
		s.publish(EventSkip, spec.ID, map[string]any{"error": err.Error()})
		rep.DurationSeconds = s.clock.Now().Sub(started).Seconds()
		return rep
	}
	if rec.Status.Blocked() {
		rep.Status = types.OutcomeSkippedIncompatible
		if rec.Status == types.StatusLikelyBroken {
			rep.Status = types.OutcomeSkippedBroken
		}
		rep.RegistryStatus = rec.Status
		l.Info().Str("status", string(rec.Status)).Msg("skipping blocked model")
		s.publish(EventSkip, spec.ID, map[string]any{"status": string(rec.Status)})
		rep.EvictedCache = s.evict(spec.ID)
		rep.DurationSeconds = s.clock.Now().Sub(started).Seconds()
		return rep
	}

	rep.GPUBefore = s.snapshot(ctx)
	a := s.runAttempt(ctx, spec)
	rep.GPUAfter = s.snapshot(context.WithoutCancel(ctx))
	lr := a.Launch
	rep.LaunchResult = &lr
	rep.FunctionalResult = a.Function

	outcome, kind, msg := a.Outcome()
	rep.Status = outcome
	// The verdict is written even if the run was cancelled mid-attempt.
	rec, err = s.registry.Record(context.WithoutCancel(ctx), spec.ID, outcome, kind, msg)
	if err != nil {
		l.Error().Err(err).Msg("registry record failed")
	}
	rep.RegistryStatus = rec.Status
	if kind.Structural() && rec.Status == types.StatusKnownIncompatible {
		rep.EvictedCache = s.evict(spec.ID)
	}
	rep.DurationSeconds = s.clock.Now().Sub(started).Seconds()
	l.Info().Str("status", string(outcome)).Str("kind", string(kind)).Float64("dur_s", rep.DurationSeconds).Msg("attempt finished")
	return rep
}

func (s *Scheduler) evict(id string) bool {
	removed, freed, err := s.evictor.Evict(id)
	if err != nil {
		s.log.Warn().Err(err).Str("model", id).Msg("cache eviction failed")
		return false
	}
	s.publish(EventEvict, id, map[string]any{"removed": removed, "bytes": freed})
	return removed
}

func (s *Scheduler) snapshot(ctx context.Context) *types.GPUSnapshot {
	snap, err := s.monitor.Snapshot(ctx)
	if err != nil {
		s.log.Debug().Err(err).Msg("gpu snapshot unavailable")
		return nil
	}
	s.metrics.setGPUFree(snap.FreeBytes)
	s.log.Debug().Uint64("free_bytes", snap.FreeBytes).Uint64("used_bytes", snap.UsedBytes).Msg("gpu snapshot")
	return &snap
}

// sweep removes any container left with the orchestrator prefix.
func (s *Scheduler) sweep(ctx context.Context) {
	sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.StopTimeout)
	defer cancel()
	n, err := s.launcher.Sweep(sctx, s.cfg.NamePrefix)
	if err != nil {
		s.log.Warn().Err(err).Msg("final sweep failed")
		return
	}
	s.publish(EventSweep, "", map[string]any{"removed": n})
}

func (s *Scheduler) persist(led *ledger.Ledger) error {
	now := s.clock.Now()
	var errs []error
	if s.cfg.LedgerPath != "" {
		if err := ledger.WriteJSON(s.cfg.LedgerPath, led.Document(now)); err != nil {
			errs = append(errs, fmt.Errorf("write ledger: %w", err))
		} else {
			s.log.Info().Str("path", s.cfg.LedgerPath).Msg("ledger written")
		}
	}
	if s.cfg.WorkingPath != "" {
		if err := ledger.WriteJSON(s.cfg.WorkingPath, led.WorkingSubset(now)); err != nil {
			errs = append(errs, fmt.Errorf("write working subset: %w", err))
		} else {
			s.log.Info().Str("path", s.cfg.WorkingPath).Int("models", len(led.Working())).Msg("working subset written")
		}
	}
	return errors.Join(errs...)
}

// acquire registers h as the active container, refusing if one is tracked.
func (s *Scheduler) acquire(h container.Handle) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active != nil {
		return activeConflictError{active: s.active.Name, requested: h.Name}
	}
	s.active = &h
	s.metrics.setActive(1)
	return nil
}

func (s *Scheduler) trackHandle(h container.Handle) {
	s.mu.Lock()
	s.active = &h
	s.mu.Unlock()
}

func (s *Scheduler) release() {
	s.mu.Lock()
	s.active = nil
	s.mu.Unlock()
	s.metrics.setActive(0)
}

func (s *Scheduler) setPhase(p probe.State) {
	s.mu.Lock()
	s.phase = p
	s.mu.Unlock()
}

func (s *Scheduler) publish(name, model string, fields map[string]any) {
	s.publisher.Publish(Event{Time: s.clock.Now(), Name: name, ModelID: model, Fields: fields})
}
