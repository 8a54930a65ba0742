package orchestrator

import (
	"context"
	"time"

	"modelprobe/internal/container"
	"modelprobe/internal/probe"
	"modelprobe/pkg/types"
)

// Attempt is the in-memory record of one launch; it is summarized into the
// ledger and never persisted on its own.
type Attempt struct {
	Spec     types.ModelSpec
	Budget   time.Duration
	State    probe.State
	Launch   types.LaunchResult
	Function *types.FunctionalResult
}

// Outcome derives the terminal outcome of a launched attempt.
func (a *Attempt) Outcome() (types.Outcome, types.ErrorKind, string) {
	switch {
	case !a.Launch.Success:
		return types.OutcomeLaunchFailed, a.Launch.ErrorKind, a.Launch.Error
	case a.Function == nil || !a.Function.Success:
		msg := "functional probe not attempted"
		if a.Function != nil {
			msg = a.Function.Error
		}
		return types.OutcomeFunctionFailed, types.KindFunctionFail, msg
	default:
		return types.OutcomeWorking, types.KindNone, ""
	}
}

// runAttempt starts the backend, waits for readiness, verifies it and always
// stops it before returning, whatever stage failed.
func (s *Scheduler) runAttempt(ctx context.Context, spec types.ModelSpec) *Attempt {
	budget := spec.ReadyTimeout(s.cfg.ReadyTimeout)
	a := &Attempt{Spec: spec, Budget: budget, State: probe.StatePending}
	l := s.log.With().Str("model", spec.ID).Int("port", spec.Port).Str("container", spec.ContainerName).Logger()

	h := container.Handle{Name: spec.ContainerName, Model: spec.ID, Port: spec.Port}
	if err := s.acquire(h); err != nil {
		l.Error().Err(err).Msg("active container guard")
		a.State = probe.StateFailed
		a.Launch = types.LaunchResult{ErrorKind: types.KindContainerStart, Error: err.Error()}
		return a
	}
	defer func() {
		// Cleanup runs on its own deadline so a cancelled run still stops
		// the container.
		cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.StopTimeout)
		defer cancel()
		if err := s.launcher.Stop(cctx, h); err != nil {
			l.Warn().Err(err).Msg("cleanup stop failed")
		}
		s.release()
		s.publish(EventStop, spec.ID, map[string]any{"container": spec.ContainerName})
	}()

	s.setPhase(probe.StatePending)
	started, err := s.launcher.Start(ctx, spec)
	if err != nil {
		l.Warn().Err(err).Msg("container start failed")
		a.State = probe.StateFailed
		a.Launch = types.LaunchResult{ErrorKind: types.KindContainerStart, Error: err.Error()}
		s.publish(EventLaunchError, spec.ID, map[string]any{"error": err.Error()})
		return a
	}
	h = started
	s.trackHandle(h)
	s.publish(EventLaunch, spec.ID, map[string]any{"container_id": h.ID, "port": spec.Port, "budget_s": budget.Seconds()})

	a.State = probe.StatePolling
	s.setPhase(probe.StatePolling)
	res := s.prober.Wait(ctx, spec.Port, budget, attemptContainer{l: s.launcher, h: h})
	a.State = res.State
	s.setPhase(res.State)
	if !res.Ready() {
		a.Launch = types.LaunchResult{
			ErrorKind:   res.Kind,
			Error:       res.Err,
			ContainerID: h.ID,
			LogsTail:    lastN(res.LogsTail, s.cfg.LogTailLines),
		}
		l.Warn().Str("kind", string(res.Kind)).Str("err", res.Err).Dur("elapsed", res.Elapsed).Msg("backend not ready")
		s.publish(EventProbeFailed, spec.ID, map[string]any{"kind": string(res.Kind), "elapsed_s": res.Elapsed.Seconds()})
		return a
	}
	a.Launch = types.LaunchResult{Success: true, ContainerID: h.ID, ReadySeconds: res.Elapsed.Seconds()}
	s.publish(EventReady, spec.ID, map[string]any{"ready_s": res.Elapsed.Seconds()})

	fr := s.verifier.Verify(ctx, spec)
	a.Function = &fr
	s.publish(EventVerified, spec.ID, map[string]any{"success": fr.Success, "latency_s": fr.LatencySeconds})
	if !fr.Success {
		l.Warn().Str("err", fr.Error).Msg("functional probe failed")
		lctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.StopTimeout)
		lines, err := s.launcher.Logs(lctx, h, s.cfg.LogTailLines)
		cancel()
		if err == nil {
			a.Launch.LogsTail = lines
		}
	}
	return a
}

func lastN(lines []string, n int) []string {
	if n > 0 && len(lines) > n {
		return lines[len(lines)-n:]
	}
	return lines
}
