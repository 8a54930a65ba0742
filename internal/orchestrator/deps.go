package orchestrator

import (
	"context"
	"time"

	"modelprobe/internal/container"
	"modelprobe/internal/gpu"
	"modelprobe/internal/probe"
	"modelprobe/internal/registry"
	"modelprobe/pkg/types"
)

// Launcher starts and stops backend containers. *container.Launcher
// implements it.
type Launcher interface {
	Start(ctx context.Context, spec types.ModelSpec) (container.Handle, error)
	Stop(ctx context.Context, h container.Handle) error
	Logs(ctx context.Context, h container.Handle, n int) ([]string, error)
	Running(ctx context.Context, h container.Handle) (bool, int, error)
	Sweep(ctx context.Context, prefix string) (int, error)
}

// Prober blocks until a launched backend is ready or failed. *probe.Poller
// implements it.
type Prober interface {
	Wait(ctx context.Context, port int, budget time.Duration, c probe.Container) probe.Result
}

// Verifier issues the functional request. *probe.Verifier implements it.
type Verifier interface {
	Verify(ctx context.Context, spec types.ModelSpec) types.FunctionalResult
}

// ResourceMonitor reads accelerator memory. *gpu.Monitor implements it.
type ResourceMonitor interface {
	Snapshot(ctx context.Context) (gpu.Snapshot, error)
}

// CompatRegistry is the verdict store. *registry.Registry implements it.
type CompatRegistry interface {
	Lookup(ctx context.Context, id string) (registry.Record, error)
	Record(ctx context.Context, id string, outcome types.Outcome, kind types.ErrorKind, msg string) (registry.Record, error)
	Seed(ctx context.Context, id string, status types.CompatStatus) (bool, error)
}

// CacheEvictor removes cached weights. *registry.Evictor implements it.
type CacheEvictor interface {
	Evict(id string) (bool, int64, error)
}

// attemptContainer adapts a Launcher and Handle to probe.Container.
type attemptContainer struct {
	l Launcher
	h container.Handle
}

func (a attemptContainer) Logs(ctx context.Context, n int) ([]string, error) {
	return a.l.Logs(ctx, a.h, n)
}

func (a attemptContainer) Running(ctx context.Context) (bool, int, error) {
	return a.l.Running(ctx, a.h)
}

type noMonitor struct{}

func (noMonitor) Snapshot(context.Context) (gpu.Snapshot, error) { return gpu.Snapshot{}, gpu.ErrUnavailable }
