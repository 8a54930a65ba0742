package orchestrator

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"modelprobe/internal/container"
	"modelprobe/internal/gpu"
	"modelprobe/internal/probe"
	"modelprobe/internal/registry"
	"modelprobe/pkg/types"
)

var t0 = time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)

// fakeLauncher tracks live containers so tests can assert that no two
// attempts ever overlap.
type fakeLauncher struct {
	mu       sync.Mutex
	alive    map[string]bool
	maxAlive int
	starts   []string
	stops    map[string]int
	startErr map[string]error
	sweeps   int
	logs     []string
}

func newFakeLauncher() *fakeLauncher {
	return &fakeLauncher{alive: map[string]bool{}, stops: map[string]int{}, startErr: map[string]error{}}
}

func (f *fakeLauncher) Start(ctx context.Context, spec types.ModelSpec) (container.Handle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.starts = append(f.starts, spec.ID)
	if err := f.startErr[spec.ID]; err != nil {
		return container.Handle{}, &container.LaunchError{Model: spec.ID, Op: "create", Err: err}
	}
	f.alive[spec.ContainerName] = true
	if len(f.alive) > f.maxAlive {
		f.maxAlive = len(f.alive)
	}
	return container.Handle{ID: "id-" + spec.ContainerName, Name: spec.ContainerName, Model: spec.ID, Port: spec.Port}, nil
}

func (f *fakeLauncher) Stop(ctx context.Context, h container.Handle) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stops[h.Model]++
	delete(f.alive, h.Name)
	return nil
}

func (f *fakeLauncher) Logs(ctx context.Context, h container.Handle, n int) ([]string, error) {
	return f.logs, nil
}

func (f *fakeLauncher) Running(ctx context.Context, h container.Handle) (bool, int, error) {
	return true, 0, nil
}

func (f *fakeLauncher) Sweep(ctx context.Context, prefix string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sweeps++
	return 0, nil
}

func (f *fakeLauncher) started(id string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, s := range f.starts {
		if s == id {
			return true
		}
	}
	return false
}

// step scripts the poller for one model: after advancing the clock by at,
// the attempt ends in state with kind.
type step struct {
	at    time.Duration
	ready bool
	kind  types.ErrorKind
	// cancel, when set, is invoked before returning (simulates SIGINT).
	cancel context.CancelFunc
}

type fakeProber struct {
	clock   *probe.FakeClock
	steps   map[string]step
	budgets map[int]time.Duration
	ports   map[int]string
}

func (p *fakeProber) Wait(ctx context.Context, port int, budget time.Duration, c probe.Container) probe.Result {
	p.budgets[port] = budget
	st, ok := p.steps[p.ports[port]]
	if !ok {
		st = step{at: 10 * time.Second, ready: true}
	}
	if st.at > budget {
		st = step{at: budget, kind: types.KindTimeout}
	}
	p.clock.Advance(st.at)
	if st.cancel != nil {
		st.cancel()
	}
	if st.ready {
		return probe.Result{State: probe.StateReady, Elapsed: st.at}
	}
	return probe.Result{State: probe.StateFailed, Kind: st.kind, Err: string(st.kind), Elapsed: st.at, LogsTail: []string{"tail"}}
}

type fakeVerifier struct {
	fail map[string]bool
	n    int
}

func (v *fakeVerifier) Verify(ctx context.Context, spec types.ModelSpec) types.FunctionalResult {
	v.n++
	if v.fail[spec.ID] {
		return types.FunctionalResult{Attempted: true, StatusCode: 200, Error: "empty completion content"}
	}
	return types.FunctionalResult{Attempted: true, Success: true, StatusCode: 200, Response: "ready"}
}

type fakeEvictor struct {
	mu    sync.Mutex
	calls map[string]int
}

func (e *fakeEvictor) Evict(id string) (bool, int64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls[id]++
	// Only the first eviction finds data.
	return e.calls[id] == 1, 1024, nil
}

type fakeMonitor struct{ fail bool }

func (m fakeMonitor) Snapshot(ctx context.Context) (gpu.Snapshot, error) {
	if m.fail {
		return gpu.Snapshot{}, gpu.ErrUnavailable
	}
	return gpu.Snapshot{TotalBytes: 24 << 30, FreeBytes: 20 << 30, UsedBytes: 4 << 30}, nil
}

type harness struct {
	sched    *Scheduler
	launcher *fakeLauncher
	prober   *fakeProber
	verifier *fakeVerifier
	evictor  *fakeEvictor
	reg      *registry.Registry
	clock    *probe.FakeClock
	events   *MemoryPublisher
	metrics  *Metrics
	regPath  string
	dir      string
}

func newHarness(t *testing.T, cfg Config, specs []types.ModelSpec) *harness {
	t.Helper()
	dir := t.TempDir()
	regPath := filepath.Join(dir, "model_compatibility.json")
	store, err := registry.OpenFileStore(regPath)
	if err != nil {
		t.Fatalf("open registry: %v", err)
	}
	clk := probe.NewFakeClock(t0)
	h := &harness{
		launcher: newFakeLauncher(),
		verifier: &fakeVerifier{fail: map[string]bool{}},
		evictor:  &fakeEvictor{calls: map[string]int{}},
		reg:      registry.New(store, clk.Now, zerolog.Nop()),
		clock:    clk,
		events:   NewMemoryPublisher(),
		metrics:  NewMetrics(),
		regPath:  regPath,
		dir:      dir,
	}
	h.prober = &fakeProber{clock: clk, steps: map[string]step{}, budgets: map[int]time.Duration{}, ports: map[int]string{}}
	for _, s := range specs {
		h.prober.ports[s.Port] = s.ID
	}
	h.sched = New(cfg, Deps{
		Launcher:  h.launcher,
		Prober:    h.prober,
		Verifier:  h.verifier,
		Monitor:   fakeMonitor{},
		Registry:  h.reg,
		Evictor:   h.evictor,
		Clock:     clk,
		Logger:    zerolog.Nop(),
		Publisher: h.events,
		Metrics:   h.metrics,
	})
	return h
}

// reopen builds a fresh scheduler over the same registry file, as a second
// invocation of the CLI would.
func (h *harness) reopen(t *testing.T, cfg Config, specs []types.ModelSpec) *harness {
	t.Helper()
	store, err := registry.OpenFileStore(h.regPath)
	if err != nil {
		t.Fatalf("reopen registry: %v", err)
	}
	n := newHarness(t, cfg, specs)
	n.reg = registry.New(store, n.clock.Now, zerolog.Nop())
	n.sched.registry = n.reg
	return n
}

func mkSpec(id string, port, priority int, size int64) types.ModelSpec {
	return types.ModelSpec{ID: id, ContainerName: "modelprobe-" + id, Port: port, Priority: priority, SizeBytes: size}
}

// unreadableStore fails every Get, as a Redis store does when the server is
// unreachable.
type unreadableStore struct {
	registry.Store
}

func (unreadableStore) Get(ctx context.Context, id string) (registry.Record, error) {
	return registry.Record{}, errors.New("redis hget: i/o timeout")
}

var errDaemon = errors.New("Cannot connect to the Docker daemon at unix:///var/run/docker.sock")
