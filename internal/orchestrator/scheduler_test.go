package orchestrator

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"modelprobe/internal/container"
	"modelprobe/internal/registry"
	"modelprobe/pkg/types"
)

func TestOrderingByPriorityThenSize(t *testing.T) {
	specs := []types.ModelSpec{
		mkSpec("p2", 9001, 2, 5),
		mkSpec("p1", 9002, 1, 5),
		mkSpec("p3", 9003, 3, 1),
	}
	h := newHarness(t, Config{}, specs)
	if _, err := h.sched.Run(context.Background(), specs); err != nil {
		t.Fatalf("run: %v", err)
	}
	got := strings.Join(h.launcher.starts, ",")
	if got != "p1,p2,p3" {
		t.Fatalf("processing order = %s, want p1,p2,p3", got)
	}
}

func TestSortSpecsTieBreaks(t *testing.T) {
	out := SortSpecs([]types.ModelSpec{
		mkSpec("b", 1, 1, 10),
		mkSpec("a", 2, 1, 10),
		mkSpec("c", 3, 1, 5),
	})
	if out[0].ID != "c" || out[1].ID != "a" || out[2].ID != "b" {
		t.Fatalf("order = %s %s %s", out[0].ID, out[1].ID, out[2].ID)
	}
}

func TestCleanupTotality(t *testing.T) {
	specs := []types.ModelSpec{
		mkSpec("ready-ok", 9000, 1, 0),
		mkSpec("ready-verify-fail", 9001, 2, 0),
		mkSpec("timeout", 9002, 3, 0),
		mkSpec("import", 9003, 4, 0),
		mkSpec("memory", 9004, 5, 0),
		mkSpec("start-error", 9005, 6, 0),
		mkSpec("exited", 9006, 7, 0),
	}
	h := newHarness(t, Config{ReadyTimeout: 180 * time.Second, Cooldown: 5 * time.Second}, specs)
	h.verifier.fail["ready-verify-fail"] = true
	h.prober.steps["timeout"] = step{at: 180 * time.Second, kind: types.KindTimeout}
	h.prober.steps["import"] = step{at: 30 * time.Second, kind: types.KindImport}
	h.prober.steps["memory"] = step{at: 60 * time.Second, kind: types.KindMemory}
	h.prober.steps["exited"] = step{at: 30 * time.Second, kind: types.KindContainerExited}
	h.launcher.startErr["start-error"] = errDaemon

	led, err := h.sched.Run(context.Background(), specs)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	for _, s := range specs {
		if n := h.launcher.stops[s.ID]; n != 1 {
			t.Errorf("%s: stop called %d times, want exactly 1", s.ID, n)
		}
	}
	if h.launcher.maxAlive > 1 {
		t.Fatalf("at most one container may be alive, saw %d", h.launcher.maxAlive)
	}
	if _, active := h.sched.ActiveContainer(); active {
		t.Fatalf("active container left after run")
	}

	want := map[string]struct {
		status types.Outcome
		kind   types.ErrorKind
	}{
		"ready-ok":          {types.OutcomeWorking, types.KindNone},
		"ready-verify-fail": {types.OutcomeFunctionFailed, types.KindNone},
		"timeout":           {types.OutcomeLaunchFailed, types.KindTimeout},
		"import":            {types.OutcomeLaunchFailed, types.KindImport},
		"memory":            {types.OutcomeLaunchFailed, types.KindMemory},
		"start-error":       {types.OutcomeLaunchFailed, types.KindContainerStart},
		"exited":            {types.OutcomeLaunchFailed, types.KindContainerExited},
	}
	for _, r := range led.Reports() {
		w := want[r.Config.ID]
		if r.Status != w.status || r.LaunchResult == nil || r.LaunchResult.ErrorKind != w.kind {
			t.Errorf("%s: got %s/%+v, want %s/%s", r.Config.ID, r.Status, r.LaunchResult, w.status, w.kind)
		}
	}
	sum := led.Summary()
	if sum.TotalTested != 7 || sum.Successful != 1 || sum.Failed != 6 || sum.Incompatible != 1 {
		t.Fatalf("summary = %+v", sum)
	}
	if slept, _ := h.clock.Slept(); slept != 6*5*time.Second {
		t.Fatalf("cooldown slept %s, want 30s (none after the last spec)", slept)
	}
}

func TestScenarioCleanSuccess(t *testing.T) {
	spec := types.ModelSpec{ID: "m1", ContainerName: "modelprobe-m1", Port: 9000, TimeoutSeconds: 60}
	h := newHarness(t, Config{}, []types.ModelSpec{spec})
	h.prober.steps["m1"] = step{at: 12 * time.Second, ready: true}

	led, err := h.sched.Run(context.Background(), []types.ModelSpec{spec})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	r := led.Reports()[0]
	if r.Status != types.OutcomeWorking || r.RegistryStatus != types.StatusTestedWorking {
		t.Fatalf("report = %+v", r)
	}
	if r.LaunchResult.ReadySeconds != 12 || r.FunctionalResult == nil || !r.FunctionalResult.Success {
		t.Fatalf("launch/functional = %+v %+v", r.LaunchResult, r.FunctionalResult)
	}
	if h.prober.budgets[9000] != 60*time.Second {
		t.Fatalf("budget = %s, want the per-model 60s", h.prober.budgets[9000])
	}
	if r.GPUBefore == nil || r.GPUAfter == nil {
		t.Fatalf("gpu snapshots missing")
	}
	rec, _ := h.reg.Lookup(context.Background(), "m1")
	if rec.Status != types.StatusTestedWorking {
		t.Fatalf("registry = %+v", rec)
	}
	if len(r.LaunchResult.LogsTail) != 0 {
		t.Fatalf("logs tail kept on success")
	}
}

func TestScenarioStructuralIncompatibility(t *testing.T) {
	spec := types.ModelSpec{ID: "m1", ContainerName: "modelprobe-m1", Port: 9000, TimeoutSeconds: 180}
	h := newHarness(t, Config{}, []types.ModelSpec{spec})
	h.prober.steps["m1"] = step{at: 31 * time.Second, kind: types.KindModule}

	led, _ := h.sched.Run(context.Background(), []types.ModelSpec{spec})
	r := led.Reports()[0]
	if r.Status != types.OutcomeLaunchFailed || r.LaunchResult.ErrorKind != types.KindModule {
		t.Fatalf("report = %+v", r)
	}
	if r.RegistryStatus != types.StatusKnownIncompatible {
		t.Fatalf("registry status = %s", r.RegistryStatus)
	}
	if h.evictor.calls["m1"] != 1 || !r.EvictedCache {
		t.Fatalf("eviction not attempted: %v", h.evictor.calls)
	}
	if len(r.LaunchResult.LogsTail) == 0 {
		t.Fatalf("logs tail missing on failure")
	}
	if h.verifier.n != 0 {
		t.Fatalf("verifier must not run after a failed readiness wait")
	}
}

func TestScenarioTransientTimeout(t *testing.T) {
	spec := types.ModelSpec{ID: "m1", ContainerName: "modelprobe-m1", Port: 9000, TimeoutSeconds: 180}
	h := newHarness(t, Config{}, []types.ModelSpec{spec})
	h.prober.steps["m1"] = step{at: 180 * time.Second, kind: types.KindTimeout}

	led, _ := h.sched.Run(context.Background(), []types.ModelSpec{spec})
	r := led.Reports()[0]
	if r.Status != types.OutcomeLaunchFailed || r.LaunchResult.ErrorKind != types.KindTimeout {
		t.Fatalf("report = %+v", r)
	}
	rec, _ := h.reg.Lookup(context.Background(), "m1")
	if rec.Status != types.StatusUntested || r.RegistryStatus != types.StatusUntested {
		t.Fatalf("timeout must leave the model untested, got %s", rec.Status)
	}
	if h.evictor.calls["m1"] != 0 {
		t.Fatalf("no eviction expected for a transient failure")
	}
}

func TestScenarioSkipPath(t *testing.T) {
	specs := []types.ModelSpec{mkSpec("m1", 9000, 1, 0), mkSpec("m2", 9001, 2, 0)}
	h := newHarness(t, Config{}, specs)
	if _, err := h.reg.Mark(context.Background(), "m2", types.StatusKnownIncompatible, ""); err != nil {
		t.Fatal(err)
	}
	led, err := h.sched.Run(context.Background(), specs)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if h.launcher.started("m2") {
		t.Fatalf("Start called for a known_incompatible model")
	}
	if h.evictor.calls["m2"] != 1 {
		t.Fatalf("eviction not invoked for skipped model")
	}
	var m2 types.ModelReport
	for _, r := range led.Reports() {
		if r.Config.ID == "m2" {
			m2 = r
		}
	}
	if m2.Status != types.OutcomeSkippedIncompatible || m2.LaunchResult != nil || h.launcher.stops["m2"] != 0 {
		t.Fatalf("m2 report = %+v", m2)
	}
}

func TestRegistryReadErrorHoldsModelsBack(t *testing.T) {
	specs := []types.ModelSpec{mkSpec("m1", 9000, 1, 0), mkSpec("m2", 9001, 2, 0)}
	h := newHarness(t, Config{Cooldown: time.Second}, specs)
	if _, err := h.reg.Mark(context.Background(), "m2", types.StatusKnownIncompatible, ""); err != nil {
		t.Fatal(err)
	}
	store, err := registry.OpenFileStore(h.regPath)
	if err != nil {
		t.Fatal(err)
	}
	h.sched.registry = registry.New(unreadableStore{store}, h.clock.Now, zerolog.Nop())

	led, err := h.sched.Run(context.Background(), specs)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(h.launcher.starts) != 0 {
		t.Fatalf("containers started without a registry verdict: %v", h.launcher.starts)
	}
	if len(h.evictor.calls) != 0 {
		t.Fatalf("eviction ran without a registry verdict: %v", h.evictor.calls)
	}
	for _, r := range led.Reports() {
		if r.Status != types.OutcomeSkippedUnverified || r.LaunchResult == nil || r.LaunchResult.ErrorKind != types.KindRegistry {
			t.Fatalf("%s report = %+v", r.Config.ID, r)
		}
	}
	if w := led.Working(); len(w) != 0 {
		t.Fatalf("working = %v", w)
	}
	if sum := led.Summary(); sum.TotalTested != 0 || sum.Failed != 2 || sum.Successful != 0 {
		t.Fatalf("summary = %+v", sum)
	}
	if !h.clock.Now().Equal(t0) {
		t.Fatalf("cooldown applied after held-back models: %s", h.clock.Now().Sub(t0))
	}

	h.sched.registry = h.reg
	rec, err := h.reg.Lookup(context.Background(), "m2")
	if err != nil || rec.Status != types.StatusKnownIncompatible {
		t.Fatalf("m2 verdict changed: %+v %v", rec, err)
	}
}

func TestSkipBrokenFromSpecStatus(t *testing.T) {
	s := mkSpec("legacy", 9000, 1, 0)
	s.KnownStatus = types.StatusLikelyBroken
	h := newHarness(t, Config{}, []types.ModelSpec{s})
	led, _ := h.sched.Run(context.Background(), []types.ModelSpec{s})
	if r := led.Reports()[0]; r.Status != types.OutcomeSkippedBroken {
		t.Fatalf("status = %s", r.Status)
	}
	if len(h.launcher.starts) != 0 {
		t.Fatalf("blocked model started")
	}
	rec, _ := h.reg.Lookup(context.Background(), "legacy")
	if rec.Status != types.StatusLikelyBroken {
		t.Fatalf("registry not seeded: %+v", rec)
	}
}

func TestRegistryMonotonicity(t *testing.T) {
	specs := []types.ModelSpec{mkSpec("bad", 9000, 1, 0), mkSpec("good", 9001, 2, 0)}
	h := newHarness(t, Config{}, specs)
	h.prober.steps["bad"] = step{at: 30 * time.Second, kind: types.KindImport}
	if _, err := h.sched.Run(context.Background(), specs); err != nil {
		t.Fatalf("first run: %v", err)
	}
	if !h.launcher.started("bad") {
		t.Fatalf("first run should attempt the model")
	}

	for i := 0; i < 3; i++ {
		n := h.reopen(t, Config{}, specs)
		led, err := n.sched.Run(context.Background(), specs)
		if err != nil {
			t.Fatalf("rerun %d: %v", i, err)
		}
		if n.launcher.started("bad") {
			t.Fatalf("rerun %d started a known_incompatible model", i)
		}
		if n.evictor.calls["bad"] != 1 {
			t.Fatalf("rerun %d did not attempt eviction", i)
		}
		if !n.launcher.started("good") {
			t.Fatalf("rerun %d skipped a healthy model", i)
		}
		if r := led.Reports()[0]; r.Status != types.OutcomeSkippedIncompatible {
			t.Fatalf("rerun %d status = %s", i, r.Status)
		}
	}
}

func TestCancelStopsCurrentAndSkipsRest(t *testing.T) {
	specs := []types.ModelSpec{mkSpec("a", 9000, 1, 0), mkSpec("b", 9001, 2, 0)}
	h := newHarness(t, Config{Cooldown: time.Second}, specs)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h.prober.steps["a"] = step{at: 20 * time.Second, kind: types.KindCancelled, cancel: cancel}

	led, err := h.sched.Run(ctx, specs)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if h.launcher.stops["a"] != 1 {
		t.Fatalf("cancelled attempt not cleaned up")
	}
	if h.launcher.started("b") {
		t.Fatalf("remaining spec attempted after cancellation")
	}
	if led.Len() != 1 || led.Reports()[0].LaunchResult.ErrorKind != types.KindCancelled {
		t.Fatalf("ledger = %+v", led.Reports())
	}
	rec, _ := h.reg.Lookup(context.Background(), "a")
	if rec.Status != types.StatusUntested || rec.LastErrorKind != types.KindCancelled {
		t.Fatalf("cancelled attempt not recorded: %+v", rec)
	}
	if h.launcher.sweeps != 1 {
		t.Fatalf("final sweep must run after cancellation")
	}
}

func TestRunPersistsOutputs(t *testing.T) {
	specs := []types.ModelSpec{mkSpec("ok", 9000, 1, 0), mkSpec("slow", 9001, 2, 0)}
	dir := t.TempDir()
	cfg := Config{
		ReadyTimeout:    60 * time.Second,
		LedgerPath:      filepath.Join(dir, "model_test_results.json"),
		WorkingPath:     filepath.Join(dir, "working_models.json"),
		MetricsTextfile: filepath.Join(dir, "modelprobe.prom"),
		Host:            "gpu-box",
	}
	h := newHarness(t, cfg, specs)
	h.prober.steps["slow"] = step{at: 60 * time.Second, kind: types.KindTimeout}
	if _, err := h.sched.Run(context.Background(), specs); err != nil {
		t.Fatalf("run: %v", err)
	}
	for _, p := range []string{cfg.LedgerPath, cfg.WorkingPath, cfg.MetricsTextfile} {
		if _, err := os.Stat(p); err != nil {
			t.Fatalf("missing output %s: %v", p, err)
		}
	}
	w, _ := os.ReadFile(cfg.WorkingPath)
	if !strings.Contains(string(w), `"ok"`) || strings.Contains(string(w), `"slow"`) {
		t.Fatalf("working subset = %s", w)
	}
	prom, _ := os.ReadFile(cfg.MetricsTextfile)
	for _, want := range []string{`modelprobe_attempts_total{outcome="working"} 1`, `modelprobe_failures_total{kind="timeout"} 1`} {
		if !strings.Contains(string(prom), want) {
			t.Fatalf("textfile missing %q", want)
		}
	}
	if h.launcher.sweeps != 1 {
		t.Fatalf("sweeps = %d", h.launcher.sweeps)
	}
}

func TestInvalidSpecsAbortBeforeAttempts(t *testing.T) {
	specs := []types.ModelSpec{mkSpec("a", 9000, 1, 0), mkSpec("b", 9000, 2, 0)}
	h := newHarness(t, Config{}, specs)
	_, err := h.sched.Run(context.Background(), specs)
	if !IsInvalidSpecs(err) {
		t.Fatalf("expected invalid specs error, got %v", err)
	}
	if len(h.launcher.starts) != 0 || h.launcher.sweeps != 0 {
		t.Fatalf("nothing should run on invalid input")
	}
}

func TestActiveGuard(t *testing.T) {
	h := newHarness(t, Config{}, nil)
	held := container.Handle{Name: "modelprobe-a", Model: "a", Port: 9000}
	if err := h.sched.acquire(held); err != nil {
		t.Fatalf("acquire: %v", err)
	}
	err := h.sched.acquire(container.Handle{Name: "modelprobe-b"})
	if !IsActiveConflict(err) {
		t.Fatalf("expected active conflict, got %v", err)
	}
	b := h.sched.runAttempt(context.Background(), mkSpec("b", 9001, 1, 0))
	if b.Launch.Success || b.Launch.ErrorKind != types.KindContainerStart || h.launcher.started("b") {
		t.Fatalf("guard must refuse a second container: %+v", b.Launch)
	}
	if name, ok := h.sched.ActiveContainer(); !ok || name != "modelprobe-a" {
		t.Fatalf("refused attempt must not disturb the tracked container, got %q", name)
	}
	h.sched.release()
	if a := h.sched.runAttempt(context.Background(), mkSpec("c", 9002, 1, 0)); !a.Launch.Success {
		t.Fatalf("attempt after release = %+v", a.Launch)
	}
}

func TestStatusAndEvents(t *testing.T) {
	specs := []types.ModelSpec{mkSpec("a", 9000, 1, 0), mkSpec("b", 9001, 2, 0)}
	h := newHarness(t, Config{}, specs)
	if st := h.sched.Status(); st.State != RunIdle {
		t.Fatalf("initial state = %s", st.State)
	}
	if _, ok := h.sched.LedgerDocument(); ok {
		t.Fatalf("no ledger expected before the first run")
	}
	led, _ := h.sched.Run(context.Background(), specs)
	st := h.sched.Status()
	if st.State != RunDone || st.Completed != 2 || st.Total != 2 || st.RunID != led.RunID() || st.Summary.Successful != 2 {
		t.Fatalf("status = %+v", st)
	}
	if st.RunStartedUnix != t0.Unix() || !led.Started().Equal(t0) {
		t.Fatalf("run start = %d, want %d", st.RunStartedUnix, t0.Unix())
	}
	doc, ok := h.sched.LedgerDocument()
	if !ok || len(doc.Models) != 2 {
		t.Fatalf("ledger document = %+v", doc)
	}
	names := strings.Join(h.events.Names(), " ")
	for _, want := range []string{"run_start", "launch", "ready", "verified", "stop", "attempt_done", "sweep", "run_done"} {
		if !strings.Contains(names, want) {
			t.Fatalf("events %q missing %s", names, want)
		}
	}
	if !strings.HasPrefix(names, "run_start") || !strings.HasSuffix(names, "run_done") {
		t.Fatalf("unexpected event order: %s", names)
	}
}

func TestGPUUnavailableIsNonFatal(t *testing.T) {
	specs := []types.ModelSpec{mkSpec("a", 9000, 1, 0)}
	h := newHarness(t, Config{}, specs)
	h.sched.monitor = fakeMonitor{fail: true}
	led, err := h.sched.Run(context.Background(), specs)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	r := led.Reports()[0]
	if r.Status != types.OutcomeWorking || r.GPUBefore != nil {
		t.Fatalf("report = %+v", r)
	}
}
