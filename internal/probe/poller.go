package probe

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"modelprobe/pkg/types"
)

// State is the readiness state of one attempt.
type State string

const (
	StatePending State = "pending"
	StatePolling State = "polling"
	StateReady   State = "ready"
	StateFailed  State = "failed"
)

// Container is the poller's view of a launched backend.
type Container interface {
	// Logs returns the last n lines of combined output.
	Logs(ctx context.Context, n int) ([]string, error)
	// Running reports whether the container is alive and, if not, its exit code.
	Running(ctx context.Context) (bool, int, error)
}

// Result is the terminal outcome of a Wait.
type Result struct {
	State   State
	Kind    types.ErrorKind
	Err     string
	Elapsed time.Duration
	// LogsTail is populated on failure only.
	LogsTail []string
}

// Ready reports whether the backend reached StateReady.
func (r Result) Ready() bool { return r.State == StateReady }

// PollerConfig tunes the readiness loop. Zero values take defaults.
type PollerConfig struct {
	Host             string
	Interval         time.Duration
	LogCheckInterval time.Duration
	TailLines        int
	// Per-request timeout of a single health check.
	RequestTimeout time.Duration
}

const (
	defaultPollInterval     = 10 * time.Second
	defaultLogCheckInterval = 30 * time.Second
	defaultTailLines        = 200
	defaultRequestTimeout   = 5 * time.Second
)

// Poller waits for a backend's health endpoint while scanning its output for
// fatal signatures.
type Poller struct {
	cfg    PollerConfig
	client *http.Client
	clock  Clock
	log    zerolog.Logger
	// OnState, if set, observes every state transition.
	OnState func(State)
}

// NewPoller builds a Poller. A nil client uses a client with no global
// timeout; each request carries its own deadline.
func NewPoller(cfg PollerConfig, client *http.Client, clock Clock, log zerolog.Logger) *Poller {
	if cfg.Host == "" {
		cfg.Host = "localhost"
	}
	if cfg.Interval <= 0 {
		cfg.Interval = defaultPollInterval
	}
	if cfg.LogCheckInterval <= 0 {
		cfg.LogCheckInterval = defaultLogCheckInterval
	}
	if cfg.TailLines <= 0 {
		cfg.TailLines = defaultTailLines
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = defaultRequestTimeout
	}
	if client == nil {
		client = &http.Client{Timeout: 0}
	}
	if clock == nil {
		clock = RealClock()
	}
	return &Poller{cfg: cfg, client: client, clock: clock, log: log}
}

// HealthURL returns the health endpoint for port.
func (p *Poller) HealthURL(port int) string {
	return "http://" + p.cfg.Host + ":" + strconv.Itoa(port) + "/health"
}

// Wait runs the Polling state until the backend is ready, a fatal signature
// shows up in its output, it exits, the budget elapses or ctx is cancelled.
func (p *Poller) Wait(ctx context.Context, port int, budget time.Duration, c Container) Result {
	p.transition(StatePending)
	start := p.clock.Now()
	deadline := start.Add(budget)
	nextLogCheck := start.Add(p.cfg.LogCheckInterval)
	url := p.HealthURL(port)
	l := p.log.With().Int("port", port).Logger()
	p.transition(StatePolling)

	for {
		if ctx.Err() != nil {
			return p.fail(ctx, c, start, types.KindCancelled, "cancelled while waiting for readiness")
		}
		if p.healthy(ctx, url) {
			p.transition(StateReady)
			el := p.clock.Now().Sub(start)
			l.Info().Dur("elapsed", el).Msg("backend ready")
			return Result{State: StateReady, Elapsed: el}
		}
		now := p.clock.Now()
		if !now.Before(nextLogCheck) {
			for !now.Before(nextLogCheck) {
				nextLogCheck = nextLogCheck.Add(p.cfg.LogCheckInterval)
			}
			if r, done := p.inspect(ctx, c, start, l); done {
				return r
			}
		}
		if !now.Before(deadline) {
			return p.fail(ctx, c, start, types.KindTimeout, fmt.Sprintf("not ready within %s", budget))
		}
		wait := p.cfg.Interval
		if rem := deadline.Sub(now); rem < wait {
			wait = rem
		}
		if err := p.clock.Sleep(ctx, wait); err != nil {
			return p.fail(ctx, c, start, types.KindCancelled, "cancelled while waiting for readiness")
		}
	}
}

// inspect scans the log tail and the container state. It reports done when
// the attempt can be failed early.
func (p *Poller) inspect(ctx context.Context, c Container, start time.Time, l zerolog.Logger) (Result, bool) {
	lines, err := c.Logs(ctx, p.cfg.TailLines)
	if err != nil {
		l.Debug().Err(err).Msg("log fetch failed")
	}
	if m, ok := Classify(lines); ok {
		l.Warn().Str("kind", string(m.Kind)).Str("line", m.Line).Msg("fatal signature in backend output")
		return p.failed(start, m.Kind, m.Line, lines), true
	}
	running, code, err := c.Running(ctx)
	if err != nil {
		l.Debug().Err(err).Msg("container state check failed")
		return Result{}, false
	}
	if !running {
		l.Warn().Int("exit_code", code).Msg("container exited before ready")
		return p.failed(start, types.KindContainerExited, fmt.Sprintf("container exited with code %d", code), lines), true
	}
	return Result{}, false
}

func (p *Poller) fail(ctx context.Context, c Container, start time.Time, kind types.ErrorKind, msg string) Result {
	// The attempt context may already be cancelled; the tail is diagnostic
	// so it gets its own short deadline.
	lctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.cfg.RequestTimeout)
	defer cancel()
	lines, _ := c.Logs(lctx, p.cfg.TailLines)
	if kind == types.KindTimeout {
		if m, ok := Classify(lines); ok {
			kind, msg = m.Kind, m.Line
		}
	}
	return p.failed(start, kind, msg, lines)
}

func (p *Poller) failed(start time.Time, kind types.ErrorKind, msg string, lines []string) Result {
	p.transition(StateFailed)
	return Result{State: StateFailed, Kind: kind, Err: msg, Elapsed: p.clock.Now().Sub(start), LogsTail: lines}
}

func (p *Poller) healthy(ctx context.Context, url string) bool {
	ctx, cancel := context.WithTimeout(ctx, p.cfg.RequestTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return false
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return false
	}
	_ = resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

func (p *Poller) transition(s State) {
	if p.OnState != nil {
		p.OnState(s)
	}
}
