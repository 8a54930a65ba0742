// Package gpu reads accelerator memory counters through nvidia-smi.
//
// A snapshot is diagnostic only: callers log it and attach it to the ledger
// but never gate a launch on it. Any failure (missing binary, non-zero exit,
// timeout, unparsable output) is reported as ErrUnavailable.
package gpu

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"modelprobe/pkg/types"
)

// Snapshot is a point-in-time reading of one device's memory.
type Snapshot = types.GPUSnapshot

// ErrUnavailable is returned when no snapshot could be taken.
var ErrUnavailable = errors.New("gpu snapshot unavailable")

const mib = 1024 * 1024

var queryArgs = []string{
	"--query-gpu=index,name,memory.total,memory.used,memory.free",
	"--format=csv,noheader,nounits",
}

// Runner executes a command and returns its stdout.
type Runner func(ctx context.Context, name string, args ...string) ([]byte, error)

func execRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		if s := strings.TrimSpace(stderr.String()); s != "" {
			return nil, fmt.Errorf("%w: %s", err, s)
		}
		return nil, err
	}
	return out, nil
}

// Monitor takes memory snapshots of a single device.
type Monitor struct {
	bin     string
	index   int
	timeout time.Duration
	run     Runner
	now     func() time.Time
	log     zerolog.Logger
}

// Option customizes a Monitor.
type Option func(*Monitor)

// WithRunner replaces the command runner (tests).
func WithRunner(r Runner) Option { return func(m *Monitor) { m.run = r } }

// WithLogger sets the logger used for failed queries.
func WithLogger(l zerolog.Logger) Option { return func(m *Monitor) { m.log = l } }

// WithClock overrides the timestamp source.
func WithClock(now func() time.Time) Option { return func(m *Monitor) { m.now = now } }

// NewMonitor constructs a Monitor for device index using the nvidia-smi
// binary at bin. A zero timeout defaults to 5s.
func NewMonitor(bin string, index int, timeout time.Duration, opts ...Option) *Monitor {
	if strings.TrimSpace(bin) == "" {
		bin = "nvidia-smi"
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	m := &Monitor{bin: bin, index: index, timeout: timeout, run: execRunner, now: time.Now, log: zerolog.Nop()}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Snapshot queries the device once. There are no retries.
func (m *Monitor) Snapshot(ctx context.Context) (Snapshot, error) {
	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()
	out, err := m.run(ctx, m.bin, queryArgs...)
	if err != nil {
		m.log.Debug().Err(err).Str("bin", m.bin).Msg("gpu query failed")
		return Snapshot{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	snaps, err := Parse(out)
	if err != nil {
		return Snapshot{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	for _, s := range snaps {
		if s.Index == m.index {
			s.Timestamp = m.now()
			return s, nil
		}
	}
	return Snapshot{}, fmt.Errorf("%w: device %d not reported", ErrUnavailable, m.index)
}

// Parse decodes nvidia-smi CSV output (noheader, nounits). Memory columns
// are MiB and are converted to bytes.
func Parse(out []byte) ([]Snapshot, error) {
	var snaps []Snapshot
	for _, line := range strings.Split(string(out), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		f := strings.Split(line, ",")
		if len(f) != 5 {
			return nil, fmt.Errorf("unexpected column count %d in %q", len(f), line)
		}
		idx, err := strconv.Atoi(strings.TrimSpace(f[0]))
		if err != nil {
			return nil, fmt.Errorf("index: %w", err)
		}
		var mem [3]uint64
		for i := 0; i < 3; i++ {
			v, err := strconv.ParseUint(strings.TrimSpace(f[2+i]), 10, 64)
			if err != nil {
				return nil, fmt.Errorf("memory column %d: %w", i, err)
			}
			mem[i] = v * mib
		}
		snaps = append(snaps, Snapshot{
			Index:      idx,
			Device:     strings.TrimSpace(f[1]),
			TotalBytes: mem[0],
			UsedBytes:  mem[1],
			FreeBytes:  mem[2],
		})
	}
	if len(snaps) == 0 {
		return nil, errors.New("no devices in output")
	}
	return snaps, nil
}
