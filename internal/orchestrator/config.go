package orchestrator

import (
	"time"

	"github.com/rs/zerolog"

	"modelprobe/internal/probe"
)

// Defaults applied when corresponding Config fields are unset.
const (
	defaultNamePrefix   = "modelprobe-"
	defaultReadyTimeout = 600 * time.Second
	defaultStopTimeout  = 60 * time.Second
	defaultLogTailLines = 200
)

// Config encapsulates the tunables of one run.
type Config struct {
	// Container name prefix swept at the end of the run.
	NamePrefix string
	// Readiness budget for specs without their own timeout.
	ReadyTimeout time.Duration
	// Pause after each launched attempt except the last. Zero disables it.
	Cooldown time.Duration
	// Upper bound for the cleanup of one attempt and for the final sweep.
	StopTimeout time.Duration
	// Lines of container output kept in failed reports.
	LogTailLines int
	// Host name recorded in the ledger.
	Host string

	// Output paths; empty skips the corresponding file.
	LedgerPath      string
	WorkingPath     string
	MetricsTextfile string
}

// Deps are the collaborators of a Scheduler. Launcher, Prober, Verifier,
// Registry and Evictor are required.
type Deps struct {
	Launcher  Launcher
	Prober    Prober
	Verifier  Verifier
	Monitor   ResourceMonitor
	Registry  CompatRegistry
	Evictor   CacheEvictor
	Clock     probe.Clock
	Logger    zerolog.Logger
	Publisher EventPublisher
	Metrics   *Metrics
}

func (c *Config) applyDefaults() {
	if c.NamePrefix == "" {
		c.NamePrefix = defaultNamePrefix
	}
	if c.ReadyTimeout <= 0 {
		c.ReadyTimeout = defaultReadyTimeout
	}
	if c.StopTimeout <= 0 {
		c.StopTimeout = defaultStopTimeout
	}
	if c.LogTailLines <= 0 {
		c.LogTailLines = defaultLogTailLines
	}
	if c.Cooldown < 0 {
		c.Cooldown = 0
	}
}
