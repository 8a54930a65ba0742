package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"modelprobe/internal/common/fsutil"
	"modelprobe/internal/config"
	"modelprobe/internal/container"
	"modelprobe/internal/gpu"
	"modelprobe/internal/httpapi"
	"modelprobe/internal/orchestrator"
	"modelprobe/internal/probe"
	"modelprobe/internal/registry"
	"modelprobe/pkg/types"
)

const eventBufferSize = 512

// openRegistry opens the verdict store selected by cfg.RegistryBackend.
func openRegistry(ctx context.Context, cfg config.Config, log zerolog.Logger) (*registry.Registry, error) {
	var store registry.Store
	switch strings.ToLower(cfg.RegistryBackend) {
	case "", "file":
		path, err := fsutil.ExpandHome(cfg.RegistryPath)
		if err != nil {
			return nil, err
		}
		fs, err := registry.OpenFileStore(path)
		if err != nil {
			return nil, err
		}
		store = fs
	case "redis":
		if cfg.RedisAddr == "" {
			return nil, exitErr(exitConfig, fmt.Errorf("registry_backend redis requires redis_addr"))
		}
		rs, err := registry.OpenRedisStore(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, cfg.RedisKey)
		if err != nil {
			return nil, err
		}
		store = rs
	default:
		return nil, exitErr(exitConfig, fmt.Errorf("unknown registry_backend %q", cfg.RegistryBackend))
	}
	return registry.New(store, nil, log.With().Str("component", "registry").Logger()), nil
}

// fillSizes sets SizeBytes from the weight cache for specs that do not
// declare one, so smaller models are tried first within a priority.
func fillSizes(specs []types.ModelSpec, root string, log zerolog.Logger) {
	sizes, err := registry.NewScanner(root).Sizes()
	if err != nil {
		log.Debug().Err(err).Str("root", root).Msg("cache scan failed; sizes left as declared")
		return
	}
	for i := range specs {
		if specs[i].SizeBytes == 0 {
			specs[i].SizeBytes = sizes[specs[i].ID]
		}
	}
}

// runProbe performs one full run and prints the summary to out.
func runProbe(ctx context.Context, cfg config.Config, out io.Writer) error {
	log := newLogger(cfg.LogLevel, cfg.LogFormat, os.Stderr)

	if cfg.ModelsFile == "" {
		return exitErr(exitConfig, fmt.Errorf("no models file given (--models or models_file)"))
	}
	specs, err := config.LoadSpecs(cfg.ModelsFile, cfg.NamePrefix)
	if err != nil {
		return exitErr(exitConfig, err)
	}
	cacheRoot, err := cfg.ResolvedCacheDir()
	if err != nil {
		return exitErr(exitConfig, err)
	}
	fillSizes(specs, cacheRoot, log)

	reg, err := openRegistry(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer reg.Close()

	launcher, err := container.New(cfg.DockerHost, container.Config{
		Image:             cfg.Image,
		CacheDir:          cacheRoot,
		ContainerCacheDir: cfg.ContainerCacheDir,
		ContainerPort:     cfg.ContainerPort,
		ShmSizeBytes:      int64(cfg.ShmSizeMB) << 20,
		Env:               cfg.Env,
		StopGrace:         cfg.StopGrace(),
		NoGPU:             cfg.NoGPU,
	}, log.With().Str("component", "container").Logger())
	if err != nil {
		return fmt.Errorf("docker client: %w", err)
	}
	defer launcher.Close()
	if cfg.PullImage {
		if err := launcher.PullImage(ctx); err != nil {
			return err
		}
	}

	clock := probe.RealClock()
	poller := probe.NewPoller(probe.PollerConfig{
		Host:             cfg.Host,
		Interval:         cfg.PollInterval(),
		LogCheckInterval: cfg.LogCheckInterval(),
		TailLines:        cfg.LogTailLines,
	}, nil, clock, log.With().Str("component", "poller").Logger())
	verifier := probe.NewVerifier(probe.VerifierConfig{
		Host:      cfg.Host,
		Timeout:   cfg.VerifyTimeout(),
		MaxTokens: cfg.VerifyMaxTokens,
		Prompt:    cfg.VerifyPrompt,
	}, nil, log.With().Str("component", "verifier").Logger())
	monitor := gpu.NewMonitor(cfg.NvidiaSMI, cfg.GPUIndex, cfg.GPUQueryTimeout(), gpu.WithLogger(log))

	metrics := orchestrator.NewMetrics()
	ring := orchestrator.NewRingPublisher(eventBufferSize)
	host, _ := os.Hostname()
	sched := orchestrator.New(orchestrator.Config{
		NamePrefix:      cfg.NamePrefix,
		ReadyTimeout:    cfg.ReadyTimeout(),
		Cooldown:        cfg.Cooldown(),
		LogTailLines:    cfg.LogTailLines,
		Host:            host,
		LedgerPath:      cfg.LedgerPath,
		WorkingPath:     cfg.WorkingPath,
		MetricsTextfile: cfg.MetricsTextfile,
	}, orchestrator.Deps{
		Launcher:  launcher,
		Prober:    poller,
		Verifier:  verifier,
		Monitor:   monitor,
		Registry:  reg,
		Evictor:   registry.NewEvictor(cacheRoot, log.With().Str("component", "evict").Logger()),
		Clock:     clock,
		Logger:    log,
		Publisher: orchestrator.MultiPublisher{ring, orchestrator.NewLogPublisher(log)},
		Metrics:   metrics,
	})

	if cfg.Listen != "" {
		httpapi.SetLogger(log.With().Str("component", "http").Logger())
		httpapi.SetCORSOptions(len(cfg.CORSOrigins) > 0, cfg.CORSOrigins, nil, nil)
		if err := httpapi.RegisterMetrics(metrics.Registry); err != nil {
			return err
		}
		sctx, stop := context.WithCancel(context.WithoutCancel(ctx))
		defer stop()
		mux := httpapi.NewMux(sched, ring, metrics.Registry)
		go func() {
			if err := httpapi.Serve(sctx, cfg.Listen, mux); err != nil {
				log.Error().Err(err).Str("addr", cfg.Listen).Msg("status server")
			}
		}()
	}

	led, err := sched.Run(ctx, specs)
	if cfg.Listen != "" && cfg.LingerSeconds > 0 {
		defer waitLinger(ctx, cfg.Linger(), log)
	}
	if orchestrator.IsInvalidSpecs(err) {
		return exitErr(exitConfig, err)
	}
	if led == nil {
		return err
	}
	sum := led.Summary()
	fmt.Fprintf(out, "run %s: tested=%d working=%d failed=%d incompatible=%d evicted=%d\n",
		led.RunID(), sum.TotalTested, sum.Successful, sum.Failed, sum.Incompatible, sum.RemovedFromCache)
	for _, id := range led.Working() {
		fmt.Fprintf(out, "  working: %s\n", id)
	}
	if err != nil {
		return err
	}
	if sum.Successful == 0 {
		return exitErr(exitNoWorking, errNoWorking)
	}
	return nil
}

// waitLinger blocks for d or until ctx is done, keeping the status server
// reachable so /readyz and /ledger can be scraped after the run.
func waitLinger(ctx context.Context, d time.Duration, log zerolog.Logger) {
	log.Info().Dur("linger", d).Msg("run finished; status server stays up")
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
