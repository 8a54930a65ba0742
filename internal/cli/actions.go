package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"modelprobe/internal/config"
	"modelprobe/internal/container"
	"modelprobe/internal/gpu"
	"modelprobe/internal/registry"
	"modelprobe/pkg/types"
)

var errNoWorking = errors.New("no model reached working")

// Action hooks, replaced in tests.
var (
	fnRun           = runProbe
	fnSweep         = sweepContainers
	fnSnapshot      = gpuSnapshot
	fnRegistryList  = registryList
	fnRegistryReset = registryReset
	fnRegistryMark  = registryMark
	fnCacheList     = cacheList
	fnCacheEvict    = cacheEvict
)

func sweepContainers(ctx context.Context, cfg config.Config, out io.Writer) error {
	log := newLogger(cfg.LogLevel, cfg.LogFormat, io.Discard)
	l, err := container.New(cfg.DockerHost, container.Config{Image: cfg.Image}, log)
	if err != nil {
		return err
	}
	defer l.Close()
	n, err := l.Sweep(ctx, cfg.NamePrefix)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "removed %d container(s) with prefix %q\n", n, cfg.NamePrefix)
	return nil
}

func gpuSnapshot(ctx context.Context, cfg config.Config, out io.Writer) error {
	m := gpu.NewMonitor(cfg.NvidiaSMI, cfg.GPUIndex, cfg.GPUQueryTimeout())
	snap, err := m.Snapshot(ctx)
	if err != nil {
		return err
	}
	return writeJSON(out, snap)
}

func registryList(ctx context.Context, cfg config.Config, out io.Writer) error {
	reg, err := openRegistry(ctx, cfg, newLogger(cfg.LogLevel, cfg.LogFormat, io.Discard))
	if err != nil {
		return err
	}
	defer reg.Close()
	recs, err := reg.List(ctx)
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "MODEL\tSTATUS\tLAST OUTCOME\tLAST ERROR KIND\tTESTED")
	for _, r := range recs {
		tested := "-"
		if !r.LastTestedAt.IsZero() {
			tested = r.LastTestedAt.Format(time.RFC3339)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", r.ID, r.Status, dash(string(r.LastOutcome)), dash(string(r.LastErrorKind)), tested)
	}
	return tw.Flush()
}

func registryReset(ctx context.Context, cfg config.Config, id string, out io.Writer) error {
	reg, err := openRegistry(ctx, cfg, newLogger(cfg.LogLevel, cfg.LogFormat, io.Discard))
	if err != nil {
		return err
	}
	defer reg.Close()
	if err := reg.Reset(ctx, id); err != nil {
		return err
	}
	fmt.Fprintf(out, "%s reset to %s\n", id, types.StatusUntested)
	return nil
}

func registryMark(ctx context.Context, cfg config.Config, id, status, note string, out io.Writer) error {
	st, err := types.ParseCompatStatus(status)
	if err != nil {
		return exitErr(exitConfig, err)
	}
	reg, err := openRegistry(ctx, cfg, newLogger(cfg.LogLevel, cfg.LogFormat, io.Discard))
	if err != nil {
		return err
	}
	defer reg.Close()
	rec, err := reg.Mark(ctx, id, st, note)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "%s marked %s\n", rec.ID, rec.Status)
	return nil
}

func cacheList(ctx context.Context, cfg config.Config, out io.Writer) error {
	models, err := registry.NewScanner(cfg.CacheDir).Scan()
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "MODEL\tSIZE\tPATH")
	for _, m := range models {
		fmt.Fprintf(tw, "%s\t%s\t%s\n", m.ID, humanBytes(m.SizeBytes), m.Path)
	}
	return tw.Flush()
}

func cacheEvict(ctx context.Context, cfg config.Config, id string, out io.Writer) error {
	root, err := cfg.ResolvedCacheDir()
	if err != nil {
		return err
	}
	removed, freed, err := registry.NewEvictor(root, newLogger(cfg.LogLevel, cfg.LogFormat, io.Discard)).Evict(id)
	if err != nil {
		return err
	}
	if !removed {
		fmt.Fprintf(out, "%s not cached under %s\n", id, root)
		return nil
	}
	fmt.Fprintf(out, "evicted %s (%s freed)\n", id, humanBytes(freed))
	return nil
}

func writeJSON(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func humanBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
