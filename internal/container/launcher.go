package container

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/rs/zerolog"

	"modelprobe/pkg/types"
)

// Config holds launch parameters shared by every container of a run.
type Config struct {
	Image             string
	CacheDir          string
	ContainerCacheDir string
	ContainerPort     int
	ShmSizeBytes      int64
	Env               []string
	StopGrace         time.Duration
	// NoGPU omits the GPU device request (CPU-only test hosts).
	NoGPU bool
}

// Handle identifies a started container.
type Handle struct {
	ID    string
	Name  string
	Model string
	Port  int
}

// Launcher manages backend containers on one Docker engine.
type Launcher struct {
	api engine
	cfg Config
	log zerolog.Logger
}

// New connects to the Docker engine at host (empty = environment defaults).
func New(host string, cfg Config, log zerolog.Logger) (*Launcher, error) {
	api, err := newEngine(host)
	if err != nil {
		return nil, err
	}
	return newLauncher(api, cfg, log), nil
}

func newLauncher(api engine, cfg Config, log zerolog.Logger) *Launcher {
	if cfg.ContainerPort <= 0 {
		cfg.ContainerPort = 8000
	}
	if cfg.ContainerCacheDir == "" {
		cfg.ContainerCacheDir = "/root/.cache/huggingface"
	}
	if cfg.StopGrace <= 0 {
		cfg.StopGrace = 10 * time.Second
	}
	return &Launcher{api: api, cfg: cfg, log: log}
}

// Close releases the engine connection.
func (l *Launcher) Close() error { return l.api.Close() }

// PullImage pulls the configured image and drains the progress stream.
func (l *Launcher) PullImage(ctx context.Context) error {
	rc, err := l.api.ImagePull(ctx, l.cfg.Image, image.PullOptions{})
	if err != nil {
		return fmt.Errorf("pull %s: %w", l.cfg.Image, err)
	}
	defer rc.Close()
	if _, err := io.Copy(io.Discard, rc); err != nil {
		return fmt.Errorf("pull %s: %w", l.cfg.Image, err)
	}
	l.log.Info().Str("image", l.cfg.Image).Msg("image pulled")
	return nil
}

// Start removes any container occupying spec's name or port, then creates
// and starts a detached backend. Engine failures are returned as *LaunchError.
func (l *Launcher) Start(ctx context.Context, spec types.ModelSpec) (Handle, error) {
	l.preclean(ctx, spec)

	cfg, host := l.buildConfigs(spec)
	resp, err := l.api.ContainerCreate(ctx, cfg, host, nil, nil, spec.ContainerName)
	if err != nil {
		return Handle{}, &LaunchError{Model: spec.ID, Op: "create", Err: err}
	}
	h := Handle{ID: resp.ID, Name: spec.ContainerName, Model: spec.ID, Port: spec.Port}
	if err := l.api.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		// Created but not started; remove it so the name is free next time.
		_ = l.remove(context.WithoutCancel(ctx), resp.ID)
		return Handle{}, &LaunchError{Model: spec.ID, Op: "start", Err: err}
	}
	for _, w := range resp.Warnings {
		l.log.Warn().Str("container", spec.ContainerName).Msg(w)
	}
	l.log.Info().Str("model", spec.ID).Str("container", spec.ContainerName).Str("id", shortID(resp.ID)).Int("port", spec.Port).Msg("container started")
	return h, nil
}

// preclean stops anything left behind by a previous run.
func (l *Launcher) preclean(ctx context.Context, spec types.ModelSpec) {
	if err := l.remove(ctx, spec.ContainerName); err != nil {
		l.log.Debug().Err(err).Str("container", spec.ContainerName).Msg("preclean by name")
	}
	list, err := l.api.ContainerList(ctx, container.ListOptions{
		All:     true,
		Filters: filters.NewArgs(filters.Arg("publish", strconv.Itoa(spec.Port))),
	})
	if err != nil {
		l.log.Debug().Err(err).Int("port", spec.Port).Msg("preclean list by port")
		return
	}
	for _, c := range list {
		l.log.Warn().Str("id", shortID(c.ID)).Strs("names", c.Names).Int("port", spec.Port).Msg("removing container holding port")
		_ = l.stopAndRemove(ctx, c.ID)
	}
}

// Stop stops and removes the container. A missing container is not an error.
func (l *Launcher) Stop(ctx context.Context, h Handle) error {
	ref := h.ID
	if ref == "" {
		ref = h.Name
	}
	if ref == "" {
		return nil
	}
	err := l.stopAndRemove(ctx, ref)
	if err != nil {
		l.log.Warn().Err(err).Str("container", h.Name).Msg("container stop")
		return err
	}
	l.log.Info().Str("model", h.Model).Str("container", h.Name).Msg("container stopped")
	return nil
}

func (l *Launcher) stopAndRemove(ctx context.Context, ref string) error {
	grace := int(l.cfg.StopGrace / time.Second)
	stopErr := l.api.ContainerStop(ctx, ref, container.StopOptions{Timeout: &grace})
	if isNotFound(stopErr) {
		return nil
	}
	if err := l.remove(ctx, ref); err != nil {
		return err
	}
	if stopErr != nil {
		// Removed with force anyway.
		l.log.Debug().Err(stopErr).Str("container", ref).Msg("graceful stop failed")
	}
	return nil
}

func (l *Launcher) remove(ctx context.Context, ref string) error {
	err := l.api.ContainerRemove(ctx, ref, container.RemoveOptions{Force: true})
	if err == nil || isNotFound(err) {
		return nil
	}
	return fmt.Errorf("remove %s: %w", ref, err)
}

// Logs returns the last n lines of combined stdout and stderr.
func (l *Launcher) Logs(ctx context.Context, h Handle, n int) ([]string, error) {
	rc, err := l.api.ContainerLogs(ctx, h.ID, container.LogsOptions{
		ShowStdout: true,
		ShowStderr: true,
		Tail:       strconv.Itoa(n),
	})
	if err != nil {
		return nil, fmt.Errorf("logs %s: %w", h.Name, err)
	}
	defer rc.Close()
	var buf bytes.Buffer
	if _, err := stdcopy.StdCopy(&buf, &buf, rc); err != nil {
		return nil, fmt.Errorf("logs %s: %w", h.Name, err)
	}
	return tailLines(&buf, n), nil
}

// Running reports whether the container is alive. A missing container is
// reported as exited with code -1.
func (l *Launcher) Running(ctx context.Context, h Handle) (bool, int, error) {
	info, err := l.api.ContainerInspect(ctx, h.ID)
	if err != nil {
		if isNotFound(err) {
			return false, -1, nil
		}
		return false, 0, fmt.Errorf("inspect %s: %w", h.Name, err)
	}
	if info.ContainerJSONBase == nil || info.State == nil {
		return false, 0, fmt.Errorf("inspect %s: no state", h.Name)
	}
	return info.State.Running, info.State.ExitCode, nil
}

// Sweep stops every container whose name starts with prefix and returns how
// many were removed.
func (l *Launcher) Sweep(ctx context.Context, prefix string) (int, error) {
	if strings.TrimSpace(prefix) == "" {
		return 0, fmt.Errorf("sweep: empty name prefix")
	}
	list, err := l.api.ContainerList(ctx, container.ListOptions{
		All:     true,
		Filters: filters.NewArgs(filters.Arg("name", prefix)),
	})
	if err != nil {
		return 0, fmt.Errorf("sweep list: %w", err)
	}
	n := 0
	for _, c := range list {
		if !hasNamePrefix(c.Names, prefix) {
			continue
		}
		if err := l.stopAndRemove(ctx, c.ID); err != nil {
			l.log.Warn().Err(err).Strs("names", c.Names).Msg("sweep")
			continue
		}
		n++
	}
	if n > 0 {
		l.log.Warn().Int("removed", n).Str("prefix", prefix).Msg("swept leftover containers")
	}
	return n, nil
}

// The engine reports names with a leading slash and its name filter is a
// substring match, so the prefix is checked here.
func hasNamePrefix(names []string, prefix string) bool {
	for _, n := range names {
		if strings.HasPrefix(strings.TrimPrefix(n, "/"), prefix) {
			return true
		}
	}
	return false
}

func tailLines(r io.Reader, n int) []string {
	var lines []string
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		lines = append(lines, sc.Text())
	}
	if n > 0 && len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return lines
}

func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}
