package e2e

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strconv"
	"sync"
	"testing"
	"time"

	"modelprobe/internal/container"
	"modelprobe/pkg/types"
)

// behavior scripts one in-process backend.
type behavior struct {
	// readyAfter is how long /health keeps answering 503.
	readyAfter time.Duration
	// never makes /health fail for the whole attempt.
	never bool
	// logs are returned by the launcher once the backend starts.
	logs []string
	// content is the chat completion text; empty simulates a broken model.
	content string
}

// processLauncher starts an HTTP server per spec on the spec's port instead
// of a container, so the real poller and verifier can run against it.
type processLauncher struct {
	mu        sync.Mutex
	behaviors map[string]behavior
	servers   map[string]*http.Server
	started   map[string]time.Time
	starts    []string
	stops     map[string]int
	maxAlive  int
}

func newProcessLauncher() *processLauncher {
	return &processLauncher{
		behaviors: map[string]behavior{},
		servers:   map[string]*http.Server{},
		started:   map[string]time.Time{},
		stops:     map[string]int{},
	}
}

func (p *processLauncher) Start(ctx context.Context, spec types.ModelSpec) (container.Handle, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.starts = append(p.starts, spec.ID)
	b := p.behaviors[spec.ID]
	ln, err := net.Listen("tcp", "127.0.0.1:"+strconv.Itoa(spec.Port))
	if err != nil {
		return container.Handle{}, &container.LaunchError{Model: spec.ID, Op: "start", Err: err}
	}
	begun := time.Now()
	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		if b.never || time.Since(begun) < b.readyAfter {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/v1/chat/completions", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Model string `json:"model"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)
		if req.Model != spec.ID {
			http.Error(w, "unknown model "+req.Model, http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{{"message": map[string]string{"role": "assistant", "content": b.content}}},
		})
	})
	srv := &http.Server{Handler: mux}
	go func() { _ = srv.Serve(ln) }()
	p.servers[spec.ContainerName] = srv
	p.started[spec.ContainerName] = begun
	if len(p.servers) > p.maxAlive {
		p.maxAlive = len(p.servers)
	}
	return container.Handle{ID: "proc-" + spec.ID, Name: spec.ContainerName, Model: spec.ID, Port: spec.Port}, nil
}

func (p *processLauncher) Stop(ctx context.Context, h container.Handle) error {
	p.mu.Lock()
	srv := p.servers[h.Name]
	delete(p.servers, h.Name)
	p.stops[h.Model]++
	p.mu.Unlock()
	if srv == nil {
		return nil
	}
	if err := srv.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (p *processLauncher) Logs(ctx context.Context, h container.Handle, n int) ([]string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string{"INFO starting backend for " + h.Model}, p.behaviors[h.Model].logs...), nil
}

func (p *processLauncher) Running(ctx context.Context, h container.Handle) (bool, int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.servers[h.Name]
	if !ok {
		return false, -1, nil
	}
	return true, 0, nil
}

func (p *processLauncher) Sweep(ctx context.Context, prefix string) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.servers), nil
}

// freePort reserves a local port and releases it for the backend to bind.
func freePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()
	return ln.Addr().(*net.TCPAddr).Port
}
