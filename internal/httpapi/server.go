package httpapi

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"modelprobe/internal/orchestrator"
	"modelprobe/pkg/types"
)

// Service is the read-only view of a run served over HTTP.
// *orchestrator.Scheduler implements it.
type Service interface {
	Status() types.StatusResponse
	LedgerDocument() (types.LedgerDocument, bool)
}

// EventSource returns recent lifecycle events. *orchestrator.RingPublisher
// implements it.
type EventSource interface {
	Recent(n int) []orchestrator.Event
}

const defaultEventLimit = 100

// NewMux builds the status router. events may be nil, in which case /events
// always returns an empty list. gatherer backs /metrics; nil uses the
// default registry.
func NewMux(svc Service, events EventSource, gatherer prometheus.Gatherer) http.Handler {
	r := chi.NewRouter()
	// Basic middlewares: request id, real ip, recoverer
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger)
	r.Use(MetricsMiddleware)
	if corsEnabled {
		origins, methods, headers := corsDefaults()
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: origins,
			AllowedMethods: methods,
			AllowedHeaders: headers,
			ExposedHeaders: []string{"X-Request-Id"},
			MaxAge:         300,
		}))
	}
	// Security headers
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("X-Content-Type-Options", "nosniff")
			next.ServeHTTP(w, r)
		})
	})

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	// readyz turns 200 once the run has finished, so CI jobs can wait on it.
	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if svc.Status().State == orchestrator.RunDone {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("done"))
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("running"))
	})

	r.Get("/status", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, svc.Status())
	})

	r.Get("/ledger", func(w http.ResponseWriter, r *http.Request) {
		doc, ok := svc.LedgerDocument()
		if !ok {
			writeJSONError(w, http.StatusNotFound, "no run has started")
			return
		}
		writeJSON(w, doc)
	})

	r.Get("/events", func(w http.ResponseWriter, r *http.Request) {
		n := defaultEventLimit
		if v := r.URL.Query().Get("n"); v != "" {
			parsed, err := strconv.Atoi(v)
			if err != nil || parsed < 0 {
				writeJSONError(w, http.StatusBadRequest, "n must be a non-negative integer")
				return
			}
			n = parsed
		}
		out := []orchestrator.Event{}
		if events != nil {
			out = append(out, events.Recent(n)...)
		}
		writeJSON(w, map[string]any{"events": out})
	})

	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	return r
}

// Serve runs an HTTP server on addr until ctx is cancelled, then shuts it
// down within five seconds.
func Serve(ctx context.Context, addr string, h http.Handler) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return serveListener(ctx, ln, h)
}

func serveListener(ctx context.Context, ln net.Listener, h http.Handler) error {
	srv := &http.Server{Handler: h, ReadHeaderTimeout: 10 * time.Second}
	errCh := make(chan error, 1)
	go func() {
		zlog.Info().Str("addr", ln.Addr().String()).Msg("status server listening")
		errCh <- srv.Serve(ln)
	}()
	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}
	sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(sctx); err != nil {
		zlog.Warn().Err(err).Msg("graceful shutdown error")
		return err
	}
	return nil
}
