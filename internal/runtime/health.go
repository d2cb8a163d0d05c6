package runtime

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	jsoncodec "github.com/drblury/subserver/internal/runtime/jsoncodec"
	loggingpkg "github.com/drblury/subserver/internal/runtime/logging"
)

// HealthResponse is the body served on /health.
const HealthResponse = "Subserver Online"

// HealthHandler routes /health, /status and, when metrics are enabled,
// /metrics.
func (s *Service) HealthHandler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte(HealthResponse))
	})
	r.Get("/status", func(w http.ResponseWriter, _ *http.Request) {
		body, err := jsoncodec.Marshal(s.Launcher().Status())
		if err != nil {
			s.Logger.Error("Failed to encode status", err, nil)
			http.Error(w, "failed to encode status", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(body)
	})
	if s.Conf.MetricsEnabled {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}
	return r
}

// HealthServer serves HealthHandler on a TCP address.
type HealthServer struct {
	srv    *http.Server
	ln     net.Listener
	logger loggingpkg.ServiceLogger
	done   chan struct{}
}

// StartHealthServer listens on addr and serves in the background.
func (s *Service) StartHealthServer(addr string) (*HealthServer, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	hs := &HealthServer{
		srv: &http.Server{
			Handler:           s.HealthHandler(),
			ReadHeaderTimeout: 5 * time.Second,
		},
		ln:     ln,
		logger: s.Logger,
		done:   make(chan struct{}),
	}
	s.Logger.Info("Starting health server", loggingpkg.LogFields{"address": ln.Addr().String()})
	go func() {
		defer close(hs.done)
		if err := hs.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.Logger.Error("Health server stopped", err, loggingpkg.LogFields{"address": ln.Addr().String()})
		}
	}()
	return hs, nil
}

// Addr returns the address the server listens on.
func (h *HealthServer) Addr() string {
	return h.ln.Addr().String()
}

// Shutdown stops the server, waiting for open requests until ctx ends.
func (h *HealthServer) Shutdown(ctx context.Context) error {
	err := h.srv.Shutdown(ctx)
	<-h.done
	return err
}
