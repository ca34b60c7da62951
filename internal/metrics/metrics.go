// Package metrics serves the Prometheus endpoint, optionally on its own
// listener so scrapes never contend with tile traffic.
package metrics

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Config struct {
	Enabled bool
	// Addr, when set, starts a dedicated listener; empty mounts the
	// handler on the main server only.
	Addr string
	Path string
}

type Provider struct {
	cfg Config
}

func Init(cfg Config) *Provider {
	if cfg.Path == "" {
		cfg.Path = "/metrics"
	}
	return &Provider{cfg: cfg}
}

// Handler exposes the default registry, where all service instruments live.
func (p *Provider) Handler() http.Handler {
	return promhttp.HandlerFor(prometheus.DefaultGatherer, promhttp.HandlerOpts{})
}

// Serve runs the dedicated metrics listener until ctx is cancelled. No-op
// when no separate address is configured.
func (p *Provider) Serve(ctx context.Context, logger *slog.Logger) {
	if !p.cfg.Enabled || p.cfg.Addr == "" {
		return
	}

	mux := http.NewServeMux()
	mux.Handle(p.cfg.Path, p.Handler())

	srv := &http.Server{
		Addr:              p.cfg.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	go func() {
		if logger != nil {
			logger.Info("metrics listen", "addr", p.cfg.Addr, "path", p.cfg.Path)
		}
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			if logger != nil {
				logger.Error("metrics server exited", "err", err)
			}
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
}
