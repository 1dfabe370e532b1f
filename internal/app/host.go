// Package app wires configuration into runnable call endpoints and the
// signaling hub.
package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/hasnaatmalik/voca-coach-sub002/internal/config"
	"github.com/hasnaatmalik/voca-coach-sub002/internal/signaling"
	"github.com/hasnaatmalik/voca-coach-sub002/internal/util"
)

const shutdownTimeout = 5 * time.Second

// Hub is the signaling server: hub, optional Redis fan-out and metrics.
type Hub struct {
	*signaling.Hub

	cfg    config.ServerConfig
	broker *signaling.RedisBroker
	mux    *http.ServeMux
}

// NewHub builds the hub described by cfg.
func NewHub(ctx context.Context, cfg config.ServerConfig) (*Hub, error) {
	opts := signaling.HubOptions{MaxConns: cfg.MaxConns}

	var broker *signaling.RedisBroker
	if cfg.Redis.Addr != "" {
		var err error
		broker, err = signaling.NewRedisBroker(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			return nil, err
		}
		opts.Broker = broker
		util.LogInfo("redis fan-out enabled via %s", cfg.Redis.Addr)
	}

	h := signaling.NewHub(opts)
	mux := http.NewServeMux()
	mux.Handle(cfg.Path, h)
	mux.Handle(cfg.MetricsPath, promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = fmt.Fprintf(w, "ok %d\n", h.Members())
	})

	return &Hub{Hub: h, cfg: cfg, broker: broker, mux: mux}, nil
}

// Handler returns the HTTP handler serving the hub and metrics.
func (h *Hub) Handler() http.Handler { return h.mux }

// Serve runs the hub on ln until ctx is done.
func (h *Hub) Serve(ctx context.Context, ln net.Listener) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	srv := &http.Server{Handler: h.mux, ReadHeaderTimeout: 10 * time.Second}

	runErr := make(chan error, 1)
	go func() { runErr <- h.Hub.Run(ctx) }()

	serveErr := make(chan error, 1)
	go func() { serveErr <- srv.Serve(ln) }()

	util.LogSuccess("signaling hub listening on %s%s (metrics %s)", ln.Addr(), h.cfg.Path, h.cfg.MetricsPath)

	var err error
	select {
	case <-ctx.Done():
	case err = <-serveErr:
	case err = <-runErr:
	}
	cancel()

	shutdownCtx, stop := context.WithTimeout(context.Background(), shutdownTimeout)
	defer stop()
	if sErr := srv.Shutdown(shutdownCtx); sErr != nil && !errors.Is(sErr, http.ErrServerClosed) {
		err = errors.Join(err, sErr)
	}
	if h.broker != nil {
		err = errors.Join(err, h.broker.Close())
	}
	if errors.Is(err, http.ErrServerClosed) {
		err = nil
	}
	return err
}

// RunHub listens on cfg.Listen and serves until ctx is done.
func RunHub(ctx context.Context, cfg config.ServerConfig) error {
	h, err := NewHub(ctx, cfg)
	if err != nil {
		return err
	}
	ln, err := net.Listen("tcp", cfg.Listen)
	if err != nil {
		return fmt.Errorf("failed to start signaling server: %w", err)
	}
	return h.Serve(ctx, ln)
}
