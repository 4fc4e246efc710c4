package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/redbco/redb-desk/internal/database"
	"github.com/redbco/redb-desk/internal/profiles"
	"github.com/redbco/redb-desk/internal/streaming"
	"github.com/redbco/redb-desk/internal/tunnel"
	"github.com/redbco/redb-desk/pkg/config"
	"github.com/redbco/redb-desk/pkg/keyring"
	"github.com/redbco/redb-desk/pkg/logger"
)

// app wires the data-access core for one CLI invocation.
type app struct {
	cfg      *config.Config
	log      *logger.Logger
	profiles *profiles.Store
	hub      *streaming.Hub
	manager  *database.Manager
	registry *prometheus.Registry
	metrics  *http.Server
}

func newApp(cfg *config.Config) (*app, error) {
	log := logger.New("redb-desk", Version)
	level, err := logger.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, err
	}
	log.SetLevel(level)

	if err := os.MkdirAll(cfg.DataDir, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}
	secrets := keyring.NewKeyringManager(cfg.KeyringPath(), keyring.GetMasterPasswordFromEnv())
	if secrets.UsesFile() {
		log.Debug("System keyring unavailable, using %s", cfg.KeyringPath())
	}

	store, err := profiles.Open(cfg.ProfileDBPath(), secrets)
	if err != nil {
		return nil, err
	}
	store.SetLogger(log)

	a := &app{cfg: cfg, log: log, profiles: store}

	var metrics *database.Metrics
	if cfg.Metrics.Enabled {
		a.registry = prometheus.NewRegistry()
		metrics = database.NewMetrics(a.registry)
	}

	negotiator := tunnel.NewNegotiator(
		tunnel.WithTimeout(cfg.Tunnel.Timeout),
		tunnel.WithKeepAlive(cfg.Tunnel.KeepAlive),
		tunnel.WithKnownHosts(cfg.Tunnel.KnownHostsFile),
		tunnel.WithLogger(log),
	)

	sessions := database.NewSessionManager(database.NewDefaultRegistry(cfg), negotiator)
	sessions.SetConnectTimeout(cfg.Timeouts.Connect)
	sessions.SetDisconnectTimeout(cfg.Timeouts.Disconnect)

	hubOpts := []streaming.Option{
		streaming.WithBufferSize(cfg.Streaming.BufferSize),
		streaming.WithLogger(log),
	}
	if metrics != nil {
		hubOpts = append(hubOpts, streaming.WithDropFunc(metrics.MessageDropped))
	}
	a.hub = streaming.NewHub(hubOpts...)

	a.manager = database.NewManager(sessions, a.hub)
	a.manager.SetLogger(log)
	a.manager.SetProfileStore(store)
	a.manager.SetOperationTimeout(cfg.Timeouts.Operation)
	a.manager.SetMetrics(metrics)
	return a, nil
}

// serveMetrics exposes /metrics while a long-running command is active.
func (a *app) serveMetrics() {
	if a.registry == nil || a.cfg.Metrics.Address == "" {
		return
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(a.registry, promhttp.HandlerOpts{EnableOpenMetrics: true}))
	a.metrics = &http.Server{
		Addr:              a.cfg.Metrics.Address,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := a.metrics.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.log.Warn("Metrics server stopped: %v", err)
		}
	}()
	a.log.Info("Serving metrics on http://%s/metrics", a.cfg.Metrics.Address)
}

// close tears down sessions, listeners and the profile database.
func (a *app) close() {
	ctx, cancel := context.WithTimeout(context.Background(), a.cfg.Timeouts.Disconnect)
	defer cancel()

	a.manager.DisconnectAll(ctx)
	a.hub.Close()
	if a.metrics != nil {
		_ = a.metrics.Shutdown(ctx)
	}
	if err := a.profiles.Close(); err != nil {
		a.log.Warn("Failed to close profile database: %v", err)
	}
}

// withApp runs fn with a fully wired app and tears it down afterwards.
func withApp(fn func(a *app) error) error {
	a, err := newApp(cfg)
	if err != nil {
		return err
	}
	defer a.close()
	return fn(a)
}
