package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/shotonme/shotonme/internal/config"
	"github.com/shotonme/shotonme/internal/stubapi"
	"github.com/shotonme/shotonme/pkg/api"
	"github.com/shotonme/shotonme/pkg/metrics"
	"github.com/shotonme/shotonme/pkg/push"
	"github.com/shotonme/shotonme/pkg/reconcile"
	"github.com/shotonme/shotonme/pkg/toast"
)

// session is the wiring every client command shares.
type session struct {
	cfg      *config.Config
	logger   *slog.Logger
	notifier toast.Notifier
	registry *prometheus.Registry
	metrics  *metrics.Metrics
	client   *api.Client
	viewer   string
}

func newLogger(verbose bool) *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

func openSession(flags *globalFlags) (*session, error) {
	cfg, err := config.Resolve(flags.dir)
	if err != nil {
		return nil, err
	}
	logger := newLogger(flags.verbose)
	slog.SetDefault(logger)

	viewer := cfg.Auth.Viewer
	if viewer == "" {
		viewer = cfg.Auth.Token
	}
	if viewer == "" {
		viewer = stubapi.DefaultUser
		logger.Debug("no viewer configured, using the stub default", "viewer", viewer)
	}

	registry := prometheus.NewRegistry()
	m := metrics.New(metrics.WithNamespace(cfg.Metrics.Namespace), metrics.WithRegistry(registry))

	opts := []api.Option{
		api.WithToken(cfg.Auth.Token),
		api.WithViewer(viewer),
		api.WithTimeout(cfg.Timeout()),
		api.WithMetrics(m),
		api.WithLogger(logger),
	}
	if n := cfg.API.BreakerFailures; n > 0 {
		opts = append(opts, api.WithBreaker(api.BreakerConfig{MaxFailures: uint32(n), OpenFor: api.DefaultBreaker.OpenFor}))
	}
	client, err := api.New(cfg.API.URL, opts...)
	if err != nil {
		return nil, err
	}

	return &session{
		cfg:      cfg,
		logger:   logger,
		notifier: toast.LogNotifier{Logger: logger},
		registry: registry,
		metrics:  m,
		client:   client,
		viewer:   viewer,
	}, nil
}

// reconcileOptions applies the sync settings from the config.
func (s *session) reconcileOptions() []reconcile.Option {
	return []reconcile.Option{
		reconcile.WithBufferTTL(s.cfg.BufferTTL()),
		reconcile.WithMaxBuffered(s.cfg.Sync.MaxBuffered),
		reconcile.WithMetrics(s.metrics),
		reconcile.WithLogger(s.logger),
	}
}

// pushClient returns an unstarted push client for the configured channel.
func (s *session) pushClient() *push.Client {
	return push.New(s.cfg.Push.URL,
		push.WithToken(s.cfg.Auth.Token),
		push.WithReconnectDelay(s.cfg.ReconnectDelay()),
		push.WithMetrics(s.metrics),
		push.WithLogger(s.logger),
	)
}

// serveMetrics exposes the registry on metrics.addr until ctx is done.
func (s *session) serveMetrics(ctx context.Context) {
	if s.cfg.Metrics.Addr == "" {
		return
	}
	serveRegistry(ctx, s.logger, s.cfg.Metrics.Addr, s.registry)
}

func serveRegistry(ctx context.Context, logger *slog.Logger, addr string, reg *prometheus.Registry) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	go func() {
		logger.Info("serving metrics", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server failed", "error", err)
		}
	}()
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}
