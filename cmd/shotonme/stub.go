package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/shotonme/shotonme/internal/config"
	"github.com/shotonme/shotonme/internal/stubapi"
	"github.com/shotonme/shotonme/pkg/middleware"
)

func stubCmd(flags *globalFlags) *cobra.Command {
	var (
		addr    string
		balance int64
	)

	cmd := &cobra.Command{
		Use:   "stub",
		Short: "Run an in-memory backend",
		Long: `Run an in-memory backend that speaks the REST and push protocol.

It is seeded with four users (u1 to u4), a group chat, two venues and a
post. The bearer token is taken as the user id; requests without one act
as u1.

Examples:
  shotonme stub
  shotonme stub --addr=:9090 --balance=1000`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStub(flags, addr, balance)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "Listen address (default from config)")
	cmd.Flags().Int64Var(&balance, "balance", 0, "Starting wallet balance in cents")

	return cmd
}

func runStub(flags *globalFlags, addr string, balance int64) error {
	cfg, err := config.Resolve(flags.dir)
	if err != nil {
		return err
	}
	if addr == "" {
		addr = cfg.Stub.Addr
	}
	if balance == 0 {
		balance = cfg.Stub.StartingBalanceCents
	}
	logger := newLogger(flags.verbose)

	registry := prometheus.NewRegistry()
	m := middleware.NewMetrics(
		middleware.WithNamespace(cfg.Metrics.Namespace),
		middleware.WithRegistry(registry),
	)
	srv := stubapi.New(
		stubapi.WithLogger(logger),
		stubapi.WithMetrics(m),
		stubapi.WithStartingBalance(balance),
	)

	ctx, cancel := signalContext()
	defer cancel()
	if cfg.Metrics.Addr != "" {
		serveRegistry(ctx, logger, cfg.Metrics.Addr, registry)
	}

	httpSrv := &http.Server{Addr: addr, Handler: srv.Handler(), ReadHeaderTimeout: 5 * time.Second}
	errCh := make(chan error, 1)
	go func() { errCh <- httpSrv.ListenAndServe() }()

	success("Stub backend listening on %s", addr)
	info("API:  http://%s/api", addr)
	info("Push: ws://%s/ws", addr)
	fmt.Println()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	fmt.Println("\n  Shutting down...")
	shutdownCtx, stop := context.WithTimeout(context.Background(), 5*time.Second)
	defer stop()
	return httpSrv.Shutdown(shutdownCtx)
}
