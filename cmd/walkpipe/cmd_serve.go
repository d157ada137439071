package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"walkpipe/internal/logging"
	"walkpipe/internal/telemetry"
	"walkpipe/internal/walkmcp"
)

func newServeCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the MCP server over stdio",
		Long: `Starts an MCP server over stdin/stdout exposing run_pipeline,
list_walkers and describe_walker against the configured snapshot.

With --metrics-addr, pipeline metrics are served in Prometheus format at
/metrics on that address. The server exits when its parent process does.`,
		Args: cobra.NoArgs,
		RunE: a.runServe,
	}
	cmd.Flags().String("metrics-addr", "", "listen address for /metrics (empty disables)")
	return cmd
}

func (a *app) runServe(cmd *cobra.Command, _ []string) error {
	log := logging.New("serve")
	reg := prometheus.NewRegistry()
	metrics := telemetry.New(reg)
	sess, err := a.openSession(cmd.Context(), metrics)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	if addr := a.cfg.Serve.MetricsAddr; addr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", telemetry.Handler(reg))
		srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error("metrics listener failed", "addr", addr, "error", err)
			}
		}()
		defer func() {
			shutdownCtx, done := context.WithTimeout(context.Background(), 2*time.Second)
			defer done()
			_ = srv.Shutdown(shutdownCtx)
		}()
		log.Info("serving metrics", "addr", addr)
	}

	server := walkmcp.NewServer(sess.Registry, sess.Snapshot, version, sess.Options()...)
	walkmcp.WatchParent(ctx, cancel, 2*time.Second)

	log.Info("starting walkpipe MCP server over stdio (parent watchdog active)")
	return server.Run(ctx)
}
