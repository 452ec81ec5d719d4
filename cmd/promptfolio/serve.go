package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	mcpserver "github.com/alexsaulik/promptfolio/pkg/mcp"
)

func newServeCmd(c *cli) *cobra.Command {
	var metricsAddr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the flows.* tools over MCP stdio",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if metricsAddr != "" {
				c.cfg.MetricsAddr = metricsAddr
			}
			a, err := c.open(cmd, appOptions{withMetrics: c.cfg.MetricsAddr != "", withNotifier: true})
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			defer a.close(context.WithoutCancel(ctx))

			if a.metrics != nil {
				srv := &http.Server{Addr: c.cfg.MetricsAddr, Handler: metricsMux(a), ReadHeaderTimeout: 5 * time.Second}
				go func() {
					a.logger.Info("metrics listening", "addr", c.cfg.MetricsAddr)
					if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
						a.logger.Error("metrics server", "error", err)
					}
				}()
				defer func() {
					shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
					defer cancel()
					_ = srv.Shutdown(shutdownCtx)
				}()
			}

			s := mcpserver.NewServer(mcpserver.ServerDeps{
				Engine:      a.engine,
				Definitions: a.store,
				Events:      a.store,
				Validator:   a.validator,
				Notifier:    a.notifier,
				Logger:      a.logger,
			})
			a.logger.Info("serving MCP on stdio", "version", version, "run_store", c.cfg.RunStore)
			if err := s.Serve(ctx); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "listen address for /metrics (overrides metrics_addr)")
	return cmd
}

func metricsMux(a *app) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", a.metrics.Handler())
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	return mux
}
