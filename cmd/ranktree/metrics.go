package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/ricesearch/rank-tree/internal/bus"
	"github.com/ricesearch/rank-tree/internal/metrics"
	apperrors "github.com/ricesearch/rank-tree/internal/pkg/errors"
	"github.com/ricesearch/rank-tree/internal/pkg/middleware"
)

func metricsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "metrics",
		Short: "Compute metrics from the event journal",
		Long: `Replay the bus journal into Prometheus metrics and print them in the
text exposition format, or serve them on --listen until interrupted.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			since, _ := cmd.Flags().GetDuration("since")
			listen, _ := cmd.Flags().GetString("listen")
			rps, _ := cmd.Flags().GetFloat64("rate-limit")

			svc, _, err := openService(cmd)
			if err != nil {
				return err
			}
			defer svc.Close()

			jb, ok := svc.Bus().(*bus.JournaledBus)
			if !ok {
				return apperrors.ValidationError("no bus journal configured")
			}

			ctx := cmd.Context()
			log := svc.Logger()
			m := metrics.New()

			replay := bus.NewMemoryBus(log)
			if err := metrics.NewEventSubscriber(m, replay, log).SubscribeToEvents(ctx); err != nil {
				replay.Close()
				return err
			}
			var from time.Time
			if since > 0 {
				from = time.Now().Add(-since)
			}
			err = jb.Journal().Replay(ctx, replay, from)
			replay.Close()
			if err != nil {
				return err
			}

			if listen == "" {
				return m.WriteText(cmd.OutOrStdout())
			}

			limiter := middleware.NewRateLimiter(middleware.RateLimiterConfig{
				RequestsPerSecond: rps,
				Burst:             int(2 * rps),
			})
			defer limiter.Stop()

			mux := http.NewServeMux()
			mux.Handle("/metrics", limiter.Middleware(m.Handler()))
			srv := &http.Server{
				Addr:              listen,
				Handler:           mux,
				ReadHeaderTimeout: 5 * time.Second,
			}

			errCh := make(chan error, 1)
			go func() {
				log.Info("serving metrics", "addr", listen)
				errCh <- srv.ListenAndServe()
			}()

			select {
			case err := <-errCh:
				if errors.Is(err, http.ErrServerClosed) {
					return nil
				}
				return err
			case <-ctx.Done():
			}

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	}

	cmd.Flags().Duration("since", 0, "only replay events newer than this (e.g. 24h)")
	cmd.Flags().String("listen", "", "serve /metrics on this address instead of printing")
	cmd.Flags().Float64("rate-limit", middleware.DefaultRateLimiterConfig().RequestsPerSecond, "scrape requests per second allowed per client")

	return cmd
}
