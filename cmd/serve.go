package main

import (
	"context"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/opportunity-planner/internal/monitoring"
	"github.com/sells-group/opportunity-planner/internal/server"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the plan API server",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initPlanner(ctx, "serve")
		if err != nil {
			return err
		}
		defer env.Close()

		watch := monitoring.NewWatch(env.Collector, monitoring.NewAlerter(cfg.Monitoring), cfg.Monitoring)
		go watch.Run(ctx)

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		handler := server.New(env.Planner, env.Collector, cfg.Server, cfg.Monitoring.LookbackWindowHours).
			WithBreaker(env.Planner.Breaker()).
			Handler()

		srv := &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           handler,
			ReadHeaderTimeout: 10 * time.Second,
		}

		// Graceful shutdown
		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout())
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				zap.L().Warn("server shutdown", zap.Error(err))
			}
		}()

		zap.L().Info("starting server", zap.Int("port", port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return eris.Wrap(err, "server listen")
		}

		zap.L().Info("waiting for in-flight jobs")
		return nil
	},
}

func shutdownTimeout() time.Duration {
	if cfg.Server.ShutdownTimeoutSecs <= 0 {
		return 15 * time.Second
	}
	return time.Duration(cfg.Server.ShutdownTimeoutSecs) * time.Second
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}
