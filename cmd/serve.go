package main

import (
	"context"
	"fmt"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/hackscraper/hackscraper/internal/api"
)

var (
	servePort        int
	serveNoScheduler bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the polling scheduler and the operator API",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initEnv(ctx, "serve")
		if err != nil {
			return err
		}
		defer env.Close()

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		srv := &http.Server{
			Addr: fmt.Sprintf(":%d", port),
			Handler: api.NewRouter(api.Deps{
				Store:       env.Store,
				Scheduler:   env.Scheduler,
				Reconciler:  env.Reconciler,
				Gatherer:    env.Registry,
				CORSOrigins: cfg.Server.CORSOrigins,
			}),
			ReadHeaderTimeout: 10 * time.Second,
		}

		var wg sync.WaitGroup
		if !serveNoScheduler {
			wg.Add(1)
			go func() {
				defer wg.Done()
				env.Scheduler.Start(ctx, cfg.Scheduler.PollInterval())
			}()
		}

		// Graceful shutdown
		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()

		zap.L().Info("starting server", zap.Int("port", port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			stop()
			wg.Wait()
			return eris.Wrap(err, "server listen")
		}

		// In-flight sources see the cancelled context, roll back, and stay due.
		wg.Wait()
		return nil
	},
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	serveCmd.Flags().BoolVar(&serveNoScheduler, "no-scheduler", false, "serve the API without running due sources")
	rootCmd.AddCommand(serveCmd)
}
