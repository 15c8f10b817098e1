package main

import (
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"taxipred/db"
	qhttp "taxipred/http"
	"taxipred/monitoring"
	"taxipred/predictor"
)

func serveCmd(g *globals) *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve price predictions over HTTP",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := g.setup()
			if err != nil {
				return err
			}
			defer log.Sync()
			if addr != "" {
				cfg.Server.Addr = addr
			}

			registry := monitoring.NewRegistry()
			metrics := monitoring.NewMetrics(registry)

			service, err := predictor.New(predictor.Config{
				ModelPath: cfg.Predictor.ModelPath,
				CacheSize: cfg.Predictor.CacheSize,
				Reload:    cfg.Server.ReloadModel,
			}, log.Named("predictor"), metrics)
			if err != nil {
				return err
			}
			defer service.Close()

			deps := qhttp.Dependencies{
				Predictor: service,
				Metrics:   metrics,
				Gatherer:  registry,
				Logger:    log.Named("http"),
			}

			// The prediction and training logs are optional.
			if cfg.Database.Path != "" {
				store, err := db.Open(cfg.Database.Path)
				if err != nil {
					log.Warn("database unavailable, prediction log disabled",
						zap.String("path", cfg.Database.Path), zap.Error(err))
				} else {
					defer store.Close()
					deps.Runs = store
					deps.Recorder = store
					log.Info("database initialized", zap.String("path", cfg.Database.Path))
				}
			}

			server := qhttp.NewServer(qhttp.ServerConfig{
				Addr:           cfg.Server.Addr,
				Timeout:        cfg.Server.Timeout,
				MaxBodyBytes:   cfg.Server.MaxBodyBytes,
				AllowedOrigins: cfg.Server.AllowedOrigins,
			}, deps)

			errCh := make(chan error, 1)
			go func() {
				errCh <- server.Start()
			}()

			quit := make(chan os.Signal, 1)
			signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
			defer signal.Stop(quit)

			select {
			case err := <-errCh:
				if err != nil {
					return err
				}
				return errors.New("HTTP server stopped unexpectedly")
			case sig := <-quit:
				log.Info("shutting down", zap.String("signal", sig.String()))
			}

			if err := server.Stop(); err != nil {
				log.Warn("server forced to shutdown", zap.Error(err))
			}
			log.Info("exiting")
			return nil
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "Listen address; overrides server.addr")
	return cmd
}
