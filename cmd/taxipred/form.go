package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"taxipred/form"
)

func formCmd(g *globals) *cobra.Command {
	var backendURL string

	cmd := &cobra.Command{
		Use:   "form",
		Short: "Serve the trip form that calls the prediction service",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := g.setup()
			if err != nil {
				return err
			}
			defer log.Sync()
			if backendURL != "" {
				cfg.Form.BackendURL = backendURL
			}

			app := form.NewApp(form.NewClient(cfg.Form.BackendURL, cfg.Form.Timeout), log.Named("form"))
			server := &http.Server{
				Addr:              cfg.Form.Addr,
				Handler:           app.Router(),
				ReadHeaderTimeout: 10 * time.Second,
				WriteTimeout:      cfg.Form.Timeout + 5*time.Second,
			}

			errCh := make(chan error, 1)
			go func() {
				log.Info("starting form server",
					zap.String("addr", cfg.Form.Addr),
					zap.String("backend_url", cfg.Form.BackendURL))
				if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					errCh <- err
				}
				close(errCh)
			}()

			quit := make(chan os.Signal, 1)
			signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
			defer signal.Stop(quit)

			select {
			case err, ok := <-errCh:
				if ok {
					return err
				}
				return nil
			case <-quit:
			}

			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return server.Shutdown(ctx)
		},
	}

	cmd.Flags().StringVar(&backendURL, "backend-url", "", "Prediction service URL; overrides form.backend_url")
	return cmd
}
