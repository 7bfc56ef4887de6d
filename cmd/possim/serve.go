package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/warp/stock-engine/api"
)

// ServeOptions holds flags for the serve command.
type ServeOptions struct {
	*RootOptions
	Port int
	// SyncOnStart realigns sequences before accepting traffic.
	SyncOnStart bool
}

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ServeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API",
		Long: `Start the HTTP API.

On SIGINT/SIGTERM the server stops accepting connections, waits up to 30s
for active requests, then closes the database.

Example:
  possim serve --db ./possim.db --port 3000
  possim serve --driver memory`,
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), opts)
		},
	}

	cmd.Flags().IntVar(&opts.Port, "port", 0, "HTTP port (overrides config)")
	cmd.Flags().BoolVar(&opts.SyncOnStart, "sync-sequences", true, "realign id sequences before serving")

	return cmd
}

func runServe(ctx context.Context, opts *ServeOptions) error {
	if ctx == nil {
		ctx = context.Background()
	}
	a, err := opts.open(ctx, nil)
	if err != nil {
		return err
	}
	defer a.close()

	if opts.SyncOnStart {
		next, err := a.eng.SyncSequences(ctx)
		if err != nil {
			return fmt.Errorf("sync sequences: %w", err)
		}
		a.log.WithField("sequences", len(next)).Info("sequences synced")
	}

	port := a.cfg.Server.Port
	if opts.Port > 0 {
		port = opts.Port
	}

	handler := api.NewHandler(a.eng, a.log)
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      api.NewRouter(handler, a.cfg.Server.CORSOrigins),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		a.log.WithField("port", port).Info("server starting")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
		close(errc)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	select {
	case err, ok := <-errc:
		if ok {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	case <-quit:
	}

	a.log.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}
	a.log.Info("server stopped")
	return nil
}
