package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/chinmina/sessiongate/internal/config"
)

// Serve runs srv until ctx is cancelled or the process receives SIGINT or
// SIGTERM. It then stops accepting requests, waits for in-flight requests to
// complete and runs the shutdown hooks, all within the configured shutdown
// timeout. The hooks also run if the server fails to start.
func Serve(ctx context.Context, cfg config.ServerConfig, srv *http.Server, hooks *ShutdownHooks) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	serveErr := make(chan error, 1)
	go func() {
		log.Info().Str("addr", srv.Addr).Msg("server: listening")
		serveErr <- srv.ListenAndServe()
	}()

	var err error
	select {
	case err = <-serveErr:
		// the server stopped without being asked to
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		} else {
			err = fmt.Errorf("server failed: %w", err)
		}
	case <-ctx.Done():
		log.Info().Msg("server: shutting down")
	}

	timeout := time.Duration(cfg.ShutdownTimeoutSeconds) * time.Second
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
	defer cancel()

	if err == nil {
		if shutdownErr := srv.Shutdown(shutdownCtx); shutdownErr != nil {
			err = fmt.Errorf("server shutdown failed: %w", shutdownErr)
		}
	}

	return errors.Join(err, hooks.Execute(shutdownCtx))
}
