package cli

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	httpAdapter "github.com/aretw0/limpopo/pkg/adapters/http"
	"github.com/aretw0/limpopo/pkg/session"
)

// ServeHTTP runs quiz behind the web transport until ctx is cancelled.
// A nil listener listens on the configured address.
func ServeHTTP(ctx context.Context, rt *Runtime, quiz session.QuizFunc, ln net.Listener) error {
	cfg := rt.Config.HTTP
	ctx, cancel := rt.Guard(ctx)
	defer cancel()

	transport := httpAdapter.NewTransport(cfg.OutboxSize, rt.Logger)
	svc, err := rt.NewService(quiz, transport, cfg.Settings, nil)
	if err != nil {
		return err
	}
	defer stopService(svc, rt.Logger)

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpAdapter.NewHandler(svc, transport, httpAdapter.WithMetrics(rt.Registry), httpAdapter.WithLogger(rt.Logger)),
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Channel to listen for errors coming from the listener.
	serverErrors := make(chan error, 1)
	go func() {
		if ln != nil {
			rt.Logger.Info("Starting limpopo HTTP server", "addr", ln.Addr().String())
			serverErrors <- srv.Serve(ln)
			return
		}
		rt.Logger.Info("Starting limpopo HTTP server", "addr", srv.Addr)
		serverErrors <- srv.ListenAndServe()
	}()

	select {
	case err := <-serverErrors:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err

	case <-ctx.Done():
		rt.Logger.Info("Start shutdown...")

		// Give outstanding requests a deadline for completion.
		shutdownCtx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			rt.Logger.Warn("Graceful shutdown did not complete", "timeout", ShutdownTimeout, "err", err)
			if err := srv.Close(); err != nil {
				rt.Logger.Error("Error killing server", "err", err)
			}
		}
		rt.Logger.Info("limpopo HTTP server stopped gracefully")
		return nil
	}
}
