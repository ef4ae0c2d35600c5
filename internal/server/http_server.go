package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/rs/zerolog"
)

const (
	httpReadTimeout       = 15 * time.Second
	httpReadHeaderTimeout = 5 * time.Second
	httpWriteTimeout      = 15 * time.Second
	httpIdleTimeout       = 60 * time.Second
)

// CreateServer wraps handler in an http.Server bound to addr. Upgraded
// connections leave the server's deadlines behind once hijacked.
func CreateServer(addr string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadTimeout:       httpReadTimeout,
		ReadHeaderTimeout: httpReadHeaderTimeout,
		WriteTimeout:      httpWriteTimeout,
		IdleTimeout:       httpIdleTimeout,
	}
}

// StartServer blocks serving addr. It returns nil after Shutdown.
func StartServer(server *http.Server, log zerolog.Logger) error {
	log.Info().Str("addr", server.Addr).Msg("listening")

	err := server.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// ShutdownServer stops accepting requests and waits up to timeout for
// in-flight ones. WebSocket sessions are closed by the hub, not here.
func ShutdownServer(server *http.Server, timeout time.Duration, log zerolog.Logger) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	start := time.Now()
	if err := server.Shutdown(ctx); err != nil {
		log.Error().Err(err).Dur("waited", time.Since(start)).Msg("http shutdown incomplete")
		return err
	}
	log.Info().Dur("took", time.Since(start)).Msg("http server stopped")
	return nil
}
