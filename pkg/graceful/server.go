// Package graceful runs an HTTP server until its context ends.
package graceful

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"
)

const defaultShutdownTimeout = 10 * time.Second

// Server ties an http.Server to a context: cancelling the context drains
// open connections for at most the shutdown timeout.
type Server struct {
	srv     *http.Server
	log     *slog.Logger
	timeout time.Duration
}

func NewServer(log *slog.Logger, srv *http.Server, shutdownTimeout time.Duration) *Server {
	if log == nil {
		log = slog.Default()
	}
	if shutdownTimeout <= 0 {
		shutdownTimeout = defaultShutdownTimeout
	}
	return &Server{
		srv:     srv,
		log:     log.With(slog.String("component", "http")),
		timeout: shutdownTimeout,
	}
}

// ListenAndServe binds synchronously so a busy port fails fast, then serves
// until ctx ends. A clean shutdown returns nil.
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.srv.Addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve is ListenAndServe on an existing listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	g, gctx := errgroup.WithContext(ctx)
	stopped := make(chan struct{})

	g.Go(func() error {
		defer close(stopped)
		s.log.Info("http server listening", slog.String("addr", ln.Addr().String()))
		if err := s.srv.Serve(ln); !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("http server error", slog.Any("error", err))
			return err
		}
		return nil
	})

	g.Go(func() error {
		select {
		case <-stopped:
			return nil
		case <-gctx.Done():
		}

		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.timeout)
		defer cancel()

		s.log.Info("draining http server", slog.Duration("timeout", s.timeout))
		return s.srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}
