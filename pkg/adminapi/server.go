package adminapi

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"go.uber.org/zap"
)

const shutdownTimeout = 5 * time.Second

// Server runs the admin router as a node service.
type Server struct {
	addr    string
	handler http.Handler
	log     *zap.Logger

	onShutdown []func()

	srv *http.Server
	ln  net.Listener
}

func NewServer(addr string, handler http.Handler, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{addr: addr, handler: handler, log: logger}
}

func (s *Server) Name() string { return "admin-api" }

// OnShutdown registers fn to run when Stop begins, before waiting for
// open connections. Must be called before Start.
func (s *Server) OnShutdown(fn func()) {
	s.onShutdown = append(s.onShutdown, fn)
}

// Addr returns the bound address once Start has returned.
func (s *Server) Addr() string {
	if s.ln == nil {
		return s.addr
	}
	return s.ln.Addr().String()
}

// Start binds the listen address and serves in the background. A bind
// failure is returned.
func (s *Server) Start(_ context.Context) error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	s.ln = ln
	s.srv = &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	for _, fn := range s.onShutdown {
		s.srv.RegisterOnShutdown(fn)
	}

	go func() {
		if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("admin api stopped", zap.Error(err))
		}
	}()
	s.log.Info("admin api listening", zap.String("addr", ln.Addr().String()))
	return nil
}

// Stop shuts the server down. Open event streams are cut after the
// shutdown timeout.
func (s *Server) Stop() error {
	if s.srv == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := s.srv.Shutdown(ctx); err != nil {
		return s.srv.Close()
	}
	return nil
}
