// Package genserver is the Scheduler API's HTTP process boundary (§6): an
// echo server exposing generate(...) as POST /generate and job progress as
// GET /jobs/:id, built the way the teacher's internal/spaserver builds its
// own echo server.
package genserver

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"
)

const (
	_defaultAddr            = "127.0.0.1:8888"
	_defaultShutdownTimeout = 5 * time.Second
)

// Server wraps an echo.Echo the same way the teacher's spaserver.Server
// does: addr, a buffered notify channel for Start's async error, and a
// bounded shutdown timeout.
type Server struct {
	server          *echo.Echo
	addr            string
	notify          chan error
	shutdownTimeout time.Duration
	jobs            *jobStore
	log             *zap.Logger
}

// New builds a Server listening on host:port (or the package default when
// port is empty) and registers its routes.
func New(host, port string, log *zap.Logger) (*Server, error) {
	addr := fmt.Sprintf("%s:%s", host, port)
	if port == "" {
		addr = _defaultAddr
	}
	if log == nil {
		log = zap.NewNop()
	}

	e := echo.New()
	e.Logger.SetOutput(io.Discard)

	e.Use(
		requestLogger(log),
		requestRecover(log),
	)
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins:     []string{"*"},
		AllowHeaders:     []string{echo.HeaderContentType, echo.HeaderAuthorization, echo.HeaderXCSRFToken},
		AllowCredentials: true,
		AllowMethods:     []string{http.MethodGet, http.MethodPost},
	}))

	s := &Server{
		server:          e,
		addr:            addr,
		notify:          make(chan error, 1),
		shutdownTimeout: _defaultShutdownTimeout,
		jobs:            newJobStore(),
		log:             log,
	}

	if err := s.Routes(); err != nil {
		return nil, fmt.Errorf("genserver: new: routes: %w", err)
	}
	return s, nil
}

func (s *Server) Start() {
	go func() {
		s.notify <- s.server.Start(s.addr)
		close(s.notify)
	}()
}

func (s *Server) Notify() <-chan error {
	return s.notify
}

func (s *Server) Shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
	defer cancel()
	return s.server.Shutdown(ctx)
}

func (s *Server) Echo() *echo.Echo {
	return s.server
}
