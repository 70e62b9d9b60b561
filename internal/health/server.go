package health

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"sort"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

const (
	defaultCheckTimeout   = 200 * time.Millisecond
	defaultHandlerTimeout = 500 * time.Millisecond
)

// ErrNotReady is reported by Ready checks whose component is not ready.
var ErrNotReady = errors.New("not ready")

// Check reports whether a dependency is usable. It must honour ctx.
type Check func(ctx context.Context) error

// Readier is implemented by the Kafka producer and consumer.
type Readier interface {
	IsReady() bool
}

// Ready adapts a Readier to a Check.
func Ready(r Readier) Check {
	return func(context.Context) error {
		if r == nil || !r.IsReady() {
			return ErrNotReady
		}
		return nil
	}
}

// Option customises the server.
type Option func(*Server)

// WithCheckTimeout bounds every individual readiness check.
func WithCheckTimeout(d time.Duration) Option {
	return func(s *Server) {
		if d > 0 {
			s.checkTimeout = d
		}
	}
}

// WithHandlerTimeout bounds a whole /readyz request.
func WithHandlerTimeout(d time.Duration) Option {
	return func(s *Server) {
		if d > 0 {
			s.handlerTimeout = d
		}
	}
}

// Server exposes /healthz and /readyz over HTTP.
type Server struct {
	logger         zerolog.Logger
	checks         map[string]Check
	checkTimeout   time.Duration
	handlerTimeout time.Duration

	router *gin.Engine
	srv    *http.Server
}

// NewServer builds a health server listening on addr.
func NewServer(addr string, checks map[string]Check, logger zerolog.Logger, opts ...Option) *Server {
	if reflect.ValueOf(logger).IsZero() {
		logger = zerolog.Nop()
	}

	gin.SetMode(gin.ReleaseMode)

	s := &Server{
		logger:         logger,
		checks:         checks,
		checkTimeout:   defaultCheckTimeout,
		handlerTimeout: defaultHandlerTimeout,
		router:         gin.New(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}

	s.router.Use(gin.Recovery())
	s.router.GET("/healthz", s.liveness)
	s.router.GET("/readyz", s.readiness)

	s.srv = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Handler returns the HTTP handler, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// ListenAndServe serves until Shutdown is called.
func (s *Server) ListenAndServe() error {
	s.logger.Info().Str("addr", s.srv.Addr).Msg("health server listening")
	if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("health server: %w", err)
	}
	return nil
}

// Shutdown stops the server gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

func (s *Server) liveness(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) readiness(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), s.handlerTimeout)
	defer cancel()

	results := s.runChecks(ctx)

	status := http.StatusOK
	body := gin.H{"status": "ready", "checks": results}
	for name, res := range results {
		if res != "ok" {
			status = http.StatusServiceUnavailable
			body["status"] = "not_ready"
			s.logger.Warn().Str("check", name).Str("result", res).Msg("readiness check failed")
		}
	}
	c.JSON(status, body)
}

func (s *Server) runChecks(ctx context.Context) map[string]string {
	names := make([]string, 0, len(s.checks))
	for name := range s.checks {
		names = append(names, name)
	}
	sort.Strings(names)

	var (
		mu      sync.Mutex
		wg      sync.WaitGroup
		results = make(map[string]string, len(names))
	)
	for _, name := range names {
		wg.Add(1)
		go func(name string, check Check) {
			defer wg.Done()
			res := s.runCheck(ctx, check)
			mu.Lock()
			results[name] = res
			mu.Unlock()
		}(name, s.checks[name])
	}
	wg.Wait()
	return results
}

func (s *Server) runCheck(ctx context.Context, check Check) string {
	ctx, cancel := context.WithTimeout(ctx, s.checkTimeout)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- check(ctx) }()

	select {
	case err := <-done:
		if err != nil {
			return err.Error()
		}
		return "ok"
	case <-ctx.Done():
		return "timeout"
	}
}
