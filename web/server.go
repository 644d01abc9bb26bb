package web

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/infigaming-com/substreams-sink-pubsub/cursor"
	"github.com/infigaming-com/substreams-sink-pubsub/web/middleware"
)

// Reporter exposes the sink state served on the ops endpoints.
type Reporter interface {
	Ready() bool
	Cursor() *cursor.Cursor
	Processed() uint64
}

type Server struct {
	lg       *zap.Logger
	engine   *gin.Engine
	server   *http.Server
	mode     string
	port     int64
	reporter Reporter
	handlers []gin.HandlerFunc
	errc     chan error
}

type Option func(*Server)

func defaultServer() *Server {
	return &Server{
		mode: gin.ReleaseMode,
		port: 8080,
	}
}

func WithMode(mode string) Option {
	return func(s *Server) {
		s.mode = mode
	}
}

// WithPort sets the listen port; 0 picks a free one.
func WithPort(port int64) Option {
	return func(s *Server) {
		s.port = port
	}
}

func WithCustomHandler(handler gin.HandlerFunc) Option {
	return func(s *Server) {
		s.handlers = append(s.handlers, handler)
	}
}

func New(lg *zap.Logger, reporter Reporter, opts ...Option) *Server {
	s := defaultServer()
	for _, opt := range opts {
		opt(s)
	}
	s.lg = lg
	s.reporter = reporter

	gin.SetMode(s.mode)
	s.engine = gin.New()
	s.engine.Use(gin.Recovery())
	s.engine.Use(middleware.CorrelationIdMiddleware())
	s.engine.Use(middleware.RequestLog(lg, middleware.SkipPaths("/", "/healthcheck", "/readyz")))
	s.engine.Use(s.handlers...)
	s.engine.Use(defaultHandler())

	s.engine.GET("/readyz", s.readyz)
	s.engine.GET("/cursor", s.cursor)
	return s
}

func (s *Server) Handler() http.Handler {
	return s.engine
}

// Start listens and serves in the background. It returns once the listener
// is bound; serve errors are reported by Shutdown.
func (s *Server) Start() (net.Addr, error) {
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", s.port))
	if err != nil {
		return nil, fmt.Errorf("web: listen: %w", err)
	}
	s.server = &http.Server{
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.errc = make(chan error, 1)
	go func() {
		s.lg.Info("starting web server ...", zap.String("address", ln.Addr().String()))
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.errc <- err
		}
		close(s.errc)
	}()
	return ln.Addr(), nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	s.lg.Info("shutdown web server ...")
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("web: shutdown: %w", err)
	}
	if err := <-s.errc; err != nil {
		return fmt.Errorf("web: serve: %w", err)
	}
	s.lg.Info("web server exiting")
	return nil
}

func (s *Server) readyz(c *gin.Context) {
	if s.reporter == nil || !s.reporter.Ready() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"ready": false})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ready": true, "processed": s.reporter.Processed()})
}

func (s *Server) cursor(c *gin.Context) {
	if s.reporter == nil {
		c.Status(http.StatusNotFound)
		return
	}
	cur := s.reporter.Cursor()
	if cur == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": cursor.ErrNotFound.Error()})
		return
	}
	c.JSON(http.StatusOK, cur)
}

func defaultHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		switch {
		case c.Request.URL.Path == "/":
			c.AbortWithStatus(http.StatusOK)
			return
		case strings.HasSuffix(c.Request.URL.Path, "/healthcheck"):
			c.AbortWithStatus(http.StatusOK)
			return
		}
	}
}
