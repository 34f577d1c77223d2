package httpsx

import (
	"context"
	"crypto/tls"
	"log/slog"

	"github.com/watt-toolkit/httpsx/internal/inbound"
	"github.com/watt-toolkit/httpsx/internal/server"
)

// Request and ServerResponse are re-exported so callers implementing a
// Handler don't need to import internal/server directly. ServerResponse
// is distinct from Response (the outbound client's result type) because
// the two travel in opposite directions over the same protocol.
type (
	Request        = server.Request
	ServerResponse = server.Response
)

// Handler answers one inbound HTTPS request.
type Handler = server.Handler

// HandlerFunc adapts a function to Handler.
type HandlerFunc = server.HandlerFunc

// NewServerResponse builds a ServerResponse with a fresh header set, ready
// for a Handler to fill in.
func NewServerResponse(statusCode int, body []byte) *ServerResponse {
	return server.NewResponse(statusCode, body)
}

// Server accepts inbound TLS connections and dispatches HTTP/1.1 requests
// to a Handler, per spec.md §4.5-4.6 (InboundLimiter + Server / C5+C6).
type Server struct {
	inner   *server.Server
	limiter *inbound.Limiter
}

// ServerOption configures a Server at construction time.
type ServerOption func(*serverConfig)

type serverConfig struct {
	maxConns     int
	softLimit    int64
	hardLimit    int64
	minKeepalive int64
	maxKeepalive int64
	gzipMinBytes int
	logger       *slog.Logger
}

// WithMaxConcurrentConnections bounds how many connections the server
// processes at once.
func WithMaxConcurrentConnections(n int) ServerOption {
	return func(c *serverConfig) { c.maxConns = n }
}

// WithInputConnectionLimits sets the soft/hard inbound connection limits
// consulted by the adaptive keepalive timeout, per
// SetHttpInputConnectionsLimits in the source.
func WithInputConnectionLimits(soft, hard int64) ServerOption {
	return func(c *serverConfig) { c.softLimit, c.hardLimit = soft, hard }
}

// WithGzipMinBytes sets the minimum response body size, in bytes, worth
// gzip-compressing when the client advertises Accept-Encoding: gzip.
func WithGzipMinBytes(n int) ServerOption {
	return func(c *serverConfig) { c.gzipMinBytes = n }
}

// WithServerLogger installs a structured logger for the server.
func WithServerLogger(logger *slog.Logger) ServerOption {
	return func(c *serverConfig) { c.logger = logger }
}

// NewServer builds a Server bound to addr with the given TLS
// configuration and request handler.
func NewServer(addr string, tlsConfig *tls.Config, handler Handler, opts ...ServerOption) (*Server, error) {
	cfg := serverConfig{maxConns: 1024}
	for _, opt := range opts {
		opt(&cfg)
	}

	var limiter *inbound.Limiter
	if cfg.hardLimit > 0 {
		limiter = inbound.New(cfg.softLimit, cfg.hardLimit)
	}

	inner, err := server.New(server.Config{
		Addr:                     addr,
		TLSConfig:                tlsConfig,
		Handler:                  handler,
		MaxConcurrentConnections: cfg.maxConns,
		Limiter:                  limiter,
		GzipMinBytes:             cfg.gzipMinBytes,
		Logger:                   cfg.logger,
	})
	if err != nil {
		return nil, err
	}

	return &Server{inner: inner, limiter: limiter}, nil
}

// Addr returns the server's bound listen address.
func (s *Server) Addr() string { return s.inner.Addr().String() }

// Serve runs the accept loop until ctx is cancelled or Close is called.
func (s *Server) Serve(ctx context.Context) error { return s.inner.Serve(ctx) }

// SetInputConnectionLimits adjusts the inbound soft/hard limits at
// runtime. It has no effect on a Server built without
// WithInputConnectionLimits: that Server's limiter is created inside
// internal/server and is not reachable from here.
func (s *Server) SetInputConnectionLimits(soft, hard int64) {
	if s.limiter != nil {
		s.limiter.SetLimits(soft, hard)
	}
}

// Close stops accepting new connections.
func (s *Server) Close() error { return s.inner.Close() }
