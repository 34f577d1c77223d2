// Package server implements the inbound HTTPS pipeline described in
// spec.md §4.6 (Server / C6): a deferred-accept listener feeding a
// single-consumer dispatch queue, bounded worker concurrency, and a
// request/response cycle with gzip-on-Accept-Encoding. Grounded on
// TServer/TSslServerIOStream/TJobsQueue in library/neh/https.cpp for the
// job shape, and on shockwave/pkg/shockwave/server/{server.go,
// server_shockwave.go} for the Go-native accept-loop-plus-semaphore
// rendering of that same job.
package server

import (
	"context"
	"crypto/tls"
	"errors"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/watt-toolkit/httpsx/internal/inbound"
	"github.com/watt-toolkit/httpsx/internal/socket"
	"github.com/watt-toolkit/httpsx/internal/tlsstream"
)

// Handler answers one HTTP request.
type Handler interface {
	Handle(ctx context.Context, req *Request) *Response
}

// HandlerFunc adapts a plain function to the Handler interface.
type HandlerFunc func(ctx context.Context, req *Request) *Response

// Handle calls f.
func (f HandlerFunc) Handle(ctx context.Context, req *Request) *Response { return f(ctx, req) }

// Config configures a Server.
type Config struct {
	Addr                     string
	TLSConfig                *tls.Config
	Handler                  Handler
	MaxConcurrentConnections int
	Limiter                  *inbound.Limiter
	GzipMinBytes             int
	Logger                   *slog.Logger
}

// Server accepts TLS connections and dispatches HTTP/1.1 requests to a
// Handler.
type Server struct {
	cfg      Config
	listener net.Listener
	jobs     chan net.Conn
	sem      chan struct{}
	wg       sync.WaitGroup
	closing  atomic.Bool
	logger   *slog.Logger

	// closeCh is closed exactly once by Close, so dispatch can stop
	// pulling new jobs even when the caller never independently cancels
	// the context it passed to Serve.
	closeCh chan struct{}
}

const jobQueueDepth = 128

// New constructs a Server bound to cfg.Addr but does not start accepting
// connections; call Serve for that.
func New(cfg Config) (*Server, error) {
	if cfg.Handler == nil {
		return nil, errors.New("server: Config.Handler is required")
	}
	if cfg.MaxConcurrentConnections <= 0 {
		cfg.MaxConcurrentConnections = 1024
	}
	if cfg.Limiter == nil {
		cfg.Limiter = inbound.New(int64(cfg.MaxConcurrentConnections)*3/4, int64(cfg.MaxConcurrentConnections))
	}
	if cfg.GzipMinBytes <= 0 {
		cfg.GzipMinBytes = 1024
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	ln, err := net.Listen("tcp", cfg.Addr)
	if err != nil {
		return nil, err
	}
	if err := socket.PrepareListener(ln); err != nil {
		logger.Warn("prepare listener failed", "error", err)
	}

	return &Server{
		cfg:      cfg,
		listener: ln,
		jobs:     make(chan net.Conn, jobQueueDepth),
		sem:      make(chan struct{}, cfg.MaxConcurrentConnections),
		logger:   logger,
		closeCh:  make(chan struct{}),
	}, nil
}

// Addr returns the address the listener is bound to.
func (s *Server) Addr() net.Addr { return s.listener.Addr() }

// Serve runs the accept loop and the single-consumer dispatcher until ctx
// is cancelled or Close is called. It returns nil on a clean shutdown.
func (s *Server) Serve(ctx context.Context) error {
	s.wg.Add(1)
	go s.dispatch(ctx)

	// Cancelling ctx shuts down the same way Close does, so the blocked
	// Accept below returns.
	go func() {
		select {
		case <-ctx.Done():
			_ = s.Close()
		case <-s.closeCh:
		}
	}()

	acceptBackoff := time.Duration(0)
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if s.closing.Load() {
				break
			}
			if isTooManyOpenFiles(err) {
				// EMFILE: stop accepting for a bit so the process can
				// recover, matching the source's accept-loop back-off on
				// the same error.
				acceptBackoff = 500 * time.Millisecond
				s.logger.Warn("accept: too many open files, backing off", "backoff", acceptBackoff)
				time.Sleep(acceptBackoff)
				continue
			}
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}
			s.logger.Error("accept failed", "error", err)
			break
		}
		acceptBackoff = 0

		select {
		case s.jobs <- conn:
		case <-ctx.Done():
			conn.Close()
		case <-s.closeCh:
			conn.Close()
		}
	}

	s.wg.Wait()
	return nil
}

// dispatch is the single consumer of the jobs queue, analogous to
// TAutoOneConsumerPipeQueue's dispatcher: it hands each accepted
// connection to a worker goroutine, gated by the concurrency semaphore.
func (s *Server) dispatch(ctx context.Context) {
	defer s.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.closeCh:
			return
		case conn, ok := <-s.jobs:
			if !ok {
				return
			}
			select {
			case s.sem <- struct{}{}:
			case <-ctx.Done():
				conn.Close()
				return
			case <-s.closeCh:
				conn.Close()
				return
			}
			s.wg.Add(1)
			go func() {
				defer s.wg.Done()
				defer func() { <-s.sem }()
				s.handleConnection(ctx, conn)
			}()
		}
	}
}

func (s *Server) handleConnection(ctx context.Context, raw net.Conn) {
	release, ok := s.cfg.Limiter.Acquire()
	if !ok {
		raw.Close()
		return
	}
	defer release()

	stream, err := tlsstream.Server(ctx, raw, s.cfg.TLSConfig)
	if err != nil {
		s.logger.Debug("handshake failed", "peer", raw.RemoteAddr(), "error", err)
		raw.Close()
		return
	}
	defer stream.Close()

	s.serveRequests(ctx, stream, raw.RemoteAddr())
}

// serveRequests loops reading requests off stream until the keepalive
// timeout elapses, the client closes, or ctx's deadline passes, per spec.md
// §4.5's adaptive keepalive interplay with the inbound limiter. A poll that
// is already waiting does not observe cancellation of ctx; it runs until
// its timeout or deadline.
func (s *Server) serveRequests(ctx context.Context, stream *tlsstream.Stream, peer net.Addr) {
	for {
		timeout := s.cfg.Limiter.UnusedKeepaliveTimeout()
		readable, err := stream.PollReadT(ctx, timeout)
		if err != nil {
			return
		}
		if !readable {
			return
		}

		keepAlive, err := s.serveOneRequest(ctx, stream, peer)
		if err != nil {
			s.logger.Debug("request failed", "peer", peer, "error", err)
			return
		}
		if !keepAlive {
			return
		}
	}
}

// Close stops the accept loop, closes the listener, and unblocks the
// dispatcher via closeCh so Serve's wait for outstanding workers can
// proceed even if the caller never independently cancels the context it
// passed to Serve. Connections already dispatched to a worker keep the
// caller's original context and are allowed to finish.
func (s *Server) Close() error {
	if !s.closing.CompareAndSwap(false, true) {
		return nil
	}
	err := s.listener.Close()
	close(s.closeCh)
	return err
}

func isTooManyOpenFiles(err error) bool {
	return errors.Is(err, syscall.EMFILE)
}
