// Package tlsstream layers the TLS handshake, readability polling, and
// shutdown handshake on top of a streamio.Adapter, grounded on
// TSslIOStream / TSslClientIOStream / TSslServerIOStream in
// library/neh/https.cpp (C2 in spec.md §4.2).
package tlsstream

import (
	"bufio"
	"context"
	"crypto/tls"
	"errors"
	"io"
	"net"
	"sync/atomic"
	"time"

	"github.com/watt-toolkit/httpsx/internal/streamio"
)

// Stream is a handshaken TLS connection plus the readability-polling and
// shutdown behavior the server and client pipelines need on top of the
// bare *tls.Conn.
type Stream struct {
	adapter *streamio.Adapter
	conn    *tls.Conn
	br      *bufio.Reader
	cancel  atomic.Bool
}

// Client dials nothing itself; raw is an already-connected socket. It
// wraps raw in a streamio.Adapter, performs the client handshake, and
// verifies the peer certificate through cfg's VerifyPeerCertificate
// (installed by internal/tlsconfig.Client).
func Client(ctx context.Context, raw net.Conn, cfg *tls.Config) (*Stream, error) {
	return newStream(ctx, raw, cfg, true)
}

// Server performs the server side of the handshake on an accepted
// connection.
func Server(ctx context.Context, raw net.Conn, cfg *tls.Config) (*Stream, error) {
	return newStream(ctx, raw, cfg, false)
}

func newStream(ctx context.Context, raw net.Conn, cfg *tls.Config, client bool) (*Stream, error) {
	adapter := streamio.New(raw)
	adapter.SetCancelFlag(nil)

	var conn *tls.Conn
	if client {
		conn = tls.Client(adapter, cfg)
	} else {
		conn = tls.Server(adapter, cfg)
	}

	release := adapter.Acquire(ctx)
	defer release()

	if err := conn.HandshakeContext(ctx); err != nil {
		return nil, err
	}

	return &Stream{
		adapter: adapter,
		conn:    conn,
		br:      bufio.NewReader(conn),
	}, nil
}

// SetCancelFlag propagates a shared cancellation flag down to the
// underlying byte stream, per spec.md §3's TlsSession/cancel-flag
// relationship.
func (s *Stream) SetCancelFlag(flag *atomic.Bool) {
	s.adapter.SetCancelFlag(flag)
}

// Read reads plaintext application data.
func (s *Stream) Read(p []byte) (int, error) { return s.br.Read(p) }

// Write writes plaintext application data.
func (s *Stream) Write(p []byte) (int, error) { return s.conn.Write(p) }

// ConnectionState exposes the negotiated TLS parameters, e.g. for logging
// or metrics labels.
func (s *Stream) ConnectionState() tls.ConnectionState { return s.conn.ConnectionState() }

// PollReadT reports whether the stream has data ready to read (or has hit
// EOF/an error) within timeout, without consuming any application bytes.
// It is the Go equivalent of TSslIOStream::PollReadT, built on Peek
// instead of OpenSSL's SSL_pending()+select() combination.
func (s *Stream) PollReadT(ctx context.Context, timeout time.Duration) (readable bool, err error) {
	deadline := time.Now().Add(timeout)
	if ctxDeadline, ok := ctx.Deadline(); ok && ctxDeadline.Before(deadline) {
		deadline = ctxDeadline
	}
	if err := s.conn.SetReadDeadline(deadline); err != nil {
		return false, err
	}
	defer s.conn.SetReadDeadline(time.Time{})

	_, peekErr := s.br.Peek(1)
	switch {
	case peekErr == nil:
		return true, nil
	case errors.Is(peekErr, io.EOF):
		return true, io.EOF
	default:
		var netErr net.Error
		if errors.As(peekErr, &netErr) && netErr.Timeout() {
			return false, nil
		}
		return true, peekErr
	}
}

// IsAlive reports whether the peer still appears to have the connection
// open, without consuming any application data. It is the Go analogue of
// TCont::SocketNotClosedByOtherSide, used by the connection pool to probe
// a socket popped from the idle cache before handing it back for reuse
// (spec.md §4.3 step 2's "still open" test).
func (s *Stream) IsAlive() bool {
	_, err := s.PollReadT(context.Background(), 0)
	return err == nil
}

// Shutdown performs the two-pass TLS close: send close_notify, then drain
// (and discard) whatever the peer sends back up to a short grace period,
// matching TSslIOStream::Shutdown's best-effort bidirectional close.
func (s *Stream) Shutdown(ctx context.Context) error {
	closeErr := s.conn.CloseWrite()

	deadline := time.Now().Add(2 * time.Second)
	if ctxDeadline, ok := ctx.Deadline(); ok && ctxDeadline.Before(deadline) {
		deadline = ctxDeadline
	}
	_ = s.conn.SetReadDeadline(deadline)

	buf := make([]byte, 512)
	for {
		if _, err := s.br.Read(buf); err != nil {
			break
		}
	}

	return closeErr
}

// Close closes the underlying connection without attempting a graceful
// TLS shutdown; callers that need close_notify semantics should call
// Shutdown first.
func (s *Stream) Close() error { return s.conn.Close() }

// WaitUntilWritten blocks until previously written bytes have left the
// kernel's send buffer, delegating to the wrapped streamio.Adapter.
func (s *Stream) WaitUntilWritten(ctx context.Context) error {
	return s.adapter.WaitUntilWritten(ctx)
}
