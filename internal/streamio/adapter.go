// Package streamio bridges a plain net.Conn into the byte-stream shape that
// crypto/tls.Conn needs, adding cancellation and the adaptive read timeout
// described in spec.md §4.1 (ByteStreamAdapter / C1).
//
// The source (library/neh/https.cpp's TContBIO) had to hand-write a whole
// BIO_METHOD table to splice its coroutine scheduler into OpenSSL's
// pluggable byte-stream abstraction, because OpenSSL has no notion of "the
// current goroutine". crypto/tls needs nothing of the sort: it reads and
// writes through any net.Conn, and Go's netpoller already parks the calling
// goroutine on EAGAIN — that IS the cooperative yield the source's BIO
// implements by hand. So Adapter only has to add what net.Conn genuinely
// lacks: a cancellation flag observed on every iteration, and the timeout
// that grows 1.5x per retry up to a 1s ceiling.
package streamio

import (
	"context"
	"errors"
	"net"
	"sync/atomic"
	"time"

	"github.com/watt-toolkit/httpsx/internal/socket"
)

// ErrCancelled is returned by Read when the adapter's cancel flag was
// observed set. It is the first-class replacement for the source's
// CANCEL_RVAL = -42 sentinel (see spec.md §9's Design Note on this exact
// point).
var ErrCancelled = errors.New("streamio: cancelled")

const (
	initialReadTimeout = 10 * time.Millisecond
	maxReadTimeout      = time.Second
	timeoutGrowthNum    = 3 // timeout *= 3/2 each retry
	timeoutGrowthDen    = 2
)

// Adapter wraps a net.Conn, implementing net.Conn itself so it can be
// handed straight to tls.Client/tls.Server, while adding Acquire/Release
// task-attachment and cancellation.
type Adapter struct {
	conn   net.Conn
	cancel *atomic.Bool

	timeoutNS atomic.Int64

	watchCancel context.CancelFunc
}

// New wraps conn. The returned Adapter has no cancel flag attached; use
// SetCancelFlag before a cancellable operation.
func New(conn net.Conn) *Adapter {
	a := &Adapter{conn: conn}
	a.timeoutNS.Store(int64(initialReadTimeout))
	return a
}

// SetCancelFlag attaches (or clears, with nil) the shared cancellation
// flag. Per spec.md §3's TlsSession invariant, a stream is never used by
// two tasks concurrently, so no locking is needed around this pointer swap
// beyond what atomic.Pointer would need to be visible across goroutines —
// callers only swap it while holding exclusive use of the socket.
func (a *Adapter) SetCancelFlag(flag *atomic.Bool) {
	a.cancel = flag
}

// Acquire attaches the calling goroutine's context for the duration of one
// TLS operation, mirroring the source's per-task BIO attach/detach
// contract (spec.md §4.1). Returns a release function; the caller must
// call it (typically via defer) once the operation is complete. While
// acquired, cancellation of ctx forces any in-flight Read/Write to return
// promptly by pushing the connection's deadline into the past.
func (a *Adapter) Acquire(ctx context.Context) (release func()) {
	watchCtx, cancel := context.WithCancel(context.Background())
	a.watchCancel = cancel

	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			_ = a.conn.SetDeadline(time.Unix(0, 1))
		case <-watchCtx.Done():
		}
		close(done)
	}()

	return func() {
		cancel()
		<-done
		_ = a.conn.SetDeadline(time.Time{})
	}
}

// Read implements the algorithm from spec.md §4.1: without a cancel flag,
// this is a plain blocking read (the goroutine parks in the netpoller,
// which is this codebase's equivalent of "yield to the scheduler waiting
// for readability"). With a cancel flag, the flag is checked before every
// attempt and the read deadline grows 1.5x per timeout up to a 1s ceiling.
func (a *Adapter) Read(p []byte) (int, error) {
	if a.cancel == nil {
		return a.conn.Read(p)
	}

	timeout := time.Duration(a.timeoutNS.Load())
	for {
		if a.cancel.Load() {
			return 0, ErrCancelled
		}

		if err := a.conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
			return 0, err
		}

		n, err := a.conn.Read(p)
		if err == nil {
			return n, nil
		}

		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			timeout = growTimeout(timeout)
			a.timeoutNS.Store(int64(timeout))
			continue
		}

		return n, err
	}
}

func growTimeout(cur time.Duration) time.Duration {
	next := cur * timeoutGrowthNum / timeoutGrowthDen
	if next > maxReadTimeout {
		next = maxReadTimeout
	}
	return next
}

// Write checks the cancel flag once (a write already in flight cannot be
// aborted mid-syscall) and otherwise delegates directly to the underlying
// connection; partial writes are surfaced as-is, exactly like the source's
// "partial writes are acceptable, TLS layer will re-drive" contract.
func (a *Adapter) Write(p []byte) (int, error) {
	if a.cancel != nil && a.cancel.Load() {
		return 0, ErrCancelled
	}
	return a.conn.Write(p)
}

// Flush always succeeds: neither side buffers in user space.
func (a *Adapter) Flush() error { return nil }

// WaitUntilWritten polls the kernel's outbound queue length until it drains
// to zero, per spec.md §4.1. On platforms where the queue length cannot be
// queried, this is a documented no-op.
func (a *Adapter) WaitUntilWritten(ctx context.Context) error {
	delay := 10 * time.Millisecond
	for {
		n, ok, err := socket.OutboundQueueLen(a.conn)
		if err != nil {
			return err
		}
		if !ok || n == 0 {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
	}
}

func (a *Adapter) Close() error                       { return a.conn.Close() }
func (a *Adapter) LocalAddr() net.Addr                 { return a.conn.LocalAddr() }
func (a *Adapter) RemoteAddr() net.Addr                { return a.conn.RemoteAddr() }
func (a *Adapter) SetDeadline(t time.Time) error       { return a.conn.SetDeadline(t) }
func (a *Adapter) SetReadDeadline(t time.Time) error   { return a.conn.SetReadDeadline(t) }
func (a *Adapter) SetWriteDeadline(t time.Time) error  { return a.conn.SetWriteDeadline(t) }

// Raw returns the underlying connection, e.g. for socket.PrepareOutbound.
func (a *Adapter) Raw() net.Conn { return a.conn }

var _ net.Conn = (*Adapter)(nil)
