// Package reqjob drives a single outbound request end-to-end, per
// spec.md §4.4 (ClientRequestJob / C4): resolve, acquire a connection,
// write the request, read the response, and decide whether the
// connection goes back into the pool. Grounded on the top-level request
// path implied by TSslClientIOStream + TConnCache::Connect/Release in
// library/neh/https.cpp, and on shockwave/pkg/shockwave/client/client.go
// for the Go-native Do/Get/Post shape.
package reqjob

import (
	"bufio"
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strconv"
	"strings"
	"sync/atomic"

	"github.com/watt-toolkit/httpsx/internal/location"
	"github.com/watt-toolkit/httpsx/internal/pool"
	"github.com/watt-toolkit/httpsx/internal/resolvedhost"
	"github.com/watt-toolkit/httpsx/internal/tlsconfig"
	"github.com/watt-toolkit/httpsx/internal/tlsstream"
	"github.com/watt-toolkit/httpsx/pkg/http11"
)

// ErrProtocol reports a non-2xx response so callers can pattern-match with
// errors.As, per spec.md's ProtocolSpecific error kind. Malformed responses
// are reported with other errors.
type ErrProtocol struct {
	Code int
}

func (e *ErrProtocol) Error() string {
	return fmt.Sprintf("reqjob: server responded %d %s", e.Code, http11.ReasonPhrase(e.Code))
}

// Message is one outbound request.
type Message struct {
	Location location.Location
	Body     []byte
	Headers  map[string]string
}

// Result is a fully-read response.
type Result struct {
	StatusCode int
	Header     *http11.Header
	Body       []byte
	// Reused reports whether the connection this response arrived over
	// was popped from the pool's idle cache rather than freshly dialed,
	// per spec.md §3's ConnectionHandle{reused}.
	Reused bool
}

// Runner executes Messages against a shared connection pool.
type Runner struct {
	Pool     *pool.Cache
	Resolver *resolvedhost.Registry
	TLS      tlsconfig.Options
	Logger   *slog.Logger
}

// New builds a Runner. If logger is nil, slog.Default() is used.
func New(p *pool.Cache, resolver *resolvedhost.Registry, tlsOpts tlsconfig.Options, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	if resolver == nil {
		resolver = resolvedhost.Default()
	}
	return &Runner{Pool: p, Resolver: resolver, TLS: tlsOpts, Logger: logger}
}

// Run performs steps 1-10 of the request lifecycle: resolve host, acquire
// a pooled (or fresh) connection, write the request, read the response,
// and release the connection based on whether it is still usable.
func (r *Runner) Run(ctx context.Context, msg Message) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, ErrCancelled
	}

	loc := msg.Location
	if !loc.Scheme.Valid() {
		return nil, fmt.Errorf("reqjob: %w: scheme %q", ErrUnknownType, loc.Scheme)
	}

	host, err := r.Resolver.Resolve(ctx, loc.Host, loc.Port)
	if err != nil {
		return nil, fmt.Errorf("reqjob: resolve %s: %w", loc.Host, err)
	}

	bucketKey := fmt.Sprintf("%d|%s|%s", host.ID, loc.CertFile, loc.KeyFile)
	tlsCfg, err := r.tlsConfigFor(loc)
	if err != nil {
		return nil, err
	}

	conn, reused, err := r.Pool.Connect(ctx, bucketKey, host.Addrs, loc.Host, tlsCfg)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return nil, ErrCancelled
		}
		return nil, fmt.Errorf("reqjob: connect: %w", err)
	}

	var cancelFlag atomic.Bool
	stream := conn.Stream()
	stream.SetCancelFlag(&cancelFlag)

	stop := context.AfterFunc(ctx, func() { cancelFlag.Store(true) })
	defer stop()

	result, healthy, err := r.roundTrip(ctx, stream, loc, msg)
	// Detach this request's flag before the stream goes back to the pool:
	// with a flag attached the adapter's read loop overrides deadlines, and
	// the pool's IsAlive probe would block instead of returning at once.
	stream.SetCancelFlag(nil)
	r.Pool.Release(conn, healthy)

	if err != nil {
		if cancelFlag.Load() || errors.Is(err, context.Canceled) {
			return nil, ErrCancelled
		}
		return nil, err
	}
	result.Reused = reused
	return result, nil
}

var (
	ErrCancelled   = errors.New("reqjob: cancelled")
	ErrUnknownType = errors.New("reqjob: unrecognized request type")
)

func (r *Runner) tlsConfigFor(loc location.Location) (*tls.Config, error) {
	opts := r.TLS
	if loc.CertFile != "" {
		opts.ClientCertificate = loc.CertFile
		opts.ClientPrivateKey = loc.KeyFile
	}
	return tlsconfig.Client(opts, loc.Host)
}

// Handshake adapts tlsstream.Client to the pool.Handshaker signature. The
// serverName parameter is unused because tlsConfigFor already bakes the
// hostname into tlsCfg.ServerName before the pool ever dials.
func Handshake(ctx context.Context, raw net.Conn, tlsCfg *tls.Config, serverName string) (*tlsstream.Stream, error) {
	_ = serverName
	return tlsstream.Client(ctx, raw, tlsCfg)
}

// roundTrip writes the request and reads the response. The returned
// healthy flag tells the caller whether the connection may be pooled: it
// is false whenever the wire state is ambiguous (write error, malformed
// response, or the server asked to close).
func (r *Runner) roundTrip(ctx context.Context, stream *tlsstream.Stream, loc location.Location, msg Message) (*Result, bool, error) {
	req, err := buildRequest(loc, msg)
	if err != nil {
		return nil, false, err
	}

	if err := http11.WriteRequest(stream, req); err != nil {
		return nil, false, fmt.Errorf("reqjob: write request: %w", err)
	}
	if req.Body != nil {
		if _, err := io.Copy(stream, req.Body); err != nil {
			return nil, false, fmt.Errorf("reqjob: write body: %w", err)
		}
	}
	if err := stream.WaitUntilWritten(ctx); err != nil && !errors.Is(err, context.Canceled) {
		r.Logger.Debug("wait until written failed", "error", err)
	}

	br := bufio.NewReader(stream)
	code, reason, err := http11.ReadStatusLine(br)
	if err != nil {
		return nil, false, fmt.Errorf("reqjob: read status line: %w", err)
	}

	header, err := http11.ReadHeaders(br)
	if err != nil {
		return nil, false, fmt.Errorf("reqjob: read headers: %w", err)
	}

	bodyReader, err := http11.BodyReader(br, header)
	if err != nil {
		return nil, false, fmt.Errorf("reqjob: frame body: %w", err)
	}
	body, err := io.ReadAll(bodyReader)
	if err != nil {
		return nil, false, fmt.Errorf("reqjob: read body: %w", err)
	}

	healthy := !strings.EqualFold(header.Get("Connection"), "close")

	result := &Result{StatusCode: code, Header: header, Body: body}
	if code < 200 || code >= 300 {
		r.Logger.Debug("non-2xx response", "code", code, "reason", reason, "host", loc.Host)
		return result, healthy, &ErrProtocol{Code: code}
	}
	return result, healthy, nil
}

func buildRequest(loc location.Location, msg Message) (*http11.Request, error) {
	target := loc.Path
	if loc.Query != "" {
		target += "?" + loc.Query
	}

	header := http11.NewHeader()
	for name, value := range msg.Headers {
		if err := header.Set(name, value); err != nil {
			return nil, err
		}
	}

	req := &http11.Request{Host: loc.Host, Header: header, Target: target}

	switch loc.Scheme {
	case location.SchemeGet:
		req.Method = "GET"
	case location.SchemePost:
		req.Method = "POST"
		req.Body = bytes.NewReader(msg.Body)
		header.Set("Content-Length", strconv.Itoa(len(msg.Body)))
	case location.SchemeFull:
		method, target2, body, err := splitFullMessage(msg.Body)
		if err != nil {
			return nil, err
		}
		req.Method = method
		if target2 != "" {
			req.Target = target2
		}
		req.Body = bytes.NewReader(body)
		if len(body) > 0 {
			header.Set("Content-Length", strconv.Itoa(len(body)))
		}
	}

	return req, nil
}

// splitFullMessage extracts "METHOD target\n<body>" from a fulls-scheme
// message body, matching the source's TFullRequest framing where the
// first line names the HTTP method and target explicitly.
func splitFullMessage(raw []byte) (method, target string, body []byte, err error) {
	nl := bytes.IndexByte(raw, '\n')
	if nl < 0 {
		return "", "", nil, fmt.Errorf("reqjob: %w: fulls message missing method line", http11.ErrMalformed)
	}
	line := strings.TrimRight(string(raw[:nl]), "\r")
	fields := strings.SplitN(line, " ", 2)
	if len(fields) == 0 || fields[0] == "" {
		return "", "", nil, fmt.Errorf("reqjob: %w: empty method", http11.ErrMalformed)
	}
	if len(fields) == 2 {
		target = fields[1]
	}
	return fields[0], target, raw[nl+1:], nil
}
