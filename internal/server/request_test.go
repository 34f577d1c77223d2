package server

import (
	"bytes"
	"compress/gzip"
	"context"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/watt-toolkit/httpsx/internal/inbound"
	"github.com/watt-toolkit/httpsx/pkg/http11"
)

func newTestServer(t *testing.T, handler Handler, gzipMinBytes int) *Server {
	t.Helper()
	return &Server{
		cfg: Config{
			Handler:      handler,
			GzipMinBytes: gzipMinBytes,
			Limiter:      inbound.New(100, 100),
		},
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
}

// loopback is an io.ReadWriter that lets a test write a request and then
// read back whatever serveOneRequest wrote as the response.
type loopback struct {
	in  *bytes.Buffer
	out bytes.Buffer
}

func (l *loopback) Read(p []byte) (int, error)  { return l.in.Read(p) }
func (l *loopback) Write(p []byte) (int, error) { return l.out.Write(p) }

func TestServeOneRequestEchoesBody(t *testing.T) {
	handler := HandlerFunc(func(_ context.Context, req *Request) *Response {
		return NewResponse(http11.StatusOK, append([]byte("echo:"), req.Body...))
	})
	s := newTestServer(t, handler, 1<<20) // gzip effectively disabled

	conn := &loopback{in: bytes.NewBufferString(
		"POST /x HTTP/1.1\r\nContent-Length: 5\r\n\r\nhello",
	)}

	keepAlive, err := s.serveOneRequest(context.Background(), conn, nil)
	if err != nil {
		t.Fatalf("serveOneRequest: %v", err)
	}
	if !keepAlive {
		t.Error("expected keepAlive=true without Connection: close")
	}

	out := conn.out.String()
	if !strings.HasPrefix(out, "HTTP/1.1 200 OK\r\n") {
		t.Fatalf("unexpected response head: %q", out)
	}
	if !strings.Contains(out, "echo:hello") {
		t.Errorf("response missing echoed body: %q", out)
	}
}

func TestServeOneRequestGzipsLargeAcceptedBody(t *testing.T) {
	bigBody := bytes.Repeat([]byte("a"), 4096)
	handler := HandlerFunc(func(_ context.Context, req *Request) *Response {
		return NewResponse(http11.StatusOK, bigBody)
	})
	s := newTestServer(t, handler, 1024)

	conn := &loopback{in: bytes.NewBufferString(
		"GET / HTTP/1.1\r\nAccept-Encoding: gzip, deflate\r\n\r\n",
	)}

	if _, err := s.serveOneRequest(context.Background(), conn, nil); err != nil {
		t.Fatalf("serveOneRequest: %v", err)
	}

	out := conn.out.String()
	if !strings.Contains(out, "Content-Encoding: gzip") {
		t.Fatalf("expected gzip content-encoding header, got: %q", out[:200])
	}

	headerEnd := strings.Index(out, "\r\n\r\n")
	if headerEnd < 0 {
		t.Fatal("no header/body boundary found")
	}
	gz, err := gzip.NewReader(strings.NewReader(out[headerEnd+4:]))
	if err != nil {
		t.Fatalf("gzip.NewReader: %v", err)
	}
	decoded, err := io.ReadAll(gz)
	if err != nil {
		t.Fatalf("gzip read: %v", err)
	}
	if !bytes.Equal(decoded, bigBody) {
		t.Error("decoded gzip body does not match original")
	}
}

func TestServeOneRequestSkipsCompressionWhenItDoesNotShrink(t *testing.T) {
	// Pseudo-random bytes from a xorshift generator are high-entropy and
	// never repeat within the buffer: gzip's framing overhead makes the
	// "compressed" form larger than the original, so it must be rejected
	// and the body sent as-is.
	incompressible := make([]byte, 2048)
	x := uint32(2463534242)
	for i := range incompressible {
		x ^= x << 13
		x ^= x >> 17
		x ^= x << 5
		incompressible[i] = byte(x)
	}
	handler := HandlerFunc(func(_ context.Context, req *Request) *Response {
		return NewResponse(http11.StatusOK, incompressible)
	})
	s := newTestServer(t, handler, 1024)

	conn := &loopback{in: bytes.NewBufferString(
		"GET / HTTP/1.1\r\nAccept-Encoding: gzip, deflate\r\n\r\n",
	)}

	if _, err := s.serveOneRequest(context.Background(), conn, nil); err != nil {
		t.Fatalf("serveOneRequest: %v", err)
	}

	out := conn.out.String()
	if strings.Contains(out, "Content-Encoding") {
		t.Fatalf("expected no Content-Encoding header, got: %q", out[:200])
	}
	if !bytes.Contains([]byte(out), incompressible) {
		t.Error("response does not contain the uncompressed body")
	}
}

func TestServeOneRequestHonorsConnectionClose(t *testing.T) {
	handler := HandlerFunc(func(_ context.Context, req *Request) *Response {
		return NewResponse(http11.StatusOK, nil)
	})
	s := newTestServer(t, handler, 1<<20)

	conn := &loopback{in: bytes.NewBufferString(
		"GET / HTTP/1.1\r\nConnection: close\r\n\r\n",
	)}

	keepAlive, err := s.serveOneRequest(context.Background(), conn, nil)
	if err != nil {
		t.Fatalf("serveOneRequest: %v", err)
	}
	if keepAlive {
		t.Error("expected keepAlive=false when client sent Connection: close")
	}
}

func TestInvokeHandlerRecoversPanic(t *testing.T) {
	handler := HandlerFunc(func(_ context.Context, req *Request) *Response {
		panic("boom")
	})
	s := newTestServer(t, handler, 1024)

	resp := s.invokeHandler(context.Background(), &Request{})
	if resp.StatusCode != http11.StatusInternalServerError {
		t.Errorf("StatusCode = %d, want %d", resp.StatusCode, http11.StatusInternalServerError)
	}
}
