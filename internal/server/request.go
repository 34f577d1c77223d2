package server

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"

	"github.com/andybalholm/brotli"
	"github.com/klauspost/compress/gzip"
	"github.com/valyala/bytebufferpool"

	"github.com/watt-toolkit/httpsx/pkg/http11"
)

// Request is what a Handler sees for one inbound HTTP/1.1 request.
type Request struct {
	Method          string
	Path            string
	Query           string
	Header          *http11.Header
	Body            []byte
	Peer            net.Addr
	AcceptsGzip     bool
	AcceptsBrotli   bool
}

// Response is what a Handler returns.
type Response struct {
	StatusCode int
	Header     *http11.Header
	Body       []byte
}

// NewResponse builds a Response with a fresh header set.
func NewResponse(statusCode int, body []byte) *Response {
	return &Response{StatusCode: statusCode, Header: http11.NewHeader(), Body: body}
}

// serveOneRequest reads one request, invokes the handler, and writes the
// response, compressing the body when the client advertises support, the
// body is at least GzipMinBytes long, and the compressed form is smaller
// (spec.md §4.6's gzip-on-Accept-Encoding rule). Brotli is used when the
// client accepts "br", otherwise gzip. It reports whether the connection
// should stay open for another request.
func (s *Server) serveOneRequest(ctx context.Context, stream io.ReadWriter, peer net.Addr) (keepAlive bool, err error) {
	br := bufio.NewReader(stream)

	method, target, err := http11.ReadRequestLine(br)
	if err != nil {
		return false, err
	}

	header, err := http11.ReadHeaders(br)
	if err != nil {
		s.writeFail(stream, http11.StatusBadRequest)
		return false, err
	}

	bodyReader, err := http11.BodyReader(br, header)
	if err != nil {
		s.writeFail(stream, http11.StatusBadRequest)
		return false, err
	}
	body, err := io.ReadAll(bodyReader)
	if err != nil {
		s.writeFail(stream, http11.StatusBadRequest)
		return false, err
	}

	path, query, _ := strings.Cut(target, "?")

	acceptEncoding := strings.ToLower(header.Get("Accept-Encoding"))
	req := &Request{
		Method:        method,
		Path:          path,
		Query:         query,
		Header:        header,
		Body:          body,
		Peer:          peer,
		AcceptsGzip:   strings.Contains(acceptEncoding, "gzip"),
		AcceptsBrotli: strings.Contains(acceptEncoding, "br"),
	}

	resp := s.invokeHandler(ctx, req)
	keepAlive = !strings.EqualFold(header.Get("Connection"), "close")
	if resp.Header == nil {
		resp.Header = http11.NewHeader()
	}
	if !keepAlive {
		resp.Header.Set("Connection", "close")
	}

	if err := s.writeResponse(stream, req, resp); err != nil {
		return false, err
	}
	return keepAlive, nil
}

// invokeHandler recovers from a handler panic and turns it into a 500,
// matching the source's TFail path for unexpected worker-thread errors.
func (s *Server) invokeHandler(ctx context.Context, req *Request) (resp *Response) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("handler panicked", "panic", r, "path", req.Path)
			resp = NewResponse(http11.StatusInternalServerError, nil)
		}
	}()
	return s.cfg.Handler.Handle(ctx, req)
}

func (s *Server) writeResponse(w io.Writer, req *Request, resp *Response) error {
	body := resp.Body
	if len(body) >= s.cfg.GzipMinBytes {
		switch {
		case req.AcceptsBrotli:
			if compressed, err := brotliCompress(body); err == nil && len(compressed) < len(body) {
				body = compressed
				resp.Header.Set("Content-Encoding", "br")
			}
		case req.AcceptsGzip:
			if compressed, err := gzipCompress(body); err == nil && len(compressed) < len(body) {
				body = compressed
				resp.Header.Set("Content-Encoding", "gzip")
			}
		}
	}
	resp.Header.Set("Content-Length", strconv.Itoa(len(body)))

	msg := &http11.Response{StatusCode: resp.StatusCode, Header: resp.Header}
	if err := http11.WriteResponse(w, msg); err != nil {
		return err
	}
	_, err := w.Write(body)
	return err
}

func (s *Server) writeFail(w io.Writer, code int) {
	resp := NewResponse(code, []byte(fmt.Sprintf("%d %s", code, http11.ReasonPhrase(code))))
	resp.Header.Set("Connection", "close")
	_ = s.writeResponse(w, &Request{}, resp)
}

// gzipCompress and brotliCompress both borrow a pooled buffer from
// bytebufferpool rather than allocating a fresh bytes.Buffer per response,
// the same pooling idiom shockwave leans on throughout its buffer_pool*.go
// files, applied here to the compression path instead of the read path.
func gzipCompress(body []byte) ([]byte, error) {
	buf := bytebufferpool.Get()
	defer bytebufferpool.Put(buf)

	zw := gzip.NewWriter(buf)
	if _, err := zw.Write(body); err != nil {
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}

	out := make([]byte, buf.Len())
	copy(out, buf.Bytes())
	return out, nil
}

func brotliCompress(body []byte) ([]byte, error) {
	buf := bytebufferpool.Get()
	defer bytebufferpool.Put(buf)

	bw := brotli.NewWriterLevel(buf, brotli.DefaultCompression)
	if _, err := bw.Write(body); err != nil {
		return nil, err
	}
	if err := bw.Close(); err != nil {
		return nil, err
	}

	out := make([]byte, buf.Len())
	copy(out, buf.Bytes())
	return out, nil
}
