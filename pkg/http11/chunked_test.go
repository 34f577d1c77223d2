package http11

import (
	"bufio"
	"io"
	"strings"
	"testing"
)

func TestChunkedReaderDecodesMultipleChunks(t *testing.T) {
	raw := "4\r\nWiki\r\n5\r\npedia\r\n0\r\n\r\n"
	br := bufio.NewReader(strings.NewReader(raw))
	r := newChunkedReader(br)

	data, err := io.ReadAll(r)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if string(data) != "Wikipedia" {
		t.Errorf("data = %q, want %q", data, "Wikipedia")
	}
}

func TestChunkedReaderDiscardsTrailers(t *testing.T) {
	raw := "3\r\nfoo\r\n0\r\nX-Trailer: yes\r\n\r\n"
	br := bufio.NewReader(strings.NewReader(raw))
	r := newChunkedReader(br)

	data, err := io.ReadAll(r)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if string(data) != "foo" {
		t.Errorf("data = %q, want %q", data, "foo")
	}
}

func TestChunkedReaderViaBodyReader(t *testing.T) {
	h := NewHeader()
	h.Set("Transfer-Encoding", "chunked")
	br := bufio.NewReader(strings.NewReader("2\r\nhi\r\n0\r\n\r\n"))

	body, err := BodyReader(br, h)
	if err != nil {
		t.Fatalf("BodyReader: %v", err)
	}
	data, err := io.ReadAll(body)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if string(data) != "hi" {
		t.Errorf("data = %q, want %q", data, "hi")
	}
}
