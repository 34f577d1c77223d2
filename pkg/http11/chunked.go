package http11

import (
	"bufio"
	"fmt"
	"io"
)

// chunkedReader decodes an HTTP/1.1 chunked transfer-encoded body,
// stopping at the zero-length terminating chunk. Trailers, if any, are
// consumed and discarded.
type chunkedReader struct {
	r         *bufio.Reader
	remaining int64
	done      bool
}

func newChunkedReader(r *bufio.Reader) *chunkedReader {
	return &chunkedReader{r: r}
}

func (c *chunkedReader) Read(p []byte) (int, error) {
	if c.done {
		return 0, io.EOF
	}

	if c.remaining == 0 {
		size, err := c.readChunkSize()
		if err != nil {
			return 0, err
		}
		if size == 0 {
			c.done = true
			if err := c.discardTrailers(); err != nil {
				return 0, err
			}
			return 0, io.EOF
		}
		c.remaining = size
	}

	if int64(len(p)) > c.remaining {
		p = p[:c.remaining]
	}
	n, err := c.r.Read(p)
	c.remaining -= int64(n)
	if c.remaining == 0 && err == nil {
		// consume the trailing CRLF after this chunk's data
		if _, discardErr := c.r.Discard(2); discardErr != nil {
			return n, discardErr
		}
	}
	return n, err
}

func (c *chunkedReader) readChunkSize() (int64, error) {
	line, err := readLine(c.r)
	if err != nil {
		return 0, err
	}
	// strip chunk extensions, if any
	for i := 0; i < len(line); i++ {
		if line[i] == ';' {
			line = line[:i]
			break
		}
	}
	var size int64
	if _, err := fmt.Sscanf(line, "%x", &size); err != nil {
		return 0, fmt.Errorf("%w: chunk size %q", ErrMalformed, line)
	}
	return size, nil
}

func (c *chunkedReader) discardTrailers() error {
	for {
		line, err := readLine(c.r)
		if err != nil {
			return err
		}
		if line == "" {
			return nil
		}
	}
}
