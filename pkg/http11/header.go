// Package http11 is this transport's own compact HTTP/1.1 message codec:
// request line, status line, headers, and Content-Length/chunked body
// framing. spec.md places the wire codec itself out of scope ("HTTP/1.1
// message framing... is treated as an external collaborator"), so unlike
// the rest of this module this package does not port shockwave's http11
// package line for line — that package is a zero-allocation, inline-array
// implementation sized for a very different (benchmark-driven) goal. This
// is the plain, map-backed version idiomatic for a transport whose hot
// path is TLS I/O, not header parsing.
package http11

import (
	"errors"
	"net/textproto"
)

// ErrInvalidHeader is returned when a header name or value contains a
// carriage return or line feed, which would allow response/request
// splitting if written through unescaped.
var ErrInvalidHeader = errors.New("http11: invalid header name or value")

// Header is an ordered, case-insensitive collection of header fields.
type Header struct {
	keys   []string
	values [][]string
	index  map[string]int
}

// NewHeader returns an empty Header ready to use.
func NewHeader() *Header {
	return &Header{index: make(map[string]int)}
}

func canonical(name string) string {
	return textproto.CanonicalMIMEHeaderKey(name)
}

func containsCRLF(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] == '\r' || s[i] == '\n' {
			return true
		}
	}
	return false
}

// Add appends a value for name, preserving any existing values.
func (h *Header) Add(name, value string) error {
	if containsCRLF(name) || containsCRLF(value) {
		return ErrInvalidHeader
	}
	name = canonical(name)
	if idx, ok := h.index[name]; ok {
		h.values[idx] = append(h.values[idx], value)
		return nil
	}
	h.index[name] = len(h.keys)
	h.keys = append(h.keys, name)
	h.values = append(h.values, []string{value})
	return nil
}

// Set replaces any existing values for name with a single value.
func (h *Header) Set(name, value string) error {
	if containsCRLF(name) || containsCRLF(value) {
		return ErrInvalidHeader
	}
	name = canonical(name)
	if idx, ok := h.index[name]; ok {
		h.values[idx] = []string{value}
		return nil
	}
	return h.Add(name, value)
}

// Get returns the first value for name, or "" if absent.
func (h *Header) Get(name string) string {
	name = canonical(name)
	if idx, ok := h.index[name]; ok && len(h.values[idx]) > 0 {
		return h.values[idx][0]
	}
	return ""
}

// Values returns every value for name, in the order they were added.
func (h *Header) Values(name string) []string {
	name = canonical(name)
	if idx, ok := h.index[name]; ok {
		return h.values[idx]
	}
	return nil
}

// Del removes all values for name.
func (h *Header) Del(name string) {
	name = canonical(name)
	idx, ok := h.index[name]
	if !ok {
		return
	}
	h.keys = append(h.keys[:idx], h.keys[idx+1:]...)
	h.values = append(h.values[:idx], h.values[idx+1:]...)
	delete(h.index, name)
	for k, i := range h.index {
		if i > idx {
			h.index[k] = i - 1
		}
	}
}

// Each calls fn for every (name, value) pair, in insertion order, matching
// how the header block is written back onto the wire.
func (h *Header) Each(fn func(name, value string)) {
	for i, name := range h.keys {
		for _, v := range h.values[i] {
			fn(name, v)
		}
	}
}
