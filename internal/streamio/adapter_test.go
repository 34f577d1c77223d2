package streamio

import (
	"net"
	"sync/atomic"
	"testing"
	"time"
)

func TestGrowTimeoutCapsAtCeiling(t *testing.T) {
	got := growTimeout(maxReadTimeout)
	if got != maxReadTimeout {
		t.Errorf("growTimeout(ceiling) = %v, want unchanged ceiling %v", got, maxReadTimeout)
	}

	got = growTimeout(700 * time.Millisecond)
	if got != maxReadTimeout {
		t.Errorf("growTimeout(700ms) = %v, want capped to %v", got, maxReadTimeout)
	}
}

func TestGrowTimeoutGrowsByHalf(t *testing.T) {
	got := growTimeout(10 * time.Millisecond)
	want := 15 * time.Millisecond
	if got != want {
		t.Errorf("growTimeout(10ms) = %v, want %v", got, want)
	}
}

func TestReadWithoutCancelFlagIsPlainRead(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	a := New(client)
	go server.Write([]byte("hello"))

	buf := make([]byte, 5)
	n, err := a.Read(buf)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if string(buf[:n]) != "hello" {
		t.Errorf("Read = %q, want %q", buf[:n], "hello")
	}
}

func TestReadReturnsErrCancelledWhenFlagSet(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	a := New(client)
	var cancel atomic.Bool
	a.SetCancelFlag(&cancel)
	cancel.Store(true)

	_, err := a.Read(make([]byte, 1))
	if err != ErrCancelled {
		t.Fatalf("Read err = %v, want ErrCancelled", err)
	}
}

func TestWriteReturnsErrCancelledWhenFlagSet(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	a := New(client)
	var cancel atomic.Bool
	a.SetCancelFlag(&cancel)
	cancel.Store(true)

	_, err := a.Write([]byte("x"))
	if err != ErrCancelled {
		t.Fatalf("Write err = %v, want ErrCancelled", err)
	}
}

func TestFlushAlwaysSucceeds(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	a := New(client)
	if err := a.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}
}
