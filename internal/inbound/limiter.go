// Package inbound tracks the process-wide count of live inbound
// connections and derives an adaptive keepalive timeout from it, grounded
// on TInputConnections in library/neh/https.cpp (C5 in spec.md §4.5).
package inbound

import (
	"sync/atomic"
	"time"
)

// Limiter is a process-wide singleton; the source keeps exactly one
// TInputConnections instance per process too, configured once via
// SetHttpInputConnectionsLimits.
type Limiter struct {
	active atomic.Int64
	soft   atomic.Int64
	hard   atomic.Int64

	minKeepalive atomic.Int64 // nanoseconds
	maxKeepalive atomic.Int64 // nanoseconds

	metrics *inboundMetrics
}

// New builds a Limiter with the given soft/hard connection limits and
// default keepalive bounds. A hard limit of 0 means unlimited.
func New(soft, hard int64) *Limiter {
	l := &Limiter{metrics: newInboundMetrics()}
	l.soft.Store(soft)
	l.hard.Store(hard)
	l.minKeepalive.Store(int64(time.Second))
	l.maxKeepalive.Store(int64(60 * time.Second))
	return l
}

// SetLimits updates the soft/hard connection limits at runtime.
func (l *Limiter) SetLimits(soft, hard int64) {
	l.soft.Store(soft)
	l.hard.Store(hard)
}

// SetKeepaliveTimeouts updates the min/max keepalive timeout bounds used
// by UnusedKeepaliveTimeout.
func (l *Limiter) SetKeepaliveTimeouts(min, max time.Duration) {
	l.minKeepalive.Store(int64(min))
	l.maxKeepalive.Store(int64(max))
}

// Acquire admits one more inbound connection, returning ok=false if doing
// so would exceed the hard limit. The caller must call the returned
// release function exactly once (on connection close) when ok is true.
func (l *Limiter) Acquire() (release func(), ok bool) {
	hard := l.hard.Load()
	if hard > 0 && l.active.Load() >= hard {
		return nil, false
	}
	l.active.Add(1)
	l.metrics.active.Set(float64(l.active.Load()))
	var released atomic.Bool
	return func() {
		if released.CompareAndSwap(false, true) {
			l.active.Add(-1)
			l.metrics.active.Set(float64(l.active.Load()))
		}
	}, true
}

// Active returns the current number of admitted inbound connections.
func (l *Limiter) Active() int64 { return l.active.Load() }

// UnusedKeepaliveTimeout computes how long an idle-but-open inbound
// connection should be allowed to sit before the server closes it,
// per spec.md §4.5: below the soft limit, connections get the maximum
// keepalive timeout; above it, the timeout shrinks proportionally to how
// far active is past soft relative to the remaining headroom under hard,
// so that a connection surge trims idle time first instead of refusing
// new connections outright.
func (l *Limiter) UnusedKeepaliveTimeout() time.Duration {
	active := l.active.Load()
	soft := l.soft.Load()
	hard := l.hard.Load()
	minKA := time.Duration(l.minKeepalive.Load())
	maxKA := time.Duration(l.maxKeepalive.Load())

	if soft <= 0 || active < soft {
		l.metrics.keepaliveSeconds.Set(maxKA.Seconds())
		return maxKA
	}

	delta := hard - soft
	if delta < 0 {
		delta = 0
	}
	remaining := hard - active
	if remaining < 0 {
		remaining = 0
	}

	scaled := time.Duration(int64(maxKA) * remaining / (delta + 1))
	if scaled < minKA {
		scaled = minKA
	}
	l.metrics.keepaliveSeconds.Set(scaled.Seconds())
	return scaled
}
