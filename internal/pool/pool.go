// Package pool implements the outbound connection cache described in
// spec.md §4.3 (ClientConnCache / C3), grounded on TConnCache in
// library/neh/https.cpp for the cache/purge algorithms and on
// shockwave/pkg/shockwave/client/pool.go for the Go-native idle-bucket
// shape (per-host LIFO stack, atomic counters, background workers).
package pool

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/watt-toolkit/httpsx/internal/socket"
	"github.com/watt-toolkit/httpsx/internal/tlsstream"
)

// Limits bounds how many outbound connections the cache will hold open at
// once, mirroring SetHttpOutputConnectionsLimits(soft, hard) from the
// source.
type Limits struct {
	// Soft is the point past which the purge worker starts reclaiming
	// idle connections proactively.
	Soft int64
	// Hard is a semaphore-enforced ceiling: Connect fails synchronously
	// with "output connections limit reached" rather than block once it
	// is reached.
	Hard int64
}

// Handshaker performs whatever handshake (TLS or otherwise) turns a fresh
// TCP connection into a usable Stream. reqjob.Handshake adapts
// tlsstream.Client to this signature.
type Handshaker func(ctx context.Context, raw net.Conn, tlsConfig *tls.Config, serverName string) (*tlsstream.Stream, error)

// Conn is a pooled, already-handshaken outbound connection.
type Conn struct {
	stream    *tlsstream.Stream
	host      string
	tlsConfig *tls.Config
	createdAt time.Time
	lastUsed  time.Time
}

// Stream returns the underlying TLS stream for issuing a request.
func (c *Conn) Stream() *tlsstream.Stream { return c.stream }

// hostBucket is a mutex-guarded LIFO idle-connection stack for one host.
// A lock-free treiber stack was considered (and is what an earlier design
// note claimed), but a plain slice behind a short-held sync.Mutex is what
// shockwave/pkg/shockwave/client/pool.go itself uses for the same shape,
// and the critical sections here (push/pop/drain) are only ever a slice
// append/truncate — not worth a CAS-based structure.
type hostBucket struct {
	mu   sync.Mutex
	idle []*Conn
}

// Cache is the per-process outbound connection pool, keyed by the host
// string the caller passes to Connect (reqjob uses the resolved host id
// plus any pinned client cert/key paths).
type Cache struct {
	dialer     net.Dialer
	handshake  Handshaker
	limitsMu   sync.RWMutex
	limits     Limits
	sem        *semaphore.Weighted

	mu      sync.RWMutex
	buckets map[string]*hostBucket

	active atomic.Int64
	cached atomic.Int64
	purged atomic.Int64

	// maxBucketID is the largest number of distinct hosts ever seen at
	// once, standing in for the source's max_bucket_id (the largest
	// numeric host id ever seen); it gates the purge worker per spec.md
	// §4.3's "skip if cached ≤ max(64, max_bucket_id/16)" rule.
	maxBucketID atomic.Int64

	closing atomic.Bool
	stopCh  chan struct{}

	metrics *poolMetrics
}

const (
	connectBackoffSeed    = 8 * time.Millisecond
	connectDeadlineBudget = 10 * time.Second
	reserveConnectBudget  = 300 * time.Millisecond
	purgeInterval         = 200 * time.Millisecond
	purgeSleepEvery       = 64
	purgeSleepFor         = 10 * time.Millisecond
	purgeGuardFloor       = 64
	// purgeFracFloor is the source's 256/32 lower clamp on frac256, so a
	// signalled purge always removes at least 1/32 of each bucket.
	purgeFracFloor = 256 / 32
)

// exceed implements FdLimits.exceed(n, limit) = max(0, n - limit).
func exceed(n, limit int64) int64 {
	d := n - limit
	if d < 0 {
		return 0
	}
	return d
}

// New builds a Cache with the given limits and handshake function, and
// starts its background purge worker.
func New(limits Limits, handshake Handshaker) *Cache {
	if limits.Hard <= 0 {
		limits.Hard = 1
	}
	c := &Cache{
		handshake: handshake,
		limits:    limits,
		sem:       semaphore.NewWeighted(limits.Hard),
		buckets:   make(map[string]*hostBucket),
		stopCh:    make(chan struct{}),
		metrics:   newPoolMetrics(),
	}
	go c.purgeLoop()
	return c
}

// SetLimits adjusts the soft/hard limits at runtime. The hard limit only
// affects future acquisitions: connections already checked out are not
// forcibly closed.
func (c *Cache) SetLimits(limits Limits) {
	if limits.Hard <= 0 {
		limits.Hard = 1
	}
	c.limitsMu.Lock()
	old := c.limits
	c.limits = limits
	c.limitsMu.Unlock()

	if delta := limits.Hard - old.Hard; delta != 0 {
		if delta > 0 {
			c.sem.Release(delta)
		} else {
			// Best effort: shrink by acquiring the difference so future
			// callers see the tighter ceiling; never blocks callers of
			// SetLimits itself.
			go func(n int64) {
				_ = c.sem.Acquire(context.Background(), n)
			}(-delta)
		}
	}
}

func (c *Cache) getLimits() Limits {
	c.limitsMu.RLock()
	defer c.limitsMu.RUnlock()
	return c.limits
}

// Close stops the purge worker. Cached idle connections are closed;
// checked-out connections are left alone.
func (c *Cache) Close() error {
	if !c.closing.CompareAndSwap(false, true) {
		return nil
	}
	close(c.stopCh)

	c.mu.RLock()
	buckets := make([]*hostBucket, 0, len(c.buckets))
	for _, b := range c.buckets {
		buckets = append(buckets, b)
	}
	c.mu.RUnlock()

	for _, b := range buckets {
		b.mu.Lock()
		for _, conn := range b.idle {
			conn.stream.Close()
			c.cached.Add(-1)
		}
		b.idle = nil
		b.mu.Unlock()
	}
	return nil
}

// Connect returns a usable connection to host under one of addrs (an
// ordered list of resolved socket addresses, per spec.md §3's
// ResolvedHost.addrs): an idle cached connection if one is available,
// otherwise a freshly dialed and handshaken one. serverName is used for TLS
// SNI/hostname verification. The returned bool reports whether the
// connection was reused from the idle cache, per spec.md §3's
// ConnectionHandle{reused}.
func (c *Cache) Connect(ctx context.Context, host string, addrs []string, serverName string, tlsConfig *tls.Config) (*Conn, bool, error) {
	if conn, ok, emptied := c.popIdle(host); ok {
		c.metrics.hits.Inc()
		c.active.Add(1)
		c.metrics.active.Inc()
		if emptied {
			// spec.md §4.3 step 2: refill optimistically once the bucket
			// we just drained from is empty.
			go c.reserveConnect(host, addrs, serverName, tlsConfig)
		}
		return conn, true, nil
	}
	c.metrics.misses.Inc()

	if len(addrs) == 0 {
		return nil, false, fmt.Errorf("pool: no addresses for %s", host)
	}

	if !c.sem.TryAcquire(1) {
		return nil, false, fmt.Errorf("pool: output connections limit reached")
	}

	// spec.md §4.3 step 4: race a background reserve connector against the
	// primary dial below; whichever deposits a socket first wins.
	go c.reserveConnect(host, addrs, serverName, tlsConfig)

	// The primary dial only ever targets addrs[0]; failing over to the
	// rest of the list is the reserve connector's job.
	conn, err := c.dialAndHandshake(ctx, host, addrs[0], serverName, tlsConfig)
	if err != nil {
		c.sem.Release(1)
		return nil, false, err
	}

	c.active.Add(1)
	c.metrics.active.Inc()
	return conn, false, nil
}

// reserveConnect opportunistically opens one extra socket for host and
// deposits it into the idle bucket, per spec.md §4.3's reserve connector
// task: unlike the primary dial, it iterates through every resolved
// address with a 300ms per-address deadline apiece, rather than retrying a
// single address with backoff. It fires both when popIdle empties a bucket
// (to refill optimistically) and as a race against the primary dial on a
// cache miss. Failure is silent by design: whoever called Connect always
// has its own dial attempt in flight (or already succeeded) to fall back
// on.
func (c *Cache) reserveConnect(host string, addrs []string, serverName string, tlsConfig *tls.Config) {
	if !c.sem.TryAcquire(1) {
		return
	}

	for _, addr := range addrs {
		ctx, cancel := context.WithTimeout(context.Background(), reserveConnectBudget)
		conn, err := c.dialAttempt(ctx, host, addr, serverName, tlsConfig)
		cancel()
		if err == nil {
			// The reserve connector dials on nobody's behalf: the socket
			// goes straight into the idle bucket, never through active.
			c.depositIdle(conn)
			return
		}
	}
	c.sem.Release(1)
}

// dialAttempt performs one dial-and-handshake to addr with no retry, used
// both by dialAndHandshake's backoff loop and by reserveConnect's
// per-address iteration.
func (c *Cache) dialAttempt(ctx context.Context, host, addr, serverName string, tlsConfig *tls.Config) (*Conn, error) {
	raw, err := c.dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}

	if err := socket.PrepareOutbound(raw); err != nil {
		raw.Close()
		return nil, fmt.Errorf("pool: prepare socket: %w", err)
	}

	stream, err := c.handshake(ctx, raw, tlsConfig, serverName)
	if err != nil {
		raw.Close()
		return nil, err
	}

	return &Conn{
		stream:    stream,
		host:      host,
		tlsConfig: tlsConfig,
		createdAt: time.Now(),
		lastUsed:  time.Now(),
	}, nil
}

// dialAndHandshake retries a single address, giving each attempt a
// dial-and-handshake timeout that starts at 8ms and doubles, bounded by a
// 10s overall deadline, matching TConnCache's TConnector reconnection loop
// against host.addrs[0]. There is no pause between attempts: an attempt
// that fails at once is retried at once. On each
// retry it also checks whether a racing reserve connector (see
// reserveConnect) has already deposited a live socket for host; if so it
// adopts that socket instead of continuing its own attempt, per spec.md
// §4.3 step 4.
func (c *Cache) dialAndHandshake(ctx context.Context, host, addr, serverName string, tlsConfig *tls.Config) (*Conn, error) {
	step := connectBackoffSeed
	deadline := time.Now().Add(connectDeadlineBudget)
	var lastErr error

	for {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, fmt.Errorf("pool: connect to %s: %w", addr, lastErr)
		}

		attemptTimeout := step
		if attemptTimeout > remaining {
			attemptTimeout = remaining
		}
		dialCtx, cancel := context.WithTimeout(ctx, attemptTimeout)
		conn, err := c.dialAttempt(dialCtx, host, addr, serverName, tlsConfig)
		cancel()

		if err != nil {
			lastErr = err
			if adopted, ok, _ := c.popIdle(host); ok {
				// The racing reserve connector beat us to it. The permit
				// we hold for this abandoned dial attempt is redundant:
				// adopted already carries the permit it was dialed under.
				c.sem.Release(1)
				return adopted, nil
			}
			step *= 2
			if step > remaining {
				step = remaining
			}
			continue
		}

		return conn, nil
	}
}

// Release returns conn to its host's idle bucket if healthy is true and
// the cache isn't shutting down, otherwise closes it and reclaims its
// permit.
func (c *Cache) Release(conn *Conn, healthy bool) {
	if !healthy || c.closing.Load() {
		c.discard(conn)
		return
	}

	c.active.Add(-1)
	c.metrics.active.Dec()
	c.depositIdle(conn)
}

// depositIdle pushes conn into its host's idle bucket and counts it as
// cached, without touching the active counter. Release uses it once it has
// already moved conn out of active; reserveConnect uses it directly, since
// a reserve-connected socket was never checked out by anyone.
func (c *Cache) depositIdle(conn *Conn) {
	conn.lastUsed = time.Now()
	b := c.bucketFor(conn.host)
	b.mu.Lock()
	b.idle = append(b.idle, conn)
	b.mu.Unlock()

	c.cached.Add(1)
	c.metrics.cached.Inc()
}

func (c *Cache) discard(conn *Conn) {
	conn.stream.Close()
	c.active.Add(-1)
	c.metrics.active.Dec()
	c.sem.Release(1)
}

// popIdle pops the most recently released connection for host, probing
// each candidate with the "still open" liveness test before handing it
// back (spec.md §4.3 step 2 / Testable Property 3): dead sockets are
// discarded and draining continues until a live one is found or the
// bucket runs dry. emptied reports whether the pop left the bucket empty,
// which callers use to decide whether to refill it optimistically.
func (c *Cache) popIdle(host string) (conn *Conn, ok bool, emptied bool) {
	b := c.bucketFor(host)
	for {
		b.mu.Lock()
		n := len(b.idle)
		if n == 0 {
			b.mu.Unlock()
			return nil, false, false
		}
		candidate := b.idle[n-1]
		b.idle = b.idle[:n-1]
		empty := len(b.idle) == 0
		b.mu.Unlock()

		c.cached.Add(-1)
		c.metrics.cached.Dec()

		if !candidate.stream.IsAlive() {
			// candidate was cached, not active: only its cache slot and
			// its semaphore permit need reclaiming.
			candidate.stream.Close()
			c.sem.Release(1)
			continue
		}

		return candidate, true, empty
	}
}

func (c *Cache) bucketFor(host string) *hostBucket {
	c.mu.RLock()
	b, ok := c.buckets[host]
	c.mu.RUnlock()
	if ok {
		return b
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if b, ok := c.buckets[host]; ok {
		return b
	}
	b = &hostBucket{}
	c.buckets[host] = b
	c.maxBucketID.Store(int64(len(c.buckets)))
	return b
}

// Stats reports the cache's current occupancy.
type Stats struct {
	Active int64
	Cached int64
	Purged int64
}

func (c *Cache) Stats() Stats {
	return Stats{
		Active: c.active.Load(),
		Cached: c.cached.Load(),
		Purged: c.purged.Load(),
	}
}

func (c *Cache) purgeLoop() {
	ticker := time.NewTicker(purgeInterval)
	defer ticker.Stop()
	for {
		select {
		case <-c.stopCh:
			return
		case <-ticker.C:
			if c.suggestPurge() {
				c.purgeOnce()
			}
		}
	}
}

// suggestPurge translates TConnCache::SuggestPurgeCache: closeness grows
// as active approaches the hard limit relative to the fixed soft/hard gap,
// uselessness grows as the cached fraction of active connections grows,
// and a purge triggers once their sum crosses 256 (one "whole" on the
// fixed-point 0..256 scale the source uses throughout this calculation).
// Per spec.md §4.3 / Testable Property 5, the whole check is skipped while
// cached is small relative to how many distinct hosts the cache has ever
// tracked, so a lightly used pool is never bothered by the purge worker.
func (c *Cache) suggestPurge() bool {
	limits := c.getLimits()
	active := c.active.Load()
	cached := c.cached.Load()

	guardThreshold := c.maxBucketID.Load() / 16
	if guardThreshold < purgeGuardFloor {
		guardThreshold = purgeGuardFloor
	}
	if cached <= guardThreshold {
		return false
	}

	// FdLimits.delta is the fixed soft/hard gap (spec.md §3), not a
	// function of the live active count.
	delta := limits.Hard - limits.Soft
	if delta < 0 {
		delta = 0
	}

	closeness := (active + 1) * 256 / (delta + 1)
	uselessness := (cached + 1) * 256 / (active + 1)
	return closeness+uselessness >= 256
}

// purgeFraction computes the fraction of each bucket to evict once a purge
// has been signalled, per spec.md §4.3's purge worker: frac256 =
// clamp(exceed_soft*256/(cached+1), 256/32, 256), where exceed_soft is how
// far active+cached has crossed the soft limit. This is a distinct
// quantity from suggestPurge's closeness/uselessness sum: that sum decides
// whether to purge at all, this decides how much once triggered.
func purgeFraction(active, cached, soft int64) int64 {
	exceedSoft := exceed(active+cached, soft)
	frac := exceedSoft * 256 / (cached + 1)
	if frac < purgeFracFloor {
		frac = purgeFracFloor
	}
	if frac > 256 {
		frac = 256
	}
	return frac
}

// purgeOnce evicts roughly frac256/256 of each host bucket's idle
// connections, sleeping briefly every 64 discards to cap the cleanup rate
// at roughly 6400/s, matching the source's PurgeCache loop.
func (c *Cache) purgeOnce() {
	limits := c.getLimits()
	frac256 := purgeFraction(c.active.Load(), c.cached.Load(), limits.Soft)

	c.mu.RLock()
	buckets := make([]*hostBucket, 0, len(c.buckets))
	for _, b := range c.buckets {
		buckets = append(buckets, b)
	}
	c.mu.RUnlock()

	discarded := 0
	for _, b := range buckets {
		b.mu.Lock()
		n := len(b.idle)
		toEvict := int(int64(n) * frac256 / 256)
		evicted := b.idle[:toEvict]
		b.idle = b.idle[toEvict:]
		b.mu.Unlock()

		for _, conn := range evicted {
			conn.stream.Close()
			c.cached.Add(-1)
			c.metrics.cached.Dec()
			c.sem.Release(1)
			c.purged.Add(1)
			c.metrics.purged.Inc()

			discarded++
			if discarded%purgeSleepEvery == 0 {
				time.Sleep(purgeSleepFor)
			}
		}
	}
}
