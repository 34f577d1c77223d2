// Package httpsx is a coroutine-free, goroutine-native HTTPS transport
// core: a connection-pooled client for the https/fulls/posts URL schemes
// and a TLS server pipeline, translating library/neh/https.cpp's
// scheduler-bound design into idiomatic Go built on crypto/tls, x/sync,
// and x/sys.
package httpsx

import (
	"context"
	"log/slog"

	"github.com/watt-toolkit/httpsx/internal/location"
	"github.com/watt-toolkit/httpsx/internal/pool"
	"github.com/watt-toolkit/httpsx/internal/reqjob"
	"github.com/watt-toolkit/httpsx/internal/resolvedhost"
	"github.com/watt-toolkit/httpsx/internal/tlsconfig"
)

// Response is a fully-read HTTP response body plus status/headers.
type Response = reqjob.Result

// Client issues requests over a shared, pooled set of outbound TLS
// connections.
type Client struct {
	pool     *pool.Cache
	resolver *resolvedhost.Registry
	runner   *reqjob.Runner
	tlsOpts  tlsconfig.Options
}

// ClientOption configures a Client at construction time.
type ClientOption func(*clientConfig)

type clientConfig struct {
	limits  pool.Limits
	tlsOpts tlsconfig.Options
	logger  *slog.Logger
}

// WithOutputConnectionLimits sets the soft/hard outbound connection
// limits, per SetHttpOutputConnectionsLimits in the source.
func WithOutputConnectionLimits(soft, hard int64) ClientOption {
	return func(c *clientConfig) { c.limits = pool.Limits{Soft: soft, Hard: hard} }
}

// WithTLSOptions installs the client's TLS trust/identity configuration.
func WithTLSOptions(opts tlsconfig.Options) ClientOption {
	return func(c *clientConfig) { c.tlsOpts = opts }
}

// WithLogger installs a structured logger; the default is slog.Default().
func WithLogger(logger *slog.Logger) ClientOption {
	return func(c *clientConfig) { c.logger = logger }
}

// NewClient builds a Client. With no options, outbound connections are
// limited to a generous default and no client certificate is presented.
func NewClient(opts ...ClientOption) *Client {
	cfg := clientConfig{limits: pool.Limits{Soft: 100, Hard: 1000}}
	for _, opt := range opts {
		opt(&cfg)
	}

	cache := pool.New(cfg.limits, reqjob.Handshake)
	resolver := resolvedhost.NewRegistry(nil)
	runner := reqjob.New(cache, resolver, cfg.tlsOpts, cfg.logger)

	return &Client{pool: cache, resolver: resolver, runner: runner, tlsOpts: cfg.tlsOpts}
}

// Get issues a GET request against rawURL, which must use the https
// scheme.
func (c *Client) Get(ctx context.Context, rawURL string) (*Response, error) {
	return c.Do(ctx, rawURL, nil)
}

// Post issues a POST request against rawURL, which must use the posts
// scheme, with body as the request payload.
func (c *Client) Post(ctx context.Context, rawURL string, body []byte) (*Response, error) {
	return c.Do(ctx, rawURL, body)
}

// Do parses rawURL and dispatches it according to its scheme (https,
// fulls, or posts), per spec.md §4.4.
func (c *Client) Do(ctx context.Context, rawURL string, body []byte) (*Response, error) {
	loc, err := location.Parse(rawURL)
	if err != nil {
		return nil, err
	}
	return c.runner.Run(ctx, reqjob.Message{Location: loc, Body: body})
}

// SetOutputConnectionLimits adjusts the outbound connection pool's
// soft/hard limits at runtime.
func (c *Client) SetOutputConnectionLimits(soft, hard int64) {
	c.pool.SetLimits(pool.Limits{Soft: soft, Hard: hard})
}

// PoolStats reports the outbound pool's current occupancy.
func (c *Client) PoolStats() pool.Stats { return c.pool.Stats() }

// Close releases the client's idle pooled connections and stops its
// background purge worker.
func (c *Client) Close() error { return c.pool.Close() }
