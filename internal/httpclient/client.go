// Package httpclient builds the pooled HTTP clients used for upstream
// provider calls. Two profiles exist: a request/response client with an
// overall deadline, and a streaming client without one, because an SSE
// completion can legitimately outlive any fixed request timeout.
package httpclient

import (
	"net"
	"net/http"
	"time"
)

// Config tunes the shared transport.
type Config struct {
	MaxIdleConns        int
	MaxIdleConnsPerHost int
	IdleConnTimeout     time.Duration
	DialTimeout         time.Duration
	TLSHandshakeTimeout time.Duration

	// RequestTimeout bounds a whole request/response exchange. It is
	// ignored for streaming clients.
	RequestTimeout time.Duration

	// ResponseHeaderTimeout bounds the wait for upstream headers. This
	// is the knob that still protects streaming calls from a hung
	// upstream.
	ResponseHeaderTimeout time.Duration
}

// DefaultConfig returns the tuning used for provider traffic.
func DefaultConfig() Config {
	return Config{
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   20,
		IdleConnTimeout:       90 * time.Second,
		DialTimeout:           10 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		RequestTimeout:        120 * time.Second,
		ResponseHeaderTimeout: 30 * time.Second,
	}
}

func transport(cfg Config) *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   cfg.DialTimeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:          cfg.MaxIdleConns,
		MaxIdleConnsPerHost:   cfg.MaxIdleConnsPerHost,
		IdleConnTimeout:       cfg.IdleConnTimeout,
		TLSHandshakeTimeout:   cfg.TLSHandshakeTimeout,
		ResponseHeaderTimeout: cfg.ResponseHeaderTimeout,
		ForceAttemptHTTP2:     true,
	}
}

// New returns a client for non-streaming provider calls.
func New(cfg Config) *http.Client {
	return &http.Client{
		Transport: transport(cfg),
		Timeout:   cfg.RequestTimeout,
	}
}

// NewStreaming returns a client without an overall deadline, for SSE.
// Cancellation comes from the request context instead.
func NewStreaming(cfg Config) *http.Client {
	return &http.Client{Transport: transport(cfg)}
}

// NewDefaultHTTPClient returns New(DefaultConfig()).
func NewDefaultHTTPClient() *http.Client {
	return New(DefaultConfig())
}
