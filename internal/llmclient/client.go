// Package llmclient is the shared HTTP plumbing under every provider
// adapter: breaker gate, retry loop, upstream error classification, and
// SSE stream establishment.
package llmclient

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"

	json "github.com/goccy/go-json"

	"github.com/ArmanHov2006/sentinel/internal/core"
	"github.com/ArmanHov2006/sentinel/internal/httpclient"
	"github.com/ArmanHov2006/sentinel/internal/resilience"
)

// HeaderSetter applies provider auth and version headers to a request.
type HeaderSetter func(req *http.Request)

// Request is one upstream call. Body is JSON-marshaled when non-nil.
type Request struct {
	Method   string
	Endpoint string
	Body     any
	Headers  map[string]string
}

// Response is a buffered upstream answer.
type Response struct {
	StatusCode int
	Body       []byte
	RetryAfter string
}

// Client executes provider requests through the owning adapter's
// breaker and retry policy. One Client per adapter; the breaker state
// is therefore per provider.
type Client struct {
	http       *http.Client
	streamHTTP *http.Client
	provider   string
	baseURL    string
	breaker    *resilience.Breaker
	retry      *resilience.RetryPolicy
	headers    HeaderSetter
}

// New builds a client with the default pooled transports: a deadlined
// one for request/response calls and an undeadlined one for SSE.
func New(provider, baseURL string, breaker *resilience.Breaker, retry *resilience.RetryPolicy, headers HeaderSetter) *Client {
	c := NewWithHTTPClient(httpclient.NewDefaultHTTPClient(), provider, baseURL, breaker, retry, headers)
	c.streamHTTP = httpclient.NewStreaming(httpclient.DefaultConfig())
	return c
}

// NewWithHTTPClient is New with a caller-supplied http.Client used for
// both profiles; tests point it at an httptest server.
func NewWithHTTPClient(hc *http.Client, provider, baseURL string, breaker *resilience.Breaker, retry *resilience.RetryPolicy, headers HeaderSetter) *Client {
	return &Client{
		http:       hc,
		streamHTTP: hc,
		provider:   provider,
		baseURL:    baseURL,
		breaker:    breaker,
		retry:      retry,
		headers:    headers,
	}
}

// Breaker exposes the adapter's breaker for availability checks, health
// reporting, and stream-completion accounting.
func (c *Client) Breaker() *resilience.Breaker { return c.breaker }

// Do runs the request through the breaker and retry policy, decoding
// the 200 body into result when non-nil. The terminal error, after
// retries, is recorded as a breaker failure.
func (c *Client) Do(ctx context.Context, req Request, result any) error {
	if !c.breaker.CanExecute() {
		return core.ErrCircuitOpen
	}

	var body []byte
	err := c.retry.Execute(ctx, func(ctx context.Context) error {
		resp, err := c.doRequest(ctx, req)
		if err != nil {
			return err
		}
		if resp.StatusCode != http.StatusOK {
			return core.ParseProviderError(c.provider, resp.StatusCode, resp.Body, resp.RetryAfter)
		}
		body = resp.Body
		return nil
	})
	if err != nil {
		c.breaker.RecordFailure()
		return err
	}

	c.breaker.RecordSuccess()
	if result != nil {
		if err := json.Unmarshal(body, result); err != nil {
			return &core.ProviderError{
				Provider:   c.provider,
				StatusCode: http.StatusBadGateway,
				Message:    "undecodable response body",
				Body:       string(body),
			}
		}
	}
	return nil
}

// DoStream establishes a streaming request and hands the body to the
// caller. Streams are never retried: partial output may already have
// been produced. Establishment failures count against the breaker;
// success is recorded by the adapter once the stream completes cleanly,
// via Breaker().
func (c *Client) DoStream(ctx context.Context, req Request) (io.ReadCloser, error) {
	if !c.breaker.CanExecute() {
		return nil, core.ErrCircuitOpen
	}

	httpReq, err := c.buildRequest(ctx, req)
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Accept", "text/event-stream")

	resp, err := c.streamHTTP.Do(httpReq)
	if err != nil {
		c.breaker.RecordFailure()
		return nil, &core.ProviderUnavailableError{
			Provider: c.provider,
			Message:  err.Error(),
		}
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 8192))
		resp.Body.Close()
		c.breaker.RecordFailure()
		return nil, core.ParseProviderError(c.provider, resp.StatusCode, body, resp.Header.Get("Retry-After"))
	}
	return resp.Body, nil
}

func (c *Client) doRequest(ctx context.Context, req Request) (*Response, error) {
	httpReq, err := c.buildRequest(ctx, req)
	if err != nil {
		return nil, err
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, &core.ProviderUnavailableError{
			Provider: c.provider,
			Message:  err.Error(),
		}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &core.ProviderUnavailableError{
			Provider: c.provider,
			Message:  "reading response: " + err.Error(),
		}
	}

	return &Response{
		StatusCode: resp.StatusCode,
		Body:       body,
		RetryAfter: resp.Header.Get("Retry-After"),
	}, nil
}

func (c *Client) buildRequest(ctx context.Context, req Request) (*http.Request, error) {
	var bodyReader io.Reader
	if req.Body != nil {
		data, err := json.Marshal(req.Body)
		if err != nil {
			return nil, fmt.Errorf("marshal request body: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, c.baseURL+req.Endpoint, bodyReader)
	if err != nil {
		return nil, err
	}
	if req.Body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	if c.headers != nil {
		c.headers(httpReq)
	}
	for k, v := range req.Headers {
		httpReq.Header.Set(k, v)
	}
	return httpReq, nil
}
