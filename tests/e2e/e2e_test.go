//go:build e2e

// Package e2e drives the assembled gateway over real HTTP against a mock
// upstream provider.
package e2e

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/ArmanHov2006/sentinel/internal/cache"
	"github.com/ArmanHov2006/sentinel/internal/core"
	"github.com/ArmanHov2006/sentinel/internal/observability"
	"github.com/ArmanHov2006/sentinel/internal/providers"
	"github.com/ArmanHov2006/sentinel/internal/providers/openai"
	"github.com/ArmanHov2006/sentinel/internal/ratelimit"
	"github.com/ArmanHov2006/sentinel/internal/server"
	"github.com/ArmanHov2006/sentinel/internal/shield"
)

// mockUpstream mimics the OpenAI chat completions dialect.
type mockUpstream struct {
	srv   *httptest.Server
	calls atomic.Int64
}

func newMockUpstream() *mockUpstream {
	m := &mockUpstream{}
	mux := http.NewServeMux()
	mux.HandleFunc("/models", func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"object":"list","data":[]}`)
	})
	mux.HandleFunc("/chat/completions", func(w http.ResponseWriter, r *http.Request) {
		m.calls.Add(1)
		body, _ := io.ReadAll(r.Body)
		if strings.Contains(string(body), `"stream":true`) {
			w.Header().Set("Content-Type", "text/event-stream")
			io.WriteString(w, "data: {\"choices\":[{\"delta\":{\"content\":\"The answer \"}}]}\n\n")
			io.WriteString(w, "data: {\"choices\":[{\"delta\":{\"content\":\"is 42.\"}}]}\n\n")
			io.WriteString(w, "data: [DONE]\n\n")
			return
		}
		io.WriteString(w, `{
			"model": "gpt-4",
			"choices": [{"message": {"role": "assistant", "content": "The answer is 42."}, "finish_reason": "stop"}],
			"usage": {"prompt_tokens": 9, "completion_tokens": 6}
		}`)
	})
	m.srv = httptest.NewServer(mux)
	return m
}

type gateway struct {
	srv      *httptest.Server
	upstream *mockUpstream
}

func startGateway(t *testing.T, masterKey string, rateLimit int) *gateway {
	t.Helper()

	upstream := newMockUpstream()
	t.Cleanup(upstream.srv.Close)

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	provider, err := openai.NewWithHTTPClient(providers.Config{
		APIKey:  "sk-test-key",
		BaseURL: upstream.srv.URL,
	}, upstream.srv.Client())
	if err != nil {
		t.Fatal(err)
	}

	registry := providers.NewRegistry()
	registry.Register(provider)

	handler := server.NewHandler(server.HandlerDeps{
		Router:       providers.NewRouter(registry, nil),
		Registry:     registry,
		Limiter:      ratelimit.NewLimiter(rdb, rateLimit, time.Minute),
		PII:          shield.NewShield(shield.PIIRedact, shield.NewRegexDetector()),
		Injection:    shield.NewInjectionDetector(shield.DefaultBlockThreshold, shield.DefaultWarnThreshold, shield.DefaultRules),
		Exact:        cache.NewExactCache(rdb, time.Hour),
		Metrics:      observability.NewCollector(),
		Redis:        rdb,
		RateLimitMax: rateLimit,
	})

	gw := httptest.NewServer(server.New(handler, &server.Config{MasterKey: masterKey}))
	t.Cleanup(gw.Close)
	return &gateway{srv: gw, upstream: upstream}
}

func (g *gateway) post(t *testing.T, body, token string) (*http.Response, []byte) {
	t.Helper()
	req, _ := http.NewRequest(http.MethodPost, g.srv.URL+"/v1/chat/completions", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	data, _ := io.ReadAll(resp.Body)
	return resp, data
}

const question = `{"model":"gpt-4","messages":[{"role":"user","content":"what is the answer to everything"}]}`

func TestCompletionRoundTrip(t *testing.T) {
	gw := startGateway(t, "", 100)

	resp, body := gw.post(t, question, "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, body %s", resp.StatusCode, body)
	}

	var out struct {
		ID       string `json:"id"`
		Object   string `json:"object"`
		Provider string `json:"provider"`
		Choices  []struct {
			Message      core.Message `json:"message"`
			FinishReason string       `json:"finish_reason"`
		} `json:"choices"`
		Usage struct {
			TotalTokens int `json:"total_tokens"`
		} `json:"usage"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		t.Fatal(err)
	}
	if len(out.Choices) != 1 || out.Choices[0].Message.Content != "The answer is 42." {
		t.Errorf("response = %+v", out)
	}
	if out.Provider != "openai" || out.Object != "chat.completion" {
		t.Errorf("response = %+v", out)
	}
	if out.Usage.TotalTokens != 15 {
		t.Errorf("usage total = %d", out.Usage.TotalTokens)
	}
	if resp.Header.Get("X-Request-ID") == "" {
		t.Error("missing X-Request-ID")
	}
}

func TestRepeatServedFromCache(t *testing.T) {
	gw := startGateway(t, "", 100)

	gw.post(t, question, "")
	gw.post(t, question, "")

	if calls := gw.upstream.calls.Load(); calls != 1 {
		t.Errorf("upstream calls = %d, want 1 with repeat cached", calls)
	}
}

func TestRateLimitOverHTTP(t *testing.T) {
	gw := startGateway(t, "", 2)

	var last int
	for i := 0; i < 3; i++ {
		resp, _ := gw.post(t, question, "")
		last = resp.StatusCode
	}
	if last != http.StatusTooManyRequests {
		t.Errorf("third request status = %d, want 429", last)
	}
}

func TestStreamingOverHTTP(t *testing.T) {
	gw := startGateway(t, "", 100)

	body := `{"model":"gpt-4","stream":true,"messages":[{"role":"user","content":"what is the answer"}]}`
	resp, data := gw.post(t, body, "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}

	text := string(data)
	if !strings.Contains(text, `"content":"The answer "`) || !strings.Contains(text, `"content":"is 42."`) {
		t.Errorf("stream body:\n%s", text)
	}
	if !strings.Contains(text, "data: [DONE]") {
		t.Errorf("stream missing DONE:\n%s", text)
	}
}

func TestMasterKeyAuth(t *testing.T) {
	gw := startGateway(t, "sekrit", 100)

	resp, _ := gw.post(t, question, "")
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("unauthenticated status = %d, want 401", resp.StatusCode)
	}

	resp, _ = gw.post(t, question, "wrong")
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("wrong key status = %d, want 401", resp.StatusCode)
	}

	resp, _ = gw.post(t, question, "sekrit")
	if resp.StatusCode != http.StatusOK {
		t.Errorf("authenticated status = %d, want 200", resp.StatusCode)
	}

	// Health stays public.
	hresp, err := http.Get(gw.srv.URL + "/health")
	if err != nil {
		t.Fatal(err)
	}
	hresp.Body.Close()
	if hresp.StatusCode != http.StatusOK {
		t.Errorf("health status = %d", hresp.StatusCode)
	}
}
