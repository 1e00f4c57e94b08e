//go:build stress

// Package stress hammers the assembled gateway with concurrent traffic
// and checks that nothing is lost or double counted.
package stress

import (
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/ArmanHov2006/sentinel/internal/cache"
	"github.com/ArmanHov2006/sentinel/internal/observability"
	"github.com/ArmanHov2006/sentinel/internal/providers"
	"github.com/ArmanHov2006/sentinel/internal/providers/openai"
	"github.com/ArmanHov2006/sentinel/internal/ratelimit"
	"github.com/ArmanHov2006/sentinel/internal/server"
	"github.com/ArmanHov2006/sentinel/internal/shield"
)

func buildGateway(t *testing.T, collector *observability.Collector, rateLimit int) (*server.Server, *atomic.Int64) {
	t.Helper()

	var upstreamCalls atomic.Int64
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		upstreamCalls.Add(1)
		io.WriteString(w, `{
			"model": "gpt-4",
			"choices": [{"message": {"role": "assistant", "content": "ok"}, "finish_reason": "stop"}],
			"usage": {"prompt_tokens": 1, "completion_tokens": 1}
		}`)
	}))
	t.Cleanup(upstream.Close)

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr(), PoolSize: 64})
	t.Cleanup(func() { rdb.Close() })

	provider, err := openai.NewWithHTTPClient(providers.Config{
		APIKey:  "sk-test",
		BaseURL: upstream.URL,
	}, upstream.Client())
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
		Metrics:      collector,
		Redis:        rdb,
		RateLimitMax: rateLimit,
	})
	return server.New(handler, nil), &upstreamCalls
}

func TestConcurrentCompletions(t *testing.T) {
	const (
		workers  = 32
		requests = 25
	)

	collector := observability.NewCollector()
	srv, _ := buildGateway(t, collector, workers*requests+1)

	var (
		wg      sync.WaitGroup
		ok      atomic.Int64
		failed  atomic.Int64
		blocked atomic.Int64
	)

	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			for i := 0; i < requests; i++ {
				// Distinct content per worker keeps the cache out of the way.
				body := fmt.Sprintf(`{"model":"gpt-4","messages":[{"role":"user","content":"question %d from worker %d"}]}`, i, worker)
				req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", strings.NewReader(body))
				req.Header.Set("Content-Type", "application/json")
				rec := httptest.NewRecorder()
				srv.ServeHTTP(rec, req)

				switch rec.Code {
				case http.StatusOK:
					ok.Add(1)
				case http.StatusBadRequest:
					blocked.Add(1)
				default:
					failed.Add(1)
				}
			}
		}(w)
	}
	wg.Wait()

	total := int64(workers * requests)
	if got := ok.Load() + blocked.Load() + failed.Load(); got != total {
		t.Fatalf("accounted responses = %d, want %d", got, total)
	}
	if failed.Load() != 0 {
		t.Errorf("unexpected failures: %d", failed.Load())
	}
	if got := collector.Counter(observability.MetricRequestsTotal); got != total {
		t.Errorf("requests_total = %d, want %d", got, total)
	}
	if got := collector.Gauge(observability.MetricActiveRequests); got != 0 {
		t.Errorf("active_requests settled at %d, want 0", got)
	}
}

func TestConcurrentRepeatsShareCache(t *testing.T) {
	const workers = 16

	collector := observability.NewCollector()
	srv, upstreamCalls := buildGateway(t, collector, 10000)

	// Warm the cache, then hammer the same request.
	warm := httptest.NewRequest(http.MethodPost, "/v1/chat/completions",
		strings.NewReader(`{"model":"gpt-4","messages":[{"role":"user","content":"same question"}]}`))
	warm.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, warm)
	if rec.Code != http.StatusOK {
		t.Fatalf("warmup status = %d", rec.Code)
	}

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 20; i++ {
				req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions",
					strings.NewReader(`{"model":"gpt-4","messages":[{"role":"user","content":"same question"}]}`))
				req.Header.Set("Content-Type", "application/json")
				rec := httptest.NewRecorder()
				srv.ServeHTTP(rec, req)
				if rec.Code != http.StatusOK {
					t.Errorf("status = %d", rec.Code)
					return
				}
			}
		}()
	}
	wg.Wait()

	if calls := upstreamCalls.Load(); calls != 1 {
		t.Errorf("upstream calls = %d, want 1 after warmup", calls)
	}
	if hits := collector.Counter(observability.MetricCacheHits); hits != int64(workers*20) {
		t.Errorf("cache_hits = %d, want %d", hits, workers*20)
	}
}
