// Package main is the entry point for the sentinel LLM gateway.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ArmanHov2006/sentinel/config"
	"github.com/ArmanHov2006/sentinel/internal/cache"
	"github.com/ArmanHov2006/sentinel/internal/cache/semantic"
	"github.com/ArmanHov2006/sentinel/internal/httpclient"
	"github.com/ArmanHov2006/sentinel/internal/judge"
	"github.com/ArmanHov2006/sentinel/internal/observability"
	"github.com/ArmanHov2006/sentinel/internal/providers"
	"github.com/ArmanHov2006/sentinel/internal/ratelimit"
	"github.com/ArmanHov2006/sentinel/internal/server"
	"github.com/ArmanHov2006/sentinel/internal/shield"
	"github.com/ArmanHov2006/sentinel/internal/version"

	// Import provider packages to trigger their init() registration
	_ "github.com/ArmanHov2006/sentinel/internal/providers/anthropic"
	_ "github.com/ArmanHov2006/sentinel/internal/providers/groq"
	_ "github.com/ArmanHov2006/sentinel/internal/providers/openai"
)

// connectKV dials the shared KV store. A failed ping is not fatal: the
// gateway runs degraded (no rate limiting, no exact cache, no judge
// records) rather than refusing to start.
func connectKV(cfg *config.Config) *redis.Client {
	rdb := redis.NewClient(&redis.Options{
		Addr:         cfg.KV.Addr(),
		DialTimeout:  cfg.KV.Timeout(),
		ReadTimeout:  cfg.KV.Timeout(),
		WriteTimeout: cfg.KV.Timeout(),
	})

	ctx, cancel := context.WithTimeout(context.Background(), cfg.KV.Timeout())
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		slog.Warn("kv store unreachable, running degraded",
			"addr", cfg.KV.Addr(), "error", err)
		rdb.Close()
		return nil
	}
	slog.Info("kv store connected", "addr", cfg.KV.Addr())
	return rdb
}

// buildProviders creates and registers every configured provider.
func buildProviders(cfg *config.Config, registry *providers.Registry, metrics *observability.Collector) int {
	names := make([]string, 0, len(cfg.Providers))
	for name := range cfg.Providers {
		names = append(names, name)
	}
	sort.Strings(names)

	initialized := 0
	for _, name := range names {
		pCfg := cfg.Providers[name]
		p, err := providers.Create(pCfg.Type, providers.Config{
			APIKey:           pCfg.APIKey,
			BaseURL:          pCfg.BaseURL,
			Version:          pCfg.Version,
			MaxRetries:       orDefault(pCfg.MaxRetries, cfg.Retry.MaxAttempts),
			RetryBaseDelay:   time.Duration(cfg.Retry.BaseDelay * float64(time.Second)),
			RetryMaxDelay:    time.Duration(cfg.Retry.MaxDelay * float64(time.Second)),
			FailureThreshold: pCfg.FailureThreshold,
			RecoverySeconds:  pCfg.RecoverySeconds,
		})
		if err != nil {
			slog.Error("failed to initialize provider", "name", name, "type", pCfg.Type, "error", err)
			continue
		}

		providerName := p.Name()
		p.Breaker().OnTrip(func() {
			metrics.Increment(observability.MetricCircuitBreakerTrips)
			slog.Warn("circuit breaker tripped", "provider", providerName)
		})

		registry.Register(p)
		initialized++
		slog.Info("provider initialized", "name", name, "type", pCfg.Type, "models", len(p.Models()))
	}
	return initialized
}

func orDefault(v, fallback int) int {
	if v > 0 {
		return v
	}
	return fallback
}

func buildSemanticCache(cfg *config.Config) *semantic.Cache {
	if !cfg.SemanticCache.Enabled {
		return nil
	}
	emb := cfg.SemanticCache.Embedding
	if emb.BaseURL == "" || emb.APIKey == "" {
		slog.Warn("semantic cache enabled but embedding service not configured, skipping")
		return nil
	}
	embedder := semantic.NewHTTPEmbedder(
		httpclient.NewDefaultHTTPClient(), emb.BaseURL, emb.APIKey, emb.Model, emb.Dimension)
	slog.Info("semantic cache enabled",
		"model", emb.Model, "dimension", emb.Dimension, "threshold", cfg.SemanticCache.Threshold)
	return semantic.NewCache(embedder, cfg.SemanticCache.Threshold)
}

func buildJudge(cfg *config.Config, registry *providers.Registry, rdb *redis.Client) (*judge.Evaluator, *judge.Recorder) {
	if !cfg.Judge.Enabled {
		return nil, nil
	}
	model := cfg.Judge.Model
	if model == "" {
		model = judge.DefaultModel
	}
	p, ok := registry.GetForModel(model)
	if !ok {
		slog.Warn("judge enabled but no provider serves its model, skipping", "model", model)
		return nil, nil
	}

	var recorder *judge.Recorder
	if rdb != nil {
		recorder = judge.NewRecorder(rdb, 0)
	}
	slog.Info("judge enabled", "model", model, "provider", p.Name())
	return judge.NewEvaluator(p, model), recorder
}

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	slog.Info("starting", "version", version.Info())

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	if len(cfg.Providers) == 0 {
		slog.Error("at least one provider must be configured")
		os.Exit(1)
	}

	metrics := observability.NewCollector()
	registry := providers.NewRegistry()

	if buildProviders(cfg, registry, metrics) == 0 {
		slog.Error("no providers were successfully initialized")
		os.Exit(1)
	}

	rdb := connectKV(cfg)

	var limiter *ratelimit.Limiter
	var exactCache *cache.ExactCache
	if rdb != nil {
		limiter = ratelimit.NewLimiter(rdb, cfg.RateLimit.MaxRequests, time.Duration(cfg.RateLimit.WindowSeconds)*time.Second)
		exactCache = cache.NewExactCache(rdb, time.Duration(cfg.Cache.TTLSeconds)*time.Second)
	}

	evaluator, recorder := buildJudge(cfg, registry, rdb)

	piiAction := shield.PIIAction(cfg.PII.Action)
	switch piiAction {
	case shield.PIIBlock, shield.PIIRedact, shield.PIIWarn:
	default:
		slog.Warn("unknown pii action, falling back to redact", "action", cfg.PII.Action)
		piiAction = shield.PIIRedact
	}

	handler := server.NewHandler(server.HandlerDeps{
		Router:       providers.NewRouter(registry, cfg.Fallbacks),
		Registry:     registry,
		Limiter:      limiter,
		PII:          shield.NewShield(piiAction, shield.NewRegexDetector()),
		Injection:    shield.NewInjectionDetector(cfg.Injection.BlockThreshold, cfg.Injection.WarnThreshold, shield.DefaultRules),
		Semantic:     buildSemanticCache(cfg),
		Exact:        exactCache,
		Judge:        evaluator,
		Recorder:     recorder,
		Metrics:      metrics,
		Redis:        rdb,
		RateLimitMax: cfg.RateLimit.MaxRequests,
	})

	if cfg.Server.MasterKey == "" {
		slog.Warn("no master key configured, API routes are unauthenticated")
	} else {
		slog.Info("authentication enabled", "mode", "master_key")
	}

	srv := server.New(handler, &server.Config{MasterKey: cfg.Server.MasterKey})

	addr := cfg.Server.Host + ":" + cfg.Server.Port
	go func() {
		slog.Info("starting server", "address", addr)
		if err := srv.Start(addr); err != nil {
			slog.Error("server stopped", "error", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("shutdown error", "error", err)
	}
	if rdb != nil {
		rdb.Close()
	}
}
