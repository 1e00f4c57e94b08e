package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	json "github.com/goccy/go-json"
	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"

	"github.com/ArmanHov2006/sentinel/internal/cache"
	"github.com/ArmanHov2006/sentinel/internal/cache/semantic"
	"github.com/ArmanHov2006/sentinel/internal/core"
	"github.com/ArmanHov2006/sentinel/internal/judge"
	"github.com/ArmanHov2006/sentinel/internal/observability"
	"github.com/ArmanHov2006/sentinel/internal/providers"
	"github.com/ArmanHov2006/sentinel/internal/ratelimit"
	"github.com/ArmanHov2006/sentinel/internal/resilience"
	"github.com/ArmanHov2006/sentinel/internal/shield"
	"github.com/ArmanHov2006/sentinel/internal/trace"
	"github.com/ArmanHov2006/sentinel/internal/version"
)

// judgeTimeout bounds the fire-and-forget evaluation call.
const judgeTimeout = 60 * time.Second

// Handler runs the request pipeline: rate limit, PII shield, injection
// scan, semantic cache, exact cache, then routed provider dispatch.
// Every dependency except the router and registry may be nil; absent
// stages are skipped.
type Handler struct {
	router    *providers.Router
	registry  *providers.Registry
	limiter   *ratelimit.Limiter
	pii       *shield.Shield
	injection *shield.InjectionDetector
	semantic  *semantic.Cache
	exact     *cache.ExactCache
	judge     *judge.Evaluator
	recorder  *judge.Recorder
	metrics   *observability.Collector
	rdb       *redis.Client

	rateLimitMax int
	started      time.Time
}

// HandlerDeps carries the pipeline dependencies into NewHandler.
type HandlerDeps struct {
	Router       *providers.Router
	Registry     *providers.Registry
	Limiter      *ratelimit.Limiter
	PII          *shield.Shield
	Injection    *shield.InjectionDetector
	Semantic     *semantic.Cache
	Exact        *cache.ExactCache
	Judge        *judge.Evaluator
	Recorder     *judge.Recorder
	Metrics      *observability.Collector
	Redis        *redis.Client
	RateLimitMax int
}

// NewHandler builds the pipeline handler.
func NewHandler(deps HandlerDeps) *Handler {
	metrics := deps.Metrics
	if metrics == nil {
		metrics = observability.NewCollector()
	}
	return &Handler{
		router:       deps.Router,
		registry:     deps.Registry,
		limiter:      deps.Limiter,
		pii:          deps.PII,
		injection:    deps.Injection,
		semantic:     deps.Semantic,
		exact:        deps.Exact,
		judge:        deps.Judge,
		recorder:     deps.Recorder,
		metrics:      metrics,
		rdb:          deps.Redis,
		rateLimitMax: deps.RateLimitMax,
		started:      time.Now(),
	}
}

// chatCompletionRequest is the inbound wire format (OpenAI dialect).
type chatCompletionRequest struct {
	Model       string         `json:"model"`
	Messages    []core.Message `json:"messages"`
	Temperature *float64       `json:"temperature,omitempty"`
	MaxTokens   *int           `json:"max_tokens,omitempty"`
	TopP        *float64       `json:"top_p,omitempty"`
	Stop        []string       `json:"stop,omitempty"`
	Stream      bool           `json:"stream,omitempty"`
}

// chatCompletionResponse is the outbound wire format (OpenAI dialect,
// with the serving provider added).
type chatCompletionResponse struct {
	ID       string         `json:"id"`
	Object   string         `json:"object"`
	Created  int64          `json:"created"`
	Model    string         `json:"model"`
	Provider string         `json:"provider,omitempty"`
	Choices  []choiceSchema `json:"choices"`
	Usage    usageSchema    `json:"usage"`
}

type choiceSchema struct {
	Index        int          `json:"index"`
	Message      core.Message `json:"message"`
	FinishReason string       `json:"finish_reason"`
}

type usageSchema struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

func toWireResponse(resp *core.ChatResponse) chatCompletionResponse {
	return chatCompletionResponse{
		ID:       resp.RequestID,
		Object:   "chat.completion",
		Created:  resp.CreatedAt.Unix(),
		Model:    resp.Model,
		Provider: resp.Provider,
		Choices: []choiceSchema{{
			Index:        0,
			Message:      core.Message{Role: core.RoleAssistant, Content: resp.Message.Content},
			FinishReason: string(resp.FinishReason),
		}},
		Usage: usageSchema{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.Total(),
		},
	}
}

func errorJSON(c echo.Context, status int, kind, message string) error {
	return c.JSON(status, map[string]any{
		"error": map[string]any{
			"type":    kind,
			"message": message,
		},
	})
}

// ChatCompletion serves POST /v1/chat/completions.
func (h *Handler) ChatCompletion(c echo.Context) error {
	ctx := c.Request().Context()
	requestID := trace.RequestID(ctx)

	var wire chatCompletionRequest
	if err := c.Bind(&wire); err != nil {
		return errorJSON(c, http.StatusUnprocessableEntity, "validation_error", "request body is not valid JSON")
	}

	params := core.ModelParameters{
		MaxTokens: wire.MaxTokens,
		TopP:      wire.TopP,
		Stop:      wire.Stop,
	}
	if wire.Temperature != nil {
		params.Temperature = *wire.Temperature
	} else {
		params.Temperature = 1.0
	}

	req := core.NewChatRequest(wire.Model, wire.Messages, params)
	if requestID != "" {
		req.ID = requestID
	}
	if err := req.Validate(); err != nil {
		return errorJSON(c, http.StatusUnprocessableEntity, "validation_error", err.Error())
	}

	// Rate limit, per client address.
	clientID := c.RealIP()
	if h.limiter != nil {
		if !h.limiter.Allow(ctx, clientID) {
			h.metrics.Increment(observability.MetricRateLimitRejections)
			h.setRateLimitHeaders(c, clientID)
			return errorJSON(c, http.StatusTooManyRequests, "rate_limit_error", "rate limit exceeded, slow down")
		}
		h.setRateLimitHeaders(c, clientID)
	}

	// The semantic cache keys on the query as the user wrote it, so
	// capture it before redaction rewrites anything.
	rawQuery := req.LastUserMessage()

	if blocked := h.runPIIShield(c, req); blocked != nil {
		return blocked
	}
	if blocked := h.runInjectionScan(c, req); blocked != nil {
		return blocked
	}

	if h.semantic != nil && rawQuery != "" && !wire.Stream {
		if response, score, ok := h.semantic.Lookup(ctx, rawQuery); ok {
			h.metrics.Increment(observability.MetricCacheHits)
			slog.Info("semantic cache hit", "request_id", req.ID, "score", score)
			return c.JSON(http.StatusOK, toWireResponse(&core.ChatResponse{
				RequestID:    req.ID,
				Message:      core.Message{Role: core.RoleAssistant, Content: response},
				Model:        req.Model,
				Provider:     "semantic_cache",
				FinishReason: core.FinishStop,
				CreatedAt:    time.Now().UTC(),
			}))
		}
	}

	if h.exact != nil && !wire.Stream {
		if cached := h.exact.Get(ctx, req); cached != nil {
			h.metrics.Increment(observability.MetricCacheHits)
			slog.Info("exact cache hit", "request_id", req.ID)
			cached.RequestID = req.ID
			return c.JSON(http.StatusOK, toWireResponse(cached))
		}
	}
	if !wire.Stream {
		h.metrics.Increment(observability.MetricCacheMisses)
	}

	if wire.Stream {
		return h.streamCompletion(c, req, rawQuery)
	}

	resp, err := h.router.Route(ctx, req)
	if err != nil {
		return h.routeError(c, err)
	}

	if h.exact != nil {
		h.exact.Set(ctx, req, resp)
	}
	if h.semantic != nil && rawQuery != "" {
		h.semantic.Store(ctx, rawQuery, resp.Message.Content, resp.Model)
	}
	h.scheduleJudge(req.ID, rawQuery, resp.Message.Content)

	return c.JSON(http.StatusOK, toWireResponse(resp))
}

func (h *Handler) setRateLimitHeaders(c echo.Context, clientID string) {
	if h.rateLimitMax <= 0 {
		return
	}
	remaining := h.limiter.Remaining(c.Request().Context(), clientID)
	c.Response().Header().Set("X-RateLimit-Limit", strconv.Itoa(h.rateLimitMax))
	c.Response().Header().Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
}

// runPIIShield scans and, per policy, blocks or redacts. A non-nil return
// is the blocked response already sent to the client.
func (h *Handler) runPIIShield(c echo.Context, req *core.ChatRequest) error {
	if h.pii == nil {
		return nil
	}
	results := h.pii.ScanMessages(req.Messages)
	if len(results) == 0 {
		return nil
	}

	h.metrics.Increment(observability.MetricPIIDetections)
	for idx, result := range results {
		if result.ShouldBlock {
			h.metrics.Increment(observability.MetricPIIBlocks)
			slog.Warn("request blocked by pii shield", "request_id", req.ID, "message_index", idx)
			return errorJSON(c, http.StatusBadRequest, "pii_blocked", "request contains sensitive data and was blocked")
		}
		if result.Action == shield.PIIRedact && result.ProcessedText != "" {
			req.Messages[idx] = core.Message{Role: req.Messages[idx].Role, Content: result.ProcessedText}
		}
		if result.Action == shield.PIIWarn {
			slog.Warn("pii detected", "request_id", req.ID, "message_index", idx, "findings", len(result.Findings))
		}
	}
	return nil
}

// runInjectionScan blocks high-risk prompt injection attempts.
func (h *Handler) runInjectionScan(c echo.Context, req *core.ChatRequest) error {
	if h.injection == nil {
		return nil
	}
	scan := h.injection.Scan(req.Messages)
	if !scan.IsSuspicious {
		return nil
	}

	h.metrics.Increment(observability.MetricInjectionDetections)
	if scan.Action == shield.InjectionBlock {
		h.metrics.Increment(observability.MetricInjectionBlocks)
		slog.Warn("request blocked by injection detector",
			"request_id", req.ID, "risk_score", scan.RiskScore, "rules", scan.MatchedRules)
		return errorJSON(c, http.StatusBadRequest, "injection_blocked", "request flagged as a prompt injection attempt")
	}
	slog.Warn("suspicious request allowed",
		"request_id", req.ID, "risk_score", scan.RiskScore, "rules", scan.MatchedRules)
	return nil
}

func (h *Handler) routeError(c echo.Context, err error) error {
	var noProvider *core.NoProviderError
	if errors.As(err, &noProvider) {
		return errorJSON(c, http.StatusNotFound, "model_not_found", noProvider.Error())
	}
	var rateLimited *core.ProviderRateLimitError
	if errors.As(err, &rateLimited) {
		if rateLimited.RetryAfter != "" {
			c.Response().Header().Set("Retry-After", rateLimited.RetryAfter)
		}
		return errorJSON(c, http.StatusTooManyRequests, "provider_rate_limited", rateLimited.Error())
	}
	var allFailed *core.AllProvidersFailedError
	if errors.As(err, &allFailed) {
		if rl, ok := allFailed.RateLimited(); ok {
			if rl.RetryAfter != "" {
				c.Response().Header().Set("Retry-After", rl.RetryAfter)
			}
			return errorJSON(c, http.StatusTooManyRequests, "provider_rate_limited", rl.Error())
		}
		return errorJSON(c, http.StatusServiceUnavailable, "all_providers_failed", allFailed.Error())
	}
	return errorJSON(c, http.StatusInternalServerError, "internal_error", err.Error())
}

// sseChunk is the outbound streaming frame (OpenAI delta dialect).
type sseChunk struct {
	Choices []sseChoice `json:"choices"`
}

type sseChoice struct {
	Delta sseDelta `json:"delta"`
}

type sseDelta struct {
	Content string `json:"content"`
}

// streamCompletion pumps provider chunks to the client as SSE frames.
// Cache stores are skipped; the judge still sees the reassembled text.
func (h *Handler) streamCompletion(c echo.Context, req *core.ChatRequest, rawQuery string) error {
	ctx := c.Request().Context()

	events, providerName, err := h.router.Stream(ctx, req)
	if err != nil {
		return h.routeError(c, err)
	}

	res := c.Response()
	res.Header().Set(echo.HeaderContentType, "text/event-stream")
	res.Header().Set("Cache-Control", "no-cache")
	res.Header().Set("Connection", "keep-alive")
	res.WriteHeader(http.StatusOK)

	var full []byte
	for ev := range events {
		if ev.Err != nil {
			slog.Error("stream aborted", "request_id", req.ID, "provider", providerName, "error", ev.Err)
			writeSSE(res, []byte(`{"error":{"type":"stream_error","message":"upstream stream failed"}}`))
			res.Flush()
			return nil
		}
		if ev.Content == "" {
			continue
		}
		full = append(full, ev.Content...)
		frame, err := json.Marshal(sseChunk{Choices: []sseChoice{{Delta: sseDelta{Content: ev.Content}}}})
		if err != nil {
			continue
		}
		writeSSE(res, frame)
		res.Flush()
	}

	writeSSE(res, []byte("[DONE]"))
	res.Flush()

	h.scheduleJudge(req.ID, rawQuery, string(full))
	return nil
}

func writeSSE(res *echo.Response, payload []byte) {
	res.Write([]byte("data: "))
	res.Write(payload)
	res.Write([]byte("\n\n"))
}

// scheduleJudge fires the evaluation in the background. The request is
// already answered; nothing here may affect it.
func (h *Handler) scheduleJudge(requestID, userMessage, assistantResponse string) {
	if h.judge == nil || assistantResponse == "" {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), judgeTimeout)
		defer cancel()
		result := h.judge.Evaluate(ctx, userMessage, assistantResponse)
		if h.recorder != nil {
			h.recorder.Record(ctx, requestID, result)
		}
		slog.Info("judge evaluation recorded",
			"request_id", requestID, "passed", result.Passed(), "flags", result.Flags)
	}()
}

// ListModels serves GET /v1/models.
func (h *Handler) ListModels(c echo.Context) error {
	type modelEntry struct {
		ID      string `json:"id"`
		Object  string `json:"object"`
		OwnedBy string `json:"owned_by"`
	}
	data := make([]modelEntry, 0)
	for _, p := range h.registry.All() {
		for _, m := range p.Models() {
			data = append(data, modelEntry{ID: m, Object: "model", OwnedBy: p.Name()})
		}
	}
	return c.JSON(http.StatusOK, map[string]any{
		"object": "list",
		"data":   data,
	})
}

// Health serves GET /health. Status logic: KV down AND a breaker open
// is unhealthy, either alone is degraded, otherwise healthy.
func (h *Handler) Health(c echo.Context) error {
	ctx := c.Request().Context()

	kvHealthy := false
	kvLatencyMS := 0.0
	if h.rdb != nil {
		start := time.Now()
		kvHealthy = h.rdb.Ping(ctx).Err() == nil
		kvLatencyMS = float64(time.Since(start).Microseconds()) / 1000.0
	}
	kvStatus := "unhealthy"
	if kvHealthy {
		kvStatus = "healthy"
	}

	breakers := map[string]any{}
	anyOpen := false
	for _, p := range h.registry.All() {
		state, failures, lastFailure := p.Breaker().Snapshot()
		entry := map[string]any{
			"state":         state.String(),
			"failure_count": failures,
			"last_failure":  nil,
		}
		if !lastFailure.IsZero() {
			entry["last_failure"] = lastFailure.UTC()
		}
		if state == resilience.StateOpen {
			anyOpen = true
		}
		breakers[p.Name()] = entry
	}

	status := "healthy"
	httpStatus := http.StatusOK
	switch {
	case !kvHealthy && anyOpen:
		status = "unhealthy"
		httpStatus = http.StatusServiceUnavailable
	case !kvHealthy || anyOpen:
		status = "degraded"
	}

	return c.JSON(httpStatus, map[string]any{
		"status":         status,
		"version":        version.Version,
		"timestamp":      time.Now().UTC(),
		"uptime_seconds": time.Since(h.started).Seconds(),
		"checks": map[string]any{
			"kv": map[string]any{
				"status":     kvStatus,
				"latency_ms": kvLatencyMS,
			},
			"circuit_breakers": breakers,
		},
	})
}

// Metrics serves GET /metrics as a JSON snapshot.
func (h *Handler) Metrics(c echo.Context) error {
	return c.JSON(http.StatusOK, h.metrics.Snapshot())
}

// ResetMetrics serves POST /metrics/reset: clears counters, closes all
// breakers, and flushes the KV keyspace.
func (h *Handler) ResetMetrics(c echo.Context) error {
	h.metrics.Reset()
	for _, p := range h.registry.All() {
		p.Breaker().Reset()
	}
	if h.rdb != nil {
		if err := h.rdb.FlushDB(c.Request().Context()).Err(); err != nil {
			slog.Warn("kv flush failed during metrics reset", "error", err)
		}
	}
	return c.JSON(http.StatusOK, map[string]string{"status": "reset"})
}
