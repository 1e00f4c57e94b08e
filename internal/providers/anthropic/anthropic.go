// Package anthropic adapts the Anthropic messages API.
package anthropic

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	json "github.com/goccy/go-json"

	"github.com/ArmanHov2006/sentinel/internal/core"
	"github.com/ArmanHov2006/sentinel/internal/llmclient"
	"github.com/ArmanHov2006/sentinel/internal/providers"
	"github.com/ArmanHov2006/sentinel/internal/resilience"
)

const (
	defaultBaseURL = "https://api.anthropic.com/v1"

	// DefaultVersion is the anthropic-version header sent unless the
	// configuration overrides it.
	DefaultVersion = "2023-06-01"

	// The messages API requires max_tokens; this applies when the
	// request leaves it unset.
	fallbackMaxTokens = 1024
)

var supportedModels = []string{"claude-sonnet-4-20250514", "claude-haiku-4-20250514"}

func init() {
	providers.RegisterBuilder("anthropic", func(cfg providers.Config) (providers.Provider, error) {
		return New(cfg)
	})
}

// Provider implements providers.Provider for Anthropic.
type Provider struct {
	apiKey  string
	version string
	client  *llmclient.Client
}

// New builds the adapter with its own breaker and retry policy.
func New(cfg providers.Config) (*Provider, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("anthropic: api key is required")
	}
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	version := cfg.Version
	if version == "" {
		version = DefaultVersion
	}

	p := &Provider{apiKey: cfg.APIKey, version: version}
	breaker := resilience.NewBreaker(cfg.FailureThreshold, time.Duration(cfg.RecoverySeconds)*time.Second)
	retry := resilience.NewRetryPolicy(cfg.MaxRetries, cfg.RetryBaseDelay, cfg.RetryMaxDelay)
	p.client = llmclient.New("anthropic", baseURL, breaker, retry, p.setHeaders)
	return p, nil
}

// NewWithHTTPClient is New against a custom HTTP client, for tests.
func NewWithHTTPClient(cfg providers.Config, hc *http.Client) (*Provider, error) {
	p, err := New(cfg)
	if err != nil {
		return nil, err
	}
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	breaker := resilience.NewBreaker(cfg.FailureThreshold, time.Duration(cfg.RecoverySeconds)*time.Second)
	retry := resilience.NewRetryPolicy(cfg.MaxRetries, orDelay(cfg.RetryBaseDelay, time.Millisecond), orDelay(cfg.RetryMaxDelay, 10*time.Millisecond))
	p.client = llmclient.NewWithHTTPClient(hc, "anthropic", baseURL, breaker, retry, p.setHeaders)
	return p, nil
}

func orDelay(d, fallback time.Duration) time.Duration {
	if d > 0 {
		return d
	}
	return fallback
}

func (p *Provider) setHeaders(req *http.Request) {
	req.Header.Set("x-api-key", p.apiKey)
	req.Header.Set("anthropic-version", p.version)
}

func (p *Provider) Name() string                 { return "anthropic" }
func (p *Provider) Models() []string             { return supportedModels }
func (p *Provider) IsAvailable() bool            { return p.client.Breaker().Allows() }
func (p *Provider) Breaker() *resilience.Breaker { return p.client.Breaker() }

// HealthCheck sends a one-token message; Anthropic has no cheap
// unauthenticated probe endpoint.
func (p *Provider) HealthCheck(ctx context.Context) error {
	one := 1
	return p.client.Do(ctx, llmclient.Request{
		Method:   http.MethodPost,
		Endpoint: "/messages",
		Body: wireRequest{
			Model:     supportedModels[len(supportedModels)-1],
			MaxTokens: &one,
			Messages:  []wireMessage{{Role: "user", Content: "hi"}},
		},
	}, nil)
}

type wireMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type wireRequest struct {
	Model         string        `json:"model"`
	Messages      []wireMessage `json:"messages"`
	MaxTokens     *int          `json:"max_tokens"`
	System        string        `json:"system,omitempty"`
	Temperature   *float64      `json:"temperature,omitempty"`
	TopP          *float64      `json:"top_p,omitempty"`
	StopSequences []string      `json:"stop_sequences,omitempty"`
	Stream        bool          `json:"stream,omitempty"`
}

type wireResponse struct {
	Model   string `json:"model"`
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	StopReason string `json:"stop_reason"`
	Usage      struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

// splitSystem separates system turns from the conversation: the
// messages API takes the system prompt as a top-level field, not a
// message role. Multiple system messages join with newlines.
func splitSystem(messages []core.Message) (string, []wireMessage) {
	var system []string
	conv := make([]wireMessage, 0, len(messages))
	for _, m := range messages {
		if m.Role == core.RoleSystem {
			system = append(system, m.Content)
			continue
		}
		conv = append(conv, wireMessage{Role: string(m.Role), Content: m.Content})
	}
	return strings.Join(system, "\n"), conv
}

func buildPayload(req *core.ChatRequest, stream bool) wireRequest {
	system, conv := splitSystem(req.Messages)
	maxTokens := req.Parameters.MaxTokens
	if maxTokens == nil {
		fallback := fallbackMaxTokens
		maxTokens = &fallback
	}
	temp := req.Parameters.Temperature
	return wireRequest{
		Model:         req.Model,
		Messages:      conv,
		MaxTokens:     maxTokens,
		System:        system,
		Temperature:   &temp,
		TopP:          req.Parameters.TopP,
		StopSequences: req.Parameters.Stop,
		Stream:        stream,
	}
}

// mapStopReason translates the vendor enum. Unknown values become
// FinishError so they never leak past the adapter boundary.
func mapStopReason(s string) core.FinishReason {
	switch s {
	case "end_turn", "stop_sequence":
		return core.FinishStop
	case "max_tokens":
		return core.FinishLength
	}
	return core.FinishError
}

// Complete performs a non-streaming completion.
func (p *Provider) Complete(ctx context.Context, req *core.ChatRequest) (*core.ChatResponse, error) {
	start := time.Now()
	var wire wireResponse
	err := p.client.Do(ctx, llmclient.Request{
		Method:   http.MethodPost,
		Endpoint: "/messages",
		Body:     buildPayload(req, false),
	}, &wire)
	if err != nil {
		return nil, err
	}
	if len(wire.Content) == 0 {
		return nil, &core.ProviderError{
			Provider:   "anthropic",
			StatusCode: http.StatusBadGateway,
			Message:    "response contained no content blocks",
		}
	}

	var text strings.Builder
	for _, block := range wire.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}

	return &core.ChatResponse{
		RequestID:    req.ID,
		Message:      core.Message{Role: core.RoleAssistant, Content: text.String()},
		Model:        wire.Model,
		Provider:     "anthropic",
		FinishReason: mapStopReason(wire.StopReason),
		Usage: core.TokenUsage{
			PromptTokens:     wire.Usage.InputTokens,
			CompletionTokens: wire.Usage.OutputTokens,
			Provider:         "anthropic",
			Model:            wire.Model,
		},
		LatencyMS: float64(time.Since(start).Microseconds()) / 1000,
		CreatedAt: time.Now().UTC(),
	}, nil
}

type streamFrame struct {
	Type  string `json:"type"`
	Delta struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"delta"`
}

// Stream opens a streaming message and pumps text deltas. The
// message_stop frame ends the stream and records breaker success.
func (p *Provider) Stream(ctx context.Context, req *core.ChatRequest) (<-chan providers.StreamEvent, error) {
	body, err := p.client.DoStream(ctx, llmclient.Request{
		Method:   http.MethodPost,
		Endpoint: "/messages",
		Body:     buildPayload(req, true),
	})
	if err != nil {
		return nil, err
	}

	events := make(chan providers.StreamEvent)
	go func() {
		defer close(events)
		defer body.Close()

		sc := llmclient.NewSSEScanner(body)
		for {
			data, ok := sc.Next()
			if !ok {
				if err := sc.Err(); err != nil {
					if ctx.Err() != nil {
						return
					}
					p.client.Breaker().RecordFailure()
					select {
					case events <- providers.StreamEvent{Err: err}:
					case <-ctx.Done():
					}
					return
				}
				p.client.Breaker().RecordSuccess()
				return
			}
			var frame streamFrame
			if err := json.Unmarshal([]byte(data), &frame); err != nil {
				continue
			}
			switch frame.Type {
			case "message_stop":
				p.client.Breaker().RecordSuccess()
				return
			case "content_block_delta":
				if frame.Delta.Text == "" {
					continue
				}
				select {
				case events <- providers.StreamEvent{Content: frame.Delta.Text}:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return events, nil
}
