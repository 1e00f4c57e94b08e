// Package groq adapts the Groq API, which speaks the OpenAI chat
// completions dialect.
package groq

import (
	"context"
	"fmt"
	"net/http"
	"time"

	json "github.com/goccy/go-json"

	"github.com/ArmanHov2006/sentinel/internal/core"
	"github.com/ArmanHov2006/sentinel/internal/llmclient"
	"github.com/ArmanHov2006/sentinel/internal/providers"
	"github.com/ArmanHov2006/sentinel/internal/resilience"
)

const defaultBaseURL = "https://api.groq.com/openai/v1"

var supportedModels = []string{"llama-3.3-70b-versatile", "llama-3.1-8b-instant", "mixtral-8x7b-32768"}

func init() {
	providers.RegisterBuilder("groq", func(cfg providers.Config) (providers.Provider, error) {
		return New(cfg)
	})
}

// Provider implements providers.Provider for Groq.
type Provider struct {
	apiKey string
	client *llmclient.Client
}

// New builds the adapter with its own breaker and retry policy.
func New(cfg providers.Config) (*Provider, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("groq: api key is required")
	}
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultBaseURL
	}

	p := &Provider{apiKey: cfg.APIKey}
	breaker := resilience.NewBreaker(cfg.FailureThreshold, time.Duration(cfg.RecoverySeconds)*time.Second)
	retry := resilience.NewRetryPolicy(cfg.MaxRetries, cfg.RetryBaseDelay, cfg.RetryMaxDelay)
	p.client = llmclient.New("groq", baseURL, breaker, retry, p.setHeaders)
	return p, nil
}

func (p *Provider) setHeaders(req *http.Request) {
	req.Header.Set("Authorization", "Bearer "+p.apiKey)
}

func (p *Provider) Name() string                 { return "groq" }
func (p *Provider) Models() []string             { return supportedModels }
func (p *Provider) IsAvailable() bool            { return p.client.Breaker().Allows() }
func (p *Provider) Breaker() *resilience.Breaker { return p.client.Breaker() }

func (p *Provider) HealthCheck(ctx context.Context) error {
	return p.client.Do(ctx, llmclient.Request{
		Method:   http.MethodGet,
		Endpoint: "/models",
	}, nil)
}

type wireMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type wireRequest struct {
	Model       string        `json:"model"`
	Messages    []wireMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   *int          `json:"max_tokens,omitempty"`
	TopP        *float64      `json:"top_p,omitempty"`
	Stop        []string      `json:"stop,omitempty"`
	Stream      bool          `json:"stream,omitempty"`
}

type wireResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message      wireMessage `json:"message"`
		FinishReason string      `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
}

func buildPayload(req *core.ChatRequest, stream bool) wireRequest {
	msgs := make([]wireMessage, len(req.Messages))
	for i, m := range req.Messages {
		msgs[i] = wireMessage{Role: string(m.Role), Content: m.Content}
	}
	return wireRequest{
		Model:       req.Model,
		Messages:    msgs,
		Temperature: req.Parameters.Temperature,
		MaxTokens:   req.Parameters.MaxTokens,
		TopP:        req.Parameters.TopP,
		Stop:        req.Parameters.Stop,
		Stream:      stream,
	}
}

// Complete performs a non-streaming completion.
func (p *Provider) Complete(ctx context.Context, req *core.ChatRequest) (*core.ChatResponse, error) {
	start := time.Now()
	var wire wireResponse
	err := p.client.Do(ctx, llmclient.Request{
		Method:   http.MethodPost,
		Endpoint: "/chat/completions",
		Body:     buildPayload(req, false),
	}, &wire)
	if err != nil {
		return nil, err
	}
	if len(wire.Choices) == 0 {
		return nil, &core.ProviderError{
			Provider:   "groq",
			StatusCode: http.StatusBadGateway,
			Message:    "response contained no choices",
		}
	}

	choice := wire.Choices[0]
	return &core.ChatResponse{
		RequestID:    req.ID,
		Message:      core.Message{Role: core.RoleAssistant, Content: choice.Message.Content},
		Model:        wire.Model,
		Provider:     "groq",
		FinishReason: core.ParseFinishReason(choice.FinishReason),
		Usage: core.TokenUsage{
			PromptTokens:     wire.Usage.PromptTokens,
			CompletionTokens: wire.Usage.CompletionTokens,
			Provider:         "groq",
			Model:            wire.Model,
		},
		LatencyMS: float64(time.Since(start).Microseconds()) / 1000,
		CreatedAt: time.Now().UTC(),
	}, nil
}

type streamChunk struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
	} `json:"choices"`
}

// Stream opens an SSE completion and pumps content deltas.
func (p *Provider) Stream(ctx context.Context, req *core.ChatRequest) (<-chan providers.StreamEvent, error) {
	body, err := p.client.DoStream(ctx, llmclient.Request{
		Method:   http.MethodPost,
		Endpoint: "/chat/completions",
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
			if data == "[DONE]" {
				p.client.Breaker().RecordSuccess()
				return
			}
			var chunk streamChunk
			if err := json.Unmarshal([]byte(data), &chunk); err != nil {
				continue
			}
			if len(chunk.Choices) == 0 || chunk.Choices[0].Delta.Content == "" {
				continue
			}
			select {
			case events <- providers.StreamEvent{Content: chunk.Choices[0].Delta.Content}:
			case <-ctx.Done():
				return
			}
		}
	}()
	return events, nil
}
