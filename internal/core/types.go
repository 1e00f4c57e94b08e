// Package core defines the provider-agnostic domain types and the gateway
// error taxonomy. Everything here is plain data: no transport, no storage.
package core

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Role identifies who authored a message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Valid reports whether the role is one of the closed set.
func (r Role) Valid() bool {
	switch r {
	case RoleSystem, RoleUser, RoleAssistant, RoleTool:
		return true
	}
	return false
}

// FinishReason explains why the model stopped generating.
type FinishReason string

const (
	FinishStop          FinishReason = "stop"
	FinishLength        FinishReason = "length"
	FinishContentFilter FinishReason = "content_filter"
	FinishError         FinishReason = "error"
)

// ParseFinishReason maps a vendor finish reason onto the internal enum.
// Unknown values map to FinishError so they never leak past the boundary.
func ParseFinishReason(s string) FinishReason {
	switch FinishReason(s) {
	case FinishStop, FinishLength, FinishContentFilter:
		return FinishReason(s)
	}
	return FinishError
}

// Message is a single conversation turn. Messages are never mutated;
// pipeline stages that alter content build new ones.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// ModelParameters holds the generation knobs forwarded to providers.
type ModelParameters struct {
	Temperature float64  `json:"temperature"`
	MaxTokens   *int     `json:"max_tokens,omitempty"`
	TopP        *float64 `json:"top_p,omitempty"`
	Stop        []string `json:"stop,omitempty"`
}

// ChatRequest is the internal representation of a chat completion request.
// The ID is assigned at creation and doubles as the judge record key.
type ChatRequest struct {
	ID         string
	Model      string
	Messages   []Message
	Parameters ModelParameters
	CreatedAt  time.Time
	Metadata   map[string]string
}

// NewChatRequest builds a request with a fresh ID and timestamp.
func NewChatRequest(model string, messages []Message, params ModelParameters) *ChatRequest {
	return &ChatRequest{
		ID:         uuid.NewString(),
		Model:      model,
		Messages:   messages,
		Parameters: params,
		CreatedAt:  time.Now().UTC(),
		Metadata:   map[string]string{},
	}
}

// Validate enforces the ingress invariants: a model name, at least one
// message, known roles, and temperature within [0, 2].
func (r *ChatRequest) Validate() error {
	if r.Model == "" {
		return fmt.Errorf("model is required")
	}
	if len(r.Messages) == 0 {
		return fmt.Errorf("messages must not be empty")
	}
	for i, m := range r.Messages {
		if !m.Role.Valid() {
			return fmt.Errorf("message %d: invalid role %q", i, m.Role)
		}
	}
	if t := r.Parameters.Temperature; t < 0 || t > 2 {
		return fmt.Errorf("temperature %v out of range [0, 2]", t)
	}
	return nil
}

// LastUserMessage returns the content of the most recent user message,
// or "" when there is none. The semantic cache keys on this.
func (r *ChatRequest) LastUserMessage() string {
	for i := len(r.Messages) - 1; i >= 0; i-- {
		if r.Messages[i].Role == RoleUser {
			return r.Messages[i].Content
		}
	}
	return ""
}

// TokenUsage is the token accounting reported by a provider.
type TokenUsage struct {
	PromptTokens     int    `json:"prompt_tokens"`
	CompletionTokens int    `json:"completion_tokens"`
	Provider         string `json:"provider,omitempty"`
	Model            string `json:"model,omitempty"`
}

// Total returns prompt + completion tokens.
func (u TokenUsage) Total() int {
	return u.PromptTokens + u.CompletionTokens
}

// ChatResponse is the internal representation of a completed request.
type ChatResponse struct {
	RequestID    string       `json:"request_id"`
	Message      Message      `json:"message"`
	Model        string       `json:"model"`
	Provider     string       `json:"provider"`
	FinishReason FinishReason `json:"finish_reason"`
	Usage        TokenUsage   `json:"usage"`
	LatencyMS    float64      `json:"latency_ms"`
	CreatedAt    time.Time    `json:"created_at"`
}
