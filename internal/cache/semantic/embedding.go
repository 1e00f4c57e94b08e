// Package semantic implements the similarity cache: an embedder turns
// queries into unit vectors, a process-local vector store finds the
// closest previous query, and the cache serves its stored response
// when the match clears the similarity threshold.
package semantic

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"math"
	"net/http"

	json "github.com/goccy/go-json"
)

// Embedder converts text into a unit-norm vector of fixed dimension.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float64, error)
	Dimension() int
}

// HTTPEmbedder calls an OpenAI-style /embeddings endpoint.
type HTTPEmbedder struct {
	client  *http.Client
	baseURL string
	apiKey  string
	model   string
	dim     int
}

// NewHTTPEmbedder returns an embedder for the given endpoint and model.
func NewHTTPEmbedder(client *http.Client, baseURL, apiKey, model string, dim int) *HTTPEmbedder {
	return &HTTPEmbedder{client: client, baseURL: baseURL, apiKey: apiKey, model: model, dim: dim}
}

func (e *HTTPEmbedder) Dimension() int { return e.dim }

type embeddingRequest struct {
	Model string `json:"model"`
	Input string `json:"input"`
}

type embeddingResponse struct {
	Data []struct {
		Embedding []float64 `json:"embedding"`
	} `json:"data"`
}

// Embed requests an embedding and normalizes it to unit length.
func (e *HTTPEmbedder) Embed(ctx context.Context, text string) ([]float64, error) {
	body, err := json.Marshal(embeddingRequest{Model: e.model, Input: text})
	if err != nil {
		return nil, fmt.Errorf("marshal embedding request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+"/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+e.apiKey)

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("embedding request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("embedding endpoint returned %d: %s", resp.StatusCode, data)
	}

	var parsed embeddingResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decode embedding response: %w", err)
	}
	if len(parsed.Data) == 0 {
		return nil, fmt.Errorf("embedding response contained no data")
	}
	vec := parsed.Data[0].Embedding
	if len(vec) != e.dim {
		return nil, fmt.Errorf("embedding dimension %d, expected %d", len(vec), e.dim)
	}
	return Normalize(vec), nil
}

// Normalize scales v to unit L2 norm. A zero vector is returned as is.
func Normalize(v []float64) []float64 {
	var sum float64
	for _, x := range v {
		sum += x * x
	}
	if sum == 0 {
		return v
	}
	norm := math.Sqrt(sum)
	out := make([]float64, len(v))
	for i, x := range v {
		out[i] = x / norm
	}
	return out
}
