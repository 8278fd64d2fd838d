// Package embedding defines the fixed-dimension vector provider interface
// the Discovery Pipeline clusters on (spec §4.9 step 2, §6 "excluded as an
// external collaborator"), plus a concrete HTTP adapter. Grounded on the
// teacher's polymarket/client.go HTTP-request shape; no embedding-provider
// SDK exists anywhere in the corpus, so the client is built directly on
// net/http like the teacher's own Gamma-API client.
package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// Provider returns a fixed-dimension embedding vector for a piece of text.
type Provider interface {
	Embed(ctx context.Context, text string) ([]float64, error)
}

// HTTPProvider calls a chat/embedding-style HTTPS endpoint that accepts
// {input: text} and returns {embedding: number[]}.
type HTTPProvider struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewHTTPProvider constructs an embedding provider bound to baseURL.
func NewHTTPProvider(baseURL, apiKey string, timeout time.Duration) *HTTPProvider {
	return &HTTPProvider{baseURL: baseURL, apiKey: apiKey, httpClient: &http.Client{Timeout: timeout}}
}

type embedRequest struct {
	Input string `json:"input"`
}

type embedResponse struct {
	Embedding []float64 `json:"embedding"`
}

// Embed requests a vector for text, failing fast on any transport, status,
// or decode error so the caller can fall back to rule-based topic extraction
// (spec §4.9 step 3).
func (p *HTTPProvider) Embed(ctx context.Context, text string) ([]float64, error) {
	body, err := json.Marshal(embedRequest{Input: text})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal embedding request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", p.baseURL+"/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build embedding request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if p.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.apiKey)
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("embedding request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("embedding provider returned status %d", resp.StatusCode)
	}

	var out embedResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("failed to decode embedding response: %w", err)
	}
	return out.Embedding, nil
}
