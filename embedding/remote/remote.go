// Package remote implements the "remote-llm" embedding variant: a
// networked embedding endpoint called over plain HTTP, with bounded
// exponential-backoff retry on transient failure.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/nimlabs/memoria/embedding"
)

const (
	maxAttempts   = 3
	totalBudget   = 5 * time.Second
	baseBackoff   = 200 * time.Millisecond
)

// Config configures the remote embedding client.
type Config struct {
	BaseURL    string
	APIKey     string
	Model      string
	Dimensions int
	HTTPClient *http.Client
}

// Embedder calls a remote embedding API over HTTP.
type Embedder struct {
	cfg    Config
	client *http.Client
}

// New constructs a remote embedder. Dimensions must be the fixed
// output size the configured model produces (e.g. 1024); the store
// trusts this value at bind time and refuses any later mismatch.
func New(cfg Config) (*Embedder, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("remote embedder: BaseURL is required")
	}
	if cfg.Dimensions <= 0 {
		cfg.Dimensions = 1024
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Embedder{cfg: cfg, client: cfg.HTTPClient}, nil
}

type embedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embedResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(vecs) == 0 {
		return nil, fmt.Errorf("remote embedder: empty response for input")
	}
	return vecs[0], nil
}

func (e *Embedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	var lastErr error
	deadline := time.Now().Add(totalBudget)

	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			backoff := baseBackoff * time.Duration(1<<uint(attempt-1))
			if time.Now().Add(backoff).After(deadline) {
				break
			}
			log.Printf("[EMBEDDING] remote embed retry %d/%d after %v: %v", attempt+1, maxAttempts, backoff, lastErr)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
		}

		vecs, err := e.call(ctx, texts)
		if err == nil {
			return vecs, nil
		}
		lastErr = err
	}
	return nil, fmt.Errorf("remote embedder: exhausted %d attempts: %w", maxAttempts, lastErr)
}

func (e *Embedder) call(ctx context.Context, texts []string) ([][]float32, error) {
	body, err := json.Marshal(embedRequest{Model: e.cfg.Model, Input: texts})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.cfg.BaseURL+"/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if e.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+e.cfg.APIKey)
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 500 {
		return nil, fmt.Errorf("remote embedder: server error %d: %s", resp.StatusCode, string(respBody))
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("remote embedder: unexpected status %d: %s", resp.StatusCode, string(respBody))
	}

	var parsed embedResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, fmt.Errorf("remote embedder: malformed response: %w", err)
	}

	vecs := make([][]float32, len(parsed.Data))
	for i, d := range parsed.Data {
		vecs[i] = d.Embedding
	}
	return vecs, nil
}

func (e *Embedder) Dimensions() int { return e.cfg.Dimensions }

func (e *Embedder) Variant() embedding.Variant { return embedding.VariantRemoteLLM }
