package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

// ErrUnreachable is returned when the embedding service cannot be reached at
// all. This is a deployment problem, never retried.
var ErrUnreachable = errors.New("embedding service unreachable")

// ErrEmbedding is returned once the retry budget is spent; it wraps the last
// underlying failure.
var ErrEmbedding = errors.New("embedding failed")

const backoffBase = 250 * time.Millisecond

// EmbedderConfig represents the configuration for the embedding client.
type EmbedderConfig struct {
	BaseURL   string // Ollama server URL
	Model     string
	Timeout   time.Duration
	Retries   int
	RateLimit float64 // requests per second to the embedding service
	Workers   int     // concurrent embedding requests within one call
}

// Embedder converts texts into vectors via the Ollama embeddings endpoint.
// Each text is embedded with its own request; one oversized payload must not
// take down the whole batch.
type Embedder struct {
	config  EmbedderConfig
	client  *http.Client
	limiter *rate.Limiter
}

func NewEmbedderWithConfig(config EmbedderConfig) *Embedder {
	// Validate and set default values for config fields if necessary
	if config.BaseURL == "" {
		config.BaseURL = "http://localhost:11434" // Default Ollama URL
	}
	if config.Model == "" {
		config.Model = "nomic-embed-text:latest" // Default Ollama model
	}
	if config.Timeout == 0 {
		config.Timeout = 120 * time.Second
	}
	if config.Retries == 0 {
		config.Retries = 2
	}
	if config.RateLimit == 0 {
		config.RateLimit = 4.0
	}
	if config.Workers == 0 {
		config.Workers = 1
	}

	return &Embedder{
		config: config,
		client: &http.Client{
			Timeout: config.Timeout,
		},
		limiter: rate.NewLimiter(rate.Limit(config.RateLimit), 1),
	}
}

func NewEmbedder() *Embedder {
	return NewEmbedderWithConfig(EmbedderConfig{})
}

type embedRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

type embedResponse struct {
	Embedding []float32 `json:"embedding"`
}

// Embed returns one vector per non-empty input text, preserving the order of
// the surviving inputs. Whitespace-only texts are dropped before any request
// is made.
func (e *Embedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	filtered := make([]string, 0, len(texts))
	for _, t := range texts {
		if strings.TrimSpace(t) != "" {
			filtered = append(filtered, t)
		}
	}
	if len(filtered) == 0 {
		return nil, nil
	}

	out := make([][]float32, len(filtered))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.config.Workers)

	for i, text := range filtered {
		i, text := i, text
		g.Go(func() error {
			vector, err := e.embedOne(gctx, text)
			if err != nil {
				return err
			}
			out[i] = vector
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

func (e *Embedder) embedOne(ctx context.Context, text string) ([]float32, error) {
	endpoint := strings.TrimSuffix(e.config.BaseURL, "/") + "/api/embeddings"

	body, err := json.Marshal(embedRequest{Model: e.config.Model, Prompt: text})
	if err != nil {
		return nil, fmt.Errorf("failed to encode embedding request: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt <= e.config.Retries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoffBase << (attempt - 1)):
			}
		}

		if err := e.limiter.Wait(ctx); err != nil {
			return nil, err
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := e.client.Do(req)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil, err
			}
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				// Slow requests get the generic retry path
				lastErr = err
				continue
			}
			// Connection refused means Ollama is not running
			return nil, fmt.Errorf("%w: %v", ErrUnreachable, err)
		}

		payload, readErr := io.ReadAll(resp.Body)
		resp.Body.Close()

		if resp.StatusCode >= 500 && resp.StatusCode < 600 {
			// Ollama can 500 on transient OOM/overload
			lastErr = fmt.Errorf("embedding request failed: %s", resp.Status)
			continue
		}
		if resp.StatusCode >= 300 {
			lastErr = fmt.Errorf("embedding request failed: %s", resp.Status)
			continue
		}
		if readErr != nil {
			lastErr = readErr
			continue
		}

		var out embedResponse
		if err := json.Unmarshal(payload, &out); err != nil {
			lastErr = fmt.Errorf("failed to decode embedding response: %w", err)
			continue
		}
		if len(out.Embedding) == 0 {
			lastErr = errors.New("no embedding returned")
			continue
		}

		return out.Embedding, nil
	}

	return nil, fmt.Errorf("%w after %d retries: %v", ErrEmbedding, e.config.Retries, lastErr)
}
