// Package embedclient wraps an OpenAI-compatible embeddings endpoint via
// langchaingo, L2-normalizes and validates the returned vectors against a
// configured dimension, and bounds batch concurrency. Grounded on
// poiesic-memorit's ai/openai/embedder.go for the langchaingo
// embeddings.Embedder wiring, and on kalambet-tbyd's
// internal/retrieval/embedder.go EmbedBatch for the errgroup-bounded
// fan-out shape.
package embedclient

import (
	"context"
	"fmt"
	"math"

	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms/openai"
	"golang.org/x/sync/errgroup"

	"github.com/ingestlane/pipeline/internal/pipeline"
)

// maxBatchConcurrency bounds how many embedding calls a single batch
// issues concurrently, mirroring kalambet-tbyd's EmbedBatch limit.
const maxBatchConcurrency = 4

// Config configures the embedding collaborator client.
type Config struct {
	BaseURL   string
	Model     string
	APIKey    string
	Dimension int
}

// Client produces mean-pooled, L2-normalized, fixed-dimension embedding
// vectors for arbitrary input text.
type Client struct {
	embedder  embeddings.Embedder
	dimension int
}

// New builds a Client against an OpenAI-compatible embeddings endpoint.
func New(cfg Config) (*Client, error) {
	if cfg.Dimension <= 0 {
		return nil, pipeline.New(pipeline.KindConfigError, "embedding dimension must be positive")
	}
	token := cfg.APIKey
	if token == "" {
		token = "none"
	}
	llm, err := openai.New(
		openai.WithBaseURL(cfg.BaseURL),
		openai.WithToken(token),
		openai.WithEmbeddingModel(cfg.Model),
	)
	if err != nil {
		return nil, pipeline.Wrap(pipeline.KindConfigError, "build embedding client", err)
	}
	embedder, err := embeddings.NewEmbedder(llm, embeddings.WithStripNewLines(true))
	if err != nil {
		return nil, pipeline.Wrap(pipeline.KindConfigError, "wrap embedding client", err)
	}
	return &Client{embedder: embedder, dimension: cfg.Dimension}, nil
}

// Embed returns text's L2-normalized, fixed-dimension vector. Empty input
// yields an all-zero vector without calling the collaborator, per §4.I.
func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	if text == "" {
		return make([]float32, c.dimension), nil
	}
	vectors, err := c.embedder.EmbedDocuments(ctx, []string{text})
	if err != nil {
		return nil, pipeline.Wrap(pipeline.KindUpstreamUnavailable, "embed text", err)
	}
	if len(vectors) == 0 {
		return nil, pipeline.New(pipeline.KindUpstreamRejected, "embedding collaborator returned no vectors")
	}
	return normalize(vectors[0], c.dimension)
}

// EmbedBatch embeds multiple texts concurrently, bounded to
// maxBatchConcurrency in-flight requests.
func (c *Client) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	results := make([][]float32, len(texts))
	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(maxBatchConcurrency)

	for i, text := range texts {
		i, text := i, text
		g.Go(func() error {
			vec, err := c.Embed(gCtx, text)
			if err != nil {
				return fmt.Errorf("embedding text %d: %w", i, err)
			}
			results[i] = vec
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// normalize L2-normalizes vec and validates its length against dimension.
func normalize(vec []float32, dimension int) ([]float32, error) {
	if len(vec) != dimension {
		return nil, pipeline.New(pipeline.KindUpstreamRejected,
			fmt.Sprintf("embedding dimension mismatch: got %d, want %d", len(vec), dimension))
	}
	var sumSquares float64
	for _, v := range vec {
		sumSquares += float64(v) * float64(v)
	}
	if sumSquares == 0 {
		return vec, nil
	}
	norm := math.Sqrt(sumSquares)
	out := make([]float32, len(vec))
	for i, v := range vec {
		out[i] = float32(float64(v) / norm)
	}
	return out, nil
}
