// Package embed produces fixed-dimension unit-L2 sentence embeddings
// via the external model-serving service.
package embed

import (
	"context"
	"fmt"
	"math"

	"flashpipe/internal/inference"
	"flashpipe/internal/logger"
)

// Embedder batches texts through the inference service and enforces
// dimension and normalization on the way out.
type Embedder struct {
	client    *inference.Client
	model     string
	dimension int
	batchSize int
}

// New creates an embedder. Dimension defaults to 384, batch size to 64.
func New(client *inference.Client, model string, dimension, batchSize int) *Embedder {
	if dimension <= 0 {
		dimension = 384
	}
	if batchSize <= 0 {
		batchSize = 64
	}
	return &Embedder{
		client:    client,
		model:     model,
		dimension: dimension,
		batchSize: batchSize,
	}
}

// Model returns the embedding model identifier.
func (e *Embedder) Model() string { return e.model }

// EmbedBatch encodes texts in service-side batches and returns one
// unit-L2 vector per input, in input order.
func (e *Embedder) EmbedBatch(ctx context.Context, texts []string) ([][]float64, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	out := make([][]float64, 0, len(texts))
	for start := 0; start < len(texts); start += e.batchSize {
		end := start + e.batchSize
		if end > len(texts) {
			end = len(texts)
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		vectors, err := e.client.Embed(ctx, texts[start:end], e.model)
		if err != nil {
			return nil, fmt.Errorf("embed batch %d..%d: %w", start, end, err)
		}
		for i, v := range vectors {
			if len(v) != e.dimension {
				return nil, fmt.Errorf("embed: vector %d has dimension %d, want %d", start+i, len(v), e.dimension)
			}
			out = append(out, Normalize(v))
		}
	}

	logger.Debug("embeddings computed", "count", len(out), "model", e.model)
	return out, nil
}

// Normalize returns v scaled to unit L2 norm. A zero vector is
// returned unchanged.
func Normalize(v []float64) []float64 {
	var sum float64
	for _, x := range v {
		sum += x * x
	}
	norm := math.Sqrt(sum)
	if norm == 0 {
		return v
	}
	out := make([]float64, len(v))
	for i, x := range v {
		out[i] = x / norm
	}
	return out
}

// EmbedInput builds the text actually embedded for an entry: the title
// plus the leading slice of the body.
func EmbedInput(title, content string) string {
	const maxContent = 1000
	if len(content) > maxContent {
		content = content[:maxContent]
	}
	if title == "" {
		return content
	}
	if content == "" {
		return title
	}
	return title + ". " + content
}
