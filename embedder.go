package simidx

import (
	"context"
	"fmt"
)

// Embedder turns a media payload into a fixed-dimension embedding vector.
// Every call must return a vector of the same length.
type Embedder interface {
	Embed(ctx context.Context, payload []byte) ([]float32, error)
}

// Dimensioner is an optional interface for embedders that know their output
// dimension without doing any work.
type Dimensioner interface {
	Dimension() int
}

// ProbeDimension determines the embedding dimension of e. Embedders that
// implement Dimensioner are asked directly; otherwise sample is embedded once
// and the length of the result is returned.
func ProbeDimension(ctx context.Context, e Embedder, sample []byte) (int, error) {
	if d, ok := e.(Dimensioner); ok {
		return d.Dimension(), nil
	}

	vector, err := e.Embed(ctx, sample)
	if err != nil {
		return 0, fmt.Errorf("probe embedding dimension: %w", err)
	}

	if len(vector) == 0 {
		return 0, fmt.Errorf("probe embedding dimension: embedder returned an empty vector")
	}

	return len(vector), nil
}
