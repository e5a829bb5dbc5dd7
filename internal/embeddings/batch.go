package embeddings

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xaenox/guildscribe/internal/models"
)

var ErrIndexMismatch = errors.New("embedding index does not match item position")

// ValidateIndexes checks items[i].EmbeddingIndex == i for every item.
func ValidateIndexes(items []*models.EmbeddableItem) error {
	for i, it := range items {
		if it.EmbeddingIndex != i {
			return fmt.Errorf("%w: item %d (%s) has index %d", ErrIndexMismatch, i, it.SourceID, it.EmbeddingIndex)
		}
	}
	return nil
}

// EmbedItems embeds every item with one request per text, issued
// concurrently. It validates indexes before the first request, fills
// item.Embedding and returns the N x D matrix in item order. Any failed
// request fails the batch, since a projection needs every row.
func EmbedItems(ctx context.Context, embedder Embedder, items []*models.EmbeddableItem, concurrency int, logger *zap.Logger) ([][]float32, error) {
	if err := ValidateIndexes(items); err != nil {
		return nil, err
	}
	if concurrency <= 0 {
		concurrency = 1
	}

	vectors := make([][]float32, len(items))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)
	for i, it := range items {
		g.Go(func() error {
			vec, err := embedder.Embed(gctx, it.Text)
			if err != nil {
				return fmt.Errorf("embed %s %s: %w", it.Kind, it.SourceID, err)
			}
			vectors[i] = vec
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	dim := 0
	if len(vectors) > 0 {
		dim = len(vectors[0])
	}
	for i, v := range vectors {
		if len(v) != dim {
			return nil, fmt.Errorf("embedding %d has dimension %d, want %d", i, len(v), dim)
		}
		items[i].Embedding = SerializeEmbedding(v)
	}

	logger.Info("Embedded items",
		zap.Int("items", len(items)),
		zap.Int("dimensions", dim))
	return vectors, nil
}
