package projection

import (
	"context"
	"fmt"
	"runtime"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gorm.io/datatypes"

	"github.com/xaenox/guildscribe/internal/models"
)

// Grid lists the projection parameters to compute.
type Grid struct {
	Perplexities  []float64
	Neighbors     []int
	MinDists      []float64
	PCAComponents int
}

// DefaultGrid is perplexity 5..50 step 5, n_neighbors 5..50 step 5 crossed
// with min_dist 0.1..0.9 step 0.1, and 10 PCA components.
func DefaultGrid() Grid {
	g := Grid{PCAComponents: 10}
	for v := 5; v <= 50; v += 5 {
		g.Perplexities = append(g.Perplexities, float64(v))
		g.Neighbors = append(g.Neighbors, v)
	}
	for v := 1; v <= 9; v++ {
		g.MinDists = append(g.MinDists, float64(v)/10)
	}
	return g
}

// Runs is the number of t-SNE and UMAP projections of the grid.
func (g Grid) Runs() int {
	return len(g.Perplexities) + len(g.Neighbors)*len(g.MinDists)
}

type Options struct {
	Seed           uint64
	TSNEIterations int
	UMAPEpochs     int
	Concurrency    int
}

// Result holds every projection of one batch, keyed like models.TSNEKey and
// models.UMAPKey.
type Result struct {
	TSNE map[string][][]float64
	UMAP map[string][][]float64
	PCA  [][]float64
}

// Sweep runs the whole grid over x in parallel. Every run uses the same seed
// with its own random source, so the output does not depend on scheduling.
func Sweep(ctx context.Context, x [][]float64, grid Grid, opts Options, logger *zap.Logger) (*Result, error) {
	if opts.Concurrency <= 0 {
		opts.Concurrency = runtime.NumCPU()
	}
	res := &Result{
		TSNE: make(map[string][][]float64, len(grid.Perplexities)),
		UMAP: make(map[string][][]float64, len(grid.Neighbors)*len(grid.MinDists)),
	}

	pca, err := PCA(x, grid.PCAComponents)
	if err != nil {
		return nil, err
	}
	res.PCA = pca

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(opts.Concurrency)

	for _, perplexity := range grid.Perplexities {
		g.Go(func() error {
			y, err := TSNE(gctx, x, TSNEOptions{Perplexity: perplexity, Dims: 3, Iterations: opts.TSNEIterations, Seed: opts.Seed})
			if err != nil {
				return fmt.Errorf("t-SNE perplexity=%g: %w", perplexity, err)
			}
			mu.Lock()
			res.TSNE[models.TSNEKey(perplexity)] = y
			mu.Unlock()
			logger.Debug("Projected", zap.String("method", "tsne"), zap.Float64("perplexity", perplexity))
			return nil
		})
	}
	for _, neighbors := range grid.Neighbors {
		for _, minDist := range grid.MinDists {
			g.Go(func() error {
				y, err := UMAP(gctx, x, UMAPOptions{NNeighbors: neighbors, MinDist: minDist, Dims: 3, Epochs: opts.UMAPEpochs, Seed: opts.Seed})
				if err != nil {
					return fmt.Errorf("UMAP n_neighbors=%d min_dist=%.1f: %w", neighbors, minDist, err)
				}
				mu.Lock()
				res.UMAP[models.UMAPKey(neighbors, minDist)] = y
				mu.Unlock()
				logger.Debug("Projected",
					zap.String("method", "umap"),
					zap.Int("n_neighbors", neighbors),
					zap.Float64("min_dist", minDist))
				return nil
			})
		}
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	logger.Info("Projection sweep finished",
		zap.Int("items", len(x)),
		zap.Int("runs", grid.Runs()))
	return res, nil
}

// Attach writes each item's coordinates into its Projections.
func Attach(items []*models.EmbeddableItem, res *Result) error {
	if len(res.PCA) != len(items) {
		return fmt.Errorf("projection has %d rows for %d items", len(res.PCA), len(items))
	}
	for i, it := range items {
		p := models.Projections{
			TSNE: make(map[string]models.Point3, len(res.TSNE)),
			UMAP: make(map[string]models.Point3, len(res.UMAP)),
			PCA:  res.PCA[i],
		}
		for key, y := range res.TSNE {
			p.TSNE[key] = point(y[i])
		}
		for key, y := range res.UMAP {
			p.UMAP[key] = point(y[i])
		}
		it.Projections = datatypes.NewJSONType(p)
	}
	return nil
}

func point(row []float64) models.Point3 {
	var p models.Point3
	if len(row) > 0 {
		p.X = row[0]
	}
	if len(row) > 1 {
		p.Y = row[1]
	}
	if len(row) > 2 {
		p.Z = row[2]
	}
	return p
}
