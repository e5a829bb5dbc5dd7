package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xaenox/guildscribe/internal/embeddings"
	"github.com/xaenox/guildscribe/internal/models"
	"github.com/xaenox/guildscribe/internal/projection"
)

var (
	embedItemKinds []string
	embedNoProject bool
)

var embedCmd = &cobra.Command{
	Use:   "embed",
	Short: "Embed message pairs, analyses, tags and user profiles and project them",
	Long: `Embed builds one batch per item kind, embeds every text with the configured
provider and runs the projection sweep (t-SNE per perplexity, UMAP per
n_neighbors and min_dist, PCA components). The batch and its coordinates
replace the previous batch of the same kind.

The sweep is seeded by projection.seed, so identical embeddings give
identical coordinates.

Examples:
  guildscribe embed
  guildscribe embed --kinds thread_analysis,tag
  guildscribe embed --no-project`,
	Args: cobra.NoArgs,
	RunE: runEmbed,
}

func init() {
	embedCmd.Flags().StringSliceVar(&embedItemKinds, "kinds", nil, "item kinds (message_pair,thread_analysis,tag,user_profile)")
	embedCmd.Flags().BoolVar(&embedNoProject, "no-project", false, "store embeddings without running the projection sweep")
}

func parseItemKinds(names []string) ([]models.ItemKind, error) {
	if len(names) == 0 {
		return models.ItemKinds, nil
	}
	valid := make(map[models.ItemKind]bool, len(models.ItemKinds))
	for _, k := range models.ItemKinds {
		valid[k] = true
	}
	kinds := make([]models.ItemKind, 0, len(names))
	for _, n := range names {
		k := models.ItemKind(n)
		if !valid[k] {
			return nil, fmt.Errorf("unknown item kind %q", n)
		}
		kinds = append(kinds, k)
	}
	return kinds, nil
}

func runEmbed(cmd *cobra.Command, args []string) error {
	mustConfig("discord.server_id", "embeddings.model")
	kinds, err := parseItemKinds(embedItemKinds)
	if err != nil {
		return err
	}

	embedder, err := embeddings.NewEmbedder(cfg.Embeddings.Provider, cfg.Embeddings.BaseURL, cfg.Embeddings.Model, cfg.OpenAI.APIKey)
	if err != nil {
		logger.Fatal("Invalid embedding configuration", zap.Error(err))
	}
	ctx := cmd.Context()
	if err := embedder.Health(ctx); err != nil {
		return fmt.Errorf("embedding service: %w", err)
	}

	store := openStore()
	defer store.Close()

	snap, err := store.Snapshot(ctx, cfg.Discord.ServerID)
	if err != nil {
		return fmt.Errorf("load server %s: %w", cfg.Discord.ServerID, err)
	}

	grid := projection.Grid{
		Perplexities:  cfg.Projection.Perplexities,
		Neighbors:     cfg.Projection.Neighbors,
		MinDists:      cfg.Projection.MinDists,
		PCAComponents: cfg.Projection.PCAComponents,
	}
	opts := projection.Options{
		Seed:           cfg.Projection.Seed,
		TSNEIterations: cfg.Projection.TSNEIterations,
		UMAPEpochs:     cfg.Projection.UMAPEpochs,
	}

	out := cmd.OutOrStdout()
	failed := 0
	for _, kind := range kinds {
		log := logger.With(zap.String("kind", string(kind)))
		items, err := embeddings.BuildItems(snap, kind)
		if err != nil {
			log.Error("Failed to build items", zap.Error(err))
			failed++
			continue
		}
		if len(items) == 0 {
			log.Info("No items to embed")
			continue
		}

		vectors, err := embeddings.EmbedItems(ctx, embedder, items, cfg.Embeddings.Concurrency, log)
		if err != nil {
			log.Error("Failed to embed batch", zap.Error(err))
			failed++
			continue
		}

		if !embedNoProject {
			res, err := projection.Sweep(ctx, embeddings.Matrix(vectors), grid, opts, log)
			if err != nil {
				log.Error("Projection sweep failed", zap.Error(err))
				failed++
				continue
			}
			if err := projection.Attach(items, res); err != nil {
				return err
			}
		}

		if err := store.ReplaceEmbeddableItems(ctx, kind, items); err != nil {
			return fmt.Errorf("store %s items: %w", kind, err)
		}
		fmt.Fprintf(out, "%-16s %d items\n", kind, len(items))
	}

	if failed > 0 {
		return fmt.Errorf("%d of %d batches failed", failed, len(kinds))
	}
	return nil
}
