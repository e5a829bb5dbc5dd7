package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/xaenox/guildscribe/internal/export"
	"github.com/xaenox/guildscribe/internal/models"
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Write markdown pages and CSV tables under the output directory",
	Long: `Export regenerates one markdown page per thread, channel and category under
<out>/<kind>/, and the CSV tables (users, messages, threads, analyses,
thread_stats, user_stats, cumulative, embeddings_<kind>) under <out>/.

Examples:
  guildscribe export
  guildscribe export --out ./site`,
	Args: cobra.NoArgs,
	RunE: runExport,
}

func runExport(cmd *cobra.Command, args []string) error {
	mustConfig("discord.server_id")
	store := openStore()
	defer store.Close()

	ctx := cmd.Context()
	snap, err := store.Snapshot(ctx, cfg.Discord.ServerID)
	if err != nil {
		return fmt.Errorf("load server %s: %w", cfg.Discord.ServerID, err)
	}

	items := make(map[models.ItemKind][]*models.EmbeddableItem)
	for _, kind := range models.ItemKinds {
		batch, err := store.ListEmbeddableItems(ctx, kind)
		if err != nil {
			return fmt.Errorf("list %s items: %w", kind, err)
		}
		if len(batch) > 0 {
			items[kind] = batch
		}
	}

	exp, err := export.New(cfg.Output.Dir, logger)
	if err != nil {
		return err
	}
	pages, err := exp.Markdown(snap)
	if err != nil {
		return err
	}
	files, err := exp.CSV(snap, items)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "wrote %d markdown pages and %d CSV files to %s\n", pages, len(files), cfg.Output.Dir)
	return nil
}
