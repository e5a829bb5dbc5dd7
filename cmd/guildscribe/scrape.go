package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xaenox/guildscribe/internal/scraper"
	"github.com/xaenox/guildscribe/internal/storage"
)

var scrapeDryRun bool

var scrapeCmd = &cobra.Command{
	Use:   "scrape",
	Short: "Scrape the configured Discord server into the database",
	Long: `Scrape walks categories, channels, active and archived threads of the server
named by DISCORD_SERVER_ID and upserts everything into the database. Re-running
updates rows in place.

Threads named "." with fewer than discord.min_sentinel_messages messages are
skipped.

Examples:
  guildscribe scrape
  guildscribe scrape --db ./data/other.db
  guildscribe scrape --dry-run     # scrape into memory and print the counts`,
	Args: cobra.NoArgs,
	RunE: runScrape,
}

func init() {
	scrapeCmd.Flags().BoolVar(&scrapeDryRun, "dry-run", false, "scrape into memory without touching the database")
}

func runScrape(cmd *cobra.Command, args []string) error {
	mustConfig("discord.token", "discord.server_id")

	source, err := scraper.NewDiscordSource(cfg.Discord.Token, logger)
	if err != nil {
		logger.Fatal("Failed to create Discord session", zap.Error(err))
	}
	defer source.Close()

	var store storage.Storage
	if scrapeDryRun {
		logger.Info("Using in-memory storage")
		store = storage.NewMemoryStorage()
	} else {
		store = openStore()
	}
	defer store.Close()

	s := scraper.New(source, store, scraper.Options{
		ServerID:            cfg.Discord.ServerID,
		MinSentinelMessages: cfg.Discord.MinSentinelMessages,
		HistoryLimit:        cfg.Discord.HistoryLimit,
		Concurrency:         cfg.Discord.Concurrency,
	}, logger)

	stats, err := s.Run(cmd.Context())
	if err != nil {
		return fmt.Errorf("scrape: %w", err)
	}
	for _, e := range stats.Errors {
		logger.Warn("Scrape error", zap.Error(e))
	}
	fmt.Fprintln(cmd.OutOrStdout(), stats.String())
	return nil
}
