package main

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xaenox/guildscribe/internal/bot"
	"github.com/xaenox/guildscribe/internal/classifier"
	"github.com/xaenox/guildscribe/internal/models"
	"github.com/xaenox/guildscribe/internal/search"
	"github.com/xaenox/guildscribe/internal/storage"
)

const offlineMaxTags = 5

var (
	analyzeOffline bool
	analyzeKinds   []string
	analyzePublish bool
)

var analyzeCmd = &cobra.Command{
	Use:   "analyze",
	Short: "Summarise and tag every unit of the scraped server",
	Long: `Analyze runs the LLM over threads and users, then channels, categories, the
server and finally one unit per tag. Long texts are split into token chunks
that are sent in order, each carrying the previous chunk's result.

A unit that fails is logged and skipped; its siblings continue.

Examples:
  guildscribe analyze
  guildscribe analyze --kinds thread,channel
  guildscribe analyze --offline    # keyword tagging, no API calls`,
	Args: cobra.NoArgs,
	RunE: runAnalyze,
}

func init() {
	analyzeCmd.Flags().BoolVar(&analyzeOffline, "offline", false, "use the keyword classifier instead of the LLM")
	analyzeCmd.Flags().StringSliceVar(&analyzeKinds, "kinds", nil, "unit kinds to analyze (server,category,channel,thread,user,tag)")
	analyzeCmd.Flags().BoolVar(&analyzePublish, "publish", true, "post the digest to telegram.chat_id when configured")
}

func parseKinds(names []string) ([]models.Kind, error) {
	valid := map[models.Kind]bool{
		models.KindServer: true, models.KindCategory: true, models.KindChannel: true,
		models.KindThread: true, models.KindUser: true, models.KindTag: true,
	}
	kinds := make([]models.Kind, 0, len(names))
	for _, n := range names {
		k := models.Kind(n)
		if !valid[k] {
			return nil, fmt.Errorf("unknown unit kind %q", n)
		}
		kinds = append(kinds, k)
	}
	return kinds, nil
}

func newAnalyzer() classifier.UnitAnalyzer {
	if analyzeOffline {
		logger.Info("Using keyword classifier")
		return classifier.NewSimpleClassifier(offlineMaxTags)
	}
	mustConfig("openai.api_key")

	tok, err := classifier.NewTiktokenTokenizer(cfg.OpenAI.Model)
	if err != nil {
		logger.Fatal("Failed to load tokenizer", zap.String("model", cfg.OpenAI.Model), zap.Error(err))
	}
	return classifier.NewAnalyzer(
		classifier.NewOpenAIClient(cfg.OpenAI.APIKey, cfg.OpenAI.BaseURL),
		tok,
		classifier.AnalyzerConfig{
			Model:       cfg.OpenAI.Model,
			TokenBudget: cfg.OpenAI.TokenBudget(),
			MaxTokens:   cfg.OpenAI.MaxTokens,
			Temperature: cfg.OpenAI.Temperature,
		},
		logger,
	)
}

func runAnalyze(cmd *cobra.Command, args []string) error {
	mustConfig("discord.server_id")
	kinds, err := parseKinds(analyzeKinds)
	if err != nil {
		return err
	}
	analyzer := newAnalyzer()

	store := openStore()
	defer store.Close()

	ctx := cmd.Context()
	snap, err := store.Snapshot(ctx, cfg.Discord.ServerID)
	if err != nil {
		return fmt.Errorf("load server %s: %w", cfg.Discord.ServerID, err)
	}

	pipeline := classifier.NewPipeline(analyzer, store, cfg.OpenAI.Concurrency, logger)
	report, err := pipeline.Run(ctx, snap, kinds...)
	if err != nil {
		return fmt.Errorf("analyze: %w", err)
	}

	out := cmd.OutOrStdout()
	names := make([]string, 0, len(report.Analyzed))
	for k := range report.Analyzed {
		names = append(names, string(k))
	}
	sort.Strings(names)
	for _, k := range names {
		fmt.Fprintf(out, "%-9s %d\n", k, report.Analyzed[models.Kind(k)])
	}
	for _, f := range report.Failures {
		fmt.Fprintf(out, "failed    %s: %v\n", f.Key, f.Err)
	}
	fmt.Fprintf(out, "analyzed %d units in %s, %d failed\n", report.Total(), report.Duration.Round(time.Millisecond), len(report.Failures))

	idx, err := rebuildIndex(cmd, store)
	if err != nil {
		logger.Warn("Failed to update search index", zap.Error(err))
	} else {
		idx.Close()
	}

	if analyzePublish && cfg.Telegram.Token != "" && cfg.Telegram.ChatID != 0 {
		b, err := bot.New(cfg.Telegram.Token, store, cfg.Discord.ServerID, nil, logger)
		if err != nil {
			logger.Warn("Failed to connect to Telegram", zap.Error(err))
			return nil
		}
		if err := b.PublishDigest(ctx, cfg.Telegram.ChatID); err != nil {
			logger.Warn("Failed to publish digest", zap.Int64("chat_id", cfg.Telegram.ChatID), zap.Error(err))
		}
	}
	return nil
}

func indexPath() string {
	return filepath.Join(cfg.Output.Dir, "analyses.bleve")
}

// rebuildIndex opens the on-disk search index and reindexes every stored
// analysis into it.
func rebuildIndex(cmd *cobra.Command, store storage.Storage) (*search.Index, error) {
	analyses, err := store.ListAnalyses(cmd.Context(), "")
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(cfg.Output.Dir, 0o755); err != nil {
		return nil, err
	}
	idx, err := search.Open(indexPath())
	if err != nil {
		return nil, err
	}
	if err := idx.IndexAnalyses(analyses); err != nil {
		idx.Close()
		return nil, err
	}
	logger.Info("Search index updated", zap.String("path", indexPath()), zap.Int("analyses", len(analyses)))
	return idx, nil
}
