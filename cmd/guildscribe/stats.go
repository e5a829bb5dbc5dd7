package main

import (
	"fmt"
	"sort"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/xaenox/guildscribe/internal/models"
)

var statsTop int

var (
	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#c4a7e7")).
			BorderStyle(lipgloss.NormalBorder()).
			BorderBottom(true).
			BorderForeground(lipgloss.Color("#6e6a86")).
			MarginBottom(1)

	numberStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#9ccfd8")).
			Width(8).
			Align(lipgloss.Right)

	labelStyle = lipgloss.NewStyle().PaddingLeft(2)

	sectionStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#f6c177")).
			MarginTop(1)
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Print row counts and the most active users and threads",
	Long: `Stats summarises the stored server: how many rows of each kind exist, how many
units have an analysis, and the most active users, threads and tags.

Examples:
  guildscribe stats
  guildscribe stats --top 20`,
	Args: cobra.NoArgs,
	RunE: runStats,
}

func init() {
	statsCmd.Flags().IntVar(&statsTop, "top", 10, "number of users, threads and tags to list")
}

type ranked struct {
	name  string
	count int
}

func topN(counts map[string]int, n int) []ranked {
	out := make([]ranked, 0, len(counts))
	for name, c := range counts {
		out = append(out, ranked{name, c})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].count != out[j].count {
			return out[i].count > out[j].count
		}
		return out[i].name < out[j].name
	})
	if len(out) > n {
		out = out[:n]
	}
	return out
}

func runStats(cmd *cobra.Command, args []string) error {
	mustConfig("discord.server_id")
	store := openStore()
	defer store.Close()

	snap, err := store.Snapshot(cmd.Context(), cfg.Discord.ServerID)
	if err != nil {
		return fmt.Errorf("load server %s: %w", cfg.Discord.ServerID, err)
	}
	fmt.Fprint(cmd.OutOrStdout(), renderStats(snap, statsTop))
	return nil
}

func renderStats(snap *models.Snapshot, top int) string {
	var b strings.Builder
	row := func(n int, label string) {
		b.WriteString(lipgloss.JoinHorizontal(lipgloss.Top, numberStyle.Render(fmt.Sprint(n)), labelStyle.Render(label)))
		b.WriteString("\n")
	}
	list := func(title string, items []ranked) {
		if len(items) == 0 {
			return
		}
		b.WriteString(sectionStyle.Render(title))
		b.WriteString("\n")
		for _, it := range items {
			row(it.count, it.name)
		}
	}

	name := snap.Server.ID
	if snap.Server.Name != "" {
		name = snap.Server.Name
	}
	b.WriteString(headerStyle.Render(name))
	b.WriteString("\n")

	row(len(snap.Categories), "categories")
	row(len(snap.Channels), "channels")
	row(len(snap.Threads), "threads")
	row(len(snap.Messages), "messages")
	row(len(snap.HumanUsers()), "users")
	row(len(snap.Analyses), "analyses")

	byUser := make(map[string]int)
	for _, u := range snap.HumanUsers() {
		if len(u.Messages) > 0 {
			byUser[u.DisplayName()] = len(u.Messages)
		}
	}
	list("Most active users", topN(byUser, top))

	byThread := make(map[string]int)
	for _, t := range snap.Threads {
		byThread[t.Name+" ("+t.ID+")"] = len(t.Messages)
	}
	list("Largest threads", topN(byThread, top))

	tags := models.CountTags(snap.Analyses, models.KindThread)
	if len(tags) > top {
		tags = tags[:top]
	}
	ranks := make([]ranked, len(tags))
	for i, t := range tags {
		ranks[i] = ranked{t.Tag, t.Count}
	}
	list("Top thread tags", ranks)
	return b.String()
}
