package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/spf13/cobra"

	"github.com/xaenox/guildscribe/internal/models"
	"github.com/xaenox/guildscribe/internal/storage"
)

var showRaw bool

var showCmd = &cobra.Command{
	Use:   "show <kind> <id>",
	Short: "Print the stored analysis of one unit",
	Long: `Show renders the analysis of a server, category, channel, thread, user or
tag in the terminal. Tags are addressed by their normalized name.

Examples:
  guildscribe show thread 1180000000000000000
  guildscribe show tag golang
  guildscribe show channel 1170000000000000000 --raw`,
	Args: cobra.ExactArgs(2),
	RunE: runShow,
}

func init() {
	showCmd.Flags().BoolVar(&showRaw, "raw", false, "print markdown without terminal styling")
}

func runShow(cmd *cobra.Command, args []string) error {
	kinds, err := parseKinds(args[:1])
	if err != nil {
		return err
	}
	key := models.Key{Kind: kinds[0], ID: args[1]}
	if key.Kind == models.KindTag {
		key.ID = models.NormalizeTag(key.ID)
	}

	store := openStore()
	defer store.Close()

	a, err := store.GetAnalysis(cmd.Context(), key)
	if errors.Is(err, storage.ErrNotFound) {
		return fmt.Errorf("no analysis stored for %s", key)
	}
	if err != nil {
		return err
	}

	md := analysisMarkdown(a)
	if showRaw {
		fmt.Fprint(cmd.OutOrStdout(), md)
		return nil
	}
	r, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(100),
	)
	if err != nil {
		return fmt.Errorf("create renderer: %w", err)
	}
	out, err := r.Render(md)
	if err != nil {
		return fmt.Errorf("render analysis: %w", err)
	}
	fmt.Fprint(cmd.OutOrStdout(), out)
	return nil
}

func analysisMarkdown(a *models.AiAnalysis) string {
	var b strings.Builder
	title := a.Title
	if title == "" {
		title = a.OwnerID
	}
	fmt.Fprintf(&b, "# %s\n\n", title)
	fmt.Fprintf(&b, "`%s` · `%s` · %s · %d chunk(s)\n\n", a.OwnerKind, a.Route, a.Model, a.Chunks)
	if a.ExtremelyShortSummary != "" {
		fmt.Fprintf(&b, "> %s\n\n", a.ExtremelyShortSummary)
	}
	if a.ShortSummary != "" {
		fmt.Fprintf(&b, "%s\n\n", a.ShortSummary)
	}
	if a.DetailedSummary != "" {
		fmt.Fprintf(&b, "## Details\n\n%s\n\n", a.DetailedSummary)
	}
	if len(a.Highlights) > 0 {
		b.WriteString("## Highlights\n\n")
		for _, h := range a.Highlights {
			fmt.Fprintf(&b, "- %s\n", h)
		}
		b.WriteString("\n")
	}
	if len(a.TopicAreas) > 0 {
		b.WriteString("## Topic areas\n\n")
		for _, t := range a.TopicAreas {
			fmt.Fprintf(&b, "- **%s**", t.Path())
			if t.Description != "" {
				fmt.Fprintf(&b, ": %s", t.Description)
			}
			b.WriteString("\n")
		}
		b.WriteString("\n")
	}
	if len(a.Tags) > 0 {
		fmt.Fprintf(&b, "## Tags\n\n%s\n", strings.Join(a.Tags, " "))
	}
	return b.String()
}
