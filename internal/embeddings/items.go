package embeddings

import (
	"fmt"
	"strings"

	"github.com/xaenox/guildscribe/internal/augment"
	"github.com/xaenox/guildscribe/internal/models"
)

// BuildItems collects the embeddable texts of one kind from a linked
// snapshot, with EmbeddingIndex set to each item's position.
func BuildItems(snap *models.Snapshot, kind models.ItemKind) ([]*models.EmbeddableItem, error) {
	var items []*models.EmbeddableItem
	add := func(sourceID, label, text string) {
		text = strings.TrimSpace(text)
		if text == "" {
			return
		}
		items = append(items, &models.EmbeddableItem{
			Kind:           kind,
			SourceID:       sourceID,
			Label:          label,
			Text:           text,
			EmbeddingIndex: len(items),
		})
	}

	switch kind {
	case models.ItemMessagePair:
		for _, t := range snap.Threads {
			for _, p := range augment.MessagePairs(t.Messages) {
				add(p.Message.ID, t.Name, p.Text())
			}
		}
		for _, ch := range snap.Channels {
			for _, p := range augment.MessagePairs(ch.Messages) {
				add(p.Message.ID, ch.Name, p.Text())
			}
		}
	case models.ItemThreadAnalysis:
		for _, t := range snap.Threads {
			if a := t.Analysis(); a != nil {
				add(t.ID, labelOf(a, t.Name), analysisText(a))
			}
		}
	case models.ItemTag:
		for _, a := range snap.Analyses {
			if a.OwnerKind == models.KindTag {
				add(a.OwnerID, a.OwnerID, analysisText(a))
			}
		}
	case models.ItemUserProfile:
		for _, u := range snap.HumanUsers() {
			if a := u.Analysis(); a != nil {
				add(u.ID, u.DisplayName(), analysisText(a))
			}
		}
	default:
		return nil, fmt.Errorf("unknown item kind %q", kind)
	}
	return items, nil
}

func labelOf(a *models.AiAnalysis, fallback string) string {
	if a.Title != "" {
		return a.Title
	}
	return fallback
}

func analysisText(a *models.AiAnalysis) string {
	var b strings.Builder
	b.WriteString(a.Text())
	if a.DetailedSummary != "" {
		b.WriteString("\n")
		b.WriteString(a.DetailedSummary)
	}
	return b.String()
}
