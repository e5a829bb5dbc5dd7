package main

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xaenox/guildscribe/internal/classifier"
	"github.com/xaenox/guildscribe/internal/models"
)

func TestParseKinds(t *testing.T) {
	kinds, err := parseKinds([]string{"thread", "channel"})
	require.NoError(t, err)
	assert.Equal(t, []models.Kind{models.KindThread, models.KindChannel}, kinds)

	kinds, err = parseKinds(nil)
	require.NoError(t, err)
	assert.Empty(t, kinds)

	_, err = parseKinds([]string{"planet"})
	assert.Error(t, err)
}

func TestParseItemKinds(t *testing.T) {
	kinds, err := parseItemKinds(nil)
	require.NoError(t, err)
	assert.Equal(t, models.ItemKinds, kinds)

	kinds, err = parseItemKinds([]string{"tag"})
	require.NoError(t, err)
	assert.Equal(t, []models.ItemKind{models.ItemKind("tag")}, kinds)

	_, err = parseItemKinds([]string{"nope"})
	assert.Error(t, err)
}

func TestAnalysisMarkdown(t *testing.T) {
	res := &classifier.AnalysisResult{
		Title:        "Deploy failures",
		ShortSummary: "Builds broke after the upgrade.",
		Highlights:   []string{"rollback worked"},
		Tags:         []string{"CI", "deploy"},
		TopicAreas:   []classifier.TopicAreaResult{{Name: "Infra", Category: "CI", Description: "pipelines"}},
	}
	a := res.ToAnalysis(models.Key{Kind: models.KindThread, ID: "t1"}, "s1/c1/t1", "gpt-4o-mini", 2)

	md := analysisMarkdown(a)
	assert.Contains(t, md, "# Deploy failures")
	assert.Contains(t, md, "Builds broke after the upgrade.")
	assert.Contains(t, md, "- rollback worked")
	assert.Contains(t, md, "**Infra > CI**: pipelines")
	assert.Contains(t, md, "## Tags\n\n#ci #deploy\n")
	assert.NotContains(t, md, "##ci")
	assert.NotContains(t, md, "## Details")

	a.Title = ""
	assert.Contains(t, analysisMarkdown(a), "# t1")
}

func TestTopN(t *testing.T) {
	got := topN(map[string]int{"b": 3, "a": 3, "c": 1, "d": 5}, 3)
	assert.Equal(t, []ranked{{"d", 5}, {"a", 3}, {"b", 3}}, got)
	assert.Empty(t, topN(nil, 3))
}

func TestRenderStats(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	tid := "t1"
	snap := &models.Snapshot{
		Server:   &models.Server{ID: "s1", Name: "Gophers"},
		Channels: []*models.Channel{{ID: "c1", ServerID: "s1", Name: "general"}},
		Threads:  []*models.Thread{{ID: "t1", Name: "help", ChannelID: "c1", CreatedAt: now}},
		Users:    []*models.User{{ID: "u1", Name: "ann"}, {ID: "b1", Name: "bot", IsBot: true}},
		Messages: []*models.Message{
			{ID: "m1", AuthorID: "u1", ThreadID: &tid, Content: "hi", Timestamp: now},
			{ID: "m2", AuthorID: "u1", ThreadID: &tid, Content: "again", Timestamp: now.Add(time.Minute)},
		},
		Analyses: []*models.AiAnalysis{{OwnerKind: models.KindThread, OwnerID: "t1", Tags: []string{"#help"}}},
	}
	snap.Link()

	out := renderStats(snap, 5)
	assert.Contains(t, out, "Gophers")
	assert.Contains(t, out, "messages")
	assert.Contains(t, out, "Most active users")
	assert.Contains(t, out, "ann")
	assert.Contains(t, out, "help (t1)")
	assert.Contains(t, out, "#help")
	assert.NotContains(t, out, "##help")
}
