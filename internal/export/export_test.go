package export

import (
	"encoding/csv"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/datatypes"

	"github.com/xaenox/guildscribe/internal/models"
)

func fixture() *models.Snapshot {
	t0 := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	snap := &models.Snapshot{
		Server:     &models.Server{ID: "g1", Name: "Guild"},
		Categories: []*models.Category{{ID: "cat1", Name: "Help Desk", ServerID: "g1"}},
		Channels: []*models.Channel{
			{ID: "ch1", Name: "go-help", ServerID: "g1", CategoryID: models.StringPtr("cat1")},
		},
		Threads: []*models.Thread{
			{ID: "t1", Name: "Port conflict?", ChannelID: "ch1", OwnerID: "u1", CreatedAt: t0},
		},
		Messages: []*models.Message{
			{ID: "m1", Content: "why is 8443 taken", AuthorID: "u1", Timestamp: t0, ThreadID: models.StringPtr("t1"),
				Attachments: datatypes.JSONSlice[string]{"log.txt\nbind: address in use"}},
			{ID: "m2", Content: "another process holds it", AuthorID: "b1", IsBot: true, Timestamp: t0.Add(time.Minute),
				ParentMessageID: models.StringPtr("m1"), ThreadID: models.StringPtr("t1")},
			{ID: "m3", Content: "welcome", AuthorID: "u1", Timestamp: t0.Add(24 * time.Hour), ChannelID: models.StringPtr("ch1")},
		},
		Users: []*models.User{{ID: "u1", Name: "ann"}, {ID: "b1", Name: "helper", IsBot: true}},
		Participants: []models.ThreadParticipant{
			{ThreadID: "t1", UserID: "u1"}, {ThreadID: "t1", UserID: "b1"},
		},
		Analyses: []*models.AiAnalysis{{
			ID: "a1", OwnerKind: models.KindThread, OwnerID: "t1", Title: "Port 8443 in use",
			ExtremelyShortSummary: "port clash", ShortSummary: "A process held the port.",
			Highlights: datatypes.JSONSlice[string]{"check lsof"},
			Tags:       datatypes.JSONSlice[string]{"#networking", "#ports"},
			TopicAreas: []models.TopicArea{{Name: "Networking", Category: "Sockets"}},
		}},
	}
	snap.Link()
	return snap
}

func TestSlug(t *testing.T) {
	assert.Equal(t, "port-conflict-t1", Slug("Port conflict?", "t1"))
	assert.Equal(t, "t2", Slug("???", "t2"))
}

func TestMarkdown(t *testing.T) {
	dir := t.TempDir()
	e, err := New(dir, zap.NewNop())
	require.NoError(t, err)

	stale := filepath.Join(dir, "thread", "old.md")
	require.NoError(t, os.MkdirAll(filepath.Dir(stale), 0o755))
	require.NoError(t, os.WriteFile(stale, []byte("x"), 0o644))

	n, err := e.Markdown(fixture())
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.NoFileExists(t, stale)

	thread, err := os.ReadFile(filepath.Join(dir, "thread", "port-conflict-t1.md"))
	require.NoError(t, err)
	body := string(thread)
	assert.Contains(t, body, "# Port 8443 in use")
	assert.Contains(t, body, "> port clash")
	assert.Contains(t, body, "- check lsof")
	assert.Contains(t, body, "- Networking > Sockets")
	assert.Contains(t, body, "#networking #ports")
	assert.Contains(t, body, "[#go-help](../channel/go-help-ch1.md)")
	assert.Contains(t, body, "[Help Desk](../category/help-desk-cat1.md)")
	assert.Contains(t, body, "why is 8443 taken")
	assert.Contains(t, body, "another process holds it")
	assert.Contains(t, body, "bind: address in use")

	channel, err := os.ReadFile(filepath.Join(dir, "channel", "go-help-ch1.md"))
	require.NoError(t, err)
	assert.Contains(t, string(channel), "_No analysis yet._")
	assert.Contains(t, string(channel), "[Port conflict?](../thread/port-conflict-t1.md)")
	assert.Contains(t, string(channel), "welcome")

	category, err := os.ReadFile(filepath.Join(dir, "category", "help-desk-cat1.md"))
	require.NoError(t, err)
	assert.Contains(t, string(category), "[#go-help](../channel/go-help-ch1.md)")
}

func readCSV(t *testing.T, path string) [][]string {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	return rows
}

func TestCSV(t *testing.T) {
	dir := t.TempDir()
	e, err := New(dir, zap.NewNop())
	require.NoError(t, err)

	item := &models.EmbeddableItem{ID: "i1", Kind: models.ItemThreadAnalysis, SourceID: "t1", Label: "Port 8443 in use"}
	item.Projections = datatypes.NewJSONType(models.Projections{
		TSNE: map[string]models.Point3{models.TSNEKey(5): {X: 1, Y: 2, Z: 3}},
		UMAP: map[string]models.Point3{models.UMAPKey(5, 0.1): {X: 4, Y: 5, Z: 6}},
		PCA:  []float64{0.5, -0.25},
	})

	paths, err := e.CSV(fixture(), map[models.ItemKind][]*models.EmbeddableItem{
		models.ItemThreadAnalysis: {item},
	})
	require.NoError(t, err)
	assert.Len(t, paths, 8)

	msgs := readCSV(t, filepath.Join(dir, "messages.csv"))
	require.Len(t, msgs, 4)
	assert.Equal(t, "id", msgs[0][0])
	assert.Equal(t, []string{"m2", "t1", "", "b1", "true"}, msgs[2][:5])
	assert.Equal(t, "m1", msgs[2][6])

	stats := readCSV(t, filepath.Join(dir, "thread_stats.csv"))
	require.Len(t, stats, 2)
	assert.Equal(t, []string{"t1", "Port conflict?", "ch1", "2", "1", "1"}, stats[1][:6])

	cum := readCSV(t, filepath.Join(dir, "cumulative.csv"))
	assert.Equal(t, [][]string{{"day", "messages", "threads"}, {"2024-03-01", "2", "1"}, {"2024-03-02", "3", "1"}}, cum)

	emb := readCSV(t, filepath.Join(dir, "embeddings_thread_analysis.csv"))
	require.Len(t, emb, 2)
	assert.Equal(t, []string{
		"id", "kind", "source_id", "label", "embedding_index", "pca_0", "pca_1",
		"tsne[perplexity=5]_x", "tsne[perplexity=5]_y", "tsne[perplexity=5]_z",
		"umap[n_neighbors=5,min_dist=0.1]_x", "umap[n_neighbors=5,min_dist=0.1]_y", "umap[n_neighbors=5,min_dist=0.1]_z",
	}, emb[0])
	assert.Equal(t, []string{"i1", "thread_analysis", "t1", "Port 8443 in use", "0", "0.5", "-0.25", "1", "2", "3", "4", "5", "6"}, emb[1])
}
