package export

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/xaenox/guildscribe/internal/augment"
	"github.com/xaenox/guildscribe/internal/models"
)

const timeLayout = time.RFC3339

type table struct {
	name   string
	header []string
	rows   [][]string
}

// CSV regenerates the flat tables of the snapshot and one embeddings file per
// item kind present in items. It returns the paths written.
func (e *Exporter) CSV(snap *models.Snapshot, items map[models.ItemKind][]*models.EmbeddableItem) ([]string, error) {
	if err := os.MkdirAll(e.dir, 0o755); err != nil {
		return nil, fmt.Errorf("create %s: %w", e.dir, err)
	}

	tables := []table{
		usersTable(snap.Users),
		messagesTable(snap.Messages),
		threadsTable(snap.Threads),
		analysesTable(snap.Analyses),
		threadStatsTable(augment.ThreadStats(snap.Threads)),
		userStatsTable(augment.UserStats(snap.Users)),
		cumulativeTable(augment.CumulativeSeries(snap.Messages, snap.Threads)),
	}
	for _, kind := range models.ItemKinds {
		if batch, ok := items[kind]; ok {
			tables = append(tables, embeddingsTable(kind, batch))
		}
	}

	paths := make([]string, 0, len(tables))
	for _, t := range tables {
		path := filepath.Join(e.dir, t.name)
		if err := writeCSV(path, t); err != nil {
			return paths, err
		}
		paths = append(paths, path)
	}
	e.logger.Info("CSV exported", zap.String("dir", e.dir), zap.Int("files", len(paths)))
	return paths, nil
}

func writeCSV(path string, t table) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	w := csv.NewWriter(f)
	if err := w.Write(t.header); err != nil {
		f.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := w.WriteAll(t.rows); err != nil {
		f.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	return f.Close()
}

func usersTable(users []*models.User) table {
	t := table{name: "users.csv", header: []string{"id", "name", "is_bot"}}
	for _, u := range users {
		t.rows = append(t.rows, []string{u.ID, u.Name, strconv.FormatBool(u.IsBot)})
	}
	return t
}

func messagesTable(msgs []*models.Message) table {
	t := table{name: "messages.csv", header: []string{
		"id", "thread_id", "channel_id", "author_id", "is_bot", "timestamp",
		"parent_message_id", "pinned", "reactions", "attachments", "content",
	}}
	for _, m := range msgs {
		t.rows = append(t.rows, []string{
			m.ID, deref(m.ThreadID), deref(m.ChannelID), m.AuthorID, strconv.FormatBool(m.IsBot),
			m.Timestamp.UTC().Format(timeLayout), deref(m.ParentMessageID), strconv.FormatBool(m.Pinned),
			strings.Join(m.Reactions, " "), strconv.Itoa(len(m.Attachments)), m.Content,
		})
	}
	return t
}

func threadsTable(threads []*models.Thread) table {
	t := table{name: "threads.csv", header: []string{"id", "name", "channel_id", "owner_id", "created_at", "messages"}}
	for _, th := range threads {
		t.rows = append(t.rows, []string{
			th.ID, th.Name, th.ChannelID, th.OwnerID, th.CreatedAt.UTC().Format(timeLayout), strconv.Itoa(len(th.Messages)),
		})
	}
	return t
}

func analysesTable(analyses []*models.AiAnalysis) table {
	t := table{name: "analyses.csv", header: []string{
		"id", "owner_kind", "owner_id", "route", "title", "extremely_short_summary", "short_summary",
		"detailed_summary", "highlights", "tags", "topic_areas", "model", "chunks", "created_at",
	}}
	sorted := append([]*models.AiAnalysis(nil), analyses...)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].OwnerKind != sorted[j].OwnerKind {
			return sorted[i].OwnerKind < sorted[j].OwnerKind
		}
		return sorted[i].OwnerID < sorted[j].OwnerID
	})
	for _, a := range sorted {
		areas := make([]string, 0, len(a.TopicAreas))
		for _, ta := range a.TopicAreas {
			areas = append(areas, ta.Path())
		}
		t.rows = append(t.rows, []string{
			a.ID, string(a.OwnerKind), a.OwnerID, a.Route, a.Title, a.ExtremelyShortSummary, a.ShortSummary,
			a.DetailedSummary, strings.Join(a.Highlights, "\n"), strings.Join(a.Tags, " "), strings.Join(areas, "\n"),
			a.Model, strconv.Itoa(a.Chunks), a.CreatedAt.UTC().Format(timeLayout),
		})
	}
	return t
}

func threadStatsTable(stats []augment.ThreadStat) table {
	t := table{name: "thread_stats.csv", header: []string{
		"thread_id", "name", "channel_id", "messages", "human_messages", "bot_messages", "words", "participants", "created_at",
	}}
	for _, s := range stats {
		t.rows = append(t.rows, []string{
			s.ThreadID, s.Name, s.ChannelID, strconv.Itoa(s.Messages), strconv.Itoa(s.HumanMessages),
			strconv.Itoa(s.BotMessages), strconv.Itoa(s.Words), strconv.Itoa(s.Participants),
			s.CreatedAt.UTC().Format(timeLayout),
		})
	}
	return t
}

func userStatsTable(stats []augment.UserStat) table {
	t := table{name: "user_stats.csv", header: []string{"user_id", "name", "is_bot", "messages", "words", "threads"}}
	for _, s := range stats {
		t.rows = append(t.rows, []string{
			s.UserID, s.Name, strconv.FormatBool(s.IsBot), strconv.Itoa(s.Messages), strconv.Itoa(s.Words), strconv.Itoa(s.Threads),
		})
	}
	return t
}

func cumulativeTable(series []augment.CumulativePoint) table {
	t := table{name: "cumulative.csv", header: []string{"day", "messages", "threads"}}
	for _, p := range series {
		t.rows = append(t.rows, []string{p.Day.Format("2006-01-02"), strconv.Itoa(p.Messages), strconv.Itoa(p.Threads)})
	}
	return t
}

// embeddingsTable flattens the projections of a batch: PCA components first,
// then x/y/z columns for every t-SNE and UMAP key in sorted order.
func embeddingsTable(kind models.ItemKind, items []*models.EmbeddableItem) table {
	pcaCols := 0
	tsneKeys := map[string]struct{}{}
	umapKeys := map[string]struct{}{}
	for _, it := range items {
		p := it.Projections.Data()
		pcaCols = max(pcaCols, len(p.PCA))
		for k := range p.TSNE {
			tsneKeys[k] = struct{}{}
		}
		for k := range p.UMAP {
			umapKeys[k] = struct{}{}
		}
	}
	tsne := sortedKeys(tsneKeys)
	umap := sortedKeys(umapKeys)

	header := []string{"id", "kind", "source_id", "label", "embedding_index"}
	for i := 0; i < pcaCols; i++ {
		header = append(header, fmt.Sprintf("pca_%d", i))
	}
	for _, k := range tsne {
		header = append(header, "tsne["+k+"]_x", "tsne["+k+"]_y", "tsne["+k+"]_z")
	}
	for _, k := range umap {
		header = append(header, "umap["+k+"]_x", "umap["+k+"]_y", "umap["+k+"]_z")
	}

	t := table{name: "embeddings_" + string(kind) + ".csv", header: header}
	for _, it := range items {
		p := it.Projections.Data()
		row := []string{it.ID, string(it.Kind), it.SourceID, it.Label, strconv.Itoa(it.EmbeddingIndex)}
		for i := 0; i < pcaCols; i++ {
			if i < len(p.PCA) {
				row = append(row, formatFloat(p.PCA[i]))
			} else {
				row = append(row, "")
			}
		}
		row = appendPoints(row, tsne, p.TSNE)
		row = appendPoints(row, umap, p.UMAP)
		t.rows = append(t.rows, row)
	}
	return t
}

func appendPoints(row []string, keys []string, points map[string]models.Point3) []string {
	for _, k := range keys {
		pt, ok := points[k]
		if !ok {
			row = append(row, "", "", "")
			continue
		}
		row = append(row, formatFloat(pt.X), formatFloat(pt.Y), formatFloat(pt.Z))
	}
	return row
}

func sortedKeys(m map[string]struct{}) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
