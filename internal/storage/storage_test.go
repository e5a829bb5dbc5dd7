package storage

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xaenox/guildscribe/internal/models"
)

func backends(t *testing.T) map[string]Storage {
	t.Helper()
	sqliteStore, err := OpenSQLite(filepath.Join(t.TempDir(), "guild.db"), zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqliteStore.Close() })

	return map[string]Storage{
		"memory": NewMemoryStorage(),
		"sqlite": sqliteStore,
	}
}

func seed(t *testing.T, ctx context.Context, s Storage) {
	t.Helper()
	base := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)

	require.NoError(t, s.UpsertServer(ctx, &models.Server{ID: "s1", Name: "guild", ScrapedAt: base}))
	require.NoError(t, s.UpsertCategories(ctx, []*models.Category{{ID: "cat1", Name: "help", ServerID: "s1"}}))
	require.NoError(t, s.UpsertChannels(ctx, []*models.Channel{
		{ID: "ch1", Name: "questions", ServerID: "s1", CategoryID: models.StringPtr("cat1")},
		{ID: "ch2", Name: "lobby", ServerID: "s1"},
	}))
	require.NoError(t, s.UpsertThread(ctx, &models.Thread{ID: "t1", Name: "setup", ChannelID: "ch1", OwnerID: "u1", CreatedAt: base}))
	require.NoError(t, s.UpsertUsers(ctx, []*models.User{{ID: "u1", Name: "ada"}, {ID: "b1", Name: "helper", IsBot: true}}))
	require.NoError(t, s.UpsertMessages(ctx, []*models.Message{
		{ID: "m1", AuthorID: "u1", Content: "how do I install it", Timestamp: base, ThreadID: models.StringPtr("t1")},
		{ID: "m2", AuthorID: "b1", IsBot: true, Content: "run make install", Timestamp: base.Add(time.Second),
			ThreadID: models.StringPtr("t1"), ParentMessageID: models.StringPtr("m1"), Reactions: []string{"👍:2"}},
		{ID: "m3", AuthorID: "u1", Content: "hi all", Timestamp: base, ChannelID: models.StringPtr("ch2")},
	}))
	require.NoError(t, s.AddParticipants(ctx, []models.ThreadParticipant{{ThreadID: "t1", UserID: "u1"}, {ThreadID: "t1", UserID: "b1"}}))
}

func TestStorageSnapshot(t *testing.T) {
	ctx := context.Background()
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			seed(t, ctx, s)
			// re-scrape upserts instead of duplicating
			seed(t, ctx, s)

			snap, err := s.Snapshot(ctx, "s1")
			require.NoError(t, err)
			assert.Equal(t, "guild", snap.Server.Name)
			assert.Len(t, snap.Categories, 1)
			assert.Len(t, snap.Channels, 2)
			require.Len(t, snap.Threads, 1)
			assert.Len(t, snap.Messages, 3)
			assert.Len(t, snap.Users, 2)
			assert.Len(t, snap.Threads[0].Participants, 2)
			require.Len(t, snap.Threads[0].Messages, 2)
			assert.Equal(t, "m1", snap.Threads[0].Messages[0].ID)
			assert.Equal(t, []string{"👍:2"}, []string(snap.Threads[0].Messages[1].Reactions))

			_, err = s.Snapshot(ctx, "missing")
			assert.ErrorIs(t, err, ErrNotFound)
		})
	}
}

func TestStorageRejectsIntegrityViolations(t *testing.T) {
	ctx := context.Background()
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			err := s.UpsertMessages(ctx, []*models.Message{{ID: "bad", AuthorID: "u1"}})
			assert.ErrorIs(t, err, models.ErrInvalidContainer)

			err = s.UpsertThread(ctx, &models.Thread{ID: "t9", Name: "orphan", ChannelID: "ch1"})
			assert.ErrorIs(t, err, models.ErrMissingOwner)
		})
	}
}

func TestSaveAnalysisReplaces(t *testing.T) {
	ctx := context.Background()
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			seed(t, ctx, s)
			first := &models.AiAnalysis{
				OwnerKind: models.KindThread, OwnerID: "t1", Route: "s1/cat1/ch1/t1",
				Title: "first", Tags: []string{"#setup"},
				TopicAreas: []models.TopicArea{{Name: "Software", Category: "Tooling", Description: "build tools"}},
			}
			require.NoError(t, s.SaveAnalysis(ctx, first))

			second := &models.AiAnalysis{
				OwnerKind: models.KindThread, OwnerID: "t1", Route: "s1/cat1/ch1/t1",
				Title: "second", Highlights: []string{"make install works"},
				TopicAreas: []models.TopicArea{{Name: "Software", Category: "Tooling"}},
			}
			require.NoError(t, s.SaveAnalysis(ctx, second))

			got, err := s.GetAnalysis(ctx, models.Key{Kind: models.KindThread, ID: "t1"})
			require.NoError(t, err)
			assert.Equal(t, "second", got.Title)
			assert.Equal(t, []string{"make install works"}, []string(got.Highlights))
			require.Len(t, got.TopicAreas, 1)
			assert.Equal(t, "Software > Tooling", got.TopicAreas[0].Path())

			all, err := s.ListAnalyses(ctx, models.KindThread)
			require.NoError(t, err)
			assert.Len(t, all, 1)

			snap, err := s.Snapshot(ctx, "s1")
			require.NoError(t, err)
			require.NotNil(t, snap.Threads[0].Analysis())
			assert.Equal(t, "second", snap.Threads[0].Analysis().Title)

			_, err = s.GetAnalysis(ctx, models.Key{Kind: models.KindUser, ID: "nobody"})
			assert.ErrorIs(t, err, ErrNotFound)
		})
	}
}

func TestChannelOnlyUserAnalysisSurvivesReload(t *testing.T) {
	ctx := context.Background()
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			seed(t, ctx, s)
			require.NoError(t, s.UpsertUsers(ctx, []*models.User{{ID: "u2", Name: "lurker"}}))
			require.NoError(t, s.UpsertMessages(ctx, []*models.Message{
				{ID: "m9", AuthorID: "u2", Content: "hello lobby", Timestamp: time.Date(2024, 5, 2, 9, 0, 0, 0, time.UTC), ChannelID: models.StringPtr("ch2")},
			}))

			snap, err := s.Snapshot(ctx, "s1")
			require.NoError(t, err)
			var lurker *models.User
			for _, u := range snap.Users {
				if u.ID == "u2" {
					lurker = u
				}
			}
			require.NotNil(t, lurker)
			assert.Empty(t, lurker.Threads)
			require.Equal(t, "s1", lurker.Route())

			require.NoError(t, s.SaveAnalysis(ctx, &models.AiAnalysis{
				OwnerKind: models.KindUser, OwnerID: "u2", Route: lurker.Route(), Title: "lurker profile",
			}))

			snap, err = s.Snapshot(ctx, "s1")
			require.NoError(t, err)
			for _, u := range snap.Users {
				if u.ID == "u2" {
					require.NotNil(t, u.Analysis())
					assert.Equal(t, "lurker profile", u.Analysis().Title)
				}
			}
		})
	}
}

func TestConcurrentWrites(t *testing.T) {
	ctx := context.Background()
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			seed(t, ctx, s)

			var g errgroup.Group
			for i := 0; i < 16; i++ {
				id := fmt.Sprintf("t%d", i)
				g.Go(func() error {
					return s.SaveAnalysis(ctx, &models.AiAnalysis{
						OwnerKind: models.KindThread, OwnerID: id, Route: "s1/cat1/ch1/" + id,
						Title: id, Tags: []string{"#load"},
					})
				})
				g.Go(func() error {
					return s.UpsertUsers(ctx, []*models.User{{ID: "w" + id, Name: id}})
				})
			}
			require.NoError(t, g.Wait())

			all, err := s.ListAnalyses(ctx, models.KindThread)
			require.NoError(t, err)
			assert.Len(t, all, 16)
		})
	}
}

func TestContextPromptsUpsertByRoute(t *testing.T) {
	ctx := context.Background()
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, s.SaveContextPrompt(ctx, &models.ContextSystemPrompt{Route: "s1", Prompt: "v1"}))
			require.NoError(t, s.SaveContextPrompt(ctx, &models.ContextSystemPrompt{Route: "s1", Prompt: "v2"}))
			require.NoError(t, s.SaveContextPrompt(ctx, &models.ContextSystemPrompt{Route: "s1/cat1", Prompt: "help desk"}))

			prompts, err := s.ListContextPrompts(ctx)
			require.NoError(t, err)
			require.Len(t, prompts, 2)
			assert.Equal(t, "v2", prompts[0].Prompt)
			assert.Equal(t, "help desk", models.ResolvePrompt(prompts, "s1/cat1/ch1").Prompt)
		})
	}
}

func TestReplaceEmbeddableItems(t *testing.T) {
	ctx := context.Background()
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			items := []*models.EmbeddableItem{
				{SourceID: "t2", Text: "b", EmbeddingIndex: 1},
				{SourceID: "t1", Text: "a", EmbeddingIndex: 0},
			}
			require.NoError(t, s.ReplaceEmbeddableItems(ctx, models.ItemThreadAnalysis, items))
			require.NoError(t, s.ReplaceEmbeddableItems(ctx, models.ItemThreadAnalysis, items[:1]))

			got, err := s.ListEmbeddableItems(ctx, models.ItemThreadAnalysis)
			require.NoError(t, err)
			require.Len(t, got, 1)
			assert.Equal(t, "t2", got[0].SourceID)
			assert.Equal(t, models.ItemThreadAnalysis, got[0].Kind)

			other, err := s.ListEmbeddableItems(ctx, models.ItemTag)
			require.NoError(t, err)
			assert.Empty(t, other)
		})
	}
}
