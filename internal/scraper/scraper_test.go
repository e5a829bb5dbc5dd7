package scraper

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"

	"github.com/xaenox/guildscribe/internal/models"
	"github.com/xaenox/guildscribe/internal/storage"
)

var base = time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)

type fakeSource struct {
	mu        sync.Mutex
	channels  []RawChannel
	active    []RawThread
	archived  map[string][]RawThread
	history   map[string][]RawMessage
	pinned    map[string][]string
	files     map[string]string
	failing   map[string]bool
	downloads int
}

func (f *fakeSource) Guild(ctx context.Context, guildID string) (*Guild, error) {
	return &Guild{ID: guildID, Name: "gophers"}, nil
}

func (f *fakeSource) Channels(ctx context.Context, guildID string) ([]RawChannel, error) {
	return f.channels, nil
}

func (f *fakeSource) ActiveThreads(ctx context.Context, guildID string) ([]RawThread, error) {
	return f.active, nil
}

func (f *fakeSource) ArchivedThreads(ctx context.Context, channelID string) ([]RawThread, error) {
	return f.archived[channelID], nil
}

func (f *fakeSource) Messages(ctx context.Context, channelID string, limit int) ([]RawMessage, error) {
	if f.failing[channelID] {
		return nil, fmt.Errorf("history of %s: %w", channelID, errors.New("missing access"))
	}
	return f.history[channelID], nil
}

func (f *fakeSource) PinnedMessageIDs(ctx context.Context, channelID string) ([]string, error) {
	return f.pinned[channelID], nil
}

func (f *fakeSource) Download(ctx context.Context, url string) ([]byte, error) {
	f.mu.Lock()
	f.downloads++
	f.mu.Unlock()
	body, ok := f.files[url]
	if !ok {
		return nil, errors.New("404")
	}
	return []byte(body), nil
}

func human(id, author, content string, offset time.Duration) RawMessage {
	return RawMessage{ID: id, AuthorID: author, AuthorName: author, Content: content, Timestamp: base.Add(offset)}
}

func newFakeSource() *fakeSource {
	return &fakeSource{
		channels: []RawChannel{
			{ID: "cat1", Name: "Help", Kind: KindCategory},
			{ID: "ch1", Name: "questions", ParentID: "cat1", Kind: KindText},
			{ID: "forum1", Name: "ideas", Kind: KindForum},
			{ID: "voice", Name: "voice", Kind: KindOther},
		},
		active: []RawThread{
			{ID: "t-dot", Name: ".", ParentID: "ch1", OwnerID: "u1", CreatedAt: base},
			{ID: "t-q", Name: "general-question", ParentID: "ch1", OwnerID: "u1", CreatedAt: base.Add(time.Hour)},
			{ID: "t-voice", Name: "ignored", ParentID: "voice", OwnerID: "u1", CreatedAt: base},
		},
		archived: map[string][]RawThread{
			"forum1": {
				{ID: "t-idea", Name: "idea", ParentID: "forum1", CreatedAt: base.Add(2 * time.Hour)},
				{ID: "t-q", Name: "general-question", ParentID: "ch1", OwnerID: "u1", CreatedAt: base.Add(time.Hour)},
			},
		},
		history: map[string][]RawMessage{
			"ch1": {human("c1", "u2", "hello channel", 0)},
			"t-dot": {
				human("d1", "u1", "one", 0),
				human("d2", "u1", "two", time.Second),
				human("d3", "u2", "three", 2*time.Second),
			},
			"t-q": {
				{
					ID: "q1", AuthorID: "u1", AuthorName: "ada", Content: "my build fails", Timestamp: base,
					Attachments: []RawAttachment{
						{Filename: "build.log", URL: "https://cdn/build.log", ContentType: "text/plain; charset=utf-8", Size: 20},
						{Filename: "screen.png", URL: "https://cdn/screen.png", ContentType: "image/png", Size: 20},
					},
					Reactions: []string{"👀:1"},
				},
				{ID: "q2", AuthorID: "bot", AuthorName: "helper", AuthorBot: true, Content: "try go mod tidy", Timestamp: base.Add(time.Minute), ReferenceID: "q1"},
			},
			"t-idea": {human("i1", "u3", "dark mode", 0)},
		},
		pinned: map[string][]string{"t-q": {"q2"}},
		files:  map[string]string{"https://cdn/build.log": "undefined: foo"},
	}
}

func TestScraperRun(t *testing.T) {
	defer goleak.VerifyNone(t)

	ctx := context.Background()
	src := newFakeSource()
	store := storage.NewMemoryStorage()

	s := New(src, store, Options{ServerID: "g1", MinSentinelMessages: 5, Concurrency: 3}, zap.NewNop())
	stats, err := s.Run(ctx)
	require.NoError(t, err)

	assert.Equal(t, 1, stats.Categories)
	assert.Equal(t, 2, stats.Channels)
	assert.Equal(t, 2, stats.ThreadsKept)
	assert.Equal(t, 1, stats.ThreadsDiscarded)
	assert.Equal(t, 4, stats.Messages)
	assert.Equal(t, 4, stats.Users)
	assert.Equal(t, 1, stats.Attachments)
	assert.Empty(t, stats.Errors)
	assert.Equal(t, 1, src.downloads)

	snap, err := store.Snapshot(ctx, "g1")
	require.NoError(t, err)
	assert.Equal(t, "gophers", snap.Server.Name)

	byID := make(map[string]*models.Thread)
	for _, th := range snap.Threads {
		byID[th.ID] = th
	}
	assert.NotContains(t, byID, "t-dot")
	assert.NotContains(t, byID, "t-voice")
	require.Contains(t, byID, "t-idea")
	// owner falls back to the first author
	assert.Equal(t, "u3", byID["t-idea"].OwnerID)

	q := byID["t-q"]
	require.NotNil(t, q)
	assert.Equal(t, "g1/cat1/ch1/t-q", q.Route())
	require.Len(t, q.Messages, 2)
	assert.Equal(t, []string{"build.log\nundefined: foo"}, []string(q.Messages[0].Attachments))
	assert.Equal(t, []string{"👀:1"}, []string(q.Messages[0].Reactions))
	assert.Equal(t, "q1", *q.Messages[1].ParentMessageID)
	assert.True(t, q.Messages[1].Pinned)
	assert.Len(t, q.Participants, 2)

	require.Len(t, snap.Server.Categories, 1)
	ch1 := snap.Server.Categories[0].Channels[0]
	require.Len(t, ch1.Messages, 1)
	assert.Equal(t, "hello channel", ch1.Messages[0].Content)
}

func TestScraperIsolatesFailures(t *testing.T) {
	ctx := context.Background()
	src := newFakeSource()
	src.failing = map[string]bool{"t-idea": true}
	store := storage.NewMemoryStorage()

	stats, err := New(src, store, Options{ServerID: "g1", MinSentinelMessages: 5, Concurrency: 2}, zap.NewNop()).Run(ctx)
	require.NoError(t, err)
	require.Len(t, stats.Errors, 1)
	assert.Contains(t, stats.Errors[0].Error(), "missing access")
	assert.Equal(t, 1, stats.ThreadsKept)
}

func TestIsRelevantThread(t *testing.T) {
	msgs := func(n int, bot bool) []*models.Message {
		out := make([]*models.Message, n)
		for i := range out {
			out[i] = &models.Message{ID: fmt.Sprint(i), IsBot: bot}
		}
		return out
	}

	tests := []struct {
		name     string
		thread   string
		messages []*models.Message
		want     bool
	}{
		{"sentinel below minimum", ".", msgs(3, false), false},
		{"named thread with one message", "general-question", msgs(1, false), true},
		{"sentinel with enough human messages", ".", msgs(5, false), true},
		{"sentinel with only bots", ".", msgs(8, true), false},
		{"named empty thread", "empty", nil, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsRelevantThread(&models.Thread{Name: tt.thread}, tt.messages, 5))
		})
	}
}

func TestIsTextAttachment(t *testing.T) {
	assert.True(t, IsTextAttachment(RawAttachment{Filename: "a.bin", ContentType: "text/markdown", Size: 10}))
	assert.True(t, IsTextAttachment(RawAttachment{Filename: "main.GO", Size: 10}))
	assert.False(t, IsTextAttachment(RawAttachment{Filename: "pic.png", ContentType: "image/png", Size: 10}))
	assert.False(t, IsTextAttachment(RawAttachment{Filename: "huge.txt", Size: maxDownload + 1}))
}
