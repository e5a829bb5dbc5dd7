package bot

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"
	"unicode/utf8"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/datatypes"

	"github.com/xaenox/guildscribe/internal/models"
	"github.com/xaenox/guildscribe/internal/search"
	"github.com/xaenox/guildscribe/internal/storage"
)

type fakeSender struct {
	mu   sync.Mutex
	sent []tgbotapi.MessageConfig
	err  error
}

func (f *fakeSender) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return tgbotapi.Message{}, f.err
	}
	f.sent = append(f.sent, c.(tgbotapi.MessageConfig))
	return tgbotapi.Message{}, nil
}

func (f *fakeSender) last(t *testing.T) tgbotapi.MessageConfig {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	require.NotEmpty(t, f.sent)
	return f.sent[len(f.sent)-1]
}

func command(text string) *tgbotapi.Message {
	name := strings.SplitN(text, " ", 2)[0]
	return &tgbotapi.Message{
		Text:     text,
		Chat:     &tgbotapi.Chat{ID: 7},
		Entities: []tgbotapi.MessageEntity{{Type: "bot_command", Offset: 0, Length: len(name)}},
	}
}

func setup(t *testing.T, withIndex bool) (*Bot, *fakeSender) {
	t.Helper()
	ctx := context.Background()
	store := storage.NewMemoryStorage()
	t0 := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)

	analyses := []*models.AiAnalysis{
		{OwnerKind: models.KindServer, OwnerID: "g1", Route: "g1", Title: "Weekly digest",
			ShortSummary: "Busy week.", Highlights: datatypes.JSONSlice[string]{"v1.2 released"},
			Tags: datatypes.JSONSlice[string]{"#release"}},
		{OwnerKind: models.KindChannel, OwnerID: "ch1", Route: "g1/ch1", Title: "help", ExtremelyShortSummary: "questions"},
		{OwnerKind: models.KindChannel, OwnerID: "ch9", Route: "g2/ch9", Title: "elsewhere"},
		{OwnerKind: models.KindThread, OwnerID: "t1", Route: "g1/ch1/t1", Title: "Old thread",
			ShortSummary: "first", Tags: datatypes.JSONSlice[string]{"#go"}, CreatedAt: t0},
		{OwnerKind: models.KindThread, OwnerID: "t2", Route: "g1/ch1/t2", Title: "New thread",
			ShortSummary: "second", Tags: datatypes.JSONSlice[string]{"#go", "#docker"}, CreatedAt: t0.Add(time.Hour)},
		{OwnerKind: models.KindThread, OwnerID: "t9", Route: "g2/ch9/t9", Title: "Foreign thread",
			ShortSummary: "other server", Tags: datatypes.JSONSlice[string]{"#rust"}, CreatedAt: t0.Add(2 * time.Hour)},
	}
	for _, a := range analyses {
		require.NoError(t, store.SaveAnalysis(ctx, a))
	}

	var idx *search.Index
	if withIndex {
		var err error
		idx, err = search.NewMemOnly()
		require.NoError(t, err)
		t.Cleanup(func() { idx.Close() })
		require.NoError(t, idx.IndexAnalyses(analyses))
	}

	sender := &fakeSender{}
	return newBot(sender, store, "g1", idx, zap.NewNop()), sender
}

func TestDigestCommand(t *testing.T) {
	b, sender := setup(t, false)
	b.handleMessage(context.Background(), command("/digest"))

	msg := sender.last(t)
	assert.Equal(t, int64(7), msg.ChatID)
	assert.Equal(t, tgbotapi.ModeMarkdownV2, msg.ParseMode)
	assert.Contains(t, msg.Text, "*Weekly digest*")
	assert.Contains(t, msg.Text, "v1\\.2 released")
	assert.Contains(t, msg.Text, "*help*: questions")
	assert.NotContains(t, msg.Text, "elsewhere")
	assert.Contains(t, msg.Text, "\\#release")
}

func TestDigestMissing(t *testing.T) {
	b, sender := setup(t, false)
	b.serverID = "unknown"
	b.handleMessage(context.Background(), command("/digest"))
	assert.True(t, strings.HasPrefix(sender.last(t).Text, "⚠️"))

	assert.Error(t, b.PublishDigest(context.Background(), 1))
}

func TestPublishDigest(t *testing.T) {
	b, sender := setup(t, false)
	require.NoError(t, b.PublishDigest(context.Background(), 99))
	assert.Equal(t, int64(99), sender.last(t).ChatID)

	sender.err = errors.New("blocked")
	assert.Error(t, b.PublishDigest(context.Background(), 99))
}

func TestThreadsAndTags(t *testing.T) {
	b, sender := setup(t, false)

	b.handleMessage(context.Background(), command("/threads"))
	text := sender.last(t).Text
	assert.Less(t, strings.Index(text, "New thread"), strings.Index(text, "Old thread"))
	assert.NotContains(t, text, "Foreign thread")

	b.handleMessage(context.Background(), command("/tags"))
	text = sender.last(t).Text
	assert.Contains(t, text, "\\#go \\(2\\)")
	assert.Less(t, strings.Index(text, "\\#go"), strings.Index(text, "\\#docker"))
	assert.NotContains(t, text, "rust")
}

func TestSearch(t *testing.T) {
	b, sender := setup(t, true)

	b.handleMessage(context.Background(), command("/search"))
	assert.Equal(t, "Usage: /search <query>", sender.last(t).Text)

	b.handleMessage(context.Background(), command("/search busy"))
	assert.Contains(t, sender.last(t).Text, "*Weekly digest*")

	b.handleMessage(context.Background(), &tgbotapi.Message{Text: "second", Chat: &tgbotapi.Chat{ID: 7}})
	assert.Contains(t, sender.last(t).Text, "*New thread*")

	b.handleMessage(context.Background(), command("/search zzzz"))
	assert.Equal(t, `Nothing found for "zzzz".`, sender.last(t).Text)

	noIndex, sender := setup(t, false)
	noIndex.handleMessage(context.Background(), command("/search go"))
	assert.Equal(t, "Search is not available.", sender.last(t).Text)
}

func TestUnknownCommand(t *testing.T) {
	b, sender := setup(t, false)
	b.handleMessage(context.Background(), command("/notes"))
	assert.Contains(t, sender.last(t).Text, "Unknown command")
}

func TestEscapeMarkdown(t *testing.T) {
	assert.Equal(t, `\#go\-lang \(v1\.2\)\!`, escapeMarkdown("#go-lang (v1.2)!"))
	assert.Equal(t, `a\\b`, escapeMarkdown(`a\b`))
}

func TestTruncate(t *testing.T) {
	short := "hello"
	assert.Equal(t, short, truncate(short))

	long := strings.Repeat("line of text\n", 500)
	out := truncate(long)
	assert.LessOrEqual(t, len(out), maxMessageLen)
	assert.True(t, strings.HasSuffix(out, "\n…"))
	assert.True(t, strings.HasSuffix(strings.TrimSuffix(out, "\n…"), "line of text"))
}

func TestTruncateSingleLineKeepsRunesAndEscapes(t *testing.T) {
	// two byte runes starting at odd offsets put the byte limit inside a rune
	out := truncate("a" + strings.Repeat("é", maxMessageLen))
	assert.LessOrEqual(t, len(out), maxMessageLen)
	assert.True(t, utf8.ValidString(out))
	assert.True(t, strings.HasSuffix(out, "é\n…"))

	// the cut lands right after the backslash of an escaped dot
	escaped := strings.Repeat("a", maxMessageLen-len("\n…")-1) + `\.` + strings.Repeat("b", 100)
	out = truncate(escaped)
	body := strings.TrimSuffix(out, "\n…")
	assert.False(t, strings.HasSuffix(body, `\`))
	assert.Equal(t, strings.Repeat("a", maxMessageLen-len("\n…")-1), body)

	// an escaped backslash pair is kept whole
	pair := strings.Repeat("a", maxMessageLen-len("\n…")-2) + `\\` + strings.Repeat("b", 100)
	body = strings.TrimSuffix(truncate(pair), "\n…")
	assert.True(t, strings.HasSuffix(body, `\\`))
}
