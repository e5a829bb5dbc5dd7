package augment

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xaenox/guildscribe/internal/models"
)

var t0 = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func msg(id, parent string, bot bool, content string, offset time.Duration) *models.Message {
	return &models.Message{
		ID:              id,
		Content:         content,
		AuthorID:        "u-" + id,
		IsBot:           bot,
		Timestamp:       t0.Add(offset),
		ParentMessageID: models.StringPtr(parent),
		ThreadID:        models.StringPtr("t1"),
	}
}

func TestCombineBotMessagesNoReplies(t *testing.T) {
	msgs := []*models.Message{
		msg("h1", "", false, "question", 0),
		msg("h2", "h1", false, "human reply is ignored", time.Minute),
	}
	assert.Equal(t, "", CombineBotMessages(msgs, "h1"))
	assert.Equal(t, "", CombineBotMessages(nil, "h1"))
}

func TestCombineBotMessagesTransitive(t *testing.T) {
	msgs := []*models.Message{
		msg("h1", "", false, "how do I deploy", 0),
		msg("b1", "h1", true, "step one", time.Second),
		msg("b2", "b1", true, "> continuing from step one\nstep two", 2*time.Second),
		msg("b3", "h1", true, "also see the docs", 3*time.Second),
		msg("b4", "other", true, "unrelated", 4*time.Second),
	}

	got := CombineBotMessages(msgs, "h1")
	assert.Equal(t, "step one\n\nstep two\n\nalso see the docs", got)
}

func TestCombineBotMessagesEachOnce(t *testing.T) {
	msgs := []*models.Message{
		msg("h1", "", false, "q", 0),
		msg("b1", "h1", true, "a", time.Second),
		msg("b2", "b1", true, "b", 2*time.Second),
		msg("b3", "b2", true, "c", 3*time.Second),
	}
	assert.Equal(t, "a\n\nb\n\nc", CombineBotMessages(msgs, "h1"))
}

func TestCombineBotMessagesCycle(t *testing.T) {
	// b1 -> b2 -> b1 forms a loop below h1
	msgs := []*models.Message{
		msg("h1", "", false, "q", 0),
		msg("b1", "h1", true, "first", time.Second),
		msg("b2", "b1", true, "second", 2*time.Second),
		msg("b1", "b2", true, "first", 3*time.Second),
	}
	done := make(chan string, 1)
	go func() { done <- CombineBotMessages(msgs, "h1") }()

	select {
	case got := <-done:
		assert.Equal(t, "first\n\nsecond", got)
	case <-time.After(2 * time.Second):
		t.Fatal("reply cycle did not terminate")
	}
}

func TestMessagePairs(t *testing.T) {
	msgs := []*models.Message{
		msg("h1", "", false, "how do I deploy", 0),
		msg("b1", "h1", true, "run deploy", time.Second),
		msg("h2", "", false, "thanks", 2*time.Second),
	}
	pairs := MessagePairs(msgs)
	require.Len(t, pairs, 1)
	assert.Equal(t, "h1", pairs[0].Message.ID)
	assert.Equal(t, "how do I deploy\n\nrun deploy", pairs[0].Text())
}

func TestThreadAndUserStats(t *testing.T) {
	alice := &models.User{ID: "a", Name: "alice"}
	bot := &models.User{ID: "b", Name: "helper", IsBot: true}
	th := &models.Thread{ID: "t1", Name: "deploy", ChannelID: "c1", OwnerID: "a", CreatedAt: t0}
	th.Messages = []*models.Message{
		{ID: "1", AuthorID: "a", Content: "how do I deploy", ThreadID: &th.ID},
		{ID: "2", AuthorID: "b", IsBot: true, Content: "run it", Attachments: []string{"log line"}, ThreadID: &th.ID},
	}
	th.Participants = []*models.User{alice, bot}
	alice.Messages = th.Messages[:1]
	alice.Threads = []*models.Thread{th}
	bot.Messages = th.Messages[1:]

	ts := ThreadStats([]*models.Thread{th})
	require.Len(t, ts, 1)
	assert.Equal(t, ThreadStat{
		ThreadID: "t1", Name: "deploy", ChannelID: "c1",
		Messages: 2, HumanMessages: 1, BotMessages: 1, Words: 8, Participants: 2, CreatedAt: t0,
	}, ts[0])

	us := UserStats([]*models.User{bot, alice})
	require.Len(t, us, 2)
	assert.Equal(t, "a", us[0].UserID)
	assert.Equal(t, 4, us[0].Words)
	assert.Equal(t, 1, us[0].Threads)
	assert.Equal(t, 4, us[1].Words)
}

func TestCumulativeSeries(t *testing.T) {
	msgs := []*models.Message{
		{ID: "1", Timestamp: t0},
		{ID: "2", Timestamp: t0.Add(time.Hour)},
		{ID: "3", Timestamp: t0.AddDate(0, 0, 2)},
	}
	threads := []*models.Thread{{ID: "t1", CreatedAt: t0}, {ID: "t2", CreatedAt: t0.AddDate(0, 0, 2)}}

	series := CumulativeSeries(msgs, threads)
	require.Len(t, series, 3)
	assert.Equal(t, CumulativePoint{Day: day(t0), Messages: 2, Threads: 1}, series[0])
	assert.Equal(t, CumulativePoint{Day: day(t0).AddDate(0, 0, 1), Messages: 2, Threads: 1}, series[1])
	assert.Equal(t, CumulativePoint{Day: day(t0).AddDate(0, 0, 2), Messages: 3, Threads: 2}, series[2])

	assert.Nil(t, CumulativeSeries(nil, nil))
}
