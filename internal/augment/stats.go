package augment

import (
	"sort"
	"time"

	"github.com/xaenox/guildscribe/internal/models"
)

// ThreadStat holds the per thread counters.
type ThreadStat struct {
	ThreadID      string
	Name          string
	ChannelID     string
	Messages      int
	HumanMessages int
	BotMessages   int
	Words         int
	Participants  int
	CreatedAt     time.Time
}

// UserStat holds the per user counters.
type UserStat struct {
	UserID   string
	Name     string
	IsBot    bool
	Messages int
	Words    int
	Threads  int
}

// CumulativePoint is one day of the running totals.
type CumulativePoint struct {
	Day      time.Time
	Messages int
	Threads  int
}

// ThreadStats computes counters for every thread, in the given order.
func ThreadStats(threads []*models.Thread) []ThreadStat {
	out := make([]ThreadStat, 0, len(threads))
	for _, t := range threads {
		st := ThreadStat{
			ThreadID:     t.ID,
			Name:         t.Name,
			ChannelID:    t.ChannelID,
			Participants: len(t.Participants),
			CreatedAt:    t.CreatedAt,
		}
		for _, m := range t.Messages {
			st.Messages++
			st.Words += m.WordCount()
			if m.IsBot {
				st.BotMessages++
			} else {
				st.HumanMessages++
			}
		}
		out = append(out, st)
	}
	return out
}

// UserStats computes counters for every user, sorted by message count.
func UserStats(users []*models.User) []UserStat {
	out := make([]UserStat, 0, len(users))
	for _, u := range users {
		st := UserStat{
			UserID:  u.ID,
			Name:    u.DisplayName(),
			IsBot:   u.IsBot,
			Threads: len(u.Threads),
		}
		for _, m := range u.Messages {
			st.Messages++
			st.Words += m.WordCount()
		}
		out = append(out, st)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Messages != out[j].Messages {
			return out[i].Messages > out[j].Messages
		}
		return out[i].UserID < out[j].UserID
	})
	return out
}

// CumulativeSeries returns daily running totals of messages and threads. Days
// without activity are filled so the series is contiguous.
func CumulativeSeries(msgs []*models.Message, threads []*models.Thread) []CumulativePoint {
	perDayMsgs := make(map[time.Time]int)
	perDayThreads := make(map[time.Time]int)
	var first, last time.Time

	track := func(ts time.Time) time.Time {
		d := day(ts)
		if first.IsZero() || d.Before(first) {
			first = d
		}
		if d.After(last) {
			last = d
		}
		return d
	}
	for _, m := range msgs {
		if m.Timestamp.IsZero() {
			continue
		}
		perDayMsgs[track(m.Timestamp)]++
	}
	for _, t := range threads {
		if t.CreatedAt.IsZero() {
			continue
		}
		perDayThreads[track(t.CreatedAt)]++
	}
	if first.IsZero() {
		return nil
	}

	var out []CumulativePoint
	var m, t int
	for d := first; !d.After(last); d = d.AddDate(0, 0, 1) {
		m += perDayMsgs[d]
		t += perDayThreads[d]
		out = append(out, CumulativePoint{Day: d, Messages: m, Threads: t})
	}
	return out
}

func day(ts time.Time) time.Time {
	y, mo, d := ts.UTC().Date()
	return time.Date(y, mo, d, 0, 0, 0, 0, time.UTC)
}
