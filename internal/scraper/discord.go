package scraper

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sort"
	"time"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"
)

const (
	pageSize    = 100
	maxDownload = 1 << 20
)

// DiscordSource reads a guild through the Discord REST API.
type DiscordSource struct {
	session *discordgo.Session
	logger  *zap.Logger
}

func NewDiscordSource(token string, logger *zap.Logger) (*DiscordSource, error) {
	session, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("failed to create discord session: %w", err)
	}

	return &DiscordSource{session: session, logger: logger}, nil
}

func (d *DiscordSource) Guild(ctx context.Context, guildID string) (*Guild, error) {
	g, err := d.session.Guild(guildID, discordgo.WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("get guild %s: %w", guildID, err)
	}
	return &Guild{ID: g.ID, Name: g.Name}, nil
}

func (d *DiscordSource) Channels(ctx context.Context, guildID string) ([]RawChannel, error) {
	channels, err := d.session.GuildChannels(guildID, discordgo.WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("get channels of %s: %w", guildID, err)
	}

	out := make([]RawChannel, 0, len(channels))
	for _, ch := range channels {
		out = append(out, RawChannel{
			ID:       ch.ID,
			Name:     ch.Name,
			Topic:    ch.Topic,
			ParentID: ch.ParentID,
			Position: ch.Position,
			Kind:     channelKind(ch.Type),
		})
	}
	return out, nil
}

func channelKind(t discordgo.ChannelType) ChannelKind {
	switch t {
	case discordgo.ChannelTypeGuildCategory:
		return KindCategory
	case discordgo.ChannelTypeGuildText, discordgo.ChannelTypeGuildNews:
		return KindText
	case discordgo.ChannelTypeGuildForum:
		return KindForum
	default:
		return KindOther
	}
}

func (d *DiscordSource) ActiveThreads(ctx context.Context, guildID string) ([]RawThread, error) {
	list, err := d.session.GuildThreadsActive(guildID, discordgo.WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("get active threads of %s: %w", guildID, err)
	}
	return convertThreads(list.Threads), nil
}

// ArchivedThreads pages through the public archived threads of a channel.
func (d *DiscordSource) ArchivedThreads(ctx context.Context, channelID string) ([]RawThread, error) {
	var out []RawThread
	var before *time.Time
	for {
		list, err := d.session.ThreadsArchived(channelID, before, pageSize, discordgo.WithContext(ctx))
		if err != nil {
			return nil, fmt.Errorf("get archived threads of %s: %w", channelID, err)
		}
		out = append(out, convertThreads(list.Threads)...)
		if !list.HasMore || len(list.Threads) == 0 {
			return out, nil
		}
		last := list.Threads[len(list.Threads)-1]
		if last.ThreadMetadata == nil {
			return out, nil
		}
		ts := last.ThreadMetadata.ArchiveTimestamp
		before = &ts
	}
}

func convertThreads(threads []*discordgo.Channel) []RawThread {
	out := make([]RawThread, 0, len(threads))
	for _, th := range threads {
		created, err := discordgo.SnowflakeTimestamp(th.ID)
		if err != nil {
			created = time.Time{}
		}
		out = append(out, RawThread{
			ID:        th.ID,
			Name:      th.Name,
			ParentID:  th.ParentID,
			OwnerID:   th.OwnerID,
			CreatedAt: created.UTC(),
		})
	}
	return out
}

// Messages pages backwards through the history and returns it oldest first.
func (d *DiscordSource) Messages(ctx context.Context, channelID string, limit int) ([]RawMessage, error) {
	var out []RawMessage
	beforeID := ""
	for {
		n := pageSize
		if limit > 0 && limit-len(out) < n {
			n = limit - len(out)
		}
		if n <= 0 {
			break
		}

		page, err := d.session.ChannelMessages(channelID, n, beforeID, "", "", discordgo.WithContext(ctx))
		if err != nil {
			return nil, fmt.Errorf("get messages of %s: %w", channelID, err)
		}
		for _, m := range page {
			out = append(out, convertMessage(m))
		}
		if len(page) < n {
			break
		}
		beforeID = page[len(page)-1].ID
	}

	d.logger.Debug("Fetched history",
		zap.String("channel_id", channelID),
		zap.Int("messages", len(out)))

	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out, nil
}

func convertMessage(m *discordgo.Message) RawMessage {
	raw := RawMessage{
		ID:        m.ID,
		Content:   m.Content,
		Timestamp: m.Timestamp.UTC(),
		Pinned:    m.Pinned,
	}
	if m.Author != nil {
		raw.AuthorID = m.Author.ID
		raw.AuthorName = m.Author.Username
		if m.Author.GlobalName != "" {
			raw.AuthorName = m.Author.GlobalName
		}
		raw.AuthorBot = m.Author.Bot
	}
	if m.MessageReference != nil {
		raw.ReferenceID = m.MessageReference.MessageID
	}
	for _, a := range m.Attachments {
		raw.Attachments = append(raw.Attachments, RawAttachment{
			Filename:    a.Filename,
			URL:         a.URL,
			ContentType: a.ContentType,
			Size:        a.Size,
		})
	}
	for _, r := range m.Reactions {
		if r.Emoji == nil {
			continue
		}
		raw.Reactions = append(raw.Reactions, fmt.Sprintf("%s:%d", r.Emoji.Name, r.Count))
	}
	return raw
}

func (d *DiscordSource) PinnedMessageIDs(ctx context.Context, channelID string) ([]string, error) {
	pinned, err := d.session.ChannelMessagesPinned(channelID, discordgo.WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("get pinned messages of %s: %w", channelID, err)
	}
	ids := make([]string, 0, len(pinned))
	for _, m := range pinned {
		ids = append(ids, m.ID)
	}
	return ids, nil
}

// Download fetches an attachment, reading at most 1 MiB.
func (d *DiscordSource) Download(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := d.session.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("download %s: status %d", url, resp.StatusCode)
	}
	return io.ReadAll(io.LimitReader(resp.Body, maxDownload))
}

func (d *DiscordSource) Close() error {
	return d.session.Close()
}
