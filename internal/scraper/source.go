package scraper

import (
	"context"
	"time"
)

// ChannelKind separates the channel types the scraper walks.
type ChannelKind int

const (
	KindOther ChannelKind = iota
	KindCategory
	KindText
	KindForum
)

// Guild is the scraped server.
type Guild struct {
	ID   string
	Name string
}

// RawChannel is a channel or category as the platform reports it.
type RawChannel struct {
	ID       string
	Name     string
	Topic    string
	ParentID string
	Position int
	Kind     ChannelKind
}

// RawThread is a thread under a text or forum channel.
type RawThread struct {
	ID        string
	Name      string
	ParentID  string
	OwnerID   string
	CreatedAt time.Time
}

// RawAttachment describes a file attached to a message.
type RawAttachment struct {
	Filename    string
	URL         string
	ContentType string
	Size        int
}

// RawMessage is one message of a channel or thread history.
type RawMessage struct {
	ID          string
	Content     string
	AuthorID    string
	AuthorName  string
	AuthorBot   bool
	Timestamp   time.Time
	ReferenceID string
	Attachments []RawAttachment
	Reactions   []string
	Pinned      bool
}

// Source is the read-only chat platform API.
type Source interface {
	Guild(ctx context.Context, guildID string) (*Guild, error)
	Channels(ctx context.Context, guildID string) ([]RawChannel, error)
	ActiveThreads(ctx context.Context, guildID string) ([]RawThread, error)
	ArchivedThreads(ctx context.Context, channelID string) ([]RawThread, error)
	// Messages returns the history of a channel or thread, oldest first.
	// limit <= 0 fetches everything.
	Messages(ctx context.Context, channelID string, limit int) ([]RawMessage, error)
	PinnedMessageIDs(ctx context.Context, channelID string) ([]string, error)
	Download(ctx context.Context, url string) ([]byte, error)
}
