package models

import (
	"errors"
	"strings"
	"time"

	"gorm.io/datatypes"
)

var (
	ErrInvalidContainer = errors.New("message must belong to exactly one of thread or channel")
	ErrMissingOwner     = errors.New("thread has no owner")
)

// Server represents a scraped guild
type Server struct {
	ID        string    `gorm:"primaryKey" json:"id"`
	Name      string    `gorm:"not null" json:"name"`
	ScrapedAt time.Time `json:"scraped_at"`

	Categories    []*Category `gorm:"-" json:"-"`
	Uncategorized []*Channel  `gorm:"-" json:"-"`
	AnalysisSlot  `gorm:"-" json:"-"`
}

// Category groups channels inside a server
type Category struct {
	ID       string `gorm:"primaryKey" json:"id"`
	Name     string `gorm:"not null" json:"name"`
	ServerID string `gorm:"index;not null" json:"server_id"`
	Position int    `json:"position"`

	Server       *Server    `gorm:"-" json:"-"`
	Channels     []*Channel `gorm:"-" json:"-"`
	AnalysisSlot `gorm:"-" json:"-"`
}

// Channel is a text or forum channel. CategoryID is nil for uncategorized channels.
type Channel struct {
	ID         string  `gorm:"primaryKey" json:"id"`
	Name       string  `gorm:"not null" json:"name"`
	ServerID   string  `gorm:"index;not null" json:"server_id"`
	CategoryID *string `gorm:"index" json:"category_id,omitempty"`
	Topic      string  `json:"topic"`

	Server       *Server    `gorm:"-" json:"-"`
	Category     *Category  `gorm:"-" json:"-"`
	Threads      []*Thread  `gorm:"-" json:"-"`
	Messages     []*Message `gorm:"-" json:"-"`
	AnalysisSlot `gorm:"-" json:"-"`
}

// Thread is one conversation inside a channel
type Thread struct {
	ID        string    `gorm:"primaryKey" json:"id"`
	Name      string    `gorm:"not null" json:"name"`
	ChannelID string    `gorm:"index;not null" json:"channel_id"`
	OwnerID   string    `gorm:"index" json:"owner_id"`
	CreatedAt time.Time `json:"created_at"`

	Channel      *Channel   `gorm:"-" json:"-"`
	Messages     []*Message `gorm:"-" json:"-"`
	Participants []*User    `gorm:"-" json:"-"`
	AnalysisSlot `gorm:"-" json:"-"`
}

// ThreadParticipant links users to the threads they posted in
type ThreadParticipant struct {
	ThreadID string `gorm:"primaryKey" json:"thread_id"`
	UserID   string `gorm:"primaryKey" json:"user_id"`
}

// Message is a single chat message
type Message struct {
	ID              string                      `gorm:"primaryKey" json:"id"`
	Content         string                      `gorm:"type:text" json:"content"`
	AuthorID        string                      `gorm:"index;not null" json:"author_id"`
	IsBot           bool                        `json:"is_bot"`
	Timestamp       time.Time                   `gorm:"index" json:"timestamp"`
	ParentMessageID *string                     `gorm:"index" json:"parent_message_id,omitempty"`
	Attachments     datatypes.JSONSlice[string] `json:"attachments"`
	Reactions       datatypes.JSONSlice[string] `json:"reactions"`
	Pinned          bool                        `json:"pinned"`
	ThreadID        *string                     `gorm:"index" json:"thread_id,omitempty"`
	ChannelID       *string                     `gorm:"index" json:"channel_id,omitempty"`
}

// User is a message author
type User struct {
	ID    string `gorm:"primaryKey" json:"id"`
	Name  string `json:"name"`
	IsBot bool   `json:"is_bot"`

	Server       *Server    `gorm:"-" json:"-"`
	Messages     []*Message `gorm:"-" json:"-"`
	Threads      []*Thread  `gorm:"-" json:"-"`
	AnalysisSlot `gorm:"-" json:"-"`
}

// Validate checks that the message has exactly one immediate container.
func (m *Message) Validate() error {
	if (m.ThreadID == nil) == (m.ChannelID == nil) {
		return ErrInvalidContainer
	}
	return nil
}

// ContainerID returns the id of the thread or channel holding the message.
func (m *Message) ContainerID() string {
	if m.ThreadID != nil {
		return *m.ThreadID
	}
	if m.ChannelID != nil {
		return *m.ChannelID
	}
	return ""
}

// WordCount counts whitespace separated words of the content and attachments.
func (m *Message) WordCount() int {
	n := len(strings.Fields(m.Content))
	for _, a := range m.Attachments {
		n += len(strings.Fields(a))
	}
	return n
}

// Validate checks thread level integrity.
func (t *Thread) Validate() error {
	if t.OwnerID == "" {
		return ErrMissingOwner
	}
	return nil
}

// StringPtr is a helper for optional id columns.
func StringPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
