package models

import (
	"fmt"
	"strings"
	"time"

	"gorm.io/datatypes"
)

// Kind names the type of unit an analysis belongs to.
type Kind string

const (
	KindServer   Kind = "server"
	KindCategory Kind = "category"
	KindChannel  Kind = "channel"
	KindThread   Kind = "thread"
	KindUser     Kind = "user"
	KindTag      Kind = "tag"
)

// Key identifies an analysable unit.
type Key struct {
	Kind Kind
	ID   string
}

func (k Key) String() string {
	return fmt.Sprintf("%s:%s", k.Kind, k.ID)
}

// AiAnalysis is the structured LLM output stored for one unit. Re-analysis
// replaces the row for the same (owner_kind, owner_id).
type AiAnalysis struct {
	ID                    string                      `gorm:"primaryKey" json:"id"`
	OwnerKind             Kind                        `gorm:"uniqueIndex:idx_analysis_owner;not null" json:"owner_kind"`
	OwnerID               string                      `gorm:"uniqueIndex:idx_analysis_owner;not null" json:"owner_id"`
	Route                 string                      `gorm:"index" json:"route"`
	Title                 string                      `json:"title"`
	ExtremelyShortSummary string                      `gorm:"type:text" json:"extremely_short_summary"`
	ShortSummary          string                      `gorm:"type:text" json:"short_summary"`
	DetailedSummary       string                      `gorm:"type:text" json:"detailed_summary"`
	Highlights            datatypes.JSONSlice[string] `json:"highlights"`
	Tags                  datatypes.JSONSlice[string] `json:"tags"`
	TopicAreas            []TopicArea                 `gorm:"many2many:analysis_topic_areas" json:"topic_areas"`
	Model                 string                      `json:"model"`
	Chunks                int                         `json:"chunks"`
	CreatedAt             time.Time                   `json:"created_at"`
}

// Key returns the owner key of the analysis.
func (a *AiAnalysis) Key() Key {
	return Key{Kind: a.OwnerKind, ID: a.OwnerID}
}

// Text renders the analysis as plain text, used when a parent unit is built
// from its children's summaries.
func (a *AiAnalysis) Text() string {
	var b strings.Builder
	if a.Title != "" {
		fmt.Fprintf(&b, "## %s\n", a.Title)
	}
	if a.ShortSummary != "" {
		fmt.Fprintf(&b, "%s\n", a.ShortSummary)
	}
	for _, h := range a.Highlights {
		fmt.Fprintf(&b, "- %s\n", h)
	}
	if len(a.Tags) > 0 {
		fmt.Fprintf(&b, "tags: %s\n", strings.Join(a.Tags, " "))
	}
	return b.String()
}

// TopicArea is a six level taxonomy classification.
type TopicArea struct {
	ID          string `gorm:"primaryKey" json:"id"`
	Name        string `gorm:"uniqueIndex:idx_topic_path;not null" json:"name"`
	Category    string `gorm:"uniqueIndex:idx_topic_path" json:"category"`
	Subject     string `gorm:"uniqueIndex:idx_topic_path" json:"subject"`
	Topic       string `gorm:"uniqueIndex:idx_topic_path" json:"topic"`
	Subtopic    string `gorm:"uniqueIndex:idx_topic_path" json:"subtopic"`
	Niche       string `gorm:"uniqueIndex:idx_topic_path" json:"niche"`
	Description string `gorm:"type:text" json:"description"`
}

// Path renders the taxonomy levels from broadest to narrowest.
func (t TopicArea) Path() string {
	levels := []string{t.Name, t.Category, t.Subject, t.Topic, t.Subtopic, t.Niche}
	parts := make([]string, 0, len(levels))
	for _, l := range levels {
		if l = strings.TrimSpace(l); l != "" {
			parts = append(parts, l)
		}
	}
	return strings.Join(parts, " > ")
}

// Tag is the normalized hashtag for the topic area name.
func (t TopicArea) Tag() string {
	return NormalizeTag(t.Name)
}

// AnalysisSlot holds the analysis attached to an entity in memory.
type AnalysisSlot struct {
	analysis *AiAnalysis
}

func (s *AnalysisSlot) Analysis() *AiAnalysis { return s.analysis }

func (s *AnalysisSlot) SetAnalysis(a *AiAnalysis) { s.analysis = a }

// Analyzable is anything the LLM pipeline can summarise.
type Analyzable interface {
	AnalysisKey() Key
	DisplayName() string
	Route() string
	TextForAnalysis() string
	Analysis() *AiAnalysis
	SetAnalysis(*AiAnalysis)
}

var (
	_ Analyzable = (*Server)(nil)
	_ Analyzable = (*Category)(nil)
	_ Analyzable = (*Channel)(nil)
	_ Analyzable = (*Thread)(nil)
	_ Analyzable = (*User)(nil)
	_ Analyzable = (*TagUnit)(nil)
)

func (s *Server) AnalysisKey() Key    { return Key{Kind: KindServer, ID: s.ID} }
func (s *Server) DisplayName() string { return s.Name }
func (s *Server) Route() string       { return BuildRoute(s.ID) }

// TextForAnalysis joins the category and uncategorized channel summaries.
func (s *Server) TextForAnalysis() string {
	var b strings.Builder
	fmt.Fprintf(&b, "# server: %s\n\n", s.Name)
	for _, c := range s.Categories {
		writeChildSummary(&b, "category", c.Name, c.Analysis())
	}
	for _, ch := range s.Uncategorized {
		writeChildSummary(&b, "channel", ch.Name, ch.Analysis())
	}
	return b.String()
}

func (c *Category) AnalysisKey() Key    { return Key{Kind: KindCategory, ID: c.ID} }
func (c *Category) DisplayName() string { return c.Name }

func (c *Category) Route() string {
	return BuildRoute(c.ServerID, c.ID)
}

func (c *Category) TextForAnalysis() string {
	var b strings.Builder
	fmt.Fprintf(&b, "# category: %s\n\n", c.Name)
	for _, ch := range c.Channels {
		writeChildSummary(&b, "channel", ch.Name, ch.Analysis())
	}
	return b.String()
}

func (c *Channel) AnalysisKey() Key    { return Key{Kind: KindChannel, ID: c.ID} }
func (c *Channel) DisplayName() string { return c.Name }

func (c *Channel) Route() string {
	if c.CategoryID == nil {
		return BuildRoute(c.ServerID, c.ID)
	}
	return BuildRoute(c.ServerID, *c.CategoryID, c.ID)
}

// TextForAnalysis combines thread summaries with the channel's own top level messages.
func (c *Channel) TextForAnalysis() string {
	var b strings.Builder
	fmt.Fprintf(&b, "# channel: %s\n", c.Name)
	if c.Topic != "" {
		fmt.Fprintf(&b, "topic: %s\n", c.Topic)
	}
	b.WriteString("\n")
	for _, t := range c.Threads {
		writeChildSummary(&b, "thread", t.Name, t.Analysis())
	}
	if len(c.Messages) > 0 {
		b.WriteString("### channel messages\n")
		writeMessages(&b, c.Messages)
	}
	return b.String()
}

func (t *Thread) AnalysisKey() Key    { return Key{Kind: KindThread, ID: t.ID} }
func (t *Thread) DisplayName() string { return t.Name }

func (t *Thread) Route() string {
	if t.Channel == nil {
		return BuildRoute(t.ChannelID, t.ID)
	}
	return BuildRoute(t.Channel.Route(), t.ID)
}

func (t *Thread) TextForAnalysis() string {
	var b strings.Builder
	fmt.Fprintf(&b, "# thread: %s\n\n", t.Name)
	writeMessages(&b, t.Messages)
	return b.String()
}

func (u *User) AnalysisKey() Key { return Key{Kind: KindUser, ID: u.ID} }

func (u *User) DisplayName() string {
	if u.Name != "" {
		return u.Name
	}
	return u.ID
}

// Route of a user is the server the user was loaded with, falling back to the
// server of the first thread they joined.
func (u *User) Route() string {
	if u.Server != nil {
		return BuildRoute(u.Server.ID)
	}
	for _, t := range u.Threads {
		if t.Channel != nil {
			return BuildRoute(t.Channel.ServerID)
		}
	}
	return ""
}

func (u *User) TextForAnalysis() string {
	var b strings.Builder
	fmt.Fprintf(&b, "# user: %s\n\n", u.DisplayName())
	writeMessages(&b, u.Messages)
	return b.String()
}

// TagUnit groups every analysis carrying one normalized tag.
type TagUnit struct {
	Tag      string
	ServerID string
	Analyses []*AiAnalysis
	AnalysisSlot
}

func (t *TagUnit) AnalysisKey() Key    { return Key{Kind: KindTag, ID: t.Tag} }
func (t *TagUnit) DisplayName() string { return t.Tag }
func (t *TagUnit) Route() string       { return BuildRoute(t.ServerID) }

func (t *TagUnit) TextForAnalysis() string {
	var b strings.Builder
	fmt.Fprintf(&b, "# tag: %s\n\n", t.Tag)
	for _, a := range t.Analyses {
		b.WriteString(a.Text())
		b.WriteString("\n")
	}
	return b.String()
}

func writeChildSummary(b *strings.Builder, kind, name string, a *AiAnalysis) {
	fmt.Fprintf(b, "### %s: %s\n", kind, name)
	if a == nil {
		b.WriteString("(no analysis)\n\n")
		return
	}
	b.WriteString(a.Text())
	b.WriteString("\n")
}

func writeMessages(b *strings.Builder, msgs []*Message) {
	for _, m := range msgs {
		role := "user"
		if m.IsBot {
			role = "bot"
		}
		fmt.Fprintf(b, "[%s] %s (%s): %s\n", m.Timestamp.UTC().Format(time.RFC3339), m.AuthorID, role, m.Content)
		for _, a := range m.Attachments {
			fmt.Fprintf(b, "attachment:\n%s\n", a)
		}
	}
}
