package models

import (
	"sort"
)

// Snapshot is every stored row of one server. Link wires the transient
// parent/child pointers so units can render their analysis text.
type Snapshot struct {
	Server       *Server
	Categories   []*Category
	Channels     []*Channel
	Threads      []*Thread
	Messages     []*Message
	Users        []*User
	Participants []ThreadParticipant
	Analyses     []*AiAnalysis
	Prompts      []*ContextSystemPrompt
}

// Link resets and rebuilds the in-memory relations. Messages are sorted by
// timestamp first, which the bot response aggregation relies on.
func (s *Snapshot) Link() {
	SortMessages(s.Messages)

	s.Server.Categories = nil
	s.Server.Uncategorized = nil

	categories := make(map[string]*Category, len(s.Categories))
	sort.SliceStable(s.Categories, func(i, j int) bool {
		return s.Categories[i].Position < s.Categories[j].Position
	})
	for _, c := range s.Categories {
		c.Server = s.Server
		c.Channels = nil
		categories[c.ID] = c
		s.Server.Categories = append(s.Server.Categories, c)
	}

	channels := make(map[string]*Channel, len(s.Channels))
	for _, ch := range s.Channels {
		ch.Server = s.Server
		ch.Category = nil
		ch.Threads = nil
		ch.Messages = nil
		channels[ch.ID] = ch
		if ch.CategoryID != nil {
			if c, ok := categories[*ch.CategoryID]; ok {
				ch.Category = c
				c.Channels = append(c.Channels, ch)
				continue
			}
		}
		s.Server.Uncategorized = append(s.Server.Uncategorized, ch)
	}

	threads := make(map[string]*Thread, len(s.Threads))
	for _, t := range s.Threads {
		t.Channel = nil
		t.Messages = nil
		t.Participants = nil
		threads[t.ID] = t
		if ch, ok := channels[t.ChannelID]; ok {
			t.Channel = ch
			ch.Threads = append(ch.Threads, t)
		}
	}

	users := make(map[string]*User, len(s.Users))
	for _, u := range s.Users {
		u.Server = s.Server
		u.Messages = nil
		u.Threads = nil
		users[u.ID] = u
	}

	for _, m := range s.Messages {
		if m.ThreadID != nil {
			if t, ok := threads[*m.ThreadID]; ok {
				t.Messages = append(t.Messages, m)
			}
		} else if m.ChannelID != nil {
			if ch, ok := channels[*m.ChannelID]; ok {
				ch.Messages = append(ch.Messages, m)
			}
		}
		if u, ok := users[m.AuthorID]; ok {
			u.Messages = append(u.Messages, m)
		}
	}

	for _, p := range s.Participants {
		t, tok := threads[p.ThreadID]
		u, uok := users[p.UserID]
		if tok && uok {
			t.Participants = append(t.Participants, u)
			u.Threads = append(u.Threads, t)
		}
	}

	byKey := make(map[Key]*AiAnalysis, len(s.Analyses))
	for _, a := range s.Analyses {
		byKey[a.Key()] = a
	}
	for _, u := range s.Units() {
		u.SetAnalysis(byKey[u.AnalysisKey()])
	}
}

// Units returns every entity unit of the server, leaves first.
func (s *Snapshot) Units() []Analyzable {
	units := make([]Analyzable, 0, len(s.Threads)+len(s.Users)+len(s.Channels)+len(s.Categories)+1)
	for _, t := range s.Threads {
		units = append(units, t)
	}
	for _, u := range s.Users {
		units = append(units, u)
	}
	for _, ch := range s.Channels {
		units = append(units, ch)
	}
	for _, c := range s.Categories {
		units = append(units, c)
	}
	if s.Server != nil {
		units = append(units, s.Server)
	}
	return units
}

// HumanUsers returns the users that are not bots.
func (s *Snapshot) HumanUsers() []*User {
	out := make([]*User, 0, len(s.Users))
	for _, u := range s.Users {
		if !u.IsBot {
			out = append(out, u)
		}
	}
	return out
}

// TagUnits groups thread analyses by normalized tag.
func (s *Snapshot) TagUnits() []*TagUnit {
	byTag := make(map[string]*TagUnit)
	var order []string
	for _, t := range s.Threads {
		a := t.Analysis()
		if a == nil {
			continue
		}
		for _, tag := range NormalizeTags(a.Tags) {
			u, ok := byTag[tag]
			if !ok {
				u = &TagUnit{Tag: tag, ServerID: s.Server.ID}
				byTag[tag] = u
				order = append(order, tag)
			}
			u.Analyses = append(u.Analyses, a)
		}
	}
	sort.Strings(order)
	out := make([]*TagUnit, 0, len(order))
	for _, tag := range order {
		out = append(out, byTag[tag])
	}
	return out
}

// SortMessages orders messages by timestamp, then id.
func SortMessages(msgs []*Message) {
	sort.SliceStable(msgs, func(i, j int) bool {
		if msgs[i].Timestamp.Equal(msgs[j].Timestamp) {
			return msgs[i].ID < msgs[j].ID
		}
		return msgs[i].Timestamp.Before(msgs[j].Timestamp)
	})
}
