package storage

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/xaenox/guildscribe/internal/models"
)

// MemoryStorage keeps everything in maps. Used for dry runs and tests.
type MemoryStorage struct {
	mu           sync.RWMutex
	servers      map[string]*models.Server
	categories   map[string]*models.Category
	channels     map[string]*models.Channel
	threads      map[string]*models.Thread
	users        map[string]*models.User
	messages     map[string]*models.Message
	participants map[models.ThreadParticipant]struct{}
	analyses     map[models.Key]*models.AiAnalysis
	prompts      map[string]*models.ContextSystemPrompt
	items        map[models.ItemKind][]*models.EmbeddableItem
}

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		servers:      make(map[string]*models.Server),
		categories:   make(map[string]*models.Category),
		channels:     make(map[string]*models.Channel),
		threads:      make(map[string]*models.Thread),
		users:        make(map[string]*models.User),
		messages:     make(map[string]*models.Message),
		participants: make(map[models.ThreadParticipant]struct{}),
		analyses:     make(map[models.Key]*models.AiAnalysis),
		prompts:      make(map[string]*models.ContextSystemPrompt),
		items:        make(map[models.ItemKind][]*models.EmbeddableItem),
	}
}

func (s *MemoryStorage) UpsertServer(ctx context.Context, server *models.Server) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *server
	s.servers[server.ID] = &cp
	return nil
}

func (s *MemoryStorage) UpsertCategories(ctx context.Context, categories []*models.Category) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, c := range categories {
		cp := *c
		s.categories[c.ID] = &cp
	}
	return nil
}

func (s *MemoryStorage) UpsertChannels(ctx context.Context, channels []*models.Channel) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, ch := range channels {
		cp := *ch
		s.channels[ch.ID] = &cp
	}
	return nil
}

func (s *MemoryStorage) UpsertThread(ctx context.Context, thread *models.Thread) error {
	if err := thread.Validate(); err != nil {
		return fmt.Errorf("thread %s: %w", thread.ID, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *thread
	s.threads[thread.ID] = &cp
	return nil
}

func (s *MemoryStorage) UpsertUsers(ctx context.Context, users []*models.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, u := range users {
		cp := *u
		s.users[u.ID] = &cp
	}
	return nil
}

func (s *MemoryStorage) UpsertMessages(ctx context.Context, messages []*models.Message) error {
	for _, m := range messages {
		if err := m.Validate(); err != nil {
			return fmt.Errorf("message %s: %w", m.ID, err)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, m := range messages {
		cp := *m
		s.messages[m.ID] = &cp
	}
	return nil
}

func (s *MemoryStorage) AddParticipants(ctx context.Context, participants []models.ThreadParticipant) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, p := range participants {
		s.participants[p] = struct{}{}
	}
	return nil
}

// Snapshot returns copies of the stored rows so callers may link them freely.
func (s *MemoryStorage) Snapshot(ctx context.Context, serverID string) (*models.Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	server, ok := s.servers[serverID]
	if !ok {
		return nil, fmt.Errorf("server %s: %w", serverID, ErrNotFound)
	}
	srv := *server
	snap := &models.Snapshot{Server: &srv}

	for _, c := range s.categories {
		if c.ServerID == serverID {
			cp := *c
			snap.Categories = append(snap.Categories, &cp)
		}
	}
	channelIDs := make(map[string]bool)
	for _, ch := range s.channels {
		if ch.ServerID == serverID {
			cp := *ch
			snap.Channels = append(snap.Channels, &cp)
			channelIDs[ch.ID] = true
		}
	}
	sort.Slice(snap.Channels, func(i, j int) bool { return snap.Channels[i].ID < snap.Channels[j].ID })

	threadIDs := make(map[string]bool)
	for _, t := range s.threads {
		if channelIDs[t.ChannelID] {
			cp := *t
			snap.Threads = append(snap.Threads, &cp)
			threadIDs[t.ID] = true
		}
	}
	sort.Slice(snap.Threads, func(i, j int) bool { return snap.Threads[i].CreatedAt.Before(snap.Threads[j].CreatedAt) })

	authors := make(map[string]bool)
	for _, m := range s.messages {
		if (m.ThreadID != nil && threadIDs[*m.ThreadID]) || (m.ChannelID != nil && channelIDs[*m.ChannelID]) {
			cp := *m
			snap.Messages = append(snap.Messages, &cp)
			authors[m.AuthorID] = true
		}
	}
	for id := range authors {
		if u, ok := s.users[id]; ok {
			cp := *u
			snap.Users = append(snap.Users, &cp)
		}
	}
	sort.Slice(snap.Users, func(i, j int) bool { return snap.Users[i].ID < snap.Users[j].ID })

	for p := range s.participants {
		if threadIDs[p.ThreadID] {
			snap.Participants = append(snap.Participants, p)
		}
	}
	for _, a := range s.analyses {
		if a.Route == serverID || strings.HasPrefix(a.Route, serverID+"/") {
			cp := *a
			snap.Analyses = append(snap.Analyses, &cp)
		}
	}
	for _, p := range s.prompts {
		cp := *p
		snap.Prompts = append(snap.Prompts, &cp)
	}
	sort.Slice(snap.Prompts, func(i, j int) bool { return snap.Prompts[i].Route < snap.Prompts[j].Route })

	snap.Link()
	return snap, nil
}

func (s *MemoryStorage) SaveAnalysis(ctx context.Context, analysis *models.AiAnalysis) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if analysis.ID == "" {
		analysis.ID = uuid.New().String()
	}
	if analysis.CreatedAt.IsZero() {
		analysis.CreatedAt = time.Now()
	}
	cp := *analysis
	s.analyses[analysis.Key()] = &cp
	return nil
}

func (s *MemoryStorage) GetAnalysis(ctx context.Context, key models.Key) (*models.AiAnalysis, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, ok := s.analyses[key]
	if !ok {
		return nil, fmt.Errorf("analysis %s: %w", key, ErrNotFound)
	}
	cp := *a
	return &cp, nil
}

func (s *MemoryStorage) ListAnalyses(ctx context.Context, kind models.Kind) ([]*models.AiAnalysis, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*models.AiAnalysis
	for _, a := range s.analyses {
		if kind == "" || a.OwnerKind == kind {
			cp := *a
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].OwnerKind != out[j].OwnerKind {
			return out[i].OwnerKind < out[j].OwnerKind
		}
		return out[i].OwnerID < out[j].OwnerID
	})
	return out, nil
}

func (s *MemoryStorage) SaveContextPrompt(ctx context.Context, prompt *models.ContextSystemPrompt) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.prompts[prompt.Route]; ok {
		prompt.ID = existing.ID
	} else if prompt.ID == "" {
		prompt.ID = uuid.New().String()
	}
	prompt.UpdatedAt = time.Now()
	cp := *prompt
	s.prompts[prompt.Route] = &cp
	return nil
}

func (s *MemoryStorage) ListContextPrompts(ctx context.Context) ([]*models.ContextSystemPrompt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*models.ContextSystemPrompt, 0, len(s.prompts))
	for _, p := range s.prompts {
		cp := *p
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Route < out[j].Route })
	return out, nil
}

func (s *MemoryStorage) ReplaceEmbeddableItems(ctx context.Context, kind models.ItemKind, items []*models.EmbeddableItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	stored := make([]*models.EmbeddableItem, 0, len(items))
	for _, it := range items {
		if it.ID == "" {
			it.ID = uuid.New().String()
		}
		it.Kind = kind
		it.CreatedAt = now
		cp := *it
		stored = append(stored, &cp)
	}
	s.items[kind] = stored
	return nil
}

func (s *MemoryStorage) ListEmbeddableItems(ctx context.Context, kind models.ItemKind) ([]*models.EmbeddableItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*models.EmbeddableItem, 0, len(s.items[kind]))
	for _, it := range s.items[kind] {
		cp := *it
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EmbeddingIndex < out[j].EmbeddingIndex })
	return out, nil
}

func (s *MemoryStorage) Close() error {
	// Nothing to close for in-memory storage
	return nil
}
