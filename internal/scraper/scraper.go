package scraper

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xaenox/guildscribe/internal/models"
	"github.com/xaenox/guildscribe/internal/storage"
)

type Options struct {
	ServerID            string
	MinSentinelMessages int
	HistoryLimit        int
	Concurrency         int
}

// Stats summarises one scrape run.
type Stats struct {
	Categories       int
	Channels         int
	ThreadsKept      int
	ThreadsDiscarded int
	Messages         int
	Users            int
	Attachments      int
	Errors           []error
}

func (s *Stats) String() string {
	return fmt.Sprintf("categories=%d channels=%d threads=%d discarded=%d messages=%d users=%d attachments=%d errors=%d",
		s.Categories, s.Channels, s.ThreadsKept, s.ThreadsDiscarded, s.Messages, s.Users, s.Attachments, len(s.Errors))
}

type Scraper struct {
	source  Source
	storage storage.Storage
	opts    Options
	logger  *zap.Logger

	// serialises writes, SQLite allows one writer
	writeMu sync.Mutex
	statsMu sync.Mutex
	stats   Stats
	users   map[string]bool
}

func New(source Source, store storage.Storage, opts Options, logger *zap.Logger) *Scraper {
	if opts.Concurrency <= 0 {
		opts.Concurrency = 1
	}
	return &Scraper{
		source:  source,
		storage: store,
		opts:    opts,
		logger:  logger,
	}
}

// Run scrapes the configured server. Failures of single channels or threads
// are logged and counted in Stats; the returned error covers only failures
// that leave nothing to scrape.
func (s *Scraper) Run(ctx context.Context) (*Stats, error) {
	s.stats = Stats{}
	s.users = make(map[string]bool)

	guild, err := s.source.Guild(ctx, s.opts.ServerID)
	if err != nil {
		return nil, err
	}
	if err := s.storage.UpsertServer(ctx, &models.Server{ID: guild.ID, Name: guild.Name, ScrapedAt: time.Now().UTC()}); err != nil {
		return nil, fmt.Errorf("save server: %w", err)
	}

	raw, err := s.source.Channels(ctx, guild.ID)
	if err != nil {
		return nil, err
	}
	categories, channels := splitChannels(guild.ID, raw)
	if err := s.storage.UpsertCategories(ctx, categories); err != nil {
		return nil, fmt.Errorf("save categories: %w", err)
	}
	if err := s.storage.UpsertChannels(ctx, channels); err != nil {
		return nil, fmt.Errorf("save channels: %w", err)
	}
	s.stats.Categories = len(categories)
	s.stats.Channels = len(channels)

	s.logger.Info("Scraping server",
		zap.String("server_id", guild.ID),
		zap.String("name", guild.Name),
		zap.Int("categories", len(categories)),
		zap.Int("channels", len(channels)))

	threads := s.collectThreads(ctx, guild.ID, raw)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.opts.Concurrency)
	for _, rc := range raw {
		if rc.Kind != KindText {
			continue
		}
		g.Go(func() error {
			if err := s.scrapeChannelMessages(gctx, rc); err != nil {
				s.fail(err)
			}
			return nil
		})
	}
	for _, th := range threads {
		g.Go(func() error {
			if err := s.scrapeThread(gctx, th); err != nil {
				s.fail(err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	s.stats.Users = len(s.users)
	stats := s.stats
	s.logger.Info("Scrape finished", zap.Stringer("stats", &stats))
	return &stats, ctx.Err()
}

func splitChannels(serverID string, raw []RawChannel) ([]*models.Category, []*models.Channel) {
	categoryIDs := make(map[string]bool)
	var categories []*models.Category
	for _, rc := range raw {
		if rc.Kind == KindCategory {
			categoryIDs[rc.ID] = true
			categories = append(categories, &models.Category{ID: rc.ID, Name: rc.Name, ServerID: serverID, Position: rc.Position})
		}
	}

	var channels []*models.Channel
	for _, rc := range raw {
		if rc.Kind != KindText && rc.Kind != KindForum {
			continue
		}
		ch := &models.Channel{ID: rc.ID, Name: rc.Name, ServerID: serverID, Topic: rc.Topic}
		if categoryIDs[rc.ParentID] {
			ch.CategoryID = models.StringPtr(rc.ParentID)
		}
		channels = append(channels, ch)
	}
	return categories, channels
}

// collectThreads merges active and archived threads of the scraped channels.
func (s *Scraper) collectThreads(ctx context.Context, guildID string, raw []RawChannel) []RawThread {
	parents := make(map[string]bool)
	for _, rc := range raw {
		if rc.Kind == KindText || rc.Kind == KindForum {
			parents[rc.ID] = true
		}
	}

	seen := make(map[string]bool)
	var out []RawThread
	add := func(threads []RawThread) {
		for _, th := range threads {
			if parents[th.ParentID] && !seen[th.ID] {
				seen[th.ID] = true
				out = append(out, th)
			}
		}
	}

	active, err := s.source.ActiveThreads(ctx, guildID)
	if err != nil {
		s.fail(err)
	}
	add(active)

	for _, rc := range raw {
		if !parents[rc.ID] {
			continue
		}
		archived, err := s.source.ArchivedThreads(ctx, rc.ID)
		if err != nil {
			s.fail(err)
			continue
		}
		add(archived)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

func (s *Scraper) scrapeChannelMessages(ctx context.Context, rc RawChannel) error {
	history, err := s.source.Messages(ctx, rc.ID, s.opts.HistoryLimit)
	if err != nil {
		return err
	}
	msgs, users := s.convertMessages(ctx, rc.ID, history, nil, func(m *models.Message) {
		m.ChannelID = models.StringPtr(rc.ID)
	})
	return s.persist(ctx, nil, msgs, users, nil)
}

func (s *Scraper) scrapeThread(ctx context.Context, rt RawThread) error {
	history, err := s.source.Messages(ctx, rt.ID, s.opts.HistoryLimit)
	if err != nil {
		return err
	}
	pinnedIDs, err := s.source.PinnedMessageIDs(ctx, rt.ID)
	if err != nil {
		s.logger.Warn("Failed to get pinned messages", zap.Error(err), zap.String("thread_id", rt.ID))
	}
	pinned := make(map[string]bool, len(pinnedIDs))
	for _, id := range pinnedIDs {
		pinned[id] = true
	}

	thread := &models.Thread{
		ID:        rt.ID,
		Name:      rt.Name,
		ChannelID: rt.ParentID,
		OwnerID:   rt.OwnerID,
		CreatedAt: rt.CreatedAt,
	}
	msgs, users := s.convertMessages(ctx, rt.ID, history, pinned, func(m *models.Message) {
		m.ThreadID = models.StringPtr(rt.ID)
	})
	if thread.OwnerID == "" && len(msgs) > 0 {
		thread.OwnerID = msgs[0].AuthorID
	}

	if !IsRelevantThread(thread, msgs, s.opts.MinSentinelMessages) {
		s.statsMu.Lock()
		s.stats.ThreadsDiscarded++
		s.statsMu.Unlock()
		s.logger.Debug("Discarding thread",
			zap.String("thread_id", rt.ID),
			zap.Int("messages", len(msgs)))
		return nil
	}

	participants := make([]models.ThreadParticipant, 0, len(users))
	for _, u := range users {
		participants = append(participants, models.ThreadParticipant{ThreadID: thread.ID, UserID: u.ID})
	}
	if err := s.persist(ctx, thread, msgs, users, participants); err != nil {
		return err
	}

	s.statsMu.Lock()
	s.stats.ThreadsKept++
	s.statsMu.Unlock()
	return nil
}

func (s *Scraper) convertMessages(ctx context.Context, containerID string, history []RawMessage, pinned map[string]bool, place func(*models.Message)) ([]*models.Message, []*models.User) {
	msgs := make([]*models.Message, 0, len(history))
	users := make(map[string]*models.User)
	var order []string
	attachments := 0

	for _, rm := range history {
		if rm.AuthorID == "" {
			continue
		}
		m := &models.Message{
			ID:              rm.ID,
			Content:         rm.Content,
			AuthorID:        rm.AuthorID,
			IsBot:           rm.AuthorBot,
			Timestamp:       rm.Timestamp,
			ParentMessageID: models.StringPtr(rm.ReferenceID),
			Reactions:       rm.Reactions,
			Pinned:          rm.Pinned || pinned[rm.ID],
		}
		place(m)
		for _, a := range rm.Attachments {
			if !IsTextAttachment(a) {
				continue
			}
			body, err := s.source.Download(ctx, a.URL)
			if err != nil {
				s.logger.Warn("Failed to download attachment",
					zap.Error(err),
					zap.String("container_id", containerID),
					zap.String("message_id", rm.ID),
					zap.String("filename", a.Filename))
				continue
			}
			m.Attachments = append(m.Attachments, fmt.Sprintf("%s\n%s", a.Filename, body))
			attachments++
		}
		msgs = append(msgs, m)

		if _, ok := users[rm.AuthorID]; !ok {
			users[rm.AuthorID] = &models.User{ID: rm.AuthorID, Name: rm.AuthorName, IsBot: rm.AuthorBot}
			order = append(order, rm.AuthorID)
		}
	}

	out := make([]*models.User, 0, len(order))
	for _, id := range order {
		out = append(out, users[id])
	}

	s.statsMu.Lock()
	s.stats.Attachments += attachments
	s.statsMu.Unlock()
	return msgs, out
}

func (s *Scraper) persist(ctx context.Context, thread *models.Thread, msgs []*models.Message, users []*models.User, participants []models.ThreadParticipant) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if len(users) > 0 {
		if err := s.storage.UpsertUsers(ctx, users); err != nil {
			return fmt.Errorf("save users: %w", err)
		}
	}
	if thread != nil {
		if err := s.storage.UpsertThread(ctx, thread); err != nil {
			return fmt.Errorf("save thread: %w", err)
		}
	}
	if len(msgs) > 0 {
		if err := s.storage.UpsertMessages(ctx, msgs); err != nil {
			return fmt.Errorf("save messages: %w", err)
		}
	}
	if len(participants) > 0 {
		if err := s.storage.AddParticipants(ctx, participants); err != nil {
			return fmt.Errorf("save participants: %w", err)
		}
	}

	s.statsMu.Lock()
	s.stats.Messages += len(msgs)
	for _, u := range users {
		s.users[u.ID] = true
	}
	s.statsMu.Unlock()
	return nil
}

func (s *Scraper) fail(err error) {
	s.logger.Error("Scrape step failed", zap.Error(err))
	s.statsMu.Lock()
	s.stats.Errors = append(s.stats.Errors, err)
	s.statsMu.Unlock()
}
