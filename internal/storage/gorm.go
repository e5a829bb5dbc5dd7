package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/xaenox/guildscribe/internal/models"
)

const batchSize = 500

type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
}

// GormStorage implements Storage on SQLite or PostgreSQL.
type GormStorage struct {
	db     *gorm.DB
	logger *zap.Logger

	// SQLite allows one writer at a time.
	writeMu sync.Mutex
}

// OpenSQLite opens or creates a SQLite database file. Pragmas go through
// the DSN so every pooled connection gets them.
func OpenSQLite(path string, logger *zap.Logger) (*GormStorage, error) {
	if dir := filepath.Dir(path); dir != "." && !strings.HasPrefix(path, ":memory:") {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}
	dsn := path + "?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: newGormLogger(logger)})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	return newGormStorage(db, logger)
}

// OpenPostgres connects through lib/pq and hands the pool to gorm.
func OpenPostgres(config DatabaseConfig, logger *zap.Logger) (*GormStorage, error) {
	connStr := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		config.Host, config.Port, config.User, config.Password, config.DBName, config.SSLMode)

	sqlDB, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, fmt.Errorf("error opening database: %w", err)
	}

	// Test the connection
	if err := sqlDB.Ping(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("error connecting to the database: %w", err)
	}

	db, err := gorm.Open(postgres.New(postgres.Config{Conn: sqlDB}), &gorm.Config{Logger: newGormLogger(logger)})
	if err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("open gorm: %w", err)
	}

	return newGormStorage(db, logger)
}

func newGormStorage(db *gorm.DB, logger *zap.Logger) (*GormStorage, error) {
	s := &GormStorage{db: db, logger: logger}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("init schema: %w", err)
	}
	return s, nil
}

func (s *GormStorage) migrate() error {
	return s.db.AutoMigrate(
		&models.Server{},
		&models.Category{},
		&models.Channel{},
		&models.Thread{},
		&models.ThreadParticipant{},
		&models.User{},
		&models.Message{},
		&models.ContextSystemPrompt{},
		&models.TopicArea{},
		&models.AiAnalysis{},
		&models.EmbeddableItem{},
	)
}

func upsertAll(ctx context.Context, db *gorm.DB, rows interface{}) error {
	return db.WithContext(ctx).Clauses(clause.OnConflict{UpdateAll: true}).CreateInBatches(rows, batchSize).Error
}

func (s *GormStorage) UpsertServer(ctx context.Context, server *models.Server) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if err := upsertAll(ctx, s.db, server); err != nil {
		return fmt.Errorf("upsert server %s: %w", server.ID, err)
	}
	return nil
}

func (s *GormStorage) UpsertCategories(ctx context.Context, categories []*models.Category) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if len(categories) == 0 {
		return nil
	}
	if err := upsertAll(ctx, s.db, categories); err != nil {
		return fmt.Errorf("upsert categories: %w", err)
	}
	return nil
}

func (s *GormStorage) UpsertChannels(ctx context.Context, channels []*models.Channel) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if len(channels) == 0 {
		return nil
	}
	if err := upsertAll(ctx, s.db, channels); err != nil {
		return fmt.Errorf("upsert channels: %w", err)
	}
	return nil
}

func (s *GormStorage) UpsertThread(ctx context.Context, thread *models.Thread) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if err := thread.Validate(); err != nil {
		return fmt.Errorf("thread %s: %w", thread.ID, err)
	}
	if err := upsertAll(ctx, s.db, thread); err != nil {
		return fmt.Errorf("upsert thread %s: %w", thread.ID, err)
	}
	return nil
}

func (s *GormStorage) UpsertUsers(ctx context.Context, users []*models.User) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if len(users) == 0 {
		return nil
	}
	if err := upsertAll(ctx, s.db, users); err != nil {
		return fmt.Errorf("upsert users: %w", err)
	}
	return nil
}

func (s *GormStorage) UpsertMessages(ctx context.Context, messages []*models.Message) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if len(messages) == 0 {
		return nil
	}
	for _, m := range messages {
		if err := m.Validate(); err != nil {
			return fmt.Errorf("message %s: %w", m.ID, err)
		}
	}
	if err := upsertAll(ctx, s.db, messages); err != nil {
		return fmt.Errorf("upsert messages: %w", err)
	}
	return nil
}

func (s *GormStorage) AddParticipants(ctx context.Context, participants []models.ThreadParticipant) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if len(participants) == 0 {
		return nil
	}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).CreateInBatches(participants, batchSize).Error
	if err != nil {
		return fmt.Errorf("add participants: %w", err)
	}
	return nil
}

func (s *GormStorage) Snapshot(ctx context.Context, serverID string) (*models.Snapshot, error) {
	db := s.db.WithContext(ctx)
	snap := &models.Snapshot{Server: &models.Server{}}

	err := db.Where("id = ?", serverID).First(snap.Server).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("server %s: %w", serverID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("load server: %w", err)
	}

	channelIDs := db.Model(&models.Channel{}).Select("id").Where("server_id = ?", serverID)
	threadIDs := db.Model(&models.Thread{}).Select("id").Where("channel_id IN (?)", channelIDs)
	messageScope := db.Model(&models.Message{}).Where("thread_id IN (?) OR channel_id IN (?)", threadIDs, channelIDs)

	if err := db.Where("server_id = ?", serverID).Order("position").Find(&snap.Categories).Error; err != nil {
		return nil, fmt.Errorf("load categories: %w", err)
	}
	if err := db.Where("server_id = ?", serverID).Order("id").Find(&snap.Channels).Error; err != nil {
		return nil, fmt.Errorf("load channels: %w", err)
	}
	if err := db.Where("channel_id IN (?)", channelIDs).Order("created_at").Find(&snap.Threads).Error; err != nil {
		return nil, fmt.Errorf("load threads: %w", err)
	}
	if err := messageScope.Order("timestamp").Find(&snap.Messages).Error; err != nil {
		return nil, fmt.Errorf("load messages: %w", err)
	}
	authors := db.Model(&models.Message{}).Select("author_id").Where("thread_id IN (?) OR channel_id IN (?)", threadIDs, channelIDs)
	if err := db.Where("id IN (?)", authors).Order("id").Find(&snap.Users).Error; err != nil {
		return nil, fmt.Errorf("load users: %w", err)
	}
	if err := db.Where("thread_id IN (?)", threadIDs).Find(&snap.Participants).Error; err != nil {
		return nil, fmt.Errorf("load participants: %w", err)
	}
	err = db.Preload("TopicAreas").
		Where("route = ? OR route LIKE ?", serverID, serverID+"/%").
		Find(&snap.Analyses).Error
	if err != nil {
		return nil, fmt.Errorf("load analyses: %w", err)
	}
	if err := db.Order("route").Find(&snap.Prompts).Error; err != nil {
		return nil, fmt.Errorf("load prompts: %w", err)
	}

	snap.Link()
	return snap, nil
}

// SaveAnalysis replaces any analysis stored for the same owner.
func (s *GormStorage) SaveAnalysis(ctx context.Context, analysis *models.AiAnalysis) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing models.AiAnalysis
		err := tx.Where("owner_kind = ? AND owner_id = ?", analysis.OwnerKind, analysis.OwnerID).First(&existing).Error
		switch {
		case err == nil:
			if err := tx.Model(&existing).Association("TopicAreas").Clear(); err != nil {
				return fmt.Errorf("clear topic areas: %w", err)
			}
			if err := tx.Delete(&existing).Error; err != nil {
				return fmt.Errorf("delete previous analysis: %w", err)
			}
		case !errors.Is(err, gorm.ErrRecordNotFound):
			return fmt.Errorf("find previous analysis: %w", err)
		}

		for i := range analysis.TopicAreas {
			ta := &analysis.TopicAreas[i]
			var stored models.TopicArea
			// map conditions so empty levels still participate in the match
			err := tx.Where(map[string]interface{}{
				"name": ta.Name, "category": ta.Category, "subject": ta.Subject,
				"topic": ta.Topic, "subtopic": ta.Subtopic, "niche": ta.Niche,
			}).Attrs(models.TopicArea{ID: uuid.New().String(), Description: ta.Description}).
				FirstOrCreate(&stored).Error
			if err != nil {
				return fmt.Errorf("topic area %q: %w", ta.Path(), err)
			}
			*ta = stored
		}

		if analysis.ID == "" {
			analysis.ID = uuid.New().String()
		}
		if analysis.CreatedAt.IsZero() {
			analysis.CreatedAt = time.Now()
		}
		if err := tx.Create(analysis).Error; err != nil {
			return fmt.Errorf("create analysis: %w", err)
		}
		return nil
	})
}

func (s *GormStorage) GetAnalysis(ctx context.Context, key models.Key) (*models.AiAnalysis, error) {
	var a models.AiAnalysis
	err := s.db.WithContext(ctx).Preload("TopicAreas").
		Where("owner_kind = ? AND owner_id = ?", key.Kind, key.ID).
		First(&a).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("analysis %s: %w", key, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// ListAnalyses returns analyses of one kind, or all when kind is empty.
func (s *GormStorage) ListAnalyses(ctx context.Context, kind models.Kind) ([]*models.AiAnalysis, error) {
	q := s.db.WithContext(ctx).Preload("TopicAreas").Order("owner_kind, owner_id")
	if kind != "" {
		q = q.Where("owner_kind = ?", kind)
	}
	var out []*models.AiAnalysis
	if err := q.Find(&out).Error; err != nil {
		return nil, fmt.Errorf("list analyses: %w", err)
	}
	return out, nil
}

func (s *GormStorage) SaveContextPrompt(ctx context.Context, prompt *models.ContextSystemPrompt) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if prompt.ID == "" {
		prompt.ID = uuid.New().String()
	}
	prompt.UpdatedAt = time.Now()
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "route"}},
		DoUpdates: clause.AssignmentColumns([]string{"prompt", "updated_at"}),
	}).Create(prompt).Error
	if err != nil {
		return fmt.Errorf("save context prompt %s: %w", prompt.Route, err)
	}
	return nil
}

func (s *GormStorage) ListContextPrompts(ctx context.Context) ([]*models.ContextSystemPrompt, error) {
	var out []*models.ContextSystemPrompt
	if err := s.db.WithContext(ctx).Order("route").Find(&out).Error; err != nil {
		return nil, fmt.Errorf("list context prompts: %w", err)
	}
	return out, nil
}

func (s *GormStorage) ReplaceEmbeddableItems(ctx context.Context, kind models.ItemKind, items []*models.EmbeddableItem) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("kind = ?", kind).Delete(&models.EmbeddableItem{}).Error; err != nil {
			return fmt.Errorf("delete %s items: %w", kind, err)
		}
		if len(items) == 0 {
			return nil
		}
		now := time.Now()
		for _, it := range items {
			if it.ID == "" {
				it.ID = uuid.New().String()
			}
			it.Kind = kind
			it.CreatedAt = now
		}
		if err := tx.CreateInBatches(items, batchSize).Error; err != nil {
			return fmt.Errorf("create %s items: %w", kind, err)
		}
		return nil
	})
}

func (s *GormStorage) ListEmbeddableItems(ctx context.Context, kind models.ItemKind) ([]*models.EmbeddableItem, error) {
	var out []*models.EmbeddableItem
	err := s.db.WithContext(ctx).Where("kind = ?", kind).Order("embedding_index").Find(&out).Error
	if err != nil {
		return nil, fmt.Errorf("list %s items: %w", kind, err)
	}
	return out, nil
}

func (s *GormStorage) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
