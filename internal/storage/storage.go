package storage

import (
	"context"
	"errors"

	"github.com/xaenox/guildscribe/internal/models"
)

var ErrNotFound = errors.New("not found")

// Storage persists scraped rows, analyses and embeddings. Scraped rows are
// upserted by platform id; analyses and embeddable items are replaced.
type Storage interface {
	UpsertServer(ctx context.Context, server *models.Server) error
	UpsertCategories(ctx context.Context, categories []*models.Category) error
	UpsertChannels(ctx context.Context, channels []*models.Channel) error
	UpsertThread(ctx context.Context, thread *models.Thread) error
	UpsertUsers(ctx context.Context, users []*models.User) error
	UpsertMessages(ctx context.Context, messages []*models.Message) error
	AddParticipants(ctx context.Context, participants []models.ThreadParticipant) error

	// Snapshot loads every row of one server with relations linked.
	Snapshot(ctx context.Context, serverID string) (*models.Snapshot, error)

	AnalysisStorage
	EmbeddingStorage

	Close() error
}

type AnalysisStorage interface {
	SaveAnalysis(ctx context.Context, analysis *models.AiAnalysis) error
	GetAnalysis(ctx context.Context, key models.Key) (*models.AiAnalysis, error)
	ListAnalyses(ctx context.Context, kind models.Kind) ([]*models.AiAnalysis, error)
	SaveContextPrompt(ctx context.Context, prompt *models.ContextSystemPrompt) error
	ListContextPrompts(ctx context.Context) ([]*models.ContextSystemPrompt, error)
}

type EmbeddingStorage interface {
	ReplaceEmbeddableItems(ctx context.Context, kind models.ItemKind, items []*models.EmbeddableItem) error
	ListEmbeddableItems(ctx context.Context, kind models.ItemKind) ([]*models.EmbeddableItem, error)
}
