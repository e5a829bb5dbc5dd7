package models

import (
	"fmt"
	"time"

	"gorm.io/datatypes"
)

// ItemKind names the source of an embeddable text.
type ItemKind string

const (
	ItemMessagePair    ItemKind = "message_pair"
	ItemThreadAnalysis ItemKind = "thread_analysis"
	ItemTag            ItemKind = "tag"
	ItemUserProfile    ItemKind = "user_profile"
)

// ItemKinds lists every embeddable kind in export order.
var ItemKinds = []ItemKind{ItemMessagePair, ItemThreadAnalysis, ItemTag, ItemUserProfile}

// Point3 is one projected coordinate.
type Point3 struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// Projections holds every projection computed for an item. t-SNE and UMAP
// are keyed by ParamKey, PCA by component index.
type Projections struct {
	TSNE map[string]Point3 `json:"tsne,omitempty"`
	UMAP map[string]Point3 `json:"umap,omitempty"`
	PCA  []float64         `json:"pca,omitempty"`
}

// TSNEKey is the projection key for a perplexity value.
func TSNEKey(perplexity float64) string {
	return fmt.Sprintf("perplexity=%g", perplexity)
}

// UMAPKey is the projection key for a (n_neighbors, min_dist) pair.
func UMAPKey(neighbors int, minDist float64) string {
	return fmt.Sprintf("n_neighbors=%d,min_dist=%.1f", neighbors, minDist)
}

// EmbeddableItem is one unit of text carried through embedding and projection.
// EmbeddingIndex must equal the item's position in its batch.
type EmbeddableItem struct {
	ID             string                          `gorm:"primaryKey" json:"id"`
	Kind           ItemKind                        `gorm:"index;not null" json:"kind"`
	SourceID       string                          `gorm:"index" json:"source_id"`
	Label          string                          `json:"label"`
	Text           string                          `gorm:"type:text" json:"text"`
	EmbeddingIndex int                             `json:"embedding_index"`
	Embedding      []byte                          `json:"-"`
	Projections    datatypes.JSONType[Projections] `json:"projections"`
	CreatedAt      time.Time                       `json:"created_at"`
}
