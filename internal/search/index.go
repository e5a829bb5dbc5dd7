package search

import (
	"errors"
	"fmt"
	"strings"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/mapping"

	"github.com/xaenox/guildscribe/internal/models"
)

// Index wraps a bleve keyword index over analyses.
type Index struct {
	index bleve.Index
}

// Document is the indexed form of one analysis.
type Document struct {
	Kind       string
	OwnerID    string
	Route      string
	Title      string
	Summary    string
	Detailed   string
	Highlights string
	Tags       string
	Topics     string
}

// Result is one search hit.
type Result struct {
	ID        string              `json:"id"`
	Kind      string              `json:"kind"`
	OwnerID   string              `json:"owner_id"`
	Title     string              `json:"title"`
	Summary   string              `json:"summary"`
	Score     float64             `json:"score"`
	Fragments map[string][]string `json:"fragments,omitempty"`
}

// Open opens the index at path, creating it if needed.
func Open(path string) (*Index, error) {
	idx, err := bleve.Open(path)
	if errors.Is(err, bleve.ErrorIndexPathDoesNotExist) {
		idx, err = bleve.New(path, buildIndexMapping())
		if err != nil {
			return nil, fmt.Errorf("create index: %w", err)
		}
	} else if err != nil {
		return nil, fmt.Errorf("open index: %w", err)
	}
	return &Index{index: idx}, nil
}

// NewMemOnly builds an index that lives only in memory.
func NewMemOnly() (*Index, error) {
	idx, err := bleve.NewMemOnly(buildIndexMapping())
	if err != nil {
		return nil, fmt.Errorf("create index: %w", err)
	}
	return &Index{index: idx}, nil
}

func buildIndexMapping() mapping.IndexMapping {
	text := bleve.NewTextFieldMapping()
	english := bleve.NewTextFieldMapping()
	english.Analyzer = "en"
	keyword := bleve.NewKeywordFieldMapping()

	doc := bleve.NewDocumentMapping()
	doc.AddFieldMappingsAt("Kind", keyword)
	doc.AddFieldMappingsAt("OwnerID", keyword)
	doc.AddFieldMappingsAt("Route", keyword)
	doc.AddFieldMappingsAt("Title", english)
	doc.AddFieldMappingsAt("Summary", english)
	doc.AddFieldMappingsAt("Detailed", english)
	doc.AddFieldMappingsAt("Highlights", english)
	doc.AddFieldMappingsAt("Tags", text)
	doc.AddFieldMappingsAt("Topics", text)

	m := bleve.NewIndexMapping()
	m.DefaultMapping = doc
	return m
}

func (i *Index) Close() error {
	return i.index.Close()
}

// DocID is the index id of an analysis, its owner key.
func DocID(a *models.AiAnalysis) string {
	return a.Key().String()
}

func toDocument(a *models.AiAnalysis) *Document {
	topics := make([]string, 0, len(a.TopicAreas))
	for _, t := range a.TopicAreas {
		topics = append(topics, t.Path())
	}
	return &Document{
		Kind:       string(a.OwnerKind),
		OwnerID:    a.OwnerID,
		Route:      a.Route,
		Title:      a.Title,
		Summary:    strings.TrimSpace(a.ExtremelyShortSummary + "\n" + a.ShortSummary),
		Detailed:   a.DetailedSummary,
		Highlights: strings.Join(a.Highlights, "\n"),
		Tags:       strings.Join(a.Tags, " "),
		Topics:     strings.Join(topics, "\n"),
	}
}

// IndexAnalyses adds or replaces the given analyses in one batch.
func (i *Index) IndexAnalyses(analyses []*models.AiAnalysis) error {
	batch := i.index.NewBatch()
	for _, a := range analyses {
		if err := batch.Index(DocID(a), toDocument(a)); err != nil {
			return fmt.Errorf("batch index %s: %w", DocID(a), err)
		}
	}
	if err := i.index.Batch(batch); err != nil {
		return fmt.Errorf("commit batch: %w", err)
	}
	return nil
}

// Search runs a query string query (quotes, +/-, field:value, fuzzy ~).
func (i *Index) Search(q string, limit int) ([]*Result, error) {
	if limit <= 0 {
		limit = 20
	}
	req := bleve.NewSearchRequestOptions(bleve.NewQueryStringQuery(q), limit, 0, false)
	req.Highlight = bleve.NewHighlight()
	req.Fields = []string{"Kind", "OwnerID", "Title", "Summary"}

	res, err := i.index.Search(req)
	if err != nil {
		return nil, fmt.Errorf("search: %w", err)
	}

	out := make([]*Result, 0, len(res.Hits))
	for _, hit := range res.Hits {
		r := &Result{ID: hit.ID, Score: hit.Score, Fragments: hit.Fragments}
		r.Kind, _ = hit.Fields["Kind"].(string)
		r.OwnerID, _ = hit.Fields["OwnerID"].(string)
		r.Title, _ = hit.Fields["Title"].(string)
		r.Summary, _ = hit.Fields["Summary"].(string)
		out = append(out, r)
	}
	return out, nil
}

func (i *Index) Count() (uint64, error) {
	return i.index.DocCount()
}
