package web

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/xaenox/guildscribe/internal/models"
	"github.com/xaenox/guildscribe/internal/search"
	"github.com/xaenox/guildscribe/internal/storage"
)

//go:embed templates/*.html
var templatesFS embed.FS

const (
	maxThreadRows = 50
	maxTags       = 30
	shutdownGrace = 5 * time.Second
)

// Server is the dashboard over one scraped server.
type Server struct {
	store     storage.Storage
	serverID  string
	idx       *search.Index
	templates *template.Template
	logger    *zap.Logger
}

type threadRow struct {
	Name    string
	Summary string
}

type overview struct {
	Server     *models.Server
	Digest     *models.AiAnalysis
	Categories int
	Channels   int
	Threads    int
	Messages   int
	Users      int
	Analyses   int
	ItemKinds  []models.ItemKind
	Tags       []models.TagCount
	ThreadRows []threadRow
}

// NewServer parses the page templates. idx may be nil, in which case the
// search API answers 503.
func NewServer(store storage.Storage, serverID string, idx *search.Index, logger *zap.Logger) (*Server, error) {
	tmpl, err := template.ParseFS(templatesFS, "templates/*.html")
	if err != nil {
		return nil, fmt.Errorf("parse templates: %w", err)
	}
	return &Server{store: store, serverID: serverID, idx: idx, templates: tmpl, logger: logger}, nil
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleIndex)
	mux.HandleFunc("/charts/stats", s.handleStats)
	mux.HandleFunc("/charts/embeddings", s.handleEmbeddings)
	mux.HandleFunc("/api/search", s.handleSearch)
	mux.HandleFunc("/health", s.handleHealth)
	return mux
}

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{Addr: addr, Handler: s.Handler(), ReadHeaderTimeout: 10 * time.Second}
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("Dashboard listening", zap.String("addr", addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		s.logger.Info("Shutting down dashboard")
		return srv.Shutdown(shutdownCtx)
	}
}

func (s *Server) snapshot(w http.ResponseWriter, r *http.Request) (*models.Snapshot, bool) {
	snap, err := s.store.Snapshot(r.Context(), s.serverID)
	if errors.Is(err, storage.ErrNotFound) {
		http.Error(w, "server has not been scraped", http.StatusNotFound)
		return nil, false
	}
	if err != nil {
		s.logger.Error("Failed to load snapshot", zap.String("server_id", s.serverID), zap.Error(err))
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return nil, false
	}
	return snap, true
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	snap, ok := s.snapshot(w, r)
	if !ok {
		return
	}

	data := overview{
		Server:     snap.Server,
		Digest:     snap.Server.Analysis(),
		Categories: len(snap.Categories),
		Channels:   len(snap.Channels),
		Threads:    len(snap.Threads),
		Messages:   len(snap.Messages),
		Users:      len(snap.Users),
		Analyses:   len(snap.Analyses),
		ItemKinds:  models.ItemKinds,
		Tags:       models.CountTags(snap.Analyses, models.KindThread),
	}
	if len(data.Tags) > maxTags {
		data.Tags = data.Tags[:maxTags]
	}
	for _, t := range snap.Threads {
		if len(data.ThreadRows) == maxThreadRows {
			break
		}
		row := threadRow{Name: t.Name}
		if a := t.Analysis(); a != nil {
			row.Summary = a.ExtremelyShortSummary
		}
		data.ThreadRows = append(data.ThreadRows, row)
	}

	if err := s.templates.ExecuteTemplate(w, "index.html", data); err != nil {
		s.logger.Error("Failed to render template", zap.Error(err))
		http.Error(w, "internal server error", http.StatusInternalServerError)
	}
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	snap, ok := s.snapshot(w, r)
	if !ok {
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := StatsPage(snap).Render(w); err != nil {
		s.logger.Error("Failed to render stats charts", zap.Error(err))
	}
}

func (s *Server) handleEmbeddings(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	kind := models.ItemKind(q.Get("kind"))
	if kind == "" {
		kind = models.ItemThreadAnalysis
	}
	method := Method(q.Get("method"))
	if method == "" {
		method = MethodUMAP
	}

	items, err := s.store.ListEmbeddableItems(r.Context(), kind)
	if err != nil {
		s.logger.Error("Failed to list embeddable items", zap.String("kind", string(kind)), zap.Error(err))
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}

	param := q.Get("param")
	if param == "" && method != MethodPCA {
		if keys := ProjectionKeys(items, method); len(keys) > 0 {
			param = keys[0]
		}
	}
	chart, err := EmbeddingChart(kind, method, param, items)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := chart.Render(w); err != nil {
		s.logger.Error("Failed to render embedding chart", zap.Error(err))
	}
}

type searchResponse struct {
	Query   string           `json:"query"`
	Count   int              `json:"count"`
	Results []*search.Result `json:"results"`
	Error   string           `json:"error,omitempty"`
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query().Get("q")
	resp := searchResponse{Query: query, Results: []*search.Result{}}
	if s.idx == nil {
		resp.Error = "search index not available"
		writeJSON(w, http.StatusServiceUnavailable, resp)
		return
	}
	if query == "" {
		resp.Error = "missing q parameter"
		writeJSON(w, http.StatusBadRequest, resp)
		return
	}

	limit := 20
	if l, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && l > 0 && l <= 100 {
		limit = l
	}
	results, err := s.idx.Search(query, limit)
	if err != nil {
		resp.Error = err.Error()
		writeJSON(w, http.StatusBadRequest, resp)
		return
	}
	resp.Results = results
	resp.Count = len(results)
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	body := map[string]any{"status": "ok", "server_id": s.serverID}
	if s.idx != nil {
		if n, err := s.idx.Count(); err == nil {
			body["documents_in_index"] = n
		}
	}
	writeJSON(w, http.StatusOK, body)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
