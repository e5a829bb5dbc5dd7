package classifier

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xaenox/guildscribe/internal/models"
	"github.com/xaenox/guildscribe/internal/storage"
)

// Failure records a unit whose analysis was skipped.
type Failure struct {
	Key models.Key
	Err error
}

// Report summarises a pipeline run.
type Report struct {
	mu       sync.Mutex
	Analyzed map[models.Kind]int
	Failures []Failure
	Duration time.Duration
}

func (r *Report) success(kind models.Kind) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Analyzed[kind]++
}

func (r *Report) failure(key models.Key, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Failures = append(r.Failures, Failure{Key: key, Err: err})
}

// Total is the number of units analyzed.
func (r *Report) Total() int {
	n := 0
	for _, c := range r.Analyzed {
		n += c
	}
	return n
}

// Pipeline analyzes every unit of a server bottom up: threads and users,
// then channels, categories, the server and finally tags.
type Pipeline struct {
	analyzer    UnitAnalyzer
	store       storage.AnalysisStorage
	concurrency int
	logger      *zap.Logger

	saveMu sync.Mutex
}

func NewPipeline(analyzer UnitAnalyzer, store storage.AnalysisStorage, concurrency int, logger *zap.Logger) *Pipeline {
	if concurrency <= 0 {
		concurrency = 1
	}
	return &Pipeline{
		analyzer:    analyzer,
		store:       store,
		concurrency: concurrency,
		logger:      logger,
	}
}

// Run analyzes the units of snap whose kind is listed, or all when kinds is
// empty. Failing units are reported and leave their analysis slot untouched.
// Parent units always see the latest child analyses attached to snap.
func (p *Pipeline) Run(ctx context.Context, snap *models.Snapshot, kinds ...models.Kind) (*Report, error) {
	start := time.Now()
	report := &Report{Analyzed: make(map[models.Kind]int)}
	want := func(k models.Kind) bool {
		if len(kinds) == 0 {
			return true
		}
		for _, w := range kinds {
			if w == k {
				return true
			}
		}
		return false
	}

	var leaves []models.Analyzable
	if want(models.KindThread) {
		for _, t := range snap.Threads {
			leaves = append(leaves, t)
		}
	}
	if want(models.KindUser) {
		for _, u := range snap.HumanUsers() {
			leaves = append(leaves, u)
		}
	}

	stages := []func() []models.Analyzable{
		func() []models.Analyzable { return leaves },
		func() []models.Analyzable {
			if !want(models.KindChannel) {
				return nil
			}
			out := make([]models.Analyzable, 0, len(snap.Channels))
			for _, ch := range snap.Channels {
				out = append(out, ch)
			}
			return out
		},
		func() []models.Analyzable {
			if !want(models.KindCategory) {
				return nil
			}
			out := make([]models.Analyzable, 0, len(snap.Categories))
			for _, c := range snap.Categories {
				out = append(out, c)
			}
			return out
		},
		func() []models.Analyzable {
			if !want(models.KindServer) {
				return nil
			}
			return []models.Analyzable{snap.Server}
		},
		// tags depend on the thread analyses of the first stage
		func() []models.Analyzable {
			if !want(models.KindTag) {
				return nil
			}
			var out []models.Analyzable
			for _, t := range snap.TagUnits() {
				out = append(out, t)
			}
			return out
		},
	}

	for _, stage := range stages {
		if err := p.runStage(ctx, stage(), snap.Prompts, report); err != nil {
			return report, err
		}
	}

	report.Duration = time.Since(start)
	p.logger.Info("Analysis finished",
		zap.Int("analyzed", report.Total()),
		zap.Int("failed", len(report.Failures)),
		zap.Duration("duration", report.Duration))
	return report, nil
}

func (p *Pipeline) runStage(ctx context.Context, units []models.Analyzable, prompts []*models.ContextSystemPrompt, report *Report) error {
	if len(units) == 0 {
		return nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.concurrency)
	for _, unit := range units {
		g.Go(func() error {
			if err := p.analyzeUnit(gctx, unit, prompts); err != nil {
				p.logger.Error("Failed to analyze unit",
					zap.Error(err),
					zap.Stringer("unit", unit.AnalysisKey()),
					zap.String("name", unit.DisplayName()))
				report.failure(unit.AnalysisKey(), err)
				return nil
			}
			report.success(unit.AnalysisKey().Kind)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}

func (p *Pipeline) analyzeUnit(ctx context.Context, unit models.Analyzable, prompts []*models.ContextSystemPrompt) error {
	key := unit.AnalysisKey()
	route := unit.Route()
	system := SystemPrompt(key.Kind, route, prompts)

	result, chunks, err := p.analyzer.Analyze(ctx, system, unit.TextForAnalysis())
	if err != nil {
		return fmt.Errorf("analyze %s: %w", key, err)
	}

	analysis := result.ToAnalysis(key, route, p.analyzer.Model(), chunks)
	p.saveMu.Lock()
	err = p.store.SaveAnalysis(ctx, analysis)
	p.saveMu.Unlock()
	if err != nil {
		return fmt.Errorf("save analysis %s: %w", key, err)
	}

	unit.SetAnalysis(analysis)
	p.logger.Debug("Analyzed unit",
		zap.Stringer("unit", key),
		zap.Int("chunks", chunks),
		zap.Strings("tags", analysis.Tags))
	return nil
}
