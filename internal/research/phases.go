package research

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/timmy/prospect/internal/domain"
	"github.com/timmy/prospect/internal/logger"
	"github.com/timmy/prospect/internal/pipeline"
	"github.com/timmy/prospect/internal/prompts"
	"github.com/timmy/prospect/internal/provider"
)

const (
	// extractChunkSize bounds URLs per extraction call.
	extractChunkSize = 8

	// maxDocsPerBriefing bounds how many documents feed one briefing.
	maxDocsPerBriefing = 12

	// maxDocChars truncates a single document's content in prompts.
	maxDocChars = 2500

	// maxReferences bounds the reference list on the final result.
	maxReferences = 10
)

// runSearch generates queries per category, runs them against the
// search collaborator, and streams query records and initial document
// counts as they land.
func (r *Runner) runSearch(ctx context.Context, m *pipeline.Machine, state *runState) (pipeline.PhaseResult, error) {
	var (
		mu   sync.Mutex
		seen = make(map[string]bool)
	)

	err := r.forEachCategory(ctx, func(ctx context.Context, cat domain.Category) error {
		log := r.log.WithFields(logger.Fields{
			logger.FieldJobID:    m.JobID(),
			logger.FieldCategory: string(cat),
		})

		var raw string
		err := r.withRetry(ctx, func() error {
			var err error
			raw, err = r.model.Complete(ctx,
				prompts.QueryGenerationSystem,
				prompts.QueryGenerationUser(state.input, cat, r.cfg.QueriesPerCategory))
			return err
		})
		if err != nil {
			return phaseError(domain.PhaseSearch, err)
		}

		queries := parseQueries(raw, r.cfg.QueriesPerCategory)
		if len(queries) == 0 {
			return phaseError(domain.PhaseSearch, fmt.Errorf("model returned no queries for category %s", cat))
		}

		records := make([]domain.QueryRecord, len(queries))
		for i, q := range queries {
			records[i] = domain.QueryRecord{Category: cat, Seq: i, Text: q}
		}
		m.Progress(domain.PhaseSearch, pipeline.ProgressUpdate{
			Message: fmt.Sprintf("Generated %d %s queries", len(queries), cat),
			Queries: records,
		})

		for i, q := range queries {
			var docs []provider.Document
			err := r.withRetry(ctx, func() error {
				var err error
				docs, err = r.search.Search(ctx, q)
				return err
			})
			if err != nil {
				return phaseError(domain.PhaseSearch, err)
			}

			mu.Lock()
			fresh := 0
			for _, d := range docs {
				if d.URL == "" || seen[d.URL] {
					continue
				}
				seen[d.URL] = true
				state.docs[cat] = append(state.docs[cat], d)
				fresh++
			}
			mu.Unlock()

			log.WithField(logger.FieldCount, fresh).Debug("Search query done")
			m.Progress(domain.PhaseSearch, pipeline.ProgressUpdate{
				Message:   fmt.Sprintf("Searched: %s", q),
				Queries:   []domain.QueryRecord{{Category: cat, Seq: i, Completed: true}},
				DocCounts: map[domain.Category]domain.DocCounts{cat: {Initial: fresh}},
			})
		}
		return nil
	})
	if err != nil {
		return pipeline.PhaseResult{}, err
	}

	total := 0
	for _, docs := range state.docs {
		total += len(docs)
	}
	if total == 0 {
		return pipeline.PhaseResult{}, phaseError(domain.PhaseSearch, errors.New("no documents found"))
	}
	return pipeline.PhaseResult{
		Message: fmt.Sprintf("Search complete, %d documents collected", total),
	}, nil
}

// runCuration filters documents by the collaborator's relevance score
// and keeps the survivors for enrichment. Kept counts are streamed per
// category.
func (r *Runner) runCuration(ctx context.Context, m *pipeline.Machine, state *runState) (pipeline.PhaseResult, error) {
	kept := 0
	for _, cat := range domain.Categories {
		select {
		case <-ctx.Done():
			return pipeline.PhaseResult{}, phaseError(domain.PhaseCuration, ctx.Err())
		default:
		}

		var survivors []provider.Document
		for _, d := range state.docs[cat] {
			if d.Score >= r.cfg.MinKeepScore {
				survivors = append(survivors, d)
			}
		}
		// Highest-scored documents feed briefings first.
		sort.Slice(survivors, func(i, j int) bool {
			return survivors[i].Score > survivors[j].Score
		})
		state.docs[cat] = survivors
		kept += len(survivors)

		for _, d := range survivors {
			if len(state.refs) >= maxReferences {
				break
			}
			state.refs = append(state.refs, d.URL)
		}

		m.Progress(domain.PhaseCuration, pipeline.ProgressUpdate{
			Message:   fmt.Sprintf("Curated %s documents", cat),
			DocCounts: map[domain.Category]domain.DocCounts{cat: {Kept: len(survivors)}},
		})
	}

	if kept == 0 {
		return pipeline.PhaseResult{}, phaseError(domain.PhaseCuration, errors.New("no documents passed relevance filter"))
	}
	return pipeline.PhaseResult{
		Message: fmt.Sprintf("Curation complete, %d documents kept", kept),
	}, nil
}

// runEnrichment pulls full page content for kept documents that only
// have a search snippet. Extraction failures degrade gracefully: the
// document keeps its snippet and the phase continues.
func (r *Runner) runEnrichment(ctx context.Context, m *pipeline.Machine, state *runState) (pipeline.PhaseResult, error) {
	err := r.forEachCategory(ctx, func(ctx context.Context, cat domain.Category) error {
		docs := state.docs[cat]
		var candidates []int
		for i, d := range docs {
			if d.RawContent == "" {
				candidates = append(candidates, i)
			}
		}
		if len(candidates) == 0 {
			return nil
		}

		m.Progress(domain.PhaseEnrichment, pipeline.ProgressUpdate{
			Message:    fmt.Sprintf("Enriching %d %s documents", len(candidates), cat),
			Enrichment: map[domain.Category]domain.EnrichmentCounts{cat: {Total: len(candidates)}},
		})

		for start := 0; start < len(candidates); start += extractChunkSize {
			end := start + extractChunkSize
			if end > len(candidates) {
				end = len(candidates)
			}
			chunk := candidates[start:end]
			urls := make([]string, len(chunk))
			for i, idx := range chunk {
				urls[i] = docs[idx].URL
			}

			var contents map[string]string
			err := r.withRetry(ctx, func() error {
				var err error
				contents, err = r.search.Extract(ctx, urls)
				return err
			})
			if err != nil {
				if ctx.Err() != nil {
					return phaseError(domain.PhaseEnrichment, ctx.Err())
				}
				r.log.WithFields(logger.Fields{
					logger.FieldJobID:    m.JobID(),
					logger.FieldCategory: string(cat),
				}).WithError(err).Warn("Extraction chunk failed, keeping snippets")
				continue
			}

			enriched := 0
			for _, idx := range chunk {
				if content, ok := contents[docs[idx].URL]; ok && content != "" {
					docs[idx].RawContent = content
					enriched++
				}
			}
			if enriched > 0 {
				m.Progress(domain.PhaseEnrichment, pipeline.ProgressUpdate{
					Enrichment: map[domain.Category]domain.EnrichmentCounts{cat: {Enriched: enriched}},
				})
			}
		}
		return nil
	})
	if err != nil {
		return pipeline.PhaseResult{}, err
	}
	return pipeline.PhaseResult{Message: "Enrichment complete"}, nil
}

// runBriefing writes one briefing per category that still has
// documents, flipping the category flag as each one lands.
func (r *Runner) runBriefing(ctx context.Context, m *pipeline.Machine, state *runState) (pipeline.PhaseResult, error) {
	err := r.forEachCategory(ctx, func(ctx context.Context, cat domain.Category) error {
		docs := state.docs[cat]
		if len(docs) == 0 {
			return nil
		}

		var text string
		err := r.withRetry(ctx, func() error {
			var err error
			text, err = r.model.Complete(ctx,
				prompts.BriefingSystem,
				prompts.BriefingUser(state.input.Company, cat, renderDocs(docs)))
			return err
		})
		if err != nil {
			return phaseError(domain.PhaseBriefing, err)
		}

		state.mu.Lock()
		state.briefings[cat] = text
		state.mu.Unlock()

		m.Progress(domain.PhaseBriefing, pipeline.ProgressUpdate{
			Message:   fmt.Sprintf("Briefing ready: %s", cat),
			Briefings: map[domain.Category]bool{cat: true},
		})
		return nil
	})
	if err != nil {
		return pipeline.PhaseResult{}, err
	}

	if len(state.briefings) == 0 {
		return pipeline.PhaseResult{}, phaseError(domain.PhaseBriefing, errors.New("no briefings produced"))
	}
	return pipeline.PhaseResult{
		Message: fmt.Sprintf("%d briefings complete", len(state.briefings)),
	}, nil
}

// runReport compiles the briefings into the final report and attaches
// the scorer's output. The scorer's numbers are passed through as-is.
func (r *Runner) runReport(ctx context.Context, m *pipeline.Machine, state *runState) (pipeline.PhaseResult, error) {
	var report string
	err := r.withRetry(ctx, func() error {
		var err error
		report, err = r.model.Complete(ctx,
			prompts.ReportSystem,
			prompts.ReportUser(state.input.Company, state.briefings))
		return err
	})
	if err != nil {
		return pipeline.PhaseResult{}, phaseError(domain.PhaseReport, err)
	}
	if strings.TrimSpace(report) == "" {
		return pipeline.PhaseResult{}, phaseError(domain.PhaseReport, errors.New("model returned empty report"))
	}

	result := &domain.ResearchResult{
		Company:    state.input.Company,
		Report:     report,
		References: state.refs,
	}

	if r.scorer != nil {
		var score provider.ScoreResult
		err := r.withRetry(ctx, func() error {
			var err error
			score, err = r.scorer.Score(ctx, provider.ScoreRequest{
				Company:  state.input.Company,
				Industry: state.input.Industry,
				Layers:   state.opts.Layers,
				Shots:    state.opts.Shots,
			})
			return err
		})
		if err != nil {
			return pipeline.PhaseResult{}, phaseError(domain.PhaseReport, err)
		}
		result.AdvantageScore = score.AdvantageScore
		result.EntanglementStrength = score.EntanglementStrength
	}

	return pipeline.PhaseResult{
		Message: "Report compiled",
		Result:  result,
	}, nil
}

// parseQueries turns the model's line-oriented output into clean query
// strings, tolerating numbering and bullets it was told not to emit.
func parseQueries(raw string, limit int) []string {
	var out []string
	for _, line := range strings.Split(raw, "\n") {
		line = strings.TrimSpace(line)
		line = strings.TrimLeft(line, "-*0123456789. )")
		line = strings.Trim(line, `"`)
		if line == "" {
			continue
		}
		out = append(out, line)
		if len(out) == limit {
			break
		}
	}
	return out
}

// renderDocs flattens documents into prompt text, preferring extracted
// content over search snippets.
func renderDocs(docs []provider.Document) string {
	var b strings.Builder
	n := len(docs)
	if n > maxDocsPerBriefing {
		n = maxDocsPerBriefing
	}
	for i := 0; i < n; i++ {
		d := docs[i]
		content := d.RawContent
		if content == "" {
			content = d.Content
		}
		if len(content) > maxDocChars {
			content = content[:maxDocChars]
		}
		fmt.Fprintf(&b, "### %s\nSource: %s\n%s\n\n", d.Title, d.URL, content)
	}
	return b.String()
}
