// Package query scores and ranks blobs against free-text queries.
//
// Scoring is literal: every whitespace-separated query word contributes
// ContentWeight points per occurrence in the blob content and PathWeight points
// per occurrence in the file path, both compared in lower case.
package query

import (
	"context"
	"errors"
	"log/slog"
	"runtime"
	"slices"
	"strings"
	"sync"

	"github.com/panjf2000/ants/v2"
	"github.com/sha1n/ace-mcp-api/internal/domain"
)

const (
	// ContentWeight is the score added per occurrence of a query word in the content.
	ContentWeight = 10

	// PathWeight is the score added per occurrence of a query word in the file path.
	PathWeight = 5

	// DefaultChunkSize is the number of candidates scored by one pool task.
	DefaultChunkSize = 512
)

// ErrEngineClosed is returned when a search is attempted after Close.
var ErrEngineClosed = errors.New("query engine is closed")

// Result is a scored blob.
type Result struct {
	Blob  domain.Blob
	Score float64
}

// Score returns the keyword-overlap score of blob for query. A score of 0 means no match.
func Score(query string, blob domain.Blob) float64 {
	return newScorer(query).score(blob)
}

type scorer struct {
	words []string
}

func newScorer(query string) scorer {
	return scorer{words: strings.Fields(strings.ToLower(query))}
}

func (s scorer) score(blob domain.Blob) float64 {
	if len(s.words) == 0 {
		return 0
	}
	content := strings.ToLower(blob.Content)
	path := strings.ToLower(blob.FilePath)

	total := 0
	for _, word := range s.words {
		total += ContentWeight * strings.Count(content, word)
		total += PathWeight * strings.Count(path, word)
	}
	return float64(total)
}

// Engine ranks candidate blobs. Large candidate sets are scored in parallel
// chunks on a worker pool; the ranking is identical to a sequential run.
type Engine struct {
	pool      *ants.Pool
	chunkSize int
	logger    *slog.Logger
	mu        sync.RWMutex
	closed    bool
}

// Option configures an Engine.
type Option func(*Engine) error

// WithPoolSize sets the worker pool size used for parallel scoring.
// Default is runtime.NumCPU(), with a minimum of 1.
func WithPoolSize(size int) Option {
	return func(e *Engine) error {
		if size < 1 {
			size = 1
		}
		pool, err := ants.NewPool(size)
		if err != nil {
			return err
		}
		if e.pool != nil {
			e.pool.Release()
		}
		e.pool = pool
		return nil
	}
}

// WithChunkSize sets how many candidates each pool task scores.
// Candidate sets no larger than one chunk are scored inline.
func WithChunkSize(size int) Option {
	return func(e *Engine) error {
		if size < 1 {
			size = 1
		}
		e.chunkSize = size
		return nil
	}
}

// WithLogger sets a custom logger.
// Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) error {
		if logger == nil {
			logger = slog.Default()
		}
		e.logger = logger
		return nil
	}
}

// NewEngine creates a query engine.
func NewEngine(opts ...Option) (*Engine, error) {
	pool, err := ants.NewPool(max(runtime.NumCPU(), 1))
	if err != nil {
		return nil, err
	}

	e := &Engine{
		pool:      pool,
		chunkSize: DefaultChunkSize,
		logger:    slog.Default(),
	}

	for _, opt := range opts {
		if err := opt(e); err != nil {
			e.pool.Release()
			return nil, err
		}
	}

	return e, nil
}

// Close releases the worker pool.
func (e *Engine) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}
	e.closed = true
	e.pool.Release()
}

// RankedSearch scores every candidate, drops zero scores, sorts by descending score
// and truncates to limit. Equal scores keep their candidate order.
// A limit of zero or less returns no results.
func (e *Engine) RankedSearch(ctx context.Context, query string, candidates []domain.Blob, limit int) ([]Result, error) {
	if limit <= 0 {
		return []Result{}, nil
	}

	scores, err := e.scoreAll(ctx, newScorer(query), candidates)
	if err != nil {
		return nil, err
	}

	results := make([]Result, 0)
	for i, s := range scores {
		if s > 0 {
			results = append(results, Result{Blob: candidates[i], Score: s})
		}
	}

	slices.SortStableFunc(results, func(a, b Result) int {
		switch {
		case a.Score > b.Score:
			return -1
		case a.Score < b.Score:
			return 1
		}
		return 0
	})

	if len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

// scoreAll returns one score per candidate, index-aligned with candidates.
func (e *Engine) scoreAll(ctx context.Context, sc scorer, candidates []domain.Blob) ([]float64, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.closed {
		return nil, ErrEngineClosed
	}

	scores := make([]float64, len(candidates))

	if len(candidates) <= e.chunkSize {
		for i := range candidates {
			scores[i] = sc.score(candidates[i])
		}
		return scores, ctx.Err()
	}

	var wg sync.WaitGroup
	for start := 0; start < len(candidates); start += e.chunkSize {
		end := min(start+e.chunkSize, len(candidates))
		task := func() {
			defer wg.Done()
			if ctx.Err() != nil {
				return
			}
			for i := start; i < end; i++ {
				scores[i] = sc.score(candidates[i])
			}
		}

		wg.Add(1)
		if err := e.pool.Submit(task); err != nil {
			e.logger.Warn("Scoring pool rejected task, scoring inline", "error", err)
			task()
		}
	}
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return scores, nil
}
