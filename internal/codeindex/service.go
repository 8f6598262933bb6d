// Package codeindex coordinates the blob store, ranking engine, full-text
// index and retrieval cache behind the operations exposed over HTTP and MCP.
package codeindex

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/sha1n/ace-mcp-api/internal/blobstore"
	"github.com/sha1n/ace-mcp-api/internal/config"
	"github.com/sha1n/ace-mcp-api/internal/domain"
	"github.com/sha1n/ace-mcp-api/internal/fulltext"
	"github.com/sha1n/ace-mcp-api/internal/query"
)

// SearchMode selects the ranking strategy of a project search.
type SearchMode string

const (
	// ModeKeyword ranks by the weighted substring score.
	ModeKeyword SearchMode = "keyword"
	// ModeFullText ranks by Bleve relevance.
	ModeFullText SearchMode = "fulltext"
)

var (
	// ErrProjectNotFound is returned when a project does not exist.
	ErrProjectNotFound = blobstore.ErrProjectNotFound

	// ErrFullTextDisabled is returned for full-text searches when the index is turned off.
	ErrFullTextDisabled = errors.New("full-text search is disabled")

	// ErrUnknownMode is returned for an unrecognized search mode.
	ErrUnknownMode = errors.New("unknown search mode")
)

// IndexInput is a batch of blobs for one project.
type IndexInput struct {
	ProjectID string
	BatchID   *int
	Blobs     []blobstore.BlobInput
}

// IndexReceipt acknowledges an indexed batch.
type IndexReceipt struct {
	ProjectID    string
	BatchID      *int
	IndexedCount int
	TotalBlobs   int
	ReceiptIDs   []string
}

// SearchInput is a project-restricted search request. A nil Limit means the
// configured default.
type SearchInput struct {
	ProjectID string
	Query     string
	Limit     *int
	Mode      SearchMode
}

// SearchOutput holds ranked results. ProjectFound is false when the project
// does not exist, in which case Results is empty.
type SearchOutput struct {
	ProjectID    string
	Query        string
	Mode         SearchMode
	ProjectFound bool
	Results      []query.Result
}

// RetrieveOutput is a cross-project digest.
type RetrieveOutput struct {
	Query     string
	Formatted string
	Results   []query.Result
}

// Option configures a Service.
type Option func(*serviceOptions)

type serviceOptions struct {
	clock  func() time.Time
	logger *slog.Logger
}

// WithClock sets the clock used for project and blob timestamps.
func WithClock(now func() time.Time) Option {
	return func(o *serviceOptions) {
		o.clock = now
	}
}

// WithLogger sets the service logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *serviceOptions) {
		o.logger = logger
	}
}

// Service is the code index shared by all requests.
type Service struct {
	settings *config.SearchSettings
	store    *blobstore.Store
	engine   *query.Engine
	fulltext *fulltext.Index
	cache    *lru.Cache[string, RetrieveOutput]
	logger   *slog.Logger

	// writeMu orders store and full-text mutations so both see the same sequence.
	writeMu sync.Mutex
}

// NewService creates a code index service.
func NewService(settings *config.SearchSettings, opts ...Option) (*Service, error) {
	if settings == nil {
		return nil, fmt.Errorf("settings cannot be nil")
	}

	o := serviceOptions{logger: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}

	var storeOpts []blobstore.Option
	if o.clock != nil {
		storeOpts = append(storeOpts, blobstore.WithClock(o.clock))
	}

	engine, err := query.NewEngine(
		query.WithPoolSize(settings.Workers),
		query.WithChunkSize(settings.ChunkSize),
		query.WithLogger(o.logger),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create query engine: %w", err)
	}

	s := &Service{
		settings: settings,
		store:    blobstore.New(storeOpts...),
		engine:   engine,
		logger:   o.logger,
	}

	if settings.FullTextEnabled {
		idx, err := fulltext.New()
		if err != nil {
			engine.Close()
			return nil, err
		}
		s.fulltext = idx
	}

	if settings.CacheSize > 0 {
		cache, err := lru.New[string, RetrieveOutput](settings.CacheSize)
		if err != nil {
			s.Close()
			return nil, fmt.Errorf("failed to create retrieval cache: %w", err)
		}
		s.cache = cache
	}

	return s, nil
}

// Index stores a batch and mirrors it into the full-text index.
func (s *Service) Index(ctx context.Context, in IndexInput) (IndexReceipt, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	keys := s.store.BulkUpsert(in.ProjectID, in.Blobs)

	if s.fulltext != nil && len(keys) > 0 {
		blobs := make([]domain.Blob, 0, len(keys))
		for _, key := range keys {
			b, err := s.store.GetBlob(key)
			if err != nil {
				return IndexReceipt{}, fmt.Errorf("failed to read stored blob: %w", err)
			}
			blobs = append(blobs, b)
		}
		// The store mutation is already applied, so the index update must not be cut short.
		if err := s.fulltext.Index(context.WithoutCancel(ctx), blobs); err != nil {
			return IndexReceipt{}, fmt.Errorf("failed to update full-text index: %w", err)
		}
	}

	// An empty batch creates nothing, so the project may not exist.
	project, err := s.store.GetProject(in.ProjectID)
	if err != nil && !errors.Is(err, blobstore.ErrProjectNotFound) {
		return IndexReceipt{}, err
	}

	receiptIDs := make([]string, len(in.Blobs))
	for i, b := range in.Blobs {
		receiptIDs[i] = domain.ReceiptID(in.ProjectID, b.FilePath)
	}

	s.logger.DebugContext(ctx, "Indexed batch",
		"project_id", in.ProjectID,
		"indexed", len(keys),
		"total", project.BlobCount,
	)

	return IndexReceipt{
		ProjectID:    in.ProjectID,
		BatchID:      in.BatchID,
		IndexedCount: len(keys),
		TotalBlobs:   project.BlobCount,
		ReceiptIDs:   receiptIDs,
	}, nil
}

// Search ranks a project's blobs against the query.
func (s *Service) Search(ctx context.Context, in SearchInput) (SearchOutput, error) {
	mode := in.Mode
	if mode == "" {
		mode = ModeKeyword
	}

	out := SearchOutput{
		ProjectID: in.ProjectID,
		Query:     in.Query,
		Mode:      mode,
		Results:   []query.Result{},
	}

	switch mode {
	case ModeKeyword:
	case ModeFullText:
		if s.fulltext == nil {
			return out, ErrFullTextDisabled
		}
	default:
		return out, fmt.Errorf("%w: %s", ErrUnknownMode, mode)
	}

	if _, err := s.store.GetProject(in.ProjectID); err != nil {
		if errors.Is(err, blobstore.ErrProjectNotFound) {
			return out, nil
		}
		return out, err
	}
	out.ProjectFound = true

	// A query without words matches nothing in either mode.
	if strings.TrimSpace(in.Query) == "" {
		return out, nil
	}

	limit := s.ResolveLimit(in.Limit)

	var (
		results []query.Result
		err     error
	)
	if mode == ModeFullText {
		results, err = s.fullTextSearch(ctx, in.ProjectID, in.Query, limit)
	} else {
		results, err = s.engine.RankedSearch(ctx, in.Query, s.store.ScanByProject(in.ProjectID), limit)
	}
	if err != nil {
		return out, err
	}

	out.Results = results
	return out, nil
}

// ResolveLimit applies the configured default and maximum to a requested limit.
func (s *Service) ResolveLimit(limit *int) int {
	if limit == nil {
		return s.settings.DefaultLimit
	}
	return min(*limit, s.settings.MaxLimit)
}

func (s *Service) fullTextSearch(ctx context.Context, projectID, queryStr string, limit int) ([]query.Result, error) {
	hits, err := s.fulltext.Search(ctx, projectID, queryStr, limit)
	if err != nil {
		return nil, err
	}

	results := make([]query.Result, 0, len(hits))
	for _, hit := range hits {
		b, err := s.store.GetBlob(hit.Key)
		if errors.Is(err, blobstore.ErrBlobNotFound) {
			continue // deleted after the search ran
		}
		if err != nil {
			return nil, err
		}
		results = append(results, query.Result{Blob: b, Score: hit.Score})
	}
	return results, nil
}

// Retrieve builds a cross-project digest for the query.
func (s *Service) Retrieve(ctx context.Context, queryStr string) (RetrieveOutput, error) {
	version := s.store.Version()
	cacheKey := strconv.FormatUint(version, 10) + "\x00" + queryStr

	if s.cache != nil {
		if out, ok := s.cache.Get(cacheKey); ok {
			s.logger.DebugContext(ctx, "Retrieval cache hit", "query", queryStr, "version", version)
			return out, nil
		}
	}

	formatted, results, err := s.engine.FormattedRetrieval(ctx, queryStr, s.store.ScanAll())
	if err != nil {
		return RetrieveOutput{}, err
	}

	out := RetrieveOutput{
		Query:     queryStr,
		Formatted: formatted,
		Results:   results,
	}
	if s.cache != nil {
		s.cache.Add(cacheKey, out)
	}
	return out, nil
}

// GetProject returns the project record.
func (s *Service) GetProject(projectID string) (domain.Project, error) {
	return s.store.GetProject(projectID)
}

// ListProjects returns all projects in creation order.
func (s *Service) ListProjects() []domain.Project {
	return s.store.ListProjects()
}

// DeleteProject removes a project with all its blobs and returns how many blobs were removed.
func (s *Service) DeleteProject(ctx context.Context, projectID string) (int, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if _, err := s.store.GetProject(projectID); err != nil {
		return 0, err
	}

	deleted := s.store.DeleteProject(projectID)

	if s.fulltext != nil {
		if _, err := s.fulltext.DeleteProject(context.WithoutCancel(ctx), projectID); err != nil {
			return deleted, fmt.Errorf("failed to update full-text index: %w", err)
		}
	}

	s.logger.InfoContext(ctx, "Deleted project", "project_id", projectID, "blobs", deleted)
	return deleted, nil
}

// Stats returns the number of projects and blobs.
func (s *Service) Stats() blobstore.Stats {
	return s.store.Stats()
}

// Close releases the worker pool and the full-text index.
func (s *Service) Close() {
	s.engine.Close()
	if s.fulltext != nil {
		if err := s.fulltext.Close(); err != nil {
			s.logger.Warn("Failed to close full-text index", "error", err)
		}
	}
}
