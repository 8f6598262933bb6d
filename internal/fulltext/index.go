// Package fulltext mirrors stored blobs into an in-memory Bleve index
// to serve the "fulltext" search mode.
package fulltext

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/keyword"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/standard"
	"github.com/blevesearch/bleve/v2/mapping"
	"github.com/blevesearch/bleve/v2/search/query"
	"github.com/sha1n/ace-mcp-api/internal/domain"
)

const (
	// MaxBatchSize is the maximum number of documents per batch
	MaxBatchSize = 100

	// PathBoost weights file path matches against content matches.
	PathBoost = 0.5
)

// ErrIndexClosed is returned by operations on a closed index.
var ErrIndexClosed = errors.New("index is closed")

// Hit is a full-text match identified by blob key.
type Hit struct {
	Key   string
	Score float64
}

// document is the Bleve representation of a blob.
type document struct {
	ProjectID string `json:"project_id"`
	FilePath  string `json:"file_path"`
	Content   string `json:"content"`
	Language  string `json:"language"`
}

// Index is an in-memory Bleve index keyed by blob key.
type Index struct {
	index  bleve.Index
	mu     sync.RWMutex
	closed bool
}

// CreateIndexMapping creates the Bleve index mapping for blobs.
func CreateIndexMapping() mapping.IndexMapping {
	docMapping := bleve.NewDocumentMapping()

	// Content - analyzed for full-text search
	contentField := bleve.NewTextFieldMapping()
	contentField.Analyzer = standard.Name
	docMapping.AddFieldMappingsAt(domain.BlobFieldContent, contentField)

	// FilePath - analyzed so path segments are searchable
	pathField := bleve.NewTextFieldMapping()
	pathField.Analyzer = standard.Name
	docMapping.AddFieldMappingsAt(domain.BlobFieldFilePath, pathField)

	// ProjectID - keyword, used as a filter
	projectField := bleve.NewTextFieldMapping()
	projectField.Analyzer = keyword.Name
	docMapping.AddFieldMappingsAt(domain.BlobFieldProjectID, projectField)

	// Language - keyword
	langField := bleve.NewTextFieldMapping()
	langField.Analyzer = keyword.Name
	docMapping.AddFieldMappingsAt(domain.BlobFieldLanguage, langField)

	indexMapping := bleve.NewIndexMapping()
	indexMapping.DefaultMapping = docMapping
	indexMapping.DefaultAnalyzer = standard.Name

	return indexMapping
}

// New creates an empty in-memory index.
func New() (*Index, error) {
	idx, err := bleve.NewMemOnly(CreateIndexMapping())
	if err != nil {
		return nil, fmt.Errorf("failed to create index: %w", err)
	}
	return &Index{index: idx}, nil
}

// Index adds or replaces blobs, keyed by Blob.Key.
func (i *Index) Index(ctx context.Context, blobs []domain.Blob) error {
	if len(blobs) == 0 {
		return nil
	}

	i.mu.Lock()
	defer i.mu.Unlock()
	if i.closed {
		return ErrIndexClosed
	}

	batch := i.index.NewBatch()
	for _, b := range blobs {
		if err := ctx.Err(); err != nil {
			return err
		}
		doc := document{
			ProjectID: b.ProjectID,
			FilePath:  b.FilePath,
			Content:   b.Content,
			Language:  b.Language,
		}
		if err := batch.Index(b.Key, doc); err != nil {
			return fmt.Errorf("failed to index blob %s: %w", b.Key, err)
		}

		if batch.Size() >= MaxBatchSize {
			if err := i.index.Batch(batch); err != nil {
				return fmt.Errorf("batch index failed: %w", err)
			}
			batch = i.index.NewBatch()
		}
	}

	if batch.Size() > 0 {
		if err := i.index.Batch(batch); err != nil {
			return fmt.Errorf("final batch index failed: %w", err)
		}
	}
	return nil
}

// DeleteProject removes every document of the project and returns how many were removed.
func (i *Index) DeleteProject(ctx context.Context, projectID string) (int, error) {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.closed {
		return 0, ErrIndexClosed
	}

	q := bleve.NewTermQuery(projectID)
	q.SetField(domain.BlobFieldProjectID)

	deleted := 0
	for {
		req := bleve.NewSearchRequestOptions(q, MaxBatchSize, 0, false)
		res, err := i.index.SearchInContext(ctx, req)
		if err != nil {
			return deleted, fmt.Errorf("failed to find project documents: %w", err)
		}
		if len(res.Hits) == 0 {
			return deleted, nil
		}

		batch := i.index.NewBatch()
		for _, hit := range res.Hits {
			batch.Delete(hit.ID)
		}
		if err := i.index.Batch(batch); err != nil {
			return deleted, fmt.Errorf("batch delete failed: %w", err)
		}
		deleted += len(res.Hits)
	}
}

// Search runs a match query over content and file path, restricted to one project.
// Hits are ordered by descending Bleve relevance.
func (i *Index) Search(ctx context.Context, projectID, queryStr string, limit int) ([]Hit, error) {
	if limit <= 0 || strings.TrimSpace(queryStr) == "" {
		return []Hit{}, nil
	}

	i.mu.RLock()
	defer i.mu.RUnlock()
	if i.closed {
		return nil, ErrIndexClosed
	}

	req := bleve.NewSearchRequestOptions(buildQuery(projectID, queryStr), limit, 0, false)
	res, err := i.index.SearchInContext(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("search failed: %w", err)
	}

	hits := make([]Hit, 0, len(res.Hits))
	for _, h := range res.Hits {
		hits = append(hits, Hit{Key: h.ID, Score: h.Score})
	}
	return hits, nil
}

// buildQuery constructs (content OR path) AND project.
func buildQuery(projectID, queryStr string) query.Query {
	contentQuery := bleve.NewMatchQuery(queryStr)
	contentQuery.SetField(domain.BlobFieldContent)

	pathQuery := bleve.NewMatchQuery(queryStr)
	pathQuery.SetField(domain.BlobFieldFilePath)
	pathQuery.SetBoost(PathBoost)

	projectQuery := bleve.NewTermQuery(projectID)
	projectQuery.SetField(domain.BlobFieldProjectID)

	return bleve.NewConjunctionQuery(
		bleve.NewDisjunctionQuery(contentQuery, pathQuery),
		projectQuery,
	)
}

// DocCount returns the number of indexed documents.
func (i *Index) DocCount() (uint64, error) {
	i.mu.RLock()
	defer i.mu.RUnlock()
	if i.closed {
		return 0, ErrIndexClosed
	}
	return i.index.DocCount()
}

// Close releases the index.
func (i *Index) Close() error {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.closed {
		return nil
	}
	i.closed = true
	return i.index.Close()
}
