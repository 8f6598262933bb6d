package api

import (
	"fmt"
	"strings"
	"time"

	"github.com/sha1n/ace-mcp-api/internal/apierror"
	"github.com/sha1n/ace-mcp-api/internal/blobstore"
	"github.com/sha1n/ace-mcp-api/internal/codeindex"
	"github.com/sha1n/ace-mcp-api/internal/domain"
	"github.com/sha1n/ace-mcp-api/internal/query"
)

// DefaultProjectID is used when no project can be inferred from a blob path.
const DefaultProjectID = "default"

// Validatable is implemented by request payloads.
// Validate returns one entry per invalid field.
type Validatable interface {
	Validate() []apierror.FieldError
}

// BlobRequest is one blob of an index request. Either file_path or its
// alias path must be set.
type BlobRequest struct {
	Content   *string `json:"content"`
	FilePath  string  `json:"file_path"`
	Path      string  `json:"path"`
	StartLine *int    `json:"start_line"`
	EndLine   *int    `json:"end_line"`
	Language  string  `json:"language"`
}

// IndexRequest is the body of POST /api/v1/index and POST /batch-upload.
type IndexRequest struct {
	ProjectID string        `json:"project_id"`
	BatchID   *int          `json:"batch_id"`
	Blobs     []BlobRequest `json:"blobs"`
}

// resolvedPath applies the file_path/path aliasing.
func (b *BlobRequest) resolvedPath() string {
	if b.FilePath != "" {
		return b.FilePath
	}
	return b.Path
}

func (b *BlobRequest) startLine() int {
	if b.StartLine == nil {
		return 1
	}
	return *b.StartLine
}

func (b *BlobRequest) endLine() int {
	if b.EndLine == nil {
		content := ""
		if b.Content != nil {
			content = *b.Content
		}
		return b.startLine() + strings.Count(content, "\n")
	}
	return *b.EndLine
}

// Validate implements Validatable.
func (r *IndexRequest) Validate() []apierror.FieldError {
	var errs []apierror.FieldError
	if len(r.Blobs) == 0 {
		errs = append(errs, apierror.FieldError{Field: "blobs", Message: "must contain at least one blob"})
	}

	for i := range r.Blobs {
		b := &r.Blobs[i]
		prefix := fmt.Sprintf("blobs[%d].", i)

		if b.Content == nil {
			errs = append(errs, apierror.FieldError{Field: prefix + "content", Message: "is required"})
		}
		if b.FilePath != "" && b.Path != "" && b.FilePath != b.Path {
			errs = append(errs, apierror.FieldError{Field: prefix + "path", Message: "conflicts with file_path"})
		} else if strings.TrimSpace(b.resolvedPath()) == "" {
			errs = append(errs, apierror.FieldError{Field: prefix + "file_path", Message: "is required"})
		}
		if b.startLine() < 0 {
			errs = append(errs, apierror.FieldError{Field: prefix + "start_line", Message: "must be >= 0"})
		}
		if b.endLine() < b.startLine() {
			errs = append(errs, apierror.FieldError{Field: prefix + "end_line", Message: "must be >= start_line"})
		}
	}
	return errs
}

// Input converts a validated request into service input, inferring the
// project when it was not given.
func (r *IndexRequest) Input() codeindex.IndexInput {
	blobs := make([]blobstore.BlobInput, len(r.Blobs))
	for i := range r.Blobs {
		b := &r.Blobs[i]
		content := ""
		if b.Content != nil {
			content = *b.Content
		}
		blobs[i] = blobstore.BlobInput{
			FilePath:  b.resolvedPath(),
			Content:   content,
			StartLine: b.startLine(),
			EndLine:   b.endLine(),
			Language:  b.Language,
		}
	}

	projectID := strings.TrimSpace(r.ProjectID)
	if projectID == "" && len(blobs) > 0 {
		projectID = InferProjectID(blobs[0].FilePath)
	}

	return codeindex.IndexInput{
		ProjectID: projectID,
		BatchID:   r.BatchID,
		Blobs:     blobs,
	}
}

// InferProjectID returns the leading segment of a slash separated path, or
// DefaultProjectID when the path has no separator or starts with one.
func InferProjectID(path string) string {
	segment, _, found := strings.Cut(path, "/")
	if !found || segment == "" {
		return DefaultProjectID
	}
	return segment
}

// IndexResponse acknowledges an indexed batch.
type IndexResponse struct {
	Status       string   `json:"status"`
	ProjectID    string   `json:"project_id"`
	BatchID      *int     `json:"batch_id"`
	IndexedCount int      `json:"indexed_count"`
	TotalBlobs   int      `json:"total_blobs"`
	BlobIDs      []string `json:"blob_ids"`
}

// SearchRequest is the body of POST /api/v1/search.
type SearchRequest struct {
	ProjectID string `json:"project_id"`
	Query     string `json:"query"`
	Limit     *int   `json:"limit"`
	Mode      string `json:"mode"`
}

// Validate implements Validatable.
func (r *SearchRequest) Validate() []apierror.FieldError {
	var errs []apierror.FieldError
	if strings.TrimSpace(r.ProjectID) == "" {
		errs = append(errs, apierror.FieldError{Field: "project_id", Message: "is required"})
	}
	switch codeindex.SearchMode(r.Mode) {
	case "", codeindex.ModeKeyword, codeindex.ModeFullText:
	default:
		errs = append(errs, apierror.FieldError{Field: "mode", Message: "must be 'keyword' or 'fulltext'"})
	}
	return errs
}

// Input converts a validated request into service input.
func (r *SearchRequest) Input() codeindex.SearchInput {
	return codeindex.SearchInput{
		ProjectID: strings.TrimSpace(r.ProjectID),
		Query:     r.Query,
		Limit:     r.Limit,
		Mode:      codeindex.SearchMode(r.Mode),
	}
}

// SearchResult is one ranked blob.
type SearchResult struct {
	FilePath  string  `json:"file_path"`
	Content   string  `json:"content"`
	StartLine int     `json:"start_line"`
	EndLine   int     `json:"end_line"`
	Language  string  `json:"language,omitempty"`
	Score     float64 `json:"score"`
}

func newSearchResult(r query.Result) SearchResult {
	return SearchResult{
		FilePath:  r.Blob.FilePath,
		Content:   r.Blob.Content,
		StartLine: r.Blob.StartLine,
		EndLine:   r.Blob.EndLine,
		Language:  r.Blob.Language,
		Score:     r.Score,
	}
}

// SearchResponse lists ranked results for a project.
type SearchResponse struct {
	Results   []SearchResult `json:"results"`
	Total     int            `json:"total"`
	Query     string         `json:"query"`
	ProjectID string         `json:"project_id"`
	Mode      string         `json:"mode"`
}

// RetrieveRequest is the body of POST /api/v1/retrieve.
type RetrieveRequest struct {
	Query string `json:"query"`
}

// Validate implements Validatable.
func (r *RetrieveRequest) Validate() []apierror.FieldError {
	if strings.TrimSpace(r.Query) == "" {
		return []apierror.FieldError{{Field: "query", Message: "is required"}}
	}
	return nil
}

// RetrieveResult is a ranked blob together with its project.
type RetrieveResult struct {
	SearchResult
	ProjectID string `json:"project_id"`
}

// RetrieveResponse is a cross-project digest.
type RetrieveResponse struct {
	Query     string           `json:"query"`
	Formatted string           `json:"formatted"`
	Results   []RetrieveResult `json:"results"`
	Total     int              `json:"total"`
}

// ProjectRequest addresses a single project by path parameter.
type ProjectRequest struct {
	ProjectID string `json:"-"`
}

// Validate implements Validatable.
func (r *ProjectRequest) Validate() []apierror.FieldError {
	if r.ProjectID == "" {
		return []apierror.FieldError{{Field: "id", Message: "is required"}}
	}
	return nil
}

// ProjectResponse is the project detail.
type ProjectResponse = domain.Project

// ListProjectsRequest has no parameters.
type ListProjectsRequest struct{}

// Validate implements Validatable.
func (r *ListProjectsRequest) Validate() []apierror.FieldError {
	return nil
}

// ListProjectsResponse lists all projects.
type ListProjectsResponse struct {
	Projects []domain.Project `json:"projects"`
	Total    int              `json:"total"`
}

// DeleteProjectResponse reports a cascading delete.
type DeleteProjectResponse struct {
	Status       string `json:"status"`
	ProjectID    string `json:"project_id"`
	DeletedBlobs int    `json:"deleted_blobs"`
}

// RootResponse describes the service.
type RootResponse struct {
	Service         string            `json:"service"`
	Version         string            `json:"version"`
	Status          string            `json:"status"`
	Timestamp       time.Time         `json:"timestamp"`
	Endpoints       map[string]string `json:"endpoints"`
	IndexedProjects int               `json:"indexed_projects"`
	TotalBlobs      int               `json:"total_blobs"`
}

// HealthResponse reports liveness and store size.
type HealthResponse struct {
	Status          string    `json:"status"`
	Service         string    `json:"service"`
	Version         string    `json:"version"`
	Timestamp       time.Time `json:"timestamp"`
	IndexedProjects int       `json:"indexed_projects"`
	TotalBlobs      int       `json:"total_blobs"`
}
