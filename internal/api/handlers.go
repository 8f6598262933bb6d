// Package api implements the HTTP surface of the code index.
package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/sha1n/ace-mcp-api/internal/apierror"
	"github.com/sha1n/ace-mcp-api/internal/codeindex"
)

// ServiceName is reported by the root and health endpoints.
const ServiceName = "Ace MCP API"

// Handlers serves the HTTP endpoints over a code index service.
type Handlers struct {
	svc     *codeindex.Service
	version string
	now     func() time.Time
}

// NewHandlers creates the endpoint handlers.
func NewHandlers(svc *codeindex.Service, version string) *Handlers {
	return &Handlers{
		svc:     svc,
		version: version,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Root describes the service and its endpoints.
func (h *Handlers) Root(w http.ResponseWriter, r *http.Request) {
	stats := h.svc.Stats()
	writeJSON(r.Context(), w, http.StatusOK, RootResponse{
		Service:   ServiceName,
		Version:   h.version,
		Status:    "running",
		Timestamp: h.now(),
		Endpoints: map[string]string{
			"index":    "/api/v1/index",
			"search":   "/api/v1/search",
			"retrieve": "/api/v1/retrieve",
			"projects": "/api/v1/projects",
			"health":   "/health",
		},
		IndexedProjects: stats.Projects,
		TotalBlobs:      stats.Blobs,
	})
}

// Health reports liveness and store size.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	stats := h.svc.Stats()
	writeJSON(r.Context(), w, http.StatusOK, HealthResponse{
		Status:          "healthy",
		Service:         ServiceName,
		Version:         h.version,
		Timestamp:       h.now(),
		IndexedProjects: stats.Projects,
		TotalBlobs:      stats.Blobs,
	})
}

// Index stores a batch of blobs.
func (h *Handlers) Index(ctx context.Context, req *IndexRequest) (*IndexResponse, error) {
	receipt, err := h.svc.Index(ctx, req.Input())
	if err != nil {
		return nil, apierror.Internal("Indexing", err)
	}

	return &IndexResponse{
		Status:       "success",
		ProjectID:    receipt.ProjectID,
		BatchID:      receipt.BatchID,
		IndexedCount: receipt.IndexedCount,
		TotalBlobs:   receipt.TotalBlobs,
		BlobIDs:      receipt.ReceiptIDs,
	}, nil
}

// Search ranks the blobs of one project.
func (h *Handlers) Search(ctx context.Context, req *SearchRequest) (*SearchResponse, error) {
	out, err := h.svc.Search(ctx, req.Input())
	switch {
	case errors.Is(err, codeindex.ErrFullTextDisabled), errors.Is(err, codeindex.ErrUnknownMode):
		return nil, apierror.ValidationFailed([]apierror.FieldError{{Field: "mode", Message: err.Error()}}, nil)
	case err != nil:
		return nil, apierror.Internal("Search", err)
	}

	results := make([]SearchResult, len(out.Results))
	for i, r := range out.Results {
		results[i] = newSearchResult(r)
	}

	return &SearchResponse{
		Results:   results,
		Total:     len(results),
		Query:     out.Query,
		ProjectID: out.ProjectID,
		Mode:      string(out.Mode),
	}, nil
}

// Retrieve builds a digest across all projects.
func (h *Handlers) Retrieve(ctx context.Context, req *RetrieveRequest) (*RetrieveResponse, error) {
	out, err := h.svc.Retrieve(ctx, req.Query)
	if err != nil {
		return nil, apierror.Internal("Retrieval", err)
	}

	results := make([]RetrieveResult, len(out.Results))
	for i, r := range out.Results {
		results[i] = RetrieveResult{SearchResult: newSearchResult(r), ProjectID: r.Blob.ProjectID}
	}

	return &RetrieveResponse{
		Query:     out.Query,
		Formatted: out.Formatted,
		Results:   results,
		Total:     len(results),
	}, nil
}

// ListProjects lists all projects in creation order.
func (h *Handlers) ListProjects(_ context.Context, _ *ListProjectsRequest) (*ListProjectsResponse, error) {
	projects := h.svc.ListProjects()
	return &ListProjectsResponse{Projects: projects, Total: len(projects)}, nil
}

// GetProject returns one project.
func (h *Handlers) GetProject(_ context.Context, req *ProjectRequest) (*ProjectResponse, error) {
	project, err := h.svc.GetProject(req.ProjectID)
	if err != nil {
		return nil, projectError(err)
	}
	return &project, nil
}

// DeleteProject removes a project and all of its blobs.
func (h *Handlers) DeleteProject(ctx context.Context, req *ProjectRequest) (*DeleteProjectResponse, error) {
	deleted, err := h.svc.DeleteProject(ctx, req.ProjectID)
	if err != nil {
		return nil, projectError(err)
	}
	return &DeleteProjectResponse{
		Status:       "success",
		ProjectID:    req.ProjectID,
		DeletedBlobs: deleted,
	}, nil
}

func projectError(err error) error {
	if errors.Is(err, codeindex.ErrProjectNotFound) {
		return apierror.NotFound("Project")
	}
	return apierror.Internal("Project operation", err)
}
