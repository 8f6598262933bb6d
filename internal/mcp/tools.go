package mcp

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/sha1n/ace-mcp-api/internal/codeindex"
)

// SearchArgument defines search parameters.
type SearchArgument struct {
	ProjectID string `json:"project_id" jsonschema_description:"Project to search (e.g., acme)"`
	Query     string `json:"query" jsonschema_description:"Free-text query; every whitespace separated word is matched"`
	Limit     *int   `json:"limit,omitempty" jsonschema_description:"Maximum number of results (default 10)"`
	Mode      string `json:"mode,omitempty" jsonschema_description:"Ranking mode: keyword (default) or fulltext"`
}

// RetrieveArgument defines retrieval parameters.
type RetrieveArgument struct {
	Query string `json:"query" jsonschema_description:"Free-text query matched across all projects"`
}

// ListProjectsArgument has no parameters.
type ListProjectsArgument struct{}

// SearchHandler handles the search_code MCP tool.
type SearchHandler struct {
	service *codeindex.Service
}

// NewSearchHandler creates a new search handler.
func NewSearchHandler(service *codeindex.Service) *SearchHandler {
	return &SearchHandler{
		service: service,
	}
}

func errorResult(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.TextContent{Text: text},
		},
		IsError: true,
	}
}

func textResult(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.TextContent{Text: text},
		},
	}
}

// Handle executes the search and returns formatted results.
func (h *SearchHandler) Handle(ctx context.Context, req *mcp.CallToolRequest, args SearchArgument) (*mcp.CallToolResult, any, error) {
	if strings.TrimSpace(args.ProjectID) == "" {
		return errorResult("Project ID cannot be empty"), nil, nil
	}
	if strings.TrimSpace(args.Query) == "" {
		return errorResult("Query cannot be empty"), nil, nil
	}

	out, err := h.service.Search(ctx, codeindex.SearchInput{
		ProjectID: strings.TrimSpace(args.ProjectID),
		Query:     args.Query,
		Limit:     args.Limit,
		Mode:      codeindex.SearchMode(args.Mode),
	})
	if errors.Is(err, codeindex.ErrUnknownMode) || errors.Is(err, codeindex.ErrFullTextDisabled) {
		return errorResult(fmt.Sprintf("Invalid mode: %s", err)), nil, nil
	}
	if err != nil {
		return errorResult(fmt.Sprintf("Search failed: %s", err)), nil, nil
	}

	if !out.ProjectFound {
		return textResult(fmt.Sprintf("Project not found: %s", out.ProjectID)), nil, nil
	}
	return h.formatResults(out), nil, nil
}

// formatResults formats ranked results for MCP response.
func (h *SearchHandler) formatResults(out codeindex.SearchOutput) *mcp.CallToolResult {
	if len(out.Results) == 0 {
		return textResult(fmt.Sprintf("No results found for query: %s", out.Query))
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Found %d results for '%s':\n\n", len(out.Results), out.Query))

	for i, r := range out.Results {
		sb.WriteString(fmt.Sprintf("### %d. %s:%d-%d\n", i+1, r.Blob.FilePath, r.Blob.StartLine, r.Blob.EndLine))
		sb.WriteString(fmt.Sprintf("**Score**: %.4f\n\n", r.Score))
		sb.WriteString("```")
		sb.WriteString(r.Blob.Language)
		sb.WriteString("\n")
		sb.WriteString(r.Blob.Content)
		if !strings.HasSuffix(r.Blob.Content, "\n") {
			sb.WriteString("\n")
		}
		sb.WriteString("```\n\n")
	}

	return textResult(sb.String())
}

// GetToolDefinition returns the MCP tool definition.
func (h *SearchHandler) GetToolDefinition() *mcp.Tool {
	return &mcp.Tool{
		Name:        "search_code",
		Description: "Search the indexed code blobs of one project and return ranked matches",
	}
}

// RegisterSearchTool registers the search tool with an MCP server.
func RegisterSearchTool(server *mcp.Server, service *codeindex.Service) {
	handler := NewSearchHandler(service)
	mcp.AddTool(server, handler.GetToolDefinition(), handler.Handle)
}

// RetrieveHandler handles the retrieve_code MCP tool.
type RetrieveHandler struct {
	service *codeindex.Service
}

// NewRetrieveHandler creates a new retrieve handler.
func NewRetrieveHandler(service *codeindex.Service) *RetrieveHandler {
	return &RetrieveHandler{
		service: service,
	}
}

// Handle returns the markdown digest for the query.
func (h *RetrieveHandler) Handle(ctx context.Context, req *mcp.CallToolRequest, args RetrieveArgument) (*mcp.CallToolResult, any, error) {
	if strings.TrimSpace(args.Query) == "" {
		return errorResult("Query cannot be empty"), nil, nil
	}

	out, err := h.service.Retrieve(ctx, args.Query)
	if err != nil {
		return errorResult(fmt.Sprintf("Retrieval failed: %s", err)), nil, nil
	}
	return textResult(out.Formatted), nil, nil
}

// GetToolDefinition returns the MCP tool definition.
func (h *RetrieveHandler) GetToolDefinition() *mcp.Tool {
	return &mcp.Tool{
		Name:        "retrieve_code",
		Description: "Retrieve the most relevant code snippets across all indexed projects as a markdown digest",
	}
}

// RegisterRetrieveTool registers the retrieve tool with an MCP server.
func RegisterRetrieveTool(server *mcp.Server, service *codeindex.Service) {
	handler := NewRetrieveHandler(service)
	mcp.AddTool(server, handler.GetToolDefinition(), handler.Handle)
}

// ListProjectsHandler handles the list_projects MCP tool.
type ListProjectsHandler struct {
	service *codeindex.Service
}

// Handle lists indexed projects.
func (h *ListProjectsHandler) Handle(ctx context.Context, req *mcp.CallToolRequest, args ListProjectsArgument) (*mcp.CallToolResult, any, error) {
	projects := h.service.ListProjects()
	if len(projects) == 0 {
		return textResult("No projects indexed"), nil, nil
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%d indexed projects:\n\n", len(projects)))
	for _, p := range projects {
		sb.WriteString(fmt.Sprintf("- %s (%d blobs)\n", p.ID, p.BlobCount))
	}
	return textResult(sb.String()), nil, nil
}

// RegisterListProjectsTool registers the list_projects tool with an MCP server.
func RegisterListProjectsTool(server *mcp.Server, service *codeindex.Service) {
	handler := &ListProjectsHandler{service: service}
	mcp.AddTool(server, &mcp.Tool{
		Name:        "list_projects",
		Description: "List indexed projects with their blob counts",
	}, handler.Handle)
}
