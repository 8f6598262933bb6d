package query

import (
	"context"
	"fmt"
	"strings"

	"github.com/sha1n/ace-mcp-api/internal/domain"
)

const (
	// RetrievalLimit is the fixed number of results rendered by FormattedRetrieval.
	RetrievalLimit = 10

	// SnippetRunes is the number of content characters shown per result.
	SnippetRunes = 500
)

// FormattedRetrieval ranks candidates from all projects and renders a markdown digest
// of the top RetrievalLimit results. The ranked results are returned alongside the text.
func (e *Engine) FormattedRetrieval(ctx context.Context, query string, candidates []domain.Blob) (string, []Result, error) {
	results, err := e.RankedSearch(ctx, query, candidates, RetrievalLimit)
	if err != nil {
		return "", nil, err
	}
	return FormatDigest(query, results), results, nil
}

// FormatDigest renders ranked results as a markdown digest.
// Every snippet ends with "..." whether or not it was cut.
func FormatDigest(query string, results []Result) string {
	if len(results) == 0 {
		return fmt.Sprintf("No relevant code found for query: %s", query)
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Found %d relevant code snippets for '%s':\n\n", len(results), query))

	for i, r := range results {
		sb.WriteString(fmt.Sprintf("### %d. %s\n", i+1, r.Blob.FilePath))
		sb.WriteString("```\n")
		sb.WriteString(truncateRunes(r.Blob.Content, SnippetRunes))
		sb.WriteString("...\n")
		sb.WriteString("```\n\n")
	}

	return sb.String()
}

func truncateRunes(s string, n int) string {
	count := 0
	for i := range s {
		if count == n {
			return s[:i]
		}
		count++
	}
	return s
}
