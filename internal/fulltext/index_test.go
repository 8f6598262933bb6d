package fulltext

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sha1n/ace-mcp-api/internal/domain"
)

func newTestIndex(t *testing.T) *Index {
	t.Helper()
	idx, err := New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = idx.Close() })
	return idx
}

func blob(projectID, path, content string) domain.Blob {
	return domain.Blob{
		Key:       domain.BlobKey(projectID, path, 1),
		ProjectID: projectID,
		FilePath:  path,
		Content:   content,
		StartLine: 1,
	}
}

func TestIndex_SearchRestrictedToProject(t *testing.T) {
	idx := newTestIndex(t)
	ctx := context.Background()

	require.NoError(t, idx.Index(ctx, []domain.Blob{
		blob("acme", "src/auth.py", "def login(user): return session"),
		blob("other", "src/auth.py", "def login(user): return token"),
		blob("acme", "src/db.py", "def connect(): pass"),
	}))

	hits, err := idx.Search(ctx, "acme", "login", 10)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, domain.BlobKey("acme", "src/auth.py", 1), hits[0].Key)
	assert.Greater(t, hits[0].Score, 0.0)
}

func TestIndex_SearchMatchesPath(t *testing.T) {
	idx := newTestIndex(t)
	ctx := context.Background()

	require.NoError(t, idx.Index(ctx, []domain.Blob{
		blob("acme", "src/payments/stripe.go", "package billing"),
	}))

	hits, err := idx.Search(ctx, "acme", "payments", 10)
	require.NoError(t, err)
	assert.Len(t, hits, 1)
}

func TestIndex_SearchEdgeCases(t *testing.T) {
	idx := newTestIndex(t)
	ctx := context.Background()
	require.NoError(t, idx.Index(ctx, []domain.Blob{blob("acme", "a.go", "hello")}))

	tests := []struct {
		name  string
		query string
		limit int
	}{
		{name: "empty query", query: "  ", limit: 10},
		{name: "zero limit", query: "hello", limit: 0},
		{name: "negative limit", query: "hello", limit: -1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hits, err := idx.Search(ctx, "acme", tt.query, tt.limit)
			require.NoError(t, err)
			assert.Empty(t, hits)
		})
	}
}

func TestIndex_ReindexReplacesDocument(t *testing.T) {
	idx := newTestIndex(t)
	ctx := context.Background()

	require.NoError(t, idx.Index(ctx, []domain.Blob{blob("acme", "a.go", "alpha")}))
	require.NoError(t, idx.Index(ctx, []domain.Blob{blob("acme", "a.go", "beta")}))

	count, err := idx.DocCount()
	require.NoError(t, err)
	assert.Equal(t, uint64(1), count)

	hits, err := idx.Search(ctx, "acme", "alpha", 10)
	require.NoError(t, err)
	assert.Empty(t, hits)

	hits, err = idx.Search(ctx, "acme", "beta", 10)
	require.NoError(t, err)
	assert.Len(t, hits, 1)
}

func TestIndex_DeleteProject(t *testing.T) {
	idx := newTestIndex(t)
	ctx := context.Background()

	blobs := make([]domain.Blob, 0, 2*MaxBatchSize+5)
	for i := range 2*MaxBatchSize + 5 {
		blobs = append(blobs, blob("acme", fmt.Sprintf("f%d.go", i), "shared text"))
	}
	blobs = append(blobs, blob("other", "keep.go", "shared text"))
	require.NoError(t, idx.Index(ctx, blobs))

	deleted, err := idx.DeleteProject(ctx, "acme")
	require.NoError(t, err)
	assert.Equal(t, 2*MaxBatchSize+5, deleted)

	count, err := idx.DocCount()
	require.NoError(t, err)
	assert.Equal(t, uint64(1), count)

	deleted, err = idx.DeleteProject(ctx, "acme")
	require.NoError(t, err)
	assert.Equal(t, 0, deleted)
}

func TestIndex_Closed(t *testing.T) {
	idx, err := New()
	require.NoError(t, err)
	require.NoError(t, idx.Close())
	require.NoError(t, idx.Close())

	ctx := context.Background()
	assert.ErrorIs(t, idx.Index(ctx, []domain.Blob{blob("acme", "a", "b")}), ErrIndexClosed)

	_, err = idx.Search(ctx, "acme", "b", 10)
	assert.ErrorIs(t, err, ErrIndexClosed)

	_, err = idx.DeleteProject(ctx, "acme")
	assert.ErrorIs(t, err, ErrIndexClosed)

	_, err = idx.DocCount()
	assert.ErrorIs(t, err, ErrIndexClosed)
}

func TestCreateIndexMapping(t *testing.T) {
	m := CreateIndexMapping()
	require.NotNil(t, m)
	require.NoError(t, m.Validate())
}
