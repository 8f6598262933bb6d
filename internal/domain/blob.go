package domain

import (
	"crypto/md5"
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"time"
)

// Blob represents one indexed fragment of source text.
// It is the primary record held by the blob store and mirrored into the full-text index.
type Blob struct {
	// Key is derived from (ProjectID, FilePath, StartLine). See BlobKey.
	Key string `json:"key"`

	// ProjectID is the partition key of the owning project.
	ProjectID string `json:"project_id"`

	// FilePath is the path reported by the client.
	// Example: "src/auth.py"
	FilePath string `json:"file_path"`

	// Content is the raw text of the fragment.
	Content string `json:"content"`

	StartLine int `json:"start_line"`
	EndLine   int `json:"end_line"`

	// Language is an optional client-supplied language tag.
	// Example: "python", "go"
	Language string `json:"language,omitempty"`

	IndexedAt time.Time `json:"indexed_at"`
}

// Project is the bookkeeping record for a blob namespace.
type Project struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"created_at"`

	// BlobCount is the number of distinct blob keys stored for the project.
	BlobCount int `json:"blob_count"`

	// LastIndexed is nil until the first blob is upserted.
	LastIndexed *time.Time `json:"last_indexed"`
}

// BlobKey returns the upsert key for a blob: the hex MD5 of "project:path:startLine".
// The key depends only on its three inputs, so re-indexing the same fragment replaces it.
func BlobKey(projectID, filePath string, startLine int) string {
	sum := md5.Sum([]byte(projectID + ":" + filePath + ":" + strconv.Itoa(startLine)))
	return hex.EncodeToString(sum[:])
}

// ReceiptID returns the content-addressed identifier handed back to clients after indexing.
// It is computed from the project and path only and is independent of BlobKey.
func ReceiptID(projectID, filePath string) string {
	sum := sha256.Sum256([]byte(projectID + ":" + filePath))
	return hex.EncodeToString(sum[:])
}

// Field name constants for consistent field references in index mappings, queries and payloads.
const (
	BlobFieldKey       = "key"
	BlobFieldProjectID = "project_id"
	BlobFieldFilePath  = "file_path"
	BlobFieldContent   = "content"
	BlobFieldLanguage  = "language"
)
