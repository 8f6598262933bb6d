// Package blobstore holds indexed code blobs in memory, partitioned by project.
//
// A single Store is created at startup and shared by every request handler.
// All state lives in process memory and is lost on restart.
package blobstore

import (
	"errors"
	"slices"
	"sync"
	"time"

	"github.com/sha1n/ace-mcp-api/internal/domain"
)

var (
	// ErrProjectNotFound indicates that no project exists with the requested id.
	ErrProjectNotFound = errors.New("project not found")

	// ErrBlobNotFound indicates that no blob exists with the requested key.
	ErrBlobNotFound = errors.New("blob not found")
)

// BlobInput is a blob as supplied by a caller, before the store assigns its key and timestamp.
type BlobInput struct {
	FilePath  string
	Content   string
	StartLine int
	EndLine   int
	Language  string
}

// Stats summarizes the store contents.
type Stats struct {
	Projects int `json:"projects"`
	Blobs    int `json:"blobs"`
}

type entry struct {
	seq  uint64
	blob domain.Blob
}

type projectEntry struct {
	seq     uint64
	project domain.Project
	keys    map[string]struct{}
}

// Store is a concurrency-safe in-memory blob store.
// One RWMutex guards blobs, projects and counters together so that a key write and the
// project counter update are observed atomically.
type Store struct {
	mu       sync.RWMutex
	blobs    map[string]*entry
	projects map[string]*projectEntry
	seq      uint64
	version  uint64
	now      func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithClock sets the time source used for created/indexed timestamps.
// Default is time.Now in UTC.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// New creates an empty store.
func New(opts ...Option) *Store {
	s := &Store{
		blobs:    make(map[string]*entry),
		projects: make(map[string]*projectEntry),
		now:      func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Upsert stores a blob under the key derived from (projectID, FilePath, StartLine), replacing
// any previous blob with that key. The owning project is created on first use.
// The project's blob count only grows when the key is new; an overwrite keeps the blob's
// original position in scan order.
func (s *Store) Upsert(projectID string, in BlobInput) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.upsertLocked(projectID, in, s.now())
}

// BulkUpsert applies Upsert to each blob in order and returns the keys in the same order.
// Each blob is applied independently; there is no cross-blob atomicity.
func (s *Store) BulkUpsert(projectID string, in []BlobInput) []string {
	keys := make([]string, 0, len(in))
	for _, b := range in {
		keys = append(keys, s.Upsert(projectID, b))
	}
	return keys
}

func (s *Store) upsertLocked(projectID string, in BlobInput, now time.Time) string {
	p := s.ensureProjectLocked(projectID, now)

	key := domain.BlobKey(projectID, in.FilePath, in.StartLine)
	blob := domain.Blob{
		Key:       key,
		ProjectID: projectID,
		FilePath:  in.FilePath,
		Content:   in.Content,
		StartLine: in.StartLine,
		EndLine:   in.EndLine,
		Language:  in.Language,
		IndexedAt: now,
	}

	if e, ok := s.blobs[key]; ok {
		// Distinct (project, path, line) triples can share a key when ids or paths
		// contain ':'. The key then changes owner.
		if prev := e.blob.ProjectID; prev != projectID {
			if old, ok := s.projects[prev]; ok {
				delete(old.keys, key)
				old.project.BlobCount--
			}
			p.keys[key] = struct{}{}
			p.project.BlobCount++
		}
		e.blob = blob
	} else {
		s.seq++
		s.blobs[key] = &entry{seq: s.seq, blob: blob}
		p.keys[key] = struct{}{}
		p.project.BlobCount++
	}

	indexed := now
	p.project.LastIndexed = &indexed
	s.version++

	return key
}

func (s *Store) ensureProjectLocked(projectID string, now time.Time) *projectEntry {
	if p, ok := s.projects[projectID]; ok {
		return p
	}
	s.seq++
	p := &projectEntry{
		seq: s.seq,
		project: domain.Project{
			ID:        projectID,
			CreatedAt: now,
		},
		keys: make(map[string]struct{}),
	}
	s.projects[projectID] = p
	return p
}

// ScanByProject returns every blob of the project in insertion order.
// An unknown project yields an empty slice.
func (s *Store) ScanByProject(projectID string) []domain.Blob {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.projects[projectID]
	if !ok {
		return []domain.Blob{}
	}

	entries := make([]*entry, 0, len(p.keys))
	for key := range p.keys {
		entries = append(entries, s.blobs[key])
	}
	return sortedBlobs(entries)
}

// ScanAll returns every blob in the store in insertion order.
// Each blob carries its ProjectID.
func (s *Store) ScanAll() []domain.Blob {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries := make([]*entry, 0, len(s.blobs))
	for _, e := range s.blobs {
		entries = append(entries, e)
	}
	return sortedBlobs(entries)
}

func sortedBlobs(entries []*entry) []domain.Blob {
	slices.SortFunc(entries, func(a, b *entry) int {
		switch {
		case a.seq < b.seq:
			return -1
		case a.seq > b.seq:
			return 1
		}
		return 0
	})

	blobs := make([]domain.Blob, len(entries))
	for i, e := range entries {
		blobs[i] = e.blob
	}
	return blobs
}

// GetBlob returns the blob stored under key.
func (s *Store) GetBlob(key string) (domain.Blob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.blobs[key]
	if !ok {
		return domain.Blob{}, ErrBlobNotFound
	}
	return e.blob, nil
}

// DeleteProject removes the project and all of its blobs and returns how many blobs were removed.
// It returns 0 when the project does not exist; use GetProject to tell the cases apart.
func (s *Store) DeleteProject(projectID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.projects[projectID]
	if !ok {
		return 0
	}

	for key := range p.keys {
		delete(s.blobs, key)
	}
	delete(s.projects, projectID)
	s.version++

	return len(p.keys)
}

// GetProject returns a copy of the project record.
func (s *Store) GetProject(projectID string) (domain.Project, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.projects[projectID]
	if !ok {
		return domain.Project{}, ErrProjectNotFound
	}
	return p.project, nil
}

// ListProjects returns all projects in creation order.
func (s *Store) ListProjects() []domain.Project {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries := make([]*projectEntry, 0, len(s.projects))
	for _, p := range s.projects {
		entries = append(entries, p)
	}
	slices.SortFunc(entries, func(a, b *projectEntry) int {
		switch {
		case a.seq < b.seq:
			return -1
		case a.seq > b.seq:
			return 1
		}
		return 0
	})

	projects := make([]domain.Project, len(entries))
	for i, p := range entries {
		projects[i] = p.project
	}
	return projects
}

// Stats returns the number of projects and blobs currently stored.
func (s *Store) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Stats{Projects: len(s.projects), Blobs: len(s.blobs)}
}

// Version returns a counter that changes on every mutation.
// Readers use it to detect that cached results derived from the store are stale.
func (s *Store) Version() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.version
}
