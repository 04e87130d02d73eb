package billing

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Compile-time assertion that MemStore satisfies the Store interface.
var _ Store = (*MemStore)(nil)

// MemStore is a thread-safe, in-memory implementation of [Store]. It backs
// local development (no database configured) and tests. The zero value is not
// ready to use; construct it with [NewMemStore].
type MemStore struct {
	mu      sync.RWMutex
	clients map[string]Client
	// Invoices/estimates and contracts are held in separate maps, mirroring
	// the separate collections of the production store.
	documents map[string]Document
	contracts map[string]Document
	jobs      map[string]TransformJob
}

// NewMemStore returns an initialised [MemStore].
func NewMemStore() *MemStore {
	return &MemStore{
		clients:   make(map[string]Client),
		documents: make(map[string]Document),
		contracts: make(map[string]Document),
		jobs:      make(map[string]TransformJob),
	}
}

// SeedClient inserts a client record directly. Intended for tests and for
// loading fixture data in in-memory mode.
func (s *MemStore) SeedClient(c Client) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clients[c.ID] = c
}

// SeedDocument inserts a document record directly. Intended for tests and for
// loading fixture data in in-memory mode.
func (s *MemStore) SeedDocument(d Document) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.collectionFor(d.Type)[d.ID] = d
}

// ListClients implements [ClientStore.ListClients].
func (s *MemStore) ListClients(ctx context.Context, userID string) ([]Client, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []Client
	for _, c := range s.clients {
		if c.UserID == userID {
			result = append(result, c)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Name < result[j].Name })
	return result, nil
}

// GetClient implements [ClientStore.GetClient].
func (s *MemStore) GetClient(ctx context.Context, userID, id string) (*Client, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.clients[id]
	if !ok || c.UserID != userID {
		return nil, ErrNotFound
	}
	return &c, nil
}

// GetDocument implements [DocumentStore.GetDocument].
func (s *MemStore) GetDocument(ctx context.Context, userID, id string) (*Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, coll := range []map[string]Document{s.documents, s.contracts} {
		if d, ok := coll[id]; ok {
			if d.UserID != userID {
				return nil, ErrNotFound
			}
			d.LineItems = cloneItems(d.LineItems)
			return &d, nil
		}
	}
	return nil, ErrNotFound
}

// ListDocuments implements [DocumentStore.ListDocuments].
func (s *MemStore) ListDocuments(ctx context.Context, userID, clientID string, docType DocumentType) ([]Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []Document
	for _, coll := range s.collectionsFor(docType) {
		for _, d := range coll {
			if d.UserID != userID || d.ClientID != clientID {
				continue
			}
			if docType != "" && d.Type != docType {
				continue
			}
			d.LineItems = cloneItems(d.LineItems)
			result = append(result, d)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt.After(result[j].CreatedAt) })
	return result, nil
}

// InsertDocument implements [DocumentStore.InsertDocument].
func (s *MemStore) InsertDocument(ctx context.Context, doc *Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	d := *doc
	d.LineItems = cloneItems(doc.LineItems)
	s.collectionFor(d.Type)[d.ID] = d
	return nil
}

// CreateJob implements [JobStore.CreateJob].
func (s *MemStore) CreateJob(ctx context.Context, job *TransformJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.jobs[job.ID] = *job
	return nil
}

// GetJob implements [JobStore.GetJob].
func (s *MemStore) GetJob(ctx context.Context, userID, id string) (*TransformJob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	j, ok := s.jobs[id]
	if !ok || j.UserID != userID {
		return nil, ErrNotFound
	}
	return &j, nil
}

// UpdateJob implements [JobStore.UpdateJob]. The write is refused with
// [ErrTerminalJob] when the stored job already reached a terminal status.
func (s *MemStore) UpdateJob(ctx context.Context, job *TransformJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.jobs[job.ID]
	if !ok || stored.UserID != job.UserID {
		return ErrNotFound
	}
	if stored.Status.Terminal() {
		return ErrTerminalJob
	}
	job.UpdatedAt = time.Now().UTC()
	s.jobs[job.ID] = *job
	return nil
}

// collectionFor returns the map a document of type t is stored in.
func (s *MemStore) collectionFor(t DocumentType) map[string]Document {
	if t == DocumentContract {
		return s.contracts
	}
	return s.documents
}

// collectionsFor returns the maps to scan for documents of type t. An empty
// type scans both collections.
func (s *MemStore) collectionsFor(t DocumentType) []map[string]Document {
	switch t {
	case DocumentContract:
		return []map[string]Document{s.contracts}
	case "":
		return []map[string]Document{s.documents, s.contracts}
	default:
		return []map[string]Document{s.documents}
	}
}

// cloneItems deep-copies a line item slice so callers can never mutate stored
// state through a returned document.
func cloneItems(items []LineItem) []LineItem {
	if items == nil {
		return nil
	}
	out := make([]LineItem, len(items))
	copy(out, items)
	return out
}
