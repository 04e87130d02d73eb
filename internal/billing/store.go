package billing

import (
	"context"
	"errors"
)

// ErrNotFound is returned when a requested record does not exist or exists
// but belongs to a different user. The two cases are deliberately
// indistinguishable so that lookups never leak the existence of other
// tenants' data.
var ErrNotFound = errors.New("record not found")

// ErrTerminalJob is returned by [JobStore.UpdateJob] when the stored job is
// already in a terminal status. Terminal jobs are immutable.
var ErrTerminalJob = errors.New("job is in a terminal status")

// ClientStore provides read access to a user's client list.
// Implementations must be safe for concurrent use.
type ClientStore interface {
	// ListClients returns all clients owned by userID. A user with no
	// clients yields an empty slice, not an error.
	ListClients(ctx context.Context, userID string) ([]Client, error)

	// GetClient retrieves a client by ID, scoped to userID.
	// Returns [ErrNotFound] when no such client is visible to the user.
	GetClient(ctx context.Context, userID, id string) (*Client, error)
}

// DocumentStore provides tenant-scoped access to billing documents.
// Contracts and invoices/estimates live in logically separate collections;
// implementations route on [Document.Type].
// Implementations must be safe for concurrent use.
type DocumentStore interface {
	// GetDocument retrieves a document by ID, scoped to userID.
	// Returns [ErrNotFound] when no such document is visible to the user.
	GetDocument(ctx context.Context, userID, id string) (*Document, error)

	// ListDocuments returns all of a client's documents owned by userID,
	// newest first. An empty docType matches all document types.
	ListDocuments(ctx context.Context, userID, clientID string, docType DocumentType) ([]Document, error)

	// InsertDocument persists a new document. The document's UserID must be
	// set; the ID must be unique.
	InsertDocument(ctx context.Context, doc *Document) error
}

// JobStore persists transform job audit records.
// Implementations must be safe for concurrent use.
type JobStore interface {
	// CreateJob inserts a new job row.
	CreateJob(ctx context.Context, job *TransformJob) error

	// GetJob retrieves a job by ID, scoped to userID.
	// Returns [ErrNotFound] when no such job is visible to the user.
	GetJob(ctx context.Context, userID, id string) (*TransformJob, error)

	// UpdateJob replaces the mutable fields (status, result document ID,
	// error message, updated-at) of an existing job. The update is
	// conditional: when the stored status is already terminal the store
	// refuses the write and returns [ErrTerminalJob], which keeps job
	// transitions monotonic even under concurrent callers.
	UpdateJob(ctx context.Context, job *TransformJob) error
}

// Store bundles the three record stores behind one handle so that callers can
// be constructed from a single injected dependency.
type Store interface {
	ClientStore
	DocumentStore
	JobStore
}
