// Package billing defines the document transform domain model for voxledger:
// clients, billing documents (invoices, estimates, contracts) with their line
// items, and the transform job audit record.
//
// The package also declares the tenant-scoped store interfaces consumed by the
// resolver and the transform engine, together with two implementations:
//
//   - [MemStore] — an in-memory store for tests and single-process development.
//   - [PostgresStore] — a pgx-backed store for production deployments.
//
// Every read and write is scoped to a user ID. Ownership equality is the sole
// tenant-isolation mechanism: a record that exists but belongs to another user
// is reported exactly like a record that does not exist.
package billing

import (
	"math"
	"time"
)

// CurrencyPrecision is the number of decimal places kept for all monetary
// amounts.
const CurrencyPrecision = 2

// RoundCurrency rounds v to [CurrencyPrecision] decimal places, half away
// from zero.
func RoundCurrency(v float64) float64 {
	const shift = 100 // 10^CurrencyPrecision
	return math.Round(v*shift) / shift
}

// DocumentType classifies a billing document.
type DocumentType string

const (
	DocumentInvoice  DocumentType = "invoice"
	DocumentEstimate DocumentType = "estimate"
	DocumentContract DocumentType = "contract"
)

// IsValid reports whether t is a recognised document type.
func (t DocumentType) IsValid() bool {
	switch t {
	case DocumentInvoice, DocumentEstimate, DocumentContract:
		return true
	}
	return false
}

// DocumentStatus labels a document's lifecycle position. The transform engine
// reads and writes it as plain data; no state machine governs it here.
type DocumentStatus string

const (
	StatusDraft     DocumentStatus = "draft"
	StatusSent      DocumentStatus = "sent"
	StatusPending   DocumentStatus = "pending"
	StatusPaid      DocumentStatus = "paid"
	StatusOverdue   DocumentStatus = "overdue"
	StatusSigned    DocumentStatus = "signed"
	StatusCancelled DocumentStatus = "cancelled"
)

// IsValid reports whether s is a recognised document status.
func (s DocumentStatus) IsValid() bool {
	switch s {
	case StatusDraft, StatusSent, StatusPending, StatusPaid,
		StatusOverdue, StatusSigned, StatusCancelled:
		return true
	}
	return false
}

// Client is a customer record owned by a user. Identity is exact-match only;
// the name may be fuzzy-matched during resolution. This core never mutates
// client records.
type Client struct {
	ID      string `json:"id"`
	UserID  string `json:"user_id"`
	Name    string `json:"name"`
	Email   string `json:"email,omitempty"`
	Phone   string `json:"phone,omitempty"`
	Address string `json:"address,omitempty"`
}

// LineItem is a single billable line on a document.
//
// Invariant at persistence time: Total == RoundCurrency(Quantity * Rate).
// Derivation code must recompute Total rather than trust a copied value
// whenever any component changed.
type LineItem struct {
	ID          string  `json:"id"`
	Description string  `json:"description"`
	Quantity    float64 `json:"quantity"`
	Unit        string  `json:"unit,omitempty"`
	Rate        float64 `json:"rate"`
	Total       float64 `json:"total"`
}

// Document is a billing document (invoice, estimate, or contract) owned by a
// user and referencing one of their clients.
type Document struct {
	ID        string         `json:"id"`
	UserID    string         `json:"user_id"`
	ClientID  string         `json:"client_id"`
	Type      DocumentType   `json:"document_type"`
	Status    DocumentStatus `json:"status"`
	Number    string         `json:"number"`
	LineItems []LineItem     `json:"line_items"`
	Subtotal  float64        `json:"subtotal"`
	TaxRate   *float64       `json:"tax_rate,omitempty"`
	TaxAmount float64        `json:"tax_amount"`
	Total     float64        `json:"total"`
	CreatedAt time.Time      `json:"created_at"`
	SentAt    *time.Time     `json:"sent_at,omitempty"`
	PaidAt    *time.Time     `json:"paid_at,omitempty"`
	SignedAt  *time.Time     `json:"signed_at,omitempty"`
}

// JobStatus is the lifecycle state of a [TransformJob].
type JobStatus string

const (
	JobQueued    JobStatus = "queued"
	JobRunning   JobStatus = "running"
	JobCompleted JobStatus = "completed"
	JobFailed    JobStatus = "failed"
	JobCancelled JobStatus = "cancelled"
)

// IsValid reports whether s is a recognised job status.
func (s JobStatus) IsValid() bool {
	switch s {
	case JobQueued, JobRunning, JobCompleted, JobFailed, JobCancelled:
		return true
	}
	return false
}

// Terminal reports whether s is a final state. Terminal jobs are immutable.
func (s JobStatus) Terminal() bool {
	return s == JobCompleted || s == JobFailed || s == JobCancelled
}

// TransformJob is the persisted audit record tracking one transform's
// lifecycle. It is created when a transform is requested, owned by the
// requesting user, and mutated only by the transform engine. Status
// transitions are monotonic; once a terminal status is stored the job never
// changes again.
type TransformJob struct {
	ID               string    `json:"id"`
	UserID           string    `json:"user_id"`
	Status           JobStatus `json:"status"`
	Config           []byte    `json:"config"`
	ResultDocumentID string    `json:"result_document_id,omitempty"`
	Error            string    `json:"error,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}
