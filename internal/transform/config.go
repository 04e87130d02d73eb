// Package transform derives new billing documents from existing ones and
// tracks each derivation through a persisted [billing.TransformJob].
//
// Three operations are supported:
//
//   - clone: deep-copy one document into a fresh draft.
//   - statusChange: copy one document with its status (and the status-coupled
//     timestamp) overwritten.
//   - merge: combine the line items of two or more independently selected
//     documents into one target document.
//
// The engine is stateless between requests: every execution re-reads its
// inputs from the store, re-validates document ownership, and holds no lock
// across store I/O. Job state transitions are monotonic; cancellation is
// cooperative and checked between discrete steps, never mid-write.
package transform

import (
	"errors"
	"fmt"

	"github.com/voxledger/voxledger/internal/billing"
)

// Operation names a document transform.
type Operation string

const (
	OperationClone        Operation = "clone"
	OperationMerge        Operation = "merge"
	OperationStatusChange Operation = "statusChange"
)

// IsValid reports whether o is a recognised operation.
func (o Operation) IsValid() bool {
	switch o {
	case OperationClone, OperationMerge, OperationStatusChange:
		return true
	}
	return false
}

// Config describes one requested transform. It is caller-constructed and
// validated by the engine before any job record is created.
type Config struct {
	Operation Operation `json:"operation"`

	// SourceDocumentID selects the single source for clone and statusChange.
	SourceDocumentID string `json:"source_document_id,omitempty"`

	// SourceDocumentIDs selects the ordered merge sources. Every slot must
	// hold a chosen document ID; an unresolved slot fails validation rather
	// than producing a partial merge.
	SourceDocumentIDs []string `json:"source_document_ids,omitempty"`

	// SourceDocumentType is the type the sources are expected to have.
	SourceDocumentType billing.DocumentType `json:"source_document_type"`

	// TargetDocumentType optionally retypes the derived document
	// (e.g. estimate → invoice). Empty keeps the source type.
	TargetDocumentType billing.DocumentType `json:"target_document_type,omitempty"`

	// TargetStatus is the status written by statusChange. Required for that
	// operation, ignored otherwise.
	TargetStatus billing.DocumentStatus `json:"target_status,omitempty"`

	// ClientOverride optionally reassigns the derived document to another
	// client of the same user.
	ClientOverride string `json:"client_override,omitempty"`
}

// Validate checks the structural integrity of the config. A non-nil return is
// always a [*ValidationError]; no audit record may be created for a config
// that fails here.
func (c Config) Validate() error {
	var errs []error

	if !c.Operation.IsValid() {
		errs = append(errs, fmt.Errorf("operation %q is invalid; valid values: clone, merge, statusChange", c.Operation))
	}
	if c.SourceDocumentType == "" {
		errs = append(errs, errors.New("source_document_type is required"))
	} else if !c.SourceDocumentType.IsValid() {
		errs = append(errs, fmt.Errorf("source_document_type %q is invalid; valid values: invoice, estimate, contract", c.SourceDocumentType))
	}
	if c.TargetDocumentType != "" && !c.TargetDocumentType.IsValid() {
		errs = append(errs, fmt.Errorf("target_document_type %q is invalid", c.TargetDocumentType))
	}

	switch c.Operation {
	case OperationClone, OperationStatusChange:
		if c.SourceDocumentID == "" {
			errs = append(errs, fmt.Errorf("source_document_id is required for %s", c.Operation))
		}
		if len(c.SourceDocumentIDs) > 0 {
			errs = append(errs, fmt.Errorf("source_document_ids must be empty for %s", c.Operation))
		}
	case OperationMerge:
		if c.SourceDocumentID != "" {
			errs = append(errs, errors.New("source_document_id must be empty for merge; use source_document_ids"))
		}
		if len(c.SourceDocumentIDs) < 2 {
			errs = append(errs, fmt.Errorf("merge requires at least 2 source_document_ids, got %d", len(c.SourceDocumentIDs)))
		}
		for i, id := range c.SourceDocumentIDs {
			if id == "" {
				errs = append(errs, fmt.Errorf("source_document_ids[%d] is unresolved; every merge slot must have a chosen document", i))
			}
		}
	}

	if c.Operation == OperationStatusChange {
		if c.TargetStatus == "" {
			errs = append(errs, errors.New("target_status is required for statusChange"))
		} else if !c.TargetStatus.IsValid() {
			errs = append(errs, fmt.Errorf("target_status %q is invalid", c.TargetStatus))
		}
	}

	if len(errs) == 0 {
		return nil
	}
	return &ValidationError{err: errors.Join(errs...)}
}

// sourceIDs returns the source document IDs in execution order, regardless of
// operation.
func (c Config) sourceIDs() []string {
	if c.Operation == OperationMerge {
		return c.SourceDocumentIDs
	}
	return []string{c.SourceDocumentID}
}
