package transform

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/voxledger/voxledger/internal/billing"
)

// deriveDocument computes the target document for cfg from the fetched
// sources. It is pure: no store access, no mutation of the sources.
func (e *Engine) deriveDocument(cfg Config, actorUserID string, sources []*billing.Document) (*billing.Document, error) {
	switch cfg.Operation {
	case OperationClone:
		return e.cloneDocument(cfg, actorUserID, sources[0]), nil
	case OperationStatusChange:
		return e.changeStatus(cfg, actorUserID, sources[0]), nil
	case OperationMerge:
		return e.mergeDocuments(cfg, actorUserID, sources), nil
	default:
		return nil, fmt.Errorf("unsupported operation %q", cfg.Operation)
	}
}

// cloneDocument deep-copies a source into a fresh draft: new document ID and
// number, status reset to draft, payment/sent/signed timestamps zeroed.
func (e *Engine) cloneDocument(cfg Config, actorUserID string, src *billing.Document) *billing.Document {
	now := e.now()
	doc := &billing.Document{
		ID:        e.newID(),
		UserID:    actorUserID,
		ClientID:  targetClient(cfg, src),
		Type:      targetType(cfg, src),
		Status:    billing.StatusDraft,
		LineItems: e.normalizeItems(src.LineItems),
		TaxRate:   copyRate(src.TaxRate),
		CreatedAt: now,
	}
	doc.Number = e.numberFor(doc.Type, now)
	recomputeAggregates(doc)
	return doc
}

// changeStatus copies the full source document, overwrites the status, and
// stamps the status-coupled timestamp (paid_at for paid, sent_at for sent,
// signed_at for signed).
func (e *Engine) changeStatus(cfg Config, actorUserID string, src *billing.Document) *billing.Document {
	now := e.now()
	doc := &billing.Document{
		ID:        e.newID(),
		UserID:    actorUserID,
		ClientID:  targetClient(cfg, src),
		Type:      targetType(cfg, src),
		Status:    cfg.TargetStatus,
		LineItems: e.normalizeItems(src.LineItems),
		TaxRate:   copyRate(src.TaxRate),
		CreatedAt: now,
		SentAt:    copyTime(src.SentAt),
		PaidAt:    copyTime(src.PaidAt),
		SignedAt:  copyTime(src.SignedAt),
	}
	doc.Number = e.numberFor(doc.Type, now)

	switch cfg.TargetStatus {
	case billing.StatusPaid:
		doc.PaidAt = &now
	case billing.StatusSent:
		doc.SentAt = &now
	case billing.StatusSigned:
		doc.SignedAt = &now
	}

	recomputeAggregates(doc)
	return doc
}

// normalizeItems deep-copies line items for a derived document. Each item
// receives a regenerated ID so items can never collide across source
// documents. A missing or non-finite total is recomputed as quantity * rate.
func (e *Engine) normalizeItems(items []billing.LineItem) []billing.LineItem {
	out := make([]billing.LineItem, 0, len(items))
	for _, item := range items {
		item.ID = e.newID()
		if item.Total == 0 || math.IsNaN(item.Total) || math.IsInf(item.Total, 0) {
			item.Total = billing.RoundCurrency(item.Quantity * item.Rate)
		}
		out = append(out, item)
	}
	return out
}

// recomputeAggregates derives subtotal, tax amount, and total from the final
// line items. Stored aggregates on the sources are never trusted.
func recomputeAggregates(doc *billing.Document) {
	var subtotal float64
	for _, item := range doc.LineItems {
		subtotal += item.Total
	}
	doc.Subtotal = billing.RoundCurrency(subtotal)

	doc.TaxAmount = 0
	if doc.TaxRate != nil {
		doc.TaxAmount = billing.RoundCurrency(doc.Subtotal * *doc.TaxRate)
	}
	doc.Total = billing.RoundCurrency(doc.Subtotal + doc.TaxAmount)
}

// numberFor generates a human-readable document number, e.g.
// "INV-20260831-1A2B3C4D".
func (e *Engine) numberFor(t billing.DocumentType, now time.Time) string {
	prefix := "DOC"
	switch t {
	case billing.DocumentInvoice:
		prefix = "INV"
	case billing.DocumentEstimate:
		prefix = "EST"
	case billing.DocumentContract:
		prefix = "CON"
	}
	suffix := strings.ToUpper(strings.ReplaceAll(e.newID(), "-", ""))
	if len(suffix) > 8 {
		suffix = suffix[:8]
	}
	return fmt.Sprintf("%s-%s-%s", prefix, now.Format("20060102"), suffix)
}

// targetType resolves the derived document's type.
func targetType(cfg Config, src *billing.Document) billing.DocumentType {
	if cfg.TargetDocumentType != "" {
		return cfg.TargetDocumentType
	}
	return src.Type
}

// targetClient resolves the derived document's client.
func targetClient(cfg Config, src *billing.Document) string {
	if cfg.ClientOverride != "" {
		return cfg.ClientOverride
	}
	return src.ClientID
}

func copyRate(r *float64) *float64 {
	if r == nil {
		return nil
	}
	v := *r
	return &v
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
