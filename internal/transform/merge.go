package transform

import (
	"github.com/voxledger/voxledger/internal/billing"
)

// mergeDocuments combines the line items of every source into one target
// document.
//
// Sources are independently selected — each slot was resolved on its own, so
// a merge may legitimately combine documents from different clients' history.
// The target client is the override when set, otherwise the first source's
// client.
//
// Combination rule: line items are concatenated in source-selection order and
// in original order within each source. Item IDs are regenerated to avoid
// collisions across sources, and a missing or non-finite item total is
// recomputed as quantity * rate before it contributes to the merged subtotal.
func (e *Engine) mergeDocuments(cfg Config, actorUserID string, sources []*billing.Document) *billing.Document {
	now := e.now()
	first := sources[0]

	doc := &billing.Document{
		ID:        e.newID(),
		UserID:    actorUserID,
		ClientID:  targetClient(cfg, first),
		Type:      targetType(cfg, first),
		Status:    billing.StatusDraft,
		TaxRate:   copyRate(first.TaxRate),
		CreatedAt: now,
	}
	doc.Number = e.numberFor(doc.Type, now)

	var items []billing.LineItem
	for _, src := range sources {
		items = append(items, e.normalizeItems(src.LineItems)...)
	}
	doc.LineItems = items

	recomputeAggregates(doc)
	return doc
}
