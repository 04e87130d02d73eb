package resolve

import (
	"context"
	"fmt"

	"github.com/voxledger/voxledger/internal/billing"
	"github.com/voxledger/voxledger/internal/similarity"
)

// Selector names the temporal selection rule applied when a client has more
// than one candidate document.
type Selector string

const (
	// SelectorLast picks the single most recently created matching document.
	SelectorLast Selector = "last"

	// SelectorLatest is a synonym for [SelectorLast].
	SelectorLatest Selector = "latest"

	// SelectorRecent also picks the most recent matching document; callers
	// may further filter the result by age.
	SelectorRecent Selector = "recent"
)

// IsValid reports whether s is a recognised selector. The empty selector is
// valid and behaves like [SelectorLast].
func (s Selector) IsValid() bool {
	switch s {
	case "", SelectorLast, SelectorLatest, SelectorRecent:
		return true
	}
	return false
}

// LocateResult is the outcome of a source-document search. The three
// outcomes a caller must tell apart are encoded as distinct field states:
//
//   - ClientNotFound true: the spoken name resolved to nothing usable;
//     Suggestions carries correction candidates.
//   - ClientNotFound false, Document nil: the client was found but has no
//     matching document. Not an error.
//   - Document non-nil: a source document was located.
type LocateResult struct {
	Document       *billing.Document `json:"document"`
	Resolution     Resolution        `json:"resolution"`
	ClientNotFound bool              `json:"client_not_found"`
	Suggestions    []Suggestion      `json:"suggestions,omitempty"`
}

// Locator finds candidate source documents for a transform by first resolving
// the spoken client name, then querying that client's documents. It is
// stateless and safe for concurrent use.
type Locator struct {
	resolver  *Resolver
	documents billing.DocumentStore
}

// NewLocator creates a [Locator] from a resolver and a document store.
func NewLocator(resolver *Resolver, documents billing.DocumentStore) *Locator {
	return &Locator{resolver: resolver, documents: documents}
}

// FindSourceDocument resolves clientName for userID and returns that client's
// most relevant document of docType according to selector. An empty docType
// matches every document type; contracts and invoices/estimates are searched
// in their own collections either way.
//
// When resolution yields no usable client, the result reports ClientNotFound
// and attaches suggestion candidates so the caller can offer corrections.
func (l *Locator) FindSourceDocument(ctx context.Context, userID, clientName string, docType billing.DocumentType, selector Selector) (*LocateResult, error) {
	if docType != "" && !docType.IsValid() {
		return nil, fmt.Errorf("resolve: unknown document type %q", docType)
	}
	if !selector.IsValid() {
		return nil, fmt.Errorf("resolve: unknown selector %q", selector)
	}

	res, err := l.resolver.ResolveClient(ctx, userID, clientName)
	if err != nil {
		return nil, err
	}
	if res.Client == nil || res.Confidence < similarity.ThresholdPossible {
		suggest, err := l.resolver.SuggestClients(ctx, userID, clientName, DefaultSuggestionLimit)
		if err != nil {
			return nil, err
		}
		return &LocateResult{
			ClientNotFound: true,
			Suggestions:    suggest.Suggestions,
		}, nil
	}

	docs, err := l.documents.ListDocuments(ctx, userID, res.Client.ID, docType)
	if err != nil {
		return nil, fmt.Errorf("resolve: list documents: %w", err)
	}
	result := &LocateResult{Resolution: res}
	if len(docs) == 0 {
		// The client exists but has no such document; distinct from an
		// unknown client and not an error.
		return result, nil
	}

	// All current selectors reduce to "most recent"; ListDocuments returns
	// newest first.
	best := docs[0]
	for _, d := range docs[1:] {
		if d.CreatedAt.After(best.CreatedAt) {
			best = d
		}
	}
	result.Document = &best
	return result, nil
}
