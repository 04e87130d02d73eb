// Package resolve maps free-text client names from voice transcripts onto
// stored client records, and locates the source documents a transform will
// operate on.
//
// Resolution is always tenant-scoped: every store read is bound to the
// requesting user ID, and a perfect textual match against another user's
// client is never returned.
//
// Ambiguity is data, not an error: a possible-but-unconfirmed match is
// reported through the NeedsConfirmation field so callers can ask a human,
// and an empty client list yields an empty result rather than a failure.
// Store failures, by contrast, propagate as errors so callers can tell
// "couldn't search" apart from "found nothing".
package resolve

import (
	"context"
	"fmt"
	"sort"

	"github.com/voxledger/voxledger/internal/billing"
	"github.com/voxledger/voxledger/internal/similarity"
)

// DefaultSuggestionLimit caps suggestion lists when the caller passes a
// non-positive limit.
const DefaultSuggestionLimit = 5

// Resolution is the outcome of resolving one spoken name.
// Lifetime is a single request; it is never persisted.
type Resolution struct {
	// Client is the best-matching client, or nil when nothing scored at or
	// above the possible-match threshold.
	Client *billing.Client `json:"client"`

	// Confidence is the similarity score of the selected client, 0 when
	// Client is nil.
	Confidence float64 `json:"confidence"`

	// NeedsConfirmation is true when the match fell into the possible band
	// and a human should confirm it before it is acted on.
	NeedsConfirmation bool `json:"needs_confirmation"`
}

// Suggestion is one ranked candidate offered for human disambiguation.
type Suggestion struct {
	ClientID   string  `json:"client_id"`
	Name       string  `json:"name"`
	Similarity float64 `json:"similarity"`
	Exact      bool    `json:"exact"`
}

// SuggestResult carries a ranked fuzzy suggestion list plus a separately
// detected exact (case/whitespace-insensitive) match, if any.
type SuggestResult struct {
	Suggestions []Suggestion `json:"suggestions"`
	ExactMatch  *Suggestion  `json:"exact_match"`
}

// Resolver ranks a user's clients against spoken names. All methods are safe
// for concurrent use; the client list is re-read from the store on every call
// and never cached across requests.
type Resolver struct {
	clients billing.ClientStore
	scorer  *similarity.Scorer
}

// NewResolver creates a [Resolver] over the given client store. When scorer
// is nil a default-configured scorer is used.
func NewResolver(clients billing.ClientStore, scorer *similarity.Scorer) *Resolver {
	if scorer == nil {
		scorer = similarity.New()
	}
	return &Resolver{clients: clients, scorer: scorer}
}

// ResolveClient finds the single best client match for spokenName among the
// user's clients.
//
// Outcome bands, by maximum similarity:
//   - >= [similarity.ThresholdConfident]: the client, no confirmation needed.
//   - in [[similarity.ThresholdPossible], [similarity.ThresholdConfident]):
//     the client with NeedsConfirmation set.
//   - below, or no clients at all: a nil client (not an error).
func (r *Resolver) ResolveClient(ctx context.Context, userID, spokenName string) (Resolution, error) {
	clients, err := r.clients.ListClients(ctx, userID)
	if err != nil {
		return Resolution{}, fmt.Errorf("resolve: list clients: %w", err)
	}

	var (
		best      *billing.Client
		bestScore float64
	)
	for i := range clients {
		score := r.scorer.Score(spokenName, clients[i].Name)
		if score > bestScore {
			best = &clients[i]
			bestScore = score
		}
	}

	if best == nil || bestScore < similarity.ThresholdPossible {
		return Resolution{}, nil
	}
	return Resolution{
		Client:            best,
		Confidence:        bestScore,
		NeedsConfirmation: bestScore < similarity.ThresholdConfident,
	}, nil
}

// SuggestClients returns up to limit fuzzy candidates for spokenName, sorted
// by descending similarity, floored at [similarity.ThresholdPossible].
//
// An exact case/whitespace-insensitive name equality is detected separately
// and reported as ExactMatch with similarity forced to 1, regardless of how
// other candidates score.
func (r *Resolver) SuggestClients(ctx context.Context, userID, spokenName string, limit int) (SuggestResult, error) {
	if limit <= 0 {
		limit = DefaultSuggestionLimit
	}

	clients, err := r.clients.ListClients(ctx, userID)
	if err != nil {
		return SuggestResult{}, fmt.Errorf("resolve: list clients: %w", err)
	}

	result := SuggestResult{Suggestions: []Suggestion{}}
	for _, c := range clients {
		if result.ExactMatch == nil && similarity.Exact(spokenName, c.Name) {
			result.ExactMatch = &Suggestion{
				ClientID:   c.ID,
				Name:       c.Name,
				Similarity: 1,
				Exact:      true,
			}
		}

		score := r.scorer.Score(spokenName, c.Name)
		if score < similarity.ThresholdPossible {
			continue
		}
		result.Suggestions = append(result.Suggestions, Suggestion{
			ClientID:   c.ID,
			Name:       c.Name,
			Similarity: score,
			Exact:      similarity.Exact(spokenName, c.Name),
		})
	}

	sort.SliceStable(result.Suggestions, func(i, j int) bool {
		return result.Suggestions[i].Similarity > result.Suggestions[j].Similarity
	})
	if len(result.Suggestions) > limit {
		result.Suggestions = result.Suggestions[:limit]
	}
	return result, nil
}
