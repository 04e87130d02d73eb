package resolve_test

import (
	"context"
	"errors"
	"testing"

	"github.com/voxledger/voxledger/internal/billing"
	"github.com/voxledger/voxledger/internal/resolve"
)

func seededStore() *billing.MemStore {
	store := billing.NewMemStore()
	store.SeedClient(billing.Client{ID: "C1", UserID: "U1", Name: "Johnathan Reyes"})
	store.SeedClient(billing.Client{ID: "C2", UserID: "U1", Name: "Maria Lopez"})
	// Another tenant's client with a name that would match perfectly.
	store.SeedClient(billing.Client{ID: "C9", UserID: "U2", Name: "Johnathan Reyes"})
	return store
}

func TestResolveClient_ConfidentMatch(t *testing.T) {
	t.Parallel()

	r := resolve.NewResolver(seededStore(), nil)

	res, err := r.ResolveClient(context.Background(), "U1", "jonathan reyes")
	if err != nil {
		t.Fatalf("ResolveClient: %v", err)
	}
	if res.Client == nil || res.Client.ID != "C1" {
		t.Fatalf("ResolveClient: client = %+v, want C1", res.Client)
	}
	if res.NeedsConfirmation {
		t.Errorf("ResolveClient: needs_confirmation = true, want false (confidence %f)", res.Confidence)
	}
	if res.Confidence < 0.7 {
		t.Errorf("ResolveClient: confidence = %f, want >= 0.7", res.Confidence)
	}
}

func TestResolveClient_PossibleMatchNeedsConfirmation(t *testing.T) {
	t.Parallel()

	r := resolve.NewResolver(seededStore(), nil)

	res, err := r.ResolveClient(context.Background(), "U1", "jon reys")
	if err != nil {
		t.Fatalf("ResolveClient: %v", err)
	}
	if res.Client == nil || res.Client.ID != "C1" {
		t.Fatalf("ResolveClient: client = %+v, want C1", res.Client)
	}
	if !res.NeedsConfirmation {
		t.Errorf("ResolveClient: needs_confirmation = false, want true (confidence %f)", res.Confidence)
	}
	if res.Confidence < 0.3 || res.Confidence >= 0.7 {
		t.Errorf("ResolveClient: confidence = %f, want in [0.3, 0.7)", res.Confidence)
	}
}

func TestResolveClient_NoMatch(t *testing.T) {
	t.Parallel()

	r := resolve.NewResolver(seededStore(), nil)

	res, err := r.ResolveClient(context.Background(), "U1", "xyz corp")
	if err != nil {
		t.Fatalf("ResolveClient: %v", err)
	}
	if res.Client != nil {
		t.Errorf("ResolveClient: client = %+v, want nil", res.Client)
	}
}

func TestResolveClient_TenantIsolation(t *testing.T) {
	t.Parallel()

	store := billing.NewMemStore()
	store.SeedClient(billing.Client{ID: "C9", UserID: "U2", Name: "Johnathan Reyes"})
	r := resolve.NewResolver(store, nil)

	// U1 has no clients; a perfect textual match owned by U2 must not leak.
	res, err := r.ResolveClient(context.Background(), "U1", "Johnathan Reyes")
	if err != nil {
		t.Fatalf("ResolveClient: %v", err)
	}
	if res.Client != nil {
		t.Errorf("ResolveClient leaked another tenant's client: %+v", res.Client)
	}
}

func TestResolveClient_ZeroClientsIsNotAnError(t *testing.T) {
	t.Parallel()

	r := resolve.NewResolver(billing.NewMemStore(), nil)

	res, err := r.ResolveClient(context.Background(), "U1", "anyone")
	if err != nil {
		t.Fatalf("ResolveClient with zero clients: %v", err)
	}
	if res.Client != nil || res.Confidence != 0 {
		t.Errorf("ResolveClient = %+v, want empty resolution", res)
	}
}

// failingClientStore simulates an unreachable record store.
type failingClientStore struct{}

func (failingClientStore) ListClients(ctx context.Context, userID string) ([]billing.Client, error) {
	return nil, errors.New("store unreachable")
}

func (failingClientStore) GetClient(ctx context.Context, userID, id string) (*billing.Client, error) {
	return nil, errors.New("store unreachable")
}

func TestResolveClient_StoreFailurePropagates(t *testing.T) {
	t.Parallel()

	r := resolve.NewResolver(failingClientStore{}, nil)

	if _, err := r.ResolveClient(context.Background(), "U1", "maria"); err == nil {
		t.Fatal("ResolveClient: want error from failing store, got nil")
	}
}

func TestSuggestClients_ExactMatchDetection(t *testing.T) {
	t.Parallel()

	r := resolve.NewResolver(seededStore(), nil)

	res, err := r.SuggestClients(context.Background(), "U1", "  maria   LOPEZ ", 5)
	if err != nil {
		t.Fatalf("SuggestClients: %v", err)
	}
	if res.ExactMatch == nil {
		t.Fatal("SuggestClients: exact_match = nil, want C2")
	}
	if res.ExactMatch.ClientID != "C2" {
		t.Errorf("SuggestClients: exact_match.client_id = %q, want C2", res.ExactMatch.ClientID)
	}
	if res.ExactMatch.Similarity != 1 {
		t.Errorf("SuggestClients: exact_match.similarity = %f, want 1", res.ExactMatch.Similarity)
	}
}

func TestSuggestClients_RankedAndTruncated(t *testing.T) {
	t.Parallel()

	store := billing.NewMemStore()
	store.SeedClient(billing.Client{ID: "C1", UserID: "U1", Name: "Johnathan Reyes"})
	store.SeedClient(billing.Client{ID: "C2", UserID: "U1", Name: "Jonathan Rice"})
	store.SeedClient(billing.Client{ID: "C3", UserID: "U1", Name: "John Ray"})
	store.SeedClient(billing.Client{ID: "C4", UserID: "U1", Name: "Completely Different Inc"})
	r := resolve.NewResolver(store, nil)

	res, err := r.SuggestClients(context.Background(), "U1", "jonathan reyes", 2)
	if err != nil {
		t.Fatalf("SuggestClients: %v", err)
	}
	if len(res.Suggestions) != 2 {
		t.Fatalf("SuggestClients: %d suggestions, want 2 (truncated)", len(res.Suggestions))
	}
	if res.Suggestions[0].Similarity < res.Suggestions[1].Similarity {
		t.Errorf("SuggestClients: not sorted descending: %f then %f",
			res.Suggestions[0].Similarity, res.Suggestions[1].Similarity)
	}
	if res.Suggestions[0].ClientID != "C1" {
		t.Errorf("SuggestClients: top suggestion = %q, want C1", res.Suggestions[0].ClientID)
	}
}

func TestSuggestClients_EmptyListForNoClients(t *testing.T) {
	t.Parallel()

	r := resolve.NewResolver(billing.NewMemStore(), nil)

	res, err := r.SuggestClients(context.Background(), "U1", "maria", 0)
	if err != nil {
		t.Fatalf("SuggestClients: %v", err)
	}
	if len(res.Suggestions) != 0 || res.ExactMatch != nil {
		t.Errorf("SuggestClients = %+v, want empty result", res)
	}
}
