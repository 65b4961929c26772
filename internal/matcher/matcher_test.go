package matcher

import (
	"context"
	"testing"

	"github.com/hrabal/negsort/internal/registry/registrytest"
)

func unitVector(dim int, hot int) []float32 {
	v := make([]float32, dim)
	v[hot] = 1.0
	return v
}

// nudge returns a unit vector close to the hot-index basis vector, by
// distance approximately 2*sin(theta/2) for a small rotation toward axis other.
func nudge(dim, hot, other int, amount float32) []float32 {
	v := make([]float32, dim)
	v[hot] = 1 - amount
	v[other] = amount
	return normalize(v)
}

func TestMatch_StrictMatchLearnsEmbedding(t *testing.T) {
	reg := registrytest.New()
	ctx := context.Background()

	personID, err := reg.AddPerson(ctx, "Alice", "alice", unitVector(512, 0))
	if err != nil {
		t.Fatalf("AddPerson: %v", err)
	}

	m := New(reg, nil)

	probe := nudge(512, 0, 1, 0.05) // small perturbation, well within strict threshold
	result, err := m.Match(ctx, probe, true)
	if err != nil {
		t.Fatalf("Match: %v", err)
	}
	if result.Type != Strict {
		t.Fatalf("expected strict match, got %s (distance %f)", result.Type, result.Distance)
	}
	if result.PersonID == nil || *result.PersonID != personID {
		t.Fatalf("expected match to person %d, got %v", personID, result.PersonID)
	}
	if got := reg.EmbeddingCount(personID); got != 2 {
		t.Errorf("expected 2 embeddings after learning (reference + learned), got %d", got)
	}
}

func TestMatch_LooseMatchDoesNotLearn(t *testing.T) {
	reg := registrytest.New()
	ctx := context.Background()

	personID, err := reg.AddPerson(ctx, "Alice", "alice", unitVector(512, 0))
	if err != nil {
		t.Fatalf("AddPerson: %v", err)
	}

	m := New(reg, nil)

	// nudge with amount 0.6 rotates about 56 degrees toward axis 1
	// (atan(0.6/0.4)), giving euclidean distance ~0.94 on unit vectors,
	// inside the loose band (0.80, 1.00].
	probe := nudge(512, 0, 1, 0.6)
	result, err := m.Match(ctx, probe, true)
	if err != nil {
		t.Fatalf("Match: %v", err)
	}
	if result.Type == Strict {
		t.Fatalf("expected a non-strict match, got strict (distance %f)", result.Distance)
	}
	if result.Type == Loose {
		if got := reg.EmbeddingCount(personID); got != 1 {
			t.Errorf("loose match must not learn, embedding count = %d, want 1", got)
		}
	}
}

func TestMatch_UnknownWhenNoPersonsRegistered(t *testing.T) {
	reg := registrytest.New()
	m := New(reg, nil)

	result, err := m.Match(context.Background(), unitVector(512, 0), true)
	if err != nil {
		t.Fatalf("Match: %v", err)
	}
	if result.Type != Unknown {
		t.Errorf("expected unknown with empty registry, got %s", result.Type)
	}
}

func TestMatch_OppositeVectorIsUnknown(t *testing.T) {
	reg := registrytest.New()
	ctx := context.Background()
	_, _ = reg.AddPerson(ctx, "Alice", "alice", unitVector(512, 0))

	m := New(reg, nil)

	opposite := unitVector(512, 0)
	opposite[0] = -1

	result, err := m.Match(ctx, opposite, true)
	if err != nil {
		t.Fatalf("Match: %v", err)
	}
	if result.Type != Unknown {
		t.Errorf("expected unknown for opposite vector, got %s (distance %f)", result.Type, result.Distance)
	}
}

func TestMatch_TieBreakLowestPersonIDWins(t *testing.T) {
	reg := registrytest.New()
	ctx := context.Background()

	// Two persons with identical centroids: lowest person_id must win.
	firstID, _ := reg.AddPerson(ctx, "Alice", "alice", unitVector(512, 0))
	_, _ = reg.AddPerson(ctx, "Bob", "bob", unitVector(512, 0))

	m := New(reg, nil)
	result, err := m.Match(ctx, unitVector(512, 0), false)
	if err != nil {
		t.Fatalf("Match: %v", err)
	}
	if result.PersonID == nil || *result.PersonID != firstID {
		t.Errorf("expected lowest person_id %d to win the tie, got %v", firstID, result.PersonID)
	}
}

func TestMatchFaces_DeduplicatesAndCountsUnknown(t *testing.T) {
	reg := registrytest.New()
	ctx := context.Background()
	aliceID, _ := reg.AddPerson(ctx, "Alice", "alice", unitVector(512, 0))

	m := New(reg, nil)

	sameFaceTwice := []float32{}
	_ = sameFaceTwice
	embeddings := [][]float32{
		nudge(512, 0, 1, 0.05),
		nudge(512, 0, 1, 0.05),
		func() []float32 { v := unitVector(512, 0); v[0] = -1; return v }(),
	}

	matched, unknown, err := m.MatchFaces(ctx, embeddings)
	if err != nil {
		t.Fatalf("MatchFaces: %v", err)
	}
	if len(matched) != 1 || matched[0] != aliceID {
		t.Errorf("expected deduplicated match [%d], got %v", aliceID, matched)
	}
	if unknown != 1 {
		t.Errorf("expected 1 unknown face, got %d", unknown)
	}
}

func TestMatch_RestrictsToSelectedPersons(t *testing.T) {
	reg := registrytest.New()
	ctx := context.Background()

	aliceID, _ := reg.AddPerson(ctx, "Alice", "alice", unitVector(512, 0))
	_, _ = reg.AddPerson(ctx, "Bob", "bob", unitVector(512, 1))

	m := New(reg, []int64{aliceID})
	result, err := m.Match(ctx, unitVector(512, 1), false)
	if err != nil {
		t.Fatalf("Match: %v", err)
	}
	// Bob is excluded from the selection, so even his exact vector must
	// score against Alice's (distant) centroid and come back unknown.
	if result.Type != Unknown {
		t.Errorf("expected unknown when matching Bob's face with only Alice selected, got %s", result.Type)
	}
}
