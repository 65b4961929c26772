// Package matcher scores face embeddings against the person registry's
// centroids and classifies each face as a strict match, a loose match, or
// unknown.
package matcher

import (
	"context"
	"fmt"
	"math"
	"sort"

	"github.com/hrabal/negsort/internal/constants"
	"github.com/hrabal/negsort/internal/registry"
)

// MatchType is the outcome of scoring one face against the registry.
type MatchType string

const (
	Strict  MatchType = "strict"
	Loose   MatchType = "loose"
	Unknown MatchType = "unknown"
)

// Result is the outcome of matching one face embedding.
type Result struct {
	PersonID *int64 // nil when Unknown
	Distance float64
	Type     MatchType
}

func (r Result) IsMatched() bool {
	return r.Type == Strict || r.Type == Loose
}

// Registry is the subset of the registry repository the matcher depends on.
type Registry interface {
	CentroidSnapshot(ctx context.Context, personIDs []int64) ([]registry.Centroid, error)
	Learn(ctx context.Context, personID int64, vector []float32) error
}

// Matcher scores embeddings against a snapshot of person centroids,
// refreshed whenever a strict match teaches the registry a new embedding.
type Matcher struct {
	reg               Registry
	selectedPersonIDs []int64 // nil means match against all persons
	centroids         []registry.Centroid
	loaded            bool
}

func New(reg Registry, selectedPersonIDs []int64) *Matcher {
	return &Matcher{reg: reg, selectedPersonIDs: selectedPersonIDs}
}

func (m *Matcher) refresh(ctx context.Context) error {
	centroids, err := m.reg.CentroidSnapshot(ctx, m.selectedPersonIDs)
	if err != nil {
		return fmt.Errorf("refresh centroids: %w", err)
	}
	m.centroids = centroids
	m.loaded = true
	return nil
}

func normalize(v []float32) []float32 {
	var sumSq float64
	for _, x := range v {
		sumSq += float64(x) * float64(x)
	}
	n := math.Sqrt(sumSq)
	if n < 1e-12 {
		return v
	}
	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = float32(float64(x) / n)
	}
	return out
}

// euclideanDistance computes ||a - b||. Both vectors are expected to be unit
// norm; for unit vectors d^2 = 2(1 - cos theta), so d ranges over [0, 2].
func euclideanDistance(a, b []float32) float64 {
	var sumSq float64
	for i := range a {
		diff := float64(a[i]) - float64(b[i])
		sumSq += diff * diff
	}
	return math.Sqrt(sumSq)
}

// Match scores one face embedding. On a strict match it teaches the
// embedding back to the registry and refreshes the centroid snapshot, unless
// learn is false (used for read-only matching, e.g. registry inspection tools).
func (m *Matcher) Match(ctx context.Context, embedding []float32, learn bool) (Result, error) {
	if !m.loaded {
		if err := m.refresh(ctx); err != nil {
			return Result{}, err
		}
	}

	if len(m.centroids) == 0 {
		return Result{Distance: math.Inf(1), Type: Unknown}, nil
	}

	unit := normalize(embedding)

	type scored struct {
		personID int64
		distance float64
	}
	var candidates []scored
	for _, c := range m.centroids {
		candidates = append(candidates, scored{personID: c.PersonID, distance: euclideanDistance(unit, c.Vector)})
	}

	// Sort by distance, then by person_id, so that the lowest person_id
	// wins exact distance ties deterministically.
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].distance != candidates[j].distance {
			return candidates[i].distance < candidates[j].distance
		}
		return candidates[i].personID < candidates[j].personID
	})

	best := candidates[0]

	switch {
	case best.distance <= constants.StrictThreshold:
		if learn {
			if err := m.reg.Learn(ctx, best.personID, embedding); err != nil {
				return Result{}, fmt.Errorf("learn embedding for person %d: %w", best.personID, err)
			}
			if err := m.refresh(ctx); err != nil {
				return Result{}, err
			}
		}
		personID := best.personID
		return Result{PersonID: &personID, Distance: best.distance, Type: Strict}, nil
	case best.distance <= constants.LooseThreshold:
		personID := best.personID
		return Result{PersonID: &personID, Distance: best.distance, Type: Loose}, nil
	default:
		return Result{Distance: best.distance, Type: Unknown}, nil
	}
}

// MatchFaces matches every detected face in an image and returns the
// deduplicated set of matched person IDs plus the count of unmatched faces.
func (m *Matcher) MatchFaces(ctx context.Context, embeddings [][]float32) (matchedPersonIDs []int64, unknownCount int, err error) {
	seen := make(map[int64]bool)
	for _, e := range embeddings {
		result, err := m.Match(ctx, e, true)
		if err != nil {
			return nil, 0, err
		}
		if result.IsMatched() {
			if !seen[*result.PersonID] {
				seen[*result.PersonID] = true
				matchedPersonIDs = append(matchedPersonIDs, *result.PersonID)
			}
		} else {
			unknownCount++
		}
	}
	sort.Slice(matchedPersonIDs, func(i, j int) bool { return matchedPersonIDs[i] < matchedPersonIDs[j] })
	return matchedPersonIDs, unknownCount, nil
}
