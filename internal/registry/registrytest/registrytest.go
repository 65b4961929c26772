// Package registrytest provides an in-memory fake of the person registry for
// unit tests that exercise the matcher without a real pgvector database.
package registrytest

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"

	"github.com/hrabal/negsort/internal/constants"
	"github.com/hrabal/negsort/internal/registry"
)

type personState struct {
	person     registry.Person
	embeddings []registry.Embedding
}

// Repository is a mutex-guarded in-memory stand-in for *registry.Repository.
type Repository struct {
	mu      sync.Mutex
	persons map[int64]*personState
	nextID  int64
	nextEID int64

	LearnErr error
}

func New() *Repository {
	return &Repository{persons: make(map[int64]*personState)}
}

func normalize(v []float32) []float32 {
	var sumSq float64
	for _, x := range v {
		sumSq += float64(x) * float64(x)
	}
	norm := math.Sqrt(sumSq)
	if norm < 1e-12 {
		return v
	}
	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = float32(float64(x) / norm)
	}
	return out
}

func (r *Repository) AddPerson(ctx context.Context, displayName, outputFolderRel string, reference []float32) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	id := r.nextID
	r.nextEID++
	r.persons[id] = &personState{
		person: registry.Person{PersonID: id, DisplayName: displayName, OutputFolderRel: outputFolderRel},
		embeddings: []registry.Embedding{
			{EmbeddingID: r.nextEID, PersonID: id, Vector: normalize(reference), SourceType: registry.SourceReference},
		},
	}
	return id, nil
}

func (r *Repository) Learn(ctx context.Context, personID int64, vector []float32) error {
	if r.LearnErr != nil {
		return r.LearnErr
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.persons[personID]
	if !ok {
		return fmt.Errorf("person %d not found", personID)
	}
	r.nextEID++
	p.embeddings = append(p.embeddings, registry.Embedding{
		EmbeddingID: r.nextEID,
		PersonID:    personID,
		Vector:      normalize(vector),
		SourceType:  registry.SourceLearned,
	})

	over := len(p.embeddings) - constants.MaxEmbeddingsPerPerson
	if over > 0 {
		kept := p.embeddings[:0]
		evicted := 0
		for _, e := range p.embeddings {
			if evicted < over && e.SourceType == registry.SourceLearned {
				evicted++
				continue
			}
			kept = append(kept, e)
		}
		p.embeddings = kept
	}
	return nil
}

func (r *Repository) List(ctx context.Context) ([]registry.Person, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []registry.Person
	for _, p := range r.persons {
		out = append(out, p.person)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PersonID < out[j].PersonID })
	return out, nil
}

func (r *Repository) Delete(ctx context.Context, personID int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.persons, personID)
	return nil
}

// EmbeddingCount exposes the current embedding count for a person, for tests
// asserting the FIFO cap.
func (r *Repository) EmbeddingCount(personID int64) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.persons[personID]
	if !ok {
		return 0
	}
	return len(p.embeddings)
}

func (r *Repository) CentroidSnapshot(ctx context.Context, personIDs []int64) ([]registry.Centroid, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	want := make(map[int64]bool)
	for _, id := range personIDs {
		want[id] = true
	}

	var out []registry.Centroid
	for id, p := range r.persons {
		if len(personIDs) > 0 && !want[id] {
			continue
		}
		if len(p.embeddings) == 0 {
			continue
		}
		dim := len(p.embeddings[0].Vector)
		mean := make([]float64, dim)
		for _, e := range p.embeddings {
			for i, x := range e.Vector {
				mean[i] += float64(x)
			}
		}
		for i := range mean {
			mean[i] /= float64(len(p.embeddings))
		}
		var sumSq float64
		for _, x := range mean {
			sumSq += x * x
		}
		norm := math.Sqrt(sumSq)
		centroid := make([]float32, dim)
		for i, x := range mean {
			if norm < 1e-12 {
				centroid[i] = float32(x)
			} else {
				centroid[i] = float32(x / norm)
			}
		}
		out = append(out, registry.Centroid{PersonID: id, Vector: centroid, EmbeddingCount: len(p.embeddings)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PersonID < out[j].PersonID })
	return out, nil
}
