package registry

import "time"

// SourceType distinguishes a person's original reference embeddings from
// embeddings the matcher has learned from strict matches.
type SourceType string

const (
	SourceReference SourceType = "reference"
	SourceLearned   SourceType = "learned"
)

// Person is a known identity in the registry.
type Person struct {
	PersonID        int64
	DisplayName     string
	OutputFolderRel string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Embedding is one stored face embedding belonging to a person.
type Embedding struct {
	EmbeddingID int64
	PersonID    int64
	Vector      []float32
	SourceType  SourceType
	CreatedAt   time.Time
}

// Centroid is the derived, re-normalized mean of a person's embeddings.
type Centroid struct {
	PersonID       int64
	Vector         []float32
	EmbeddingCount int
}
