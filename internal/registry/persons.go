package registry

import (
	"context"
	"fmt"
	"math"

	"github.com/hrabal/negsort/internal/constants"
	"github.com/hrabal/negsort/internal/facematch"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
)

// Repository is the pgx-backed registry store.
type Repository struct {
	pool *pgxpool.Pool
}

func New(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

func normalizeVector(v []float32) []float32 {
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

// AddPerson creates a person with one reference embedding, the only way a
// person may be created: every person has at least one reference embedding
// from the moment it exists.
func (r *Repository) AddPerson(ctx context.Context, displayName, outputFolderRel string, reference []float32) (int64, error) {
	normalizedFolder := facematch.NormalizePersonName(outputFolderRel)

	existing, err := r.List(ctx)
	if err != nil {
		return 0, err
	}
	for _, p := range existing {
		if facematch.NormalizePersonName(p.OutputFolderRel) == normalizedFolder {
			return 0, fmt.Errorf("output folder %q collides with existing person %q", outputFolderRel, p.DisplayName)
		}
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback(ctx)

	var personID int64
	err = tx.QueryRow(ctx, `
		INSERT INTO persons (display_name, output_folder_rel) VALUES ($1, $2) RETURNING person_id
	`, displayName, outputFolderRel).Scan(&personID)
	if err != nil {
		return 0, fmt.Errorf("insert person: %w", err)
	}

	unit := normalizeVector(reference)
	if _, err := tx.Exec(ctx, `
		INSERT INTO person_embeddings (person_id, embedding, source_type) VALUES ($1, $2, $3)
	`, personID, pgvector.NewVector(unit), string(SourceReference)); err != nil {
		return 0, fmt.Errorf("insert reference embedding: %w", err)
	}

	if err := upsertCentroid(ctx, tx, personID); err != nil {
		return 0, err
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, err
	}
	return personID, nil
}

// AddReference appends another reference embedding (e.g. from a second
// seed photo). It runs the same over-cap eviction as Learn, which only ever
// removes learned embeddings.
func (r *Repository) AddReference(ctx context.Context, personID int64, vector []float32) error {
	return r.addEmbedding(ctx, personID, vector, SourceReference)
}

// Learn appends a match-derived embedding, applying the FIFO cap.
func (r *Repository) Learn(ctx context.Context, personID int64, vector []float32) error {
	return r.addEmbedding(ctx, personID, vector, SourceLearned)
}

func (r *Repository) addEmbedding(ctx context.Context, personID int64, vector []float32, sourceType SourceType) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	unit := normalizeVector(vector)
	if _, err := tx.Exec(ctx, `
		INSERT INTO person_embeddings (person_id, embedding, source_type) VALUES ($1, $2, $3)
	`, personID, pgvector.NewVector(unit), string(sourceType)); err != nil {
		return fmt.Errorf("insert embedding: %w", err)
	}

	if err := evictOverCap(ctx, tx, personID); err != nil {
		return err
	}

	if err := upsertCentroid(ctx, tx, personID); err != nil {
		return err
	}

	return tx.Commit(ctx)
}

// evictOverCap removes the oldest "learned" embeddings once the person's
// total exceeds MaxEmbeddingsPerPerson. Reference embeddings are never evicted.
func evictOverCap(ctx context.Context, tx pgx.Tx, personID int64) error {
	var total int
	if err := tx.QueryRow(ctx, `
		SELECT COUNT(*) FROM person_embeddings WHERE person_id = $1
	`, personID).Scan(&total); err != nil {
		return fmt.Errorf("count embeddings: %w", err)
	}

	over := total - constants.MaxEmbeddingsPerPerson
	if over <= 0 {
		return nil
	}

	rows, err := tx.Query(ctx, `
		SELECT embedding_id FROM person_embeddings
		WHERE person_id = $1 AND source_type = $2
		ORDER BY created_at ASC
		LIMIT $3
	`, personID, string(SourceLearned), over)
	if err != nil {
		return fmt.Errorf("select eviction candidates: %w", err)
	}

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return fmt.Errorf("scan eviction candidate: %w", err)
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	for _, id := range ids {
		if _, err := tx.Exec(ctx, `DELETE FROM person_embeddings WHERE embedding_id = $1`, id); err != nil {
			return fmt.Errorf("evict embedding %d: %w", id, err)
		}
	}
	return nil
}

// upsertCentroid recomputes a person's centroid as the unit-normalized mean
// of their current embeddings.
func upsertCentroid(ctx context.Context, tx pgx.Tx, personID int64) error {
	rows, err := tx.Query(ctx, `
		SELECT embedding FROM person_embeddings WHERE person_id = $1
	`, personID)
	if err != nil {
		return fmt.Errorf("select embeddings for centroid: %w", err)
	}

	var vectors [][]float32
	for rows.Next() {
		var v pgvector.Vector
		if err := rows.Scan(&v); err != nil {
			rows.Close()
			return fmt.Errorf("scan embedding for centroid: %w", err)
		}
		vectors = append(vectors, v.Slice())
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}
	if len(vectors) == 0 {
		return fmt.Errorf("person %d has no embeddings, cannot compute centroid", personID)
	}

	dim := len(vectors[0])
	mean := make([]float64, dim)
	for _, v := range vectors {
		for i, x := range v {
			mean[i] += float64(x)
		}
	}
	for i := range mean {
		mean[i] /= float64(len(vectors))
	}

	var sumSq float64
	for _, x := range mean {
		sumSq += x * x
	}
	norm := math.Sqrt(sumSq)

	centroid := make([]float32, dim)
	if norm < 1e-12 {
		// Defensive: should not occur with unit-norm inputs. Fall back to
		// the most recently added embedding rather than a zero vector.
		last := vectors[len(vectors)-1]
		copy(centroid, last)
	} else {
		for i, x := range mean {
			centroid[i] = float32(x / norm)
		}
	}

	if _, err := tx.Exec(ctx, `
		INSERT INTO person_centroids (person_id, centroid, embedding_count)
		VALUES ($1, $2, $3)
		ON CONFLICT (person_id) DO UPDATE SET centroid = EXCLUDED.centroid, embedding_count = EXCLUDED.embedding_count
	`, personID, pgvector.NewVector(centroid), len(vectors)); err != nil {
		return fmt.Errorf("upsert centroid: %w", err)
	}
	return nil
}

// List returns every registered person.
func (r *Repository) List(ctx context.Context) ([]Person, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT person_id, display_name, output_folder_rel, created_at, updated_at FROM persons ORDER BY person_id
	`)
	if err != nil {
		return nil, fmt.Errorf("list persons: %w", err)
	}
	defer rows.Close()

	var out []Person
	for rows.Next() {
		var p Person
		if err := rows.Scan(&p.PersonID, &p.DisplayName, &p.OutputFolderRel, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan person: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// Delete removes a person; their embeddings and centroid go with them via
// ON DELETE CASCADE. It does not check commit-log references, since
// commit_log lives in the job store: callers must check
// store.PersonHasCommitRows first and refuse the deletion themselves.
func (r *Repository) Delete(ctx context.Context, personID int64) error {
	if _, err := r.pool.Exec(ctx, `DELETE FROM persons WHERE person_id = $1`, personID); err != nil {
		return fmt.Errorf("delete person %d: %w", personID, err)
	}
	return nil
}

// CentroidSnapshot loads centroids for matching, optionally restricted to a
// set of person IDs (nil means all persons).
func (r *Repository) CentroidSnapshot(ctx context.Context, personIDs []int64) ([]Centroid, error) {
	var rows pgx.Rows
	var err error
	if len(personIDs) == 0 {
		rows, err = r.pool.Query(ctx, `
			SELECT pc.person_id, pc.centroid, pc.embedding_count
			FROM person_centroids pc
			ORDER BY pc.person_id
		`)
	} else {
		rows, err = r.pool.Query(ctx, `
			SELECT pc.person_id, pc.centroid, pc.embedding_count
			FROM person_centroids pc
			WHERE pc.person_id = ANY($1)
			ORDER BY pc.person_id
		`, personIDs)
	}
	if err != nil {
		return nil, fmt.Errorf("centroid snapshot: %w", err)
	}
	defer rows.Close()

	var out []Centroid
	for rows.Next() {
		var c Centroid
		var v pgvector.Vector
		if err := rows.Scan(&c.PersonID, &v, &c.EmbeddingCount); err != nil {
			return nil, fmt.Errorf("scan centroid: %w", err)
		}
		c.Vector = v.Slice()
		out = append(out, c)
	}
	return out, rows.Err()
}
