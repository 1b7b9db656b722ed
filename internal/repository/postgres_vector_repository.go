package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"github.com/healforge/healer/internal/healerrors"
	"github.com/healforge/healer/internal/models"
)

// PostgresVectorRepository stores vector records in Postgres with pgvector.
// Similarity is 1 - cosine distance (<=>), so scores match the SQLite backend.
type PostgresVectorRepository struct {
	db *pgxpool.Pool
}

// NewPostgresVectorRepository creates a repository on a pool with pgvector types registered.
func NewPostgresVectorRepository(db *pgxpool.Pool) *PostgresVectorRepository {
	return &PostgresVectorRepository{db: db}
}

// Migrate creates the records table and its indexes for embeddings of the given dimension.
func (r *PostgresVectorRepository) Migrate(ctx context.Context, dimensions int) error {
	if dimensions <= 0 {
		return healerrors.NewValidationError("dimensions", "embedding dimensions must be positive")
	}

	_, err := r.db.Exec(ctx, fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS vector_records (
			collection TEXT NOT NULL,
			id         TEXT NOT NULL,
			text       TEXT NOT NULL,
			metadata   JSONB NOT NULL DEFAULT '{}'::jsonb,
			embedding  vector(%d) NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			PRIMARY KEY (collection, id)
		);
		CREATE INDEX IF NOT EXISTS vector_records_embedding_idx
			ON vector_records USING hnsw (embedding vector_cosine_ops);
		CREATE INDEX IF NOT EXISTS vector_records_metadata_idx
			ON vector_records USING gin (metadata jsonb_path_ops);`, dimensions))
	if err != nil {
		return fmt.Errorf("migrate vector_records: %w", err)
	}

	return nil
}

// Close closes the pool.
func (r *PostgresVectorRepository) Close() error {
	r.db.Close()

	return nil
}

// Exists reports which of ids are stored in collection.
func (r *PostgresVectorRepository) Exists(ctx context.Context, collection string, ids []string) (map[string]bool, error) {
	out := make(map[string]bool, len(ids))
	for _, id := range ids {
		out[id] = false
	}

	if len(ids) == 0 {
		return out, nil
	}

	rows, err := r.db.Query(ctx,
		`SELECT id FROM vector_records WHERE collection = $1 AND id = ANY($2)`, collection, ids)
	if err != nil {
		return nil, healerrors.NewIndexIOError("exists", collection, err)
	}
	defer rows.Close()

	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, healerrors.NewIndexIOError("exists", collection, err)
		}

		out[id] = true
	}

	if err := rows.Err(); err != nil {
		return nil, healerrors.NewIndexIOError("exists", collection, err)
	}

	return out, nil
}

// Insert stores records whose (collection, id) is not present yet and returns how many were new.
func (r *PostgresVectorRepository) Insert(ctx context.Context, records []models.IndexedRecord) (int, error) {
	if len(records) == 0 {
		return 0, nil
	}

	batch := &pgx.Batch{}

	for _, rec := range records {
		metaJSON, err := encodeMetadata(rec.Metadata)
		if err != nil {
			return 0, err
		}

		batch.Queue(`
			INSERT INTO vector_records (collection, id, text, metadata, embedding)
			VALUES ($1, $2, $3, $4::jsonb, $5)
			ON CONFLICT (collection, id) DO NOTHING`,
			rec.Collection, rec.ID, rec.Text, metaJSON, pgvector.NewVector(rec.Embedding),
		)
	}

	results := r.db.SendBatch(ctx, batch)
	defer func() { _ = results.Close() }()

	inserted := 0

	for range records {
		tag, err := results.Exec()
		if err != nil {
			return inserted, healerrors.NewIndexIOError("insert", records[0].Collection, err)
		}

		inserted += int(tag.RowsAffected())
	}

	return inserted, nil
}

// Get returns one record.
func (r *PostgresVectorRepository) Get(ctx context.Context, collection, id string) (models.IndexedRecord, error) {
	row := r.db.QueryRow(ctx, `
		SELECT collection, id, text, metadata, embedding
		FROM vector_records WHERE collection = $1 AND id = $2`, collection, id)

	rec, err := scanRecord(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.IndexedRecord{}, notFound(collection, id)
		}

		return models.IndexedRecord{}, healerrors.NewIndexIOError("get", collection, err)
	}

	return rec, nil
}

// Query returns the k records nearest to embedding, best first, restricted to records whose
// metadata contains filter.
func (r *PostgresVectorRepository) Query(
	ctx context.Context, collection string, embedding []float32, k int, filter models.Metadata,
) ([]models.SimilarityMatch, error) {
	if k <= 0 {
		return nil, nil
	}

	filterJSON, err := encodeMetadata(filter)
	if err != nil {
		return nil, err
	}

	rows, err := r.db.Query(ctx, `
		SELECT collection, id, text, metadata, embedding, 1 - (embedding <=> $2) AS similarity
		FROM vector_records
		WHERE collection = $1 AND metadata @> $3::jsonb
		ORDER BY embedding <=> $2
		LIMIT $4`, collection, pgvector.NewVector(embedding), filterJSON, k)
	if err != nil {
		return nil, healerrors.NewIndexIOError("query", collection, err)
	}
	defer rows.Close()

	var out []models.SimilarityMatch

	for rows.Next() {
		var (
			m        models.SimilarityMatch
			metaJSON []byte
			vec      pgvector.Vector
		)

		if err := rows.Scan(&m.Record.Collection, &m.Record.ID, &m.Record.Text, &metaJSON, &vec, &m.Similarity); err != nil {
			return nil, healerrors.NewIndexIOError("query", collection, err)
		}

		if err := json.Unmarshal(metaJSON, &m.Record.Metadata); err != nil {
			return nil, healerrors.NewIndexIOError("query", collection, err)
		}

		m.Record.Embedding = vec.Slice()
		out = append(out, m)
	}

	if err := rows.Err(); err != nil {
		return nil, healerrors.NewIndexIOError("query", collection, err)
	}

	return out, nil
}

// Update changes text, embedding and merges metadata of an existing record.
func (r *PostgresVectorRepository) Update(
	ctx context.Context, collection, id string, upd models.RecordUpdate,
) (models.IndexedRecord, error) {
	metaJSON, err := encodeMetadata(upd.Metadata)
	if err != nil {
		return models.IndexedRecord{}, err
	}

	var (
		text *string
		vec  *pgvector.Vector
	)

	if upd.Text != nil {
		text = upd.Text
		v := pgvector.NewVector(upd.Embedding)
		vec = &v
	}

	row := r.db.QueryRow(ctx, `
		UPDATE vector_records
		SET text = COALESCE($3, text),
		    embedding = COALESCE($4, embedding),
		    metadata = metadata || $5::jsonb,
		    updated_at = now()
		WHERE collection = $1 AND id = $2
		RETURNING collection, id, text, metadata, embedding`,
		collection, id, text, vec, metaJSON)

	rec, err := scanRecord(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.IndexedRecord{}, notFound(collection, id)
		}

		return models.IndexedRecord{}, healerrors.NewIndexIOError("update", collection, err)
	}

	return rec, nil
}

// IncrementCounters adds deltas to integer metadata fields in a single UPDATE, so concurrent
// increments of the same record never lose an update.
func (r *PostgresVectorRepository) IncrementCounters(
	ctx context.Context, collection, id string, deltas map[string]int64,
) (models.Metadata, error) {
	deltaJSON, err := json.Marshal(deltas)
	if err != nil {
		return nil, fmt.Errorf("encode deltas: %w", err)
	}

	var metaJSON []byte

	err = r.db.QueryRow(ctx, `
		UPDATE vector_records v
		SET metadata = v.metadata || COALESCE((
		        SELECT jsonb_object_agg(d.key, COALESCE((v.metadata->>d.key)::bigint, 0) + d.value::bigint)
		        FROM jsonb_each_text($3::jsonb) AS d
		    ), '{}'::jsonb),
		    updated_at = now()
		WHERE v.collection = $1 AND v.id = $2
		RETURNING v.metadata`, collection, id, string(deltaJSON)).Scan(&metaJSON)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, notFound(collection, id)
		}

		return nil, healerrors.NewIndexIOError("increment", collection, err)
	}

	var meta models.Metadata
	if err := json.Unmarshal(metaJSON, &meta); err != nil {
		return nil, healerrors.NewIndexIOError("increment", collection, err)
	}

	return meta, nil
}

// Delete removes records by id and returns how many existed.
func (r *PostgresVectorRepository) Delete(ctx context.Context, collection string, ids []string) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}

	tag, err := r.db.Exec(ctx, `DELETE FROM vector_records WHERE collection = $1 AND id = ANY($2)`, collection, ids)
	if err != nil {
		return 0, healerrors.NewIndexIOError("delete", collection, err)
	}

	return int(tag.RowsAffected()), nil
}

// DeleteWhere removes every record whose metadata contains filter.
func (r *PostgresVectorRepository) DeleteWhere(ctx context.Context, collection string, filter models.Metadata) (int, error) {
	filterJSON, err := encodeMetadata(filter)
	if err != nil {
		return 0, err
	}

	tag, err := r.db.Exec(ctx,
		`DELETE FROM vector_records WHERE collection = $1 AND metadata @> $2::jsonb`, collection, filterJSON)
	if err != nil {
		return 0, healerrors.NewIndexIOError("delete", collection, err)
	}

	return int(tag.RowsAffected()), nil
}

// Count returns the number of records in collection.
func (r *PostgresVectorRepository) Count(ctx context.Context, collection string) (int, error) {
	var n int
	if err := r.db.QueryRow(ctx,
		`SELECT count(*) FROM vector_records WHERE collection = $1`, collection).Scan(&n); err != nil {
		return 0, healerrors.NewIndexIOError("count", collection, err)
	}

	return n, nil
}

// Clear removes every record of collection.
func (r *PostgresVectorRepository) Clear(ctx context.Context, collection string) error {
	if _, err := r.db.Exec(ctx, `DELETE FROM vector_records WHERE collection = $1`, collection); err != nil {
		return healerrors.NewIndexIOError("clear", collection, err)
	}

	return nil
}

func scanRecord(row pgx.Row) (models.IndexedRecord, error) {
	var (
		rec      models.IndexedRecord
		metaJSON []byte
		vec      pgvector.Vector
	)

	if err := row.Scan(&rec.Collection, &rec.ID, &rec.Text, &metaJSON, &vec); err != nil {
		return models.IndexedRecord{}, err
	}

	if err := json.Unmarshal(metaJSON, &rec.Metadata); err != nil {
		return models.IndexedRecord{}, fmt.Errorf("decode metadata: %w", err)
	}

	rec.Embedding = vec.Slice()

	return rec, nil
}
