package repository

import (
	"container/heap"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	// registers the "sqlite" database/sql driver
	_ "modernc.org/sqlite"

	"github.com/healforge/healer/internal/healerrors"
	"github.com/healforge/healer/internal/models"
	"github.com/healforge/healer/pkg/vecmath"
)

// SQLiteVectorRepository stores vector records in a single SQLite file and answers similarity
// queries by exact brute-force cosine over an in-memory copy of the embeddings.
// Reads take a shared lock; every write (including counter increments) holds the exclusive lock
// for the length of its transaction, so writes to the same id are serialized.
type SQLiteVectorRepository struct {
	db *sql.DB

	mu          sync.RWMutex
	collections map[string]map[string]*models.IndexedRecord
}

// OpenSQLiteVectorRepository opens (or creates) the database at path and loads existing records.
func OpenSQLiteVectorRepository(ctx context.Context, path string) (*SQLiteVectorRepository, error) {
	dsn := "file:" + path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)"

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}

	// one writer; the in-process RWMutex handles reader concurrency
	db.SetMaxOpenConns(1)

	repo := &SQLiteVectorRepository{
		db:          db,
		collections: make(map[string]map[string]*models.IndexedRecord),
	}

	if err := repo.migrate(ctx); err != nil {
		_ = db.Close()

		return nil, fmt.Errorf("sqlite migrate: %w", err)
	}

	if err := repo.loadAll(ctx); err != nil {
		_ = db.Close()

		return nil, fmt.Errorf("sqlite load: %w", err)
	}

	return repo, nil
}

func (r *SQLiteVectorRepository) migrate(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS vector_records (
			collection TEXT NOT NULL,
			id         TEXT NOT NULL,
			text       TEXT NOT NULL,
			metadata   TEXT NOT NULL DEFAULT '{}',
			embedding  BLOB NOT NULL,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL,
			PRIMARY KEY (collection, id)
		)`)
	if err != nil {
		return fmt.Errorf("create vector_records: %w", err)
	}

	return nil
}

func (r *SQLiteVectorRepository) loadAll(ctx context.Context) error {
	rows, err := r.db.QueryContext(ctx, `SELECT collection, id, text, metadata, embedding FROM vector_records`)
	if err != nil {
		return fmt.Errorf("query vector_records: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			rec      models.IndexedRecord
			metaJSON string
			blob     []byte
		)

		if err := rows.Scan(&rec.Collection, &rec.ID, &rec.Text, &metaJSON, &blob); err != nil {
			return fmt.Errorf("scan vector record: %w", err)
		}

		if err := json.Unmarshal([]byte(metaJSON), &rec.Metadata); err != nil {
			return fmt.Errorf("decode metadata of %s/%s: %w", rec.Collection, rec.ID, err)
		}

		rec.Embedding = vecmath.FromBlob(blob)
		r.put(&rec)
	}

	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterating vector records: %w", err)
	}

	return nil
}

// put stores rec in the in-memory copy. Caller holds mu (or is the constructor).
func (r *SQLiteVectorRepository) put(rec *models.IndexedRecord) {
	coll, ok := r.collections[rec.Collection]
	if !ok {
		coll = make(map[string]*models.IndexedRecord)
		r.collections[rec.Collection] = coll
	}

	coll[rec.ID] = rec
}

// Close closes the database.
func (r *SQLiteVectorRepository) Close() error {
	if err := r.db.Close(); err != nil {
		return fmt.Errorf("close sqlite: %w", err)
	}

	return nil
}

// Exists reports which of ids are stored in collection.
func (r *SQLiteVectorRepository) Exists(_ context.Context, collection string, ids []string) (map[string]bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[string]bool, len(ids))
	for _, id := range ids {
		_, out[id] = r.collections[collection][id]
	}

	return out, nil
}

// Insert stores records whose (collection, id) is not present yet and returns how many were new.
func (r *SQLiteVectorRepository) Insert(ctx context.Context, records []models.IndexedRecord) (int, error) {
	if len(records) == 0 {
		return 0, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, healerrors.NewIndexIOError("insert", records[0].Collection, err)
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().UTC().Format(time.RFC3339Nano)

	var fresh []*models.IndexedRecord

	for i := range records {
		rec := records[i]
		if _, ok := r.collections[rec.Collection][rec.ID]; ok {
			continue
		}

		metaJSON, err := encodeMetadata(rec.Metadata)
		if err != nil {
			return 0, err
		}

		res, err := tx.ExecContext(ctx, `
			INSERT INTO vector_records (collection, id, text, metadata, embedding, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT (collection, id) DO NOTHING`,
			rec.Collection, rec.ID, rec.Text, metaJSON, vecmath.ToBlob(rec.Embedding), now, now,
		)
		if err != nil {
			return 0, healerrors.NewIndexIOError("insert", rec.Collection, err)
		}

		if n, _ := res.RowsAffected(); n == 0 {
			continue
		}

		rec.Metadata = rec.Metadata.Clone()
		fresh = append(fresh, &rec)
	}

	if err := tx.Commit(); err != nil {
		return 0, healerrors.NewIndexIOError("insert", records[0].Collection, err)
	}

	for _, rec := range fresh {
		r.put(rec)
	}

	return len(fresh), nil
}

// Get returns one record.
func (r *SQLiteVectorRepository) Get(_ context.Context, collection, id string) (models.IndexedRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rec, ok := r.collections[collection][id]
	if !ok {
		return models.IndexedRecord{}, notFound(collection, id)
	}

	return copyRecord(rec), nil
}

// Query returns the k records most similar to embedding, best first, restricted to records
// whose metadata matches filter.
func (r *SQLiteVectorRepository) Query(
	_ context.Context, collection string, embedding []float32, k int, filter models.Metadata,
) ([]models.SimilarityMatch, error) {
	if k <= 0 {
		return nil, nil
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	h := &matchHeap{}
	for _, rec := range r.collections[collection] {
		if len(rec.Embedding) != len(embedding) || !rec.Metadata.Matches(filter) {
			continue
		}

		score := vecmath.Cosine(embedding, rec.Embedding)
		if h.Len() < k {
			heap.Push(h, scored{rec: rec, score: score})
		} else if score > (*h)[0].score {
			(*h)[0] = scored{rec: rec, score: score}
			heap.Fix(h, 0)
		}
	}

	out := make([]models.SimilarityMatch, h.Len())
	for i := len(out) - 1; i >= 0; i-- {
		s, _ := heap.Pop(h).(scored)
		out[i] = models.SimilarityMatch{Record: copyRecord(s.rec), Similarity: s.score}
	}

	return out, nil
}

// Update changes text, embedding and merges metadata of an existing record.
func (r *SQLiteVectorRepository) Update(
	ctx context.Context, collection, id string, upd models.RecordUpdate,
) (models.IndexedRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	cur, ok := r.collections[collection][id]
	if !ok {
		return models.IndexedRecord{}, notFound(collection, id)
	}

	next := copyRecord(cur)
	if upd.Text != nil {
		next.Text = *upd.Text
		next.Embedding = upd.Embedding
	}

	for k, v := range upd.Metadata {
		next.Metadata[k] = v
	}

	if err := r.write(ctx, "update", &next); err != nil {
		return models.IndexedRecord{}, err
	}

	r.put(&next)

	return copyRecord(&next), nil
}

// IncrementCounters adds deltas to integer metadata fields of one record and returns the new metadata.
// Missing fields start at zero.
func (r *SQLiteVectorRepository) IncrementCounters(
	ctx context.Context, collection, id string, deltas map[string]int64,
) (models.Metadata, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	cur, ok := r.collections[collection][id]
	if !ok {
		return nil, notFound(collection, id)
	}

	next := copyRecord(cur)
	for k, d := range deltas {
		next.Metadata[k] = next.Metadata.Int(k) + d
	}

	if err := r.write(ctx, "increment", &next); err != nil {
		return nil, err
	}

	r.put(&next)

	return next.Metadata.Clone(), nil
}

// write persists rec's text, metadata and embedding. Caller holds mu.
func (r *SQLiteVectorRepository) write(ctx context.Context, op string, rec *models.IndexedRecord) error {
	metaJSON, err := encodeMetadata(rec.Metadata)
	if err != nil {
		return err
	}

	_, err = r.db.ExecContext(ctx, `
		UPDATE vector_records SET text = ?, metadata = ?, embedding = ?, updated_at = ?
		WHERE collection = ? AND id = ?`,
		rec.Text, metaJSON, vecmath.ToBlob(rec.Embedding), time.Now().UTC().Format(time.RFC3339Nano),
		rec.Collection, rec.ID,
	)
	if err != nil {
		return healerrors.NewIndexIOError(op, rec.Collection, err)
	}

	return nil
}

// Delete removes records by id and returns how many existed.
func (r *SQLiteVectorRepository) Delete(ctx context.Context, collection string, ids []string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.deleteLocked(ctx, collection, ids)
}

// DeleteWhere removes every record whose metadata matches filter.
func (r *SQLiteVectorRepository) DeleteWhere(ctx context.Context, collection string, filter models.Metadata) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var ids []string

	for id, rec := range r.collections[collection] {
		if rec.Metadata.Matches(filter) {
			ids = append(ids, id)
		}
	}

	return r.deleteLocked(ctx, collection, ids)
}

func (r *SQLiteVectorRepository) deleteLocked(ctx context.Context, collection string, ids []string) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, healerrors.NewIndexIOError("delete", collection, err)
	}
	defer func() { _ = tx.Rollback() }()

	var deleted []string

	for _, id := range ids {
		res, err := tx.ExecContext(ctx, `DELETE FROM vector_records WHERE collection = ? AND id = ?`, collection, id)
		if err != nil {
			return 0, healerrors.NewIndexIOError("delete", collection, err)
		}

		if n, _ := res.RowsAffected(); n > 0 {
			deleted = append(deleted, id)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, healerrors.NewIndexIOError("delete", collection, err)
	}

	for _, id := range deleted {
		delete(r.collections[collection], id)
	}

	return len(deleted), nil
}

// Count returns the number of records in collection.
func (r *SQLiteVectorRepository) Count(_ context.Context, collection string) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.collections[collection]), nil
}

// Clear removes every record of collection.
func (r *SQLiteVectorRepository) Clear(ctx context.Context, collection string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, err := r.db.ExecContext(ctx, `DELETE FROM vector_records WHERE collection = ?`, collection); err != nil {
		return healerrors.NewIndexIOError("clear", collection, err)
	}

	delete(r.collections, collection)

	return nil
}

func encodeMetadata(m models.Metadata) (string, error) {
	if err := m.Validate(); err != nil {
		return "", err
	}

	if m == nil {
		return "{}", nil
	}

	b, err := json.Marshal(m)
	if err != nil {
		return "", fmt.Errorf("encode metadata: %w", err)
	}

	return string(b), nil
}

func notFound(collection, id string) error {
	return healerrors.NewNotFoundError("record", fmt.Sprintf("record %s not found in %s", id, collection))
}

func copyRecord(rec *models.IndexedRecord) models.IndexedRecord {
	out := *rec
	out.Metadata = rec.Metadata.Clone()

	return out
}

type scored struct {
	rec   *models.IndexedRecord
	score float64
}

// matchHeap is a min-heap on score for top-k selection.
type matchHeap []scored

func (h matchHeap) Len() int           { return len(h) }
func (h matchHeap) Less(i, j int) bool { return h[i].score < h[j].score }
func (h matchHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *matchHeap) Push(x any) {
	if s, ok := x.(scored); ok {
		*h = append(*h, s)
	}
}

func (h *matchHeap) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]

	return x
}
