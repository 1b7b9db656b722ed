package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"strings"

	"github.com/healforge/healer/internal/datatypes"
	"github.com/healforge/healer/internal/healerrors"
	"github.com/healforge/healer/internal/models"
)

// VectorRepository is the durable record store behind the VectorIndex.
// Implemented by repository.SQLiteVectorRepository and repository.PostgresVectorRepository.
type VectorRepository interface {
	Exists(ctx context.Context, collection string, ids []string) (map[string]bool, error)
	Insert(ctx context.Context, records []models.IndexedRecord) (int, error)
	Get(ctx context.Context, collection, id string) (models.IndexedRecord, error)
	Query(ctx context.Context, collection string, embedding []float32, k int, filter models.Metadata) ([]models.SimilarityMatch, error)
	Update(ctx context.Context, collection, id string, upd models.RecordUpdate) (models.IndexedRecord, error)
	IncrementCounters(ctx context.Context, collection, id string, deltas map[string]int64) (models.Metadata, error)
	Delete(ctx context.Context, collection string, ids []string) (int, error)
	DeleteWhere(ctx context.Context, collection string, filter models.Metadata) (int, error)
	Count(ctx context.Context, collection string) (int, error)
	Clear(ctx context.Context, collection string) error
}

// Embedder turns text into normalized embeddings (embeddings.Provider).
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedMany(ctx context.Context, texts []string) ([][]float32, error)
}

// RecordID is the default id of a record: the first 16 hex chars of sha256(text).
// Re-inserting the same text into a collection is therefore idempotent.
func RecordID(text string) string {
	sum := sha256.Sum256([]byte(text))

	return hex.EncodeToString(sum[:])[:16]
}

// ScopedRecordID is RecordID of text qualified by scope, so the same text stored under
// different scopes gets distinct ids. An empty scope yields RecordID(text).
func ScopedRecordID(text string, scope models.Metadata) string {
	if len(scope) == 0 {
		return RecordID(text)
	}

	keys := slices.Sorted(maps.Keys(scope))

	var b strings.Builder
	for _, k := range keys {
		fmt.Fprintf(&b, "%s=%v\x00", k, scope[k])
	}

	b.WriteString(text)

	return RecordID(b.String())
}

// VectorIndex is a named-collection store of embedded text with scalar metadata.
type VectorIndex struct {
	repo     VectorRepository
	embedder Embedder
	logger   *slog.Logger
}

// NewVectorIndex creates a VectorIndex. logger may be nil.
func NewVectorIndex(repo VectorRepository, embedder Embedder, logger *slog.Logger) *VectorIndex {
	if logger == nil {
		logger = slog.Default()
	}

	return &VectorIndex{repo: repo, embedder: embedder, logger: logger}
}

// Upsert adds texts to collection and returns their ids in input order.
// Ids already present are neither re-embedded nor overwritten. metadatas and ids may be nil;
// otherwise they must have one entry per text. Empty ids default to RecordID(text).
func (v *VectorIndex) Upsert(
	ctx context.Context, collection string, texts []string, metadatas []models.Metadata, ids []string,
) ([]string, error) {
	if metadatas != nil && len(metadatas) != len(texts) {
		return nil, healerrors.NewValidationError("metadatas", "metadatas must have one entry per text")
	}

	if ids != nil && len(ids) != len(texts) {
		return nil, healerrors.NewValidationError("ids", "ids must have one entry per text")
	}

	if len(texts) == 0 {
		return []string{}, nil
	}

	out := make([]string, len(texts))
	for i, text := range texts {
		if ids != nil && ids[i] != "" {
			out[i] = ids[i]
		} else {
			out[i] = RecordID(text)
		}
	}

	exists, err := v.repo.Exists(ctx, collection, out)
	if err != nil {
		return nil, err
	}

	var (
		pending []int
		toEmbed []string
		seen    = make(map[string]bool, len(out))
	)

	for i, id := range out {
		if exists[id] || seen[id] {
			continue
		}

		seen[id] = true
		pending = append(pending, i)
		toEmbed = append(toEmbed, texts[i])
	}

	if len(pending) == 0 {
		return out, nil
	}

	vecs, err := v.embedder.EmbedMany(ctx, toEmbed)
	if err != nil {
		return nil, err
	}

	records := make([]models.IndexedRecord, len(pending))
	for j, i := range pending {
		var meta models.Metadata
		if metadatas != nil {
			meta = metadatas[i]
		}

		records[j] = models.IndexedRecord{
			ID:         out[i],
			Collection: collection,
			Text:       texts[i],
			Metadata:   meta,
			Embedding:  vecs[j],
		}
	}

	inserted, err := v.repo.Insert(ctx, records)
	if err != nil {
		return nil, err
	}

	v.logger.DebugContext(ctx, "vector index upsert",
		"collection", collection, "requested", len(texts), "inserted", inserted)

	return out, nil
}

// Insert adds one record under id unless id is already stored, and reports whether it was added.
// The text is embedded only when the record is new.
func (v *VectorIndex) Insert(
	ctx context.Context, collection, id, text string, metadata models.Metadata,
) (bool, error) {
	exists, err := v.Exists(ctx, collection, id)
	if err != nil || exists {
		return false, err
	}

	emb, err := v.embedder.Embed(ctx, text)
	if err != nil {
		return false, err
	}

	inserted, err := v.repo.Insert(ctx, []models.IndexedRecord{{
		ID:         id,
		Collection: collection,
		Text:       text,
		Metadata:   metadata,
		Embedding:  emb,
	}})
	if err != nil {
		return false, err
	}

	return inserted == 1, nil
}

// Query returns up to k records most similar to text, best first, restricted to records whose
// metadata matches filter exactly. An empty collection yields an empty result, not an error.
// Similarities are clamped to [0,1].
func (v *VectorIndex) Query(
	ctx context.Context, collection, text string, k int, filter models.Metadata,
) ([]models.SimilarityMatch, error) {
	if k <= 0 {
		return []models.SimilarityMatch{}, nil
	}

	count, err := v.repo.Count(ctx, collection)
	if err != nil {
		return nil, err
	}

	if count == 0 {
		return []models.SimilarityMatch{}, nil
	}

	emb, err := v.embedder.Embed(ctx, text)
	if err != nil {
		return nil, err
	}

	matches, err := v.repo.Query(ctx, collection, emb, k, filter)
	if err != nil {
		return nil, err
	}

	for i := range matches {
		if matches[i].Similarity < 0 {
			matches[i].Similarity = 0
		}
	}

	if matches == nil {
		matches = []models.SimilarityMatch{}
	}

	return matches, nil
}

// Get returns one record or a NotFoundError.
func (v *VectorIndex) Get(ctx context.Context, collection, id string) (models.IndexedRecord, error) {
	rec, err := v.repo.Get(ctx, collection, id)
	if err != nil {
		return models.IndexedRecord{}, fmt.Errorf("get %s/%s: %w", collection, id, err)
	}

	return rec, nil
}

// Exists reports whether id is stored in collection.
func (v *VectorIndex) Exists(ctx context.Context, collection, id string) (bool, error) {
	found, err := v.repo.Exists(ctx, collection, []string{id})
	if err != nil {
		return false, err
	}

	return found[id], nil
}

// ExistingIDs reports which of ids are stored in collection.
func (v *VectorIndex) ExistingIDs(ctx context.Context, collection string, ids []string) (map[string]bool, error) {
	if len(ids) == 0 {
		return map[string]bool{}, nil
	}

	return v.repo.Exists(ctx, collection, ids)
}

// Update merges metadata into a record and, when text is non-nil, replaces its text and embedding.
func (v *VectorIndex) Update(
	ctx context.Context, collection, id string, metadata models.Metadata, text *string,
) (models.IndexedRecord, error) {
	upd := models.RecordUpdate{Metadata: metadata}

	if text != nil {
		emb, err := v.embedder.Embed(ctx, *text)
		if err != nil {
			return models.IndexedRecord{}, err
		}

		upd.Text = text
		upd.Embedding = emb
	}

	rec, err := v.repo.Update(ctx, collection, id, upd)
	if err != nil {
		return models.IndexedRecord{}, fmt.Errorf("update %s/%s: %w", collection, id, err)
	}

	return rec, nil
}

// IncrementCounters atomically adds deltas to integer metadata fields of one record.
func (v *VectorIndex) IncrementCounters(
	ctx context.Context, collection, id string, deltas map[string]int64,
) (models.Metadata, error) {
	meta, err := v.repo.IncrementCounters(ctx, collection, id, deltas)
	if err != nil {
		return nil, fmt.Errorf("increment %s/%s: %w", collection, id, err)
	}

	return meta, nil
}

// Delete removes records by ids, or every record matching where when ids is empty.
// Both empty is a ValidationError so a collection is never wiped by accident; use Clear.
func (v *VectorIndex) Delete(ctx context.Context, collection string, ids []string, where models.Metadata) (int, error) {
	switch {
	case len(ids) > 0:
		return v.repo.Delete(ctx, collection, ids)
	case len(where) > 0:
		return v.repo.DeleteWhere(ctx, collection, where)
	default:
		return 0, healerrors.NewValidationError("ids", "delete needs ids or a metadata filter")
	}
}

// Stats returns the record count of each collection, or of every known collection when none is named.
func (v *VectorIndex) Stats(ctx context.Context, collections ...string) ([]models.CollectionStats, error) {
	if len(collections) == 0 {
		collections = datatypes.GetAllCollections()
	}

	out := make([]models.CollectionStats, 0, len(collections))

	for _, c := range collections {
		n, err := v.repo.Count(ctx, c)
		if err != nil {
			return nil, err
		}

		out = append(out, models.CollectionStats{Collection: c, Count: n})
	}

	return out, nil
}

// Clear removes every record of collection.
func (v *VectorIndex) Clear(ctx context.Context, collection string) error {
	if err := v.repo.Clear(ctx, collection); err != nil {
		return fmt.Errorf("clear %s: %w", collection, err)
	}

	v.logger.InfoContext(ctx, "vector index collection cleared", "collection", collection)

	return nil
}
