package service

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/healforge/healer/internal/datatypes"
	"github.com/healforge/healer/internal/healerrors"
	"github.com/healforge/healer/internal/models"
)

const statusCodeError = "AssertionError: status_code == 200"

func wrongPath() models.ClassificationResult {
	return models.ClassificationResult{
		Classification: datatypes.TestError,
		Reason:         "wrong path",
		Confidence:     datatypes.ConfidenceHigh,
	}
}

func TestClassificationCache_hit_for_other_endpoint(t *testing.T) {
	ctx := context.Background()
	cache := NewClassificationCache(testMemoryParams(newTestIndex(t)))

	users := `def test_get_resource(client):
    response = client.get("/api/users")
    assert response.status_code == 200
`
	products := `def test_get_resource(client):
    response = client.get("/api/products")
    assert response.status_code == 200
`

	_, hit := cache.Lookup(ctx, statusCodeError, users, "rest_api")
	assert.False(t, hit, "empty cache never hits")

	id, err := cache.Record(ctx, statusCodeError, users, "rest_api", wrongPath())
	require.NoError(t, err)
	require.NotEmpty(t, id)

	got, hit := cache.Lookup(ctx, statusCodeError, products, "rest_api")
	require.True(t, hit)
	assert.True(t, got.FromCache)
	assert.Equal(t, datatypes.TestError, got.Classification)
	assert.Equal(t, "[Cached] wrong path", got.Reason)
	assert.Equal(t, datatypes.ConfidenceHigh, got.Confidence)
	assert.GreaterOrEqual(t, got.Similarity, 0.92)

	rec, err := cache.core.index.Get(ctx, datatypes.CollectionClassifications, id)
	require.NoError(t, err)
	assert.Equal(t, int64(2), rec.Metadata.Int(models.MetaUsageCount), "hit bumps usage count")

	_, hit = cache.Lookup(ctx, statusCodeError, products, "graphql")
	assert.False(t, hit, "other app types are not consulted")
}

func TestClassificationCache_Record_consolidates(t *testing.T) {
	ctx := context.Background()
	cache := NewClassificationCache(testMemoryParams(newTestIndex(t)))

	first, err := cache.Record(ctx, statusCodeError, usersTest, "rest_api", wrongPath())
	require.NoError(t, err)

	second, err := cache.Record(ctx, statusCodeError, usersTest, "rest_api", wrongPath())
	require.NoError(t, err)
	assert.Equal(t, first, second)

	n, err := cache.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	rec, err := cache.core.index.Get(ctx, datatypes.CollectionClassifications, first)
	require.NoError(t, err)
	assert.Equal(t, int64(2), rec.Metadata.Int(models.MetaUsageCount))

	_, err = cache.Record(ctx, statusCodeError, usersTest, "rest_api", models.ClassificationResult{Classification: "MAYBE"})
	require.ErrorIs(t, err, healerrors.ErrValidation)
}

func TestClassificationCache_Record_per_app_type(t *testing.T) {
	ctx := context.Background()
	cache := NewClassificationCache(testMemoryParams(newTestIndex(t)))

	restID, err := cache.Record(ctx, statusCodeError, usersTest, "rest_api", wrongPath())
	require.NoError(t, err)

	defect := models.ClassificationResult{
		Classification: datatypes.ActualDefect,
		Reason:         "endpoint returns 500",
		Confidence:     datatypes.ConfidenceHigh,
	}

	graphqlID, err := cache.Record(ctx, statusCodeError, usersTest, "graphql", defect)
	require.NoError(t, err)
	assert.NotEqual(t, restID, graphqlID)

	n, err := cache.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	got, hit := cache.Lookup(ctx, statusCodeError, usersTest, "graphql")
	require.True(t, hit)
	assert.Equal(t, datatypes.ActualDefect, got.Classification)

	got, hit = cache.Lookup(ctx, statusCodeError, usersTest, "rest_api")
	require.True(t, hit)
	assert.Equal(t, datatypes.TestError, got.Classification)
}

func TestMemoryCore_record_existing_id_bumps_counters(t *testing.T) {
	ctx := context.Background()
	cache := NewClassificationCache(testMemoryParams(newTestIndex(t)))
	meta := models.Metadata{models.MetaUsageCount: 1}
	deltas := map[string]int64{models.MetaUsageCount: 1}
	scope := models.Metadata{models.MetaAppType: "rest_api"}

	// A consolidation threshold no similarity can exceed forces the insert path every time.
	first, err := cache.core.record(ctx, "KeyError: 'id' | test_get_users", scope, 1.1, deltas, nil, meta)
	require.NoError(t, err)

	second, err := cache.core.record(ctx, "KeyError: 'id' | test_get_users", scope, 1.1, deltas, nil, meta)
	require.NoError(t, err)
	assert.Equal(t, first, second)

	rec, err := cache.core.index.Get(ctx, datatypes.CollectionClassifications, first)
	require.NoError(t, err)
	assert.Equal(t, int64(2), rec.Metadata.Int(models.MetaUsageCount))
}

func TestMemoryCore_record_concurrent_writers(t *testing.T) {
	ctx := context.Background()
	cache := NewClassificationCache(testMemoryParams(newTestIndex(t)))

	const writers = 8

	var (
		wg  sync.WaitGroup
		ids = make([]string, writers)
	)

	for i := range writers {
		wg.Add(1)

		go func() {
			defer wg.Done()

			id, err := cache.Record(ctx, statusCodeError, usersTest, "rest_api", wrongPath())
			assert.NoError(t, err)

			ids[i] = id
		}()
	}

	wg.Wait()

	n, err := cache.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	rec, err := cache.core.index.Get(ctx, datatypes.CollectionClassifications, ids[0])
	require.NoError(t, err)
	assert.Equal(t, int64(writers), rec.Metadata.Int(models.MetaUsageCount), "every outcome is counted")
}

func TestClassificationCache_threshold_monotonic(t *testing.T) {
	ctx := context.Background()
	idx := newTestIndex(t)

	params := testMemoryParams(idx)
	strict := NewClassificationCache(params)

	params.Thresholds.Classification = 0.85
	lenient := NewClassificationCache(params)

	stored := "def test_get_users(client):\n    assert response.status_code == 200\n"
	_, err := strict.Record(ctx, statusCodeError, stored, "", wrongPath())
	require.NoError(t, err)

	queries := []string{
		stored,
		"def test_get_products(client):\n    assert response.status_code == 200\n",
		"def test_create_order(client):\n    assert body['id'] > 0\n",
	}

	for _, q := range queries {
		_, strictHit := strict.Lookup(ctx, statusCodeError, q, "")
		_, lenientHit := lenient.Lookup(ctx, statusCodeError, q, "")

		if strictHit {
			assert.True(t, lenientHit, "lower threshold rejected what the higher one accepted: %q", q)
		}
	}

	_, strictHit := strict.Lookup(ctx, statusCodeError, queries[1], "")
	_, lenientHit := lenient.Lookup(ctx, statusCodeError, queries[1], "")
	assert.False(t, strictHit)
	assert.True(t, lenientHit)
}

func TestClassificationCache_fails_closed(t *testing.T) {
	ctx := context.Background()
	idx := newTestIndex(t)
	cache := NewClassificationCache(testMemoryParams(idx))

	id, err := cache.Record(ctx, statusCodeError, usersTest, "", wrongPath())
	require.NoError(t, err)

	t.Run("corrupt verdict", func(t *testing.T) {
		_, err := idx.Update(ctx, datatypes.CollectionClassifications, id,
			models.Metadata{models.MetaClassification: "PROBABLY_FINE"}, nil)
		require.NoError(t, err)

		_, hit := cache.Lookup(ctx, statusCodeError, usersTest, "")
		assert.False(t, hit)
	})

	t.Run("negative usage count", func(t *testing.T) {
		_, err := idx.Update(ctx, datatypes.CollectionClassifications, id,
			models.Metadata{models.MetaClassification: string(datatypes.TestError), models.MetaUsageCount: -3}, nil)
		require.NoError(t, err)

		_, hit := cache.Lookup(ctx, statusCodeError, usersTest, "")
		assert.False(t, hit)
	})
}

func TestClassificationCache_degrades_without_embeddings(t *testing.T) {
	ctx := context.Background()
	idx := newTestIndex(t)

	_, err := idx.Upsert(ctx, datatypes.CollectionClassifications, []string{"seed"}, nil, nil)
	require.NoError(t, err)

	broken := NewVectorIndex(idx.repo, unavailableEmbedder{}, nil)
	cache := NewClassificationCache(testMemoryParams(broken))

	_, hit := cache.Lookup(ctx, statusCodeError, usersTest, "")
	assert.False(t, hit)
	assert.True(t, cache.Degraded())

	id, err := cache.Record(ctx, statusCodeError, usersTest, "", wrongPath())
	require.NoError(t, err)
	assert.Empty(t, id, "degraded cache skips writes")
}
