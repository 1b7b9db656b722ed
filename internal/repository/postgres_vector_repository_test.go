//go:build integration

package repository

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/healforge/healer/internal/healerrors"
	"github.com/healforge/healer/internal/models"
	"github.com/healforge/healer/pkg/database"
)

func setupPostgresRepo(t *testing.T) *PostgresVectorRepository {
	t.Helper()

	ctx := context.Background()

	pgContainer, err := postgres.Run(ctx,
		"pgvector/pgvector:pg16",
		postgres.WithDatabase("healer"),
		postgres.WithUsername("user"),
		postgres.WithPassword("password"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).WithStartupTimeout(60*time.Second)),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = pgContainer.Terminate(ctx) })

	connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	pool, err := database.NewVectorPool(ctx, connStr)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	repo := NewPostgresVectorRepository(pool)
	require.NoError(t, repo.Migrate(ctx, 3))

	return repo
}

func TestPostgresVectorRepository(t *testing.T) {
	repo := setupPostgresRepo(t)
	ctx := context.Background()

	n, err := repo.Insert(ctx, []models.IndexedRecord{
		{ID: "x", Collection: "things", Text: "x", Embedding: []float32{1, 0, 0}, Metadata: models.Metadata{"app_type": "rest_api"}},
		{ID: "xy", Collection: "things", Text: "xy", Embedding: []float32{0.8, 0.6, 0}, Metadata: models.Metadata{"app_type": "graphql"}},
		{ID: "z", Collection: "things", Text: "z", Embedding: []float32{0, 0, 1}, Metadata: models.Metadata{"app_type": "rest_api"}},
	})
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	t.Run("insert skips existing", func(t *testing.T) {
		n, err := repo.Insert(ctx, []models.IndexedRecord{{ID: "x", Collection: "things", Text: "other", Embedding: []float32{0, 1, 0}}})
		require.NoError(t, err)
		assert.Zero(t, n)
	})

	t.Run("query with filter", func(t *testing.T) {
		got, err := repo.Query(ctx, "things", []float32{1, 0, 0}, 5, models.Metadata{"app_type": "rest_api"})
		require.NoError(t, err)
		require.Len(t, got, 2)
		assert.Equal(t, "x", got[0].Record.ID)
		assert.InDelta(t, 1.0, got[0].Similarity, 1e-5)
	})

	t.Run("concurrent increments are not lost", func(t *testing.T) {
		var wg sync.WaitGroup
		for range 10 {
			wg.Add(1)

			go func() {
				defer wg.Done()

				_, err := repo.IncrementCounters(ctx, "things", "x", map[string]int64{"usage_count": 1})
				assert.NoError(t, err)
			}()
		}
		wg.Wait()

		got, err := repo.Get(ctx, "things", "x")
		require.NoError(t, err)
		assert.Equal(t, int64(10), got.Metadata.Int("usage_count"))
	})

	t.Run("update merges metadata", func(t *testing.T) {
		got, err := repo.Update(ctx, "things", "z", models.RecordUpdate{Metadata: models.Metadata{"reason": "r"}})
		require.NoError(t, err)
		assert.Equal(t, "rest_api", got.Metadata.String("app_type"))
		assert.Equal(t, "r", got.Metadata.String("reason"))
	})

	t.Run("missing record", func(t *testing.T) {
		_, err := repo.Get(ctx, "things", "nope")
		require.ErrorIs(t, err, healerrors.ErrNotFound)
	})

	t.Run("delete where and clear", func(t *testing.T) {
		n, err := repo.DeleteWhere(ctx, "things", models.Metadata{"app_type": "graphql"})
		require.NoError(t, err)
		assert.Equal(t, 1, n)

		require.NoError(t, repo.Clear(ctx, "things"))

		count, err := repo.Count(ctx, "things")
		require.NoError(t, err)
		assert.Zero(t, count)
	})
}
