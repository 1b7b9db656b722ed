package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/healforge/healer/internal/datatypes"
	"github.com/healforge/healer/internal/healerrors"
	"github.com/healforge/healer/internal/models"
)

const (
	notFoundError = "AssertionError: assert 404 == 200"
	getUsersTest  = "def test_get_users(client):\n    response = client.get(\"/users\")\n    assert response.status_code == 200\n"
	getUsersFixed = "def test_get_users(client):\n    response = client.get(\"/api/users\")\n    assert response.status_code == 200\n"
)

func TestHealingKB_Lookup(t *testing.T) {
	ctx := context.Background()
	kb := NewHealingKB(testMemoryParams(newTestIndex(t)))

	_, hit := kb.Lookup(ctx, notFoundError, getUsersTest, "rest_api")
	assert.False(t, hit)

	id, err := kb.Record(ctx, HealingOutcome{
		ErrorText:    notFoundError,
		OriginalCode: getUsersTest,
		HealedCode:   getUsersFixed,
		AppType:      "rest_api",
		Success:      true,
	})
	require.NoError(t, err)
	require.NotEmpty(t, id)

	match, hit := kb.Lookup(ctx, notFoundError, getUsersTest, "rest_api")
	require.True(t, hit)
	assert.Equal(t, id, match.ID)
	assert.Equal(t, getUsersFixed, match.Pattern.HealedCode)
	assert.Equal(t, "AssertionError", match.Pattern.ErrorType)
	assert.Equal(t, "test_get_users", match.Pattern.TestName)
	assert.InDelta(t, 1.0, match.Confidence, 1e-6)

	t.Run("other error is below the healing threshold", func(t *testing.T) {
		_, hit := kb.Lookup(ctx, "AssertionError: assert 500 == 200", getUsersTest, "rest_api")
		assert.False(t, hit)
	})

	t.Run("other app type", func(t *testing.T) {
		_, hit := kb.Lookup(ctx, notFoundError, getUsersTest, "graphql")
		assert.False(t, hit)
	})

	t.Run("low success rate", func(t *testing.T) {
		same, err := kb.Record(ctx, HealingOutcome{
			ErrorText:    notFoundError,
			OriginalCode: getUsersTest,
			HealedCode:   getUsersFixed,
			AppType:      "rest_api",
		})
		require.NoError(t, err)
		assert.Equal(t, id, same, "the failure is consolidated into the existing pattern")

		_, hit := kb.Lookup(ctx, notFoundError, getUsersTest, "rest_api")
		assert.False(t, hit, "1 success out of 2 is below the success-rate floor")
	})
}

func TestHealingKB_Record(t *testing.T) {
	ctx := context.Background()
	idx := newTestIndex(t)
	kb := NewHealingKB(testMemoryParams(idx))

	_, err := kb.Record(ctx, HealingOutcome{ErrorText: notFoundError, OriginalCode: getUsersTest})
	require.ErrorIs(t, err, healerrors.ErrValidation)

	badFix := "def test_get_users(client):\n    assert True\n"

	id, err := kb.Record(ctx, HealingOutcome{
		ErrorText:    notFoundError,
		OriginalCode: getUsersTest,
		HealedCode:   badFix,
	})
	require.NoError(t, err)

	rec, err := idx.Get(ctx, datatypes.CollectionHealingPatterns, id)
	require.NoError(t, err)

	pattern := models.HealingPatternFromMetadata(rec.Metadata)
	assert.Equal(t, int64(0), pattern.SuccessCount)
	assert.Equal(t, int64(1), pattern.FailureCount)

	_, err = kb.Record(ctx, HealingOutcome{
		ErrorText:    notFoundError,
		OriginalCode: getUsersTest,
		HealedCode:   getUsersFixed,
		Success:      true,
	})
	require.NoError(t, err)

	rec, err = idx.Get(ctx, datatypes.CollectionHealingPatterns, id)
	require.NoError(t, err)

	pattern = models.HealingPatternFromMetadata(rec.Metadata)
	assert.Equal(t, int64(1), pattern.SuccessCount)
	assert.Equal(t, int64(1), pattern.FailureCount)
	assert.Equal(t, getUsersFixed, pattern.HealedCode, "the fix that passed replaces the stored code")

	n, err := kb.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	require.NoError(t, kb.Clear(ctx))

	n, err = kb.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestHealingKB_rejects_negative_counters(t *testing.T) {
	ctx := context.Background()
	idx := newTestIndex(t)
	kb := NewHealingKB(testMemoryParams(idx))

	id, err := kb.Record(ctx, HealingOutcome{
		ErrorText:    notFoundError,
		OriginalCode: getUsersTest,
		HealedCode:   getUsersFixed,
		Success:      true,
	})
	require.NoError(t, err)

	_, err = idx.Update(ctx, datatypes.CollectionHealingPatterns, id,
		models.Metadata{models.MetaSuccessCount: 5, models.MetaFailureCount: -1}, nil)
	require.NoError(t, err)

	_, hit := kb.Lookup(ctx, notFoundError, getUsersTest, "")
	assert.False(t, hit, "a rate above 1 from a negative counter is never trusted")
}
