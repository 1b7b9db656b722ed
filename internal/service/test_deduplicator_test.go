package service

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func listTest(name, variable, endpoint string) string {
	return fmt.Sprintf(`def %s(client):
    %s = client.get("%s")
    assert %s.status_code == 200
    data = %s.json()
    assert isinstance(data, list)
    assert len(data) >= 0


`, name, variable, endpoint, variable, variable)
}

func listTestFile() string {
	return "import pytest\n\n\n" +
		listTest("test_list_users", "response", "/api/users") +
		listTest("test_list_all_users", "result", "/api/users") +
		listTest("test_list_products", "response", "/api/products")
}

func TestTestDeduplicator_Deduplicate(t *testing.T) {
	ctx := context.Background()
	dedup := NewTestDeduplicator(testMemoryParams(newTestIndex(t)))

	res, err := dedup.Deduplicate(ctx, listTestFile(), "functional", "tests/test_users.py")
	require.NoError(t, err)

	assert.Equal(t, 3, res.OriginalCount)
	assert.Equal(t, 1, res.RemovedCount)
	require.Len(t, res.Removed, 1)
	assert.Equal(t, "test_list_all_users", res.Removed[0].TestName)
	assert.Equal(t, "test_list_users", res.Removed[0].DuplicateOf)
	assert.Equal(t, "tests/test_users.py", res.Removed[0].DuplicateFile)
	assert.GreaterOrEqual(t, res.Removed[0].Similarity, 0.90)

	assert.Contains(t, res.KeptCode, "import pytest")
	assert.Contains(t, res.KeptCode, "def test_list_users(")
	assert.Contains(t, res.KeptCode, "def test_list_products(", "same shape against another endpoint is kept")
	assert.NotContains(t, res.KeptCode, "test_list_all_users")

	n, err := dedup.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	t.Run("rerun does not flag tests as duplicates of themselves", func(t *testing.T) {
		again, err := dedup.Deduplicate(ctx, listTestFile(), "functional", "tests/test_users.py")
		require.NoError(t, err)
		assert.Equal(t, 1, again.RemovedCount)
		assert.Equal(t, res.KeptCode, again.KeptCode)

		n, err := dedup.Count(ctx)
		require.NoError(t, err)
		assert.Equal(t, 2, n)
	})

	t.Run("other category is not consulted", func(t *testing.T) {
		_, dup := dedup.FindDuplicate(ctx, "test_list_all_users",
			listTest("test_list_all_users", "result", "/api/users"), "security")
		assert.False(t, dup)
	})
}

func TestTestDeduplicator_no_tests(t *testing.T) {
	dedup := NewTestDeduplicator(testMemoryParams(newTestIndex(t)))

	res, err := dedup.Deduplicate(context.Background(), "import os\n", "", "")
	require.NoError(t, err)
	assert.Equal(t, "import os\n", res.KeptCode)
	assert.Zero(t, res.OriginalCount)
}

func TestSameSet(t *testing.T) {
	assert.True(t, sameSet([]string{"get", "post"}, []string{"post", "get"}))
	assert.True(t, sameSet(nil, []string{}))
	assert.False(t, sameSet([]string{"get"}, []string{"get", "post"}))
}
