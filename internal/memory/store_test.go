package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStoreAndSearchReflections(t *testing.T) {
	store, err := New(Options{}, nil)
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, store.StoreReflection(ctx, "run-1", "analyst",
		"summarize quarterly revenue", "splitting the ledger by region made the totals reconcile"))
	require.NoError(t, store.StoreReflection(ctx, "run-2", "analyst",
		"fetch weather data", "the upstream api rate-limits aggressive retries"))

	results, err := store.SearchReflections(ctx, "quarterly revenue ledger totals", 1)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Contains(t, results[0], "ledger")
}

func TestSearchEmptyStoreReturnsNothing(t *testing.T) {
	store, err := New(Options{}, nil)
	require.NoError(t, err)

	results, err := store.SearchReflections(context.Background(), "anything", 5)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestLimitClampedToStoredCount(t *testing.T) {
	store, err := New(Options{}, nil)
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, store.StoreReflection(ctx, "run-1", "a", "task", "only reflection"))

	results, err := store.SearchReflections(ctx, "reflection", 10)
	require.NoError(t, err)
	assert.Len(t, results, 1)
}

func TestEmptyReflectionIsSkipped(t *testing.T) {
	store, err := New(Options{}, nil)
	require.NoError(t, err)

	require.NoError(t, store.StoreReflection(context.Background(), "run-1", "a", "task", ""))
	assert.Equal(t, 0, store.Count())
}

func TestPersistenceAcrossReopen(t *testing.T) {
	dir := t.TempDir()

	store, err := New(Options{PersistPath: dir}, nil)
	require.NoError(t, err)
	require.NoError(t, store.StoreReflection(context.Background(), "run-1", "a",
		"archive reports", "zip before upload to halve transfer time"))

	reopened, err := New(Options{PersistPath: dir}, nil)
	require.NoError(t, err)
	results, err := reopened.SearchReflections(context.Background(), "zip upload transfer", 1)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Contains(t, results[0], "zip")
}
