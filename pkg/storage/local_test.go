package storage

import (
	"context"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalStoreRoundTrip(t *testing.T) {
	store, err := NewLocalStore(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, store.Check(ctx))

	loc, err := store.Put(ctx, "stage/orders.csv.1", []byte("a,b\n"), nil)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(loc, "file://"))
	assert.True(t, strings.HasSuffix(loc, "stage/orders.csv.1"))

	rc, err := store.Open(ctx, "stage/orders.csv.1")
	require.NoError(t, err)
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	require.NoError(t, rc.Close())
	assert.Equal(t, "a,b\n", string(data))

	require.NoError(t, store.Delete(ctx, "stage/orders.csv.1"))
	require.NoError(t, store.Delete(ctx, "stage/orders.csv.1"), "deleting twice is fine")

	_, err = store.Open(ctx, "stage/orders.csv.1")
	assert.Error(t, err)
}

func TestNewLocalStoreRequiresRoot(t *testing.T) {
	_, err := NewLocalStore("")
	assert.Error(t, err)
}
