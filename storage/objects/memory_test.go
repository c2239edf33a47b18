package objects

import (
	"context"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/fieldops/core"
)

func TestMemoryStore(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	require.NoError(t, store.Put(ctx, "t1/a.txt", strings.NewReader("hello"), 5, "text/plain"))
	require.NoError(t, store.Put(ctx, "t1/b.bin", strings.NewReader("1234567"), 7, ""))
	require.NoError(t, store.Put(ctx, "t2/c.txt", strings.NewReader("xyz"), 3, "text/plain"))

	rc, info, err := store.Get(ctx, "t1/a.txt")
	require.NoError(t, err)
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))
	assert.Equal(t, int64(5), info.Size)
	assert.Equal(t, "text/plain", info.ContentType)

	_, info, err = store.Get(ctx, "t1/b.bin")
	require.NoError(t, err)
	assert.NotEmpty(t, info.ContentType, "content type is sniffed when missing")

	usage, err := store.Usage(ctx, "t1/")
	require.NoError(t, err)
	assert.Equal(t, int64(12), usage)

	require.NoError(t, store.Delete(ctx, "t1/a.txt"))
	_, _, err = store.Get(ctx, "t1/a.txt")
	assert.True(t, core.IsNotFound(err))
	assert.True(t, core.IsNotFound(store.Delete(ctx, "t1/a.txt")))

	usage, err = store.Usage(ctx, "t1/")
	require.NoError(t, err)
	assert.Equal(t, int64(7), usage)
}

func TestNewPrefixed(t *testing.T) {
	ctx := context.Background()
	conf := core.NewTestConfig()
	conf.Storage.Prefix = "/uploads/"

	store, err := New(ctx, conf)
	require.NoError(t, err)
	require.NoError(t, store.Put(ctx, "t1/a.txt", strings.NewReader("hello"), 5, "text/plain"))

	_, info, err := store.Get(ctx, "t1/a.txt")
	require.NoError(t, err)
	assert.Equal(t, "t1/a.txt", info.Key)

	inner := store.(*prefixed).store.(*MemoryStore)
	_, _, err = inner.Get(ctx, "uploads/t1/a.txt")
	assert.NoError(t, err)

	usage, err := store.Usage(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, int64(5), usage)
}

func TestNewUnknownBackend(t *testing.T) {
	conf := core.NewTestConfig()
	conf.Storage.Backend = "ftp"
	_, err := New(context.Background(), conf)
	assert.Error(t, err)
}
