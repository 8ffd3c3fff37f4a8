package storage

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFSStoreSaveAndOpen(t *testing.T) {
	store, err := NewFSStore(t.TempDir())
	require.NoError(t, err)

	ctx := context.Background()
	path, err := store.Save(ctx, "assets/proj-1", "collection.json", strings.NewReader(`{"info":{}}`))
	require.NoError(t, err)
	assert.Equal(t, "assets/proj-1/collection.json", path)

	rc, err := store.Open(ctx, path)
	require.NoError(t, err)
	defer rc.Close()

	content, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, `{"info":{}}`, string(content))
}

func TestFSStoreExists(t *testing.T) {
	store, err := NewFSStore(t.TempDir())
	require.NoError(t, err)

	ctx := context.Background()

	ok, err := store.Exists(ctx, "missing/file.json")
	require.NoError(t, err)
	assert.False(t, ok)

	path, err := store.Save(ctx, "reports", "summary.json", strings.NewReader("{}"))
	require.NoError(t, err)

	ok, err = store.Exists(ctx, path)
	require.NoError(t, err)
	assert.True(t, ok)

	// Empty artifacts do not count as present.
	empty, err := store.Save(ctx, "reports", "empty.json", strings.NewReader(""))
	require.NoError(t, err)
	ok, err = store.Exists(ctx, empty)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestFSStoreDelete(t *testing.T) {
	store, err := NewFSStore(t.TempDir())
	require.NoError(t, err)

	ctx := context.Background()
	path, err := store.Save(ctx, "runs", "raw.txt", strings.NewReader("output"))
	require.NoError(t, err)

	require.NoError(t, store.Delete(ctx, path))

	ok, err := store.Exists(ctx, path)
	require.NoError(t, err)
	assert.False(t, ok)

	// Deleting a missing artifact is not an error.
	require.NoError(t, store.Delete(ctx, path))
}

func TestFSStoreRejectsEscapingPaths(t *testing.T) {
	root := t.TempDir()
	store, err := NewFSStore(root)
	require.NoError(t, err)

	ctx := context.Background()

	_, err = store.Save(ctx, "..", "escape.txt", strings.NewReader("nope"))
	require.Error(t, err)

	_, err = store.Open(ctx, "../outside.txt")
	require.Error(t, err)

	_, err = store.Open(ctx, filepath.Join(root, "abs.txt"))
	require.Error(t, err)

	_, err = store.Exists(ctx, "")
	require.Error(t, err)
}

func TestFSStoreCreatesRoot(t *testing.T) {
	root := filepath.Join(t.TempDir(), "nested", "artifacts")
	_, err := NewFSStore(root)
	require.NoError(t, err)

	info, err := os.Stat(root)
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}

func TestFSStoreContextCancelled(t *testing.T) {
	store, err := NewFSStore(t.TempDir())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = store.Save(ctx, "a", "b.txt", strings.NewReader("x"))
	require.ErrorIs(t, err, context.Canceled)
}
