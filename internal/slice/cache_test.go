package slice

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCacheStoreRoundTrip(t *testing.T) {
	store := NewCacheStore(t.TempDir(), 2)
	ctx := context.Background()
	key := Identity("https://example.com/x")

	require.False(t, store.Exists(key))
	require.Empty(t, store.LoadAll(ctx, key))

	written := store.SaveAll(ctx, key, [][]byte{[]byte("zero"), nil, []byte("two"), {}})
	require.Equal(t, 2, written)
	require.True(t, store.Exists(key))

	loaded := store.LoadAll(ctx, key)
	require.Equal(t, map[int][]byte{0: []byte("zero"), 2: []byte("two")}, loaded)

	require.NoError(t, store.Clear(key))
	require.False(t, store.Exists(key))
}

func TestCacheStoreSkipsUnusableFiles(t *testing.T) {
	store := NewCacheStore(t.TempDir(), 0)
	ctx := context.Background()
	key := "k"
	dir := store.Dir(key)
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "7"), 0755))
	files := map[string]string{
		"1":      "good",
		"2.part": "in flight",
		"3":      "",
		"-4":     "negative",
		"junk":   "junk",
	}
	for name, content := range files {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0644))
	}
	require.NoError(t, store.SaveManifest(key, Manifest{URL: "u", Size: 10, SliceSize: 5, Slices: 2}))

	require.Equal(t, map[int][]byte{1: []byte("good")}, store.LoadAll(ctx, key))
}

func TestCacheStoreSaveFinalizesPart(t *testing.T) {
	store := NewCacheStore(t.TempDir(), 1)
	require.NoError(t, store.Save(context.Background(), "k", 5, []byte("data")))
	_, err := os.Stat(filepath.Join(store.Dir("k"), "5.part"))
	require.True(t, os.IsNotExist(err))
	data, err := os.ReadFile(filepath.Join(store.Dir("k"), "5"))
	require.NoError(t, err)
	require.Equal(t, []byte("data"), data)
}

func TestCacheStoreManifest(t *testing.T) {
	store := NewCacheStore(t.TempDir(), 1)
	_, err := store.LoadManifest("k")
	require.Error(t, err)

	want := Manifest{URL: "https://example.com", Size: 5_000_000, SliceSize: 2_097_152, Slices: 3}
	require.NoError(t, store.SaveManifest("k", want))
	got, err := store.LoadManifest("k")
	require.NoError(t, err)
	require.True(t, sameLayout(want, *got))
	require.False(t, got.UpdatedAt.IsZero())

	require.NoError(t, os.WriteFile(filepath.Join(store.Dir("k"), manifestName), []byte("::not yaml"), 0644))
	_, err = store.LoadManifest("k")
	require.Error(t, err)
}

func TestCacheStoreDefaults(t *testing.T) {
	store := NewCacheStore("", 0)
	require.Equal(t, DefaultCacheDir, store.Root())
	require.Equal(t, filepath.Join(DefaultCacheDir, "abc"), store.Dir("abc"))
}
