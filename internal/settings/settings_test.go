package settings

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenMissingFileStartsEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.json")

	f, err := Open(path)
	require.NoError(t, err)

	_, ok := f.Get("anything")
	assert.False(t, ok)
}

func TestSetPersistsBeforeReturn(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.json")

	f, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, f.Set("output_dir_v1", "/tmp/captures"))

	// A fresh open must see the value: Set is durable, not cached.
	reopened, err := Open(path)
	require.NoError(t, err)
	v, ok := reopened.Get("output_dir_v1")
	require.True(t, ok)
	assert.Equal(t, "/tmp/captures", v)
}

func TestSetOverwritesExistingKey(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.json")

	f, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, f.Set("k", "first"))
	require.NoError(t, f.Set("k", "second"))

	v, ok := f.Get("k")
	require.True(t, ok)
	assert.Equal(t, "second", v)
}

func TestOpenCorruptFileStartsEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0644))

	f, err := Open(path)
	require.NoError(t, err)

	_, ok := f.Get("k")
	assert.False(t, ok)

	// The store must stay usable after discarding the corrupt content.
	require.NoError(t, f.Set("k", "v"))
	v, ok := f.Get("k")
	require.True(t, ok)
	assert.Equal(t, "v", v)
}

func TestOpenCreatesParentDirectoryOnSet(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "dir", "settings.json")

	f, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, f.Set("k", "v"))

	_, err = os.Stat(path)
	assert.NoError(t, err)
}
