package gbdt

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestStore_GetOrLoad(t *testing.T) {
	store := NewStore(discardLogger())
	path := writeModel(t, validModelJSON())

	m1, err := store.GetOrLoad(path)
	require.NoError(t, err)
	require.NotNil(t, m1)

	m2, err := store.GetOrLoad(path)
	require.NoError(t, err)
	assert.Same(t, m1, m2, "second access must return the cached model")
}

func TestStore_FailureLatched(t *testing.T) {
	store := NewStore(discardLogger())
	path := filepath.Join(t.TempDir(), "model.json")

	_, err := store.GetOrLoad(path)
	require.Error(t, err)

	// Creating the file afterwards must not matter: the failure is cached.
	require.NoError(t, os.WriteFile(path, []byte(validModelJSON()), 0o644))
	_, err = store.GetOrLoad(path)
	assert.Error(t, err)
}

func TestStore_DistinctPaths(t *testing.T) {
	store := NewStore(discardLogger())

	good := writeModel(t, validModelJSON())
	bad := filepath.Join(t.TempDir(), "missing.json")

	_, err := store.GetOrLoad(bad)
	assert.Error(t, err)

	m, err := store.GetOrLoad(good)
	require.NoError(t, err)
	assert.NotNil(t, m)
}
