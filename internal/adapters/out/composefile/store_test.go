package composefile

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bnema/pinup/internal/domain"
	"github.com/bnema/pinup/internal/testutils"
)

func TestStore_LoadSaveRoundTrip(t *testing.T) {
	ctx := testutils.TestContext(t)
	dir := t.TempDir()
	path := testutils.WriteFile(t, dir, "compose.yaml", "# stack\nservices:\n  web:\n    image: \"nginx:1\"  # front\n")
	require.NoError(t, os.Chmod(path, 0600))

	store := NewStore(zerolog.Nop())
	doc, err := store.Load(ctx, path)
	require.NoError(t, err)

	require.NoError(t, doc.SetImage("web", "nginx:1@"+testutils.Digest("c")))
	require.NoError(t, store.Save(ctx, path, doc))

	assert.Equal(t, "# stack\nservices:\n  web:\n    image: \"nginx:1@"+testutils.Digest("c")+"\"  # front\n", testutils.ReadFile(t, path))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestStore_LoadErrors(t *testing.T) {
	ctx := testutils.TestContext(t)
	store := NewStore(zerolog.Nop())

	_, err := store.Load(ctx, filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorIs(t, err, os.ErrNotExist)

	path := testutils.WriteFile(t, t.TempDir(), "compose.yaml", "volumes: {}\n")
	_, err = store.Load(ctx, path)
	assert.ErrorIs(t, err, domain.ErrManifestStructure)
	assert.Contains(t, err.Error(), path)
}
