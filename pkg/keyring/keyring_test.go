package keyring

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileKeyringRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "kr", "keyring.json")
	km := NewFileKeyringManager(path, "pw")
	assert.True(t, km.UsesFile())

	require.NoError(t, km.Set("svc", "alice", "s3cret"))
	got, err := km.Get("svc", "alice")
	require.NoError(t, err)
	assert.Equal(t, "s3cret", got)

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "s3cret")

	require.NoError(t, km.Delete("svc", "alice"))
	_, err = km.Get("svc", "alice")
	assert.ErrorIs(t, err, ErrNotFound)

	// Deleting twice is fine.
	assert.NoError(t, km.Delete("svc", "alice"))
}

func TestFileKeyringMissingFile(t *testing.T) {
	fk := NewFileKeyring(filepath.Join(t.TempDir(), "none.json"), "pw")
	_, err := fk.Get("svc", "bob")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, fk.Delete("svc", "bob"))
}

func TestFileKeyringWrongPassword(t *testing.T) {
	path := filepath.Join(t.TempDir(), "keyring.json")
	require.NoError(t, NewFileKeyring(path, "right").Set("svc", "u", "v"))

	_, err := NewFileKeyring(path, "wrong").Get("svc", "u")
	assert.Error(t, err)
	assert.NotErrorIs(t, err, ErrNotFound)
}
