package state

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fiqir/dating-app/internal/api"
)

func TestFileStore_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "session.json")
	s := NewFileStore(path)

	snap := &Snapshot{
		Token:   "tok-abc",
		Profile: &api.Profile{ID: "u-1", Name: "Hanna", KYCLevel: 2},
		Coins:   420,
		SavedAt: 1700000000,
	}
	require.NoError(t, s.Save(snap))

	got, err := s.Load()
	require.NoError(t, err)
	assert.Equal(t, snap, got)
}

func TestFileStore_MissingFileIsEmptyNotError(t *testing.T) {
	s := NewFileStore(filepath.Join(t.TempDir(), "never-written.json"))

	got, err := s.Load()
	require.NoError(t, err)
	assert.Empty(t, got.Token)
	assert.Nil(t, got.Profile)
}

func TestFileStore_Clear(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.json")
	s := NewFileStore(path)

	require.NoError(t, s.Save(&Snapshot{Token: "tok"}))
	require.NoError(t, s.Clear())
	require.NoError(t, s.Clear(), "clearing twice is a no-op")

	got, err := s.Load()
	require.NoError(t, err)
	assert.Empty(t, got.Token)
}

func TestFileStore_TokenFileIsPrivate(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("unix permission bits")
	}
	path := filepath.Join(t.TempDir(), "session.json")
	s := NewFileStore(path)
	require.NoError(t, s.Save(&Snapshot{Token: "tok"}))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.EqualValues(t, 0o600, info.Mode().Perm())
}

func TestFileStore_CorruptFileSurfacesError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o600))

	_, err := NewFileStore(path).Load()
	require.Error(t, err)
}

func TestMemoryStore(t *testing.T) {
	s := NewMemoryStore()

	got, err := s.Load()
	require.NoError(t, err)
	assert.Empty(t, got.Token)

	require.NoError(t, s.Save(&Snapshot{Token: "tok", Coins: 7}))
	got, err = s.Load()
	require.NoError(t, err)
	assert.Equal(t, "tok", got.Token)
	assert.EqualValues(t, 7, got.Coins)

	// Mutating the returned copy must not leak back into the store.
	got.Token = "mutated"
	again, err := s.Load()
	require.NoError(t, err)
	assert.Equal(t, "tok", again.Token)

	require.NoError(t, s.Clear())
	got, err = s.Load()
	require.NoError(t, err)
	assert.Empty(t, got.Token)
}
