package client

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coregx/chatrelay"
	"github.com/coregx/chatrelay/model"
)

func testCredentials() Credentials {
	return Credentials{
		Token:     "tok",
		ExpiresAt: time.Now().Add(time.Hour).UTC().Truncate(time.Second),
		Identity:  model.Identity{ID: 2, Name: "bob"},
	}
}

func TestFileStore_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "credentials.json")
	store := NewFileStore(path)

	_, err := store.Load()
	assert.True(t, chatrelay.IsNoData(err))

	want := testCredentials()
	require.NoError(t, store.Save(want))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	got, err := store.Load()
	require.NoError(t, err)
	assert.Equal(t, want.Token, got.Token)
	assert.Equal(t, want.Identity, got.Identity)
	assert.True(t, want.ExpiresAt.Equal(got.ExpiresAt))

	require.NoError(t, store.Clear())
	require.NoError(t, store.Clear())
	_, err = store.Load()
	assert.True(t, chatrelay.IsNoData(err))
}

func TestFileStore_Corrupt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "credentials.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o600))

	_, err := NewFileStore(path).Load()
	assert.Error(t, err)

	_, err = NewHolder(NewFileStore(path))
	assert.Error(t, err)
}

func TestHolder_RestoresAndInvalidates(t *testing.T) {
	path := filepath.Join(t.TempDir(), "credentials.json")
	store := NewFileStore(path)
	require.NoError(t, store.Save(testCredentials()))

	h, err := NewHolder(store)
	require.NoError(t, err)

	c, ok := h.Get()
	require.True(t, ok)
	assert.Equal(t, "tok", c.Token)
	assert.Equal(t, "tok", h.Token())

	require.NoError(t, h.Invalidate())
	_, ok = h.Get()
	assert.False(t, ok)
	assert.Empty(t, h.Token())

	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err))
}

func TestHolder_MemoryOnly(t *testing.T) {
	h, err := NewHolder(nil)
	require.NoError(t, err)
	assert.Empty(t, h.Token())

	require.NoError(t, h.Set(testCredentials()))
	assert.Equal(t, "tok", h.Token())
	require.NoError(t, h.Invalidate())
	assert.Empty(t, h.Token())
}

func TestCredentials_Valid(t *testing.T) {
	now := time.Now()
	c := testCredentials()

	assert.True(t, c.Valid(now))
	assert.False(t, c.Valid(c.ExpiresAt))
	assert.False(t, Credentials{Identity: c.Identity}.Valid(now))
	assert.False(t, Credentials{Token: "tok"}.Valid(now))
}
