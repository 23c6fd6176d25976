package credstore

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMask(t *testing.T) {
	assert.Equal(t, "********", Mask("short"))
	assert.Equal(t, "********", Mask("12345678")) // exactly 8 chars
	assert.Equal(t, "sk-a...6789", Mask("sk-abcdefghij3456789"))
}

func TestValidateFormat(t *testing.T) {
	assert.True(t, ValidateFormat("sk-"+string(make([]byte, 20))))
	assert.False(t, ValidateFormat("sk-short"))
	assert.True(t, ValidateFormat("sk-ant-"+string(make([]byte, 20))))
	assert.False(t, ValidateFormat("sk-ant-short"))
	assert.True(t, ValidateFormat("AIzaSyAbcdefghijklmnop"))
	assert.True(t, ValidateFormat("unrecognized-but-long-enough"))
	assert.False(t, ValidateFormat("short"))
}

func TestMemoryStore_RoundTrip(t *testing.T) {
	s := NewMemoryStore()

	_, err := s.Get("openai")
	require.ErrorIs(t, err, ErrNotFound)

	rec := Record{APIKey: "sk-test-key"}
	require.NoError(t, s.Set("openai", rec))

	got, err := s.Get("openai")
	require.NoError(t, err)
	assert.True(t, rec.Equal(got))

	ids, err := s.List()
	require.NoError(t, err)
	assert.Equal(t, []string{"openai"}, ids)

	require.NoError(t, s.Delete("openai"))
	_, err = s.Get("openai")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestFileStore_RoundTripAndPersistence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "credentials.json")
	s := NewFileStore(path)

	_, err := s.Get("anthropic")
	require.ErrorIs(t, err, ErrNotFound)

	rec := Record{AccessToken: "at", RefreshToken: "rt", ExpiresAt: "2026-01-01T00:00:00Z"}
	require.NoError(t, s.Set("anthropic", rec))

	reopened := NewFileStore(path)
	got, err := reopened.Get("anthropic")
	require.NoError(t, err)
	assert.True(t, rec.Equal(got))

	require.NoError(t, reopened.Delete("anthropic"))
	_, err = reopened.Get("anthropic")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRecord_Equal(t *testing.T) {
	a := Record{APIKey: "k1", Host: "h1"}
	b := Record{APIKey: "k1", Host: "h1"}
	c := Record{APIKey: "k2", Host: "h1"}
	assert.True(t, a.Equal(b))
	assert.False(t, a.Equal(c))
}
