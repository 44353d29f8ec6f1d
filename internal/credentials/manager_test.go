package credentials

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestManager(t *testing.T, fallback map[string]string) (*Manager, *MemoryStore) {
	t.Helper()
	vault, err := NewVault("test-secret", nil)
	require.NoError(t, err)
	store := NewMemoryStore()
	return NewManager(store, vault, fallback, nil), store
}

func TestVault_RoundTrip(t *testing.T) {
	v, err := NewVault("s3cret", nil)
	require.NoError(t, err)

	sealed, err := v.Seal("sk-abc")
	require.NoError(t, err)
	assert.NotContains(t, string(sealed), "sk-abc")

	got, err := v.Open(sealed)
	require.NoError(t, err)
	assert.Equal(t, "sk-abc", got)

	other, err := NewVault("different", nil)
	require.NoError(t, err)
	_, err = other.Open(sealed)
	assert.ErrorIs(t, err, ErrCorrupt)

	_, err = v.Open([]byte("short"))
	assert.ErrorIs(t, err, ErrCorrupt)
}

func TestVault_EphemeralKey(t *testing.T) {
	a, err := NewVault("", nil)
	require.NoError(t, err)
	b, err := NewVault("", nil)
	require.NoError(t, err)

	sealed, err := a.Seal("k")
	require.NoError(t, err)
	_, err = b.Open(sealed)
	assert.Error(t, err)
}

func TestManager_SetAndResolve(t *testing.T) {
	m, store := newTestManager(t, map[string]string{"openai": "from-config", "gemini": ""})
	ctx := context.Background()

	key, err := m.Credential(ctx, "openai")
	require.NoError(t, err)
	assert.Equal(t, "from-config", key)

	require.NoError(t, m.Set(ctx, "openai", "  sk-stored-1234 "))
	key, err = m.Credential(ctx, "openai")
	require.NoError(t, err)
	assert.Equal(t, "sk-stored-1234", key)

	raw, ok, _ := store.Get(ctx, "openai")
	require.True(t, ok)
	assert.NotContains(t, string(raw), "sk-stored")

	require.NoError(t, m.Clear(ctx, "openai"))
	key, err = m.Credential(ctx, "openai")
	require.NoError(t, err)
	assert.Equal(t, "from-config", key)
}

func TestManager_EmptySetIsRejected(t *testing.T) {
	m, _ := newTestManager(t, map[string]string{"openai": ""})
	ctx := context.Background()
	require.NoError(t, m.Set(ctx, "openai", "sk-1"))

	err := m.Set(ctx, "openai", "   ")
	assert.ErrorIs(t, err, ErrEmptyCredential)

	key, _ := m.Credential(ctx, "openai")
	assert.Equal(t, "sk-1", key, "a rejected empty set leaves the stored key alone")
}

func TestManager_UnknownProvider(t *testing.T) {
	m, _ := newTestManager(t, map[string]string{"openai": ""})
	assert.ErrorIs(t, m.Set(context.Background(), "mistral", "k"), ErrUnknownProvider)
	assert.ErrorIs(t, m.Clear(context.Background(), "mistral"), ErrUnknownProvider)
}

func TestManager_Status(t *testing.T) {
	m, _ := newTestManager(t, map[string]string{"anthropic": "", "gemini": "AIza-config-9876", "openai": ""})
	ctx := context.Background()
	require.NoError(t, m.Set(ctx, "openai", "sk-live-abcd"))

	st, err := m.Status(ctx)
	require.NoError(t, err)
	require.Len(t, st, 3)

	assert.Equal(t, Status{Provider: "anthropic"}, st[0])
	assert.Equal(t, Status{Provider: "gemini", Configured: true, Source: "config", Hint: "****9876"}, st[1])
	assert.Equal(t, Status{Provider: "openai", Configured: true, Source: "stored", Hint: "****abcd"}, st[2])
}
