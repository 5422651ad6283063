package secrets

import (
	"bytes"
	"context"
	"path/filepath"
	"sort"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/pagepilot/internal/environment"
	"github.com/rendis/pagepilot/internal/store"
	"github.com/rendis/pagepilot/pkg/schema"
)

// mapStore is a simple in-memory SecretStore for vault tests.
type mapStore struct {
	data map[string][]byte
}

func newMapStore() *mapStore {
	return &mapStore{data: make(map[string][]byte)}
}

func (m *mapStore) StoreSecret(_ context.Context, key string, value []byte) error {
	m.data[key] = bytes.Clone(value)
	return nil
}

func (m *mapStore) GetSecret(_ context.Context, key string) ([]byte, error) {
	v, ok := m.data[key]
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeNotFound, "secret %q not found", key)
	}
	return v, nil
}

func (m *mapStore) DeleteSecret(_ context.Context, key string) error {
	if _, ok := m.data[key]; !ok {
		return schema.NewErrorf(schema.ErrCodeNotFound, "secret %q not found", key)
	}
	delete(m.data, key)
	return nil
}

func (m *mapStore) ListSecrets(_ context.Context, prefix string) ([]string, error) {
	var keys []string
	for k := range m.data {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

func testVault(t *testing.T) (*AESVault, *mapStore) {
	t.Helper()
	s := newMapStore()
	key := make([]byte, 32)
	for i := range key {
		key[i] = byte(i)
	}
	v, err := NewAESVault(s, VaultConfig{MasterKey: key})
	require.NoError(t, err)
	return v, s
}

func TestAESVault_SetAndResolve(t *testing.T) {
	v, _ := testVault(t)
	ctx := context.Background()

	require.NoError(t, v.SetCredential(ctx, "user-1", "hook", "sk-secret-123"))

	val, err := v.ResolveCredential(ctx, "user-1", "hook")
	require.NoError(t, err)
	assert.Equal(t, "sk-secret-123", val)
}

func TestAESVault_EncryptedAtRest(t *testing.T) {
	v, s := testVault(t)
	ctx := context.Background()

	require.NoError(t, v.SetCredential(ctx, "user-1", "token", "plaintext-value"))

	raw, ok := s.data["user-1/token"]
	require.True(t, ok)
	assert.False(t, bytes.Contains(raw, []byte("plaintext-value")))
	assert.Greater(t, len(raw), len("plaintext-value"))
}

func TestAESVault_ScopedPerUser(t *testing.T) {
	v, s := testVault(t)
	ctx := context.Background()

	require.NoError(t, v.SetCredential(ctx, "user-1", "hook", "mine"))

	_, err := v.ResolveCredential(ctx, "user-2", "hook")
	assert.True(t, schema.IsCode(err, schema.ErrCodeNotFound))

	// A ciphertext moved under another user's key does not decrypt.
	s.data["user-2/hook"] = s.data["user-1/hook"]
	_, err = v.ResolveCredential(ctx, "user-2", "hook")
	assert.True(t, schema.IsCode(err, schema.ErrCodeVault))
}

func TestAESVault_InvalidNames(t *testing.T) {
	v, _ := testVault(t)
	ctx := context.Background()

	assert.True(t, schema.IsCode(v.SetCredential(ctx, "", "hook", "x"), schema.ErrCodeUnauthorized))
	assert.True(t, schema.IsCode(v.SetCredential(ctx, "user-1", "", "x"), schema.ErrCodeValidation))
	assert.True(t, schema.IsCode(v.SetCredential(ctx, "user-1", "a/b", "x"), schema.ErrCodeValidation))
	_, err := v.ListCredentials(ctx, "")
	assert.True(t, schema.IsCode(err, schema.ErrCodeUnauthorized))
}

func TestAESVault_PassphraseDerivation(t *testing.T) {
	s := newMapStore()
	v, err := NewAESVault(s, VaultConfig{
		Passphrase: "my-secure-passphrase",
		Salt:       []byte("test-salt-16byte"),
		Iterations: 1000,
	})
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, v.SetCredential(ctx, "user-1", "k", "value"))
	val, err := v.ResolveCredential(ctx, "user-1", "k")
	require.NoError(t, err)
	assert.Equal(t, "value", val)
}

func TestAESVault_WrongKeyCannotDecrypt(t *testing.T) {
	s := newMapStore()
	ctx := context.Background()

	key2 := make([]byte, 32)
	key2[0] = 0xFF

	v1, err := NewAESVault(s, VaultConfig{MasterKey: make([]byte, 32)})
	require.NoError(t, err)
	require.NoError(t, v1.SetCredential(ctx, "user-1", "secret", "hidden"))

	v2, err := NewAESVault(s, VaultConfig{MasterKey: key2})
	require.NoError(t, err)
	_, err = v2.ResolveCredential(ctx, "user-1", "secret")
	assert.True(t, schema.IsCode(err, schema.ErrCodeVault))
}

func TestAESVault_DeleteAndList(t *testing.T) {
	v, _ := testVault(t)
	ctx := context.Background()

	require.NoError(t, v.SetCredential(ctx, "user-1", "b_key", "2"))
	require.NoError(t, v.SetCredential(ctx, "user-1", "a_key", "1"))
	require.NoError(t, v.SetCredential(ctx, "user-2", "c_key", "3"))

	names, err := v.ListCredentials(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"a_key", "b_key"}, names)

	require.NoError(t, v.DeleteCredential(ctx, "user-1", "a_key"))
	_, err = v.ResolveCredential(ctx, "user-1", "a_key")
	assert.True(t, schema.IsCode(err, schema.ErrCodeNotFound))
	assert.True(t, schema.IsCode(v.DeleteCredential(ctx, "user-1", "a_key"), schema.ErrCodeNotFound))
}

func TestAESVault_Overwrite(t *testing.T) {
	v, _ := testVault(t)
	ctx := context.Background()

	require.NoError(t, v.SetCredential(ctx, "user-1", "key", "v1"))
	require.NoError(t, v.SetCredential(ctx, "user-1", "key", "v2"))

	val, err := v.ResolveCredential(ctx, "user-1", "key")
	require.NoError(t, err)
	assert.Equal(t, "v2", val)
}

func TestAESVault_InvalidConfig(t *testing.T) {
	_, err := NewAESVault(newMapStore(), VaultConfig{MasterKey: []byte("too-short")})
	assert.True(t, schema.IsCode(err, schema.ErrCodeVault))

	_, err = NewAESVault(newMapStore(), VaultConfig{})
	assert.True(t, schema.IsCode(err, schema.ErrCodeVault))

	_, err = NewAESVault(newMapStore(), VaultConfig{Passphrase: "p"})
	assert.True(t, schema.IsCode(err, schema.ErrCodeVault))
}

func TestAESVault_UniqueNonces(t *testing.T) {
	v, s := testVault(t)
	ctx := context.Background()

	require.NoError(t, v.SetCredential(ctx, "user-1", "k1", "same-value"))
	require.NoError(t, v.SetCredential(ctx, "user-1", "k2", "same-value"))

	assert.False(t, bytes.Equal(s.data["user-1/k1"], s.data["user-1/k2"]))
}

func TestAESVault_ResolvesForEnvironment(t *testing.T) {
	v, _ := testVault(t)
	ctx := context.Background()
	require.NoError(t, v.SetCredential(ctx, "user-1", "hook", "tok"))

	env := environment.New(environment.Options{UserID: "user-1", Credentials: v})
	defer env.Close()

	got, err := env.ResolveCredential(ctx, "hook")
	require.NoError(t, err)
	assert.Equal(t, "tok", got)
}

func TestAESVault_LibSQL(t *testing.T) {
	ctx := context.Background()
	s, err := store.NewLibSQLStore("file:" + filepath.Join(t.TempDir(), "vault.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	require.NoError(t, s.Migrate(ctx))

	v, err := NewAESVault(s, VaultConfig{Passphrase: "pass", Salt: []byte("salt"), Iterations: 1000})
	require.NoError(t, err)

	require.NoError(t, v.SetCredential(ctx, "user-1", "hook", "tok-1"))
	require.NoError(t, v.SetCredential(ctx, "user-1", "hook", "tok-2"))
	require.NoError(t, v.SetCredential(ctx, "user-10", "other", "x"))

	got, err := v.ResolveCredential(ctx, "user-1", "hook")
	require.NoError(t, err)
	assert.Equal(t, "tok-2", got)

	names, err := v.ListCredentials(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"hook"}, names)
}
