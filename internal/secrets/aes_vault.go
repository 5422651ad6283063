package secrets

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/pbkdf2"
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"strings"

	"github.com/rendis/pagepilot/internal/store"
	"github.com/rendis/pagepilot/pkg/schema"
)

// VaultConfig configures the AES vault key derivation.
// Provide either MasterKey (raw 32 bytes) or Passphrase + Salt.
type VaultConfig struct {
	MasterKey  []byte // raw 32-byte key (takes priority)
	Passphrase string // derive key via PBKDF2
	Salt       []byte // salt for PBKDF2 (required with Passphrase)
	Iterations int    // PBKDF2 iterations (default 100_000)
}

// AESVault encrypts credentials with AES-256-GCM before persisting them
// under "<userID>/<name>".
type AESVault struct {
	store store.SecretStore
	aead  cipher.AEAD
}

// NewAESVault creates a vault with AES-256-GCM encryption.
func NewAESVault(s store.SecretStore, cfg VaultConfig) (*AESVault, error) {
	key, err := deriveKey(cfg)
	if err != nil {
		return nil, err
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("aes cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("gcm: %w", err)
	}
	return &AESVault{store: s, aead: aead}, nil
}

func deriveKey(cfg VaultConfig) ([]byte, error) {
	if len(cfg.MasterKey) > 0 {
		if len(cfg.MasterKey) != 32 {
			return nil, schema.NewErrorf(schema.ErrCodeVault,
				"master key must be 32 bytes, got %d", len(cfg.MasterKey))
		}
		return cfg.MasterKey, nil
	}
	if cfg.Passphrase == "" {
		return nil, schema.NewError(schema.ErrCodeVault, "either master key or passphrase is required")
	}
	if len(cfg.Salt) == 0 {
		return nil, schema.NewError(schema.ErrCodeVault, "salt is required with passphrase")
	}
	iterations := cfg.Iterations
	if iterations <= 0 {
		iterations = 100_000
	}
	return pbkdf2.Key(sha256.New, cfg.Passphrase, cfg.Salt, iterations, 32)
}

func storageKey(userID, name string) (string, error) {
	if userID == "" {
		return "", schema.NewError(schema.ErrCodeUnauthorized, "caller identity is required")
	}
	if name == "" || strings.Contains(name, "/") {
		return "", schema.NewErrorf(schema.ErrCodeValidation, "invalid credential name %q", name)
	}
	return userID + "/" + name, nil
}

// The storage key is bound as additional data, so a ciphertext copied to
// another user's key does not decrypt.
func (v *AESVault) encrypt(key string, plaintext []byte) ([]byte, error) {
	nonce := make([]byte, v.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}
	return v.aead.Seal(nonce, nonce, plaintext, []byte(key)), nil
}

func (v *AESVault) decrypt(key string, ciphertext []byte) ([]byte, error) {
	nonceSize := v.aead.NonceSize()
	if len(ciphertext) < nonceSize {
		return nil, schema.NewError(schema.ErrCodeVault, "ciphertext too short")
	}
	plaintext, err := v.aead.Open(nil, ciphertext[:nonceSize], ciphertext[nonceSize:], []byte(key))
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeVault, "decrypt failed: %s", err.Error())
	}
	return plaintext, nil
}

// SetCredential stores or replaces a credential.
func (v *AESVault) SetCredential(ctx context.Context, userID, name, value string) error {
	key, err := storageKey(userID, name)
	if err != nil {
		return err
	}
	encrypted, err := v.encrypt(key, []byte(value))
	if err != nil {
		return err
	}
	return v.store.StoreSecret(ctx, key, encrypted)
}

// ResolveCredential returns the decrypted credential. Credentials of other
// users are NOT_FOUND.
func (v *AESVault) ResolveCredential(ctx context.Context, userID, name string) (string, error) {
	key, err := storageKey(userID, name)
	if err != nil {
		return "", err
	}
	encrypted, err := v.store.GetSecret(ctx, key)
	if err != nil {
		if schema.IsCode(err, schema.ErrCodeNotFound) {
			return "", schema.NewErrorf(schema.ErrCodeNotFound, "credential %q not found", name)
		}
		return "", err
	}
	plaintext, err := v.decrypt(key, encrypted)
	if err != nil {
		return "", err
	}
	return string(plaintext), nil
}

func (v *AESVault) DeleteCredential(ctx context.Context, userID, name string) error {
	key, err := storageKey(userID, name)
	if err != nil {
		return err
	}
	return v.store.DeleteSecret(ctx, key)
}

// ListCredentials returns the credential names of a user, sorted.
func (v *AESVault) ListCredentials(ctx context.Context, userID string) ([]string, error) {
	if userID == "" {
		return nil, schema.NewError(schema.ErrCodeUnauthorized, "caller identity is required")
	}
	prefix := userID + "/"
	keys, err := v.store.ListSecrets(ctx, prefix)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(keys))
	for _, k := range keys {
		names = append(names, strings.TrimPrefix(k, prefix))
	}
	return names, nil
}
