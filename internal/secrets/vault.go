// Package secrets stores per-user credentials encrypted at rest
// (AES-256-GCM). Plaintext only exists in memory while a task uses it.
package secrets

import "context"

// Vault manages the named credentials of each user.
// Satisfies environment.CredentialResolver.
type Vault interface {
	SetCredential(ctx context.Context, userID, name, value string) error
	ResolveCredential(ctx context.Context, userID, name string) (string, error)
	DeleteCredential(ctx context.Context, userID, name string) error
	ListCredentials(ctx context.Context, userID string) ([]string, error)
}
