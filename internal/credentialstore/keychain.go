//go:build keychain

package credentialstore

import (
	"context"
	"fmt"
)

// KeychainStore is the production CredentialStore contract for an OS
// secret-vault integration (macOS Keychain, Windows Credential Manager,
// the Secret Service on Linux). No such integration ships in this build —
// the retrieval pack has no keychain library to ground a real one against
// (see DESIGN.md) — so this stub documents the contract and fails closed
// rather than silently falling back to plaintext storage.
type KeychainStore struct{}

// NewKeychainStore returns a KeychainStore. Every operation fails with a
// StorageError until a concrete OS integration is wired in behind this
// build tag.
func NewKeychainStore() *KeychainStore { return &KeychainStore{} }

func (s *KeychainStore) Store(_ context.Context, key, _ string) error {
	return storageError(fmt.Sprintf("keychain: no OS integration built in this binary (key %q)", key))
}

func (s *KeychainStore) Retrieve(_ context.Context, key string) (string, error) {
	return "", storageError(fmt.Sprintf("keychain: no OS integration built in this binary (key %q)", key))
}

func (s *KeychainStore) Delete(_ context.Context, key string) (bool, error) {
	return false, storageError(fmt.Sprintf("keychain: no OS integration built in this binary (key %q)", key))
}

func (s *KeychainStore) Exists(_ context.Context, key string) (bool, error) {
	return false, storageError(fmt.Sprintf("keychain: no OS integration built in this binary (key %q)", key))
}
