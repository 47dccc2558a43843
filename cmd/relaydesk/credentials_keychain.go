//go:build keychain

package main

import "github.com/itskum47/relaydesk/internal/credentialstore"

// newCredentialStore returns the KeychainStore stub for binaries built with
// -tags keychain; every operation on it fails with a StorageError.
func newCredentialStore(_ string) (credentialstore.Store, error) {
	return credentialstore.NewKeychainStore(), nil
}
