//go:build !keychain

package main

import (
	"path/filepath"

	"github.com/itskum47/relaydesk/internal/credentialstore"
)

// newCredentialStore returns the dev file-backed store for ordinary builds.
// A binary built with -tags keychain gets the KeychainStore stub instead,
// from credentials_keychain.go.
func newCredentialStore(dataDir string) (credentialstore.Store, error) {
	return credentialstore.NewDevFileStore(filepath.Join(dataDir, "credentials.json"))
}
