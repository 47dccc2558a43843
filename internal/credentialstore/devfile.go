package credentialstore

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
)

// DevFileStore is a JSON-file-backed CredentialStore. It is NOT secure —
// secrets are written to disk in plain text. It is selected when
// RELAYDESK_DEV_CREDENTIALS=true, and it is also the store an ordinary
// build (without the keychain build tag) uses. Production deployments must
// use the keychain-backed store.
type DevFileStore struct {
	mu   sync.Mutex
	path string
}

// NewDevFileStore opens (creating if absent) the vault file at path.
func NewDevFileStore(path string) (*DevFileStore, error) {
	log.Printf("[credentials] WARNING: using dev file-backed credential store at %s — not secure, development only", path)
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, storageError(fmt.Sprintf("devfile: create dir: %v", err))
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		if err := os.WriteFile(path, []byte("{}"), 0o600); err != nil {
			return nil, storageError(fmt.Sprintf("devfile: init vault: %v", err))
		}
	}
	return &DevFileStore{path: path}, nil
}

func (s *DevFileStore) load() (map[string]string, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return nil, storageError(fmt.Sprintf("devfile: read vault: %v", err))
	}
	vault := map[string]string{}
	if len(data) > 0 {
		if err := json.Unmarshal(data, &vault); err != nil {
			return nil, storageError(fmt.Sprintf("devfile: parse vault: %v", err))
		}
	}
	return vault, nil
}

func (s *DevFileStore) save(vault map[string]string) error {
	data, err := json.Marshal(vault)
	if err != nil {
		return storageError(fmt.Sprintf("devfile: encode vault: %v", err))
	}
	if err := os.WriteFile(s.path, data, 0o600); err != nil {
		return storageError(fmt.Sprintf("devfile: write vault: %v", err))
	}
	return nil
}

func (s *DevFileStore) Store(_ context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	vault, err := s.load()
	if err != nil {
		return err
	}
	vault[key] = value
	return s.save(vault)
}

func (s *DevFileStore) Retrieve(_ context.Context, key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	vault, err := s.load()
	if err != nil {
		return "", err
	}
	v, ok := vault[key]
	if !ok {
		return "", notFound(fmt.Sprintf("devfile: key %q not found", key))
	}
	return v, nil
}

func (s *DevFileStore) Delete(_ context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	vault, err := s.load()
	if err != nil {
		return false, err
	}
	_, existed := vault[key]
	if existed {
		delete(vault, key)
		if err := s.save(vault); err != nil {
			return false, err
		}
	}
	return existed, nil
}

func (s *DevFileStore) Exists(_ context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	vault, err := s.load()
	if err != nil {
		return false, err
	}
	_, ok := vault[key]
	return ok, nil
}
