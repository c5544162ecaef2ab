package vault

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/texsync/texsync/internal/utils"
)

// FileVault is the fallback store: a 0600 JSON file mapping server host to
// credentials. Used when no OS secret store is reachable.
type FileVault struct {
	path string
}

func NewFileVault(path string) *FileVault {
	return &FileVault{path: path}
}

func (v *FileVault) Get(serverURL string) (*Credentials, error) {
	key, err := ServerKey(serverURL)
	if err != nil {
		return nil, err
	}

	entries, err := v.load()
	if err != nil {
		return nil, err
	}

	creds, ok := entries[key]
	if !ok {
		return nil, ErrCredentialsNotFound
	}
	return &creds, nil
}

func (v *FileVault) Put(serverURL string, creds *Credentials) error {
	key, err := ServerKey(serverURL)
	if err != nil {
		return err
	}

	entries, err := v.load()
	if err != nil {
		return err
	}

	entries[key] = *creds
	return v.save(entries)
}

func (v *FileVault) Delete(serverURL string) error {
	key, err := ServerKey(serverURL)
	if err != nil {
		return err
	}

	entries, err := v.load()
	if err != nil {
		return err
	}

	if _, ok := entries[key]; !ok {
		return ErrCredentialsNotFound
	}
	delete(entries, key)
	return v.save(entries)
}

func (v *FileVault) load() (map[string]Credentials, error) {
	data, err := os.ReadFile(v.path)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]Credentials{}, nil
		}
		return nil, fmt.Errorf("vault: read %s: %w", v.path, err)
	}

	entries := map[string]Credentials{}
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("vault: decode %s: %w", v.path, err)
	}
	return entries, nil
}

func (v *FileVault) save(entries map[string]Credentials) error {
	if err := utils.EnsureParent(v.path); err != nil {
		return fmt.Errorf("vault: create parent for %s: %w", v.path, err)
	}

	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(v.path, data, 0o600)
}
