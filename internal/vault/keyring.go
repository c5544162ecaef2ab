package vault

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/zalando/go-keyring"
)

const keyringService = "texsync"

// keyringVault stores one JSON-encoded Credentials per server host in the
// OS secret store (Keychain, Secret Service, Credential Manager).
type keyringVault struct{}

func (v *keyringVault) available() bool {
	// A NotFound answer proves the backend is reachable. Any other error
	// (no dbus session, locked keychain) means we should fall back.
	_, err := keyring.Get(keyringService, "__probe__")
	return err == nil || errors.Is(err, keyring.ErrNotFound)
}

func (v *keyringVault) Get(serverURL string) (*Credentials, error) {
	key, err := ServerKey(serverURL)
	if err != nil {
		return nil, err
	}

	secret, err := keyring.Get(keyringService, key)
	if err != nil {
		if errors.Is(err, keyring.ErrNotFound) {
			return nil, ErrCredentialsNotFound
		}
		return nil, fmt.Errorf("vault: keyring get %q: %w", key, err)
	}

	var creds Credentials
	if err := json.Unmarshal([]byte(secret), &creds); err != nil {
		return nil, fmt.Errorf("vault: decode credentials for %q: %w", key, err)
	}
	return &creds, nil
}

func (v *keyringVault) Put(serverURL string, creds *Credentials) error {
	key, err := ServerKey(serverURL)
	if err != nil {
		return err
	}

	data, err := json.Marshal(creds)
	if err != nil {
		return fmt.Errorf("vault: encode credentials for %q: %w", key, err)
	}

	if err := keyring.Set(keyringService, key, string(data)); err != nil {
		return fmt.Errorf("vault: keyring set %q: %w", key, err)
	}
	return nil
}

func (v *keyringVault) Delete(serverURL string) error {
	key, err := ServerKey(serverURL)
	if err != nil {
		return err
	}

	if err := keyring.Delete(keyringService, key); err != nil {
		if errors.Is(err, keyring.ErrNotFound) {
			return ErrCredentialsNotFound
		}
		return fmt.Errorf("vault: keyring delete %q: %w", key, err)
	}
	return nil
}
