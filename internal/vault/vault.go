// Package vault stores the user's remote credentials in the operating
// system's secret store, keyed by server identity. When no secret store is
// available (headless Linux, CI) it falls back to a permission-restricted
// file under the user's config directory.
package vault

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

var (
	ErrCredentialsNotFound = errors.New("vault: credentials not found")
)

// Credentials is a username+password pair for one remote server.
type Credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Vault is an opaque key-value capability over the host secret store.
type Vault interface {
	// Get returns the credentials stored for the given server URL.
	// Returns ErrCredentialsNotFound when nothing is stored.
	Get(serverURL string) (*Credentials, error)

	// Put stores credentials for the given server URL, replacing any
	// previous entry.
	Put(serverURL string, creds *Credentials) error

	// Delete removes the credentials for the given server URL.
	Delete(serverURL string) error
}

// Open returns the best available vault for this host: the OS keyring when
// one is reachable, otherwise a file vault at the given fallback path.
func Open(fallbackPath string) Vault {
	kv := &keyringVault{}
	if kv.available() {
		return kv
	}
	return &FileVault{path: fallbackPath}
}

// ServerKey normalizes a server URL to the host key used in the store.
func ServerKey(serverURL string) (string, error) {
	u, err := url.Parse(serverURL)
	if err != nil {
		return "", fmt.Errorf("vault: invalid server url %q: %w", serverURL, err)
	}
	host := strings.ToLower(u.Host)
	if host == "" {
		// bare host given without a scheme
		host = strings.ToLower(strings.Split(u.Path, "/")[0])
	}
	if host == "" {
		return "", fmt.Errorf("vault: invalid server url %q", serverURL)
	}
	return host, nil
}
