package sharelatex

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/texsync/texsync/internal/utils"
	"github.com/texsync/texsync/internal/vault"
)

// Session cookies are cached on disk so repeated invocations within the
// session window don't pay a fresh login each time.

func sessionCachePath(cacheDir, serverURL string) (string, error) {
	key, err := vault.ServerKey(serverURL)
	if err != nil {
		return "", err
	}
	return filepath.Join(cacheDir, key+".json"), nil
}

// LoadCachedSession returns a previously saved, still-valid session for the
// server, or nil when none is usable.
func LoadCachedSession(cacheDir, serverURL string) *Session {
	path, err := sessionCachePath(cacheDir, serverURL)
	if err != nil {
		return nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil
	}

	var sess Session
	if err := json.Unmarshal(data, &sess); err != nil {
		return nil
	}
	if !sess.Valid() || sess.ServerURL != serverURL {
		return nil
	}
	return &sess
}

// SaveSession caches the session with owner-only permissions.
func SaveSession(cacheDir string, sess *Session) error {
	path, err := sessionCachePath(cacheDir, sess.ServerURL)
	if err != nil {
		return err
	}

	if err := utils.EnsureParent(path); err != nil {
		return fmt.Errorf("session cache: %w", err)
	}

	data, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("session cache: encode: %w", err)
	}
	return os.WriteFile(path, data, 0o600)
}

// DropCachedSession removes the cached session for a server, forcing the
// next call to log in again.
func DropCachedSession(cacheDir, serverURL string) {
	if path, err := sessionCachePath(cacheDir, serverURL); err == nil {
		os.Remove(path)
	}
}
