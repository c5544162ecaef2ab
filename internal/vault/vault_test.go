package vault

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestServerKey(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{in: "https://latex.example.org", want: "latex.example.org"},
		{in: "https://LaTeX.Example.org:8443/project/x", want: "latex.example.org:8443"},
		{in: "latex.example.org", want: "latex.example.org"},
		{in: "", wantErr: true},
	}

	for _, tt := range tests {
		got, err := ServerKey(tt.in)
		if tt.wantErr {
			assert.Error(t, err, tt.in)
			continue
		}
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}
}

func TestFileVaultRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "credentials.json")
	v := NewFileVault(path)

	_, err := v.Get("https://latex.example.org")
	assert.ErrorIs(t, err, ErrCredentialsNotFound)

	creds := &Credentials{Email: "alice@example.org", Password: "hunter2"}
	require.NoError(t, v.Put("https://latex.example.org", creds))

	got, err := v.Get("https://latex.example.org")
	require.NoError(t, err)
	assert.Equal(t, creds, got)

	// file must not be world readable
	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	require.NoError(t, v.Delete("https://latex.example.org"))
	_, err = v.Get("https://latex.example.org")
	assert.ErrorIs(t, err, ErrCredentialsNotFound)

	assert.ErrorIs(t, v.Delete("https://latex.example.org"), ErrCredentialsNotFound)
}

func TestFileVaultMultipleServers(t *testing.T) {
	v := NewFileVault(filepath.Join(t.TempDir(), "credentials.json"))

	require.NoError(t, v.Put("https://a.example.org", &Credentials{Email: "a@x", Password: "pa"}))
	require.NoError(t, v.Put("https://b.example.org", &Credentials{Email: "b@x", Password: "pb"}))

	a, err := v.Get("https://a.example.org")
	require.NoError(t, err)
	assert.Equal(t, "a@x", a.Email)

	b, err := v.Get("https://b.example.org")
	require.NoError(t, err)
	assert.Equal(t, "pb", b.Password)
}
