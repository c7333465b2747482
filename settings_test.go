package ghosty

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileSettings(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.toml")
	store := NewFileSettings(path)

	cfg, err := store.Load()
	require.NoError(t, err)
	assert.Equal(t, DefaultSettings(), cfg, "missing file yields defaults")

	cfg.Server.Port = 4300
	cfg.Auth.Token = "tok"
	cfg.Profile = ProfileSettings{UserID: 3, Username: "alice", DisplayName: "Alice"}
	require.NoError(t, store.Save(cfg))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	loaded, err := store.Load()
	require.NoError(t, err)
	assert.Equal(t, cfg, loaded)

	require.NoError(t, store.ClearSession())
	loaded, err = store.Load()
	require.NoError(t, err)
	assert.Empty(t, loaded.Auth.Token)
	assert.Zero(t, loaded.Profile)
	assert.Equal(t, ServerSettings{Host: DefaultServerHost, Port: 4300}, loaded.Server)

	t.Run("malformed file", func(t *testing.T) {
		require.NoError(t, os.WriteFile(path, []byte("[server\nhost="), 0o600))
		_, err := store.Load()
		assert.ErrorContains(t, err, "cannot parse settings")
	})
}

func TestSettingsSet(t *testing.T) {
	tests := []struct {
		key, value string
		wantErr    string
	}{
		{key: "server.host", value: "chat.example.com"},
		{key: "server.host", value: "::1"},
		{key: "server.port", value: "5000"},
		{key: "server.port", value: "0", wantErr: "invalid server address"},
		{key: "server.port", value: "abc", wantErr: "port must be a number"},
		{key: "server.host", value: "bad host!", wantErr: "invalid server address"},
		{key: "auth.token", value: "t"},
		{key: "profile.user_id", value: "x", wantErr: "user_id must be a number"},
		{key: "profile.display_name", value: "Alice"},
		{key: "server", value: "x", wantErr: "dot notation"},
		{key: "nope.field", value: "x", wantErr: "unknown config section"},
		{key: "auth.secret", value: "x", wantErr: "unknown field"},
	}
	for _, tt := range tests {
		t.Run(tt.key+"="+tt.value, func(t *testing.T) {
			err := DefaultSettings().Set(tt.key, tt.value)
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			assert.ErrorContains(t, err, tt.wantErr)
		})
	}
}

func TestSettingsServerAddress(t *testing.T) {
	host, port := (&Settings{}).ServerAddress()
	assert.Equal(t, DefaultServerHost, host)
	assert.Equal(t, DefaultServerPort, port)
}
