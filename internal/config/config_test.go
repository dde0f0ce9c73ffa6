package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoad_DefaultsOnly(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, "info", cfg.LogLevel)
	require.Equal(t, ".galaxy/orders", cfg.OrderStore.OrdersDir)
	require.Equal(t, 24*time.Hour, cfg.Auth.TokenExpiryHours)
	require.False(t, cfg.Chat.Enabled())
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	body, err := json.Marshal(map[string]any{
		"chat": map[string]any{"token": "real-token", "authorized_ids": []int64{42}},
		"web":  map[string]any{"enabled": true, "addr": ":9090"},
	})
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, body, 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.True(t, cfg.Chat.Enabled())
	require.Equal(t, []int64{42}, cfg.Chat.AuthorizedIDs)
	require.True(t, cfg.Web.Enabled)
	require.Equal(t, ":9090", cfg.Web.Addr)
}

func TestChatChannel_EnabledRejectsPlaceholderTokens(t *testing.T) {
	require.False(t, ChatChannel{Token: ""}.Enabled())
	require.False(t, ChatChannel{Token: "CHANGEME"}.Enabled())
	require.True(t, ChatChannel{Token: "123456:real-looking-token"}.Enabled())
}
