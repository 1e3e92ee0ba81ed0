package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"channel_sync/models"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("CHANNELS_DIR", filepath.Join(t.TempDir(), "missing"))

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "channel_sync.db", cfg.DBPath)
	assert.Equal(t, 3, cfg.Sync.Workers)
	assert.Equal(t, 30*24*time.Hour, cfg.Email.Window)
	assert.Equal(t, 50, cfg.Email.PageSize)
	assert.Equal(t, "@hourly", cfg.Scheduler.Cron)
	assert.Empty(t, cfg.Channels)
	assert.False(t, cfg.SMTP.Enabled())
	assert.False(t, cfg.Archive.Enabled())
}

func TestLoad_EnvOverridesAndChannels(t *testing.T) {
	dir := t.TempDir()
	yml := "id: airbnb\nname: Airbnb\nendpoints:\n  mobile_api: http://localhost/v2\nmobile_api:\n  api_key: k\n  page_size: 10\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "airbnb.yaml"), []byte(yml), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignored"), 0644))

	t.Setenv("CHANNELS_DIR", dir)
	t.Setenv("SYNC_WORKERS", "5")
	t.Setenv("EMAIL_WINDOW", "72h")
	t.Setenv("EMAIL_PAGE_SIZE", "20")
	t.Setenv("SYNC_INTERVAL", "15m")
	t.Setenv("WS_ALLOWED_ORIGINS", "https://a.example, ,https://b.example")
	t.Setenv("CREDENTIALS_KEY", "a2V5")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 5, cfg.Sync.Workers)
	assert.Equal(t, 72*time.Hour, cfg.Email.Window)
	assert.Equal(t, 20, cfg.Email.PageSize)
	assert.Equal(t, 15*time.Minute, cfg.Scheduler.Interval)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.API.AllowedOrigins)
	assert.Equal(t, "a2V5", cfg.CredentialKey.Reveal())
	assert.Equal(t, "****", cfg.CredentialKey.String())

	ch := cfg.Channel(models.ChannelAirbnb)
	require.NotNil(t, ch)
	assert.Equal(t, "http://localhost/v2", ch.Endpoint("mobile_api", "default"))
	assert.Equal(t, "default", ch.Endpoint("login", "default"))
	assert.Equal(t, 10, ch.MobileAPI.PageSize)
}

func TestLoad_RejectsInvalidValues(t *testing.T) {
	t.Setenv("CHANNELS_DIR", t.TempDir())
	t.Setenv("SYNC_WORKERS", "0")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "config")
}

func TestEndpoint_NilConfig(t *testing.T) {
	var ch *ChannelConfig
	assert.Equal(t, "fallback", ch.Endpoint("login", "fallback"))
}
