package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func load(t *testing.T, raw string) *Config {
	t.Helper()
	dir := t.TempDir()
	if raw != "" {
		require.NoError(t, os.WriteFile(filepath.Join(dir, "config.json"), []byte(raw), 0644))
	}
	SetConfigPath(dir)
	Reload()
	t.Cleanup(Reload)
	return Get()
}

func TestDefaultsOnFreshConfig(t *testing.T) {
	cfg := load(t, "")

	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "3s", cfg.General.TickInterval)
	assert.Equal(t, 3, cfg.General.DownloadLimit)
	assert.Equal(t, 1, cfg.General.UnpackLimit)
	assert.Equal(t, 2, cfg.General.DownloadRetryAttempts)
	assert.Equal(t, DownloadClientInternal, cfg.DownloadClient.Client)
	assert.Equal(t, "6500", cfg.Web.Port)
	assert.Equal(t, "/", cfg.Web.URLBase)
	assert.Len(t, cfg.Web.APIToken, 64, "generated token should be 32 random bytes hex-encoded")

	// A fresh config is written back to disk.
	_, err := os.Stat(cfg.JsonFile())
	assert.NoError(t, err)
}

func TestURLBaseNormalization(t *testing.T) {
	cases := []struct{ in, want string }{
		{"", "/"},
		{"rdt", "/rdt/"},
		{"/rdt", "/rdt/"},
		{"rdt/", "/rdt/"},
		{"/rdt/", "/rdt/"},
	}
	for _, tc := range cases {
		raw, err := json.Marshal(map[string]any{"web": map[string]string{"url_base": tc.in}})
		require.NoError(t, err)
		cfg := load(t, string(raw))
		assert.Equal(t, tc.want, cfg.Web.URLBase, "url base %q", tc.in)
	}
}

func TestLoadedValuesSurviveDefaults(t *testing.T) {
	cfg := load(t, `{
		"log_level": "debug",
		"provider": {"api_key": "rd-key", "rate_limit": "250/minute"},
		"download_client": {"client": "aria2c", "download_path": "/downloads", "aria2c_url": "http://localhost:6800/jsonrpc"},
		"general": {"download_limit": 5, "torrent_lifetime": 120}
	}`)

	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "rd-key", cfg.Provider.APIKey)
	assert.Equal(t, DownloadClientAria2c, cfg.DownloadClient.Client)
	assert.Equal(t, 5, cfg.General.DownloadLimit)
	assert.Equal(t, 120, cfg.General.TorrentLifetime)
	// Unset fields still get defaults.
	assert.Equal(t, 1, cfg.General.UnpackLimit)
}

func TestTorrentDefaultsPerCategory(t *testing.T) {
	cfg := load(t, `{
		"general": {"torrent_lifetime": 120, "finished_action": 2},
		"categories": {
			"movies": {"host_download_action": 1, "torrent_lifetime": 30},
			"tv": {}
		}
	}`)

	movies := cfg.TorrentDefaults("Movies")
	assert.Equal(t, HostDownloadActionNone, movies.HostDownloadAction)
	assert.Equal(t, 30, movies.TorrentLifetime)
	// Fields without an override keep the general values.
	assert.Equal(t, FinishedActionRemoveRealDebrid, movies.FinishedAction)
	assert.Equal(t, 2, movies.DownloadRetryAttempts)

	tv := cfg.TorrentDefaults("tv")
	assert.Equal(t, HostDownloadActionAll, tv.HostDownloadAction)
	assert.Equal(t, 120, tv.TorrentLifetime)

	unknown := cfg.TorrentDefaults("books")
	assert.Equal(t, cfg.General, unknown)
}

func TestValidateConfig(t *testing.T) {
	valid := &Config{
		Provider:       Provider{APIKey: "rd-key"},
		DownloadClient: DownloadClientConfig{Client: DownloadClientInternal, DownloadPath: "/downloads"},
	}
	assert.NoError(t, ValidateConfig(valid))

	cases := []struct {
		name string
		cfg  Config
	}{
		{"missing api key", Config{
			DownloadClient: DownloadClientConfig{Client: DownloadClientInternal, DownloadPath: "/downloads"},
		}},
		{"missing download path", Config{
			Provider: Provider{APIKey: "rd-key"},
		}},
		{"symlink without mount", Config{
			Provider:       Provider{APIKey: "rd-key"},
			DownloadClient: DownloadClientConfig{Client: DownloadClientSymlink, DownloadPath: "/downloads"},
		}},
		{"aria2c without url", Config{
			Provider:       Provider{APIKey: "rd-key"},
			DownloadClient: DownloadClientConfig{Client: DownloadClientAria2c, DownloadPath: "/downloads"},
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Error(t, ValidateConfig(&tc.cfg))
		})
	}
}

func TestSaveRoundTrip(t *testing.T) {
	cfg := load(t, "")
	cfg.Provider.APIKey = "rd-key"
	cfg.General.FinishedAction = FinishedActionRemoveRealDebrid
	require.NoError(t, cfg.Save())

	Reload()
	got := Get()
	assert.Equal(t, "rd-key", got.Provider.APIKey)
	assert.Equal(t, FinishedActionRemoveRealDebrid, got.General.FinishedAction)
}
