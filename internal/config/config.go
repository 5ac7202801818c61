package config

import (
	"cmp"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// DownloadClient selects how restricted links are materialized locally.
type DownloadClient string

const (
	DownloadClientInternal DownloadClient = "internal" // in-process HTTP downloads
	DownloadClientAria2c   DownloadClient = "aria2c"   // external aria2c daemon over JSON-RPC
	DownloadClientSymlink  DownloadClient = "symlink"  // symlink into an rclone mount
)

// FinishedAction is applied once every download of a torrent has completed.
type FinishedAction int

const (
	FinishedActionNone FinishedAction = iota
	FinishedActionRemoveAllTorrents
	FinishedActionRemoveRealDebrid
	FinishedActionRemoveClient
)

// HostDownloadAction decides whether downloads are created for a finished
// remote torrent at all.
type HostDownloadAction int

const (
	HostDownloadActionAll HostDownloadAction = iota
	HostDownloadActionNone
)

var (
	instance   *Config
	once       sync.Once
	configPath string
)

type Provider struct {
	APIKey    string `json:"api_key,omitempty"`
	RateLimit string `json:"rate_limit,omitempty"` // 250/minute or 5/second
	Proxy     string `json:"proxy,omitempty"`
}

type DownloadClientConfig struct {
	Client          DownloadClient `json:"client,omitempty"`
	DownloadPath    string         `json:"download_path,omitempty"`
	RcloneMountPath string         `json:"rclone_mount_path,omitempty"`
	Aria2cURL       string         `json:"aria2c_url,omitempty"`
	Aria2cSecret    string         `json:"aria2c_secret,omitempty"`
}

type General struct {
	TickInterval          string             `json:"tick_interval,omitempty"`
	DownloadLimit         int                `json:"download_limit,omitempty"`
	UnpackLimit           int                `json:"unpack_limit,omitempty"`
	TorrentRetryAttempts  int                `json:"torrent_retry_attempts,omitempty"`
	DownloadRetryAttempts int                `json:"download_retry_attempts,omitempty"`
	TorrentLifetime       int                `json:"torrent_lifetime,omitempty"` // minutes, 0 disables
	DeleteOnError         int                `json:"delete_on_error,omitempty"`  // minutes, 0 disables
	FinishedAction        FinishedAction     `json:"finished_action,omitempty"`
	HostDownloadAction    HostDownloadAction `json:"host_download_action,omitempty"`
	RunOnTorrentComplete  string             `json:"run_on_torrent_complete,omitempty"`
}

// Category overrides the general intake defaults for torrents submitted
// under one category. Unset fields fall back to General.
type Category struct {
	TorrentRetryAttempts  *int                `json:"torrent_retry_attempts,omitempty"`
	DownloadRetryAttempts *int                `json:"download_retry_attempts,omitempty"`
	TorrentLifetime       *int                `json:"torrent_lifetime,omitempty"`
	DeleteOnError         *int                `json:"delete_on_error,omitempty"`
	FinishedAction        *FinishedAction     `json:"finished_action,omitempty"`
	HostDownloadAction    *HostDownloadAction `json:"host_download_action,omitempty"`
}

type Web struct {
	BindAddress string `json:"bind_address,omitempty"`
	Port        string `json:"port,omitempty"`
	URLBase     string `json:"url_base,omitempty"`
	APIToken    string `json:"api_token,omitempty"`
}

type Config struct {
	LogLevel       string               `json:"log_level,omitempty"`
	Provider       Provider             `json:"provider,omitempty"`
	DownloadClient DownloadClientConfig `json:"download_client,omitempty"`
	General        General              `json:"general,omitempty"`
	Web            Web                  `json:"web,omitempty"`
	ProgressHook   string               `json:"progress_hook,omitempty"`
	Categories     map[string]Category  `json:"categories,omitempty"`
	Path           string               `json:"-"` // directory holding config.json
}

func (c *Config) JsonFile() string {
	return filepath.Join(c.Path, "config.json")
}

func (c *Config) DatabaseFile() string {
	return filepath.Join(c.Path, "rdtclient.db")
}

func (c *Config) LogDir() string {
	return filepath.Join(c.Path, "logs")
}

func (c *Config) loadConfig() error {
	if configPath == "" {
		return fmt.Errorf("config path not set")
	}
	c.Path = configPath
	file, err := os.ReadFile(c.JsonFile())
	if err != nil {
		if os.IsNotExist(err) {
			fmt.Printf("Config file not found, creating a new one at %s\n", c.JsonFile())
			if err := c.createConfig(c.Path); err != nil {
				return fmt.Errorf("failed to create config file: %w", err)
			}
			return c.Save()
		}
		return fmt.Errorf("error reading config file: %w", err)
	}

	if err := json.Unmarshal(file, &c); err != nil {
		return fmt.Errorf("error unmarshaling config: %w", err)
	}
	c.setDefaults()
	return nil
}

func validateProvider(p Provider) error {
	if p.APIKey == "" {
		return errors.New("provider api key is required")
	}
	return nil
}

func validateDownloadClient(dc *DownloadClientConfig) error {
	if dc.DownloadPath == "" {
		return errors.New("download path is required")
	}
	if dc.Client == DownloadClientSymlink && dc.RcloneMountPath == "" {
		return errors.New("rclone mount path is required for the symlink client")
	}
	if dc.Client == DownloadClientAria2c && dc.Aria2cURL == "" {
		return errors.New("aria2c url is required for the aria2c client")
	}
	return nil
}

func ValidateConfig(config *Config) error {
	if err := validateProvider(config.Provider); err != nil {
		return err
	}
	if err := validateDownloadClient(&config.DownloadClient); err != nil {
		return err
	}
	return nil
}

// generateAPIToken creates a new random API token
func generateAPIToken() (string, error) {
	bytes := make([]byte, 32) // 256-bit token
	if _, err := rand.Read(bytes); err != nil {
		return "", err
	}
	return hex.EncodeToString(bytes), nil
}

func SetConfigPath(path string) {
	configPath = path
}

func Get() *Config {
	once.Do(func() {
		instance = &Config{}
		if err := instance.loadConfig(); err != nil {
			_, _ = fmt.Fprintf(os.Stderr, "configuration Error: %v\n", err)
			os.Exit(1)
		}
	})
	return instance
}

func (c *Config) setDefaults() {
	c.LogLevel = cmp.Or(c.LogLevel, "info")
	c.General.TickInterval = cmp.Or(c.General.TickInterval, "3s")
	if c.General.DownloadLimit == 0 {
		c.General.DownloadLimit = 3
	}
	if c.General.UnpackLimit == 0 {
		c.General.UnpackLimit = 1
	}
	if c.General.DownloadRetryAttempts == 0 {
		c.General.DownloadRetryAttempts = 2
	}
	c.DownloadClient.Client = DownloadClient(cmp.Or(string(c.DownloadClient.Client), string(DownloadClientInternal)))

	c.Web.BindAddress = cmp.Or(c.Web.BindAddress, "0.0.0.0")
	c.Web.Port = cmp.Or(c.Web.Port, "6500")
	if c.Web.URLBase == "" {
		c.Web.URLBase = "/"
	}
	if !strings.HasPrefix(c.Web.URLBase, "/") {
		c.Web.URLBase = "/" + c.Web.URLBase
	}
	if !strings.HasSuffix(c.Web.URLBase, "/") {
		c.Web.URLBase += "/"
	}
	if c.Web.APIToken == "" {
		if token, err := generateAPIToken(); err == nil {
			c.Web.APIToken = token
		}
	}
}

// TorrentDefaults resolves the intake defaults for a category: the
// General values with the category's overrides applied. Category lookup
// is case-insensitive.
func (c *Config) TorrentDefaults(category string) General {
	g := c.General
	cat, ok := c.Categories[strings.ToLower(category)]
	if !ok {
		return g
	}
	if cat.TorrentRetryAttempts != nil {
		g.TorrentRetryAttempts = *cat.TorrentRetryAttempts
	}
	if cat.DownloadRetryAttempts != nil {
		g.DownloadRetryAttempts = *cat.DownloadRetryAttempts
	}
	if cat.TorrentLifetime != nil {
		g.TorrentLifetime = *cat.TorrentLifetime
	}
	if cat.DeleteOnError != nil {
		g.DeleteOnError = *cat.DeleteOnError
	}
	if cat.FinishedAction != nil {
		g.FinishedAction = *cat.FinishedAction
	}
	if cat.HostDownloadAction != nil {
		g.HostDownloadAction = *cat.HostDownloadAction
	}
	return g
}

func (c *Config) Save() error {
	c.setDefaults()

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(c.JsonFile(), data, 0644)
}

func (c *Config) createConfig(path string) error {
	if err := os.MkdirAll(path, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	c.Path = path
	c.LogLevel = "info"
	c.Categories = map[string]Category{"sonarr": {}, "radarr": {}}
	c.DownloadClient = DownloadClientConfig{
		Client:       DownloadClientInternal,
		DownloadPath: filepath.Join(path, "downloads"),
	}
	return nil
}

// Reload forces a reload of the configuration from disk
func Reload() {
	instance = nil
	once = sync.Once{}
}
