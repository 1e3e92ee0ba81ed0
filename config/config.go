package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/gookit/validate"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"channel_sync/models"
)

type Config struct {
	DBPath      string `validate:"required"`
	DatabaseURL string
	LogPath     string `validate:"required"`
	LogLevel    string `validate:"required|in:trace,debug,info,warn,error"`
	ChannelsDir string

	// CredentialKey is the base64 encoded 32 byte key that seals
	// connection credentials at rest.
	CredentialKey models.Secret

	Sync      SyncConfig
	Email     EmailConfig
	Scrape    ScrapeConfig
	Scheduler SchedulerConfig
	API       APIConfig
	SMTP      SMTPConfig
	Archive   ArchiveConfig
	Metrics   MetricsConfig
	Proxy     ProxyConfig

	Channels map[models.ChannelID]*ChannelConfig
}

type SyncConfig struct {
	Workers        int           `validate:"required|min:1|max:32"`
	ChannelTimeout time.Duration `validate:"required"`
	RunTimeout     time.Duration `validate:"required"`
	HTTPTimeout    time.Duration `validate:"required"`
	FeedCacheMB    int           `validate:"min:0"`
}

// EmailConfig bounds the IMAP search. Older confirmations outside Window
// are not seen; PageSize caps messages fetched per search.
type EmailConfig struct {
	Window      time.Duration `validate:"required"`
	PageSize    int           `validate:"required|min:1|max:500"`
	DialTimeout time.Duration `validate:"required"`
}

type ScrapeConfig struct {
	Headless    bool
	NavTimeout  time.Duration `validate:"required"`
	ListTimeout time.Duration `validate:"required"`
	MaxScrolls  int           `validate:"required|min:1"`
	ScrollDelay time.Duration
	MaxCards    int `validate:"min:0"`
}

type SchedulerConfig struct {
	Cron      string
	APICron   string
	EmailCron string
	Interval  time.Duration
}

type APIConfig struct {
	Addr      string
	AccessKey string

	// AllowedOrigins lists browser origins the websocket feed accepts
	// besides the server's own.
	AllowedOrigins []string
}

type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password models.Secret
	From     string
	To       string
}

func (c SMTPConfig) Enabled() bool {
	return c.Host != "" && c.From != "" && c.To != ""
}

type ArchiveConfig struct {
	Bucket          string
	Region          string
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey models.Secret
}

func (c ArchiveConfig) Enabled() bool {
	return c.Bucket != ""
}

type MetricsConfig struct {
	Enabled bool
}

type ProxyConfig struct {
	URL string
}

// ChannelConfig carries per-platform endpoint overrides, loaded from
// config/channels/*.yaml.
type ChannelConfig struct {
	ID          models.ChannelID  `yaml:"id"`
	Name        string            `yaml:"name"`
	RateLimitMS int               `yaml:"rate_limit_ms"`
	Endpoints   map[string]string `yaml:"endpoints"`
	MobileAPI   MobileAPIConfig   `yaml:"mobile_api"`
}

type MobileAPIConfig struct {
	APIKey    string `yaml:"api_key"`
	UserAgent string `yaml:"user_agent"`
	Locale    string `yaml:"locale"`
	Currency  string `yaml:"currency"`
	PageSize  int    `yaml:"page_size"`
}

// Endpoint returns the configured endpoint for key, or fallback.
func (c *ChannelConfig) Endpoint(key, fallback string) string {
	if c != nil {
		if v, ok := c.Endpoints[key]; ok && v != "" {
			return v
		}
	}
	return fallback
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		DBPath:        getEnv("DB_PATH", "channel_sync.db"),
		DatabaseURL:   os.Getenv("DATABASE_URL"),
		LogPath:       getEnv("LOG_PATH", "daemon.log"),
		LogLevel:      getEnv("LOG_LEVEL", "info"),
		ChannelsDir:   getEnv("CHANNELS_DIR", "config/channels"),
		CredentialKey: models.Secret(os.Getenv("CREDENTIALS_KEY")),
		Sync: SyncConfig{
			Workers:        getEnvInt("SYNC_WORKERS", 3),
			ChannelTimeout: getEnvDuration("SYNC_CHANNEL_TIMEOUT", 5*time.Minute),
			RunTimeout:     getEnvDuration("SYNC_RUN_TIMEOUT", 50*time.Minute),
			HTTPTimeout:    getEnvDuration("SYNC_HTTP_TIMEOUT", 30*time.Second),
			FeedCacheMB:    getEnvInt("FEED_CACHE_MB", 16),
		},
		Email: EmailConfig{
			Window:      getEnvDuration("EMAIL_WINDOW", 30*24*time.Hour),
			PageSize:    getEnvInt("EMAIL_PAGE_SIZE", 50),
			DialTimeout: getEnvDuration("EMAIL_DIAL_TIMEOUT", 20*time.Second),
		},
		Scrape: ScrapeConfig{
			Headless:    getEnv("SCRAPE_HEADLESS", "true") != "false",
			NavTimeout:  getEnvDuration("SCRAPE_NAV_TIMEOUT", 60*time.Second),
			ListTimeout: getEnvDuration("SCRAPE_LIST_TIMEOUT", 30*time.Second),
			MaxScrolls:  getEnvInt("SCRAPE_MAX_SCROLLS", 25),
			ScrollDelay: getEnvDuration("SCRAPE_SCROLL_DELAY", 2*time.Second),
			MaxCards:    getEnvInt("SCRAPE_MAX_CARDS", 0),
		},
		Scheduler: SchedulerConfig{
			Cron:      getEnv("SYNC_CRON", "@hourly"),
			APICron:   getEnv("API_SYNC_CRON", "@every 30m"),
			EmailCron: os.Getenv("EMAIL_SYNC_CRON"),
		},
		API: APIConfig{
			Addr:           os.Getenv("API_ADDR"),
			AccessKey:      os.Getenv("API_ACCESS_KEY"),
			AllowedOrigins: getEnvList("WS_ALLOWED_ORIGINS"),
		},
		SMTP: SMTPConfig{
			Host:     os.Getenv("SMTP_HOST"),
			Port:     getEnvInt("SMTP_PORT", 587),
			Username: os.Getenv("SMTP_USERNAME"),
			Password: models.Secret(os.Getenv("SMTP_PASSWORD")),
			From:     os.Getenv("SMTP_FROM"),
			To:       os.Getenv("SMTP_TO"),
		},
		Archive: ArchiveConfig{
			Bucket:          os.Getenv("ARCHIVE_BUCKET"),
			Region:          getEnv("ARCHIVE_REGION", "us-east-1"),
			Endpoint:        os.Getenv("ARCHIVE_ENDPOINT"),
			AccessKeyID:     os.Getenv("ARCHIVE_ACCESS_KEY_ID"),
			SecretAccessKey: models.Secret(os.Getenv("ARCHIVE_SECRET_ACCESS_KEY")),
		},
		Metrics: MetricsConfig{
			Enabled: os.Getenv("METRICS_ENABLED") != "false",
		},
		Proxy: ProxyConfig{
			URL: os.Getenv("PROXY_URL"),
		},
		Channels: make(map[models.ChannelID]*ChannelConfig),
	}

	if interval := os.Getenv("SYNC_INTERVAL"); interval != "" {
		d, err := time.ParseDuration(interval)
		if err == nil {
			cfg.Scheduler.Interval = d
		}
	}

	if err := cfg.loadChannelConfigs(); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks the loaded values against their struct tags.
func (c *Config) Validate() error {
	sections := []struct {
		name string
		data interface{}
	}{
		{"config", c},
		{"sync", &c.Sync},
		{"email", &c.Email},
		{"scrape", &c.Scrape},
	}

	for _, s := range sections {
		v := validate.Struct(s.data)
		if !v.Validate() {
			return fmt.Errorf("invalid %s config: %s", s.name, v.Errors.One())
		}
	}

	for id, ch := range c.Channels {
		if ch.Name == "" {
			return fmt.Errorf("channel config %s: name is required", id)
		}
	}
	return nil
}

// Channel returns the config for id, or nil when none was loaded.
func (c *Config) Channel(id models.ChannelID) *ChannelConfig {
	return c.Channels[id]
}

func (c *Config) loadChannelConfigs() error {
	entries, err := os.ReadDir(c.ChannelsDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".yaml" {
			continue
		}

		path := filepath.Join(c.ChannelsDir, entry.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}

		var ch ChannelConfig
		if err := yaml.Unmarshal(data, &ch); err != nil {
			return fmt.Errorf("parse %s: %w", path, err)
		}
		if ch.ID == "" {
			return fmt.Errorf("parse %s: missing id", path)
		}

		c.Channels[ch.ID] = &ch
	}

	return nil
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvList(key string) []string {
	var out []string
	for _, v := range strings.Split(os.Getenv(key), ",") {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
	}
	return defaultVal
}
