// Package config loads settings from an optional file and MEDIAMGR_*
// environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/tinoosan/mediamgr/internal/downloadcfg"
	"github.com/tinoosan/mediamgr/internal/ratelimit"
	"github.com/tinoosan/mediamgr/internal/token"
)

const EnvPrefix = "MEDIAMGR"

var ErrInvalid = errors.New("invalid configuration")

// DefaultSecretsDir is where container runtimes mount secret files.
const DefaultSecretsDir = "/run/secrets"

// secretKeys may be supplied as files named after the key with dots
// replaced by underscores, e.g. /run/secrets/telegram_token.
var secretKeys = []string{"telegram.token", "tmdb.api_key"}

type Config struct {
	Telegram TelegramConfig `mapstructure:"telegram"`
	Paths    PathsConfig    `mapstructure:"paths"`
	Download DownloadConfig `mapstructure:"download"`
	Watcher  WatcherConfig  `mapstructure:"watcher"`
	Token    TokenConfig    `mapstructure:"token"`
	TMDB     TMDBConfig     `mapstructure:"tmdb"`
	History  HistoryConfig  `mapstructure:"history"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	HTTP     HTTPConfig     `mapstructure:"http"`
	Secrets  SecretsConfig  `mapstructure:"secrets"`
}

type TelegramConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Token   string `mapstructure:"token"`
	// ChatID receives notifications that are not replies to a chat.
	ChatID       int64   `mapstructure:"chat_id"`
	AllowedChats []int64 `mapstructure:"allowed_chats"`
}

type PathsConfig struct {
	DownloadDir  string `mapstructure:"download_dir"`
	TempDir      string `mapstructure:"temp_dir"`
	MoviesDir    string `mapstructure:"movies_dir"`
	TVDir        string `mapstructure:"tv_dir"`
	UnmatchedDir string `mapstructure:"unmatched_dir"`
}

type DownloadConfig struct {
	MaxConcurrent    int           `mapstructure:"max_concurrent"`
	MaxRetries       int           `mapstructure:"max_retries"`
	RetryDelay       time.Duration `mapstructure:"retry_delay"`
	Verify           bool          `mapstructure:"verify"`
	SpeedLimitBytes  int64         `mapstructure:"speed_limit_bytes"`
	SpeedLimitMbps   float64       `mapstructure:"speed_limit_mbps"`
	UpdateInterval   time.Duration `mapstructure:"update_interval"`
	ProgressInterval time.Duration `mapstructure:"progress_interval"`
	ProgressStep     float64       `mapstructure:"progress_step"`
	Collision        string        `mapstructure:"collision"`
	DrainTimeout     time.Duration `mapstructure:"drain_timeout"`
}

// SpeedLimit is the byte ceiling per second; 0 is unlimited. An explicit
// byte value wins over the Mbps form.
func (d DownloadConfig) SpeedLimit() int64 {
	if d.SpeedLimitBytes > 0 {
		return d.SpeedLimitBytes
	}
	if d.SpeedLimitMbps > 0 {
		return ratelimit.MbpsToBytes(d.SpeedLimitMbps)
	}
	return 0
}

type WatcherConfig struct {
	PollInterval  time.Duration `mapstructure:"poll_interval"`
	StableTimeout time.Duration `mapstructure:"stable_timeout"`
	StopTimeout   time.Duration `mapstructure:"stop_timeout"`
}

type TokenConfig struct {
	Timeout   time.Duration `mapstructure:"timeout"`
	Policy    string        `mapstructure:"policy"`
	HoldLimit time.Duration `mapstructure:"hold_limit"`
}

type TMDBConfig struct {
	APIKey   string  `mapstructure:"api_key"`
	BaseURL  string  `mapstructure:"base_url"`
	Language string  `mapstructure:"language"`
	Rate     float64 `mapstructure:"rate"`
	Burst    int     `mapstructure:"burst"`
}

type HistoryConfig struct {
	Driver string `mapstructure:"driver"`
	DSN    string `mapstructure:"dsn"`
}

type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	Compress   bool   `mapstructure:"compress"`
}

type HTTPConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Addr     string `mapstructure:"addr"`
	APIToken string `mapstructure:"api_token"`
}

type SecretsConfig struct {
	Dir string `mapstructure:"dir"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("telegram.enabled", true)
	v.SetDefault("telegram.token", "")
	v.SetDefault("telegram.chat_id", 0)
	v.SetDefault("telegram.allowed_chats", []int64{})

	v.SetDefault("paths.download_dir", "downloads")
	v.SetDefault("paths.temp_dir", "")
	v.SetDefault("paths.movies_dir", "media/movies")
	v.SetDefault("paths.tv_dir", "media/tv")
	v.SetDefault("paths.unmatched_dir", "media/unmatched")

	v.SetDefault("download.max_concurrent", 3)
	v.SetDefault("download.max_retries", 3)
	v.SetDefault("download.retry_delay", 5*time.Second)
	v.SetDefault("download.verify", true)
	v.SetDefault("download.speed_limit_bytes", 0)
	v.SetDefault("download.speed_limit_mbps", 0)
	v.SetDefault("download.update_interval", ratelimit.DefaultUpdateInterval)
	v.SetDefault("download.progress_interval", 5*time.Second)
	v.SetDefault("download.progress_step", 10)
	v.SetDefault("download.collision", string(downloadcfg.CollisionError))
	v.SetDefault("download.drain_timeout", 10*time.Second)

	v.SetDefault("watcher.poll_interval", 500*time.Millisecond)
	v.SetDefault("watcher.stable_timeout", 30*time.Second)
	v.SetDefault("watcher.stop_timeout", 5*time.Second)

	v.SetDefault("token.timeout", 30*time.Second)
	v.SetDefault("token.policy", string(token.FailClosed))
	v.SetDefault("token.hold_limit", 2*time.Minute)

	v.SetDefault("tmdb.api_key", "")
	v.SetDefault("tmdb.base_url", "https://api.themoviedb.org/3")
	v.SetDefault("tmdb.language", "en-US")
	v.SetDefault("tmdb.rate", 4)
	v.SetDefault("tmdb.burst", 10)

	v.SetDefault("history.driver", "memory")
	v.SetDefault("history.dsn", "")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.file", "")
	v.SetDefault("logging.max_size_mb", 10)
	v.SetDefault("logging.max_backups", 5)
	v.SetDefault("logging.max_age_days", 28)
	v.SetDefault("logging.compress", false)

	v.SetDefault("http.enabled", true)
	v.SetDefault("http.addr", ":9090")
	v.SetDefault("http.api_token", "")

	v.SetDefault("secrets.dir", DefaultSecretsDir)
}

// New returns a viper instance with defaults and environment binding. Flags
// may be bound to it before Load reads it.
func New() *viper.Viper {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// Load reads path (any format viper understands) when non-empty, overlays
// the environment and validates the result. Secret files in secrets.dir
// take precedence over both for the keys in secretKeys.
func Load(v *viper.Viper, path string) (*Config, error) {
	if v == nil {
		v = New()
	}
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}
	if err := applySecrets(v, v.GetString("secrets.dir")); err != nil {
		return nil, err
	}
	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

func applySecrets(v *viper.Viper, dir string) error {
	if dir == "" {
		return nil
	}
	for _, key := range secretKeys {
		path := filepath.Join(dir, strings.ReplaceAll(key, ".", "_"))
		b, err := os.ReadFile(path)
		if errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err != nil {
			return fmt.Errorf("read secret %s: %w", path, err)
		}
		if val := strings.TrimSpace(string(b)); val != "" {
			v.Set(key, val)
		}
	}
	return nil
}

// Validate reports every problem at once.
func (c *Config) Validate() error {
	var errs []error
	bad := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf("%w: "+format, append([]any{ErrInvalid}, args...)...))
	}
	if c.Telegram.Enabled && strings.TrimSpace(c.Telegram.Token) == "" {
		bad("telegram.token is required when telegram is enabled")
	}
	if c.Paths.DownloadDir == "" {
		bad("paths.download_dir is required")
	}
	if c.Download.MaxConcurrent < 1 {
		bad("download.max_concurrent must be at least 1")
	}
	if c.Download.MaxRetries < 0 {
		bad("download.max_retries must not be negative")
	}
	if c.Download.ProgressStep <= 0 || c.Download.ProgressStep > 100 {
		bad("download.progress_step must be in (0, 100]")
	}
	switch downloadcfg.CollisionPolicy(c.Download.Collision) {
	case downloadcfg.CollisionError, downloadcfg.CollisionOverwrite, downloadcfg.CollisionRename:
	default:
		bad("download.collision %q is not one of error|overwrite|rename", c.Download.Collision)
	}
	if _, err := token.ParsePolicy(c.Token.Policy); err != nil {
		bad("token.policy: %v", err)
	}
	if c.Watcher.PollInterval <= 0 || c.Watcher.StableTimeout < c.Watcher.PollInterval {
		bad("watcher.stable_timeout must be at least watcher.poll_interval")
	}
	switch strings.ToLower(c.History.Driver) {
	case "", "memory", "postgres", "sqlite":
	default:
		bad("history.driver %q is not one of memory|postgres|sqlite", c.History.Driver)
	}
	return errors.Join(errs...)
}
