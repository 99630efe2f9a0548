package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// ClientConfig captures the settings shared by everything that talks to
// OpenTox services.
type ClientConfig struct {
	AuthToken      string            `mapstructure:"auth_token"`
	RequestTimeout time.Duration     `mapstructure:"request_timeout"`
	PollInterval   time.Duration     `mapstructure:"poll_interval"`
	MaxRetries     int               `mapstructure:"max_retries"`
	RetryDelay     time.Duration     `mapstructure:"retry_delay"`
	MaxRedirects   int               `mapstructure:"max_redirects"`
	Algorithms     map[string]string `mapstructure:"algorithms"`
}

// MonitorConfig captures runtime settings for the training monitor service.
type MonitorConfig struct {
	ListenAddr  string        `mapstructure:"listen_addr"`
	DatabaseURL string        `mapstructure:"database_url"`
	StorePath   string        `mapstructure:"store_path"`
	RedisURL    string        `mapstructure:"redis_url"`
	CacheTTL    time.Duration `mapstructure:"cache_ttl"`

	ClientConfig `mapstructure:",squash"`
}

// LoadClient loads client configuration from defaults, files, and TOXOTIS_* env vars.
func LoadClient() (ClientConfig, error) {
	v := newViper("TOXOTIS")
	setClientDefaults(v)

	var cfg ClientConfig
	if err := load(v, &cfg); err != nil {
		return ClientConfig{}, err
	}
	return cfg, cfg.validate()
}

// LoadMonitor loads monitor configuration from defaults, files, and
// TOXOTIS_MONITOR_* env vars.
func LoadMonitor() (MonitorConfig, error) {
	v := newViper("TOXOTIS_MONITOR")
	setClientDefaults(v)
	v.SetDefault("listen_addr", ":8090")
	v.SetDefault("database_url", "")
	v.SetDefault("store_path", "data/jobs.json")
	v.SetDefault("redis_url", "")
	v.SetDefault("cache_ttl", 24*time.Hour)

	var cfg MonitorConfig
	if err := load(v, &cfg); err != nil {
		return MonitorConfig{}, err
	}
	return cfg, cfg.validate()
}

func newViper(prefix string) *viper.Viper {
	v := viper.New()
	v.SetConfigName("config")
	v.AddConfigPath("./configs")
	v.SetEnvPrefix(prefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

func setClientDefaults(v *viper.Viper) {
	v.SetDefault("auth_token", "")
	v.SetDefault("request_timeout", 30*time.Second)
	v.SetDefault("poll_interval", 5*time.Second)
	v.SetDefault("max_retries", 3)
	v.SetDefault("retry_delay", time.Second)
	v.SetDefault("max_redirects", 10)
}

func load(v *viper.Viper, out any) error {
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return fmt.Errorf("load config: %w", err)
		}
	}
	if err := v.Unmarshal(out); err != nil {
		return fmt.Errorf("unmarshal config: %w", err)
	}
	return nil
}

func (c ClientConfig) validate() error {
	if c.PollInterval <= 0 {
		return fmt.Errorf("poll_interval must be positive, got %s", c.PollInterval)
	}
	if c.RequestTimeout <= 0 {
		return fmt.Errorf("request_timeout must be positive, got %s", c.RequestTimeout)
	}
	if c.MaxRetries < 1 {
		return fmt.Errorf("max_retries must be at least 1, got %d", c.MaxRetries)
	}
	return nil
}
