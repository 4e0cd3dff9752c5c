package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/sethvargo/go-envconfig"
	"gopkg.in/yaml.v3"
)

const EnvPrefix = "CHATSYNC_"

// Config is read from an optional YAML file, then from CHATSYNC_* environment
// variables for every field the file left empty, then defaults.
type Config struct {
	APIURL      string        `yaml:"api_url" env:"API_URL,default=http://127.0.0.1:8080/api"`
	WSURL       string        `yaml:"ws_url" env:"WS_URL,default=ws://127.0.0.1:8080/ws"`
	Token       string        `yaml:"token" env:"TOKEN"`
	DeviceDB    string        `yaml:"device_db" env:"DEVICE_DB,default=chatsync.db"`
	HTTPTimeout time.Duration `yaml:"http_timeout" env:"HTTP_TIMEOUT,default=15s"`
	MetricsAddr string        `yaml:"metrics_addr" env:"METRICS_ADDR"`

	PageSize      int           `yaml:"page_size" env:"PAGE_SIZE,default=20"`
	RefreshWindow time.Duration `yaml:"refresh_window" env:"REFRESH_WINDOW,default=250ms"`
	TypingIdle    time.Duration `yaml:"typing_idle" env:"TYPING_IDLE,default=1500ms"`
	TypingTTL     time.Duration `yaml:"typing_ttl" env:"TYPING_TTL,default=2500ms"`
	MaxSkew       time.Duration `yaml:"max_skew" env:"MAX_SKEW,default=5m"`
}

func Load(path string) (*Config, error) {
	return LoadWith(context.Background(), path, envconfig.PrefixLookuper(EnvPrefix, envconfig.OsLookuper()))
}

func LoadWith(ctx context.Context, path string, l envconfig.Lookuper) (*Config, error) {
	c := &Config{}
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(raw, c); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	if err := envconfig.ProcessWith(ctx, c, l); err != nil {
		return nil, fmt.Errorf("parsing env vars: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Config) Validate() error {
	var errs []error
	if c.APIURL == "" {
		errs = append(errs, errors.New("api_url is required"))
	}
	if c.WSURL == "" {
		errs = append(errs, errors.New("ws_url is required"))
	}
	if c.PageSize <= 0 || c.PageSize > 100 {
		errs = append(errs, fmt.Errorf("page_size: %d not in [1, 100]", c.PageSize))
	}
	if c.MaxSkew < 0 {
		errs = append(errs, errors.New("max_skew must not be negative"))
	}
	return errors.Join(errs...)
}
