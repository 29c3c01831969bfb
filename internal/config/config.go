package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"nexus/internal/settings"
)

// ServerConfig configures the streaming server.
type ServerConfig struct {
	Addr           string   `mapstructure:"addr"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

// ConvexConfig configures the conversation store backend. An empty URL
// selects the in-memory store.
type ConvexConfig struct {
	URL            string        `mapstructure:"url"`
	APIKey         string        `mapstructure:"api_key"`
	TimeoutSeconds int           `mapstructure:"timeout_seconds"`
	Timeout        time.Duration `mapstructure:"-"`
}

// BroadcastConfig configures the client side of the broadcast session.
type BroadcastConfig struct {
	Endpoint         string        `mapstructure:"endpoint"`
	GracePeriodMilli int           `mapstructure:"grace_period_ms"`
	GracePeriod      time.Duration `mapstructure:"-"`
}

// ProviderConfig configures one upstream LLM provider.
type ProviderConfig struct {
	BaseURL        string        `mapstructure:"base_url"`
	APIKey         string        `mapstructure:"api_key"`
	TimeoutSeconds int           `mapstructure:"timeout_seconds"`
	Timeout        time.Duration `mapstructure:"-"`
}

// DestinationConfig is one catalog entry a panel can target.
type DestinationConfig struct {
	ID          string `mapstructure:"id"`
	Provider    string `mapstructure:"provider"`
	Model       string `mapstructure:"model"`
	DisplayName string `mapstructure:"display_name"`
	Tier        string `mapstructure:"tier"`
}

// Config is the resolved application configuration.
type Config struct {
	Server       ServerConfig              `mapstructure:"server"`
	Convex       ConvexConfig              `mapstructure:"convex"`
	Broadcast    BroadcastConfig           `mapstructure:"broadcast"`
	Providers    map[string]ProviderConfig `mapstructure:"providers"`
	Destinations []DestinationConfig       `mapstructure:"destinations"`
	SettingsPath string                    `mapstructure:"settings_path"`
}

// Catalog converts the configured destinations into the settings catalog.
func (c *Config) Catalog() []settings.Destination {
	out := make([]settings.Destination, 0, len(c.Destinations))
	for _, d := range c.Destinations {
		out = append(out, settings.Destination{
			ID:          d.ID,
			ProviderID:  d.Provider,
			ModelID:     d.Model,
			DisplayName: d.DisplayName,
			Tier:        d.Tier,
		})
	}
	return out
}

// Load reads configuration from the given file (or ~/.nexus/config.yaml when
// path is empty), layered under NEXUS_* environment overrides. A missing
// config file is not an error; defaults apply.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("NEXUS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		home, err := os.UserHomeDir()
		if err == nil {
			v.AddConfigPath(filepath.Join(home, ".nexus"))
		}
		v.AddConfigPath(".")
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}

	if err := v.ReadInConfig(); err != nil {
		// An explicit config path must exist and parse; the default search
		// is allowed to come up empty.
		if path != "" {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	normalize(&cfg)
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", ":8090")
	v.SetDefault("server.allowed_origins", []string{"*"})
	v.SetDefault("convex.timeout_seconds", 30)
	v.SetDefault("broadcast.endpoint", "http://127.0.0.1:8090/api/broadcasts/stream")
	v.SetDefault("broadcast.grace_period_ms", 2000)
	v.SetDefault("settings_path", "")
}

func normalize(cfg *Config) {
	cfg.Convex.Timeout = time.Duration(cfg.Convex.TimeoutSeconds) * time.Second
	cfg.Broadcast.GracePeriod = time.Duration(cfg.Broadcast.GracePeriodMilli) * time.Millisecond

	for id, p := range cfg.Providers {
		p.Timeout = time.Duration(p.TimeoutSeconds) * time.Second
		cfg.Providers[id] = p
	}

	if cfg.SettingsPath == "" {
		if home, err := os.UserHomeDir(); err == nil {
			cfg.SettingsPath = filepath.Join(home, ".nexus", "settings.json")
		} else {
			cfg.SettingsPath = "settings.json"
		}
	}
}
