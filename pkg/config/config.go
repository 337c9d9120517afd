package config

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/spf13/viper"

	"github.com/realpolitik/push-relay/pkg/registry"
	"github.com/realpolitik/push-relay/pkg/webpush"
)

// APIKey maps a static key to a dashboard user.
type APIKey struct {
	Key    string `json:"key" mapstructure:"key"`
	UserID string `json:"user_id" mapstructure:"user_id"`
}

// AuthConfig configures request authentication. The dispatch secret is the
// shared bearer token presented by the upstream event source; API keys
// authenticate dashboard users on the subscription endpoints.
type AuthConfig struct {
	DispatchSecret string   `json:"dispatch_secret" mapstructure:"dispatch_secret"`
	HeaderName     string   `json:"header_name" mapstructure:"header_name"`
	APIKeys        []APIKey `json:"api_keys" mapstructure:"api_keys"`
	KeysFile       string   `json:"keys_file" mapstructure:"keys_file"`
}

// RedisConfig configures the shared dedup store. Empty Addr selects the
// in-process store.
type RedisConfig struct {
	Addr     string `json:"addr" mapstructure:"addr"`
	Password string `json:"password" mapstructure:"password"`
	DB       int    `json:"db" mapstructure:"db"`
}

// SweepConfig configures the stale-subscription sweep.
type SweepConfig struct {
	Enabled     bool   `json:"enabled" mapstructure:"enabled"`
	Schedule    string `json:"schedule" mapstructure:"schedule"`
	HorizonDays int    `json:"horizon_days" mapstructure:"horizon_days"`
}

// SlackConfig configures the optional dispatch report.
type SlackConfig struct {
	Token   string `json:"token" mapstructure:"token"`
	Channel string `json:"channel" mapstructure:"channel"`
}

// Config is the relay configuration.
type Config struct {
	Port     int                 `json:"port" mapstructure:"port"`
	Workers  int                 `json:"workers" mapstructure:"workers"`
	MaxRules int                 `json:"max_rules" mapstructure:"max_rules"`
	InboxDir string              `json:"inbox_dir" mapstructure:"inbox_dir"`
	Auth     AuthConfig          `json:"auth" mapstructure:"auth"`
	Registry registry.Config     `json:"registry" mapstructure:"registry"`
	VAPID    webpush.VAPIDConfig `json:"vapid" mapstructure:"vapid"`
	Redis    RedisConfig         `json:"redis" mapstructure:"redis"`
	Sweep    SweepConfig         `json:"sweep" mapstructure:"sweep"`
	Slack    SlackConfig         `json:"slack" mapstructure:"slack"`
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() *Config {
	return &Config{
		Port:     8080,
		Workers:  16,
		MaxRules: 5,
		InboxDir: "./data/inbox",
		Auth: AuthConfig{
			HeaderName: "X-API-Key",
		},
		Registry: registry.Config{
			Type: "file",
			Dir:  "./data",
		},
		Sweep: SweepConfig{
			Schedule:    "30 4 * * *",
			HorizonDays: 180,
		},
	}
}

// Load reads configuration from an optional JSON file with environment
// overrides (prefix PUSHRELAY_, dots become underscores, e.g.
// PUSHRELAY_VAPID_PRIVATE_KEY).
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("PUSHRELAY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	}

	cfg := DefaultConfig()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse configuration: %w", err)
	}

	if cfg.Auth.KeysFile != "" {
		if err := cfg.loadAPIKeysFromFile(); err != nil {
			log.Printf("[CONFIG] failed to load API keys from %s: %v", cfg.Auth.KeysFile, err)
		}
	}

	return cfg, nil
}

// setDefaults registers every key so environment overrides are picked up by
// Unmarshal.
func setDefaults(v *viper.Viper) {
	def := DefaultConfig()
	v.SetDefault("port", def.Port)
	v.SetDefault("workers", def.Workers)
	v.SetDefault("max_rules", def.MaxRules)
	v.SetDefault("inbox_dir", def.InboxDir)
	v.SetDefault("auth.dispatch_secret", "")
	v.SetDefault("auth.header_name", def.Auth.HeaderName)
	v.SetDefault("auth.keys_file", "")
	v.SetDefault("registry.type", def.Registry.Type)
	v.SetDefault("registry.dir", def.Registry.Dir)
	v.SetDefault("registry.database_url", "")
	v.SetDefault("registry.s3_bucket", "")
	v.SetDefault("registry.s3_region", "")
	v.SetDefault("registry.s3_endpoint", "")
	v.SetDefault("registry.s3_prefix", "")
	v.SetDefault("vapid.public_key", "")
	v.SetDefault("vapid.private_key", "")
	v.SetDefault("vapid.subscriber", "")
	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("sweep.enabled", false)
	v.SetDefault("sweep.schedule", def.Sweep.Schedule)
	v.SetDefault("sweep.horizon_days", def.Sweep.HorizonDays)
	v.SetDefault("slack.token", "")
	v.SetDefault("slack.channel", "")
}

// loadAPIKeysFromFile merges keys from an external JSON file, so
// deployments can mount rotating key material separately from the main
// config.
func (c *Config) loadAPIKeysFromFile() error {
	data, err := os.ReadFile(c.Auth.KeysFile)
	if err != nil {
		return err
	}
	var parsed struct {
		APIKeys []APIKey `json:"api_keys"`
	}
	if err := json.Unmarshal(data, &parsed); err != nil {
		return fmt.Errorf("failed to parse keys file: %w", err)
	}
	c.Auth.APIKeys = append(c.Auth.APIKeys, parsed.APIKeys...)
	return nil
}

// UserForKey resolves an API key to a user id.
func (c *Config) UserForKey(key string) (string, bool) {
	if key == "" {
		return "", false
	}
	for _, k := range c.Auth.APIKeys {
		if k.Key == key {
			return k.UserID, true
		}
	}
	return "", false
}
