package config

import (
	"os"
	"strconv"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// DefaultConfigFile is the path checked for YAML configuration.
const DefaultConfigFile = "cricket.yaml"

// Load returns a Config using the hierarchy: defaults < YAML < ENV.
// The YAML file is optional; a missing file is not an error.
func Load() (*Config, error) {
	return LoadFrom(DefaultConfigFile)
}

// LoadFrom returns a Config loaded from the given YAML path using the
// hierarchy: defaults < YAML < ENV.
func LoadFrom(yamlPath string) (*Config, error) {
	cfg := Defaults()

	if err := loadYAML(&cfg, yamlPath); err != nil {
		return nil, errors.Wrap(err, "config yaml")
	}

	loadEnv(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, errors.Wrap(err, "config validate")
	}

	return &cfg, nil
}

// loadYAML reads the YAML file and unmarshals it over cfg.
// Returns nil if the file does not exist.
func loadYAML(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return errors.Wrapf(err, "read %s", path)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return errors.Wrapf(err, "parse %s", path)
	}

	return nil
}

// loadEnv overlays environment variables onto cfg.
// Only non-empty env values override the current config.
func loadEnv(cfg *Config) {
	setString(&cfg.API.BaseURL, "CRICKET_API_BASE_URL")
	setString(&cfg.API.Token, "CRICKET_API_TOKEN")
	setDuration(&cfg.API.Timeout, "CRICKET_API_TIMEOUT")
	setInt(&cfg.Session.PageSize, "CRICKET_PAGE_SIZE")
	setString(&cfg.Session.QuickChatTitle, "CRICKET_QUICK_CHAT_TITLE")
	setBool(&cfg.History.Enabled, "CRICKET_HISTORY_ENABLED")
	setString(&cfg.History.Path, "CRICKET_HISTORY_PATH")
	setBool(&cfg.Redis.Enabled, "CRICKET_REDIS_ENABLED")
	setString(&cfg.Redis.Addr, "CRICKET_REDIS_ADDR")
	setString(&cfg.Redis.Group, "CRICKET_REDIS_GROUP")
	setString(&cfg.Redis.Consumer, "CRICKET_REDIS_CONSUMER")
	setString(&cfg.Logging.Level, "CRICKET_LOG_LEVEL")
}

// validate checks that required fields are set.
func validate(cfg *Config) error {
	if cfg.API.BaseURL == "" {
		return errors.New("api.base_url is required")
	}
	if cfg.API.Timeout <= 0 {
		return errors.New("api.timeout must be positive")
	}
	if cfg.Session.PageSize < 1 {
		return errors.New("session.page_size must be >= 1")
	}
	if cfg.History.Enabled && cfg.History.Path == "" {
		return errors.New("history.path is required when history is enabled")
	}
	if cfg.Redis.Enabled && cfg.Redis.Addr == "" {
		return errors.New("redis.addr is required when redis is enabled")
	}
	return nil
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *time.Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}
