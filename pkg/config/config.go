// Package config loads cricket's settings with the hierarchy
// defaults < YAML < environment.
package config

import (
	"time"

	"github.com/go-go-golems/cricket/pkg/redisstream"
)

type Config struct {
	API     API                  `yaml:"api"`
	Session Session              `yaml:"session"`
	History History              `yaml:"history"`
	Redis   redisstream.Settings `yaml:"redis"`
	Logging Logging              `yaml:"logging"`
}

// API points at the dashboard's chat backend.
type API struct {
	BaseURL string        `yaml:"base_url"`
	Token   string        `yaml:"token"`
	Timeout time.Duration `yaml:"timeout"`
}

type Session struct {
	PageSize       int    `yaml:"page_size"`
	QuickChatTitle string `yaml:"quick_chat_title"`
}

// History controls the local SQLite transcript archive.
type History struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

type Logging struct {
	Level string `yaml:"level"`
}

// Defaults returns the built-in configuration: a local backend, history in
// the working directory, Redis mirroring off.
func Defaults() Config {
	return Config{
		API: API{
			BaseURL: "http://localhost:8080",
			Timeout: 30 * time.Second,
		},
		Session: Session{
			PageSize:       50,
			QuickChatTitle: "Quick chat",
		},
		History: History{
			Enabled: true,
			Path:    "cricket-history.db",
		},
		Redis: redisstream.DefaultSettings(),
		Logging: Logging{
			Level: "info",
		},
	}
}
