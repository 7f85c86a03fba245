// Package config loads guidepost configuration from an optional
// config.yaml file overlaid with GUIDEPOST_-prefixed environment
// variables.
package config

import (
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

type Config struct {
	Server   ServerConfig   `koanf:"server"`
	Storage  StorageConfig  `koanf:"storage"`
	Redis    RedisConfig    `koanf:"redis"`
	Consumer ConsumerConfig `koanf:"consumer"`
	OpenAI   OpenAIConfig   `koanf:"openai"`
	Webhook  WebhookConfig  `koanf:"webhook"`
}

type ServerConfig struct {
	Port int `koanf:"port"`
}

type StorageConfig struct {
	Type   string       `koanf:"type"` // sqlite, memory
	SQLite SQLiteConfig `koanf:"sqlite"`
}

type SQLiteConfig struct {
	Path string `koanf:"path"`
}

type RedisConfig struct {
	URL    string `koanf:"url"`
	Stream string `koanf:"stream"`
	Group  string `koanf:"group"`
}

type ConsumerConfig struct {
	Name      string `koanf:"name"`
	BatchSize int64  `koanf:"batch_size"`
	BlockMS   int64  `koanf:"block_ms"`
	BackoffMS int64  `koanf:"backoff_ms"`
}

// Block converts the configured milliseconds to a duration.
func (c ConsumerConfig) Block() time.Duration { return time.Duration(c.BlockMS) * time.Millisecond }

// Backoff converts the configured milliseconds to a duration.
func (c ConsumerConfig) Backoff() time.Duration { return time.Duration(c.BackoffMS) * time.Millisecond }

type OpenAIConfig struct {
	APIKey  string `koanf:"api_key"`
	BaseURL string `koanf:"base_url"`
	Model   string `koanf:"model"`
}

type WebhookConfig struct {
	URL string `koanf:"url"`
}

// Load reads config.yaml if present, then overlays environment
// variables. GUIDEPOST_SERVER__PORT maps to server.port.
func Load() (*Config, error) {
	return LoadFile("config.yaml")
}

// LoadFile is Load with an explicit file path, for tests.
func LoadFile(path string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		// File not found is OK, we'll use env vars
		if !os.IsNotExist(err) {
			return nil, err
		}
	}

	if err := k.Load(env.Provider("GUIDEPOST_", ".", func(s string) string {
		return strings.Replace(strings.ToLower(strings.TrimPrefix(s, "GUIDEPOST_")), "__", ".", -1)
	}), nil); err != nil {
		return nil, err
	}

	// Default values
	if !k.Exists("server.port") {
		k.Set("server.port", 8080)
	}
	if !k.Exists("storage.type") {
		k.Set("storage.type", "sqlite")
	}
	if !k.Exists("storage.sqlite.path") {
		k.Set("storage.sqlite.path", "guidepost.db")
	}
	if !k.Exists("redis.url") {
		k.Set("redis.url", "redis://localhost:6379/0")
	}
	if !k.Exists("openai.model") {
		k.Set("openai.model", "gpt-4o-mini")
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}
