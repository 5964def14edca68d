// Package config loads server configuration from an optional .env file,
// the environment and an optional YAML overlay.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/mcoot/cryptoquiz-go/internal/model"
)

// Backend names
const (
	StorageMemory   = "memory"
	StorageRedis    = "redis"
	StoragePostgres = "postgres"

	FeedMemory = "memory"
	FeedRedis  = "redis"
	FeedNATS   = "nats"
	FeedPoll   = "poll"
)

// Config holds everything the server needs to start
type Config struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`

	StorageType string `yaml:"storage_type"`
	RedisURL    string `yaml:"redis_url"`
	DatabaseURL string `yaml:"database_url"`

	FeedType     string        `yaml:"feed_type"`
	NATSURL      string        `yaml:"nats_url"`
	PollInterval time.Duration `yaml:"poll_interval"`

	QuestionBankPath string        `yaml:"question_bank_path"`
	ScoringMode      string        `yaml:"scoring_mode"`
	ChoicesDelay     time.Duration `yaml:"choices_delay"`
	QuestionDuration time.Duration `yaml:"question_duration"`

	CORSAllowedOrigins []string      `yaml:"cors_allowed_origins"`
	SessionDuration    time.Duration `yaml:"session_duration"`

	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`
}

// Default returns the configuration used when nothing is set
func Default() Config {
	game := model.DefaultGameConfig()
	return Config{
		Port:             8080,
		StorageType:      StorageMemory,
		RedisURL:         "redis://localhost:6379",
		DatabaseURL:      "postgres://localhost:5432/cryptoquiz?sslmode=disable",
		FeedType:         FeedMemory,
		NATSURL:          "nats://127.0.0.1:4222",
		PollInterval:     time.Second,
		ScoringMode:      string(model.ScoringFlat),
		ChoicesDelay:     game.ChoicesDelay,
		QuestionDuration: game.QuestionDuration,
		SessionDuration:  24 * time.Hour,
		LogLevel:         "info",
		LogFormat:        "json",
	}
}

// Load reads .env (if present), then the environment, then the YAML file
// named by CONFIG_FILE (if set), and validates the result
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}

	cfg := FromEnv()
	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := cfg.Overlay(path); err != nil {
			return Config{}, err
		}
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// FromEnv builds a Config from environment variables over the defaults
func FromEnv() Config {
	d := Default()
	return Config{
		Host:               getEnv("HOST", d.Host),
		Port:               getEnvAsInt("PORT", d.Port),
		StorageType:        getEnv("STORAGE_TYPE", d.StorageType),
		RedisURL:           getEnv("REDIS_URL", d.RedisURL),
		DatabaseURL:        getEnv("DATABASE_URL", d.DatabaseURL),
		FeedType:           getEnv("FEED_TYPE", d.FeedType),
		NATSURL:            getEnv("NATS_URL", d.NATSURL),
		PollInterval:       getEnvAsDuration("POLL_INTERVAL", d.PollInterval),
		QuestionBankPath:   getEnv("QUESTION_BANK_PATH", d.QuestionBankPath),
		ScoringMode:        getEnv("SCORING_MODE", d.ScoringMode),
		ChoicesDelay:       getEnvAsDuration("CHOICES_DELAY", d.ChoicesDelay),
		QuestionDuration:   getEnvAsDuration("QUESTION_DURATION", d.QuestionDuration),
		CORSAllowedOrigins: getEnvAsList("CORS_ALLOWED_ORIGINS", d.CORSAllowedOrigins),
		SessionDuration:    getEnvAsDuration("SESSION_DURATION", d.SessionDuration),
		LogLevel:           getEnv("LOG_LEVEL", d.LogLevel),
		LogFormat:          getEnv("LOG_FORMAT", d.LogFormat),
	}
}

// Overlay replaces fields with those set in the YAML file at path
func (c *Config) Overlay(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config: %w", err)
	}
	return nil
}

// Validate rejects unknown backends and unusable values
func (c Config) Validate() error {
	switch c.StorageType {
	case StorageMemory, StorageRedis, StoragePostgres:
	default:
		return fmt.Errorf("invalid STORAGE_TYPE %q: must be memory, redis or postgres", c.StorageType)
	}
	switch c.FeedType {
	case FeedMemory, FeedRedis, FeedNATS, FeedPoll:
	default:
		return fmt.Errorf("invalid FEED_TYPE %q: must be memory, redis, nats or poll", c.FeedType)
	}
	if !model.ScoringMode(c.ScoringMode).Valid() {
		return fmt.Errorf("invalid SCORING_MODE %q: %w", c.ScoringMode, model.ErrInvalidScoringMode)
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid PORT %d", c.Port)
	}
	if c.ChoicesDelay < 0 || c.QuestionDuration <= 0 {
		return errors.New("CHOICES_DELAY must be >= 0 and QUESTION_DURATION > 0")
	}
	if c.FeedType == FeedPoll && c.PollInterval <= 0 {
		return errors.New("POLL_INTERVAL must be > 0")
	}
	return nil
}

// GameConfig returns the pacing and default scoring mode for new games
func (c Config) GameConfig() model.GameConfig {
	return model.GameConfig{
		ChoicesDelay:     c.ChoicesDelay,
		QuestionDuration: c.QuestionDuration,
		ScoringMode:      model.ScoringMode(c.ScoringMode),
	}
}

// Logger builds the process logger from LOG_LEVEL and LOG_FORMAT
func (c Config) Logger() *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLevel(c.LogLevel)}
	if strings.EqualFold(c.LogFormat, "text") {
		return slog.New(slog.NewTextHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, opts))
}

func parseLevel(s string) slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo
	}
	return level
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getEnvAsList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
