// Package config reads server settings from the environment. Command
// flags override individual fields.
package config

import (
	"os"
	"strconv"
)

// Config carries everything the serve command needs to wire the engine.
type Config struct {
	Port          int
	RedisURL      string
	ClassifierURL string
	ClassifierKey string
	CORSOrigin    string
	LogLevel      string
}

// FromEnv builds a Config from CONVOFLOW_* variables, with defaults for
// local development. An absent classifier URL selects the deterministic
// fallback classifier.
func FromEnv() Config {
	return Config{
		Port:          envInt("CONVOFLOW_PORT", 3000),
		RedisURL:      envString("CONVOFLOW_REDIS_URL", "redis://localhost:6379"),
		ClassifierURL: os.Getenv("CONVOFLOW_CLASSIFIER_URL"),
		ClassifierKey: os.Getenv("CONVOFLOW_CLASSIFIER_KEY"),
		CORSOrigin:    os.Getenv("CONVOFLOW_CORS_ORIGIN"),
		LogLevel:      envString("CONVOFLOW_LOG_LEVEL", "info"),
	}
}

func envString(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func envInt(key string, fallback int) int {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return parsed
}
