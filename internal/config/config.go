// Package config provides configuration for the portal CLI.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds the portal configuration.
type Config struct {
	// Backend settings
	APIURL string // Base URL for one-shot and streaming requests
	WSURL  string // Base URL for the pipeline channel; derived from APIURL when empty
	Token  string // Bearer credential

	// Request settings
	RequestTimeout time.Duration // One-shot requests only; streams are context-bound

	// Conversation settings
	DBPath         string
	HistoryBudget  int    // Token budget for request history
	TokenizerModel string // Model whose encoding sizes the history window

	// Attachment settings
	MaxFileBytes int64
	MaxFiles     int

	// Stub server settings
	StubPort int

	// Logging
	LogLevel string
}

// Load loads configuration from environment variables.
func Load() *Config {
	return &Config{
		APIURL:         getEnv("PORTAL_API_URL", "http://localhost:8089"),
		WSURL:          getEnv("PORTAL_WS_URL", ""),
		Token:          getEnv("PORTAL_TOKEN", ""),
		RequestTimeout: time.Duration(getEnvInt("PORTAL_REQUEST_TIMEOUT_MS", 30000)) * time.Millisecond,
		DBPath:         getEnv("PORTAL_DB", "portal.db"),
		HistoryBudget:  getEnvInt("PORTAL_HISTORY_TOKENS", 4000),
		TokenizerModel: getEnv("PORTAL_TOKENIZER_MODEL", "gpt-4o"),
		MaxFileBytes:   int64(getEnvInt("PORTAL_MAX_FILE_BYTES", 10*1024*1024)),
		MaxFiles:       getEnvInt("PORTAL_MAX_FILES", 5),
		StubPort:       getEnvInt("PORTAL_STUB_PORT", 8089),
		LogLevel:       getEnv("PORTAL_LOG_LEVEL", "info"),
	}
}

// WebSocketURL returns the base URL for the pipeline channel. When WSURL
// is not set explicitly it is derived from APIURL by swapping the scheme.
func (c *Config) WebSocketURL() string {
	if c.WSURL != "" {
		return c.WSURL
	}
	switch {
	case strings.HasPrefix(c.APIURL, "https://"):
		return "wss://" + strings.TrimPrefix(c.APIURL, "https://")
	case strings.HasPrefix(c.APIURL, "http://"):
		return "ws://" + strings.TrimPrefix(c.APIURL, "http://")
	}
	return c.APIURL
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if intVal, err := strconv.Atoi(val); err == nil {
			return intVal
		}
	}
	return defaultVal
}
