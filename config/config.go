// Package config loads server configuration from PROTOCOLSRV_*-prefixed
// environment variables, layered over a set of hardcoded defaults.
package config

import (
	"os"
	"strconv"

	"github.com/SubbaMooney/vibecoding-demo/logx"
)

// Config holds the server's resource caps plus the listen address and
// websocket path this binary adds on top.
type Config struct {
	ListenAddr     string
	WebsocketPath  string
	MaxConnections int
	MaxMessageSize int
	LogLevel       logx.Level
}

// Default returns the baseline defaults: max_connections=100,
// max_message_size=10 MiB.
func Default() Config {
	return Config{
		ListenAddr:     ":8765",
		WebsocketPath:  "/ws",
		MaxConnections: 100,
		MaxMessageSize: 10 * 1024 * 1024,
		LogLevel:       logx.LevelInfo,
	}
}

// FromEnv overlays PROTOCOLSRV_* environment variables onto Default().
// Malformed integers and level names are ignored, leaving the default.
func FromEnv() Config {
	cfg := Default()

	if v := os.Getenv("PROTOCOLSRV_LISTEN_ADDR"); v != "" {
		cfg.ListenAddr = v
	}
	if v := os.Getenv("PROTOCOLSRV_WEBSOCKET_PATH"); v != "" {
		cfg.WebsocketPath = v
	}
	if v := os.Getenv("PROTOCOLSRV_MAX_CONNECTIONS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.MaxConnections = n
		}
	}
	if v := os.Getenv("PROTOCOLSRV_MAX_MESSAGE_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.MaxMessageSize = n
		}
	}
	if v := os.Getenv("PROTOCOLSRV_LOG_LEVEL"); v != "" {
		if level, ok := parseLevel(v); ok {
			cfg.LogLevel = level
		}
	}

	return cfg
}

func parseLevel(s string) (logx.Level, bool) {
	switch s {
	case "debug", "DEBUG":
		return logx.LevelDebug, true
	case "info", "INFO":
		return logx.LevelInfo, true
	case "warn", "WARN":
		return logx.LevelWarn, true
	case "error", "ERROR":
		return logx.LevelError, true
	default:
		return 0, false
	}
}
