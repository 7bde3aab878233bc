package main

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

// Config holds all agentrun server configuration.
// Priority: env vars > settings.json > defaults.
type Config struct {
	DBPath         string `json:"db_path"`
	LogLevel       string `json:"log_level"`
	JanitorCron    string `json:"janitor_cron"`
	StaleAfterSec  int    `json:"stale_after_sec"`
	JanitorEnabled bool   `json:"janitor_enabled"`
}

func defaultConfig() Config {
	return Config{
		DBPath:         filepath.Join(agentrunDir(), "agentrun.db"),
		LogLevel:       "info",
		JanitorCron:    "*/5 * * * *",
		StaleAfterSec:  600,
		JanitorEnabled: true,
	}
}

func agentrunDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".agentrun"
	}
	return filepath.Join(home, ".agentrun")
}

func settingsPath() string {
	return filepath.Join(agentrunDir(), "settings.json")
}

func loadConfig() Config {
	cfg := defaultConfig()

	// Layer 2: settings.json (ignore if missing).
	if data, err := os.ReadFile(settingsPath()); err == nil {
		_ = json.Unmarshal(data, &cfg)
	}

	// Layer 3: env vars override.
	if v := os.Getenv("AGENTRUN_DB_PATH"); v != "" {
		cfg.DBPath = v
	}
	if v := os.Getenv("AGENTRUN_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("AGENTRUN_JANITOR_CRON"); v != "" {
		cfg.JanitorCron = v
	}
	if v := os.Getenv("AGENTRUN_STALE_AFTER_SEC"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.StaleAfterSec = n
		}
	}
	if v := os.Getenv("AGENTRUN_JANITOR"); v != "" {
		cfg.JanitorEnabled = v == "true" || v == "1"
	}

	return cfg
}

// StaleAfter returns the stale-running threshold as a duration.
func (c Config) StaleAfter() time.Duration {
	return time.Duration(c.StaleAfterSec) * time.Second
}
