// Package config loads Action Server configuration. Sources, in priority
// order: environment variables > CLI flags > defaults, matching the
// control-plane's own env-overlay convention.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Config holds process-wide Action Server configuration.
type Config struct {
	DataDir         string
	ActionsDir      string
	ListenAddr      string
	APIKey          string
	HTTPS           bool
	ActionsSync     bool
	MinProcesses    int
	MaxProcesses    int
	ReuseProcesses  bool
	SkipLint        bool
	Verbose         bool
	CheckInterval   int // scheduler tick interval, seconds
	DecryptInfo     []string
	DecryptKeys     []string
	MaxGlobalConcur int

	// NoConda reuses the ambient Python interpreter instead of building an
	// isolated environment via rcc, set from ACTION_SERVER_NO_CONDA.
	NoConda bool

	// ShutdownAPIEnabled gates POST /api/shutdown, set from RC_ADD_SHUTDOWN_API.
	ShutdownAPIEnabled bool
}

// Default returns production defaults.
func Default() Config {
	return Config{
		DataDir:         "./datadir",
		ActionsDir:      "./actions",
		ListenAddr:      ":8087",
		ActionsSync:     true,
		MinProcesses:    1,
		MaxProcesses:    4,
		ReuseProcesses:  true,
		CheckInterval:   10,
		MaxGlobalConcur: 10,
	}
}

// LoadEnv overlays recognized ACTION_SERVER_* environment variables onto
// cfg, returning the result. It never fails on an absent variable; a
// malformed value returns an error so start-up can abort cleanly.
func LoadEnv(cfg Config) (Config, error) {
	if v := os.Getenv("ACTION_SERVER_DATADIR"); v != "" {
		cfg.DataDir = v
	}
	if v := os.Getenv("ACTION_SERVER_ACTIONS_DIR"); v != "" {
		cfg.ActionsDir = v
	}
	if v := os.Getenv("ACTION_SERVER_ADDRESS"); v != "" {
		cfg.ListenAddr = v
	}
	if v := os.Getenv("ACTION_SERVER_API_KEY"); v != "" {
		cfg.APIKey = v
	}
	if v := os.Getenv("ACTION_SERVER_DECRYPT_INFORMATION"); v != "" {
		cfg.DecryptInfo = splitNonEmpty(v)
	}
	if v := os.Getenv("ACTION_SERVER_DECRYPT_KEYS"); v != "" {
		cfg.DecryptKeys = splitNonEmpty(v)
	}
	if v := os.Getenv("ACTION_SERVER_MIN_PROCESSES"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return cfg, fmt.Errorf("ACTION_SERVER_MIN_PROCESSES: %w", err)
		}
		cfg.MinProcesses = n
	}
	if v := os.Getenv("ACTION_SERVER_MAX_PROCESSES"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return cfg, fmt.Errorf("ACTION_SERVER_MAX_PROCESSES: %w", err)
		}
		cfg.MaxProcesses = n
	}
	if v := os.Getenv("RC_ADD_SHUTDOWN_API"); v == "1" || strings.EqualFold(v, "true") {
		cfg.ShutdownAPIEnabled = true
	}
	if v := os.Getenv("ACTION_SERVER_NO_CONDA"); v == "1" || strings.EqualFold(v, "true") {
		cfg.NoConda = true
	}
	return cfg, nil
}

func splitNonEmpty(v string) []string {
	parts := strings.FieldsFunc(v, func(r rune) bool { return r == ',' || r == '\n' })
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
