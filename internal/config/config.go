// Package config loads process configuration from environment variables,
// matching main.go's existing os.Getenv/os.LookupEnv style rather than
// introducing a configuration library.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds everything main needs to wire a Scheduler and its HTTP
// surface, per spec.md §6's Configuration table plus the ambient
// concerns (listen address, log level, database path) main.go already
// reads from the environment.
type Config struct {
	PlayerName       string
	DontRepeatFor    float64
	MaxDontRepeatFor int // -1 means no cap
	TickPeriod       time.Duration
	DBPath           string
	ListenAddr       string
	Port             string
	LogLevel         string
	YouTubeAPIKey    string
}

const (
	defaultPlayerName = "default"
	defaultPort       = "8080"
	defaultTickPeriod = 250 * time.Millisecond
	defaultDBPath     = "fairshare.db"
)

// Load reads Config from the environment. PLAYER_NAME, DB_PATH, PORT and
// TICK_PERIOD fall back to defaults when unset; LOG_LEVEL is left empty,
// and main.go then falls back to the info level.
func Load() (Config, error) {
	cfg := Config{
		PlayerName:       getenvOr("PLAYER_NAME", defaultPlayerName),
		MaxDontRepeatFor: -1,
		TickPeriod:       defaultTickPeriod,
		DBPath:           getenvOr("DB_PATH", defaultDBPath),
		ListenAddr:       os.Getenv("LISTEN_ADDR"),
		Port:             getenvOr("PORT", defaultPort),
		LogLevel:         os.Getenv("LOG_LEVEL"),
		YouTubeAPIKey:    os.Getenv("YT_API_KEY"),
	}

	if raw, set := os.LookupEnv("DONT_REPEAT_FOR"); set {
		v, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
		if err != nil {
			return Config{}, fmt.Errorf("config: DONT_REPEAT_FOR: %w", err)
		}
		cfg.DontRepeatFor = v
	}

	if raw, set := os.LookupEnv("MAX_DONT_REPEAT_FOR"); set {
		v, err := strconv.Atoi(strings.TrimSpace(raw))
		if err != nil {
			return Config{}, fmt.Errorf("config: MAX_DONT_REPEAT_FOR: %w", err)
		}
		cfg.MaxDontRepeatFor = v
	}

	if raw, set := os.LookupEnv("TICK_PERIOD"); set {
		d, err := time.ParseDuration(strings.TrimSpace(raw))
		if err != nil {
			return Config{}, fmt.Errorf("config: TICK_PERIOD: %w", err)
		}
		cfg.TickPeriod = d
	}

	return cfg, nil
}

func getenvOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
