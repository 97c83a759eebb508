package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Backend selects the persistence layer.
type Backend string

const (
	BackendMemory   Backend = "memory"
	BackendFile     Backend = "file"
	BackendPostgres Backend = "postgres"
)

// Config contains runtime configuration required by the service.
type Config struct {
	ListenAddr string
	Backend    Backend
	DataDir    string // file backend
	DBURL      string // postgres backend

	// MasterKeys maps API key → group for push credentials. SlaveKeys maps
	// API key → bound slaveId; when non-empty, slave endpoints require a
	// key and the request's slaveId must match the binding.
	MasterKeys map[string]string
	SlaveKeys  map[string]string

	MaxEventsPerGroup int
	MaxEventAge       time.Duration
	SlaveActiveWindow time.Duration
	PollMaxLimit      int
	PollDefaultLimit  int
}

// Load reads required values from environment variables.
// MASTER_KEYS format: "group1:key1,group2:key2"
// SLAVE_KEYS format:  "slaveA:key1,slaveB:key2"
func Load() (Config, error) {
	cfg := Config{
		ListenAddr:       envOrDefault("LISTEN_ADDR", ":8080"),
		Backend:          Backend(envOrDefault("STORE_BACKEND", string(BackendMemory))),
		DataDir:          envOrDefault("DATA_DIR", "./data"),
		DBURL:            strings.TrimSpace(os.Getenv("DB_URL")),
		PollDefaultLimit: 50,
	}

	switch cfg.Backend {
	case BackendMemory, BackendFile:
	case BackendPostgres:
		if cfg.DBURL == "" {
			return Config{}, errors.New("DB_URL required when STORE_BACKEND=postgres")
		}
	default:
		return Config{}, fmt.Errorf("STORE_BACKEND must be memory, file or postgres, got %q", cfg.Backend)
	}

	var err error
	if cfg.MasterKeys, err = parseKeys("MASTER_KEYS"); err != nil {
		return Config{}, err
	}
	if cfg.SlaveKeys, err = parseKeys("SLAVE_KEYS"); err != nil {
		return Config{}, err
	}

	if cfg.MaxEventsPerGroup, err = envIntOrDefault("MAX_EVENTS_PER_GROUP", 10000); err != nil {
		return Config{}, err
	}
	if cfg.PollMaxLimit, err = envIntOrDefault("POLL_MAX_LIMIT", 200); err != nil {
		return Config{}, err
	}
	if cfg.MaxEventAge, err = envDurationOrDefault("MAX_EVENT_AGE", 72*time.Hour); err != nil {
		return Config{}, err
	}
	if cfg.SlaveActiveWindow, err = envDurationOrDefault("SLAVE_ACTIVE_WINDOW", 72*time.Hour); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// parseKeys reads "name1:key1,name2:key2" into key → name.
func parseKeys(envVar string) (map[string]string, error) {
	raw := strings.TrimSpace(os.Getenv(envVar))
	keys := map[string]string{}
	if raw == "" {
		return keys, nil
	}
	for _, p := range strings.Split(raw, ",") {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		parts := strings.SplitN(p, ":", 2)
		if len(parts) != 2 {
			return nil, fmt.Errorf(`%s must be "name:key,name:key"`, envVar)
		}
		name := strings.TrimSpace(parts[0])
		key := strings.TrimSpace(parts[1])
		if name == "" || key == "" {
			return nil, fmt.Errorf(`%s must be "name:key,name:key"`, envVar)
		}
		keys[key] = name
	}
	return keys, nil
}

// envOrDefault returns the value of an env var or a default.
func envOrDefault(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func envIntOrDefault(key string, def int) (int, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def, nil
	}
	val, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return val, nil
}

func envDurationOrDefault(key string, def time.Duration) (time.Duration, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def, nil
	}
	val, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return val, nil
}
