// Package config loads service configuration from environment variables.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"
)

// Config aggregates every configurable concern of the service.
type Config struct {
	Server    ServerConfig
	Store     StoreConfig
	Hub       HubConfig
	Responder ResponderConfig
}

// ServerConfig describes the HTTP listener.
type ServerConfig struct {
	Addr        string
	CORSOrigins []string
}

// StoreConfig selects and parameterizes the persistence driver.
type StoreConfig struct {
	Driver     string // "memory" or "sqlite"
	SQLitePath string
}

// HubConfig tunes connection fan-out.
type HubConfig struct {
	WriteTimeout time.Duration
}

// ResponderConfig controls the auto-responder rule engine.
type ResponderConfig struct {
	Enabled   bool
	RulesPath string
}

// Load reads and validates configuration from the environment.
func Load() (*Config, error) {
	server, err := loadServerConfig()
	if err != nil {
		return nil, err
	}

	st, err := loadStoreConfig()
	if err != nil {
		return nil, err
	}

	writeTimeout := 5 * time.Second
	if raw := strings.TrimSpace(os.Getenv("HUB_WRITE_TIMEOUT")); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil || d <= 0 {
			return nil, fmt.Errorf("invalid HUB_WRITE_TIMEOUT value: %q", raw)
		}
		writeTimeout = d
	}

	return &Config{
		Server: server,
		Store:  st,
		Hub:    HubConfig{WriteTimeout: writeTimeout},
		Responder: ResponderConfig{
			Enabled:   getEnvBool("RESPONDER_ENABLED", true),
			RulesPath: strings.TrimSpace(os.Getenv("RESPONDER_RULES_PATH")),
		},
	}, nil
}

func loadServerConfig() (ServerConfig, error) {
	port := strings.TrimSpace(os.Getenv("PORT"))
	if port == "" {
		port = "8080"
	}

	addr := port
	if !strings.Contains(port, ":") {
		// Allow either ":8080"/"127.0.0.1:8080" or a bare port number.
		if strings.Contains(port, " ") {
			return ServerConfig{}, fmt.Errorf("invalid PORT value: %q", port)
		}
		addr = ":" + port
	}

	origins := []string{"*"}
	if raw := strings.TrimSpace(os.Getenv("CORS_ALLOWED_ORIGINS")); raw != "" {
		origins = origins[:0]
		for _, o := range strings.Split(raw, ",") {
			if o = strings.TrimSpace(o); o != "" {
				origins = append(origins, o)
			}
		}
	}

	return ServerConfig{Addr: addr, CORSOrigins: origins}, nil
}

func loadStoreConfig() (StoreConfig, error) {
	driver := strings.ToLower(strings.TrimSpace(getEnv("STORE_DRIVER", "memory")))
	switch driver {
	case "memory", "sqlite":
	default:
		return StoreConfig{}, fmt.Errorf("invalid STORE_DRIVER value: %q", driver)
	}

	path := getEnv("STORE_SQLITE_PATH", "./data/concierge.db")
	if driver == "sqlite" && strings.TrimSpace(path) == "" {
		return StoreConfig{}, fmt.Errorf("STORE_SQLITE_PATH cannot be empty")
	}

	return StoreConfig{Driver: driver, SQLitePath: path}, nil
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}
