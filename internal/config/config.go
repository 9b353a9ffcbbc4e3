// Package config loads graphqueue's runtime configuration from environment
// variables only; no configuration file is read.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/spf13/viper"
)

// Config is the fully resolved set of settings a graphqueue process needs to
// open its database, find workflow definitions, and talk to the upstream
// graph runner.
type Config struct {
	// Root is the data directory: it holds the SQLite database, the
	// staged-input upload root, and the per-prompt log files.
	Root string
	// WorkflowDefsDir holds the *.workflow.(yaml|yml|json) definitions.
	WorkflowDefsDir string
	// UpstreamBaseURL is the graph runner's HTTP base URL.
	UpstreamBaseURL string
	// UpstreamInputRoot is the directory the upstream process resolves
	// relative input paths against; used to rewrite staged paths to the
	// form the upstream process expects.
	UpstreamInputRoot string
	// APIPort is the HTTP port the gin server listens on.
	APIPort int
	// Debug enables verbose logging.
	Debug bool
	// EventsEnabled turns on the embedded NATS JetStream publisher.
	EventsEnabled bool
}

// DatabasePath is the SQLite file graphqueue opens, derived from Root.
func (c *Config) DatabasePath() string {
	return filepath.Join(c.Root, "data", "queue.db")
}

// UploadRoot is where staged input files are copied before dispatch.
func (c *Config) UploadRoot() string {
	return filepath.Join(c.Root, "uploads")
}

// LogDir is where per-prompt execution logs are appended.
func (c *Config) LogDir() string {
	return filepath.Join(c.Root, "data", "logs")
}

// Load reads configuration from the environment, applying the documented
// defaults. No configuration file is consulted.
func Load() (*Config, error) {
	viper.AutomaticEnv()
	viper.SetEnvPrefix("GRAPHQUEUE")

	cfg := &Config{
		Root:              getEnvOrDefault("GRAPHQUEUE_ROOT", defaultRoot()),
		WorkflowDefsDir:   getEnvOrDefault("WORKFLOW_DEFS_DIR", ""),
		UpstreamBaseURL:   getEnvOrDefault("UPSTREAM_BASE_URL", "http://127.0.0.1:8188"),
		UpstreamInputRoot: getEnvOrDefault("UPSTREAM_INPUT_ROOT", ""),
		APIPort:           getEnvIntOrDefault("API_PORT", 8787),
		Debug:             getEnvBoolOrDefault("GRAPHQUEUE_DEBUG", false),
		EventsEnabled:     getEnvBoolOrDefault("GRAPHQUEUE_EVENTS_ENABLED", false),
	}

	if cfg.WorkflowDefsDir == "" {
		cfg.WorkflowDefsDir = filepath.Join(cfg.Root, "workflow_defs")
	}
	if cfg.UpstreamInputRoot == "" {
		cfg.UpstreamInputRoot = cfg.UploadRoot()
	}

	if err := os.MkdirAll(cfg.Root, 0o755); err != nil {
		return nil, fmt.Errorf("creating data root %s: %w", cfg.Root, err)
	}

	return cfg, nil
}

// defaultRoot is the root used when $GRAPHQUEUE_ROOT is unset: a
// "graphqueue" directory under the user's home, else ./graphqueue.
func defaultRoot() string {
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, "graphqueue")
	}
	return "./graphqueue"
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvBoolOrDefault(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}
