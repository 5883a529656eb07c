package common

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/pelletier/go-toml/v2"
)

// Config represents the application configuration
type Config struct {
	Environment string           `toml:"environment"` // "development" or "production"
	Server      ServerConfig     `toml:"server"`
	Logging     LoggingConfig    `toml:"logging"`
	Storage     StorageConfig    `toml:"storage"`
	Queue       QueueConfig      `toml:"queue"`
	Sandbox     SandboxConfig    `toml:"sandbox"`
	Retention   RetentionConfig  `toml:"retention"`
	JobTypes    []JobTypeConfig  `toml:"jobtypes" validate:"min=1,dive"` // ordered: first MIME match wins
}

type ServerConfig struct {
	Host string `toml:"host"`
	Port int    `toml:"port" validate:"min=1,max=65535"`
}

type LoggingConfig struct {
	Level      string   `toml:"level" validate:"oneof=trace debug info warn error"`
	Output     []string `toml:"output"`      // "stdout", "file"
	TimeFormat string   `toml:"time_format"` // Time format for logs (default: "15:04:05")
}

type StorageConfig struct {
	Type    string        `toml:"type" validate:"oneof=memory badger mongodb"`
	Badger  BadgerConfig  `toml:"badger"`
	MongoDB MongoDBConfig `toml:"mongodb"`
	// BlobThreshold is the largest payload stored inline with a job record.
	// Bigger documents are moved to the backend's blob side-channel so
	// records stay well below MongoDB's 16 MiB document limit.
	BlobThreshold int `toml:"blob_threshold" validate:"min=0"`
}

// BadgerConfig represents BadgerDB-specific configuration
type BadgerConfig struct {
	Path string `toml:"path"` // Database directory path
}

// MongoDBConfig represents MongoDB-specific configuration
type MongoDBConfig struct {
	URI      string `toml:"uri"`
	Database string `toml:"database"`
}

type QueueConfig struct {
	// MaxConcurrentJobs caps the number of sandboxes running at once.
	// Zero means one per CPU.
	MaxConcurrentJobs int `toml:"max_concurrent_jobs" validate:"min=0"`
}

type SandboxConfig struct {
	// Host is the container engine socket, e.g. unix:///run/podman/podman.sock
	// or tcp://127.0.0.1:8888. Podman's Docker-compatible API is assumed.
	Host string `toml:"host" validate:"required"`
}

// RetentionConfig controls the periodic purge of settled jobs and sessions.
type RetentionConfig struct {
	Enabled           bool   `toml:"enabled"`
	Schedule          string `toml:"schedule"` // cron expression or @every descriptor
	JobTTLMinutes     int    `toml:"job_ttl_minutes" validate:"min=1"`
	SessionTTLMinutes int    `toml:"session_ttl_minutes" validate:"min=1"`
}

// JobTypeConfig declares one document type the service accepts. Entries are
// an array of tables so their file order is preserved; the first type whose
// MIME list matches an upload handles it.
type JobTypeConfig struct {
	ID    string `toml:"id" validate:"required"`
	Image string `toml:"image" validate:"required"` // container image for this type's sandbox
}

// NewDefaultConfig creates a configuration with default values.
// Technical parameters are hardcoded here for production stability.
// Only user-facing settings should be exposed in purgo.toml.
func NewDefaultConfig() *Config {
	return &Config{
		Environment: "development",
		Server: ServerConfig{
			Host: "localhost",
			Port: 8080,
		},
		Logging: LoggingConfig{
			Level:      "info",
			Output:     []string{"stdout", "file"},
			TimeFormat: "15:04:05",
		},
		Storage: StorageConfig{
			Type: "badger",
			Badger: BadgerConfig{
				Path: "./data",
			},
			MongoDB: MongoDBConfig{
				URI:      "mongodb://localhost:27017",
				Database: "purgo",
			},
			BlobThreshold: 15 * 1024 * 1024, // keep room below the 16 MiB document cap
		},
		Queue: QueueConfig{
			MaxConcurrentJobs: 0, // one per CPU
		},
		Sandbox: SandboxConfig{
			Host: "unix:///run/podman/podman.sock",
		},
		Retention: RetentionConfig{
			Enabled:           true,
			Schedule:          "@every 1m",
			JobTTLMinutes:     10,
			SessionTTLMinutes: 1440,
		},
		JobTypes: []JobTypeConfig{
			{ID: "pdf", Image: "localhost/purgo_pdf:latest"},
		},
	}
}

// LoadFromFiles loads configuration from multiple files with priority:
// default -> file1 -> file2 -> ... -> env. Later files override earlier
// files, environment variables override everything. Missing paths are an
// error; empty path arguments are skipped.
func LoadFromFiles(paths ...string) (*Config, error) {
	config := NewDefaultConfig()

	for i, path := range paths {
		if path == "" {
			continue
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}

		if err := toml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s (file %d of %d): %w", path, i+1, len(paths), err)
		}
	}

	applyEnvOverrides(config)

	if err := validator.New().Struct(config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return config, nil
}

// applyEnvOverrides applies environment variable overrides to config
func applyEnvOverrides(config *Config) {
	// Environment configuration (highest priority: PURGO_ENV, fallback: GO_ENV)
	if env := os.Getenv("PURGO_ENV"); env != "" {
		config.Environment = env
	} else if env := os.Getenv("GO_ENV"); env != "" {
		config.Environment = env
	}

	// Server configuration
	if port := os.Getenv("PURGO_SERVER_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			config.Server.Port = p
		}
	}
	if host := os.Getenv("PURGO_SERVER_HOST"); host != "" {
		config.Server.Host = host
	}

	// Logging configuration
	if level := os.Getenv("PURGO_LOG_LEVEL"); level != "" {
		config.Logging.Level = level
	}
	if output := os.Getenv("PURGO_LOG_OUTPUT"); output != "" {
		outputs := []string{}
		for _, o := range strings.Split(output, ",") {
			if trimmed := strings.TrimSpace(o); trimmed != "" {
				outputs = append(outputs, trimmed)
			}
		}
		if len(outputs) > 0 {
			config.Logging.Output = outputs
		}
	}

	// Storage configuration
	if storageType := os.Getenv("PURGO_STORAGE_TYPE"); storageType != "" {
		config.Storage.Type = storageType
	}
	if badgerPath := os.Getenv("PURGO_BADGER_PATH"); badgerPath != "" {
		config.Storage.Badger.Path = badgerPath
	}
	if uri := os.Getenv("PURGO_MONGODB_URI"); uri != "" {
		config.Storage.MongoDB.URI = uri
	}
	if db := os.Getenv("PURGO_MONGODB_DATABASE"); db != "" {
		config.Storage.MongoDB.Database = db
	}
	if threshold := os.Getenv("PURGO_STORAGE_BLOB_THRESHOLD"); threshold != "" {
		if t, err := strconv.Atoi(threshold); err == nil {
			config.Storage.BlobThreshold = t
		}
	}

	// Queue configuration
	if maxJobs := os.Getenv("PURGO_QUEUE_MAX_CONCURRENT_JOBS"); maxJobs != "" {
		if m, err := strconv.Atoi(maxJobs); err == nil {
			config.Queue.MaxConcurrentJobs = m
		}
	}

	// Sandbox configuration
	if host := os.Getenv("PURGO_SANDBOX_HOST"); host != "" {
		config.Sandbox.Host = host
	}

	// Retention configuration
	if enabled := os.Getenv("PURGO_RETENTION_ENABLED"); enabled != "" {
		if e, err := strconv.ParseBool(enabled); err == nil {
			config.Retention.Enabled = e
		}
	}
	if schedule := os.Getenv("PURGO_RETENTION_SCHEDULE"); schedule != "" {
		config.Retention.Schedule = schedule
	}
	if ttl := os.Getenv("PURGO_RETENTION_JOB_TTL_MINUTES"); ttl != "" {
		if t, err := strconv.Atoi(ttl); err == nil {
			config.Retention.JobTTLMinutes = t
		}
	}
	if ttl := os.Getenv("PURGO_RETENTION_SESSION_TTL_MINUTES"); ttl != "" {
		if t, err := strconv.Atoi(ttl); err == nil {
			config.Retention.SessionTTLMinutes = t
		}
	}
}

// ApplyFlagOverrides applies command-line flag overrides to config
func ApplyFlagOverrides(config *Config, port int, host string) {
	// Command-line flags have highest priority
	if port > 0 {
		config.Server.Port = port
	}
	if host != "" {
		config.Server.Host = host
	}
}

// IsProduction returns true if the environment is set to production
func (c *Config) IsProduction() bool {
	env := strings.ToLower(strings.TrimSpace(c.Environment))
	return env == "production" || env == "prod"
}
