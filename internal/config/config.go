package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"
)

// Config represents the complete application configuration
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Storage   StorageConfig   `yaml:"storage"`
	Notifier  NotifierConfig  `yaml:"notifier"`
	Auth      AuthConfig      `yaml:"auth"`
	Logging   LoggingConfig   `yaml:"logging"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Metrics   MetricsConfig   `yaml:"metrics"`
}

// ServerConfig contains HTTP server settings
type ServerConfig struct {
	Addr           string   `yaml:"addr"`
	MaxBodySize    int      `yaml:"max_body_size"`
	ReadTimeout    int      `yaml:"read_timeout"`
	WriteTimeout   int      `yaml:"write_timeout"`
	IdleTimeout    int      `yaml:"idle_timeout"`
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// StorageConfig contains storage engine settings
type StorageConfig struct {
	// Storage implementation selection: badger, sqlite or memory
	StorageType string `yaml:"storage_type"`

	DataDir           string `yaml:"data_dir"`
	EventBufferSize   int    `yaml:"event_buffer_size"`
	GCIntervalMinutes int    `yaml:"gc_interval_minutes"`

	CacheEnabled           bool `yaml:"cache_enabled"`
	UnreadCacheSize        int  `yaml:"unread_cache_size"`
	CacheExpirationSeconds int  `yaml:"cache_expiration_seconds"`
}

// NotifierConfig contains real-time notification settings
type NotifierConfig struct {
	MaxIdleTime              int `yaml:"max_idle_time"`
	HeartbeatInterval        int `yaml:"heartbeat_interval"`
	MaxConnections           int `yaml:"max_connections"`
	BroadcastBufferSize      int `yaml:"broadcast_buffer_size"`
	BroadcastFlushIntervalMs int `yaml:"broadcast_flush_interval_ms"`
}

// AuthConfig contains authentication settings
type AuthConfig struct {
	JWTSecret            string       `yaml:"jwt_secret"`
	JWTExpirationMinutes int          `yaml:"jwt_expiration_minutes"`
	Users                []UserConfig `yaml:"users"`
}

// UserConfig is one entry of the static user directory. Set either a bcrypt
// password_hash or, for development, a plain password.
type UserConfig struct {
	ID           string `yaml:"id"`
	Username     string `yaml:"username"`
	FullName     string `yaml:"full_name"`
	Password     string `yaml:"password"`
	PasswordHash string `yaml:"password_hash"`
}

// LoggingConfig contains logging settings
type LoggingConfig struct {
	Level         string            `yaml:"level"`
	Format        string            `yaml:"format"`
	IncludeCaller bool              `yaml:"include_caller"`
	IncludeTrace  bool              `yaml:"include_trace"`
	GlobalFields  map[string]string `yaml:"global_fields"`
}

// TelemetryConfig contains OpenTelemetry settings
type TelemetryConfig struct {
	Enabled       bool              `yaml:"enabled"`
	ServiceName   string            `yaml:"service_name"`
	Endpoint      string            `yaml:"endpoint"`
	SamplingRatio float64           `yaml:"sampling_ratio"`
	Attributes    map[string]string `yaml:"attributes"`
}

// MetricsConfig contains metrics settings
type MetricsConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Endpoint string `yaml:"endpoint"`
}

// DefaultConfig returns a configuration with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:           ":8080",
			MaxBodySize:    1048576, // 1MB
			ReadTimeout:    5,
			WriteTimeout:   10,
			IdleTimeout:    120,
			AllowedOrigins: []string{"*"},
		},
		Storage: StorageConfig{
			StorageType:            "badger",
			DataDir:                "./data",
			EventBufferSize:        1000,
			GCIntervalMinutes:      10,
			CacheEnabled:           true,
			UnreadCacheSize:        10000,
			CacheExpirationSeconds: 30,
		},
		Notifier: NotifierConfig{
			MaxIdleTime:              120,
			HeartbeatInterval:        30,
			MaxConnections:           10000,
			BroadcastBufferSize:      200,
			BroadcastFlushIntervalMs: 50,
		},
		Auth: AuthConfig{
			JWTSecret:            "change-me-in-production",
			JWTExpirationMinutes: 60,
		},
		Logging: LoggingConfig{
			Level:         "info",
			Format:        "json",
			IncludeCaller: true,
			IncludeTrace:  true,
			GlobalFields:  map[string]string{},
		},
		Telemetry: TelemetryConfig{
			Enabled:       false,
			ServiceName:   "jandalisys-notifyd",
			Endpoint:      "localhost:4317",
			SamplingRatio: 0.1,
			Attributes:    map[string]string{},
		},
		Metrics: MetricsConfig{
			Enabled:  true,
			Endpoint: "/metrics",
		},
	}
}

// LoadConfigFromFile loads configuration from a YAML file
func LoadConfigFromFile(filePath string) (*Config, error) {
	config := DefaultConfig()

	data, err := os.ReadFile(filePath)
	if err != nil {
		if os.IsNotExist(err) {
			log.Warn().Str("file", filePath).Msg("Configuration file not found, using defaults")
			return config, nil
		}
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	return config, nil
}

// LoadConfig loads configuration from file, environment variables, and flags
func LoadConfig(configFile string, dataDir string, serverAddr string, logLevel string) (*Config, error) {
	var config *Config
	var err error

	if configFile != "" {
		config, err = LoadConfigFromFile(configFile)
		if err != nil {
			return nil, err
		}
	} else {
		config = DefaultConfig()
	}

	applyEnvOverrides(config)

	// Command line flags have the highest priority
	if dataDir != "" {
		absDataDir, err := filepath.Abs(dataDir)
		if err != nil {
			return nil, fmt.Errorf("failed to get absolute path for data directory: %w", err)
		}
		config.Storage.DataDir = absDataDir
	}

	if serverAddr != "" {
		config.Server.Addr = serverAddr
	}

	if logLevel != "" {
		config.Logging.Level = logLevel
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// Validate checks settings that cannot be defaulted
func (c *Config) Validate() error {
	if c.Auth.JWTSecret == "" {
		return fmt.Errorf("auth.jwt_secret must not be empty")
	}
	switch c.Storage.StorageType {
	case "", "badger", "sqlite", "memory":
	default:
		return fmt.Errorf("unsupported storage type: %s", c.Storage.StorageType)
	}
	seen := make(map[string]bool, len(c.Auth.Users))
	for _, u := range c.Auth.Users {
		if u.ID == "" || u.Username == "" {
			return fmt.Errorf("auth.users entries need an id and a username")
		}
		if seen[u.Username] {
			return fmt.Errorf("duplicate username in auth.users: %s", u.Username)
		}
		seen[u.Username] = true
	}
	return nil
}

// applyEnvOverrides applies environment variable overrides to the configuration
func applyEnvOverrides(config *Config) {
	// Server config overrides
	if addr := os.Getenv("JANDALISYS_SERVER_ADDR"); addr != "" {
		config.Server.Addr = addr
	}
	if origins := os.Getenv("JANDALISYS_SERVER_ALLOWED_ORIGINS"); origins != "" {
		config.Server.AllowedOrigins = strings.Split(origins, ",")
	}

	// Storage config overrides
	if storageType := os.Getenv("JANDALISYS_STORAGE_TYPE"); storageType != "" {
		config.Storage.StorageType = storageType
	}
	if dataDir := os.Getenv("JANDALISYS_STORAGE_DATA_DIR"); dataDir != "" {
		config.Storage.DataDir = dataDir
	}
	if bufferStr := os.Getenv("JANDALISYS_STORAGE_EVENT_BUFFER_SIZE"); bufferStr != "" {
		if val, err := strconv.Atoi(bufferStr); err == nil {
			config.Storage.EventBufferSize = val
		}
	}

	// Notifier config overrides
	if idleStr := os.Getenv("JANDALISYS_NOTIFIER_MAX_IDLE_TIME"); idleStr != "" {
		if val, err := strconv.Atoi(idleStr); err == nil {
			config.Notifier.MaxIdleTime = val
		}
	}
	if heartbeatStr := os.Getenv("JANDALISYS_NOTIFIER_HEARTBEAT_INTERVAL"); heartbeatStr != "" {
		if val, err := strconv.Atoi(heartbeatStr); err == nil {
			config.Notifier.HeartbeatInterval = val
		}
	}

	// Auth config overrides
	if secret := os.Getenv("JANDALISYS_AUTH_JWT_SECRET"); secret != "" {
		config.Auth.JWTSecret = secret
	}

	// Logging config overrides
	if level := os.Getenv("JANDALISYS_LOG_LEVEL"); level != "" {
		config.Logging.Level = level
	}
	if format := os.Getenv("JANDALISYS_LOG_FORMAT"); format != "" {
		config.Logging.Format = format
	}

	// Telemetry config overrides
	if endpoint := os.Getenv("JANDALISYS_TELEMETRY_ENDPOINT"); endpoint != "" {
		config.Telemetry.Endpoint = endpoint
		config.Telemetry.Enabled = true
	}
}
