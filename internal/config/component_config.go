package config

import (
	"time"

	"github.com/krasl809/JANDALISYS-sub003/internal/api"
	"github.com/krasl809/JANDALISYS-sub003/internal/auth"
	"github.com/krasl809/JANDALISYS-sub003/internal/logging"
	"github.com/krasl809/JANDALISYS-sub003/internal/notifier"
	"github.com/krasl809/JANDALISYS-sub003/internal/storage"
	"github.com/krasl809/JANDALISYS-sub003/internal/telemetry"
)

// ToStorageConfig converts to storage factory config
func (c *Config) ToStorageConfig() storage.Config {
	return storage.Config{
		Type:            storage.StorageType(c.Storage.StorageType),
		DataDir:         c.Storage.DataDir,
		EventBufferSize: c.Storage.EventBufferSize,
		GCInterval:      time.Duration(c.Storage.GCIntervalMinutes) * time.Minute,
		CacheEnabled:    c.Storage.CacheEnabled,
		UnreadCacheSize: c.Storage.UnreadCacheSize,
		CacheExpiration: time.Duration(c.Storage.CacheExpirationSeconds) * time.Second,
	}
}

// ToNotifierConfig converts to notifier config
func (c *Config) ToNotifierConfig() notifier.Config {
	return notifier.Config{
		MaxIdleTime:            time.Duration(c.Notifier.MaxIdleTime) * time.Second,
		HeartbeatInterval:      time.Duration(c.Notifier.HeartbeatInterval) * time.Second,
		MaxConnections:         c.Notifier.MaxConnections,
		BroadcastBufferSize:    c.Notifier.BroadcastBufferSize,
		BroadcastFlushInterval: time.Duration(c.Notifier.BroadcastFlushIntervalMs) * time.Millisecond,
		AllowedOrigins:         c.Server.AllowedOrigins,
	}
}

// ToAuthConfig converts to authenticator config
func (c *Config) ToAuthConfig() auth.Config {
	users := make([]auth.User, 0, len(c.Auth.Users))
	for _, u := range c.Auth.Users {
		users = append(users, auth.User{
			ID:           u.ID,
			Username:     u.Username,
			FullName:     u.FullName,
			Password:     u.Password,
			PasswordHash: u.PasswordHash,
		})
	}

	return auth.Config{
		Secret:   c.Auth.JWTSecret,
		TokenTTL: time.Duration(c.Auth.JWTExpirationMinutes) * time.Minute,
		Users:    users,
	}
}

// ToAPIConfig converts to API config
func (c *Config) ToAPIConfig() api.Config {
	return api.Config{
		Addr:           c.Server.Addr,
		MaxBodySize:    int64(c.Server.MaxBodySize),
		ReadTimeout:    time.Duration(c.Server.ReadTimeout) * time.Second,
		WriteTimeout:   time.Duration(c.Server.WriteTimeout) * time.Second,
		IdleTimeout:    time.Duration(c.Server.IdleTimeout) * time.Second,
		AllowedOrigins: c.Server.AllowedOrigins,
		MetricsEnabled: c.Metrics.Enabled,
		MetricsPath:    c.Metrics.Endpoint,
		ServiceName:    c.Telemetry.ServiceName,
	}
}

// ToLoggingConfig converts to logging config
func (c *Config) ToLoggingConfig() logging.Config {
	config := logging.DefaultConfig()
	config.Level = logging.ParseLevel(c.Logging.Level)
	config.Format = logging.ParseFormat(c.Logging.Format)
	config.IncludeCaller = c.Logging.IncludeCaller
	config.IncludeTraceContext = c.Logging.IncludeTrace
	if c.Logging.GlobalFields != nil {
		config.GlobalFields = c.Logging.GlobalFields
	}
	return config
}

// ToTelemetryConfig converts to telemetry config
func (c *Config) ToTelemetryConfig() telemetry.Config {
	return telemetry.Config{
		Enabled:       c.Telemetry.Enabled,
		ServiceName:   c.Telemetry.ServiceName,
		Endpoint:      c.Telemetry.Endpoint,
		SamplingRatio: c.Telemetry.SamplingRatio,
		Timeout:       5 * time.Second,
		Attributes:    c.Telemetry.Attributes,
	}
}
