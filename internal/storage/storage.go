package storage

import (
	"fmt"
	"time"

	"github.com/krasl809/JANDALISYS-sub003/internal/domain"
	"github.com/krasl809/JANDALISYS-sub003/internal/storage/badger"
	"github.com/krasl809/JANDALISYS-sub003/internal/storage/sqlite"
)

// StorageType represents the type of storage implementation to use
type StorageType string

const (
	// BadgerStorage persists notifications on disk
	BadgerStorage StorageType = "badger"

	// SQLiteStorage persists notifications in a SQLite file
	SQLiteStorage StorageType = "sqlite"

	// InMemoryStorage keeps notifications in process memory
	InMemoryStorage StorageType = "memory"
)

// Config contains storage configuration
type Config struct {
	// Storage implementation
	Type StorageType

	// Base directory for data files
	DataDir string

	// Capacity of the created-notification event stream
	EventBufferSize int

	// Badger value log GC or SQLite WAL checkpoint interval
	GCInterval time.Duration

	// Unread count cache settings
	CacheEnabled    bool
	UnreadCacheSize int
	CacheExpiration time.Duration
}

// DefaultConfig returns a default configuration
func DefaultConfig() Config {
	return Config{
		Type:            BadgerStorage,
		DataDir:         "./data",
		EventBufferSize: 1000,
		GCInterval:      10 * time.Minute,
		CacheEnabled:    true,
		UnreadCacheSize: 10000,
		CacheExpiration: 30 * time.Second,
	}
}

// NewStorage creates the configured storage, wrapped with the unread count
// cache when enabled
func NewStorage(config Config) (domain.NotificationStore, error) {
	defaults := DefaultConfig()
	if config.EventBufferSize <= 0 {
		config.EventBufferSize = defaults.EventBufferSize
	}

	var store domain.NotificationStore
	switch config.Type {
	case BadgerStorage, "":
		s, err := badger.NewStorage(badger.Config{
			DataDir:         config.DataDir,
			EventBufferSize: config.EventBufferSize,
			GCInterval:      config.GCInterval,
		})
		if err != nil {
			return nil, err
		}
		store = s
	case SQLiteStorage:
		s, err := sqlite.NewStorage(sqlite.Config{
			DataDir:            config.DataDir,
			EventBufferSize:    config.EventBufferSize,
			CheckpointInterval: config.GCInterval,
		})
		if err != nil {
			return nil, err
		}
		store = s
	case InMemoryStorage:
		store = NewMemoryStorage(config.EventBufferSize)
	default:
		return nil, fmt.Errorf("unsupported storage type: %s", config.Type)
	}

	if !config.CacheEnabled {
		return store, nil
	}

	if config.UnreadCacheSize <= 0 {
		config.UnreadCacheSize = defaults.UnreadCacheSize
	}
	if config.CacheExpiration <= 0 {
		config.CacheExpiration = defaults.CacheExpiration
	}

	cached, err := NewCachedStore(store, config.UnreadCacheSize, config.CacheExpiration)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize cache: %w", err)
	}
	return cached, nil
}
