package badger

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/krasl809/JANDALISYS-sub003/internal/domain"
	"github.com/krasl809/JANDALISYS-sub003/internal/logging"
	"github.com/krasl809/JANDALISYS-sub003/internal/metrics"
	"github.com/krasl809/JANDALISYS-sub003/pkg/proto"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
)

// Ensure Storage implements domain.NotificationStore
var _ domain.NotificationStore = (*Storage)(nil)

const (
	// Prefix keys for different types
	prefixNotifications = "n:"
	prefixUserIndex     = "u:"
)

// Config contains Badger storage configuration
type Config struct {
	// Base directory for data files
	DataDir string

	// Keep everything in memory (tests)
	InMemory bool

	// Capacity of the event stream
	EventBufferSize int

	// Value log GC interval, zero disables GC
	GCInterval time.Duration
}

// DefaultConfig returns a default configuration for Badger-based storage
func DefaultConfig() Config {
	return Config{
		DataDir:         "./data",
		EventBufferSize: 1000,
		GCInterval:      10 * time.Minute,
	}
}

// Storage persists notifications in Badger.
//
// Layout:
//
//	n:{id}                          -> JSON notification
//	u:{user}:{inverted ts}:{id}     -> id (newest first per user)
type Storage struct {
	config      Config
	db          *badger.DB
	eventStream chan *proto.Notification
	streamMu    sync.RWMutex
	closed      bool
	now         func() time.Time
	logger      zerolog.Logger
}

// NewStorage creates a new Storage instance using Badger
func NewStorage(config Config) (*Storage, error) {
	logger := logging.Component("storage-badger")

	if config.EventBufferSize <= 0 {
		config.EventBufferSize = DefaultConfig().EventBufferSize
	}

	s := &Storage{
		config:      config,
		eventStream: make(chan *proto.Notification, config.EventBufferSize),
		now:         func() time.Time { return time.Now().UTC() },
		logger:      logger,
	}

	if err := s.initBadger(); err != nil {
		return nil, err
	}

	return s, nil
}

// initBadger initializes the Badger database
func (s *Storage) initBadger() error {
	var options badger.Options
	if s.config.InMemory {
		options = badger.DefaultOptions("").WithInMemory(true)
	} else {
		dbPath := filepath.Join(s.config.DataDir, "badger")
		if err := os.MkdirAll(dbPath, 0755); err != nil {
			return fmt.Errorf("failed to create badger directory: %w", err)
		}
		options = badger.DefaultOptions(dbPath)
	}
	options = options.WithLoggingLevel(badger.WARNING)

	db, err := badger.Open(options)
	if err != nil {
		return fmt.Errorf("failed to open Badger: %w", err)
	}

	s.db = db
	return nil
}

// Start runs value log GC until ctx is done
func (s *Storage) Start(ctx context.Context) error {
	if s.config.InMemory || s.config.GCInterval <= 0 {
		<-ctx.Done()
		return nil
	}

	ticker := time.NewTicker(s.config.GCInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.runGC()
		case <-ctx.Done():
			return nil
		}
	}
}

// runGC rewrites value log files until nothing is left to collect
func (s *Storage) runGC() {
	for {
		if err := s.db.RunValueLogGC(0.5); err != nil {
			if !errors.Is(err, badger.ErrNoRewrite) {
				s.logger.Warn().Err(err).Msg("Value log GC failed")
			}
			return
		}
	}
}

// Shutdown stops the storage engine
func (s *Storage) Shutdown(ctx context.Context) error {
	s.streamMu.Lock()
	if !s.closed {
		s.closed = true
		close(s.eventStream)
	}
	s.streamMu.Unlock()

	if err := s.db.Close(); err != nil {
		s.logger.Error().Err(err).Msg("Error closing Badger database")
		return err
	}
	return nil
}

// EventStream returns a channel of newly created notifications
func (s *Storage) EventStream() <-chan *proto.Notification {
	return s.eventStream
}

// CreateNotification stores a new unread notification and publishes it on
// the event stream
func (s *Storage) CreateNotification(ctx context.Context, req *proto.CreateNotificationRequest) (*proto.Notification, error) {
	m := metrics.GetMetrics()
	timer := prometheus.NewTimer(m.StorageOperationDuration.WithLabelValues("create_notification"))
	defer timer.ObserveDuration()

	if err := domain.ValidateCreate(req); err != nil {
		return nil, err
	}

	n := domain.NewNotification(req, s.now())

	data, err := json.Marshal(n)
	if err != nil {
		m.StorageOperations.WithLabelValues("create_notification", "false").Inc()
		return nil, fmt.Errorf("failed to marshal notification: %w", err)
	}

	err = s.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set(notificationKey(n.Id), data); err != nil {
			return fmt.Errorf("failed to store notification: %w", err)
		}
		if err := txn.Set(userIndexKey(n.UserId, n.CreatedAt, n.Id), []byte(n.Id)); err != nil {
			return fmt.Errorf("failed to create user index: %w", err)
		}
		return nil
	})
	if err != nil {
		m.StorageOperations.WithLabelValues("create_notification", "false").Inc()
		return nil, err
	}
	m.StorageOperations.WithLabelValues("create_notification", "true").Inc()

	s.publish(n)
	return n.Clone(), nil
}

// publish sends a created notification to the event stream without blocking
func (s *Storage) publish(n *proto.Notification) {
	s.streamMu.RLock()
	defer s.streamMu.RUnlock()
	if s.closed {
		return
	}

	select {
	case s.eventStream <- n.Clone():
	default:
		s.logger.Warn().Str("id", n.Id).Msg("Event stream buffer full, dropping notification event")
	}
}

// GetNotification retrieves one of the user's notifications
func (s *Storage) GetNotification(ctx context.Context, userID, id string) (*proto.Notification, error) {
	m := metrics.GetMetrics()
	timer := prometheus.NewTimer(m.StorageOperationDuration.WithLabelValues("get_notification"))
	defer timer.ObserveDuration()

	var n *proto.Notification
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		n, err = getOwned(txn, userID, id)
		return err
	})
	if err != nil {
		m.StorageOperations.WithLabelValues("get_notification", "false").Inc()
		return nil, err
	}

	m.StorageOperations.WithLabelValues("get_notification", "true").Inc()
	return n, nil
}

// ListNotifications returns the user's notifications, newest first
func (s *Storage) ListNotifications(ctx context.Context, userID string, limit int) ([]*proto.Notification, error) {
	m := metrics.GetMetrics()
	timer := prometheus.NewTimer(m.StorageOperationDuration.WithLabelValues("list_notifications"))
	defer timer.ObserveDuration()

	list := make([]*proto.Notification, 0)
	err := s.db.View(func(txn *badger.Txn) error {
		return forEachOwned(txn, userID, func(n *proto.Notification) bool {
			list = append(list, n)
			return limit <= 0 || len(list) < limit
		})
	})
	if err != nil {
		m.StorageOperations.WithLabelValues("list_notifications", "false").Inc()
		return nil, err
	}

	m.StorageOperations.WithLabelValues("list_notifications", "true").Inc()
	return list, nil
}

// MarkRead marks one of the user's notifications read
func (s *Storage) MarkRead(ctx context.Context, userID, id string) (*proto.Notification, error) {
	m := metrics.GetMetrics()
	timer := prometheus.NewTimer(m.StorageOperationDuration.WithLabelValues("mark_read"))
	defer timer.ObserveDuration()

	var n *proto.Notification
	err := s.db.Update(func(txn *badger.Txn) error {
		var err error
		n, err = getOwned(txn, userID, id)
		if err != nil {
			return err
		}
		if n.IsRead {
			return nil
		}
		n.IsRead = true
		return putNotification(txn, n)
	})
	if err != nil {
		m.StorageOperations.WithLabelValues("mark_read", "false").Inc()
		return nil, err
	}

	m.StorageOperations.WithLabelValues("mark_read", "true").Inc()
	return n, nil
}

// MarkAllRead marks every unread notification of the user read
func (s *Storage) MarkAllRead(ctx context.Context, userID string) (int, error) {
	m := metrics.GetMetrics()
	timer := prometheus.NewTimer(m.StorageOperationDuration.WithLabelValues("mark_all_read"))
	defer timer.ObserveDuration()

	changed := 0
	err := s.db.Update(func(txn *badger.Txn) error {
		var unread []*proto.Notification
		err := forEachOwned(txn, userID, func(n *proto.Notification) bool {
			if !n.IsRead {
				unread = append(unread, n)
			}
			return true
		})
		if err != nil {
			return err
		}

		for _, n := range unread {
			n.IsRead = true
			if err := putNotification(txn, n); err != nil {
				return err
			}
		}
		changed = len(unread)
		return nil
	})
	if err != nil {
		m.StorageOperations.WithLabelValues("mark_all_read", "false").Inc()
		return 0, err
	}

	m.StorageOperations.WithLabelValues("mark_all_read", "true").Inc()
	return changed, nil
}

// DeleteNotification removes one of the user's notifications and its index entry
func (s *Storage) DeleteNotification(ctx context.Context, userID, id string) error {
	m := metrics.GetMetrics()
	timer := prometheus.NewTimer(m.StorageOperationDuration.WithLabelValues("delete_notification"))
	defer timer.ObserveDuration()

	err := s.db.Update(func(txn *badger.Txn) error {
		n, err := getOwned(txn, userID, id)
		if err != nil {
			return err
		}
		if err := txn.Delete(notificationKey(id)); err != nil {
			return fmt.Errorf("failed to delete notification: %w", err)
		}
		if err := txn.Delete(userIndexKey(n.UserId, n.CreatedAt, n.Id)); err != nil {
			return fmt.Errorf("failed to delete user index: %w", err)
		}
		return nil
	})
	if err != nil {
		m.StorageOperations.WithLabelValues("delete_notification", "false").Inc()
		return err
	}

	m.StorageOperations.WithLabelValues("delete_notification", "true").Inc()
	return nil
}

// UnreadCount counts the user's unread notifications
func (s *Storage) UnreadCount(ctx context.Context, userID string) (int, error) {
	m := metrics.GetMetrics()
	timer := prometheus.NewTimer(m.StorageOperationDuration.WithLabelValues("unread_count"))
	defer timer.ObserveDuration()

	count := 0
	err := s.db.View(func(txn *badger.Txn) error {
		return forEachOwned(txn, userID, func(n *proto.Notification) bool {
			if !n.IsRead {
				count++
			}
			return true
		})
	})
	if err != nil {
		m.StorageOperations.WithLabelValues("unread_count", "false").Inc()
		return 0, err
	}

	m.StorageOperations.WithLabelValues("unread_count", "true").Inc()
	return count, nil
}

// getOwned loads a notification and checks it belongs to userID
func getOwned(txn *badger.Txn, userID, id string) (*proto.Notification, error) {
	item, err := txn.Get(notificationKey(id))
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("failed to retrieve notification: %w", err)
	}

	var n proto.Notification
	err = item.Value(func(val []byte) error {
		return json.Unmarshal(val, &n)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal notification: %w", err)
	}

	if n.UserId != userID {
		return nil, domain.ErrNotFound
	}
	return &n, nil
}

// forEachOwned walks the user's index newest first until fn returns false
func forEachOwned(txn *badger.Txn, userID string, fn func(*proto.Notification) bool) error {
	opts := badger.DefaultIteratorOptions
	opts.PrefetchValues = false
	it := txn.NewIterator(opts)
	defer it.Close()

	prefix := userPrefix(userID)
	for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
		var id string
		err := it.Item().Value(func(val []byte) error {
			id = string(val)
			return nil
		})
		if err != nil {
			return fmt.Errorf("failed to read user index: %w", err)
		}

		n, err := getOwned(txn, userID, id)
		if errors.Is(err, domain.ErrNotFound) {
			// index entry of a user id that shares this prefix
			continue
		}
		if err != nil {
			return err
		}
		if !fn(n) {
			return nil
		}
	}
	return nil
}

// putNotification overwrites the primary record
func putNotification(txn *badger.Txn, n *proto.Notification) error {
	data, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("failed to marshal notification: %w", err)
	}
	if err := txn.Set(notificationKey(n.Id), data); err != nil {
		return fmt.Errorf("failed to store notification: %w", err)
	}
	return nil
}

// prefixKey adds the appropriate type prefix to a key
func prefixKey(prefix string, key []byte) []byte {
	prefixedKey := make([]byte, len(prefix)+len(key))
	copy(prefixedKey, prefix)
	copy(prefixedKey[len(prefix):], key)
	return prefixedKey
}

func notificationKey(id string) []byte {
	return prefixKey(prefixNotifications, []byte(id))
}

func userPrefix(userID string) []byte {
	return prefixKey(prefixUserIndex, []byte(userID+":"))
}

// userIndexKey orders a user's entries newest first under forward iteration
func userIndexKey(userID string, createdAt time.Time, id string) []byte {
	prefix := userPrefix(userID)
	key := make([]byte, len(prefix)+8+1+len(id))
	copy(key, prefix)
	binary.BigEndian.PutUint64(key[len(prefix):], math.MaxUint64-uint64(createdAt.UnixNano()))
	key[len(prefix)+8] = ':'
	copy(key[len(prefix)+9:], id)
	return key
}
