package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/krasl809/JANDALISYS-sub003/internal/domain"
	"github.com/krasl809/JANDALISYS-sub003/internal/logging"
	"github.com/krasl809/JANDALISYS-sub003/internal/metrics"
	"github.com/krasl809/JANDALISYS-sub003/pkg/proto"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	_ "modernc.org/sqlite"
)

// Ensure Storage implements domain.NotificationStore
var _ domain.NotificationStore = (*Storage)(nil)

const schema = `
CREATE TABLE IF NOT EXISTS notifications (
    id TEXT PRIMARY KEY,
    user_id TEXT NOT NULL,
    title TEXT NOT NULL,
    message TEXT NOT NULL DEFAULT '',
    type TEXT NOT NULL,
    is_read INTEGER NOT NULL DEFAULT 0,
    created_at INTEGER NOT NULL,
    related_type TEXT NOT NULL DEFAULT '',
    related_id TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_notifications_user_created
    ON notifications(user_id, created_at DESC);

CREATE INDEX IF NOT EXISTS idx_notifications_unread
    ON notifications(user_id, is_read) WHERE is_read = 0;
`

const selectColumns = `SELECT id, user_id, title, message, type, is_read, created_at, related_type, related_id FROM notifications`

// Config contains SQLite storage configuration
type Config struct {
	// Base directory for the database file
	DataDir string

	// Keep everything in memory (tests)
	InMemory bool

	// Capacity of the event stream
	EventBufferSize int

	// WAL checkpoint interval, zero disables periodic checkpoints
	CheckpointInterval time.Duration
}

// DefaultConfig returns a default configuration for SQLite-based storage
func DefaultConfig() Config {
	return Config{
		DataDir:            "./data",
		EventBufferSize:    1000,
		CheckpointInterval: 10 * time.Minute,
	}
}

// Storage persists notifications in a single SQLite table.
type Storage struct {
	config      Config
	db          *sql.DB
	eventStream chan *proto.Notification
	streamMu    sync.RWMutex
	closed      bool
	now         func() time.Time
	logger      zerolog.Logger
}

// NewStorage opens the database and applies the schema
func NewStorage(config Config) (*Storage, error) {
	if config.EventBufferSize <= 0 {
		config.EventBufferSize = DefaultConfig().EventBufferSize
	}

	dsn := ":memory:"
	if !config.InMemory {
		if err := os.MkdirAll(config.DataDir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create sqlite directory: %w", err)
		}
		dsn = filepath.Join(config.DataDir, "notifications.db") +
			"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open SQLite: %w", err)
	}
	// one writer at a time; an in-memory database also lives on a single connection
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	return &Storage{
		config:      config,
		db:          db,
		eventStream: make(chan *proto.Notification, config.EventBufferSize),
		now:         func() time.Time { return time.Now().UTC() },
		logger:      logging.Component("storage-sqlite"),
	}, nil
}

// Start checkpoints the WAL periodically until ctx is done
func (s *Storage) Start(ctx context.Context) error {
	if s.config.InMemory || s.config.CheckpointInterval <= 0 {
		<-ctx.Done()
		return nil
	}

	ticker := time.NewTicker(s.config.CheckpointInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if _, err := s.db.ExecContext(ctx, "PRAGMA wal_checkpoint(TRUNCATE)"); err != nil && ctx.Err() == nil {
				s.logger.Warn().Err(err).Msg("WAL checkpoint failed")
			}
		case <-ctx.Done():
			return nil
		}
	}
}

// Shutdown closes the event stream and the database
func (s *Storage) Shutdown(ctx context.Context) error {
	s.streamMu.Lock()
	if !s.closed {
		s.closed = true
		close(s.eventStream)
	}
	s.streamMu.Unlock()

	if err := s.db.Close(); err != nil {
		s.logger.Error().Err(err).Msg("Error closing SQLite database")
		return err
	}
	return nil
}

// EventStream returns a channel of newly created notifications
func (s *Storage) EventStream() <-chan *proto.Notification {
	return s.eventStream
}

// track times a storage operation and counts its outcome
func track(op string) func(error) {
	m := metrics.GetMetrics()
	timer := prometheus.NewTimer(m.StorageOperationDuration.WithLabelValues(op))
	return func(err error) {
		timer.ObserveDuration()
		if err != nil {
			m.StorageOperations.WithLabelValues(op, "false").Inc()
			return
		}
		m.StorageOperations.WithLabelValues(op, "true").Inc()
	}
}

// CreateNotification stores a new unread notification and publishes it on
// the event stream
func (s *Storage) CreateNotification(ctx context.Context, req *proto.CreateNotificationRequest) (n *proto.Notification, err error) {
	done := track("create_notification")
	defer func() { done(err) }()

	if err := domain.ValidateCreate(req); err != nil {
		return nil, err
	}

	n = domain.NewNotification(req, s.now())
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO notifications (id, user_id, title, message, type, is_read, created_at, related_type, related_id)
		 VALUES (?, ?, ?, ?, ?, 0, ?, ?, ?)`,
		n.Id, n.UserId, n.Title, n.Message, string(n.Type), n.CreatedAt.UnixNano(), n.RelatedType, n.RelatedId)
	if err != nil {
		return nil, fmt.Errorf("failed to store notification: %w", err)
	}

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
func (s *Storage) GetNotification(ctx context.Context, userID, id string) (n *proto.Notification, err error) {
	done := track("get_notification")
	defer func() { done(err) }()

	return getOwned(ctx, s.db, userID, id)
}

// ListNotifications returns the user's notifications, newest first
func (s *Storage) ListNotifications(ctx context.Context, userID string, limit int) (list []*proto.Notification, err error) {
	done := track("list_notifications")
	defer func() { done(err) }()

	query := selectColumns + ` WHERE user_id = ? ORDER BY created_at DESC, rowid DESC`
	args := []any{userID}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list notifications: %w", err)
	}
	defer rows.Close()

	list = make([]*proto.Notification, 0)
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list notifications: %w", err)
	}
	return list, nil
}

// MarkRead marks one of the user's notifications read
func (s *Storage) MarkRead(ctx context.Context, userID, id string) (n *proto.Notification, err error) {
	done := track("mark_read")
	defer func() { done(err) }()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	n, err = getOwned(ctx, tx, userID, id)
	if err != nil {
		return nil, err
	}
	if !n.IsRead {
		if _, err := tx.ExecContext(ctx, `UPDATE notifications SET is_read = 1 WHERE id = ?`, id); err != nil {
			return nil, fmt.Errorf("failed to mark notification read: %w", err)
		}
		n.IsRead = true
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit: %w", err)
	}
	return n, nil
}

// MarkAllRead marks every unread notification of the user read
func (s *Storage) MarkAllRead(ctx context.Context, userID string) (changed int, err error) {
	done := track("mark_all_read")
	defer func() { done(err) }()

	res, err := s.db.ExecContext(ctx, `UPDATE notifications SET is_read = 1 WHERE user_id = ? AND is_read = 0`, userID)
	if err != nil {
		return 0, fmt.Errorf("failed to mark notifications read: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count updated notifications: %w", err)
	}
	return int(affected), nil
}

// DeleteNotification removes one of the user's notifications
func (s *Storage) DeleteNotification(ctx context.Context, userID, id string) (err error) {
	done := track("delete_notification")
	defer func() { done(err) }()

	res, err := s.db.ExecContext(ctx, `DELETE FROM notifications WHERE id = ? AND user_id = ?`, id, userID)
	if err != nil {
		return fmt.Errorf("failed to delete notification: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to count deleted notifications: %w", err)
	}
	if affected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// UnreadCount counts the user's unread notifications
func (s *Storage) UnreadCount(ctx context.Context, userID string) (count int, err error) {
	done := track("unread_count")
	defer func() { done(err) }()

	row := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM notifications WHERE user_id = ? AND is_read = 0`, userID)
	if err := row.Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count unread notifications: %w", err)
	}
	return count, nil
}

// querier is satisfied by both *sql.DB and *sql.Tx
type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// scanner is satisfied by both *sql.Row and *sql.Rows
type scanner interface {
	Scan(dest ...any) error
}

// getOwned loads a notification and checks it belongs to userID
func getOwned(ctx context.Context, q querier, userID, id string) (*proto.Notification, error) {
	row := q.QueryRowContext(ctx, selectColumns+` WHERE id = ? AND user_id = ?`, id, userID)
	n, err := scanNotification(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	return n, err
}

func scanNotification(row scanner) (*proto.Notification, error) {
	var (
		n         proto.Notification
		kind      string
		isRead    int64
		createdAt int64
	)
	err := row.Scan(&n.Id, &n.UserId, &n.Title, &n.Message, &kind, &isRead, &createdAt, &n.RelatedType, &n.RelatedId)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to read notification: %w", err)
	}

	n.Type = proto.NotificationType(kind)
	n.IsRead = isRead != 0
	n.CreatedAt = time.Unix(0, createdAt).UTC()
	return &n, nil
}
