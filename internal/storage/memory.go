package storage

import (
	"context"
	"sync"
	"time"

	"github.com/krasl809/JANDALISYS-sub003/internal/domain"
	"github.com/krasl809/JANDALISYS-sub003/internal/logging"
	"github.com/krasl809/JANDALISYS-sub003/pkg/proto"
	"github.com/rs/zerolog"
)

var _ domain.NotificationStore = (*MemoryStorage)(nil)

// MemoryStorage implements domain.NotificationStore in process memory
type MemoryStorage struct {
	mu          sync.RWMutex
	records     map[string]*proto.Notification // id -> record
	byUser      map[string][]string            // user id -> ids, oldest first
	eventStream chan *proto.Notification
	closed      bool
	now         func() time.Time
	logger      zerolog.Logger
}

// NewMemoryStorage creates an empty in-memory store
func NewMemoryStorage(eventBuffer int) *MemoryStorage {
	if eventBuffer <= 0 {
		eventBuffer = DefaultConfig().EventBufferSize
	}
	return &MemoryStorage{
		records:     make(map[string]*proto.Notification),
		byUser:      make(map[string][]string),
		eventStream: make(chan *proto.Notification, eventBuffer),
		now:         func() time.Time { return time.Now().UTC() },
		logger:      logging.Component("storage-memory"),
	}
}

// Start blocks until ctx is done
func (s *MemoryStorage) Start(ctx context.Context) error {
	<-ctx.Done()
	return nil
}

// Shutdown closes the event stream
func (s *MemoryStorage) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.eventStream)
	}
	return nil
}

// EventStream returns a channel of newly created notifications
func (s *MemoryStorage) EventStream() <-chan *proto.Notification {
	return s.eventStream
}

// CreateNotification stores a new unread notification
func (s *MemoryStorage) CreateNotification(ctx context.Context, req *proto.CreateNotificationRequest) (*proto.Notification, error) {
	if err := domain.ValidateCreate(req); err != nil {
		return nil, err
	}

	n := domain.NewNotification(req, s.now())

	s.mu.Lock()
	defer s.mu.Unlock()

	s.records[n.Id] = n
	s.byUser[n.UserId] = append(s.byUser[n.UserId], n.Id)

	if !s.closed {
		select {
		case s.eventStream <- n.Clone():
		default:
			s.logger.Warn().Str("id", n.Id).Msg("Event stream buffer full, dropping notification event")
		}
	}

	return n.Clone(), nil
}

// GetNotification returns one of the user's notifications
func (s *MemoryStorage) GetNotification(ctx context.Context, userID, id string) (*proto.Notification, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n, ok := s.records[id]
	if !ok || n.UserId != userID {
		return nil, domain.ErrNotFound
	}
	return n.Clone(), nil
}

// ListNotifications returns the user's notifications, newest first
func (s *MemoryStorage) ListNotifications(ctx context.Context, userID string, limit int) ([]*proto.Notification, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := s.byUser[userID]
	out := make([]*proto.Notification, 0, len(ids))
	for i := len(ids) - 1; i >= 0; i-- {
		if limit > 0 && len(out) >= limit {
			break
		}
		out = append(out, s.records[ids[i]].Clone())
	}
	return out, nil
}

// MarkRead marks one of the user's notifications read
func (s *MemoryStorage) MarkRead(ctx context.Context, userID, id string) (*proto.Notification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n, ok := s.records[id]
	if !ok || n.UserId != userID {
		return nil, domain.ErrNotFound
	}
	n.IsRead = true
	return n.Clone(), nil
}

// MarkAllRead marks every unread notification of the user read and returns
// how many changed
func (s *MemoryStorage) MarkAllRead(ctx context.Context, userID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	changed := 0
	for _, id := range s.byUser[userID] {
		if n := s.records[id]; !n.IsRead {
			n.IsRead = true
			changed++
		}
	}
	return changed, nil
}

// DeleteNotification removes one of the user's notifications
func (s *MemoryStorage) DeleteNotification(ctx context.Context, userID, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	n, ok := s.records[id]
	if !ok || n.UserId != userID {
		return domain.ErrNotFound
	}

	delete(s.records, id)
	ids := s.byUser[userID]
	for i, candidate := range ids {
		if candidate == id {
			s.byUser[userID] = append(ids[:i:i], ids[i+1:]...)
			break
		}
	}
	return nil
}

// UnreadCount counts the user's unread notifications
func (s *MemoryStorage) UnreadCount(ctx context.Context, userID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	count := 0
	for _, id := range s.byUser[userID] {
		if !s.records[id].IsRead {
			count++
		}
	}
	return count, nil
}
