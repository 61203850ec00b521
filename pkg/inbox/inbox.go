package inbox

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/krasl809/JANDALISYS-sub003/internal/logging"
	"github.com/krasl809/JANDALISYS-sub003/pkg/client"
	"github.com/krasl809/JANDALISYS-sub003/pkg/proto"
	"github.com/krasl809/JANDALISYS-sub003/pkg/session"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// API is the subset of the REST client the inbox needs
type API interface {
	ListNotifications(ctx context.Context) ([]*proto.Notification, error)
	UnreadCount(ctx context.Context) (int, error)
	MarkRead(ctx context.Context, id string) error
	MarkAllRead(ctx context.Context) error
	DeleteNotification(ctx context.Context, id string) error
}

var _ API = (*client.Client)(nil)

// Snapshot is a consistent copy of the cached state
type Snapshot struct {
	Notifications []*proto.Notification
	UnreadCount   int
}

// Inbox caches the session user's notifications and the unread counter.
// List and counter change together under one lock.
type Inbox struct {
	api     API
	session session.Provider
	logger  zerolog.Logger

	mu            sync.Mutex
	notifications []*proto.Notification
	unread        int

	subsMu sync.Mutex
	subs   map[chan Snapshot]struct{}
}

// Option configures an Inbox
type Option func(*Inbox)

// WithLogger replaces the component logger
func WithLogger(l zerolog.Logger) Option {
	return func(i *Inbox) { i.logger = l }
}

// New creates an empty inbox
func New(api API, provider session.Provider, opts ...Option) *Inbox {
	i := &Inbox{
		api:     api,
		session: provider,
		logger:  logging.Component("inbox"),
		subs:    make(map[chan Snapshot]struct{}),
	}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// Refresh replaces the cache with the backend's list and unread count.
// Cancellation and 401 are not failures: both return nil and leave the
// cache untouched.
func (i *Inbox) Refresh(ctx context.Context) error {
	if !i.session.Current().Active() {
		i.logger.Debug().Msg("No active session, skipping fetch")
		return nil
	}

	var (
		list  []*proto.Notification
		count int
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		list, err = i.api.ListNotifications(gctx)
		return err
	})
	g.Go(func() error {
		var err error
		count, err = i.api.UnreadCount(gctx)
		return err
	})

	if err := g.Wait(); err != nil {
		switch {
		case errors.Is(err, context.Canceled) || ctx.Err() != nil:
			i.logger.Debug().Msg("Notification fetch cancelled")
			return nil
		case client.IsUnauthorized(err):
			i.logger.Debug().Msg("Notification fetch unauthorized")
			return nil
		default:
			i.logger.Error().Err(err).Msg("Failed to fetch notifications")
			return fmt.Errorf("failed to fetch notifications: %w", err)
		}
	}

	i.mu.Lock()
	i.notifications = list
	i.unread = count
	i.mu.Unlock()

	i.publish()
	return nil
}

// Apply prepends a pushed notification and counts it as unread unless it
// arrives already read. A record already in the cache is ignored.
func (i *Inbox) Apply(n *proto.Notification) {
	if n == nil {
		return
	}

	i.mu.Lock()
	if i.indexLocked(n.Id) >= 0 {
		i.mu.Unlock()
		return
	}
	i.notifications = append([]*proto.Notification{n.Clone()}, i.notifications...)
	if !n.IsRead {
		i.unread++
	}
	i.mu.Unlock()

	i.publish()
}

// MarkRead marks one notification read on the backend, then locally
func (i *Inbox) MarkRead(ctx context.Context, id string) error {
	if err := i.api.MarkRead(ctx, id); err != nil {
		i.logger.Error().Err(err).Str("id", id).Msg("Failed to mark notification read")
		return err
	}

	i.mu.Lock()
	if idx := i.indexLocked(id); idx >= 0 && !i.notifications[idx].IsRead {
		updated := i.notifications[idx].Clone()
		updated.IsRead = true
		i.notifications[idx] = updated
		i.decrementLocked()
	}
	i.mu.Unlock()

	i.publish()
	return nil
}

// MarkAllRead marks every notification read on the backend, then locally
func (i *Inbox) MarkAllRead(ctx context.Context) error {
	if err := i.api.MarkAllRead(ctx); err != nil {
		i.logger.Error().Err(err).Msg("Failed to mark all notifications read")
		return err
	}

	i.mu.Lock()
	for idx, n := range i.notifications {
		if !n.IsRead {
			updated := n.Clone()
			updated.IsRead = true
			i.notifications[idx] = updated
		}
	}
	i.unread = 0
	i.mu.Unlock()

	i.publish()
	return nil
}

// Delete removes a notification on the backend, then locally
func (i *Inbox) Delete(ctx context.Context, id string) error {
	if err := i.api.DeleteNotification(ctx, id); err != nil {
		i.logger.Error().Err(err).Str("id", id).Msg("Failed to delete notification")
		return err
	}

	i.mu.Lock()
	if idx := i.indexLocked(id); idx >= 0 {
		wasUnread := !i.notifications[idx].IsRead
		i.notifications = append(i.notifications[:idx:idx], i.notifications[idx+1:]...)
		if wasUnread {
			i.decrementLocked()
		}
	}
	i.mu.Unlock()

	i.publish()
	return nil
}

// Reconcile recomputes the unread counter from the cached list and returns
// the corrected value
func (i *Inbox) Reconcile() int {
	i.mu.Lock()
	count := 0
	for _, n := range i.notifications {
		if !n.IsRead {
			count++
		}
	}
	changed := count != i.unread
	i.unread = count
	i.mu.Unlock()

	if changed {
		i.logger.Debug().Int("unread", count).Msg("Unread counter reconciled")
		i.publish()
	}
	return count
}

// UnreadCount returns the unread counter
func (i *Inbox) UnreadCount() int {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.unread
}

// Snapshot returns a copy of the cached list and counter
func (i *Inbox) Snapshot() Snapshot {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.snapshotLocked()
}

// Reset drops the cache, e.g. when the session ends
func (i *Inbox) Reset() {
	i.mu.Lock()
	i.notifications = nil
	i.unread = 0
	i.mu.Unlock()

	i.publish()
}

// Subscribe returns a channel receiving a snapshot after every change. Slow
// readers only see the latest snapshot. The returned func unsubscribes.
func (i *Inbox) Subscribe() (<-chan Snapshot, func()) {
	ch := make(chan Snapshot, 1)

	i.subsMu.Lock()
	i.subs[ch] = struct{}{}
	i.subsMu.Unlock()

	return ch, func() {
		i.subsMu.Lock()
		if _, ok := i.subs[ch]; ok {
			delete(i.subs, ch)
			close(ch)
		}
		i.subsMu.Unlock()
	}
}

// publish fans out the current state. The snapshot is taken under subsMu so
// concurrent publishers deliver in the order they observed the cache.
func (i *Inbox) publish() {
	i.subsMu.Lock()
	defer i.subsMu.Unlock()

	snap := i.Snapshot()
	for ch := range i.subs {
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- snap:
		default:
		}
	}
}

func (i *Inbox) snapshotLocked() Snapshot {
	list := make([]*proto.Notification, len(i.notifications))
	for idx, n := range i.notifications {
		list[idx] = n.Clone()
	}
	return Snapshot{Notifications: list, UnreadCount: i.unread}
}

func (i *Inbox) indexLocked(id string) int {
	for idx, n := range i.notifications {
		if n.Id == id {
			return idx
		}
	}
	return -1
}

// decrementLocked lowers the counter, never below zero
func (i *Inbox) decrementLocked() {
	if i.unread > 0 {
		i.unread--
	}
}
