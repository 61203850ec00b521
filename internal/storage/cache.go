package storage

import (
	"context"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru"
	"github.com/krasl809/JANDALISYS-sub003/internal/domain"
	"github.com/krasl809/JANDALISYS-sub003/internal/metrics"
	"github.com/krasl809/JANDALISYS-sub003/pkg/proto"
)

var _ domain.NotificationStore = (*CachedStore)(nil)

// CachedStore serves unread counts from a 2Q cache in front of another store.
// Every mutation of a user's notifications invalidates that user's entry.
type CachedStore struct {
	domain.NotificationStore

	counts     *lru.TwoQueueCache
	mutex      sync.Mutex
	versions   map[string]uint64 // user id -> invalidation count
	metrics    *metrics.Metrics
	expiration time.Duration
}

// cacheItem represents an item in the cache with an expiration time
type cacheItem struct {
	count      int
	version    uint64
	expiration time.Time
}

// NewCachedStore wraps store with an unread count cache of the given capacity
func NewCachedStore(store domain.NotificationStore, capacity int, expiration time.Duration) (*CachedStore, error) {
	counts, err := lru.New2Q(capacity)
	if err != nil {
		return nil, err
	}

	return &CachedStore{
		NotificationStore: store,
		counts:            counts,
		versions:          make(map[string]uint64),
		metrics:           metrics.GetMetrics(),
		expiration:        expiration,
	}, nil
}

// UnreadCount returns the cached count or loads it from the wrapped store
func (c *CachedStore) UnreadCount(ctx context.Context, userID string) (int, error) {
	c.mutex.Lock()
	version := c.versions[userID]
	if value, found := c.counts.Get(userID); found {
		item := value.(cacheItem)
		if item.version == version && time.Now().Before(item.expiration) {
			c.mutex.Unlock()
			c.metrics.UnreadCacheHits.Inc()
			return item.count, nil
		}
		c.counts.Remove(userID)
	}
	c.mutex.Unlock()

	c.metrics.UnreadCacheMisses.Inc()
	count, err := c.NotificationStore.UnreadCount(ctx, userID)
	if err != nil {
		return 0, err
	}

	c.mutex.Lock()
	// a mutation that raced with the load bumped the version; keep it uncached
	if c.versions[userID] == version {
		c.counts.Add(userID, cacheItem{
			count:      count,
			version:    version,
			expiration: time.Now().Add(c.expiration),
		})
	}
	c.mutex.Unlock()

	return count, nil
}

// CreateNotification stores the notification and invalidates the recipient
func (c *CachedStore) CreateNotification(ctx context.Context, req *proto.CreateNotificationRequest) (*proto.Notification, error) {
	n, err := c.NotificationStore.CreateNotification(ctx, req)
	if err == nil {
		c.Invalidate(n.UserId)
	}
	return n, err
}

// MarkRead marks the notification read and invalidates the user
func (c *CachedStore) MarkRead(ctx context.Context, userID, id string) (*proto.Notification, error) {
	n, err := c.NotificationStore.MarkRead(ctx, userID, id)
	c.Invalidate(userID)
	return n, err
}

// MarkAllRead marks everything read and invalidates the user
func (c *CachedStore) MarkAllRead(ctx context.Context, userID string) (int, error) {
	changed, err := c.NotificationStore.MarkAllRead(ctx, userID)
	c.Invalidate(userID)
	return changed, err
}

// DeleteNotification deletes the notification and invalidates the user
func (c *CachedStore) DeleteNotification(ctx context.Context, userID, id string) error {
	err := c.NotificationStore.DeleteNotification(ctx, userID, id)
	c.Invalidate(userID)
	return err
}

// Invalidate drops the cached count of a user
func (c *CachedStore) Invalidate(userID string) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.versions[userID]++
	c.counts.Remove(userID)
}

// Clear empties the cache
func (c *CachedStore) Clear() {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.counts.Purge()
	c.versions = make(map[string]uint64)
}
