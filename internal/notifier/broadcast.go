package notifier

import (
	"sync"
	"time"

	"github.com/krasl809/JANDALISYS-sub003/internal/metrics"
	"github.com/krasl809/JANDALISYS-sub003/pkg/proto"
	"github.com/rs/zerolog/log"
)

// BroadcastBuffer batches notifications and fans them out to every subscriber
type BroadcastBuffer struct {
	// Configuration
	bufferSize    int
	flushInterval time.Duration

	// Subscription management
	subscribers     map[string]chan *proto.Notification
	subscribersLock sync.RWMutex

	// Pending notifications
	currentBuffer     []*proto.Notification
	currentBufferLock sync.Mutex

	// Control channels
	forceFlush chan struct{}
	close      chan struct{}
	done       chan struct{}
	closeOnce  sync.Once

	metrics *metrics.Metrics
}

// NewBroadcastBuffer creates a new broadcast buffer
func NewBroadcastBuffer(bufferSize int, flushInterval time.Duration) *BroadcastBuffer {
	b := &BroadcastBuffer{
		bufferSize:    bufferSize,
		flushInterval: flushInterval,
		subscribers:   make(map[string]chan *proto.Notification),
		currentBuffer: make([]*proto.Notification, 0, bufferSize),
		forceFlush:    make(chan struct{}, 1),
		close:         make(chan struct{}),
		done:          make(chan struct{}),
		metrics:       metrics.GetMetrics(),
	}

	go b.bufferFlushLoop()

	return b
}

// Subscribe adds a new subscriber to the broadcast
func (b *BroadcastBuffer) Subscribe(id string, buffer int) <-chan *proto.Notification {
	b.subscribersLock.Lock()
	defer b.subscribersLock.Unlock()

	channel := make(chan *proto.Notification, buffer)
	if old, ok := b.subscribers[id]; ok {
		close(old)
	} else {
		b.metrics.NotifierConnectionsActive.Inc()
	}
	b.subscribers[id] = channel

	return channel
}

// Unsubscribe removes a subscriber and closes its channel
func (b *BroadcastBuffer) Unsubscribe(id string) {
	b.subscribersLock.Lock()
	defer b.subscribersLock.Unlock()

	if ch, ok := b.subscribers[id]; ok {
		close(ch)
		delete(b.subscribers, id)
		b.metrics.NotifierConnectionsActive.Dec()
	}
}

// Subscribers returns the number of active subscribers
func (b *BroadcastBuffer) Subscribers() int {
	b.subscribersLock.RLock()
	defer b.subscribersLock.RUnlock()
	return len(b.subscribers)
}

// Publish queues a notification for the next flush
func (b *BroadcastBuffer) Publish(n *proto.Notification) {
	b.currentBufferLock.Lock()
	defer b.currentBufferLock.Unlock()

	b.currentBuffer = append(b.currentBuffer, n)

	if len(b.currentBuffer) >= b.bufferSize {
		select {
		case b.forceFlush <- struct{}{}:
		default:
			// a flush is already pending
		}
	}
}

// bufferFlushLoop periodically flushes the buffer to all subscribers
func (b *BroadcastBuffer) bufferFlushLoop() {
	defer close(b.done)

	ticker := time.NewTicker(b.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			b.flush()
		case <-b.forceFlush:
			b.flush()
		case <-b.close:
			b.flush()
			return
		}
	}
}

// flush sends buffered notifications to all subscribers without blocking
func (b *BroadcastBuffer) flush() {
	b.currentBufferLock.Lock()
	buffer := b.currentBuffer
	if len(buffer) == 0 {
		b.currentBufferLock.Unlock()
		return
	}
	b.currentBuffer = make([]*proto.Notification, 0, b.bufferSize)
	b.currentBufferLock.Unlock()

	// Held for the whole fan-out so Unsubscribe cannot close a channel mid-send
	b.subscribersLock.RLock()
	defer b.subscribersLock.RUnlock()

	if len(b.subscribers) == 0 {
		return
	}

	start := time.Now()
	delivered := 0
	skipped := 0

	for id, ch := range b.subscribers {
		sent := 0
		for _, n := range buffer {
			select {
			case ch <- n:
				sent++
			default:
				skipped++
				log.Warn().
					Str("subscriber_id", id).
					Str("notification_id", n.Id).
					Msg("Subscriber channel is full, dropping notification")
			}
		}
		delivered += sent
	}

	delay := time.Since(start)
	if delay > 100*time.Millisecond {
		log.Warn().
			Dur("delay", delay).
			Int("events", len(buffer)).
			Int("subscribers", len(b.subscribers)).
			Int("delivered", delivered).
			Int("skipped", skipped).
			Msg("High latency in broadcast buffer flush")
	}
}

// Close flushes what is pending and closes every subscriber channel
func (b *BroadcastBuffer) Close() error {
	b.closeOnce.Do(func() {
		close(b.close)
		<-b.done

		b.subscribersLock.Lock()
		defer b.subscribersLock.Unlock()

		for id, ch := range b.subscribers {
			close(ch)
			delete(b.subscribers, id)
			b.metrics.NotifierConnectionsActive.Dec()
		}
	})
	return nil
}
