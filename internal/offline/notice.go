package offline

import (
	"sync"
	"time"
)

// Notice names published on the NoticeBus.
const (
	NoticeInstalled      = "cache.installed"
	NoticeInstallFailed  = "cache.install_failed"
	NoticeActivated      = "cache.activated"
	NoticeBucketDeleted  = "cache.bucket_deleted"
	NoticeFallbackServed = "cache.fallback_served"
)

// Notice properties.
const (
	PropertyVersion = "version"
	PropertyBucket  = "bucket"
	PropertyURL     = "url"
	PropertyAssets  = "assets"
	PropertyDeleted = "deleted"
	PropertyError   = "error"
)

// Notice describes something that happened to the cache, for operators and
// integrations.
type Notice struct {
	Name       string
	Version    string
	Properties map[string]any
	Timestamp  time.Time
}

// NoticeHandler processes notices.
type NoticeHandler func(n *Notice)

// noticeBufferSize is the capacity of the async notice channel.
const noticeBufferSize = 256

// NoticeBus is an async pub/sub for notices. Publish never blocks the request
// path: notices go through a buffered channel to a single worker, and are
// dropped when the buffer is full.
type NoticeBus struct {
	handlers []NoticeHandler
	mu       sync.RWMutex
	ch       chan *Notice
	stopCh   chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

// NewNoticeBus creates a bus and starts its worker.
func NewNoticeBus() *NoticeBus {
	b := &NoticeBus{
		ch:     make(chan *Notice, noticeBufferSize),
		stopCh: make(chan struct{}),
		done:   make(chan struct{}),
	}
	go b.loop()
	return b
}

// Subscribe registers a handler.
func (b *NoticeBus) Subscribe(h NoticeHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers = append(b.handlers, h)
}

// Publish enqueues a notice. Safe on a nil bus and after Stop.
func (b *NoticeBus) Publish(n *Notice) {
	if b == nil {
		return
	}
	select {
	case <-b.stopCh:
		return
	default:
	}
	if n.Timestamp.IsZero() {
		n.Timestamp = time.Now()
	}
	select {
	case b.ch <- n:
	default:
	}
}

// Stop drains queued notices and waits for the worker to exit. Safe to call
// more than once.
func (b *NoticeBus) Stop() {
	b.stopOnce.Do(func() {
		close(b.stopCh)
	})
	<-b.done
}

func (b *NoticeBus) loop() {
	defer close(b.done)
	for {
		select {
		case n := <-b.ch:
			b.dispatch(n)
		case <-b.stopCh:
			for {
				select {
				case n := <-b.ch:
					b.dispatch(n)
				default:
					return
				}
			}
		}
	}
}

func (b *NoticeBus) dispatch(n *Notice) {
	b.mu.RLock()
	handlers := make([]NoticeHandler, len(b.handlers))
	copy(handlers, b.handlers)
	b.mu.RUnlock()

	for _, h := range handlers {
		safeCall(h, n)
	}
}

// safeCall keeps a panicking handler from killing the worker.
func safeCall(h NoticeHandler, n *Notice) {
	defer func() {
		recover() //nolint:errcheck // handlers do their own logging
	}()
	h(n)
}
