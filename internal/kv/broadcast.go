package kv

import (
	"context"
	"sync"
)

const subscriberBuffer = 16

// broadcaster fans changes out to in-process subscribers. A subscriber whose
// buffer is full misses the change; the next Get still sees the latest value.
type broadcaster struct {
	mu     sync.Mutex
	subs   map[chan Change]struct{}
	closed bool
	stop   chan struct{}
}

func newBroadcaster() *broadcaster {
	return &broadcaster{subs: make(map[chan Change]struct{}), stop: make(chan struct{})}
}

func (b *broadcaster) subscribe(ctx context.Context) (<-chan Change, func()) {
	ch := make(chan Change, subscriberBuffer)
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	b.subs[ch] = struct{}{}
	b.mu.Unlock()

	done := make(chan struct{})
	var once sync.Once
	cancel := func() {
		once.Do(func() {
			close(done)
			b.mu.Lock()
			if _, ok := b.subs[ch]; ok {
				delete(b.subs, ch)
				close(ch)
			}
			b.mu.Unlock()
		})
	}
	// 监听协程在 ctx 结束、显式 cancel 或广播器关闭时退出。
	go func() {
		select {
		case <-ctx.Done():
			cancel()
		case <-done:
		case <-b.stop:
		}
	}()
	return ch, cancel
}

func (b *broadcaster) publish(change Change) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for ch := range b.subs {
		select {
		case ch <- change:
		default:
		}
	}
}

func (b *broadcaster) close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	close(b.stop)
	for ch := range b.subs {
		delete(b.subs, ch)
		close(ch)
	}
}
