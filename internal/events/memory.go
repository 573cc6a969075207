package events

import (
	"context"
	"sync"
)

// MemoryBus delivers synchronously inside Publish. Single process only.
type MemoryBus struct {
	mu       sync.RWMutex
	next     int
	handlers map[int]Handler
}

func NewMemoryBus() *MemoryBus {
	return &MemoryBus{handlers: map[int]Handler{}}
}

func (b *MemoryBus) Publish(ctx context.Context, e Event) error {
	b.mu.RLock()
	hs := make([]Handler, 0, len(b.handlers))
	for _, h := range b.handlers {
		hs = append(hs, h)
	}
	b.mu.RUnlock()
	for _, h := range hs {
		h(ctx, e)
	}
	return nil
}

func (b *MemoryBus) Subscribe(ctx context.Context, h Handler) error {
	b.mu.Lock()
	id := b.next
	b.next++
	b.handlers[id] = h
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.mu.Lock()
		delete(b.handlers, id)
		b.mu.Unlock()
	}()
	return nil
}

func (b *MemoryBus) Close() error { return nil }
