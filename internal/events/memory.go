package events

import (
	"context"
	"sync"

	"github.com/rs/zerolog"
)

type memorySubscriber struct {
	filter Filter
	ch     chan Event
	once   sync.Once
}

// MemoryBus entrega eventos dentro do mesmo processo.
type MemoryBus struct {
	mu     sync.RWMutex
	subs   map[*memorySubscriber]struct{}
	logger zerolog.Logger
}

// NewMemoryBus cria um barramento em memória.
func NewMemoryBus(logger zerolog.Logger) *MemoryBus {
	return &MemoryBus{
		subs:   make(map[*memorySubscriber]struct{}),
		logger: logger,
	}
}

// Publish entrega o evento sem bloquear; assinantes lentos perdem eventos.
func (b *MemoryBus) Publish(ctx context.Context, event Event) error {
	event = stamp(event)

	b.mu.RLock()
	defer b.mu.RUnlock()

	for sub := range b.subs {
		if !sub.filter.Match(event) {
			continue
		}
		select {
		case sub.ch <- event:
		default:
			b.logger.Warn().Str("event_type", string(event.Type)).Msg("assinante lento; evento descartado")
		}
	}
	return nil
}

// Subscribe registra um assinante até cancel ou fim do contexto.
func (b *MemoryBus) Subscribe(ctx context.Context, filter Filter) (<-chan Event, CancelFunc) {
	sub := &memorySubscriber{filter: filter, ch: make(chan Event, subscriberBuffer)}

	b.mu.Lock()
	b.subs[sub] = struct{}{}
	b.mu.Unlock()

	done := make(chan struct{})
	cancel := func() {
		sub.once.Do(func() {
			b.mu.Lock()
			delete(b.subs, sub)
			close(sub.ch)
			b.mu.Unlock()
			close(done)
		})
	}

	go func() {
		select {
		case <-ctx.Done():
			cancel()
		case <-done:
		}
	}()

	return sub.ch, cancel
}

// Subscribers devolve a quantidade de assinaturas ativas.
func (b *MemoryBus) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
