package bus

import "sync"

// MessageBus is the concrete EventPublisher every gateway process wires
// in: a flat map of subscriber id -> handler, fanned out synchronously on
// Broadcast. The gateway itself is the only subscriber registrar today
// (one entry per connected client, see Server.registerClient), so a
// single mutex is never contended enough to need sharding.
type MessageBus struct {
	mu   sync.RWMutex
	subs map[string]EventHandler
}

// New builds an empty, ready-to-use MessageBus.
func New() *MessageBus {
	return &MessageBus{subs: make(map[string]EventHandler)}
}

func (b *MessageBus) Subscribe(id string, handler EventHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs[id] = handler
}

func (b *MessageBus) Unsubscribe(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.subs, id)
}

// Broadcast fans event out to every current subscriber. Handlers run
// synchronously on the caller's goroutine, same as the gateway's own
// BroadcastEvent — callers that can't block should make their handler
// non-blocking (the gateway's client handler enqueues onto a buffered
// channel rather than writing the socket directly).
func (b *MessageBus) Broadcast(event Event) {
	b.mu.RLock()
	handlers := make([]EventHandler, 0, len(b.subs))
	for _, h := range b.subs {
		handlers = append(handlers, h)
	}
	b.mu.RUnlock()

	for _, h := range handlers {
		h(event)
	}
}
