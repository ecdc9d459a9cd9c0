package service

import (
	"context"
	"sync"

	"github.com/segyhp/vault-engine/internal/domain"
)

// ActivityBus carries owner liveness events from the services that move an
// owner's funds to whoever tracks inactivity. Delivery is synchronous.
type ActivityBus struct {
	mu   sync.RWMutex
	subs []func(context.Context, domain.ActivityEvent)
}

func NewActivityBus() *ActivityBus {
	return &ActivityBus{}
}

func (b *ActivityBus) Subscribe(fn func(context.Context, domain.ActivityEvent)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs = append(b.subs, fn)
}

// Publish is a no-op on a nil bus.
func (b *ActivityBus) Publish(ctx context.Context, ev domain.ActivityEvent) {
	if b == nil {
		return
	}
	b.mu.RLock()
	subs := make([]func(context.Context, domain.ActivityEvent), len(b.subs))
	copy(subs, b.subs)
	b.mu.RUnlock()

	for _, fn := range subs {
		fn(ctx, ev)
	}
}
