// Package realtime fans notification events out to live connections of a single process.
package realtime

import (
	"context"
	"sync"

	"github.com/trezcool/fieldops/core"
	"github.com/trezcool/fieldops/core/notification"
)

type subscriber struct {
	events chan notification.Event
}

// Hub is an in-process notification.Hub.
// Slow subscribers lose events rather than block publishers.
type Hub struct {
	mu     sync.RWMutex
	subs   map[string]map[*subscriber]struct{} // {tenant/user: subscribers}
	buffer int
	logger core.Logger
}

var _ notification.Hub = (*Hub)(nil)

func NewHub(logger core.Logger) *Hub {
	return &Hub{
		subs:   make(map[string]map[*subscriber]struct{}),
		buffer: 16,
		logger: logger,
	}
}

func key(tenantID, userID string) string {
	return tenantID + "/" + userID
}

func (h *Hub) Publish(_ context.Context, ev notification.Event) error {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for sub := range h.subs[key(ev.TenantID, ev.UserID)] {
		select {
		case sub.events <- ev:
		default:
			h.logger.Warn("subscriber of user " + ev.UserID + " too slow, event " + ev.Type + " dropped")
		}
	}
	return nil
}

func (h *Hub) Subscribe(ctx context.Context, tenantID, userID string) (<-chan notification.Event, func(), error) {
	k := key(tenantID, userID)
	sub := &subscriber{events: make(chan notification.Event, h.buffer)}

	h.mu.Lock()
	if h.subs[k] == nil {
		h.subs[k] = make(map[*subscriber]struct{})
	}
	h.subs[k][sub] = struct{}{}
	h.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs[k], sub)
			if len(h.subs[k]) == 0 {
				delete(h.subs, k)
			}
			close(sub.events)
			h.mu.Unlock()
		})
	}
	go func() {
		<-ctx.Done()
		cancel()
	}()
	return sub.events, cancel, nil
}

// Subscribers returns the number of live subscriptions of a user.
func (h *Hub) Subscribers(tenantID, userID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[key(tenantID, userID)])
}
