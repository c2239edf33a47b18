package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"

	"github.com/trezcool/fieldops/core"
	"github.com/trezcool/fieldops/core/notification"
)

// Hub fans notification events out through redis pub/sub, so a user connected
// to any API instance receives events published by any other instance or worker.
type Hub struct {
	rdb    *redis.Client
	buffer int
	logger core.Logger
}

var _ notification.Hub = (*Hub)(nil)

func NewHub(rdb *redis.Client, logger core.Logger) *Hub {
	return &Hub{rdb: rdb, buffer: 16, logger: logger}
}

func channel(tenantID, userID string) string {
	return fmt.Sprintf("%snotifications:%s:%s", keyPrefix, tenantID, userID)
}

func (h *Hub) Publish(ctx context.Context, ev notification.Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return errors.Wrap(err, "encoding event")
	}
	return errors.Wrap(h.rdb.Publish(ctx, channel(ev.TenantID, ev.UserID), payload).Err(), "publishing event")
}

func (h *Hub) Subscribe(ctx context.Context, tenantID, userID string) (<-chan notification.Event, func(), error) {
	ps := h.rdb.Subscribe(ctx, channel(tenantID, userID))
	// wait for the subscription to be confirmed so no event published after we return is lost
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, nil, errors.Wrap(err, "subscribing")
	}

	events := make(chan notification.Event, h.buffer)
	done := make(chan struct{})
	go func() {
		defer close(events)
		msgs := ps.Channel()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				var ev notification.Event
				if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
					h.logger.Warn("dropping malformed event", err)
					continue
				}
				select {
				case events <- ev:
				default:
					h.logger.Warn(fmt.Sprintf("subscriber %s too slow, event %s dropped", userID, ev.Type))
				}
			}
		}
	}()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			close(done)
			_ = ps.Close()
		})
	}
	return events, cancel, nil
}
