package realtime

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/fieldops/core"
	"github.com/trezcool/fieldops/core/notification"
)

func TestHub(t *testing.T) {
	ctx := context.Background()
	hub := NewHub(core.NopLogger{})

	first, cancelFirst, err := hub.Subscribe(ctx, "t1", "u1")
	require.NoError(t, err)
	second, cancelSecond, err := hub.Subscribe(ctx, "t1", "u1")
	require.NoError(t, err)
	defer cancelSecond()
	other, cancelOther, err := hub.Subscribe(ctx, "t2", "u1")
	require.NoError(t, err)
	defer cancelOther()
	assert.Equal(t, 2, hub.Subscribers("t1", "u1"))

	require.NoError(t, hub.Publish(ctx, notification.Event{Type: notification.EventCreated, TenantID: "t1", UserID: "u1"}))

	for _, events := range []<-chan notification.Event{first, second} {
		select {
		case ev := <-events:
			assert.Equal(t, notification.EventCreated, ev.Type)
		default:
			t.Fatal("event not delivered")
		}
	}
	select {
	case <-other:
		t.Fatal("tenants are isolated")
	default:
	}

	cancelFirst()
	cancelFirst()
	_, ok := <-first
	assert.False(t, ok)
	assert.Equal(t, 1, hub.Subscribers("t1", "u1"))
}

func TestHubContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	hub := NewHub(core.NopLogger{})

	events, _, err := hub.Subscribe(ctx, "t1", "u1")
	require.NoError(t, err)
	cancel()

	select {
	case _, ok := <-events:
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("subscription not closed")
	}
	assert.Equal(t, 0, hub.Subscribers("t1", "u1"))
}

func TestHubSlowSubscriber(t *testing.T) {
	ctx := context.Background()
	hub := NewHub(core.NopLogger{})
	hub.buffer = 1

	events, cancel, err := hub.Subscribe(ctx, "t1", "u1")
	require.NoError(t, err)
	defer cancel()

	for i := 0; i < 3; i++ {
		require.NoError(t, hub.Publish(ctx, notification.Event{Type: notification.EventRead, TenantID: "t1", UserID: "u1", UnreadCount: i}))
	}
	ev := <-events
	assert.Equal(t, 0, ev.UnreadCount)
	select {
	case <-events:
		t.Fatal("overflowing events are dropped")
	default:
	}
}
