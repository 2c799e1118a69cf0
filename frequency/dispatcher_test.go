package frequency

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/RcityLucas/Prizm-Agent-sub001/plugin/channels"
	"github.com/RcityLucas/Prizm-Agent-sub001/store"
)

type channelRecorder struct {
	mu         sync.Mutex
	deliveries []*channels.Delivery
	fail       bool
}

func (r *channelRecorder) channel(name string) *channels.FuncChannel {
	return &channels.FuncChannel{
		ChannelName: name,
		Fn: func(_ context.Context, delivery *channels.Delivery) error {
			r.mu.Lock()
			defer r.mu.Unlock()
			if r.fail {
				return errors.New("channel down")
			}
			r.deliveries = append(r.deliveries, delivery)
			return nil
		},
	}
}

func (r *channelRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.deliveries)
}

func TestDispatchChannelSelection(t *testing.T) {
	registry := channels.NewRegistry()
	main := &channelRecorder{}
	notification := &channelRecorder{}
	secondary := &channelRecorder{}
	registry.Register(main.channel(channels.Main))
	registry.Register(notification.channel(channels.Notification))
	registry.Register(secondary.channel(channels.Secondary))

	d := NewDispatcher(registry)
	d.Start()
	defer d.Close()

	require.True(t, d.Dispatch(&Expression{ID: "e1", UserID: "u", Type: store.ExpressionReminder, PriorityScore: 0.5}, ""))
	require.True(t, d.Dispatch(&Expression{ID: "e2", UserID: "u", Type: store.ExpressionGreeting, PriorityScore: 0.5}, ""))
	require.True(t, d.Dispatch(&Expression{ID: "e3", UserID: "u", Type: store.ExpressionGreeting, PriorityScore: 0.95}, ""))
	require.True(t, d.Dispatch(&Expression{ID: "e4", UserID: "u", Type: store.ExpressionQuestion, PriorityScore: 0.2}, ""))

	require.Eventually(t, func() bool { return len(d.History()) == 4 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, notification.count(), "reminder routes to notification")
	assert.Equal(t, 1, secondary.count(), "low-priority greeting routes to secondary")
	assert.Equal(t, 2, main.count(), "high priority and default both route to main")
}

func TestDispatchFallsBackToMain(t *testing.T) {
	registry := channels.NewRegistry()
	main := &channelRecorder{}
	registry.Register(main.channel(channels.Main))

	d := NewDispatcher(registry)
	d.Start()
	defer d.Close()

	require.True(t, d.Dispatch(&Expression{ID: "e1", UserID: "u", Type: store.ExpressionGreeting, PriorityScore: 0.1}, ""))
	require.Eventually(t, func() bool { return main.count() == 1 }, time.Second, 5*time.Millisecond)

	history := d.History()
	require.Len(t, history, 1)
	assert.Equal(t, channels.Main, history[0].Channel, "unregistered secondary falls back to main")
	assert.True(t, history[0].Success)
}

func TestDispatchRecordsFailure(t *testing.T) {
	registry := channels.NewRegistry()
	broken := &channelRecorder{fail: true}
	registry.Register(broken.channel(channels.Main))

	d := NewDispatcher(registry)
	d.Start()
	defer d.Close()

	require.True(t, d.Dispatch(&Expression{ID: "e1", UserID: "u", Type: store.ExpressionQuestion}, ""))
	require.Eventually(t, func() bool { return len(d.History()) == 1 }, time.Second, 5*time.Millisecond)
	assert.False(t, d.History()[0].Success)
}

func TestDispatchExplicitChannel(t *testing.T) {
	registry := channels.NewRegistry()
	secondary := &channelRecorder{}
	registry.Register(secondary.channel(channels.Secondary))

	d := NewDispatcher(registry)
	d.Start()
	defer d.Close()

	require.True(t, d.Dispatch(&Expression{ID: "e1", UserID: "u", Type: store.ExpressionReminder}, channels.Secondary))
	require.Eventually(t, func() bool { return secondary.count() == 1 }, time.Second, 5*time.Millisecond)
}

func TestDispatchAfterCloseRefused(t *testing.T) {
	d := NewDispatcher(channels.NewRegistry())
	d.Start()
	d.Close()
	assert.False(t, d.Dispatch(&Expression{ID: "e1", UserID: "u"}, ""))
}

func TestDispatchDrainsQueueOnClose(t *testing.T) {
	registry := channels.NewRegistry()
	main := &channelRecorder{}
	registry.Register(main.channel(channels.Main))

	d := NewDispatcher(registry)
	for i := 0; i < 10; i++ {
		require.True(t, d.Dispatch(&Expression{ID: "e", UserID: "u", Type: store.ExpressionQuestion}, ""))
	}
	d.Start()
	d.Close()
	assert.Equal(t, 10, main.count(), "queued work drains before the worker exits")
}
