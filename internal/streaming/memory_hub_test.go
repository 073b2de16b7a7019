package streaming

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/transcanvas/pkg/schema"
)

func receive(t *testing.T, ch <-chan StatusEvent) StatusEvent {
	t.Helper()
	select {
	case ev, ok := <-ch:
		require.True(t, ok, "channel closed")
		return ev
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
		return StatusEvent{}
	}
}

func assertEmpty(t *testing.T, ch <-chan StatusEvent) {
	t.Helper()
	select {
	case ev := <-ch:
		t.Fatalf("unexpected event: %+v", ev)
	default:
	}
}

func TestPublishSubscribe(t *testing.T) {
	hub := NewMemoryHub(0)
	ctx := context.Background()

	ch, cancel, err := hub.Subscribe(ctx, Filter{})
	require.NoError(t, err)
	defer cancel()

	want := StatusEvent{
		SessionID: "s-1",
		Diagram:   "orders",
		Type:      schema.EventStatusPolled,
		State:     schema.SessionRunning,
		Payload:   map[string]any{"finished": false},
	}
	require.NoError(t, hub.Publish(ctx, want))

	got := receive(t, ch)
	assert.Equal(t, want.SessionID, got.SessionID)
	assert.Equal(t, want.Type, got.Type)
	assert.Equal(t, schema.SessionRunning, got.State)
}

func TestFilterByDiagramAndSession(t *testing.T) {
	hub := NewMemoryHub(0)
	ctx := context.Background()

	byDiagram, cancelA, err := hub.Subscribe(ctx, Filter{Diagram: "orders"})
	require.NoError(t, err)
	defer cancelA()
	bySession, cancelB, err := hub.Subscribe(ctx, Filter{SessionID: "s-2"})
	require.NoError(t, err)
	defer cancelB()

	require.NoError(t, hub.Publish(ctx, StatusEvent{Diagram: "orders", SessionID: "s-1", Type: schema.EventSessionRunning}))
	require.NoError(t, hub.Publish(ctx, StatusEvent{Diagram: "billing", SessionID: "s-2", Type: schema.EventSessionRunning}))

	assert.Equal(t, "s-1", receive(t, byDiagram).SessionID)
	assertEmpty(t, byDiagram)
	assert.Equal(t, "billing", receive(t, bySession).Diagram)
	assertEmpty(t, bySession)
}

func TestFilterByEventType(t *testing.T) {
	hub := NewMemoryHub(0)
	ctx := context.Background()

	ch, cancel, err := hub.Subscribe(ctx, Filter{Types: []string{schema.EventDebugBreak, schema.EventPreparationFailed}})
	require.NoError(t, err)
	defer cancel()

	require.NoError(t, hub.Publish(ctx, StatusEvent{Type: schema.EventStatusPolled}))
	require.NoError(t, hub.Publish(ctx, StatusEvent{Type: schema.EventDebugBreak, Step: "B"}))

	got := receive(t, ch)
	assert.Equal(t, schema.EventDebugBreak, got.Type)
	assert.Equal(t, "B", got.Step)
	assertEmpty(t, ch)
}

func TestSlowSubscriberDropsInsteadOfBlocking(t *testing.T) {
	hub := NewMemoryHub(2)
	ctx := context.Background()

	ch, cancel, err := hub.Subscribe(ctx, Filter{})
	require.NoError(t, err)
	defer cancel()

	for i := 0; i < 5; i++ {
		require.NoError(t, hub.Publish(ctx, StatusEvent{Type: schema.EventStatusPolled}))
	}

	assert.Len(t, ch, 2)
	assert.Equal(t, int64(3), hub.Dropped())
}

func TestCancelClosesChannelOnce(t *testing.T) {
	hub := NewMemoryHub(0)
	ch, cancel, err := hub.Subscribe(context.Background(), Filter{})
	require.NoError(t, err)
	require.Equal(t, 1, hub.Subscribers())

	cancel()
	cancel()

	_, ok := <-ch
	assert.False(t, ok)
	assert.Equal(t, 0, hub.Subscribers())
	assert.NoError(t, hub.Publish(context.Background(), StatusEvent{Type: schema.EventSessionIdle}))
}

func TestContextCancelUnsubscribes(t *testing.T) {
	hub := NewMemoryHub(0)
	ctx, cancelCtx := context.WithCancel(context.Background())

	ch, _, err := hub.Subscribe(ctx, Filter{})
	require.NoError(t, err)
	cancelCtx()

	select {
	case _, ok := <-ch:
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("subscription not closed")
	}
	assert.Equal(t, 0, hub.Subscribers())
}

func TestPublishWithCancelledContext(t *testing.T) {
	hub := NewMemoryHub(0)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.ErrorIs(t, hub.Publish(ctx, StatusEvent{}), context.Canceled)
	_, _, err := hub.Subscribe(ctx, Filter{})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestConcurrentPublish(t *testing.T) {
	hub := NewMemoryHub(1000)
	ctx := context.Background()
	ch, cancel, err := hub.Subscribe(ctx, Filter{})
	require.NoError(t, err)
	defer cancel()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				_ = hub.Publish(ctx, StatusEvent{Type: schema.EventStatusPolled})
			}
		}()
	}
	wg.Wait()
	assert.Len(t, ch, 500)
}
