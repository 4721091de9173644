package eventbus

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryBus_PublishSubscribe(t *testing.T) {
	bus := NewMemoryBus(16)

	var received int32
	_, err := bus.Subscribe(context.Background(), Filter{}, func(ctx context.Context, ev *Envelope) {
		atomic.AddInt32(&received, 1)
	})
	require.NoError(t, err)

	ev, err := NewEnvelope(EventReplayIngested, ReplayIngestedPayload{
		SessionID:     "sess-1",
		SequenceStart: 0,
		EventCount:    42,
	})
	require.NoError(t, err)
	require.NoError(t, bus.Publish(context.Background(), ev))

	assert.Eventually(t, func() bool {
		return atomic.LoadInt32(&received) == 1
	}, time.Second, 5*time.Millisecond)

	stats := bus.Metrics()
	assert.Equal(t, uint64(1), stats.Published)
}

func TestMemoryBus_FilterByType(t *testing.T) {
	bus := NewMemoryBus(16)

	var ingested, finished int32
	_, err := bus.Subscribe(context.Background(), Filter{Types: []string{EventReplayIngested}},
		func(ctx context.Context, ev *Envelope) { atomic.AddInt32(&ingested, 1) })
	require.NoError(t, err)
	_, err = bus.Subscribe(context.Background(), Filter{Types: []string{EventPlaybackFinished}},
		func(ctx context.Context, ev *Envelope) { atomic.AddInt32(&finished, 1) })
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		ev, err := NewEnvelope(EventReplayIngested, ReplayIngestedPayload{SessionID: "s"})
		require.NoError(t, err)
		require.NoError(t, bus.Publish(context.Background(), ev))
	}
	ev, err := NewEnvelope(EventPlaybackFinished, PlaybackFinishedPayload{SessionID: "s", DurationMs: 30000})
	require.NoError(t, err)
	require.NoError(t, bus.Publish(context.Background(), ev))

	assert.Eventually(t, func() bool {
		return atomic.LoadInt32(&ingested) == 3 && atomic.LoadInt32(&finished) == 1
	}, time.Second, 5*time.Millisecond)
}

func TestMemoryBus_UnsubscribeStopsDelivery(t *testing.T) {
	bus := NewMemoryBus(16)

	var received int32
	sub, err := bus.Subscribe(context.Background(), Filter{}, func(ctx context.Context, ev *Envelope) {
		atomic.AddInt32(&received, 1)
	})
	require.NoError(t, err)
	sub.Unsubscribe()

	ev, err := NewEnvelope(EventSessionStarted, SessionStartedPayload{SessionID: "sess-1"})
	require.NoError(t, err)
	require.NoError(t, bus.Publish(context.Background(), ev))

	time.Sleep(50 * time.Millisecond)
	assert.Zero(t, atomic.LoadInt32(&received))
}

func TestMemoryBus_CountsPublished(t *testing.T) {
	bus := NewMemoryBus(64)

	for i := 0; i < 10; i++ {
		ev, err := NewEnvelope(EventSessionStarted, SessionStartedPayload{SessionID: "sess"})
		require.NoError(t, err)
		require.NoError(t, bus.Publish(context.Background(), ev))
	}

	stats := bus.Metrics()
	assert.Equal(t, uint64(10), stats.Published)
}

func TestNewEnvelope_FillsServiceFields(t *testing.T) {
	ev, err := NewEnvelope(EventSessionEnded, SessionEndedPayload{SessionID: "sess-1", EndedAt: 1000})
	require.NoError(t, err)

	assert.NotEmpty(t, ev.ID)
	assert.Equal(t, "session-replay", ev.Source)
	assert.Equal(t, EventSessionEnded, ev.EventType)
	assert.Equal(t, 1, ev.Version)
	assert.False(t, ev.Timestamp.IsZero())

	var payload SessionEndedPayload
	require.NoError(t, json.Unmarshal(ev.Payload, &payload))
	assert.Equal(t, "sess-1", payload.SessionID)
}
