package replaystore

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/annel0/session-replay/internal/replay"
)

func testEvents(n int) []replay.ReplayEvent {
	events := make([]replay.ReplayEvent, 0, n)
	for i := 0; i < n; i++ {
		kind := replay.KindIncrementalSnapshot
		if i == 0 {
			kind = replay.KindFullSnapshot
		}
		ts := int64(i) * 250
		payload := fmt.Sprintf(`{"type":%d,"timestamp":%d,"data":{"i":%d}}`, kind, ts, i)
		events = append(events, replay.ReplayEvent{
			Kind:      kind,
			Timestamp: ts,
			Payload:   json.RawMessage(payload),
		})
	}
	return events
}

func TestMemoryStore_SessionLifecycle(t *testing.T) {
	store := NewMemoryStore()
	defer store.Close()
	ctx := context.Background()

	rec := SessionRecord{
		SessionID: "sess-1",
		EntryURL:  "https://example.com/landing",
		UserAgent: "Mozilla/5.0",
		StartedAt: time.Now(),
	}
	require.NoError(t, store.StartSession(ctx, rec))

	// Повторная регистрация того же session_id отклоняется
	assert.ErrorIs(t, store.StartSession(ctx, rec), ErrSessionExists)

	got, err := store.GetSession(ctx, "sess-1")
	require.NoError(t, err)
	assert.Equal(t, "https://example.com/landing", got.EntryURL)
	assert.Nil(t, got.EndedAt)
	assert.Zero(t, got.ReplayEventsCount)

	endedAt := time.Now()
	require.NoError(t, store.EndSession(ctx, "sess-1", endedAt))
	got, err = store.GetSession(ctx, "sess-1")
	require.NoError(t, err)
	require.NotNil(t, got.EndedAt)

	// Неизвестная сессия
	_, err = store.GetSession(ctx, "missing")
	assert.ErrorIs(t, err, ErrSessionNotFound)
	assert.ErrorIs(t, store.EndSession(ctx, "missing", endedAt), ErrSessionNotFound)
}

func TestMemoryStore_AppendAndPaginate(t *testing.T) {
	store := NewMemoryStore()
	defer store.Close()
	ctx := context.Background()

	require.NoError(t, store.StartSession(ctx, SessionRecord{
		SessionID: "sess-1",
		StartedAt: time.Now(),
	}))

	// Первый батч начинается с sequence 0
	start, err := store.AppendEvents(ctx, "sess-1", testEvents(10))
	require.NoError(t, err)
	assert.Equal(t, int64(0), start)

	// Второй батч продолжает нумерацию
	start, err = store.AppendEvents(ctx, "sess-1", testEvents(5))
	require.NoError(t, err)
	assert.Equal(t, int64(10), start)

	count, err := store.CountEvents(ctx, "sess-1")
	require.NoError(t, err)
	assert.Equal(t, int64(15), count)

	// Пагинация сохраняет порядок
	page, err := store.GetEvents(ctx, "sess-1", 4, 8)
	require.NoError(t, err)
	require.Len(t, page, 4)
	assert.Equal(t, int64(2000), page[0].Timestamp)

	// Offset за пределами потока — пустая страница, не ошибка
	page, err = store.GetEvents(ctx, "sess-1", 10, 100)
	require.NoError(t, err)
	assert.Empty(t, page)

	// Append в несуществующую сессию
	_, err = store.AppendEvents(ctx, "missing", testEvents(1))
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestMemoryStore_ListSessionsNewestFirst(t *testing.T) {
	store := NewMemoryStore()
	defer store.Close()
	ctx := context.Background()

	base := time.Now()
	for i := 0; i < 5; i++ {
		require.NoError(t, store.StartSession(ctx, SessionRecord{
			SessionID: fmt.Sprintf("sess-%d", i),
			StartedAt: base.Add(time.Duration(i) * time.Minute),
		}))
	}

	page, total, err := store.ListSessions(ctx, 2, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(5), total)
	require.Len(t, page, 2)
	assert.Equal(t, "sess-4", page[0].SessionID)
	assert.Equal(t, "sess-3", page[1].SessionID)

	page, total, err = store.ListSessions(ctx, 10, 4)
	require.NoError(t, err)
	assert.Equal(t, int64(5), total)
	require.Len(t, page, 1)
	assert.Equal(t, "sess-0", page[0].SessionID)
}

func TestEventCodec_RoundTrip(t *testing.T) {
	codec, err := NewEventCodec()
	require.NoError(t, err)
	defer codec.Close()

	events := testEvents(50)
	data, err := codec.Encode(events)
	require.NoError(t, err)

	decoded, err := codec.Decode(data)
	require.NoError(t, err)
	require.Len(t, decoded, 50)

	assert.Equal(t, replay.KindFullSnapshot, decoded[0].Kind)
	assert.Equal(t, events[10].Timestamp, decoded[10].Timestamp)
	assert.JSONEq(t, string(events[10].Payload), string(decoded[10].Payload))
}

func TestEventCodec_CompressesRepetitivePayloads(t *testing.T) {
	codec, err := NewEventCodec()
	require.NoError(t, err)
	defer codec.Close()

	events := testEvents(500)
	data, err := codec.Encode(events)
	require.NoError(t, err)

	var plainSize int
	for _, ev := range events {
		plainSize += len(ev.Payload)
	}
	// Однотипные JSON-события сжимаются в разы
	assert.Less(t, len(data), plainSize/2)
}

func TestEventCodec_RejectsGarbage(t *testing.T) {
	codec, err := NewEventCodec()
	require.NoError(t, err)
	defer codec.Close()

	_, err = codec.Decode([]byte("definitely not zstd"))
	assert.Error(t, err)
}
