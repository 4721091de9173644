package replay

import (
	"encoding/json"
	"fmt"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// makeStream строит валидный поток: FullSnapshot + n инкрементальных событий.
func makeStream(n int, stepMs int64) []ReplayEvent {
	events := make([]ReplayEvent, 0, n+1)
	events = append(events, ReplayEvent{Kind: KindFullSnapshot, Timestamp: 0})
	for i := 1; i <= n; i++ {
		events = append(events, ReplayEvent{
			Kind:      KindIncrementalSnapshot,
			Timestamp: int64(i) * stepMs,
		})
	}
	return events
}

func TestValidate_ValidStream(t *testing.T) {
	require.NoError(t, Validate(makeStream(1, 100)))
	require.NoError(t, Validate(makeStream(500, 250)))
}

func TestValidate_EmptyAndShort(t *testing.T) {
	assert.ErrorIs(t, Validate(nil), ErrStreamTooShort)
	assert.ErrorIs(t, Validate([]ReplayEvent{}), ErrStreamTooShort)
	assert.ErrorIs(t, Validate([]ReplayEvent{{Kind: KindFullSnapshot}}), ErrStreamTooShort)
}

func TestValidate_FirstEventNotSnapshot(t *testing.T) {
	events := []ReplayEvent{
		{Kind: KindIncrementalSnapshot, Timestamp: 0},
		{Kind: KindIncrementalSnapshot, Timestamp: 100},
	}
	assert.ErrorIs(t, Validate(events), ErrMissingSnapshot)
}

// TestValidate_GeneratedSequences перебирает случайные последовательности:
// валиден только поток длины >= 2, начинающийся с FullSnapshot.
func TestValidate_GeneratedSequences(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	kinds := []EventKind{
		KindDOMContentLoaded, KindLoad, KindFullSnapshot,
		KindIncrementalSnapshot, KindMeta, KindCustom,
	}

	for i := 0; i < 500; i++ {
		n := rng.Intn(6)
		events := make([]ReplayEvent, n)
		for j := range events {
			events[j] = ReplayEvent{
				Kind:      kinds[rng.Intn(len(kinds))],
				Timestamp: int64(j) * 50,
			}
		}

		err := Validate(events)
		if len(events) >= 2 && events[0].Kind == KindFullSnapshot {
			assert.NoError(t, err, "последовательность %d должна быть валидной", i)
		} else {
			assert.Error(t, err, "последовательность %d должна быть отклонена", i)
		}
	}
}

func TestDecodeEvents(t *testing.T) {
	raw := []json.RawMessage{
		json.RawMessage(`{"type":2,"timestamp":1000,"data":{"node":{}}}`),
		json.RawMessage(`{"type":3,"timestamp":1250,"data":{"source":1}}`),
	}

	events, err := DecodeEvents(raw)
	require.NoError(t, err)
	require.Len(t, events, 2)

	assert.Equal(t, KindFullSnapshot, events[0].Kind)
	assert.Equal(t, int64(1000), events[0].Timestamp)
	// Payload сохраняется целиком, включая поля, которые мы не разбираем
	assert.JSONEq(t, string(raw[0]), string(events[0].Payload))

	assert.Equal(t, KindIncrementalSnapshot, events[1].Kind)
	assert.Equal(t, int64(1250), events[1].Timestamp)
}

func TestDecodeEvents_Malformed(t *testing.T) {
	cases := []json.RawMessage{
		json.RawMessage(`not json`),
		json.RawMessage(`{"timestamp":1000}`), // нет type
		json.RawMessage(`[]`),
	}
	for i, blob := range cases {
		_, err := DecodeEvents([]json.RawMessage{blob})
		assert.ErrorIs(t, err, ErrMalformedPayload, fmt.Sprintf("case %d", i))
	}
}

func TestDuration(t *testing.T) {
	assert.Equal(t, int64(0), Duration(nil))
	assert.Equal(t, int64(0), Duration(makeStream(0, 0)))
	assert.Equal(t, int64(30000), Duration(makeStream(120, 250)))
}

func TestFormatClock(t *testing.T) {
	assert.Equal(t, "0:00", FormatClock(0))
	assert.Equal(t, "0:05", FormatClock(5400))
	assert.Equal(t, "1:00", FormatClock(60000))
	assert.Equal(t, "2:05", FormatClock(125000))
	assert.Equal(t, "0:00", FormatClock(-100))
}
