package eventbus

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Типы событий жизненного цикла записи и воспроизведения.
const (
	EventSessionStarted   = "session.started"
	EventSessionEnded     = "session.ended"
	EventReplayIngested   = "replay.ingested"
	EventPlaybackStarted  = "playback.started"
	EventPlaybackFinished = "playback.finished"
)

// SessionStartedPayload — новая записываемая сессия.
type SessionStartedPayload struct {
	SessionID string `json:"session_id"`
	UserID    string `json:"user_id,omitempty"`
	EntryURL  string `json:"entry_url"`
}

// SessionEndedPayload — сессия завершена клиентом.
type SessionEndedPayload struct {
	SessionID string `json:"session_id"`
	EndedAt   int64  `json:"ended_at"` // unix ms
}

// ReplayIngestedPayload — принят батч replay-событий.
type ReplayIngestedPayload struct {
	SessionID     string `json:"session_id"`
	SequenceStart int64  `json:"sequence_start"`
	EventCount    int    `json:"event_count"`
}

// PlaybackStartedPayload — зритель открыл воспроизведение сессии.
type PlaybackStartedPayload struct {
	SessionID  string `json:"session_id"`
	ViewerID   string `json:"viewer_id"`
	PlaybackID string `json:"playback_id"`
}

// PlaybackFinishedPayload — воспроизведение дошло до конца записи.
type PlaybackFinishedPayload struct {
	SessionID  string `json:"session_id"`
	ViewerID   string `json:"viewer_id"`
	DurationMs int64  `json:"duration_ms"`
}

// NewEnvelope собирает Envelope с заполненными служебными полями.
func NewEnvelope(eventType string, payload interface{}) (*Envelope, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return &Envelope{
		ID:        uuid.NewString(),
		Timestamp: time.Now().UTC(),
		Source:    "session-replay",
		EventType: eventType,
		Version:   1,
		Priority:  5,
		Payload:   data,
	}, nil
}

// PublishEvent сериализует payload и отправляет событие в глобальную шину.
// Ошибки публикации не фатальны для вызывающего кода: шина — best effort.
func PublishEvent(ctx context.Context, eventType string, payload interface{}) error {
	ev, err := NewEnvelope(eventType, payload)
	if err != nil {
		return err
	}
	return Publish(ctx, ev)
}
