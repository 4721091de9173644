package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/annel0/session-replay/internal/auth"
	"github.com/annel0/session-replay/internal/cache"
	"github.com/annel0/session-replay/internal/replay"
	"github.com/annel0/session-replay/internal/replaystore"
)

// seedSession создаёт сессию с валидным воспроизводимым потоком:
// открывающий снапшот + инкрементальные события.
func seedSession(t *testing.T, store replaystore.ReplayStore, sessionID string, eventCount int) {
	t.Helper()

	err := store.StartSession(context.Background(), replaystore.SessionRecord{
		SessionID: sessionID,
		EntryURL:  "https://example.com/",
		StartedAt: time.Now().UTC(),
	})
	require.NoError(t, err)

	events := make([]replay.ReplayEvent, 0, eventCount)
	events = append(events, replay.ReplayEvent{
		Kind:      replay.KindFullSnapshot,
		Timestamp: 0,
		Payload:   json.RawMessage(`{"node":{}}`),
	})
	for i := 1; i < eventCount; i++ {
		events = append(events, replay.ReplayEvent{
			Kind:      replay.KindIncrementalSnapshot,
			Timestamp: int64(i) * 1000,
			Payload:   json.RawMessage(fmt.Sprintf(`{"source":2,"x":%d}`, i)),
		})
	}
	_, err = store.AppendEvents(context.Background(), sessionID, events)
	require.NoError(t, err)
}

func newTestService(store replaystore.ReplayStore, c cache.ReplayCache) *EventService {
	return NewEventService(store, c, time.Minute, 1200)
}

func TestPlaybackManager_CreateAndControl(t *testing.T) {
	store := replaystore.NewMemoryStore()
	seedSession(t, store, "sess-1", 5)

	pm := NewPlaybackManager(newTestService(store, nil), PlaybackManagerConfig{})
	defer pm.Shutdown()

	id, status, err := pm.Create(context.Background(), "sess-1", "viewer-1")
	require.NoError(t, err)
	require.NotEmpty(t, id)
	assert.Equal(t, replay.StateReady, status.State)
	assert.EqualValues(t, 4000, status.DurationMs)
	assert.Equal(t, 1, pm.Count())

	// Play/pause
	status, err = pm.PlayPause(id)
	require.NoError(t, err)
	assert.Equal(t, replay.StatePlaying, status.State)

	status, err = pm.PlayPause(id)
	require.NoError(t, err)
	assert.Equal(t, replay.StatePaused, status.State)

	// Перемотка всегда возобновляет движение
	status, err = pm.Seek(id, 2500)
	require.NoError(t, err)
	assert.Equal(t, replay.StatePlaying, status.State)
	assert.EqualValues(t, 2500, status.CurrentTimeMs)

	// Viewport меняет масштаб после пересчёта
	_, err = pm.SetViewport(id, 640, 360)
	require.NoError(t, err)
	assert.Eventually(t, func() bool {
		st, err := pm.Status(id)
		return err == nil && st.Scale == 0.5
	}, time.Second, 10*time.Millisecond)

	require.NoError(t, pm.Close(id))
	assert.Equal(t, 0, pm.Count())
	assert.ErrorIs(t, pm.Close(id), ErrPlaybackNotFound)
}

func TestPlaybackManager_RejectsBrokenStream(t *testing.T) {
	store := replaystore.NewMemoryStore()

	// Поток без открывающего снапшота
	err := store.StartSession(context.Background(), replaystore.SessionRecord{
		SessionID: "broken",
		StartedAt: time.Now().UTC(),
	})
	require.NoError(t, err)
	_, err = store.AppendEvents(context.Background(), "broken", []replay.ReplayEvent{
		{Kind: replay.KindIncrementalSnapshot, Timestamp: 0},
		{Kind: replay.KindIncrementalSnapshot, Timestamp: 100},
	})
	require.NoError(t, err)

	pm := NewPlaybackManager(newTestService(store, nil), PlaybackManagerConfig{})
	defer pm.Shutdown()

	_, _, err = pm.Create(context.Background(), "broken", "viewer-1")
	assert.ErrorIs(t, err, replay.ErrMissingSnapshot)
	assert.Equal(t, 0, pm.Count())

	_, _, err = pm.Create(context.Background(), "missing", "viewer-1")
	assert.ErrorIs(t, err, replaystore.ErrSessionNotFound)
}

func TestEventService_CacheReadThrough(t *testing.T) {
	store := replaystore.NewMemoryStore()
	memCache := cache.NewMemoryReplayCache()
	svc := newTestService(store, memCache)

	seedSession(t, store, "sess-c", 3)

	// Первая выборка — мимо кеша, вторая — из него
	events, err := svc.FetchEvents(context.Background(), "sess-c", 10, 0)
	require.NoError(t, err)
	require.Len(t, events, 3)

	_, err = svc.FetchEvents(context.Background(), "sess-c", 10, 0)
	require.NoError(t, err)

	metrics := memCache.GetMetrics()
	assert.EqualValues(t, 1, metrics.CacheHits)

	// Ingest сбрасывает страницы: следующая выборка видит хвост
	_, err = svc.Ingest(context.Background(), "sess-c", []replay.ReplayEvent{
		{Kind: replay.KindIncrementalSnapshot, Timestamp: 9000, Payload: json.RawMessage(`{}`)},
	})
	require.NoError(t, err)

	events, err = svc.FetchEvents(context.Background(), "sess-c", 10, 0)
	require.NoError(t, err)
	assert.Len(t, events, 4)
}

// newTestServer собирает REST сервер на in-memory зависимостях
func newTestServer(t *testing.T) (*RestServer, *replaystore.MemoryStore) {
	t.Helper()

	store := replaystore.NewMemoryStore()
	svc := newTestService(store, nil)
	pm := NewPlaybackManager(svc, PlaybackManagerConfig{})
	t.Cleanup(pm.Shutdown)

	repo, err := auth.NewMemoryUserRepo()
	require.NoError(t, err)

	rs := NewRestServer(Config{
		Port:      ":0",
		UserRepo:  repo,
		Events:    svc,
		Playbacks: pm,
	})
	return rs, store
}

func doJSON(t *testing.T, rs *RestServer, method, path, token string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	rs.Router().ServeHTTP(w, req)
	return w
}

func TestRestServer_TrackFlow(t *testing.T) {
	rs, _ := newTestServer(t)

	// Открытие сессии
	w := doJSON(t, rs, http.MethodPost, "/api/track/session/start", "", map[string]interface{}{
		"entry_url": "https://example.com/pricing",
	})
	require.Equal(t, http.StatusCreated, w.Code)

	var started struct {
		SessionID string `json:"session_id"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &started))
	require.NotEmpty(t, started.SessionID)

	// Первый батч событий
	w = doJSON(t, rs, http.MethodPost, "/api/track/replay", "", map[string]interface{}{
		"session_id": started.SessionID,
		"events": []map[string]interface{}{
			{"type": 2, "timestamp": 0, "data": map[string]interface{}{}},
			{"type": 3, "timestamp": 500, "data": map[string]interface{}{}},
		},
	})
	require.Equal(t, http.StatusOK, w.Code)

	var ingested struct {
		SequenceStart int64 `json:"sequence_start"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &ingested))
	assert.EqualValues(t, 0, ingested.SequenceStart)

	// Второй батч продолжает нумерацию
	w = doJSON(t, rs, http.MethodPost, "/api/track/replay", "", map[string]interface{}{
		"session_id": started.SessionID,
		"events": []map[string]interface{}{
			{"type": 3, "timestamp": 1000, "data": map[string]interface{}{}},
		},
	})
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &ingested))
	assert.EqualValues(t, 2, ingested.SequenceStart)

	// Выборка событий в порядке записи
	w = doJSON(t, rs, http.MethodGet, "/api/track/replay/"+started.SessionID, "", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var page struct {
		Count  int                  `json:"count"`
		Events []replay.ReplayEvent `json:"events"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &page))
	assert.Equal(t, 3, page.Count)
	assert.Equal(t, replay.KindFullSnapshot, page.Events[0].Kind)

	// Неизвестная сессия
	w = doJSON(t, rs, http.MethodGet, "/api/track/replay/no-such", "", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	// Завершение сессии
	w = doJSON(t, rs, http.MethodPost, "/api/track/session/"+started.SessionID+"/end", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestRestServer_PlaybackFlow(t *testing.T) {
	rs, store := newTestServer(t)
	seedSession(t, store, "sess-pb", 4)

	// Дашборд требует JWT
	w := doJSON(t, rs, http.MethodGet, "/api/sessions", "", nil)
	require.Equal(t, http.StatusUnauthorized, w.Code)

	// Логин дефолтным пользователем
	w = doJSON(t, rs, http.MethodPost, "/api/auth/login", "", map[string]string{
		"username": "test",
		"password": "test",
	})
	require.Equal(t, http.StatusOK, w.Code)

	var login LoginResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &login))
	require.True(t, login.Success)
	require.NotEmpty(t, login.Token)

	// Список сессий
	w = doJSON(t, rs, http.MethodGet, "/api/sessions", login.Token, nil)
	require.Equal(t, http.StatusOK, w.Code)

	// Открытие воспроизведения
	w = doJSON(t, rs, http.MethodPost, "/api/playbacks", login.Token, map[string]string{
		"session_id": "sess-pb",
	})
	require.Equal(t, http.StatusCreated, w.Code)

	var created struct {
		PlaybackID string        `json:"playback_id"`
		Status     replay.Status `json:"status"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))
	require.NotEmpty(t, created.PlaybackID)
	assert.Equal(t, replay.StateReady, created.Status.State)

	// Управление
	w = doJSON(t, rs, http.MethodPost, "/api/playbacks/"+created.PlaybackID+"/play-pause", login.Token, nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = doJSON(t, rs, http.MethodPost, "/api/playbacks/"+created.PlaybackID+"/seek", login.Token, map[string]int64{
		"time_ms": 1500,
	})
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Status replay.Status `json:"status"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.EqualValues(t, 1500, resp.Status.CurrentTimeMs)
	assert.Equal(t, replay.StatePlaying, resp.Status.State)

	// Закрытие
	w = doJSON(t, rs, http.MethodDelete, "/api/playbacks/"+created.PlaybackID, login.Token, nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = doJSON(t, rs, http.MethodGet, "/api/playbacks/"+created.PlaybackID, login.Token, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestRestServer_PlaybackUnprocessableStream(t *testing.T) {
	rs, store := newTestServer(t)

	// Одно событие — поток не воспроизводим
	err := store.StartSession(context.Background(), replaystore.SessionRecord{
		SessionID: "short",
		StartedAt: time.Now().UTC(),
	})
	require.NoError(t, err)
	_, err = store.AppendEvents(context.Background(), "short", []replay.ReplayEvent{
		{Kind: replay.KindFullSnapshot, Timestamp: 0, Payload: json.RawMessage(`{}`)},
	})
	require.NoError(t, err)

	w := doJSON(t, rs, http.MethodPost, "/api/auth/login", "", map[string]string{
		"username": "test", "password": "test",
	})
	require.Equal(t, http.StatusOK, w.Code)
	var login LoginResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &login))

	w = doJSON(t, rs, http.MethodPost, "/api/playbacks", login.Token, map[string]string{
		"session_id": "short",
	})
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
}
