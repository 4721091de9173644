package tests

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/annel0/session-replay/internal/api"
	"github.com/annel0/session-replay/internal/auth"
	"github.com/annel0/session-replay/internal/eventbus"
	"github.com/annel0/session-replay/internal/replay"
	"github.com/annel0/session-replay/internal/replaystore"
)

// buildService собирает сервис на in-memory зависимостях
func buildService(t *testing.T) *api.RestServer {
	t.Helper()

	store := replaystore.NewMemoryStore()
	events := api.NewEventService(store, nil, time.Minute, 1200)
	playbacks := api.NewPlaybackManager(events, api.PlaybackManagerConfig{})
	t.Cleanup(playbacks.Shutdown)

	repo, err := auth.NewMemoryUserRepo()
	require.NoError(t, err)

	return api.NewRestServer(api.Config{
		Port:      ":0",
		UserRepo:  repo,
		Events:    events,
		Playbacks: playbacks,
	})
}

func request(t *testing.T, rs *api.RestServer, method, path, token string, body interface{}) *httptest.ResponseRecorder {
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

// TestReplayLifecycle проходит полный путь: запись сессии скриптом,
// завершение, логин аналитика и воспроизведение на сервере.
func TestReplayLifecycle(t *testing.T) {
	eventbus.Init(eventbus.NewMemoryBus(256))
	rs := buildService(t)

	// Счётчик событий replay.ingested на шине
	var ingestedCount int64
	sub, err := eventbus.Subscribe(context.Background(),
		eventbus.Filter{Types: []string{eventbus.EventReplayIngested}},
		func(ctx context.Context, ev *eventbus.Envelope) {
			atomic.AddInt64(&ingestedCount, 1)
		})
	require.NoError(t, err)
	defer sub.Unsubscribe()

	// 1. Записывающий скрипт открывает сессию
	w := request(t, rs, http.MethodPost, "/api/track/session/start", "", map[string]interface{}{
		"entry_url":  "https://shop.example.com/checkout",
		"user_agent": "Mozilla/5.0",
	})
	require.Equal(t, http.StatusCreated, w.Code)

	var started struct {
		SessionID string `json:"session_id"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &started))

	// 2. Шлёт батчи: открывающий снапшот, Meta с размерами окна, инкременты
	batch := []map[string]interface{}{
		{"type": 2, "timestamp": 0, "data": map[string]interface{}{"node": map[string]interface{}{}}},
		{"type": 4, "timestamp": 10, "data": map[string]interface{}{"width": 1920, "height": 1080}},
	}
	for i := 0; i < 20; i++ {
		batch = append(batch, map[string]interface{}{
			"type":      3,
			"timestamp": 100 * (i + 1),
			"data":      map[string]interface{}{"source": 2, "x": i},
		})
	}
	w = request(t, rs, http.MethodPost, "/api/track/replay", "", map[string]interface{}{
		"session_id": started.SessionID,
		"events":     batch,
	})
	require.Equal(t, http.StatusOK, w.Code)

	// 3. Завершает сессию
	w = request(t, rs, http.MethodPost, "/api/track/session/"+started.SessionID+"/end", "", nil)
	require.Equal(t, http.StatusOK, w.Code)

	// Событие ingest дошло до шины
	assert.Eventually(t, func() bool {
		return atomic.LoadInt64(&ingestedCount) == 1
	}, time.Second, 10*time.Millisecond)

	// 4. Аналитик логинится и видит сессию в списке
	w = request(t, rs, http.MethodPost, "/api/auth/login", "", map[string]string{
		"username": "admin", "password": "admin",
	})
	require.Equal(t, http.StatusOK, w.Code)

	var login struct {
		Token string `json:"token"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &login))
	require.NotEmpty(t, login.Token)

	w = request(t, rs, http.MethodGet, "/api/sessions", login.Token, nil)
	require.Equal(t, http.StatusOK, w.Code)

	var list struct {
		Data struct {
			Total int64 `json:"total"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	assert.EqualValues(t, 1, list.Data.Total)

	// 5. Открывает воспроизведение: размер поверхности из Meta события
	w = request(t, rs, http.MethodPost, "/api/playbacks", login.Token, map[string]string{
		"session_id": started.SessionID,
	})
	require.Equal(t, http.StatusCreated, w.Code)

	var created struct {
		PlaybackID string        `json:"playback_id"`
		Status     replay.Status `json:"status"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))
	assert.Equal(t, replay.StateReady, created.Status.State)
	assert.EqualValues(t, 2000, created.Status.DurationMs)
	assert.Equal(t, "0:02", created.Status.Duration)

	// 6. Вписывает воспроизведение в свой viewport (960×540 при записи 1920×1080)
	w = request(t, rs, http.MethodPost, "/api/playbacks/"+created.PlaybackID+"/viewport", login.Token, map[string]int{
		"width": 960, "height": 540,
	})
	require.Equal(t, http.StatusOK, w.Code)

	assert.Eventually(t, func() bool {
		w := request(t, rs, http.MethodGet, "/api/playbacks/"+created.PlaybackID, login.Token, nil)
		var resp struct {
			Status replay.Status `json:"status"`
		}
		if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
			return false
		}
		return resp.Status.Scale == 0.5
	}, time.Second, 10*time.Millisecond)

	// 7. Закрывает воспроизведение
	w = request(t, rs, http.MethodDelete, "/api/playbacks/"+created.PlaybackID, login.Token, nil)
	require.Equal(t, http.StatusOK, w.Code)
}

// TestIngestRejectsMalformedEvents проверяет отказ на событии без типа
func TestIngestRejectsMalformedEvents(t *testing.T) {
	eventbus.Init(eventbus.NewMemoryBus(256))
	rs := buildService(t)

	w := request(t, rs, http.MethodPost, "/api/track/session/start", "", map[string]interface{}{
		"entry_url": "https://example.com/",
	})
	require.Equal(t, http.StatusCreated, w.Code)

	var started struct {
		SessionID string `json:"session_id"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &started))

	w = request(t, rs, http.MethodPost, "/api/track/replay", "", map[string]interface{}{
		"session_id": started.SessionID,
		"events": []map[string]interface{}{
			{"timestamp": 100},
		},
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

// TestFetchPagination проверяет постраничную выборку в порядке записи
func TestFetchPagination(t *testing.T) {
	eventbus.Init(eventbus.NewMemoryBus(256))
	rs := buildService(t)

	w := request(t, rs, http.MethodPost, "/api/track/session/start", "", map[string]interface{}{
		"entry_url": "https://example.com/",
	})
	require.Equal(t, http.StatusCreated, w.Code)
	var started struct {
		SessionID string `json:"session_id"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &started))

	events := []map[string]interface{}{
		{"type": 2, "timestamp": 0, "data": map[string]interface{}{}},
	}
	for i := 1; i < 30; i++ {
		events = append(events, map[string]interface{}{
			"type": 3, "timestamp": i * 50, "data": map[string]interface{}{},
		})
	}
	w = request(t, rs, http.MethodPost, "/api/track/replay", "", map[string]interface{}{
		"session_id": started.SessionID,
		"events":     events,
	})
	require.Equal(t, http.StatusOK, w.Code)

	// Страница из середины потока
	path := fmt.Sprintf("/api/track/replay/%s?limit=10&offset=10", started.SessionID)
	w = request(t, rs, http.MethodGet, path, "", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var page struct {
		Count  int                  `json:"count"`
		Events []replay.ReplayEvent `json:"events"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &page))
	require.Equal(t, 10, page.Count)
	assert.EqualValues(t, 500, page.Events[0].Timestamp)
}
