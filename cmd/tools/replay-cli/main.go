package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/annel0/session-replay/internal/replay"
)

const defaultServerAddr = "http://localhost:8090"

func main() {
	var (
		serverAddr = flag.String("server", defaultServerAddr, "Адрес REST API")
		command    = flag.String("cmd", "sessions", "Команда: sessions, events, validate, stats")
		sessionID  = flag.String("session", "", "ID сессии (для events/validate)")
		username   = flag.String("user", "", "Имя пользователя дашборда")
		password   = flag.String("password", "", "Пароль")
		limit      = flag.Int("limit", 100, "Максимум записей")
		offset     = flag.Int("offset", 0, "Смещение выборки")
	)
	flag.Parse()

	cli := &client{
		base: *serverAddr,
		http: &http.Client{Timeout: 30 * time.Second},
	}

	switch *command {
	case "sessions":
		if err := cli.login(*username, *password); err != nil {
			log.Fatalf("❌ Авторизация не удалась: %v", err)
		}
		if err := cli.listSessions(*limit, *offset); err != nil {
			log.Fatalf("❌ Sessions failed: %v", err)
		}

	case "events":
		if *sessionID == "" {
			log.Fatal("❌ Укажите -session")
		}
		if err := cli.dumpEvents(*sessionID, *limit, *offset); err != nil {
			log.Fatalf("❌ Events failed: %v", err)
		}

	case "validate":
		if *sessionID == "" {
			log.Fatal("❌ Укажите -session")
		}
		if err := cli.validateStream(*sessionID); err != nil {
			log.Fatalf("❌ Validate failed: %v", err)
		}

	case "stats":
		if err := cli.login(*username, *password); err != nil {
			log.Fatalf("❌ Авторизация не удалась: %v", err)
		}
		if err := cli.showStats(); err != nil {
			log.Fatalf("❌ Stats failed: %v", err)
		}

	default:
		fmt.Printf("❌ Неизвестная команда: %s\n", *command)
		fmt.Println("Доступные команды: sessions, events, validate, stats")
		os.Exit(1)
	}
}

type client struct {
	base  string
	http  *http.Client
	token string
}

// login получает JWT для защищённых эндпоинтов
func (c *client) login(username, password string) error {
	if username == "" {
		return fmt.Errorf("укажите -user и -password")
	}

	body, _ := json.Marshal(map[string]string{
		"username": username,
		"password": password,
	})
	resp, err := c.http.Post(c.base+"/api/auth/login", "application/json", bytes.NewReader(body))
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	var result struct {
		Success bool   `json:"success"`
		Token   string `json:"token"`
		Message string `json:"message"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return err
	}
	if !result.Success {
		return fmt.Errorf("%s", result.Message)
	}
	c.token = result.Token
	return nil
}

func (c *client) get(path string, out interface{}) error {
	req, err := http.NewRequest(http.MethodGet, c.base+path, nil)
	if err != nil {
		return err
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("сервер вернул статус %d", resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// listSessions выводит страницу сессий, новые первыми
func (c *client) listSessions(limit, offset int) error {
	var result struct {
		Data struct {
			Sessions []struct {
				SessionID         string     `json:"session_id"`
				EntryURL          string     `json:"entry_url"`
				StartedAt         time.Time  `json:"started_at"`
				EndedAt           *time.Time `json:"ended_at"`
				ReplayEventsCount int64      `json:"replay_events_count"`
			} `json:"sessions"`
			Total int64 `json:"total"`
		} `json:"data"`
	}
	if err := c.get(fmt.Sprintf("/api/sessions?limit=%d&offset=%d", limit, offset), &result); err != nil {
		return err
	}

	fmt.Printf("📋 Сессий всего: %d\n\n", result.Data.Total)
	for _, s := range result.Data.Sessions {
		state := "recording"
		if s.EndedAt != nil {
			state = "ended"
		}
		fmt.Printf("[%s] %-10s %6d событий  %s\n",
			s.StartedAt.Format("2006-01-02 15:04:05"), state, s.ReplayEventsCount, s.SessionID)
		if s.EntryURL != "" {
			fmt.Printf("  URL: %s\n", s.EntryURL)
		}
	}
	return nil
}

type eventsPage struct {
	Count  int                  `json:"count"`
	Events []replay.ReplayEvent `json:"events"`
}

// dumpEvents выводит события сессии в порядке записи
func (c *client) dumpEvents(sessionID string, limit, offset int) error {
	var page eventsPage
	path := fmt.Sprintf("/api/track/replay/%s?limit=%d&offset=%d", sessionID, limit, offset)
	if err := c.get(path, &page); err != nil {
		return err
	}

	fmt.Printf("🎬 Сессия %s: %d событий (offset=%d)\n\n", sessionID, page.Count, offset)
	for i, ev := range page.Events {
		fmt.Printf("[%6d] t=%-8d type=%d size=%dB\n", offset+i, ev.Timestamp, ev.Kind, len(ev.Payload))
	}
	return nil
}

// validateStream выбирает поток и проверяет его воспроизводимость
func (c *client) validateStream(sessionID string) error {
	all := make([]replay.ReplayEvent, 0, 1024)
	offset := 0
	for {
		var page eventsPage
		path := fmt.Sprintf("/api/track/replay/%s?offset=%d", sessionID, offset)
		if err := c.get(path, &page); err != nil {
			return err
		}
		if page.Count == 0 {
			break
		}
		all = append(all, page.Events...)
		offset += page.Count
	}

	fmt.Printf("🔍 Сессия %s: %d событий\n", sessionID, len(all))
	if err := replay.Validate(all); err != nil {
		fmt.Printf("❌ Поток не воспроизводим: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("✅ Поток воспроизводим, длительность %s\n", replay.FormatClock(replay.Duration(all)))
	return nil
}

// showStats выводит статистику сервиса
func (c *client) showStats() error {
	var result struct {
		Data map[string]interface{} `json:"data"`
	}
	if err := c.get("/api/stats", &result); err != nil {
		return err
	}

	pretty, err := json.MarshalIndent(result.Data, "", "  ")
	if err != nil {
		return err
	}
	fmt.Printf("📊 Статистика сервиса:\n%s\n", pretty)
	return nil
}
