package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/annel0/session-replay/internal/api"
	"github.com/annel0/session-replay/internal/config"
	"github.com/annel0/session-replay/internal/eventbus"
	"github.com/annel0/session-replay/internal/logging"
	"github.com/annel0/session-replay/internal/observability"
)

func main() {
	configPath := flag.String("config", "", "путь к YAML конфигурации (или ENV REPLAY_CONFIG)")
	flag.Parse()

	// Инициализируем систему логирования
	if err := logging.InitDefaultLogger("server"); err != nil {
		log.Fatalf("❌ Ошибка инициализации логирования: %v", err)
	}
	defer logging.CloseDefaultLogger()

	logging.Info("🎬 Запуск Session Replay Server...")

	// === КОНФИГУРАЦИЯ ===
	cfg, err := config.Load(*configPath)
	if err != nil {
		logging.Error("❌ Ошибка чтения конфигурации: %v", err)
		log.Fatalf("❌ Ошибка чтения конфигурации: %v", err)
	}
	if cfg == nil {
		logging.Warn("Конфигурация не задана, используются значения по умолчанию")
		cfg = &config.Config{}
	}

	restPort := cfg.Server.GetRESTPort()
	metricsPort := cfg.Server.GetMetricsPort()
	logging.Info("📡 Конфигурация: REST=:%d, metrics=:%d, storage=%s", restPort, metricsPort, storageName(cfg))

	// === OBSERVABILITY ===
	ctx := context.Background()
	shutdownTelemetry, err := observability.InitTelemetry(ctx, "session-replay")
	if err != nil {
		logging.Warn("⚠️ OpenTelemetry не инициализирован: %v", err)
		shutdownTelemetry = nil
	}

	// === ИНТЕГРАЦИЯ ===
	integration, err := api.NewServerIntegration(cfg)
	if err != nil {
		logging.Error("❌ Ошибка сборки сервиса: %v", err)
		log.Fatalf("❌ Ошибка сборки сервиса: %v", err)
	}

	// Экспорт метрик шины событий и отладочный листенер
	var busMetrics *eventbus.MetricsExporter
	if bus := eventbus.Global(); bus != nil {
		if err := eventbus.StartLoggingListener(bus); err != nil {
			logging.Warn("Не удалось запустить LoggingListener: %v", err)
		}
		busMetrics = eventbus.NewMetricsExporter(bus)
		busMetrics.StartHTTP(fmt.Sprintf(":%d", metricsPort))
	}

	// Запускаем REST API
	if err := integration.Start(); err != nil {
		logging.Error("❌ Ошибка запуска REST API: %v", err)
		log.Fatalf("❌ Ошибка запуска REST API: %v", err)
	}

	logging.Info("✅ Сервис запущен и принимает запросы")
	logging.Info("   🌐 REST API: http://localhost:%d", restPort)
	logging.Info("   📈 Метрики: http://localhost:%d/metrics", metricsPort)
	logging.Info("   ❤️  Health check: http://localhost:%d/health", restPort)

	logging.Info("💡 Примеры использования:")
	logging.Info("   curl http://localhost:%d/health", restPort)
	logging.Info("   curl -X POST http://localhost:%d/api/track/session/start -H 'Content-Type: application/json' -d '{\"entry_url\":\"https://example.com\"}'", restPort)

	// Ждем сигнала для завершения
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigCh
	logging.Info("📡 Получен сигнал %v, завершение работы...", sig)

	// === GRACEFUL SHUTDOWN ===
	if err := integration.Stop(); err != nil {
		logging.Error("❌ Ошибка остановки REST API: %v", err)
	}
	if busMetrics != nil {
		busMetrics.Stop()
	}
	if shutdownTelemetry != nil {
		if err := shutdownTelemetry(ctx); err != nil {
			logging.Error("❌ Ошибка остановки телеметрии: %v", err)
		}
	}

	logging.Info("👋 Сервис успешно остановлен")
}

func storageName(cfg *config.Config) string {
	if cfg.Storage.Backend == "" {
		return "memory"
	}
	return cfg.Storage.Backend
}
