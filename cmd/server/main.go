package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/annel0/rift-server/internal/api"
	"github.com/annel0/rift-server/internal/auth"
	"github.com/annel0/rift-server/internal/config"
	"github.com/annel0/rift-server/internal/eventbus"
	"github.com/annel0/rift-server/internal/game"
	"github.com/annel0/rift-server/internal/logging"
	"github.com/annel0/rift-server/internal/network"
	"github.com/annel0/rift-server/internal/observability"
	"github.com/annel0/rift-server/internal/storage"
	"github.com/annel0/rift-server/internal/world"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	configPath := flag.String("config", "", "путь к YAML конфигурации (или ENV RIFT_CONFIG)")
	flag.Parse()

	if err := logging.InitDefaultLogger("server"); err != nil {
		log.Fatalf("❌ Ошибка инициализации логирования: %v", err)
	}
	defer logging.CloseDefaultLogger()

	logging.Info("🎮 Запуск Rift Server: граф регионов, переходы, сохранения...")

	// === КОНФИГУРАЦИЯ ===
	cfg, err := config.Load(*configPath)
	if err != nil {
		logging.Error("❌ Чтение конфигурации: %v", err)
		log.Fatalf("❌ Чтение конфигурации: %v", err)
	}
	if cfg == nil {
		cfg = &config.Config{} // дефолты через геттеры
	}

	tcpAddr := fmt.Sprintf(":%d", cfg.Server.GetTCPPort())
	kcpAddr := fmt.Sprintf(":%d", cfg.Server.GetUDPPort())
	restAddr := fmt.Sprintf(":%d", cfg.Server.GetRESTPort())
	metricsAddr := fmt.Sprintf(":%d", cfg.Server.GetMetricsPort())

	logging.Info("📡 Конфигурация: TCP=%s, KCP=%s, REST=%s, метрики=%s", tcpAddr, kcpAddr, restAddr, metricsAddr)

	// === ТЕЛЕМЕТРИЯ ===
	otelShutdown, err := observability.InitTelemetry(context.Background(), "rift-server")
	if err != nil {
		logging.Warn("⚠️ OpenTelemetry недоступен: %v", err)
		otelShutdown = func(context.Context) error { return nil }
	}

	// === ШИНА СОБЫТИЙ ===
	var bus eventbus.EventBus
	if url := cfg.EventBus.URL; url != "" {
		retention := time.Duration(cfg.EventBus.Retention) * time.Hour
		if retention <= 0 {
			retention = 24 * time.Hour
		}
		jsBus, err := eventbus.NewJetStreamBus(url, cfg.EventBus.Stream, retention)
		if err != nil {
			logging.Error("❌ Подключение JetStream: %v", err)
			log.Fatalf("❌ Подключение JetStream: %v", err)
		}
		bus = jsBus
		logging.Info("🔗 Шина событий: NATS JetStream (%s)", url)
	} else {
		bus = eventbus.NewMemoryBus(1024)
		logging.Info("🔗 Шина событий: in-memory")
	}
	eventbus.Init(bus)

	// === ХРАНИЛИЩЕ СОХРАНЕНИЙ ===
	store, err := storage.Open(storage.Options{
		Backend:    cfg.Storage.GetBackend(),
		BadgerPath: cfg.Storage.GetBadgerPath(),
		RedisAddr:  cfg.Storage.GetRedisAddr(),
		MongoURI:   cfg.Storage.GetMongoURI(),
		MariaDSN:   cfg.Storage.GetMariaDSN(),
	})
	if err != nil {
		logging.Error("❌ Открытие хранилища %s: %v", cfg.Storage.GetBackend(), err)
		log.Fatalf("❌ Открытие хранилища: %v", err)
	}
	logging.Info("💾 Хранилище сохранений: %s", cfg.Storage.GetBackend())

	// === МЕТРИКИ ДВИЖКА ===
	metrics := game.NewEngineMetrics()
	if err := metrics.WatchBus(bus); err != nil {
		logging.Warn("⚠️ Метрики не подписались на шину: %v", err)
	}

	// === УЧЁТНЫЕ ЗАПИСИ И ТОКЕНЫ ===
	userRepo, err := api.BuildUserRepository(api.RepoConfig{
		Backend: cfg.Auth.Accounts.GetBackend(),
		Maria: auth.MariaConfig{
			Host:     cfg.Auth.Accounts.GetMariaHost(),
			Port:     cfg.Auth.Accounts.GetMariaPort(),
			Database: cfg.Auth.Accounts.MariaDatabase,
			Username: cfg.Auth.Accounts.MariaUsername,
			Password: cfg.Auth.Accounts.MariaPassword,
		},
		Mongo: auth.MongoConfig{URI: cfg.Auth.Accounts.GetMongoURI()},
	})
	if err != nil {
		logging.Error("❌ Репозиторий учётных записей: %v", err)
		log.Fatalf("❌ Репозиторий учётных записей: %v", err)
	}

	rawSecret := cfg.Auth.GetJWTSecret()
	secret, err := auth.DecodeSecret(rawSecret)
	if err != nil {
		// Секрет не base64: используем сырые байты, годится для разработки
		logging.Warn("⚠️ JWT секрет не в base64 (%v), используются сырые байты", err)
		secret = []byte(rawSecret)
	}
	authn := auth.NewAuthenticator(userRepo, secret)
	authn.SetTokenExpiry(time.Duration(cfg.Auth.GetTokenTTLMin()) * time.Minute)

	// === ДВИЖОК И СЕТЕВОЙ СЛОЙ ===
	server := network.NewServer(tcpAddr, kcpAddr)
	screen := network.NewRemoteScreen(server)

	svc, err := game.NewRiftService(store, screen, game.Options{
		Scope:     world.ParseScope(cfg.World.GetScope()),
		WorldSeed: cfg.World.GetSeed(),
		Generation: world.GenerationConfig{
			HubInterval:      cfg.World.GetHubInterval(),
			HubPadMin:        cfg.World.HubPadMin,
			HubPadMax:        cfg.World.HubPadMax,
			SpurChance:       cfg.World.SpurChance,
			HubCorridorBound: cfg.World.HubCorridorBound,
			CorridorChance:   cfg.World.CorridorChance,
		},
		PadDebounce:   time.Duration(cfg.Transition.GetPadDebounceMs()) * time.Millisecond,
		FadeInTimeout: time.Duration(cfg.Transition.GetFadeInTimeoutSec()) * time.Second,
		Metrics:       metrics,
	})
	if err != nil {
		logging.Error("❌ Создание движка регионов: %v", err)
		log.Fatalf("❌ Создание движка регионов: %v", err)
	}
	server.SetGame(svc)
	server.SetTokenValidator(authn.PlayerValidator())

	svc.Start()
	if err := server.Start(); err != nil {
		logging.Error("❌ Запуск игрового сервера: %v", err)
		log.Fatalf("❌ Запуск игрового сервера: %v", err)
	}

	// === REST API ===
	rest := api.NewRestServer(api.Config{
		Port:          restAddr,
		Authenticator: authn,
		UserRepo:      userRepo,
		Game:          svc,
	})
	if err := rest.Start(); err != nil {
		logging.Error("❌ Запуск REST API: %v", err)
		log.Fatalf("❌ Запуск REST API: %v", err)
	}

	// Отдельный порт для скрейпа Prometheus
	metricsSrv := &http.Server{Addr: metricsAddr, Handler: promhttp.Handler()}
	go func() {
		if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logging.Error("❌ Сервер метрик: %v", err)
		}
	}()

	logging.Info("✅ Все сервисы запущены и готовы принимать соединения")
	logging.Info("   🎮 Игровой трафик: TCP %s, KCP %s", tcpAddr, kcpAddr)
	logging.Info("   🌐 REST API: http://localhost%s", restAddr)
	logging.Info("   📈 Метрики: http://localhost%s/metrics", metricsAddr)
	logging.Info("   ❤️  Health check: http://localhost%s/health", restAddr)
	logging.Info("💡 Примеры использования REST API:")
	logging.Info("   curl http://localhost%s/health", restAddr)
	logging.Info("   curl -X POST http://localhost%s/api/auth/login -H 'Content-Type: application/json' -d '{\"username\":\"admin\",\"password\":\"admin\"}'", restAddr)

	// Ждем сигнала для завершения
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logging.Info("📡 Получен сигнал %v, завершение работы...", sig)

	// === GRACEFUL SHUTDOWN ===
	// Сначала сетевой слой: отключение игроков сохраняет их сессии,
	// пока движок ещё жив.
	if err := server.Stop(); err != nil {
		logging.Error("❌ Остановка игрового сервера: %v", err)
	}
	svc.Stop()

	if err := rest.Stop(); err != nil {
		logging.Error("❌ Остановка REST API: %v", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
		logging.Error("❌ Остановка сервера метрик: %v", err)
	}

	metrics.Close()
	if closer, ok := bus.(interface{ Close() }); ok {
		closer.Close()
	}
	api.CloseRepository(userRepo)
	if err := store.Close(); err != nil {
		logging.Error("❌ Закрытие хранилища: %v", err)
	}
	if err := otelShutdown(shutdownCtx); err != nil {
		logging.Error("❌ Остановка телеметрии: %v", err)
	}

	logging.Info("👋 Сервер успешно остановлен")
}
