// Точка входа certstore — слой доступа к хранилищу файлов сертификатов.
// Загружает конфигурацию, применяет миграции, подключается к PostgreSQL,
// создаёт бэкенд хранилища, сервисы signed URL и пользователей,
// запускает фоновую очистку и topologymetrics, HTTP-сервер с graceful shutdown.
package main

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/jackc/pgx/v5/stdlib"

	"github.com/bigkaa/certstore/internal/api/handlers"
	"github.com/bigkaa/certstore/internal/api/middleware"
	"github.com/bigkaa/certstore/internal/config"
	"github.com/bigkaa/certstore/internal/database"
	"github.com/bigkaa/certstore/internal/repository"
	"github.com/bigkaa/certstore/internal/server"
	"github.com/bigkaa/certstore/internal/service"
	"github.com/bigkaa/certstore/internal/storage/provider"
)

func main() {
	// 1. Загрузка конфигурации из переменных окружения
	cfg, err := config.Load()
	if err != nil {
		slog.Error("Ошибка загрузки конфигурации", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// 2. Настройка логирования
	logger := config.SetupLogger(cfg)
	logger.Info("certstore запускается",
		slog.String("version", config.Version),
		slog.Int("port", cfg.Port),
		slog.String("storage_provider", cfg.StorageProvider),
		slog.String("cleanup_strategy", string(cfg.CleanupStrategy)),
	)

	policy := cfg.CleanupStrategy.Policy()
	if policy.SweepsScheduled() && cfg.CronSecret == "" {
		logger.Warn("CRON_SECRET не задан, cron endpoint будет отклонять все запросы")
	}
	if cfg.AdminEmail == "" {
		logger.Warn("ADMIN_EMAIL не задан, ручная очистка и диагностика недоступны")
	}

	// 3. Хранилище. Ошибка конфигурации провайдера фатальна
	ctx := context.Background()
	store, err := provider.New(ctx, cfg, logger)
	if err != nil {
		logger.Error("Ошибка инициализации хранилища", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer store.Close()

	// 4. Применение миграций БД
	logger.Info("Применение миграций БД...")
	if err := database.Migrate(cfg, logger); err != nil {
		logger.Error("Ошибка миграций БД", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// 5. Подключение к PostgreSQL (pgxpool)
	pool, err := database.Connect(ctx, cfg, logger)
	if err != nil {
		logger.Error("Ошибка подключения к PostgreSQL", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer pool.Close()

	// Адаптер pgxpool → *sql.DB для topologymetrics (connection pool mode)
	pgDB := stdlib.OpenDBFromPool(pool)
	defer pgDB.Close()

	// 6. Repositories
	signedURLRepo := repository.NewSignedURLRepository(pool)
	userRepo := repository.NewUserRepository(pool)

	// 7. Services
	signedURLSvc := service.NewSignedURLService(signedURLRepo, store, service.SignedURLConfig{
		BaseURL:      cfg.PublicBaseURL,
		DefaultTTL:   cfg.SignedURLDefaultTTL,
		StoreTimeout: cfg.SignedURLStoreTimeout,
		Policy:       policy,
	}, logger)
	userSvc := service.NewUserService(userRepo, cfg.AdminEmail, cfg.UserCacheSize, cfg.UserCacheTTL, logger)

	// 8. Проверка access token
	jwtAuth, err := middleware.NewJWTAuth(middleware.JWTConfig{
		Secret:  cfg.JWTSecret,
		JWKSURL: cfg.JWTJWKSURL,
		Issuer:  cfg.JWTIssuer,
		Leeway:  cfg.JWTLeeway,
	}, logger)
	if err != nil {
		logger.Error("Ошибка создания JWT middleware", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// 9. Фоновая очистка (только cron/both с интервалом)
	var sweeper *service.Sweeper
	if policy.SweepsScheduled() && cfg.CleanupInterval > 0 {
		sweeper = service.NewSweeper(signedURLSvc, cfg.CleanupInterval, logger)
		sweeper.Start(ctx)
	}

	// 10. topologymetrics — мониторинг зависимостей
	dephealthSvc, dephealthErr := service.NewDephealthService(service.DephealthConfig{
		ServiceID:     "certstore",
		Group:         cfg.DephealthGroup,
		PgConnURL:     cfg.DatabaseURL(),
		JWKSURL:       cfg.JWTJWKSURL,
		CheckInterval: cfg.DephealthCheckInterval,
	}, pgDB, logger)
	if dephealthErr != nil {
		logger.Warn("topologymetrics недоступен, запуск без мониторинга зависимостей",
			slog.String("error", dephealthErr.Error()),
		)
		dephealthSvc = nil
	} else if startErr := dephealthSvc.Start(ctx); startErr != nil {
		logger.Warn("Ошибка запуска topologymetrics", slog.String("error", startErr.Error()))
	}

	// 11. Handlers
	var jwksChecker handlers.ReadinessChecker
	if cfg.JWTJWKSURL != "" {
		jwksChecker = middleware.NewJWKSReadinessChecker(cfg.JWTJWKSURL, 5*time.Second)
	}
	h := server.Handlers{
		Health: handlers.NewHealthHandler(database.NewReadinessChecker(pool), jwksChecker, store.Provider()),
		Cleanup: handlers.NewCleanupHandler(signedURLSvc, userSvc, jwtAuth, handlers.CleanupConfig{
			CronSecret:   cfg.CronSecret,
			Strategy:     cfg.CleanupStrategy,
			CronSchedule: cfg.CleanupCronSchedule,
		}, logger),
		SignedURLs: handlers.NewSignedURLHandler(signedURLSvc, store, userSvc, logger),
	}

	// 12. HTTP-сервер
	srv := server.New(cfg, logger, h, jwtAuth)
	if err := srv.Run(); err != nil {
		logger.Error("Ошибка сервера", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// 13. Остановка фоновых задач
	logger.Info("Останавливаем фоновые задачи...")
	if sweeper != nil {
		sweeper.Stop()
	}
	if dephealthSvc != nil {
		dephealthSvc.Stop()
	}

	logger.Info("certstore остановлен")
}
