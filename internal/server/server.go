// Пакет server — HTTP-сервер certstore с graceful shutdown.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/bigkaa/certstore/internal/api/handlers"
	"github.com/bigkaa/certstore/internal/api/middleware"
	"github.com/bigkaa/certstore/internal/config"
)

// Handlers — набор обработчиков, регистрируемых сервером.
type Handlers struct {
	Health     *handlers.HealthHandler
	Cleanup    *handlers.CleanupHandler
	SignedURLs *handlers.SignedURLHandler
}

// Server — HTTP-сервер certstore.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
	cfg        *config.Config
}

// New создаёт HTTP-сервер с настроенными routes и middleware.
func New(cfg *config.Config, logger *slog.Logger, h Handlers, jwtAuth *middleware.JWTAuth) *Server {
	srv := &http.Server{
		Addr:        fmt.Sprintf(":%d", cfg.Port),
		Handler:     NewRouter(logger, h, jwtAuth),
		ReadTimeout: 30 * time.Second,
		// Скачивание крупных файлов по signed URL
		WriteTimeout: 5 * time.Minute,
		IdleTimeout:  120 * time.Second,
	}

	return &Server{
		httpServer: srv,
		logger:     logger,
		cfg:        cfg,
	}
}

// NewRouter собирает маршруты.
//
// Аутентификация по маршрутам:
//   - health, metrics, скачивание по токену — без аутентификации
//   - cron endpoint — Bearer CRON_SECRET (проверяет обработчик)
//   - ручная очистка — access token + администратор (проверяет обработчик)
//   - выдача и диагностика signed URL — JWTAuth middleware
func NewRouter(logger *slog.Logger, h Handlers, jwtAuth *middleware.JWTAuth) http.Handler {
	router := chi.NewRouter()

	router.Use(middleware.MetricsMiddleware())
	router.Use(middleware.RequestLogger(logger))

	router.Get("/health/live", h.Health.HealthLive)
	router.Get("/health/ready", h.Health.HealthReady)
	router.Get("/metrics", h.Health.GetMetrics)

	router.Route("/api", func(r chi.Router) {
		r.Get("/cron/cleanup-signed-urls", h.Cleanup.CronInfo)
		r.Post("/cron/cleanup-signed-urls", h.Cleanup.CronCleanup)
		r.Post("/storage/cleanup", h.Cleanup.ManualCleanup)

		r.Get("/storage/signed/{token}", h.SignedURLs.Download)

		r.Group(func(r chi.Router) {
			r.Use(jwtAuth.Middleware())
			r.Post("/storage/signed-urls", h.SignedURLs.Issue)
			r.Get("/storage/signed-urls/{token}", h.SignedURLs.Info)
		})
	})

	return router
}

// Run запускает сервер и ожидает сигнала завершения (SIGINT, SIGTERM).
// При получении сигнала выполняется graceful shutdown.
func (s *Server) Run() error {
	errCh := make(chan error, 1)

	go func() {
		s.logger.Info("HTTP-сервер запущен",
			slog.String("addr", s.httpServer.Addr),
		)

		err := s.httpServer.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		s.logger.Info("Получен сигнал завершения", slog.String("signal", sig.String()))
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("ошибка HTTP-сервера: %w", err)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()

	s.logger.Info("Выполняется graceful shutdown...")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("ошибка при graceful shutdown: %w", err)
	}

	s.logger.Info("HTTP-сервер остановлен")
	return nil
}
