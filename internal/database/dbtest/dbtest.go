// Пакет dbtest — запуск PostgreSQL в testcontainers для интеграционных тестов.
// Тесты пропускаются, если не установлена TEST_INTEGRATION.
package dbtest

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/bigkaa/certstore/internal/config"
)

const (
	dbName     = "certstore_test"
	dbUser     = "certstore"
	dbPassword = "test-password"
)

// Endpoint — адрес запущенного контейнера.
type Endpoint struct {
	Host string
	Port string
}

// Start запускает контейнер PostgreSQL и регистрирует его остановку в t.Cleanup.
func Start(t *testing.T) Endpoint {
	t.Helper()

	if os.Getenv("TEST_INTEGRATION") == "" {
		t.Skip("Пропуск интеграционного теста: TEST_INTEGRATION не установлена")
	}

	ctx := context.Background()

	container, err := postgres.Run(ctx,
		"docker.io/postgres:17-alpine",
		postgres.WithDatabase(dbName),
		postgres.WithUsername(dbUser),
		postgres.WithPassword(dbPassword),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	if err != nil {
		t.Fatalf("Не удалось запустить PostgreSQL контейнер: %v", err)
	}
	t.Cleanup(func() {
		if err := container.Terminate(ctx); err != nil {
			t.Logf("Ошибка остановки контейнера: %v", err)
		}
	})

	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("Не удалось получить host контейнера: %v", err)
	}
	port, err := container.MappedPort(ctx, "5432")
	if err != nil {
		t.Fatalf("Не удалось получить port контейнера: %v", err)
	}

	return Endpoint{Host: host, Port: port.Port()}
}

// Config загружает конфигурацию, указывающую на контейнер.
func Config(t *testing.T, ep Endpoint) *config.Config {
	t.Helper()

	t.Setenv("DB_HOST", ep.Host)
	t.Setenv("DB_PORT", ep.Port)
	t.Setenv("DB_NAME", dbName)
	t.Setenv("DB_USER", dbUser)
	t.Setenv("DB_PASSWORD", dbPassword)
	t.Setenv("DB_SSL_MODE", "disable")
	t.Setenv("JWT_SECRET", "test")

	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("Ошибка загрузки конфигурации: %v", err)
	}
	return cfg
}
