// users.go — поиск пользователя по id из access token и проверка администратора.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/bigkaa/certstore/internal/domain/model"
	"github.com/bigkaa/certstore/internal/repository"
)

var (
	userCacheHitsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "certstore_user_cache_hits_total",
		Help: "Попадания в кэш пользователей",
	})
	userCacheMissesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "certstore_user_cache_misses_total",
		Help: "Промахи кэша пользователей",
	})
)

// UserService — доступ к пользователям основного приложения.
// Найденные пользователи кэшируются в LRU с TTL, отсутствующие — нет.
type UserService struct {
	repo       repository.UserRepository
	adminEmail string
	cache      *expirable.LRU[string, *model.User]
	logger     *slog.Logger
}

// NewUserService создаёт сервис пользователей.
// adminEmail — значение ADMIN_EMAIL; пустое значение запрещает доступ всем.
func NewUserService(
	repo repository.UserRepository,
	adminEmail string,
	cacheSize int,
	cacheTTL time.Duration,
	logger *slog.Logger,
) *UserService {
	return &UserService{
		repo:       repo,
		adminEmail: strings.TrimSpace(adminEmail),
		cache:      expirable.NewLRU[string, *model.User](cacheSize, nil, cacheTTL),
		logger:     logger.With(slog.String("component", "user_service")),
	}
}

// GetUser возвращает пользователя по id. ErrUnauthorized — не найден.
func (s *UserService) GetUser(ctx context.Context, id string) (*model.User, error) {
	if id == "" {
		return nil, ErrUnauthorized
	}
	if u, ok := s.cache.Get(id); ok {
		userCacheHitsTotal.Inc()
		return u, nil
	}
	userCacheMissesTotal.Inc()

	u, err := s.repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrUnauthorized
		}
		return nil, fmt.Errorf("получение пользователя %s: %w", id, err)
	}

	s.cache.Add(id, u)
	return u, nil
}

// IsAdmin сравнивает email пользователя с ADMIN_EMAIL без учёта регистра.
func (s *UserService) IsAdmin(u *model.User) bool {
	if s.adminEmail == "" || u == nil {
		return false
	}
	return strings.EqualFold(strings.TrimSpace(u.Email), s.adminEmail)
}

// RequireAdmin находит пользователя и проверяет, что он администратор.
// ErrUnauthorized — пользователь не найден, ErrForbidden — не администратор.
func (s *UserService) RequireAdmin(ctx context.Context, id string) (*model.User, error) {
	u, err := s.GetUser(ctx, id)
	if err != nil {
		return nil, err
	}
	if !s.IsAdmin(u) {
		s.logger.Warn("Отказ в доступе: пользователь не администратор",
			slog.String("user_id", u.ID),
			slog.Bool("admin_email_configured", s.adminEmail != ""),
		)
		return nil, ErrForbidden
	}
	return u, nil
}
