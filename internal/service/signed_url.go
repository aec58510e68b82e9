// Пакет service — бизнес-логика certstore.
// signed_url.go — выдача, однократное использование и очистка signed URL.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/bigkaa/certstore/internal/domain/model"
	"github.com/bigkaa/certstore/internal/pathguard"
	"github.com/bigkaa/certstore/internal/repository"
)

// Границы TTL выдаваемого токена.
const (
	MinSignedURLTTL = time.Minute
	MaxSignedURLTTL = 7 * 24 * time.Hour
)

// SignedPathPrefix — путь endpoint скачивания по токену.
const SignedPathPrefix = "/api/storage/signed/"

// CleanupTrigger — источник запуска очистки.
type CleanupTrigger string

const (
	// TriggerCron — внешний планировщик через cron endpoint.
	TriggerCron CleanupTrigger = "cron"
	// TriggerManual — администратор через /api/storage/cleanup.
	TriggerManual CleanupTrigger = "manual"
	// TriggerInterval — фоновый тикер внутри процесса.
	TriggerInterval CleanupTrigger = "interval"
	// TriggerClaim — неудачный claim в режиме on_claim.
	TriggerClaim CleanupTrigger = "claim"
)

// Prometheus метрики signed URL
var (
	signedURLsIssuedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "certstore_signed_urls_issued_total",
		Help: "Общее количество выданных signed URL",
	})

	// result: claimed, rejected, error
	signedURLClaimsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "certstore_signed_url_claims_total",
		Help: "Попытки использования signed URL по результату",
	}, []string{"result"})

	signedURLSweepsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "certstore_signed_url_sweeps_total",
		Help: "Запуски очистки просроченных signed URL по источнику",
	}, []string{"trigger"})

	signedURLsDeletedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "certstore_signed_urls_deleted_total",
		Help: "Общее количество удалённых просроченных signed URL",
	})
)

// FileChecker — проверка существования файла перед выдачей токена.
type FileChecker interface {
	FileExists(ctx context.Context, rawPath string) (bool, error)
}

// SignedURLConfig — параметры сервиса signed URL.
type SignedURLConfig struct {
	// BaseURL — внешний адрес сервиса без завершающего "/".
	BaseURL string
	// DefaultTTL — срок действия при отсутствии явного значения.
	DefaultTTL time.Duration
	// StoreTimeout — ограничение на каждое обращение к таблице токенов.
	StoreTimeout time.Duration
	// Policy — режим очистки, выведенный из SIGNED_URL_CLEANUP_STRATEGY.
	Policy model.CleanupPolicy
}

// IssuedURL — выданный токен вместе с готовым URL.
type IssuedURL struct {
	model.SignedURL
	URL string
}

// CleanupResult — результат одного запуска очистки.
type CleanupResult struct {
	// Enabled — очистка разрешена стратегией для данного источника.
	Enabled bool
	// DeletedCount — количество удалённых строк
	DeletedCount int64
	// Duration — длительность выполнения
	Duration time.Duration
}

// SignedURLService — выдача и однократное использование signed URL.
type SignedURLService struct {
	repo   repository.SignedURLRepository
	files  FileChecker
	cfg    SignedURLConfig
	now    func() time.Time
	logger *slog.Logger
}

// NewSignedURLService создаёт сервис signed URL.
// files может быть nil — тогда существование файла при выдаче не проверяется.
func NewSignedURLService(
	repo repository.SignedURLRepository,
	files FileChecker,
	cfg SignedURLConfig,
	logger *slog.Logger,
) *SignedURLService {
	if cfg.DefaultTTL <= 0 {
		cfg.DefaultTTL = time.Hour
	}
	if cfg.StoreTimeout <= 0 {
		cfg.StoreTimeout = 5 * time.Second
	}
	return &SignedURLService{
		repo:   repo,
		files:  files,
		cfg:    cfg,
		now:    time.Now,
		logger: logger.With(slog.String("component", "signed_url_service")),
	}
}

// Policy возвращает действующую политику очистки.
func (s *SignedURLService) Policy() model.CleanupPolicy {
	return s.cfg.Policy
}

// ClampTTL приводит запрошенный срок к допустимому диапазону.
// Нулевое или отрицательное значение заменяется на def.
func ClampTTL(ttl, def time.Duration) time.Duration {
	if ttl <= 0 {
		ttl = def
	}
	return min(max(ttl, MinSignedURLTTL), MaxSignedURLTTL)
}

// Issue выдаёт новый токен на файл rawPath.
// ErrInvalidPath — путь отклонён; ErrNotFound — файла нет в хранилище.
func (s *SignedURLService) Issue(ctx context.Context, rawPath string, ttl time.Duration) (*IssuedURL, error) {
	p, ok := pathguard.Validate(rawPath)
	if !ok {
		s.logger.Warn("Отклонён путь при выдаче signed URL", slog.String("path", fmt.Sprintf("%q", rawPath)))
		return nil, ErrInvalidPath
	}

	if s.files != nil {
		exists, err := s.files.FileExists(ctx, p.String())
		if err != nil {
			return nil, fmt.Errorf("проверка файла %s: %w", p, err)
		}
		if !exists {
			return nil, ErrNotFound
		}
	}

	now := s.now().UTC()
	su := &model.SignedURL{
		ID:        uuid.NewString(),
		FilePath:  p.String(),
		ExpiresAt: now.Add(ClampTTL(ttl, s.cfg.DefaultTTL)),
	}

	storeCtx, cancel := context.WithTimeout(ctx, s.cfg.StoreTimeout)
	defer cancel()

	if err := s.repo.Create(storeCtx, su); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}

	signedURLsIssuedTotal.Inc()
	s.logger.Info("Signed URL выдан",
		slog.String("id", su.ID),
		slog.String("path", su.FilePath),
		slog.Time("expires_at", su.ExpiresAt),
	)

	return &IssuedURL{
		SignedURL: *su,
		URL:       s.cfg.BaseURL + SignedPathPrefix + su.ID,
	}, nil
}

// Claim атомарно использует токен. Возвращает nil, nil если токен
// не найден, истёк, уже использован или захвачен конкурентным запросом.
//
// ErrStoreUnavailable означает неоднозначный исход: токен мог быть помечен
// использованным. Для разбора используется GetByID.
func (s *SignedURLService) Claim(ctx context.Context, id string) (*model.SignedURL, error) {
	storeCtx, cancel := context.WithTimeout(ctx, s.cfg.StoreTimeout)
	defer cancel()

	su, err := s.repo.Claim(storeCtx, id, s.now().UTC())
	if err != nil {
		signedURLClaimsTotal.WithLabelValues("error").Inc()
		s.logger.Error("Ошибка claim signed URL",
			slog.String("id", id),
			slog.Bool("timeout", errors.Is(err, context.DeadlineExceeded)),
			slog.String("error", err.Error()),
		)
		return nil, fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}

	if su == nil {
		signedURLClaimsTotal.WithLabelValues("rejected").Inc()
		if s.cfg.Policy.SweepsOnClaim() {
			s.sweepOnClaim(ctx)
		}
		return nil, nil
	}

	signedURLClaimsTotal.WithLabelValues("claimed").Inc()
	s.logger.Debug("Signed URL использован",
		slog.String("id", su.ID),
		slog.String("path", su.FilePath),
	)
	return su, nil
}

// sweepOnClaim — очистка после неудачного claim. Ошибки только логируются.
func (s *SignedURLService) sweepOnClaim(ctx context.Context) {
	if _, err := s.sweep(ctx, TriggerClaim); err != nil {
		s.logger.Warn("Очистка после неудачного claim не выполнена",
			slog.String("error", err.Error()),
		)
	}
}

// Cleanup удаляет просроченные токены, если стратегия разрешает
// очистку для данного источника. Иначе возвращает Enabled=false.
func (s *SignedURLService) Cleanup(ctx context.Context, trigger CleanupTrigger) (*CleanupResult, error) {
	if !s.CleanupEnabled(trigger) {
		s.logger.Debug("Очистка отключена стратегией",
			slog.String("trigger", string(trigger)),
			slog.String("mode", s.cfg.Policy.Sweep.String()),
		)
		return &CleanupResult{}, nil
	}
	return s.sweep(ctx, trigger)
}

// CleanupEnabled сообщает, разрешена ли очистка из данного источника.
func (s *SignedURLService) CleanupEnabled(trigger CleanupTrigger) bool {
	switch trigger {
	case TriggerCron, TriggerInterval:
		return s.cfg.Policy.SweepsScheduled()
	case TriggerManual:
		return s.cfg.Policy.SweepsOnDemand()
	case TriggerClaim:
		return s.cfg.Policy.SweepsOnClaim()
	default:
		return false
	}
}

func (s *SignedURLService) sweep(ctx context.Context, trigger CleanupTrigger) (*CleanupResult, error) {
	storeCtx, cancel := context.WithTimeout(ctx, s.cfg.StoreTimeout)
	defer cancel()

	start := time.Now()
	deleted, err := s.repo.DeleteExpired(storeCtx, s.now().UTC())
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}

	result := &CleanupResult{
		Enabled:      true,
		DeletedCount: deleted,
		Duration:     time.Since(start),
	}

	signedURLSweepsTotal.WithLabelValues(string(trigger)).Inc()
	signedURLsDeletedTotal.Add(float64(deleted))

	s.logger.Info("Очистка signed URL завершена",
		slog.String("trigger", string(trigger)),
		slog.Int64("deleted", result.DeletedCount),
		slog.Duration("duration", result.Duration),
	)
	return result, nil
}

// GetByID возвращает токен без изменения его состояния (диагностика).
func (s *SignedURLService) GetByID(ctx context.Context, id string) (*model.SignedURL, error) {
	storeCtx, cancel := context.WithTimeout(ctx, s.cfg.StoreTimeout)
	defer cancel()

	su, err := s.repo.GetByID(storeCtx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}
	return su, nil
}
