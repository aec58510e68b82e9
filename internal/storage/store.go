package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"mime"
	"path"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/bigkaa/certstore/internal/domain/model"
	"github.com/bigkaa/certstore/internal/pathguard"
	"github.com/bigkaa/certstore/internal/storage/policy"
)

// pathRejectionsTotal — пути, отклонённые pathguard, по операциям.
// Канал аудита: в ответе отклонение неотличимо от отсутствия файла.
var pathRejectionsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "certstore_path_rejections_total",
		Help: "Количество путей, отклонённых проверкой безопасности",
	},
	[]string{"op"},
)

// Store — хранилище с проверкой путей и политик директорий поверх Backend.
// Безопасен для конкурентного использования, если безопасен Backend.
type Store struct {
	backend  Backend
	policies *policy.Resolver
	logger   *slog.Logger
}

// NewStore создаёт Store поверх бэкенда.
func NewStore(backend Backend, policies *policy.Resolver, logger *slog.Logger) *Store {
	return &Store{
		backend:  backend,
		policies: policies,
		logger: logger.With(
			slog.String("component", "storage"),
			slog.String("provider", backend.Name()),
		),
	}
}

// Provider возвращает имя провайдера бэкенда.
func (s *Store) Provider() string {
	return s.backend.Name()
}

// Close освобождает ресурсы бэкенда, если они есть (клиент GCS).
func (s *Store) Close() error {
	if c, ok := s.backend.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// FileExists проверяет наличие файла. Отклонённый путь — false без ошибки.
func (s *Store) FileExists(ctx context.Context, raw string) (bool, error) {
	info, err := s.FileInfoByPath(ctx, raw)
	if err != nil {
		return false, err
	}
	return info != nil, nil
}

// FileInfoByPath возвращает метаданные файла.
// nil, nil — файла нет или путь отклонён; эти случаи не различаются.
func (s *Store) FileInfoByPath(ctx context.Context, raw string) (*model.FileMetadata, error) {
	p, ok := s.guard("info", raw)
	if !ok {
		return nil, nil
	}

	info, err := s.backend.Stat(ctx, p)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("ошибка получения метаданных %s: %w", p, err)
	}

	meta := toMetadata(*info, s.policies.IsProtected(p))
	return &meta, nil
}

// Read открывает файл для чтения. ErrNotFound — файла нет или путь отклонён.
// Вызывающий обязан закрыть Body.
func (s *Store) Read(ctx context.Context, raw string) (io.ReadCloser, *model.FileMetadata, error) {
	p, ok := s.guard("read", raw)
	if !ok {
		return nil, nil, ErrNotFound
	}

	obj, err := s.backend.Open(ctx, p)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, nil, ErrNotFound
		}
		return nil, nil, fmt.Errorf("ошибка открытия %s: %w", p, err)
	}

	meta := toMetadata(obj.Info, s.policies.IsProtected(p))
	return obj.Body, &meta, nil
}

// Write записывает файл, перезаписывая существующий.
// ErrPermissionDenied — путь отклонён, загрузка запрещена политикой
// или перезаписывается защищённый файл.
func (s *Store) Write(ctx context.Context, raw string, r io.Reader, contentType string) error {
	p, ok := s.guard("write", raw)
	if !ok {
		return ErrPermissionDenied
	}

	if !s.policies.CanUpload(p) {
		s.logger.Warn("Запись запрещена политикой директории", slog.String("path", p.String()))
		return ErrPermissionDenied
	}
	if s.policies.IsProtected(p) {
		_, err := s.backend.Stat(ctx, p)
		switch {
		case err == nil:
			s.logger.Warn("Попытка перезаписи защищённого файла", slog.String("path", p.String()))
			return ErrPermissionDenied
		case !errors.Is(err, ErrNotFound):
			return fmt.Errorf("ошибка проверки %s: %w", p, err)
		}
	}

	if contentType == "" {
		contentType = mime.TypeByExtension(path.Ext(p.String()))
	}
	if contentType == "" {
		contentType = DefaultContentType
	}
	if err := s.backend.Put(ctx, p, r, contentType); err != nil {
		return fmt.Errorf("ошибка записи %s: %w", p, err)
	}

	s.logger.Debug("Файл записан",
		slog.String("path", p.String()),
		slog.String("content_type", contentType),
	)
	return nil
}

// Delete удаляет файл. false, nil — файла не было (или путь отклонён).
// ErrPermissionDenied — удаление запрещено политикой директории.
func (s *Store) Delete(ctx context.Context, raw string) (bool, error) {
	p, ok := s.guard("delete", raw)
	if !ok {
		return false, nil
	}

	if !s.policies.CanDeleteFile(p) {
		s.logger.Warn("Удаление запрещено политикой директории", slog.String("path", p.String()))
		return false, ErrPermissionDenied
	}

	removed, err := s.backend.Remove(ctx, p)
	if err != nil {
		return false, fmt.Errorf("ошибка удаления %s: %w", p, err)
	}
	if removed {
		s.logger.Info("Файл удалён", slog.String("path", p.String()))
	}
	return removed, nil
}

// List перечисляет файлы непосредственно в директории dir.
// Последовательность ленивая и одноразовая: для обновления вызовите List снова.
// Отклонённая директория даёт пустую последовательность.
func (s *Store) List(ctx context.Context, dir string) iter.Seq2[model.FileMetadata, error] {
	return func(yield func(model.FileMetadata, error) bool) {
		d, ok := pathguard.ValidateDir(dir)
		if !ok {
			s.reject("list", dir)
			return
		}

		for info, err := range s.backend.List(ctx, d) {
			if err != nil {
				yield(model.FileMetadata{}, fmt.Errorf("ошибка листинга %s: %w", d, err))
				return
			}
			if !yield(toMetadata(info, s.policies.IsProtected(info.Path)), nil) {
				return
			}
		}
	}
}

// guard проверяет путь и фиксирует отклонение в логе и метрике.
func (s *Store) guard(op, raw string) (pathguard.SafePath, bool) {
	p, ok := pathguard.Validate(raw)
	if !ok {
		s.reject(op, raw)
	}
	return p, ok
}

func (s *Store) reject(op, raw string) {
	pathRejectionsTotal.WithLabelValues(op).Inc()
	s.logger.Warn("Путь отклонён проверкой безопасности",
		slog.String("op", op),
		slog.String("path", fmt.Sprintf("%q", raw)),
	)
}
