// Пакет gcs — бэкенд хранилища на Google Cloud Storage.
package gcs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"log/slog"

	gcstorage "cloud.google.com/go/storage"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	"github.com/bigkaa/certstore/internal/pathguard"
	"github.com/bigkaa/certstore/internal/storage"
)

// Config — параметры GCS бэкенда.
type Config struct {
	Bucket string
	// Providers — источники учётных данных в порядке опроса.
	Providers []CredentialProvider
}

// Backend — хранилище в bucket GCS.
type Backend struct {
	client *gcstorage.Client
	bucket *gcstorage.BucketHandle
	logger *slog.Logger
}

// New создаёт GCS-клиент с первыми найденными учётными данными.
func New(ctx context.Context, cfg Config, logger *slog.Logger) (*Backend, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("STORAGE_PROVIDER=gcp: не задана переменная GCP_BUCKET_NAME")
	}

	creds, err := ResolveCredentials(ctx, cfg.Providers...)
	if err != nil {
		return nil, err
	}

	client, err := gcstorage.NewClient(ctx, option.WithCredentialsJSON(creds.JSON))
	if err != nil {
		return nil, fmt.Errorf("ошибка создания клиента GCS: %w", err)
	}

	logger.Info("GCS хранилище инициализировано",
		slog.String("bucket", cfg.Bucket),
		slog.String("credentials", creds.Source),
	)

	return &Backend{
		client: client,
		bucket: client.Bucket(cfg.Bucket),
		logger: logger.With(slog.String("component", "storage_gcs")),
	}, nil
}

// Close закрывает клиент GCS.
func (b *Backend) Close() error {
	return b.client.Close()
}

// Name возвращает имя провайдера.
func (b *Backend) Name() string {
	return "gcp"
}

// Stat возвращает атрибуты объекта.
func (b *Backend) Stat(ctx context.Context, p pathguard.SafePath) (*storage.ObjectInfo, error) {
	attrs, err := b.bucket.Object(p.String()).Attrs(ctx)
	if err != nil {
		if errors.Is(err, gcstorage.ErrObjectNotExist) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("gcs attrs %s: %w", p, err)
	}
	return &storage.ObjectInfo{
		Path:         p,
		Size:         attrs.Size,
		ContentType:  attrs.ContentType,
		LastModified: attrs.Updated,
	}, nil
}

// Open открывает объект для чтения.
func (b *Backend) Open(ctx context.Context, p pathguard.SafePath) (*storage.Object, error) {
	r, err := b.bucket.Object(p.String()).NewReader(ctx)
	if err != nil {
		if errors.Is(err, gcstorage.ErrObjectNotExist) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("gcs read %s: %w", p, err)
	}
	return &storage.Object{
		Body: r,
		Info: storage.ObjectInfo{
			Path:         p,
			Size:         r.Attrs.Size,
			ContentType:  r.Attrs.ContentType,
			LastModified: r.Attrs.LastModified,
		},
	}, nil
}

// Put загружает объект. Объект становится видимым только после успешного Close.
func (b *Backend) Put(ctx context.Context, p pathguard.SafePath, r io.Reader, contentType string) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	w := b.bucket.Object(p.String()).NewWriter(ctx)
	w.ContentType = contentType

	if _, err := io.Copy(w, r); err != nil {
		// Отмена контекста прерывает загрузку без создания объекта
		cancel()
		_ = w.Close()
		return fmt.Errorf("gcs write %s: %w", p, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("gcs write %s: %w", p, err)
	}
	return nil
}

// Remove удаляет объект.
func (b *Backend) Remove(ctx context.Context, p pathguard.SafePath) (bool, error) {
	err := b.bucket.Object(p.String()).Delete(ctx)
	if err != nil {
		if errors.Is(err, gcstorage.ErrObjectNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("gcs delete %s: %w", p, err)
	}
	return true, nil
}

// List перечисляет объекты непосредственно под префиксом dir/.
func (b *Backend) List(ctx context.Context, dir pathguard.SafePath) iter.Seq2[storage.ObjectInfo, error] {
	return func(yield func(storage.ObjectInfo, error) bool) {
		prefix := ""
		if !dir.IsRoot() {
			prefix = dir.String() + "/"
		}

		it := b.bucket.Objects(ctx, &gcstorage.Query{Prefix: prefix, Delimiter: "/"})
		for {
			attrs, err := it.Next()
			if errors.Is(err, iterator.Done) {
				return
			}
			if err != nil {
				yield(storage.ObjectInfo{}, fmt.Errorf("gcs list %s: %w", prefix, err))
				return
			}
			// Синтетические директории приходят с заполненным Prefix
			if attrs.Prefix != "" {
				continue
			}

			p, ok := pathguard.Validate(attrs.Name)
			if !ok || p.String() != attrs.Name {
				b.logger.Debug("Пропущен ключ", slog.String("key", attrs.Name))
				continue
			}
			info := storage.ObjectInfo{
				Path:         p,
				Size:         attrs.Size,
				ContentType:  attrs.ContentType,
				LastModified: attrs.Updated,
			}
			if !yield(info, nil) {
				return
			}
		}
	}
}
