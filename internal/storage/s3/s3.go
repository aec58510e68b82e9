// Пакет s3 — бэкенд хранилища на Amazon S3 и S3-совместимых сервисах
// (Cloudflare R2, MinIO).
package s3

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"net/http"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	awss3 "github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"

	"github.com/bigkaa/certstore/internal/pathguard"
	"github.com/bigkaa/certstore/internal/storage"
)

// Config — параметры подключения к S3.
type Config struct {
	// Name — имя провайдера для логов ("s3" или "r2")
	Name            string
	Bucket          string
	Region          string
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	ForcePathStyle  bool
	// RequireStaticCredentials — не использовать цепочку AWS по умолчанию (R2)
	RequireStaticCredentials bool
}

// R2Config формирует Config для Cloudflare R2.
// Пустые параметры — ошибка с перечислением переменных окружения.
func R2Config(accountID, accessKeyID, secretAccessKey, bucket string) (Config, error) {
	var missing []string
	if accountID == "" {
		missing = append(missing, "R2_ACCOUNT_ID")
	}
	if accessKeyID == "" {
		missing = append(missing, "R2_ACCESS_KEY_ID")
	}
	if secretAccessKey == "" {
		missing = append(missing, "R2_SECRET_ACCESS_KEY")
	}
	if bucket == "" {
		missing = append(missing, "R2_BUCKET_NAME")
	}
	if len(missing) > 0 {
		return Config{}, fmt.Errorf("STORAGE_PROVIDER=r2: не заданы переменные %s", strings.Join(missing, ", "))
	}

	return Config{
		Name:                     "r2",
		Bucket:                   bucket,
		Region:                   "auto",
		Endpoint:                 fmt.Sprintf("https://%s.r2.cloudflarestorage.com", accountID),
		AccessKeyID:              accessKeyID,
		SecretAccessKey:          secretAccessKey,
		ForcePathStyle:           true,
		RequireStaticCredentials: true,
	}, nil
}

// Backend — хранилище в bucket S3.
type Backend struct {
	client *awss3.Client
	bucket string
	name   string
	logger *slog.Logger
}

// New создаёт S3-клиент.
// Источники учётных данных по порядку: статические ключи из конфигурации,
// затем цепочка AWS по умолчанию (env, shared config, IAM role).
func New(ctx context.Context, cfg Config, logger *slog.Logger) (*Backend, error) {
	if cfg.Name == "" {
		cfg.Name = "s3"
	}
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("STORAGE_PROVIDER=%s: не задана переменная S3_BUCKET_NAME", cfg.Name)
	}

	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
	}

	switch {
	case cfg.AccessKeyID != "" && cfg.SecretAccessKey != "":
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	case cfg.RequireStaticCredentials:
		return nil, fmt.Errorf("STORAGE_PROVIDER=%s: не заданы ключи доступа", cfg.Name)
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("ошибка загрузки конфигурации AWS: %w", err)
	}

	var s3Opts []func(*awss3.Options)
	if cfg.Endpoint != "" || cfg.ForcePathStyle {
		s3Opts = append(s3Opts, func(o *awss3.Options) {
			if cfg.Endpoint != "" {
				o.BaseEndpoint = aws.String(cfg.Endpoint)
			}
			o.UsePathStyle = cfg.ForcePathStyle
		})
	}

	logger.Info("S3 хранилище инициализировано",
		slog.String("provider", cfg.Name),
		slog.String("bucket", cfg.Bucket),
		slog.String("region", cfg.Region),
		slog.String("endpoint", cfg.Endpoint),
	)

	return &Backend{
		client: awss3.NewFromConfig(awsCfg, s3Opts...),
		bucket: cfg.Bucket,
		name:   cfg.Name,
		logger: logger.With(slog.String("component", "storage_"+cfg.Name)),
	}, nil
}

// Name возвращает имя провайдера.
func (b *Backend) Name() string {
	return b.name
}

// Stat возвращает метаданные объекта через HeadObject.
func (b *Backend) Stat(ctx context.Context, p pathguard.SafePath) (*storage.ObjectInfo, error) {
	out, err := b.client.HeadObject(ctx, &awss3.HeadObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(p.String()),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("s3 head %s: %w", p, err)
	}

	return &storage.ObjectInfo{
		Path:         p,
		Size:         aws.ToInt64(out.ContentLength),
		ContentType:  aws.ToString(out.ContentType),
		LastModified: aws.ToTime(out.LastModified),
	}, nil
}

// Open открывает объект для чтения через GetObject.
func (b *Backend) Open(ctx context.Context, p pathguard.SafePath) (*storage.Object, error) {
	out, err := b.client.GetObject(ctx, &awss3.GetObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(p.String()),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("s3 get %s: %w", p, err)
	}

	return &storage.Object{
		Body: out.Body,
		Info: storage.ObjectInfo{
			Path:         p,
			Size:         aws.ToInt64(out.ContentLength),
			ContentType:  aws.ToString(out.ContentType),
			LastModified: aws.ToTime(out.LastModified),
		},
	}, nil
}

// Put загружает объект, перезаписывая существующий.
func (b *Backend) Put(ctx context.Context, p pathguard.SafePath, r io.Reader, contentType string) error {
	// Подпись запроса требует перематываемого тела
	body, ok := r.(io.ReadSeeker)
	if !ok {
		data, err := io.ReadAll(r)
		if err != nil {
			return fmt.Errorf("ошибка чтения данных: %w", err)
		}
		body = bytes.NewReader(data)
	}

	_, err := b.client.PutObject(ctx, &awss3.PutObjectInput{
		Bucket:      aws.String(b.bucket),
		Key:         aws.String(p.String()),
		Body:        body,
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return fmt.Errorf("s3 put %s: %w", p, err)
	}
	return nil
}

// Remove удаляет объект. DeleteObject в S3 идемпотентен,
// поэтому наличие объекта проверяется заранее.
func (b *Backend) Remove(ctx context.Context, p pathguard.SafePath) (bool, error) {
	if _, err := b.Stat(ctx, p); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return false, nil
		}
		return false, err
	}

	_, err := b.client.DeleteObject(ctx, &awss3.DeleteObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(p.String()),
	})
	if err != nil {
		return false, fmt.Errorf("s3 delete %s: %w", p, err)
	}
	return true, nil
}

// List перечисляет объекты непосредственно под префиксом dir/.
// Страницы запрашиваются лениво по мере потребления последовательности.
func (b *Backend) List(ctx context.Context, dir pathguard.SafePath) iter.Seq2[storage.ObjectInfo, error] {
	return func(yield func(storage.ObjectInfo, error) bool) {
		prefix := ""
		if !dir.IsRoot() {
			prefix = dir.String() + "/"
		}

		paginator := awss3.NewListObjectsV2Paginator(b.client, &awss3.ListObjectsV2Input{
			Bucket:    aws.String(b.bucket),
			Prefix:    aws.String(prefix),
			Delimiter: aws.String("/"),
		})

		for paginator.HasMorePages() {
			page, err := paginator.NextPage(ctx)
			if err != nil {
				yield(storage.ObjectInfo{}, fmt.Errorf("s3 list %s: %w", prefix, err))
				return
			}

			for _, obj := range page.Contents {
				key := aws.ToString(obj.Key)
				p, ok := pathguard.Validate(key)
				// Маркеры директорий ("dir/") и небезопасные ключи пропускаем
				if !ok || p.String() != key {
					b.logger.Debug("Пропущен ключ", slog.String("key", key))
					continue
				}
				info := storage.ObjectInfo{
					Path:         p,
					Size:         aws.ToInt64(obj.Size),
					LastModified: aws.ToTime(obj.LastModified),
				}
				if !yield(info, nil) {
					return
				}
			}
		}
	}
}

// isNotFound — ответ S3 означает отсутствие объекта.
func isNotFound(err error) bool {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NoSuchKey", "NotFound":
			return true
		}
	}
	var rspErr *awshttp.ResponseError
	if errors.As(err, &rspErr) {
		return rspErr.HTTPStatusCode() == http.StatusNotFound
	}
	return false
}
