// Пакет provider — выбор бэкенда хранилища по STORAGE_PROVIDER.
package provider

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/bigkaa/certstore/internal/config"
	"github.com/bigkaa/certstore/internal/storage"
	"github.com/bigkaa/certstore/internal/storage/azure"
	"github.com/bigkaa/certstore/internal/storage/gcs"
	"github.com/bigkaa/certstore/internal/storage/local"
	"github.com/bigkaa/certstore/internal/storage/policy"
	"github.com/bigkaa/certstore/internal/storage/s3"
)

// New создаёт Store для провайдера из конфигурации.
// Ошибки конфигурации бэкенда фатальны для старта.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*storage.Store, error) {
	backend, err := newBackend(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	policies, err := policy.NewResolver(cfg.DirectoryPolicies)
	if err != nil {
		return nil, fmt.Errorf("STORAGE_DIRECTORY_POLICIES: %w", err)
	}

	return storage.NewStore(backend, policies, logger), nil
}

func newBackend(ctx context.Context, cfg *config.Config, logger *slog.Logger) (storage.Backend, error) {
	switch cfg.StorageProvider {
	case config.ProviderLocal:
		return local.New(cfg.LocalStoragePath, cfg.ServerlessMarkers, logger)

	case config.ProviderGCP:
		return gcs.New(ctx, gcs.Config{
			Bucket: cfg.GCPBucketName,
			Providers: []gcs.CredentialProvider{
				gcs.EnvKeyProvider{Value: cfg.GCPServiceAccountKey},
				gcs.SecretManagerProvider{
					ProjectID: cfg.GCPProjectID,
					SecretID:  cfg.GCPSecretID,
					Version:   cfg.GCPSecretVersion,
				},
			},
		}, logger)

	case config.ProviderS3:
		return s3.New(ctx, s3.Config{
			Name:            "s3",
			Bucket:          cfg.S3BucketName,
			Region:          cfg.S3Region,
			Endpoint:        cfg.S3Endpoint,
			AccessKeyID:     cfg.S3AccessKeyID,
			SecretAccessKey: cfg.S3SecretAccessKey,
			ForcePathStyle:  cfg.S3ForcePathStyle,
		}, logger)

	case config.ProviderR2:
		r2, err := s3.R2Config(cfg.R2AccountID, cfg.R2AccessKeyID, cfg.R2SecretAccessKey, cfg.R2BucketName)
		if err != nil {
			return nil, err
		}
		return s3.New(ctx, r2, logger)

	case config.ProviderAzure:
		return azure.New(cfg.AzureConnectionString, cfg.AzureContainer, logger)

	case config.ProviderVercel:
		return nil, fmt.Errorf("STORAGE_PROVIDER=vercel: Vercel Blob не поддерживается, используйте gcp, s3, r2 или azure")

	default:
		return nil, fmt.Errorf("STORAGE_PROVIDER: неизвестный провайдер %q", cfg.StorageProvider)
	}
}
