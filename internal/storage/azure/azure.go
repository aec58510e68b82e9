// Пакет azure — бэкенд хранилища на Azure Blob Storage.
package azure

import (
	"context"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"strings"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore/to"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/blob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/bloberror"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/blockblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/container"

	"github.com/bigkaa/certstore/internal/pathguard"
	"github.com/bigkaa/certstore/internal/storage"
)

// uploadBufferSize — размер блока при потоковой загрузке.
const uploadBufferSize = 4 * 1024 * 1024

// Backend — хранилище в контейнере Azure Blob.
type Backend struct {
	client *container.Client
	logger *slog.Logger
}

// New создаёт клиент контейнера по строке подключения.
func New(connectionString, containerName string, logger *slog.Logger) (*Backend, error) {
	var missing []string
	if connectionString == "" {
		missing = append(missing, "AZURE_STORAGE_CONNECTION_STRING")
	}
	if containerName == "" {
		missing = append(missing, "AZURE_STORAGE_CONTAINER")
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("STORAGE_PROVIDER=azure: не заданы переменные %s", strings.Join(missing, ", "))
	}

	client, err := container.NewClientFromConnectionString(connectionString, containerName, nil)
	if err != nil {
		return nil, fmt.Errorf("ошибка создания клиента Azure Blob: %w", err)
	}

	logger.Info("Azure Blob хранилище инициализировано", slog.String("container", containerName))

	return &Backend{
		client: client,
		logger: logger.With(slog.String("component", "storage_azure")),
	}, nil
}

// Name возвращает имя провайдера.
func (b *Backend) Name() string {
	return "azure"
}

// Stat возвращает свойства blob.
func (b *Backend) Stat(ctx context.Context, p pathguard.SafePath) (*storage.ObjectInfo, error) {
	props, err := b.client.NewBlobClient(p.String()).GetProperties(ctx, nil)
	if err != nil {
		if bloberror.HasCode(err, bloberror.BlobNotFound, bloberror.ContainerNotFound) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("azblob properties %s: %w", p, err)
	}
	return &storage.ObjectInfo{
		Path:         p,
		Size:         deref(props.ContentLength),
		ContentType:  deref(props.ContentType),
		LastModified: deref(props.LastModified),
	}, nil
}

// Open открывает blob для чтения.
func (b *Backend) Open(ctx context.Context, p pathguard.SafePath) (*storage.Object, error) {
	resp, err := b.client.NewBlobClient(p.String()).DownloadStream(ctx, nil)
	if err != nil {
		if bloberror.HasCode(err, bloberror.BlobNotFound, bloberror.ContainerNotFound) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("azblob download %s: %w", p, err)
	}
	return &storage.Object{
		Body: resp.Body,
		Info: storage.ObjectInfo{
			Path:         p,
			Size:         deref(resp.ContentLength),
			ContentType:  deref(resp.ContentType),
			LastModified: deref(resp.LastModified),
		},
	}, nil
}

// Put загружает blob потоково, перезаписывая существующий.
func (b *Backend) Put(ctx context.Context, p pathguard.SafePath, r io.Reader, contentType string) error {
	_, err := b.client.NewBlockBlobClient(p.String()).UploadStream(ctx, r, &blockblob.UploadStreamOptions{
		BlockSize: uploadBufferSize,
		HTTPHeaders: &blob.HTTPHeaders{
			BlobContentType: to.Ptr(contentType),
		},
	})
	if err != nil {
		return fmt.Errorf("azblob upload %s: %w", p, err)
	}
	return nil
}

// Remove удаляет blob вместе со снимками.
func (b *Backend) Remove(ctx context.Context, p pathguard.SafePath) (bool, error) {
	_, err := b.client.NewBlobClient(p.String()).Delete(ctx, &blob.DeleteOptions{
		DeleteSnapshots: to.Ptr(blob.DeleteSnapshotsOptionTypeInclude),
	})
	if err != nil {
		if bloberror.HasCode(err, bloberror.BlobNotFound, bloberror.ContainerNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("azblob delete %s: %w", p, err)
	}
	return true, nil
}

// List перечисляет blob непосредственно под префиксом dir/.
func (b *Backend) List(ctx context.Context, dir pathguard.SafePath) iter.Seq2[storage.ObjectInfo, error] {
	return func(yield func(storage.ObjectInfo, error) bool) {
		prefix := ""
		if !dir.IsRoot() {
			prefix = dir.String() + "/"
		}

		pager := b.client.NewListBlobsHierarchyPager("/", &container.ListBlobsHierarchyOptions{
			Prefix: to.Ptr(prefix),
		})
		for pager.More() {
			page, err := pager.NextPage(ctx)
			if err != nil {
				yield(storage.ObjectInfo{}, fmt.Errorf("azblob list %s: %w", prefix, err))
				return
			}
			if page.Segment == nil {
				continue
			}

			for _, item := range page.Segment.BlobItems {
				name := deref(item.Name)
				p, ok := pathguard.Validate(name)
				if !ok || p.String() != name {
					b.logger.Debug("Пропущен ключ", slog.String("key", name))
					continue
				}
				info := storage.ObjectInfo{Path: p}
				if item.Properties != nil {
					info.Size = deref(item.Properties.ContentLength)
					info.ContentType = deref(item.Properties.ContentType)
					info.LastModified = deref(item.Properties.LastModified)
				}
				if !yield(info, nil) {
					return
				}
			}
		}
	}
}

// deref возвращает значение указателя или нулевое значение для nil.
func deref[T any](p *T) T {
	var zero T
	if p == nil {
		return zero
	}
	return *p
}
