// Пакет handlers — HTTP-обработчики certstore.
// Обработчики зависят от узких интерфейсов сервисного слоя и сами
// отображают сентинельные ошибки в HTTP-коды.
package handlers

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/bigkaa/certstore/internal/api/middleware"
	"github.com/bigkaa/certstore/internal/domain/model"
	"github.com/bigkaa/certstore/internal/service"
)

// SignedURLs — операции сервиса signed URL, нужные обработчикам.
type SignedURLs interface {
	Issue(ctx context.Context, rawPath string, ttl time.Duration) (*service.IssuedURL, error)
	Claim(ctx context.Context, id string) (*model.SignedURL, error)
	Cleanup(ctx context.Context, trigger service.CleanupTrigger) (*service.CleanupResult, error)
	CleanupEnabled(trigger service.CleanupTrigger) bool
	GetByID(ctx context.Context, id string) (*model.SignedURL, error)
}

// Admins — проверка администратора.
type Admins interface {
	RequireAdmin(ctx context.Context, userID string) (*model.User, error)
}

// TokenVerifier — проверка access token.
type TokenVerifier interface {
	Verify(ctx context.Context, token string) (*middleware.AuthClaims, error)
}

// FileReader — чтение файла из хранилища по относительному пути.
type FileReader interface {
	Read(ctx context.Context, rawPath string) (io.ReadCloser, *model.FileMetadata, error)
}

// writeJSON записывает JSON-ответ с указанным статусом.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}
