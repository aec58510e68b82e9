// signed_urls.go — выдача signed URL, скачивание по токену и диагностика.
package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"path"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	apierrors "github.com/bigkaa/certstore/internal/api/errors"
	"github.com/bigkaa/certstore/internal/api/middleware"
	"github.com/bigkaa/certstore/internal/service"
	"github.com/bigkaa/certstore/internal/storage"
)

// maxIssueBodySize — ограничение тела запроса выдачи.
const maxIssueBodySize = 64 << 10

// SignedURLHandler — обработчик endpoints signed URL.
type SignedURLHandler struct {
	urls   SignedURLs
	files  FileReader
	admins Admins
	logger *slog.Logger
}

// NewSignedURLHandler создаёт обработчик signed URL.
func NewSignedURLHandler(urls SignedURLs, files FileReader, admins Admins, logger *slog.Logger) *SignedURLHandler {
	return &SignedURLHandler{
		urls:   urls,
		files:  files,
		admins: admins,
		logger: logger.With(slog.String("component", "signed_url_handler")),
	}
}

type issueRequest struct {
	Path             string `json:"path"`
	ExpiresInSeconds int64  `json:"expiresInSeconds,omitempty"`
}

type issueResponse struct {
	ID        string    `json:"id"`
	URL       string    `json:"url"`
	FilePath  string    `json:"filePath"`
	ExpiresAt time.Time `json:"expiresAt"`
}

type signedURLInfo struct {
	ID        string    `json:"id"`
	FilePath  string    `json:"filePath"`
	ExpiresAt time.Time `json:"expiresAt"`
	Used      bool      `json:"used"`
	Expired   bool      `json:"expired"`
	CreatedAt time.Time `json:"createdAt"`
}

// Issue — POST /api/storage/signed-urls. Требует access token.
func (h *SignedURLHandler) Issue(w http.ResponseWriter, r *http.Request) {
	var req issueRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxIssueBodySize)).Decode(&req); err != nil {
		apierrors.ValidationError(w, "Некорректное тело запроса")
		return
	}
	if req.Path == "" {
		apierrors.ValidationError(w, "Поле path обязательно")
		return
	}
	if req.ExpiresInSeconds < 0 {
		apierrors.ValidationError(w, "expiresInSeconds не может быть отрицательным")
		return
	}

	issued, err := h.urls.Issue(r.Context(), req.Path, time.Duration(req.ExpiresInSeconds)*time.Second)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrInvalidPath), errors.Is(err, service.ErrNotFound):
			// Отклонённый путь неотличим от отсутствующего файла.
			apierrors.NotFound(w, "Файл не найден")
		case errors.Is(err, service.ErrStoreUnavailable):
			h.logger.Error("Ошибка выдачи signed URL", slog.String("error", err.Error()))
			apierrors.StoreUnavailable(w, "Хранилище токенов недоступно")
		default:
			h.logger.Error("Ошибка выдачи signed URL", slog.String("error", err.Error()))
			apierrors.InternalError(w, "Внутренняя ошибка")
		}
		return
	}

	h.logger.Info("Signed URL выдан пользователю",
		slog.String("user_id", middleware.SubjectFromContext(r.Context())),
		slog.String("id", issued.ID),
	)

	writeJSON(w, http.StatusCreated, issueResponse{
		ID:        issued.ID,
		URL:       issued.URL,
		FilePath:  issued.FilePath,
		ExpiresAt: issued.ExpiresAt,
	})
}

// Download — GET /api/storage/signed/{token}. Публичный: доступ даёт сам токен.
// Любой отказ (неизвестный, использованный, истёкший токен, отсутствующий файл) — одинаковый 404.
func (h *SignedURLHandler) Download(w http.ResponseWriter, r *http.Request) {
	token := chi.URLParam(r, "token")

	su, err := h.urls.Claim(r.Context(), token)
	if err != nil {
		// Исход неоднозначен: токен мог быть использован. Разбор через GetByID.
		h.logger.Error("Claim signed URL не завершён",
			slog.String("id", token),
			slog.String("error", err.Error()),
		)
		apierrors.StoreUnavailable(w, "Хранилище токенов недоступно, повторите позже")
		return
	}
	if su == nil {
		apierrors.NotFound(w, "Ссылка недействительна или истекла")
		return
	}

	body, meta, err := h.files.Read(r.Context(), su.FilePath)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			h.logger.Warn("Файл signed URL отсутствует в хранилище",
				slog.String("id", su.ID),
				slog.String("path", su.FilePath),
			)
			apierrors.NotFound(w, "Ссылка недействительна или истекла")
			return
		}
		h.logger.Error("Ошибка чтения файла",
			slog.String("id", su.ID),
			slog.String("path", su.FilePath),
			slog.String("error", err.Error()),
		)
		apierrors.InternalError(w, "Ошибка чтения файла")
		return
	}
	defer body.Close()

	hdr := w.Header()
	hdr.Set("Content-Type", meta.ContentType)
	if meta.Size > 0 {
		hdr.Set("Content-Length", strconv.FormatInt(meta.Size, 10))
	}
	if !meta.LastModified.IsZero() {
		hdr.Set("Last-Modified", meta.LastModified.UTC().Format(http.TimeFormat))
	}
	hdr.Set("Cache-Control", "private, no-store")
	hdr.Set("X-Content-Type-Options", "nosniff")
	if cd := mime.FormatMediaType("inline", map[string]string{"filename": path.Base(meta.Path)}); cd != "" {
		hdr.Set("Content-Disposition", cd)
	}
	w.WriteHeader(http.StatusOK)

	if _, err := io.Copy(w, body); err != nil {
		h.logger.Warn("Передача файла прервана",
			slog.String("id", su.ID),
			slog.String("error", err.Error()),
		)
	}
}

// Info — GET /api/storage/signed-urls/{token}. Диагностика, только администратор.
// Состояние токена не изменяется.
func (h *SignedURLHandler) Info(w http.ResponseWriter, r *http.Request) {
	userID := middleware.SubjectFromContext(r.Context())
	if _, err := h.admins.RequireAdmin(r.Context(), userID); err != nil {
		switch {
		case errors.Is(err, service.ErrUnauthorized):
			apierrors.Unauthorized(w, "Пользователь не найден")
		case errors.Is(err, service.ErrForbidden):
			apierrors.Forbidden(w, "Недостаточно прав")
		default:
			h.logger.Error("Ошибка проверки пользователя", slog.String("error", err.Error()))
			apierrors.InternalError(w, "Внутренняя ошибка")
		}
		return
	}

	su, err := h.urls.GetByID(r.Context(), chi.URLParam(r, "token"))
	if err != nil {
		if errors.Is(err, service.ErrNotFound) {
			apierrors.NotFound(w, "Signed URL не найден")
			return
		}
		h.logger.Error("Ошибка получения signed URL", slog.String("error", err.Error()))
		apierrors.StoreUnavailable(w, "Хранилище токенов недоступно")
		return
	}

	writeJSON(w, http.StatusOK, signedURLInfo{
		ID:        su.ID,
		FilePath:  su.FilePath,
		ExpiresAt: su.ExpiresAt,
		Used:      su.Used,
		Expired:   su.IsExpired(time.Now()),
		CreatedAt: su.CreatedAt,
	})
}
