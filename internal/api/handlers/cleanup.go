// cleanup.go — очистка просроченных signed URL: cron endpoint и ручной запуск администратором.
// Оба endpoint отвечают конвертом {success, deletedCount, message, timestamp}.
package handlers

import (
	"crypto/sha256"
	"crypto/subtle"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/bigkaa/certstore/internal/api/middleware"
	"github.com/bigkaa/certstore/internal/domain/model"
	"github.com/bigkaa/certstore/internal/service"
)

// CronCleanupPath — путь cron endpoint.
const CronCleanupPath = "/api/cron/cleanup-signed-urls"

// cleanupResponse — конверт ответа cleanup endpoints.
type cleanupResponse struct {
	Success      bool   `json:"success"`
	DeletedCount int64  `json:"deletedCount"`
	Message      string `json:"message"`
	Timestamp    string `json:"timestamp"`
}

// cronInfoResponse — ответ GET cron endpoint.
type cronInfoResponse struct {
	Endpoint     string `json:"endpoint"`
	Enabled      bool   `json:"enabled"`
	Strategy     string `json:"strategy"`
	CronSchedule string `json:"cronSchedule"`
}

// CleanupConfig — параметры cleanup endpoints.
type CleanupConfig struct {
	// CronSecret — ожидаемый Bearer cron endpoint. Пустой — endpoint закрыт (500).
	CronSecret string
	// Strategy — внешнее значение стратегии (для GET).
	Strategy model.CleanupStrategy
	// CronSchedule — расписание внешнего планировщика (для GET).
	CronSchedule string
}

// CleanupHandler — обработчик cleanup endpoints.
type CleanupHandler struct {
	urls     SignedURLs
	admins   Admins
	verifier TokenVerifier
	cfg      CleanupConfig
	logger   *slog.Logger
}

// NewCleanupHandler создаёт обработчик cleanup endpoints.
func NewCleanupHandler(
	urls SignedURLs,
	admins Admins,
	verifier TokenVerifier,
	cfg CleanupConfig,
	logger *slog.Logger,
) *CleanupHandler {
	return &CleanupHandler{
		urls:     urls,
		admins:   admins,
		verifier: verifier,
		cfg:      cfg,
		logger:   logger.With(slog.String("component", "cleanup_handler")),
	}
}

// CronCleanup — POST /api/cron/cleanup-signed-urls.
func (h *CleanupHandler) CronCleanup(w http.ResponseWriter, r *http.Request) {
	if h.cfg.CronSecret == "" {
		h.logger.Error("CRON_SECRET не задан, cron endpoint отклоняет запросы")
		writeCleanup(w, http.StatusInternalServerError, false, 0, "Cron endpoint не настроен")
		return
	}

	token, _ := middleware.BearerToken(r)
	if !secretEqual(token, h.cfg.CronSecret) {
		h.logger.Warn("Cron: неверный секрет", slog.String("remote_addr", r.RemoteAddr))
		writeCleanup(w, http.StatusUnauthorized, false, 0, "Unauthorized")
		return
	}

	if !h.urls.CleanupEnabled(service.TriggerCron) {
		writeCleanup(w, http.StatusOK, true, 0,
			"Cron cleanup is not enabled for strategy "+string(h.cfg.Strategy))
		return
	}

	h.runCleanup(w, r, service.TriggerCron)
}

// CronInfo — GET /api/cron/cleanup-signed-urls.
func (h *CleanupHandler) CronInfo(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, cronInfoResponse{
		Endpoint:     CronCleanupPath,
		Enabled:      h.urls.CleanupEnabled(service.TriggerCron),
		Strategy:     string(h.cfg.Strategy),
		CronSchedule: h.cfg.CronSchedule,
	})
}

// ManualCleanup — POST /api/storage/cleanup. Только администратор.
func (h *CleanupHandler) ManualCleanup(w http.ResponseWriter, r *http.Request) {
	token, ok := middleware.BearerToken(r)
	if !ok {
		writeCleanup(w, http.StatusUnauthorized, false, 0, "Unauthorized")
		return
	}

	claims, err := h.verifier.Verify(r.Context(), token)
	if err != nil {
		h.logger.Warn("Ручная очистка: токен отклонён",
			slog.String("error", err.Error()),
			slog.String("remote_addr", r.RemoteAddr),
		)
		writeCleanup(w, http.StatusUnauthorized, false, 0, "Unauthorized")
		return
	}

	if _, err := h.admins.RequireAdmin(r.Context(), claims.Subject); err != nil {
		switch {
		case errors.Is(err, service.ErrUnauthorized):
			h.logger.Warn("Ручная очистка: пользователь не найден", slog.String("user_id", claims.Subject))
			writeCleanup(w, http.StatusUnauthorized, false, 0, "Unauthorized")
		case errors.Is(err, service.ErrForbidden):
			writeCleanup(w, http.StatusForbidden, false, 0, "Forbidden")
		default:
			h.logger.Error("Ручная очистка: ошибка проверки пользователя", slog.String("error", err.Error()))
			writeCleanup(w, http.StatusInternalServerError, false, 0, "Internal server error")
		}
		return
	}

	if !h.urls.CleanupEnabled(service.TriggerManual) {
		writeCleanup(w, http.StatusOK, true, 0, "Cleanup is not enabled (strategy disabled)")
		return
	}

	h.runCleanup(w, r, service.TriggerManual)
}

func (h *CleanupHandler) runCleanup(w http.ResponseWriter, r *http.Request, trigger service.CleanupTrigger) {
	res, err := h.urls.Cleanup(r.Context(), trigger)
	if err != nil {
		h.logger.Error("Ошибка очистки signed URL",
			slog.String("trigger", string(trigger)),
			slog.String("error", err.Error()),
		)
		writeCleanup(w, http.StatusInternalServerError, false, 0, "Cleanup failed")
		return
	}

	writeCleanup(w, http.StatusOK, true, res.DeletedCount, "Expired signed URLs cleaned up")
}

func writeCleanup(w http.ResponseWriter, status int, success bool, deleted int64, message string) {
	writeJSON(w, status, cleanupResponse{
		Success:      success,
		DeletedCount: deleted,
		Message:      message,
		Timestamp:    time.Now().UTC().Format(time.RFC3339),
	})
}

// secretEqual сравнивает строки за время, не зависящее от содержимого и длины.
func secretEqual(got, want string) bool {
	g := sha256.Sum256([]byte(got))
	e := sha256.Sum256([]byte(want))
	return subtle.ConstantTimeCompare(g[:], e[:]) == 1
}
