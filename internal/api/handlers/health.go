// health.go — обработчики health endpoints certstore.
// /health/live — liveness probe (процесс жив)
// /health/ready — readiness probe (PostgreSQL и, если настроен, JWKS)
// /metrics — Prometheus метрики
package handlers

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/bigkaa/certstore/internal/config"
)

const serviceName = "certstore"

// ReadinessChecker — интерфейс проверки готовности зависимости.
type ReadinessChecker interface {
	// CheckReady возвращает статус ("ok", "degraded", "fail") и сообщение.
	CheckReady() (status string, message string)
}

// HealthHandler — обработчик health endpoints.
type HealthHandler struct {
	checkers    map[string]ReadinessChecker
	provider    string
	promHandler http.Handler
}

// NewHealthHandler создаёт обработчик health endpoints.
// pgChecker обязателен (nil — readiness вернёт "fail"); jwksChecker
// передаётся только при проверке токенов через JWKS.
func NewHealthHandler(pgChecker, jwksChecker ReadinessChecker, storageProvider string) *HealthHandler {
	checkers := map[string]ReadinessChecker{"postgresql": pgChecker}
	if jwksChecker != nil {
		checkers["jwks"] = jwksChecker
	}
	return &HealthHandler{
		checkers:    checkers,
		provider:    storageProvider,
		promHandler: promhttp.Handler(),
	}
}

type healthCheckResult struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

type healthLiveResponse struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
	Version   string `json:"version"`
	Service   string `json:"service"`
}

type healthReadyResponse struct {
	Status          string                       `json:"status"`
	Timestamp       string                       `json:"timestamp"`
	Version         string                       `json:"version"`
	Service         string                       `json:"service"`
	StorageProvider string                       `json:"storageProvider"`
	Checks          map[string]healthCheckResult `json:"checks"`
}

// HealthLive — liveness probe. Возвращает 200 если процесс жив.
func (h *HealthHandler) HealthLive(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, healthLiveResponse{
		Status:    "ok",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Version:   config.Version,
		Service:   serviceName,
	})
}

// HealthReady — readiness probe. 200 (ok/degraded) или 503 (fail).
func (h *HealthHandler) HealthReady(w http.ResponseWriter, _ *http.Request) {
	resp := healthReadyResponse{
		Timestamp:       time.Now().UTC().Format(time.RFC3339),
		Version:         config.Version,
		Service:         serviceName,
		StorageProvider: h.provider,
		Checks:          make(map[string]healthCheckResult, len(h.checkers)),
	}

	statuses := make([]string, 0, len(h.checkers))
	for name, checker := range h.checkers {
		res := healthCheckResult{Status: "fail", Message: "не инициализирован"}
		if checker != nil {
			res.Status, res.Message = checker.CheckReady()
		}
		resp.Checks[name] = res
		statuses = append(statuses, res.Status)
	}
	resp.Status = overallStatus(statuses...)

	status := http.StatusOK
	if resp.Status == "fail" {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, resp)
}

// GetMetrics — Prometheus метрики.
func (h *HealthHandler) GetMetrics(w http.ResponseWriter, r *http.Request) {
	h.promHandler.ServeHTTP(w, r)
}

// overallStatus: хотя бы один fail — fail, хотя бы один degraded — degraded, иначе ok.
func overallStatus(statuses ...string) string {
	hasDegraded := false
	for _, s := range statuses {
		if s == "fail" {
			return "fail"
		}
		if s == "degraded" {
			hasDegraded = true
		}
	}
	if hasDegraded {
		return "degraded"
	}
	return "ok"
}
