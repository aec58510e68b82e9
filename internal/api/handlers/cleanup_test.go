package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/bigkaa/certstore/internal/domain/model"
	"github.com/bigkaa/certstore/internal/service"
)

func decodeCleanup(t *testing.T, rec *httptest.ResponseRecorder) cleanupResponse {
	t.Helper()
	var resp cleanupResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("декодирование ответа: %v", err)
	}
	if resp.Timestamp == "" {
		t.Error("timestamp не заполнен")
	}
	return resp
}

func newCleanupHandler(urls *mockSignedURLs, admins *mockAdmins, secret string, strategy model.CleanupStrategy) *CleanupHandler {
	return NewCleanupHandler(urls, admins, mockVerifier{}, CleanupConfig{
		CronSecret:   secret,
		Strategy:     strategy,
		CronSchedule: "0 * * * *",
	}, testLogger())
}

func TestCronCleanup(t *testing.T) {
	tests := []struct {
		name        string
		secret      string
		strategy    model.CleanupStrategy
		header      string
		wantStatus  int
		wantSuccess bool
		wantDeleted int64
		wantMessage string
		wantSweep   bool
	}{
		{
			name: "секрет не настроен", secret: "", strategy: model.CleanupCron,
			header: "Bearer anything", wantStatus: http.StatusInternalServerError,
		},
		{
			name: "неверный секрет", secret: "s3cret", strategy: model.CleanupCron,
			header: "Bearer wrong", wantStatus: http.StatusUnauthorized,
		},
		{
			name: "без заголовка", secret: "s3cret", strategy: model.CleanupCron,
			wantStatus: http.StatusUnauthorized,
		},
		{
			name: "префикс секрета", secret: "s3cret", strategy: model.CleanupCron,
			header: "Bearer s3cre", wantStatus: http.StatusUnauthorized,
		},
		{
			name: "стратегия lazy", secret: "s3cret", strategy: model.CleanupLazy,
			header: "Bearer s3cret", wantStatus: http.StatusOK, wantSuccess: true,
			wantMessage: "not enabled",
		},
		{
			name: "стратегия disabled", secret: "s3cret", strategy: model.CleanupDisabled,
			header: "Bearer s3cret", wantStatus: http.StatusOK, wantSuccess: true,
			wantMessage: "not enabled",
		},
		{
			name: "стратегия cron", secret: "s3cret", strategy: model.CleanupCron,
			header: "Bearer s3cret", wantStatus: http.StatusOK, wantSuccess: true,
			wantDeleted: 2, wantSweep: true,
		},
		{
			name: "стратегия both", secret: "s3cret", strategy: model.CleanupBoth,
			header: "Bearer s3cret", wantStatus: http.StatusOK, wantSuccess: true,
			wantDeleted: 2, wantSweep: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			urls := &mockSignedURLs{policy: tt.strategy.Policy(), deleted: 2}
			h := newCleanupHandler(urls, &mockAdmins{}, tt.secret, tt.strategy)

			req := httptest.NewRequest(http.MethodPost, CronCleanupPath, nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			h.CronCleanup(rec, req)

			if rec.Code != tt.wantStatus {
				t.Fatalf("статус = %d, ожидался %d", rec.Code, tt.wantStatus)
			}
			resp := decodeCleanup(t, rec)
			if resp.Success != tt.wantSuccess {
				t.Errorf("success = %v, ожидалось %v", resp.Success, tt.wantSuccess)
			}
			if resp.DeletedCount != tt.wantDeleted {
				t.Errorf("deletedCount = %d, ожидалось %d", resp.DeletedCount, tt.wantDeleted)
			}
			if tt.wantMessage != "" && !strings.Contains(resp.Message, tt.wantMessage) {
				t.Errorf("message = %q, ожидалось содержание %q", resp.Message, tt.wantMessage)
			}
			if (urls.cleanups > 0) != tt.wantSweep {
				t.Errorf("очистка выполнена %d раз, ожидалось %v", urls.cleanups, tt.wantSweep)
			}
			if tt.wantSweep && urls.lastTrigger != service.TriggerCron {
				t.Errorf("trigger = %q, ожидался cron", urls.lastTrigger)
			}
		})
	}
}

func TestCronCleanup_StoreError(t *testing.T) {
	urls := &mockSignedURLs{policy: model.CleanupCron.Policy(), cleanupErr: errors.New("relation signed_urls: connection reset")}
	h := newCleanupHandler(urls, &mockAdmins{}, "s3cret", model.CleanupCron)

	req := httptest.NewRequest(http.MethodPost, CronCleanupPath, nil)
	req.Header.Set("Authorization", "Bearer s3cret")
	rec := httptest.NewRecorder()
	h.CronCleanup(rec, req)

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("статус = %d, ожидался 500", rec.Code)
	}
	resp := decodeCleanup(t, rec)
	if resp.Success || strings.Contains(resp.Message, "connection") {
		t.Errorf("ответ не должен раскрывать детали ошибки: %+v", resp)
	}
}

func TestCronInfo(t *testing.T) {
	for _, tt := range []struct {
		strategy    model.CleanupStrategy
		wantEnabled bool
	}{
		{model.CleanupLazy, false},
		{model.CleanupCron, true},
		{model.CleanupBoth, true},
		{model.CleanupDisabled, false},
	} {
		t.Run(string(tt.strategy), func(t *testing.T) {
			urls := &mockSignedURLs{policy: tt.strategy.Policy()}
			h := newCleanupHandler(urls, &mockAdmins{}, "s3cret", tt.strategy)

			rec := httptest.NewRecorder()
			h.CronInfo(rec, httptest.NewRequest(http.MethodGet, CronCleanupPath, nil))

			var resp cronInfoResponse
			if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
				t.Fatal(err)
			}
			if resp.Enabled != tt.wantEnabled || resp.Strategy != string(tt.strategy) {
				t.Errorf("ответ = %+v", resp)
			}
			if resp.Endpoint != CronCleanupPath || resp.CronSchedule != "0 * * * *" {
				t.Errorf("ответ = %+v", resp)
			}
		})
	}
}

func TestManualCleanup(t *testing.T) {
	users := map[string]string{
		"admin": "admin@example.com",
		"alice": "alice@example.com",
	}

	tests := []struct {
		name        string
		adminEmail  string
		strategy    model.CleanupStrategy
		header      string
		wantStatus  int
		wantDeleted int64
		wantSweep   bool
	}{
		{"без токена", "admin@example.com", model.CleanupLazy, "", http.StatusUnauthorized, 0, false},
		{"невалидный токен", "admin@example.com", model.CleanupLazy, "Bearer garbage", http.StatusUnauthorized, 0, false},
		{"пользователь не найден", "admin@example.com", model.CleanupLazy, "Bearer valid:ghost", http.StatusUnauthorized, 0, false},
		{"не администратор", "admin@example.com", model.CleanupLazy, "Bearer valid:alice", http.StatusForbidden, 0, false},
		{"ADMIN_EMAIL не задан", "", model.CleanupLazy, "Bearer valid:admin", http.StatusForbidden, 0, false},
		{"администратор, lazy", "admin@example.com", model.CleanupLazy, "Bearer valid:admin", http.StatusOK, 5, true},
		{"администратор, cron", "admin@example.com", model.CleanupCron, "Bearer valid:admin", http.StatusOK, 5, true},
		{"администратор, disabled", "admin@example.com", model.CleanupDisabled, "Bearer valid:admin", http.StatusOK, 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			urls := &mockSignedURLs{policy: tt.strategy.Policy(), deleted: 5}
			admins := &mockAdmins{users: users, adminEmail: tt.adminEmail}
			h := newCleanupHandler(urls, admins, "s3cret", tt.strategy)

			req := httptest.NewRequest(http.MethodPost, "/api/storage/cleanup", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			h.ManualCleanup(rec, req)

			if rec.Code != tt.wantStatus {
				t.Fatalf("статус = %d, ожидался %d", rec.Code, tt.wantStatus)
			}
			resp := decodeCleanup(t, rec)
			if resp.DeletedCount != tt.wantDeleted {
				t.Errorf("deletedCount = %d, ожидалось %d", resp.DeletedCount, tt.wantDeleted)
			}
			if (urls.cleanups > 0) != tt.wantSweep {
				t.Errorf("очистка выполнена %d раз, ожидалось %v", urls.cleanups, tt.wantSweep)
			}
			if tt.wantSweep && urls.lastTrigger != service.TriggerManual {
				t.Errorf("trigger = %q, ожидался manual", urls.lastTrigger)
			}
		})
	}
}

func TestManualCleanup_UserLookupError(t *testing.T) {
	urls := &mockSignedURLs{policy: model.CleanupLazy.Policy()}
	admins := &mockAdmins{err: errors.New("db down")}
	h := newCleanupHandler(urls, admins, "s3cret", model.CleanupLazy)

	req := httptest.NewRequest(http.MethodPost, "/api/storage/cleanup", nil)
	req.Header.Set("Authorization", "Bearer valid:admin")
	rec := httptest.NewRecorder()
	h.ManualCleanup(rec, req)

	if rec.Code != http.StatusInternalServerError {
		t.Errorf("статус = %d, ожидался 500", rec.Code)
	}
}

func TestSecretEqual(t *testing.T) {
	if !secretEqual("abc", "abc") {
		t.Error("равные строки")
	}
	for _, got := range []string{"", "ab", "abcd", "abd"} {
		if secretEqual(got, "abc") {
			t.Errorf("secretEqual(%q, abc) = true", got)
		}
	}
}
