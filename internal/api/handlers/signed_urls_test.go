package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/bigkaa/certstore/internal/api/middleware"
	"github.com/bigkaa/certstore/internal/domain/model"
	"github.com/bigkaa/certstore/internal/service"
)

// withToken добавляет chi URL-параметр token.
func withToken(r *http.Request, token string) *http.Request {
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add("token", token)
	return r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))
}

// withUser помещает claims пользователя в контекст, как это делает JWTAuth.
func withUser(r *http.Request, userID string) *http.Request {
	claims := &middleware.AuthClaims{Subject: userID}
	return r.WithContext(context.WithValue(r.Context(), middleware.ContextKeyClaims, claims))
}

func TestIssue(t *testing.T) {
	expires := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	urls := &mockSignedURLs{
		issueFn: func(_ context.Context, rawPath string, ttl time.Duration) (*service.IssuedURL, error) {
			switch rawPath {
			case "../secret":
				return nil, service.ErrInvalidPath
			case "public/missing.pdf":
				return nil, service.ErrNotFound
			case "public/down.pdf":
				return nil, service.ErrStoreUnavailable
			}
			if ttl != 10*time.Minute {
				t.Errorf("ttl = %v, ожидалось 10m", ttl)
			}
			return &service.IssuedURL{
				SignedURL: model.SignedURL{ID: "id-1", FilePath: rawPath, ExpiresAt: expires},
				URL:       "https://certs.example.com/api/storage/signed/id-1",
			}, nil
		},
	}
	h := NewSignedURLHandler(urls, &mockFiles{}, &mockAdmins{}, testLogger())

	tests := []struct {
		name       string
		body       string
		wantStatus int
	}{
		{"успех", `{"path":"public/a.pdf","expiresInSeconds":600}`, http.StatusCreated},
		{"traversal", `{"path":"../secret","expiresInSeconds":600}`, http.StatusNotFound},
		{"нет файла", `{"path":"public/missing.pdf","expiresInSeconds":600}`, http.StatusNotFound},
		{"хранилище недоступно", `{"path":"public/down.pdf","expiresInSeconds":600}`, http.StatusServiceUnavailable},
		{"пустой path", `{"expiresInSeconds":600}`, http.StatusBadRequest},
		{"отрицательный TTL", `{"path":"public/a.pdf","expiresInSeconds":-1}`, http.StatusBadRequest},
		{"невалидный JSON", `{`, http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := withUser(httptest.NewRequest(http.MethodPost, "/api/storage/signed-urls", strings.NewReader(tt.body)), "alice")
			rec := httptest.NewRecorder()
			h.Issue(rec, req)

			if rec.Code != tt.wantStatus {
				t.Fatalf("статус = %d, ожидался %d: %s", rec.Code, tt.wantStatus, rec.Body.String())
			}
			if tt.wantStatus != http.StatusCreated {
				return
			}
			var resp issueResponse
			if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
				t.Fatal(err)
			}
			if resp.ID != "id-1" || resp.FilePath != "public/a.pdf" || !resp.ExpiresAt.Equal(expires) {
				t.Errorf("ответ = %+v", resp)
			}
		})
	}
}

// Отклонённый путь и отсутствующий файл дают побайтно одинаковый ответ.
func TestIssue_RejectedPathLooksAbsent(t *testing.T) {
	urls := &mockSignedURLs{
		issueFn: func(_ context.Context, rawPath string, _ time.Duration) (*service.IssuedURL, error) {
			if rawPath == "public/missing.pdf" {
				return nil, service.ErrNotFound
			}
			return nil, service.ErrInvalidPath
		},
	}
	h := NewSignedURLHandler(urls, &mockFiles{}, &mockAdmins{}, testLogger())

	issue := func(path string) *httptest.ResponseRecorder {
		body := `{"path":` + strconv.Quote(path) + `}`
		req := withUser(httptest.NewRequest(http.MethodPost, "/api/storage/signed-urls", strings.NewReader(body)), "alice")
		rec := httptest.NewRecorder()
		h.Issue(rec, req)
		return rec
	}

	absent := issue("public/missing.pdf")
	if absent.Code != http.StatusNotFound {
		t.Fatalf("нет файла: статус %d", absent.Code)
	}
	for _, p := range []string{"../../etc/passwd", "/etc/passwd", `public\..\..\secret`} {
		rec := issue(p)
		if rec.Code != absent.Code || rec.Body.String() != absent.Body.String() {
			t.Errorf("путь %q: %d %s, ожидалось %d %s", p, rec.Code, rec.Body.String(), absent.Code, absent.Body.String())
		}
	}
}

func TestDownload(t *testing.T) {
	files := &mockFiles{files: map[string]string{"public/certs/a.pdf": "%PDF-1.7"}}
	urls := &mockSignedURLs{
		claimFn: func(_ context.Context, id string) (*model.SignedURL, error) {
			switch id {
			case "good":
				return &model.SignedURL{ID: id, FilePath: "public/certs/a.pdf", Used: true}, nil
			case "gone":
				return &model.SignedURL{ID: id, FilePath: "public/certs/deleted.pdf", Used: true}, nil
			case "slow":
				return nil, service.ErrStoreUnavailable
			}
			return nil, nil
		},
	}
	h := NewSignedURLHandler(urls, files, &mockAdmins{}, testLogger())

	tests := []struct {
		token      string
		wantStatus int
	}{
		{"good", http.StatusOK},
		{"unknown", http.StatusNotFound},
		{"gone", http.StatusNotFound},
		{"slow", http.StatusServiceUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.token, func(t *testing.T) {
			req := withToken(httptest.NewRequest(http.MethodGet, "/api/storage/signed/"+tt.token, nil), tt.token)
			rec := httptest.NewRecorder()
			h.Download(rec, req)

			if rec.Code != tt.wantStatus {
				t.Fatalf("статус = %d, ожидался %d", rec.Code, tt.wantStatus)
			}
			if tt.wantStatus != http.StatusOK {
				return
			}
			if rec.Body.String() != "%PDF-1.7" {
				t.Errorf("тело = %q", rec.Body.String())
			}
			hdr := rec.Header()
			if hdr.Get("Content-Type") != "application/pdf" {
				t.Errorf("Content-Type = %q", hdr.Get("Content-Type"))
			}
			if hdr.Get("Content-Length") != "8" {
				t.Errorf("Content-Length = %q", hdr.Get("Content-Length"))
			}
			if hdr.Get("Last-Modified") != "Fri, 02 Jan 2026 03:04:05 GMT" {
				t.Errorf("Last-Modified = %q", hdr.Get("Last-Modified"))
			}
			if !strings.Contains(hdr.Get("Content-Disposition"), `filename=a.pdf`) {
				t.Errorf("Content-Disposition = %q", hdr.Get("Content-Disposition"))
			}
		})
	}
}

// Отказы неотличимы друг от друга по телу ответа.
func TestDownload_UniformNotFound(t *testing.T) {
	files := &mockFiles{files: map[string]string{}}
	urls := &mockSignedURLs{
		claimFn: func(_ context.Context, id string) (*model.SignedURL, error) {
			if id == "gone" {
				return &model.SignedURL{ID: id, FilePath: "public/x.pdf"}, nil
			}
			return nil, nil
		},
	}
	h := NewSignedURLHandler(urls, files, &mockAdmins{}, testLogger())

	var bodies []string
	for _, token := range []string{"gone", "used-or-expired"} {
		rec := httptest.NewRecorder()
		h.Download(rec, withToken(httptest.NewRequest(http.MethodGet, "/", nil), token))
		bodies = append(bodies, rec.Body.String())
	}
	if bodies[0] != bodies[1] {
		t.Errorf("тела ответов различаются: %q vs %q", bodies[0], bodies[1])
	}
}

func TestDownload_ReadError(t *testing.T) {
	files := &mockFiles{err: errors.New("bucket unreachable")}
	urls := &mockSignedURLs{claimFn: func(_ context.Context, id string) (*model.SignedURL, error) {
		return &model.SignedURL{ID: id, FilePath: "public/a.pdf"}, nil
	}}
	h := NewSignedURLHandler(urls, files, &mockAdmins{}, testLogger())

	rec := httptest.NewRecorder()
	h.Download(rec, withToken(httptest.NewRequest(http.MethodGet, "/", nil), "good"))
	if rec.Code != http.StatusInternalServerError {
		t.Errorf("статус = %d, ожидался 500", rec.Code)
	}
}

func TestInfo(t *testing.T) {
	created := time.Now().Add(-2 * time.Hour)
	urls := &mockSignedURLs{
		getByIDFn: func(_ context.Context, id string) (*model.SignedURL, error) {
			if id == "known" {
				return &model.SignedURL{
					ID: id, FilePath: "public/a.pdf", Used: true,
					ExpiresAt: created.Add(time.Hour), CreatedAt: created,
				}, nil
			}
			return nil, service.ErrNotFound
		},
	}
	admins := &mockAdmins{
		users:      map[string]string{"admin": "admin@example.com", "alice": "alice@example.com"},
		adminEmail: "admin@example.com",
	}
	h := NewSignedURLHandler(urls, &mockFiles{}, admins, testLogger())

	tests := []struct {
		name       string
		user       string
		token      string
		wantStatus int
	}{
		{"администратор", "admin", "known", http.StatusOK},
		{"неизвестный токен", "admin", "other", http.StatusNotFound},
		{"не администратор", "alice", "known", http.StatusForbidden},
		{"пользователь не найден", "ghost", "known", http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := withToken(withUser(httptest.NewRequest(http.MethodGet, "/", nil), tt.user), tt.token)
			rec := httptest.NewRecorder()
			h.Info(rec, req)

			if rec.Code != tt.wantStatus {
				t.Fatalf("статус = %d, ожидался %d", rec.Code, tt.wantStatus)
			}
			if tt.wantStatus != http.StatusOK {
				return
			}
			var resp signedURLInfo
			if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
				t.Fatal(err)
			}
			if !resp.Used || !resp.Expired {
				t.Errorf("ответ = %+v, ожидались used и expired", resp)
			}
		})
	}
}
