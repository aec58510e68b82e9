package handlers

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/bigkaa/certstore/internal/api/middleware"
	"github.com/bigkaa/certstore/internal/domain/model"
	"github.com/bigkaa/certstore/internal/service"
	"github.com/bigkaa/certstore/internal/storage"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// mockSignedURLs — мок SignedURLs.
type mockSignedURLs struct {
	policy      model.CleanupPolicy
	cleanupErr  error
	deleted     int64
	cleanups    int
	issueFn     func(ctx context.Context, rawPath string, ttl time.Duration) (*service.IssuedURL, error)
	claimFn     func(ctx context.Context, id string) (*model.SignedURL, error)
	getByIDFn   func(ctx context.Context, id string) (*model.SignedURL, error)
	lastTrigger service.CleanupTrigger
}

func (m *mockSignedURLs) Issue(ctx context.Context, rawPath string, ttl time.Duration) (*service.IssuedURL, error) {
	if m.issueFn != nil {
		return m.issueFn(ctx, rawPath, ttl)
	}
	return nil, errors.New("not implemented")
}

func (m *mockSignedURLs) Claim(ctx context.Context, id string) (*model.SignedURL, error) {
	if m.claimFn != nil {
		return m.claimFn(ctx, id)
	}
	return nil, nil
}

func (m *mockSignedURLs) Cleanup(_ context.Context, trigger service.CleanupTrigger) (*service.CleanupResult, error) {
	m.cleanups++
	m.lastTrigger = trigger
	if m.cleanupErr != nil {
		return nil, m.cleanupErr
	}
	return &service.CleanupResult{Enabled: true, DeletedCount: m.deleted}, nil
}

func (m *mockSignedURLs) CleanupEnabled(trigger service.CleanupTrigger) bool {
	switch trigger {
	case service.TriggerCron, service.TriggerInterval:
		return m.policy.SweepsScheduled()
	case service.TriggerManual:
		return m.policy.SweepsOnDemand()
	}
	return false
}

func (m *mockSignedURLs) GetByID(ctx context.Context, id string) (*model.SignedURL, error) {
	if m.getByIDFn != nil {
		return m.getByIDFn(ctx, id)
	}
	return nil, service.ErrNotFound
}

// mockAdmins — мок Admins: users — id → email, adminEmail — email администратора.
type mockAdmins struct {
	users      map[string]string
	adminEmail string
	err        error
}

func (m *mockAdmins) RequireAdmin(_ context.Context, userID string) (*model.User, error) {
	if m.err != nil {
		return nil, m.err
	}
	email, ok := m.users[userID]
	if !ok {
		return nil, service.ErrUnauthorized
	}
	if m.adminEmail == "" || !strings.EqualFold(email, m.adminEmail) {
		return nil, service.ErrForbidden
	}
	return &model.User{ID: userID, Email: email}, nil
}

// mockVerifier принимает токены вида "valid:<userID>".
type mockVerifier struct{}

func (mockVerifier) Verify(_ context.Context, token string) (*middleware.AuthClaims, error) {
	sub, ok := strings.CutPrefix(token, "valid:")
	if !ok {
		return nil, errors.New("invalid token")
	}
	return &middleware.AuthClaims{Subject: sub}, nil
}

// mockFiles — мок FileReader.
type mockFiles struct {
	files map[string]string
	err   error
}

func (m *mockFiles) Read(_ context.Context, rawPath string) (io.ReadCloser, *model.FileMetadata, error) {
	if m.err != nil {
		return nil, nil, m.err
	}
	content, ok := m.files[rawPath]
	if !ok {
		return nil, nil, storage.ErrNotFound
	}
	return io.NopCloser(strings.NewReader(content)), &model.FileMetadata{
		Path:         rawPath,
		Size:         int64(len(content)),
		ContentType:  "application/pdf",
		LastModified: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	}, nil
}
