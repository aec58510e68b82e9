// auth.go — проверка access token основного приложения.
// Поддерживает HS256 с общим секретом (JWT_SECRET) и RS256 через JWKS (JWT_JWKS_URL).
// Выпуск токенов вне зоны ответственности certstore.
package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/MicahParks/jwkset"
	"github.com/MicahParks/keyfunc/v3"
	"github.com/golang-jwt/jwt/v5"

	apierrors "github.com/bigkaa/certstore/internal/api/errors"
)

// contextKey — тип для ключей контекста (избегаем коллизий).
type contextKey string

const (
	// ContextKeyClaims — извлечённые claims в контексте запроса.
	ContextKeyClaims contextKey = "jwt_claims"
)

// TokenTypeAccess — значение claim "type" для access token.
// Refresh token и прочие типы отклоняются.
const TokenTypeAccess = "access"

// AuthClaims — claims access token, нужные certstore.
type AuthClaims struct {
	// Subject — id пользователя основного приложения.
	Subject string
}

// accessClaims — raw claims access token.
type accessClaims struct {
	jwt.RegisteredClaims
	Type   string `json:"type"`
	UserID string `json:"userId,omitempty"`
}

// JWTConfig — параметры проверки токенов.
type JWTConfig struct {
	// Secret — секрет HS256. Используется, если JWKSURL пуст.
	Secret string
	// JWKSURL — URL JWKS для RS256.
	JWKSURL string
	// Issuer — ожидаемый iss (опционально).
	Issuer string
	// Leeway — допустимое отклонение часов.
	Leeway time.Duration
	// JWKSRefreshInterval — интервал фонового обновления JWKS.
	JWKSRefreshInterval time.Duration
}

// JWTAuth — middleware аутентификации по access token.
type JWTAuth struct {
	keyfunc func(ctx context.Context) jwt.Keyfunc
	methods []string
	issuer  string
	leeway  time.Duration
	logger  *slog.Logger
}

// NewJWTAuth создаёт middleware. JWKS имеет приоритет над общим секретом.
func NewJWTAuth(cfg JWTConfig, logger *slog.Logger) (*JWTAuth, error) {
	if cfg.JWKSURL != "" {
		refresh := cfg.JWKSRefreshInterval
		if refresh <= 0 {
			refresh = time.Hour
		}

		// NoErrorReturnFirstHTTPReq — стартуем даже если JWKS ещё недоступен.
		storage, err := jwkset.NewStorageFromHTTP(cfg.JWKSURL, jwkset.HTTPClientStorageOptions{
			NoErrorReturnFirstHTTPReq: true,
			RefreshInterval:           refresh,
			RefreshErrorHandler: func(_ context.Context, err error) {
				logger.Error("Ошибка обновления JWKS",
					slog.String("error", err.Error()),
					slog.String("url", cfg.JWKSURL),
				)
			},
		})
		if err != nil {
			return nil, fmt.Errorf("создание JWKS storage: %w", err)
		}

		k, err := keyfunc.New(keyfunc.Options{Storage: storage})
		if err != nil {
			return nil, fmt.Errorf("создание keyfunc: %w", err)
		}
		return NewJWTAuthWithKeyfunc(k, cfg.Issuer, cfg.Leeway, logger), nil
	}

	if cfg.Secret == "" {
		return nil, errors.New("JWT_SECRET, JWT_JWKS_URL: не задан ни секрет, ни JWKS")
	}

	secret := []byte(cfg.Secret)
	return &JWTAuth{
		keyfunc: func(context.Context) jwt.Keyfunc {
			return func(*jwt.Token) (any, error) { return secret, nil }
		},
		methods: []string{jwt.SigningMethodHS256.Alg()},
		issuer:  cfg.Issuer,
		leeway:  cfg.Leeway,
		logger:  logger.With(slog.String("component", "jwt_auth")),
	}, nil
}

// NewJWTAuthWithKeyfunc создаёт RS256 middleware с предоставленной keyfunc.
// Используется в тестах для подстановки JWKS.
func NewJWTAuthWithKeyfunc(kf keyfunc.Keyfunc, issuer string, leeway time.Duration, logger *slog.Logger) *JWTAuth {
	return &JWTAuth{
		keyfunc: kf.KeyfuncCtx,
		methods: []string{jwt.SigningMethodRS256.Alg()},
		issuer:  issuer,
		leeway:  leeway,
		logger:  logger.With(slog.String("component", "jwt_auth")),
	}
}

// Middleware возвращает HTTP middleware: извлекает Bearer token,
// проверяет подпись, срок и тип, помещает AuthClaims в контекст.
func (j *JWTAuth) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tokenString, ok := BearerToken(r)
			if !ok {
				apierrors.Unauthorized(w, "Отсутствует или неверный заголовок Authorization")
				return
			}

			claims, err := j.Verify(r.Context(), tokenString)
			if err != nil {
				j.logger.Debug("Access token отклонён",
					slog.String("error", err.Error()),
					slog.String("remote_addr", r.RemoteAddr),
				)
				apierrors.Unauthorized(w, "Невалидный или просроченный токен")
				return
			}

			ctx := context.WithValue(r.Context(), ContextKeyClaims, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// Verify проверяет access token и возвращает claims.
func (j *JWTAuth) Verify(ctx context.Context, tokenString string) (*AuthClaims, error) {
	raw := &accessClaims{}
	parserOpts := []jwt.ParserOption{
		jwt.WithValidMethods(j.methods),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(j.leeway),
	}
	if j.issuer != "" {
		parserOpts = append(parserOpts, jwt.WithIssuer(j.issuer))
	}

	token, err := jwt.ParseWithClaims(tokenString, raw, j.keyfunc(ctx), parserOpts...)
	if err != nil {
		return nil, err
	}
	if !token.Valid {
		return nil, errors.New("невалидный токен")
	}

	if raw.Type != TokenTypeAccess {
		return nil, fmt.Errorf("тип токена %q, ожидался %q", raw.Type, TokenTypeAccess)
	}

	subject := raw.Subject
	if subject == "" {
		subject = raw.UserID
	}
	if subject == "" {
		return nil, errors.New("отсутствует sub в токене")
	}

	return &AuthClaims{Subject: subject}, nil
}

// BearerToken извлекает токен из заголовка Authorization: Bearer <token>.
func BearerToken(r *http.Request) (string, bool) {
	parts := strings.SplitN(r.Header.Get("Authorization"), " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", false
	}
	token := strings.TrimSpace(parts[1])
	return token, token != ""
}

// ClaimsFromContext извлекает AuthClaims из контекста запроса.
// Возвращает nil, если claims не найдены.
func ClaimsFromContext(ctx context.Context) *AuthClaims {
	claims, _ := ctx.Value(ContextKeyClaims).(*AuthClaims)
	return claims
}

// SubjectFromContext извлекает id пользователя из контекста запроса.
func SubjectFromContext(ctx context.Context) string {
	claims := ClaimsFromContext(ctx)
	if claims == nil {
		return ""
	}
	return claims.Subject
}

// --- ReadinessChecker для JWKS ---

// JWKSReadinessChecker — проверка доступности JWKS endpoint.
type JWKSReadinessChecker struct {
	jwksURL string
	client  *http.Client
}

// NewJWKSReadinessChecker создаёт checker доступности JWKS.
func NewJWKSReadinessChecker(jwksURL string, timeout time.Duration) *JWKSReadinessChecker {
	return &JWKSReadinessChecker{
		jwksURL: jwksURL,
		client:  &http.Client{Timeout: timeout},
	}
}

const statusFail = "fail"

// CheckReady проверяет, что JWKS отвечает и содержит ключи.
func (k *JWKSReadinessChecker) CheckReady() (status, message string) {
	req, err := http.NewRequestWithContext(context.Background(), http.MethodGet, k.jwksURL, http.NoBody)
	if err != nil {
		return statusFail, "ошибка создания запроса: " + err.Error()
	}
	resp, err := k.client.Do(req) //nolint:gosec // G704: URL из конфигурации
	if err != nil {
		return statusFail, fmt.Sprintf("JWKS недоступен: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return statusFail, fmt.Sprintf("JWKS вернул статус %d", resp.StatusCode)
	}

	var jwksResp struct {
		Keys []json.RawMessage `json:"keys"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&jwksResp); err != nil {
		return "degraded", fmt.Sprintf("JWKS: невалидный JSON: %v", err)
	}
	if len(jwksResp.Keys) == 0 {
		return "degraded", "JWKS: нет ключей"
	}

	return "ok", fmt.Sprintf("JWKS доступен, ключей: %d", len(jwksResp.Keys))
}
