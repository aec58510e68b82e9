// Пакет config — загрузка и валидация конфигурации certstore
// из переменных окружения. Окружение читается один раз при старте;
// компоненты получают готовый *Config и не обращаются к os.Getenv сами.
package config

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/bigkaa/certstore/internal/domain/model"
	"github.com/bigkaa/certstore/internal/envguard"
)

// Версия приложения, задаётся при сборке через -ldflags.
var Version = "dev"

// Провайдеры хранилища (STORAGE_PROVIDER).
const (
	ProviderLocal  = "local"
	ProviderGCP    = "gcp"
	ProviderVercel = "vercel"
	ProviderS3     = "s3"
	ProviderR2     = "r2"
	ProviderAzure  = "azure"
)

// Config содержит все параметры конфигурации certstore.
type Config struct {
	// --- Сервер ---

	// Порт HTTP-сервера
	Port int
	// Уровень логирования (debug, info, warn, error)
	LogLevel slog.Level
	// Формат логов (json, text)
	LogFormat string
	// Внешний базовый URL для построения signed URL (например, https://certs.example.com)
	PublicBaseURL string
	// Таймаут graceful shutdown HTTP-сервера
	ShutdownTimeout time.Duration

	// --- PostgreSQL ---

	DBHost     string
	DBPort     int
	DBName     string
	DBUser     string
	DBPassword string
	// Режим SSL: disable, require, verify-ca, verify-full
	DBSSLMode string

	// --- Access token ---

	// Секрет HS256 основного приложения (JWT_SECRET)
	JWTSecret string
	// URL JWKS для RS256 (JWT_JWKS_URL), альтернатива JWT_SECRET
	JWTJWKSURL string
	// Ожидаемый issuer (опционально)
	JWTIssuer string
	// Допустимое отклонение часов при проверке exp/nbf
	JWTLeeway time.Duration

	// --- Администратор ---

	// Email администратора (ADMIN_EMAIL). Пустое значение — доступ не получает никто.
	AdminEmail string
	// TTL кэша пользователей
	UserCacheTTL time.Duration
	// Размер кэша пользователей
	UserCacheSize int

	// --- Хранилище ---

	// Провайдер: local, gcp, vercel, s3, r2, azure
	StorageProvider string
	// Корень локального хранилища
	LocalStoragePath string
	// Политики директорий (STORAGE_DIRECTORY_POLICIES, JSON)
	DirectoryPolicies map[string]model.DirectoryPolicy
	// Обнаруженные маркеры serverless-окружения (фиксируются при загрузке)
	ServerlessMarkers []string

	// GCP
	GCPProjectID         string
	GCPSecretID          string
	GCPSecretVersion     string
	GCPBucketName        string
	GCPServiceAccountKey string

	// S3
	S3BucketName      string
	S3Region          string
	S3Endpoint        string
	S3AccessKeyID     string
	S3SecretAccessKey string
	S3ForcePathStyle  bool

	// Cloudflare R2
	R2AccountID       string
	R2AccessKeyID     string
	R2SecretAccessKey string
	R2BucketName      string

	// Azure Blob
	AzureConnectionString string
	AzureContainer        string

	// --- Signed URL ---

	// Стратегия очистки (SIGNED_URL_CLEANUP_STRATEGY)
	CleanupStrategy model.CleanupStrategy
	// Расписание внешнего cron (информационное, отдаётся GET endpoint)
	CleanupCronSchedule string
	// Интервал фоновой очистки внутри процесса (0 — отключена)
	CleanupInterval time.Duration
	// Секрет cron endpoint. Пустой — endpoint отклоняет все запросы.
	CronSecret string
	// TTL signed URL по умолчанию
	SignedURLDefaultTTL time.Duration
	// Таймаут операций с таблицей токенов
	SignedURLStoreTimeout time.Duration

	// --- topologymetrics ---

	DephealthGroup         string
	DephealthCheckInterval time.Duration
}

// Load загружает конфигурацию из переменных окружения, валидирует
// обязательные поля и возвращает Config или ошибку.
// Проверки конкретного провайдера хранилища выполняются при создании бэкенда.
func Load() (*Config, error) {
	cfg := &Config{}
	var err error

	// --- Сервер ---

	cfg.Port, err = getEnvInt("PORT", 8080)
	if err != nil {
		return nil, fmt.Errorf("PORT: %w", err)
	}
	if cfg.Port < 1 || cfg.Port > 65535 {
		return nil, fmt.Errorf("PORT: значение %d вне допустимого диапазона 1-65535", cfg.Port)
	}

	cfg.LogLevel, err = parseLogLevel(getEnvDefault("LOG_LEVEL", "info"))
	if err != nil {
		return nil, fmt.Errorf("LOG_LEVEL: %w", err)
	}

	cfg.LogFormat = getEnvDefault("LOG_FORMAT", "json")
	if cfg.LogFormat != "json" && cfg.LogFormat != "text" {
		return nil, fmt.Errorf("LOG_FORMAT: недопустимое значение %q, допустимые: json, text", cfg.LogFormat)
	}

	cfg.PublicBaseURL = strings.TrimRight(getEnvDefault("PUBLIC_BASE_URL", ""), "/")

	cfg.ShutdownTimeout, err = getEnvDuration("SHUTDOWN_TIMEOUT", 5*time.Second)
	if err != nil {
		return nil, fmt.Errorf("SHUTDOWN_TIMEOUT: %w", err)
	}

	// --- PostgreSQL ---

	if cfg.DBHost, err = getEnvRequired("DB_HOST"); err != nil {
		return nil, err
	}
	cfg.DBPort, err = getEnvInt("DB_PORT", 5432)
	if err != nil {
		return nil, fmt.Errorf("DB_PORT: %w", err)
	}
	if cfg.DBName, err = getEnvRequired("DB_NAME"); err != nil {
		return nil, err
	}
	if cfg.DBUser, err = getEnvRequired("DB_USER"); err != nil {
		return nil, err
	}
	if cfg.DBPassword, err = getEnvRequired("DB_PASSWORD"); err != nil {
		return nil, err
	}
	cfg.DBSSLMode = getEnvDefault("DB_SSL_MODE", "disable")
	validSSLModes := map[string]bool{
		"disable": true, "require": true, "verify-ca": true, "verify-full": true,
	}
	if !validSSLModes[cfg.DBSSLMode] {
		return nil, fmt.Errorf("DB_SSL_MODE: недопустимое значение %q, допустимые: disable, require, verify-ca, verify-full", cfg.DBSSLMode)
	}

	// --- Access token ---

	cfg.JWTSecret = getEnvDefault("JWT_SECRET", "")
	cfg.JWTJWKSURL = getEnvDefault("JWT_JWKS_URL", "")
	if cfg.JWTSecret == "" && cfg.JWTJWKSURL == "" {
		return nil, fmt.Errorf("JWT_SECRET, JWT_JWKS_URL: должна быть задана хотя бы одна переменная для проверки access token")
	}
	cfg.JWTIssuer = getEnvDefault("JWT_ISSUER", "")
	cfg.JWTLeeway, err = getEnvDuration("JWT_LEEWAY", 30*time.Second)
	if err != nil {
		return nil, fmt.Errorf("JWT_LEEWAY: %w", err)
	}

	// --- Администратор ---

	cfg.AdminEmail = strings.TrimSpace(getEnvDefault("ADMIN_EMAIL", ""))
	cfg.UserCacheTTL, err = getEnvDuration("USER_CACHE_TTL", 30*time.Second)
	if err != nil {
		return nil, fmt.Errorf("USER_CACHE_TTL: %w", err)
	}
	cfg.UserCacheSize, err = getEnvInt("USER_CACHE_SIZE", 1000)
	if err != nil {
		return nil, fmt.Errorf("USER_CACHE_SIZE: %w", err)
	}
	if cfg.UserCacheSize < 1 {
		return nil, fmt.Errorf("USER_CACHE_SIZE: значение %d должно быть положительным", cfg.UserCacheSize)
	}

	// --- Хранилище ---

	cfg.StorageProvider = strings.ToLower(getEnvDefault("STORAGE_PROVIDER", ProviderLocal))
	switch cfg.StorageProvider {
	case ProviderLocal, ProviderGCP, ProviderVercel, ProviderS3, ProviderR2, ProviderAzure:
	default:
		return nil, fmt.Errorf("STORAGE_PROVIDER: недопустимое значение %q, допустимые: local, gcp, vercel, s3, r2, azure", cfg.StorageProvider)
	}
	cfg.LocalStoragePath = getEnvDefault("LOCAL_STORAGE_PATH", "./storage")

	cfg.DirectoryPolicies, err = parsePolicies(getEnvDefault("STORAGE_DIRECTORY_POLICIES", ""))
	if err != nil {
		return nil, fmt.Errorf("STORAGE_DIRECTORY_POLICIES: %w", err)
	}

	cfg.ServerlessMarkers = envguard.Detect(os.LookupEnv)

	cfg.GCPProjectID = getEnvDefault("GCP_PROJECT_ID", "")
	cfg.GCPSecretID = getEnvDefault("GCP_SECRET_ID", "")
	cfg.GCPSecretVersion = getEnvDefault("GCP_SECRET_VERSION", "latest")
	cfg.GCPBucketName = getEnvDefault("GCP_BUCKET_NAME", "")
	cfg.GCPServiceAccountKey = getEnvDefault("GCP_SERVICE_ACCOUNT_KEY", "")

	cfg.S3BucketName = getEnvDefault("S3_BUCKET_NAME", "")
	cfg.S3Region = getEnvDefault("S3_REGION", "us-east-1")
	cfg.S3Endpoint = getEnvDefault("S3_ENDPOINT", "")
	cfg.S3AccessKeyID = getEnvDefault("S3_ACCESS_KEY_ID", "")
	cfg.S3SecretAccessKey = getEnvDefault("S3_SECRET_ACCESS_KEY", "")
	cfg.S3ForcePathStyle, err = getEnvBool("S3_FORCE_PATH_STYLE", false)
	if err != nil {
		return nil, fmt.Errorf("S3_FORCE_PATH_STYLE: %w", err)
	}

	cfg.R2AccountID = getEnvDefault("R2_ACCOUNT_ID", "")
	cfg.R2AccessKeyID = getEnvDefault("R2_ACCESS_KEY_ID", "")
	cfg.R2SecretAccessKey = getEnvDefault("R2_SECRET_ACCESS_KEY", "")
	cfg.R2BucketName = getEnvDefault("R2_BUCKET_NAME", "")

	cfg.AzureConnectionString = getEnvDefault("AZURE_STORAGE_CONNECTION_STRING", "")
	cfg.AzureContainer = getEnvDefault("AZURE_STORAGE_CONTAINER", "")

	// --- Signed URL ---

	cfg.CleanupStrategy, err = model.ParseCleanupStrategy(strings.ToLower(getEnvDefault("SIGNED_URL_CLEANUP_STRATEGY", string(model.CleanupLazy))))
	if err != nil {
		return nil, fmt.Errorf("SIGNED_URL_CLEANUP_STRATEGY: %w", err)
	}
	cfg.CleanupCronSchedule = getEnvDefault("SIGNED_URL_CLEANUP_CRON_SCHEDULE", "0 * * * *")
	cfg.CleanupInterval, err = getEnvDuration("SIGNED_URL_CLEANUP_INTERVAL", 0)
	if err != nil {
		return nil, fmt.Errorf("SIGNED_URL_CLEANUP_INTERVAL: %w", err)
	}
	cfg.CronSecret = getEnvDefault("CRON_SECRET", "")

	cfg.SignedURLDefaultTTL, err = getEnvDuration("SIGNED_URL_DEFAULT_TTL", time.Hour)
	if err != nil {
		return nil, fmt.Errorf("SIGNED_URL_DEFAULT_TTL: %w", err)
	}
	if cfg.SignedURLDefaultTTL <= 0 {
		return nil, fmt.Errorf("SIGNED_URL_DEFAULT_TTL: значение должно быть положительным")
	}
	cfg.SignedURLStoreTimeout, err = getEnvDuration("SIGNED_URL_STORE_TIMEOUT", 5*time.Second)
	if err != nil {
		return nil, fmt.Errorf("SIGNED_URL_STORE_TIMEOUT: %w", err)
	}

	// --- topologymetrics ---

	cfg.DephealthGroup = getEnvDefault("DEPHEALTH_GROUP", "certstore")
	cfg.DephealthCheckInterval, err = getEnvDuration("DEPHEALTH_CHECK_INTERVAL", 15*time.Second)
	if err != nil {
		return nil, fmt.Errorf("DEPHEALTH_CHECK_INTERVAL: %w", err)
	}

	return cfg, nil
}

// DatabaseDSN возвращает URL подключения к PostgreSQL для pgxpool.
func (c *Config) DatabaseDSN() string {
	return c.databaseURL("postgres")
}

// MigrateDSN возвращает URL подключения для golang-migrate (драйвер pgx5).
func (c *Config) MigrateDSN() string {
	return c.databaseURL("pgx5")
}

// databaseURL собирает URL через url.URL: пароль может содержать спецсимволы.
func (c *Config) databaseURL(scheme string) string {
	u := url.URL{
		Scheme:   scheme,
		User:     url.UserPassword(c.DBUser, c.DBPassword),
		Host:     net.JoinHostPort(c.DBHost, strconv.Itoa(c.DBPort)),
		Path:     "/" + c.DBName,
		RawQuery: url.Values{"sslmode": {c.DBSSLMode}}.Encode(),
	}
	return u.String()
}

// DatabaseURL возвращает URL PostgreSQL без пароля (для лейблов topologymetrics).
func (c *Config) DatabaseURL() string {
	return fmt.Sprintf("postgres://%s:%d/%s", c.DBHost, c.DBPort, c.DBName)
}

// SetupLogger настраивает глобальный slog-логгер на основе конфигурации.
func SetupLogger(cfg *Config) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}

	var handler slog.Handler
	if cfg.LogFormat == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}

// --- Вспомогательные функции ---

// getEnvRequired возвращает значение переменной окружения или ошибку, если она не задана.
func getEnvRequired(key string) (string, error) {
	val := os.Getenv(key)
	if val == "" {
		return "", fmt.Errorf("%s: обязательная переменная окружения не задана", key)
	}
	return val, nil
}

// getEnvDefault возвращает значение переменной окружения или значение по умолчанию.
func getEnvDefault(key, defaultVal string) string {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	return val
}

// getEnvInt возвращает целочисленное значение переменной окружения или значение по умолчанию.
func getEnvInt(key string, defaultVal int) (int, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return 0, fmt.Errorf("некорректное целое число: %q", val)
	}
	return n, nil
}

// getEnvBool возвращает булево значение переменной окружения или значение по умолчанию.
func getEnvBool(key string, defaultVal bool) (bool, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	b, err := strconv.ParseBool(val)
	if err != nil {
		return false, fmt.Errorf("некорректное булево значение: %q", val)
	}
	return b, nil
}

// getEnvDuration возвращает time.Duration из переменной окружения или значение по умолчанию.
func getEnvDuration(key string, defaultVal time.Duration) (time.Duration, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return 0, fmt.Errorf("некорректная длительность: %q (используйте формат Go: 30s, 1h, 15m)", val)
	}
	return d, nil
}

// parseLogLevel преобразует строку уровня логирования в slog.Level.
func parseLogLevel(level string) (slog.Level, error) {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("недопустимый уровень %q, допустимые: debug, info, warn, error", level)
	}
}

// parsePolicies разбирает JSON-объект "путь → политика".
// Пустая строка — политики не заданы (используются значения по умолчанию).
func parsePolicies(raw string) (map[string]model.DirectoryPolicy, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}
	var policies map[string]model.DirectoryPolicy
	if err := json.Unmarshal([]byte(raw), &policies); err != nil {
		return nil, fmt.Errorf("некорректный JSON: %w", err)
	}
	return policies, nil
}
