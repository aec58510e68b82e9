package config

import (
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/bigkaa/certstore/internal/domain/model"
)

// setEnvs устанавливает переменные окружения на время теста.
func setEnvs(t *testing.T, envs map[string]string) {
	t.Helper()
	for k, v := range envs {
		t.Setenv(k, v)
	}
}

// minimalEnvs возвращает минимальный набор обязательных переменных.
func minimalEnvs() map[string]string {
	return map[string]string{
		"DB_HOST":     "localhost",
		"DB_NAME":     "certstore",
		"DB_USER":     "certstore",
		"DB_PASSWORD": "secret",
		"JWT_SECRET":  "jwt-secret",
	}
}

// clearMarkers сбрасывает маркеры serverless, которые могут быть выставлены CI.
func clearMarkers(t *testing.T) {
	t.Helper()
	for _, m := range []string{
		"VERCEL", "AWS_LAMBDA_FUNCTION_NAME", "K_SERVICE", "FUNCTION_TARGET",
		"FUNCTIONS_WORKER_RUNTIME", "CF_PAGES", "RAILWAY_ENVIRONMENT",
	} {
		t.Setenv(m, "")
	}
}

func TestLoad_MinimalConfig(t *testing.T) {
	clearMarkers(t)
	setEnvs(t, minimalEnvs())

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() вернул ошибку: %v", err)
	}

	if cfg.Port != 8080 {
		t.Errorf("Port = %d, ожидается 8080", cfg.Port)
	}
	if cfg.LogLevel != slog.LevelInfo {
		t.Errorf("LogLevel = %v, ожидается Info", cfg.LogLevel)
	}
	if cfg.LogFormat != "json" {
		t.Errorf("LogFormat = %q, ожидается json", cfg.LogFormat)
	}
	if cfg.DBPort != 5432 {
		t.Errorf("DBPort = %d, ожидается 5432", cfg.DBPort)
	}
	if cfg.StorageProvider != ProviderLocal {
		t.Errorf("StorageProvider = %q, ожидается local", cfg.StorageProvider)
	}
	if cfg.LocalStoragePath != "./storage" {
		t.Errorf("LocalStoragePath = %q, ожидается ./storage", cfg.LocalStoragePath)
	}
	if cfg.CleanupStrategy != model.CleanupLazy {
		t.Errorf("CleanupStrategy = %q, ожидается lazy", cfg.CleanupStrategy)
	}
	if cfg.CleanupCronSchedule != "0 * * * *" {
		t.Errorf("CleanupCronSchedule = %q, ожидается \"0 * * * *\"", cfg.CleanupCronSchedule)
	}
	if cfg.CleanupInterval != 0 {
		t.Errorf("CleanupInterval = %v, ожидается 0", cfg.CleanupInterval)
	}
	if cfg.SignedURLDefaultTTL != time.Hour {
		t.Errorf("SignedURLDefaultTTL = %v, ожидается 1h", cfg.SignedURLDefaultTTL)
	}
	if cfg.SignedURLStoreTimeout != 5*time.Second {
		t.Errorf("SignedURLStoreTimeout = %v, ожидается 5s", cfg.SignedURLStoreTimeout)
	}
	if cfg.GCPSecretVersion != "latest" {
		t.Errorf("GCPSecretVersion = %q, ожидается latest", cfg.GCPSecretVersion)
	}
	if cfg.CronSecret != "" {
		t.Errorf("CronSecret = %q, ожидается пустая строка", cfg.CronSecret)
	}
	if cfg.AdminEmail != "" {
		t.Errorf("AdminEmail = %q, ожидается пустая строка", cfg.AdminEmail)
	}
	if len(cfg.ServerlessMarkers) != 0 {
		t.Errorf("ServerlessMarkers = %v, ожидается пустой список", cfg.ServerlessMarkers)
	}
	if cfg.DirectoryPolicies != nil {
		t.Errorf("DirectoryPolicies = %v, ожидается nil", cfg.DirectoryPolicies)
	}
}

func TestLoad_CustomValues(t *testing.T) {
	clearMarkers(t)
	envs := minimalEnvs()
	envs["PORT"] = "9000"
	envs["LOG_LEVEL"] = "debug"
	envs["LOG_FORMAT"] = "text"
	envs["PUBLIC_BASE_URL"] = "https://certs.example.com/"
	envs["STORAGE_PROVIDER"] = "S3"
	envs["S3_FORCE_PATH_STYLE"] = "true"
	envs["SIGNED_URL_CLEANUP_STRATEGY"] = "both"
	envs["SIGNED_URL_CLEANUP_INTERVAL"] = "10m"
	envs["CRON_SECRET"] = "cron"
	envs["ADMIN_EMAIL"] = " admin@example.com "
	envs["STORAGE_DIRECTORY_POLICIES"] = `{"uploads":{"allowUploads":true,"allowDeleteFiles":true}}`
	setEnvs(t, envs)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() вернул ошибку: %v", err)
	}

	if cfg.Port != 9000 {
		t.Errorf("Port = %d, ожидается 9000", cfg.Port)
	}
	if cfg.LogLevel != slog.LevelDebug {
		t.Errorf("LogLevel = %v, ожидается Debug", cfg.LogLevel)
	}
	if cfg.PublicBaseURL != "https://certs.example.com" {
		t.Errorf("PublicBaseURL = %q, завершающий слэш должен быть удалён", cfg.PublicBaseURL)
	}
	if cfg.StorageProvider != ProviderS3 {
		t.Errorf("StorageProvider = %q, ожидается s3", cfg.StorageProvider)
	}
	if !cfg.S3ForcePathStyle {
		t.Error("S3ForcePathStyle = false, ожидается true")
	}
	if cfg.CleanupStrategy != model.CleanupBoth {
		t.Errorf("CleanupStrategy = %q, ожидается both", cfg.CleanupStrategy)
	}
	if cfg.CleanupInterval != 10*time.Minute {
		t.Errorf("CleanupInterval = %v, ожидается 10m", cfg.CleanupInterval)
	}
	if cfg.AdminEmail != "admin@example.com" {
		t.Errorf("AdminEmail = %q, пробелы должны быть обрезаны", cfg.AdminEmail)
	}
	p, ok := cfg.DirectoryPolicies["uploads"]
	if !ok {
		t.Fatal("политика uploads не разобрана")
	}
	if !p.AllowUploads || !p.AllowDeleteFiles || p.IsProtected {
		t.Errorf("политика uploads разобрана неверно: %+v", p)
	}
}

func TestLoad_ServerlessMarkers(t *testing.T) {
	clearMarkers(t)
	setEnvs(t, minimalEnvs())
	t.Setenv("VERCEL", "1")
	t.Setenv("K_SERVICE", "certstore")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() вернул ошибку: %v", err)
	}
	if strings.Join(cfg.ServerlessMarkers, ",") != "VERCEL,K_SERVICE" {
		t.Errorf("ServerlessMarkers = %v, ожидается [VERCEL K_SERVICE]", cfg.ServerlessMarkers)
	}
}

func TestLoad_JWKSInsteadOfSecret(t *testing.T) {
	clearMarkers(t)
	envs := minimalEnvs()
	delete(envs, "JWT_SECRET")
	envs["JWT_JWKS_URL"] = "https://auth.example.com/.well-known/jwks.json"
	setEnvs(t, envs)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() вернул ошибку: %v", err)
	}
	if cfg.JWTJWKSURL == "" {
		t.Error("JWTJWKSURL должен быть задан")
	}
}

func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(map[string]string)
		wantVar string
	}{
		{"нет DB_HOST", func(e map[string]string) { delete(e, "DB_HOST") }, "DB_HOST"},
		{"нет DB_PASSWORD", func(e map[string]string) { delete(e, "DB_PASSWORD") }, "DB_PASSWORD"},
		{"нет JWT", func(e map[string]string) { delete(e, "JWT_SECRET") }, "JWT_JWKS_URL"},
		{"некорректный PORT", func(e map[string]string) { e["PORT"] = "abc" }, "PORT"},
		{"PORT вне диапазона", func(e map[string]string) { e["PORT"] = "70000" }, "PORT"},
		{"некорректный LOG_LEVEL", func(e map[string]string) { e["LOG_LEVEL"] = "verbose" }, "LOG_LEVEL"},
		{"некорректный LOG_FORMAT", func(e map[string]string) { e["LOG_FORMAT"] = "xml" }, "LOG_FORMAT"},
		{"некорректный DB_SSL_MODE", func(e map[string]string) { e["DB_SSL_MODE"] = "prefer" }, "DB_SSL_MODE"},
		{"неизвестный провайдер", func(e map[string]string) { e["STORAGE_PROVIDER"] = "ftp" }, "STORAGE_PROVIDER"},
		{"неизвестная стратегия", func(e map[string]string) { e["SIGNED_URL_CLEANUP_STRATEGY"] = "weekly" }, "SIGNED_URL_CLEANUP_STRATEGY"},
		{"некорректный TTL", func(e map[string]string) { e["SIGNED_URL_DEFAULT_TTL"] = "1 hour" }, "SIGNED_URL_DEFAULT_TTL"},
		{"нулевой TTL", func(e map[string]string) { e["SIGNED_URL_DEFAULT_TTL"] = "0s" }, "SIGNED_URL_DEFAULT_TTL"},
		{"некорректный bool", func(e map[string]string) { e["S3_FORCE_PATH_STYLE"] = "da" }, "S3_FORCE_PATH_STYLE"},
		{"некорректные политики", func(e map[string]string) { e["STORAGE_DIRECTORY_POLICIES"] = "{" }, "STORAGE_DIRECTORY_POLICIES"},
		{"нулевой размер кэша", func(e map[string]string) { e["USER_CACHE_SIZE"] = "0" }, "USER_CACHE_SIZE"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearMarkers(t)
			envs := minimalEnvs()
			tt.modify(envs)
			// Явно очищаем удалённые обязательные переменные
			for _, k := range []string{"DB_HOST", "DB_PASSWORD", "JWT_SECRET"} {
				if _, ok := envs[k]; !ok {
					t.Setenv(k, "")
				}
			}
			t.Setenv("JWT_JWKS_URL", "")
			setEnvs(t, envs)

			_, err := Load()
			if err == nil {
				t.Fatal("Load() должен вернуть ошибку")
			}
			if !strings.Contains(err.Error(), tt.wantVar) {
				t.Errorf("ошибка должна содержать %q: %v", tt.wantVar, err)
			}
		})
	}
}

func TestDatabaseDSN(t *testing.T) {
	cfg := &Config{
		DBHost: "db", DBPort: 5433, DBName: "certs", DBUser: "u", DBPassword: "p", DBSSLMode: "require",
	}
	if got, want := cfg.DatabaseDSN(), "postgres://u:p@db:5433/certs?sslmode=require"; got != want {
		t.Errorf("DatabaseDSN() = %q, ожидается %q", got, want)
	}
	if got, want := cfg.MigrateDSN(), "pgx5://u:p@db:5433/certs?sslmode=require"; got != want {
		t.Errorf("MigrateDSN() = %q, ожидается %q", got, want)
	}
	if got := cfg.DatabaseURL(); got != "postgres://db:5433/certs" {
		t.Errorf("DatabaseURL() = %q", got)
	}
}

// Спецсимволы в пароле и имени пользователя доходят до pgx без искажений.
func TestDatabaseDSN_SpecialCharacters(t *testing.T) {
	tests := []string{
		"pass word",
		"it's",
		`q"uo\te`,
		"a@b:c/d?e#f%g",
		"пароль=1 sslmode=disable",
	}

	for _, password := range tests {
		t.Run(password, func(t *testing.T) {
			cfg := &Config{
				DBHost: "db", DBPort: 5432, DBName: "certs", DBUser: "cert user",
				DBPassword: password, DBSSLMode: "disable",
			}
			pc, err := pgconn.ParseConfig(cfg.DatabaseDSN())
			if err != nil {
				t.Fatalf("ParseConfig(%q) ошибка: %v", cfg.DatabaseDSN(), err)
			}
			if pc.Password != password {
				t.Errorf("Password = %q, ожидается %q", pc.Password, password)
			}
			if pc.User != "cert user" || pc.Host != "db" || pc.Port != 5432 || pc.Database != "certs" {
				t.Errorf("разобрано: user=%q host=%q port=%d db=%q", pc.User, pc.Host, pc.Port, pc.Database)
			}
		})
	}
}

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		input string
		want  slog.Level
		err   bool
	}{
		{"debug", slog.LevelDebug, false},
		{"INFO", slog.LevelInfo, false},
		{"warning", slog.LevelWarn, false},
		{"error", slog.LevelError, false},
		{"trace", slog.LevelInfo, true},
	}
	for _, tt := range tests {
		got, err := parseLogLevel(tt.input)
		if (err != nil) != tt.err {
			t.Errorf("parseLogLevel(%q) err = %v", tt.input, err)
			continue
		}
		if !tt.err && got != tt.want {
			t.Errorf("parseLogLevel(%q) = %v, ожидается %v", tt.input, got, tt.want)
		}
	}
}
