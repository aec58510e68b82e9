package gcs

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"

	secretmanager "cloud.google.com/go/secretmanager/apiv1"
	"cloud.google.com/go/secretmanager/apiv1/secretmanagerpb"
)

// Credentials — JSON ключа сервисного аккаунта и источник, откуда он получен.
type Credentials struct {
	JSON   []byte
	Source string
}

// CredentialProvider — один источник учётных данных.
// TryResolve возвращает nil, nil, если источник не настроен;
// ошибку — если настроен, но получить ключ не удалось.
type CredentialProvider interface {
	Name() string
	TryResolve(ctx context.Context) (*Credentials, error)
}

// ResolveCredentials опрашивает источники по порядку; первый непустой результат побеждает.
// Если ни один источник не настроен — ошибка конфигурации с перечнем источников.
func ResolveCredentials(ctx context.Context, providers ...CredentialProvider) (*Credentials, error) {
	names := make([]string, 0, len(providers))
	for _, p := range providers {
		creds, err := p.TryResolve(ctx)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", p.Name(), err)
		}
		if creds != nil {
			return creds, nil
		}
		names = append(names, p.Name())
	}
	return nil, fmt.Errorf("STORAGE_PROVIDER=gcp: учётные данные не найдены, проверены источники: %s",
		strings.Join(names, "; "))
}

// EnvKeyProvider — ключ сервисного аккаунта из переменной окружения
// (JSON как есть или в base64).
type EnvKeyProvider struct {
	Value string
}

// Name возвращает имя источника.
func (p EnvKeyProvider) Name() string {
	return "GCP_SERVICE_ACCOUNT_KEY"
}

// TryResolve разбирает значение переменной.
func (p EnvKeyProvider) TryResolve(_ context.Context) (*Credentials, error) {
	raw := strings.TrimSpace(p.Value)
	if raw == "" {
		return nil, nil
	}

	data := []byte(raw)
	if !strings.HasPrefix(raw, "{") {
		decoded, err := base64.StdEncoding.DecodeString(raw)
		if err != nil {
			return nil, fmt.Errorf("значение не является ни JSON, ни base64: %w", err)
		}
		data = decoded
	}

	if err := validateKey(data); err != nil {
		return nil, err
	}
	return &Credentials{JSON: data, Source: p.Name()}, nil
}

// SecretAccessFunc читает payload версии секрета по полному имени ресурса.
type SecretAccessFunc func(ctx context.Context, name string) ([]byte, error)

// SecretManagerProvider — ключ из Google Secret Manager.
// Сам доступ к Secret Manager аутентифицируется через ADC.
type SecretManagerProvider struct {
	ProjectID string
	SecretID  string
	Version   string
	// Access — способ чтения секрета; nil — клиент Secret Manager.
	Access SecretAccessFunc
}

// Name возвращает имя источника.
func (p SecretManagerProvider) Name() string {
	return "GCP_PROJECT_ID + GCP_SECRET_ID (Secret Manager)"
}

// TryResolve читает секрет, если заданы проект и идентификатор секрета.
func (p SecretManagerProvider) TryResolve(ctx context.Context) (*Credentials, error) {
	if p.ProjectID == "" || p.SecretID == "" {
		return nil, nil
	}

	version := p.Version
	if version == "" {
		version = "latest"
	}
	name := fmt.Sprintf("projects/%s/secrets/%s/versions/%s", p.ProjectID, p.SecretID, version)

	access := p.Access
	if access == nil {
		access = accessSecret
	}

	data, err := access(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения секрета %s: %w", name, err)
	}
	if err := validateKey(data); err != nil {
		return nil, fmt.Errorf("секрет %s: %w", name, err)
	}
	return &Credentials{JSON: data, Source: "secretmanager:" + name}, nil
}

// accessSecret читает секрет через клиент Secret Manager.
func accessSecret(ctx context.Context, name string) ([]byte, error) {
	client, err := secretmanager.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("ошибка создания клиента Secret Manager: %w", err)
	}
	defer client.Close()

	resp, err := client.AccessSecretVersion(ctx, &secretmanagerpb.AccessSecretVersionRequest{Name: name})
	if err != nil {
		return nil, err
	}
	return resp.GetPayload().GetData(), nil
}

// validateKey проверяет, что данные похожи на ключ сервисного аккаунта.
func validateKey(data []byte) error {
	var key struct {
		Type        string `json:"type"`
		ClientEmail string `json:"client_email"`
		PrivateKey  string `json:"private_key"`
	}
	if err := json.Unmarshal(data, &key); err != nil {
		return fmt.Errorf("некорректный JSON ключа сервисного аккаунта: %w", err)
	}
	if key.ClientEmail == "" || key.PrivateKey == "" {
		return fmt.Errorf("в ключе сервисного аккаунта нет client_email или private_key")
	}
	return nil
}
