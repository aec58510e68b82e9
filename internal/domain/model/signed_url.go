// Пакет model — доменные модели certstore.
package model

import "time"

// SignedURL — выданный токен временного доступа к файлу хранилища.
// Строка таблицы signed_urls.
type SignedURL struct {
	// ID — непрозрачный идентификатор токена (UUID), встраивается в URL.
	ID string
	// FilePath — относительный путь в хранилище. Прошёл pathguard до создания.
	FilePath string
	// ExpiresAt — момент, после которого токен недействителен.
	ExpiresAt time.Time
	// Used — токен уже был однократно использован (claim).
	Used bool
	// CreatedAt — время выдачи (аудит).
	CreatedAt time.Time
}

// IsExpired проверяет истечение срока действия токена на момент now.
func (s *SignedURL) IsExpired(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}
