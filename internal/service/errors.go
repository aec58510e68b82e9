// errors.go — ошибки бизнес-логики сервисного слоя.
package service

import "errors"

var (
	// ErrNotFound — ресурс не найден.
	ErrNotFound = errors.New("ресурс не найден")
	// ErrInvalidPath — путь отклонён pathguard при выдаче signed URL.
	ErrInvalidPath = errors.New("недопустимый путь к файлу")
	// ErrStoreUnavailable — таблица токенов недоступна или не ответила вовремя.
	// Для claim исход неоднозначен: токен мог быть помечен использованным.
	ErrStoreUnavailable = errors.New("хранилище токенов недоступно")
	// ErrUnauthorized — пользователь из токена не найден.
	ErrUnauthorized = errors.New("пользователь не найден")
	// ErrForbidden — пользователь не администратор.
	ErrForbidden = errors.New("недостаточно прав")
)
