package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/bigkaa/certstore/internal/domain/model"
)

// SignedURLRepository — хранилище токенов signed URL (таблица signed_urls).
//
// Единственная авторизующая операция — Claim. GetByID используется только
// для диагностики и не должен служить основанием для выдачи файла.
type SignedURLRepository interface {
	// Create сохраняет новый токен (used=false). Путь не перепроверяется.
	Create(ctx context.Context, su *model.SignedURL) error
	// Claim атомарно помечает токен использованным.
	// Возвращает nil, nil если токен не найден, истёк, уже использован
	// или заблокирован конкурентной транзакцией.
	Claim(ctx context.Context, id string, now time.Time) (*model.SignedURL, error)
	// DeleteExpired удаляет все токены с expires_at < now независимо от used.
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
	// GetByID возвращает токен без изменения состояния.
	GetByID(ctx context.Context, id string) (*model.SignedURL, error)
}

// signedURLRepo — реализация SignedURLRepository.
type signedURLRepo struct {
	db DBTX
	tx *TxRunner
}

// NewSignedURLRepository создаёт репозиторий signed URL.
func NewSignedURLRepository(db TxDB) SignedURLRepository {
	return &signedURLRepo{db: db, tx: NewTxRunner(db)}
}

func (r *signedURLRepo) Create(ctx context.Context, su *model.SignedURL) error {
	query := `
		INSERT INTO signed_urls (id, file_path, expires_at, used)
		VALUES ($1, $2, $3, FALSE)
		RETURNING created_at`

	err := r.db.QueryRow(ctx, query, su.ID, su.FilePath, su.ExpiresAt).Scan(&su.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: signed url %s", ErrConflict, su.ID)
		}
		return fmt.Errorf("ошибка создания signed url: %w", err)
	}
	su.Used = false
	return nil
}

func (r *signedURLRepo) Claim(ctx context.Context, id string, now time.Time) (*model.SignedURL, error) {
	// Некорректный UUID не может существовать в таблице
	if _, err := uuid.Parse(id); err != nil {
		return nil, nil
	}

	var claimed *model.SignedURL
	err := r.tx.RunInTx(ctx, func(tx pgx.Tx) error {
		// SKIP LOCKED: строку, захваченную конкурентным claim, не ждём,
		// а считаем недоступной.
		query := `
			SELECT id, file_path, expires_at, used, created_at
			FROM signed_urls
			WHERE id = $1 AND used = FALSE AND expires_at > $2
			FOR UPDATE SKIP LOCKED`

		su := &model.SignedURL{}
		err := tx.QueryRow(ctx, query, id, now).Scan(
			&su.ID, &su.FilePath, &su.ExpiresAt, &su.Used, &su.CreatedAt,
		)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return nil
			}
			return fmt.Errorf("ошибка выборки signed url: %w", err)
		}

		if _, err := tx.Exec(ctx, `UPDATE signed_urls SET used = TRUE WHERE id = $1`, id); err != nil {
			return fmt.Errorf("ошибка отметки signed url: %w", err)
		}
		su.Used = true
		claimed = su
		return nil
	})
	if err != nil {
		return nil, err
	}
	return claimed, nil
}

func (r *signedURLRepo) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	tag, err := r.db.Exec(ctx, `DELETE FROM signed_urls WHERE expires_at < $1`, now)
	if err != nil {
		return 0, fmt.Errorf("ошибка удаления просроченных signed url: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (r *signedURLRepo) GetByID(ctx context.Context, id string) (*model.SignedURL, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, ErrNotFound
	}

	query := `
		SELECT id, file_path, expires_at, used, created_at
		FROM signed_urls
		WHERE id = $1`

	su := &model.SignedURL{}
	err := r.db.QueryRow(ctx, query, id).Scan(
		&su.ID, &su.FilePath, &su.ExpiresAt, &su.Used, &su.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка получения signed url: %w", err)
	}
	return su, nil
}
