package session

import (
	"context"
	"time"
)

// Account - учетная запись, от имени которой клиент ходит в API
type Account struct {
	ID           int64
	Login        string
	PasswordHash string
}

type Repository interface {
	CreateSession(ctx context.Context, accountID int64, tokenHash string, expiresAt time.Time) error
	// ValidateSession возвращает владельца непросроченной сессии или ErrInvalidToken
	ValidateSession(ctx context.Context, tokenHash string) (int64, error)

	FindAccount(ctx context.Context, login string) (Account, error)
	// UpsertAccount создает учетную запись или обновляет хэш пароля
	UpsertAccount(ctx context.Context, login, passwordHash string) (int64, error)
}
