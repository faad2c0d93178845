package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"golang.org/x/exp/slog"

	"edusync/internal/domain/session"
)

type SessionRepository struct {
	db  *Storage
	log *slog.Logger
}

func NewSessionRepository(db *Storage, log *slog.Logger) *SessionRepository {
	return &SessionRepository{
		db:  db,
		log: log.With("component", "session_repository"),
	}
}

func (r *SessionRepository) CreateSession(ctx context.Context, accountID int64, tokenHash string, expiresAt time.Time) error {
	_, err := r.db.Pool().Exec(ctx,
		`INSERT INTO sessions (account_id, token_hash, expires_at)
         VALUES ($1, decode($2, 'hex'), $3)`,
		accountID, tokenHash, expiresAt)
	if err != nil {
		r.log.Error("failed to create session", "account_id", accountID, "error", err)
		return fmt.Errorf("create session: %w", err)
	}
	return nil
}

func (r *SessionRepository) ValidateSession(ctx context.Context, tokenHash string) (int64, error) {
	var accountID int64
	err := r.db.Pool().QueryRow(ctx,
		`SELECT account_id FROM sessions
         WHERE token_hash = decode($1, 'hex') AND expires_at > NOW()`,
		tokenHash).Scan(&accountID)

	if errors.Is(err, pgx.ErrNoRows) {
		return 0, session.ErrInvalidToken
	}
	if err != nil {
		return 0, fmt.Errorf("validate session: %w", err)
	}
	return accountID, nil
}

func (r *SessionRepository) FindAccount(ctx context.Context, login string) (session.Account, error) {
	var acc session.Account
	err := r.db.Pool().QueryRow(ctx,
		`SELECT id, login, password_hash FROM accounts WHERE login = $1`, login).
		Scan(&acc.ID, &acc.Login, &acc.PasswordHash)

	if errors.Is(err, pgx.ErrNoRows) {
		return acc, session.ErrAccountNotFound
	}
	if err != nil {
		return acc, fmt.Errorf("find account: %w", err)
	}
	return acc, nil
}

func (r *SessionRepository) UpsertAccount(ctx context.Context, login, passwordHash string) (int64, error) {
	var id int64
	err := r.db.Pool().QueryRow(ctx,
		`INSERT INTO accounts (login, password_hash) VALUES ($1, $2)
         ON CONFLICT (login) DO UPDATE SET password_hash = EXCLUDED.password_hash
         RETURNING id`,
		login, passwordHash).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("upsert account: %w", err)
	}
	return id, nil
}

// DeleteExpired чистит просроченные сессии, возвращает число удаленных
func (r *SessionRepository) DeleteExpired(ctx context.Context) (int64, error) {
	tag, err := r.db.Pool().Exec(ctx, `DELETE FROM sessions WHERE expires_at <= NOW()`)
	if err != nil {
		return 0, fmt.Errorf("delete expired sessions: %w", err)
	}
	return tag.RowsAffected(), nil
}

var _ session.Repository = (*SessionRepository)(nil)
