package session

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"
	"golang.org/x/exp/slog"
)

const DefaultTTL = 24 * time.Hour

type Servicer interface {
	Login(ctx context.Context, login, password string) (string, error)
	Validate(ctx context.Context, token string) (int64, error)
}

type Service struct {
	repo Repository
	log  *slog.Logger
	ttl  time.Duration
	now  func() time.Time
}

func NewService(repo Repository, ttl time.Duration, log *slog.Logger) *Service {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Service{
		repo: repo,
		log:  log.With("component", "session_service"),
		ttl:  ttl,
		now:  time.Now,
	}
}

// Login проверяет пароль и открывает новую сессию.
// В базе хранится только sha256 от токена.
func (s *Service) Login(ctx context.Context, login, password string) (string, error) {
	login = strings.TrimSpace(login)
	if login == "" || password == "" {
		return "", ErrInvalidCredentials
	}

	acc, err := s.repo.FindAccount(ctx, login)
	if err != nil {
		if errors.Is(err, ErrAccountNotFound) {
			s.log.Debug("login for unknown account", "login", login)
			return "", ErrInvalidCredentials
		}
		return "", fmt.Errorf("find account: %w", err)
	}

	if err := bcrypt.CompareHashAndPassword([]byte(acc.PasswordHash), []byte(password)); err != nil {
		s.log.Debug("wrong password", "login", login)
		return "", ErrInvalidCredentials
	}

	tokenBytes := make([]byte, 32)
	if _, err := rand.Read(tokenBytes); err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}
	token := base64.URLEncoding.EncodeToString(tokenBytes)

	expiresAt := s.now().Add(s.ttl)
	if err := s.repo.CreateSession(ctx, acc.ID, hashToken(token), expiresAt); err != nil {
		return "", fmt.Errorf("save session: %w", err)
	}

	s.log.Info("session created", "account_id", acc.ID, "expires_at", expiresAt)

	return token, nil
}

func (s *Service) Validate(ctx context.Context, token string) (int64, error) {
	if token == "" {
		return 0, ErrInvalidToken
	}
	return s.repo.ValidateSession(ctx, hashToken(token))
}

// EnsureAccount заводит учетную запись при старте сервера (ADMIN_LOGIN / ADMIN_PASSWORD)
func (s *Service) EnsureAccount(ctx context.Context, login, password string) (int64, error) {
	if login == "" || password == "" {
		return 0, fmt.Errorf("%w: login and password are required", ErrInvalidCredentials)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return 0, fmt.Errorf("hash password: %w", err)
	}

	id, err := s.repo.UpsertAccount(ctx, login, string(hash))
	if err != nil {
		return 0, fmt.Errorf("upsert account: %w", err)
	}

	s.log.Info("account ensured", "login", login, "account_id", id)
	return id, nil
}

func hashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
