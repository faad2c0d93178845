package session

import "errors"

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrInvalidToken       = errors.New("invalid or expired session")
	ErrAccountNotFound    = errors.New("account not found")
)
