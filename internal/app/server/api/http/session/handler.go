package session

import (
	"context"
	"errors"

	"github.com/danielgtaylor/huma/v2"
	"golang.org/x/exp/slog"

	"edusync/internal/domain/session"
)

type Handler struct {
	session    session.Servicer
	log        *slog.Logger
	middleware huma.Middlewares
}

func NewHandler(session session.Servicer, log *slog.Logger, middleware huma.Middlewares) *Handler {
	return &Handler{
		session:    session,
		log:        log.With("component", "session_handler"),
		middleware: middleware,
	}
}

func (h *Handler) SetupRoutes(api huma.API) {
	huma.Register(api, h.loginOp(), h.login)
}

func (h *Handler) login(ctx context.Context, input *loginInput) (*loginOutput, error) {
	token, err := h.session.Login(ctx, input.Body.Login, input.Body.Password)
	if err != nil {
		if errors.Is(err, session.ErrInvalidCredentials) {
			return nil, huma.Error401Unauthorized("invalid credentials")
		}
		h.log.Error("login failed", "login", input.Body.Login, "error", err)
		return nil, huma.Error500InternalServerError("login failed")
	}

	return &loginOutput{Body: loginResponse{Token: token}}, nil
}
