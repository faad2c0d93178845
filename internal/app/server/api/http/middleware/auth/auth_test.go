package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/humatest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"golang.org/x/exp/slog"

	"edusync/internal/domain/session"
)

type MockSession struct {
	mock.Mock
}

func (m *MockSession) Login(ctx context.Context, login, password string) (string, error) {
	args := m.Called(ctx, login, password)
	return args.String(0), args.Error(1)
}

func (m *MockSession) Validate(ctx context.Context, token string) (int64, error) {
	args := m.Called(ctx, token)
	return args.Get(0).(int64), args.Error(1)
}

type whoamiOutput struct {
	Body struct {
		AccountID int64 `json:"account_id"`
	}
}

func setup(t *testing.T, svc session.Servicer) humatest.TestAPI {
	_, api := humatest.New(t)
	mw := New(svc, slog.Default())

	huma.Register(api, huma.Operation{
		OperationID: "whoami",
		Method:      http.MethodGet,
		Path:        "/whoami",
		Middlewares: huma.Middlewares{mw.Middleware()},
	}, func(ctx context.Context, _ *struct{}) (*whoamiOutput, error) {
		out := &whoamiOutput{}
		out.Body.AccountID, _ = GetAccountID(ctx)
		return out, nil
	})
	return api
}

func TestAuth_Middleware(t *testing.T) {
	tests := []struct {
		name       string
		header     string
		setup      func(m *MockSession)
		wantStatus int
		wantBody   string
	}{
		{
			name:       "no header",
			setup:      func(*MockSession) {},
			wantStatus: http.StatusUnauthorized,
		},
		{
			name:       "not bearer",
			header:     "Basic abc",
			setup:      func(*MockSession) {},
			wantStatus: http.StatusUnauthorized,
		},
		{
			name:   "expired token",
			header: "Bearer old",
			setup: func(m *MockSession) {
				m.On("Validate", mock.Anything, "old").Return(int64(0), session.ErrInvalidToken)
			},
			wantStatus: http.StatusUnauthorized,
		},
		{
			name:   "valid token",
			header: "Bearer good",
			setup: func(m *MockSession) {
				m.On("Validate", mock.Anything, "good").Return(int64(5), nil)
			},
			wantStatus: http.StatusOK,
			wantBody:   `"account_id":5`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := new(MockSession)
			tt.setup(svc)
			api := setup(t, svc)

			var resp *httptest.ResponseRecorder
			if tt.header != "" {
				resp = api.Get("/whoami", "Authorization: "+tt.header)
			} else {
				resp = api.Get("/whoami")
			}

			assert.Equal(t, tt.wantStatus, resp.Code)
			if tt.wantBody != "" {
				assert.Contains(t, resp.Body.String(), tt.wantBody)
			}
			svc.AssertExpectations(t)
		})
	}
}
