package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"edusync/internal/domain/entity"
	"edusync/internal/utils/logger"
)

func newTestGateway(t *testing.T, handler http.HandlerFunc) *HTTP {
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewHTTP(srv.URL, time.Second, logger.Discard())
}

func TestHTTP_FetchCollection(t *testing.T) {
	gw := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/api/v1/data/quizzes", r.URL.Path)
		assert.Equal(t, "course_id=2", r.URL.Query().Get("filter"))
		assert.Equal(t, "Bearer tkn", r.Header.Get("Authorization"))
		_, _ = io.WriteString(w, `{"items":[{"id":1,"course_id":2},{"id":2,"course_id":2}]}`)
	})
	gw.SetToken("tkn")

	items, err := gw.FetchCollection(context.Background(), entity.KindQuiz, "course_id=2")
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.JSONEq(t, `{"id":1,"course_id":2}`, string(items[0]))
}

func TestHTTP_CreateSendsIdempotencyKey(t *testing.T) {
	gw := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "key-1", r.Header.Get(HeaderIdempotencyKey))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		body, _ := io.ReadAll(r.Body)
		assert.JSONEq(t, `{"title":"Quiz X"}`, string(body))

		w.WriteHeader(http.StatusCreated)
		_, _ = io.WriteString(w, `{"id":42,"title":"Quiz X"}`)
	})

	got, err := gw.Create(context.Background(), entity.KindQuiz, json.RawMessage(`{"title":"Quiz X"}`), "key-1")
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":42,"title":"Quiz X"}`, string(got))
}

func TestHTTP_StatusClassification(t *testing.T) {
	tests := []struct {
		status int
		class  Class
	}{
		{status: http.StatusBadRequest, class: ClassClientFault},
		{status: http.StatusUnprocessableEntity, class: ClassClientFault},
		{status: http.StatusNotFound, class: ClassClientFault},
		{status: http.StatusUnauthorized, class: ClassUnauthorized},
		{status: http.StatusForbidden, class: ClassUnauthorized},
		{status: http.StatusTooManyRequests, class: ClassNetwork},
		{status: http.StatusInternalServerError, class: ClassServerFault},
		{status: http.StatusServiceUnavailable, class: ClassServerFault},
	}

	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			gw := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/problem+json")
				w.WriteHeader(tt.status)
				_, _ = io.WriteString(w, `{"title":"t","detail":"details here"}`)
			})

			_, err := gw.FetchOne(context.Background(), entity.KindCourse, 1)
			require.Error(t, err)

			var ge *Error
			require.True(t, errors.As(err, &ge))
			assert.Equal(t, tt.class, ge.Class)
			assert.Equal(t, tt.status, ge.Status)
			assert.Equal(t, "details here", ge.Message)
		})
	}
}

func TestHTTP_TimeoutIsNetwork(t *testing.T) {
	gw := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(time.Second):
		}
	})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := gw.FetchCollection(ctx, entity.KindCourse, "")
	require.Error(t, err)
	assert.True(t, IsTransient(err))
	assert.Equal(t, ClassNetwork, ClassOf(err))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestHTTP_DeleteNotFoundIsSuccess(t *testing.T) {
	gw := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodDelete, r.Method)
		assert.Equal(t, "/api/v1/data/messages/5", r.URL.Path)
		w.WriteHeader(http.StatusNotFound)
	})

	assert.NoError(t, gw.Delete(context.Background(), entity.KindMessage, 5, "k"))
}

func TestHTTP_Login(t *testing.T) {
	gw := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/v1/auth/login":
			var req struct {
				Login    string `json:"login"`
				Password string `json:"password"`
			}
			require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			if req.Password != "secret" {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			_, _ = io.WriteString(w, `{"token":"abc"}`)
		case "/api/v1/health":
			assert.Equal(t, "Bearer abc", r.Header.Get("Authorization"))
			_, _ = io.WriteString(w, `{"status":"ok"}`)
		}
	})

	_, err := gw.Login(context.Background(), "admin", "wrong")
	assert.True(t, IsUnauthorized(err))

	token, err := gw.Login(context.Background(), "admin", "secret")
	require.NoError(t, err)
	assert.Equal(t, "abc", token)
	assert.NoError(t, gw.Health(context.Background()))
}

func TestHTTP_MalformedResponseIsServerFault(t *testing.T) {
	gw := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"items":`)
	})

	_, err := gw.FetchCollection(context.Background(), entity.KindUser, "")
	assert.Equal(t, ClassServerFault, ClassOf(err))
	assert.True(t, IsTransient(err))
}

func TestErrorHelpers(t *testing.T) {
	assert.False(t, IsTransient(nil))
	assert.False(t, IsPermanent(nil))
	assert.True(t, IsTransient(errors.New("connection refused")))
	assert.True(t, IsPermanent(StatusError(http.StatusConflict, "")))
	assert.Equal(t, "gateway client_fault (status 409): Conflict", StatusError(http.StatusConflict, "").Error())
	assert.True(t, IsNotFound(StatusError(http.StatusNotFound, "")))
}

func TestBaseURL(t *testing.T) {
	assert.Equal(t, "http://localhost:8080", BaseURL("localhost:8080", false))
	assert.Equal(t, "https://api.example.com", BaseURL("api.example.com", true))
}
