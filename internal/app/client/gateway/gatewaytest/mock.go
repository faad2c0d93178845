// Package gatewaytest - мок Gateway для тестов репозиториев и очереди.
package gatewaytest

import (
	"context"
	"encoding/json"

	"github.com/stretchr/testify/mock"

	"edusync/internal/app/client/gateway"
	"edusync/internal/domain/entity"
)

// MockGateway is a mock implementation of the gateway.Gateway interface for testing
type MockGateway struct {
	mock.Mock
}

var _ gateway.Gateway = (*MockGateway)(nil)

func raw(v any) json.RawMessage {
	if v == nil {
		return nil
	}
	return v.(json.RawMessage)
}

func (m *MockGateway) FetchCollection(ctx context.Context, kind entity.Kind, filter string) ([]json.RawMessage, error) {
	args := m.Called(ctx, kind, filter)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]json.RawMessage), args.Error(1)
}

func (m *MockGateway) FetchOne(ctx context.Context, kind entity.Kind, id int64) (json.RawMessage, error) {
	args := m.Called(ctx, kind, id)
	return raw(args.Get(0)), args.Error(1)
}

func (m *MockGateway) Create(ctx context.Context, kind entity.Kind, payload json.RawMessage, key string) (json.RawMessage, error) {
	args := m.Called(ctx, kind, payload, key)
	return raw(args.Get(0)), args.Error(1)
}

func (m *MockGateway) Update(ctx context.Context, kind entity.Kind, id int64, payload json.RawMessage, key string) (json.RawMessage, error) {
	args := m.Called(ctx, kind, id, payload, key)
	return raw(args.Get(0)), args.Error(1)
}

func (m *MockGateway) Delete(ctx context.Context, kind entity.Kind, id int64, key string) error {
	args := m.Called(ctx, kind, id, key)
	return args.Error(0)
}

// JSON - короткий способ задать ответ сервера в тестах
func JSON(s string) json.RawMessage {
	return json.RawMessage(s)
}

// Items собирает ответ FetchCollection
func Items(items ...string) []json.RawMessage {
	out := make([]json.RawMessage, len(items))
	for i, s := range items {
		out[i] = json.RawMessage(s)
	}
	return out
}
