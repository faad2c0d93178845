// Package gateway - удаленный источник истины для клиентского ядра.
package gateway

import (
	"context"
	"encoding/json"

	"edusync/internal/domain/entity"
)

// Gateway - типизированные операции над сущностями сервера. Любая операция
// может вернуть *Error; сущности передаются как сырой JSON.
type Gateway interface {
	FetchCollection(ctx context.Context, kind entity.Kind, filter string) ([]json.RawMessage, error)
	FetchOne(ctx context.Context, kind entity.Kind, id int64) (json.RawMessage, error)
	// Create с тем же idempotencyKey не создает вторую сущность на сервере
	Create(ctx context.Context, kind entity.Kind, payload json.RawMessage, idempotencyKey string) (json.RawMessage, error)
	Update(ctx context.Context, kind entity.Kind, id int64, payload json.RawMessage, idempotencyKey string) (json.RawMessage, error)
	Delete(ctx context.Context, kind entity.Kind, id int64, idempotencyKey string) error
}
