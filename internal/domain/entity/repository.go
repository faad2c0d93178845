package entity

import (
	"context"
	"encoding/json"
)

// Repository интерфейс серверного хранилища сущностей.
// Запросы с уже виденным ключом идемпотентности не пишут повторно и
// возвращают результат первого выполнения.
type Repository interface {
	List(ctx context.Context, kind Kind, filter Filter) ([]Document, error)
	Get(ctx context.Context, kind Kind, id int64) (Document, error)
	Create(ctx context.Context, kind Kind, data json.RawMessage, idempotencyKey string) (Document, error)
	Update(ctx context.Context, kind Kind, id int64, data json.RawMessage, idempotencyKey string) (Document, error)
	Delete(ctx context.Context, kind Kind, id int64, idempotencyKey string) error
}
