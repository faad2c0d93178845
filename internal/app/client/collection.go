package client

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"edusync/internal/app/client/repository"
	"edusync/internal/app/client/store"
	"edusync/internal/domain/entity"
	"edusync/internal/resource"
)

// Item - сущность любого семейства в сериализованном виде, для CLI
type Item struct {
	ID               int64           `json:"id"`
	Data             json.RawMessage `json:"data"`
	PendingOp        store.PendingOp `json:"pending_op"`
	Status           store.Status    `json:"status"`
	RetryCount       int             `json:"retry_count,omitempty"`
	LastError        string          `json:"last_error,omitempty"`
	LastSyncAt       time.Time       `json:"last_sync_at"`
	OfflineAvailable bool            `json:"offline_available"`
}

// Collection - доступ к репозиторию семейства без знания конкретного типа
type Collection interface {
	Kind() entity.Kind
	Observe(ctx context.Context, filter string) (<-chan []Item, error)
	List(ctx context.Context, filter string) ([]Item, error)
	Get(ctx context.Context, id int64) (Item, error)
	Refresh(ctx context.Context, filter string, force bool) <-chan resource.Resource[[]Item]
	Create(ctx context.Context, data json.RawMessage) (<-chan resource.Resource[Item], error)
	Update(ctx context.Context, id int64, data json.RawMessage) (<-chan resource.Resource[Item], error)
	Delete(ctx context.Context, id int64) <-chan resource.Resource[Item]
	SetOfflineAvailable(ctx context.Context, id int64, on bool) error
	Prefetch(ctx context.Context, filter string) error
}

type collection[T any] struct {
	cap  entity.Capability[T]
	repo *repository.Repository[T]
}

func newCollection[T any](c entity.Capability[T], repo *repository.Repository[T]) *collection[T] {
	return &collection[T]{cap: c, repo: repo}
}

func (c *collection[T]) Kind() entity.Kind {
	return c.cap.Kind()
}

func (c *collection[T]) item(rec repository.Record[T]) Item {
	data, err := c.cap.Encode(rec.Entity)
	if err != nil {
		data = nil
	}
	return Item{
		ID:               rec.ID,
		Data:             data,
		PendingOp:        rec.PendingOp,
		Status:           rec.Status,
		RetryCount:       rec.RetryCount,
		LastError:        rec.LastError,
		LastSyncAt:       rec.LastSyncAt,
		OfflineAvailable: rec.OfflineAvailable,
	}
}

func (c *collection[T]) items(recs []repository.Record[T]) []Item {
	out := make([]Item, len(recs))
	for i, rec := range recs {
		out[i] = c.item(rec)
	}
	return out
}

func (c *collection[T]) Observe(ctx context.Context, filter string) (<-chan []Item, error) {
	in, err := c.repo.Observe(ctx, filter)
	if err != nil {
		return nil, err
	}

	out := make(chan []Item, 1)
	go func() {
		defer close(out)
		for recs := range in {
			select {
			case out <- c.items(recs):
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

func (c *collection[T]) List(ctx context.Context, filter string) ([]Item, error) {
	recs, err := c.repo.List(ctx, filter)
	if err != nil {
		return nil, err
	}
	return c.items(recs), nil
}

func (c *collection[T]) Get(ctx context.Context, id int64) (Item, error) {
	rec, err := c.repo.Get(ctx, id)
	if err != nil {
		return Item{}, err
	}
	return c.item(rec), nil
}

func (c *collection[T]) Refresh(ctx context.Context, filter string, force bool) <-chan resource.Resource[[]Item] {
	return resource.MapStream(ctx, c.repo.Refresh(ctx, filter, force), c.items)
}

func (c *collection[T]) decode(data json.RawMessage) (T, error) {
	v, err := c.cap.Decode(data)
	if err != nil {
		return v, fmt.Errorf("%s: %w", c.Kind(), err)
	}
	return v, nil
}

func (c *collection[T]) Create(ctx context.Context, data json.RawMessage) (<-chan resource.Resource[Item], error) {
	v, err := c.decode(data)
	if err != nil {
		return nil, err
	}
	return resource.MapStream(ctx, c.repo.Create(ctx, v), c.item), nil
}

func (c *collection[T]) Update(ctx context.Context, id int64, data json.RawMessage) (<-chan resource.Resource[Item], error) {
	v, err := c.decode(data)
	if err != nil {
		return nil, err
	}
	v = c.cap.Assign(v, id)
	return resource.MapStream(ctx, c.repo.Update(ctx, v), c.item), nil
}

func (c *collection[T]) Delete(ctx context.Context, id int64) <-chan resource.Resource[Item] {
	return resource.MapStream(ctx, c.repo.Delete(ctx, id), c.item)
}

func (c *collection[T]) SetOfflineAvailable(ctx context.Context, id int64, on bool) error {
	return c.repo.SetOfflineAvailable(ctx, id, on)
}

func (c *collection[T]) Prefetch(ctx context.Context, filter string) error {
	return c.repo.Prefetch(ctx, filter)
}
