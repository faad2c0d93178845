package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"edusync/internal/app/client/gateway"
	"edusync/internal/app/client/store"
	"edusync/internal/domain/entity"
	"edusync/internal/resource"
)

func predicate(f entity.Filter) store.Predicate {
	return func(row store.Row) bool {
		return visible(row) && f.Match(row.Data)
	}
}

// Observe всегда читает из локального хранилища и не ждет сеть.
// Поток сразу отдает текущее состояние, затем каждое изменение выборки.
func (r *Repository[T]) Observe(ctx context.Context, filter string) (<-chan []Record[T], error) {
	f, err := entity.ParseFilter(filter)
	if err != nil {
		return nil, err
	}

	rows := r.table.Observe(ctx, predicate(f))
	out := make(chan []Record[T], 1)

	go func() {
		defer close(out)
		for batch := range rows {
			select {
			case out <- r.records(batch):
			case <-ctx.Done():
				return
			}
		}
	}()

	return out, nil
}

// Get возвращает сущность по id; временный id после подтверждения создания
// продолжает работать.
func (r *Repository[T]) Get(ctx context.Context, id int64) (Record[T], error) {
	row, err := r.table.Get(ctx, r.resolve(id))
	if errors.Is(err, store.ErrNotFound) || (err == nil && !visible(row)) {
		return Record[T]{}, entity.ErrNotFound
	}
	if err != nil {
		return Record[T]{}, err
	}
	return r.record(row)
}

// List - текущее содержимое кэша по фильтру
func (r *Repository[T]) List(ctx context.Context, filter string) ([]Record[T], error) {
	f, err := entity.ParseFilter(filter)
	if err != nil {
		return nil, err
	}
	rows, err := r.table.GetAll(ctx, predicate(f))
	if err != nil {
		return nil, err
	}
	return r.records(rows), nil
}

// Refresh отдает Loading, затем результат: кэш, если он свежий и force=false;
// иначе данные сервера, слитые в хранилище. При ошибке сервера отдается
// устаревший кэш, если он есть.
func (r *Repository[T]) Refresh(ctx context.Context, filter string, force bool) <-chan resource.Resource[[]Record[T]] {
	out := make(chan resource.Resource[[]Record[T]], 2)

	go func() {
		defer close(out)

		if !send(ctx, out, resource.Loading[[]Record[T]]()) {
			return
		}
		res := resource.Guard(func() resource.Resource[[]Record[T]] {
			return r.refresh(ctx, filter, force)
		})
		send(ctx, out, res)
	}()

	return out
}

func (r *Repository[T]) refresh(ctx context.Context, filter string, force bool) resource.Resource[[]Record[T]] {
	f, err := entity.ParseFilter(filter)
	if err != nil {
		return resource.Error[[]Record[T]](err)
	}
	pred := predicate(f)

	cached, err := r.table.GetAll(ctx, pred)
	if err != nil {
		return resource.Error[[]Record[T]](err)
	}

	oldest, hasSynced := oldestSync(cached)
	if !force && hasSynced && r.now().Sub(store.Time(oldest)) <= r.opts.staleness {
		r.log.Debug("serving fresh cache", "filter", filter, "rows", len(cached))
		return resource.Success(r.records(cached))
	}

	cctx, cancel := r.callCtx(ctx)
	items, err := r.gw.FetchCollection(cctx, r.Kind(), f.String())
	cancel()
	if err != nil {
		if gateway.IsUnauthorized(err) {
			r.notifyAuth(err)
		}
		if len(cached) > 0 {
			r.log.Warn("refresh failed, serving stale cache", "filter", filter, "rows", len(cached), "error", err)
			return resource.StaleSuccess(r.records(cached), store.Time(oldest))
		}
		r.log.Warn("refresh failed, no cache", "filter", filter, "error", err)
		return resource.Error[[]Record[T]](fmt.Errorf("refresh %s: %w", r.Kind(), err))
	}

	rows := r.remoteRows(ctx, items)
	applied, err := r.table.ApplyRemote(ctx, rows)
	if err != nil {
		return resource.Error[[]Record[T]](err)
	}
	r.log.Debug("refresh applied", "filter", filter, "received", len(items), "applied", applied)

	merged, err := r.table.GetAll(ctx, pred)
	if err != nil {
		return resource.Error[[]Record[T]](err)
	}
	return resource.Success(r.records(merged))
}

// remoteRows превращает ответ сервера в строки хранилища
func (r *Repository[T]) remoteRows(ctx context.Context, items []json.RawMessage) []store.Row {
	now := store.Millis(r.now())
	rows := make([]store.Row, 0, len(items))

	for _, item := range items {
		remote, err := r.cap.Decode(item)
		if err != nil {
			r.log.Warn("skipping malformed remote entity", "error", err)
			continue
		}
		id := r.cap.Identify(remote)

		if cur, err := r.table.Get(ctx, id); err == nil && !cur.IsPending() {
			if local, err := r.cap.Decode(cur.Data); err == nil {
				remote = r.cap.Merge(local, remote)
			}
		}

		data, err := r.cap.Encode(remote)
		if err != nil {
			r.log.Warn("skipping unencodable remote entity", "id", id, "error", err)
			continue
		}
		rows = append(rows, store.Row{ID: id, Data: data, LastSyncAt: now, UpdatedAt: now})
	}

	return rows
}

// oldestSync - самая старая отметка синхронизации среди подтвержденных строк
func oldestSync(rows []store.Row) (int64, bool) {
	var (
		oldest int64
		found  bool
	)
	for _, row := range rows {
		if row.IsPending() || row.LastSyncAt == 0 {
			continue
		}
		if !found || row.LastSyncAt < oldest {
			oldest, found = row.LastSyncAt, true
		}
	}
	return oldest, found
}

func send[T any](ctx context.Context, out chan<- T, v T) bool {
	select {
	case out <- v:
		return true
	case <-ctx.Done():
		return false
	}
}
