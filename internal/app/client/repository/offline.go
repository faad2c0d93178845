package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"edusync/internal/app/client/store"
	"edusync/internal/domain/entity"
	"edusync/internal/resource"
)

// SetOfflineAvailable помечает сущность для офлайн режима. При включении
// сущность перечитывается с сервера, а ее зависимые данные загружаются заранее.
// Ошибка сети не отменяет отметку.
func (r *Repository[T]) SetOfflineAvailable(ctx context.Context, id int64, on bool) error {
	id = r.resolve(id)

	unlock := r.lock(id)
	cur, err := r.table.Get(ctx, id)
	if err != nil {
		unlock()
		return r.notFound(err)
	}
	cur.OfflineAvailable = on
	err = r.table.Upsert(ctx, cur)
	unlock()
	if err != nil {
		return err
	}
	if !on || cur.IsPending() {
		return nil
	}

	cctx, cancel := r.callCtx(ctx)
	item, err := r.gw.FetchOne(cctx, r.Kind(), id)
	cancel()
	if err != nil {
		r.log.Warn("offline fetch failed", "id", id, "error", err)
		return nil
	}

	rows := r.remoteRows(ctx, []json.RawMessage{item})
	for i := range rows {
		rows[i].OfflineAvailable = true
	}
	if _, err := r.table.ApplyRemote(ctx, rows); err != nil {
		return err
	}

	rec, err := r.Get(ctx, id)
	if err != nil {
		return err
	}
	return r.prefetchDependencies(ctx, rec.Entity)
}

func (r *Repository[T]) prefetchDependencies(ctx context.Context, v T) error {
	dep, ok := any(r.cap).(entity.Dependent[T])
	if !ok || r.opts.prefetch == nil {
		return nil
	}

	var errs []error
	for _, d := range dep.Dependencies(v) {
		if err := r.opts.prefetch(ctx, d); err != nil {
			r.log.Warn("dependency prefetch failed", "dependency", d.Kind, "filter", d.Filter, "error", err)
			errs = append(errs, fmt.Errorf("prefetch %s %s: %w", d.Kind, d.Filter, err))
		}
	}
	return errors.Join(errs...)
}

// Prefetch принудительно загружает выборку и помечает ее строки для офлайн режима
func (r *Repository[T]) Prefetch(ctx context.Context, filter string) error {
	res := resource.Last(ctx, r.Refresh(ctx, filter, true))
	if res.IsError() {
		return res.Err
	}
	if res.Stale {
		return fmt.Errorf("prefetch %s: server unavailable", r.Kind())
	}

	for _, rec := range res.Data {
		unlock := r.lock(rec.ID)
		row, err := r.table.Get(ctx, rec.ID)
		if err == nil && !row.OfflineAvailable {
			row.OfflineAvailable = true
			err = r.table.Upsert(ctx, row)
		}
		unlock()
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			return err
		}
	}

	r.log.Debug("prefetched", "filter", filter, "rows", len(res.Data))
	return nil
}

// Evict удаляет подтвержденные строки старше olderThan, кроме помеченных
// для офлайн режима и ожидающих отправки
func (r *Repository[T]) Evict(ctx context.Context, olderThan time.Duration) (int, error) {
	before := store.Millis(r.now().Add(-olderThan))
	n, err := r.table.Evict(ctx, before)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		r.log.Info("evicted stale rows", "rows", n)
	}
	return n, nil
}
