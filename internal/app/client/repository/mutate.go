package repository

import (
	"context"
	"errors"
	"fmt"

	"edusync/internal/app/client/store"
	"edusync/internal/domain/entity"
	"edusync/internal/resource"
)

// Create записывает новую сущность локально под временным id и отправляет ее на сервер.
// Поток: Loading, Success(локальное состояние), затем Success(подтверждено) или Error.
func (r *Repository[T]) Create(ctx context.Context, v T) <-chan resource.Resource[Record[T]] {
	return r.mutate(ctx, func() (store.Row, bool, error) {
		id := tempID()
		v = r.cap.Assign(v, id)
		data, err := r.cap.Encode(v)
		if err != nil {
			return store.Row{}, false, fmt.Errorf("%w: %v", entity.ErrInvalidData, err)
		}

		row := store.Row{
			ID:             id,
			Data:           data,
			PendingOp:      store.OpCreate,
			Status:         store.StatusPending,
			IdempotencyKey: newKey(),
			UpdatedAt:      store.Millis(r.now()),
		}
		unlock := r.lock(id)
		defer unlock()
		return row, true, r.table.Upsert(ctx, row)
	})
}

// Update применяет изменение локально поверх текущей строки
func (r *Repository[T]) Update(ctx context.Context, v T) <-chan resource.Resource[Record[T]] {
	return r.mutate(ctx, func() (store.Row, bool, error) {
		id := r.resolve(r.cap.Identify(v))
		v = r.cap.Assign(v, id)

		unlock := r.lock(id)
		defer unlock()

		cur, err := r.table.Get(ctx, id)
		if err != nil {
			return store.Row{}, false, r.notFound(err)
		}
		if !visible(cur) {
			return store.Row{}, false, entity.ErrNotFound
		}

		data, err := r.cap.Encode(v)
		if err != nil {
			return store.Row{}, false, fmt.Errorf("%w: %v", entity.ErrInvalidData, err)
		}

		row := cur
		row.Data = data
		row.Status = store.StatusPending
		row.RetryCount = 0
		row.NextAttemptAt = 0
		row.LastError = ""
		row.UpdatedAt = store.Millis(r.now())

		switch cur.PendingOp {
		case store.OpCreate:
			// сервер еще не знает о сущности: остается создание с тем же ключом
		default:
			if !cur.IsPending() {
				row.Snapshot = cur.Data
			}
			row.PendingOp = store.OpUpdate
			row.IdempotencyKey = newKey()
		}

		return row, true, r.table.Upsert(ctx, row)
	})
}

// Delete помечает строку на удаление; строка скрывается из выборок сразу.
// Еще не отправленное создание просто удаляется локально.
func (r *Repository[T]) Delete(ctx context.Context, id int64) <-chan resource.Resource[Record[T]] {
	return r.mutate(ctx, func() (store.Row, bool, error) {
		id := r.resolve(id)

		unlock := r.lock(id)
		defer unlock()

		cur, err := r.table.Get(ctx, id)
		if err != nil {
			return store.Row{}, false, r.notFound(err)
		}
		if !visible(cur) {
			return store.Row{}, false, entity.ErrNotFound
		}

		if cur.PendingOp == store.OpCreate && !r.isInflight(id) {
			if err := r.table.Delete(ctx, id); err != nil {
				return store.Row{}, false, err
			}
			cur.PendingOp = store.OpNone
			cur.Status = store.StatusSynced
			return cur, false, nil
		}

		row := cur
		if !cur.IsPending() {
			row.Snapshot = cur.Data
		}
		row.PendingOp = store.OpDelete
		row.Status = store.StatusPending
		row.IdempotencyKey = newKey()
		row.RetryCount = 0
		row.NextAttemptAt = 0
		row.LastError = ""
		row.UpdatedAt = store.Millis(r.now())

		return row, true, r.table.Upsert(ctx, row)
	})
}

func (r *Repository[T]) notFound(err error) error {
	if errors.Is(err, store.ErrNotFound) {
		return entity.ErrNotFound
	}
	return err
}

// localFunc выполняет локальную часть мутации. remote=false, если сервер
// вызывать не нужно.
type localFunc func() (row store.Row, remote bool, err error)

func (r *Repository[T]) mutate(ctx context.Context, local localFunc) <-chan resource.Resource[Record[T]] {
	out := make(chan resource.Resource[Record[T]], 4)

	go func() {
		defer close(out)

		if !send(ctx, out, resource.Loading[Record[T]]()) {
			return
		}

		var (
			row    store.Row
			remote bool
			err    error
		)
		res := resource.Guard(func() resource.Resource[Record[T]] {
			row, remote, err = local()
			if err != nil {
				return resource.Error[Record[T]](err)
			}
			rec, err := r.record(row)
			if err != nil {
				return resource.Error[Record[T]](err)
			}
			return resource.Success(rec)
		})
		send(ctx, out, res)
		if res.IsError() || !remote {
			return
		}

		// удаленная часть не зависит от отмены вызывающего
		rctx := context.WithoutCancel(ctx)
		id := row.ID
	loop:
		for {
			outcome, rec, err := r.replay(rctx, id, true)
			switch {
			case err != nil:
				send(ctx, out, resource.Error[Record[T]](err))
				return
			case outcome == OutcomeCleared:
				send(ctx, out, resource.Success(rec))
				return
			case outcome == OutcomeFailed:
				send(ctx, out, resource.Error[Record[T]](errors.New(rec.LastError)))
				return
			case outcome == OutcomeSuperseded:
				id = r.resolve(id)
			default:
				break loop
			}
		}

		// повтор остается за очередью синхронизации, дожидаемся развязки
		last, _ := r.record(row)
		r.follow(ctx, id, row.PendingOp, last, out)
	}()

	return out
}

// follow следит за строкой, пока операция не подтвердится, не упадет или не
// будет отброшена. Завершается с отменой ctx.
func (r *Repository[T]) follow(ctx context.Context, id int64, op store.PendingOp, last Record[T], out chan<- resource.Resource[Record[T]]) {
	orig := id
	rows := r.table.Observe(ctx, func(row store.Row) bool {
		return row.ID == orig || row.ID == r.resolve(orig)
	})

	for batch := range rows {
		target := r.resolve(orig)
		var (
			row   store.Row
			found bool
		)
		for _, b := range batch {
			if b.ID == target || (!found && b.ID == orig) {
				row, found = b, true
			}
		}

		switch {
		case !found && op == store.OpDelete:
			send(ctx, out, resource.Success(last))
			return
		case !found:
			send(ctx, out, resource.Error[Record[T]](ErrDiscarded))
			return
		case row.Status == store.StatusFailed:
			send(ctx, out, resource.Error[Record[T]](errors.New(row.LastError)))
			return
		case row.IsPending():
			continue
		case row.LastError != "":
			// строку вернули к подтвержденной версии через Discard
			send(ctx, out, resource.Error[Record[T]](discardError(row.LastError)))
			return
		default:
			rec, err := r.record(row)
			if err != nil {
				send(ctx, out, resource.Error[Record[T]](err))
				return
			}
			send(ctx, out, resource.Success(rec))
			return
		}
	}
}

func discardError(msg string) error {
	if msg == ErrDiscarded.Error() {
		return ErrDiscarded
	}
	return errors.New(msg)
}
