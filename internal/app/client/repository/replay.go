package repository

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"edusync/internal/app/client/gateway"
	"edusync/internal/app/client/store"
	"edusync/internal/domain/entity"
)

// Outcome - итог одной попытки отправить операцию из очереди
type Outcome int

const (
	// OutcomeSkipped - строки уже нет в очереди или попытка уже идет
	OutcomeSkipped Outcome = iota
	OutcomeCleared
	OutcomeRetrying
	OutcomeFailed
	OutcomeAuthRequired
	// OutcomeSuperseded - пока шел вызов, строку изменили локально;
	// новое состояние надо отправить еще раз
	OutcomeSuperseded
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSkipped:
		return "skipped"
	case OutcomeCleared:
		return "cleared"
	case OutcomeRetrying:
		return "retrying"
	case OutcomeFailed:
		return "failed"
	case OutcomeAuthRequired:
		return "auth_required"
	case OutcomeSuperseded:
		return "superseded"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// Entry - строка очереди синхронизации без привязки к типу сущности
type Entry struct {
	Kind          entity.Kind     `json:"kind"`
	ID            int64           `json:"id"`
	PendingOp     store.PendingOp `json:"pending_op"`
	Status        store.Status    `json:"status"`
	RetryCount    int             `json:"retry_count"`
	NextAttemptAt time.Time       `json:"next_attempt_at"`
	LastError     string          `json:"last_error,omitempty"`
	UpdatedAt     time.Time       `json:"updated_at"`
	Data          json.RawMessage `json:"data"`
}

// sent - то, что ушло на сервер; по нему проверяется, не изменилась ли строка
type sent struct {
	data []byte
	op   store.PendingOp
	key  string
}

func (s sent) same(row store.Row) bool {
	return row.PendingOp == s.op && row.IdempotencyKey == s.key && bytes.Equal(row.Data, s.data)
}

// Due - id строк, которым пора повторить отправку
func (r *Repository[T]) Due(ctx context.Context, now time.Time) ([]int64, error) {
	rows, err := r.table.Pending(ctx)
	if err != nil {
		return nil, err
	}

	at := store.Millis(now)
	ids := make([]int64, 0, len(rows))
	for _, row := range rows {
		if row.Status != store.StatusPending || row.NextAttemptAt > at || r.isInflight(row.ID) {
			continue
		}
		ids = append(ids, row.ID)
	}
	return ids, nil
}

// Replay - одна попытка отправить операцию строки id из очереди.
// Постоянный отказ сервера переводит строку в Failed.
func (r *Repository[T]) Replay(ctx context.Context, id int64) (Outcome, error) {
	outcome, _, err := r.replay(ctx, id, false)
	return outcome, err
}

// replay перечитывает строку непосредственно перед вызовом и сразу после него.
// direct=true для попытки из самой мутации: постоянный отказ откатывает строку
// к последней подтвержденной версии.
func (r *Repository[T]) replay(ctx context.Context, id int64, direct bool) (Outcome, Record[T], error) {
	unlock := r.lock(id)
	row, err := r.table.Get(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		unlock()
		return OutcomeSkipped, Record[T]{}, nil
	}
	if err != nil {
		unlock()
		return OutcomeSkipped, Record[T]{}, err
	}
	if !row.IsPending() || row.Status == store.StatusFailed || !r.acquire(id) {
		unlock()
		return OutcomeSkipped, Record[T]{}, nil
	}
	unlock()

	s := sent{data: row.Data, op: row.PendingOp, key: row.IdempotencyKey}
	remote, callErr := r.call(ctx, row)

	// отметку о вызове снимают acknowledge и fail, уже под блокировкой строки
	release := func() { r.release(id) }
	if callErr == nil {
		return r.acknowledge(ctx, id, s, remote, release)
	}
	return r.fail(ctx, id, s, callErr, direct, release)
}

func (r *Repository[T]) call(ctx context.Context, row store.Row) (json.RawMessage, error) {
	cctx, cancel := r.callCtx(ctx)
	defer cancel()

	r.log.Debug("sending pending operation", "id", row.ID, "op", row.PendingOp, "retry", row.RetryCount)

	switch row.PendingOp {
	case store.OpCreate:
		return r.gw.Create(cctx, r.Kind(), row.Data, row.IdempotencyKey)
	case store.OpUpdate:
		return r.gw.Update(cctx, r.Kind(), row.ID, row.Data, row.IdempotencyKey)
	case store.OpDelete:
		return nil, r.gw.Delete(cctx, r.Kind(), row.ID, row.IdempotencyKey)
	default:
		return nil, fmt.Errorf("unknown pending operation %q", row.PendingOp)
	}
}

// merged сводит отправленную версию с ответом сервера
func (r *Repository[T]) merged(local []byte, remote json.RawMessage) (T, []byte, error) {
	lv, err := r.cap.Decode(local)
	if err != nil {
		var zero T
		return zero, nil, err
	}
	if len(remote) == 0 {
		return lv, local, nil
	}

	rv, err := r.cap.Decode(remote)
	if err != nil {
		var zero T
		return zero, nil, err
	}
	v := r.cap.Merge(lv, rv)
	data, err := r.cap.Encode(v)
	return v, data, err
}

func (r *Repository[T]) acknowledge(ctx context.Context, id int64, s sent, remote json.RawMessage, release func()) (Outcome, Record[T], error) {
	now := store.Millis(r.now())

	switch s.op {
	case store.OpCreate:
		v, data, err := r.merged(s.data, remote)
		if err != nil {
			// сервер создал сущность, но ответ не разобрать: повторим с тем же ключом
			return r.fail(ctx, id, s, &gateway.Error{Class: gateway.ClassServerFault, Message: "malformed create response", Err: err}, false, release)
		}
		serverID := r.cap.Identify(v)

		unlock := r.lockPair(id, serverID)
		defer unlock()
		release()

		cur, err := r.table.Get(ctx, id)
		if err != nil {
			return OutcomeSkipped, Record[T]{}, r.notFound(err)
		}

		next := store.Row{
			ID:               serverID,
			Data:             data,
			Snapshot:         data,
			LastSyncAt:       now,
			PendingOp:        store.OpNone,
			Status:           store.StatusSynced,
			OfflineAvailable: cur.OfflineAvailable,
			UpdatedAt:        now,
		}
		outcome := OutcomeCleared
		if !s.same(cur) {
			// локальные изменения поверх еще не подтвержденного создания
			outcome = OutcomeSuperseded
			next = r.supersede(cur, next, serverID)
		}

		r.setAlias(id, serverID)
		if err := r.table.Rename(ctx, id, serverID, next); err != nil {
			r.dropAlias(id)
			return OutcomeSkipped, Record[T]{}, err
		}
		r.log.Info("create acknowledged", "temp_id", id, "id", serverID, "outcome", outcome)

		rec, err := r.record(next)
		return outcome, rec, err

	case store.OpUpdate:
		_, data, err := r.merged(s.data, remote)
		if err != nil {
			data = s.data
		}

		unlock := r.lock(id)
		defer unlock()
		release()

		cur, err := r.table.Get(ctx, id)
		if err != nil {
			return OutcomeSkipped, Record[T]{}, r.notFound(err)
		}

		next := cur
		outcome := OutcomeSuperseded
		next.Snapshot = data
		next.LastSyncAt = now
		if s.same(cur) {
			outcome = OutcomeCleared
			next = store.Row{
				ID:               id,
				Data:             data,
				Snapshot:         data,
				LastSyncAt:       now,
				PendingOp:        store.OpNone,
				Status:           store.StatusSynced,
				OfflineAvailable: cur.OfflineAvailable,
				UpdatedAt:        now,
			}
		}
		if err := r.table.Upsert(ctx, next); err != nil {
			return OutcomeSkipped, Record[T]{}, err
		}
		r.log.Info("update acknowledged", "id", id, "outcome", outcome)

		rec, err := r.record(next)
		return outcome, rec, err

	default:
		unlock := r.lock(id)
		defer unlock()
		release()

		cur, err := r.table.Get(ctx, id)
		if errors.Is(err, store.ErrNotFound) {
			return OutcomeCleared, Record[T]{}, nil
		}
		if err != nil {
			return OutcomeSkipped, Record[T]{}, err
		}
		if err := r.table.Delete(ctx, id); err != nil {
			return OutcomeSkipped, Record[T]{}, err
		}
		r.log.Info("delete acknowledged", "id", id)

		rec, err := r.record(cur)
		return OutcomeCleared, rec, err
	}
}

// supersede: создание подтверждено, но строку успели изменить или удалить
func (r *Repository[T]) supersede(cur, acked store.Row, serverID int64) store.Row {
	next := acked
	next.Status = store.StatusPending
	next.IdempotencyKey = newKey()

	if cur.PendingOp == store.OpDelete {
		next.PendingOp = store.OpDelete
		return next
	}

	next.PendingOp = store.OpUpdate
	if v, err := r.cap.Decode(cur.Data); err == nil {
		if data, err := r.cap.Encode(r.cap.Assign(v, serverID)); err == nil {
			next.Data = data
		}
	}
	return next
}

func (r *Repository[T]) fail(ctx context.Context, id int64, s sent, callErr error, direct bool, release func()) (Outcome, Record[T], error) {
	unlock := r.lock(id)
	defer unlock()
	release()

	cur, err := r.table.Get(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return OutcomeSkipped, Record[T]{}, nil
	}
	if err != nil {
		return OutcomeSkipped, Record[T]{}, err
	}

	next := cur
	next.LastError = callErr.Error()
	now := r.now()
	outcome := OutcomeRetrying

	switch {
	case !s.same(cur):
		// отказ относится к устаревшей версии строки, новую отправим сразу
		next.RetryCount = 0
		next.NextAttemptAt = 0
		next.Status = store.StatusPending
		outcome = OutcomeSuperseded

	case gateway.IsUnauthorized(callErr):
		next.Status = store.StatusPending
		next.NextAttemptAt = store.Millis(now.Add(r.opts.policy.Initial))
		outcome = OutcomeAuthRequired
		r.notifyAuth(callErr)

	case gateway.IsPermanent(callErr) && direct:
		return r.revert(ctx, cur, callErr)

	case gateway.IsPermanent(callErr):
		next.Status = store.StatusFailed
		outcome = OutcomeFailed

	default:
		next.RetryCount = cur.RetryCount + 1
		if r.opts.policy.Exhausted(next.RetryCount) {
			next.Status = store.StatusFailed
			outcome = OutcomeFailed
		} else {
			next.Status = store.StatusPending
			next.NextAttemptAt = store.Millis(now.Add(r.opts.policy.Delay(next.RetryCount)))
		}
	}

	if err := r.table.Upsert(ctx, next); err != nil {
		return OutcomeSkipped, Record[T]{}, err
	}

	r.log.Warn("pending operation failed",
		"id", id,
		"op", cur.PendingOp,
		"retry", next.RetryCount,
		"outcome", outcome,
		"error", callErr,
	)

	rec, err := r.record(next)
	return outcome, rec, err
}

// revert возвращает строку к последней подтвержденной версии;
// неподтвержденное создание удаляется
func (r *Repository[T]) revert(ctx context.Context, cur store.Row, callErr error) (Outcome, Record[T], error) {
	rec, _ := r.record(cur)
	rec.Status = store.StatusFailed
	rec.LastError = callErr.Error()

	if cur.Snapshot == nil {
		if err := r.table.Delete(ctx, cur.ID); err != nil {
			return OutcomeSkipped, Record[T]{}, err
		}
	} else {
		restored := cur
		restored.Data = cur.Snapshot
		restored.PendingOp = store.OpNone
		restored.Status = store.StatusSynced
		restored.RetryCount = 0
		restored.NextAttemptAt = 0
		restored.IdempotencyKey = ""
		restored.LastError = ""
		if err := r.table.Upsert(ctx, restored); err != nil {
			return OutcomeSkipped, Record[T]{}, err
		}
	}

	r.log.Warn("operation rejected, local change reverted", "id", cur.ID, "op", cur.PendingOp, "error", callErr)

	return OutcomeFailed, rec, nil
}

// Retry возвращает строку из Failed в очередь и сбрасывает отсрочку
func (r *Repository[T]) Retry(ctx context.Context, id int64) error {
	id = r.resolve(id)
	unlock := r.lock(id)
	defer unlock()

	cur, err := r.table.Get(ctx, id)
	if err != nil {
		return r.notFound(err)
	}
	if !cur.IsPending() {
		return ErrNotPending
	}

	if cur.Status == store.StatusFailed {
		cur.Status = store.StatusPending
		cur.RetryCount = 0
		cur.LastError = ""
	}
	cur.NextAttemptAt = 0
	return r.table.Upsert(ctx, cur)
}

// Discard отбрасывает неподтвержденную операцию и возвращает строку
// к подтвержденной версии
func (r *Repository[T]) Discard(ctx context.Context, id int64) error {
	id = r.resolve(id)
	unlock := r.lock(id)
	defer unlock()

	cur, err := r.table.Get(ctx, id)
	if err != nil {
		return r.notFound(err)
	}
	if !cur.IsPending() {
		return ErrNotPending
	}
	if r.isInflight(id) {
		return ErrBusy
	}

	if cur.Snapshot == nil {
		r.log.Info("pending create discarded", "id", id)
		return r.table.Delete(ctx, id)
	}

	restored := cur
	restored.Data = cur.Snapshot
	restored.PendingOp = store.OpNone
	restored.Status = store.StatusSynced
	restored.RetryCount = 0
	restored.NextAttemptAt = 0
	restored.IdempotencyKey = ""
	restored.LastError = ErrDiscarded.Error()
	r.log.Info("pending operation discarded", "id", id, "op", cur.PendingOp)

	return r.table.Upsert(ctx, restored)
}

// Entries - содержимое очереди синхронизации, включая Failed
func (r *Repository[T]) Entries(ctx context.Context) ([]Entry, error) {
	rows, err := r.table.Pending(ctx)
	if err != nil {
		return nil, err
	}

	out := make([]Entry, 0, len(rows))
	for _, row := range rows {
		out = append(out, Entry{
			Kind:          r.Kind(),
			ID:            row.ID,
			PendingOp:     row.PendingOp,
			Status:        row.Status,
			RetryCount:    row.RetryCount,
			NextAttemptAt: store.Time(row.NextAttemptAt),
			LastError:     row.LastError,
			UpdatedAt:     store.Time(row.UpdatedAt),
			Data:          json.RawMessage(row.Data),
		})
	}
	return out, nil
}
