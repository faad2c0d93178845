// Package store - локальное хранилище сущностей клиента: по таблице на семейство.
// Бизнес-логики здесь нет, только хранение и запросы.
package store

import (
	"context"
	"sync"

	"golang.org/x/exp/slog"

	"edusync/internal/domain/entity"
)

// Table - таблица одного семейства. Запись в таблицу последовательная
// (один писатель), чтение конкурентное.
type Table interface {
	Kind() entity.Kind

	Get(ctx context.Context, id int64) (Row, error)
	// GetAll возвращает строки по возрастанию id
	GetAll(ctx context.Context, pred Predicate) ([]Row, error)
	Upsert(ctx context.Context, row Row) error
	// UpsertMany атомарна: либо записаны все строки, либо ни одной
	UpsertMany(ctx context.Context, rows []Row) error
	Delete(ctx context.Context, id int64) error
	// Rename переносит строку oldID под newID одной транзакцией.
	// Существующая строка newID заменяется.
	Rename(ctx context.Context, oldID, newID int64, row Row) error

	// ApplyRemote пакетно записывает подтвержденные сервером строки, пропуская
	// строки с неподтвержденной локальной операцией. LastSyncAt не убывает.
	// Возвращает число записанных строк.
	ApplyRemote(ctx context.Context, rows []Row) (int, error)
	// Pending - очередь синхронизации: строки с PendingOp != none
	Pending(ctx context.Context) ([]Row, error)
	// Evict удаляет синхронизированные строки без офлайн-флага, обновленные раньше before
	Evict(ctx context.Context, before int64) (int, error)

	// Observe сразу отдает текущее состояние, затем новое после каждой записи,
	// меняющей выборку. Канал закрывается при отмене ctx.
	Observe(ctx context.Context, pred Predicate) <-chan []Row
}

// Store - handle хранилища, создается один раз при старте и передается явно
type Store interface {
	Table(kind entity.Kind) Table
	Close() error
}

// hub рассылает сигналы об изменении таблицы. Сигнал не несет данных:
// подписчик сам перечитывает таблицу, поэтому серия записей схлопывается.
type hub struct {
	mu   sync.Mutex
	next int
	subs map[int]chan struct{}
}

func newHub() *hub {
	return &hub{subs: make(map[int]chan struct{})}
}

func (h *hub) subscribe() (int, <-chan struct{}) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.next++
	ch := make(chan struct{}, 1)
	h.subs[h.next] = ch
	return h.next, ch
}

func (h *hub) unsubscribe(id int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.subs, id)
}

func (h *hub) notify() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, ch := range h.subs {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

type queryFunc func(ctx context.Context, pred Predicate) ([]Row, error)

func observe(ctx context.Context, h *hub, pred Predicate, query queryFunc, log *slog.Logger) <-chan []Row {
	out := make(chan []Row, 1)
	if pred == nil {
		pred = All
	}

	// подписка до первого чтения, чтобы не потерять запись между ними
	id, sig := h.subscribe()

	go func() {
		defer close(out)
		defer h.unsubscribe(id)

		var (
			last    []Row
			emitted bool
		)
		for {
			rows, err := query(ctx, pred)
			switch {
			case err != nil:
				if ctx.Err() != nil {
					return
				}
				log.Error("observe query failed", "error", err)
			case !emitted || !rowsEqual(last, rows):
				select {
				case out <- rows:
					last, emitted = rows, true
				case <-ctx.Done():
					return
				}
			}

			select {
			case <-ctx.Done():
				return
			case <-sig:
			}
		}
	}()

	return out
}
