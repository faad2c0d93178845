package store

import (
	"context"
	"sort"
	"sync"

	"golang.org/x/exp/slog"

	"edusync/internal/domain/entity"
)

// Memory - хранилище в памяти: для тестов и работы без файла базы
type Memory struct {
	mu     sync.Mutex
	tables map[entity.Kind]*memoryTable
	log    *slog.Logger
}

func NewMemory(log *slog.Logger) *Memory {
	m := &Memory{tables: make(map[entity.Kind]*memoryTable), log: log.With("component", "memory_store")}
	for _, k := range entity.Kinds() {
		m.tables[k] = newMemoryTable(k, m.log)
	}
	return m
}

func (m *Memory) Table(kind entity.Kind) Table {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.tables[kind]
	if !ok {
		t = newMemoryTable(kind, m.log)
		m.tables[kind] = t
	}
	return t
}

func (m *Memory) Close() error {
	return nil
}

type memoryTable struct {
	kind entity.Kind
	mu   sync.RWMutex
	rows map[int64]Row
	hub  *hub
	log  *slog.Logger
}

func newMemoryTable(kind entity.Kind, log *slog.Logger) *memoryTable {
	return &memoryTable{
		kind: kind,
		rows: make(map[int64]Row),
		hub:  newHub(),
		log:  log.With("kind", kind),
	}
}

func (t *memoryTable) Kind() entity.Kind { return t.kind }

func (t *memoryTable) Get(ctx context.Context, id int64) (Row, error) {
	if err := ctx.Err(); err != nil {
		return Row{}, err
	}

	t.mu.RLock()
	defer t.mu.RUnlock()

	row, ok := t.rows[id]
	if !ok {
		return Row{}, ErrNotFound
	}
	return row.clone(), nil
}

func (t *memoryTable) GetAll(ctx context.Context, pred Predicate) ([]Row, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if pred == nil {
		pred = All
	}

	t.mu.RLock()
	out := make([]Row, 0, len(t.rows))
	for _, row := range t.rows {
		if pred(row) {
			out = append(out, row.clone())
		}
	}
	t.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (t *memoryTable) Upsert(ctx context.Context, row Row) error {
	return t.UpsertMany(ctx, []Row{row})
}

func (t *memoryTable) UpsertMany(ctx context.Context, rows []Row) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	t.mu.Lock()
	for _, row := range rows {
		t.rows[row.ID] = row.normalized().clone()
	}
	t.mu.Unlock()

	t.hub.notify()
	return nil
}

func (t *memoryTable) Delete(ctx context.Context, id int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	t.mu.Lock()
	_, ok := t.rows[id]
	delete(t.rows, id)
	t.mu.Unlock()

	if ok {
		t.hub.notify()
	}
	return nil
}

func (t *memoryTable) Rename(ctx context.Context, oldID, newID int64, row Row) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	t.mu.Lock()
	if _, ok := t.rows[oldID]; !ok {
		t.mu.Unlock()
		return ErrNotFound
	}
	delete(t.rows, oldID)
	row.ID = newID
	t.rows[newID] = row.normalized().clone()
	t.mu.Unlock()

	t.hub.notify()
	return nil
}

func (t *memoryTable) ApplyRemote(ctx context.Context, rows []Row) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	applied := 0
	t.mu.Lock()
	for _, in := range rows {
		in = remoteRow(in)
		if cur, ok := t.rows[in.ID]; ok {
			if cur.IsPending() {
				continue
			}
			in.LastSyncAt = maxInt64(cur.LastSyncAt, in.LastSyncAt)
			in.OfflineAvailable = in.OfflineAvailable || cur.OfflineAvailable
		}
		t.rows[in.ID] = in.clone()
		applied++
	}
	t.mu.Unlock()

	if applied > 0 {
		t.hub.notify()
	}
	return applied, nil
}

func (t *memoryTable) Pending(ctx context.Context) ([]Row, error) {
	rows, err := t.GetAll(ctx, Row.IsPending)
	if err != nil {
		return nil, err
	}
	sortPending(rows)
	return rows, nil
}

func (t *memoryTable) Evict(ctx context.Context, before int64) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	n := 0
	t.mu.Lock()
	for id, row := range t.rows {
		if evictable(row, before) {
			delete(t.rows, id)
			n++
		}
	}
	t.mu.Unlock()

	if n > 0 {
		t.hub.notify()
	}
	return n, nil
}

func (t *memoryTable) Observe(ctx context.Context, pred Predicate) <-chan []Row {
	return observe(ctx, t.hub, pred, t.GetAll, t.log)
}

// remoteRow приводит строку сервера к синхронизированному виду
func remoteRow(in Row) Row {
	in.PendingOp = OpNone
	in.Status = StatusSynced
	in.Snapshot = in.Data
	in.RetryCount = 0
	in.NextAttemptAt = 0
	in.LastError = ""
	in.IdempotencyKey = ""
	return in
}

func evictable(row Row, before int64) bool {
	return !row.IsPending() && !row.OfflineAvailable && row.LastSyncAt < before
}

func sortPending(rows []Row) {
	sort.SliceStable(rows, func(i, j int) bool {
		if rows[i].UpdatedAt != rows[j].UpdatedAt {
			return rows[i].UpdatedAt < rows[j].UpdatedAt
		}
		return rows[i].ID < rows[j].ID
	})
}
