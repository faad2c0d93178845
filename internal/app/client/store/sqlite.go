package store

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"strings"
	"sync"

	_ "github.com/mattn/go-sqlite3"
	"golang.org/x/exp/slog"

	"edusync/internal/domain/entity"
	"edusync/internal/infrastructure/migration"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

const rowColumns = `id, data, snapshot, last_sync_at, pending_op, status, retry_count,
	next_attempt_at, last_error, idempotency_key, offline_available, updated_at`

// SQLite - хранилище в файле SQLite, по таблице на семейство сущностей
type SQLite struct {
	db     *sql.DB
	log    *slog.Logger
	mu     sync.Mutex
	tables map[entity.Kind]*sqliteTable
}

func NewSQLite(path string, log *slog.Logger) (*SQLite, error) {
	log = log.With("component", "sqlite_store")

	mg := migration.NewMigration("", "sqlite3://"+path, migration.EmbeddedEngine(migrationsFS, "migrations"))
	if err := mg.Up(); err != nil {
		return nil, fmt.Errorf("ошибка миграции локальной базы: %w", err)
	}

	db, err := sql.Open("sqlite3", path+"?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000&_txlock=immediate")
	if err != nil {
		return nil, fmt.Errorf("ошибка открытия базы данных: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ошибка открытия базы данных: %w", err)
	}

	s := &SQLite{db: db, log: log, tables: make(map[entity.Kind]*sqliteTable)}
	for _, k := range entity.Kinds() {
		s.tables[k] = newSQLiteTable(db, k, log)
	}

	log.Debug("local store opened", "path", path)

	return s, nil
}

func (s *SQLite) Table(kind entity.Kind) Table {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tables[kind]
	if !ok {
		t = newSQLiteTable(s.db, kind, s.log)
		s.tables[kind] = t
	}
	return t
}

func (s *SQLite) Close() error {
	return s.db.Close()
}

type sqliteTable struct {
	db   *sql.DB
	kind entity.Kind
	name string
	// один писатель на таблицу
	mu  sync.Mutex
	hub *hub
	log *slog.Logger
}

func newSQLiteTable(db *sql.DB, kind entity.Kind, log *slog.Logger) *sqliteTable {
	return &sqliteTable{
		db:   db,
		kind: kind,
		name: `"` + strings.ReplaceAll(string(kind), `"`, `""`) + `"`,
		hub:  newHub(),
		log:  log.With("kind", kind),
	}
}

func (t *sqliteTable) Kind() entity.Kind { return t.kind }

type scanner interface {
	Scan(dest ...any) error
}

func scanRow(sc scanner) (Row, error) {
	var (
		r       Row
		op, st  string
		offline int
	)
	err := sc.Scan(&r.ID, &r.Data, &r.Snapshot, &r.LastSyncAt, &op, &st, &r.RetryCount,
		&r.NextAttemptAt, &r.LastError, &r.IdempotencyKey, &offline, &r.UpdatedAt)
	if err != nil {
		return Row{}, err
	}
	r.PendingOp = PendingOp(op)
	r.Status = Status(st)
	r.OfflineAvailable = offline != 0
	return r, nil
}

func (t *sqliteTable) Get(ctx context.Context, id int64) (Row, error) {
	row, err := scanRow(t.db.QueryRowContext(ctx,
		`SELECT `+rowColumns+` FROM `+t.name+` WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return Row{}, ErrNotFound
	}
	if err != nil {
		return Row{}, storageErr("get", t.kind, err)
	}
	return row, nil
}

func (t *sqliteTable) GetAll(ctx context.Context, pred Predicate) ([]Row, error) {
	return t.query(ctx, "get_all", pred, `SELECT `+rowColumns+` FROM `+t.name+` ORDER BY id`)
}

func (t *sqliteTable) query(ctx context.Context, op string, pred Predicate, q string, args ...any) ([]Row, error) {
	if pred == nil {
		pred = All
	}

	rows, err := t.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, storageErr(op, t.kind, err)
	}
	defer rows.Close()

	out := []Row{}
	for rows.Next() {
		r, err := scanRow(rows)
		if err != nil {
			return nil, storageErr(op, t.kind, err)
		}
		if pred(r) {
			out = append(out, r)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr(op, t.kind, err)
	}

	return out, nil
}

const upsertSQL = `INSERT INTO %s (` + rowColumns + `)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		data = excluded.data,
		snapshot = excluded.snapshot,
		last_sync_at = excluded.last_sync_at,
		pending_op = excluded.pending_op,
		status = excluded.status,
		retry_count = excluded.retry_count,
		next_attempt_at = excluded.next_attempt_at,
		last_error = excluded.last_error,
		idempotency_key = excluded.idempotency_key,
		offline_available = excluded.offline_available,
		updated_at = excluded.updated_at`

// строки с локальной операцией не трогаем; last_sync_at только растет
const applyRemoteSQL = `INSERT INTO %s (` + rowColumns + `)
	VALUES (?, ?, ?, ?, 'none', 'synced', 0, 0, '', '', ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		data = excluded.data,
		snapshot = excluded.snapshot,
		last_sync_at = MAX(last_sync_at, excluded.last_sync_at),
		status = 'synced',
		retry_count = 0,
		next_attempt_at = 0,
		last_error = '',
		idempotency_key = '',
		offline_available = MAX(offline_available, excluded.offline_available),
		updated_at = excluded.updated_at
	WHERE pending_op = 'none'`

func rowArgs(r Row) []any {
	r = r.normalized()
	return []any{r.ID, nonNil(r.Data), r.Snapshot, r.LastSyncAt, string(r.PendingOp), string(r.Status),
		r.RetryCount, r.NextAttemptAt, r.LastError, r.IdempotencyKey, boolInt(r.OfflineAvailable), r.UpdatedAt}
}

func (t *sqliteTable) Upsert(ctx context.Context, row Row) error {
	return t.UpsertMany(ctx, []Row{row})
}

func (t *sqliteTable) UpsertMany(ctx context.Context, rows []Row) error {
	if len(rows) == 0 {
		return nil
	}

	err := t.withTx(ctx, "upsert", func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, fmt.Sprintf(upsertSQL, t.name))
		if err != nil {
			return err
		}
		defer stmt.Close()

		for _, r := range rows {
			if _, err := stmt.ExecContext(ctx, rowArgs(r)...); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	t.hub.notify()
	return nil
}

func (t *sqliteTable) Delete(ctx context.Context, id int64) error {
	t.mu.Lock()
	res, err := t.db.ExecContext(ctx, `DELETE FROM `+t.name+` WHERE id = ?`, id)
	t.mu.Unlock()
	if err != nil {
		return storageErr("delete", t.kind, err)
	}

	if n, _ := res.RowsAffected(); n > 0 {
		t.hub.notify()
	}
	return nil
}

func (t *sqliteTable) Rename(ctx context.Context, oldID, newID int64, row Row) error {
	row.ID = newID

	err := t.withTx(ctx, "rename", func(tx *sql.Tx) error {
		var exists bool
		if err := tx.QueryRowContext(ctx,
			`SELECT EXISTS(SELECT 1 FROM `+t.name+` WHERE id = ?)`, oldID).Scan(&exists); err != nil {
			return err
		}
		if !exists {
			return ErrNotFound
		}

		if oldID != newID {
			if _, err := tx.ExecContext(ctx, `DELETE FROM `+t.name+` WHERE id = ?`, newID); err != nil {
				return err
			}
			if _, err := tx.ExecContext(ctx, `UPDATE `+t.name+` SET id = ? WHERE id = ?`, newID, oldID); err != nil {
				return err
			}
		}

		_, err := tx.ExecContext(ctx, fmt.Sprintf(upsertSQL, t.name), rowArgs(row)...)
		return err
	})
	if err != nil {
		return err
	}

	t.hub.notify()
	return nil
}

func (t *sqliteTable) ApplyRemote(ctx context.Context, rows []Row) (int, error) {
	if len(rows) == 0 {
		return 0, nil
	}

	applied := 0
	err := t.withTx(ctx, "apply_remote", func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, fmt.Sprintf(applyRemoteSQL, t.name))
		if err != nil {
			return err
		}
		defer stmt.Close()

		for _, r := range rows {
			r = remoteRow(r)
			res, err := stmt.ExecContext(ctx, r.ID, nonNil(r.Data), r.Snapshot, r.LastSyncAt,
				boolInt(r.OfflineAvailable), r.UpdatedAt)
			if err != nil {
				return err
			}
			n, err := res.RowsAffected()
			if err != nil {
				return err
			}
			applied += int(n)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	if applied > 0 {
		t.hub.notify()
	}
	return applied, nil
}

func (t *sqliteTable) Pending(ctx context.Context) ([]Row, error) {
	return t.query(ctx, "pending", nil,
		`SELECT `+rowColumns+` FROM `+t.name+` WHERE pending_op <> 'none' ORDER BY updated_at, id`)
}

func (t *sqliteTable) Evict(ctx context.Context, before int64) (int, error) {
	t.mu.Lock()
	res, err := t.db.ExecContext(ctx,
		`DELETE FROM `+t.name+` WHERE pending_op = 'none' AND offline_available = 0 AND last_sync_at < ?`, before)
	t.mu.Unlock()
	if err != nil {
		return 0, storageErr("evict", t.kind, err)
	}

	n, _ := res.RowsAffected()
	if n > 0 {
		t.hub.notify()
	}
	return int(n), nil
}

func (t *sqliteTable) Observe(ctx context.Context, pred Predicate) <-chan []Row {
	return observe(ctx, t.hub, pred, t.GetAll, t.log)
}

// withTx выполняет fn в транзакции под блокировкой писателя
func (t *sqliteTable) withTx(ctx context.Context, op string, fn func(tx *sql.Tx) error) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	tx, err := t.db.BeginTx(ctx, nil)
	if err != nil {
		return storageErr(op, t.kind, err)
	}

	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		if errors.Is(err, ErrNotFound) {
			return err
		}
		return storageErr(op, t.kind, err)
	}

	if err := tx.Commit(); err != nil {
		return storageErr(op, t.kind, err)
	}
	return nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nonNil(b []byte) []byte {
	if b == nil {
		return []byte{}
	}
	return b
}
