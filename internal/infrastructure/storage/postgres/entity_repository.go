package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"golang.org/x/exp/slog"

	"edusync/internal/domain/entity"
)

// EntityRepository хранит все семейства в одной таблице entities (jsonb).
// Ключи идемпотентности живут в idempotency_keys: повтор запроса с тем же
// ключом не пишет второй раз и отдает результат первого выполнения.
type EntityRepository struct {
	db  *Storage
	log *slog.Logger
}

func NewEntityRepository(db *Storage, log *slog.Logger) *EntityRepository {
	return &EntityRepository{
		db:  db,
		log: log.With("component", "entity_repository"),
	}
}

const (
	opCreate = "create"
	opUpdate = "update"
	opDelete = "delete"
)

type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// listQuery собирает запрос с условиями data->>field = value
func listQuery(kind entity.Kind, filter entity.Filter) (string, []any) {
	var sb strings.Builder
	sb.WriteString(`SELECT id, data, updated_at FROM entities WHERE kind = $1`)
	args := []any{string(kind)}
	for _, c := range filter {
		args = append(args, c.Field, c.Value)
		fmt.Fprintf(&sb, ` AND data->>$%d = $%d`, len(args)-1, len(args))
	}
	sb.WriteString(` ORDER BY id`)
	return sb.String(), args
}

func (r *EntityRepository) List(ctx context.Context, kind entity.Kind, filter entity.Filter) ([]entity.Document, error) {
	query, args := listQuery(kind, filter)

	rows, err := r.db.Pool().Query(ctx, query, args...)
	if err != nil {
		r.log.Error("failed to list entities", "kind", kind, "error", err)
		return nil, fmt.Errorf("list entities: %w", err)
	}
	defer rows.Close()

	docs := make([]entity.Document, 0)
	for rows.Next() {
		var (
			doc  entity.Document
			data []byte
		)
		if err := rows.Scan(&doc.ID, &data, &doc.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan entity: %w", err)
		}
		doc.Kind = kind
		doc.Data = json.RawMessage(data)
		docs = append(docs, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate entities: %w", err)
	}

	return docs, nil
}

func (r *EntityRepository) Get(ctx context.Context, kind entity.Kind, id int64) (entity.Document, error) {
	return getDocument(ctx, r.db.Pool(), kind, id)
}

func getDocument(ctx context.Context, q querier, kind entity.Kind, id int64) (entity.Document, error) {
	doc := entity.Document{ID: id, Kind: kind}
	var data []byte
	err := q.QueryRow(ctx,
		`SELECT data, updated_at FROM entities WHERE kind = $1 AND id = $2`,
		string(kind), id).Scan(&data, &doc.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return entity.Document{}, entity.ErrNotFound
	}
	if err != nil {
		return entity.Document{}, fmt.Errorf("get entity: %w", err)
	}
	doc.Data = json.RawMessage(data)
	return doc, nil
}

func (r *EntityRepository) Create(ctx context.Context, kind entity.Kind, data json.RawMessage, idempotencyKey string) (entity.Document, error) {
	var doc entity.Document
	err := r.idempotent(ctx, kind, idempotencyKey, opCreate, func(tx pgx.Tx, seen int64, replayed bool) (int64, error) {
		if replayed {
			d, err := getDocument(ctx, tx, kind, seen)
			doc = d
			return seen, err
		}

		doc = entity.Document{Kind: kind, Data: data}
		err := tx.QueryRow(ctx,
			`INSERT INTO entities (kind, data) VALUES ($1, $2) RETURNING id, updated_at`,
			string(kind), []byte(data)).Scan(&doc.ID, &doc.UpdatedAt)
		if err != nil {
			return 0, fmt.Errorf("insert entity: %w", err)
		}
		return doc.ID, nil
	})
	if err != nil {
		return entity.Document{}, err
	}
	return doc, nil
}

func (r *EntityRepository) Update(ctx context.Context, kind entity.Kind, id int64, data json.RawMessage, idempotencyKey string) (entity.Document, error) {
	var doc entity.Document
	err := r.idempotent(ctx, kind, idempotencyKey, opUpdate, func(tx pgx.Tx, _ int64, replayed bool) (int64, error) {
		if replayed {
			d, err := getDocument(ctx, tx, kind, id)
			doc = d
			return id, err
		}

		doc = entity.Document{ID: id, Kind: kind, Data: data}
		err := tx.QueryRow(ctx,
			`UPDATE entities SET data = $3, updated_at = NOW()
             WHERE kind = $1 AND id = $2
             RETURNING updated_at`,
			string(kind), id, []byte(data)).Scan(&doc.UpdatedAt)
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, entity.ErrNotFound
		}
		if err != nil {
			return 0, fmt.Errorf("update entity: %w", err)
		}
		return id, nil
	})
	if err != nil {
		return entity.Document{}, err
	}
	return doc, nil
}

func (r *EntityRepository) Delete(ctx context.Context, kind entity.Kind, id int64, idempotencyKey string) error {
	return r.idempotent(ctx, kind, idempotencyKey, opDelete, func(tx pgx.Tx, _ int64, replayed bool) (int64, error) {
		if replayed {
			return id, nil
		}

		tag, err := tx.Exec(ctx, `DELETE FROM entities WHERE kind = $1 AND id = $2`, string(kind), id)
		if err != nil {
			return 0, fmt.Errorf("delete entity: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return 0, entity.ErrNotFound
		}
		return id, nil
	})
}

// idempotent выполняет fn в транзакции. Если ключ уже встречался, fn
// получает replayed=true и id сущности из первого выполнения.
// Параллельные запросы с одним ключом сериализуются advisory lock.
func (r *EntityRepository) idempotent(ctx context.Context, kind entity.Kind, key, op string, fn func(tx pgx.Tx, seen int64, replayed bool) (int64, error)) error {
	tx, err := r.db.Pool().Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var (
		seen     int64
		replayed bool
	)
	if key != "" {
		if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, string(kind)+":"+key); err != nil {
			return fmt.Errorf("lock idempotency key: %w", err)
		}

		err := tx.QueryRow(ctx,
			`SELECT entity_id FROM idempotency_keys WHERE kind = $1 AND key = $2`,
			string(kind), key).Scan(&seen)
		switch {
		case err == nil:
			replayed = true
		case !errors.Is(err, pgx.ErrNoRows):
			return fmt.Errorf("lookup idempotency key: %w", err)
		}
	}

	id, err := fn(tx, seen, replayed)
	if err != nil {
		return err
	}

	if replayed {
		r.log.Info("idempotent replay", "kind", kind, "id", id, "op", op, "idempotency_key", key)
	} else if key != "" {
		if _, err := tx.Exec(ctx,
			`INSERT INTO idempotency_keys (kind, key, entity_id, op) VALUES ($1, $2, $3, $4)`,
			string(kind), key, id, op); err != nil {
			return fmt.Errorf("save idempotency key: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

var _ entity.Repository = (*EntityRepository)(nil)
