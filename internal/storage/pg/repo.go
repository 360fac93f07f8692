package pg

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"readaloud/internal/models"
	"readaloud/internal/storage"
)

// table describes how an entity maps onto a Postgres table.
// The key columns come first in columns.
type table[T models.Entity] struct {
	name    models.Table
	keys    int
	columns []string
	values  func(T) []any
	scan    func(pgx.Row) (T, error)
}

func (t table[T]) ident(column string) string {
	return pgx.Identifier{column}.Sanitize()
}

func (t table[T]) columnList() string {
	idents := make([]string, len(t.columns))
	for i, c := range t.columns {
		idents[i] = t.ident(c)
	}
	return strings.Join(idents, ", ")
}

func (t table[T]) placeholders() string {
	ph := make([]string, len(t.columns))
	for i := range t.columns {
		ph[i] = fmt.Sprintf("$%d", i+1)
	}
	return strings.Join(ph, ", ")
}

func (t table[T]) keyWhere(offset int) string {
	conds := make([]string, t.keys)
	for i := 0; i < t.keys; i++ {
		conds[i] = fmt.Sprintf("%s = $%d", t.ident(t.columns[i]), offset+i+1)
	}
	return strings.Join(conds, " AND ")
}

func (t table[T]) insertSQL() string {
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", t.ident(string(t.name)), t.columnList(), t.placeholders())
}

func (t table[T]) upsertSQL() string {
	keys := make([]string, t.keys)
	for i := 0; i < t.keys; i++ {
		keys[i] = t.ident(t.columns[i])
	}
	sets := make([]string, 0, len(t.columns)-t.keys)
	for _, c := range t.columns[t.keys:] {
		sets = append(sets, fmt.Sprintf("%s = EXCLUDED.%s", t.ident(c), t.ident(c)))
	}
	return fmt.Sprintf("%s ON CONFLICT (%s) DO UPDATE SET %s",
		t.insertSQL(), strings.Join(keys, ", "), strings.Join(sets, ", "))
}

func (t table[T]) updateSQL() string {
	sets := make([]string, 0, len(t.columns)-t.keys)
	for i, c := range t.columns[t.keys:] {
		sets = append(sets, fmt.Sprintf("%s = $%d", t.ident(c), i+1))
	}
	return fmt.Sprintf("UPDATE %s SET %s WHERE %s",
		t.ident(string(t.name)), strings.Join(sets, ", "), t.keyWhere(len(t.columns)-t.keys))
}

// splitKey turns an entity key into the values of the key columns
func (t table[T]) splitKey(key string) ([]any, error) {
	if t.keys == 1 {
		return []any{key}, nil
	}
	parts := strings.SplitN(key, ":", t.keys)
	if len(parts) != t.keys {
		return nil, fmt.Errorf("malformed key %q for %s", key, t.name)
	}
	args := make([]any, len(parts))
	for i, p := range parts {
		args[i] = p
	}
	return args, nil
}

func (t table[T]) hasColumn(field string) bool {
	for _, c := range t.columns {
		if c == field {
			return true
		}
	}
	return false
}

type repo[T models.Entity] struct {
	pool  *pgxpool.Pool
	table table[T]
}

func (r *repo[T]) Insert(ctx context.Context, item T) error {
	if _, err := r.pool.Exec(ctx, r.table.insertSQL(), r.table.values(item)...); err != nil {
		return fmt.Errorf("failed to insert into %s: %w", r.table.name, err)
	}
	return nil
}

func (r *repo[T]) Upsert(ctx context.Context, item T) error {
	if _, err := r.pool.Exec(ctx, r.table.upsertSQL(), r.table.values(item)...); err != nil {
		return fmt.Errorf("failed to upsert into %s: %w", r.table.name, err)
	}
	return nil
}

// UpsertBatch sends every upsert in one round trip inside a transaction
func (r *repo[T]) UpsertBatch(ctx context.Context, items []T) error {
	if len(items) == 0 {
		return nil
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin batch on %s: %w", r.table.name, err)
	}
	defer tx.Rollback(ctx)

	query := r.table.upsertSQL()
	batch := &pgx.Batch{}
	for _, item := range items {
		batch.Queue(query, r.table.values(item)...)
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("failed to upsert batch into %s: %w", r.table.name, err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit batch on %s: %w", r.table.name, err)
	}
	return nil
}

func (r *repo[T]) Update(ctx context.Context, item T) error {
	values := r.table.values(item)
	args := append(append([]any{}, values[r.table.keys:]...), values[:r.table.keys]...)

	tag, err := r.pool.Exec(ctx, r.table.updateSQL(), args...)
	if err != nil {
		return fmt.Errorf("failed to update %s: %w", r.table.name, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("update %s %s: %w", r.table.name, item.Key(), storage.ErrNotFound)
	}
	return nil
}

func (r *repo[T]) Delete(ctx context.Context, key string) error {
	args, err := r.table.splitKey(key)
	if err != nil {
		return err
	}
	query := fmt.Sprintf("DELETE FROM %s WHERE %s", r.table.ident(string(r.table.name)), r.table.keyWhere(0))
	if _, err := r.pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to delete from %s: %w", r.table.name, err)
	}
	return nil
}

func (r *repo[T]) DeleteWhere(ctx context.Context, field, value string) error {
	if !r.table.hasColumn(field) {
		return fmt.Errorf("unknown column %q in %s", field, r.table.name)
	}
	query := fmt.Sprintf("DELETE FROM %s WHERE %s = $1", r.table.ident(string(r.table.name)), r.table.ident(field))
	if _, err := r.pool.Exec(ctx, query, value); err != nil {
		return fmt.Errorf("failed to delete from %s by %s: %w", r.table.name, field, err)
	}
	return nil
}

func (r *repo[T]) List(ctx context.Context) ([]T, error) {
	query := fmt.Sprintf("SELECT %s FROM %s ORDER BY %s",
		r.table.columnList(), r.table.ident(string(r.table.name)), r.table.ident(r.table.columns[0]))

	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", r.table.name, err)
	}
	defer rows.Close()

	items := []T{}
	for rows.Next() {
		item, err := r.table.scan(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan %s: %w", r.table.name, err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", r.table.name, err)
	}
	return items, nil
}
