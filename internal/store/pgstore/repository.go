package pgstore

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/JonMunkholm/csvsync/internal/core"
	"github.com/jackc/pgx/v5"
)

// SequenceColumn is filled with MAX+1 on insert when the table has it and
// the row does not set it.
const SequenceColumn = "csv_id"

type repository struct {
	tx    *pgTx
	name  string
	ident string
}

func (r *repository) All(ctx context.Context) ([]core.Entity, error) {
	return r.Select(ctx, "SELECT * FROM "+r.ident+" ORDER BY 1")
}

// Select runs a raw query and wraps each returned row as a record of this
// repository's table.
func (r *repository) Select(ctx context.Context, query string, args ...any) ([]core.Entity, error) {
	rows, err := r.tx.tx.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", r.name, err)
	}
	maps, err := pgx.CollectRows(rows, pgx.RowToMap)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", r.name, err)
	}
	out := make([]core.Entity, len(maps))
	for i, m := range maps {
		out[i] = core.LoadedRecord(r.name, core.Fields(m))
	}
	return out, nil
}

func (r *repository) Create(ctx context.Context, fields core.Fields) (core.Entity, error) {
	fields = fields.Clone()
	if _, ok := fields[SequenceColumn]; !ok {
		cols, err := r.tx.tableColumns(ctx, r.name)
		if err != nil {
			return nil, err
		}
		if cols[SequenceColumn] {
			next, err := r.nextSequence(ctx)
			if err != nil {
				return nil, err
			}
			fields[SequenceColumn] = next
		}
	}

	query, args := buildInsert(r.ident, fields)
	rows, err := r.tx.tx.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	m, err := pgx.CollectOneRow(rows, pgx.RowToMap)
	if err != nil {
		return nil, err
	}
	return core.LoadedRecord(r.name, core.Fields(m)), nil
}

func (r *repository) nextSequence(ctx context.Context) (int64, error) {
	col := pgx.Identifier{SequenceColumn}.Sanitize()
	var next int64
	err := r.tx.tx.QueryRow(ctx, "SELECT COALESCE(MAX("+col+"), 0) + 1 FROM "+r.ident).Scan(&next)
	if err != nil {
		return 0, fmt.Errorf("next %s for %s: %w", SequenceColumn, r.name, err)
	}
	return next, nil
}

func (r *repository) Save(ctx context.Context, e core.Entity) error {
	rec, ok := e.(*core.Record)
	if !ok {
		return fmt.Errorf("pgstore: cannot save %T", e)
	}
	if rec.ID() == nil {
		return fmt.Errorf("pgstore: %s record has no id", r.name)
	}
	dirty := rec.Dirty()
	if len(dirty) == 0 {
		return nil
	}

	set := make(core.Fields, len(dirty))
	for _, name := range dirty {
		set[name], _ = rec.Get(name)
	}
	query, args := buildUpdate(r.ident, set, rec.ID())
	rows, err := r.tx.tx.Query(ctx, query, args...)
	if err != nil {
		return err
	}
	m, err := pgx.CollectOneRow(rows, pgx.RowToMap)
	if err != nil {
		return fmt.Errorf("update %s id %v: %w", r.name, rec.ID(), err)
	}
	rec.MarkSaved(core.Fields(m))
	return nil
}

func (r *repository) DeleteAll(ctx context.Context) (int64, error) {
	tag, err := r.tx.tx.Exec(ctx, "DELETE FROM "+r.ident)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func sortedKeys(fields core.Fields) []string {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// buildInsert returns an INSERT ... RETURNING * statement with columns in
// name order.
func buildInsert(table string, fields core.Fields) (string, []any) {
	if len(fields) == 0 {
		return "INSERT INTO " + table + " DEFAULT VALUES RETURNING *", nil
	}
	keys := sortedKeys(fields)
	cols := make([]string, len(keys))
	params := make([]string, len(keys))
	args := make([]any, len(keys))
	for i, k := range keys {
		cols[i] = pgx.Identifier{k}.Sanitize()
		params[i] = fmt.Sprintf("$%d", i+1)
		args[i] = fields[k]
	}
	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) RETURNING *",
		table, strings.Join(cols, ", "), strings.Join(params, ", "))
	return query, args
}

// buildUpdate returns an UPDATE of the given fields for the row with id.
func buildUpdate(table string, fields core.Fields, id any) (string, []any) {
	keys := sortedKeys(fields)
	sets := make([]string, len(keys))
	args := make([]any, 0, len(keys)+1)
	for i, k := range keys {
		sets[i] = fmt.Sprintf("%s = $%d", pgx.Identifier{k}.Sanitize(), i+1)
		args = append(args, fields[k])
	}
	args = append(args, id)
	query := fmt.Sprintf("UPDATE %s SET %s WHERE %s = $%d RETURNING *",
		table, strings.Join(sets, ", "), pgx.Identifier{"id"}.Sanitize(), len(args))
	return query, args
}
