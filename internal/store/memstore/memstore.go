// Package memstore is an in-memory core.Store.
//
// Each transaction works on a private copy of the tables; Commit swaps the
// copy in, Rollback drops it. Ids are assigned per table from 1. It backs
// the test suites and can serve embedders that do not need a database.
package memstore

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/JonMunkholm/csvsync/internal/core"
)

// ErrTxClosed is returned when a finished transaction is committed again.
var ErrTxClosed = errors.New("transaction already closed")

type table struct {
	rows   []core.Fields
	nextID int64
}

func (t *table) clone() *table {
	out := &table{rows: make([]core.Fields, len(t.rows)), nextID: t.nextID}
	for i, r := range t.rows {
		out.rows[i] = r.Clone()
	}
	return out
}

// Store holds tables in memory.
type Store struct {
	mu     sync.RWMutex
	tables map[string]*table
	runs   []core.RunRecord
}

// New returns an empty store.
func New() *Store {
	return &Store{tables: make(map[string]*table)}
}

// Insert adds committed rows to a table, assigning ids to rows without one.
func (s *Store) Insert(name string, rows ...core.Fields) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := s.table(name)
	for _, r := range rows {
		t.insert(r.Clone())
	}
}

// Rows returns a copy of the committed rows of a table in id order.
func (s *Store) Rows(name string) []core.Fields {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tables[name]
	if !ok {
		return nil
	}
	out := make([]core.Fields, len(t.rows))
	for i, r := range t.rows {
		out[i] = r.Clone()
	}
	return out
}

func (s *Store) table(name string) *table {
	t, ok := s.tables[name]
	if !ok {
		t = &table{nextID: 1}
		s.tables[name] = t
	}
	return t
}

func (t *table) insert(r core.Fields) core.Fields {
	if id, ok := r["id"].(int64); ok {
		if id >= t.nextID {
			t.nextID = id + 1
		}
	} else {
		r["id"] = t.nextID
		t.nextID++
	}
	t.rows = append(t.rows, r)
	return r
}

// Begin starts a transaction over a snapshot of the committed tables.
func (s *Store) Begin(ctx context.Context) (core.Tx, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := make(map[string]*table, len(s.tables))
	for name, t := range s.tables {
		snap[name] = t.clone()
	}
	return &tx{store: s, tables: snap}, nil
}

// RecordRun appends a run to the history.
func (s *Store) RecordRun(_ context.Context, run core.RunRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runs = append(s.runs, run)
	return nil
}

// RecentRuns returns up to limit runs, newest first.
func (s *Store) RecentRuns(_ context.Context, limit int) ([]core.RunRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]core.RunRecord, 0, len(s.runs))
	for i := len(s.runs) - 1; i >= 0; i-- {
		if limit > 0 && len(out) == limit {
			break
		}
		out = append(out, s.runs[i])
	}
	return out, nil
}

type tx struct {
	store  *Store
	tables map[string]*table
	done   bool
}

func (t *tx) Repository(name string) (core.Repository, error) {
	if t.done {
		return nil, ErrTxClosed
	}
	if name == "" {
		return nil, fmt.Errorf("empty table name")
	}
	tbl, ok := t.tables[name]
	if !ok {
		tbl = &table{nextID: 1}
		t.tables[name] = tbl
	}
	return &repository{name: name, table: tbl}, nil
}

func (t *tx) Commit(ctx context.Context) error {
	if t.done {
		return ErrTxClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	t.done = true
	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	t.store.tables = t.tables
	return nil
}

func (t *tx) Rollback(context.Context) error {
	t.done = true
	return nil
}

type repository struct {
	name  string
	table *table
}

func (r *repository) All(ctx context.Context) ([]core.Entity, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out := make([]core.Entity, len(r.table.rows))
	for i, row := range r.table.rows {
		out[i] = core.LoadedRecord(r.name, row.Clone())
	}
	return out, nil
}

func (r *repository) Create(ctx context.Context, fields core.Fields) (core.Entity, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	row := r.table.insert(fields.Clone())
	return core.LoadedRecord(r.name, row.Clone()), nil
}

func (r *repository) Save(ctx context.Context, e core.Entity) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	rec, ok := e.(*core.Record)
	if !ok {
		return fmt.Errorf("memstore: cannot save %T", e)
	}
	idx := r.find(rec.ID())
	if idx < 0 {
		return fmt.Errorf("memstore: %s id %v not found", r.name, rec.ID())
	}
	for _, field := range rec.Dirty() {
		v, _ := rec.Get(field)
		r.table.rows[idx][field] = v
	}
	rec.MarkSaved(r.table.rows[idx].Clone())
	return nil
}

func (r *repository) DeleteAll(ctx context.Context) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	n := int64(len(r.table.rows))
	r.table.rows = nil
	return n, nil
}

// Select understands only a trailing "ORDER BY <field>" clause: it returns
// every row sorted by that field's rendered value. The rest of the query is
// ignored.
func (r *repository) Select(ctx context.Context, query string, _ ...any) ([]core.Entity, error) {
	all, err := r.All(ctx)
	if err != nil {
		return nil, err
	}
	const clause = "ORDER BY "
	i := strings.LastIndex(strings.ToUpper(query), clause)
	if i < 0 {
		return nil, fmt.Errorf("memstore: unsupported query %q", query)
	}
	field := strings.TrimSpace(query[i+len(clause):])
	if field == "" || strings.ContainsAny(field, " ,") {
		return nil, fmt.Errorf("memstore: unsupported query %q", query)
	}
	sort.SliceStable(all, func(i, j int) bool {
		a, _ := all[i].Get(field)
		b, _ := all[j].Get(field)
		return core.FormatValue(a) < core.FormatValue(b)
	})
	return all, nil
}

func (r *repository) find(id any) int {
	for i, row := range r.table.rows {
		if core.SameValue(row["id"], id) {
			return i
		}
	}
	return -1
}
