package memstore

import (
	"context"
	"testing"

	"github.com/JonMunkholm/csvsync/internal/core"
	"github.com/google/go-cmp/cmp"
)

func TestTx_CommitAndRollback(t *testing.T) {
	ctx := context.Background()
	s := New()

	tx, err := s.Begin(ctx)
	if err != nil {
		t.Fatal(err)
	}
	repo, _ := tx.Repository("customers")
	if _, err := repo.Create(ctx, core.Fields{"code": "A"}); err != nil {
		t.Fatal(err)
	}
	if err := tx.Rollback(ctx); err != nil {
		t.Fatal(err)
	}
	if got := len(s.Rows("customers")); got != 0 {
		t.Fatalf("rows after rollback = %d, want 0", got)
	}

	tx, _ = s.Begin(ctx)
	repo, _ = tx.Repository("customers")
	e, _ := repo.Create(ctx, core.Fields{"code": "B"})
	if err := tx.Commit(ctx); err != nil {
		t.Fatal(err)
	}
	if err := tx.Commit(ctx); err != ErrTxClosed {
		t.Errorf("second Commit() = %v, want ErrTxClosed", err)
	}
	if err := tx.Rollback(ctx); err != nil {
		t.Errorf("Rollback() after commit = %v, want nil", err)
	}

	want := []core.Fields{{"id": int64(1), "code": "B"}}
	if diff := cmp.Diff(want, s.Rows("customers")); diff != "" {
		t.Errorf("rows mismatch (-want +got):\n%s", diff)
	}
	if id, _ := e.Get("id"); id != int64(1) {
		t.Errorf("created id = %v, want 1", id)
	}
}

func TestRepository_SaveWritesDirtyFields(t *testing.T) {
	ctx := context.Background()
	s := New()
	s.Insert("products", core.Fields{"sku": "X", "name": "old", "price": "1"})

	tx, _ := s.Begin(ctx)
	repo, _ := tx.Repository("products")
	all, _ := repo.All(ctx)
	rec := all[0].(*core.Record)
	rec.Set("name", "new")

	if got := rec.Dirty(); !cmp.Equal(got, []string{"name"}) {
		t.Errorf("Dirty() = %v, want [name]", got)
	}
	if err := repo.Save(ctx, rec); err != nil {
		t.Fatal(err)
	}
	if len(rec.Dirty()) != 0 {
		t.Errorf("Dirty() after save = %v, want empty", rec.Dirty())
	}
	tx.Commit(ctx)

	want := []core.Fields{{"id": int64(1), "sku": "X", "name": "new", "price": "1"}}
	if diff := cmp.Diff(want, s.Rows("products")); diff != "" {
		t.Errorf("rows mismatch (-want +got):\n%s", diff)
	}
}

func TestRepository_DeleteAllAndSelect(t *testing.T) {
	ctx := context.Background()
	s := New()
	s.Insert("t", core.Fields{"name": "b"}, core.Fields{"name": "a"})

	tx, _ := s.Begin(ctx)
	repo, _ := tx.Repository("t")

	sel, err := repo.(core.Querier).Select(ctx, "ORDER BY name")
	if err != nil {
		t.Fatal(err)
	}
	first, _ := sel[0].Get("name")
	if first != "a" {
		t.Errorf("first selected = %v, want a", first)
	}

	n, err := repo.DeleteAll(ctx)
	if err != nil || n != 2 {
		t.Fatalf("DeleteAll() = %d, %v; want 2, nil", n, err)
	}
	tx.Commit(ctx)
	if len(s.Rows("t")) != 0 {
		t.Error("rows remain after DeleteAll")
	}
}

func TestRecentRuns_NewestFirst(t *testing.T) {
	ctx := context.Background()
	s := New()
	for _, id := range []string{"a", "b", "c"} {
		s.RecordRun(ctx, core.RunRecord{ID: id})
	}

	runs, _ := s.RecentRuns(ctx, 2)
	var ids []string
	for _, r := range runs {
		ids = append(ids, r.ID)
	}
	if diff := cmp.Diff([]string{"c", "b"}, ids); diff != "" {
		t.Errorf("RecentRuns mismatch (-want +got):\n%s", diff)
	}
}
