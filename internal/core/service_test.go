package core_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/JonMunkholm/csvsync/internal/core"
	"github.com/JonMunkholm/csvsync/internal/store/memstore"
	"github.com/google/go-cmp/cmp"
)

const customersCSV = "code,name,email\nA1,Acme,a@acme.test\nB2,Beta,b@beta.test\n"

func customersDef() core.ImporterDefinition {
	return core.ImporterDefinition{
		Name:     "customers",
		Table:    "customers",
		File:     "customers.csv",
		CacheKey: "code",
		Mapping: core.ColumnMapping{
			{Column: "code"},
			{Column: "name"},
			{Column: "email", Validators: []string{"unique"}},
		},
		Update: core.UpdateAll,
	}
}

func invoicesDef() core.ImporterDefinition {
	return core.ImporterDefinition{
		Name:         "invoices",
		Table:        "invoices",
		File:         "invoices.csv",
		CacheKey:     "number",
		Dependencies: []string{"customers"},
		References:   []core.Reference{{Field: "customer", Entity: "customers", Target: "customer_id"}},
		Mapping: core.ColumnMapping{
			{Column: "number"},
			{Column: "customer"},
			{Column: "total", Processors: []core.ProcessorSpec{core.Proc("integer")}},
		},
	}
}

type fixture struct {
	svc   *core.Service
	store *memstore.Store
	dir   string
}

func newFixture(t *testing.T, files map[string]string, defs ...core.ImporterDefinition) *fixture {
	t.Helper()
	dir := t.TempDir()
	for name, content := range files {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	reg := core.NewRegistry()
	for _, d := range defs {
		reg.RegisterImporter(d)
	}
	store := memstore.New()
	svc := core.NewService(store, reg, core.ServiceConfig{
		CSVDir:    dir,
		BackupDir: filepath.Join(dir, "backups"),
		MaxWait:   time.Second,
	})
	return &fixture{svc: svc, store: store, dir: dir}
}

func (f *fixture) importOK(t *testing.T, mode core.Mode, names ...string) *core.ImportResult {
	t.Helper()
	res, err := f.svc.Import(context.Background(), names, core.ImportOptions{Mode: mode})
	if err != nil {
		t.Fatalf("Import(%v, %s) failed: %v", names, mode, err)
	}
	return res
}

func column(rows []core.Fields, field string) []any {
	out := make([]any, len(rows))
	for i, r := range rows {
		out[i] = r[field]
	}
	return out
}

// ----------------------------------------------------------------------------
// Import modes
// ----------------------------------------------------------------------------

func TestImport_AppendIsIdempotentWithCacheKey(t *testing.T) {
	f := newFixture(t, map[string]string{"customers.csv": customersCSV}, customersDef())

	first := f.importOK(t, core.ModeAppend, "customers")
	second := f.importOK(t, core.ModeAppend, "customers")

	if got := first.Steps[0].Created; got != 2 {
		t.Errorf("first run created %d, want 2", got)
	}
	if got := second.Steps[0]; got.Created != 0 || got.Skipped != 2 {
		t.Errorf("second run = %+v, want 0 created and 2 skipped", got)
	}
	if n := len(f.store.Rows("customers")); n != 2 {
		t.Errorf("rows = %d, want 2", n)
	}
	if !second.Committed || second.Rows() != 2 {
		t.Errorf("result = %+v", second)
	}
}

func TestImport_AppendWithoutCacheKeyDuplicates(t *testing.T) {
	def := customersDef()
	def.CacheKey = ""
	def.Mapping[2].Validators = nil
	f := newFixture(t, map[string]string{"customers.csv": customersCSV}, def)

	f.importOK(t, core.ModeAppend, "customers")
	f.importOK(t, core.ModeAppend, "customers")

	if n := len(f.store.Rows("customers")); n != 4 {
		t.Errorf("rows = %d, want 4", n)
	}
}

func TestImport_OverwriteWithEmptyFile(t *testing.T) {
	f := newFixture(t, map[string]string{"customers.csv": "code,name,email\n"}, customersDef())
	f.store.Insert("customers",
		core.Fields{"code": "X"}, core.Fields{"code": "Y"}, core.Fields{"code": "Z"})

	res := f.importOK(t, core.ModeOverwrite, "customers")

	if res.Steps[0].Deleted != 3 {
		t.Errorf("deleted = %d, want 3", res.Steps[0].Deleted)
	}
	if n := len(f.store.Rows("customers")); n != 0 {
		t.Errorf("rows = %d, want 0", n)
	}
}

func TestImport_OverwriteKeepsDependencies(t *testing.T) {
	f := newFixture(t, map[string]string{
		"customers.csv": customersCSV,
		"invoices.csv":  "number,customer,total\nI1,a1,10\n",
	}, customersDef(), invoicesDef())
	f.store.Insert("customers", core.Fields{"code": "OLD", "name": "Kept"})

	res := f.importOK(t, core.ModeOverwrite, "invoices")

	if res.Steps[0].Mode != core.ModeAppend || res.Steps[1].Mode != core.ModeOverwrite {
		t.Errorf("step modes = %s, %s; want append, overwrite", res.Steps[0].Mode, res.Steps[1].Mode)
	}
	if n := len(f.store.Rows("customers")); n != 3 {
		t.Errorf("customers = %d, want 3 (dependency not cleared)", n)
	}
}

func TestImport_Update(t *testing.T) {
	f := newFixture(t, map[string]string{
		"customers.csv": "code,name\nA1,New Name\nB2,Same\nC3,Created\n",
	}, customersDef())
	f.store.Insert("customers",
		core.Fields{"code": "a1", "name": "Old Name"},
		core.Fields{"code": "B2", "name": "Same"},
	)

	res := f.importOK(t, core.ModeUpdate, "customers")

	want := core.ImportStats{
		Name:      "customers",
		File:      filepath.Join(f.dir, "customers.csv"),
		Mode:      core.ModeUpdate,
		Rows:      3,
		Created:   1,
		Updated:   1,
		Unchanged: 1,
	}
	if diff := cmp.Diff(want, res.Steps[0]); diff != "" {
		t.Errorf("stats mismatch (-want +got):\n%s", diff)
	}
	names := column(f.store.Rows("customers"), "name")
	if diff := cmp.Diff([]any{"New Name", "Same", "Created"}, names); diff != "" {
		t.Errorf("names mismatch (-want +got):\n%s", diff)
	}
}

func TestImport_UpdateWithoutUpdateFunc(t *testing.T) {
	f := newFixture(t, map[string]string{
		"customers.csv": customersCSV,
		"invoices.csv":  "number,customer,total\n",
	}, customersDef(), invoicesDef())

	_, err := f.svc.Import(context.Background(), []string{"invoices"}, core.ImportOptions{Mode: core.ModeUpdate})
	if !errors.Is(err, core.ErrMissingUpdate) || !errors.Is(err, core.ErrConfig) {
		t.Errorf("Import() = %v, want ErrMissingUpdate", err)
	}
	if n := len(f.store.Rows("customers")); n != 0 {
		t.Errorf("no row may be imported before the plan is checked, got %d", n)
	}
}

func TestImport_ValidateRollsBack(t *testing.T) {
	f := newFixture(t, map[string]string{"customers.csv": customersCSV}, customersDef())

	res := f.importOK(t, core.ModeValidate, "customers")

	if res.Committed {
		t.Error("validate run must not commit")
	}
	if res.Steps[0].Created != 2 {
		t.Errorf("created = %d, want 2", res.Steps[0].Created)
	}
	if n := len(f.store.Rows("customers")); n != 0 {
		t.Errorf("rows = %d, want 0", n)
	}
}

func TestImport_UniqueViolationAbortsRun(t *testing.T) {
	f := newFixture(t, map[string]string{
		"customers.csv": "code,name,email\nC3,Gamma,c@gamma.test\nD4,Delta,A@ACME.TEST\n",
	}, customersDef())
	f.store.Insert("customers", core.Fields{"code": "A1", "email": "a@acme.test"})

	_, err := f.svc.Import(context.Background(), []string{"customers"}, core.ImportOptions{})

	var ie *core.IntegrityError
	if !errors.As(err, &ie) {
		t.Fatalf("Import() = %v, want IntegrityError", err)
	}
	if ie.Column != "email" || ie.Line != 3 || !strings.HasSuffix(ie.File, "customers.csv") {
		t.Errorf("IntegrityError = %+v", ie)
	}
	if n := len(f.store.Rows("customers")); n != 1 {
		t.Errorf("rows = %d, want 1 (nothing committed)", n)
	}
}

func TestImport_UnknownModeAndModel(t *testing.T) {
	f := newFixture(t, nil, customersDef())
	ctx := context.Background()

	if _, err := f.svc.Import(ctx, []string{"customers"}, core.ImportOptions{Mode: "merge"}); !errors.Is(err, core.ErrUnknownMode) {
		t.Errorf("Import(mode=merge) = %v, want ErrUnknownMode", err)
	}
	if _, err := f.svc.Import(ctx, []string{"nope"}, core.ImportOptions{}); !errors.Is(err, core.ErrUnknownModel) {
		t.Errorf("Import(nope) = %v, want ErrUnknownModel", err)
	}
	if _, err := f.svc.Import(ctx, nil, core.ImportOptions{}); !errors.Is(err, core.ErrUnknownModel) {
		t.Errorf("Import(nil) = %v, want ErrUnknownModel", err)
	}
}

func TestImport_MissingFile(t *testing.T) {
	f := newFixture(t, nil, customersDef())
	_, err := f.svc.Import(context.Background(), []string{"customers"}, core.ImportOptions{})
	if err == nil {
		t.Fatal("Import() with a missing file should fail")
	}
	if code := core.MapError(err).Code; code != "FILE001" {
		t.Errorf("MapError code = %s, want FILE001 for %v", code, err)
	}
}

func TestImport_Cycle(t *testing.T) {
	a := customersDef()
	a.Name, a.Dependencies = "a", []string{"b"}
	b := customersDef()
	b.Name, b.Dependencies = "b", []string{"a"}
	f := newFixture(t, nil, a, b)

	_, err := f.svc.Import(context.Background(), []string{"a"}, core.ImportOptions{})
	var ce *core.CycleError
	if !errors.As(err, &ce) {
		t.Errorf("Import() = %v, want CycleError", err)
	}
}

// ----------------------------------------------------------------------------
// References
// ----------------------------------------------------------------------------

func TestImport_ResolvesReferences(t *testing.T) {
	f := newFixture(t, map[string]string{
		"customers.csv": customersCSV,
		"invoices.csv":  "number,customer,total\nI1,b2,250 EUR\nI2,A1,\n",
	}, customersDef(), invoicesDef())

	res := f.importOK(t, core.ModeAppend, "invoices")

	if got := []string{res.Steps[0].Name, res.Steps[1].Name}; !cmp.Equal(got, []string{"customers", "invoices"}) {
		t.Errorf("step order = %v", got)
	}
	want := []core.Fields{
		{"id": int64(1), "number": "I1", "customer_id": int64(2), "total": int64(250)},
		{"id": int64(2), "number": "I2", "customer_id": int64(1)},
	}
	if diff := cmp.Diff(want, f.store.Rows("invoices")); diff != "" {
		t.Errorf("invoices mismatch (-want +got):\n%s", diff)
	}
}

func TestImport_SelfReferencingFile(t *testing.T) {
	categories := core.ImporterDefinition{
		Name:       "categories",
		Table:      "categories",
		File:       "categories.csv",
		CacheKey:   "code",
		References: []core.Reference{{Field: "parent", Entity: "categories", Target: "parent_id"}},
		Mapping:    core.ColumnMapping{{Column: "code"}, {Column: "parent"}},
	}
	f := newFixture(t, map[string]string{
		"categories.csv": "code,parent\nROOT,\nCHILD,root\n",
	}, categories)

	f.importOK(t, core.ModeAppend, "categories")

	want := []core.Fields{
		{"id": int64(1), "code": "ROOT"},
		{"id": int64(2), "code": "CHILD", "parent_id": int64(1)},
	}
	if diff := cmp.Diff(want, f.store.Rows("categories")); diff != "" {
		t.Errorf("categories mismatch (-want +got):\n%s", diff)
	}
}

func TestImport_ReferencesExistingEntities(t *testing.T) {
	f := newFixture(t, map[string]string{
		"customers.csv": "code,name,email\n",
		"invoices.csv":  "number,customer,total\nI1,OLD,1\n",
	}, customersDef(), invoicesDef())
	f.store.Insert("customers", core.Fields{"id": int64(40), "code": "old"})

	f.importOK(t, core.ModeAppend, "invoices")

	if got := column(f.store.Rows("invoices"), "customer_id"); !cmp.Equal(got, []any{int64(40)}) {
		t.Errorf("customer_id = %v, want [40]", got)
	}
}

func TestImport_MissingReferenceIsFatal(t *testing.T) {
	f := newFixture(t, map[string]string{
		"customers.csv": customersCSV,
		"invoices.csv":  "number,customer,total\nI1,A1,1\nI2,ZZ,2\n",
	}, customersDef(), invoicesDef())

	_, err := f.svc.Import(context.Background(), []string{"invoices"}, core.ImportOptions{})

	var re *core.ReferenceError
	if !errors.As(err, &re) || re.Key != "ZZ" {
		t.Fatalf("Import() = %v, want ReferenceError for ZZ", err)
	}
	var de *core.DataError
	if !errors.As(err, &de) || de.Line != 3 || de.Entity != "invoices" {
		t.Errorf("DataError = %+v, want invoices line 3", de)
	}
	if n := len(f.store.Rows("customers")); n != 0 {
		t.Errorf("customers = %d, want 0 (run rolled back)", n)
	}
}

func TestImport_ValidateToleratesMissingReference(t *testing.T) {
	f := newFixture(t, map[string]string{
		"customers.csv": customersCSV,
		"invoices.csv":  "number,customer,total\nI2,ZZ,2\n",
	}, customersDef(), invoicesDef())

	res := f.importOK(t, core.ModeValidate, "invoices")
	if res.Steps[1].Created != 1 {
		t.Errorf("created = %d, want 1", res.Steps[1].Created)
	}
}

// ----------------------------------------------------------------------------
// Options and hooks
// ----------------------------------------------------------------------------

func TestImport_OffsetLimitAndProgress(t *testing.T) {
	f := newFixture(t, map[string]string{
		"customers.csv": "code\nA\nB\nC\nD\n",
	}, core.ImporterDefinition{
		Name: "customers", Table: "customers", File: "customers.csv",
		CacheKey: "code", Mapping: core.ColumnMapping{{Column: "code"}},
	})

	var phases []core.Phase
	_, err := f.svc.Import(context.Background(), []string{"customers"}, core.ImportOptions{
		Offset: 1,
		Limit:  2,
		Progress: func(p core.Progress) {
			phases = append(phases, p.Phase)
			if p.TotalRows != 2 {
				t.Errorf("TotalRows = %d, want 2", p.TotalRows)
			}
		},
	})
	if err != nil {
		t.Fatal(err)
	}

	if got := column(f.store.Rows("customers"), "code"); !cmp.Equal(got, []any{"B", "C"}) {
		t.Errorf("codes = %v, want [B C]", got)
	}
	wantPhases := []core.Phase{core.PhaseStarting, core.PhaseRow, core.PhaseRow, core.PhaseComplete}
	if diff := cmp.Diff(wantPhases, phases); diff != "" {
		t.Errorf("phases mismatch (-want +got):\n%s", diff)
	}
}

func TestImport_PivotPrepareAndAfterRow(t *testing.T) {
	var after []string
	def := core.ImporterDefinition{
		Name:  "tags",
		Table: "tags",
		File:  "tags.csv",
		Mapping: core.ColumnMapping{
			{Column: "item"},
			{Column: "tag"},
		},
		Pivot: func(raw map[string]string) ([]map[string]string, error) {
			var out []map[string]string
			for _, tag := range strings.Split(raw["tags"], "|") {
				out = append(out, map[string]string{"item": raw["item"], "tag": tag})
			}
			return out, nil
		},
		Prepare: func(_ context.Context, _ *core.RowContext, fields core.Fields) error {
			fields["source"] = "csv"
			return nil
		},
		AfterRow: func(_ context.Context, rc *core.RowContext, e core.Entity, _ core.Fields) error {
			tag, _ := e.Get("tag")
			after = append(after, core.FormatValue(tag))
			if rc.Line != 2 {
				t.Errorf("rc.Line = %d, want 2", rc.Line)
			}
			return nil
		},
	}
	f := newFixture(t, map[string]string{"tags.csv": "item,tags\nshoe,red|blue\n"}, def)

	f.importOK(t, core.ModeAppend, "tags")

	want := []core.Fields{
		{"id": int64(1), "item": "shoe", "tag": "red", "source": "csv"},
		{"id": int64(2), "item": "shoe", "tag": "blue", "source": "csv"},
	}
	if diff := cmp.Diff(want, f.store.Rows("tags")); diff != "" {
		t.Errorf("tags mismatch (-want +got):\n%s", diff)
	}
	if !cmp.Equal(after, []string{"red", "blue"}) {
		t.Errorf("AfterRow saw %v", after)
	}
}

func TestImport_RecordsRunHistory(t *testing.T) {
	f := newFixture(t, map[string]string{"customers.csv": customersCSV}, customersDef())
	f.importOK(t, core.ModeAppend, "customers")
	f.svc.Import(context.Background(), []string{"customers"}, core.ImportOptions{Mode: core.ModeUpdate + "x"})

	runs, err := f.svc.RecentRuns(context.Background(), 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(runs) != 1 {
		t.Fatalf("runs = %d, want 1 (rejected requests are not runs)", len(runs))
	}
	r := runs[0]
	if r.Kind != core.RunImport || r.Status != core.RunStatusSucceeded || !r.Committed || r.Rows != 2 {
		t.Errorf("run = %+v", r)
	}
	if f.svc.Limiter().ActiveCount() != 0 {
		t.Error("run slot not released")
	}
}

// ----------------------------------------------------------------------------
// Export and backup
// ----------------------------------------------------------------------------

func exportFixture(t *testing.T) *fixture {
	t.Helper()
	f := newFixture(t, nil)
	f.svc.Registry().RegisterExporter(core.ExporterDefinition{
		Name:  "customers",
		Table: "customers",
		File:  "out/customers.csv",
		Mapping: core.ColumnMapping{
			{Column: "Code", Field: "code"},
			{Column: "Name", Field: "name"},
			{Column: "Note", Field: "note", Processors: []core.ProcessorSpec{core.Proc("nullToString")}},
		},
		PostProcess: func(e core.Entity, row core.OrderedRow) (core.OrderedRow, error) {
			if code, _ := e.Get("code"); code == "B" {
				row.Set("Extra", "yes")
			}
			return row, nil
		},
	})
	f.svc.Registry().RegisterExporter(core.ExporterDefinition{
		Name:    "products",
		Table:   "products",
		File:    "out/products.csv",
		Mapping: core.ColumnMapping{{Column: "sku"}, {Column: "price"}},
	})
	return f
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	return string(data)
}

func TestExport_WritesPaddedRows(t *testing.T) {
	f := exportFixture(t)
	f.store.Insert("customers",
		core.Fields{"code": "A", "name": "Acme", "note": nil},
		core.Fields{"code": "B", "name": "Beta", "note": "vip"},
	)

	res, err := f.svc.Export(context.Background(), []string{"customers"}, core.ExportOptions{})
	if err != nil {
		t.Fatal(err)
	}

	want := "Code,Name,Note,Extra\nA,Acme,NULL,\nB,Beta,vip,yes\n"
	if got := readFile(t, res.Files[0].Path); got != want {
		t.Errorf("file = %q, want %q", got, want)
	}
	if res.Rows() != 2 {
		t.Errorf("Rows() = %d, want 2", res.Rows())
	}
}

func TestExport_EmptyTableWritesHeader(t *testing.T) {
	f := exportFixture(t)

	res, err := f.svc.Export(context.Background(), []string{"products"}, core.ExportOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if got := readFile(t, res.Files[0].Path); got != "sku,price\n" {
		t.Errorf("file = %q, want header only", got)
	}
}

func TestExport_MissingFieldFails(t *testing.T) {
	f := exportFixture(t)
	f.store.Insert("products", core.Fields{"sku": "S1"})

	_, err := f.svc.Export(context.Background(), []string{"products"}, core.ExportOptions{})
	if !errors.Is(err, core.ErrData) || core.MapError(err).Code != "DAT003" {
		t.Errorf("Export() = %v, want DAT003 data error", err)
	}
}

func TestExport_BacksUpPreviousFile(t *testing.T) {
	f := exportFixture(t)
	path := filepath.Join(f.dir, "out", "customers.csv")
	os.MkdirAll(filepath.Dir(path), 0o755)
	os.WriteFile(path, []byte("old\n"), 0o644)

	res, err := f.svc.Export(context.Background(), []string{"customers"}, core.ExportOptions{Backup: true})
	if err != nil {
		t.Fatal(err)
	}
	backup := res.Files[0].BackupPath
	if backup == "" {
		t.Fatal("no backup written")
	}
	if got := readFile(t, backup); got != "old\n" {
		t.Errorf("backup = %q, want previous content", got)
	}
}

func TestExport_UnknownModel(t *testing.T) {
	f := exportFixture(t)
	_, err := f.svc.Export(context.Background(), []string{"ghost"}, core.ExportOptions{})
	if !errors.Is(err, core.ErrUnknownModel) {
		t.Errorf("Export() = %v, want ErrUnknownModel", err)
	}
}

func TestBackup_ReportsMissingFiles(t *testing.T) {
	f := exportFixture(t)
	path := filepath.Join(f.dir, "out", "customers.csv")
	os.MkdirAll(filepath.Dir(path), 0o755)
	os.WriteFile(path, []byte("Code\n"), 0o644)

	results, err := f.svc.Backup(context.Background(), []string{"customers", "products"})
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 2 {
		t.Fatalf("results = %d, want 2", len(results))
	}
	if results[0].Missing || results[0].Dest == "" {
		t.Errorf("customers backup = %+v", results[0])
	}
	if !results[1].Missing {
		t.Errorf("products backup = %+v, want missing", results[1])
	}

	if _, err := f.svc.Backup(context.Background(), []string{"ghost"}); !errors.Is(err, core.ErrUnknownModel) {
		t.Errorf("Backup(ghost) = %v, want ErrUnknownModel", err)
	}
}
