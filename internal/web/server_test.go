package web

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/JonMunkholm/csvsync/internal/config"
	"github.com/JonMunkholm/csvsync/internal/core"
	"github.com/JonMunkholm/csvsync/internal/store/memstore"
	"github.com/google/go-cmp/cmp"
)

type testServer struct {
	srv   *Server
	store *memstore.Store
	dir   string
}

func newTestServer(t *testing.T, security config.SecurityConfig) *testServer {
	t.Helper()
	dir := t.TempDir()
	files := map[string]string{
		"customers.csv": "code,name\nA,Acme\nB,Beta\n",
		"orders.csv":    "number,customer\nO1,A\nO2,Z\n",
	}
	for name, content := range files {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	reg := core.NewRegistry()
	reg.RegisterImporter(core.ImporterDefinition{
		Name:     "customers",
		Table:    "customers",
		File:     "customers.csv",
		CacheKey: "code",
		Mapping:  core.ColumnMapping{{Column: "code"}, {Column: "name"}},
		Update:   core.UpdateAll,
	})
	reg.RegisterImporter(core.ImporterDefinition{
		Name:         "orders",
		Table:        "orders",
		File:         "orders.csv",
		CacheKey:     "number",
		Dependencies: []string{"customers"},
		References:   []core.Reference{{Field: "customer", Entity: "customers", Target: "customer_id"}},
		Mapping:      core.ColumnMapping{{Column: "number"}, {Column: "customer"}},
	})
	reg.RegisterExporter(core.ExporterDefinition{
		Name:    "customers",
		Table:   "customers",
		File:    "customers.csv",
		Mapping: core.ColumnMapping{{Column: "code"}, {Column: "name"}},
	})

	store := memstore.New()
	svc := core.NewService(store, reg, core.ServiceConfig{
		CSVDir:    dir,
		BackupDir: filepath.Join(dir, "backups"),
		MaxWait:   20 * time.Millisecond,
	})
	cfg := &config.Config{Security: security}
	return &testServer{srv: NewServer(svc, cfg), store: store, dir: dir}
}

func (ts *testServer) do(t *testing.T, method, target string, out any) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	ts.srv.Router().ServeHTTP(rec, httptest.NewRequest(method, target, nil))
	if out != nil {
		if err := json.NewDecoder(rec.Body).Decode(out); err != nil {
			t.Fatalf("%s %s: decode response: %v", method, target, err)
		}
	}
	return rec
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t, config.SecurityConfig{RequireAPIKey: true})

	var body healthResponse
	rec := ts.do(t, http.MethodGet, "/healthz", &body)
	if rec.Code != http.StatusOK || body.Status != "ok" {
		t.Errorf("healthz = %d %+v", rec.Code, body)
	}
	if body.Runs.MaxConcurrent != core.DefaultMaxConcurrentRuns {
		t.Errorf("max_concurrent = %d", body.Runs.MaxConcurrent)
	}
	if got := rec.Header().Get("X-Content-Type-Options"); got != "nosniff" {
		t.Errorf("X-Content-Type-Options = %q", got)
	}
}

func TestModels(t *testing.T) {
	ts := newTestServer(t, config.SecurityConfig{})

	var body ModelsResponse
	if rec := ts.do(t, http.MethodGet, "/api/models", &body); rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	want := ModelsResponse{
		Importers: []string{"customers", "orders"},
		Exporters: []string{"customers"},
		Modes:     core.Modes(),
	}
	if diff := cmp.Diff(want, body); diff != "" {
		t.Errorf("models mismatch (-want +got):\n%s", diff)
	}
}

func TestAPIRequiresKey(t *testing.T) {
	ts := newTestServer(t, config.SecurityConfig{RequireAPIKey: true, APIKeys: []string{"secret"}})

	if rec := ts.do(t, http.MethodGet, "/api/models", nil); rec.Code != http.StatusUnauthorized {
		t.Errorf("without key: status = %d, want 401", rec.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/models", nil)
	req.Header.Set("X-API-Key", "secret")
	rec := httptest.NewRecorder()
	ts.srv.Router().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("with key: status = %d, want 200", rec.Code)
	}
}

func TestImport(t *testing.T) {
	ts := newTestServer(t, config.SecurityConfig{})

	var res core.ImportResult
	rec := ts.do(t, http.MethodPost, "/api/import/customers?mode=overwrite", &res)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if !res.Committed || res.Mode != core.ModeOverwrite || res.Rows() != 2 {
		t.Errorf("result = %+v", res)
	}
	if n := len(ts.store.Rows("customers")); n != 2 {
		t.Errorf("customers = %d, want 2", n)
	}

	var runs []core.RunRecord
	ts.do(t, http.MethodGet, "/api/runs?limit=5", &runs)
	if len(runs) != 1 || runs[0].Kind != core.RunImport || runs[0].Status != core.RunStatusSucceeded {
		t.Errorf("runs = %+v", runs)
	}
}

func TestImportWindow(t *testing.T) {
	ts := newTestServer(t, config.SecurityConfig{})

	var res core.ImportResult
	if rec := ts.do(t, http.MethodPost, "/api/import/customers?offset=1&limit=1", &res); rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	rows := ts.store.Rows("customers")
	if len(rows) != 1 || rows[0]["code"] != "B" {
		t.Errorf("customers = %v, want only B", rows)
	}
}

func TestImportErrors(t *testing.T) {
	tests := []struct {
		name   string
		target string
		status int
		code   string
	}{
		{"unknown model", "/api/import/nope", http.StatusNotFound, "CFG001"},
		{"unknown mode", "/api/import/customers?mode=merge", http.StatusBadRequest, "CFG002"},
		{"update unsupported", "/api/import/orders?mode=update", http.StatusBadRequest, "CFG006"},
		{"bad offset", "/api/import/customers?offset=-1", http.StatusBadRequest, "CFG000"},
		{"missing reference", "/api/import/orders", http.StatusUnprocessableEntity, "DAT002"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := newTestServer(t, config.SecurityConfig{})

			var body ErrorResponse
			rec := ts.do(t, http.MethodPost, tt.target, &body)
			if rec.Code != tt.status {
				t.Errorf("status = %d, want %d", rec.Code, tt.status)
			}
			if body.Code != tt.code {
				t.Errorf("code = %s, want %s (%+v)", body.Code, tt.code, body)
			}
			if body.Message == "" || body.Error == "" {
				t.Errorf("incomplete error body %+v", body)
			}
		})
	}
}

func TestImportAllValidate(t *testing.T) {
	ts := newTestServer(t, config.SecurityConfig{})

	var res core.ImportResult
	if rec := ts.do(t, http.MethodPost, "/api/import/all?mode=validate", &res); rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if res.Committed || len(res.Steps) != 2 {
		t.Errorf("result = %+v", res)
	}
	if n := len(ts.store.Rows("customers")); n != 0 {
		t.Errorf("validate wrote %d customers", n)
	}
}

func TestTooManyRuns(t *testing.T) {
	ts := newTestServer(t, config.SecurityConfig{})
	limiter := ts.srv.service.Limiter()
	release, ok := limiter.TryAcquire(core.RunSlot{ID: "held", Kind: core.RunExport, Models: []string{"customers"}})
	if !ok {
		t.Fatal("could not take the only run slot")
	}
	defer release()

	var body ErrorResponse
	rec := ts.do(t, http.MethodPost, "/api/import/customers", &body)
	if rec.Code != http.StatusTooManyRequests || body.Code != "RUN001" {
		t.Errorf("got %d %+v", rec.Code, body)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Error("missing Retry-After")
	}
	if !strings.Contains(body.Error, "export customers (held)") {
		t.Errorf("error %q should name the run holding the slot", body.Error)
	}

	var health healthResponse
	ts.do(t, http.MethodGet, "/healthz", &health)
	if health.Runs.Active != 1 || len(health.Runs.Runs) != 1 || health.Runs.Runs[0].ID != "held" {
		t.Errorf("healthz runs = %+v", health.Runs)
	}
}

func TestExportAndBackup(t *testing.T) {
	ts := newTestServer(t, config.SecurityConfig{})
	ts.store.Insert("customers", core.Fields{"code": "Z", "name": "Zed"})

	var res core.ExportResult
	if rec := ts.do(t, http.MethodPost, "/api/export/all", &res); rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if len(res.Files) != 1 || res.Files[0].BackupPath == "" || res.Files[0].Rows != 1 {
		t.Errorf("export = %+v", res)
	}
	data, err := os.ReadFile(filepath.Join(ts.dir, "customers.csv"))
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "code,name\nZ,Zed\n" {
		t.Errorf("customers.csv = %q", data)
	}

	var backups []core.BackupResult
	if rec := ts.do(t, http.MethodPost, "/api/backup/all", &backups); rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if len(backups) != 2 {
		t.Fatalf("backups = %+v", backups)
	}
	if backups[0].Name != "customers" || backups[0].Dest == "" || backups[1].Name != "orders" {
		t.Errorf("backups = %+v", backups)
	}

	if rec := ts.do(t, http.MethodPost, "/api/export/customers?backup=maybe", nil); rec.Code != http.StatusBadRequest {
		t.Errorf("backup=maybe: status = %d, want 400", rec.Code)
	}
}
