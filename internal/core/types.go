package core

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"
)

// Fields holds entity field values keyed by field name.
// A missing key means absent; a key holding nil is an explicit null.
type Fields map[string]any

// Clone returns a shallow copy of f.
func (f Fields) Clone() Fields {
	out := make(Fields, len(f))
	for k, v := range f {
		out[k] = v
	}
	return out
}

// Entity is a persisted (or about to be persisted) database record.
type Entity interface {
	Get(field string) (any, bool)
	Set(field string, value any) error
	Exists() bool
}

// Repository gives table-level access inside a transaction.
type Repository interface {
	// All returns every entity of the table.
	All(ctx context.Context) ([]Entity, error)
	// Create persists a new entity built from fields and returns it.
	Create(ctx context.Context, fields Fields) (Entity, error)
	// Save persists changes made to an existing entity.
	Save(ctx context.Context, e Entity) error
	// DeleteAll removes every entity of the table.
	DeleteAll(ctx context.Context) (int64, error)
}

// Querier is implemented by repositories that accept raw query overrides.
type Querier interface {
	Select(ctx context.Context, query string, args ...any) ([]Entity, error)
}

// Tx is a unit of work spanning every repository touched by a run.
type Tx interface {
	Repository(table string) (Repository, error)
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// Store opens transactions.
type Store interface {
	Begin(ctx context.Context) (Tx, error)
}

// RunRecorder is implemented by stores that keep a history of runs.
type RunRecorder interface {
	RecordRun(ctx context.Context, run RunRecord) error
	RecentRuns(ctx context.Context, limit int) ([]RunRecord, error)
}

// Mode selects how an import treats existing data.
type Mode string

const (
	ModeAppend    Mode = "append"
	ModeOverwrite Mode = "overwrite"
	ModeUpdate    Mode = "update"
	ModeValidate  Mode = "validate"
)

// Modes lists every import mode in display order.
func Modes() []Mode {
	return []Mode{ModeAppend, ModeOverwrite, ModeUpdate, ModeValidate}
}

// ParseMode resolves a mode name; the empty string means append.
func ParseMode(s string) (Mode, error) {
	if strings.TrimSpace(s) == "" {
		return ModeAppend, nil
	}
	m := Mode(strings.ToLower(strings.TrimSpace(s)))
	for _, valid := range Modes() {
		if m == valid {
			return m, nil
		}
	}
	return "", &ConfigError{Msg: fmt.Sprintf("invalid mode %q", s), Err: ErrUnknownMode}
}

// Record is the map-backed Entity shared by the bundled stores.
// It tracks which fields were set since it was last saved.
type Record struct {
	table  string
	fields Fields
	dirty  map[string]bool
	exists bool
}

// NewRecord returns a record that has not been persisted yet.
func NewRecord(table string, fields Fields) *Record {
	if fields == nil {
		fields = Fields{}
	}
	return &Record{table: table, fields: fields, dirty: make(map[string]bool)}
}

// LoadedRecord returns a record read back from storage.
func LoadedRecord(table string, fields Fields) *Record {
	r := NewRecord(table, fields)
	r.exists = true
	return r
}

func (r *Record) Table() string { return r.table }

func (r *Record) Exists() bool { return r.exists }

// ID returns the "id" field, or nil.
func (r *Record) ID() any { return r.fields["id"] }

func (r *Record) Get(field string) (any, bool) {
	v, ok := r.fields[field]
	return v, ok
}

// Set assigns a field and marks it dirty when the value changes.
func (r *Record) Set(field string, value any) error {
	if field == "" {
		return fmt.Errorf("record %s: empty field name", r.table)
	}
	old, ok := r.fields[field]
	if ok && SameValue(old, value) {
		return nil
	}
	r.fields[field] = value
	r.dirty[field] = true
	return nil
}

// Fields returns a copy of the record's values.
func (r *Record) Fields() Fields { return r.fields.Clone() }

// Dirty returns the names of fields changed since the last save, sorted.
func (r *Record) Dirty() []string {
	out := make([]string, 0, len(r.dirty))
	for k := range r.dirty {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// MarkSaved replaces the record's values with the persisted state.
// A nil fields keeps the current values.
func (r *Record) MarkSaved(fields Fields) {
	if fields != nil {
		r.fields = fields
	}
	r.dirty = make(map[string]bool)
	r.exists = true
}

// Phase indicates the stage a run has reached for one definition.
type Phase string

const (
	PhaseStarting Phase = "starting"
	PhaseRow      Phase = "row"
	PhaseComplete Phase = "complete"
)

// Progress is reported while a definition is imported.
type Progress struct {
	RunID      string
	Definition string
	Phase      Phase
	CurrentRow int
	TotalRows  int
}

// Percent returns the progress as a percentage (0-100).
func (p Progress) Percent() int {
	if p.TotalRows > 0 {
		return (p.CurrentRow * 100) / p.TotalRows
	}
	if p.Phase == PhaseComplete {
		return 100
	}
	return 0
}

// ProgressFunc receives progress updates during an import.
type ProgressFunc func(Progress)

// RunKind names what a run did.
type RunKind string

const (
	RunImport RunKind = "import"
	RunExport RunKind = "export"
	RunBackup RunKind = "backup"
)

// RunRecord is one entry in the run history.
type RunRecord struct {
	ID        string        `json:"id"`
	Kind      RunKind       `json:"kind"`
	Models    []string      `json:"models"`
	Mode      Mode          `json:"mode,omitempty"`
	Status    string        `json:"status"`
	Error     string        `json:"error,omitempty"`
	Rows      int           `json:"rows"`
	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration"`
	Committed bool          `json:"committed"`
}

const (
	RunStatusSucceeded = "succeeded"
	RunStatusFailed    = "failed"
)
