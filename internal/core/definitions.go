package core

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
)

// ImporterDefinition describes how one CSV file becomes entities of one table.
type ImporterDefinition struct {
	// Name identifies the definition on the command line and in
	// Dependencies and References of other definitions.
	Name  string
	Table string
	// File is resolved against the configured CSV directory.
	File    string
	Mapping ColumnMapping

	// CacheKey is the business-key field used to find existing entities.
	// Without it every row creates a new entity.
	CacheKey string
	// PrimaryKey is the field entities are registered under in the run's
	// context. Defaults to CacheKey.
	PrimaryKey string

	Dependencies []string
	References   []Reference

	// Processors and Validators extend (or override) the base registry.
	Processors map[string]Processor
	Validators map[string]Validator

	Update   UpdateFunc
	Prepare  PrepareFunc
	Pivot    PivotFunc
	AfterRow AfterRowFunc
}

// Reference resolves a business key in the row against entities of another
// definition and stores the referenced entity's Key field in Target.
type Reference struct {
	Field  string // decoded field holding the business key
	Entity string // definition whose entities are searched
	Target string // field receiving the resolved value; defaults to Field
	Key    string // field read from the referenced entity; defaults to "id"
}

func (r Reference) target() string {
	if r.Target == "" {
		return r.Field
	}
	return r.Target
}

func (r Reference) key() string {
	if r.Key == "" {
		return "id"
	}
	return r.Key
}

// UpdateFunc applies decoded fields to an existing entity in update mode.
// It reports whether anything changed; unchanged entities are not saved.
type UpdateFunc func(ctx context.Context, rc *RowContext, e Entity, fields Fields) (bool, error)

// PrepareFunc adjusts decoded fields before a new entity is created.
type PrepareFunc func(ctx context.Context, rc *RowContext, fields Fields) error

// PivotFunc expands one raw CSV row into several before decoding.
type PivotFunc func(raw map[string]string) ([]map[string]string, error)

// AfterRowFunc runs once the row's entity is created, updated or found.
type AfterRowFunc func(ctx context.Context, rc *RowContext, e Entity, fields Fields) error

// RowContext is handed to hooks while a row is imported.
type RowContext struct {
	Definition string
	Mode       Mode
	File       string
	Line       int

	tx     Tx
	refs   *EntityContext
	logger *slog.Logger
}

// Ref resolves a business key against entities of another definition.
// In validate mode a miss falls back to the first known entity of that
// definition and logs a warning, so a dry run can continue past rows whose
// parents were never written.
func (rc *RowContext) Ref(entity string, key any) (Entity, error) {
	e, err := rc.refs.Lookup(entity, key)
	if err == nil {
		return e, nil
	}
	if rc.Mode == ModeValidate {
		if first, ok := rc.refs.First(entity); ok {
			rc.logger.Warn("reference not found, using first entity",
				"entity", entity, "key", FormatValue(key), "line", rc.Line)
			return first, nil
		}
	}
	return nil, err
}

// Repository opens another table inside the run's transaction.
func (rc *RowContext) Repository(table string) (Repository, error) {
	return rc.tx.Repository(table)
}

// AssignFields copies fields onto e and reports whether any value changed.
// When names is empty every field is copied.
func AssignFields(e Entity, fields Fields, names ...string) (bool, error) {
	if len(names) == 0 {
		for k := range fields {
			names = append(names, k)
		}
		slices.Sort(names)
	}
	changed := false
	for _, name := range names {
		v, ok := fields[name]
		if !ok {
			continue
		}
		old, had := e.Get(name)
		if had && SameValue(old, v) {
			continue
		}
		if err := e.Set(name, v); err != nil {
			return changed, err
		}
		changed = true
	}
	return changed, nil
}

// UpdateAll is an UpdateFunc that copies every decoded field.
func UpdateAll(_ context.Context, _ *RowContext, e Entity, fields Fields) (bool, error) {
	return AssignFields(e, fields)
}

// PrimaryKeyField returns the field entities are keyed by in the context.
func (d *ImporterDefinition) PrimaryKeyField() string {
	if d.PrimaryKey != "" {
		return d.PrimaryKey
	}
	return d.CacheKey
}

// Transforms returns base layered with the definition's own entries.
func (d *ImporterDefinition) Transforms(base *Transforms) *Transforms {
	return base.Layer(d.Processors, d.Validators)
}

// Check validates the definition for a run in the given mode.
func (d *ImporterDefinition) Check(base *Transforms, mode Mode) error {
	if d.Name == "" {
		return &ConfigError{Msg: "importer has no name"}
	}
	if d.Table == "" {
		return &ConfigError{Entity: d.Name, Msg: "no table"}
	}
	if d.File == "" {
		return &ConfigError{Entity: d.Name, Msg: "no file"}
	}
	if err := d.Transforms(base).CheckMapping(d.Name, d.Mapping); err != nil {
		return err
	}
	for _, c := range d.Mapping {
		if slices.Contains(c.Validators, "unique") && d.CacheKey == "" {
			return &ConfigError{
				Entity: d.Name,
				Msg:    fmt.Sprintf("unique on column %q", c.Column),
				Err:    ErrNoCacheKey,
			}
		}
	}
	if mode == ModeUpdate && d.Update == nil {
		return &ConfigError{Entity: d.Name, Err: ErrMissingUpdate}
	}
	for _, r := range d.References {
		if r.Field == "" || r.Entity == "" {
			return &ConfigError{Entity: d.Name, Msg: "reference needs field and entity"}
		}
		if r.Entity != d.Name && !slices.Contains(d.Dependencies, r.Entity) {
			return &ConfigError{
				Entity: d.Name,
				Msg:    fmt.Sprintf("reference %q to %q which is not a dependency", r.Field, r.Entity),
				Err:    ErrUnknownDependency,
			}
		}
	}
	return nil
}

// ExporterDefinition describes how entities of one table become a CSV file.
type ExporterDefinition struct {
	Name    string
	Table   string
	File    string
	Mapping ColumnMapping

	Processors map[string]Processor

	// Query replaces the default fetch of every entity in Table.
	Query QueryFunc
	// SQL is a raw query override, used when the repository implements
	// Querier and Query is nil.
	SQL string

	PostProcess PostProcessFunc
}

// QueryFunc fetches the entities to export.
type QueryFunc func(ctx context.Context, tx Tx) ([]Entity, error)

// PostProcessFunc rewrites an encoded row before it is written.
type PostProcessFunc func(e Entity, row OrderedRow) (OrderedRow, error)

// Transforms returns base layered with the definition's own processors.
func (d *ExporterDefinition) Transforms(base *Transforms) *Transforms {
	return base.Layer(d.Processors, nil)
}

// Check validates the definition.
func (d *ExporterDefinition) Check(base *Transforms) error {
	if d.Name == "" {
		return &ConfigError{Msg: "exporter has no name"}
	}
	if d.Table == "" && d.Query == nil {
		return &ConfigError{Entity: d.Name, Msg: "no table or query"}
	}
	if d.File == "" {
		return &ConfigError{Entity: d.Name, Msg: "no file"}
	}
	return d.Transforms(base).CheckMapping(d.Name, d.Mapping)
}
