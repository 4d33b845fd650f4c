package core

import (
	"context"
	"fmt"

	"github.com/JonMunkholm/csvsync/internal/csvio"
	"github.com/JonMunkholm/csvsync/internal/logging"
)

// ImportOptions controls an import run.
type ImportOptions struct {
	Mode Mode
	// Offset and Limit window the rows of the requested definitions.
	// Dependencies pulled in by the plan are always read whole.
	Offset int
	Limit  int
	// Progress, when set, is called as each definition advances.
	Progress ProgressFunc
}

// ImportStats summarizes what happened to one definition.
type ImportStats struct {
	Name      string `json:"name"`
	File      string `json:"file"`
	Mode      Mode   `json:"mode"`
	Rows      int    `json:"rows"`
	Created   int    `json:"created"`
	Updated   int    `json:"updated"`
	Unchanged int    `json:"unchanged"`
	Skipped   int    `json:"skipped"`
	Deleted   int64  `json:"deleted"`
}

// ImportResult is returned by Service.Import.
type ImportResult struct {
	RunID     string        `json:"run_id"`
	Mode      Mode          `json:"mode"`
	Committed bool          `json:"committed"`
	Steps     []ImportStats `json:"steps"`
}

// Rows returns the number of rows processed across all steps.
func (r *ImportResult) Rows() int {
	if r == nil {
		return 0
	}
	n := 0
	for _, s := range r.Steps {
		n += s.Rows
	}
	return n
}

type planStep struct {
	def       *ImporterDefinition
	mode      Mode
	requested bool
}

type decodedRow struct {
	line   int
	fields Fields
}

// Import imports the named definitions and everything they depend on, in
// dependency order, inside a single transaction.
//
// Requested definitions run in opts.Mode. Dependencies run in append mode
// when opts.Mode is overwrite, otherwise in opts.Mode. Validate mode never
// commits. Every planned definition is checked before any row is read.
func (s *Service) Import(ctx context.Context, names []string, opts ImportOptions) (res *ImportResult, err error) {
	mode, err := ParseMode(string(opts.Mode))
	if err != nil {
		return nil, err
	}

	steps, err := s.plan(names, mode)
	if err != nil {
		return nil, err
	}

	ctx, run, err := s.startRun(ctx, RunImport, names, mode)
	if err != nil {
		return nil, err
	}
	res = &ImportResult{RunID: run.id, Mode: mode}
	defer func() { s.finishRun(ctx, run, res.Rows(), res.Committed, err) }()

	tx, err := s.store.Begin(ctx)
	if err != nil {
		return res, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	refs := NewEntityContext()
	base := ImportTransforms()
	for _, step := range steps {
		stats, err := s.importStep(ctx, tx, refs, base, step, opts, run.id)
		res.Steps = append(res.Steps, stats)
		if err != nil {
			return res, err
		}
	}

	if mode == ModeValidate {
		if err := tx.Rollback(ctx); err != nil {
			return res, fmt.Errorf("rollback: %w", err)
		}
		logging.FromContext(ctx).Info("validation finished, changes discarded")
		return res, nil
	}

	if err := tx.Commit(ctx); err != nil {
		return res, fmt.Errorf("commit: %w", err)
	}
	res.Committed = true
	return res, nil
}

// plan resolves names into checked steps.
func (s *Service) plan(names []string, mode Mode) ([]planStep, error) {
	if len(names) == 0 {
		return nil, &ConfigError{Msg: "no importer named", Err: ErrUnknownModel}
	}
	defs, err := s.registry.Plan(names)
	if err != nil {
		return nil, err
	}

	requested := make(map[string]bool, len(names))
	for _, n := range names {
		requested[n] = true
	}

	base := ImportTransforms()
	steps := make([]planStep, len(defs))
	for i, def := range defs {
		stepMode := mode
		if !requested[def.Name] && mode == ModeOverwrite {
			stepMode = ModeAppend
		}
		if err := def.Check(base, stepMode); err != nil {
			return nil, err
		}
		steps[i] = planStep{def: def, mode: stepMode, requested: requested[def.Name]}
	}
	return steps, nil
}

func (s *Service) importStep(ctx context.Context, tx Tx, refs *EntityContext, base *Transforms, step planStep, opts ImportOptions, runID string) (ImportStats, error) {
	def := step.def
	path := s.Path(def.File)
	logger := logging.FromContext(ctx).With("importer", def.Name, "mode", step.mode)
	stats := ImportStats{Name: def.Name, File: path, Mode: step.mode}

	repo, err := tx.Repository(def.Table)
	if err != nil {
		return stats, fmt.Errorf("%s: %w", def.Name, err)
	}

	if step.mode == ModeOverwrite {
		n, err := repo.DeleteAll(ctx)
		if err != nil {
			return stats, fmt.Errorf("%s: clear %s: %w", def.Name, def.Table, err)
		}
		stats.Deleted = n
		logger.Info("cleared table", "table", def.Table, "deleted", n)
	}

	var cache *EntityCache
	if def.CacheKey != "" {
		existing, err := repo.All(ctx)
		if err != nil {
			return stats, fmt.Errorf("%s: load %s: %w", def.Name, def.Table, err)
		}
		cache = BuildCache(existing, def.CacheKey)
		if pk := def.PrimaryKeyField(); pk != "" {
			refs.Seed(def.Name, cache, pk)
		}
		logger.Debug("cache built", "entities", cache.Len())
	}

	file, err := csvio.ReadFile(path)
	if err != nil {
		return stats, fmt.Errorf("%s: %w", def.Name, err)
	}
	rows := file.Rows
	if step.requested {
		rows = file.Window(opts.Offset, opts.Limit)
	}

	transforms := def.Transforms(base)
	decoded, err := decodeRows(def, transforms, path, rows, cache)
	if err != nil {
		return stats, err
	}

	report := func(phase Phase, current int) {
		if opts.Progress != nil {
			opts.Progress(Progress{
				RunID:      runID,
				Definition: def.Name,
				Phase:      phase,
				CurrentRow: current,
				TotalRows:  len(decoded),
			})
		}
	}
	report(PhaseStarting, 0)

	rc := &RowContext{
		Definition: def.Name,
		Mode:       step.mode,
		File:       path,
		tx:         tx,
		refs:       refs,
		logger:     logger,
	}
	for i, row := range decoded {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		rc.Line = row.line
		if err := importRow(ctx, repo, rc, def, cache, row.fields, &stats); err != nil {
			return stats, withLocation(err, def.Name, path, row.line)
		}
		report(PhaseRow, i+1)
	}
	report(PhaseComplete, len(decoded))

	logger.Info("import finished",
		"rows", stats.Rows,
		"created", stats.Created,
		"updated", stats.Updated,
		"unchanged", stats.Unchanged,
		"skipped", stats.Skipped,
	)
	return stats, nil
}

// decodeRows pivots, decodes and validates every row before any is imported.
func decodeRows(def *ImporterDefinition, t *Transforms, path string, rows []csvio.Row, cache *EntityCache) ([]decodedRow, error) {
	out := make([]decodedRow, 0, len(rows))
	validate := def.Mapping.HasValidators()

	for _, r := range rows {
		raws := []map[string]string{r.Values}
		if def.Pivot != nil {
			var err error
			if raws, err = def.Pivot(r.Values); err != nil {
				return nil, withLocation(&DataError{Msg: "pivot", Err: err}, def.Name, path, r.Line)
			}
		}
		for _, raw := range raws {
			fields, err := Decode(raw, def.Mapping, t)
			if err != nil {
				return nil, withLocation(err, def.Name, path, r.Line)
			}
			if validate {
				scope := &ValidationScope{
					Entity:   def.Name,
					File:     path,
					Line:     r.Line,
					Mapping:  def.Mapping,
					CacheKey: def.CacheKey,
					Cache:    cache,
				}
				if err := scope.Validate(t, fields); err != nil {
					return nil, err
				}
			}
			out = append(out, decodedRow{line: r.Line, fields: fields})
		}
	}
	return out, nil
}

// importRow creates, updates or reuses the entity for one decoded row and
// records it in the cache and the run's context.
func importRow(ctx context.Context, repo Repository, rc *RowContext, def *ImporterDefinition, cache *EntityCache, fields Fields, stats *ImportStats) error {
	stats.Rows++

	pkField := def.PrimaryKeyField()
	pkValue, hasPK := fields[pkField]

	var existing Entity
	if cache != nil {
		if key, ok := fields[def.CacheKey]; ok {
			existing, _ = cache.Lookup(key)
		}
	}

	var e Entity
	switch {
	case existing != nil && rc.Mode == ModeUpdate:
		if err := resolveReferences(rc, def, fields); err != nil {
			return err
		}
		changed, err := def.Update(ctx, rc, existing, fields)
		if err != nil {
			return fmt.Errorf("update %s: %w", Describe(existing), err)
		}
		if changed {
			if err := repo.Save(ctx, existing); err != nil {
				return fmt.Errorf("save %s: %w", Describe(existing), err)
			}
			stats.Updated++
		} else {
			stats.Unchanged++
		}
		e = existing

	case existing != nil:
		stats.Skipped++
		e = existing

	default:
		if err := resolveReferences(rc, def, fields); err != nil {
			return err
		}
		if def.Prepare != nil {
			if err := def.Prepare(ctx, rc, fields); err != nil {
				return err
			}
		}
		created, err := repo.Create(ctx, fields)
		if err != nil {
			return fmt.Errorf("create %s: %w", def.Table, err)
		}
		stats.Created++
		e = created
	}

	if def.AfterRow != nil {
		if err := def.AfterRow(ctx, rc, e, fields); err != nil {
			return err
		}
	}

	if cache != nil {
		cache.Index(e)
	}
	if pkField != "" {
		if !hasPK {
			pkValue, _ = e.Get(pkField)
		}
		rc.refs.Put(def.Name, pkValue, e)
	}
	return nil
}

// resolveReferences swaps business keys for the referenced entities' keys.
func resolveReferences(rc *RowContext, def *ImporterDefinition, fields Fields) error {
	for _, r := range def.References {
		v, ok := fields[r.Field]
		if !ok || isNull(v) {
			continue
		}
		ref, err := rc.Ref(r.Entity, v)
		if err != nil {
			return &DataError{Column: r.Field, Value: FormatValue(v), Err: err}
		}
		val, ok := ref.Get(r.key())
		if !ok {
			return &DataError{
				Column: r.Field,
				Value:  FormatValue(v),
				Msg:    fmt.Sprintf("referenced %s has no field %q", r.Entity, r.key()),
			}
		}
		if r.target() != r.Field {
			delete(fields, r.Field)
		}
		fields[r.target()] = val
	}
	return nil
}
