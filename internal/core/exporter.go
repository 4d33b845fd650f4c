package core

import (
	"context"
	"errors"
	"fmt"

	"github.com/JonMunkholm/csvsync/internal/csvio"
	"github.com/JonMunkholm/csvsync/internal/logging"
)

// ExportOptions controls an export run.
type ExportOptions struct {
	// Backup copies the current file to the backup directory before it is
	// overwritten. A missing file is not an error.
	Backup bool
}

// ExportedFile describes one written file.
type ExportedFile struct {
	Name       string `json:"name"`
	Path       string `json:"path"`
	BackupPath string `json:"backup_path,omitempty"`
	Rows       int    `json:"rows"`
}

// ExportResult is returned by Service.Export.
type ExportResult struct {
	RunID string         `json:"run_id"`
	Files []ExportedFile `json:"files"`
}

// Rows returns the number of rows written across all files.
func (r *ExportResult) Rows() int {
	if r == nil {
		return 0
	}
	n := 0
	for _, f := range r.Files {
		n += f.Rows
	}
	return n
}

// Export writes each named definition's entities to its CSV file. Each
// definition reads inside its own transaction.
func (s *Service) Export(ctx context.Context, names []string, opts ExportOptions) (res *ExportResult, err error) {
	defs, err := s.exporters(names)
	if err != nil {
		return nil, err
	}

	ctx, run, err := s.startRun(ctx, RunExport, names, "")
	if err != nil {
		return nil, err
	}
	res = &ExportResult{RunID: run.id}
	defer func() { s.finishRun(ctx, run, res.Rows(), err == nil, err) }()

	base := ExportTransforms()
	for _, def := range defs {
		out, err := s.exportOne(ctx, def, base, opts)
		if err != nil {
			return res, err
		}
		res.Files = append(res.Files, out)
	}
	return res, nil
}

// exporters resolves and checks every named definition up front.
func (s *Service) exporters(names []string) ([]*ExporterDefinition, error) {
	if len(names) == 0 {
		return nil, &ConfigError{Msg: "no exporter named", Err: ErrUnknownModel}
	}
	base := ExportTransforms()
	defs := make([]*ExporterDefinition, 0, len(names))
	for _, name := range names {
		def, ok := s.registry.Exporter(name)
		if !ok {
			return nil, &ConfigError{Msg: fmt.Sprintf("exporter %q", name), Err: ErrUnknownModel}
		}
		if err := def.Check(base); err != nil {
			return nil, err
		}
		defs = append(defs, def)
	}
	return defs, nil
}

func (s *Service) exportOne(ctx context.Context, def *ExporterDefinition, base *Transforms, opts ExportOptions) (ExportedFile, error) {
	path := s.Path(def.File)
	logger := logging.FromContext(ctx).With("exporter", def.Name)
	out := ExportedFile{Name: def.Name, Path: path}

	if opts.Backup {
		dest, err := BackupFile(ctx, path, s.cfg.BackupDir, s.now())
		switch {
		case errors.Is(err, ErrNoSourceFile):
			logger.Debug("nothing to back up", "file", path)
		case err != nil:
			return out, fmt.Errorf("%s: backup: %w", def.Name, err)
		default:
			out.BackupPath = dest
		}
	}

	tx, err := s.store.Begin(ctx)
	if err != nil {
		return out, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	entities, err := fetchEntities(ctx, tx, def)
	if err != nil {
		return out, fmt.Errorf("%s: %w", def.Name, err)
	}

	t := def.Transforms(base)
	rows := make([]OrderedRow, 0, len(entities))
	for _, e := range entities {
		row, err := Encode(e, def.Name, def.Mapping, t)
		if err != nil {
			return out, err
		}
		if def.PostProcess != nil {
			if row, err = def.PostProcess(e, row); err != nil {
				return out, fmt.Errorf("%s: post-process %s: %w", def.Name, Describe(e), err)
			}
		}
		rows = append(rows, row)
	}

	header, records := PadRows(rows)
	if header == nil {
		header = def.Mapping.Columns()
	}
	if err := csvio.WriteFile(path, header, records); err != nil {
		return out, fmt.Errorf("%s: %w", def.Name, err)
	}
	if err := tx.Commit(ctx); err != nil {
		return out, fmt.Errorf("commit: %w", err)
	}

	out.Rows = len(records)
	logger.Info("export finished", "file", path, "rows", out.Rows)
	return out, nil
}

func fetchEntities(ctx context.Context, tx Tx, def *ExporterDefinition) ([]Entity, error) {
	if def.Query != nil {
		return def.Query(ctx, tx)
	}
	repo, err := tx.Repository(def.Table)
	if err != nil {
		return nil, err
	}
	if def.SQL != "" {
		q, ok := repo.(Querier)
		if !ok {
			return nil, &ConfigError{Entity: def.Name, Msg: "store does not support SQL overrides"}
		}
		return q.Select(ctx, def.SQL)
	}
	return repo.All(ctx)
}
