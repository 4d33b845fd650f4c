// Package manifest loads importer and exporter definitions from a YAML file,
// so new CSV models can be added without recompiling.
//
//	importers:
//	  - name: vendors
//	    table: vendors
//	    file: vendors.csv
//	    cache_key: code
//	    dependencies: [customers]
//	    references:
//	      - {field: customer, entity: customers, target: customer_id}
//	    update: all
//	    mapping:
//	      - column: code
//	        processors: [upper]
//	      - column: since
//	        field: since_at
//	        processors: [{toDatetime: "d/m/Y"}]
package manifest

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/JonMunkholm/csvsync/internal/core"
	"gopkg.in/yaml.v3"
)

// File is the top level of a definitions manifest.
type File struct {
	Importers []Importer `yaml:"importers"`
	Exporters []Exporter `yaml:"exporters"`
}

// Importer is the YAML form of core.ImporterDefinition.
type Importer struct {
	Name         string      `yaml:"name"`
	Table        string      `yaml:"table"`
	File         string      `yaml:"file"`
	CacheKey     string      `yaml:"cache_key"`
	PrimaryKey   string      `yaml:"primary_key"`
	Dependencies []string    `yaml:"dependencies"`
	References   []Reference `yaml:"references"`
	Update       *Update     `yaml:"update"`
	Mapping      []Column    `yaml:"mapping"`
}

// Exporter is the YAML form of core.ExporterDefinition.
type Exporter struct {
	Name    string   `yaml:"name"`
	Table   string   `yaml:"table"`
	File    string   `yaml:"file"`
	SQL     string   `yaml:"sql"`
	Mapping []Column `yaml:"mapping"`
}

type Reference struct {
	Field  string `yaml:"field"`
	Entity string `yaml:"entity"`
	Target string `yaml:"target"`
	Key    string `yaml:"key"`
}

type Column struct {
	Column     string      `yaml:"column"`
	Field      string      `yaml:"field"`
	Processors []Processor `yaml:"processors"`
	Validators []string    `yaml:"validators"`
}

// Processor accepts either a bare name ("integer") or a single-key mapping
// from the name to one parameter or a list of them ({toDatetime: "d/m/Y"}).
type Processor struct {
	Name   string
	Params []string
}

func (p *Processor) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		p.Name = node.Value
		return nil
	case yaml.MappingNode:
		if len(node.Content) != 2 {
			return fmt.Errorf("line %d: processor mapping must have exactly one key", node.Line)
		}
		p.Name = node.Content[0].Value
		params := node.Content[1]
		switch params.Kind {
		case yaml.ScalarNode:
			p.Params = []string{params.Value}
			return nil
		case yaml.SequenceNode:
			return params.Decode(&p.Params)
		}
		return fmt.Errorf("line %d: parameters of %s must be a string or a list", params.Line, p.Name)
	}
	return fmt.Errorf("line %d: processor must be a name or a mapping", node.Line)
}

// Update is "all" or the list of fields an update may change.
type Update struct {
	All    bool
	Fields []string
}

func (u *Update) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		if node.Value != "all" {
			return fmt.Errorf("line %d: update must be \"all\" or a list of fields, got %q", node.Line, node.Value)
		}
		u.All = true
		return nil
	case yaml.SequenceNode:
		return node.Decode(&u.Fields)
	}
	return fmt.Errorf("line %d: update must be \"all\" or a list of fields", node.Line)
}

func (u *Update) fn() core.UpdateFunc {
	if u == nil {
		return nil
	}
	if u.All || len(u.Fields) == 0 {
		return core.UpdateAll
	}
	names := append([]string(nil), u.Fields...)
	return func(_ context.Context, _ *core.RowContext, e core.Entity, fields core.Fields) (bool, error) {
		return core.AssignFields(e, fields, names...)
	}
}

// Processors are extra named processors manifest definitions may use on top
// of the base set.
type Processors struct {
	Import map[string]core.Processor
	Export map[string]core.Processor
}

// Parse decodes a manifest. Unknown keys are rejected.
func Parse(r io.Reader) (*File, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var f File
	if err := dec.Decode(&f); err != nil {
		if errors.Is(err, io.EOF) {
			return &f, nil
		}
		return nil, &core.ConfigError{Msg: "parse manifest", Err: err}
	}
	return &f, nil
}

// Load reads and parses the manifest at path.
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	f, err := Parse(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return f, nil
}

// LoadInto loads the manifest at path and registers its definitions.
func LoadInto(path string, r *core.Registry, procs Processors) (importers, exporters int, err error) {
	f, err := Load(path)
	if err != nil {
		return 0, 0, err
	}
	if err := f.Register(r, procs); err != nil {
		return 0, 0, fmt.Errorf("%s: %w", path, err)
	}
	return len(f.Importers), len(f.Exporters), nil
}

// Definitions converts the manifest and checks every definition. Nothing
// is registered.
func (f *File) Definitions(procs Processors) ([]core.ImporterDefinition, []core.ExporterDefinition, error) {
	importers := make([]core.ImporterDefinition, 0, len(f.Importers))
	for _, imp := range f.Importers {
		def := imp.definition(procs.Import)
		if err := def.Check(core.ImportTransforms(), core.ModeAppend); err != nil {
			return nil, nil, err
		}
		importers = append(importers, def)
	}
	if err := core.NewRegistry().CheckAdd(importers...); err != nil {
		return nil, nil, err
	}

	exporters := make([]core.ExporterDefinition, 0, len(f.Exporters))
	seen := make(map[string]bool, len(f.Exporters))
	for _, exp := range f.Exporters {
		def := exp.definition(procs.Export)
		if err := def.Check(core.ExportTransforms()); err != nil {
			return nil, nil, err
		}
		if seen[def.Name] {
			return nil, nil, &core.ConfigError{Msg: fmt.Sprintf("exporter defined twice: %s", def.Name)}
		}
		seen[def.Name] = true
		exporters = append(exporters, def)
	}
	return importers, exporters, nil
}

// Register checks every definition and adds them to r. Nothing is added
// when a definition is invalid, a name is taken or defined twice, or the
// importers would close a dependency cycle.
func (f *File) Register(r *core.Registry, procs Processors) error {
	importers, exporters, err := f.Definitions(procs)
	if err != nil {
		return err
	}
	if err := r.CheckAdd(importers...); err != nil {
		return err
	}
	for _, def := range exporters {
		if _, ok := r.Exporter(def.Name); ok {
			return &core.ConfigError{Msg: fmt.Sprintf("exporter already registered: %s", def.Name)}
		}
	}

	for _, def := range importers {
		if err := r.AddImporter(def); err != nil {
			return err
		}
	}
	for _, def := range exporters {
		if err := r.AddExporter(def); err != nil {
			return err
		}
	}
	return nil
}

func (imp Importer) definition(procs map[string]core.Processor) core.ImporterDefinition {
	refs := make([]core.Reference, len(imp.References))
	for i, r := range imp.References {
		refs[i] = core.Reference{Field: r.Field, Entity: r.Entity, Target: r.Target, Key: r.Key}
	}
	return core.ImporterDefinition{
		Name:         imp.Name,
		Table:        imp.Table,
		File:         imp.File,
		Mapping:      mapping(imp.Mapping),
		CacheKey:     imp.CacheKey,
		PrimaryKey:   imp.PrimaryKey,
		Dependencies: imp.Dependencies,
		References:   refs,
		Processors:   procs,
		Update:       imp.Update.fn(),
	}
}

func (exp Exporter) definition(procs map[string]core.Processor) core.ExporterDefinition {
	return core.ExporterDefinition{
		Name:       exp.Name,
		Table:      exp.Table,
		File:       exp.File,
		Mapping:    mapping(exp.Mapping),
		Processors: procs,
		SQL:        exp.SQL,
	}
}

func mapping(cols []Column) core.ColumnMapping {
	out := make(core.ColumnMapping, len(cols))
	for i, c := range cols {
		specs := make([]core.ProcessorSpec, len(c.Processors))
		for j, p := range c.Processors {
			specs[j] = core.Proc(p.Name, p.Params...)
		}
		out[i] = core.ColumnMap{
			Column:     c.Column,
			Field:      c.Field,
			Processors: specs,
			Validators: c.Validators,
		}
	}
	return out
}
