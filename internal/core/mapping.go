package core

import (
	"fmt"
	"strings"
)

// ProcessorSpec names a processor and the extra parameters passed to it.
type ProcessorSpec struct {
	Name   string
	Params []string
}

// Proc is shorthand for building a ProcessorSpec.
func Proc(name string, params ...string) ProcessorSpec {
	return ProcessorSpec{Name: name, Params: params}
}

func (p ProcessorSpec) String() string {
	if len(p.Params) == 0 {
		return p.Name
	}
	return p.Name + "(" + strings.Join(p.Params, ", ") + ")"
}

// ColumnMap binds one CSV column to an entity field.
type ColumnMap struct {
	Column     string
	Field      string // defaults to Column
	Processors []ProcessorSpec
	Validators []string
}

// FieldName returns the entity field the column maps to.
func (c ColumnMap) FieldName() string {
	if c.Field == "" {
		return c.Column
	}
	return c.Field
}

// ColumnMapping is the ordered list of column bindings of a definition.
type ColumnMapping []ColumnMap

// Columns returns the CSV column names in mapping order.
func (m ColumnMapping) Columns() []string {
	out := make([]string, len(m))
	for i, c := range m {
		out[i] = c.Column
	}
	return out
}

// Lookup finds the binding for a CSV column.
func (m ColumnMapping) Lookup(column string) (ColumnMap, bool) {
	for _, c := range m {
		if c.Column == column {
			return c, true
		}
	}
	return ColumnMap{}, false
}

// HasValidators reports whether any column declares a validator.
func (m ColumnMapping) HasValidators() bool {
	for _, c := range m {
		if len(c.Validators) > 0 {
			return true
		}
	}
	return false
}

// Check rejects empty and duplicate column names.
func (m ColumnMapping) Check() error {
	if len(m) == 0 {
		return fmt.Errorf("mapping has no columns")
	}
	seen := make(map[string]bool, len(m))
	for i, c := range m {
		if strings.TrimSpace(c.Column) == "" {
			return fmt.Errorf("mapping entry %d has an empty column name", i)
		}
		if seen[c.Column] {
			return fmt.Errorf("column %q is mapped twice", c.Column)
		}
		seen[c.Column] = true
	}
	return nil
}
