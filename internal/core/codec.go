package core

import (
	"errors"
	"fmt"
	"strings"
)

// Decode turns a raw CSV row (column -> text) into entity fields.
//
// Each mapped column is read, trimmed and run through its processor chain.
// Empty cells and columns missing from the row are absent: they produce no
// field and their processors do not run.
func Decode(raw map[string]string, mapping ColumnMapping, t *Transforms) (Fields, error) {
	fields := make(Fields, len(mapping))
	for _, c := range mapping {
		cell, ok := raw[c.Column]
		if !ok {
			continue
		}
		cell = strings.TrimSpace(cell)
		if cell == "" {
			continue
		}
		v, err := t.Apply(c.Processors, cell)
		if err != nil {
			return nil, cellError(err, c.Column, cell)
		}
		fields[c.FieldName()] = v
	}
	return fields, nil
}

// OrderedRow is an export row: cell values in column order.
type OrderedRow struct {
	Columns []string
	Values  []any
}

// Set replaces the value of column, appending it when new.
func (r *OrderedRow) Set(column string, v any) {
	for i, c := range r.Columns {
		if c == column {
			r.Values[i] = v
			return
		}
	}
	r.Columns = append(r.Columns, column)
	r.Values = append(r.Values, v)
}

// Get returns the value of column.
func (r OrderedRow) Get(column string) (any, bool) {
	for i, c := range r.Columns {
		if c == column {
			return r.Values[i], true
		}
	}
	return nil, false
}

// Len returns the number of cells.
func (r OrderedRow) Len() int { return len(r.Columns) }

// Strings renders every cell with FormatValue.
func (r OrderedRow) Strings() []string {
	out := make([]string, len(r.Values))
	for i, v := range r.Values {
		out[i] = FormatValue(v)
	}
	return out
}

// Encode builds an export row from an entity. Every mapped field is read
// first; then columns with processors are rewritten by their chain.
// A field the entity cannot supply is a data error naming the entity.
func Encode(e Entity, entity string, mapping ColumnMapping, t *Transforms) (OrderedRow, error) {
	row := OrderedRow{
		Columns: make([]string, 0, len(mapping)),
		Values:  make([]any, 0, len(mapping)),
	}
	for _, c := range mapping {
		v, ok := e.Get(c.FieldName())
		if !ok {
			return OrderedRow{}, &DataError{
				Entity: entity,
				Column: c.Column,
				Msg:    fmt.Sprintf("could not select field %q for %s", c.FieldName(), Describe(e)),
			}
		}
		row.Set(c.Column, v)
	}
	for _, c := range mapping {
		if len(c.Processors) == 0 {
			continue
		}
		v, _ := row.Get(c.Column)
		out, err := t.Apply(c.Processors, v)
		if err != nil {
			var ce *ConfigError
			if errors.As(err, &ce) && ce.Entity == "" {
				ce.Entity = entity
			}
			return OrderedRow{}, cellError(err, c.Column, FormatValue(v))
		}
		row.Set(c.Column, out)
	}
	return row, nil
}

// PadRows renders rows as a rectangle: every row is extended with empty
// cells to the width of the widest one. The header is the column list of
// the first widest row; it is nil when there are no rows.
func PadRows(rows []OrderedRow) (header []string, records [][]string) {
	width, widest := 0, -1
	for i, r := range rows {
		if r.Len() > width {
			width, widest = r.Len(), i
		}
	}
	if widest >= 0 {
		header = append([]string{}, rows[widest].Columns...)
	}
	records = make([][]string, len(rows))
	for i, r := range rows {
		cells := r.Strings()
		for len(cells) < width {
			cells = append(cells, "")
		}
		records[i] = cells
	}
	return header, records
}

// Describe names an entity for error messages: its table and id when known.
func Describe(e Entity) string {
	name := fmt.Sprintf("%T", e)
	if t, ok := e.(interface{ Table() string }); ok && t.Table() != "" {
		name = t.Table()
	}
	if id, ok := e.Get("id"); ok && !isNull(id) {
		return fmt.Sprintf("%s id %s", name, FormatValue(id))
	}
	return name
}

// cellError attaches column and value to processor failures.
func cellError(err error, column, value string) error {
	var de *DataError
	if errors.As(err, &de) {
		if de.Column == "" {
			de.Column = column
		}
		if de.Value == "" {
			de.Value = value
		}
		return err
	}
	var ce *ConfigError
	if errors.As(err, &ce) {
		return err
	}
	return &DataError{Column: column, Value: value, Err: err}
}
