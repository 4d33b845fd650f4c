package core

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// Processor converts a cell value. params come from the mapping entry.
type Processor func(value any, params ...string) (any, error)

// Validator checks a decoded row. column is the CSV column the validator
// is attached to.
type Validator func(scope *ValidationScope, column string, fields Fields) error

// Transforms is a named set of processors and validators.
// The base sets are built by ImportTransforms and ExportTransforms; a
// definition layers its own entries on top with Layer.
type Transforms struct {
	processors map[string]Processor
	validators map[string]Validator
}

// NewTransforms returns an empty registry.
func NewTransforms() *Transforms {
	return &Transforms{
		processors: make(map[string]Processor),
		validators: make(map[string]Validator),
	}
}

// ImportTransforms returns the base registry used when decoding rows.
func ImportTransforms() *Transforms {
	t := NewTransforms()
	t.RegisterProcessor("integer", processInteger)
	t.RegisterProcessor("toDatetime", processToDatetime)
	t.RegisterProcessor("stringToNull", processStringToNull)
	t.RegisterValidator("unique", validateUnique)
	return t
}

// ExportTransforms returns the base registry used when encoding rows.
func ExportTransforms() *Transforms {
	t := NewTransforms()
	t.RegisterProcessor("nullToString", processNullToString)
	t.RegisterProcessor("nullToZero", processNullToZero)
	return t
}

// RegisterProcessor adds or replaces a processor.
func (t *Transforms) RegisterProcessor(name string, p Processor) {
	t.processors[name] = p
}

// RegisterValidator adds or replaces a validator.
func (t *Transforms) RegisterValidator(name string, v Validator) {
	t.validators[name] = v
}

func (t *Transforms) Processor(name string) (Processor, bool) {
	p, ok := t.processors[name]
	return p, ok
}

func (t *Transforms) Validator(name string) (Validator, bool) {
	v, ok := t.validators[name]
	return v, ok
}

// Layer returns a copy of t with the given entries added. Entries in the
// layer replace base entries with the same name.
func (t *Transforms) Layer(processors map[string]Processor, validators map[string]Validator) *Transforms {
	out := NewTransforms()
	for k, v := range t.processors {
		out.processors[k] = v
	}
	for k, v := range t.validators {
		out.validators[k] = v
	}
	for k, v := range processors {
		out.processors[k] = v
	}
	for k, v := range validators {
		out.validators[k] = v
	}
	return out
}

// ProcessorNames lists registered processors, sorted.
func (t *Transforms) ProcessorNames() []string {
	names := make([]string, 0, len(t.processors))
	for k := range t.processors {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// Apply runs the processor chain over value, left to right.
func (t *Transforms) Apply(chain []ProcessorSpec, value any) (any, error) {
	for _, spec := range chain {
		p, ok := t.processors[spec.Name]
		if !ok {
			return nil, &ConfigError{Msg: fmt.Sprintf("processor %q", spec.Name), Err: ErrUnknownProcessor}
		}
		out, err := p(value, spec.Params...)
		if err != nil {
			return nil, err
		}
		value = out
	}
	return value, nil
}

// CheckMapping verifies that every processor and validator named by the
// mapping exists. entity names the definition in the returned error.
func (t *Transforms) CheckMapping(entity string, m ColumnMapping) error {
	if err := m.Check(); err != nil {
		return &ConfigError{Entity: entity, Msg: err.Error()}
	}
	for _, c := range m {
		for _, spec := range c.Processors {
			if _, ok := t.processors[spec.Name]; !ok {
				return &ConfigError{
					Entity: entity,
					Msg:    fmt.Sprintf("column %q uses processor %q", c.Column, spec.Name),
					Err:    ErrUnknownProcessor,
				}
			}
		}
		for _, name := range c.Validators {
			if _, ok := t.validators[name]; !ok {
				return &ConfigError{
					Entity: entity,
					Msg:    fmt.Sprintf("column %q uses validator %q", c.Column, name),
					Err:    ErrUnknownValidator,
				}
			}
		}
	}
	return nil
}

// processInteger coerces leniently: the leading integer of a string, or 0.
func processInteger(value any, _ ...string) (any, error) {
	switch v := value.(type) {
	case nil:
		return int64(0), nil
	case int64:
		return v, nil
	case int:
		return int64(v), nil
	case int32:
		return int64(v), nil
	case float64:
		return int64(v), nil
	case bool:
		if v {
			return int64(1), nil
		}
		return int64(0), nil
	default:
		return LeadingInt(FormatValue(v)), nil
	}
}

// processToDatetime parses with the given date() style format (default
// "d/m/y H:i") and renders the canonical "2006-01-02 15:04:05" form.
func processToDatetime(value any, params ...string) (any, error) {
	format := DefaultDateFormat
	if len(params) > 0 && params[0] != "" {
		format = params[0]
	}
	switch v := value.(type) {
	case nil:
		return nil, nil
	case time.Time:
		return v.Format(DateTimeLayout), nil
	}
	s := FormatValue(value)
	t, err := ParseDateTime(s, format)
	if err != nil {
		return nil, &DataError{Value: s, Msg: err.Error()}
	}
	return t.Format(DateTimeLayout), nil
}

// processStringToNull maps the literal text "null" (any case) to nil.
func processStringToNull(value any, _ ...string) (any, error) {
	if s, ok := value.(string); ok && strings.EqualFold(strings.TrimSpace(s), "null") {
		return nil, nil
	}
	return value, nil
}

func processNullToString(value any, _ ...string) (any, error) {
	if isNull(value) {
		return "NULL", nil
	}
	return value, nil
}

func processNullToZero(value any, _ ...string) (any, error) {
	if isNull(value) {
		return int64(0), nil
	}
	return value, nil
}
