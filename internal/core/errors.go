package core

import (
	"errors"
	"fmt"
	"strings"
)

// Error categories. Every typed error below unwraps to one of these, so
// callers can branch with errors.Is without caring about the concrete type.
var (
	ErrConfig    = errors.New("configuration error")
	ErrData      = errors.New("data error")
	ErrIntegrity = errors.New("integrity error")
)

// Specific configuration failures.
var (
	ErrUnknownModel      = errors.New("unknown model")
	ErrUnknownMode       = errors.New("unknown mode")
	ErrUnknownProcessor  = errors.New("unknown processor")
	ErrUnknownValidator  = errors.New("unknown validator")
	ErrUnknownDependency = errors.New("unknown dependency")
	ErrMissingUpdate     = errors.New("update mode requires an update function")
	ErrNoCacheKey        = errors.New("validator requires a cache key")
	ErrNoSourceFile      = errors.New("source file does not exist")
)

// ConfigError reports a malformed definition or an invalid request.
type ConfigError struct {
	Entity string
	Msg    string
	Err    error
}

func (e *ConfigError) Error() string {
	var b strings.Builder
	b.WriteString("configuration error")
	if e.Entity != "" {
		fmt.Fprintf(&b, " in %s", e.Entity)
	}
	if e.Msg != "" {
		b.WriteString(": ")
		b.WriteString(e.Msg)
	}
	if e.Err != nil && (e.Msg == "" || !strings.Contains(e.Msg, e.Err.Error())) {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *ConfigError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrConfig}
	}
	return []error{ErrConfig, e.Err}
}

// DataError reports a value that could not be converted, or a row that could
// not be resolved. Line is the 1-based line number in File when known.
type DataError struct {
	Entity string
	File   string
	Line   int
	Column string
	Value  string
	Msg    string
	Err    error
}

func (e *DataError) Error() string {
	var b strings.Builder
	b.WriteString("data error")
	writeLocation(&b, e.Entity, e.File, e.Line, e.Column, e.Value)
	if e.Msg != "" {
		b.WriteString(": ")
		b.WriteString(e.Msg)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *DataError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrData}
	}
	return []error{ErrData, e.Err}
}

// IntegrityError reports a uniqueness violation found by a validator.
type IntegrityError struct {
	Entity string
	File   string
	Line   int
	Column string
	Value  string
	Msg    string
}

func (e *IntegrityError) Error() string {
	var b strings.Builder
	b.WriteString("integrity error")
	writeLocation(&b, e.Entity, e.File, e.Line, e.Column, e.Value)
	if e.Msg != "" {
		b.WriteString(": ")
		b.WriteString(e.Msg)
	}
	return b.String()
}

func (e *IntegrityError) Unwrap() error { return ErrIntegrity }

// ReferenceError reports a business key with no matching entity in the
// run's context.
type ReferenceError struct {
	Entity string
	Key    string
}

func (e *ReferenceError) Error() string {
	return fmt.Sprintf("no %s found for key %q", e.Entity, e.Key)
}

func (e *ReferenceError) Unwrap() error { return ErrData }

// CycleError reports a circular dependency between definitions.
// Path starts and ends with the same name.
type CycleError struct {
	Path []string
}

func (e *CycleError) Error() string {
	return "dependency cycle: " + strings.Join(e.Path, " -> ")
}

func (e *CycleError) Unwrap() error { return ErrConfig }

func writeLocation(b *strings.Builder, entity, file string, line int, column, value string) {
	var parts []string
	if entity != "" {
		parts = append(parts, "entity "+entity)
	}
	if file != "" {
		if line > 0 {
			parts = append(parts, fmt.Sprintf("file %s line %d", file, line))
		} else {
			parts = append(parts, "file "+file)
		}
	}
	if column != "" {
		parts = append(parts, "column "+column)
	}
	if value != "" {
		parts = append(parts, fmt.Sprintf("value %q", value))
	}
	if len(parts) > 0 {
		b.WriteString(" (")
		b.WriteString(strings.Join(parts, ", "))
		b.WriteString(")")
	}
}

// withLocation fills in location details on typed errors that lack them.
func withLocation(err error, entity, file string, line int) error {
	var de *DataError
	if errors.As(err, &de) {
		if de.Entity == "" {
			de.Entity = entity
		}
		if de.File == "" {
			de.File = file
		}
		if de.Line == 0 {
			de.Line = line
		}
		return err
	}
	var ie *IntegrityError
	if errors.As(err, &ie) {
		if ie.File == "" {
			ie.File = file
		}
		if ie.Line == 0 {
			ie.Line = line
		}
		return err
	}
	var re *ReferenceError
	if errors.As(err, &re) {
		return &DataError{Entity: entity, File: file, Line: line, Value: re.Key, Err: err}
	}
	return err
}
