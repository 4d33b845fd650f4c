package core

// validation.go runs the validators attached to mapping columns.
//
// Validators see the decoded row plus a scope describing where it came from
// and the entity cache of the running definition. A failing validator aborts
// the run.

import "strings"

// ValidationScope is what a validator knows about the row under check.
type ValidationScope struct {
	Entity   string
	File     string
	Line     int
	Mapping  ColumnMapping
	CacheKey string
	Cache    *EntityCache
}

// Validate runs every validator of the mapping over fields.
func (s *ValidationScope) Validate(t *Transforms, fields Fields) error {
	for _, c := range s.Mapping {
		for _, name := range c.Validators {
			v, ok := t.Validator(name)
			if !ok {
				return &ConfigError{Entity: s.Entity, Msg: "validator " + name, Err: ErrUnknownValidator}
			}
			if err := v(s, c.Column, fields); err != nil {
				return err
			}
		}
	}
	return nil
}

// validateUnique fails when another cached entity already holds the row's
// value for the column's field. Comparison is case-insensitive. The entity
// the row itself resolves to (by cache key) is not a conflict.
func validateUnique(s *ValidationScope, column string, fields Fields) error {
	if s.CacheKey == "" || s.Cache == nil {
		return &ConfigError{Entity: s.Entity, Msg: "unique on column " + column, Err: ErrNoCacheKey}
	}
	entry, ok := s.Mapping.Lookup(column)
	if !ok {
		return nil
	}
	field := entry.FieldName()
	value, present := fields[field]
	if !present || isNull(value) {
		return nil
	}
	want := FormatValue(value)

	var current Entity
	if key, ok := fields[s.CacheKey]; ok {
		current, _ = s.Cache.Lookup(key)
	}

	for _, e := range s.Cache.Entities() {
		if current != nil && e == current {
			continue
		}
		got, ok := e.Get(field)
		if !ok || isNull(got) {
			continue
		}
		if strings.EqualFold(FormatValue(got), want) {
			return &IntegrityError{
				Entity: s.Entity,
				File:   s.File,
				Line:   s.Line,
				Column: column,
				Value:  want,
				Msg:    "value must be unique",
			}
		}
	}
	return nil
}
