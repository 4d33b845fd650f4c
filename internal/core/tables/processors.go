package tables

import (
	"fmt"
	"maps"
	"strings"
	"time"

	"github.com/JonMunkholm/csvsync/internal/core"
)

// importProcessors are layered over the base import processors by every
// definition in this package.
var importProcessors = map[string]core.Processor{
	"upper":   processUpper,
	"usState": processUsState,
}

// exportProcessors are layered over the base export processors.
var exportProcessors = map[string]core.Processor{
	"fromDatetime": processFromDatetime,
}

// ImportProcessors returns the import processors of this package, for
// definitions loaded from a manifest.
func ImportProcessors() map[string]core.Processor { return maps.Clone(importProcessors) }

// ExportProcessors returns the export processors of this package.
func ExportProcessors() map[string]core.Processor { return maps.Clone(exportProcessors) }

// processUpper upper-cases business keys so they match regardless of how
// the file spells them.
func processUpper(value any, _ ...string) (any, error) {
	if value == nil {
		return nil, nil
	}
	return strings.ToUpper(core.FormatValue(value)), nil
}

// processUsState turns US state names into their two-letter codes.
func processUsState(value any, _ ...string) (any, error) {
	if value == nil {
		return nil, nil
	}
	return NormalizeUsState(core.FormatValue(value)), nil
}

// processFromDatetime renders a timestamp in a date() style format, the
// reverse of toDatetime. Strings in the canonical layout are reparsed.
func processFromDatetime(value any, params ...string) (any, error) {
	format := core.DefaultDateFormat
	if len(params) > 0 && params[0] != "" {
		format = params[0]
	}
	layout, err := core.DateLayout(format)
	if err != nil {
		return nil, err
	}

	switch v := value.(type) {
	case nil:
		return nil, nil
	case time.Time:
		return v.Format(layout), nil
	}
	s := core.FormatValue(value)
	if s == "" {
		return nil, nil
	}
	t, err := time.Parse(core.DateTimeLayout, s)
	if err != nil {
		return nil, &core.DataError{Value: s, Msg: fmt.Sprintf("invalid date %q", s)}
	}
	return t.Format(layout), nil
}
