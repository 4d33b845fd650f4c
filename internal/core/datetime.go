package core

import (
	"fmt"
	"strings"
	"time"
)

// DefaultDateFormat is the input format toDatetime assumes when none is given.
const DefaultDateFormat = "d/m/y H:i"

// dateTokens maps date() style format letters to Go layout fragments.
var dateTokens = map[byte]string{
	'd': "02",
	'j': "2",
	'm': "01",
	'n': "1",
	'M': "Jan",
	'F': "January",
	'D': "Mon",
	'l': "Monday",
	'y': "06",
	'Y': "2006",
	'H': "15",
	'G': "15",
	'h': "03",
	'g': "3",
	'i': "04",
	's': "05",
	'A': "PM",
	'a': "pm",
	'T': "MST",
	'P': "-07:00",
	'O': "-0700",
}

// parseTokens relaxes the zero-padded numeric letters so that parsing also
// accepts "5/1/24 9:30" for "d/m/y H:i". Go's parser takes one or two digits
// for these layout elements.
var parseTokens = map[byte]string{
	'd': "2",
	'm': "1",
	'h': "3",
}

// DateLayout translates a date() style format ("d/m/y H:i") into a Go
// time layout ("02/01/06 15:04") suitable for rendering. A backslash
// escapes the next character.
func DateLayout(format string) (string, error) {
	return translateFormat(format, nil)
}

func translateFormat(format string, override map[byte]string) (string, error) {
	var b strings.Builder
	for i := 0; i < len(format); i++ {
		c := format[i]
		if c == '\\' {
			if i+1 < len(format) {
				i++
				b.WriteByte(format[i])
			}
			continue
		}
		if tok, ok := override[c]; ok {
			b.WriteString(tok)
			continue
		}
		if tok, ok := dateTokens[c]; ok {
			b.WriteString(tok)
			continue
		}
		if (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') {
			return "", fmt.Errorf("unsupported date format letter %q in %q", c, format)
		}
		b.WriteByte(c)
	}
	return b.String(), nil
}

// ParseDateTime parses value with a date() style format. Days, months and
// 12-hour clock hours may omit the leading zero. Fields the format does not
// mention are zero.
func ParseDateTime(value, format string) (time.Time, error) {
	if format == "" {
		format = DefaultDateFormat
	}
	layout, err := translateFormat(format, parseTokens)
	if err != nil {
		return time.Time{}, err
	}
	t, err := time.Parse(layout, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q for format %q", value, format)
	}
	return t, nil
}
