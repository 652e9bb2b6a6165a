package normalize

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"
)

var errEmpty = errors.New("normalize: empty value")

type dateTimeLayout struct {
	layout string
	// zoned layouts carry their own offset; the rest are read in the local
	// zone.
	zoned bool
	// lower matches the layout against the lowercased input (am/pm).
	lower bool
}

// Most specific first.
var dateTimeLayouts = []dateTimeLayout{
	{layout: time.RFC3339Nano, zoned: true},
	{layout: "2006-01-02T15:04:05.999999999Z0700", zoned: true},
	{layout: "2006-01-02T15:04:05.999999999"},
	{layout: "2/1/2006 3:04pm", lower: true},
	{layout: "2/1/2006 3:04 pm", lower: true},
	{layout: "2/1/2006 15:04"},
	{layout: "2/1/2006"},
	{layout: "2006-01-02"},
}

// ParseDateTime parses the inbound datetime encodings. Values without an
// offset are interpreted in loc.
func ParseDateTime(value string, loc *time.Location) (time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, errEmpty
	}
	if loc == nil {
		loc = time.UTC
	}
	for _, l := range dateTimeLayouts {
		in := value
		if l.lower {
			in = strings.ToLower(value)
		}
		var (
			t   time.Time
			err error
		)
		if l.zoned {
			t, err = time.Parse(l.layout, in)
		} else {
			t, err = time.ParseInLocation(l.layout, in, loc)
		}
		if err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("normalize: unrecognised datetime %q", value)
}

// ParseDate parses any accepted datetime encoding and keeps the calendar date
// as seen in the value's own offset.
func ParseDate(value string, loc *time.Location) (time.Time, error) {
	t, err := ParseDateTime(value, loc)
	if err != nil {
		return time.Time{}, err
	}
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC), nil
}

// DollarStringToCents strips "$" and "." and reads the rest as integer cents,
// so "$67.64" is 6764. Integers pass through unchanged, which keeps values
// that are already in cents stable.
func DollarStringToCents(value any) (int64, error) {
	var s string
	switch v := value.(type) {
	case nil:
		return 0, errEmpty
	case int:
		return int64(v), nil
	case int64:
		return v, nil
	case int32:
		return int64(v), nil
	case json.Number:
		s = v.String()
	case float64:
		s = strconv.FormatFloat(v, 'f', -1, 64)
	case string:
		s = v
	default:
		s = fmt.Sprint(v)
	}
	s = strings.TrimSpace(s)
	s = strings.ReplaceAll(s, "$", "")
	s = strings.ReplaceAll(s, ".", "")
	if s == "" || s == "None" {
		return 0, errEmpty
	}
	cents, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("normalize: invalid money value %q: %w", value, err)
	}
	return cents, nil
}

// CentsToDollarString renders cents as "$D.CC".
func CentsToDollarString(cents int64) string {
	sign := ""
	if cents < 0 {
		sign = "-"
		cents = -cents
	}
	return fmt.Sprintf("%s$%d.%02d", sign, cents/100, cents%100)
}

var dollarPattern = regexp.MustCompile(`^\$?(\d+)\.(\d{2})$`)

// CanonicalDollarString returns the canonical rendering of a well-formed
// dollar string ("$0012.50" becomes "$12.50"). ok is false for anything else.
func CanonicalDollarString(value string) (string, bool) {
	m := dollarPattern.FindStringSubmatch(strings.TrimSpace(value))
	if m == nil {
		return "", false
	}
	whole := strings.TrimLeft(m[1], "0")
	if whole == "" {
		whole = "0"
	}
	return "$" + whole + "." + m[2], true
}

// ParseBool reads "true", "yes" and "1" in any case as true. Everything else,
// including nil, is false.
func ParseBool(value any) bool {
	switch v := value.(type) {
	case bool:
		return v
	case string:
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "true", "yes", "1":
			return true
		}
	case json.Number:
		return v.String() == "1"
	case float64:
		return v == 1
	case int:
		return v == 1
	case int64:
		return v == 1
	}
	return false
}

// CheckPostcode accepts only all-digit postcodes.
func CheckPostcode(value string) (string, bool) {
	value = strings.TrimSpace(value)
	if value == "" {
		return "", false
	}
	for _, r := range value {
		if r < '0' || r > '9' {
			return "", false
		}
	}
	return value, true
}

// TruncateString cuts value to width runes. It reports whether it cut.
func TruncateString(value string, width int) (string, bool) {
	if width <= 0 || utf8.RuneCountInString(value) <= width {
		return value, false
	}
	runes := []rune(value)
	return string(runes[:width]), true
}

// ParseID reads an upstream integer identifier.
func ParseID(value any) (int64, error) {
	switch v := value.(type) {
	case nil:
		return 0, errEmpty
	case json.Number:
		return v.Int64()
	case float64:
		if v != float64(int64(v)) {
			return 0, fmt.Errorf("normalize: non-integer id %v", v)
		}
		return int64(v), nil
	case int:
		return int64(v), nil
	case int64:
		return v, nil
	case string:
		s := strings.TrimSpace(v)
		if s == "" {
			return 0, errEmpty
		}
		return strconv.ParseInt(s, 10, 64)
	default:
		return 0, fmt.Errorf("normalize: unsupported id type %T", value)
	}
}

// asString renders a loosely typed JSON value as text. ok is false for null.
func asString(value any) (string, bool) {
	switch v := value.(type) {
	case nil:
		return "", false
	case string:
		return v, true
	case json.Number:
		return v.String(), true
	case bool:
		return strconv.FormatBool(v), true
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64), true
	case map[string]any, []any:
		b, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprint(v), true
		}
		return string(b), true
	default:
		return fmt.Sprint(v), true
	}
}
