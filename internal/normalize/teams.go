package normalize

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"unicode"
)

// ErrTeamDetails is returned when a team list cannot be read even after
// quote normalisation.
var ErrTeamDetails = errors.New("normalize: unreadable team details")

// ParseTeamList reads the upstream team list, a Python-repr style list of
// dicts such as "[{'title': 'Team A', 'id': '9'}]", and returns the values
// of key joined with commas.
func ParseTeamList(raw, key string) (string, error) {
	if strings.TrimSpace(raw) == "" {
		return "", nil
	}
	value, err := parseLiteral(raw)
	if err != nil {
		value, err = parseLiteral(fixSingleQuotes(raw))
		if err != nil {
			return "", fmt.Errorf("%w: %w", ErrTeamDetails, err)
		}
	}

	items, ok := value.([]any)
	if !ok {
		return "", fmt.Errorf("%w: expected a list, got %T", ErrTeamDetails, value)
	}
	out := make([]string, 0, len(items))
	for i, item := range items {
		entry, ok := item.(map[string]any)
		if !ok {
			return "", fmt.Errorf("%w: item %d is %T", ErrTeamDetails, i, item)
		}
		v, ok := entry[key]
		if !ok {
			return "", fmt.Errorf("%w: item %d has no %q", ErrTeamDetails, i, key)
		}
		out = append(out, literalString(v))
	}
	return strings.Join(out, ","), nil
}

// ParseTeamShare reads a team share such as "Team A - $67.64" into cents.
// Values containing a comma describe several teams and are skipped: ok is
// false and no error is reported.
func ParseTeamShare(raw string) (cents int64, ok bool, err error) {
	raw = strings.TrimSpace(raw)
	if raw == "" || strings.Contains(raw, ",") {
		return 0, false, nil
	}
	amount := raw
	if strings.Contains(raw, "-") {
		parts := strings.Split(raw, " - ")
		amount = parts[len(parts)-1]
	}
	cents, err = DollarStringToCents(amount)
	if err != nil {
		return 0, false, err
	}
	return cents, true, nil
}

// fixSingleQuotes rewrites '...' spans whose quotes are not flanked by word
// characters into double-quoted strings, so apostrophes inside names such as
// 'Irene's Team' survive a second parse.
func fixSingleQuotes(s string) string {
	rs := []rune(s)
	var b strings.Builder
	for i := 0; i < len(rs); i++ {
		if rs[i] == '\'' && (i == 0 || !isWordRune(rs[i-1])) {
			if end := closingQuote(rs, i+1); end >= 0 {
				b.WriteRune('"')
				b.WriteString(string(rs[i+1 : end]))
				b.WriteRune('"')
				i = end
				continue
			}
		}
		b.WriteRune(rs[i])
	}
	return b.String()
}

func closingQuote(rs []rune, from int) int {
	for j := from; j < len(rs); j++ {
		if rs[j] == '\n' {
			return -1
		}
		if rs[j] == '\'' && (j+1 == len(rs) || !isWordRune(rs[j+1])) {
			return j
		}
	}
	return -1
}

func isWordRune(r rune) bool {
	return r == '_' || unicode.IsLetter(r) || unicode.IsDigit(r)
}

// literalString renders a parsed literal the way str() would.
func literalString(v any) string {
	switch x := v.(type) {
	case nil:
		return "None"
	case bool:
		if x {
			return "True"
		}
		return "False"
	case string:
		return x
	case number:
		return string(x)
	default:
		return fmt.Sprint(x)
	}
}

// number keeps a numeric literal's source text.
type number string

// parseLiteral parses the subset of Python literal syntax the upstream emits:
// lists, tuples, dicts, quoted strings, numbers, True, False and None. JSON
// keywords are accepted too, so an already-decoded JSON list reads the same.
func parseLiteral(s string) (any, error) {
	p := &literalParser{src: []rune(s)}
	v, err := p.value()
	if err != nil {
		return nil, err
	}
	p.skipSpace()
	if p.pos != len(p.src) {
		return nil, p.errorf("unexpected trailing input")
	}
	return v, nil
}

type literalParser struct {
	src []rune
	pos int
}

func (p *literalParser) errorf(format string, args ...any) error {
	return fmt.Errorf("literal at offset %d: %s", p.pos, fmt.Sprintf(format, args...))
}

func (p *literalParser) skipSpace() {
	for p.pos < len(p.src) && unicode.IsSpace(p.src[p.pos]) {
		p.pos++
	}
}

func (p *literalParser) peek() (rune, bool) {
	p.skipSpace()
	if p.pos >= len(p.src) {
		return 0, false
	}
	return p.src[p.pos], true
}

func (p *literalParser) value() (any, error) {
	r, ok := p.peek()
	if !ok {
		return nil, p.errorf("unexpected end of input")
	}
	switch {
	case r == '[':
		return p.sequence('[', ']')
	case r == '(':
		return p.sequence('(', ')')
	case r == '{':
		return p.dict()
	case r == '\'' || r == '"':
		return p.str()
	case (r == 'u' || r == 'U' || r == 'r' || r == 'R') && p.pos+1 < len(p.src) && (p.src[p.pos+1] == '\'' || p.src[p.pos+1] == '"'):
		p.pos++ // prefix
		return p.str()
	case r == '-' || r == '+' || unicode.IsDigit(r):
		return p.number()
	case unicode.IsLetter(r):
		return p.keyword()
	}
	return nil, p.errorf("unexpected %q", r)
}

func (p *literalParser) sequence(open, close rune) (any, error) {
	p.pos++ // open
	items := []any{}
	for {
		r, ok := p.peek()
		if !ok {
			return nil, p.errorf("unterminated %q", open)
		}
		if r == close {
			p.pos++
			return items, nil
		}
		v, err := p.value()
		if err != nil {
			return nil, err
		}
		items = append(items, v)
		if err := p.separator(close); err != nil {
			return nil, err
		}
	}
}

func (p *literalParser) dict() (any, error) {
	p.pos++ // {
	out := map[string]any{}
	for {
		r, ok := p.peek()
		if !ok {
			return nil, p.errorf("unterminated dict")
		}
		if r == '}' {
			p.pos++
			return out, nil
		}
		k, err := p.value()
		if err != nil {
			return nil, err
		}
		if r, ok := p.peek(); !ok || r != ':' {
			return nil, p.errorf("expected ':'")
		}
		p.pos++
		v, err := p.value()
		if err != nil {
			return nil, err
		}
		out[literalString(k)] = v
		if err := p.separator('}'); err != nil {
			return nil, err
		}
	}
}

// separator consumes a comma or leaves the closing bracket for the caller.
func (p *literalParser) separator(close rune) error {
	r, ok := p.peek()
	switch {
	case !ok:
		return p.errorf("unterminated container")
	case r == ',':
		p.pos++
		return nil
	case r == close:
		return nil
	}
	return p.errorf("expected ',' or %q, got %q", close, r)
}

func (p *literalParser) str() (string, error) {
	quote := p.src[p.pos]
	p.pos++
	var b strings.Builder
	for p.pos < len(p.src) {
		r := p.src[p.pos]
		switch {
		case r == quote:
			p.pos++
			return b.String(), nil
		case r == '\n':
			return "", p.errorf("newline in string")
		case r == '\\' && p.pos+1 < len(p.src):
			p.pos++
			switch esc := p.src[p.pos]; esc {
			case 'n':
				b.WriteRune('\n')
			case 't':
				b.WriteRune('\t')
			case '\\', '\'', '"':
				b.WriteRune(esc)
			default:
				b.WriteRune('\\')
				b.WriteRune(esc)
			}
		default:
			b.WriteRune(r)
		}
		p.pos++
	}
	return "", p.errorf("unterminated string")
}

func (p *literalParser) number() (any, error) {
	start := p.pos
	if r := p.src[p.pos]; r == '-' || r == '+' {
		p.pos++
	}
	for p.pos < len(p.src) {
		r := p.src[p.pos]
		if !unicode.IsDigit(r) && r != '.' && r != 'e' && r != 'E' && r != '_' {
			break
		}
		p.pos++
	}
	text := strings.ReplaceAll(string(p.src[start:p.pos]), "_", "")
	if _, err := strconv.ParseFloat(text, 64); err != nil {
		return nil, p.errorf("invalid number %q", text)
	}
	return number(text), nil
}

func (p *literalParser) keyword() (any, error) {
	start := p.pos
	for p.pos < len(p.src) && isWordRune(p.src[p.pos]) {
		p.pos++
	}
	switch word := string(p.src[start:p.pos]); word {
	case "True", "true":
		return true, nil
	case "False", "false":
		return false, nil
	case "None", "null":
		return nil, nil
	default:
		p.pos = start
		return nil, p.errorf("unknown name %q", word)
	}
}
