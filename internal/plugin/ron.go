package plugin

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"
)

// ErrSyntax is returned for payloads outside the supported RON subset.
var ErrSyntax = errors.New("ron syntax error")

// Value is a decoded RON value: Str, Num, Bool, List, Map or Struct.
type Value interface {
	ron() string
}

// Str is a RON string.
type Str string

// Num is a RON integer or float.
type Num float64

// Bool is a RON boolean.
type Bool bool

// List is a RON sequence.
type List []Value

// Map is a RON map with string keys.
type Map map[string]Value

// Struct covers named and anonymous structs, tuple variants and unit
// variants. Fields holds `name: value` pairs, Tuple positional values.
type Struct struct {
	Name   string
	Fields map[string]Value
	Tuple  []Value
}

func (s Str) ron() string  { return quote(string(s)) }
func (n Num) ron() string  { return strconv.FormatFloat(float64(n), 'g', -1, 64) }
func (b Bool) ron() string { return strconv.FormatBool(bool(b)) }

func (l List) ron() string {
	parts := make([]string, len(l))
	for i, v := range l {
		parts[i] = v.ron()
	}
	return "[" + strings.Join(parts, ", ") + "]"
}

func (m Map) ron() string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = quote(k) + ": " + m[k].ron()
	}
	return "{" + strings.Join(parts, ", ") + "}"
}

func (s Struct) ron() string {
	switch {
	case len(s.Fields) > 0:
		keys := make([]string, 0, len(s.Fields))
		for k := range s.Fields {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		parts := make([]string, len(keys))
		for i, k := range keys {
			parts[i] = k + ": " + s.Fields[k].ron()
		}
		return s.Name + "(" + strings.Join(parts, ", ") + ")"
	case len(s.Tuple) > 0:
		parts := make([]string, len(s.Tuple))
		for i, v := range s.Tuple {
			parts[i] = v.ron()
		}
		return s.Name + "(" + strings.Join(parts, ", ") + ")"
	default:
		return s.Name
	}
}

// Encode renders v as RON text.
func Encode(v Value) string {
	return v.ron()
}

func quote(s string) string {
	var b strings.Builder
	b.WriteByte('"')
	for _, r := range s {
		switch r {
		case '"':
			b.WriteString(`\"`)
		case '\\':
			b.WriteString(`\\`)
		case '\n':
			b.WriteString(`\n`)
		case '\r':
			b.WriteString(`\r`)
		case '\t':
			b.WriteString(`\t`)
		default:
			b.WriteRune(r)
		}
	}
	b.WriteByte('"')
	return b.String()
}

// Decode parses one RON value. Trailing input other than whitespace and
// comments is an error.
func Decode(input string) (Value, error) {
	p := &ronParser{src: input}
	v, err := p.value()
	if err != nil {
		return nil, err
	}
	p.skip()
	if p.pos < len(p.src) {
		return nil, p.errorf("unexpected trailing input")
	}
	return v, nil
}

type ronParser struct {
	src string
	pos int
}

func (p *ronParser) errorf(format string, args ...any) error {
	return fmt.Errorf("%w at offset %d: %s", ErrSyntax, p.pos, fmt.Sprintf(format, args...))
}

func (p *ronParser) skip() {
	for p.pos < len(p.src) {
		switch {
		case strings.HasPrefix(p.src[p.pos:], "//"):
			end := strings.IndexByte(p.src[p.pos:], '\n')
			if end < 0 {
				p.pos = len(p.src)
				return
			}
			p.pos += end + 1
		case strings.HasPrefix(p.src[p.pos:], "/*"):
			end := strings.Index(p.src[p.pos+2:], "*/")
			if end < 0 {
				p.pos = len(p.src)
				return
			}
			p.pos += end + 4
		default:
			r, size := utf8.DecodeRuneInString(p.src[p.pos:])
			if !unicode.IsSpace(r) {
				return
			}
			p.pos += size
		}
	}
}

func (p *ronParser) peek() byte {
	p.skip()
	if p.pos >= len(p.src) {
		return 0
	}
	return p.src[p.pos]
}

func (p *ronParser) expect(c byte) error {
	if p.peek() != c {
		return p.errorf("expected %q", c)
	}
	p.pos++
	return nil
}

func (p *ronParser) value() (Value, error) {
	switch c := p.peek(); {
	case c == 0:
		return nil, p.errorf("unexpected end of input")
	case c == '"':
		s, err := p.str()
		return Str(s), err
	case c == '[':
		return p.list()
	case c == '{':
		return p.mapValue()
	case c == '(':
		return p.structBody("")
	case c == '-' || c == '+' || (c >= '0' && c <= '9'):
		return p.number()
	case isIdentStart(c):
		name := p.ident()
		switch name {
		case "true":
			return Bool(true), nil
		case "false":
			return Bool(false), nil
		}
		if p.peek() == '(' {
			return p.structBody(name)
		}
		return Struct{Name: name}, nil
	default:
		return nil, p.errorf("unexpected character %q", c)
	}
}

func isIdentStart(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isIdentChar(c byte) bool {
	return isIdentStart(c) || (c >= '0' && c <= '9')
}

func (p *ronParser) ident() string {
	start := p.pos
	for p.pos < len(p.src) && isIdentChar(p.src[p.pos]) {
		p.pos++
	}
	return p.src[start:p.pos]
}

func (p *ronParser) number() (Value, error) {
	start := p.pos
	if c := p.src[p.pos]; c == '-' || c == '+' {
		p.pos++
	}
	for p.pos < len(p.src) && strings.IndexByte("0123456789._eE+-", p.src[p.pos]) >= 0 {
		p.pos++
	}
	text := strings.ReplaceAll(p.src[start:p.pos], "_", "")
	n, err := strconv.ParseFloat(text, 64)
	if err != nil {
		return nil, p.errorf("bad number %q", text)
	}
	return Num(n), nil
}

func (p *ronParser) str() (string, error) {
	p.pos++ // opening quote
	var b strings.Builder
	for p.pos < len(p.src) {
		c := p.src[p.pos]
		switch c {
		case '"':
			p.pos++
			return b.String(), nil
		case '\\':
			if p.pos+1 >= len(p.src) {
				return "", p.errorf("unterminated escape")
			}
			p.pos++
			switch esc := p.src[p.pos]; esc {
			case '"', '\\', '/':
				b.WriteByte(esc)
			case 'n':
				b.WriteByte('\n')
			case 'r':
				b.WriteByte('\r')
			case 't':
				b.WriteByte('\t')
			case '0':
				b.WriteByte(0)
			case 'u':
				r, err := p.unicodeEscape()
				if err != nil {
					return "", err
				}
				b.WriteRune(r)
				continue
			default:
				return "", p.errorf("unknown escape \\%c", esc)
			}
			p.pos++
		default:
			b.WriteByte(c)
			p.pos++
		}
	}
	return "", p.errorf("unterminated string")
}

// unicodeEscape reads \u{XXXX} or \uXXXX with pos on the 'u'.
func (p *ronParser) unicodeEscape() (rune, error) {
	p.pos++
	var hex string
	if p.pos < len(p.src) && p.src[p.pos] == '{' {
		end := strings.IndexByte(p.src[p.pos:], '}')
		if end < 0 {
			return 0, p.errorf("unterminated unicode escape")
		}
		hex = p.src[p.pos+1 : p.pos+end]
		p.pos += end + 1
	} else {
		if p.pos+4 > len(p.src) {
			return 0, p.errorf("short unicode escape")
		}
		hex = p.src[p.pos : p.pos+4]
		p.pos += 4
	}
	n, err := strconv.ParseUint(hex, 16, 32)
	if err != nil {
		return 0, p.errorf("bad unicode escape %q", hex)
	}
	return rune(n), nil
}

func (p *ronParser) list() (Value, error) {
	p.pos++
	out := List{}
	for {
		if p.peek() == ']' {
			p.pos++
			return out, nil
		}
		v, err := p.value()
		if err != nil {
			return nil, err
		}
		out = append(out, v)
		if p.peek() == ',' {
			p.pos++
			continue
		}
		if err := p.expect(']'); err != nil {
			return nil, err
		}
		return out, nil
	}
}

func (p *ronParser) mapValue() (Value, error) {
	p.pos++
	out := Map{}
	for {
		if p.peek() == '}' {
			p.pos++
			return out, nil
		}
		if p.peek() != '"' {
			return nil, p.errorf("map keys must be strings")
		}
		key, err := p.str()
		if err != nil {
			return nil, err
		}
		if err := p.expect(':'); err != nil {
			return nil, err
		}
		v, err := p.value()
		if err != nil {
			return nil, err
		}
		out[key] = v
		if p.peek() == ',' {
			p.pos++
			continue
		}
		if err := p.expect('}'); err != nil {
			return nil, err
		}
		return out, nil
	}
}

// structBody parses "(field: v, ...)" or "(v, ...)" after an optional name.
func (p *ronParser) structBody(name string) (Value, error) {
	if err := p.expect('('); err != nil {
		return nil, err
	}
	out := Struct{Name: name}
	for {
		if p.peek() == ')' {
			p.pos++
			return out, nil
		}
		if field, ok := p.fieldName(); ok {
			if len(out.Tuple) > 0 {
				return nil, p.errorf("mixed named and positional fields")
			}
			v, err := p.value()
			if err != nil {
				return nil, err
			}
			if out.Fields == nil {
				out.Fields = make(map[string]Value)
			}
			out.Fields[field] = v
		} else {
			if len(out.Fields) > 0 {
				return nil, p.errorf("mixed named and positional fields")
			}
			v, err := p.value()
			if err != nil {
				return nil, err
			}
			out.Tuple = append(out.Tuple, v)
		}
		if p.peek() == ',' {
			p.pos++
			continue
		}
		if err := p.expect(')'); err != nil {
			return nil, err
		}
		return out, nil
	}
}

// fieldName consumes "ident:" when present and leaves pos untouched
// otherwise.
func (p *ronParser) fieldName() (string, bool) {
	start := p.pos
	if !isIdentStart(p.peek()) {
		return "", false
	}
	name := p.ident()
	if p.peek() == ':' {
		p.pos++
		return name, true
	}
	p.pos = start
	return "", false
}

// Field returns a named field of a struct value.
func Field(v Value, name string) (Value, bool) {
	s, ok := v.(Struct)
	if !ok {
		return nil, false
	}
	f, ok := s.Fields[name]
	return f, ok
}

// Strings converts a List of Str into a string slice.
func Strings(v Value) ([]string, error) {
	list, ok := v.(List)
	if !ok {
		return nil, fmt.Errorf("expected list, got %T", v)
	}
	out := make([]string, 0, len(list))
	for _, item := range list {
		s, ok := item.(Str)
		if !ok {
			return nil, fmt.Errorf("expected string, got %T", item)
		}
		out = append(out, string(s))
	}
	return out, nil
}
