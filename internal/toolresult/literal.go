package toolresult

// literal.go — last-resort parser for Python-literal payloads.
//
// Accepts the subset of Python literal syntax that shows up in repr-ed tool
// output: dicts, lists, tuples, single- or double-quoted strings,
// True/False/None, integers and floats, and trailing commas. Tuples decode
// as lists; everything else maps onto the JSON value space.

import (
	"fmt"
	"strconv"
	"strings"
)

type literalParser struct {
	s   string
	pos int
}

func parseLiteral(s string) (interface{}, error) {
	p := &literalParser{s: s}
	p.skipSpace()
	v, err := p.value()
	if err != nil {
		return nil, err
	}
	p.skipSpace()
	if p.pos != len(p.s) {
		return nil, fmt.Errorf("trailing data at offset %d", p.pos)
	}
	return v, nil
}

func (p *literalParser) value() (interface{}, error) {
	if p.pos >= len(p.s) {
		return nil, fmt.Errorf("unexpected end of input")
	}
	switch c := p.s[p.pos]; {
	case c == '{':
		return p.dict()
	case c == '[':
		return p.list(']')
	case c == '(':
		return p.list(')')
	case c == '\'' || c == '"':
		return p.str()
	case c == '-' || c == '+' || (c >= '0' && c <= '9'):
		return p.number()
	default:
		return p.keyword()
	}
}

func (p *literalParser) dict() (interface{}, error) {
	p.pos++ // consume '{'
	m := make(map[string]interface{})
	p.skipSpace()
	if p.pos < len(p.s) && p.s[p.pos] == '}' {
		p.pos++
		return m, nil
	}
	for {
		p.skipSpace()
		key, err := p.value()
		if err != nil {
			return nil, err
		}
		ks, ok := key.(string)
		if !ok {
			// Non-string keys (ints etc.) are stringified; JSON objects
			// require string keys anyway.
			ks = fmt.Sprintf("%v", key)
		}
		p.skipSpace()
		if err := p.expect(':'); err != nil {
			return nil, err
		}
		p.skipSpace()
		val, err := p.value()
		if err != nil {
			return nil, err
		}
		m[ks] = val
		p.skipSpace()
		if p.pos >= len(p.s) {
			return nil, fmt.Errorf("unterminated dict")
		}
		switch p.s[p.pos] {
		case ',':
			p.pos++
			p.skipSpace()
			if p.pos < len(p.s) && p.s[p.pos] == '}' { // trailing comma
				p.pos++
				return m, nil
			}
		case '}':
			p.pos++
			return m, nil
		default:
			return nil, fmt.Errorf("expected ',' or '}' at offset %d", p.pos)
		}
	}
}

func (p *literalParser) list(close byte) (interface{}, error) {
	p.pos++ // consume opener
	items := []interface{}{}
	p.skipSpace()
	if p.pos < len(p.s) && p.s[p.pos] == close {
		p.pos++
		return items, nil
	}
	for {
		p.skipSpace()
		v, err := p.value()
		if err != nil {
			return nil, err
		}
		items = append(items, v)
		p.skipSpace()
		if p.pos >= len(p.s) {
			return nil, fmt.Errorf("unterminated sequence")
		}
		switch p.s[p.pos] {
		case ',':
			p.pos++
			p.skipSpace()
			if p.pos < len(p.s) && p.s[p.pos] == close { // trailing comma
				p.pos++
				return items, nil
			}
		case close:
			p.pos++
			return items, nil
		default:
			return nil, fmt.Errorf("expected ',' or %q at offset %d", close, p.pos)
		}
	}
}

func (p *literalParser) str() (interface{}, error) {
	quote := p.s[p.pos]
	p.pos++
	var b strings.Builder
	for p.pos < len(p.s) {
		c := p.s[p.pos]
		if c == '\\' {
			if p.pos+1 >= len(p.s) {
				return nil, fmt.Errorf("unterminated escape")
			}
			p.pos++
			switch e := p.s[p.pos]; e {
			case 'n':
				b.WriteByte('\n')
			case 't':
				b.WriteByte('\t')
			case 'r':
				b.WriteByte('\r')
			case '\\', '\'', '"':
				b.WriteByte(e)
			default:
				b.WriteByte('\\')
				b.WriteByte(e)
			}
			p.pos++
			continue
		}
		if c == quote {
			p.pos++
			return b.String(), nil
		}
		b.WriteByte(c)
		p.pos++
	}
	return nil, fmt.Errorf("unterminated string")
}

func (p *literalParser) number() (interface{}, error) {
	start := p.pos
	if p.s[p.pos] == '-' || p.s[p.pos] == '+' {
		p.pos++
	}
	isFloat := false
	for p.pos < len(p.s) {
		c := p.s[p.pos]
		if c >= '0' && c <= '9' {
			p.pos++
			continue
		}
		if c == '.' || c == 'e' || c == 'E' {
			isFloat = true
			p.pos++
			continue
		}
		if (c == '-' || c == '+') && isFloat {
			p.pos++
			continue
		}
		break
	}
	tok := p.s[start:p.pos]
	if isFloat {
		f, err := strconv.ParseFloat(tok, 64)
		if err != nil {
			return nil, fmt.Errorf("bad number %q", tok)
		}
		return f, nil
	}
	// Integers decode as float64 to match encoding/json behaviour, so
	// callers see one numeric type regardless of which parser succeeded.
	n, err := strconv.ParseInt(tok, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("bad number %q", tok)
	}
	return float64(n), nil
}

func (p *literalParser) keyword() (interface{}, error) {
	start := p.pos
	for p.pos < len(p.s) && isIdentPart(p.s[p.pos]) {
		p.pos++
	}
	switch p.s[start:p.pos] {
	case "True", "true":
		return true, nil
	case "False", "false":
		return false, nil
	case "None", "null":
		return nil, nil
	default:
		return nil, fmt.Errorf("unknown token %q at offset %d", p.s[start:p.pos], start)
	}
}

func (p *literalParser) expect(c byte) error {
	if p.pos >= len(p.s) || p.s[p.pos] != c {
		return fmt.Errorf("expected %q at offset %d", c, p.pos)
	}
	p.pos++
	return nil
}

func (p *literalParser) skipSpace() {
	for p.pos < len(p.s) {
		switch p.s[p.pos] {
		case ' ', '\t', '\n', '\r':
			p.pos++
		default:
			return
		}
	}
}
