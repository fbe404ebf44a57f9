package builtin

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"
)

// parsePythonLiteral evaluates a Python literal expression: dicts, lists,
// tuples, strings, numbers, booleans and None. Nothing else parses, so
// session state smuggled back from a sandbox can never reach an
// interpreter. Dicts map to map[string]any (non-string keys are rejected),
// tuples to []any, None to nil.
func parsePythonLiteral(s string) (any, error) {
	p := &literalParser{input: s}
	p.skipSpace()
	value, err := p.parseValue()
	if err != nil {
		return nil, err
	}
	p.skipSpace()
	if p.pos != len(p.input) {
		return nil, fmt.Errorf("trailing characters at offset %d", p.pos)
	}
	return value, nil
}

type literalParser struct {
	input string
	pos   int
}

func (p *literalParser) parseValue() (any, error) {
	if p.pos >= len(p.input) {
		return nil, fmt.Errorf("unexpected end of literal")
	}
	switch c := p.input[p.pos]; {
	case c == '{':
		return p.parseDict()
	case c == '[':
		return p.parseSequence('[', ']')
	case c == '(':
		return p.parseSequence('(', ')')
	case c == '\'' || c == '"':
		return p.parseString()
	case c == '-' || c == '+' || c >= '0' && c <= '9':
		return p.parseNumber()
	default:
		return p.parseKeyword()
	}
}

func (p *literalParser) parseDict() (any, error) {
	p.pos++ // consume '{'
	out := make(map[string]any)
	p.skipSpace()
	if p.peek() == '}' {
		p.pos++
		return out, nil
	}
	for {
		p.skipSpace()
		key, err := p.parseValue()
		if err != nil {
			return nil, err
		}
		keyStr, ok := key.(string)
		if !ok {
			return nil, fmt.Errorf("dict key %v is not a string", key)
		}
		p.skipSpace()
		if p.peek() != ':' {
			return nil, fmt.Errorf("expected ':' at offset %d", p.pos)
		}
		p.pos++
		p.skipSpace()
		value, err := p.parseValue()
		if err != nil {
			return nil, err
		}
		out[keyStr] = value

		p.skipSpace()
		switch p.peek() {
		case ',':
			p.pos++
			p.skipSpace()
			if p.peek() == '}' {
				p.pos++
				return out, nil
			}
		case '}':
			p.pos++
			return out, nil
		default:
			return nil, fmt.Errorf("expected ',' or '}' at offset %d", p.pos)
		}
	}
}

func (p *literalParser) parseSequence(open, close byte) (any, error) {
	p.pos++ // consume opener
	out := []any{}
	p.skipSpace()
	if p.peek() == close {
		p.pos++
		return out, nil
	}
	for {
		p.skipSpace()
		value, err := p.parseValue()
		if err != nil {
			return nil, err
		}
		out = append(out, value)

		p.skipSpace()
		switch p.peek() {
		case ',':
			p.pos++
			p.skipSpace()
			if p.peek() == close {
				p.pos++
				return out, nil
			}
		case close:
			p.pos++
			return out, nil
		default:
			return nil, fmt.Errorf("expected ',' or %q at offset %d", close, p.pos)
		}
	}
}

func (p *literalParser) parseString() (any, error) {
	quote := p.input[p.pos]
	p.pos++
	var sb strings.Builder
	for p.pos < len(p.input) {
		c := p.input[p.pos]
		switch c {
		case quote:
			p.pos++
			return sb.String(), nil
		case '\\':
			p.pos++
			if p.pos >= len(p.input) {
				return nil, fmt.Errorf("unterminated escape")
			}
			switch e := p.input[p.pos]; e {
			case 'n':
				sb.WriteByte('\n')
			case 't':
				sb.WriteByte('\t')
			case 'r':
				sb.WriteByte('\r')
			case '\\', '\'', '"':
				sb.WriteByte(e)
			case 'u':
				if p.pos+4 >= len(p.input) {
					return nil, fmt.Errorf("truncated unicode escape")
				}
				code, err := strconv.ParseUint(p.input[p.pos+1:p.pos+5], 16, 32)
				if err != nil {
					return nil, fmt.Errorf("invalid unicode escape")
				}
				sb.WriteRune(rune(code))
				p.pos += 4
			default:
				return nil, fmt.Errorf("unsupported escape \\%c", e)
			}
			p.pos++
		default:
			sb.WriteByte(c)
			p.pos++
		}
	}
	return nil, fmt.Errorf("unterminated string")
}

func (p *literalParser) parseNumber() (any, error) {
	start := p.pos
	if c := p.peek(); c == '-' || c == '+' {
		p.pos++
	}
	isFloat := false
	for p.pos < len(p.input) {
		c := p.input[p.pos]
		if c >= '0' && c <= '9' {
			p.pos++
		} else if c == '.' || c == 'e' || c == 'E' {
			isFloat = true
			p.pos++
			if c != '.' && p.pos < len(p.input) && (p.input[p.pos] == '-' || p.input[p.pos] == '+') {
				p.pos++
			}
		} else {
			break
		}
	}
	text := p.input[start:p.pos]
	if isFloat {
		f, err := strconv.ParseFloat(text, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid number %q", text)
		}
		return f, nil
	}
	n, err := strconv.ParseInt(text, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid number %q", text)
	}
	return n, nil
}

func (p *literalParser) parseKeyword() (any, error) {
	start := p.pos
	for p.pos < len(p.input) && unicode.IsLetter(rune(p.input[p.pos])) {
		p.pos++
	}
	switch p.input[start:p.pos] {
	case "None":
		return nil, nil
	case "True":
		return true, nil
	case "False":
		return false, nil
	}
	return nil, fmt.Errorf("unexpected token %q at offset %d", p.input[start:p.pos], start)
}

func (p *literalParser) peek() byte {
	if p.pos >= len(p.input) {
		return 0
	}
	return p.input[p.pos]
}

func (p *literalParser) skipSpace() {
	for p.pos < len(p.input) {
		switch p.input[p.pos] {
		case ' ', '\t', '\n', '\r':
			p.pos++
		default:
			return
		}
	}
}
