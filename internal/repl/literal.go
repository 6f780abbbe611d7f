package repl

import (
	"fmt"
	"strconv"
	"strings"
)

// Kind tags a decoded literal value.
type Kind int

const (
	KindNone Kind = iota
	KindBool
	KindInt
	KindStr
	KindBytes
	KindList
	KindTuple
)

func (k Kind) String() string {
	switch k {
	case KindNone:
		return "None"
	case KindBool:
		return "bool"
	case KindInt:
		return "int"
	case KindStr:
		return "str"
	case KindBytes:
		return "bytes"
	case KindList:
		return "list"
	case KindTuple:
		return "tuple"
	}
	return "unknown"
}

// Value is a decoded Python literal: the de facto wire format for results
// printed by the remote prompt. Only the field matching Kind is meaningful.
type Value struct {
	Kind  Kind
	Bool  bool
	Int   int64
	Str   string
	Bytes []byte
	Items []Value
}

// DecodeError reports text that did not parse as a literal of the closed
// grammar. It indicates a protocol or version mismatch, not a remote fault.
type DecodeError struct {
	Text   string
	Reason string
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("cannot decode %q as a literal: %s", e.Text, e.Reason)
}

// Parse decodes the textual repr of a value printed by the device. The
// grammar covers signed integers, str/bytes literals, True/False/None, and
// arbitrarily nested lists and tuples.
func Parse(text string) (Value, error) {
	p := &litParser{src: text}
	p.skipSpace()
	v, err := p.value()
	if err != nil {
		return Value{}, err
	}
	p.skipSpace()
	if p.pos != len(p.src) {
		return Value{}, p.fail("trailing data after literal")
	}
	return v, nil
}

type litParser struct {
	src string
	pos int
}

func (p *litParser) fail(reason string) error {
	return &DecodeError{Text: p.src, Reason: reason}
}

func (p *litParser) skipSpace() {
	for p.pos < len(p.src) {
		switch p.src[p.pos] {
		case ' ', '\t', '\r', '\n':
			p.pos++
		default:
			return
		}
	}
}

func (p *litParser) peek() byte {
	if p.pos >= len(p.src) {
		return 0
	}
	return p.src[p.pos]
}

func (p *litParser) literal(word string) bool {
	if strings.HasPrefix(p.src[p.pos:], word) {
		p.pos += len(word)
		return true
	}
	return false
}

func (p *litParser) value() (Value, error) {
	p.skipSpace()
	switch c := p.peek(); {
	case c == 0:
		return Value{}, p.fail("unexpected end of input")
	case p.literal("None"):
		return Value{Kind: KindNone}, nil
	case p.literal("True"):
		return Value{Kind: KindBool, Bool: true}, nil
	case p.literal("False"):
		return Value{Kind: KindBool, Bool: false}, nil
	case c == '\'' || c == '"':
		s, err := p.str(c)
		if err != nil {
			return Value{}, err
		}
		return Value{Kind: KindStr, Str: s}, nil
	case c == 'b':
		p.pos++
		q := p.peek()
		if q != '\'' && q != '"' {
			return Value{}, p.fail("expected quote after b prefix")
		}
		s, err := p.str(q)
		if err != nil {
			return Value{}, err
		}
		return Value{Kind: KindBytes, Bytes: []byte(s)}, nil
	case c == '(':
		return p.sequence(')', KindTuple)
	case c == '[':
		return p.sequence(']', KindList)
	case c == '-' || c == '+' || (c >= '0' && c <= '9'):
		return p.number()
	default:
		return Value{}, p.fail(fmt.Sprintf("unexpected character %q", c))
	}
}

func (p *litParser) number() (Value, error) {
	start := p.pos
	if c := p.peek(); c == '-' || c == '+' {
		p.pos++
	}
	digits := 0
	for p.pos < len(p.src) && p.src[p.pos] >= '0' && p.src[p.pos] <= '9' {
		p.pos++
		digits++
	}
	if digits == 0 {
		return Value{}, p.fail("malformed number")
	}
	n, err := strconv.ParseInt(p.src[start:p.pos], 10, 64)
	if err != nil {
		return Value{}, p.fail(err.Error())
	}
	return Value{Kind: KindInt, Int: n}, nil
}

func (p *litParser) str(quote byte) (string, error) {
	p.pos++ // opening quote
	var out strings.Builder
	for {
		if p.pos >= len(p.src) {
			return "", p.fail("unterminated string literal")
		}
		c := p.src[p.pos]
		p.pos++
		switch {
		case c == quote:
			return out.String(), nil
		case c == '\\':
			if p.pos >= len(p.src) {
				return "", p.fail("unterminated escape")
			}
			e := p.src[p.pos]
			p.pos++
			switch e {
			case 'n':
				out.WriteByte('\n')
			case 'r':
				out.WriteByte('\r')
			case 't':
				out.WriteByte('\t')
			case '0':
				out.WriteByte(0)
			case '\\', '\'', '"':
				out.WriteByte(e)
			case 'x':
				if p.pos+2 > len(p.src) {
					return "", p.fail("truncated \\x escape")
				}
				n, err := strconv.ParseUint(p.src[p.pos:p.pos+2], 16, 8)
				if err != nil {
					return "", p.fail("malformed \\x escape")
				}
				p.pos += 2
				out.WriteByte(byte(n))
			default:
				return "", p.fail(fmt.Sprintf("unsupported escape \\%c", e))
			}
		default:
			out.WriteByte(c)
		}
	}
}

func (p *litParser) sequence(closing byte, kind Kind) (Value, error) {
	p.pos++ // opening bracket
	items := []Value{}
	for {
		p.skipSpace()
		if p.peek() == closing {
			p.pos++
			return Value{Kind: kind, Items: items}, nil
		}
		v, err := p.value()
		if err != nil {
			return Value{}, err
		}
		items = append(items, v)
		p.skipSpace()
		switch p.peek() {
		case ',':
			p.pos++
		case closing:
			p.pos++
			return Value{Kind: kind, Items: items}, nil
		default:
			return Value{}, p.fail("expected comma or closing bracket")
		}
	}
}

// Quote renders s as a single-quoted Python string literal, the serializer
// half of the wire format. Remote snippets embed paths through this.
func Quote(s string) string {
	var out strings.Builder
	out.WriteByte('\'')
	for i := 0; i < len(s); i++ {
		writeQuotedByte(&out, s[i])
	}
	out.WriteByte('\'')
	return out.String()
}

// QuoteBytes renders b as a Python bytes literal (b'...').
func QuoteBytes(b []byte) string {
	var out strings.Builder
	out.WriteString("b'")
	for _, c := range b {
		writeQuotedByte(&out, c)
	}
	out.WriteByte('\'')
	return out.String()
}

func writeQuotedByte(out *strings.Builder, c byte) {
	switch {
	case c == '\'' || c == '\\':
		out.WriteByte('\\')
		out.WriteByte(c)
	case c == '\n':
		out.WriteString(`\n`)
	case c == '\r':
		out.WriteString(`\r`)
	case c == '\t':
		out.WriteString(`\t`)
	case c < 0x20 || c >= 0x7f:
		fmt.Fprintf(out, `\x%02x`, c)
	default:
		out.WriteByte(c)
	}
}
