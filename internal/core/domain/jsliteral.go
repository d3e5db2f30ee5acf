package domain

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"unicode/utf8"
)

var errNotStringLiteral = errors.New("array element is not a string literal")

// parseStringArray reads an array literal whose elements are all quoted string literals
// ('single', "double" or `template` without substitutions). A trailing comma is accepted.
func parseStringArray(src string) ([]string, error) {
	s := &literalScanner{src: src}

	s.skipSpace()
	if !s.consume('[') {
		return nil, fmt.Errorf("expected '[' at offset %d", s.pos)
	}

	out := []string{}
	for {
		s.skipSpace()
		if s.consume(']') {
			break
		}

		str, err := s.readString()
		if err != nil {
			return nil, err
		}
		out = append(out, str)

		s.skipSpace()
		if s.consume(',') {
			continue
		}
		if s.consume(']') {
			break
		}
		return nil, fmt.Errorf("expected ',' or ']' at offset %d", s.pos)
	}

	s.skipSpace()
	if s.pos != len(s.src) {
		return nil, fmt.Errorf("trailing input at offset %d", s.pos)
	}
	return out, nil
}

// formatStringArray renders strings as a double-quoted array literal that any JS
// engine (and any JSON parser) accepts.
func formatStringArray(items []string) string {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(items); err != nil {
		// []string always encodes
		return "[]"
	}
	return strings.TrimSuffix(buf.String(), "\n")
}

type literalScanner struct {
	src string
	pos int
}

func (s *literalScanner) skipSpace() {
	for s.pos < len(s.src) {
		switch s.src[s.pos] {
		case ' ', '\t', '\n', '\r', '\v', '\f':
			s.pos++
		default:
			return
		}
	}
}

func (s *literalScanner) consume(c byte) bool {
	if s.pos < len(s.src) && s.src[s.pos] == c {
		s.pos++
		return true
	}
	return false
}

func (s *literalScanner) readString() (string, error) {
	if s.pos >= len(s.src) {
		return "", fmt.Errorf("unexpected end of input")
	}
	quote := s.src[s.pos]
	if quote != '\'' && quote != '"' && quote != '`' {
		return "", fmt.Errorf("%w at offset %d", errNotStringLiteral, s.pos)
	}
	s.pos++

	var sb strings.Builder
	for s.pos < len(s.src) {
		c := s.src[s.pos]
		switch {
		case c == quote:
			s.pos++
			return sb.String(), nil
		case c == '\\':
			if err := s.readEscape(&sb); err != nil {
				return "", err
			}
		case quote == '`' && c == '$' && strings.HasPrefix(s.src[s.pos:], "${"):
			return "", fmt.Errorf("template substitution at offset %d", s.pos)
		case (c == '\n' || c == '\r') && quote != '`':
			return "", fmt.Errorf("unterminated string at offset %d", s.pos)
		default:
			r, size := utf8.DecodeRuneInString(s.src[s.pos:])
			sb.WriteRune(r)
			s.pos += size
		}
	}
	return "", fmt.Errorf("unterminated string literal")
}

func (s *literalScanner) readEscape(sb *strings.Builder) error {
	s.pos++ // backslash
	if s.pos >= len(s.src) {
		return fmt.Errorf("dangling escape")
	}
	c := s.src[s.pos]
	s.pos++

	switch c {
	case 'n':
		sb.WriteByte('\n')
	case 't':
		sb.WriteByte('\t')
	case 'r':
		sb.WriteByte('\r')
	case 'b':
		sb.WriteByte('\b')
	case 'f':
		sb.WriteByte('\f')
	case 'v':
		sb.WriteByte('\v')
	case '0':
		sb.WriteByte(0)
	case '\n':
		// line continuation
	case '\r':
		s.consume('\n')
	case 'x':
		v, err := s.readHex(2)
		if err != nil {
			return err
		}
		sb.WriteRune(rune(v))
	case 'u':
		if s.consume('{') {
			end := strings.IndexByte(s.src[s.pos:], '}')
			if end <= 0 {
				return fmt.Errorf("malformed unicode escape at offset %d", s.pos)
			}
			v, err := strconv.ParseUint(s.src[s.pos:s.pos+end], 16, 32)
			if err != nil || v > utf8.MaxRune {
				return fmt.Errorf("malformed unicode escape at offset %d", s.pos)
			}
			s.pos += end + 1
			sb.WriteRune(rune(v))
			return nil
		}
		v, err := s.readHex(4)
		if err != nil {
			return err
		}
		sb.WriteRune(rune(v))
	default:
		// \' \" \\ \` and identity escapes
		s.pos--
		r, size := utf8.DecodeRuneInString(s.src[s.pos:])
		sb.WriteRune(r)
		s.pos += size
	}
	return nil
}

func (s *literalScanner) readHex(n int) (uint64, error) {
	if s.pos+n > len(s.src) {
		return 0, fmt.Errorf("short hex escape at offset %d", s.pos)
	}
	v, err := strconv.ParseUint(s.src[s.pos:s.pos+n], 16, 32)
	if err != nil {
		return 0, fmt.Errorf("malformed hex escape at offset %d: %w", s.pos, err)
	}
	s.pos += n
	return v, nil
}
