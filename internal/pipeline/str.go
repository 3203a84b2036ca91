package pipeline

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/spf13/cast"
)

// Str is the fluent string built by the "Str" step. Methods that transform
// the text return a new Str; toString unwraps it.
type Str struct {
	s string
}

func newStr(args ...any) (any, error) {
	s, err := toText(argOr(args, 0, nil))
	if err != nil {
		return nil, fmt.Errorf("str: %w", err)
	}
	return &Str{s: s}, nil
}

func (s *Str) String() string { return s.s }

// MarshalJSON encodes the wrapped text as a JSON string.
func (s *Str) MarshalJSON() ([]byte, error) {
	return []byte(strconv.Quote(s.s)), nil
}

// CallMethod implements Object.
func (s *Str) CallMethod(name string, args ...any) (any, error) {
	text := func(i int, fallback string) string {
		return cast.ToString(argOr(args, i, fallback))
	}

	switch name {
	case "upper":
		return &Str{s: strings.ToUpper(s.s)}, nil
	case "lower":
		return &Str{s: strings.ToLower(s.s)}, nil
	case "trim":
		return &Str{s: strings.Trim(s.s, text(0, phpSpace))}, nil
	case "title":
		return &Str{s: upperWords(strings.ToLower(s.s))}, nil
	case "ucfirst":
		return &Str{s: upperFirst(s.s)}, nil
	case "replace":
		if err := arity("replace", args, 2); err != nil {
			return nil, err
		}
		return &Str{s: strings.ReplaceAll(s.s, text(0, ""), text(1, ""))}, nil
	case "append":
		return &Str{s: s.s + joinArgs(args)}, nil
	case "prepend":
		return &Str{s: joinArgs(args) + s.s}, nil
	case "limit":
		n, err := cast.ToIntE(argOr(args, 0, 100))
		if err != nil {
			return nil, fmt.Errorf("limit: %w", err)
		}
		return &Str{s: limit(s.s, n, text(1, "..."))}, nil
	case "slug":
		return &Str{s: slug(s.s, text(0, "-"))}, nil
	case "length":
		return utf8.RuneCountInString(s.s), nil
	case "toString":
		return s.s, nil
	}
	return nil, &UnknownMethodError{Type: "Str", Method: name}
}

func joinArgs(args []any) string {
	var b strings.Builder
	for _, a := range args {
		b.WriteString(cast.ToString(a))
	}
	return b.String()
}

func limit(s string, n int, end string) string {
	rs := []rune(s)
	if n < 0 || len(rs) <= n {
		return s
	}
	return strings.TrimRightFunc(string(rs[:n]), unicode.IsSpace) + end
}

func slug(s, sep string) string {
	var b strings.Builder
	pending := false
	for _, r := range strings.ToLower(s) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			if pending && b.Len() > 0 {
				b.WriteString(sep)
			}
			pending = false
			b.WriteRune(r)
			continue
		}
		pending = true
	}
	return b.String()
}
