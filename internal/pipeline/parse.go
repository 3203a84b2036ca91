package pipeline

import "strings"

// Grammar tokens.
const (
	StepSeparator     = "|"
	ArgSeparator      = ":"
	ArgListSeparator  = ","
	ValuePlaceholder  = ":value:"
	ExitMarker        = "?"
	MethodPrefix      = "->"
	ShortMethodPrefix = "."
)

// Argument is one inline argument of a step: either literal text or the
// placeholder for the current pipeline value.
type Argument struct {
	Text        string
	Placeholder bool
}

// Literal returns a literal argument.
func Literal(text string) Argument { return Argument{Text: text} }

// Value returns the current-value placeholder argument.
func Value() Argument { return Argument{Text: ValuePlaceholder, Placeholder: true} }

func (a Argument) String() string {
	if a.Placeholder {
		return ValuePlaceholder
	}
	return a.Text
}

// ParseArgs splits an argument section on ',' into arguments. An empty
// section yields no arguments. Separator characters cannot be escaped.
func ParseArgs(text string) []Argument {
	if text == "" {
		return nil
	}
	raw := strings.Split(text, ArgListSeparator)
	args := make([]Argument, len(raw))
	for i, r := range raw {
		if r == ValuePlaceholder {
			args[i] = Value()
			continue
		}
		args[i] = Literal(r)
	}
	return args
}

// splitSegment separates "name:args" at the first ':'.
func splitSegment(segment string) (name string, args []Argument) {
	name, rest, found := strings.Cut(segment, ArgSeparator)
	if !found {
		return segment, nil
	}
	return name, ParseArgs(rest)
}

// Segments splits a string spec on '|', dropping empty segments. Segments
// are not trimmed.
func Segments(spec string) []string {
	raw := strings.Split(spec, StepSeparator)
	out := make([]string, 0, len(raw))
	for _, s := range raw {
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}

// Parse turns a field spec into resolved steps. spec may be a string, a
// []string, or a []any whose elements are strings, function values or
// Transformables. A string spec is split on '|'; each string element of a
// list is a single segment.
func Parse(spec any, r *Resolver) ([]Step, error) {
	switch v := spec.(type) {
	case nil:
		return nil, nil
	case string:
		return parseTokens(toTokens(Segments(v)), r)
	case []string:
		tokens := make([]any, 0, len(v))
		for _, s := range v {
			if s != "" {
				tokens = append(tokens, s)
			}
		}
		return parseTokens(tokens, r)
	case []any:
		tokens := make([]any, 0, len(v))
		for _, t := range v {
			if s, ok := t.(string); ok && s == "" {
				continue
			}
			tokens = append(tokens, t)
		}
		return parseTokens(tokens, r)
	default:
		// A lone function or Transformable is a one-step pipeline.
		return parseTokens([]any{spec}, r)
	}
}

func toTokens(segments []string) []any {
	tokens := make([]any, len(segments))
	for i, s := range segments {
		tokens[i] = s
	}
	return tokens
}

func parseTokens(tokens []any, r *Resolver) ([]Step, error) {
	steps := make([]Step, 0, len(tokens))
	for i, t := range tokens {
		step, err := r.Resolve(t)
		if err != nil {
			return nil, &StepError{Index: i, Step: describeToken(t), Err: err}
		}
		steps = append(steps, step)
	}
	return steps, nil
}

func describeToken(t any) string {
	if s, ok := t.(string); ok {
		return s
	}
	switch t.(type) {
	case Transformable:
		return "<transformable>"
	case InlineFunc, func(any) (any, error), func(any) any:
		return "<func>"
	}
	return "<invalid>"
}
