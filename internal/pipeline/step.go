package pipeline

import "strings"

// StepKind identifies how a Step is dispatched.
type StepKind int

const (
	ExitOnBlank       StepKind = iota // stop the pipeline when the current value is blank
	NamedCall                         // call a registered function
	Construct                         // build a registered type
	MethodCall                        // call a method on the current value
	InlineFunction                    // call a Go function value
	TransformableCall                 // call a Transformable
)

var stepKindNames = [...]string{
	ExitOnBlank:       "exit-on-blank",
	NamedCall:         "call",
	Construct:         "construct",
	MethodCall:        "method",
	InlineFunction:    "inline",
	TransformableCall: "transformable",
}

func (k StepKind) String() string {
	if int(k) < len(stepKindNames) {
		return stepKindNames[k]
	}
	return "unknown"
}

// Step is one resolved unit of a field pipeline.
//
// Only the fields relevant to Kind are set: Name and Args for NamedCall,
// Construct and MethodCall; Fn for InlineFunction; Obj for
// TransformableCall.
type Step struct {
	Kind StepKind
	Name string
	Args []Argument
	Fn   InlineFunc
	Obj  Transformable

	fn   Func
	ctor Func
}

// String renders the step back into segment syntax where possible.
func (s Step) String() string {
	switch s.Kind {
	case ExitOnBlank:
		return ExitMarker
	case NamedCall, Construct:
		return s.Name + renderArgs(s.Args)
	case MethodCall:
		return MethodPrefix + s.Name + renderArgs(s.Args)
	case InlineFunction:
		return "<func>"
	case TransformableCall:
		return "<transformable>"
	}
	return "<unknown>"
}

func renderArgs(args []Argument) string {
	if len(args) == 0 {
		return ""
	}
	parts := make([]string, len(args))
	for i, a := range args {
		parts[i] = a.String()
	}
	return ArgSeparator + strings.Join(parts, ArgListSeparator)
}

// ── Function values ────────────────────────────────────────

// Func is the signature of registered functions and constructors.
type Func func(args ...any) (any, error)

// InlineFunc is a Go function used directly as a pipeline step. It receives
// the current value and returns its replacement.
type InlineFunc func(value any) (any, error)

// Transformable is implemented by values that take part in a pipeline with
// the option to end it early. Calling exit with a value makes that value
// the field's final value and skips every remaining step; otherwise the
// returned value replaces the current one.
type Transformable interface {
	Transform(value any, exit func(final any)) (any, error)
}

// TransformableFunc adapts a plain function to the Transformable interface.
type TransformableFunc func(value any, exit func(final any)) (any, error)

func (f TransformableFunc) Transform(value any, exit func(final any)) (any, error) {
	return f(value, exit)
}

// Object is implemented by values that expose methods to "->name" and
// ".name" steps. Dispatch goes through CallMethod only; method names are
// never looked up by reflection.
type Object interface {
	CallMethod(name string, args ...any) (any, error)
}
