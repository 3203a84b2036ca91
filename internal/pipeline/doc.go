// Package pipeline rewrites records field by field.
//
// Each field of a record can be given a pipeline: an ordered list of steps
// that is applied to the field's value, threading the result of one step
// into the next. A pipeline is written either as a single string,
//
//	"trim|ucfirst"
//	"trim|preg_replace:/[^0-9]/,,:value:"
//	"?|Date|->format:m/d/Y"
//
// or as a list mixing such segments with Go values:
//
//	[]any{"trim", "Date", pipeline.InlineFunc(fn), myTransformable}
//
// Segment grammar:
//
//	spec        := segment ( '|' segment )*
//	segment     := exitMarker | methodCall | nameCall
//	exitMarker  := '?'
//	methodCall  := ('->' | '.') identifier (':' argList)?
//	nameCall    := identifier (':' argList)?
//	argList     := arg (',' arg)*
//	arg         := ':value:' | literalText
//
// Names are resolved against a closed Registry of functions and
// constructible types. A Guard restricts which names may be resolved; in
// its default Enforced mode only built-in safe names and explicitly allowed
// names resolve. Disabling the Guard additionally exposes the registry's
// extended adapters (environment and file access), so it should only be
// done by a bootstrap that has vetted its pipelines.
//
// The package performs no I/O of its own and never starts goroutines.
package pipeline
