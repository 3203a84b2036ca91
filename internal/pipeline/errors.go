package pipeline

import (
	"errors"
	"fmt"
)

var (
	// ErrGuarded matches every *GuardViolation.
	ErrGuarded = errors.New("guarded")

	// ErrNotCallable matches every *NotCallableError.
	ErrNotCallable = errors.New("not callable")

	// ErrNotObject is returned when a method step runs against a value that
	// does not implement Object.
	ErrNotObject = errors.New("value has no methods")
)

// GuardViolation occurs when an Enforced guard refuses to resolve a name.
type GuardViolation struct {
	Name string
}

func (e *GuardViolation) Error() string {
	return fmt.Sprintf("%q is not allowed while the guard is enforced", e.Name)
}

func (e *GuardViolation) Is(target error) bool { return target == ErrGuarded }

// NotCallableError occurs when a name is neither a registered type nor a
// registered function.
type NotCallableError struct {
	Name string
}

func (e *NotCallableError) Error() string {
	return fmt.Sprintf("%q is not a callable function or constructible type", e.Name)
}

func (e *NotCallableError) Is(target error) bool { return target == ErrNotCallable }

// InvalidTokenError occurs when a list spec holds something that is not a
// string, a function or a Transformable.
type InvalidTokenError struct {
	Token any
}

func (e *InvalidTokenError) Error() string {
	return fmt.Sprintf("invalid pipeline token of type %T", e.Token)
}

// UnknownMethodError is returned by Object implementations for method names
// they do not expose.
type UnknownMethodError struct {
	Type   string
	Method string
}

func (e *UnknownMethodError) Error() string {
	return fmt.Sprintf("%s has no method %q", e.Type, e.Method)
}

// StepError attributes a failure to a field and a step position.
type StepError struct {
	Field string
	Index int
	Step  string
	Err   error
}

func (e *StepError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("step %d (%s): %v", e.Index, e.Step, e.Err)
	}
	return fmt.Sprintf("field %q: step %d (%s): %v", e.Field, e.Index, e.Step, e.Err)
}

func (e *StepError) Unwrap() error { return e.Err }

// PanicError carries a panic recovered from a step.
type PanicError struct {
	Value any
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("panic: %v", e.Value)
}
