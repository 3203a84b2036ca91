package pipeline

import "strings"

// Resolver turns tokens into Steps using a Registry and a Guard.
type Resolver struct {
	Registry *Registry
	Guard    *Guard
	// Registered names resolve whatever the guard says. Transformer.Register
	// fills it for its own resolvers.
	Registered *Guard
}

// NewResolver returns a Resolver. A nil guard means DefaultGuard.
func NewResolver(reg *Registry, guard *Guard) *Resolver {
	if guard == nil {
		guard = DefaultGuard
	}
	return &Resolver{Registry: reg, Guard: guard}
}

// Resolve classifies one token. Strings follow the segment grammar;
// functions and Transformables resolve structurally.
func (r *Resolver) Resolve(token any) (Step, error) {
	switch t := token.(type) {
	case string:
		return r.resolveSegment(t)
	case Transformable:
		return Step{Kind: TransformableCall, Obj: t}, nil
	case InlineFunc:
		return Step{Kind: InlineFunction, Fn: t}, nil
	case func(any) (any, error):
		return Step{Kind: InlineFunction, Fn: t}, nil
	case func(any) any:
		return Step{Kind: InlineFunction, Fn: func(v any) (any, error) { return t(v), nil }}, nil
	}
	return Step{}, &InvalidTokenError{Token: token}
}

func (r *Resolver) resolveSegment(segment string) (Step, error) {
	if segment == ExitMarker {
		return Step{Kind: ExitOnBlank}, nil
	}

	for _, prefix := range []string{MethodPrefix, ShortMethodPrefix} {
		if strings.HasPrefix(segment, prefix) {
			name, args := splitSegment(segment[len(prefix):])
			return Step{Kind: MethodCall, Name: name, Args: args}, nil
		}
	}

	name, args := splitSegment(segment)
	if !r.Guard.permits(name, r.Registry) && !r.registered(name) {
		return Step{}, &GuardViolation{Name: name}
	}
	if ctor, ok := r.Registry.LookupType(name); ok {
		return Step{Kind: Construct, Name: name, Args: args, ctor: ctor}, nil
	}
	if fn, ok := r.Registry.LookupFunc(name); ok {
		return Step{Kind: NamedCall, Name: name, Args: args, fn: fn}, nil
	}
	return Step{}, &NotCallableError{Name: name}
}

func (r *Resolver) registered(name string) bool {
	return r.Registered != nil && r.Registered.Allowed(name)
}
