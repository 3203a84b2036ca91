package pipeline

import (
	"fmt"
	"log/slog"
)

// run threads value through steps and returns the field's final value.
func run(log *slog.Logger, field string, steps []Step, value any) (any, error) {
	current := value
	for i, step := range steps {
		next, exited, err := apply(step, current)
		if err != nil {
			return nil, &StepError{Field: field, Index: i, Step: step.String(), Err: err}
		}
		current = next
		if exited {
			log.Debug("pipeline exited early", "field", field, "step", i, "kind", step.Kind.String())
			break
		}
	}
	return current, nil
}

// apply runs a single step. A panic inside the step is returned as a
// *PanicError.
func apply(step Step, current any) (next any, exited bool, err error) {
	defer func() {
		if p := recover(); p != nil {
			next, exited, err = nil, false, &PanicError{Value: p}
		}
	}()

	switch step.Kind {
	case ExitOnBlank:
		if IsBlank(current) {
			return current, true, nil
		}
		return current, false, nil

	case NamedCall:
		out, err := step.fn(bindArgs(step.Args, current, true)...)
		return out, false, err

	case Construct:
		out, err := step.ctor(bindArgs(step.Args, current, true)...)
		return out, false, err

	case MethodCall:
		obj, ok := current.(Object)
		if !ok {
			return nil, false, fmt.Errorf("%w: cannot call %q on %T", ErrNotObject, step.Name, current)
		}
		out, err := obj.CallMethod(step.Name, bindArgs(step.Args, current, false)...)
		return out, false, err

	case InlineFunction:
		out, err := step.Fn(current)
		return out, false, err

	case TransformableCall:
		var (
			fired bool
			final any
		)
		exit := func(v any) {
			if fired {
				return
			}
			fired, final = true, v
		}
		out, err := step.Obj.Transform(current, exit)
		if err != nil {
			return nil, false, err
		}
		if fired {
			return final, true, nil
		}
		return out, false, nil
	}

	return nil, false, fmt.Errorf("unknown step kind %d", step.Kind)
}

// bindArgs substitutes the current value for placeholders. With no explicit
// arguments, implicit decides whether the current value is passed alone.
func bindArgs(args []Argument, current any, implicit bool) []any {
	if len(args) == 0 {
		if implicit {
			return []any{current}
		}
		return nil
	}
	out := make([]any, len(args))
	for i, a := range args {
		if a.Placeholder {
			out[i] = current
			continue
		}
		out[i] = a.Text
	}
	return out
}
