package pipeline_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"recordpipe/internal/pipeline"
)

func newTransformer() *pipeline.Transformer {
	return pipeline.New(pipeline.WithGuard(pipeline.NewGuard()))
}

// ─────────────────────────────────────────────────────────────
// Record scenarios
// ─────────────────────────────────────────────────────────────

func TestTransform_TrimAndCapitalize(t *testing.T) {
	out, err := newTransformer().Transform(
		pipeline.Record{"first_name": "   jim   "},
		pipeline.Specs{"first_name": "trim|ucfirst"},
	)
	require.NoError(t, err)
	assert.Equal(t, "Jim", out["first_name"])
}

func TestTransform_Intval(t *testing.T) {
	out, err := newTransformer().Transform(
		pipeline.Record{"favorite_number": "24"},
		pipeline.Specs{"favorite_number": "intval"},
	)
	require.NoError(t, err)
	assert.Equal(t, 24, out["favorite_number"])
}

func TestTransform_PlaceholderArgument(t *testing.T) {
	out, err := newTransformer().Transform(
		pipeline.Record{"password": "abcdefgh12345"},
		pipeline.Specs{"password": "trim|preg_replace:/[^0-9]/,,:value:"},
	)
	require.NoError(t, err)
	assert.Equal(t, "12345", out["password"])
}

func TestTransform_EmptySpecIsIdentity(t *testing.T) {
	in := pipeline.Record{"a": "  x  ", "b": 3}
	for _, spec := range []any{"", "||", []string{}, []any{}, nil} {
		out, err := newTransformer().Transform(in, pipeline.Specs{"a": spec})
		require.NoError(t, err)
		assert.Equal(t, in, out, "spec %#v", spec)
	}
}

func TestTransform_PassThroughIsCopied(t *testing.T) {
	nested := map[string]any{"k": "v"}
	in := pipeline.Record{"meta": nested, "name": "ann"}

	out, err := newTransformer().Transform(in, pipeline.Specs{"name": "strtoupper"})
	require.NoError(t, err)
	assert.Equal(t, "ANN", out["name"])
	assert.Equal(t, nested, out["meta"])

	out["meta"].(map[string]any)["k"] = "changed"
	assert.Equal(t, "v", nested["k"], "input record must not share containers with output")
	assert.Equal(t, "ann", in["name"], "input record must not be modified")
}

func TestTransform_UnchangedPipelineOutputIsCopied(t *testing.T) {
	for _, spec := range []any{"?", "nullable", []any{}} {
		nested := map[string]any{"k": "v"}
		tags := []any{"a"}
		in := pipeline.Record{"meta": nested, "tags": tags}

		out, err := newTransformer().Transform(in, pipeline.Specs{"meta": spec, "tags": spec})
		require.NoError(t, err, "spec %#v", spec)
		require.Equal(t, in, out, "spec %#v", spec)

		out["meta"].(map[string]any)["k"] = "changed"
		out["tags"].([]any)[0] = "b"
		assert.Equal(t, "v", nested["k"], "spec %#v", spec)
		assert.Equal(t, "a", tags[0], "spec %#v", spec)
	}
}

func TestTransform_SpecForMissingFieldIgnored(t *testing.T) {
	out, err := newTransformer().Transform(
		pipeline.Record{"a": "x"},
		pipeline.Specs{"b": "strtoupper"},
	)
	require.NoError(t, err)
	assert.Equal(t, pipeline.Record{"a": "x"}, out)
}

func TestTransform_ListSpec(t *testing.T) {
	out, err := newTransformer().Transform(
		pipeline.Record{"name": "  bob "},
		pipeline.Specs{"name": []string{"trim", "strtoupper"}},
	)
	require.NoError(t, err)
	assert.Equal(t, "BOB", out["name"])
}

func TestTransform_ListElementsAreSingleSegments(t *testing.T) {
	_, err := newTransformer().Transform(
		pipeline.Record{"name": "bob"},
		pipeline.Specs{"name": []string{"trim|strtoupper"}},
	)
	require.Error(t, err)
	assert.True(t, errors.Is(err, pipeline.ErrGuarded))
}

// ─────────────────────────────────────────────────────────────
// Composition and arguments
// ─────────────────────────────────────────────────────────────

func TestTransform_ImplicitArgumentRule(t *testing.T) {
	tr := newTransformer()
	var got []any
	tr.Register("capture", func(args ...any) (any, error) {
		got = args
		return len(args), nil
	})

	v, err := tr.TransformValue("cur", "capture")
	require.NoError(t, err)
	assert.Equal(t, 1, v)
	assert.Equal(t, []any{"cur"}, got)

	v, err = tr.TransformValue("cur", "capture:x,y")
	require.NoError(t, err)
	assert.Equal(t, 2, v)
	assert.Equal(t, []any{"x", "y"}, got)

	v, err = tr.TransformValue("cur", "capture:x,:value:,")
	require.NoError(t, err)
	assert.Equal(t, 3, v)
	assert.Equal(t, []any{"x", "cur", ""}, got)
}

func TestTransform_PlaceholderUsesCurrentValue(t *testing.T) {
	v, err := newTransformer().TransformValue("  banana ", "trim|str_replace:a,o,:value:")
	require.NoError(t, err)
	assert.Equal(t, "bonono", v)
}

func TestTransform_MethodCallWithoutArgs(t *testing.T) {
	v, err := newTransformer().TransformValue("hi", "Str|->upper|.toString")
	require.NoError(t, err)
	assert.Equal(t, "HI", v)
}

func TestTransform_MethodCallOnPlainValue(t *testing.T) {
	_, err := newTransformer().TransformValue("hi", "->upper")
	require.Error(t, err)
	assert.True(t, errors.Is(err, pipeline.ErrNotObject))
}

// ─────────────────────────────────────────────────────────────
// Guard
// ─────────────────────────────────────────────────────────────

func TestTransform_GuardBlocksCustomFunction(t *testing.T) {
	guard := pipeline.NewGuard()
	reg := pipeline.NewStandardRegistry()
	calls := 0
	reg.RegisterFunc("shout", func(args ...any) (any, error) {
		calls++
		return "!", nil
	})
	tr := pipeline.New(pipeline.WithRegistry(reg), pipeline.WithGuard(guard))

	_, err := tr.Transform(pipeline.Record{"a": "x"}, pipeline.Specs{"a": "shout"})
	require.Error(t, err)
	var gv *pipeline.GuardViolation
	require.True(t, errors.As(err, &gv))
	assert.Equal(t, "shout", gv.Name)
	assert.Zero(t, calls, "guarded function must not run")

	guard.Allow("shout")
	out, err := tr.Transform(pipeline.Record{"a": "x"}, pipeline.Specs{"a": "shout"})
	require.NoError(t, err)
	assert.Equal(t, "!", out["a"])

	guard.Revoke("shout")
	guard.Disable()
	out, err = tr.Transform(pipeline.Record{"a": "x"}, pipeline.Specs{"a": "shout"})
	require.NoError(t, err)
	assert.Equal(t, "!", out["a"])
	assert.Equal(t, 2, calls)
}

func TestTransform_RegisterStaysLocal(t *testing.T) {
	reg := pipeline.NewStandardRegistry()
	tr := pipeline.New(pipeline.WithRegistry(reg))
	tr.Register("local_shout", func(args ...any) (any, error) { return "!", nil })

	v, err := tr.TransformValue("x", "local_shout")
	require.NoError(t, err)
	assert.Equal(t, "!", v)
	assert.False(t, pipeline.DefaultGuard.Allowed("local_shout"))

	other := pipeline.New(pipeline.WithRegistry(reg))
	_, err = other.TransformValue("x", "local_shout")
	assert.True(t, errors.Is(err, pipeline.ErrGuarded))
}

func TestGuard_AllowUntrustedSkipsExtended(t *testing.T) {
	reg := pipeline.NewStandardRegistry()
	reg.RegisterFunc("shout", func(args ...any) (any, error) { return "!", nil })
	guard := pipeline.NewGuard()

	refused := guard.AllowUntrusted(reg, "shout", "getenv", "file_get_contents", "unknown_name")
	assert.Equal(t, []string{"getenv", "file_get_contents"}, refused)
	assert.Equal(t, []string{"shout", "unknown_name"}, guard.AllowList())

	tr := pipeline.New(pipeline.WithRegistry(reg), pipeline.WithGuard(guard))
	v, err := tr.TransformValue("x", "shout")
	require.NoError(t, err)
	assert.Equal(t, "!", v)
	_, err = tr.TransformValue("HOME", "getenv")
	assert.True(t, errors.Is(err, pipeline.ErrGuarded))

	tier, ok := reg.TierOf("getenv")
	require.True(t, ok)
	assert.Equal(t, pipeline.Extended, tier)
	_, ok = reg.TierOf("unknown_name")
	assert.False(t, ok)
}

func TestTransform_UnknownName(t *testing.T) {
	guard := pipeline.NewGuard()
	tr := pipeline.New(pipeline.WithGuard(guard))

	_, err := tr.TransformValue("x", "nope")
	assert.True(t, errors.Is(err, pipeline.ErrGuarded), "enforced guard rejects unknown names first")

	guard.Disable()
	_, err = tr.TransformValue("x", "nope")
	assert.True(t, errors.Is(err, pipeline.ErrNotCallable))
	var nc *pipeline.NotCallableError
	require.True(t, errors.As(err, &nc))
	assert.Equal(t, "nope", nc.Name)
}

func TestTransform_ResolvesEverythingBeforeRunning(t *testing.T) {
	guard := pipeline.NewGuard()
	guard.Disable()
	tr := pipeline.New(pipeline.WithGuard(guard))
	calls := 0
	tr.Register("count", func(args ...any) (any, error) {
		calls++
		return args[0], nil
	})

	_, err := tr.Transform(
		pipeline.Record{"a": 1, "b": 2},
		pipeline.Specs{"a": "count", "b": "count|missing"},
	)
	require.Error(t, err)
	assert.True(t, errors.Is(err, pipeline.ErrNotCallable))
	assert.Zero(t, calls)

	var se *pipeline.StepError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, "b", se.Field)
	assert.Equal(t, 1, se.Index)
}

func TestTransform_FirstFailingFieldInSortedOrder(t *testing.T) {
	tr := newTransformer()
	tr.Register("fail", func(args ...any) (any, error) {
		return nil, errors.New("boom")
	})

	for i := 0; i < 5; i++ {
		out, err := tr.Transform(
			pipeline.Record{"z": 1, "a": 2, "m": 3},
			pipeline.Specs{"z": "fail", "a": "fail", "m": "fail"},
		)
		require.Error(t, err)
		assert.Nil(t, out)
		var se *pipeline.StepError
		require.True(t, errors.As(err, &se))
		assert.Equal(t, "a", se.Field)
		assert.EqualError(t, se.Err, "boom")
	}
}

func TestDefaultGuard_UnguardReguard(t *testing.T) {
	t.Cleanup(pipeline.Reguard)
	reg := pipeline.NewStandardRegistry()
	reg.RegisterFunc("twice", func(args ...any) (any, error) {
		return args[0].(string) + args[0].(string), nil
	})
	tr := pipeline.New(pipeline.WithRegistry(reg))
	assert.Same(t, pipeline.DefaultGuard, tr.Guard())

	_, err := tr.TransformValue("a", "twice")
	require.True(t, errors.Is(err, pipeline.ErrGuarded))

	pipeline.Unguard()
	assert.False(t, pipeline.DefaultGuard.IsEnabled())
	v, err := tr.TransformValue("a", "twice")
	require.NoError(t, err)
	assert.Equal(t, "aa", v)

	pipeline.Reguard()
	assert.True(t, pipeline.DefaultGuard.IsEnabled())
	_, err = tr.TransformValue("a", "twice")
	assert.True(t, errors.Is(err, pipeline.ErrGuarded))
}

// ─────────────────────────────────────────────────────────────
// Early exit
// ─────────────────────────────────────────────────────────────

func TestTransform_ExitOnBlankKeepsCurrentValue(t *testing.T) {
	tr := newTransformer()
	tests := []struct {
		spec  string
		input any
		want  any
	}{
		{"?|strtoupper", "", ""},
		{"?|strtoupper", "   ", "   "},
		{"?|strtoupper", nil, nil},
		{"?|strtoupper", "abc", "ABC"},
		{"trim|?|Date", "   ", ""},
		{"?|intval", false, 0},
		{"?|intval", []any{}, []any{}},
	}
	for _, tt := range tests {
		got, err := tr.TransformValue(tt.input, tt.spec)
		require.NoError(t, err, tt.spec)
		assert.Equal(t, tt.want, got, "%s on %#v", tt.spec, tt.input)
	}
}

func TestTransform_DateScenarios(t *testing.T) {
	tr := newTransformer()

	out, err := tr.Transform(
		pipeline.Record{"birthday": "2020-05-24"},
		pipeline.Specs{"birthday": []any{"trim", "Date"}},
	)
	require.NoError(t, err)
	assert.IsType(t, &pipeline.Date{}, out["birthday"])

	out, err = tr.Transform(
		pipeline.Record{"birthday": " 2020-05-24 "},
		pipeline.Specs{"birthday": "trim|Date|->addDays:1|->format:m/d/Y"},
	)
	require.NoError(t, err)
	assert.Equal(t, "05/25/2020", out["birthday"])

	out, err = tr.Transform(
		pipeline.Record{"birthday": nil},
		pipeline.Specs{"birthday": "?|Date|.format:m/d/Y"},
	)
	require.NoError(t, err)
	assert.Nil(t, out["birthday"])

	out, err = tr.Transform(
		pipeline.Record{"birthday": "2020-05-24"},
		pipeline.Specs{"birthday": []any{"Date", func(any) any { return nil }, "?", ".format:m/d/Y"}},
	)
	require.NoError(t, err)
	assert.Nil(t, out["birthday"])
}

func TestTransform_InlineFunction(t *testing.T) {
	never := func(v any) any {
		if b, ok := v.(bool); ok && !b {
			return "Never"
		}
		return v
	}
	out, err := newTransformer().Transform(
		pipeline.Record{"contacted": false},
		pipeline.Specs{"contacted": []any{never}},
	)
	require.NoError(t, err)
	assert.Equal(t, "Never", out["contacted"])

	out, err = newTransformer().Transform(
		pipeline.Record{"contacted": "x"},
		pipeline.Specs{"contacted": pipeline.InlineFunc(func(v any) (any, error) { return "lone", nil })},
	)
	require.NoError(t, err)
	assert.Equal(t, "lone", out["contacted"])
}

func TestTransform_TransformableShortCircuits(t *testing.T) {
	yes := pipeline.TransformableFunc(func(v any, exit func(any)) (any, error) {
		if v == true {
			exit("Yes")
			exit("ignored")
		}
		return "No", nil
	})

	out, err := newTransformer().Transform(
		pipeline.Record{"subscribed": true, "other": false},
		pipeline.Specs{
			"subscribed": []any{yes, "strtoupper"},
			"other":      []any{yes, "strtoupper"},
		},
	)
	require.NoError(t, err)
	assert.Equal(t, "Yes", out["subscribed"])
	assert.Equal(t, "NO", out["other"])
}

func TestTransform_InvalidToken(t *testing.T) {
	_, err := newTransformer().TransformValue("x", []any{"trim", 42})
	require.Error(t, err)
	var it *pipeline.InvalidTokenError
	require.True(t, errors.As(err, &it))
	assert.Equal(t, 42, it.Token)
}

func TestTransform_PanicBecomesError(t *testing.T) {
	tr := newTransformer()
	tr.Register("explode_now", func(args ...any) (any, error) {
		panic("kaboom")
	})

	_, err := tr.Transform(pipeline.Record{"a": "x"}, pipeline.Specs{"a": "explode_now"})
	require.Error(t, err)
	var pe *pipeline.PanicError
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, "kaboom", pe.Value)
	var se *pipeline.StepError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, "a", se.Field)
}

func TestValidate(t *testing.T) {
	tr := newTransformer()
	require.NoError(t, tr.Validate(pipeline.Specs{"a": "trim|ucfirst", "b": "?|Date|->format:Y"}))

	err := tr.Validate(pipeline.Specs{"a": "trim", "b": "getenv:HOME"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, pipeline.ErrGuarded))
	var se *pipeline.StepError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, "b", se.Field)
}
