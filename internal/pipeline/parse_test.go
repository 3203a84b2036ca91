package pipeline_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"recordpipe/internal/pipeline"
)

func TestParseArgs(t *testing.T) {
	assert.Nil(t, pipeline.ParseArgs(""))
	assert.Equal(t,
		[]pipeline.Argument{pipeline.Literal("/[^0-9]/"), pipeline.Literal(""), pipeline.Value()},
		pipeline.ParseArgs("/[^0-9]/,,:value:"),
	)
	assert.Equal(t,
		[]pipeline.Argument{pipeline.Literal("H:i"), pipeline.Literal(" x")},
		pipeline.ParseArgs("H:i, x"),
	)
	// Only the exact placeholder text is substituted.
	assert.Equal(t, []pipeline.Argument{pipeline.Literal(" :value:")}, pipeline.ParseArgs(" :value:"))
}

func TestSegments(t *testing.T) {
	assert.Equal(t, []string{"trim", "ucfirst"}, pipeline.Segments("trim|ucfirst"))
	assert.Equal(t, []string{"a", " b "}, pipeline.Segments("|a|| b |"))
	assert.Empty(t, pipeline.Segments(""))
}

func TestParse(t *testing.T) {
	r := pipeline.NewResolver(pipeline.NewStandardRegistry(), pipeline.NewGuard())

	steps, err := pipeline.Parse("?|trim|Date|->addDays:1|.format:m/d/Y", r)
	require.NoError(t, err)
	require.Len(t, steps, 5)

	kinds := make([]pipeline.StepKind, len(steps))
	for i, s := range steps {
		kinds[i] = s.Kind
	}
	assert.Equal(t, []pipeline.StepKind{
		pipeline.ExitOnBlank,
		pipeline.NamedCall,
		pipeline.Construct,
		pipeline.MethodCall,
		pipeline.MethodCall,
	}, kinds)

	assert.Equal(t, "addDays", steps[3].Name)
	assert.Equal(t, []pipeline.Argument{pipeline.Literal("1")}, steps[3].Args)
	assert.Equal(t, "format", steps[4].Name)
	assert.Equal(t, "->format:m/d/Y", steps[4].String())
	assert.Equal(t, "?", steps[0].String())
}

func TestParse_MethodNamesAreNotGuarded(t *testing.T) {
	r := pipeline.NewResolver(pipeline.NewStandardRegistry(), pipeline.NewGuard())
	steps, err := pipeline.Parse("->anything:at,all", r)
	require.NoError(t, err)
	require.Len(t, steps, 1)
	assert.Equal(t, pipeline.MethodCall, steps[0].Kind)
}

func TestParse_StructuralTokens(t *testing.T) {
	r := pipeline.NewResolver(pipeline.NewStandardRegistry(), nil)
	tf := pipeline.TransformableFunc(func(v any, exit func(any)) (any, error) { return v, nil })

	steps, err := pipeline.Parse([]any{
		"trim",
		"",
		func(v any) any { return v },
		func(v any) (any, error) { return v, nil },
		pipeline.InlineFunc(func(v any) (any, error) { return v, nil }),
		tf,
	}, r)
	require.NoError(t, err)
	require.Len(t, steps, 5)
	assert.Equal(t, pipeline.NamedCall, steps[0].Kind)
	assert.Equal(t, pipeline.InlineFunction, steps[1].Kind)
	assert.Equal(t, pipeline.InlineFunction, steps[2].Kind)
	assert.Equal(t, pipeline.InlineFunction, steps[3].Kind)
	assert.Equal(t, pipeline.TransformableCall, steps[4].Kind)
	assert.Equal(t, "<transformable>", steps[4].String())
}

func TestParse_ErrorPosition(t *testing.T) {
	r := pipeline.NewResolver(pipeline.NewStandardRegistry(), pipeline.NewGuard())
	_, err := pipeline.Parse("trim|ucfirst|system:ls", r)
	require.Error(t, err)

	var se *pipeline.StepError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, 2, se.Index)
	assert.Equal(t, "system:ls", se.Step)
	assert.True(t, errors.Is(err, pipeline.ErrGuarded))
	assert.Contains(t, err.Error(), `"system"`)
}

func TestGuard(t *testing.T) {
	g := pipeline.NewGuard()
	assert.True(t, g.IsEnabled())
	assert.False(t, g.Permits("x"))

	g.Allow("b", "a")
	assert.True(t, g.Permits("a"))
	assert.Equal(t, []string{"a", "b"}, g.AllowList())

	g.Revoke("a")
	assert.False(t, g.Permits("a"))
	assert.Equal(t, []string{"b"}, g.AllowList())

	g.Disable()
	assert.False(t, g.IsEnabled())
	assert.True(t, g.Permits("anything"))

	g.Enable()
	assert.False(t, g.Permits("anything"))
}

func TestIsBlank(t *testing.T) {
	var nilPtr *int
	var nilMap map[string]any
	one := 1

	blank := []any{nil, "", "  \t\n", []byte(" "), []any{}, []string{}, map[string]any{}, nilMap, nilPtr, [0]int{}}
	for _, v := range blank {
		assert.True(t, pipeline.IsBlank(v), "%#v should be blank", v)
	}

	notBlank := []any{false, true, 0, 0.0, "0", "x", []any{nil}, map[string]int{"a": 0}, &one, [1]int{}}
	for _, v := range notBlank {
		assert.False(t, pipeline.IsBlank(v), "%#v should not be blank", v)
	}
}
