package pipeline_test

import (
	"errors"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"recordpipe/internal/pipeline"
)

func TestDate_UsesRegistryClock(t *testing.T) {
	clock := clockwork.NewFakeClockAt(time.Date(2024, 3, 15, 10, 30, 0, 0, time.UTC))
	reg := pipeline.NewStandardRegistry(pipeline.WithClock(clock))
	tr := pipeline.New(pipeline.WithRegistry(reg), pipeline.WithGuard(pipeline.NewGuard()))

	for _, input := range []any{nil, "", "   "} {
		v, err := tr.TransformValue(input, "Date|->toDateString")
		require.NoError(t, err)
		assert.Equal(t, "2024-03-15", v)
	}

	clock.Advance(24 * time.Hour)
	v, err := tr.TransformValue(nil, "Date|->format:Y-m-d H:i")
	require.NoError(t, err)
	assert.Equal(t, "2024-03-16 10:30", v)
}

func TestDate_Methods(t *testing.T) {
	tr := newTransformer()
	tests := []struct {
		spec  string
		input any
		want  any
	}{
		{"Date|->format:l jS F Y", "2020-05-24", "Sunday 24th May 2020"},
		{"Date|->format:g:i A", "2020-05-24 13:45:00", "1:45 PM"},
		{"Date|->format:D d M y", "2020-05-24", "Sun 24 May 20"},
		{`Date|->format:\Y\e\a\r Y`, "2020-05-24", "Year 2020"},
		{"Date|->subDays:24|->toDateString", "2020-05-24", "2020-04-30"},
		{"Date|->addMonths:2|->toDateString", "2020-05-24", "2020-07-24"},
		{"Date|->addYears|->toDateString", "2020-05-24", "2021-05-24"},
		{"Date|->addHours:36|->format:Y-m-d H", "2020-05-24", "2020-05-25 12"},
		{"Date|->addMinutes:90|->format:H:i", "2020-05-24", "01:30"},
		{"Date|->endOfDay|->toIso8601String", "2020-05-24 13:45:00", "2020-05-24T23:59:59+00:00"},
		{"Date|->startOfDay|->format:c", "2020-05-24 13:45:00", "2020-05-24T00:00:00+00:00"},
		{"Date|->timestamp", "2020-05-24", int64(1590278400)},
		{"Date|->year", "2020-05-24", 2020},
		{"Date|->month", "2020-05-24", 5},
		{"Date|->day", "2020-05-24", 24},
		{"Date|->toDateString", "05/24/2020", "2020-05-24"},
		{"Date|->toDateString", "2020-05-24T08:00:00Z", "2020-05-24"},
		{"Date|->toDateString", 1590278400, "2020-05-24"},
		{"Date|Date|->toDateString", "2020-05-24", "2020-05-24"},
	}
	for _, tt := range tests {
		got, err := tr.TransformValue(tt.input, tt.spec)
		require.NoError(t, err, tt.spec)
		assert.Equal(t, tt.want, got, tt.spec)
	}
}

func TestDate_Errors(t *testing.T) {
	tr := newTransformer()

	_, err := tr.TransformValue("not a date", "Date")
	require.Error(t, err)

	_, err = tr.TransformValue("2020-05-24", "Date|->bogus")
	var um *pipeline.UnknownMethodError
	require.True(t, errors.As(err, &um))
	assert.Equal(t, "Date", um.Type)
	assert.Equal(t, "bogus", um.Method)

	_, err = tr.TransformValue("2020-05-24", "Date|->format")
	require.Error(t, err)

	_, err = tr.TransformValue("2020-05-24", "Date|->addDays:many")
	require.Error(t, err)
}

func TestDate_TimeZone(t *testing.T) {
	tr := newTransformer()

	v, err := tr.TransformValue("2020-05-24 13:45:00", "Date::value:,UTC|->format:H:i e")
	require.NoError(t, err)
	assert.Equal(t, "13:45 UTC", v)

	_, err = tr.TransformValue("2020-05-24", "Date::value:,Nowhere/Special")
	require.Error(t, err)
}

func TestFormatDate(t *testing.T) {
	ts := time.Date(2021, 1, 3, 7, 5, 9, 123456000, time.UTC)
	assert.Equal(t, "03/01/2021", pipeline.FormatDate(ts, "d/m/Y"))
	assert.Equal(t, "3 1 21", pipeline.FormatDate(ts, "j n y"))
	assert.Equal(t, "07:05:09.123456", pipeline.FormatDate(ts, "H:i:s.u"))
	assert.Equal(t, "7am 123", pipeline.FormatDate(ts, "ga v"))
	assert.Equal(t, "7 0 2 31 0", pipeline.FormatDate(ts, "N w z t L"))
	assert.Equal(t, "53", pipeline.FormatDate(ts, "W"))
	assert.Equal(t, "Sun, 03 Jan 2021 07:05:09 +0000", pipeline.FormatDate(ts, "r"))
	assert.Equal(t, "1609657509", pipeline.FormatDate(ts, "U"))
}

func TestStr_Methods(t *testing.T) {
	tr := newTransformer()
	tests := []struct {
		spec  string
		input any
		want  any
	}{
		{"Str|->trim|->title|->toString", "  hello WORLD ", "Hello World"},
		{"Str|.slug|.toString", "Hello, World!", "hello-world"},
		{"Str|.slug:_|.toString", "  Über  cool ", "über_cool"},
		{"Str|->limit:5|->toString", "Hello World", "Hello..."},
		{"Str|->limit:5,~|->toString", "Hello World", "Hello~"},
		{"Str|->limit:50|->toString", "short", "short"},
		{"Str|->append:!,?|->prepend:>|->toString", "hey", ">hey!?"},
		{"Str|->replace:l,L|->toString", "hello", "heLLo"},
		{"Str|->lower|->ucfirst|->toString", "ABC", "Abc"},
		{"Str|->upper|->toString", "abc", "ABC"},
		{"Str|->length", "héllo", 5},
		{"Str|->toString", 42, "42"},
	}
	for _, tt := range tests {
		got, err := tr.TransformValue(tt.input, tt.spec)
		require.NoError(t, err, tt.spec)
		assert.Equal(t, tt.want, got, tt.spec)
	}

	_, err := tr.TransformValue("x", "Str|->explode")
	var um *pipeline.UnknownMethodError
	require.True(t, errors.As(err, &um))
	assert.Equal(t, "Str", um.Type)
}
