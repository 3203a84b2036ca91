package pipeline

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cast"
)

// Date is the value built by the "Date" step. Its methods return new
// Dates; a Date is never modified in place.
type Date struct {
	t time.Time
}

// NewDate wraps t.
func NewDate(t time.Time) *Date { return &Date{t: t} }

// Time returns the wrapped time.
func (d *Date) Time() time.Time { return d.t }

func (d *Date) String() string { return d.t.Format(time.RFC3339) }

// MarshalJSON encodes the date as an RFC 3339 string.
func (d *Date) MarshalJSON() ([]byte, error) {
	return []byte(strconv.Quote(d.String())), nil
}

var dateLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
	"2006/01/02",
	"01/02/2006",
	"01/02/2006 15:04:05",
	"02.01.2006",
	"Jan 2, 2006",
	"January 2, 2006",
	"2 January 2006",
	time.RFC1123Z,
	time.RFC1123,
}

// newDate builds a Date from its first argument: a string in one of the
// common layouts, a time.Time, a *Date, or a Unix timestamp. No argument,
// nil or a blank string means the registry clock's current time. An
// optional second argument names the time zone.
func (r *Registry) newDate(args ...any) (any, error) {
	loc := time.UTC
	if len(args) > 1 && !IsBlank(args[1]) {
		l, err := time.LoadLocation(cast.ToString(args[1]))
		if err != nil {
			return nil, fmt.Errorf("date: %w", err)
		}
		loc = l
	}

	v := argOr(args, 0, nil)
	if IsBlank(v) {
		return NewDate(r.clock.Now().In(loc)), nil
	}

	switch t := v.(type) {
	case *Date:
		return NewDate(t.t.In(loc)), nil
	case time.Time:
		return NewDate(t.In(loc)), nil
	case string:
		return parseDate(strings.TrimSpace(t), loc)
	case int, int32, int64, uint32, uint64, float64:
		return NewDate(time.Unix(cast.ToInt64(t), 0).In(loc)), nil
	}
	return nil, fmt.Errorf("date: cannot build a date from %T", v)
}

func parseDate(s string, loc *time.Location) (*Date, error) {
	for _, layout := range dateLayouts {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return NewDate(t), nil
		}
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return NewDate(time.Unix(n, 0).In(loc)), nil
	}
	return nil, fmt.Errorf("date: unrecognized date %q", s)
}

// CallMethod implements Object.
func (d *Date) CallMethod(name string, args ...any) (any, error) {
	switch name {
	case "addDays":
		return d.shift(args, func(n int) time.Time { return d.t.AddDate(0, 0, n) })
	case "subDays":
		return d.shift(args, func(n int) time.Time { return d.t.AddDate(0, 0, -n) })
	case "addMonths":
		return d.shift(args, func(n int) time.Time { return d.t.AddDate(0, n, 0) })
	case "addYears":
		return d.shift(args, func(n int) time.Time { return d.t.AddDate(n, 0, 0) })
	case "addHours":
		return d.shift(args, func(n int) time.Time { return d.t.Add(time.Duration(n) * time.Hour) })
	case "addMinutes":
		return d.shift(args, func(n int) time.Time { return d.t.Add(time.Duration(n) * time.Minute) })
	case "startOfDay":
		y, m, day := d.t.Date()
		return NewDate(time.Date(y, m, day, 0, 0, 0, 0, d.t.Location())), nil
	case "endOfDay":
		y, m, day := d.t.Date()
		return NewDate(time.Date(y, m, day, 23, 59, 59, 999999999, d.t.Location())), nil
	case "format":
		if err := arity("format", args, 1); err != nil {
			return nil, err
		}
		return FormatDate(d.t, cast.ToString(args[0])), nil
	case "toDateString":
		return d.t.Format("2006-01-02"), nil
	case "toIso8601String":
		return d.t.Format("2006-01-02T15:04:05-07:00"), nil
	case "timestamp":
		return d.t.Unix(), nil
	case "year":
		return d.t.Year(), nil
	case "month":
		return int(d.t.Month()), nil
	case "day":
		return d.t.Day(), nil
	}
	return nil, &UnknownMethodError{Type: "Date", Method: name}
}

// shift applies op with the first argument as a count, defaulting to 1.
func (d *Date) shift(args []any, op func(int) time.Time) (any, error) {
	n := 1
	if len(args) > 0 {
		v, err := cast.ToIntE(args[0])
		if err != nil {
			return nil, fmt.Errorf("invalid count %v: %w", args[0], err)
		}
		n = v
	}
	return NewDate(op(n)), nil
}

// FormatDate renders t using date() style format characters, e.g.
// "m/d/Y" or "D, d M Y H:i:s". A backslash escapes the next character.
func FormatDate(t time.Time, format string) string {
	var b strings.Builder
	escaped := false
	for _, c := range format {
		if escaped {
			b.WriteRune(c)
			escaped = false
			continue
		}
		switch c {
		case '\\':
			escaped = true
		// Day
		case 'd':
			fmt.Fprintf(&b, "%02d", t.Day())
		case 'D':
			b.WriteString(t.Format("Mon"))
		case 'j':
			b.WriteString(strconv.Itoa(t.Day()))
		case 'l':
			b.WriteString(t.Weekday().String())
		case 'N':
			wd := int(t.Weekday())
			if wd == 0 {
				wd = 7
			}
			b.WriteString(strconv.Itoa(wd))
		case 'w':
			b.WriteString(strconv.Itoa(int(t.Weekday())))
		case 'S':
			b.WriteString(ordinalSuffix(t.Day()))
		case 'z':
			b.WriteString(strconv.Itoa(t.YearDay() - 1))
		// Week
		case 'W':
			_, wk := t.ISOWeek()
			fmt.Fprintf(&b, "%02d", wk)
		// Month
		case 'F':
			b.WriteString(t.Month().String())
		case 'M':
			b.WriteString(t.Format("Jan"))
		case 'm':
			fmt.Fprintf(&b, "%02d", int(t.Month()))
		case 'n':
			b.WriteString(strconv.Itoa(int(t.Month())))
		case 't':
			b.WriteString(strconv.Itoa(time.Date(t.Year(), t.Month()+1, 0, 0, 0, 0, 0, t.Location()).Day()))
		// Year
		case 'L':
			if y := t.Year(); y%4 == 0 && (y%100 != 0 || y%400 == 0) {
				b.WriteByte('1')
			} else {
				b.WriteByte('0')
			}
		case 'Y':
			b.WriteString(strconv.Itoa(t.Year()))
		case 'y':
			fmt.Fprintf(&b, "%02d", t.Year()%100)
		// Time
		case 'a':
			b.WriteString(t.Format("pm"))
		case 'A':
			b.WriteString(t.Format("PM"))
		case 'g':
			b.WriteString(t.Format("3"))
		case 'G':
			b.WriteString(strconv.Itoa(t.Hour()))
		case 'h':
			b.WriteString(t.Format("03"))
		case 'H':
			fmt.Fprintf(&b, "%02d", t.Hour())
		case 'i':
			fmt.Fprintf(&b, "%02d", t.Minute())
		case 's':
			fmt.Fprintf(&b, "%02d", t.Second())
		case 'u':
			fmt.Fprintf(&b, "%06d", t.Nanosecond()/1000)
		case 'v':
			fmt.Fprintf(&b, "%03d", t.Nanosecond()/1000000)
		// Zone
		case 'e':
			b.WriteString(t.Location().String())
		case 'T':
			b.WriteString(t.Format("MST"))
		case 'P':
			b.WriteString(t.Format("-07:00"))
		case 'O':
			b.WriteString(t.Format("-0700"))
		case 'Z':
			_, off := t.Zone()
			b.WriteString(strconv.Itoa(off))
		// Full date/time
		case 'c':
			b.WriteString(t.Format("2006-01-02T15:04:05-07:00"))
		case 'r':
			b.WriteString(t.Format("Mon, 02 Jan 2006 15:04:05 -0700"))
		case 'U':
			b.WriteString(strconv.FormatInt(t.Unix(), 10))
		default:
			b.WriteRune(c)
		}
	}
	return b.String()
}

func ordinalSuffix(day int) string {
	if day >= 11 && day <= 13 {
		return "th"
	}
	switch day % 10 {
	case 1:
		return "st"
	case 2:
		return "nd"
	case 3:
		return "rd"
	}
	return "th"
}
