package pipeline

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/spf13/cast"
)

// phpSpace is the character set trimmed when trim is called without one.
const phpSpace = " \t\n\r\x00\x0B"

func registerBuiltins(r *Registry) {
	builtins := map[string]Func{
		// ── Strings ────────────────────────────────────────
		"trim":        trimWith(strings.Trim),
		"ltrim":       trimWith(strings.TrimLeft),
		"rtrim":       trimWith(strings.TrimRight),
		"ucfirst":     unary(upperFirst),
		"lcfirst":     unary(lowerFirst),
		"ucwords":     unary(upperWords),
		"strtolower":  unary(strings.ToLower),
		"strtoupper":  unary(strings.ToUpper),
		"strrev":      unary(reverse),
		"strlen":      strlen,
		"str_replace": strReplace,
		"str_pad":     strPad,
		"substr":      substr,
		"explode":     explode,
		"implode":     implode,

		// ── Regular expressions ────────────────────────────
		"preg_replace": pregReplace,
		"preg_match":   pregMatch,

		// ── Conversions ────────────────────────────────────
		"intval":   intval,
		"floatval": floatval,
		"boolval":  boolval,
		"strval":   strval,

		// ── Numbers ────────────────────────────────────────
		"abs":           absval,
		"round":         round,
		"ceil":          floatOp(math.Ceil),
		"floor":         floatOp(math.Floor),
		"number_format": numberFormat,

		// ── JSON ───────────────────────────────────────────
		"json_encode": jsonEncode,
		"json_decode": jsonDecode,

		// ── Blank handling ─────────────────────────────────
		"nullable": nullable,
		"default":  defaultValue,
	}
	for name, fn := range builtins {
		r.registerFunc(name, Safe, fn)
	}
}

func registerExtended(r *Registry) {
	r.registerFunc("getenv", Extended, func(args ...any) (any, error) {
		if err := arity("getenv", args, 1); err != nil {
			return nil, err
		}
		v, ok := os.LookupEnv(cast.ToString(args[0]))
		if !ok {
			return nil, nil
		}
		return v, nil
	})
	r.registerFunc("env_expand", Extended, unary(os.ExpandEnv))
	r.registerFunc("file_get_contents", Extended, func(args ...any) (any, error) {
		if err := arity("file_get_contents", args, 1); err != nil {
			return nil, err
		}
		b, err := os.ReadFile(cast.ToString(args[0]))
		if err != nil {
			return nil, fmt.Errorf("file_get_contents: %w", err)
		}
		return string(b), nil
	})
	r.registerFunc("file_exists", Extended, func(args ...any) (any, error) {
		if err := arity("file_exists", args, 1); err != nil {
			return nil, err
		}
		_, err := os.Stat(cast.ToString(args[0]))
		return err == nil, nil
	})
}

// ── Helpers ────────────────────────────────────────────────

func arity(name string, args []any, want int) error {
	if len(args) < want {
		return fmt.Errorf("%s expects at least %d argument(s), got %d", name, want, len(args))
	}
	return nil
}

func argOr(args []any, i int, fallback any) any {
	if i < len(args) {
		return args[i]
	}
	return fallback
}

// toText converts a scalar to a string; nil becomes "".
func toText(v any) (string, error) {
	s, err := cast.ToStringE(v)
	if err != nil {
		return "", fmt.Errorf("cannot use %T as a string", v)
	}
	return s, nil
}

func unary(fn func(string) string) Func {
	return func(args ...any) (any, error) {
		s, err := toText(argOr(args, 0, nil))
		if err != nil {
			return nil, err
		}
		return fn(s), nil
	}
}

func trimWith(fn func(string, string) string) Func {
	return func(args ...any) (any, error) {
		s, err := toText(argOr(args, 0, nil))
		if err != nil {
			return nil, err
		}
		chars := phpSpace
		if len(args) > 1 {
			chars = cast.ToString(args[1])
		}
		return fn(s, chars), nil
	}
}

// ── Strings ────────────────────────────────────────────────

func upperFirst(s string) string {
	r, n := utf8.DecodeRuneInString(s)
	if n == 0 {
		return s
	}
	return string(unicode.ToUpper(r)) + s[n:]
}

func lowerFirst(s string) string {
	r, n := utf8.DecodeRuneInString(s)
	if n == 0 {
		return s
	}
	return string(unicode.ToLower(r)) + s[n:]
}

func upperWords(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	start := true
	for _, r := range s {
		if start {
			r = unicode.ToUpper(r)
		}
		start = unicode.IsSpace(r)
		b.WriteRune(r)
	}
	return b.String()
}

func reverse(s string) string {
	rs := []rune(s)
	for i, j := 0, len(rs)-1; i < j; i, j = i+1, j-1 {
		rs[i], rs[j] = rs[j], rs[i]
	}
	return string(rs)
}

func strlen(args ...any) (any, error) {
	s, err := toText(argOr(args, 0, nil))
	if err != nil {
		return nil, err
	}
	return len(s), nil
}

func strReplace(args ...any) (any, error) {
	if err := arity("str_replace", args, 3); err != nil {
		return nil, err
	}
	subject, err := toText(args[2])
	if err != nil {
		return nil, err
	}
	return strings.ReplaceAll(subject, cast.ToString(args[0]), cast.ToString(args[1])), nil
}

// strPad pads value to length with pad (default " ") on side "right"
// (default), "left" or "both".
func strPad(args ...any) (any, error) {
	if err := arity("str_pad", args, 2); err != nil {
		return nil, err
	}
	s, err := toText(args[0])
	if err != nil {
		return nil, err
	}
	length, err := cast.ToIntE(args[1])
	if err != nil {
		return nil, fmt.Errorf("str_pad: length: %w", err)
	}
	pad := cast.ToString(argOr(args, 2, " "))
	if pad == "" {
		return nil, fmt.Errorf("str_pad: pad string must not be empty")
	}
	missing := length - utf8.RuneCountInString(s)
	if missing <= 0 {
		return s, nil
	}
	fill := func(n int) string {
		if n <= 0 {
			return ""
		}
		rs := []rune(strings.Repeat(pad, n/utf8.RuneCountInString(pad)+1))
		return string(rs[:n])
	}
	switch side := strings.ToLower(cast.ToString(argOr(args, 3, "right"))); side {
	case "right":
		return s + fill(missing), nil
	case "left":
		return fill(missing) + s, nil
	case "both":
		left := missing / 2
		return fill(left) + s + fill(missing-left), nil
	default:
		return nil, fmt.Errorf("str_pad: unknown side %q", side)
	}
}

// substr follows the usual negative-offset conventions: a negative start
// counts from the end, a negative length stops that many runes short of it.
func substr(args ...any) (any, error) {
	if err := arity("substr", args, 2); err != nil {
		return nil, err
	}
	s, err := toText(args[0])
	if err != nil {
		return nil, err
	}
	rs := []rune(s)
	n := len(rs)
	start, err := cast.ToIntE(args[1])
	if err != nil {
		return nil, fmt.Errorf("substr: start: %w", err)
	}
	if start < 0 {
		start = max(n+start, 0)
	}
	if start > n {
		return "", nil
	}
	end := n
	if len(args) > 2 && args[2] != nil {
		length, err := cast.ToIntE(args[2])
		if err != nil {
			return nil, fmt.Errorf("substr: length: %w", err)
		}
		if length < 0 {
			end = n + length
		} else {
			end = min(start+length, n)
		}
	}
	if end <= start {
		return "", nil
	}
	return string(rs[start:end]), nil
}

func explode(args ...any) (any, error) {
	if err := arity("explode", args, 2); err != nil {
		return nil, err
	}
	sep := cast.ToString(args[0])
	if sep == "" {
		return nil, fmt.Errorf("explode: empty delimiter")
	}
	s, err := toText(args[1])
	if err != nil {
		return nil, err
	}
	parts := strings.Split(s, sep)
	out := make([]any, len(parts))
	for i, p := range parts {
		out[i] = p
	}
	return out, nil
}

// implode joins a list. Called with one argument the glue is empty.
func implode(args ...any) (any, error) {
	if err := arity("implode", args, 1); err != nil {
		return nil, err
	}
	glue, list := "", args[0]
	if len(args) > 1 {
		glue, list = cast.ToString(args[0]), args[1]
	}
	items, err := cast.ToStringSliceE(list)
	if err != nil {
		return nil, fmt.Errorf("implode: %w", err)
	}
	return strings.Join(items, glue), nil
}

// ── Conversions ────────────────────────────────────────────

// numericPrefix returns the leading numeric part of s after whitespace,
// e.g. "  42abc" -> "42", "-3.5e2x" -> "-3.5e2".
func numericPrefix(s string, allowFloat bool) string {
	s = strings.TrimLeft(s, phpSpace)
	i := 0
	if i < len(s) && (s[i] == '+' || s[i] == '-') {
		i++
	}
	digits := func() int {
		n := 0
		for i < len(s) && s[i] >= '0' && s[i] <= '9' {
			i++
			n++
		}
		return n
	}
	intDigits := digits()
	if !allowFloat {
		if intDigits == 0 {
			return ""
		}
		return s[:i]
	}
	fracDigits := 0
	if i < len(s) && s[i] == '.' {
		save := i
		i++
		fracDigits = digits()
		if fracDigits == 0 && intDigits == 0 {
			i = save
		}
	}
	if intDigits == 0 && fracDigits == 0 {
		return ""
	}
	if i < len(s) && (s[i] == 'e' || s[i] == 'E') {
		save := i
		i++
		if i < len(s) && (s[i] == '+' || s[i] == '-') {
			i++
		}
		if digits() == 0 {
			i = save
		}
	}
	return s[:i]
}

func intval(args ...any) (any, error) {
	switch v := argOr(args, 0, nil).(type) {
	case nil:
		return 0, nil
	case string:
		p := numericPrefix(v, false)
		if p == "" {
			return 0, nil
		}
		n, err := strconv.Atoi(p)
		if err != nil {
			return nil, fmt.Errorf("intval: %w", err)
		}
		return n, nil
	case float32, float64:
		return int(cast.ToFloat64(v)), nil
	default:
		n, err := cast.ToIntE(v)
		if err != nil {
			return nil, fmt.Errorf("intval: %w", err)
		}
		return n, nil
	}
}

func toFloat(v any) (float64, error) {
	switch t := v.(type) {
	case nil:
		return 0, nil
	case string:
		p := numericPrefix(t, true)
		if p == "" {
			return 0, nil
		}
		return strconv.ParseFloat(p, 64)
	default:
		return cast.ToFloat64E(v)
	}
}

func floatval(args ...any) (any, error) {
	f, err := toFloat(argOr(args, 0, nil))
	if err != nil {
		return nil, fmt.Errorf("floatval: %w", err)
	}
	return f, nil
}

func boolval(args ...any) (any, error) {
	switch v := argOr(args, 0, nil).(type) {
	case nil:
		return false, nil
	case string:
		return v != "" && v != "0", nil
	case bool:
		return v, nil
	default:
		if b, err := cast.ToBoolE(v); err == nil {
			return b, nil
		}
		return !IsBlank(v), nil
	}
}

func strval(args ...any) (any, error) {
	switch v := argOr(args, 0, nil).(type) {
	case bool:
		if v {
			return "1", nil
		}
		return "", nil
	default:
		return toText(v)
	}
}

// ── Numbers ────────────────────────────────────────────────

func absval(args ...any) (any, error) {
	v := argOr(args, 0, nil)
	switch v.(type) {
	case int, int8, int16, int32, int64:
		n := cast.ToInt(v)
		if n < 0 {
			n = -n
		}
		return n, nil
	}
	f, err := toFloat(v)
	if err != nil {
		return nil, fmt.Errorf("abs: %w", err)
	}
	return math.Abs(f), nil
}

func floatOp(op func(float64) float64) Func {
	return func(args ...any) (any, error) {
		f, err := toFloat(argOr(args, 0, nil))
		if err != nil {
			return nil, err
		}
		return op(f), nil
	}
}

// roundTo rounds f to precision decimal places. A precision finer than f
// can hold leaves f unchanged; one coarser than any float64 gives 0.
func roundTo(f float64, precision int) float64 {
	p := math.Pow(10, float64(precision))
	switch {
	case p == 0:
		return 0
	case math.IsInf(p, 0) || math.IsInf(f*p, 0):
		return f
	}
	return math.Round(f*p) / p
}

func round(args ...any) (any, error) {
	f, err := toFloat(argOr(args, 0, nil))
	if err != nil {
		return nil, fmt.Errorf("round: %w", err)
	}
	precision, err := cast.ToIntE(argOr(args, 1, 0))
	if err != nil {
		return nil, fmt.Errorf("round: precision: %w", err)
	}
	return roundTo(f, precision), nil
}

// numberFormat formats value with decimals places, a decimal point and a
// thousands separator ("." and "," by default).
func numberFormat(args ...any) (any, error) {
	f, err := toFloat(argOr(args, 0, nil))
	if err != nil {
		return nil, fmt.Errorf("number_format: %w", err)
	}
	decimals, err := cast.ToIntE(argOr(args, 1, 0))
	if err != nil || decimals < 0 {
		return nil, fmt.Errorf("number_format: invalid decimals %v", argOr(args, 1, 0))
	}
	point := cast.ToString(argOr(args, 2, "."))
	sep := cast.ToString(argOr(args, 3, ","))

	text := strconv.FormatFloat(math.Abs(roundTo(f, decimals)), 'f', decimals, 64)
	whole, frac, _ := strings.Cut(text, ".")

	var b strings.Builder
	if f < 0 && strings.Trim(text, "0.") != "" {
		b.WriteByte('-')
	}
	for i, d := range whole {
		if i > 0 && (len(whole)-i)%3 == 0 {
			b.WriteString(sep)
		}
		b.WriteRune(d)
	}
	if decimals > 0 {
		b.WriteString(point)
		b.WriteString(frac)
	}
	return b.String(), nil
}

// ── JSON ───────────────────────────────────────────────────

func jsonEncode(args ...any) (any, error) {
	b, err := json.Marshal(argOr(args, 0, nil))
	if err != nil {
		return nil, fmt.Errorf("json_encode: %w", err)
	}
	return string(b), nil
}

func jsonDecode(args ...any) (any, error) {
	s, err := toText(argOr(args, 0, nil))
	if err != nil {
		return nil, err
	}
	var out any
	if err := json.Unmarshal([]byte(s), &out); err != nil {
		return nil, fmt.Errorf("json_decode: %w", err)
	}
	return out, nil
}

// ── Blank handling ─────────────────────────────────────────

func nullable(args ...any) (any, error) {
	v := argOr(args, 0, nil)
	if IsBlank(v) {
		return nil, nil
	}
	return v, nil
}

// defaultValue returns fallback when value is blank. Without a fallback the
// value is returned unchanged.
func defaultValue(args ...any) (any, error) {
	v := argOr(args, 0, nil)
	if len(args) > 1 && IsBlank(v) {
		return args[1], nil
	}
	return v, nil
}
