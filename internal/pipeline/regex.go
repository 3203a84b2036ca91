package pipeline

import (
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/dlclark/regexp2"
)

// matchTimeout bounds a single match so a pathological pattern cannot stall
// a record.
const matchTimeout = 2 * time.Second

var (
	patternCache sync.Map // string -> *regexp2.Regexp
	backrefs     = regexp.MustCompile(`\\(\d+)`)
	closers      = map[byte]byte{'(': ')', '[': ']', '{': '}', '<': '>'}
)

// compilePattern compiles a delimiter-wrapped pattern such as "/[^0-9]/" or
// "#^a.c$#i". Supported flags are i, m, s, x and u (ignored).
func compilePattern(pattern string) (*regexp2.Regexp, error) {
	if re, ok := patternCache.Load(pattern); ok {
		return re.(*regexp2.Regexp), nil
	}

	body, opts, err := splitDelimited(pattern)
	if err != nil {
		return nil, err
	}
	re, err := regexp2.Compile(body, opts)
	if err != nil {
		return nil, fmt.Errorf("compile %q: %w", pattern, err)
	}
	re.MatchTimeout = matchTimeout
	patternCache.Store(pattern, re)
	return re, nil
}

func splitDelimited(pattern string) (string, regexp2.RegexOptions, error) {
	if len(pattern) < 2 {
		return "", 0, fmt.Errorf("pattern %q has no delimiters", pattern)
	}
	open := pattern[0]
	if open == '\\' || isAlnum(open) || open == ' ' {
		return "", 0, fmt.Errorf("pattern %q: delimiter must not be alphanumeric, backslash or space", pattern)
	}
	closeCh := open
	if c, ok := closers[open]; ok {
		closeCh = c
	}
	end := strings.LastIndexByte(pattern[1:], closeCh)
	if end < 0 {
		return "", 0, fmt.Errorf("pattern %q: no ending delimiter %q", pattern, closeCh)
	}
	end++

	var opts regexp2.RegexOptions
	for _, f := range pattern[end+1:] {
		switch f {
		case 'i':
			opts |= regexp2.IgnoreCase
		case 'm':
			opts |= regexp2.Multiline
		case 's':
			opts |= regexp2.Singleline
		case 'x':
			opts |= regexp2.IgnorePatternWhitespace
		case 'u':
		default:
			return "", 0, fmt.Errorf("pattern %q: unknown modifier %q", pattern, f)
		}
	}
	return pattern[1:end], opts, nil
}

func isAlnum(c byte) bool {
	return c >= '0' && c <= '9' || c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z'
}

// pregReplace(pattern, replacement, subject). Backreferences may be written
// as $1, ${1} or \1.
func pregReplace(args ...any) (any, error) {
	if err := arity("preg_replace", args, 3); err != nil {
		return nil, err
	}
	pattern, err := toText(args[0])
	if err != nil {
		return nil, err
	}
	re, err := compilePattern(pattern)
	if err != nil {
		return nil, fmt.Errorf("preg_replace: %w", err)
	}
	subject, err := toText(args[2])
	if err != nil {
		return nil, err
	}
	repl, err := toText(args[1])
	if err != nil {
		return nil, err
	}
	out, err := re.Replace(subject, backrefs.ReplaceAllString(repl, `$${$1}`), -1, -1)
	if err != nil {
		return nil, fmt.Errorf("preg_replace: %w", err)
	}
	return out, nil
}

// pregMatch(pattern, subject) returns 1 on a match and 0 otherwise.
func pregMatch(args ...any) (any, error) {
	if err := arity("preg_match", args, 2); err != nil {
		return nil, err
	}
	pattern, err := toText(args[0])
	if err != nil {
		return nil, err
	}
	re, err := compilePattern(pattern)
	if err != nil {
		return nil, fmt.Errorf("preg_match: %w", err)
	}
	subject, err := toText(args[1])
	if err != nil {
		return nil, err
	}
	ok, err := re.MatchString(subject)
	if err != nil {
		return nil, fmt.Errorf("preg_match: %w", err)
	}
	if ok {
		return 1, nil
	}
	return 0, nil
}
