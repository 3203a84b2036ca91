package pipeline

import (
	"reflect"
	"strings"
)

// IsBlank reports whether v counts as blank for the '?' step: nil, nil
// pointers and interfaces, strings that are empty once whitespace is
// trimmed, and empty slices, arrays and maps. false and 0 are not blank.
func IsBlank(v any) bool {
	switch t := v.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(t) == ""
	case []byte:
		return len(strings.TrimSpace(string(t))) == 0
	case bool:
		return false
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Interface:
		return rv.IsNil()
	case reflect.Slice, reflect.Map:
		return rv.IsNil() || rv.Len() == 0
	case reflect.Array:
		return rv.Len() == 0
	}
	return false
}
