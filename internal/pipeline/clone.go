package pipeline

// cloneValue copies the container types that records are decoded into so
// an output record never shares a mutable map or slice with its input.
// Other values are returned as-is.
func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		if t == nil {
			return t
		}
		m := make(map[string]any, len(t))
		for k, x := range t {
			m[k] = cloneValue(x)
		}
		return m
	case []any:
		if t == nil {
			return t
		}
		s := make([]any, len(t))
		for i, x := range t {
			s[i] = cloneValue(x)
		}
		return s
	case []string:
		return append([]string(nil), t...)
	case []byte:
		return append([]byte(nil), t...)
	default:
		return v
	}
}
