package mcpserver

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cast"
)

// decodeArg decodes a tool argument that may arrive either as a JSON
// string or as an already-decoded value.
func decodeArg(args map[string]any, key string, target any) (bool, error) {
	raw, ok := args[key]
	if !ok || raw == nil || raw == "" {
		return false, nil
	}
	var data []byte
	if s, isString := raw.(string); isString {
		data = []byte(s)
	} else {
		b, err := json.Marshal(raw)
		if err != nil {
			return false, fmt.Errorf("%s: %w", key, err)
		}
		data = b
	}
	if err := json.Unmarshal(data, target); err != nil {
		return false, fmt.Errorf("parse %s: %w", key, err)
	}
	return true, nil
}

// stringListArg reads a list of strings given as an array or a
// comma-separated string.
func stringListArg(args map[string]any, key string) []string {
	switch v := args[key].(type) {
	case nil:
		return nil
	case string:
		if v == "" {
			return nil
		}
		var list []string
		if json.Unmarshal([]byte(v), &list) == nil {
			return list
		}
		return splitComma(v)
	default:
		return cast.ToStringSlice(v)
	}
}

func intArg(args map[string]any, key string, fallback int) int {
	n, err := cast.ToIntE(args[key])
	if err != nil || n <= 0 {
		return fallback
	}
	return n
}

func splitComma(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
