package sources

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cast"

	"recordpipe/internal/etl"
)

// ── Shared helpers ─────────────────────────────────────────

// emitAll streams pre-loaded records through a channel pair.
func emitAll(ctx context.Context, load func() ([]etl.Record, error)) (<-chan etl.Record, <-chan error) {
	out := make(chan etl.Record, 100)
	errCh := make(chan error, 1)

	go func() {
		defer close(out)
		defer close(errCh)

		records, err := load()
		if err != nil {
			errCh <- err
			return
		}
		for _, rec := range records {
			select {
			case out <- rec:
			case <-ctx.Done():
				return
			}
		}
	}()

	return out, errCh
}

func configString(cfg etl.SourceConfig, key string) string {
	return strings.TrimSpace(cast.ToString(cfg[key]))
}

// configBool reads a bool that may be stored as a bool or as "true"/"false".
func configBool(cfg etl.SourceConfig, key string, fallback bool) bool {
	v, ok := cfg[key]
	if !ok || v == nil || v == "" {
		return fallback
	}
	b, err := cast.ToBoolE(v)
	if err != nil {
		return fallback
	}
	return b
}

func configInt(cfg etl.SourceConfig, key string, fallback int) int {
	n, err := cast.ToIntE(cfg[key])
	if err != nil || n <= 0 {
		return fallback
	}
	return n
}

// navigatePath walks a dot-separated path into nested maps and lists.
// Numeric parts index into lists.
func navigatePath(obj any, path string) (any, error) {
	if path == "" {
		return obj, nil
	}
	current := obj
	for _, part := range strings.Split(path, ".") {
		switch v := current.(type) {
		case map[string]any:
			next, ok := v[part]
			if !ok {
				return nil, fmt.Errorf("invalid data path: %q not found", part)
			}
			current = next
		case []any:
			i, err := strconv.Atoi(part)
			if err != nil || i < 0 || i >= len(v) {
				return nil, fmt.Errorf("invalid data path: index %q out of range", part)
			}
			current = v[i]
		default:
			return nil, fmt.Errorf("invalid data path: %q is not a container", part)
		}
	}
	return current, nil
}

// toRecords converts a decoded document into records. A list yields one
// record per object element; a single object yields one record.
func toRecords(raw any, flatten bool) ([]etl.Record, error) {
	wrap := func(m map[string]any) etl.Record {
		if flatten {
			m = flattenMap(m)
		}
		return etl.Record{Data: m}
	}

	switch v := raw.(type) {
	case []any:
		records := make([]etl.Record, 0, len(v))
		for i, item := range v {
			m, ok := item.(map[string]any)
			if !ok {
				return nil, fmt.Errorf("item %d: expected an object, got %T", i, item)
			}
			records = append(records, wrap(m))
		}
		return records, nil
	case map[string]any:
		return []etl.Record{wrap(v)}, nil
	case nil:
		return nil, nil
	}
	return nil, fmt.Errorf("expected an object or a list of objects, got %T", raw)
}

// flattenMap keeps scalar values and serializes nested objects and lists
// as JSON strings.
func flattenMap(m map[string]any) map[string]any {
	flat := make(map[string]any, len(m))
	for k, v := range m {
		switch v.(type) {
		case map[string]any, []any:
			b, _ := json.Marshal(v)
			flat[k] = string(b)
		default:
			flat[k] = v
		}
	}
	return flat
}
