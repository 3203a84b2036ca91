package etl

import (
	"reflect"
	"sort"
	"time"
)

// ── Record ─────────────────────────────────────────────────
// Sources emit Records, field pipelines rewrite them, destinations
// consume them.

// Field describes a single column in a dataset.
type Field struct {
	Name string `json:"name"`
	Type string `json:"type"` // "text" | "number" | "boolean" | "datetime" | "json"
}

// Schema describes the shape of records.
type Schema struct {
	Fields []Field `json:"fields"`
}

// FieldNames returns an ordered list of field names.
func (s *Schema) FieldNames() []string {
	names := make([]string, len(s.Fields))
	for i, f := range s.Fields {
		names[i] = f.Name
	}
	return names
}

// Record is a single row of data flowing through a job.
type Record struct {
	Data map[string]any `json:"data"`
}

// InferSchema builds a schema from the keys present in records. Field
// order is sorted by name; the type is taken from the first non-nil value.
func InferSchema(records []Record) *Schema {
	types := make(map[string]string)
	for _, rec := range records {
		for k, v := range rec.Data {
			if t, seen := types[k]; !seen || (t == "" && v != nil) {
				types[k] = inferTypeOrEmpty(v)
			}
		}
	}

	names := make([]string, 0, len(types))
	for name := range types {
		names = append(names, name)
	}
	sort.Strings(names)

	schema := &Schema{Fields: make([]Field, 0, len(names))}
	for _, name := range names {
		t := types[name]
		if t == "" {
			t = "text"
		}
		schema.Fields = append(schema.Fields, Field{Name: name, Type: t})
	}
	return schema
}

// InferType maps a Go value to a schema field type.
func InferType(v any) string {
	if t := inferTypeOrEmpty(v); t != "" {
		return t
	}
	return "text"
}

func inferTypeOrEmpty(v any) string {
	if v == nil {
		return ""
	}
	switch v.(type) {
	case time.Time, interface{ Time() time.Time }:
		return "datetime"
	}
	switch reflect.TypeOf(v).Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		return "number"
	case reflect.Bool:
		return "boolean"
	case reflect.Map, reflect.Slice, reflect.Array:
		return "json"
	default:
		return "text"
	}
}
