// Package specfile reads field-pipeline documents from YAML or JSON.
//
// A document is either a bare mapping of field name to spec:
//
//	first_name: trim|ucfirst
//	password:
//	  - trim
//	  - 'preg_replace:/[^0-9]/,,:value:'
//
// or a mapping with a "fields" section and an optional "allow" list of
// custom function names that should pass the guard:
//
//	fields:
//	  email: trim|strtolower
//	allow: [normalize_phone]
package specfile

import (
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"

	"recordpipe/internal/pipeline"
)

// Document is a parsed spec document.
type Document struct {
	Fields pipeline.Specs `json:"fields" yaml:"fields"`
	Allow  []string       `json:"allow,omitempty" yaml:"allow,omitempty"`
}

// LoadFile reads and parses the document at path.
func LoadFile(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read spec file %s: %w", path, err)
	}
	doc, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return doc, nil
}

// Parse decodes a document. JSON input is accepted since it is valid YAML.
func Parse(data []byte) (*Document, error) {
	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse spec document: %w", err)
	}

	doc := &Document{}
	fields := raw
	if section, ok := raw["fields"].(map[string]any); ok {
		fields = section
		allow, err := stringList(raw["allow"])
		if err != nil {
			return nil, fmt.Errorf("allow: %w", err)
		}
		doc.Allow = allow
		for k := range raw {
			if k != "fields" && k != "allow" {
				return nil, fmt.Errorf("unknown top-level key %q", k)
			}
		}
	}

	specs, err := Normalize(fields)
	if err != nil {
		return nil, err
	}
	doc.Fields = specs
	return doc, nil
}

// Normalize checks that every spec is a string or a list of strings and
// returns specs in the form the transformer accepts. Lists become []any.
func Normalize(fields map[string]any) (pipeline.Specs, error) {
	specs := make(pipeline.Specs, len(fields))
	for _, name := range sortedKeys(fields) {
		switch v := fields[name].(type) {
		case string:
			specs[name] = v
		case nil:
			specs[name] = ""
		case []any, []string:
			list, err := stringList(v)
			if err != nil {
				return nil, fmt.Errorf("field %q: %w", name, err)
			}
			tokens := make([]any, len(list))
			for i, s := range list {
				tokens[i] = s
			}
			specs[name] = tokens
		default:
			return nil, fmt.Errorf("field %q: spec must be a string or a list of strings, got %T", name, v)
		}
	}
	return specs, nil
}

// Marshal encodes a document as YAML.
func Marshal(doc *Document) ([]byte, error) {
	return yaml.Marshal(doc)
}

func stringList(v any) ([]string, error) {
	switch list := v.(type) {
	case nil:
		return nil, nil
	case []string:
		return list, nil
	case []any:
		out := make([]string, len(list))
		for i, item := range list {
			s, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("item %d: expected a string, got %T", i, item)
			}
			out[i] = s
		}
		return out, nil
	}
	return nil, fmt.Errorf("expected a list of strings, got %T", v)
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
