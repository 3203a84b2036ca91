package sources

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"gopkg.in/yaml.v3"

	"recordpipe/internal/etl"
)

// ── Decoding ───────────────────────────────────────────────
// Shared by the file and http sources and by callers that read records
// from a stream. JSON numbers become int64 when integral and float64
// otherwise, whichever of json or jsonl they arrive in.

// Formats lists the names Decode accepts.
var Formats = []string{"json", "jsonl", "yaml", "csv"}

// Decode reads every record in r. json and yaml accept a single object or a
// list of objects, jsonl one object per line, and csv a header row followed
// by string cells.
func Decode(r io.Reader, format string) ([]etl.Record, error) {
	switch format {
	case "csv":
		headers, rows, err := decodeCSV(r, ',', true)
		if err != nil {
			return nil, err
		}
		return csvRecords(headers, rows, false), nil
	case "json", "jsonl", "yaml":
	default:
		return nil, fmt.Errorf("unknown input format %q", format)
	}

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read input: %w", err)
	}
	switch format {
	case "jsonl":
		return decodeJSONLines(data, false)
	case "yaml":
		raw, err := decodeYAML(data)
		if err != nil {
			return nil, err
		}
		return toRecords(raw, false)
	default:
		raw, err := decodeJSON(bytes.NewReader(data))
		if err != nil {
			return nil, err
		}
		return toRecords(raw, false)
	}
}

func decodeJSON(r io.Reader) (any, error) {
	dec := json.NewDecoder(r)
	dec.UseNumber()
	var raw any
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("parse json: %w", err)
	}
	return normalizeNumbers(raw), nil
}

func decodeJSONLines(data []byte, flatten bool) ([]etl.Record, error) {
	var records []etl.Record
	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		text := bytes.TrimSpace(scanner.Bytes())
		if len(text) == 0 {
			continue
		}
		raw, err := decodeJSON(bytes.NewReader(text))
		if err != nil {
			return nil, fmt.Errorf("json line %d: %w", line, err)
		}
		m, ok := raw.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("json line %d: expected an object, got %T", line, raw)
		}
		if flatten {
			m = flattenMap(m)
		}
		records = append(records, etl.Record{Data: m})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan json lines: %w", err)
	}
	return records, nil
}

func decodeYAML(data []byte) (any, error) {
	var raw any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse yaml: %w", err)
	}
	return raw, nil
}

// decodeCSV returns the header and data rows. Without a header row the
// columns are named col_1, col_2 and so on.
func decodeCSV(r io.Reader, comma rune, hasHeader bool) ([]string, [][]string, error) {
	reader := csv.NewReader(r)
	if comma != 0 {
		reader.Comma = comma
	}
	reader.LazyQuotes = true
	reader.FieldsPerRecord = -1

	records, err := reader.ReadAll()
	if err != nil {
		return nil, nil, fmt.Errorf("parse csv: %w", err)
	}
	if len(records) == 0 {
		return nil, nil, fmt.Errorf("empty csv input")
	}

	if hasHeader {
		headers := records[0]
		for i, h := range headers {
			headers[i] = strings.TrimSpace(strings.TrimPrefix(h, "\ufeff"))
		}
		return headers, records[1:], nil
	}

	headers := make([]string, len(records[0]))
	for i := range headers {
		headers[i] = fmt.Sprintf("col_%d", i+1)
	}
	return headers, records, nil
}

// csvRecords pairs cells with headers. Short rows leave the missing
// columns out.
func csvRecords(headers []string, rows [][]string, infer bool) []etl.Record {
	records := make([]etl.Record, 0, len(rows))
	for _, row := range rows {
		data := make(map[string]any, len(headers))
		for j, h := range headers {
			if j >= len(row) {
				continue
			}
			if infer {
				data[h] = inferCSVValue(row[j])
			} else {
				data[h] = row[j]
			}
		}
		records = append(records, etl.Record{Data: data})
	}
	return records
}

// normalizeNumbers replaces json.Number values in place.
func normalizeNumbers(v any) any {
	switch t := v.(type) {
	case json.Number:
		if i, err := t.Int64(); err == nil {
			return i
		}
		f, _ := t.Float64()
		return f
	case map[string]any:
		for k, x := range t {
			t[k] = normalizeNumbers(x)
		}
		return t
	case []any:
		for i, x := range t {
			t[i] = normalizeNumbers(x)
		}
		return t
	default:
		return v
	}
}
