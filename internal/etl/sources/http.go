package sources

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/cast"

	"recordpipe/internal/etl"
)

// ── HTTP Source ─────────────────────────────────────────────
// Fetches records from a JSON REST endpoint.

// HTTPClient is the client used by the http source.
var HTTPClient = &http.Client{Timeout: 30 * time.Second}

type httpSource struct{}

func init() { etl.RegisterSource(&httpSource{}) }

func (s *httpSource) Spec() etl.SourceSpec {
	return etl.SourceSpec{
		Type:  "http",
		Label: "HTTP API",
		ConfigFields: []etl.ConfigField{
			{Key: "url", Label: "URL", Type: "string", Required: true, Help: "Full URL to fetch (e.g., https://api.example.com/users)"},
			{Key: "method", Label: "Method", Type: "select", Options: []string{"GET", "POST"}, Default: "GET"},
			{Key: "headers", Label: "Headers", Type: "json", Help: "Object of headers (e.g., {\"Authorization\": \"Bearer xxx\"})"},
			{Key: "body", Label: "Body", Type: "string", Help: "Request body (for POST)"},
			{Key: "dataPath", Label: "Data Path", Type: "string", Help: "Dot-separated path to the array in the response (e.g., 'data.items')"},
			{Key: "flatten", Label: "Flatten", Type: "bool", Default: "false", Help: "Serialize nested objects and arrays as JSON strings"},
		},
	}
}

func (s *httpSource) Discover(ctx context.Context, cfg etl.SourceConfig) (*etl.Schema, error) {
	records, err := fetchHTTP(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return etl.InferSchema(records), nil
}

func (s *httpSource) Read(ctx context.Context, cfg etl.SourceConfig) (<-chan etl.Record, <-chan error) {
	return emitAll(ctx, func() ([]etl.Record, error) { return fetchHTTP(ctx, cfg) })
}

func fetchHTTP(ctx context.Context, cfg etl.SourceConfig) ([]etl.Record, error) {
	url := configString(cfg, "url")
	if url == "" {
		return nil, fmt.Errorf("url is required")
	}

	method := strings.ToUpper(configString(cfg, "method"))
	if method == "" {
		method = http.MethodGet
	}

	var bodyReader io.Reader
	if body := cast.ToString(cfg["body"]); body != "" {
		bodyReader = strings.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	if raw, ok := cfg["headers"]; ok && raw != nil && raw != "" {
		headers, err := cast.ToStringMapStringE(raw)
		if err != nil {
			return nil, fmt.Errorf("headers: %w", err)
		}
		for k, v := range headers {
			req.Header.Set(k, v)
		}
	}

	resp, err := HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("http %d: %s", resp.StatusCode, string(body))
	}

	raw, err := decodeJSON(resp.Body)
	if err != nil {
		return nil, err
	}

	raw, err = navigatePath(raw, configString(cfg, "dataPath"))
	if err != nil {
		return nil, err
	}
	return toRecords(raw, configBool(cfg, "flatten", false))
}
