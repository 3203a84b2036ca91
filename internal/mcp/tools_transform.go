package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"

	"recordpipe/internal/pipeline"
	"recordpipe/internal/specfile"
)

func (s *Server) registerTransformTools() {
	s.mcp.AddTool(mcp.NewTool("transform_record",
		mcp.WithDescription(`Rewrite a record with field pipelines. spec is a YAML or JSON document mapping field names to pipelines, e.g. {"email": "trim|strtolower", "joined": "Date|->format:Y-m-d"}, optionally wrapped as {"fields": {...}, "allow": [...]}. Fields without a pipeline are copied unchanged.`),
		mcp.WithString("record", mcp.Description("JSON object to transform"), mcp.Required()),
		mcp.WithString("spec", mcp.Description("Field pipeline document (YAML or JSON)"), mcp.Required()),
		mcp.WithString("allow", mcp.Description("Custom function names to permit for this call (JSON array or comma separated). Extended functions such as getenv or file_get_contents are only permitted by the server's own allow list")),
	), s.handleTransformRecord)

	s.mcp.AddTool(mcp.NewTool("list_functions",
		mcp.WithDescription("List the functions and value types usable in a pipeline, with their tier and whether the guard currently permits them"),
	), s.handleListFunctions)
}

func (s *Server) handleTransformRecord(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := req.GetArguments()

	var record pipeline.Record
	ok, err := decodeArg(args, "record", &record)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("record is required")
	}

	doc, err := specArg(args)
	if err != nil {
		return nil, err
	}

	allow := append(doc.Allow, stringListArg(args, "allow")...)
	out, err := s.engine.Transformer(allow).Transform(record, doc.Fields)
	if err != nil {
		return nil, fmt.Errorf("transform: %w", err)
	}
	return jsonResult(out)
}

// specArg reads the "spec" argument, which may be YAML/JSON text or an
// already-decoded object.
func specArg(args map[string]any) (*specfile.Document, error) {
	var data []byte
	switch v := args["spec"].(type) {
	case nil:
		return nil, fmt.Errorf("spec is required")
	case string:
		if v == "" {
			return nil, fmt.Errorf("spec is required")
		}
		data = []byte(v)
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("spec: %w", err)
		}
		data = b
	}
	doc, err := specfile.Parse(data)
	if err != nil {
		return nil, err
	}
	return doc, nil
}

type functionInfo struct {
	pipeline.Entry
	Permitted bool `json:"permitted"`
}

func (s *Server) listFunctions() []functionInfo {
	reg := s.engine.Registry
	if reg == nil {
		reg = pipeline.NewStandardRegistry()
	}
	guard := s.engine.Guard
	if guard == nil {
		guard = pipeline.DefaultGuard
	}

	entries := reg.Entries()
	out := make([]functionInfo, 0, len(entries))
	for _, e := range entries {
		out = append(out, functionInfo{
			Entry:     e,
			Permitted: guard.Permits(e.Name) || reg.IsSafe(e.Name),
		})
	}
	return out
}

func (s *Server) handleListFunctions(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return jsonResult(s.listFunctions())
}
