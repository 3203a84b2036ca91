package mcpserver

import (
	"context"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
)

func (s *Server) registerPrompts() {
	s.mcp.AddPrompt(mcp.NewPrompt("write_field_spec",
		mcp.WithPromptDescription("Write field pipelines that clean a sample record"),
		mcp.WithArgument("record",
			mcp.ArgumentDescription("Sample record as JSON"),
			mcp.RequiredArgument(),
		),
		mcp.WithArgument("goal",
			mcp.ArgumentDescription("What the cleaned record should look like"),
			mcp.RequiredArgument(),
		),
	), s.handleFieldSpecPrompt)

	s.mcp.AddPrompt(mcp.NewPrompt("data_pipeline",
		mcp.WithPromptDescription("Set up a source → pipelines → dataset job"),
		mcp.WithArgument("sourceType",
			mcp.ArgumentDescription("Source type (e.g. csv, json, http, database)"),
			mcp.RequiredArgument(),
		),
		mcp.WithArgument("description",
			mcp.ArgumentDescription("What this pipeline does"),
			mcp.RequiredArgument(),
		),
	), s.handleDataPipelinePrompt)
}

func (s *Server) handleFieldSpecPrompt(ctx context.Context, req mcp.GetPromptRequest) (*mcp.GetPromptResult, error) {
	record := req.Params.Arguments["record"]
	goal := req.Params.Arguments["goal"]
	return &mcp.GetPromptResult{
		Description: "Write field pipelines for a record",
		Messages: []mcp.PromptMessage{
			{
				Role: mcp.RoleUser,
				Content: mcp.TextContent{
					Type: "text",
					Text: fmt.Sprintf(`Write a field spec that turns this record:

%s

into: %s

Follow these steps:

1. Read recordpipe://functions (or call list_functions) to see what a pipeline can call. Only use permitted entries.
2. Write one pipeline per field as pipe-separated steps, e.g. "trim|strtolower". Arguments follow a colon and are comma separated; ":value:" stands for the current value.
3. Start a pipeline with "?" to stop at blank values, and use "Date|->format:Y-m-d" or "Str|->slug" to call value-type methods.
4. Check the result with transform_record before using the spec in create_job.`, record, goal),
				},
			},
		},
	}, nil
}

func (s *Server) handleDataPipelinePrompt(ctx context.Context, req mcp.GetPromptRequest) (*mcp.GetPromptResult, error) {
	sourceType := req.Params.Arguments["sourceType"]
	description := req.Params.Arguments["description"]
	return &mcp.GetPromptResult{
		Description: fmt.Sprintf("Set up a %s data pipeline", sourceType),
		Messages: []mcp.PromptMessage{
			{
				Role: mcp.RoleUser,
				Content: mcp.TextContent{
					Type: "text",
					Text: fmt.Sprintf(`Set up a data pipeline: %s. Follow these steps:

1. Use list_sources to find the config fields of source type "%s"
2. Use discover_schema to see the fields the source produces
3. Write field pipelines for the fields that need cleaning (see the write_field_spec prompt)
4. Create the job with create_job, using a "store" output so the rows land in a dataset
5. Check the output with preview_job, then run it with run_job
6. Inspect the result with read_dataset and list_run_logs`, description, sourceType),
				},
			},
		},
	}, nil
}
