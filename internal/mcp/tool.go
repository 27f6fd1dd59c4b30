package mcp

import (
	"context"
	"encoding/json"
	"strings"

	sdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/haasonsaas/grip/internal/tools"
)

// remoteTool adapts one MCP server tool to the registry contract. Call
// results are flattened to the concatenated text blocks of the response.
type remoteTool struct {
	server  string
	session *sdk.ClientSession
	tool    *sdk.Tool
}

func (t *remoteTool) Name() string {
	return "mcp_" + sanitizeName(t.server) + "_" + sanitizeName(t.tool.Name)
}

func (t *remoteTool) Description() string {
	if t.tool.Description != "" {
		return t.tool.Description
	}
	return "Tool provided by MCP server " + t.server
}

func (t *remoteTool) Category() string { return "mcp" }

// Parameters normalizes the remote input schema into an object schema the
// function-calling APIs accept.
func (t *remoteTool) Parameters() json.RawMessage {
	fallback := json.RawMessage(`{"type":"object","properties":{}}`)
	if t.tool.InputSchema == nil {
		return fallback
	}
	data, err := json.Marshal(t.tool.InputSchema)
	if err != nil {
		return fallback
	}
	var schema map[string]any
	if err := json.Unmarshal(data, &schema); err != nil || schema == nil {
		return fallback
	}
	if schema["type"] != "object" {
		schema["type"] = "object"
	}
	if _, ok := schema["properties"]; !ok {
		schema["properties"] = map[string]any{}
	}
	out, err := json.Marshal(schema)
	if err != nil {
		return fallback
	}
	return out
}

func (t *remoteTool) Execute(ctx context.Context, params map[string]any, _ *tools.Context) (any, error) {
	if params == nil {
		params = map[string]any{}
	}
	result, err := t.session.CallTool(ctx, &sdk.CallToolParams{
		Name:      t.tool.Name,
		Arguments: params,
	})
	if err != nil {
		return "Error: MCP call failed: " + err.Error(), nil
	}

	var texts []string
	for _, block := range result.Content {
		if text, ok := block.(*sdk.TextContent); ok {
			texts = append(texts, text.Text)
		}
	}
	output := strings.Join(texts, "\n")
	if result.IsError {
		if output == "" {
			output = "MCP tool reported an error"
		}
		return "Error: " + output, nil
	}
	if output == "" {
		return "(no text content)", nil
	}
	return output, nil
}

func sanitizeName(s string) string {
	replacer := strings.NewReplacer(" ", "_", "/", "_", ":", "_", "-", "_", ".", "_")
	return replacer.Replace(s)
}
