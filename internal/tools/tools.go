// Package tools defines the tool contract the agent loop dispatches
// through, the registry that holds the built-in tools, and the built-in
// tools themselves.
package tools

import (
	"context"
	"encoding/json"

	"github.com/squidbot/squidbot/pkg/models"
)

// Tool is one callable capability exposed to the model.
type Tool interface {
	// Name is the identifier the model calls the tool by.
	Name() string
	// Description tells the model what the tool does and when to use it.
	Description() string
	// Schema is the JSON schema for the tool's arguments.
	Schema() map[string]any
	// Execute runs the tool. The returned string is shown to the model;
	// an error becomes an error-valued tool result, never a crash.
	Execute(ctx context.Context, args map[string]any) (string, error)
}

// definition builds the wire-facing definition for a tool.
func definition(t Tool) models.ToolDefinition {
	return models.ToolDefinition{
		Name:        t.Name(),
		Description: t.Description(),
		Parameters:  t.Schema(),
	}
}

// Definitions maps a tool slice to wire definitions, preserving order.
func Definitions(ts []Tool) []models.ToolDefinition {
	defs := make([]models.ToolDefinition, 0, len(ts))
	for _, t := range ts {
		defs = append(defs, definition(t))
	}
	return defs
}

// decodeArgs maps loosely-typed call arguments onto a typed parameter
// struct through a JSON round trip.
func decodeArgs(args map[string]any, v any) error {
	data, err := json.Marshal(args)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}
