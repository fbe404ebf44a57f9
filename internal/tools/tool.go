// Package tools implements the tool registry and the execution pipeline
// shared by every tool: parameter coercion, validation, per-session rate
// limiting, dispatch and result finalisation.
//
// Concrete tools live in the builtin, openapi and mcptool subpackages; this
// package only knows the [Tool] contract and enforces the pipeline so no
// implementation can skip validation or rate limiting.
package tools

import (
	"context"
	"fmt"
	"time"

	"github.com/shannon-ai/llm-gateway/pkg/types"
)

// Parameter types understood by the validator.
const (
	TypeString  = "string"
	TypeInteger = "integer"
	TypeNumber  = "number"
	TypeBoolean = "boolean"
	TypeArray   = "array"
	TypeObject  = "object"
)

// Parameter describes one tool argument.
type Parameter struct {
	// Name is the argument key.
	Name string `json:"name"`

	// Type is one of the Type* constants.
	Type string `json:"type"`

	// Description is surfaced in exported schemas.
	Description string `json:"description,omitempty"`

	// Required arguments must be present after coercion.
	Required bool `json:"required,omitempty"`

	// Default fills in a missing optional argument.
	Default any `json:"default,omitempty"`

	// Enum restricts the value to a fixed set.
	Enum []any `json:"enum,omitempty"`

	// MinValue and MaxValue clamp numeric values after coercion.
	MinValue *float64 `json:"min_value,omitempty"`
	MaxValue *float64 `json:"max_value,omitempty"`

	// Pattern is a regular expression string values must match.
	Pattern string `json:"pattern,omitempty"`

	// Items is the element type for array parameters. Required for arrays
	// so exported schemas stay valid OpenAI function schemas.
	Items string `json:"items,omitempty"`
}

// Metadata describes a tool to the registry and to models.
type Metadata struct {
	// Name is the registry key. Unique.
	Name string `json:"name"`

	// Description is included in schemas and selection summaries.
	Description string `json:"description"`

	// Category groups related tools ("web", "file", "compute", ...).
	Category string `json:"category,omitempty"`

	// Version is informational.
	Version string `json:"version,omitempty"`

	// Dangerous tools are excluded from selection when the caller asks for
	// safe tools only.
	Dangerous bool `json:"dangerous,omitempty"`

	// SessionAware tools receive the session context on dispatch.
	SessionAware bool `json:"session_aware,omitempty"`

	// RateLimit is the per-session requests-per-minute cap. Values of 100
	// or more disable enforcement so parallel agents are not throttled.
	RateLimit int `json:"rate_limit,omitempty"`

	// Parameters declares the accepted arguments.
	Parameters []Parameter `json:"parameters"`

	// AllowUnknown passes undeclared arguments through instead of rejecting
	// them. Set by tools whose upstream schema is not known locally, such as
	// remote MCP functions registered without a parameter list.
	AllowUnknown bool `json:"-"`
}

// SessionContext carries per-session state into session-aware tools.
type SessionContext struct {
	// SessionID scopes workspaces and rate limiting.
	SessionID string

	// AgentID identifies the calling agent, for logging.
	AgentID string
}

// Result is the outcome of one tool execution. Failures are values, not
// errors: a failed execution still returns a Result with Success=false.
type Result struct {
	Success         bool           `json:"success"`
	Output          any            `json:"output,omitempty"`
	Error           string         `json:"error,omitempty"`
	Metadata        map[string]any `json:"metadata,omitempty"`
	ExecutionTimeMs int64          `json:"execution_time_ms,omitempty"`
	ExecutedAt      time.Time      `json:"executed_at,omitzero"`
}

// Errorf builds a failed Result.
func Errorf(format string, args ...any) *Result {
	return &Result{Success: false, Error: fmt.Sprintf(format, args...)}
}

// Ok builds a successful Result.
func Ok(output any) *Result {
	return &Result{Success: true, Output: output}
}

// Tool is the contract every tool implements. Execute receives arguments
// that have already been coerced and validated against Metadata().Parameters.
type Tool interface {
	Metadata() *Metadata
	Execute(ctx context.Context, sess *SessionContext, args map[string]any) *Result
}

// Schema exports a tool's metadata as an OpenAI-style function schema.
func Schema(md *Metadata) types.FunctionSchema {
	properties := make(map[string]any, len(md.Parameters))
	var required []string
	for _, p := range md.Parameters {
		prop := map[string]any{"type": p.Type}
		if p.Description != "" {
			prop["description"] = p.Description
		}
		if len(p.Enum) > 0 {
			prop["enum"] = p.Enum
		}
		if p.Type == TypeArray {
			items := p.Items
			if items == "" {
				items = TypeString
			}
			prop["items"] = map[string]any{"type": items}
		}
		properties[p.Name] = prop
		if p.Required {
			required = append(required, p.Name)
		}
	}
	params := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		params["required"] = required
	}
	return types.FunctionSchema{
		Name:        md.Name,
		Description: md.Description,
		Parameters:  params,
	}
}
