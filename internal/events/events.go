// Package events emits lifecycle events to the agent orchestrator.
//
// Events are fire-and-forget: emission happens on a background goroutine
// with its own timeout, and failures are logged and dropped. A completion
// result must never depend on whether the orchestrator is reachable.
package events

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/shannon-ai/llm-gateway/pkg/types"
)

// Event types the gateway emits.
const (
	TypePrompt  = "LLM_PROMPT"
	TypePartial = "LLM_PARTIAL"
	TypeOutput  = "LLM_OUTPUT"
)

// Truncation limits per event type.
const (
	promptMaxChars = 500
	outputMaxChars = 4000

	// DefaultPartialChunkChars sizes LLM_PARTIAL chunks.
	DefaultPartialChunkChars = 512
)

// emitTimeout bounds each POST to the ingest endpoint.
const emitTimeout = 5 * time.Second

// Event is the wire payload posted to the orchestrator.
type Event struct {
	WorkflowID string         `json:"workflow_id"`
	Type       string         `json:"type"`
	AgentID    string         `json:"agent_id,omitempty"`
	Message    string         `json:"message"`
	Payload    map[string]any `json:"payload,omitempty"`
}

// Emitter posts events to the configured ingest URL. A nil Emitter, or one
// constructed with an empty URL, drops everything silently, so callers need
// no enabled-check.
type Emitter struct {
	url        string
	authToken  string
	chunkChars int
	client     *http.Client
}

// Option configures an Emitter.
type Option func(*Emitter)

// WithPartialChunkChars overrides the LLM_PARTIAL chunk size.
func WithPartialChunkChars(n int) Option {
	return func(e *Emitter) {
		if n > 0 {
			e.chunkChars = n
		}
	}
}

// WithHTTPClient replaces the HTTP client, for tests.
func WithHTTPClient(c *http.Client) Option {
	return func(e *Emitter) { e.client = c }
}

// New creates an Emitter posting to ingestURL with an optional bearer token.
// An empty ingestURL returns nil (emission disabled).
func New(ingestURL, authToken string, opts ...Option) *Emitter {
	if ingestURL == "" {
		return nil
	}
	e := &Emitter{
		url:        ingestURL,
		authToken:  authToken,
		chunkChars: DefaultPartialChunkChars,
		client:     &http.Client{Timeout: emitTimeout},
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// EmitPrompt emits LLM_PROMPT with the sanitised, truncated last user query.
func (e *Emitter) EmitPrompt(workflowID, agentID string, messages []types.Message) {
	if e == nil || workflowID == "" {
		return
	}
	e.send(Event{
		WorkflowID: workflowID,
		Type:       TypePrompt,
		AgentID:    agentID,
		Message:    truncate(SanitizePrompt(lastUserQuery(messages)), promptMaxChars),
	})
}

// EmitOutput emits LLM_OUTPUT with the truncated output and usage metadata.
func (e *Emitter) EmitOutput(workflowID, agentID, output, provider, model string, usage types.TokenUsage) {
	if e == nil || workflowID == "" {
		return
	}
	e.send(Event{
		WorkflowID: workflowID,
		Type:       TypeOutput,
		AgentID:    agentID,
		Message:    truncate(output, outputMaxChars),
		Payload: map[string]any{
			"provider": provider,
			"model":    model,
			"usage": map[string]any{
				"input_tokens":   usage.InputTokens,
				"output_tokens":  usage.OutputTokens,
				"total_tokens":   usage.TotalTokens,
				"estimated_cost": usage.EstimatedCost,
			},
		},
	})
}

// EmitPartials splits output into chunks and emits one LLM_PARTIAL per
// chunk, each carrying its index and the total count.
func (e *Emitter) EmitPartials(workflowID, agentID, output string) {
	if e == nil || workflowID == "" || output == "" {
		return
	}
	chunks := chunkString(output, e.chunkChars)
	for i, chunk := range chunks {
		e.send(Event{
			WorkflowID: workflowID,
			Type:       TypePartial,
			AgentID:    agentID,
			Message:    chunk,
			Payload: map[string]any{
				"chunk_index":  i,
				"total_chunks": len(chunks),
			},
		})
	}
}

// send posts ev in the background. Failures are logged, never returned.
func (e *Emitter) send(ev Event) {
	go func() {
		body, err := json.Marshal(ev)
		if err != nil {
			slog.Warn("events: marshal failed", "type", ev.Type, "err", err)
			return
		}

		ctx, cancel := context.WithTimeout(context.Background(), emitTimeout)
		defer cancel()

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.url, bytes.NewReader(body))
		if err != nil {
			slog.Warn("events: build request failed", "type", ev.Type, "err", err)
			return
		}
		req.Header.Set("Content-Type", "application/json")
		if e.authToken != "" {
			req.Header.Set("Authorization", "Bearer "+e.authToken)
		}

		resp, err := e.client.Do(req)
		if err != nil {
			slog.Warn("events: emit failed", "type", ev.Type, "err", err)
			return
		}
		resp.Body.Close()
		if resp.StatusCode >= 300 {
			slog.Warn("events: ingest rejected event", "type", ev.Type, "status", resp.StatusCode)
		}
	}()
}

// lastUserQuery returns the content of the most recent user message.
func lastUserQuery(messages []types.Message) string {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == types.RoleUser {
			text, _ := messages[i].Content.AsText()
			return text
		}
	}
	return ""
}

// SanitizePrompt strips machine envelopes from a prompt before it is shown
// to operators: JSON agent-execution envelopes are reduced to their query
// field when one exists, and embedded tools arrays are dropped.
func SanitizePrompt(s string) string {
	trimmed := strings.TrimSpace(s)
	if !strings.HasPrefix(trimmed, "{") {
		return s
	}

	var envelope map[string]any
	if err := json.Unmarshal([]byte(trimmed), &envelope); err != nil {
		return s
	}
	for _, key := range []string{"query", "prompt", "task", "input"} {
		if v, ok := envelope[key].(string); ok && v != "" {
			return v
		}
	}
	delete(envelope, "tools")
	cleaned, err := json.Marshal(envelope)
	if err != nil {
		return s
	}
	return string(cleaned)
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}

func chunkString(s string, size int) []string {
	if size <= 0 {
		size = DefaultPartialChunkChars
	}
	var out []string
	for len(s) > size {
		out = append(out, s[:size])
		s = s[size:]
	}
	return append(out, s)
}
