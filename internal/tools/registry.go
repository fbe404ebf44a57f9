package tools

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/shannon-ai/llm-gateway/pkg/types"
)

// ErrNotFound is returned when executing or describing an unknown tool.
var ErrNotFound = errors.New("tools: tool not found")

// rateLimitThreshold: tools declaring this RPM or more are not throttled at
// all, so many agents can share them in parallel.
const rateLimitThreshold = 100

// Registry holds the registered tools and runs the execution pipeline.
// Safe for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	tools    map[string]Tool
	trackers map[string]*tracker
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		tools:    make(map[string]Tool),
		trackers: make(map[string]*tracker),
	}
}

// Register adds a tool under its metadata name. Re-registering an existing
// name fails unless override is set.
func (r *Registry) Register(t Tool, override bool) error {
	md := t.Metadata()
	if md == nil || md.Name == "" {
		return fmt.Errorf("tools: tool has no name")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[md.Name]; exists && !override {
		return fmt.Errorf("tools: tool %q already registered", md.Name)
	}
	r.tools[md.Name] = t
	if md.RateLimit > 0 && md.RateLimit < rateLimitThreshold {
		r.trackers[md.Name] = newTracker(md.RateLimit)
	} else {
		delete(r.trackers, md.Name)
	}
	slog.Info("tool registered", "tool", md.Name, "category", md.Category)
	return nil
}

// Unregister removes a tool by name.
func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.tools, name)
	delete(r.trackers, name)
}

// Get returns the tool registered under name.
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// List returns the metadata of all registered tools, sorted by name.
func (r *Registry) List() []*Metadata {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Metadata, 0, len(r.tools))
	for _, t := range r.tools {
		out = append(out, t.Metadata())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Schema returns the OpenAI-function schema for one tool.
func (r *Registry) Schema(name string) (types.FunctionSchema, error) {
	t, ok := r.Get(name)
	if !ok {
		return types.FunctionSchema{}, fmt.Errorf("%w: %q", ErrNotFound, name)
	}
	return Schema(t.Metadata()), nil
}

// Schemas exports every registered tool as a function schema, sorted by name.
func (r *Registry) Schemas() []types.FunctionSchema {
	mds := r.List()
	out := make([]types.FunctionSchema, 0, len(mds))
	for _, md := range mds {
		out = append(out, Schema(md))
	}
	return out
}

// Execute runs the full pipeline for one tool call: coerce and validate
// arguments, wait on the per-session rate limiter when the tool declares one
// below the threshold, dispatch, and stamp timing onto the result.
// Validation failures return an error; execution failures return a Result
// with Success=false.
func (r *Registry) Execute(ctx context.Context, name string, sess *SessionContext, args map[string]any) (*Result, error) {
	t, ok := r.Get(name)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrNotFound, name)
	}
	md := t.Metadata()

	coerced, err := CoerceAndValidate(md, args)
	if err != nil {
		return nil, err
	}

	r.mu.RLock()
	tr := r.trackers[name]
	r.mu.RUnlock()
	if tr != nil {
		sessionID := ""
		if sess != nil {
			sessionID = sess.SessionID
		}
		if err := tr.wait(ctx, sessionID); err != nil {
			return nil, fmt.Errorf("tools: %s: rate limit wait: %w", name, err)
		}
	}

	dispatchSess := sess
	if !md.SessionAware {
		dispatchSess = nil
	}

	start := time.Now()
	result := t.Execute(ctx, dispatchSess, coerced)
	if result == nil {
		result = Errorf("tool %q returned no result", name)
	}
	result.ExecutionTimeMs = time.Since(start).Milliseconds()
	result.ExecutedAt = time.Now().UTC()

	if !result.Success {
		slog.Warn("tool execution failed", "tool", name, "error", result.Error)
	}
	return result, nil
}
