package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.opentelemetry.io/otel/metric"

	"github.com/shannon-ai/llm-gateway/internal/config"
	"github.com/shannon-ai/llm-gateway/internal/observe"
	"github.com/shannon-ai/llm-gateway/internal/tools"
)

func (s *Server) handleToolsList(w http.ResponseWriter, r *http.Request) {
	mds := s.registry.List()
	if mds == nil {
		mds = []*tools.Metadata{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"tools": mds})
}

func (s *Server) handleToolSchema(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	schema, err := s.registry.Schema(name)
	if err != nil {
		writeError(w, toolStatus(err), "%v", err)
		return
	}
	writeJSON(w, http.StatusOK, schema)
}

type toolExecuteRequest struct {
	ToolName   string         `json:"tool_name"`
	Parameters map[string]any `json:"parameters"`
	SessionID  string         `json:"session_id,omitempty"`
	AgentID    string         `json:"agent_id,omitempty"`
}

func (s *Server) handleToolExecute(w http.ResponseWriter, r *http.Request) {
	var req toolExecuteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: %v", err)
		return
	}
	if req.ToolName == "" {
		writeError(w, http.StatusBadRequest, "tool_name must not be empty")
		return
	}

	var sess *tools.SessionContext
	if req.SessionID != "" || req.AgentID != "" {
		sess = &tools.SessionContext{SessionID: req.SessionID, AgentID: req.AgentID}
	}

	start := time.Now()
	result, err := s.registry.Execute(r.Context(), req.ToolName, sess, req.Parameters)
	if err != nil {
		s.metrics.RecordToolCall(r.Context(), req.ToolName, "rejected")
		writeError(w, toolStatus(err), "%v", err)
		return
	}

	status := "ok"
	if !result.Success {
		status = "failed"
	}
	s.metrics.RecordToolCall(r.Context(), req.ToolName, status)
	s.metrics.ToolExecutionDuration.Record(r.Context(), time.Since(start).Seconds(),
		metric.WithAttributes(observe.Attr("tool", req.ToolName)))

	writeJSON(w, http.StatusOK, result)
}

type toolSelectRequest struct {
	Task             string `json:"task"`
	ExcludeDangerous bool   `json:"exclude_dangerous,omitempty"`
	MaxTools         int    `json:"max_tools,omitempty"`
}

func (s *Server) handleToolSelect(w http.ResponseWriter, r *http.Request) {
	var req toolSelectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: %v", err)
		return
	}
	if req.Task == "" {
		writeError(w, http.StatusBadRequest, "task must not be empty")
		return
	}
	writeJSON(w, http.StatusOK, s.selector.Select(r.Context(), req.Task, req.ExcludeDangerous, req.MaxTools))
}

type mcpRegisterRequest struct {
	Name      string   `json:"name"`
	Transport string   `json:"transport"`
	Command   string   `json:"command,omitempty"`
	Args      []string `json:"args,omitempty"`
	URL       string   `json:"url,omitempty"`
}

func (s *Server) handleMCPRegister(w http.ResponseWriter, r *http.Request) {
	if s.mcpHost == nil {
		writeError(w, http.StatusNotImplemented, "mcp server registration is not enabled")
		return
	}

	var req mcpRegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: %v", err)
		return
	}

	cfg := config.MCPServerConfig{
		Name:      req.Name,
		Transport: config.MCPTransport(req.Transport),
		Command:   req.Command,
		Args:      req.Args,
		URL:       req.URL,
	}
	if err := validateMCPServer(cfg); err != nil {
		writeError(w, http.StatusBadRequest, "%v", err)
		return
	}

	names, err := s.mcpHost.Register(r.Context(), cfg, s.registry)
	if err != nil {
		writeError(w, http.StatusBadGateway, "%v", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"server": req.Name, "tools": names})
}

// validateMCPServer mirrors the host's config checks so malformed requests
// fail as 400s before any connection attempt.
func validateMCPServer(cfg config.MCPServerConfig) error {
	if cfg.Name == "" {
		return errors.New("name must not be empty")
	}
	if !cfg.Transport.IsValid() {
		return fmt.Errorf("unknown transport %q", cfg.Transport)
	}
	if cfg.Transport == config.TransportStdio && cfg.Command == "" {
		return errors.New("stdio transport needs a command")
	}
	if cfg.Transport == config.TransportStreamableHTTP && cfg.URL == "" {
		return errors.New("streamable-http transport needs a url")
	}
	return nil
}
