package server

import (
	"encoding/json"
	"net/http"

	"github.com/shannon-ai/llm-gateway/internal/analysis"
	"github.com/shannon-ai/llm-gateway/pkg/types"
)

type queryRequest struct {
	Query string `json:"query"`
}

func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	var req queryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: %v", err)
		return
	}
	if req.Query == "" {
		writeError(w, http.StatusBadRequest, "query must not be empty")
		return
	}
	writeJSON(w, http.StatusOK, s.analyzer.AnalyzeComplexity(r.Context(), req.Query))
}

func (s *Server) handleAnalyzeTask(w http.ResponseWriter, r *http.Request) {
	var req queryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: %v", err)
		return
	}
	if req.Query == "" {
		writeError(w, http.StatusBadRequest, "query must not be empty")
		return
	}
	writeJSON(w, http.StatusOK, s.analyzer.AnalyzeTask(r.Context(), req.Query))
}

type compressRequest struct {
	Messages     []types.Message `json:"messages"`
	TargetTokens int             `json:"target_tokens,omitempty"`
}

func (s *Server) handleCompress(w http.ResponseWriter, r *http.Request) {
	var req compressRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: %v", err)
		return
	}
	if len(req.Messages) == 0 {
		writeError(w, http.StatusBadRequest, "messages must not be empty")
		return
	}
	writeJSON(w, http.StatusOK, s.analyzer.Compress(r.Context(), req.Messages, req.TargetTokens))
}

type evaluateRequest struct {
	Results []analysis.AgentResult `json:"results"`
}

func (s *Server) handleEvaluate(w http.ResponseWriter, r *http.Request) {
	var req evaluateRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: %v", err)
		return
	}
	writeJSON(w, http.StatusOK, s.analyzer.Evaluate(req.Results))
}
