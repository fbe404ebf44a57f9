package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.opentelemetry.io/otel/metric"

	"github.com/shannon-ai/llm-gateway/internal/manager"
	"github.com/shannon-ai/llm-gateway/internal/observe"
	"github.com/shannon-ai/llm-gateway/pkg/provider/llm"
	"github.com/shannon-ai/llm-gateway/pkg/types"
)

func (s *Server) handleCompletions(w http.ResponseWriter, r *http.Request) {
	var req llm.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: %v", err)
		return
	}
	if len(req.Messages) == 0 {
		writeError(w, http.StatusBadRequest, "messages must not be empty")
		return
	}
	if req.ModelTier != "" && !req.ModelTier.IsValid() {
		writeError(w, http.StatusBadRequest, "unknown model tier %q", req.ModelTier)
		return
	}

	if req.Stream {
		s.streamCompletion(w, r, &req)
		return
	}

	start := time.Now()
	resp, err := s.manager.Complete(r.Context(), &req)
	if err != nil {
		writeError(w, completionStatus(err), "%v", err)
		return
	}

	s.metrics.LLMDuration.Record(r.Context(), time.Since(start).Seconds(),
		metric.WithAttributes(observe.Attr("provider", resp.Provider)))
	s.metrics.RecordCacheLookup(r.Context(), resp.Cached)
	s.metrics.RecordProviderRequest(r.Context(), resp.Provider, "ok")
	s.metrics.RecordTokens(r.Context(), resp.Provider, resp.Usage.InputTokens, resp.Usage.OutputTokens)

	writeJSON(w, http.StatusOK, resp)
}

// streamCompletion relays chunks as server-sent events: one data frame per
// delta, a final frame carrying usage, then [DONE].
func (s *Server) streamCompletion(w http.ResponseWriter, r *http.Request, req *llm.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported by this connection")
		return
	}

	stream, err := s.manager.StreamComplete(r.Context(), req)
	if err != nil {
		writeError(w, completionStatus(err), "%v", err)
		return
	}

	s.metrics.ActiveStreams.Add(r.Context(), 1)
	defer s.metrics.ActiveStreams.Add(r.Context(), -1)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)

	for chunk := range stream {
		frame := map[string]any{}
		if chunk.Delta != "" {
			frame["delta"] = chunk.Delta
		}
		if chunk.Usage != nil {
			frame["usage"] = chunk.Usage
		}
		if chunk.Err != nil {
			frame["error"] = llm.Sanitize(chunk.Err.Error())
		}
		payload, err := json.Marshal(frame)
		if err != nil {
			continue
		}
		fmt.Fprintf(w, "data: %s\n\n", payload)
		flusher.Flush()
	}
	fmt.Fprint(w, "data: [DONE]\n\n")
	flusher.Flush()
}

type embeddingRequest struct {
	Text  string `json:"text"`
	Model string `json:"model,omitempty"`
}

type embeddingResponse struct {
	Embedding  []float64 `json:"embedding"`
	Dimensions int       `json:"dimensions"`
}

func (s *Server) handleEmbeddings(w http.ResponseWriter, r *http.Request) {
	var req embeddingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: %v", err)
		return
	}
	if req.Text == "" {
		writeError(w, http.StatusBadRequest, "text must not be empty")
		return
	}

	start := time.Now()
	vec, err := s.manager.GenerateEmbedding(r.Context(), req.Text, req.Model)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, manager.ErrNoEmbedder) {
			status = http.StatusNotImplemented
		}
		writeError(w, status, "%v", err)
		return
	}
	s.metrics.EmbeddingDuration.Record(r.Context(), time.Since(start).Seconds())

	writeJSON(w, http.StatusOK, embeddingResponse{Embedding: vec, Dimensions: len(vec)})
}

func (s *Server) handleModels(w http.ResponseWriter, r *http.Request) {
	tierParam := r.URL.Query().Get("tier")
	var tier types.ModelTier
	if tierParam != "" {
		tier = types.ModelTier(tierParam)
		if !tier.IsValid() {
			writeError(w, http.StatusBadRequest, "unknown model tier %q", tierParam)
			return
		}
	}

	models := s.manager.ListModels(tier)
	if models == nil {
		models = []llm.ModelConfig{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"models": models})
}

func (s *Server) handleUsage(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.manager.GetUsageReport())
}
