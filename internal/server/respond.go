package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/shannon-ai/llm-gateway/internal/budget"
	"github.com/shannon-ai/llm-gateway/internal/resilience"
	"github.com/shannon-ai/llm-gateway/internal/tools"
	"github.com/shannon-ai/llm-gateway/pkg/provider/llm"
)

// errorBody is the uniform error envelope.
type errorBody struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error":"encoding failure"}`, http.StatusInternalServerError)
	}
}

func writeError(w http.ResponseWriter, status int, format string, args ...any) {
	writeJSON(w, status, errorBody{Error: fmt.Sprintf(format, args...)})
}

// decodeBody reads a JSON request body into v. An empty body is allowed and
// leaves v untouched, so endpoints with all-optional fields accept it.
func decodeBody(r *http.Request, v any) error {
	err := json.NewDecoder(r.Body).Decode(v)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

// completionStatus maps a pipeline failure onto an HTTP status per the error
// taxonomy: budget refusals and limiter waits are the caller's pacing problem,
// overflow is a bad request, vendor failures are a bad gateway.
func completionStatus(err error) int {
	if errors.Is(err, budget.ErrBudgetExceeded) {
		return http.StatusTooManyRequests
	}
	var overflow *llm.ContextOverflowError
	if errors.As(err, &overflow) {
		return http.StatusBadRequest
	}
	var pe *llm.ProviderError
	if errors.As(err, &pe) {
		return http.StatusBadGateway
	}
	if errors.Is(err, resilience.ErrAllFailed) || errors.Is(err, resilience.ErrCircuitOpen) {
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

// toolStatus maps tool pipeline errors: unknown tool is 404, argument
// problems are 400, everything else is a server fault.
func toolStatus(err error) int {
	if errors.Is(err, tools.ErrNotFound) {
		return http.StatusNotFound
	}
	var ve *tools.ValidationError
	if errors.As(err, &ve) {
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}
