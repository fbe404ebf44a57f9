package builtin

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/shannon-ai/llm-gateway/internal/netguard"
	"github.com/shannon-ai/llm-gateway/internal/tools"
)

const (
	sessionStatePrefix = "__SESSION_STATE__:"
	sessionStateSuffix = "__END_SESSION__"

	maxPythonSessions = 100
	pythonSessionTTL  = time.Hour
	pythonTimeout     = 60 * time.Second
)

// Executor runs Python code out of process. The shipped implementation
// talks to the agent-core service; tests substitute their own.
type Executor interface {
	Execute(ctx context.Context, req ExecRequest) (*ExecResponse, error)
}

// ExecRequest is one code execution.
type ExecRequest struct {
	Code           string         `json:"code"`
	WASMPath       string         `json:"wasm_path,omitempty"`
	SessionState   map[string]any `json:"session_state,omitempty"`
	TimeoutSeconds int            `json:"timeout_seconds,omitempty"`
}

// ExecResponse carries the raw process output.
type ExecResponse struct {
	Stdout   string `json:"stdout"`
	Stderr   string `json:"stderr"`
	ExitCode int    `json:"exit_code"`
}

// PythonExecutor runs Python through a sandboxed WASI interpreter hosted by
// agent-core. Scripts can persist state across calls in the same session by
// printing a __SESSION_STATE__:{...}__END_SESSION__ sentinel; the state
// literal is parsed with a literal-only evaluator, never executed.
type PythonExecutor struct {
	md       tools.Metadata
	exec     Executor
	wasmPath string

	mu       sync.Mutex
	sessions map[string]*pythonSession
	now      func() time.Time
}

type pythonSession struct {
	state map[string]any
	last  time.Time
}

// NewPythonExecutor builds the python_executor tool against the agent-core
// address (cfg value or AGENT_CORE_ADDR).
func NewPythonExecutor(addr string) (*PythonExecutor, error) {
	if addr == "" {
		addr = os.Getenv("AGENT_CORE_ADDR")
	}
	if addr == "" {
		return nil, fmt.Errorf("builtin: python_executor needs an agent-core address")
	}
	return newPythonExecutor(&httpExecutor{
		addr:   strings.TrimRight(addr, "/"),
		client: &http.Client{Timeout: pythonTimeout + 10*time.Second},
	}, os.Getenv("PYTHON_WASI_WASM_PATH")), nil
}

func newPythonExecutor(exec Executor, wasmPath string) *PythonExecutor {
	return &PythonExecutor{
		exec:     exec,
		wasmPath: wasmPath,
		sessions: make(map[string]*pythonSession),
		now:      time.Now,
		md: tools.Metadata{
			Name:         "python_executor",
			Description:  "Executes Python code in a sandboxed interpreter with optional per-session state",
			Category:     "compute",
			Version:      "1.0.0",
			Dangerous:    true,
			SessionAware: true,
			RateLimit:    30,
			Parameters: []tools.Parameter{
				{Name: "code", Type: tools.TypeString, Required: true},
			},
		},
	}
}

func (t *PythonExecutor) Metadata() *tools.Metadata { return &t.md }

func (t *PythonExecutor) Execute(ctx context.Context, sess *tools.SessionContext, args map[string]any) *tools.Result {
	code, _ := args["code"].(string)
	sid := sessionID(sess)

	resp, err := t.exec.Execute(ctx, ExecRequest{
		Code:           code,
		WASMPath:       t.wasmPath,
		SessionState:   t.sessionState(sid),
		TimeoutSeconds: int(pythonTimeout.Seconds()),
	})
	if err != nil {
		return tools.Errorf("execution failed: %s", netguard.Redact(err.Error()))
	}

	stdout, state := extractSessionState(resp.Stdout)
	if state != nil && sid != "" {
		t.storeSessionState(sid, state)
	}

	result := &tools.Result{
		Success: resp.ExitCode == 0,
		Output:  stdout,
		Metadata: map[string]any{
			"exit_code": resp.ExitCode,
			"stderr":    resp.Stderr,
		},
	}
	if resp.ExitCode != 0 {
		result.Error = fmt.Sprintf("exit status %d: %s", resp.ExitCode, strings.TrimSpace(resp.Stderr))
	}
	return result
}

func (t *PythonExecutor) sessionState(sid string) map[string]any {
	if sid == "" {
		return nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.sessions[sid]
	if !ok || t.now().Sub(s.last) > pythonSessionTTL {
		delete(t.sessions, sid)
		return nil
	}
	s.last = t.now()
	return s.state
}

func (t *PythonExecutor) storeSessionState(sid string, state map[string]any) {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	for id, s := range t.sessions {
		if now.Sub(s.last) > pythonSessionTTL {
			delete(t.sessions, id)
		}
	}
	if _, exists := t.sessions[sid]; !exists && len(t.sessions) >= maxPythonSessions {
		oldestID := ""
		var oldest time.Time
		for id, s := range t.sessions {
			if oldestID == "" || s.last.Before(oldest) {
				oldestID, oldest = id, s.last
			}
		}
		delete(t.sessions, oldestID)
	}
	t.sessions[sid] = &pythonSession{state: state, last: now}
}

func (t *PythonExecutor) sessionCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.sessions)
}

// extractSessionState splits the sentinel-framed state literal off the
// output. Returns the cleaned output and the parsed state, nil when absent
// or unparseable.
func extractSessionState(output string) (string, map[string]any) {
	start := strings.Index(output, sessionStatePrefix)
	if start < 0 {
		return output, nil
	}
	rest := output[start+len(sessionStatePrefix):]
	end := strings.Index(rest, sessionStateSuffix)
	if end < 0 {
		return output, nil
	}

	literal := rest[:end]
	cleaned := output[:start] + rest[end+len(sessionStateSuffix):]
	cleaned = strings.TrimLeft(cleaned, "\n")

	value, err := parsePythonLiteral(literal)
	if err != nil {
		return cleaned, nil
	}
	state, ok := value.(map[string]any)
	if !ok {
		return cleaned, nil
	}
	return cleaned, state
}

// httpExecutor posts executions to the agent-core HTTP surface.
type httpExecutor struct {
	addr   string
	client *http.Client
}

func (e *httpExecutor) Execute(ctx context.Context, req ExecRequest) (*ExecResponse, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, e.addr+"/v1/python/execute", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	var resp ExecResponse
	if err := doJSON(e.client, httpReq, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}
