package builtin

import (
	"context"
	"fmt"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/shannon-ai/llm-gateway/internal/tools"
)

type fakeExecutor struct {
	requests []ExecRequest
	resp     *ExecResponse
	err      error
}

func (f *fakeExecutor) Execute(_ context.Context, req ExecRequest) (*ExecResponse, error) {
	f.requests = append(f.requests, req)
	if f.err != nil {
		return nil, f.err
	}
	return f.resp, nil
}

func TestPythonExecutorStripsStateSentinel(t *testing.T) {
	exec := &fakeExecutor{resp: &ExecResponse{
		Stdout: "__SESSION_STATE__:{'x': 1}__END_SESSION__\nhello",
	}}
	py := newPythonExecutor(exec, "")
	sess := &tools.SessionContext{SessionID: "s1"}

	res := py.Execute(context.Background(), sess, map[string]any{"code": "print('hello')"})
	if !res.Success {
		t.Fatalf("execute failed: %s", res.Error)
	}
	if res.Output != "hello" {
		t.Errorf("output = %q, want %q", res.Output, "hello")
	}

	// The stored state must ride along on the next call.
	res = py.Execute(context.Background(), sess, map[string]any{"code": "print(x)"})
	if !res.Success {
		t.Fatalf("second execute failed: %s", res.Error)
	}
	want := map[string]any{"x": int64(1)}
	if got := exec.requests[1].SessionState; !reflect.DeepEqual(got, want) {
		t.Errorf("session state = %#v, want %#v", got, want)
	}
	if exec.requests[0].SessionState != nil {
		t.Errorf("first call carried state %#v", exec.requests[0].SessionState)
	}
}

func TestPythonExecutorIgnoresBadStateLiteral(t *testing.T) {
	for _, stdout := range []string{
		"__SESSION_STATE__:__import__('os')__END_SESSION__\nok",
		"__SESSION_STATE__:[1, 2]__END_SESSION__\nok",
	} {
		exec := &fakeExecutor{resp: &ExecResponse{Stdout: stdout}}
		py := newPythonExecutor(exec, "")
		sess := &tools.SessionContext{SessionID: "s1"}

		res := py.Execute(context.Background(), sess, map[string]any{"code": "x"})
		if !res.Success {
			t.Fatalf("execute failed: %s", res.Error)
		}
		if res.Output != "ok" {
			t.Errorf("output = %q, want sentinel stripped", res.Output)
		}
		if py.sessionCount() != 0 {
			t.Errorf("stdout %q stored state", stdout)
		}
	}
}

func TestPythonExecutorSessionTTL(t *testing.T) {
	exec := &fakeExecutor{resp: &ExecResponse{
		Stdout: "__SESSION_STATE__:{'x': 1}__END_SESSION__",
	}}
	py := newPythonExecutor(exec, "")
	clock := time.Now()
	py.now = func() time.Time { return clock }
	sess := &tools.SessionContext{SessionID: "s1"}

	py.Execute(context.Background(), sess, map[string]any{"code": "x"})

	clock = clock.Add(pythonSessionTTL + time.Minute)
	py.Execute(context.Background(), sess, map[string]any{"code": "x"})
	if got := exec.requests[1].SessionState; got != nil {
		t.Errorf("expired session state %#v still delivered", got)
	}
}

func TestPythonExecutorSessionCap(t *testing.T) {
	exec := &fakeExecutor{resp: &ExecResponse{
		Stdout: "__SESSION_STATE__:{'x': 1}__END_SESSION__",
	}}
	py := newPythonExecutor(exec, "")
	clock := time.Now()
	py.now = func() time.Time { return clock }

	for i := 0; i < maxPythonSessions+5; i++ {
		clock = clock.Add(time.Second)
		sess := &tools.SessionContext{SessionID: fmt.Sprintf("s%03d", i)}
		py.Execute(context.Background(), sess, map[string]any{"code": "x"})
	}
	if got := py.sessionCount(); got != maxPythonSessions {
		t.Errorf("session count = %d, want %d", got, maxPythonSessions)
	}

	// The oldest sessions were evicted first.
	clock = clock.Add(time.Second)
	py.Execute(context.Background(), &tools.SessionContext{SessionID: "s000"}, map[string]any{"code": "x"})
	last := exec.requests[len(exec.requests)-1]
	if last.SessionState != nil {
		t.Errorf("evicted session kept state %#v", last.SessionState)
	}
}

func TestPythonExecutorNonZeroExit(t *testing.T) {
	exec := &fakeExecutor{resp: &ExecResponse{
		Stdout:   "",
		Stderr:   "NameError: name 'y' is not defined",
		ExitCode: 1,
	}}
	py := newPythonExecutor(exec, "")

	res := py.Execute(context.Background(), nil, map[string]any{"code": "y"})
	if res.Success {
		t.Fatal("failing script reported success")
	}
	if !strings.Contains(res.Error, "NameError") {
		t.Errorf("error = %q, want stderr surfaced", res.Error)
	}
	if res.Metadata["exit_code"] != 1 {
		t.Errorf("exit_code = %v", res.Metadata["exit_code"])
	}
}

func TestPythonExecutorWASMPathForwarded(t *testing.T) {
	exec := &fakeExecutor{resp: &ExecResponse{Stdout: "ok"}}
	py := newPythonExecutor(exec, "/opt/python.wasm")

	py.Execute(context.Background(), nil, map[string]any{"code": "x"})
	if got := exec.requests[0].WASMPath; got != "/opt/python.wasm" {
		t.Errorf("wasm path = %q", got)
	}
}

func TestExtractSessionStateKeepsSurroundingOutput(t *testing.T) {
	out, state := extractSessionState("before\n__SESSION_STATE__:{'a': 'b'}__END_SESSION__\nafter")
	if out != "before\n\nafter" && out != "before\nafter" {
		t.Errorf("cleaned output = %q", out)
	}
	if !reflect.DeepEqual(state, map[string]any{"a": "b"}) {
		t.Errorf("state = %#v", state)
	}

	out, state = extractSessionState("no sentinel here")
	if out != "no sentinel here" || state != nil {
		t.Errorf("passthrough = %q, %v", out, state)
	}
}
