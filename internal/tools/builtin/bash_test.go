package builtin

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/shannon-ai/llm-gateway/internal/tools"
	"github.com/shannon-ai/llm-gateway/internal/workspace"
)

func testBash(t *testing.T, allowlist ...string) *Bash {
	t.Helper()
	ws, err := workspace.NewManager(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	return NewBash(ws, allowlist)
}

func TestBashRunsAllowlistedCommand(t *testing.T) {
	b := testBash(t)
	res := b.Execute(context.Background(), &tools.SessionContext{SessionID: "s1"}, map[string]any{
		"command": "echo",
		"args":    []any{"hello", "world"},
	})
	if !res.Success {
		t.Fatalf("execute failed: %s", res.Error)
	}
	if got := strings.TrimSpace(res.Output.(string)); got != "hello world" {
		t.Errorf("output = %q", got)
	}
}

func TestBashRejectsNonAllowlisted(t *testing.T) {
	b := testBash(t)
	res := b.Execute(context.Background(), nil, map[string]any{"command": "rm", "args": []any{"-rf", "x"}})
	if res.Success || !strings.Contains(res.Error, "not allowlisted") {
		t.Errorf("result = %+v, want allowlist rejection", res)
	}
}

func TestBashRejectsShellMetacharacters(t *testing.T) {
	b := testBash(t)
	for _, arg := range []string{"a; rm x", "a | b", "$(whoami)", "`id`", "a > f", "a\nb"} {
		res := b.Execute(context.Background(), nil, map[string]any{
			"command": "echo",
			"args":    []any{arg},
		})
		if res.Success {
			t.Errorf("argument %q accepted", arg)
		}
	}
}

func TestBashRunsInSessionWorkspace(t *testing.T) {
	ws, err := workspace.NewManager(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	if err := ws.WriteFile("s1", "here.txt", []byte("x")); err != nil {
		t.Fatal(err)
	}

	b := NewBash(ws, nil)
	res := b.Execute(context.Background(), &tools.SessionContext{SessionID: "s1"}, map[string]any{
		"command": "ls",
	})
	if !res.Success {
		t.Fatalf("execute failed: %s", res.Error)
	}
	if !strings.Contains(res.Output.(string), "here.txt") {
		t.Errorf("output = %q, want session file listing", res.Output)
	}
}

func TestBashTimeout(t *testing.T) {
	b := testBash(t, "sleep")
	b.timeout = 50 * time.Millisecond

	start := time.Now()
	res := b.Execute(context.Background(), nil, map[string]any{
		"command": "sleep",
		"args":    []any{"5"},
	})
	if res.Success || !strings.Contains(res.Error, "timed out") {
		t.Errorf("result = %+v, want timeout failure", res)
	}
	if time.Since(start) > 2*time.Second {
		t.Error("timeout did not interrupt the command")
	}
}

func TestBashNonZeroExitIsFailure(t *testing.T) {
	b := testBash(t)
	res := b.Execute(context.Background(), nil, map[string]any{
		"command": "cat",
		"args":    []any{"no-such-file.txt"},
	})
	if res.Success {
		t.Fatal("failing command reported success")
	}
	if res.Metadata["exit_code"] == 0 {
		t.Errorf("exit_code = %v", res.Metadata["exit_code"])
	}
}
