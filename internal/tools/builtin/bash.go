package builtin

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/shannon-ai/llm-gateway/internal/tools"
	"github.com/shannon-ai/llm-gateway/internal/workspace"
)

const (
	bashTimeout      = 30 * time.Second
	bashMaxOutput    = 1 << 20
	shellMetaChars   = "|&;<>$`(){}[]*?~\n\\"
	bashEnvAllowlist = "PATH,HOME,LANG,LC_ALL,TZ,TMPDIR"
)

// defaultBashAllowlist is the hard-coded set of binaries the bash tool may
// invoke when the configuration does not narrow it further.
var defaultBashAllowlist = []string{
	"ls", "cat", "head", "tail", "wc", "grep", "sort", "uniq", "cut",
	"echo", "date", "pwd", "find", "diff", "tr", "basename", "dirname",
}

// Bash runs a single argv without a shell. The command name must appear in
// the allowlist, no argument may contain shell metacharacters, only an
// allowlisted set of environment variables is inherited, and execution is
// capped at 30 seconds inside the session workspace.
type Bash struct {
	md        tools.Metadata
	ws        *workspace.Manager
	allowlist map[string]bool
	timeout   time.Duration
}

// NewBash builds the bash tool. An empty allowlist falls back to the
// hard-coded default.
func NewBash(ws *workspace.Manager, allowlist []string) *Bash {
	if len(allowlist) == 0 {
		allowlist = defaultBashAllowlist
	}
	allowed := make(map[string]bool, len(allowlist))
	for _, name := range allowlist {
		allowed[name] = true
	}
	return &Bash{
		ws:        ws,
		allowlist: allowed,
		timeout:   bashTimeout,
		md: tools.Metadata{
			Name:         "bash",
			Description:  "Runs an allowlisted command in the session workspace",
			Category:     "compute",
			Version:      "1.0.0",
			Dangerous:    true,
			SessionAware: true,
			Parameters: []tools.Parameter{
				{Name: "command", Type: tools.TypeString, Required: true,
					Description: "Command name, e.g. \"ls\""},
				{Name: "args", Type: tools.TypeArray, Items: tools.TypeString,
					Description: "Arguments passed verbatim, no shell interpretation"},
			},
		},
	}
}

func (b *Bash) Metadata() *tools.Metadata { return &b.md }

func (b *Bash) Execute(ctx context.Context, sess *tools.SessionContext, args map[string]any) *tools.Result {
	command, _ := args["command"].(string)
	argv, err := stringSlice(args["args"])
	if err != nil {
		return tools.Errorf("args: %v", err)
	}

	if !b.allowlist[command] {
		return tools.Errorf("command %q is not allowlisted", command)
	}
	for _, a := range append([]string{command}, argv...) {
		if strings.ContainsAny(a, shellMetaChars) {
			return tools.Errorf("argument %q contains shell metacharacters", a)
		}
	}

	dir, err := b.ws.Dir(sessionID(sess))
	if err != nil {
		return tools.Errorf("workspace: %v", err)
	}

	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, command, argv...)
	cmd.Dir = dir
	cmd.Env = filteredEnv()

	var stdout, stderr bytes.Buffer
	cmd.Stdout = newLimitedBuffer(&stdout, bashMaxOutput)
	cmd.Stderr = newLimitedBuffer(&stderr, bashMaxOutput)

	runErr := cmd.Run()
	if ctx.Err() == context.DeadlineExceeded {
		return tools.Errorf("command timed out after %s", b.timeout)
	}

	exitCode := -1
	if cmd.ProcessState != nil {
		exitCode = cmd.ProcessState.ExitCode()
	}
	result := &tools.Result{
		Success: runErr == nil,
		Output:  stdout.String(),
		Metadata: map[string]any{
			"command":   command,
			"exit_code": exitCode,
			"stderr":    stderr.String(),
		},
	}
	if runErr != nil {
		var exitErr *exec.ExitError
		if errors.As(runErr, &exitErr) {
			result.Error = fmt.Sprintf("exit status %d: %s", exitErr.ExitCode(), strings.TrimSpace(stderr.String()))
		} else {
			result.Error = runErr.Error()
		}
	}
	return result
}

func filteredEnv() []string {
	allowed := make(map[string]bool)
	for _, name := range strings.Split(bashEnvAllowlist, ",") {
		allowed[name] = true
	}
	var env []string
	for _, kv := range os.Environ() {
		name, _, ok := strings.Cut(kv, "=")
		if ok && allowed[name] {
			env = append(env, kv)
		}
	}
	return env
}

func stringSlice(v any) ([]string, error) {
	if v == nil {
		return nil, nil
	}
	raw, ok := v.([]any)
	if !ok {
		return nil, fmt.Errorf("expected array of strings, got %T", v)
	}
	out := make([]string, 0, len(raw))
	for _, item := range raw {
		s, ok := item.(string)
		if !ok {
			return nil, fmt.Errorf("expected string element, got %T", item)
		}
		out = append(out, s)
	}
	return out, nil
}

// limitedBuffer silently discards writes beyond its cap so a chatty command
// cannot exhaust memory; the truncation is visible from the length.
type limitedBuffer struct {
	buf *bytes.Buffer
	max int
}

func newLimitedBuffer(buf *bytes.Buffer, max int) *limitedBuffer {
	return &limitedBuffer{buf: buf, max: max}
}

func (l *limitedBuffer) Write(p []byte) (int, error) {
	remaining := l.max - l.buf.Len()
	if remaining <= 0 {
		return len(p), nil
	}
	if len(p) > remaining {
		l.buf.Write(p[:remaining])
		return len(p), nil
	}
	return l.buf.Write(p)
}
