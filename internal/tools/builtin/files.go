package builtin

import (
	"context"
	"errors"
	"fmt"

	"github.com/shannon-ai/llm-gateway/internal/tools"
	"github.com/shannon-ai/llm-gateway/internal/workspace"
)

// FileTools returns the session-scoped file_read, file_write and file_list
// tools backed by ws. Every path is resolved inside the caller's workspace;
// escapes surface as validation-style failures, not filesystem errors.
func FileTools(ws *workspace.Manager) []tools.Tool {
	return []tools.Tool{
		&fileRead{ws: ws, md: tools.Metadata{
			Name:         "file_read",
			Description:  "Reads a file from the session workspace",
			Category:     "file",
			Version:      "1.0.0",
			SessionAware: true,
			Parameters: []tools.Parameter{
				{Name: "path", Type: tools.TypeString, Required: true,
					Description: "Path relative to the session workspace"},
			},
		}},
		&fileWrite{ws: ws, md: tools.Metadata{
			Name:         "file_write",
			Description:  "Writes a file into the session workspace, creating parent directories",
			Category:     "file",
			Version:      "1.0.0",
			SessionAware: true,
			Parameters: []tools.Parameter{
				{Name: "path", Type: tools.TypeString, Required: true,
					Description: "Path relative to the session workspace"},
				{Name: "content", Type: tools.TypeString, Required: true},
			},
		}},
		&fileList{ws: ws, md: tools.Metadata{
			Name:         "file_list",
			Description:  "Lists a directory in the session workspace",
			Category:     "file",
			Version:      "1.0.0",
			SessionAware: true,
			Parameters: []tools.Parameter{
				{Name: "path", Type: tools.TypeString, Default: ".",
					Description: "Directory relative to the session workspace"},
			},
		}},
	}
}

func sessionID(sess *tools.SessionContext) string {
	if sess == nil {
		return ""
	}
	return sess.SessionID
}

func fileFailure(err error) *tools.Result {
	if errors.Is(err, workspace.ErrPathEscape) {
		return tools.Errorf("path escapes the session workspace")
	}
	return tools.Errorf("%v", err)
}

type fileRead struct {
	ws *workspace.Manager
	md tools.Metadata
}

func (t *fileRead) Metadata() *tools.Metadata { return &t.md }

func (t *fileRead) Execute(_ context.Context, sess *tools.SessionContext, args map[string]any) *tools.Result {
	path, _ := args["path"].(string)
	data, err := t.ws.ReadFile(sessionID(sess), path)
	if err != nil {
		return fileFailure(err)
	}
	result := tools.Ok(string(data))
	result.Metadata = map[string]any{"path": path, "size_bytes": len(data)}
	return result
}

type fileWrite struct {
	ws *workspace.Manager
	md tools.Metadata
}

func (t *fileWrite) Metadata() *tools.Metadata { return &t.md }

func (t *fileWrite) Execute(_ context.Context, sess *tools.SessionContext, args map[string]any) *tools.Result {
	path, _ := args["path"].(string)
	content, _ := args["content"].(string)
	if err := t.ws.WriteFile(sessionID(sess), path, []byte(content)); err != nil {
		return fileFailure(err)
	}
	result := tools.Ok(fmt.Sprintf("wrote %d bytes to %s", len(content), path))
	result.Metadata = map[string]any{"path": path, "size_bytes": len(content)}
	return result
}

type fileList struct {
	ws *workspace.Manager
	md tools.Metadata
}

func (t *fileList) Metadata() *tools.Metadata { return &t.md }

func (t *fileList) Execute(_ context.Context, sess *tools.SessionContext, args map[string]any) *tools.Result {
	path, _ := args["path"].(string)
	if path == "" {
		path = "."
	}
	entries, err := t.ws.List(sessionID(sess), path)
	if err != nil {
		return fileFailure(err)
	}

	listing := make([]map[string]any, 0, len(entries))
	for _, e := range entries {
		listing = append(listing, map[string]any{
			"name":   e.Name,
			"is_dir": e.IsDir,
			"size":   e.Size,
		})
	}
	return tools.Ok(listing)
}
