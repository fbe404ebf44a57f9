package mcptool

import (
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"
	"sync"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/shannon-ai/llm-gateway/internal/config"
	"github.com/shannon-ai/llm-gateway/internal/tools"
)

// ServerHost manages connections to full MCP servers and imports their tool
// catalogues into a tool registry. One SDK client is reused across all
// sessions.
type ServerHost struct {
	mu     sync.Mutex
	client *mcpsdk.Client
	conns  map[string]*serverConn
}

type serverConn struct {
	session   *mcpsdk.ClientSession
	toolNames []string
}

// NewServerHost creates an empty host.
func NewServerHost() *ServerHost {
	return &ServerHost{
		client: mcpsdk.NewClient(
			&mcpsdk.Implementation{Name: "llm-gateway", Version: "1.0.0"},
			nil,
		),
		conns: make(map[string]*serverConn),
	}
}

// Register connects to the server described by cfg, wraps every advertised
// tool and installs them into reg under "<server>_<tool>" names. Registering
// a server name again replaces the previous connection and its tools.
// The imported tool names are returned.
func (h *ServerHost) Register(ctx context.Context, cfg config.MCPServerConfig, reg *tools.Registry) ([]string, error) {
	if cfg.Name == "" {
		return nil, fmt.Errorf("mcptool: server config needs a name")
	}
	if !cfg.Transport.IsValid() {
		return nil, fmt.Errorf("mcptool: server %q: unknown transport %q", cfg.Name, cfg.Transport)
	}

	var transport mcpsdk.Transport
	switch cfg.Transport {
	case config.TransportStdio:
		if cfg.Command == "" {
			return nil, fmt.Errorf("mcptool: stdio server %q needs a command", cfg.Name)
		}
		transport = &mcpsdk.CommandTransport{Command: exec.CommandContext(ctx, cfg.Command, cfg.Args...)}
	case config.TransportStreamableHTTP:
		if cfg.URL == "" {
			return nil, fmt.Errorf("mcptool: streamable-http server %q needs a url", cfg.Name)
		}
		transport = &mcpsdk.StreamableClientTransport{Endpoint: cfg.URL}
	}

	return h.register(ctx, cfg.Name, transport, reg)
}

// register is the transport-agnostic half of Register; tests connect through
// it with in-memory transports.
func (h *ServerHost) register(ctx context.Context, name string, transport mcpsdk.Transport, reg *tools.Registry) ([]string, error) {
	session, err := h.client.Connect(ctx, transport, nil)
	if err != nil {
		return nil, fmt.Errorf("mcptool: connect to server %q: %w", name, err)
	}

	var discovered []*mcpsdk.Tool
	for tool, err := range session.Tools(ctx, nil) {
		if err != nil {
			session.Close()
			return nil, fmt.Errorf("mcptool: list tools for server %q: %w", name, err)
		}
		discovered = append(discovered, tool)
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if old, ok := h.conns[name]; ok {
		old.session.Close()
		for _, tn := range old.toolNames {
			reg.Unregister(tn)
		}
	}

	conn := &serverConn{session: session}
	for _, mt := range discovered {
		st := &serverTool{
			md:       metadataFromMCPTool(name, mt),
			toolName: mt.Name,
			session:  session,
		}
		if err := reg.Register(st, true); err != nil {
			session.Close()
			for _, tn := range conn.toolNames {
				reg.Unregister(tn)
			}
			return nil, fmt.Errorf("mcptool: server %q: %w", name, err)
		}
		conn.toolNames = append(conn.toolNames, st.md.Name)
	}
	h.conns[name] = conn
	return append([]string(nil), conn.toolNames...), nil
}

// Close shuts down every server connection.
func (h *ServerHost) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	var firstErr error
	for name, conn := range h.conns {
		if err := conn.session.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("mcptool: close server %q: %w", name, err)
		}
		delete(h.conns, name)
	}
	return firstErr
}

// serverTool proxies one SDK-discovered tool through its client session.
type serverTool struct {
	md       tools.Metadata
	toolName string
	session  *mcpsdk.ClientSession
}

func (t *serverTool) Metadata() *tools.Metadata { return &t.md }

func (t *serverTool) Execute(ctx context.Context, _ *tools.SessionContext, args map[string]any) *tools.Result {
	res, err := t.session.CallTool(ctx, &mcpsdk.CallToolParams{
		Name:      t.toolName,
		Arguments: args,
	})
	if err != nil {
		return tools.Errorf("call %s: %v", t.toolName, err)
	}

	var sb strings.Builder
	for _, c := range res.Content {
		if tc, ok := c.(*mcpsdk.TextContent); ok {
			sb.WriteString(tc.Text)
		}
	}
	if res.IsError {
		return tools.Errorf("%s", sb.String())
	}
	return tools.Ok(sb.String())
}

// metadataFromMCPTool maps an SDK tool description onto gateway metadata.
// The input schema is JSON round-tripped so only the shapes we understand
// are mirrored; anything else falls back to pass-through arguments.
func metadataFromMCPTool(server string, mt *mcpsdk.Tool) tools.Metadata {
	md := tools.Metadata{
		Name:        server + "_" + mt.Name,
		Description: mt.Description,
		Category:    "mcp",
		Version:     "1.0.0",
		RateLimit:   defaultRateLimit,
	}

	schema := schemaToMap(mt.InputSchema)
	props, _ := schema["properties"].(map[string]any)
	if len(props) == 0 {
		md.AllowUnknown = true
		return md
	}

	required := make(map[string]bool)
	if reqs, ok := schema["required"].([]any); ok {
		for _, r := range reqs {
			if s, ok := r.(string); ok {
				required[s] = true
			}
		}
	}

	for name, rawProp := range props {
		prop, _ := rawProp.(map[string]any)
		param := tools.Parameter{Name: name, Type: tools.TypeString, Required: required[name]}
		if typ, ok := prop["type"].(string); ok && typ != "" {
			param.Type = typ
		}
		if desc, ok := prop["description"].(string); ok {
			param.Description = desc
		}
		if enum, ok := prop["enum"].([]any); ok {
			param.Enum = enum
		}
		if param.Type == tools.TypeArray {
			param.Items = tools.TypeString
			if items, ok := prop["items"].(map[string]any); ok {
				if it, ok := items["type"].(string); ok && it != "" {
					param.Items = it
				}
			}
		}
		md.Parameters = append(md.Parameters, param)
	}
	return md
}

func schemaToMap(schema any) map[string]any {
	if schema == nil {
		return nil
	}
	data, err := json.Marshal(schema)
	if err != nil {
		return nil
	}
	var m map[string]any
	if json.Unmarshal(data, &m) != nil {
		return nil
	}
	return m
}
