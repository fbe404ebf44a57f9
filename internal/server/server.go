// Package server exposes the gateway over HTTP: completions, the analysis
// endpoints, embeddings, model and usage introspection, the tool surface and
// the operational endpoints (health, readiness, Prometheus metrics).
//
// Handlers normalise and validate only; all behaviour lives in the manager,
// analyzer and tool registry they borrow.
package server

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/shannon-ai/llm-gateway/internal/analysis"
	"github.com/shannon-ai/llm-gateway/internal/health"
	"github.com/shannon-ai/llm-gateway/internal/manager"
	"github.com/shannon-ai/llm-gateway/internal/observe"
	"github.com/shannon-ai/llm-gateway/internal/tools"
	"github.com/shannon-ai/llm-gateway/internal/tools/mcptool"
)

// Server routes the gateway's HTTP surface. Construct with [New]; the zero
// value is not usable.
type Server struct {
	manager  *manager.Manager
	analyzer *analysis.Analyzer
	registry *tools.Registry
	selector *tools.Selector
	mcpHost  *mcptool.ServerHost
	metrics  *observe.Metrics
	health   *health.Handler
}

// Options carries the subsystems a Server borrows. Manager is required; the
// rest may be nil, which disables the corresponding endpoints gracefully.
type Options struct {
	Manager  *manager.Manager
	Analyzer *analysis.Analyzer
	Tools    *tools.Registry
	Selector *tools.Selector
	MCPHost  *mcptool.ServerHost
	Metrics  *observe.Metrics
	Checkers []health.Checker
}

// New wires a Server from its subsystems.
func New(opts Options) *Server {
	if opts.Analyzer == nil {
		opts.Analyzer = analysis.New(opts.Manager)
	}
	if opts.Tools == nil {
		opts.Tools = tools.NewRegistry()
	}
	if opts.Selector == nil {
		opts.Selector = tools.NewSelector(opts.Tools, opts.Manager, opts.Manager.Embedder())
	}
	if opts.Metrics == nil {
		opts.Metrics = observe.DefaultMetrics()
	}
	return &Server{
		manager:  opts.Manager,
		analyzer: opts.Analyzer,
		registry: opts.Tools,
		selector: opts.Selector,
		mcpHost:  opts.MCPHost,
		metrics:  opts.Metrics,
		health:   health.New(opts.Checkers...),
	}
}

// Handler returns the fully routed handler with the observability middleware
// applied.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /completions", s.handleCompletions)
	mux.HandleFunc("POST /embeddings", s.handleEmbeddings)
	mux.HandleFunc("GET /providers/models", s.handleModels)
	mux.HandleFunc("GET /usage", s.handleUsage)

	mux.HandleFunc("POST /analyze", s.handleAnalyze)
	mux.HandleFunc("POST /analyze_task", s.handleAnalyzeTask)
	mux.HandleFunc("POST /context/compress", s.handleCompress)
	mux.HandleFunc("POST /agent/evaluate", s.handleEvaluate)

	mux.HandleFunc("GET /tools/list", s.handleToolsList)
	mux.HandleFunc("GET /tools/{name}/schema", s.handleToolSchema)
	mux.HandleFunc("POST /tools/execute", s.handleToolExecute)
	mux.HandleFunc("POST /tools/select", s.handleToolSelect)
	mux.HandleFunc("POST /tools/mcp/register", s.handleMCPRegister)

	s.health.Register(mux)
	mux.Handle("GET /metrics", promhttp.Handler())

	return observe.Middleware(s.metrics)(mux)
}
