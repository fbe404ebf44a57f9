// Command gateway is the main entry point for the Shannon LLM gateway server.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/shannon-ai/llm-gateway/internal/analysis"
	"github.com/shannon-ai/llm-gateway/internal/config"
	"github.com/shannon-ai/llm-gateway/internal/health"
	"github.com/shannon-ai/llm-gateway/internal/manager"
	"github.com/shannon-ai/llm-gateway/internal/observe"
	"github.com/shannon-ai/llm-gateway/internal/server"
	"github.com/shannon-ai/llm-gateway/internal/tools"
	"github.com/shannon-ai/llm-gateway/internal/tools/builtin"
	"github.com/shannon-ai/llm-gateway/internal/tools/mcptool"
	"github.com/shannon-ai/llm-gateway/internal/tools/openapi"
	"github.com/shannon-ai/llm-gateway/internal/workspace"
)

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "gateway: config file %q not found — copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "gateway: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	// The level lives in a LevelVar so a config reload can change it without
	// replacing the handler.
	level := new(slog.LevelVar)
	level.Set(slogLevel(cfg.Server.LogLevel))
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	slog.Info("gateway starting",
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
		"providers", len(cfg.Providers),
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	otelShutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{ServiceName: "llm-gateway"})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := otelShutdown(shutdownCtx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	// ── LLM manager ───────────────────────────────────────────────────────────
	mgr, err := manager.New(cfg)
	if err != nil {
		slog.Error("failed to build provider manager", "err", err)
		return 1
	}
	if len(mgr.ListModels("")) == 0 {
		slog.Warn("no providers configured, completions run in mock mode")
	}

	// ── Config hot reload ─────────────────────────────────────────────────────
	watcher, err := config.NewWatcher(*configPath, func(old, new *config.Config) {
		d := config.Compare(old, new)
		if d.LogLevelChanged {
			level.Set(slogLevel(d.NewLogLevel))
			slog.Info("log level updated", "level", d.NewLogLevel)
		}
		if err := mgr.Reload(new); err != nil {
			slog.Error("config reload failed, previous provider set stays active", "err", err)
		}
	})
	if err != nil {
		slog.Error("failed to start config watcher", "err", err)
		return 1
	}
	defer watcher.Stop()

	// ── Workspaces ────────────────────────────────────────────────────────────
	wsRoot := cfg.Tools.WorkspaceDir
	if wsRoot == "" {
		wsRoot = os.Getenv("SHANNON_SESSION_WORKSPACES_DIR")
	}
	if wsRoot == "" {
		wsRoot = "workspaces"
	}
	ws, err := workspace.NewManager(wsRoot)
	if err != nil {
		slog.Error("failed to create workspace root", "err", err)
		return 1
	}

	// ── Tool registry ─────────────────────────────────────────────────────────
	registry := tools.NewRegistry()
	mcpHost := mcptool.NewServerHost()
	defer func() {
		if err := mcpHost.Close(); err != nil {
			slog.Warn("mcp host close error", "err", err)
		}
	}()
	if err := registerTools(ctx, cfg, registry, ws, mcpHost); err != nil {
		slog.Error("failed to register tools", "err", err)
		return 1
	}
	slog.Info("tool registry ready", "tools", len(registry.List()))

	// ── HTTP server ───────────────────────────────────────────────────────────
	srv := server.New(server.Options{
		Manager:  mgr,
		Analyzer: analysis.New(mgr),
		Tools:    registry,
		MCPHost:  mcpHost,
		Checkers: []health.Checker{workspaceChecker(ws), providersChecker(mgr)},
	})

	listenAddr := cfg.Server.ListenAddr
	if listenAddr == "" {
		listenAddr = ":8081"
	}
	httpSrv := &http.Server{
		Addr:              listenAddr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("server listening", "addr", listenAddr, "tls", cfg.Server.TLS != nil)
		if tlsCfg := cfg.Server.TLS; tlsCfg != nil {
			errCh <- httpSrv.ListenAndServeTLS(tlsCfg.CertFile, tlsCfg.KeyFile)
		} else {
			errCh <- httpSrv.ListenAndServe()
		}
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server error", "err", err)
			return 1
		}
	case <-ctx.Done():
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	grace := cfg.Server.ShutdownGraceSeconds
	if grace <= 0 {
		grace = 10
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(grace)*time.Second)
	defer cancel()

	slog.Info("shutdown signal received, stopping…", "grace_seconds", grace)
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// ── Tool wiring ───────────────────────────────────────────────────────────────

// registerTools fills reg with the built-in tools plus everything declared in
// the config: OpenAPI bundles, MCP function tools and MCP servers. Built-ins
// that need credentials or an external service are skipped with a warning when
// their prerequisites are absent.
func registerTools(ctx context.Context, cfg *config.Config, reg *tools.Registry, ws *workspace.Manager, host *mcptool.ServerHost) error {
	register := func(t tools.Tool) error {
		if err := reg.Register(t, false); err != nil {
			return fmt.Errorf("register %s: %w", t.Metadata().Name, err)
		}
		return nil
	}

	if err := register(builtin.NewCalculator()); err != nil {
		return err
	}
	for _, t := range builtin.FileTools(ws) {
		if err := register(t); err != nil {
			return err
		}
	}
	if err := register(builtin.NewBash(ws, cfg.Tools.BashAllowlist)); err != nil {
		return err
	}
	if err := register(builtin.NewWebFetch()); err != nil {
		return err
	}
	if err := register(builtin.NewWebSubpageFetch()); err != nil {
		return err
	}

	// Optional built-ins: missing credentials disable the tool, not the server.
	if t, err := builtin.NewWebSearch(); err != nil {
		slog.Warn("web_search disabled", "reason", err)
	} else if err := register(t); err != nil {
		return err
	}
	if t, err := builtin.NewWebCrawl(); err != nil {
		slog.Warn("web_crawl disabled", "reason", err)
	} else if err := register(t); err != nil {
		return err
	}
	if t, err := builtin.NewPythonExecutor(cfg.Tools.PythonExecutorAddr); err != nil {
		slog.Warn("python_executor disabled", "reason", err)
	} else if err := register(t); err != nil {
		return err
	}
	if g := cfg.Tools.GA4; g != nil {
		ga4Tools, err := builtin.NewGA4Tools(*g)
		if err != nil {
			slog.Warn("ga4 tools disabled", "reason", err)
		} else {
			for _, t := range ga4Tools {
				if err := register(t); err != nil {
					return err
				}
			}
		}
	}

	// OpenAPI bundles.
	loader := openapi.NewLoader()
	for _, bundle := range cfg.Tools.OpenAPI {
		loaded, err := loader.Load(ctx, bundle)
		if err != nil {
			return fmt.Errorf("openapi bundle %q: %w", bundle.Name, err)
		}
		for _, t := range loaded {
			if err := register(t); err != nil {
				return err
			}
		}
		slog.Info("openapi tools loaded", "bundle", bundle.Name, "count", len(loaded))
	}

	// MCP function tools (declared per function, executed over HTTP).
	factory := mcptool.NewFactory(cfg.Tools)
	for _, mc := range cfg.Tools.MCP {
		loaded, err := factory.Tools(mc)
		if err != nil {
			return fmt.Errorf("mcp tool %q: %w", mc.Name, err)
		}
		for _, t := range loaded {
			if err := register(t); err != nil {
				return err
			}
		}
	}

	// MCP servers (full protocol, discovered tool lists).
	for _, sc := range cfg.Tools.MCPServers {
		names, err := host.Register(ctx, sc, reg)
		if err != nil {
			return fmt.Errorf("mcp server %q: %w", sc.Name, err)
		}
		slog.Info("mcp server connected", "server", sc.Name, "tools", len(names))
	}

	return nil
}

// providersChecker fails readiness when providers are configured but none
// produced a usable model, which would silently downgrade completions to the
// mock path.
func providersChecker(mgr *manager.Manager) health.Checker {
	return health.Checker{
		Name: "providers",
		Check: func(context.Context) error {
			if len(mgr.Config().Providers) > 0 && len(mgr.ListModels("")) == 0 {
				return errors.New("configured providers expose no models")
			}
			return nil
		},
	}
}

// workspaceChecker reports ready only while the workspace root stays writable.
func workspaceChecker(ws *workspace.Manager) health.Checker {
	return health.Checker{
		Name: "workspace",
		Check: func(context.Context) error {
			f, err := os.CreateTemp(ws.Root(), ".readyz-*")
			if err != nil {
				return err
			}
			f.Close()
			return os.Remove(f.Name())
		},
	}
}

// ── Logger ─────────────────────────────────────────────────────────────────────

func slogLevel(level config.LogLevel) slog.Level {
	switch level {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
