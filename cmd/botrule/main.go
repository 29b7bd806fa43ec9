// CLAUDE:SUMMARY Entry point for the botrule HTTP service: chi router, shield stack, SQL tracing, optional MCP.
// Command botrule serves the scraping-rule store over HTTP.
//
// Usage:
//
//	botrule -config botrule.yaml
//	botrule -db rules.db -addr :8090
//
// Environment overrides: PORT, BOTRULE_DB, TRACE_DB, LOG_LEVEL.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	_ "modernc.org/sqlite"

	"github.com/hazyhaar/botrule/botrule"
	"github.com/hazyhaar/botrule/dbopen"
	"github.com/hazyhaar/botrule/shield"
	"github.com/hazyhaar/botrule/trace"
)

func main() {
	configPath := flag.String("config", "", "path to botrule.yaml config file")
	dbPath := flag.String("db", "", "path to SQLite database")
	addr := flag.String("addr", "", "listen address (default :8090)")
	logLevel := flag.String("log-level", "", "log level: debug, info, warn, error")
	flag.Parse()

	cfg, err := resolveConfig(*configPath, *dbPath, *addr, *logLevel)
	if err != nil {
		fmt.Fprintln(os.Stderr, "botrule:", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: parseLevel(cfg.LogLevel)}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, logger, cfg); err != nil {
		logger.Error("botrule: fatal", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, logger *slog.Logger, cfg *botrule.Config) error {
	// Trace DB uses the raw "sqlite" driver; tracing it would recurse.
	var traceStore *trace.Store
	if cfg.TraceDBPath != "" {
		traceDB, err := dbopen.Open(cfg.TraceDBPath, dbopen.WithMkdirAll())
		if err != nil {
			return fmt.Errorf("trace db: %w", err)
		}
		defer traceDB.Close()
		traceStore = trace.NewStore(traceDB)
		if err := traceStore.Init(); err != nil {
			return fmt.Errorf("trace init: %w", err)
		}
		trace.SetStore(traceStore)
		defer func() {
			trace.SetStore(nil)
			traceStore.Close()
		}()
	}

	svc, err := botrule.New(cfg, logger)
	if err != nil {
		return err
	}
	defer svc.Close()

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           newRouter(svc, cfg, traceStore),
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		logger.Info("botrule: listening", "addr", cfg.Addr, "db", cfg.DBPath, "mcp", cfg.MCPEnabled)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
		close(errc)
	}()

	select {
	case err := <-errc:
		if err != nil {
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("botrule: shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// newRouter wires the shield stack, the rule routes and, when enabled, the
// MCP streamable HTTP endpoint. traces may be nil.
func newRouter(svc *botrule.Service, cfg *botrule.Config, traces *trace.Store) http.Handler {
	r := chi.NewRouter()
	for _, mw := range shield.DefaultStack(cfg.MaxBodyBytes) {
		r.Use(mw)
	}
	svc.Routes(r)

	if traces != nil {
		r.Get("/debug/sql/{traceID}", sqlTraceHandler(traces))
	}

	if cfg.MCPEnabled {
		mcpSrv := mcp.NewServer(&mcp.Implementation{Name: "botrule", Version: "1.0.0"}, nil)
		svc.RegisterMCP(mcpSrv)
		h := mcp.NewStreamableHTTPHandler(func(*http.Request) *mcp.Server { return mcpSrv }, nil)
		r.Handle("/mcp", h)
		r.Handle("/mcp/*", h)
	}
	return r
}

// sqlTraceHandler returns the statements recorded under one X-Trace-ID.
func sqlTraceHandler(traces *trace.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		entries, err := traces.ByTraceID(r.Context(), chi.URLParam(r, "traceID"))
		w.Header().Set("Content-Type", "application/json")
		if err != nil {
			shield.GetLogger(r.Context()).Error("botrule: sql trace lookup", "error", err)
			w.WriteHeader(http.StatusInternalServerError)
			json.NewEncoder(w).Encode(map[string]string{"error": "trace lookup failed"})
			return
		}
		json.NewEncoder(w).Encode(entries)
	}
}

// resolveConfig merges the config file, flags and environment. Flags win
// over the environment, which wins over the file.
func resolveConfig(configPath, dbPath, addr, logLevel string) (*botrule.Config, error) {
	cfg := &botrule.Config{}
	if configPath != "" {
		var err error
		if cfg, err = botrule.LoadConfigFile(configPath); err != nil {
			return nil, err
		}
	}

	if v := os.Getenv("PORT"); v != "" {
		cfg.Addr = ":" + v
	}
	cfg.DBPath = env("BOTRULE_DB", cfg.DBPath)
	cfg.TraceDBPath = env("TRACE_DB", cfg.TraceDBPath)
	cfg.LogLevel = env("LOG_LEVEL", cfg.LogLevel)

	if dbPath != "" {
		cfg.DBPath = dbPath
	}
	if addr != "" {
		cfg.Addr = addr
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}
	return cfg.Defaults(), nil
}

func parseLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func env(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
