package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/joeshaw/envdecode"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/oncoref/nccn-mcp-go/guidelines"
	"github.com/oncoref/nccn-mcp-go/mcp"
	"github.com/oncoref/nccn-mcp-go/mcpservice"
	"github.com/oncoref/nccn-mcp-go/sessions"
	"github.com/oncoref/nccn-mcp-go/sessions/memoryhost"
	"github.com/oncoref/nccn-mcp-go/sessions/redishost"
	"github.com/oncoref/nccn-mcp-go/streaminghttp"
)

const serverInstructions = "This server exposes NCCN clinical guidelines. " +
	"Use get_index to inspect the guidelines index, download_pdf to fetch a " +
	"guideline PDF, and extract_content to read specific pages from a " +
	"downloaded PDF."

// serveConfig is the environment surface of the serve command. Flags with the
// same meaning override decoded values when set.
type serveConfig struct {
	Addr             string        `env:"MCP_ADDR,default=:8080"`
	Endpoint         string        `env:"MCP_ENDPOINT,default=http://localhost:8080/mcp"`
	SessionTTL       time.Duration `env:"MCP_SESSION_TTL,default=1h"`
	ProtocolVersions string        `env:"MCP_PROTOCOL_VERSIONS,default="`
	SessionsBackend  string        `env:"SESSIONS_BACKEND,default=memory"`
	LogLevel         string        `env:"MCP_LOG_LEVEL,default=info"`
}

func newServeCommand() *cobra.Command {
	var cfg serveConfig
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the MCP HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := decodeServeConfig(&cfg, cmd.Flags()); err != nil {
				return err
			}
			return serve(cmd.Context(), cfg)
		},
	}
	cmd.Flags().String("addr", "", "listen address (overrides MCP_ADDR)")
	cmd.Flags().String("endpoint", "", "public MCP endpoint URL (overrides MCP_ENDPOINT)")
	cmd.Flags().Duration("session-ttl", 0, "session idle timeout (overrides MCP_SESSION_TTL)")
	cmd.Flags().String("sessions-backend", "", "session backend: memory or redis (overrides SESSIONS_BACKEND)")
	cmd.Flags().String("log-level", "", "log level: debug, info, warn, error (overrides MCP_LOG_LEVEL)")
	return cmd
}

// decodeServeConfig loads env config, then lets explicitly set flags win.
func decodeServeConfig(cfg *serveConfig, flags *pflag.FlagSet) error {
	if err := envdecode.Decode(cfg); err != nil {
		return fmt.Errorf("decode config: %w", err)
	}
	if flags.Changed("addr") {
		cfg.Addr, _ = flags.GetString("addr")
	}
	if flags.Changed("endpoint") {
		cfg.Endpoint, _ = flags.GetString("endpoint")
	}
	if flags.Changed("session-ttl") {
		cfg.SessionTTL, _ = flags.GetDuration("session-ttl")
	}
	if flags.Changed("sessions-backend") {
		cfg.SessionsBackend, _ = flags.GetString("sessions-backend")
	}
	if flags.Changed("log-level") {
		cfg.LogLevel, _ = flags.GetString("log-level")
	}
	return nil
}

func serve(ctx context.Context, cfg serveConfig) error {
	log := newLogger(cfg.LogLevel)

	var gcfg guidelines.Config
	if err := envdecode.Decode(&gcfg); err != nil {
		return fmt.Errorf("decode guidelines config: %w", err)
	}

	host, closeHost, err := newSessionHost(cfg.SessionsBackend)
	if err != nil {
		return err
	}
	defer closeHost()

	svc := guidelines.NewService(gcfg, guidelines.WithServiceLogger(log))

	server := mcpservice.NewServer(
		mcpservice.WithServerInfo(mcp.ImplementationInfo{Name: "nccn-guidelines", Version: version}),
		mcpservice.WithInstructions(serverInstructions),
		mcpservice.WithToolsCapability(svc.Tools()),
		mcpservice.WithResourcesCapability(svc.Resources()),
	)

	opts := []streaminghttp.Option{
		streaminghttp.WithLogger(log),
		streaminghttp.WithSessionOptions(sessions.WithTTL(cfg.SessionTTL)),
	}
	if cfg.ProtocolVersions != "" {
		opts = append(opts, streaminghttp.WithProtocolVersions(splitVersions(cfg.ProtocolVersions)))
	}

	handler, err := streaminghttp.New(ctx, cfg.Endpoint, host, server, opts...)
	if err != nil {
		return fmt.Errorf("build handler: %w", err)
	}

	go func() {
		if err := svc.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Error("guidelines.service.stopped", slog.String("err", err.Error()))
		}
	}()

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("server.listen",
			slog.String("addr", cfg.Addr),
			slog.String("endpoint", cfg.Endpoint),
			slog.String("sessions_backend", cfg.SessionsBackend))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("serve: %w", err)
	case <-ctx.Done():
	}

	log.Info("server.shutdown")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

func newSessionHost(backend string) (sessions.SessionHost, func(), error) {
	switch strings.ToLower(backend) {
	case "", "memory":
		return memoryhost.New(), func() {}, nil
	case "redis":
		host, err := redishost.NewFromEnv()
		if err != nil {
			return nil, nil, fmt.Errorf("redis session host: %w", err)
		}
		return host, func() { _ = host.Close() }, nil
	default:
		return nil, nil, fmt.Errorf("unknown sessions backend %q (want memory or redis)", backend)
	}
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "", "info":
		lvl = slog.LevelInfo
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}

func splitVersions(s string) []string {
	var out []string
	for _, v := range strings.Split(s, ",") {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}
