// ABOUTME: Entry point for fabricd, the agent interconnect fabric's server process.

package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/fatih/color"

	"github.com/2389/agentfabric/internal/auth"
	"github.com/2389/agentfabric/internal/config"
	"github.com/2389/agentfabric/internal/fabric"
	"github.com/2389/agentfabric/internal/httpapi"
)

var version = "dev"

const banner = `
  __      _              _  __     _          _
 / _|_ __(_)__ _ __  _ __(_)/ _|  _ _ __ _ ___| |_
|  _| '_ \ / _' |  \/ / _' | |_  | '_/ _' / _ \  _|
|_| | .__/ \__,_|_|\_\__,_|_|_| |_| \__,_\___/\__|
    |_|
`

func getConfigPath() string {
	if p := os.Getenv("FABRIC_CONFIG"); p != "" {
		return p
	}
	return "fabric.yaml"
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	configPath := getConfigPath()

	cyan := color.New(color.FgCyan)
	cyan.Print(banner)
	color.New(color.FgHiBlack).Printf("    version: %s\n\n", version)

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := setupLogger(cfg.Logging)

	green := color.New(color.FgGreen)
	green.Print("    > ")
	fmt.Printf("config:   %s\n", configPath)
	green.Print("    > ")
	fmt.Printf("http:     %s\n", cfg.Server.HTTPAddr)
	green.Print("    > ")
	if cfg.Database.Path != "" {
		fmt.Printf("database: %s\n", cfg.Database.Path)
	} else {
		fmt.Println("database: (in-memory, persistence disabled)")
	}
	fmt.Println()

	logger.Info("starting fabricd",
		"config", configPath,
		"http_addr", cfg.Server.HTTPAddr,
		"persistent", cfg.Database.Path != "",
	)

	f, err := fabric.New(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("creating fabric: %w", err)
	}

	tokens := auth.NewJWTVerifier([]byte(cfg.Auth.JWTSecret))

	var bootstrap *auth.Bootstrap
	if cfg.Auth.RPID != "" && cfg.Auth.RPOrigin != "" && f.Store != nil {
		bootstrap, err = auth.NewBootstrap(f.Store, tokens, cfg.Auth.RPDisplayName, cfg.Auth.RPID, cfg.Auth.RPOrigin)
		if err != nil {
			return fmt.Errorf("creating webauthn bootstrap: %w", err)
		}
		logger.Info("webauthn passkey bootstrap enabled", "rp_id", cfg.Auth.RPID)
	}

	server := httpapi.New(f, tokens, bootstrap, logger)
	httpServer := &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           server,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ln, err := net.Listen("tcp", cfg.Server.HTTPAddr)
	if err != nil {
		return fmt.Errorf("listening on http address: %w", err)
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server listening", "addr", ln.Addr().String())
		if err := httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	var serverErr error
	select {
	case <-ctx.Done():
		logger.Info("context canceled, initiating shutdown")
	case serverErr = <-errCh:
		logger.Error("server error", "error", serverErr)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var shutdownErr error
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		shutdownErr = fmt.Errorf("http shutdown: %w", err)
	}
	if err := f.Shutdown(shutdownCtx); err != nil && shutdownErr == nil {
		shutdownErr = fmt.Errorf("fabric shutdown: %w", err)
	}

	if serverErr != nil {
		return serverErr
	}
	return shutdownErr
}

func setupLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = &colorHandler{level: level}
	}
	return slog.New(handler)
}

// colorHandler renders log records with colorized level tags for
// interactive terminals, the non-JSON counterpart to slog.JSONHandler.
type colorHandler struct {
	mu     sync.Mutex
	level  slog.Level
	attrs  []slog.Attr
	groups []string
}

func (h *colorHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level
}

func (h *colorHandler) Handle(_ context.Context, r slog.Record) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	var buf strings.Builder
	buf.WriteString(color.HiBlackString(r.Time.Format("15:04:05") + " "))

	switch r.Level {
	case slog.LevelDebug:
		buf.WriteString(color.MagentaString("DBG "))
	case slog.LevelInfo:
		buf.WriteString(color.CyanString("INF "))
	case slog.LevelWarn:
		buf.WriteString(color.YellowString("WRN "))
	case slog.LevelError:
		buf.WriteString(color.New(color.FgRed, color.Bold).Sprint("ERR "))
	default:
		buf.WriteString("??? ")
	}

	buf.WriteString(r.Message)
	for _, a := range h.attrs {
		buf.WriteString(color.HiBlackString(" " + a.Key + "="))
		buf.WriteString(a.Value.String())
	}
	r.Attrs(func(a slog.Attr) bool {
		buf.WriteString(color.HiBlackString(" " + a.Key + "="))
		buf.WriteString(a.Value.String())
		return true
	})
	buf.WriteString("\n")
	fmt.Print(buf.String())
	return nil
}

func (h *colorHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	newAttrs := make([]slog.Attr, len(h.attrs), len(h.attrs)+len(attrs))
	copy(newAttrs, h.attrs)
	newAttrs = append(newAttrs, attrs...)
	return &colorHandler{level: h.level, attrs: newAttrs, groups: h.groups}
}

func (h *colorHandler) WithGroup(name string) slog.Handler {
	newGroups := make([]string, len(h.groups), len(h.groups)+1)
	copy(newGroups, h.groups)
	newGroups = append(newGroups, name)
	return &colorHandler{level: h.level, attrs: h.attrs, groups: newGroups}
}
