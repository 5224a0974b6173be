package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/parleyhq/parley-relay/internal/config"
	"github.com/parleyhq/parley-relay/internal/gateway"
	"github.com/parleyhq/parley-relay/internal/httpserver"
	"github.com/parleyhq/parley-relay/internal/ice"
	"github.com/parleyhq/parley-relay/internal/metrics"
	"github.com/parleyhq/parley-relay/internal/room"
	"github.com/parleyhq/parley-relay/internal/session"
)

var (
	// Set via -ldflags at build time. Values may be empty in local/dev builds.
	buildCommit = ""
	buildTime   = ""
)

func main() {
	// A missing .env file is fine; env vars and flags still apply.
	_ = godotenv.Load()

	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	logger := config.NewLogger(cfg)
	slog.SetDefault(logger)

	provider, err := buildCredentialProvider(cfg)
	if err != nil {
		logger.Error("failed to configure ice credentials", "err", err)
		os.Exit(2)
	}

	logger.Info("starting parley-relay",
		"listen_addr", cfg.ListenAddr,
		"mode", cfg.Mode,
		"chat_history_limit", cfg.ChatHistoryLimit,
		"max_socket_message_bytes", cfg.MaxSocketMessageBytes,
		"socket_idle_timeout", cfg.SocketIdleTimeout,
		"credential_service_url_set", cfg.CredentialServiceURL != "",
		"turn_rest_enabled", cfg.TURNRESTSharedSecret != "",
		"ice_server_count", len(cfg.ICEServers),
	)

	registry := room.NewRegistry(cfg.ChatHistoryLimit)
	m := metrics.New()
	sessions := session.New(registry, provider)

	hub := gateway.NewHub(logger, registry, m)
	gw := gateway.NewServer(logger, hub, gateway.Options{
		MaxMessageBytes:   cfg.MaxSocketMessageBytes,
		MessagesPerSecond: cfg.MaxSocketMessagesPerSecond,
		IdleTimeout:       cfg.SocketIdleTimeout,
		PingInterval:      cfg.SocketPingInterval,
	})

	commit, built := resolveBuildInfo(buildCommit, buildTime)
	srv := httpserver.New(cfg, logger, httpserver.BuildInfo{Commit: commit, BuildTime: built}, sessions, gw, m)

	ln, err := net.Listen("tcp", cfg.ListenAddr)
	if err != nil {
		logger.Error("failed to listen", "err", err)
		os.Exit(1)
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server exited", "err", err)
			os.Exit(1)
		}
		return
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown failed", "err", err)
	}

	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("http server exited after shutdown", "err", err)
		os.Exit(1)
	}
}

// buildCredentialProvider picks the ICE credential source: a remote token
// service when configured, otherwise the static server list with optional
// TURN REST minting.
func buildCredentialProvider(cfg config.Config) (ice.Provider, error) {
	if cfg.CredentialServiceURL != "" {
		return &ice.HTTPProvider{
			URL:      cfg.CredentialServiceURL,
			Username: cfg.CredentialServiceKey,
			Password: cfg.CredentialServiceSecret,
			Timeout:  cfg.CredentialServiceTimeout,
		}, nil
	}

	static := &ice.StaticProvider{Servers: cfg.ICEServers}
	if cfg.TURNRESTSharedSecret != "" {
		minter, err := ice.NewMinter(ice.MinterConfig{
			SharedSecret: cfg.TURNRESTSharedSecret,
			TTLSeconds:   cfg.TURNRESTTTLSeconds,
			Prefix:       cfg.TURNRESTUsernamePrefix,
		})
		if err != nil {
			return nil, err
		}
		static.Minter = minter
	}
	return static, nil
}

func resolveBuildInfo(commit, built string) (string, string) {
	// Prefer ldflags-injected values (production builds) but fall back to the
	// Go build info when available (useful for `go run` / dev builds).
	if bi, ok := debug.ReadBuildInfo(); ok {
		for _, s := range bi.Settings {
			switch s.Key {
			case "vcs.revision":
				if commit == "" {
					commit = s.Value
				}
			case "vcs.time":
				if built == "" {
					built = s.Value
				}
			}
		}
	}
	if built == "" {
		built = time.Now().UTC().Format(time.RFC3339)
	}
	return commit, built
}
