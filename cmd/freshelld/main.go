// freshelld is the Freshell server daemon: it wires the Terminal
// Registry, Layout Store, Session Manager, and HTTP agent API together
// behind one net/http listener, per spec §2's component graph.
package main

import (
	"fmt"
	"log/slog"
	"net/http"
	"os"

	"github.com/spf13/cobra"

	"github.com/gfbonny/freshell/internal/agentapi"
	"github.com/gfbonny/freshell/internal/config"
	"github.com/gfbonny/freshell/internal/layout"
	"github.com/gfbonny/freshell/internal/session"
	"github.com/gfbonny/freshell/internal/terminal"
	"github.com/gfbonny/freshell/internal/transport"
)

// Version is set at build time via ldflags.
var Version = "dev"

func main() {
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo})
	slog.SetDefault(slog.New(handler))

	rootCmd := &cobra.Command{
		Use:     "freshelld",
		Short:   "Freshell server daemon",
		Version: Version,
		RunE:    runServe,
	}

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg := config.Load()
	logger := slog.Default()

	if cfg.AuthToken == "" {
		logger.Warn("AUTH_TOKEN is unset; hello will accept any token")
	}

	registry := terminal.NewRegistry(cfg.ScrollbackMaxBytes, logger)
	layoutStore := layout.NewStore(nil)

	manager := session.New(
		registry,
		layoutStore,
		cfg.AuthToken,
		cfg.HelloTimeout,
		cfg.CreateRateLimit,
		cfg.CreateRateWindow,
		cfg.MaxWSChunkBytes,
		cfg.SlowConsumerQueueLimit,
		logger,
	)

	// The Store is constructed before the Manager exists; wire the
	// broadcast callback now that both do, so pure tree transforms in
	// the Layout & Target Resolver converge every connected client
	// (spec §4.4).
	layoutStore.SetOnCommand(manager.BroadcastUICommand)

	mux := http.NewServeMux()
	mux.Handle("/ws", transport.New(manager, logger))
	mux.Handle("/api/", agentapi.New(registry, layoutStore, logger))

	logger.Info("freshell listening", "addr", cfg.Addr)
	return http.ListenAndServe(cfg.Addr, mux)
}
