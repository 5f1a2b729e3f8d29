package main

import (
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/atotto/clipboard"
	"github.com/skip2/go-qrcode"
	"github.com/spf13/cobra"

	"github.com/gfbonny/freshell/internal/agentapi"
	"github.com/gfbonny/freshell/internal/config"
	"github.com/gfbonny/freshell/internal/layout"
	"github.com/gfbonny/freshell/internal/session"
	"github.com/gfbonny/freshell/internal/terminal"
	"github.com/gfbonny/freshell/internal/transport"
)

// buildServer wires the Terminal Registry, Layout Store, Session
// Manager, and HTTP agent API behind one mux, the same graph
// cmd/freshelld runs standalone. The CLI reuses it so `freshell serve`
// and `freshell tui` share one daemon implementation.
func buildServer(cfg *config.Config, logger *slog.Logger) (*http.ServeMux, *terminal.Registry, *layout.Store) {
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
	layoutStore.SetOnCommand(manager.BroadcastUICommand)

	mux := http.NewServeMux()
	mux.Handle("/ws", transport.New(manager, logger))
	mux.Handle("/api/", agentapi.New(registry, layoutStore, logger))
	return mux, registry, layoutStore
}

func newServeCmd() *cobra.Command {
	var tokenFlag string
	var showQR bool
	var copyClipboard bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the freshell server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Load()
			if token := loadToken(tokenFlag); token != "" {
				cfg.AuthToken = token
			}
			logger := slog.Default()
			if cfg.AuthToken == "" {
				logger.Warn("AUTH_TOKEN is unset; hello will accept any token")
			}

			mux, _, _ := buildServer(cfg, logger)

			url := connectionURL(cfg.Addr)
			printHandoff(url, showQR, copyClipboard)

			logger.Info("freshell listening", "addr", cfg.Addr)
			return http.ListenAndServe(cfg.Addr, mux)
		},
	}

	cmd.Flags().StringVar(&tokenFlag, "token", "", "auth token (overrides AUTH_TOKEN and the keychain)")
	cmd.Flags().BoolVar(&showQR, "qr", false, "print a QR code of the connection URL")
	cmd.Flags().BoolVar(&copyClipboard, "clipboard", true, "copy the connection URL to the clipboard")
	return cmd
}

// connectionURL turns a listen address into a URL a mobile device on the
// same network could plug in, per spec §1's "mobile first" usage mode.
func connectionURL(addr string) string {
	host := addr
	if strings.HasPrefix(addr, ":") {
		host = "localhost" + addr
	}
	return "ws://" + host + "/ws"
}

func printHandoff(url string, showQR, copyClipboard bool) {
	fmt.Println("connection URL:", url)

	if copyClipboard {
		if err := clipboard.WriteAll(url); err != nil {
			fmt.Println("(could not copy to clipboard:", err, ")")
		} else {
			fmt.Println("(copied to clipboard)")
		}
	}

	if showQR {
		lines := qrLines(url, 60, 30)
		for _, line := range lines {
			fmt.Println(line)
		}
	}
}

// qrLines renders url as a QR code using half-block characters so it
// displays at the correct aspect ratio in a terminal, matching the
// deprecated tree's qr package.
func qrLines(data string, maxWidth, maxHeight uint16) []string {
	levels := []qrcode.RecoveryLevel{qrcode.High, qrcode.Medium, qrcode.Low}

	for _, level := range levels {
		qr, err := qrcode.New(data, level)
		if err != nil {
			continue
		}
		bitmap := qr.Bitmap()
		if len(bitmap) == 0 {
			continue
		}
		size := len(bitmap)
		width := uint16(size)
		height := uint16((size + 1) / 2)
		if width > maxWidth || height > maxHeight {
			continue
		}

		lines := make([]string, 0, height)
		for rowPair := 0; rowPair < (size+1)/2; rowPair++ {
			upperY := rowPair * 2
			lowerY := rowPair*2 + 1

			var sb strings.Builder
			for x := 0; x < size; x++ {
				upper := bitmap[upperY][x]
				lower := false
				if lowerY < size {
					lower = bitmap[lowerY][x]
				}
				switch {
				case upper && lower:
					sb.WriteRune('█')
				case upper && !lower:
					sb.WriteRune('▀')
				case !upper && lower:
					sb.WriteRune('▄')
				default:
					sb.WriteRune(' ')
				}
			}
			lines = append(lines, sb.String())
		}
		return lines
	}

	return []string{"QR code too large for terminal"}
}
