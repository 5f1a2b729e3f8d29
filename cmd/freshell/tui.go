package main

import (
	"log/slog"
	"net/http"

	"github.com/spf13/cobra"

	"github.com/gfbonny/freshell/internal/config"
	"github.com/gfbonny/freshell/internal/tui"
)

func newTUICmd() *cobra.Command {
	var tokenFlag string

	cmd := &cobra.Command{
		Use:   "tui",
		Short: "Run the server with a read-only operator dashboard attached",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Load()
			if token := loadToken(tokenFlag); token != "" {
				cfg.AuthToken = token
			}
			logger := slog.Default()

			mux, registry, layoutStore := buildServer(cfg, logger)

			errCh := make(chan error, 1)
			go func() {
				errCh <- http.ListenAndServe(cfg.Addr, mux)
			}()

			if err := tui.Run(registry, layoutStore); err != nil {
				return err
			}

			select {
			case err := <-errCh:
				return err
			default:
				return nil
			}
		},
	}

	cmd.Flags().StringVar(&tokenFlag, "token", "", "auth token (overrides AUTH_TOKEN and the keychain)")
	return cmd
}
