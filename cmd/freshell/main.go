// freshell is the CLI collaborator of spec §6: it pairs the daemon from
// cmd/freshelld with the conveniences a real terminal-multiplexer client
// needs (a connection URL handoff via QR code and clipboard, a token
// stored in the OS keychain rather than a plaintext flag, a raw-mode
// terminal client, and a read-only operator dashboard). Grounded on
// trybotster's own cobra root command plus its deprecated-tree QR and
// keyring helpers.
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"github.com/zalando/go-keyring"
)

// Version is set at build time via ldflags.
var Version = "dev"

const keyringService = "freshell"
const keyringTokenEntry = "auth-token"

func main() {
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo})
	slog.SetDefault(slog.New(handler))

	rootCmd := &cobra.Command{
		Use:     "freshell",
		Short:   "Freshell terminal multiplexer client",
		Version: Version,
	}

	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newAttachCmd())
	rootCmd.AddCommand(newTUICmd())
	rootCmd.AddCommand(newTokenCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// loadToken resolves the auth token with precedence flag > env > keyring,
// matching the deprecated tree's device package's keyring-over-plaintext
// preference.
func loadToken(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}
	if v := os.Getenv("AUTH_TOKEN"); v != "" {
		return v
	}
	stored, err := keyring.Get(keyringService, keyringTokenEntry)
	if err == nil {
		return stored
	}
	return ""
}

func newTokenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Manage the stored AUTH_TOKEN in the OS keychain",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "set <token>",
		Short: "Store a token in the OS keychain",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := keyring.Set(keyringService, keyringTokenEntry, args[0]); err != nil {
				return fmt.Errorf("store token: %w", err)
			}
			fmt.Println("token stored")
			return nil
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "clear",
		Short: "Remove the stored token from the OS keychain",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := keyring.Delete(keyringService, keyringTokenEntry); err != nil {
				return fmt.Errorf("clear token: %w", err)
			}
			fmt.Println("token cleared")
			return nil
		},
	})
	return cmd
}
