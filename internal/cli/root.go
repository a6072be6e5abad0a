// Package cli implements the episodia command line.
package cli

import (
	"context"
	"io"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/episodia/episodia/internal/daemon"
)

var rootCmd = &cobra.Command{
	Use:   "episodia",
	Short: "Credits, unlocks, achievements and contest voting",
	Long: `Episodia runs the economy behind an episodic streaming app: the credit
ledger, per-episode unlocks, achievements and contest voting.

Run 'episodia serve' to start the HTTP API. The other commands operate on
the local store directly.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().String("config", "", "config file (default ~/.episodia/config.toml)")
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

// ─── Helpers ────────────────────────────────────────────────────────────────

// loadConfig reads the config named by --config.
func loadConfig(cmd *cobra.Command) (daemon.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	return daemon.LoadConfig(path)
}

// withDaemon opens the store and services for one command.
func withDaemon(cmd *cobra.Command, fn func(ctx context.Context, d *daemon.Daemon) error) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	d, err := daemon.New(ctx, cfg)
	if err != nil {
		return err
	}
	defer d.Close()
	return fn(ctx, d)
}

func out(cmd *cobra.Command) io.Writer {
	return cmd.OutOrStdout()
}

// credits formats a credit amount with thousands separators.
func credits(n int64) string {
	return humanize.Comma(n) + " cr"
}
