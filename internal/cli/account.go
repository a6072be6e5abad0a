package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/episodia/episodia/internal/api"
	"github.com/episodia/episodia/internal/daemon"
)

func init() {
	rootCmd.AddCommand(accountCmd)
	accountCmd.AddCommand(accountOpenCmd)
	accountCmd.AddCommand(accountShowCmd)
	accountCmd.AddCommand(accountVerifyCmd)
	accountCmd.AddCommand(accountTokenCmd)

	accountTokenCmd.Flags().Bool("admin", false, "Grant the admin role")
	accountTokenCmd.Flags().Duration("ttl", 24*time.Hour, "Token lifetime")
}

var accountCmd = &cobra.Command{
	Use:   "account",
	Short: "Manage credit accounts",
}

// ─── account open ───────────────────────────────────────────────────────────

var accountOpenCmd = &cobra.Command{
	Use:   "open ACCOUNT_ID",
	Short: "Provision an account",
	Long:  `Provision an account for an identity-provider id. Opening an existing account is a no-op.`,
	Args:  cobra.ExactArgs(1),
	RunE:  runAccountOpen,
}

func runAccountOpen(cmd *cobra.Command, args []string) error {
	return withDaemon(cmd, func(ctx context.Context, d *daemon.Daemon) error {
		acct, created, err := d.Ledger.OpenAccount(ctx, args[0], time.Time{})
		if err != nil {
			return err
		}
		if created {
			fmt.Fprintf(out(cmd), "✅ Account %s opened with %s\n", acct.ID, credits(acct.Balance))
		} else {
			fmt.Fprintf(out(cmd), "Account %s already exists (%s)\n", acct.ID, credits(acct.Balance))
		}
		return nil
	})
}

// ─── account show ───────────────────────────────────────────────────────────

var accountShowCmd = &cobra.Command{
	Use:   "show ACCOUNT_ID",
	Short: "Show balance and lifetime stats",
	Args:  cobra.ExactArgs(1),
	RunE:  runAccountShow,
}

func runAccountShow(cmd *cobra.Command, args []string) error {
	return withDaemon(cmd, func(ctx context.Context, d *daemon.Daemon) error {
		acct, err := d.Ledger.Account(ctx, args[0])
		if err != nil {
			return err
		}
		w := out(cmd)
		fmt.Fprintf(w, "Account:           %s\n", acct.ID)
		fmt.Fprintf(w, "Balance:           %s\n", credits(acct.Balance))
		fmt.Fprintf(w, "Opened:            %s\n", humanize.Time(acct.CreatedAt))
		fmt.Fprintf(w, "Episodes unlocked: %s\n", humanize.Comma(acct.Stats.EpisodesUnlocked))
		fmt.Fprintf(w, "Series completed:  %s\n", humanize.Comma(acct.Stats.SeriesCompleted))
		fmt.Fprintf(w, "Credits purchased: %s\n", credits(acct.Stats.CreditsPurchased))
		fmt.Fprintf(w, "Credits spent:     %s\n", credits(acct.Stats.CreditsSpent))
		fmt.Fprintf(w, "Votes cast:        %s\n", humanize.Comma(acct.Stats.VotesCast))
		return nil
	})
}

// ─── account verify ─────────────────────────────────────────────────────────

var accountVerifyCmd = &cobra.Command{
	Use:   "verify ACCOUNT_ID",
	Short: "Check that the balance equals the transaction sum",
	Args:  cobra.ExactArgs(1),
	RunE:  runAccountVerify,
}

func runAccountVerify(cmd *cobra.Command, args []string) error {
	return withDaemon(cmd, func(ctx context.Context, d *daemon.Daemon) error {
		if err := d.Ledger.Verify(ctx, args[0]); err != nil {
			return err
		}
		fmt.Fprintf(out(cmd), "✅ Ledger for %s is consistent\n", args[0])
		return nil
	})
}

// ─── account token ──────────────────────────────────────────────────────────

var accountTokenCmd = &cobra.Command{
	Use:   "token ACCOUNT_ID",
	Short: "Mint a bearer token for local testing",
	Long: `Mint an HS256 bearer token signed with [auth].secret. Production tokens
come from the identity provider; this is for local development.`,
	Args: cobra.ExactArgs(1),
	RunE: runAccountToken,
}

func runAccountToken(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	auth, err := api.NewAuthenticator(cfg.Auth.Secret, cfg.Auth.Issuer)
	if err != nil {
		return err
	}
	admin, _ := cmd.Flags().GetBool("admin")
	ttl, _ := cmd.Flags().GetDuration("ttl")
	role := ""
	if admin {
		role = api.RoleAdmin
	}
	tok, err := auth.Mint(args[0], role, ttl)
	if err != nil {
		return fmt.Errorf("mint token: %w", err)
	}
	fmt.Fprintln(out(cmd), tok)
	return nil
}
