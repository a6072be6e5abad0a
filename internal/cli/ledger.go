package cli

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/episodia/episodia/internal/daemon"
	"github.com/episodia/episodia/internal/domain"
)

func init() {
	rootCmd.AddCommand(ledgerCmd)
	ledgerCmd.AddCommand(ledgerCreditCmd)
	ledgerCmd.AddCommand(ledgerHistoryCmd)

	ledgerCreditCmd.Flags().String("kind", string(domain.TxPurchase), "Transaction kind: purchase or bonus")
	ledgerCreditCmd.Flags().StringP("description", "d", "", "Transaction description")
	ledgerHistoryCmd.Flags().IntP("limit", "n", 20, "Number of transactions to show")
	ledgerHistoryCmd.Flags().Duration("since", 0, "Only show transactions newer than this (e.g. 72h)")
}

var ledgerCmd = &cobra.Command{
	Use:   "ledger",
	Short: "Credit ledger operations",
}

// ─── ledger credit ──────────────────────────────────────────────────────────

var ledgerCreditCmd = &cobra.Command{
	Use:   "credit ACCOUNT_ID AMOUNT",
	Short: "Credit an account",
	Args:  cobra.ExactArgs(2),
	RunE:  runLedgerCredit,
}

func runLedgerCredit(cmd *cobra.Command, args []string) error {
	amount, err := strconv.ParseInt(args[1], 10, 64)
	if err != nil {
		return fmt.Errorf("amount must be a whole number of credits: %w", err)
	}
	kind, _ := cmd.Flags().GetString("kind")
	desc, _ := cmd.Flags().GetString("description")

	return withDaemon(cmd, func(ctx context.Context, d *daemon.Daemon) error {
		balance, err := d.Ledger.Credit(ctx, args[0], amount, domain.TransactionKind(kind), desc, nil)
		if err != nil {
			return err
		}
		fmt.Fprintf(out(cmd), "✅ Credited %s to %s, balance %s\n", credits(amount), args[0], credits(balance))
		return nil
	})
}

// ─── ledger history ─────────────────────────────────────────────────────────

var ledgerHistoryCmd = &cobra.Command{
	Use:   "history ACCOUNT_ID",
	Short: "Show recent transactions, newest first",
	Args:  cobra.ExactArgs(1),
	RunE:  runLedgerHistory,
}

func runLedgerHistory(cmd *cobra.Command, args []string) error {
	limit, _ := cmd.Flags().GetInt("limit")
	window, _ := cmd.Flags().GetDuration("since")
	var since time.Time
	if window > 0 {
		since = time.Now().Add(-window)
	}

	return withDaemon(cmd, func(ctx context.Context, d *daemon.Daemon) error {
		txs, err := d.Ledger.History(ctx, args[0], since, limit)
		if err != nil {
			return err
		}
		w := out(cmd)
		if len(txs) == 0 {
			fmt.Fprintln(w, "No transactions.")
			return nil
		}
		fmt.Fprintf(w, "%-10s %10s %10s  %-14s %s\n", "KIND", "AMOUNT", "BALANCE", "WHEN", "DESCRIPTION")
		for _, tx := range txs {
			fmt.Fprintf(w, "%-10s %10s %10s  %-14s %s\n",
				tx.Kind, humanize.Comma(tx.Amount), humanize.Comma(tx.BalanceAfter),
				humanize.Time(tx.CreatedAt), tx.Description)
		}
		return nil
	})
}
