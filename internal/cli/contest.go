package cli

import (
	"context"
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/episodia/episodia/internal/daemon"
	"github.com/episodia/episodia/internal/domain"
)

func init() {
	rootCmd.AddCommand(contestCmd)
	contestCmd.AddCommand(contestCreateCmd)
	contestCmd.AddCommand(contestListCmd)
	contestCmd.AddCommand(contestStatusCmd)
	contestCmd.AddCommand(contestSubmitCmd)
	contestCmd.AddCommand(contestLeaderboardCmd)

	contestCreateCmd.Flags().String("status", string(domain.ContestDraft), "Initial status")
	contestLeaderboardCmd.Flags().IntP("limit", "n", 10, "Number of entries to show")
}

var contestCmd = &cobra.Command{
	Use:   "contest",
	Short: "Manage voting contests",
}

// ─── contest create ─────────────────────────────────────────────────────────

var contestCreateCmd = &cobra.Command{
	Use:   "create TITLE",
	Short: "Create a contest",
	Args:  cobra.ExactArgs(1),
	RunE:  runContestCreate,
}

func runContestCreate(cmd *cobra.Command, args []string) error {
	status, _ := cmd.Flags().GetString("status")
	return withDaemon(cmd, func(ctx context.Context, d *daemon.Daemon) error {
		c, err := d.Voting.CreateContest(ctx, domain.Contest{Title: args[0], Status: domain.ContestStatus(status)})
		if err != nil {
			return err
		}
		fmt.Fprintf(out(cmd), "✅ Contest %q created: %s (%s)\n", c.Title, c.ID, c.Status)
		return nil
	})
}

// ─── contest list ───────────────────────────────────────────────────────────

var contestListCmd = &cobra.Command{
	Use:   "list",
	Short: "List contests",
	Args:  cobra.NoArgs,
	RunE:  runContestList,
}

func runContestList(cmd *cobra.Command, args []string) error {
	return withDaemon(cmd, func(ctx context.Context, d *daemon.Daemon) error {
		list, err := d.Voting.Contests(ctx)
		if err != nil {
			return err
		}
		w := out(cmd)
		if len(list) == 0 {
			fmt.Fprintln(w, "No contests.")
			return nil
		}
		for _, c := range list {
			fmt.Fprintf(w, "  • %s  %-12s %s (created %s)\n", c.ID, c.Status, c.Title, humanize.Time(c.CreatedAt))
		}
		return nil
	})
}

// ─── contest status ─────────────────────────────────────────────────────────

var contestStatusCmd = &cobra.Command{
	Use:   "status CONTEST_ID STATUS",
	Short: "Advance a contest (submissions, voting, ended)",
	Args:  cobra.ExactArgs(2),
	RunE:  runContestStatus,
}

func runContestStatus(cmd *cobra.Command, args []string) error {
	return withDaemon(cmd, func(ctx context.Context, d *daemon.Daemon) error {
		c, err := d.Voting.SetStatus(ctx, args[0], domain.ContestStatus(args[1]))
		if err != nil {
			return err
		}
		fmt.Fprintf(out(cmd), "✅ Contest %s is now %s\n", c.ID, c.Status)
		return nil
	})
}

// ─── contest submit ─────────────────────────────────────────────────────────

var contestSubmitCmd = &cobra.Command{
	Use:   "submit CONTEST_ID AUTHOR_ID TITLE",
	Short: "Enter a submission",
	Args:  cobra.ExactArgs(3),
	RunE:  runContestSubmit,
}

func runContestSubmit(cmd *cobra.Command, args []string) error {
	return withDaemon(cmd, func(ctx context.Context, d *daemon.Daemon) error {
		sub, err := d.Voting.Submit(ctx, args[0], args[1], args[2])
		if err != nil {
			return err
		}
		fmt.Fprintf(out(cmd), "✅ Submission %q entered: %s\n", sub.Title, sub.ID)
		return nil
	})
}

// ─── contest leaderboard ────────────────────────────────────────────────────

var contestLeaderboardCmd = &cobra.Command{
	Use:   "leaderboard CONTEST_ID",
	Short: "Show the ranked submissions",
	Args:  cobra.ExactArgs(1),
	RunE:  runContestLeaderboard,
}

func runContestLeaderboard(cmd *cobra.Command, args []string) error {
	limit, _ := cmd.Flags().GetInt("limit")
	return withDaemon(cmd, func(ctx context.Context, d *daemon.Daemon) error {
		entries, err := d.Voting.Leaderboard(ctx, args[0], limit)
		if err != nil {
			return err
		}
		w := out(cmd)
		if len(entries) == 0 {
			fmt.Fprintln(w, "No submissions yet.")
			return nil
		}
		fmt.Fprintf(w, "%-5s %-30s %8s %6s %8s %6s\n", "RANK", "TITLE", "TOTAL", "FREE", "PREMIUM", "SUPER")
		for _, e := range entries {
			fmt.Fprintf(w, "%-5s %-30s %8s %6d %8d %6d\n",
				humanize.Ordinal(e.Rank), e.Title, humanize.Comma(e.Total), e.FreeVotes, e.PremiumVotes, e.SuperVotes)
		}
		return nil
	})
}
