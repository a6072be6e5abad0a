package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/episodia/episodia/internal/daemon"
	"github.com/episodia/episodia/internal/domain"
)

func init() {
	rootCmd.AddCommand(achievementsCmd)
	achievementsCmd.AddCommand(achievementsListCmd)
	achievementsCmd.AddCommand(achievementsEvaluateCmd)
}

var achievementsCmd = &cobra.Command{
	Use:   "achievements",
	Short: "Inspect and evaluate achievements",
}

// ─── achievements list ──────────────────────────────────────────────────────

var achievementsListCmd = &cobra.Command{
	Use:   "list [ACCOUNT_ID]",
	Short: "List achievements, with earned state when an account is given",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runAchievementsList,
}

func runAchievementsList(cmd *cobra.Command, args []string) error {
	return withDaemon(cmd, func(ctx context.Context, d *daemon.Daemon) error {
		earned := map[string]domain.AchievementAward{}
		if len(args) == 1 {
			awards, err := d.Achievements.Awards(ctx, args[0])
			if err != nil {
				return err
			}
			for _, a := range awards {
				earned[a.AchievementID] = a
			}
		}

		w := out(cmd)
		defs := d.Achievements.Definitions()
		if len(args) == 1 {
			fmt.Fprintf(w, "Achievements for %s (%d/%d):\n", args[0], len(earned), len(defs))
		}
		for _, def := range defs {
			mark := "  "
			when := ""
			if a, ok := earned[def.ID]; ok {
				mark = "✅"
				when = " earned " + humanize.Time(a.EarnedAt)
			}
			reward := ""
			if def.RewardCredits > 0 {
				reward = " +" + credits(def.RewardCredits)
			}
			fmt.Fprintf(w, "%s %-16s %-9s %s%s%s\n", mark, def.ID, strings.ToUpper(string(def.Rarity)), def.Description, reward, when)
		}
		return nil
	})
}

// ─── achievements evaluate ──────────────────────────────────────────────────

var achievementsEvaluateCmd = &cobra.Command{
	Use:   "evaluate ACCOUNT_ID",
	Short: "Evaluate an account's achievements now",
	Args:  cobra.ExactArgs(1),
	RunE:  runAchievementsEvaluate,
}

func runAchievementsEvaluate(cmd *cobra.Command, args []string) error {
	return withDaemon(cmd, func(ctx context.Context, d *daemon.Daemon) error {
		awarded, err := d.Achievements.EvaluateAccount(ctx, args[0])
		w := out(cmd)
		for _, id := range awarded {
			fmt.Fprintf(w, "🏆 %s earned %s\n", args[0], id)
		}
		if err != nil {
			return err
		}
		if len(awarded) == 0 {
			fmt.Fprintln(w, "No new achievements.")
		}
		return nil
	})
}
