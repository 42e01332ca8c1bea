package root

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/okian/bitgalaxy/internal/domain/progression"
)

func newRankCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rank <xp>",
		Short: "Show rank, level and progress for a total XP",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			xp, err := strconv.Atoi(args[0])
			if err != nil {
				return fmt.Errorf("xp must be an integer: %w", err)
			}
			p := progression.Progress(xp)

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Rank:     %s\n", p.Rank)
			fmt.Fprintf(out, "Level:    %d (next at %d XP)\n", p.Level, p.NextLevelXP)
			if p.IsMaxRank {
				fmt.Fprintln(out, "Progress: max rank")
				return nil
			}
			fmt.Fprintf(out, "Progress: %.1f%% to %s (%d XP to go)\n", p.Percent, p.NextRank, p.XPToNext)
			return nil
		},
	}
}
