package root

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/okian/bitgalaxy/internal/domain/progression"
)

func newTierCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "tier <score> [t1 t2 t3]",
		Short: "Show the arcade tier a score reaches",
		Long:  "Maps a raw arcade score to a tier. Missing thresholds fall back to the defaults.",
		Args:  cobra.RangeArgs(1, 1+progression.MaxTier),
		RunE: func(cmd *cobra.Command, args []string) error {
			nums := make([]int, len(args))
			for i, a := range args {
				n, err := strconv.Atoi(a)
				if err != nil {
					return fmt.Errorf("argument %d must be an integer: %w", i+1, err)
				}
				nums[i] = n
			}
			tier := progression.TierForScore(nums[0], nums[1:])
			fmt.Fprintf(cmd.OutOrStdout(), "Tier: %d\n", tier)
			return nil
		},
	}
}
