package root

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/okian/bitgalaxy/internal/loadgen"
	"github.com/okian/bitgalaxy/pkg/logger"
)

func newLoadgenCmd() *cobra.Command {
	cfg := loadgen.DefaultConfig()
	var verbose bool

	cmd := &cobra.Command{
		Use:   "loadgen",
		Short: "Drive a running server with concurrent arcade runs",
		Long: "Joins players, submits arcade runs from concurrent workers (some replaying " +
			"an earlier run id) and checks every player's XP against the accepted runs.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			log := logger.New(cmd.ErrOrStderr(), logger.Options{Format: logger.FormatText})
			cfg.Verbose = verbose
			r, err := loadgen.NewRunner(cfg, log.Named("loadgen"))
			if err != nil {
				return err
			}
			stats, err := r.Run(ctx)

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "org:       %s\n", r.OrgID())
			fmt.Fprintf(out, "players:   %d joined, %d verified\n", stats.PlayersJoined, stats.PlayersVerified)
			fmt.Fprintf(out, "runs:      %d submitted, %d accepted, %d rejected, %d failed\n",
				stats.RunsSubmitted, stats.RunsAccepted, stats.Rejected(), stats.RunsFailed)
			if verbose {
				for code, n := range stats.RunsRejected {
					fmt.Fprintf(out, "  %-22s %d\n", code, n)
				}
			}
			fmt.Fprintf(out, "duration:  %s\n", stats.Duration)
			return err
		},
	}

	f := cmd.Flags()
	f.StringVar(&cfg.BaseURL, "url", cfg.BaseURL, "base URL of the service")
	f.StringVar(&cfg.OrgID, "org", cfg.OrgID, "org to play in (default: a fresh one)")
	f.StringVar(&cfg.QuestID, "quest", cfg.QuestID, "arcade quest id")
	f.IntVar(&cfg.Players, "players", cfg.Players, "players to join")
	f.IntVar(&cfg.Runs, "runs", cfg.Runs, "runs to submit")
	f.IntVar(&cfg.Workers, "workers", cfg.Workers, "concurrent submitters")
	f.DurationVar(&cfg.Timeout, "timeout", cfg.Timeout, "HTTP request timeout")
	f.Float64Var(&cfg.ReplayRatio, "replay", cfg.ReplayRatio, "share of runs replaying an earlier run id")
	f.IntVar(&cfg.MaxScore, "max-score", cfg.MaxScore, "upper bound of generated scores")
	f.BoolVarP(&verbose, "verbose", "v", false, "print rejections by code")
	return cmd
}
