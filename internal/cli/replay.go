package cli

import (
	"fmt"
	"time"

	"ec-checkout/internal/provider/card"
	"ec-checkout/internal/provider/mobilemoney"

	"github.com/spf13/cobra"
)

func newReplayCmd(deps Deps) *cobra.Command {
	return &cobra.Command{
		Use:   "replay <provider> <event-id>",
		Short: "Re-run reconciliation for a stored provider event",
		Long: fmt.Sprintf(`Re-run reconciliation for a provider event that was verified and stored
but left RECEIVED (for example after a database failure).

Examples:
  checkoutctl replay %s evt_123
  checkoutctl replay %s mm_tx_50`, card.Name, mobilemoney.Name),
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withOperator(cmd, deps, func(op Operator) error {
				status, err := op.Replay(cmd.Context(), args[0], args[1])
				if err != nil {
					return fmt.Errorf("replay %s/%s: %w", args[0], args[1], err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s %s: %s\n", args[0], args[1], status)
				return nil
			})
		},
	}
}

func newReplayPendingCmd(deps Deps) *cobra.Command {
	var (
		olderThan time.Duration
		limit     int
	)

	cmd := &cobra.Command{
		Use:   "replay-pending",
		Short: "Replay every stored event still RECEIVED after --older-than",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withOperator(cmd, deps, func(op Operator) error {
				sum, err := op.ReplayPending(cmd.Context(), olderThan, limit)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "attempted=%d settled=%d failed=%d\n", sum.Attempted, sum.Settled, sum.Failed)
				if sum.Failed > 0 {
					return fmt.Errorf("%d event(s) could not be reconciled", sum.Failed)
				}
				return nil
			})
		},
	}
	cmd.Flags().DurationVar(&olderThan, "older-than", 5*time.Minute, "only events received before now minus this duration")
	cmd.Flags().IntVar(&limit, "limit", 100, "maximum number of events to replay")
	return cmd
}
