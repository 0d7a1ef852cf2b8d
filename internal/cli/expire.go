package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newExpireSessionsCmd(deps Deps) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "expire-sessions",
		Short: "Expire PENDING checkout sessions past their expiry and reopen their carts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withOperator(cmd, deps, func(op Operator) error {
				n, err := op.ExpireStale(cmd.Context(), limit)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "expired %d session(s)\n", n)
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 500, "maximum number of sessions to expire")
	return cmd
}
