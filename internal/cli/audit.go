package cli

import (
	"fmt"
	"text/tabwriter"
	"time"

	"ec-checkout/internal/domain/model"
	repo "ec-checkout/internal/repository"

	"github.com/spf13/cobra"
)

func newAuditCmd(deps Deps) *cobra.Command {
	var (
		sessionID string
		action    string
		userID    int64
		since     time.Duration
		limit     int
	)

	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Show checkout lifecycle events from the audit log",
		Long: `Show checkout lifecycle events from the audit log, newest first.

Examples:
  checkoutctl audit --session 0b6c6f7e-...
  checkoutctl audit --action WEBHOOK_REJECTED --since 24h`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			f := repo.AuditLogFilter{Limit: limit}
			if sessionID != "" {
				f.CheckoutSessionID = &sessionID
			}
			if action != "" {
				a := model.AuditAction(action)
				f.Action = &a
			}
			if userID > 0 {
				f.UserID = &userID
			}
			if since > 0 {
				from := time.Now().Add(-since)
				f.CreatedFrom = &from
			}

			return withOperator(cmd, deps, func(op Operator) error {
				logs, err := op.AuditTrail(cmd.Context(), f)
				if err != nil {
					return err
				}
				w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(w, "TIME\tACTION\tUSER\tCART\tSESSION\tEVENT")
				for _, l := range logs {
					fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%s\t%s\n",
						l.CreatedAt.UTC().Format(time.RFC3339), l.Action, l.UserID, l.CartID, l.CheckoutSessionID, l.ProviderEventID)
				}
				return w.Flush()
			})
		},
	}
	cmd.Flags().StringVar(&sessionID, "session", "", "checkout session id")
	cmd.Flags().StringVar(&action, "action", "", "event type (e.g. ORDER_CREATED)")
	cmd.Flags().Int64Var(&userID, "user", 0, "user id")
	cmd.Flags().DurationVar(&since, "since", 0, "only events newer than this")
	cmd.Flags().IntVar(&limit, "limit", 50, "maximum number of rows")
	return cmd
}
