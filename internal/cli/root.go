package cli

import (
	"context"
	"fmt"
	"os"
	"time"

	"ec-checkout/internal/domain/model"
	repo "ec-checkout/internal/repository"
	"ec-checkout/internal/usecase"

	"github.com/spf13/cobra"
)

// 運用コマンドが使う操作（usecaseの薄いラッパー）
type Operator interface {
	Replay(ctx context.Context, providerName, providerEventID string) (model.PaymentEventStatus, error)
	ReplayPending(ctx context.Context, olderThan time.Duration, limit int) (usecase.ReplaySummary, error)
	ExpireStale(ctx context.Context, limit int) (int, error)
	AuditTrail(ctx context.Context, filter repo.AuditLogFilter) ([]model.AuditLog, error)
}

type Migrator interface {
	Up(ctx context.Context) error
	Down(ctx context.Context, steps int) error
	Version(ctx context.Context) (uint, bool, error)
}

// コマンド実行時に初めて接続する（--helpでDBに触らない）
type Deps struct {
	OpenOperator func(ctx context.Context) (Operator, func() error, error)
	OpenMigrator func(ctx context.Context) (Migrator, func() error, error)
}

func NewRootCmd(deps Deps) *cobra.Command {
	root := &cobra.Command{
		Use:           "checkoutctl",
		Short:         "Operator tooling for the checkout service",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(newMigrateCmd(deps))
	root.AddCommand(newReplayCmd(deps))
	root.AddCommand(newReplayPendingCmd(deps))
	root.AddCommand(newExpireSessionsCmd(deps))
	root.AddCommand(newAuditCmd(deps))
	return root
}

func Execute(version string) error {
	root := NewRootCmd(DefaultDeps())
	root.Version = version
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		return err
	}
	return nil
}

func withOperator(cmd *cobra.Command, deps Deps, fn func(op Operator) error) (err error) {
	op, closeFn, err := deps.OpenOperator(cmd.Context())
	if err != nil {
		return err
	}
	defer func() {
		if cerr := closeFn(); cerr != nil && err == nil {
			err = cerr
		}
	}()
	return fn(op)
}
