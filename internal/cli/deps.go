package cli

import (
	"context"
	"fmt"
	"time"

	"ec-checkout/internal/app"
	"ec-checkout/internal/config"
	"ec-checkout/internal/domain/model"
	"ec-checkout/internal/infra/db"
	repo "ec-checkout/internal/repository"
	"ec-checkout/internal/usecase"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// 本番用の接続（.env → 環境変数）
func DefaultDeps() Deps {
	return Deps{
		OpenOperator: openOperator,
		OpenMigrator: openMigrator,
	}
}

type appOperator struct {
	a *app.App
}

func (o appOperator) Replay(ctx context.Context, providerName, providerEventID string) (model.PaymentEventStatus, error) {
	return o.a.Webhooks.Replay(ctx, providerName, providerEventID)
}

func (o appOperator) ReplayPending(ctx context.Context, olderThan time.Duration, limit int) (usecase.ReplaySummary, error) {
	return o.a.Webhooks.ReplayPending(ctx, olderThan, limit)
}

func (o appOperator) ExpireStale(ctx context.Context, limit int) (int, error) {
	return o.a.Expiry.ExpireStale(ctx, limit)
}

func (o appOperator) AuditTrail(ctx context.Context, filter repo.AuditLogFilter) ([]model.AuditLog, error) {
	return o.a.AuditLogs.List(ctx, filter)
}

func openOperator(_ context.Context) (Operator, func() error, error) {
	_ = godotenv.Load()
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	log, err := newLogger(cfg)
	if err != nil {
		return nil, nil, err
	}

	//CLIは1回きりなので専用レジストリ
	reg := prometheus.NewRegistry()
	a, err := app.New(cfg, log, reg, reg)
	if err != nil {
		return nil, nil, err
	}

	a.Start()
	closeFn := func() error {
		err := a.Close()
		_ = log.Sync()
		return err
	}
	return appOperator{a: a}, closeFn, nil
}

type dbMigrator struct {
	db *gorm.DB
}

func (m dbMigrator) Up(ctx context.Context) error { return db.Migrate(ctx, m.db) }

func (m dbMigrator) Down(ctx context.Context, steps int) error {
	return db.MigrateDown(ctx, m.db, steps)
}

func (m dbMigrator) Version(ctx context.Context) (uint, bool, error) {
	return db.MigrationVersion(ctx, m.db)
}

// マイグレーションはDB接続だけあればよい（プロバイダ設定は不要）
func openMigrator(ctx context.Context) (Migrator, func() error, error) {
	_ = godotenv.Load()
	gormDB, err := db.Open(db.DSN())
	if err != nil {
		return nil, nil, fmt.Errorf("connect database: %w", err)
	}
	closeFn := func() error {
		sqlDB, err := gormDB.DB()
		if err != nil {
			return err
		}
		return sqlDB.Close()
	}
	return dbMigrator{db: gormDB}, closeFn, nil
}

func newLogger(cfg config.Config) (*zap.Logger, error) {
	if cfg.IsDev() {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}
