package db

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"io/fs"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"gorm.io/gorm"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// 埋め込みのSQLでスキーマを最新にする
func Migrate(ctx context.Context, gdb *gorm.DB) error {
	m, err := newMigrator(ctx, gdb)
	if err != nil {
		return err
	}
	defer m.Close()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("could not run migrations: %w", err)
	}
	return nil
}

// steps分戻す（運用用）
func MigrateDown(ctx context.Context, gdb *gorm.DB, steps int) error {
	if steps <= 0 {
		steps = 1
	}
	m, err := newMigrator(ctx, gdb)
	if err != nil {
		return err
	}
	defer m.Close()

	if err := m.Steps(-steps); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("could not roll back migrations: %w", err)
	}
	return nil
}

func MigrationVersion(ctx context.Context, gdb *gorm.DB) (uint, bool, error) {
	m, err := newMigrator(ctx, gdb)
	if err != nil {
		return 0, false, err
	}
	defer m.Close()

	v, dirty, err := m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, false, nil
	}
	return v, dirty, err
}

// プール全体ではなく専用の1接続で流す（Closeでgormのプールを閉じないため）
func newMigrator(ctx context.Context, gdb *gorm.DB) (*migrate.Migrate, error) {
	return newMigratorFrom(ctx, gdb, migrationsFS, "migrations")
}

// 失敗時はdriverごと閉じて接続をプールに返す
func newMigratorFrom(ctx context.Context, gdb *gorm.DB, fsys fs.FS, dir string) (*migrate.Migrate, error) {
	sqlDB, err := gdb.DB()
	if err != nil {
		return nil, err
	}
	conn, err := sqlDB.Conn(ctx)
	if err != nil {
		return nil, err
	}
	driver, err := postgres.WithConnection(ctx, conn, &postgres.Config{})
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("could not create migration driver: %w", err)
	}
	src, err := iofs.New(fsys, dir)
	if err != nil {
		_ = driver.Close()
		return nil, fmt.Errorf("could not open migrations: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "postgres", driver)
	if err != nil {
		_ = src.Close()
		_ = driver.Close()
		return nil, fmt.Errorf("could not create migrate instance: %w", err)
	}
	return m, nil
}
