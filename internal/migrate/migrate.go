// Package migrate runs the embedded goose migrations for the ingest schema.
package migrate

import (
	"context"
	"fmt"

	"github.com/pressly/goose/v3"
	"github.com/uptrace/bun"
	"go.uber.org/zap"

	"github.com/coverline/coverline/migrations"
)

// Migrator applies the ingest schema migrations embedded in the binary.
type Migrator struct {
	db     *bun.DB
	logger *zap.Logger
}

// NewMigrator creates a Migrator over the given database.
func NewMigrator(db *bun.DB, logger *zap.Logger) *Migrator {
	return &Migrator{
		db:     db,
		logger: logger.Named("migrator"),
	}
}

// prepare points goose at the embedded migration FS. Goose keeps global
// state, so every verb sets it up again.
func (m *Migrator) prepare() error {
	goose.SetBaseFS(migrations.FS)
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("set dialect: %w", err)
	}
	return nil
}

// Up applies all pending migrations.
func (m *Migrator) Up(ctx context.Context) error {
	m.logger.Info("applying ingest schema migrations")
	if err := m.prepare(); err != nil {
		return err
	}
	if err := goose.UpContext(ctx, m.db.DB, "."); err != nil {
		return fmt.Errorf("apply migrations: %w", err)
	}
	m.logger.Info("migrations applied")
	return nil
}

// UpTo applies migrations up to and including version.
func (m *Migrator) UpTo(ctx context.Context, version int64) error {
	m.logger.Info("applying migrations up to version", zap.Int64("version", version))
	if err := m.prepare(); err != nil {
		return err
	}
	if err := goose.UpToContext(ctx, m.db.DB, ".", version); err != nil {
		return fmt.Errorf("apply migrations: %w", err)
	}
	return nil
}

// Down rolls back the most recent migration.
func (m *Migrator) Down(ctx context.Context) error {
	m.logger.Info("rolling back last migration")
	if err := m.prepare(); err != nil {
		return err
	}
	if err := goose.DownContext(ctx, m.db.DB, "."); err != nil {
		return fmt.Errorf("rollback migration: %w", err)
	}
	return nil
}

// Status prints the applied/pending state of every migration.
func (m *Migrator) Status(ctx context.Context) error {
	if err := m.prepare(); err != nil {
		return err
	}
	if err := goose.StatusContext(ctx, m.db.DB, "."); err != nil {
		return fmt.Errorf("migration status: %w", err)
	}
	return nil
}

// Version returns the current schema version.
func (m *Migrator) Version(ctx context.Context) (int64, error) {
	if err := m.prepare(); err != nil {
		return 0, err
	}
	version, err := goose.GetDBVersionContext(ctx, m.db.DB)
	if err != nil {
		return 0, fmt.Errorf("get version: %w", err)
	}
	return version, nil
}

// EnsureVersionTable creates goose's version table when missing. Needed
// before MarkApplied on a database goose has never touched.
func (m *Migrator) EnsureVersionTable(ctx context.Context) error {
	if err := m.prepare(); err != nil {
		return err
	}
	if _, err := goose.EnsureDBVersionContext(ctx, m.db.DB); err != nil {
		return fmt.Errorf("ensure version table: %w", err)
	}
	return nil
}

// MarkApplied records a migration as applied without running it, for
// adopting databases where the ingest schema already exists.
func (m *Migrator) MarkApplied(ctx context.Context, version int64) error {
	m.logger.Info("marking migration as applied", zap.Int64("version", version))
	_, err := m.db.DB.ExecContext(ctx, `
		INSERT INTO goose_db_version (version_id, is_applied)
		VALUES ($1, true)
		ON CONFLICT (version_id) DO UPDATE SET is_applied = true
	`, version)
	if err != nil {
		return fmt.Errorf("mark migration applied: %w", err)
	}
	return nil
}
