package postgres

import (
	"context"
	"database/sql"
	"embed"
	"fmt"

	"github.com/flexprice/billing/internal/logger"
	"github.com/pressly/goose/v3"
)

//go:embed migrations/*.sql
var migrations embed.FS

// Migrate applies the embedded schema migrations.
func Migrate(ctx context.Context, db *sql.DB, log *logger.Logger) error {
	goose.SetBaseFS(migrations)
	goose.SetLogger(log.GetGooseLogger())

	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("failed to set goose dialect: %w", err)
	}

	if err := goose.UpContext(ctx, db, "migrations"); err != nil {
		return fmt.Errorf("failed to apply migrations: %w", err)
	}
	return nil
}
