package migrations

import (
	"context"
	_ "embed"

	"github.com/uptrace/bun"
)

//go:embed create_progress_tables.sql
var createProgressTablesSQL string

func init() {
	Migrations.MustRegister(
		func(ctx context.Context, db *bun.DB) error {
			_, err := db.ExecContext(ctx, createProgressTablesSQL)
			return err
		},
		func(ctx context.Context, db *bun.DB) error {
			_, err := db.ExecContext(ctx, `
				DROP TABLE IF EXISTS user_achievements;
				DROP TABLE IF EXISTS achievements;
				DROP TABLE IF EXISTS user_stats;
				DROP TABLE IF EXISTS study_sessions;
				DROP TABLE IF EXISTS scores;`)
			return err
		},
	)
}
