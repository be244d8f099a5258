package migrations

import (
	"context"
	_ "embed"

	"github.com/uptrace/bun"
)

//go:embed seed_achievements.sql
var seedAchievementsSQL string

func init() {
	Migrations.MustRegister(
		func(ctx context.Context, db *bun.DB) error {
			_, err := db.ExecContext(ctx, seedAchievementsSQL)
			return err
		},
		func(ctx context.Context, db *bun.DB) error {
			_, err := db.ExecContext(ctx, `DELETE FROM achievements WHERE id BETWEEN 1 AND 6`)
			return err
		},
	)
}
