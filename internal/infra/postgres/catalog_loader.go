package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v4/pgxpool"

	"practice-progress-service/internal/domain"
)

// CatalogLoader loads the achievement catalog from Postgres.
type CatalogLoader struct {
	pool *pgxpool.Pool
}

func NewCatalogLoader(pool *pgxpool.Pool) *CatalogLoader {
	return &CatalogLoader{pool: pool}
}

func (l *CatalogLoader) LoadCatalog(ctx context.Context) ([]domain.AchievementDefinition, error) {
	rows, err := l.pool.Query(ctx, `
		SELECT id, name, description, icon, requirement_type, requirement_value, xp_reward
		FROM achievements
		ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("load catalog: %w", err)
	}
	defer rows.Close()

	var defs []domain.AchievementDefinition
	for rows.Next() {
		var (
			def  domain.AchievementDefinition
			kind string
		)
		if err := rows.Scan(&def.ID, &def.Name, &def.Description, &def.Icon, &kind, &def.RequirementValue, &def.XPReward); err != nil {
			return nil, fmt.Errorf("scan achievement: %w", err)
		}
		def.RequirementType = domain.RequirementType(kind)
		defs = append(defs, def)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("load catalog: %w", err)
	}
	return defs, nil
}
