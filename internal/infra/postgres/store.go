package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/uptrace/bun"

	"practice-progress-service/internal/app"
	"practice-progress-service/internal/domain"
)

// Store persists progress in Postgres. WithUser runs inside one transaction
// holding a row lock on the user's aggregate.
type Store struct {
	db  *bun.DB
	now func() time.Time
}

func NewStore(db *bun.DB) *Store {
	return &Store{db: db, now: time.Now}
}

func (s *Store) WithUser(ctx context.Context, userID int64, fn func(tx app.UserTx) error) error {
	return s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if err := s.ensureProgress(ctx, tx, userID); err != nil {
			return err
		}
		row := new(progressRow)
		if err := tx.NewSelect().
			Model(row).
			Where("user_id = ?", userID).
			For("UPDATE").
			Scan(ctx); err != nil {
			return fmt.Errorf("lock user_stats: %w", err)
		}
		return fn(&userTx{ctx: ctx, tx: tx, row: row})
	})
}

// ensureProgress creates the zeroed aggregate row on first touch.
func (s *Store) ensureProgress(ctx context.Context, db bun.IDB, userID int64) error {
	row := &progressRow{UserID: userID, Level: 1, UpdatedAt: s.now()}
	if _, err := db.NewInsert().
		Model(row).
		On("CONFLICT (user_id) DO NOTHING").
		Exec(ctx); err != nil {
		return fmt.Errorf("create user_stats: %w", err)
	}
	return nil
}

func (s *Store) LoadProgress(ctx context.Context, userID int64) (domain.ProgressAggregate, error) {
	if err := s.ensureProgress(ctx, s.db, userID); err != nil {
		return domain.ProgressAggregate{}, err
	}
	row := new(progressRow)
	if err := s.db.NewSelect().Model(row).Where("user_id = ?", userID).Scan(ctx); err != nil {
		return domain.ProgressAggregate{}, fmt.Errorf("load user_stats: %w", err)
	}
	return row.toDomain(), nil
}

func (s *Store) ScoreSummary(ctx context.Context, userID int64) (domain.ScoreSummary, error) {
	var (
		count   int
		average float64
	)
	err := s.db.NewSelect().
		Model((*scoreRow)(nil)).
		ColumnExpr("COUNT(*)").
		ColumnExpr("COALESCE(AVG(score), 0)::float8").
		Where("user_id = ?", userID).
		Scan(ctx, &count, &average)
	if err != nil {
		return domain.ScoreSummary{}, fmt.Errorf("summarize scores: %w", err)
	}
	return domain.ScoreSummary{Count: count, Average: average}, nil
}

func (s *Store) SessionCount(ctx context.Context, userID int64) (int, error) {
	n, err := s.db.NewSelect().
		Model((*sessionRow)(nil)).
		Where("user_id = ?", userID).
		Count(ctx)
	if err != nil {
		return 0, fmt.Errorf("count sessions: %w", err)
	}
	return n, nil
}

func (s *Store) UnlockedAchievements(ctx context.Context, userID int64) (map[int64]struct{}, error) {
	var ids []int64
	err := s.db.NewSelect().
		Model((*unlockRow)(nil)).
		Column("achievement_id").
		Where("user_id = ?", userID).
		Scan(ctx, &ids)
	if err != nil {
		return nil, fmt.Errorf("load unlocks: %w", err)
	}
	out := make(map[int64]struct{}, len(ids))
	for _, id := range ids {
		out[id] = struct{}{}
	}
	return out, nil
}

type userTx struct {
	ctx context.Context
	tx  bun.Tx
	row *progressRow
}

func (t *userTx) Progress() domain.ProgressAggregate { return t.row.toDomain() }

func (t *userTx) SaveProgress(p domain.ProgressAggregate) error {
	t.row.apply(p)
	if _, err := t.tx.NewUpdate().
		Model(t.row).
		ExcludeColumn("id", "user_id").
		WherePK().
		Exec(t.ctx); err != nil {
		return fmt.Errorf("update user_stats: %w", err)
	}
	return nil
}

func (t *userTx) AppendSession(rec domain.SessionRecord) error {
	row := &sessionRow{
		UserID:             rec.UserID,
		Subject:            rec.Subject,
		QuestionsAttempted: rec.QuestionsAttempted,
		QuestionsCorrect:   rec.QuestionsCorrect,
		TimeSpent:          rec.TimeSpent,
		SessionDate:        dateOnly(rec.SessionDate),
		XPEarned:           rec.XPEarned,
	}
	if _, err := t.tx.NewInsert().Model(row).Exec(t.ctx); err != nil {
		return fmt.Errorf("insert study_session: %w", err)
	}
	return nil
}

func (t *userTx) AppendScore(entry domain.ScoreEntry) error {
	row := &scoreRow{
		UserID:    entry.UserID,
		Subject:   entry.Subject,
		Score:     entry.Percentage,
		CreatedAt: entry.CreatedAt,
	}
	if _, err := t.tx.NewInsert().Model(row).Exec(t.ctx); err != nil {
		return fmt.Errorf("insert score: %w", err)
	}
	return nil
}

func (t *userTx) Unlock(achievementID int64, earnedAt time.Time) (bool, error) {
	row := &unlockRow{UserID: t.row.UserID, AchievementID: achievementID, EarnedAt: earnedAt}
	res, err := t.tx.NewInsert().
		Model(row).
		On("CONFLICT (user_id, achievement_id) DO NOTHING").
		Exec(t.ctx)
	if err != nil {
		return false, fmt.Errorf("insert user_achievement: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}
