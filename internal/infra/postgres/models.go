package postgres

import (
	"time"

	"github.com/uptrace/bun"

	"practice-progress-service/internal/domain"
)

type progressRow struct {
	bun.BaseModel `bun:"table:user_stats"`

	ID                     int64      `bun:"id,pk,autoincrement"`
	UserID                 int64      `bun:"user_id,notnull,unique"`
	TotalQuestionsAnswered int        `bun:"total_questions_answered,notnull"`
	CorrectAnswers         int        `bun:"correct_answers,notnull"`
	TotalPracticeTime      int        `bun:"total_practice_time,notnull"`
	CurrentStreak          int        `bun:"current_streak,notnull"`
	LongestStreak          int        `bun:"longest_streak,notnull"`
	LastPracticeDate       *time.Time `bun:"last_practice_date,type:date"`
	XPPoints               int        `bun:"xp_points,notnull"`
	Level                  int        `bun:"level,notnull"`
	UpdatedAt              time.Time  `bun:"updated_at,notnull"`
}

func (r *progressRow) toDomain() domain.ProgressAggregate {
	p := domain.ProgressAggregate{
		UserID:                 r.UserID,
		TotalQuestionsAnswered: r.TotalQuestionsAnswered,
		CorrectAnswers:         r.CorrectAnswers,
		TotalPracticeTime:      r.TotalPracticeTime,
		CurrentStreak:          r.CurrentStreak,
		LongestStreak:          r.LongestStreak,
		XPPoints:               r.XPPoints,
		Level:                  r.Level,
		UpdatedAt:              r.UpdatedAt,
	}
	if r.LastPracticeDate != nil {
		day := dateOnly(*r.LastPracticeDate)
		p.LastPracticeDate = &day
	}
	return p
}

func (r *progressRow) apply(p domain.ProgressAggregate) {
	r.TotalQuestionsAnswered = p.TotalQuestionsAnswered
	r.CorrectAnswers = p.CorrectAnswers
	r.TotalPracticeTime = p.TotalPracticeTime
	r.CurrentStreak = p.CurrentStreak
	r.LongestStreak = p.LongestStreak
	r.LastPracticeDate = nil
	if p.LastPracticeDate != nil {
		day := dateOnly(*p.LastPracticeDate)
		r.LastPracticeDate = &day
	}
	r.XPPoints = p.XPPoints
	r.Level = p.Level
	r.UpdatedAt = p.UpdatedAt
}

type sessionRow struct {
	bun.BaseModel `bun:"table:study_sessions"`

	ID                 int64     `bun:"id,pk,autoincrement"`
	UserID             int64     `bun:"user_id,notnull"`
	Subject            string    `bun:"subject,notnull"`
	QuestionsAttempted int       `bun:"questions_attempted,notnull"`
	QuestionsCorrect   int       `bun:"questions_correct,notnull"`
	TimeSpent          int       `bun:"time_spent,notnull"`
	SessionDate        time.Time `bun:"session_date,type:date,notnull"`
	XPEarned           int       `bun:"xp_earned,notnull"`
}

type scoreRow struct {
	bun.BaseModel `bun:"table:scores"`

	ID        int64     `bun:"id,pk,autoincrement"`
	UserID    int64     `bun:"user_id,notnull"`
	Subject   string    `bun:"subject,notnull"`
	Score     int       `bun:"score,notnull"`
	CreatedAt time.Time `bun:"created_at,notnull"`
}

type unlockRow struct {
	bun.BaseModel `bun:"table:user_achievements"`

	ID            int64     `bun:"id,pk,autoincrement"`
	UserID        int64     `bun:"user_id,notnull"`
	AchievementID int64     `bun:"achievement_id,notnull"`
	EarnedAt      time.Time `bun:"earned_at,notnull"`
}

// dateOnly drops the clock and zone of a DATE column value.
func dateOnly(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
