package app

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"practice-progress-service/internal/domain"
	"practice-progress-service/internal/logger"
)

// Store abstracts where sessions, scores, aggregates and unlocks live (memory, Postgres).
type Store interface {
	// WithUser runs fn as one all-or-nothing unit of work holding the user's
	// exclusive lock. The aggregate is created zeroed when missing.
	WithUser(ctx context.Context, userID int64, fn func(tx UserTx) error) error
	// LoadProgress reads the aggregate without the exclusive lock, creating it when missing.
	LoadProgress(ctx context.Context, userID int64) (domain.ProgressAggregate, error)
	ScoreSummary(ctx context.Context, userID int64) (domain.ScoreSummary, error)
	SessionCount(ctx context.Context, userID int64) (int, error)
	UnlockedAchievements(ctx context.Context, userID int64) (map[int64]struct{}, error)
}

// UserTx is the view of one user's state inside WithUser.
type UserTx interface {
	Progress() domain.ProgressAggregate
	SaveProgress(p domain.ProgressAggregate) error
	AppendSession(rec domain.SessionRecord) error
	AppendScore(entry domain.ScoreEntry) error
	// Unlock records an achievement; it reports false when it already existed.
	Unlock(achievementID int64, earnedAt time.Time) (bool, error)
}

// CatalogRepository loads the achievement catalog (from cache/backing store).
type CatalogRepository interface {
	GetCatalog(ctx context.Context) ([]domain.AchievementDefinition, error)
}

// UserLocker serializes whole operations per user, across instances when backed by Redis.
type UserLocker interface {
	Lock(ctx context.Context, userID int64) (unlock func(), err error)
}

type noopLocker struct{}

func (noopLocker) Lock(context.Context, int64) (func(), error) { return func() {}, nil }

// CompletionResult is the primary result of a completion plus the separately
// reported achievement pass.
type CompletionResult struct {
	Score        int
	XPEarned     int
	Achievements AchievementOutcome
}

// ProgressService contains the progress use cases.
type ProgressService struct {
	store     Store
	evaluator *AchievementEvaluator
	locker    UserLocker
	log       *logger.Logger
	now       func() time.Time
	loc       *time.Location
}

type Option func(*ProgressService)

// WithClock is mostly for tests that need deterministic days.
func WithClock(now func() time.Time) Option {
	return func(s *ProgressService) { s.now = now }
}

// WithLocation sets the time zone that defines a calendar day.
func WithLocation(loc *time.Location) Option {
	return func(s *ProgressService) { s.loc = loc }
}

func WithLocker(l UserLocker) Option {
	return func(s *ProgressService) { s.locker = l }
}

func WithLogger(l *logger.Logger) Option {
	return func(s *ProgressService) { s.log = l }
}

func NewProgressService(store Store, catalog CatalogRepository, opts ...Option) *ProgressService {
	s := &ProgressService{
		store:  store,
		locker: noopLocker{},
		log:    logger.Nop(),
		now:    time.Now,
		loc:    time.UTC,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.evaluator = NewAchievementEvaluator(catalog, store, s.log, s.now)
	return s
}

// CompleteSession records a finished practice session, updates the user's
// progress and runs the achievement pass.
func (s *ProgressService) CompleteSession(ctx context.Context, userID int64, sub domain.SessionSubmission) (CompletionResult, error) {
	sub.Subject = strings.TrimSpace(sub.Subject)
	if err := ValidateSubmission(sub); err != nil {
		return CompletionResult{}, err
	}

	unlock, err := s.locker.Lock(ctx, userID)
	if err != nil {
		return CompletionResult{}, persistenceError("lock user", err)
	}
	defer unlock()

	now := s.now()
	today := CalendarDay(now, s.loc)
	score := ScorePercentage(sub.CorrectCount, sub.TotalQuestions)
	xp := SessionXP(sub.TotalQuestions, sub.CorrectCount, score)

	var updated domain.ProgressAggregate
	err = s.store.WithUser(ctx, userID, func(tx UserTx) error {
		if err := tx.AppendSession(domain.SessionRecord{
			UserID:             userID,
			Subject:            sub.Subject,
			QuestionsAttempted: sub.TotalQuestions,
			QuestionsCorrect:   sub.CorrectCount,
			TimeSpent:          sub.TimeSpent,
			SessionDate:        today,
			XPEarned:           xp,
		}); err != nil {
			return err
		}
		if err := tx.AppendScore(domain.ScoreEntry{
			UserID:     userID,
			Subject:    sub.Subject,
			Percentage: score,
			CreatedAt:  now,
		}); err != nil {
			return err
		}
		updated = ApplySession(tx.Progress(), sub, xp, today, now)
		return tx.SaveProgress(updated)
	})
	if err != nil {
		return CompletionResult{}, persistenceError("complete session", err)
	}

	s.log.Debug("session completed", "user", userID, "subject", sub.Subject, "score", score, "xp", xp,
		"streak", updated.CurrentStreak, "level", updated.Level)

	outcome := s.evaluator.Evaluate(ctx, userID, domain.Snapshot{
		TotalQuestions: updated.TotalQuestionsAnswered,
		CorrectAnswers: updated.CorrectAnswers,
		CurrentStreak:  updated.CurrentStreak,
		PerfectSession: score == 100,
	})

	return CompletionResult{Score: score, XPEarned: xp, Achievements: outcome}, nil
}

// Stats returns the user's statistics, applying the lazy streak decay.
func (s *ProgressService) Stats(ctx context.Context, userID int64) (domain.UserStats, error) {
	today := CalendarDay(s.now(), s.loc)

	var (
		progress domain.ProgressAggregate
		summary  domain.ScoreSummary
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		p, err := s.store.LoadProgress(gctx, userID)
		progress = p
		return err
	})
	g.Go(func() error {
		sum, err := s.store.ScoreSummary(gctx, userID)
		summary = sum
		return err
	})
	if err := g.Wait(); err != nil {
		return domain.UserStats{}, persistenceError("load stats", err)
	}

	if ObserveStreak(progress, today).CurrentStreak != progress.CurrentStreak {
		decayed, err := s.decay(ctx, userID, today)
		if err != nil {
			return domain.UserStats{}, err
		}
		progress = decayed
	}

	return domain.UserStats{
		QuestionsAnswered: summary.Count,
		AverageScore:      int(math.Round(summary.Average)),
		CurrentStreak:     progress.CurrentStreak,
		XPPoints:          progress.XPPoints,
		Level:             progress.Level,
	}, nil
}

// decay re-checks the streak under the user's lock and persists the reset.
func (s *ProgressService) decay(ctx context.Context, userID int64, today time.Time) (domain.ProgressAggregate, error) {
	unlock, err := s.locker.Lock(ctx, userID)
	if err != nil {
		return domain.ProgressAggregate{}, persistenceError("lock user", err)
	}
	defer unlock()

	var out domain.ProgressAggregate
	err = s.store.WithUser(ctx, userID, func(tx UserTx) error {
		current := tx.Progress()
		out = ObserveStreak(current, today)
		if out.CurrentStreak == current.CurrentStreak {
			return nil
		}
		out.UpdatedAt = s.now()
		return tx.SaveProgress(out)
	})
	if err != nil {
		return domain.ProgressAggregate{}, persistenceError("decay streak", err)
	}
	s.log.Debug("streak decayed", "user", userID)
	return out, nil
}

func validationError(msg string) error {
	return fmt.Errorf("%w: %s", domain.ErrValidation, msg)
}

func persistenceError(op string, err error) error {
	if errors.Is(err, domain.ErrPersistence) {
		return err
	}
	return fmt.Errorf("%w: %s: %w", domain.ErrPersistence, op, err)
}
