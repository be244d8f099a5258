package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"practice-progress-service/internal/domain"
	"practice-progress-service/internal/logger"
)

// Rule decides whether a snapshot satisfies a catalog entry.
type Rule func(def domain.AchievementDefinition, snap domain.Snapshot) bool

func atLeast(field func(domain.Snapshot) int) Rule {
	return func(def domain.AchievementDefinition, snap domain.Snapshot) bool {
		return field(snap) >= def.RequirementValue
	}
}

// Rules maps every supported requirement kind to its evaluator. Catalog rows
// with a kind missing here are skipped.
var Rules = map[domain.RequirementType]Rule{
	domain.RequirementTotalQuestions: atLeast(func(s domain.Snapshot) int { return s.TotalQuestions }),
	domain.RequirementCorrectAnswers: atLeast(func(s domain.Snapshot) int { return s.CorrectAnswers }),
	domain.RequirementStreak:         atLeast(func(s domain.Snapshot) int { return s.CurrentStreak }),
	domain.RequirementSessions:       atLeast(func(s domain.Snapshot) int { return s.Sessions }),
	domain.RequirementPerfectSession: func(_ domain.AchievementDefinition, s domain.Snapshot) bool {
		return s.PerfectSession
	},
}

// UnlockedAchievement is a catalog entry the user earned during this evaluation.
type UnlockedAchievement struct {
	domain.AchievementDefinition
	EarnedAt time.Time `json:"earnedAt"`
}

// AchievementOutcome is reported next to the primary completion result.
// Err carries every failure of the pass; Unlocked is still valid when Err is set.
type AchievementOutcome struct {
	Unlocked []UnlockedAchievement
	Err      error
}

// AchievementEvaluator runs the best-effort unlock pass after a completion.
type AchievementEvaluator struct {
	catalog CatalogRepository
	store   Store
	rules   map[domain.RequirementType]Rule
	log     *logger.Logger
	now     func() time.Time
}

func NewAchievementEvaluator(catalog CatalogRepository, store Store, log *logger.Logger, now func() time.Time) *AchievementEvaluator {
	if log == nil {
		log = logger.Nop()
	}
	if now == nil {
		now = time.Now
	}
	return &AchievementEvaluator{catalog: catalog, store: store, rules: Rules, log: log, now: now}
}

// Evaluate unlocks and credits every pending catalog entry the snapshot
// satisfies. It never fails the caller: errors are logged and returned in the
// outcome.
func (e *AchievementEvaluator) Evaluate(ctx context.Context, userID int64, snap domain.Snapshot) AchievementOutcome {
	var out AchievementOutcome
	fail := func(err error) AchievementOutcome {
		out.Err = errors.Join(out.Err, fmt.Errorf("%w: %w", domain.ErrAchievementEvaluation, err))
		e.log.Error("achievement evaluation failed", "user", userID, "error", err)
		return out
	}

	catalog, err := e.catalog.GetCatalog(ctx)
	if err != nil {
		return fail(fmt.Errorf("%w: %w", domain.ErrCatalogUnavailable, err))
	}
	earned, err := e.store.UnlockedAchievements(ctx, userID)
	if err != nil {
		return fail(fmt.Errorf("load unlocks: %w", err))
	}

	candidates := make([]domain.AchievementDefinition, 0, len(catalog))
	needSessions := false
	for _, def := range catalog {
		if _, done := earned[def.ID]; done {
			continue
		}
		if _, ok := e.rules[def.RequirementType]; !ok {
			e.log.Warn("skipping achievement with unsupported requirement", "achievement", def.ID, "requirement", def.RequirementType)
			continue
		}
		if def.RequirementType == domain.RequirementSessions {
			needSessions = true
		}
		candidates = append(candidates, def)
	}
	if len(candidates) == 0 {
		return out
	}

	if needSessions {
		count, err := e.store.SessionCount(ctx, userID)
		if err != nil {
			// Only the sessions rules depend on the count; keep evaluating the rest.
			fail(fmt.Errorf("count sessions: %w", err))
			candidates = dropRequirement(candidates, domain.RequirementSessions)
		}
		snap.Sessions = count
	}

	for _, def := range candidates {
		if !e.rules[def.RequirementType](def, snap) {
			continue
		}
		unlocked, at, err := e.grant(ctx, userID, def)
		if err != nil {
			fail(fmt.Errorf("grant %d: %w", def.ID, err))
			continue
		}
		if unlocked {
			out.Unlocked = append(out.Unlocked, UnlockedAchievement{AchievementDefinition: def, EarnedAt: at})
			e.log.Info("achievement unlocked", "user", userID, "achievement", def.ID, "xp_reward", def.XPReward)
		}
	}
	return out
}

// grant inserts the unlock and credits its reward in one unit of work, so a
// row exists exactly when the reward was paid.
func (e *AchievementEvaluator) grant(ctx context.Context, userID int64, def domain.AchievementDefinition) (bool, time.Time, error) {
	now := e.now()
	inserted := false
	err := e.store.WithUser(ctx, userID, func(tx UserTx) error {
		ok, err := tx.Unlock(def.ID, now)
		if err != nil || !ok {
			return err
		}
		inserted = true
		return tx.SaveProgress(CreditAchievement(tx.Progress(), def.XPReward, now))
	})
	if err != nil {
		return false, time.Time{}, err
	}
	return inserted, now, nil
}

func dropRequirement(defs []domain.AchievementDefinition, kind domain.RequirementType) []domain.AchievementDefinition {
	out := defs[:0]
	for _, def := range defs {
		if def.RequirementType != kind {
			out = append(out, def)
		}
	}
	return out
}
