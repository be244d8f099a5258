package app_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"practice-progress-service/internal/app"
	"practice-progress-service/internal/domain"
	"practice-progress-service/internal/infra/memory"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newClock() *testClock {
	return &testClock{now: time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func catalogOf(defs ...domain.AchievementDefinition) app.CatalogRepository {
	return memory.NewCatalogRepository(memory.NewStaticCatalogLoader(defs), time.Minute)
}

func defaultEntry(id int64) domain.AchievementDefinition {
	for _, def := range domain.DefaultCatalog() {
		if def.ID == id {
			return def
		}
	}
	panic("unknown catalog entry")
}

func newService(store app.Store, catalog app.CatalogRepository, clk *testClock) *app.ProgressService {
	return app.NewProgressService(store, catalog, app.WithClock(clk.Now))
}

func TestCompleteSessionScoresAndStats(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	svc := newService(store, catalogOf(), newClock())

	res, err := svc.CompleteSession(ctx, 1, domain.SessionSubmission{Subject: " math ", CorrectCount: 8, TotalQuestions: 10})
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if res.Score != 80 || res.XPEarned != 140 {
		t.Fatalf("expected 80/140, got %d/%d", res.Score, res.XPEarned)
	}
	if got := store.Sessions(1); len(got) != 1 || got[0].Subject != "math" || got[0].XPEarned != 140 {
		t.Fatalf("unexpected session log %+v", got)
	}

	if _, err := svc.CompleteSession(ctx, 1, domain.SessionSubmission{Subject: "math", CorrectCount: 17, TotalQuestions: 20}); err != nil {
		t.Fatalf("complete 2: %v", err)
	}
	stats, err := svc.Stats(ctx, 1)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	// 80 and 85 average to 82.5
	want := domain.UserStats{QuestionsAnswered: 2, AverageScore: 83, CurrentStreak: 1, XPPoints: 140 + 285, Level: 1}
	if stats != want {
		t.Fatalf("expected %+v, got %+v", want, stats)
	}
}

func TestStatsForNewUser(t *testing.T) {
	store := memory.NewStore()
	svc := newService(store, catalogOf(), newClock())

	stats, err := svc.Stats(context.Background(), 99)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats != (domain.UserStats{Level: 1}) {
		t.Fatalf("expected zeroed stats at level 1, got %+v", stats)
	}
}

func TestAchievementUnlockedOnce(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	svc := newService(store, catalogOf(defaultEntry(5)), newClock())

	perfect := domain.SessionSubmission{Subject: "math", CorrectCount: 10, TotalQuestions: 10}
	first, err := svc.CompleteSession(ctx, 1, perfect)
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if len(first.Achievements.Unlocked) != 1 || first.Achievements.Unlocked[0].Name != "Perfect Score" {
		t.Fatalf("expected Perfect Score, got %+v", first.Achievements.Unlocked)
	}

	second, err := svc.CompleteSession(ctx, 1, perfect)
	if err != nil {
		t.Fatalf("complete 2: %v", err)
	}
	if len(second.Achievements.Unlocked) != 0 {
		t.Fatalf("expected no repeat unlock, got %+v", second.Achievements.Unlocked)
	}

	p, _ := store.LoadProgress(ctx, 1)
	if p.XPPoints != 200+200+200 {
		t.Fatalf("expected reward credited once, got %d xp", p.XPPoints)
	}
}

func TestConcurrentCompletionsAccumulate(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	svc := newService(store, catalogOf(), newClock())

	subs := []domain.SessionSubmission{
		{Subject: "history", CorrectCount: 0, TotalQuestions: 10}, // 100 XP
		{Subject: "history", CorrectCount: 0, TotalQuestions: 5},  // 50 XP
	}
	for i := 0; i < 20; i++ {
		subs = append(subs, domain.SessionSubmission{Subject: "history", CorrectCount: 0, TotalQuestions: 1})
	}

	var wg sync.WaitGroup
	for _, sub := range subs {
		wg.Add(1)
		go func(sub domain.SessionSubmission) {
			defer wg.Done()
			if _, err := svc.CompleteSession(ctx, 3, sub); err != nil {
				t.Errorf("complete: %v", err)
			}
		}(sub)
	}
	wg.Wait()

	p, _ := store.LoadProgress(ctx, 3)
	if p.XPPoints != 150+20*10 {
		t.Fatalf("lost update: expected %d xp, got %d", 150+200, p.XPPoints)
	}
	if p.TotalQuestionsAnswered != 35 {
		t.Fatalf("expected 35 questions, got %d", p.TotalQuestionsAnswered)
	}
}

func TestConcurrentCompletionsUnlockOnce(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	svc := app.NewProgressService(store, catalogOf(defaultEntry(1)),
		app.WithClock(newClock().Now),
		app.WithLocker(memory.NewUserLocks()),
	)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = svc.CompleteSession(ctx, 4, domain.SessionSubmission{Subject: "art", CorrectCount: 0, TotalQuestions: 1})
		}()
	}
	wg.Wait()

	p, _ := store.LoadProgress(ctx, 4)
	if p.XPPoints != 10*10+50 {
		t.Fatalf("expected First Steps credited once, got %d xp", p.XPPoints)
	}
}

func TestCreditDoesNotChangeLevel(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	bonus := domain.AchievementDefinition{ID: 9, Name: "Bonus", RequirementType: domain.RequirementSessions, RequirementValue: 1, XPReward: 1000}
	svc := newService(store, catalogOf(bonus), newClock())

	if _, err := svc.CompleteSession(ctx, 1, domain.SessionSubmission{Subject: "math", CorrectCount: 0, TotalQuestions: 10}); err != nil {
		t.Fatalf("complete: %v", err)
	}
	stats, _ := svc.Stats(ctx, 1)
	if stats.XPPoints != 1100 || stats.Level != 1 {
		t.Fatalf("expected 1100 xp at level 1, got %d/%d", stats.XPPoints, stats.Level)
	}

	// the next session recomputes the level from the credited total
	if _, err := svc.CompleteSession(ctx, 1, domain.SessionSubmission{Subject: "math", CorrectCount: 0, TotalQuestions: 1}); err != nil {
		t.Fatalf("complete 2: %v", err)
	}
	stats, _ = svc.Stats(ctx, 1)
	if stats.XPPoints != 1110 || stats.Level != 2 {
		t.Fatalf("expected 1110 xp at level 2, got %d/%d", stats.XPPoints, stats.Level)
	}
}

func TestCatalogFailureDoesNotFailCompletion(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	svc := newService(store, brokenCatalog{}, newClock())

	res, err := svc.CompleteSession(ctx, 1, domain.SessionSubmission{Subject: "math", CorrectCount: 10, TotalQuestions: 10})
	if err != nil {
		t.Fatalf("completion must succeed: %v", err)
	}
	if res.Score != 100 || len(res.Achievements.Unlocked) != 0 {
		t.Fatalf("unexpected result %+v", res)
	}
	if !errors.Is(res.Achievements.Err, domain.ErrAchievementEvaluation) || !errors.Is(res.Achievements.Err, domain.ErrCatalogUnavailable) {
		t.Fatalf("expected catalog error in outcome, got %v", res.Achievements.Err)
	}
	p, _ := store.LoadProgress(ctx, 1)
	if p.XPPoints != 200 {
		t.Fatalf("primary write must stand, got %d xp", p.XPPoints)
	}
}

func TestSessionCountFailureKeepsOtherRules(t *testing.T) {
	ctx := context.Background()
	store := &flakyStore{Store: memory.NewStore(), failCount: true}
	svc := newService(store, catalogOf(defaultEntry(1), defaultEntry(5)), newClock())

	res, err := svc.CompleteSession(ctx, 1, domain.SessionSubmission{Subject: "math", CorrectCount: 4, TotalQuestions: 4})
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if len(res.Achievements.Unlocked) != 1 || res.Achievements.Unlocked[0].ID != 5 {
		t.Fatalf("expected only Perfect Score, got %+v", res.Achievements.Unlocked)
	}
	if !errors.Is(res.Achievements.Err, domain.ErrAchievementEvaluation) {
		t.Fatalf("expected evaluation error, got %v", res.Achievements.Err)
	}
}

func TestUnknownRequirementIsSkipped(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	mastery := domain.AchievementDefinition{ID: 7, Name: "Math Master", RequirementType: "subject_mastery", RequirementValue: 1, XPReward: 250}
	svc := newService(store, catalogOf(mastery, defaultEntry(1)), newClock())

	res, err := svc.CompleteSession(ctx, 1, domain.SessionSubmission{Subject: "math", CorrectCount: 1, TotalQuestions: 1})
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if res.Achievements.Err != nil {
		t.Fatalf("unknown kinds are not errors: %v", res.Achievements.Err)
	}
	if len(res.Achievements.Unlocked) != 1 || res.Achievements.Unlocked[0].ID != 1 {
		t.Fatalf("expected only First Steps, got %+v", res.Achievements.Unlocked)
	}
}

func TestPersistenceFailureLeavesNoTrace(t *testing.T) {
	ctx := context.Background()
	store := &flakyStore{Store: memory.NewStore(), failSave: true}
	svc := newService(store, catalogOf(domain.DefaultCatalog()...), newClock())

	_, err := svc.CompleteSession(ctx, 1, domain.SessionSubmission{Subject: "math", CorrectCount: 5, TotalQuestions: 5})
	if !errors.Is(err, domain.ErrPersistence) {
		t.Fatalf("expected persistence error, got %v", err)
	}

	if n, _ := store.SessionCount(ctx, 1); n != 0 {
		t.Fatalf("expected no session rows, got %d", n)
	}
	if sum, _ := store.ScoreSummary(ctx, 1); sum.Count != 0 {
		t.Fatalf("expected no score rows, got %d", sum.Count)
	}
	if earned, _ := store.UnlockedAchievements(ctx, 1); len(earned) != 0 {
		t.Fatalf("expected no unlocks, got %v", earned)
	}
}

func TestGrantFailureKeepsSessionResult(t *testing.T) {
	cases := map[string]*flakyStore{
		"unlock insert fails": {Store: memory.NewStore(), failUnlock: true},
		"xp credit fails":     {Store: memory.NewStore(), failCredit: true},
	}
	for name, store := range cases {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			svc := newService(store, catalogOf(defaultEntry(5)), newClock())

			res, err := svc.CompleteSession(ctx, 1, domain.SessionSubmission{Subject: "math", CorrectCount: 10, TotalQuestions: 10})
			if err != nil {
				t.Fatalf("completion must succeed: %v", err)
			}
			if res.Score != 100 || res.XPEarned != 200 {
				t.Fatalf("unexpected session result %+v", res)
			}
			if !errors.Is(res.Achievements.Err, domain.ErrAchievementEvaluation) {
				t.Fatalf("expected evaluation error, got %v", res.Achievements.Err)
			}
			if len(res.Achievements.Unlocked) != 0 {
				t.Fatalf("nothing should be reported unlocked, got %+v", res.Achievements.Unlocked)
			}
			if earned, _ := store.UnlockedAchievements(ctx, 1); len(earned) != 0 {
				t.Fatalf("expected no unlock rows, got %v", earned)
			}
			p, _ := store.LoadProgress(ctx, 1)
			if p.XPPoints != 200 {
				t.Fatalf("expected session xp only, got %d", p.XPPoints)
			}
			if n, _ := store.SessionCount(ctx, 1); n != 1 {
				t.Fatalf("expected the session row to stand, got %d", n)
			}
		})
	}
}

func TestOversizedSessionIsRejected(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	svc := newService(store, catalogOf(domain.DefaultCatalog()...), newClock())

	huge := 50_000_000
	_, err := svc.CompleteSession(ctx, 1, domain.SessionSubmission{Subject: "math", CorrectCount: huge, TotalQuestions: huge})
	if !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	stats, err := svc.Stats(ctx, 1)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.AverageScore != 0 || stats.XPPoints != 0 || stats.QuestionsAnswered != 0 {
		t.Fatalf("expected untouched stats, got %+v", stats)
	}
}

func TestValidationMutatesNothing(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	svc := newService(store, catalogOf(domain.DefaultCatalog()...), newClock())

	_, err := svc.CompleteSession(ctx, 1, domain.SessionSubmission{Subject: "   ", CorrectCount: 1, TotalQuestions: 1})
	if !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if n, _ := store.SessionCount(ctx, 1); n != 0 {
		t.Fatalf("expected nothing written, got %d sessions", n)
	}
}

func TestStatsDecaysAndPersistsStreak(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	clk := newClock()
	svc := newService(store, catalogOf(), clk)

	sub := domain.SessionSubmission{Subject: "math", CorrectCount: 1, TotalQuestions: 2}
	for i := 0; i < 3; i++ {
		if _, err := svc.CompleteSession(ctx, 1, sub); err != nil {
			t.Fatalf("complete day %d: %v", i, err)
		}
		clk.Advance(24 * time.Hour)
	}
	// now one day after the last session: streak still alive
	stats, _ := svc.Stats(ctx, 1)
	if stats.CurrentStreak != 3 {
		t.Fatalf("expected streak 3, got %d", stats.CurrentStreak)
	}

	clk.Advance(24 * time.Hour)
	stats, _ = svc.Stats(ctx, 1)
	if stats.CurrentStreak != 0 {
		t.Fatalf("expected decay to 0, got %d", stats.CurrentStreak)
	}
	p, _ := store.LoadProgress(ctx, 1)
	if p.CurrentStreak != 0 || p.LongestStreak != 3 {
		t.Fatalf("expected persisted decay keeping longest, got %+v", p)
	}

	if _, err := svc.CompleteSession(ctx, 1, sub); err != nil {
		t.Fatalf("complete after gap: %v", err)
	}
	stats, _ = svc.Stats(ctx, 1)
	if stats.CurrentStreak != 1 {
		t.Fatalf("expected fresh streak, got %d", stats.CurrentStreak)
	}
}

func TestStreakAchievementUsesUpdatedStreak(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	clk := newClock()
	svc := newService(store, catalogOf(defaultEntry(3)), clk)

	sub := domain.SessionSubmission{Subject: "math", CorrectCount: 0, TotalQuestions: 1}
	var last app.CompletionResult
	for i := 0; i < 3; i++ {
		res, err := svc.CompleteSession(ctx, 1, sub)
		if err != nil {
			t.Fatalf("complete: %v", err)
		}
		last = res
		clk.Advance(24 * time.Hour)
	}
	if len(last.Achievements.Unlocked) != 1 || last.Achievements.Unlocked[0].Name != "Dedicated Student" {
		t.Fatalf("expected Dedicated Student on day three, got %+v", last.Achievements.Unlocked)
	}
}

func TestLockTimeoutIsPersistenceError(t *testing.T) {
	locks := memory.NewUserLocks()
	svc := app.NewProgressService(memory.NewStore(), catalogOf(), app.WithLocker(locks))

	unlock, err := locks.Lock(context.Background(), 1)
	if err != nil {
		t.Fatalf("lock: %v", err)
	}
	defer unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = svc.CompleteSession(ctx, 1, domain.SessionSubmission{Subject: "math", CorrectCount: 1, TotalQuestions: 1})
	if !errors.Is(err, domain.ErrPersistence) || !errors.Is(err, domain.ErrLockTimeout) {
		t.Fatalf("expected lock timeout, got %v", err)
	}
}

type brokenCatalog struct{}

func (brokenCatalog) GetCatalog(context.Context) ([]domain.AchievementDefinition, error) {
	return nil, errors.New("connection refused")
}

// flakyStore injects failures into an otherwise working memory store.
type flakyStore struct {
	*memory.Store
	failSave   bool
	failCount  bool
	failUnlock bool
	failCredit bool
}

func (s *flakyStore) WithUser(ctx context.Context, userID int64, fn func(tx app.UserTx) error) error {
	return s.Store.WithUser(ctx, userID, func(tx app.UserTx) error {
		switch {
		case s.failSave:
			return fn(failingTx{tx})
		case s.failUnlock:
			return fn(unlockFailingTx{tx})
		case s.failCredit:
			return fn(&creditFailingTx{UserTx: tx})
		}
		return fn(tx)
	})
}

func (s *flakyStore) SessionCount(ctx context.Context, userID int64) (int, error) {
	if s.failCount {
		return 0, errors.New("statement timeout")
	}
	return s.Store.SessionCount(ctx, userID)
}

type failingTx struct {
	app.UserTx
}

func (failingTx) SaveProgress(domain.ProgressAggregate) error {
	return errors.New("disk full")
}

type unlockFailingTx struct {
	app.UserTx
}

func (unlockFailingTx) Unlock(int64, time.Time) (bool, error) {
	return false, errors.New("deadlock detected")
}

// creditFailingTx lets the unlock through and fails the XP credit that follows
// it in the same transaction.
type creditFailingTx struct {
	app.UserTx
	unlocked bool
}

func (tx *creditFailingTx) Unlock(id int64, earnedAt time.Time) (bool, error) {
	ok, err := tx.UserTx.Unlock(id, earnedAt)
	tx.unlocked = tx.unlocked || ok
	return ok, err
}

func (tx *creditFailingTx) SaveProgress(p domain.ProgressAggregate) error {
	if tx.unlocked {
		return errors.New("disk full")
	}
	return tx.UserTx.SaveProgress(p)
}
