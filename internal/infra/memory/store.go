package memory

import (
	"context"
	"sync"
	"time"

	"practice-progress-service/internal/app"
	"practice-progress-service/internal/domain"
)

// Store is an in-memory implementation of app.Store. Writes made inside
// WithUser are staged and only become visible when the callback succeeds.
type Store struct {
	locks *UserLocks

	mu       sync.RWMutex
	progress map[int64]domain.ProgressAggregate
	sessions map[int64][]domain.SessionRecord
	scores   map[int64][]domain.ScoreEntry
	unlocks  map[int64]map[int64]time.Time
}

func NewStore() *Store {
	return &Store{
		locks:    NewUserLocks(),
		progress: make(map[int64]domain.ProgressAggregate),
		sessions: make(map[int64][]domain.SessionRecord),
		scores:   make(map[int64][]domain.ScoreEntry),
		unlocks:  make(map[int64]map[int64]time.Time),
	}
}

func (s *Store) WithUser(ctx context.Context, userID int64, fn func(tx app.UserTx) error) error {
	unlock, err := s.locks.Lock(ctx, userID)
	if err != nil {
		return err
	}
	defer unlock()

	s.mu.RLock()
	current, ok := s.progress[userID]
	s.mu.RUnlock()
	if !ok {
		current = domain.NewProgressAggregate(userID)
	}

	tx := &userTx{store: s, userID: userID, progress: current, unlocks: make(map[int64]time.Time)}
	if err := fn(tx); err != nil {
		return err
	}
	s.commit(tx)
	return nil
}

func (s *Store) commit(tx *userTx) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if tx.dirty {
		s.progress[tx.userID] = tx.progress
	}
	s.sessions[tx.userID] = append(s.sessions[tx.userID], tx.sessions...)
	s.scores[tx.userID] = append(s.scores[tx.userID], tx.scores...)
	if len(tx.unlocks) > 0 {
		earned, ok := s.unlocks[tx.userID]
		if !ok {
			earned = make(map[int64]time.Time)
			s.unlocks[tx.userID] = earned
		}
		for id, at := range tx.unlocks {
			earned[id] = at
		}
	}
}

func (s *Store) LoadProgress(_ context.Context, userID int64) (domain.ProgressAggregate, error) {
	s.mu.RLock()
	p, ok := s.progress[userID]
	s.mu.RUnlock()
	if ok {
		return p, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := s.progress[userID]; ok {
		return p, nil
	}
	p = domain.NewProgressAggregate(userID)
	s.progress[userID] = p
	return p, nil
}

func (s *Store) ScoreSummary(_ context.Context, userID int64) (domain.ScoreSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entries := s.scores[userID]
	if len(entries) == 0 {
		return domain.ScoreSummary{}, nil
	}
	total := 0
	for _, e := range entries {
		total += e.Percentage
	}
	return domain.ScoreSummary{Count: len(entries), Average: float64(total) / float64(len(entries))}, nil
}

func (s *Store) SessionCount(_ context.Context, userID int64) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions[userID]), nil
}

func (s *Store) UnlockedAchievements(_ context.Context, userID int64) (map[int64]struct{}, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[int64]struct{}, len(s.unlocks[userID]))
	for id := range s.unlocks[userID] {
		out[id] = struct{}{}
	}
	return out, nil
}

// Sessions returns a copy of the user's session log.
func (s *Store) Sessions(userID int64) []domain.SessionRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]domain.SessionRecord(nil), s.sessions[userID]...)
}

type userTx struct {
	store    *Store
	userID   int64
	progress domain.ProgressAggregate
	dirty    bool
	sessions []domain.SessionRecord
	scores   []domain.ScoreEntry
	unlocks  map[int64]time.Time
}

func (t *userTx) Progress() domain.ProgressAggregate { return t.progress }

func (t *userTx) SaveProgress(p domain.ProgressAggregate) error {
	p.UserID = t.userID
	t.progress = p
	t.dirty = true
	return nil
}

func (t *userTx) AppendSession(rec domain.SessionRecord) error {
	t.sessions = append(t.sessions, rec)
	return nil
}

func (t *userTx) AppendScore(entry domain.ScoreEntry) error {
	t.scores = append(t.scores, entry)
	return nil
}

func (t *userTx) Unlock(achievementID int64, earnedAt time.Time) (bool, error) {
	if _, staged := t.unlocks[achievementID]; staged {
		return false, nil
	}
	t.store.mu.RLock()
	_, exists := t.store.unlocks[t.userID][achievementID]
	t.store.mu.RUnlock()
	if exists {
		return false, nil
	}
	t.unlocks[achievementID] = earnedAt
	return true, nil
}
