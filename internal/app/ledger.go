package app

import (
	"time"

	"practice-progress-service/internal/domain"
)

// Session XP rewards and the XP span of one level.
const (
	XPPerQuestion    = 10
	XPPerCorrect     = 5
	PerfectSessionXP = 50
	XPPerLevel       = 1000
)

const (
	maxSubjectLength       = 50
	maxQuestionsPerSession = 1000
	maxTimeSpentInDay      = 24 * 60 * 60
)

// ScorePercentage is round(100*correct/max(total,1)) with halves rounded up,
// computed in integers.
func ScorePercentage(correct, total int) int {
	if total < 1 {
		total = 1
	}
	if correct < 0 {
		correct = 0
	}
	return (200*correct + total) / (2 * total)
}

// SessionXP is the XP earned by one session.
func SessionXP(attempted, correct, score int) int {
	xp := attempted*XPPerQuestion + correct*XPPerCorrect
	if score == 100 {
		xp += PerfectSessionXP
	}
	return xp
}

// LevelFor derives the level from cumulative XP.
func LevelFor(xp int) int {
	if xp < 0 {
		xp = 0
	}
	return xp/XPPerLevel + 1
}

// ApplySession folds a completed session into the aggregate: streak, totals,
// XP and level. today must be a calendar day (see CalendarDay).
func ApplySession(p domain.ProgressAggregate, sub domain.SessionSubmission, xpEarned int, today, now time.Time) domain.ProgressAggregate {
	st := AdvanceStreak(streakOf(p), today, StreakPractice)
	p.CurrentStreak = st.Current
	p.LongestStreak = st.Longest
	p.LastPracticeDate = st.LastPractice

	p.TotalQuestionsAnswered += sub.TotalQuestions
	p.CorrectAnswers += sub.CorrectCount
	p.TotalPracticeTime += sub.TimeSpent
	p.XPPoints += xpEarned
	p.Level = LevelFor(p.XPPoints)
	p.UpdatedAt = now
	return p
}

// CreditAchievement adds an achievement reward. Level is deliberately left
// alone; it catches up on the next session.
func CreditAchievement(p domain.ProgressAggregate, reward int, now time.Time) domain.ProgressAggregate {
	if reward > 0 {
		p.XPPoints += reward
	}
	p.UpdatedAt = now
	return p
}

// ObserveStreak applies the read-path decay to the aggregate.
func ObserveStreak(p domain.ProgressAggregate, today time.Time) domain.ProgressAggregate {
	st := AdvanceStreak(streakOf(p), today, StreakObserve)
	p.CurrentStreak = st.Current
	return p
}

func streakOf(p domain.ProgressAggregate) StreakState {
	return StreakState{
		Current:      p.CurrentStreak,
		Longest:      p.LongestStreak,
		LastPractice: p.LastPracticeDate,
	}
}

// ValidateSubmission checks a completion request before anything is written.
func ValidateSubmission(sub domain.SessionSubmission) error {
	switch {
	case sub.Subject == "":
		return validationError("subject is required")
	case len([]rune(sub.Subject)) > maxSubjectLength:
		return validationError("subject is too long")
	case sub.TotalQuestions <= 0:
		return validationError("totalQuestions must be greater than zero")
	case sub.TotalQuestions > maxQuestionsPerSession:
		return validationError("totalQuestions is too large")
	case sub.CorrectCount < 0:
		return validationError("correctCount must not be negative")
	case sub.CorrectCount > sub.TotalQuestions:
		return validationError("correctCount must not exceed totalQuestions")
	case sub.TimeSpent < 0 || sub.TimeSpent > maxTimeSpentInDay:
		return validationError("timeSpent is out of range")
	}
	return nil
}
