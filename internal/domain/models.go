package domain

import "time"

// SessionRecord is the immutable audit row for one completed practice session.
type SessionRecord struct {
	UserID             int64
	Subject            string
	QuestionsAttempted int
	QuestionsCorrect   int
	TimeSpent          int // seconds
	SessionDate        time.Time
	XPEarned           int
}

// ScoreEntry is the legacy flat score series used for the average score.
type ScoreEntry struct {
	UserID     int64
	Subject    string
	Percentage int
	CreatedAt  time.Time
}

// ScoreSummary aggregates a user's ScoreEntry rows.
type ScoreSummary struct {
	Count   int
	Average float64
}

// ProgressAggregate is the single mutable per-user progress row.
type ProgressAggregate struct {
	UserID                 int64
	TotalQuestionsAnswered int
	CorrectAnswers         int
	TotalPracticeTime      int
	CurrentStreak          int
	LongestStreak          int
	LastPracticeDate       *time.Time // calendar day, midnight UTC
	XPPoints               int
	Level                  int
	UpdatedAt              time.Time
}

// NewProgressAggregate returns the zeroed row created on first touch.
func NewProgressAggregate(userID int64) ProgressAggregate {
	return ProgressAggregate{UserID: userID, Level: 1}
}

// RequirementType enumerates the achievement rule kinds.
type RequirementType string

const (
	RequirementTotalQuestions RequirementType = "total_questions"
	RequirementCorrectAnswers RequirementType = "correct_answers"
	RequirementStreak         RequirementType = "streak"
	RequirementPerfectSession RequirementType = "perfect_session"
	RequirementSessions       RequirementType = "sessions"
)

// AchievementDefinition is a read-only catalog entry.
type AchievementDefinition struct {
	ID               int64           `json:"id"`
	Name             string          `json:"name"`
	Description      string          `json:"description"`
	Icon             string          `json:"icon"`
	RequirementType  RequirementType `json:"requirementType"`
	RequirementValue int             `json:"requirementValue"`
	XPReward         int             `json:"xpReward"`
}

// Snapshot is the input to achievement rules, taken after the aggregate update.
type Snapshot struct {
	TotalQuestions int
	CorrectAnswers int
	CurrentStreak  int
	PerfectSession bool
	// Sessions is only populated when a sessions rule is pending.
	Sessions int
}

// SessionSubmission is a validated completion request.
type SessionSubmission struct {
	Subject        string
	CorrectCount   int
	TotalQuestions int
	TimeSpent      int
}

// UserStats is the stats read model.
type UserStats struct {
	QuestionsAnswered int `json:"questionsAnswered"`
	AverageScore      int `json:"averageScore"`
	CurrentStreak     int `json:"currentStreak"`
	XPPoints          int `json:"xpPoints"`
	Level             int `json:"level"`
}

// DefaultCatalog is the achievement set seeded at deployment.
func DefaultCatalog() []AchievementDefinition {
	return []AchievementDefinition{
		{ID: 1, Name: "First Steps", Description: "Complete your first practice session", Icon: "🎯", RequirementType: RequirementSessions, RequirementValue: 1, XPReward: 50},
		{ID: 2, Name: "Quick Learner", Description: "Answer 10 questions correctly", Icon: "💡", RequirementType: RequirementCorrectAnswers, RequirementValue: 10, XPReward: 100},
		{ID: 3, Name: "Dedicated Student", Description: "Maintain a 3-day practice streak", Icon: "🔥", RequirementType: RequirementStreak, RequirementValue: 3, XPReward: 150},
		{ID: 4, Name: "Week Warrior", Description: "Maintain a 7-day practice streak", Icon: "⚡", RequirementType: RequirementStreak, RequirementValue: 7, XPReward: 300},
		{ID: 5, Name: "Perfect Score", Description: "Get 100% on a practice session", Icon: "🌟", RequirementType: RequirementPerfectSession, RequirementValue: 1, XPReward: 200},
		{ID: 6, Name: "Century Club", Description: "Answer 100 questions", Icon: "💯", RequirementType: RequirementTotalQuestions, RequirementValue: 100, XPReward: 500},
	}
}
