package domain

import "errors"

var (
	// ErrValidation is returned when a submission is malformed. Nothing is mutated.
	ErrValidation = errors.New("invalid session payload")
	// ErrPersistence indicates the progress store could not complete a unit of work.
	ErrPersistence = errors.New("progress persistence failed")
	// ErrAchievementEvaluation marks failures of the best-effort achievement pass.
	ErrAchievementEvaluation = errors.New("achievement evaluation failed")
	// ErrCatalogUnavailable indicates the achievement catalog could not be loaded.
	ErrCatalogUnavailable = errors.New("achievement catalog unavailable")
	// ErrLockTimeout is returned when a per-user lock could not be acquired in time.
	ErrLockTimeout = errors.New("user lock not acquired")
)
