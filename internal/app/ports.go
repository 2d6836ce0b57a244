package app

import (
	"context"
	"time"

	"assessment-attempt-service/internal/domain"
)

// AttemptRepository persists attempts. Implementations must make Create
// and Finalize atomic per (candidate, assessment) and per attempt.
type AttemptRepository interface {
	// Create stores a new in-progress attempt and assigns its attempt
	// number. It fails with domain.ErrAttemptLimitExceeded when the pair
	// already holds maxAttempts attempts and with domain.ErrAttemptInProgress
	// when an in-progress attempt exists.
	Create(ctx context.Context, attempt domain.Attempt, maxAttempts int) (domain.Attempt, error)
	Get(ctx context.Context, attemptID string) (domain.Attempt, error)
	FindInProgress(ctx context.Context, assessmentID, candidateID string) (domain.Attempt, error)
	ListByCandidate(ctx context.Context, candidateID string) ([]domain.Attempt, error)
	ListByAssessment(ctx context.Context, assessmentID string) ([]domain.Attempt, error)
	// UpdateAnswers replaces the draft of an in-progress attempt and
	// returns domain.ErrAlreadySubmitted otherwise.
	UpdateAnswers(ctx context.Context, attemptID string, answers domain.Answers, at time.Time) (domain.Attempt, error)
	// Finalize re-reads the attempt under a lock and, only if it is still
	// in progress, stores fn's result. applied is false when another
	// writer submitted first; the stored attempt is returned either way.
	Finalize(ctx context.Context, attemptID string, fn FinalizeFunc) (attempt domain.Attempt, applied bool, err error)
	ListExpired(ctx context.Context, now time.Time, limit int) ([]domain.Attempt, error)
}

// FinalizeFunc turns the current in-progress attempt into its submitted form.
type FinalizeFunc func(current domain.Attempt) domain.Attempt

// AssessmentCatalog loads assessment definitions (from cache/backing store).
type AssessmentCatalog interface {
	GetAssessment(ctx context.Context, assessmentID string) (domain.Assessment, error)
	ListAssessments(ctx context.Context) ([]domain.Assessment, error)
}

// StartLocker serializes start requests for one (candidate, assessment) pair.
type StartLocker interface {
	Lock(ctx context.Context, key string) (unlock func(), err error)
}

// EventPublisher delivers lifecycle events to downstream consumers.
type EventPublisher interface {
	Publish(ctx context.Context, event domain.AttemptEvent) error
}

type nopPublisher struct{}

func (nopPublisher) Publish(context.Context, domain.AttemptEvent) error { return nil }
