package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"assessment-attempt-service/internal/app"
	"assessment-attempt-service/internal/domain"
)

// AttemptStore is an in-memory implementation of app.AttemptRepository.
// A single mutex makes create and finalize check-and-set atomic.
type AttemptStore struct {
	mu       sync.RWMutex
	attempts map[string]domain.Attempt
}

func NewAttemptStore() *AttemptStore {
	return &AttemptStore{attempts: make(map[string]domain.Attempt)}
}

func (s *AttemptStore) Create(_ context.Context, attempt domain.Attempt, maxAttempts int) (domain.Attempt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	count := 0
	for _, a := range s.attempts {
		if a.AssessmentID != attempt.AssessmentID || a.CandidateID != attempt.CandidateID {
			continue
		}
		if a.InProgress() {
			return domain.Attempt{}, domain.ErrAttemptInProgress
		}
		count++
	}
	if count >= maxAttempts {
		return domain.Attempt{}, domain.ErrAttemptLimitExceeded
	}
	attempt.AttemptNumber = count + 1
	s.attempts[attempt.ID] = clone(attempt)
	return clone(attempt), nil
}

func (s *AttemptStore) Get(_ context.Context, attemptID string) (domain.Attempt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	attempt, ok := s.attempts[attemptID]
	if !ok {
		return domain.Attempt{}, domain.ErrAttemptNotFound
	}
	return clone(attempt), nil
}

func (s *AttemptStore) FindInProgress(_ context.Context, assessmentID, candidateID string) (domain.Attempt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, a := range s.attempts {
		if a.AssessmentID == assessmentID && a.CandidateID == candidateID && a.InProgress() {
			return clone(a), nil
		}
	}
	return domain.Attempt{}, domain.ErrAttemptNotFound
}

func (s *AttemptStore) ListByCandidate(_ context.Context, candidateID string) ([]domain.Attempt, error) {
	return s.filter(func(a domain.Attempt) bool { return a.CandidateID == candidateID }), nil
}

func (s *AttemptStore) ListByAssessment(_ context.Context, assessmentID string) ([]domain.Attempt, error) {
	return s.filter(func(a domain.Attempt) bool { return a.AssessmentID == assessmentID }), nil
}

func (s *AttemptStore) ListExpired(_ context.Context, now time.Time, limit int) ([]domain.Attempt, error) {
	out := s.filter(func(a domain.Attempt) bool { return a.Expired(now) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *AttemptStore) UpdateAnswers(_ context.Context, attemptID string, answers domain.Answers, at time.Time) (domain.Attempt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	attempt, ok := s.attempts[attemptID]
	if !ok {
		return domain.Attempt{}, domain.ErrAttemptNotFound
	}
	if !attempt.InProgress() {
		return clone(attempt), domain.ErrAlreadySubmitted
	}
	attempt.Answers = answers.Clone()
	attempt.UpdatedAt = at
	s.attempts[attemptID] = attempt
	return clone(attempt), nil
}

func (s *AttemptStore) Finalize(_ context.Context, attemptID string, fn app.FinalizeFunc) (domain.Attempt, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.attempts[attemptID]
	if !ok {
		return domain.Attempt{}, false, domain.ErrAttemptNotFound
	}
	if !current.InProgress() {
		return clone(current), false, nil
	}
	final := fn(clone(current))
	s.attempts[attemptID] = clone(final)
	return clone(final), true, nil
}

func (s *AttemptStore) filter(keep func(domain.Attempt) bool) []domain.Attempt {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Attempt, 0)
	for _, a := range s.attempts {
		if keep(a) {
			out = append(out, clone(a))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].StartTime.Equal(out[j].StartTime) {
			return out[i].StartTime.Before(out[j].StartTime)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func clone(a domain.Attempt) domain.Attempt {
	a.Answers = a.Answers.Clone()
	if a.SubmittedAt != nil {
		t := *a.SubmittedAt
		a.SubmittedAt = &t
	}
	if a.Score != nil {
		v := *a.Score
		a.Score = &v
	}
	return a
}
