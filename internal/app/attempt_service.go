package app

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"assessment-attempt-service/internal/clock"
	"assessment-attempt-service/internal/domain"
	"assessment-attempt-service/internal/metrics"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// DefaultSubmitGrace is how long after endTime a submit may still carry
// fresh answers.
const DefaultSubmitGrace = 30 * time.Second

// Options configures an AttemptService. Zero values select defaults.
type Options struct {
	Clock       clock.Clock
	Locker      StartLocker
	Events      EventPublisher
	Logger      *zap.Logger
	SubmitGrace time.Duration
	NewID       func() string
}

// AttemptService contains the attempt lifecycle use cases.
type AttemptService struct {
	attempts AttemptRepository
	catalog  AssessmentCatalog
	clock    clock.Clock
	locker   StartLocker
	events   EventPublisher
	logger   *zap.Logger
	grace    time.Duration
	newID    func() string
}

func NewAttemptService(attempts AttemptRepository, catalog AssessmentCatalog, opts Options) *AttemptService {
	s := &AttemptService{
		attempts: attempts,
		catalog:  catalog,
		clock:    opts.Clock,
		locker:   opts.Locker,
		events:   opts.Events,
		logger:   opts.Logger,
		grace:    opts.SubmitGrace,
		newID:    opts.NewID,
	}
	if s.clock == nil {
		s.clock = clock.System{}
	}
	if s.events == nil {
		s.events = nopPublisher{}
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	if s.grace <= 0 {
		s.grace = DefaultSubmitGrace
	}
	if s.newID == nil {
		s.newID = uuid.NewString
	}
	return s
}

// Now is the service's clock reading, at storage precision.
func (s *AttemptService) Now() time.Time {
	return s.clock.Now().UTC().Truncate(time.Microsecond)
}

// Start returns the candidate's in-progress attempt or creates a new one.
// created is false when an existing attempt was resumed.
func (s *AttemptService) Start(ctx context.Context, assessmentID, candidateID string) (attempt domain.Attempt, created bool, err error) {
	if candidateID == "" {
		return domain.Attempt{}, false, domain.ErrUnauthorized
	}
	assessment, err := s.catalog.GetAssessment(ctx, assessmentID)
	if err != nil {
		return domain.Attempt{}, false, err
	}

	if s.locker != nil {
		unlock, err := s.locker.Lock(ctx, startKey(assessmentID, candidateID))
		if err != nil {
			return domain.Attempt{}, false, fmt.Errorf("lock start: %w", err)
		}
		defer unlock()
	}

	now := s.Now()
	current, err := s.attempts.FindInProgress(ctx, assessmentID, candidateID)
	switch {
	case err == nil && !current.Expired(now):
		return current, false, nil
	case err == nil:
		if _, err := s.finalize(ctx, current, assessment, nil, domain.ReasonExpired); err != nil {
			return domain.Attempt{}, false, err
		}
	case !errors.Is(err, domain.ErrAttemptNotFound):
		return domain.Attempt{}, false, err
	}

	if !assessment.Open(now) {
		return domain.Attempt{}, false, domain.ErrAssessmentUnavailable
	}

	attempt = domain.Attempt{
		ID:           s.newID(),
		AssessmentID: assessmentID,
		CandidateID:  candidateID,
		Status:       domain.StatusInProgress,
		StartTime:    now,
		EndTime:      now.Add(assessment.TimeLimit.Duration()),
		Answers:      domain.EmptyAnswers(assessment),
		UpdatedAt:    now,
	}
	attempt, err = s.attempts.Create(ctx, attempt, assessment.AttemptLimit())
	if errors.Is(err, domain.ErrAttemptInProgress) {
		// Lost a race with a concurrent start; hand back the winner.
		if existing, ferr := s.attempts.FindInProgress(ctx, assessmentID, candidateID); ferr == nil {
			return existing, false, nil
		}
	}
	if err != nil {
		return domain.Attempt{}, false, err
	}

	metrics.AttemptsStarted.WithLabelValues(string(assessment.Type)).Inc()
	s.publish(ctx, domain.EventAttemptStarted, attempt)
	s.logger.Info("attempt started",
		zap.String("attempt_id", attempt.ID),
		zap.String("assessment_id", assessmentID),
		zap.String("candidate_id", candidateID),
		zap.Int("attempt_number", attempt.AttemptNumber),
		zap.Time("end_time", attempt.EndTime),
	)
	return attempt, true, nil
}

// Resume returns the stored attempt, submitting it first when its deadline
// has passed.
func (s *AttemptService) Resume(ctx context.Context, ref domain.AttemptRef, candidateID string) (domain.Attempt, error) {
	attempt, err := s.owned(ctx, ref, candidateID)
	if err != nil {
		return domain.Attempt{}, err
	}
	if attempt.Expired(s.Now()) {
		return s.finalizeExpired(ctx, attempt)
	}
	return attempt, nil
}

// SaveAnswers replaces the draft of an in-progress attempt.
func (s *AttemptService) SaveAnswers(ctx context.Context, ref domain.AttemptRef, candidateID string, answers domain.Answers) (domain.Attempt, error) {
	attempt, err := s.owned(ctx, ref, candidateID)
	if err != nil {
		return domain.Attempt{}, err
	}
	if !attempt.InProgress() {
		metrics.AnswerSaves.WithLabelValues("rejected").Inc()
		return attempt, domain.ErrAlreadySubmitted
	}
	now := s.Now()
	if attempt.Expired(now) {
		metrics.AnswerSaves.WithLabelValues("rejected").Inc()
		submitted, err := s.finalizeExpired(ctx, attempt)
		if err != nil {
			return domain.Attempt{}, err
		}
		return submitted, domain.ErrAlreadySubmitted
	}

	assessment, err := s.catalog.GetAssessment(ctx, attempt.AssessmentID)
	if err != nil {
		return domain.Attempt{}, err
	}
	if err := ValidateAnswers(assessment, answers); err != nil {
		metrics.AnswerSaves.WithLabelValues("invalid").Inc()
		return domain.Attempt{}, err
	}

	updated, err := s.attempts.UpdateAnswers(ctx, attempt.ID, answers.Clone(), now)
	if err != nil {
		metrics.AnswerSaves.WithLabelValues("rejected").Inc()
		return updated, err
	}
	metrics.AnswerSaves.WithLabelValues("saved").Inc()
	return updated, nil
}

// Submit finalizes the attempt. A nil answers keeps the last saved draft.
// Submitting an already submitted attempt returns it unchanged.
func (s *AttemptService) Submit(ctx context.Context, ref domain.AttemptRef, candidateID string, answers *domain.Answers, reason domain.SubmitReason) (domain.Attempt, error) {
	attempt, err := s.owned(ctx, ref, candidateID)
	if err != nil {
		return domain.Attempt{}, err
	}
	if !attempt.InProgress() {
		return attempt, nil
	}

	assessment, err := s.catalog.GetAssessment(ctx, attempt.AssessmentID)
	if err != nil {
		return domain.Attempt{}, err
	}
	if answers != nil {
		if err := ValidateAnswers(assessment, *answers); err != nil {
			return domain.Attempt{}, err
		}
	}
	if !reason.Valid() {
		reason = domain.ReasonExplicit
	}
	if s.Now().After(attempt.EndTime.Add(s.grace)) {
		answers = nil
		reason = domain.ReasonExpired
	}
	return s.finalize(ctx, attempt, assessment, answers, reason)
}

// GateForApplication decides whether a job application may proceed. It
// only reads attempt history.
func (s *AttemptService) GateForApplication(ctx context.Context, assessmentID, candidateID string, mandatory bool) (domain.GateDecision, error) {
	if candidateID == "" {
		return domain.GateBlocked, domain.ErrUnauthorized
	}
	if !mandatory {
		return domain.GateAllowed, nil
	}
	if _, err := s.catalog.GetAssessment(ctx, assessmentID); err != nil {
		return domain.GateBlocked, err
	}
	attempts, err := s.attempts.ListByCandidate(ctx, candidateID)
	if err != nil {
		return domain.GateBlocked, err
	}
	for _, a := range attempts {
		if a.AssessmentID == assessmentID && a.Status == domain.StatusSubmitted {
			return domain.GateAllowed, nil
		}
	}
	return domain.GateBlocked, nil
}

// ListAvailable builds the candidate's listing of active assessments with
// their attempt accounting.
func (s *AttemptService) ListAvailable(ctx context.Context, candidateID string) ([]domain.AvailableAssessment, error) {
	if candidateID == "" {
		return nil, domain.ErrUnauthorized
	}
	assessments, err := s.catalog.ListAssessments(ctx)
	if err != nil {
		return nil, err
	}
	attempts, err := s.attempts.ListByCandidate(ctx, candidateID)
	if err != nil {
		return nil, err
	}
	byAssessment := make(map[string][]domain.Attempt)
	for _, a := range attempts {
		byAssessment[a.AssessmentID] = append(byAssessment[a.AssessmentID], a)
	}

	now := s.Now()
	out := make([]domain.AvailableAssessment, 0, len(assessments))
	for _, assessment := range assessments {
		if assessment.Status != "" && assessment.Status != domain.AssessmentActive {
			continue
		}
		history := byAssessment[assessment.ID]
		for i, a := range history {
			if !a.Expired(now) {
				continue
			}
			submitted, err := s.finalize(ctx, a, assessment, nil, domain.ReasonExpired)
			if err != nil {
				s.logger.Warn("reconcile expired attempt", zap.String("attempt_id", a.ID), zap.Error(err))
				continue
			}
			history[i] = submitted
		}
		out = append(out, availability(assessment, history, now))
	}
	return out, nil
}

func availability(assessment domain.Assessment, history []domain.Attempt, now time.Time) domain.AvailableAssessment {
	sort.Slice(history, func(i, j int) bool { return history[i].AttemptNumber < history[j].AttemptNumber })

	limit := assessment.AttemptLimit()
	row := domain.AvailableAssessment{
		AssessmentID:     assessment.ID,
		Title:            assessment.Title,
		Type:             assessment.Type,
		Difficulty:       assessment.Difficulty,
		TimeLimitMinutes: int(assessment.TimeLimit.Duration() / time.Minute),
		Deadline:         assessment.Deadline,
		Status:           domain.AvailabilityNotStarted,
		MaxAttempts:      limit,
		AttemptsUsed:     len(history),
		AttemptsLeft:     max(limit-len(history), 0),
	}
	if assessment.Type == domain.TypeQuiz {
		row.QuizTotal = len(assessment.QuizQuestions)
	}
	for _, a := range history {
		switch a.Status {
		case domain.StatusInProgress:
			row.ActiveAttemptID = a.ID
			row.RemainingMs = a.Remaining(now).Milliseconds()
		case domain.StatusSubmitted:
			row.LatestSubmittedAttemptID = a.ID
			row.LatestScore = a.Score
		}
	}
	switch {
	case row.ActiveAttemptID != "":
		row.Status = domain.AvailabilityInProgress
	case row.LatestSubmittedAttemptID != "":
		row.Status = domain.AvailabilitySubmitted
	}
	return row
}

// ListForReview returns every attempt at an assessment for a reviewer.
func (s *AttemptService) ListForReview(ctx context.Context, assessmentID string, reviewer domain.Identity) (domain.Assessment, []domain.Attempt, error) {
	if err := requireReviewer(reviewer); err != nil {
		return domain.Assessment{}, nil, err
	}
	assessment, err := s.catalog.GetAssessment(ctx, assessmentID)
	if err != nil {
		return domain.Assessment{}, nil, err
	}
	attempts, err := s.attempts.ListByAssessment(ctx, assessmentID)
	if err != nil {
		return domain.Assessment{}, nil, err
	}
	return assessment, attempts, nil
}

// View renders an attempt for the caller: editable for the owner while the
// attempt runs, frozen otherwise. Expired attempts are submitted first.
func (s *AttemptService) View(ctx context.Context, ref domain.AttemptRef, viewer domain.Identity) (AttemptView, error) {
	if viewer.UserID == "" {
		return AttemptView{}, domain.ErrUnauthorized
	}
	attempt, err := s.lookup(ctx, ref)
	if err != nil {
		return AttemptView{}, err
	}
	if attempt.CandidateID != viewer.UserID && !viewer.Reviewer() {
		return AttemptView{}, domain.ErrForbidden
	}
	assessment, err := s.catalog.GetAssessment(ctx, attempt.AssessmentID)
	if err != nil {
		return AttemptView{}, err
	}
	now := s.Now()
	if attempt.Expired(now) {
		if attempt, err = s.finalize(ctx, attempt, assessment, nil, domain.ReasonExpired); err != nil {
			return AttemptView{}, err
		}
	}
	if attempt.CandidateID == viewer.UserID && attempt.InProgress() {
		return EditableView(attempt, assessment, viewer.UserID, now)
	}
	return FrozenView(attempt, assessment)
}

// Preview renders assessment content read-only for a reviewer.
func (s *AttemptService) Preview(ctx context.Context, assessmentID string, reviewer domain.Identity) (AttemptView, error) {
	if err := requireReviewer(reviewer); err != nil {
		return AttemptView{}, err
	}
	assessment, err := s.catalog.GetAssessment(ctx, assessmentID)
	if err != nil {
		return AttemptView{}, err
	}
	return PreviewView(assessment)
}

// ReconcileExpired submits up to limit in-progress attempts whose deadline
// has passed. It backs up clients whose forced submit never arrived.
func (s *AttemptService) ReconcileExpired(ctx context.Context, limit int) (int, error) {
	expired, err := s.attempts.ListExpired(ctx, s.Now(), limit)
	if err != nil {
		return 0, err
	}
	done := 0
	for _, a := range expired {
		if _, err := s.finalizeExpired(ctx, a); err != nil {
			s.logger.Warn("reconcile expired attempt", zap.String("attempt_id", a.ID), zap.Error(err))
			continue
		}
		done++
	}
	return done, nil
}

func (s *AttemptService) lookup(ctx context.Context, ref domain.AttemptRef) (domain.Attempt, error) {
	attempt, err := s.attempts.Get(ctx, ref.AttemptID)
	if err != nil {
		return domain.Attempt{}, err
	}
	if ref.AssessmentID != "" && attempt.AssessmentID != ref.AssessmentID {
		return domain.Attempt{}, domain.ErrAttemptNotFound
	}
	return attempt, nil
}

func (s *AttemptService) owned(ctx context.Context, ref domain.AttemptRef, candidateID string) (domain.Attempt, error) {
	if candidateID == "" {
		return domain.Attempt{}, domain.ErrUnauthorized
	}
	attempt, err := s.lookup(ctx, ref)
	if err != nil {
		return domain.Attempt{}, err
	}
	if attempt.CandidateID != candidateID {
		return domain.Attempt{}, domain.ErrForbidden
	}
	return attempt, nil
}

func (s *AttemptService) finalizeExpired(ctx context.Context, attempt domain.Attempt) (domain.Attempt, error) {
	assessment, err := s.catalog.GetAssessment(ctx, attempt.AssessmentID)
	if err != nil {
		return domain.Attempt{}, err
	}
	return s.finalize(ctx, attempt, assessment, nil, domain.ReasonExpired)
}

// finalize is the single submit path. Scoring runs inside the store's
// critical section so it happens once per attempt.
func (s *AttemptService) finalize(ctx context.Context, attempt domain.Attempt, assessment domain.Assessment, answers *domain.Answers, reason domain.SubmitReason) (domain.Attempt, error) {
	now := s.Now()
	final, applied, err := s.attempts.Finalize(ctx, attempt.ID, func(current domain.Attempt) domain.Attempt {
		if answers != nil {
			current.Answers = answers.Clone()
		}
		submittedAt := now
		if submittedAt.After(current.EndTime) {
			submittedAt = current.EndTime
		}
		current.Status = domain.StatusSubmitted
		current.SubmittedAt = &submittedAt
		current.SubmitReason = reason
		current.Score = Score(assessment, current.Answers)
		current.UpdatedAt = now
		return current
	})
	if err != nil {
		return domain.Attempt{}, err
	}
	if !applied {
		return final, nil
	}

	metrics.AttemptsSubmitted.WithLabelValues(string(reason)).Inc()
	s.publish(ctx, domain.EventAttemptSubmitted, final)
	fields := []zap.Field{
		zap.String("attempt_id", final.ID),
		zap.String("assessment_id", final.AssessmentID),
		zap.String("reason", string(reason)),
	}
	if final.Score != nil {
		fields = append(fields, zap.Int("score", *final.Score))
	}
	s.logger.Info("attempt submitted", fields...)
	return final, nil
}

func (s *AttemptService) publish(ctx context.Context, name string, attempt domain.Attempt) {
	event := domain.AttemptEvent{
		Name:          name,
		AttemptID:     attempt.ID,
		AssessmentID:  attempt.AssessmentID,
		CandidateID:   attempt.CandidateID,
		AttemptNumber: attempt.AttemptNumber,
		Status:        attempt.Status,
		Reason:        attempt.SubmitReason,
		Score:         attempt.Score,
		OccurredAt:    s.Now(),
	}
	if err := s.events.Publish(ctx, event); err != nil {
		s.logger.Warn("publish attempt event", zap.String("event", name), zap.String("attempt_id", attempt.ID), zap.Error(err))
	}
}

func requireReviewer(identity domain.Identity) error {
	if identity.UserID == "" {
		return domain.ErrUnauthorized
	}
	if !identity.Reviewer() {
		return domain.ErrForbidden
	}
	return nil
}

func startKey(assessmentID, candidateID string) string {
	return assessmentID + ":" + candidateID
}
