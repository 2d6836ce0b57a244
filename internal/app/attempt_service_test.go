package app_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"assessment-attempt-service/internal/app"
	"assessment-attempt-service/internal/clock"
	"assessment-attempt-service/internal/domain"
	"assessment-attempt-service/internal/infra/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)

type recordingPublisher struct {
	mu     sync.Mutex
	events []domain.AttemptEvent
}

func (p *recordingPublisher) Publish(_ context.Context, event domain.AttemptEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return nil
}

func (p *recordingPublisher) names() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.events))
	for _, e := range p.events {
		out = append(out, e.Name)
	}
	return out
}

type fixture struct {
	clock   *clock.Manual
	store   *memory.AttemptStore
	events  *recordingPublisher
	service *app.AttemptService
}

func newFixture(t *testing.T, assessments ...domain.Assessment) *fixture {
	t.Helper()
	if len(assessments) == 0 {
		assessments = []domain.Assessment{quizAssessment(), essayAssessment()}
	}
	f := &fixture{
		clock:  clock.NewManual(t0),
		store:  memory.NewAttemptStore(),
		events: &recordingPublisher{},
	}
	catalog := memory.NewAssessmentCatalog(memory.NewStaticAssessmentLoader(assessments...), time.Minute)
	f.service = app.NewAttemptService(f.store, catalog, app.Options{
		Clock:  f.clock,
		Locker: memory.NewStartLocker(),
		Events: f.events,
	})
	return f
}

func quizAssessment() domain.Assessment {
	return domain.Assessment{
		ID:          "quiz-1",
		Title:       "Go Basics",
		Type:        domain.TypeQuiz,
		TimeLimit:   domain.TimeLimit(time.Minute),
		MaxAttempts: 1,
		Status:      domain.AssessmentActive,
		QuizQuestions: []domain.QuizQuestion{
			{Question: "2 + 2?", Options: []string{"3", "4", "5"}, CorrectIndex: 1},
			{Question: "Capital of France?", Options: []string{"Paris", "Rome"}, CorrectIndex: 0},
		},
	}
}

func essayAssessment() domain.Assessment {
	return domain.Assessment{
		ID:            "essay-1",
		Title:         "API Essay",
		Type:          domain.TypeWriting,
		TimeLimit:     domain.TimeLimit(30 * time.Minute),
		MaxAttempts:   2,
		Status:        domain.AssessmentActive,
		WritingTask:   "Describe API versioning.",
		WritingFormat: domain.WritingText,
	}
}

func ref(a domain.Attempt) domain.AttemptRef {
	return domain.AttemptRef{AssessmentID: a.AssessmentID, AttemptID: a.ID}
}

func TestQuizSubmitScoresAndConsumesAttempt(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	attempt, created, err := f.service.Start(ctx, "quiz-1", "cand-1")
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, 1, attempt.AttemptNumber)
	assert.Equal(t, t0, attempt.StartTime)
	assert.Equal(t, t0.Add(time.Minute), attempt.EndTime)
	assert.Equal(t, []int{-1, -1}, attempt.Answers.Quiz)

	answers := domain.NewQuizAnswers(1, 0)
	submitted, err := f.service.Submit(ctx, ref(attempt), "cand-1", &answers, domain.ReasonExplicit)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusSubmitted, submitted.Status)
	require.NotNil(t, submitted.Score)
	assert.Equal(t, 2, *submitted.Score)
	require.NotNil(t, submitted.SubmittedAt)
	assert.Equal(t, t0, *submitted.SubmittedAt)

	_, _, err = f.service.Start(ctx, "quiz-1", "cand-1")
	assert.ErrorIs(t, err, domain.ErrAttemptLimitExceeded)

	assert.Equal(t, []string{domain.EventAttemptStarted, domain.EventAttemptSubmitted}, f.events.names())
}

func TestSubmitIgnoresAnswersPastLastQuestion(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	attempt, _, err := f.service.Start(ctx, "quiz-1", "cand-1")
	require.NoError(t, err)

	answers := domain.NewQuizAnswers(1, 0, 2)
	_, err = f.service.SaveAnswers(ctx, ref(attempt), "cand-1", answers)
	require.NoError(t, err)

	submitted, err := f.service.Submit(ctx, ref(attempt), "cand-1", &answers, domain.ReasonExplicit)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusSubmitted, submitted.Status)
	require.NotNil(t, submitted.Score)
	assert.Equal(t, 2, *submitted.Score)

	_, _, err = f.service.Start(ctx, "quiz-1", "cand-1")
	assert.ErrorIs(t, err, domain.ErrAttemptLimitExceeded)
}

func TestStartResumesInProgressAttempt(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	first, created, err := f.service.Start(ctx, "essay-1", "cand-1")
	require.NoError(t, err)
	require.True(t, created)

	f.clock.Advance(5 * time.Minute)
	again, created, err := f.service.Start(ctx, "essay-1", "cand-1")
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.ID, again.ID)
	assert.Equal(t, first.EndTime, again.EndTime, "resuming must not move the deadline")
}

func TestResumeAfterDeadlineSubmitsAtEndTime(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	attempt, _, err := f.service.Start(ctx, "quiz-1", "cand-1")
	require.NoError(t, err)
	_, err = f.service.SaveAnswers(ctx, ref(attempt), "cand-1", domain.NewQuizAnswers(1, 1))
	require.NoError(t, err)

	f.clock.Advance(61 * time.Second)
	resumed, err := f.service.Resume(ctx, ref(attempt), "cand-1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusSubmitted, resumed.Status)
	assert.Equal(t, domain.ReasonExpired, resumed.SubmitReason)
	require.NotNil(t, resumed.SubmittedAt)
	assert.Equal(t, attempt.EndTime, *resumed.SubmittedAt)
	require.NotNil(t, resumed.Score)
	assert.Equal(t, 1, *resumed.Score, "the saved draft is what gets scored")

	view, err := f.service.View(ctx, ref(attempt), domain.Identity{UserID: "cand-1", Role: domain.RoleCandidate})
	require.NoError(t, err)
	assert.Equal(t, app.ViewFrozen, view.Mode)
}

func TestSaveAnswersAfterSubmitIsRejected(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	attempt, _, err := f.service.Start(ctx, "essay-1", "cand-1")
	require.NoError(t, err)
	_, err = f.service.Submit(ctx, ref(attempt), "cand-1", nil, domain.ReasonExplicit)
	require.NoError(t, err)

	stored, err := f.service.SaveAnswers(ctx, ref(attempt), "cand-1", domain.NewWritingAnswers("late", ""))
	assert.ErrorIs(t, err, domain.ErrAlreadySubmitted)
	assert.Equal(t, domain.StatusSubmitted, stored.Status)
	require.NotNil(t, stored.Answers.Writing)
	assert.Empty(t, stored.Answers.Writing.Text)
}

func TestSaveAnswersAfterDeadlineSubmitsStoredDraft(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	attempt, _, err := f.service.Start(ctx, "essay-1", "cand-1")
	require.NoError(t, err)
	_, err = f.service.SaveAnswers(ctx, ref(attempt), "cand-1", domain.NewWritingAnswers("kept", ""))
	require.NoError(t, err)

	f.clock.Advance(31 * time.Minute)
	stored, err := f.service.SaveAnswers(ctx, ref(attempt), "cand-1", domain.NewWritingAnswers("too late", ""))
	assert.ErrorIs(t, err, domain.ErrAlreadySubmitted)
	assert.Equal(t, domain.StatusSubmitted, stored.Status)
	assert.Equal(t, "kept", stored.Answers.Writing.Text)
}

func TestSubmitIsIdempotent(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	attempt, _, err := f.service.Start(ctx, "quiz-1", "cand-1")
	require.NoError(t, err)

	first, err := f.service.Submit(ctx, ref(attempt), "cand-1", nil, domain.ReasonExplicit)
	require.NoError(t, err)
	f.clock.Advance(10 * time.Second)
	other := domain.NewQuizAnswers(1, 0)
	second, err := f.service.Submit(ctx, ref(attempt), "cand-1", &other, domain.ReasonUnload)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, 0, *second.Score)
	assert.Len(t, f.events.names(), 2)
}

func TestConcurrentSubmitsFinalizeOnce(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	attempt, _, err := f.service.Start(ctx, "quiz-1", "cand-1")
	require.NoError(t, err)

	var wg sync.WaitGroup
	results := make([]domain.Attempt, 10)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			answers := domain.NewQuizAnswers(i%3, 0)
			results[i], _ = f.service.Submit(ctx, ref(attempt), "cand-1", &answers, domain.ReasonExplicit)
		}(i)
	}
	wg.Wait()

	for _, r := range results[1:] {
		assert.Equal(t, results[0].Answers, r.Answers)
		assert.Equal(t, results[0].Score, r.Score)
	}
	submittedEvents := 0
	for _, name := range f.events.names() {
		if name == domain.EventAttemptSubmitted {
			submittedEvents++
		}
	}
	assert.Equal(t, 1, submittedEvents)
}

func TestConcurrentStartsRespectLimit(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	var wg sync.WaitGroup
	ids := make(chan string, 20)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			a, _, err := f.service.Start(ctx, "essay-1", "cand-1")
			if err == nil {
				ids <- a.ID
			}
		}()
	}
	wg.Wait()
	close(ids)

	seen := map[string]bool{}
	for id := range ids {
		seen[id] = true
	}
	assert.Len(t, seen, 1)
	all, err := f.store.ListByCandidate(ctx, "cand-1")
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestSubmitWithinGraceAcceptsPayload(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	attempt, _, err := f.service.Start(ctx, "quiz-1", "cand-1")
	require.NoError(t, err)
	_, err = f.service.SaveAnswers(ctx, ref(attempt), "cand-1", domain.NewQuizAnswers(1, -1))
	require.NoError(t, err)

	f.clock.Advance(time.Minute + 20*time.Second)
	fresh := domain.NewQuizAnswers(1, 0)
	withinGrace, err := f.service.Submit(ctx, ref(attempt), "cand-1", &fresh, domain.ReasonDeadline)
	require.NoError(t, err)
	assert.Equal(t, domain.ReasonDeadline, withinGrace.SubmitReason)
	assert.Equal(t, 2, *withinGrace.Score)
	assert.Equal(t, attempt.EndTime, *withinGrace.SubmittedAt)
}

func TestSubmitBeyondGraceIgnoresPayload(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	attempt, _, err := f.service.Start(ctx, "quiz-1", "cand-1")
	require.NoError(t, err)
	_, err = f.service.SaveAnswers(ctx, ref(attempt), "cand-1", domain.NewQuizAnswers(1, -1))
	require.NoError(t, err)

	f.clock.Advance(time.Minute + app.DefaultSubmitGrace + time.Second)
	fresh := domain.NewQuizAnswers(1, 0)
	late, err := f.service.Submit(ctx, ref(attempt), "cand-1", &fresh, domain.ReasonDeadline)
	require.NoError(t, err)
	assert.Equal(t, domain.ReasonExpired, late.SubmitReason)
	assert.Equal(t, 1, *late.Score)
}

func TestOwnershipAndAuthentication(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	_, _, err := f.service.Start(ctx, "essay-1", "")
	assert.ErrorIs(t, err, domain.ErrUnauthorized)

	attempt, _, err := f.service.Start(ctx, "essay-1", "cand-1")
	require.NoError(t, err)

	_, err = f.service.Resume(ctx, ref(attempt), "cand-2")
	assert.ErrorIs(t, err, domain.ErrForbidden)
	_, err = f.service.SaveAnswers(ctx, ref(attempt), "cand-2", domain.NewWritingAnswers("x", ""))
	assert.ErrorIs(t, err, domain.ErrForbidden)
	_, err = f.service.Submit(ctx, ref(attempt), "cand-2", nil, domain.ReasonExplicit)
	assert.ErrorIs(t, err, domain.ErrForbidden)

	_, err = f.service.Resume(ctx, domain.AttemptRef{AssessmentID: "quiz-1", AttemptID: attempt.ID}, "cand-1")
	assert.ErrorIs(t, err, domain.ErrAttemptNotFound)
	_, err = f.service.Resume(ctx, domain.AttemptRef{AttemptID: "missing"}, "cand-1")
	assert.ErrorIs(t, err, domain.ErrAttemptNotFound)
	_, _, err = f.service.Start(ctx, "missing", "cand-1")
	assert.ErrorIs(t, err, domain.ErrAssessmentNotFound)
}

func TestInvalidAnswersAreRejected(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	attempt, _, err := f.service.Start(ctx, "essay-1", "cand-1")
	require.NoError(t, err)

	_, err = f.service.SaveAnswers(ctx, ref(attempt), "cand-1", domain.NewQuizAnswers(0))
	assert.ErrorIs(t, err, domain.ErrValidation)

	bad := domain.NewWritingAnswers("", "https://example.com/doc")
	_, err = f.service.Submit(ctx, ref(attempt), "cand-1", &bad, domain.ReasonExplicit)
	var verr *domain.ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, "writing.link", verr.Fields[0].Field)

	stored, err := f.service.Resume(ctx, ref(attempt), "cand-1")
	require.NoError(t, err)
	assert.True(t, stored.InProgress())
}

func TestGateForApplication(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	decision, err := f.service.GateForApplication(ctx, "essay-1", "cand-1", false)
	require.NoError(t, err)
	assert.Equal(t, domain.GateAllowed, decision)

	decision, err = f.service.GateForApplication(ctx, "essay-1", "cand-1", true)
	require.NoError(t, err)
	assert.Equal(t, domain.GateBlocked, decision)

	attempt, _, err := f.service.Start(ctx, "essay-1", "cand-1")
	require.NoError(t, err)
	decision, err = f.service.GateForApplication(ctx, "essay-1", "cand-1", true)
	require.NoError(t, err)
	assert.Equal(t, domain.GateBlocked, decision, "an in-progress attempt does not pass the gate")

	_, err = f.service.Submit(ctx, ref(attempt), "cand-1", nil, domain.ReasonExplicit)
	require.NoError(t, err)
	decision, err = f.service.GateForApplication(ctx, "essay-1", "cand-1", true)
	require.NoError(t, err)
	assert.Equal(t, domain.GateAllowed, decision)

	decision, err = f.service.GateForApplication(ctx, "essay-1", "cand-2", true)
	require.NoError(t, err)
	assert.Equal(t, domain.GateBlocked, decision)
}

func TestListAvailable(t *testing.T) {
	ctx := context.Background()
	inactive := quizAssessment()
	inactive.ID = "retired"
	inactive.Status = domain.AssessmentInactive
	f := newFixture(t, quizAssessment(), essayAssessment(), inactive)

	quiz, _, err := f.service.Start(ctx, "quiz-1", "cand-1")
	require.NoError(t, err)
	essay, _, err := f.service.Start(ctx, "essay-1", "cand-1")
	require.NoError(t, err)
	_, err = f.service.Submit(ctx, ref(essay), "cand-1", nil, domain.ReasonExplicit)
	require.NoError(t, err)

	f.clock.Advance(10 * time.Second)
	rows, err := f.service.ListAvailable(ctx, "cand-1")
	require.NoError(t, err)
	require.Len(t, rows, 2)

	byID := map[string]domain.AvailableAssessment{}
	for _, r := range rows {
		byID[r.AssessmentID] = r
	}
	q := byID["quiz-1"]
	assert.Equal(t, domain.AvailabilityInProgress, q.Status)
	assert.Equal(t, quiz.ID, q.ActiveAttemptID)
	assert.Equal(t, int64(50_000), q.RemainingMs)
	assert.Equal(t, 0, q.AttemptsLeft)
	assert.Equal(t, 2, q.QuizTotal)

	e := byID["essay-1"]
	assert.Equal(t, domain.AvailabilitySubmitted, e.Status)
	assert.Equal(t, 1, e.AttemptsUsed)
	assert.Equal(t, 1, e.AttemptsLeft)
	assert.Nil(t, e.LatestScore)

	f.clock.Advance(time.Minute)
	rows, err = f.service.ListAvailable(ctx, "cand-1")
	require.NoError(t, err)
	for _, r := range rows {
		if r.AssessmentID == "quiz-1" {
			assert.Equal(t, domain.AvailabilitySubmitted, r.Status, "expired attempts are reconciled on listing")
			require.NotNil(t, r.LatestScore)
			assert.Equal(t, 0, *r.LatestScore)
		}
	}
}

func TestStartRespectsAvailability(t *testing.T) {
	ctx := context.Background()
	closed := essayAssessment()
	deadline := t0.Add(time.Hour)
	closed.Deadline = &deadline
	f := newFixture(t, closed)

	attempt, _, err := f.service.Start(ctx, "essay-1", "cand-1")
	require.NoError(t, err)

	f.clock.Advance(2 * time.Hour)
	_, _, err = f.service.Start(ctx, "essay-1", "cand-1")
	assert.ErrorIs(t, err, domain.ErrAssessmentUnavailable)

	stored, err := f.service.Resume(ctx, ref(attempt), "cand-1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusSubmitted, stored.Status)
}

func TestReviewerAccess(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	recruiter := domain.Identity{UserID: "rec-1", Role: domain.RoleRecruiter}
	candidate := domain.Identity{UserID: "cand-1", Role: domain.RoleCandidate}

	attempt, _, err := f.service.Start(ctx, "quiz-1", "cand-1")
	require.NoError(t, err)

	_, _, err = f.service.ListForReview(ctx, "quiz-1", candidate)
	assert.ErrorIs(t, err, domain.ErrForbidden)
	_, _, err = f.service.ListForReview(ctx, "quiz-1", domain.Identity{})
	assert.ErrorIs(t, err, domain.ErrUnauthorized)

	assessment, attempts, err := f.service.ListForReview(ctx, "quiz-1", recruiter)
	require.NoError(t, err)
	assert.Equal(t, "quiz-1", assessment.ID)
	require.Len(t, attempts, 1)

	view, err := f.service.View(ctx, ref(attempt), recruiter)
	require.NoError(t, err)
	assert.Equal(t, app.ViewFrozen, view.Mode)
	assert.False(t, view.AcceptsInput)

	view, err = f.service.View(ctx, ref(attempt), candidate)
	require.NoError(t, err)
	assert.Equal(t, app.ViewEditable, view.Mode)

	_, err = f.service.View(ctx, ref(attempt), domain.Identity{UserID: "cand-2", Role: domain.RoleCandidate})
	assert.ErrorIs(t, err, domain.ErrForbidden)

	_, err = f.service.Preview(ctx, "quiz-1", candidate)
	assert.ErrorIs(t, err, domain.ErrForbidden)
	preview, err := f.service.Preview(ctx, "quiz-1", recruiter)
	require.NoError(t, err)
	assert.Equal(t, 2, preview.MaxScore)
}

func TestReconcileExpired(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	quiz, _, err := f.service.Start(ctx, "quiz-1", "cand-1")
	require.NoError(t, err)
	essay, _, err := f.service.Start(ctx, "essay-1", "cand-1")
	require.NoError(t, err)

	f.clock.Advance(2 * time.Minute)
	n, err := f.service.ReconcileExpired(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	stored, err := f.store.Get(ctx, quiz.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusSubmitted, stored.Status)
	assert.Equal(t, domain.ReasonExpired, stored.SubmitReason)

	stored, err = f.store.Get(ctx, essay.ID)
	require.NoError(t, err)
	assert.True(t, stored.InProgress())
}
