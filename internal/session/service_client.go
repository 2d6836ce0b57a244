package session

import (
	"context"

	"assessment-attempt-service/internal/app"
	"assessment-attempt-service/internal/domain"
)

// ServiceClient binds an AttemptService to one attempt and candidate.
type ServiceClient struct {
	Service     *app.AttemptService
	Ref         domain.AttemptRef
	CandidateID string
}

func (s ServiceClient) Resume(ctx context.Context) (domain.Attempt, error) {
	return s.Service.Resume(ctx, s.Ref, s.CandidateID)
}

func (s ServiceClient) SaveAnswers(ctx context.Context, answers domain.Answers) error {
	_, err := s.Service.SaveAnswers(ctx, s.Ref, s.CandidateID, answers)
	return err
}

func (s ServiceClient) Submit(ctx context.Context, answers domain.Answers, reason domain.SubmitReason) (domain.Attempt, error) {
	return s.Service.Submit(ctx, s.Ref, s.CandidateID, &answers, reason)
}
