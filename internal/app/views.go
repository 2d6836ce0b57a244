package app

import (
	"fmt"
	"time"

	"assessment-attempt-service/internal/domain"
	"github.com/jinzhu/copier"
)

// ViewMode says whether a view accepts input.
type ViewMode string

const (
	ViewEditable ViewMode = "editable"
	ViewFrozen   ViewMode = "frozen"
)

// QuestionContent is a quiz question as shown to a reader. CorrectIndex is
// only filled in frozen views.
type QuestionContent struct {
	Question string   `json:"question"`
	Options  []string `json:"options"`
	Answer   *int     `json:"correctIndex,omitempty"`
}

// AssessmentContent is the displayable part of an assessment.
type AssessmentContent struct {
	ID                  string                `json:"id"`
	Title               string                `json:"title"`
	Description         string                `json:"description,omitempty"`
	Type                domain.AssessmentType `json:"type"`
	Difficulty          string                `json:"difficulty,omitempty"`
	TimeLimitMinutes    int                   `json:"timeLimitMinutes"`
	QuizQuestions       []QuestionContent     `json:"quizQuestions,omitempty"`
	WritingTask         string                `json:"writingTask,omitempty"`
	WritingInstructions string                `json:"writingInstructions,omitempty"`
	WritingFormat       domain.WritingFormat  `json:"writingFormat,omitempty"`
	CodeProblem         string                `json:"codeProblem,omitempty"`
	CodeLanguages       []string              `json:"codeLanguages,omitempty"`
	CodeSubmission      domain.CodeSubmission `json:"codeSubmission,omitempty"`
}

// QuestionOutcome overlays correctness on one quiz answer.
type QuestionOutcome struct {
	Index        int  `json:"index"`
	Selected     int  `json:"selected"`
	CorrectIndex int  `json:"correctIndex"`
	Correct      bool `json:"correct"`
}

// AttemptView is the read model handed to a renderer.
type AttemptView struct {
	Mode          ViewMode             `json:"mode"`
	Assessment    AssessmentContent    `json:"assessment"`
	AttemptID     string               `json:"attemptId,omitempty"`
	AttemptNumber int                  `json:"attemptNumber,omitempty"`
	CandidateID   string               `json:"candidateId,omitempty"`
	Status        domain.AttemptStatus `json:"status,omitempty"`
	Answers       *domain.Answers      `json:"answers,omitempty"`
	EndTime       *time.Time           `json:"endTime,omitempty"`
	RemainingMs   int64                `json:"remainingMs,omitempty"`
	SubmittedAt   *time.Time           `json:"submittedAt,omitempty"`
	Score         *int                 `json:"score,omitempty"`
	MaxScore      int                  `json:"maxScore,omitempty"`
	Outcomes      []QuestionOutcome    `json:"outcomes,omitempty"`
	AcceptsInput  bool                 `json:"acceptsInput"`
	ShowTimer     bool                 `json:"showTimer"`
	Autosave      bool                 `json:"autosave"`
}

// EditableView renders an in-progress attempt for its owner. It refuses
// once the deadline is reached, so an expired attempt is never editable.
func EditableView(attempt domain.Attempt, assessment domain.Assessment, viewerID string, now time.Time) (AttemptView, error) {
	if attempt.CandidateID != viewerID {
		return AttemptView{}, domain.ErrForbidden
	}
	remaining := attempt.Remaining(now)
	if !attempt.InProgress() || remaining <= 0 {
		return AttemptView{}, domain.ErrNotEditable
	}
	shown, err := content(assessment, false)
	if err != nil {
		return AttemptView{}, err
	}
	answers := attempt.Answers.Clone()
	endTime := attempt.EndTime
	return AttemptView{
		Mode:          ViewEditable,
		Assessment:    shown,
		AttemptID:     attempt.ID,
		AttemptNumber: attempt.AttemptNumber,
		CandidateID:   attempt.CandidateID,
		Status:        attempt.Status,
		Answers:       &answers,
		EndTime:       &endTime,
		RemainingMs:   remaining.Milliseconds(),
		AcceptsInput:  true,
		ShowTimer:     true,
		Autosave:      true,
	}, nil
}

// FrozenView renders an attempt read-only. Quiz answers get a correctness
// overlay.
func FrozenView(attempt domain.Attempt, assessment domain.Assessment) (AttemptView, error) {
	shown, err := content(assessment, true)
	if err != nil {
		return AttemptView{}, err
	}
	answers := attempt.Answers.Clone()
	view := AttemptView{
		Mode:          ViewFrozen,
		Assessment:    shown,
		AttemptID:     attempt.ID,
		AttemptNumber: attempt.AttemptNumber,
		CandidateID:   attempt.CandidateID,
		Status:        attempt.Status,
		Answers:       &answers,
		SubmittedAt:   attempt.SubmittedAt,
		Score:         attempt.Score,
	}
	if assessment.Type == domain.TypeQuiz {
		view.MaxScore = len(assessment.QuizQuestions)
		view.Outcomes = make([]QuestionOutcome, len(assessment.QuizQuestions))
		for i, q := range assessment.QuizQuestions {
			selected := answers.Selected(i)
			view.Outcomes[i] = QuestionOutcome{
				Index:        i,
				Selected:     selected,
				CorrectIndex: q.CorrectIndex,
				Correct:      selected >= 0 && selected < len(q.Options) && selected == q.CorrectIndex,
			}
		}
	}
	return view, nil
}

// PreviewView renders assessment content with no attempt behind it.
func PreviewView(assessment domain.Assessment) (AttemptView, error) {
	shown, err := content(assessment, true)
	if err != nil {
		return AttemptView{}, err
	}
	view := AttemptView{
		Mode:       ViewFrozen,
		Assessment: shown,
	}
	if assessment.Type == domain.TypeQuiz {
		view.MaxScore = len(assessment.QuizQuestions)
	}
	return view, nil
}

var copyContent = func(to *AssessmentContent, from *domain.Assessment) error {
	return copier.CopyWithOption(to, from, copier.Option{DeepCopy: true})
}

func content(assessment domain.Assessment, withKey bool) (AssessmentContent, error) {
	var out AssessmentContent
	if err := copyContent(&out, &assessment); err != nil {
		return AssessmentContent{}, fmt.Errorf("project assessment %s: %w", assessment.ID, err)
	}
	out.TimeLimitMinutes = int(assessment.TimeLimit.Duration() / time.Minute)
	if withKey {
		for i := range out.QuizQuestions {
			idx := assessment.QuizQuestions[i].CorrectIndex
			out.QuizQuestions[i].Answer = &idx
		}
	}
	return out, nil
}
