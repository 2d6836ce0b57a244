package domain

import "time"

// AssessmentType tags both the assessment content and the answer payload.
type AssessmentType string

const (
	TypeQuiz    AssessmentType = "quiz"
	TypeWriting AssessmentType = "writing"
	TypeCode    AssessmentType = "code"
)

// Valid reports whether t is one of the known assessment types.
func (t AssessmentType) Valid() bool {
	switch t {
	case TypeQuiz, TypeWriting, TypeCode:
		return true
	}
	return false
}

type AssessmentStatus string

const (
	AssessmentActive   AssessmentStatus = "active"
	AssessmentInactive AssessmentStatus = "inactive"
)

// WritingFormat selects how a writing response is delivered.
type WritingFormat string

const (
	WritingText WritingFormat = "text"
	WritingLink WritingFormat = "link"
	WritingFile WritingFormat = "file"
)

// CodeSubmission selects how a code solution is delivered.
type CodeSubmission string

const (
	CodeText CodeSubmission = "text"
	CodeRepo CodeSubmission = "repo"
	CodeFile CodeSubmission = "file"
)

// QuizQuestion is a single-choice question. CorrectIndex points into Options.
type QuizQuestion struct {
	Question     string   `json:"question"`
	Options      []string `json:"options"`
	CorrectIndex int      `json:"correctIndex"`
}

// Assessment is read from the catalog and never mutated by attempts.
type Assessment struct {
	ID          string           `json:"id"`
	Title       string           `json:"title"`
	Description string           `json:"description,omitempty"`
	Type        AssessmentType   `json:"type"`
	Difficulty  string           `json:"difficulty,omitempty"`
	Skills      []string         `json:"skills,omitempty"`
	TimeLimit   TimeLimit        `json:"timeLimit"`
	MaxAttempts int              `json:"maxAttempts"`
	Status      AssessmentStatus `json:"status"`
	Deadline    *time.Time       `json:"deadline,omitempty"`

	QuizQuestions []QuizQuestion `json:"quizQuestions,omitempty"`

	WritingTask         string        `json:"writingTask,omitempty"`
	WritingInstructions string        `json:"writingInstructions,omitempty"`
	WritingFormat       WritingFormat `json:"writingFormat,omitempty"`

	CodeProblem    string         `json:"codeProblem,omitempty"`
	CodeLanguages  []string       `json:"codeLanguages,omitempty"`
	CodeSubmission CodeSubmission `json:"codeSubmission,omitempty"`
	CodeEvaluation string         `json:"codeEvaluation,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
}

// Open reports whether new attempts may be started at now.
func (a Assessment) Open(now time.Time) bool {
	if a.Status != "" && a.Status != AssessmentActive {
		return false
	}
	return a.Deadline == nil || !now.After(*a.Deadline)
}

// AttemptLimit returns MaxAttempts, treating unset as one.
func (a Assessment) AttemptLimit() int {
	if a.MaxAttempts <= 0 {
		return 1
	}
	return a.MaxAttempts
}

type AttemptStatus string

const (
	StatusInProgress AttemptStatus = "in_progress"
	StatusSubmitted  AttemptStatus = "submitted"
)

// SubmitReason records which path finalized an attempt.
type SubmitReason string

const (
	ReasonExplicit SubmitReason = "explicit"
	ReasonDeadline SubmitReason = "deadline"
	ReasonUnload   SubmitReason = "unload"
	ReasonExpired  SubmitReason = "expired"
)

// Valid reports whether r is a reason a client may send.
func (r SubmitReason) Valid() bool {
	switch r {
	case ReasonExplicit, ReasonDeadline, ReasonUnload:
		return true
	}
	return false
}

// Attempt is one timed try of a candidate at an assessment.
type Attempt struct {
	ID            string        `json:"id"`
	AssessmentID  string        `json:"assessmentId"`
	CandidateID   string        `json:"candidateId"`
	AttemptNumber int           `json:"attemptNumber"`
	Status        AttemptStatus `json:"status"`
	StartTime     time.Time     `json:"startTime"`
	EndTime       time.Time     `json:"endTime"`
	SubmittedAt   *time.Time    `json:"submittedAt,omitempty"`
	SubmitReason  SubmitReason  `json:"submitReason,omitempty"`
	Answers       Answers       `json:"answers"`
	Score         *int          `json:"score"`
	UpdatedAt     time.Time     `json:"updatedAt"`
}

// InProgress reports whether the attempt still accepts answers.
func (a Attempt) InProgress() bool {
	return a.Status == StatusInProgress
}

// Expired reports whether an in-progress attempt is past its deadline.
func (a Attempt) Expired(now time.Time) bool {
	return a.InProgress() && now.After(a.EndTime)
}

// Remaining is the time left until EndTime, never negative.
func (a Attempt) Remaining(now time.Time) time.Duration {
	if !a.InProgress() {
		return 0
	}
	if d := a.EndTime.Sub(now); d > 0 {
		return d
	}
	return 0
}

// AttemptRef addresses an attempt under its assessment. An empty
// AssessmentID skips the parent check.
type AttemptRef struct {
	AssessmentID string
	AttemptID    string
}

// Role of an authenticated caller.
type Role string

const (
	RoleCandidate Role = "candidate"
	RoleRecruiter Role = "recruiter"
	RoleAdmin     Role = "admin"
)

// Identity is the verified caller attached to every request.
type Identity struct {
	UserID string
	Role   Role
}

// Reviewer reports whether the identity may see assessment content and
// other candidates' attempts read-only.
func (i Identity) Reviewer() bool {
	return i.Role == RoleRecruiter || i.Role == RoleAdmin
}

type AvailabilityStatus string

const (
	AvailabilityNotStarted AvailabilityStatus = "not_started"
	AvailabilityInProgress AvailabilityStatus = "in_progress"
	AvailabilitySubmitted  AvailabilityStatus = "submitted"
)

// AvailableAssessment is the per-candidate listing row.
type AvailableAssessment struct {
	AssessmentID             string             `json:"assessmentId"`
	Title                    string             `json:"title"`
	Type                     AssessmentType     `json:"type"`
	Difficulty               string             `json:"difficulty,omitempty"`
	TimeLimitMinutes         int                `json:"timeLimitMinutes"`
	Deadline                 *time.Time         `json:"deadline,omitempty"`
	Status                   AvailabilityStatus `json:"status"`
	MaxAttempts              int                `json:"maxAttempts"`
	AttemptsUsed             int                `json:"attemptsUsed"`
	AttemptsLeft             int                `json:"attemptsLeft"`
	LatestScore              *int               `json:"latestScore"`
	QuizTotal                int                `json:"quizTotal,omitempty"`
	ActiveAttemptID          string             `json:"activeAttemptId,omitempty"`
	LatestSubmittedAttemptID string             `json:"latestSubmittedAttemptId,omitempty"`
	RemainingMs              int64              `json:"remainingMs,omitempty"`
}

// GateDecision is the answer given to the job application flow.
type GateDecision string

const (
	GateAllowed GateDecision = "allowed"
	GateBlocked GateDecision = "blocked"
)

// AttemptEvent is published on lifecycle transitions.
type AttemptEvent struct {
	Name          string        `json:"name"`
	AttemptID     string        `json:"attemptId"`
	AssessmentID  string        `json:"assessmentId"`
	CandidateID   string        `json:"candidateId"`
	AttemptNumber int           `json:"attemptNumber"`
	Status        AttemptStatus `json:"status"`
	Reason        SubmitReason  `json:"reason,omitempty"`
	Score         *int          `json:"score,omitempty"`
	OccurredAt    time.Time     `json:"occurredAt"`
}

const (
	EventAttemptStarted   = "attempt.started"
	EventAttemptSubmitted = "attempt.submitted"
)
