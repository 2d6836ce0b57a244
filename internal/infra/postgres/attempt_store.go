package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"assessment-attempt-service/internal/app"
	"assessment-attempt-service/internal/domain"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/driver/pgdriver"
)

type attemptRow struct {
	bun.BaseModel `bun:"table:attempts,alias:a"`

	ID            string         `bun:"id,pk"`
	AssessmentID  string         `bun:"assessment_id,notnull"`
	CandidateID   string         `bun:"candidate_id,notnull"`
	AttemptNumber int            `bun:"attempt_number,notnull"`
	Status        string         `bun:"status,notnull"`
	StartTime     time.Time      `bun:"start_time,notnull"`
	EndTime       time.Time      `bun:"end_time,notnull"`
	SubmittedAt   *time.Time     `bun:"submitted_at"`
	SubmitReason  string         `bun:"submit_reason,nullzero"`
	Answers       domain.Answers `bun:"answers,type:jsonb,notnull"`
	Score         *int           `bun:"score"`
	UpdatedAt     time.Time      `bun:"updated_at,notnull"`
}

func toRow(a domain.Attempt) *attemptRow {
	return &attemptRow{
		ID:            a.ID,
		AssessmentID:  a.AssessmentID,
		CandidateID:   a.CandidateID,
		AttemptNumber: a.AttemptNumber,
		Status:        string(a.Status),
		StartTime:     a.StartTime,
		EndTime:       a.EndTime,
		SubmittedAt:   a.SubmittedAt,
		SubmitReason:  string(a.SubmitReason),
		Answers:       a.Answers,
		Score:         a.Score,
		UpdatedAt:     a.UpdatedAt,
	}
}

func (r *attemptRow) toDomain() domain.Attempt {
	return domain.Attempt{
		ID:            r.ID,
		AssessmentID:  r.AssessmentID,
		CandidateID:   r.CandidateID,
		AttemptNumber: r.AttemptNumber,
		Status:        domain.AttemptStatus(r.Status),
		StartTime:     r.StartTime.UTC(),
		EndTime:       r.EndTime.UTC(),
		SubmittedAt:   utcPtr(r.SubmittedAt),
		SubmitReason:  domain.SubmitReason(r.SubmitReason),
		Answers:       r.Answers,
		Score:         r.Score,
		UpdatedAt:     r.UpdatedAt.UTC(),
	}
}

// AttemptStore persists attempts with bun. Create takes a transaction-scoped
// advisory lock on the (assessment, candidate) pair; Finalize locks the row
// with SELECT ... FOR UPDATE.
type AttemptStore struct {
	db *bun.DB
}

func NewAttemptStore(db *bun.DB) *AttemptStore {
	return &AttemptStore{db: db}
}

func (s *AttemptStore) Create(ctx context.Context, attempt domain.Attempt, maxAttempts int) (domain.Attempt, error) {
	err := s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if _, err := tx.ExecContext(ctx, "SELECT pg_advisory_xact_lock(hashtext(?))",
			attempt.AssessmentID+":"+attempt.CandidateID); err != nil {
			return fmt.Errorf("lock attempt slot: %w", err)
		}

		inProgress, err := tx.NewSelect().Model((*attemptRow)(nil)).
			Where("assessment_id = ?", attempt.AssessmentID).
			Where("candidate_id = ?", attempt.CandidateID).
			Where("status = ?", string(domain.StatusInProgress)).
			Exists(ctx)
		if err != nil {
			return fmt.Errorf("check in-progress attempt: %w", err)
		}
		if inProgress {
			return domain.ErrAttemptInProgress
		}

		count, err := tx.NewSelect().Model((*attemptRow)(nil)).
			Where("assessment_id = ?", attempt.AssessmentID).
			Where("candidate_id = ?", attempt.CandidateID).
			Count(ctx)
		if err != nil {
			return fmt.Errorf("count attempts: %w", err)
		}
		if count >= maxAttempts {
			return domain.ErrAttemptLimitExceeded
		}

		attempt.AttemptNumber = count + 1
		if _, err := tx.NewInsert().Model(toRow(attempt)).Exec(ctx); err != nil {
			if isUniqueViolation(err) {
				return domain.ErrAttemptInProgress
			}
			return fmt.Errorf("insert attempt: %w", err)
		}
		return nil
	})
	if err != nil {
		return domain.Attempt{}, err
	}
	return attempt, nil
}

func (s *AttemptStore) Get(ctx context.Context, attemptID string) (domain.Attempt, error) {
	row := new(attemptRow)
	err := s.db.NewSelect().Model(row).Where("id = ?", attemptID).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Attempt{}, domain.ErrAttemptNotFound
	}
	if err != nil {
		return domain.Attempt{}, fmt.Errorf("get attempt: %w", err)
	}
	return row.toDomain(), nil
}

func (s *AttemptStore) FindInProgress(ctx context.Context, assessmentID, candidateID string) (domain.Attempt, error) {
	row := new(attemptRow)
	err := s.db.NewSelect().Model(row).
		Where("assessment_id = ?", assessmentID).
		Where("candidate_id = ?", candidateID).
		Where("status = ?", string(domain.StatusInProgress)).
		Limit(1).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Attempt{}, domain.ErrAttemptNotFound
	}
	if err != nil {
		return domain.Attempt{}, fmt.Errorf("find in-progress attempt: %w", err)
	}
	return row.toDomain(), nil
}

func (s *AttemptStore) ListByCandidate(ctx context.Context, candidateID string) ([]domain.Attempt, error) {
	return s.list(ctx, func(q *bun.SelectQuery) *bun.SelectQuery {
		return q.Where("candidate_id = ?", candidateID)
	})
}

func (s *AttemptStore) ListByAssessment(ctx context.Context, assessmentID string) ([]domain.Attempt, error) {
	return s.list(ctx, func(q *bun.SelectQuery) *bun.SelectQuery {
		return q.Where("assessment_id = ?", assessmentID)
	})
}

func (s *AttemptStore) ListExpired(ctx context.Context, now time.Time, limit int) ([]domain.Attempt, error) {
	return s.list(ctx, func(q *bun.SelectQuery) *bun.SelectQuery {
		q = q.Where("status = ?", string(domain.StatusInProgress)).Where("end_time < ?", now)
		if limit > 0 {
			q = q.Limit(limit)
		}
		return q
	})
}

func (s *AttemptStore) UpdateAnswers(ctx context.Context, attemptID string, answers domain.Answers, at time.Time) (domain.Attempt, error) {
	row := &attemptRow{ID: attemptID, Answers: answers, UpdatedAt: at}
	res, err := s.db.NewUpdate().Model(row).
		Column("answers", "updated_at").
		Where("id = ?", attemptID).
		Where("status = ?", string(domain.StatusInProgress)).
		Returning("*").
		Exec(ctx)
	switch {
	case errors.Is(err, sql.ErrNoRows):
	case err != nil:
		return domain.Attempt{}, fmt.Errorf("update answers: %w", err)
	default:
		if n, _ := res.RowsAffected(); n == 1 {
			return row.toDomain(), nil
		}
	}
	current, err := s.Get(ctx, attemptID)
	if err != nil {
		return domain.Attempt{}, err
	}
	return current, domain.ErrAlreadySubmitted
}

func (s *AttemptStore) Finalize(ctx context.Context, attemptID string, fn app.FinalizeFunc) (domain.Attempt, bool, error) {
	var (
		final   domain.Attempt
		applied bool
	)
	err := s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		row := new(attemptRow)
		err := tx.NewSelect().Model(row).Where("id = ?", attemptID).For("UPDATE").Scan(ctx)
		if errors.Is(err, sql.ErrNoRows) {
			return domain.ErrAttemptNotFound
		}
		if err != nil {
			return fmt.Errorf("lock attempt: %w", err)
		}
		current := row.toDomain()
		if !current.InProgress() {
			final = current
			return nil
		}

		final = fn(current)
		if _, err := tx.NewUpdate().Model(toRow(final)).WherePK().Exec(ctx); err != nil {
			return fmt.Errorf("finalize attempt: %w", err)
		}
		applied = true
		return nil
	})
	if err != nil {
		return domain.Attempt{}, false, err
	}
	return final, applied, nil
}

func (s *AttemptStore) list(ctx context.Context, filter func(*bun.SelectQuery) *bun.SelectQuery) ([]domain.Attempt, error) {
	var rows []attemptRow
	q := filter(s.db.NewSelect().Model(&rows)).Order("start_time ASC", "id ASC")
	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("list attempts: %w", err)
	}
	out := make([]domain.Attempt, 0, len(rows))
	for i := range rows {
		out = append(out, rows[i].toDomain())
	}
	return out, nil
}

func isUniqueViolation(err error) bool {
	var pgErr pgdriver.Error
	return errors.As(err, &pgErr) && pgErr.Field('C') == "23505"
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}
