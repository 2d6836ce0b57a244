package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"assessment-attempt-service/internal/domain"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
)

// AssessmentLoader loads assessment JSONB from Postgres.
type AssessmentLoader struct {
	pool *pgxpool.Pool
}

func NewAssessmentLoader(pool *pgxpool.Pool) *AssessmentLoader {
	return &AssessmentLoader{pool: pool}
}

func (l *AssessmentLoader) LoadAssessment(ctx context.Context, assessmentID string) (domain.Assessment, error) {
	var raw []byte
	err := l.pool.QueryRow(ctx, `SELECT data FROM assessments WHERE id=$1`, assessmentID).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Assessment{}, domain.ErrAssessmentNotFound
	}
	if err != nil {
		return domain.Assessment{}, fmt.Errorf("load assessment: %w", err)
	}
	return decodeAssessment(assessmentID, raw)
}

func (l *AssessmentLoader) LoadAssessments(ctx context.Context) ([]domain.Assessment, error) {
	rows, err := l.pool.Query(ctx, `SELECT id, data FROM assessments ORDER BY created_at DESC, id`)
	if err != nil {
		return nil, fmt.Errorf("list assessments: %w", err)
	}
	defer rows.Close()

	var out []domain.Assessment
	for rows.Next() {
		var (
			id  string
			raw []byte
		)
		if err := rows.Scan(&id, &raw); err != nil {
			return nil, fmt.Errorf("scan assessment: %w", err)
		}
		a, err := decodeAssessment(id, raw)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// SaveAssessment upserts an assessment document. Used by seeding and tests.
func (l *AssessmentLoader) SaveAssessment(ctx context.Context, a domain.Assessment) error {
	data, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("marshal assessment: %w", err)
	}
	_, err = l.pool.Exec(ctx,
		`INSERT INTO assessments (id, status, data) VALUES ($1, $2, $3::jsonb)
		 ON CONFLICT (id) DO UPDATE SET status = EXCLUDED.status, data = EXCLUDED.data`,
		a.ID, string(a.Status), string(data))
	if err != nil {
		return fmt.Errorf("save assessment: %w", err)
	}
	return nil
}

func decodeAssessment(id string, raw []byte) (domain.Assessment, error) {
	var a domain.Assessment
	if err := json.Unmarshal(raw, &a); err != nil {
		return domain.Assessment{}, fmt.Errorf("unmarshal assessment: %w", err)
	}
	if a.ID == "" {
		a.ID = id
	}
	return a, nil
}
