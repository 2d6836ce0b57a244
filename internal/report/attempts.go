// Package report renders reviewer exports of attempt history.
package report

import (
	"fmt"
	"io"
	"time"

	"assessment-attempt-service/internal/domain"
	"github.com/xuri/excelize/v2"
)

const sheet = "Attempts"

var header = []interface{}{
	"Attempt ID", "Candidate ID", "Attempt #", "Status", "Started", "Deadline",
	"Submitted", "Submit reason", "Score", "Max score", "Duration (min)",
}

// WriteAttempts writes one row per attempt as an XLSX workbook.
func WriteAttempts(w io.Writer, assessment domain.Assessment, attempts []domain.Attempt) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName(f.GetSheetName(0), sheet); err != nil {
		return err
	}
	if err := f.SetSheetRow(sheet, "A1", &[]interface{}{assessment.Title, string(assessment.Type), assessment.ID}); err != nil {
		return err
	}
	if err := f.SetSheetRow(sheet, "A3", &header); err != nil {
		return err
	}
	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return err
	}
	if err := f.SetCellStyle(sheet, "A1", "K3", bold); err != nil {
		return err
	}

	maxScore := ""
	if assessment.Type == domain.TypeQuiz {
		maxScore = fmt.Sprint(len(assessment.QuizQuestions))
	}
	for i, a := range attempts {
		cell, err := excelize.CoordinatesToCellName(1, i+4)
		if err != nil {
			return err
		}
		row := []interface{}{
			a.ID, a.CandidateID, a.AttemptNumber, string(a.Status),
			a.StartTime.UTC().Format(time.RFC3339), a.EndTime.UTC().Format(time.RFC3339),
			formatTime(a.SubmittedAt), string(a.SubmitReason), formatScore(a.Score), maxScore,
			duration(a),
		}
		if err := f.SetSheetRow(sheet, cell, &row); err != nil {
			return err
		}
	}
	return f.Write(w)
}

func formatTime(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func formatScore(score *int) string {
	if score == nil {
		return ""
	}
	return fmt.Sprint(*score)
}

func duration(a domain.Attempt) string {
	if a.SubmittedAt == nil {
		return ""
	}
	return fmt.Sprintf("%.1f", a.SubmittedAt.Sub(a.StartTime).Minutes())
}
