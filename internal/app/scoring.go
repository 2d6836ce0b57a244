package app

import "assessment-attempt-service/internal/domain"

// ScoreQuiz awards one point per question whose selected index equals the
// correct index. Missing, -1 and out-of-range selections score zero.
func ScoreQuiz(questions []domain.QuizQuestion, selected []int) int {
	score := 0
	for i, q := range questions {
		if i >= len(selected) {
			break
		}
		s := selected[i]
		if s < 0 || s >= len(q.Options) {
			continue
		}
		if s == q.CorrectIndex {
			score++
		}
	}
	return score
}

// Score returns the stored score for a submission: a value for quizzes,
// nil for manually reviewed types.
func Score(assessment domain.Assessment, answers domain.Answers) *int {
	if assessment.Type != domain.TypeQuiz {
		return nil
	}
	score := ScoreQuiz(assessment.QuizQuestions, answers.Quiz)
	return &score
}
