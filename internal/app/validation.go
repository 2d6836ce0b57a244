package app

import (
	"errors"
	"reflect"
	"strings"

	"assessment-attempt-service/internal/domain"
	"github.com/go-playground/validator/v10"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(field reflect.StructField) string {
		name := strings.SplitN(field.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// ValidateAnswers checks that answers have the shape the assessment's type
// and delivery format call for. Option indices are not range-checked and
// selections past the last question are kept; scoring only reads the
// entries that line up with a question.
func ValidateAnswers(assessment domain.Assessment, answers domain.Answers) error {
	if answers.Type != assessment.Type {
		return domain.NewValidationError("type", "expected %s answers, got %q", assessment.Type, answers.Type)
	}
	switch assessment.Type {
	case domain.TypeQuiz:
		if answers.Writing != nil || answers.Code != nil {
			return domain.NewValidationError("type", "quiz answers carry quizAnswers only")
		}
		return nil
	case domain.TypeWriting:
		if answers.Quiz != nil || answers.Code != nil {
			return domain.NewValidationError("type", "writing answers carry writing only")
		}
		if answers.Writing == nil {
			return domain.NewValidationError("writing", "required")
		}
		if err := validateText("writing", *answers.Writing); err != nil {
			return err
		}
		return checkDelivery("writing", *answers.Writing, assessment.WritingFormat != domain.WritingText && assessment.WritingFormat != "")
	case domain.TypeCode:
		if answers.Quiz != nil || answers.Writing != nil {
			return domain.NewValidationError("type", "code answers carry code only")
		}
		if answers.Code == nil {
			return domain.NewValidationError("code", "required")
		}
		if err := validateText("code", *answers.Code); err != nil {
			return err
		}
		return checkDelivery("code", *answers.Code, assessment.CodeSubmission != domain.CodeText && assessment.CodeSubmission != "")
	}
	return domain.NewValidationError("type", "unknown assessment type %q", assessment.Type)
}

func validateText(prefix string, answer domain.TextAnswer) error {
	err := validate.Struct(answer)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return err
	}
	out := &domain.ValidationError{}
	for _, fe := range fieldErrs {
		out.Fields = append(out.Fields, domain.FieldError{
			Field:   prefix + "." + fe.Field(),
			Message: "failed " + fe.Tag() + " check",
		})
	}
	return out
}

// checkDelivery rejects a text body on link-delivered answers and a link on
// text-delivered ones.
func checkDelivery(prefix string, answer domain.TextAnswer, linkDelivered bool) error {
	if linkDelivered && answer.Text != "" {
		return domain.NewValidationError(prefix+".text", "this assessment expects a link")
	}
	if !linkDelivered && answer.Link != "" {
		return domain.NewValidationError(prefix+".link", "this assessment expects a text response")
	}
	return nil
}
