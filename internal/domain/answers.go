package domain

// TextAnswer carries a free-text response or a link, depending on the
// assessment's configured format.
type TextAnswer struct {
	Text string `json:"text,omitempty" validate:"max=100000"`
	Link string `json:"link,omitempty" validate:"omitempty,url,max=2048"`
}

// Answers is the answer payload tagged by assessment type. Only the field
// matching Type may be set.
type Answers struct {
	Type    AssessmentType `json:"type"`
	Quiz    []int          `json:"quizAnswers,omitempty"`
	Writing *TextAnswer    `json:"writing,omitempty"`
	Code    *TextAnswer    `json:"code,omitempty"`
}

// Unanswered marks a quiz question with no selection.
const Unanswered = -1

// NewQuizAnswers builds a quiz payload from selected option indices.
func NewQuizAnswers(selected ...int) Answers {
	return Answers{Type: TypeQuiz, Quiz: append([]int{}, selected...)}
}

func NewWritingAnswers(text, link string) Answers {
	return Answers{Type: TypeWriting, Writing: &TextAnswer{Text: text, Link: link}}
}

func NewCodeAnswers(text, link string) Answers {
	return Answers{Type: TypeCode, Code: &TextAnswer{Text: text, Link: link}}
}

// EmptyAnswers is the payload a fresh attempt starts with.
func EmptyAnswers(a Assessment) Answers {
	switch a.Type {
	case TypeQuiz:
		selected := make([]int, len(a.QuizQuestions))
		for i := range selected {
			selected[i] = Unanswered
		}
		return Answers{Type: TypeQuiz, Quiz: selected}
	case TypeWriting:
		return Answers{Type: TypeWriting, Writing: &TextAnswer{}}
	default:
		return Answers{Type: TypeCode, Code: &TextAnswer{}}
	}
}

// Selected returns the option chosen for question i, or Unanswered.
func (a Answers) Selected(i int) int {
	if i < 0 || i >= len(a.Quiz) {
		return Unanswered
	}
	return a.Quiz[i]
}

// Clone returns a copy that shares no memory with a.
func (a Answers) Clone() Answers {
	out := Answers{Type: a.Type}
	if a.Quiz != nil {
		out.Quiz = append([]int{}, a.Quiz...)
	}
	if a.Writing != nil {
		w := *a.Writing
		out.Writing = &w
	}
	if a.Code != nil {
		c := *a.Code
		out.Code = &c
	}
	return out
}
