package quiz

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/carelearn/carelearn/internal/platform/reporting"
)

// Kind distinguishes graded quizzes from colour energy questionnaires.
type Kind string

const (
	KindStandard Kind = "standard"
	KindInsight  Kind = "insight"
)

func (k Kind) Valid() bool {
	return k == KindStandard || k == KindInsight
}

// Quiz is a set of questions a learner attempts in one sitting.
type Quiz struct {
	ID               uuid.UUID               `db:"id" json:"id"`
	Title            string                  `db:"title" json:"title"`
	Description      string                  `db:"description" json:"description"`
	Difficulty       string                  `db:"difficulty" json:"difficulty"`
	Kind             Kind                    `db:"kind" json:"kind"`
	Certification    reporting.Certification `db:"certification" json:"certification"`
	TimeLimitSeconds int                     `db:"time_limit_seconds" json:"time_limit_seconds"`
	Active           bool                    `db:"active" json:"active"`
	CreatedBy        string                  `db:"created_by" json:"created_by"`
	CreatedAt        time.Time               `db:"created_at" json:"created_at"`
	UpdatedAt        time.Time               `db:"updated_at" json:"updated_at"`
}

// Option is a selectable answer. Color is set on insight quiz options only.
type Option struct {
	Label string          `json:"label"`
	Text  string          `json:"text"`
	Color reporting.Color `json:"color,omitempty"`
}

// Question is a single quiz question.
type Question struct {
	ID            uuid.UUID `db:"id" json:"id"`
	QuizID        uuid.UUID `db:"quiz_id" json:"quiz_id"`
	Text          string    `db:"text" json:"text"`
	Category      string    `db:"category" json:"category"`
	CorrectAnswer string    `db:"correct_answer" json:"correct_answer,omitempty"`
	Options       []Option  `db:"options" json:"options"`
	Position      int       `db:"position" json:"position"`
	CreatedAt     time.Time `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time `db:"updated_at" json:"updated_at"`
}

// Answer is one graded answer of an attempt.
type Answer struct {
	QuestionID     uuid.UUID `json:"question_id"`
	SelectedAnswer string    `json:"selected_answer"`
	IsCorrect      bool      `json:"is_correct"`
}

// Attempt is a completed quiz sitting. It is immutable once stored.
type Attempt struct {
	ID               uuid.UUID `db:"id" json:"id"`
	QuizID           uuid.UUID `db:"quiz_id" json:"quiz_id"`
	UserID           string    `db:"user_id" json:"user_id"`
	Answers          []Answer  `db:"answers" json:"answers"`
	Score            int       `db:"score" json:"score"`
	CorrectAnswers   int       `db:"correct_answers" json:"correct_answers"`
	TotalQuestions   int       `db:"total_questions" json:"total_questions"`
	TimeSpentSeconds int       `db:"time_spent_seconds" json:"time_spent_seconds"`
	CompletedAt      time.Time `db:"completed_at" json:"completed_at"`
}

// SubmittedAnswer is an ungraded answer as sent by the learner.
type SubmittedAnswer struct {
	QuestionID     uuid.UUID `json:"question_id"`
	SelectedAnswer string    `json:"selected_answer"`
}

// Submission is the request body of an attempt submission.
type Submission struct {
	Answers          []SubmittedAnswer `json:"answers"`
	TimeSpentSeconds int               `json:"time_spent_seconds"`
}

// ToInput converts the quiz to the aggregator's view of it.
func (q *Quiz) ToInput() reporting.QuizInput {
	return reporting.QuizInput{
		Title:         q.Title,
		Difficulty:    q.Difficulty,
		Certification: q.Certification,
	}
}

// ToInput converts the question to the aggregator's view of it.
func (q *Question) ToInput() reporting.QuestionInput {
	opts := make([]reporting.OptionInput, len(q.Options))
	for i, o := range q.Options {
		opts[i] = reporting.OptionInput{Label: o.Label, Text: o.Text, Color: o.Color}
	}
	return reporting.QuestionInput{
		ID:            q.ID,
		Text:          q.Text,
		Category:      q.Category,
		CorrectAnswer: q.CorrectAnswer,
		Options:       opts,
	}
}

// ToInput converts the attempt to the aggregator's view of it.
func (a *Attempt) ToInput() reporting.AttemptInput {
	answers := make([]reporting.AnswerInput, len(a.Answers))
	for i, ans := range a.Answers {
		answers[i] = reporting.AnswerInput{
			QuestionID:     ans.QuestionID,
			SelectedAnswer: ans.SelectedAnswer,
			IsCorrect:      ans.IsCorrect,
		}
	}
	return reporting.AttemptInput{
		Answers:          answers,
		Score:            a.Score,
		CorrectAnswers:   a.CorrectAnswers,
		TotalQuestions:   a.TotalQuestions,
		TimeSpentSeconds: a.TimeSpentSeconds,
	}
}

func questionInputs(questions []*Question) []reporting.QuestionInput {
	out := make([]reporting.QuestionInput, len(questions))
	for i, q := range questions {
		out[i] = q.ToInput()
	}
	return out
}

// findOption returns the option whose label, or failing that whose text,
// equals s ignoring case and surrounding space.
func findOption(options []Option, s string) *Option {
	s = normalize(s)
	if s == "" {
		return nil
	}
	for i := range options {
		if normalize(options[i].Label) == s {
			return &options[i]
		}
	}
	for i := range options {
		if normalize(options[i].Text) == s {
			return &options[i]
		}
	}
	return nil
}

// IsCorrect grades selected against the question's correct answer. The
// correct answer may name an option by label or by text and the learner
// may answer with either.
func (q *Question) IsCorrect(selected string) bool {
	want := normalize(q.CorrectAnswer)
	if want == "" || normalize(selected) == "" {
		return false
	}
	if normalize(selected) == want {
		return true
	}
	chosen := findOption(q.Options, selected)
	correct := findOption(q.Options, q.CorrectAnswer)
	return chosen != nil && chosen == correct
}

// score returns correct/total as a rounded percentage.
func score(correct, total int) int {
	if total <= 0 {
		return 0
	}
	return (correct*200 + total) / (2 * total)
}

func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
