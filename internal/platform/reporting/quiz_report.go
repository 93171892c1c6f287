package reporting

import (
	"math"
	"sort"
	"strings"

	"github.com/google/uuid"
)

// DefaultCategory is used for questions that carry no category label.
const DefaultCategory = "General"

const (
	weakAreaThreshold = 70 // categories strictly below this percentage are weak
	strengthThreshold = 80 // categories at or above this percentage are strengths
)

const maxWeakAreaBullets = 3

// PassStatus is the verdict of a graded attempt.
type PassStatus string

const (
	StatusPass PassStatus = "pass"
	StatusFail PassStatus = "fail"
)

// Difficulty levels recognised by the pass threshold table.
const (
	DifficultyBeginner     = "beginner"
	DifficultyIntermediate = "intermediate"
	DifficultyAdvanced     = "advanced"
	DifficultyExpert       = "expert"
)

var passThresholds = map[string]int{
	DifficultyBeginner:     60,
	DifficultyIntermediate: 70,
	DifficultyAdvanced:     75,
	DifficultyExpert:       75,
}

const defaultPassThreshold = 70

// AnswerInput is one answer of a completed attempt.
type AnswerInput struct {
	QuestionID     uuid.UUID
	SelectedAnswer string
	IsCorrect      bool
}

// AttemptInput is the read-only view of a completed attempt.
type AttemptInput struct {
	Answers          []AnswerInput
	Score            int
	CorrectAnswers   int
	TotalQuestions   int
	TimeSpentSeconds int
}

// QuizInput carries the quiz attributes the report depends on.
type QuizInput struct {
	Title         string
	Difficulty    string
	Certification Certification
}

// OptionInput is a selectable answer option. Color is only meaningful for
// insight quizzes.
type OptionInput struct {
	Label string
	Text  string
	Color Color
}

// QuestionInput is the read-only view of a quiz question.
type QuestionInput struct {
	ID            uuid.UUID
	Text          string
	Category      string
	CorrectAnswer string
	Options       []OptionInput
}

// WeakArea describes a category answered correctly less than 70% of the time.
type WeakArea struct {
	Category   string `json:"category"`
	WrongCount int    `json:"wrong_count"`
	TotalCount int    `json:"total_count"`
	Percentage int    `json:"percentage"`
}

// AnswerDetail is the per-question breakdown shown next to a report.
type AnswerDetail struct {
	QuestionID    uuid.UUID `json:"question_id"`
	QuestionText  string    `json:"question_text"`
	Category      string    `json:"category"`
	UserAnswer    string    `json:"user_answer"`
	CorrectAnswer string    `json:"correct_answer"`
	IsCorrect     bool      `json:"is_correct"`
}

// CategoryScore is the correct/total tally of one question category.
type CategoryScore struct {
	Category     string `json:"category"`
	CorrectCount int    `json:"correct_count"`
	TotalCount   int    `json:"total_count"`
}

// QuizReport is the aggregated outcome of a graded attempt.
type QuizReport struct {
	Score            int             `json:"score"`
	CorrectAnswers   int             `json:"correct_answers"`
	TotalQuestions   int             `json:"total_questions"`
	TimeSpentSeconds int             `json:"time_spent_seconds"`
	PassThreshold    int             `json:"pass_threshold"`
	PassStatus       PassStatus      `json:"pass_status"`
	Categories       []CategoryScore `json:"categories"`
	WeakAreas        []WeakArea      `json:"weak_areas"`
	Strengths        []string        `json:"strengths"`
	Recommendations  string          `json:"recommendations"`
	DetailedAnswers  []AnswerDetail  `json:"detailed_answers"`
}

// PassThreshold returns the minimum passing score for a difficulty level.
// Unknown or empty levels use the intermediate threshold.
func PassThreshold(difficulty string) int {
	if t, ok := passThresholds[strings.ToLower(strings.TrimSpace(difficulty))]; ok {
		return t
	}
	return defaultPassThreshold
}

// ValidDifficulty reports whether d is one of the known difficulty levels.
func ValidDifficulty(d string) bool {
	_, ok := passThresholds[d]
	return ok
}

// GenerateQuizReport aggregates a graded attempt into a QuizReport.
//
// Answers whose question is not among questions are skipped: they do not
// count toward any category and are left out of DetailedAnswers. An attempt
// without answers produces a zeroed report. The inputs are never modified.
func GenerateQuizReport(attempt AttemptInput, quiz QuizInput, questions []QuestionInput) *QuizReport {
	report := &QuizReport{
		Score:            attempt.Score,
		CorrectAnswers:   attempt.CorrectAnswers,
		TotalQuestions:   attempt.TotalQuestions,
		TimeSpentSeconds: attempt.TimeSpentSeconds,
		Categories:       []CategoryScore{},
		WeakAreas:        []WeakArea{},
		Strengths:        []string{},
		DetailedAnswers:  []AnswerDetail{},
	}
	if len(attempt.Answers) == 0 {
		report.Score = 0
		report.CorrectAnswers = 0
	}

	byID := make(map[uuid.UUID]*QuestionInput, len(questions))
	for i := range questions {
		byID[questions[i].ID] = &questions[i]
	}

	// Categories keep first-seen order so output never depends on map order.
	index := map[string]int{}
	for _, a := range attempt.Answers {
		q, ok := byID[a.QuestionID]
		if !ok {
			continue
		}
		cat := strings.TrimSpace(q.Category)
		if cat == "" {
			cat = DefaultCategory
		}
		i, seen := index[cat]
		if !seen {
			i = len(report.Categories)
			index[cat] = i
			report.Categories = append(report.Categories, CategoryScore{Category: cat})
		}
		report.Categories[i].TotalCount++
		if a.IsCorrect {
			report.Categories[i].CorrectCount++
		}
		report.DetailedAnswers = append(report.DetailedAnswers, AnswerDetail{
			QuestionID:    q.ID,
			QuestionText:  q.Text,
			Category:      cat,
			UserAnswer:    a.SelectedAnswer,
			CorrectAnswer: q.CorrectAnswer,
			IsCorrect:     a.IsCorrect,
		})
	}

	for _, c := range report.Categories {
		switch {
		case c.CorrectCount*100 < weakAreaThreshold*c.TotalCount:
			report.WeakAreas = append(report.WeakAreas, WeakArea{
				Category:   c.Category,
				WrongCount: c.TotalCount - c.CorrectCount,
				TotalCount: c.TotalCount,
				Percentage: percent(c.CorrectCount, c.TotalCount),
			})
		case c.CorrectCount*100 >= strengthThreshold*c.TotalCount:
			report.Strengths = append(report.Strengths, c.Category)
		}
	}
	sort.SliceStable(report.WeakAreas, func(i, j int) bool {
		a, b := report.WeakAreas[i], report.WeakAreas[j]
		// compare correct ratios exactly: (total-wrong)/total
		return (a.TotalCount-a.WrongCount)*b.TotalCount < (b.TotalCount-b.WrongCount)*a.TotalCount
	})

	report.PassThreshold = PassThreshold(quiz.Difficulty)
	report.PassStatus = StatusFail
	if report.Score >= report.PassThreshold {
		report.PassStatus = StatusPass
	}

	report.Recommendations = quizRecommendations(report.Score, report.WeakAreas, quiz.Certification)
	return report
}

// percent returns part/whole as a rounded percentage; zero when whole is zero.
func percent(part, whole int) int {
	if whole <= 0 {
		return 0
	}
	return int(math.Round(float64(part) * 100 / float64(whole)))
}
