// Package sandbox seeds reproducible demo content for sandbox and demo
// tenants: a graded course quiz, a colour energy questionnaire and a cohort
// of learners who have attempted both.
package sandbox

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/carelearn/carelearn/internal/domain/quiz"
	"github.com/carelearn/carelearn/internal/platform/auth"
	"github.com/carelearn/carelearn/internal/platform/reporting"
)

// ---------------------------------------------------------------------------
// Configuration
// ---------------------------------------------------------------------------

// SeedConfig controls the volume and shape of the seeded content.
type SeedConfig struct {
	LearnerCount    int     `json:"learner_count"`
	QuestionCount   int     `json:"question_count"`
	IncludeInsight  bool    `json:"include_insight"`
	Difficulty      string  `json:"difficulty"`
	InstructorID    string  `json:"instructor_id"`
	LearnerPrefix   string  `json:"learner_prefix"`
	SkipProbability float64 `json:"skip_probability"`
	Seed            int64   `json:"seed"`
}

// DefaultSeedConfig returns a SeedConfig suitable for a demo tenant.
func DefaultSeedConfig() SeedConfig {
	return SeedConfig{
		LearnerCount:    25,
		QuestionCount:   len(standardBank),
		IncludeInsight:  true,
		Difficulty:      "intermediate",
		InstructorID:    "sandbox-instructor",
		LearnerPrefix:   "sandbox-learner",
		SkipProbability: 0.05,
	}
}

// SeedResult summarises a seeding run.
type SeedResult struct {
	StandardQuizID uuid.UUID     `json:"standard_quiz_id"`
	InsightQuizID  uuid.UUID     `json:"insight_quiz_id,omitempty"`
	Questions      int           `json:"questions"`
	Learners       int           `json:"learners"`
	Attempts       int           `json:"attempts"`
	Passed         int           `json:"passed"`
	Duration       time.Duration `json:"duration"`
}

// ---------------------------------------------------------------------------
// Question banks
// ---------------------------------------------------------------------------

type bankQuestion struct {
	category string
	text     string
	options  []string
	correct  string
}

var standardBank = []bankQuestion{
	{"Infection Control", "How long should a routine hand wash with soap take?",
		[]string{"5 seconds", "20 seconds", "2 minutes", "5 minutes"}, "B"},
	{"Infection Control", "Which item goes into a sharps container?",
		[]string{"Used gloves", "Used needles", "Paper towels", "Dressing packaging"}, "B"},
	{"Infection Control", "When should gloves be changed?",
		[]string{"Once per shift", "Between patients", "Only when torn", "At the end of the day"}, "B"},
	{"Medication Safety", "Which of these is one of the rights of medication administration?",
		[]string{"Right route", "Right ward", "Right shift", "Right colour"}, "A"},
	{"Medication Safety", "A prescription is illegible. What do you do?",
		[]string{"Give the most likely dose", "Ask a colleague to guess", "Clarify with the prescriber", "Skip the dose"}, "C"},
	{"Medication Safety", "What must be checked before giving a controlled drug?",
		[]string{"Patient identity and prescription", "Room temperature", "Visiting hours", "Menu choice"}, "A"},
	{"Patient Handling", "What is the first step before moving a patient?",
		[]string{"Lift quickly", "Assess the risk", "Call the family", "Remove the bed rails"}, "B"},
	{"Patient Handling", "Which aid reduces friction during a lateral transfer?",
		[]string{"Slide sheet", "Pillow", "Blanket", "Wheelchair"}, "A"},
	{"Documentation", "When should care be documented?",
		[]string{"At the end of the week", "As soon as possible after care", "Only if something goes wrong", "Never"}, "B"},
	{"Documentation", "How is an error in a paper record corrected?",
		[]string{"Correction fluid", "Tear out the page", "Single line, initial and date", "Write over it"}, "C"},
	{"Safeguarding", "A patient discloses abuse. What do you do?",
		[]string{"Promise to keep it secret", "Report it following policy", "Confront the suspect", "Ignore it"}, "B"},
	{"Safeguarding", "Who can raise a safeguarding concern?",
		[]string{"Only doctors", "Only managers", "Anyone", "Only the police"}, "C"},
}

type insightStatement struct {
	text    string
	options [4]string // red, yellow, green, blue
}

var insightBank = []insightStatement{
	{"In a team meeting you usually...", [4]string{"Drive to a decision", "Share lots of ideas", "Make sure everyone is heard", "Check the details"}},
	{"Under pressure you tend to...", [4]string{"Take control", "Talk it through", "Keep the peace", "Make a plan"}},
	{"Colleagues value you for...", [4]string{"Getting results", "Your enthusiasm", "Your patience", "Your accuracy"}},
	{"Your ideal handover is...", [4]string{"Short and direct", "Friendly and lively", "Calm and thorough", "Written and structured"}},
	{"When learning something new you prefer...", [4]string{"Jumping straight in", "Group discussion", "A supportive mentor", "Reading the manual first"}},
	{"You feel most frustrated by...", [4]string{"Slow progress", "Routine", "Conflict", "Sloppiness"}},
	{"On a free afternoon you would rather...", [4]string{"Compete at something", "Meet friends", "Help someone out", "Finish a project"}},
	{"Your desk is usually...", [4]string{"Cleared for action", "Colourful and busy", "Homely", "Orderly"}},
}

var insightColors = [4]reporting.Color{reporting.ColorRed, reporting.ColorYellow, reporting.ColorGreen, reporting.ColorBlue}

var optionLabels = []string{"A", "B", "C", "D"}

// ---------------------------------------------------------------------------
// DataGenerator
// ---------------------------------------------------------------------------

// DataGenerator produces deterministic quiz content and learner answers.
type DataGenerator struct {
	rng *rand.Rand
}

// NewDataGenerator returns a generator seeded for reproducibility. If seed is
// 0 a time-based seed is chosen.
func NewDataGenerator(seed int64) *DataGenerator {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &DataGenerator{rng: rand.New(rand.NewSource(seed))}
}

// StandardQuestions returns up to n questions from the course bank.
func (g *DataGenerator) StandardQuestions(quizID uuid.UUID, n int) []*quiz.Question {
	if n <= 0 || n > len(standardBank) {
		n = len(standardBank)
	}
	out := make([]*quiz.Question, 0, n)
	for i, b := range standardBank[:n] {
		q := &quiz.Question{
			QuizID:        quizID,
			Text:          b.text,
			Category:      b.category,
			CorrectAnswer: b.correct,
			Position:      i + 1,
		}
		for j, o := range b.options {
			q.Options = append(q.Options, quiz.Option{Label: optionLabels[j], Text: o})
		}
		out = append(out, q)
	}
	return out
}

// InsightQuestions returns the colour energy statements. Option order is
// shuffled per statement so the colour is not implied by the label.
func (g *DataGenerator) InsightQuestions(quizID uuid.UUID) []*quiz.Question {
	out := make([]*quiz.Question, 0, len(insightBank))
	for i, s := range insightBank {
		order := g.rng.Perm(len(insightColors))
		q := &quiz.Question{QuizID: quizID, Text: s.text, Position: i + 1}
		for j, c := range order {
			q.Options = append(q.Options, quiz.Option{
				Label: optionLabels[j],
				Text:  s.options[c],
				Color: insightColors[c],
			})
		}
		out = append(out, q)
	}
	return out
}

// Proficiency returns a learner's chance of answering correctly, between
// 0.35 and 0.95.
func (g *DataGenerator) Proficiency() float64 {
	return 0.35 + g.rng.Float64()*0.6
}

// StandardSubmission answers questions correctly with probability p and
// skips with probability skip.
func (g *DataGenerator) StandardSubmission(questions []*quiz.Question, p, skip float64) *quiz.Submission {
	sub := &quiz.Submission{TimeSpentSeconds: 60 + g.rng.Intn(20*len(questions)+1)}
	for _, q := range questions {
		if g.rng.Float64() < skip {
			continue
		}
		answer := q.CorrectAnswer
		if g.rng.Float64() >= p {
			answer = g.wrongLabel(q)
		}
		sub.Answers = append(sub.Answers, quiz.SubmittedAnswer{QuestionID: q.ID, SelectedAnswer: answer})
	}
	return sub
}

func (g *DataGenerator) wrongLabel(q *quiz.Question) string {
	var wrong []string
	for _, o := range q.Options {
		if o.Label != q.CorrectAnswer {
			wrong = append(wrong, o.Label)
		}
	}
	if len(wrong) == 0 {
		return q.CorrectAnswer
	}
	return wrong[g.rng.Intn(len(wrong))]
}

// PreferredColor picks a learner's leading colour energy.
func (g *DataGenerator) PreferredColor() reporting.Color {
	return insightColors[g.rng.Intn(len(insightColors))]
}

// InsightSubmission picks the option of the preferred colour about half the
// time and a random option otherwise.
func (g *DataGenerator) InsightSubmission(questions []*quiz.Question, preferred reporting.Color) *quiz.Submission {
	sub := &quiz.Submission{TimeSpentSeconds: 30 + g.rng.Intn(10*len(questions)+1)}
	for _, q := range questions {
		pick := q.Options[g.rng.Intn(len(q.Options))]
		if g.rng.Float64() < 0.5 {
			for _, o := range q.Options {
				if o.Color == preferred {
					pick = o
				}
			}
		}
		sub.Answers = append(sub.Answers, quiz.SubmittedAnswer{QuestionID: q.ID, SelectedAnswer: pick.Label})
	}
	return sub
}

// ---------------------------------------------------------------------------
// Seeder
// ---------------------------------------------------------------------------

// QuizService is the part of the quiz service the seeder writes through.
type QuizService interface {
	CreateQuiz(ctx context.Context, q *quiz.Quiz) error
	AddQuestion(ctx context.Context, q *quiz.Question) error
	SubmitAttempt(ctx context.Context, quizID uuid.UUID, sub *quiz.Submission) (*quiz.Attempt, error)
}

// Seeder writes generated content through the quiz service so grading,
// scoring and events behave as for real learners.
type Seeder struct {
	svc       QuizService
	generator *DataGenerator
	config    SeedConfig
	logger    zerolog.Logger
}

// NewSeeder creates a Seeder. Zero-valued config fields fall back to
// DefaultSeedConfig.
func NewSeeder(svc QuizService, config SeedConfig, logger zerolog.Logger) *Seeder {
	def := DefaultSeedConfig()
	if config.LearnerCount < 0 {
		config.LearnerCount = 0
	}
	if config.QuestionCount == 0 {
		config.QuestionCount = def.QuestionCount
	}
	if config.InstructorID == "" {
		config.InstructorID = def.InstructorID
	}
	if config.LearnerPrefix == "" {
		config.LearnerPrefix = def.LearnerPrefix
	}
	return &Seeder{
		svc:       svc,
		generator: NewDataGenerator(config.Seed),
		config:    config,
		logger:    logger.With().Str("component", "sandbox").Logger(),
	}
}

// Seed creates the quizzes and one attempt per learner on each.
func (s *Seeder) Seed(ctx context.Context) (*SeedResult, error) {
	start := time.Now()
	result := &SeedResult{}
	authorCtx := auth.WithIdentity(ctx, s.config.InstructorID, auth.RoleInstructor)

	standard := &quiz.Quiz{
		Title:       "Fundamentals of Safe Care",
		Description: "Core practice checks for new care staff.",
		Difficulty:  s.config.Difficulty,
		Kind:        quiz.KindStandard,
	}
	if err := s.svc.CreateQuiz(authorCtx, standard); err != nil {
		return nil, fmt.Errorf("create standard quiz: %w", err)
	}
	result.StandardQuizID = standard.ID
	standardQs, err := s.addQuestions(authorCtx, s.generator.StandardQuestions(standard.ID, s.config.QuestionCount))
	if err != nil {
		return nil, err
	}
	result.Questions += len(standardQs)

	var insightQs []*quiz.Question
	if s.config.IncludeInsight {
		insight := &quiz.Quiz{
			Title:       "Colour Energy Discovery",
			Description: "How you prefer to work and communicate.",
			Kind:        quiz.KindInsight,
		}
		if err := s.svc.CreateQuiz(authorCtx, insight); err != nil {
			return nil, fmt.Errorf("create insight quiz: %w", err)
		}
		result.InsightQuizID = insight.ID
		if insightQs, err = s.addQuestions(authorCtx, s.generator.InsightQuestions(insight.ID)); err != nil {
			return nil, err
		}
		result.Questions += len(insightQs)
	}

	threshold := reporting.PassThreshold(standard.Difficulty)
	for i := 1; i <= s.config.LearnerCount; i++ {
		learner := fmt.Sprintf("%s-%03d", s.config.LearnerPrefix, i)
		learnerCtx := auth.WithIdentity(ctx, learner, auth.RoleLearner)

		sub := s.generator.StandardSubmission(standardQs, s.generator.Proficiency(), s.config.SkipProbability)
		a, err := s.svc.SubmitAttempt(learnerCtx, standard.ID, sub)
		if err != nil {
			return nil, fmt.Errorf("submit attempt for %s: %w", learner, err)
		}
		result.Attempts++
		if a.Score >= threshold {
			result.Passed++
		}

		if len(insightQs) > 0 {
			sub := s.generator.InsightSubmission(insightQs, s.generator.PreferredColor())
			if _, err := s.svc.SubmitAttempt(learnerCtx, result.InsightQuizID, sub); err != nil {
				return nil, fmt.Errorf("submit insight attempt for %s: %w", learner, err)
			}
			result.Attempts++
		}
		result.Learners++
	}

	result.Duration = time.Since(start)
	s.logger.Info().
		Str("standard_quiz_id", result.StandardQuizID.String()).
		Int("learners", result.Learners).
		Int("attempts", result.Attempts).
		Int("passed", result.Passed).
		Dur("duration", result.Duration).
		Msg("sandbox seeded")
	return result, nil
}

func (s *Seeder) addQuestions(ctx context.Context, questions []*quiz.Question) ([]*quiz.Question, error) {
	for _, q := range questions {
		if err := s.svc.AddQuestion(ctx, q); err != nil {
			return nil, fmt.Errorf("add question %q: %w", q.Text, err)
		}
	}
	return questions, nil
}
