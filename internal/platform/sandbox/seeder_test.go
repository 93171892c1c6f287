package sandbox

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/carelearn/carelearn/internal/domain/quiz"
	"github.com/carelearn/carelearn/internal/platform/auth"
	"github.com/carelearn/carelearn/internal/platform/reporting"
)

type fakeQuizService struct {
	quizzes   map[uuid.UUID]*quiz.Quiz
	questions map[uuid.UUID][]*quiz.Question
	attempts  []*quiz.Attempt
	authors   []string
	learners  map[string]int
	failOn    string
}

func newFakeQuizService() *fakeQuizService {
	return &fakeQuizService{
		quizzes:   make(map[uuid.UUID]*quiz.Quiz),
		questions: make(map[uuid.UUID][]*quiz.Question),
		learners:  make(map[string]int),
	}
}

func (f *fakeQuizService) CreateQuiz(ctx context.Context, q *quiz.Quiz) error {
	if f.failOn == "quiz" {
		return errors.New("boom")
	}
	q.ID = uuid.New()
	f.quizzes[q.ID] = q
	f.authors = append(f.authors, auth.UserIDFromContext(ctx))
	return nil
}

func (f *fakeQuizService) AddQuestion(_ context.Context, q *quiz.Question) error {
	if f.failOn == "question" {
		return errors.New("boom")
	}
	q.ID = uuid.New()
	f.questions[q.QuizID] = append(f.questions[q.QuizID], q)
	return nil
}

func (f *fakeQuizService) SubmitAttempt(ctx context.Context, quizID uuid.UUID, sub *quiz.Submission) (*quiz.Attempt, error) {
	if f.failOn == "attempt" {
		return nil, errors.New("boom")
	}
	qs := f.questions[quizID]
	byID := make(map[uuid.UUID]*quiz.Question, len(qs))
	for _, q := range qs {
		byID[q.ID] = q
	}
	a := &quiz.Attempt{ID: uuid.New(), QuizID: quizID, UserID: auth.UserIDFromContext(ctx), TotalQuestions: len(qs)}
	for _, ans := range sub.Answers {
		q := byID[ans.QuestionID]
		if q == nil {
			return nil, errors.New("unknown question")
		}
		if f.quizzes[quizID].Kind == quiz.KindStandard && q.IsCorrect(ans.SelectedAnswer) {
			a.CorrectAnswers++
		}
	}
	if len(qs) > 0 {
		a.Score = a.CorrectAnswers * 100 / len(qs)
	}
	f.attempts = append(f.attempts, a)
	f.learners[a.UserID]++
	return a, nil
}

func TestDataGenerator_StandardQuestions(t *testing.T) {
	id := uuid.New()
	qs := NewDataGenerator(42).StandardQuestions(id, 0)
	if len(qs) != len(standardBank) {
		t.Fatalf("expected full bank, got %d", len(qs))
	}
	categories := map[string]bool{}
	for i, q := range qs {
		if q.QuizID != id || q.Position != i+1 {
			t.Errorf("question %d: unexpected quiz or position %+v", i, q)
		}
		if !q.IsCorrect(q.CorrectAnswer) {
			t.Errorf("question %d: correct label does not grade as correct", i)
		}
		categories[q.Category] = true
	}
	if len(categories) < 4 {
		t.Errorf("expected several categories, got %v", categories)
	}

	if got := NewDataGenerator(42).StandardQuestions(id, 3); len(got) != 3 {
		t.Errorf("expected 3 questions, got %d", len(got))
	}
}

func TestDataGenerator_InsightQuestionsCoverEveryColor(t *testing.T) {
	for _, q := range NewDataGenerator(7).InsightQuestions(uuid.New()) {
		seen := map[reporting.Color]bool{}
		for _, o := range q.Options {
			if !o.Color.Valid() {
				t.Errorf("invalid color %q", o.Color)
			}
			seen[o.Color] = true
		}
		if len(seen) != 4 {
			t.Errorf("expected all four colours on %q, got %v", q.Text, seen)
		}
	}
}

func TestDataGenerator_Reproducible(t *testing.T) {
	a := NewDataGenerator(99).InsightQuestions(uuid.Nil)
	b := NewDataGenerator(99).InsightQuestions(uuid.Nil)
	for i := range a {
		for j := range a[i].Options {
			if a[i].Options[j] != b[i].Options[j] {
				t.Fatalf("expected identical output for the same seed at %d/%d", i, j)
			}
		}
	}
}

func TestDataGenerator_StandardSubmission_Extremes(t *testing.T) {
	g := NewDataGenerator(1)
	qs := g.StandardQuestions(uuid.New(), 0)
	for _, q := range qs {
		q.ID = uuid.New()
	}

	perfect := g.StandardSubmission(qs, 1, 0)
	if len(perfect.Answers) != len(qs) {
		t.Fatalf("expected every question answered, got %d", len(perfect.Answers))
	}
	for i, a := range perfect.Answers {
		if !qs[i].IsCorrect(a.SelectedAnswer) {
			t.Errorf("expected correct answer for %d, got %q", i, a.SelectedAnswer)
		}
	}

	for i, a := range g.StandardSubmission(qs, 0, 0).Answers {
		if qs[i].IsCorrect(a.SelectedAnswer) {
			t.Errorf("expected wrong answer for %d, got %q", i, a.SelectedAnswer)
		}
	}

	if skipped := g.StandardSubmission(qs, 1, 1); len(skipped.Answers) != 0 {
		t.Errorf("expected all questions skipped, got %d", len(skipped.Answers))
	}
}

func TestSeeder_Seed(t *testing.T) {
	svc := newFakeQuizService()
	cfg := DefaultSeedConfig()
	cfg.LearnerCount = 5
	cfg.Seed = 42

	result, err := NewSeeder(svc, cfg, zerolog.Nop()).Seed(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(svc.quizzes) != 2 {
		t.Fatalf("expected 2 quizzes, got %d", len(svc.quizzes))
	}
	if svc.quizzes[result.StandardQuizID].Kind != quiz.KindStandard ||
		svc.quizzes[result.InsightQuizID].Kind != quiz.KindInsight {
		t.Error("unexpected quiz kinds")
	}
	for _, a := range svc.authors {
		if a != "sandbox-instructor" {
			t.Errorf("expected quizzes authored by the instructor, got %q", a)
		}
	}
	if result.Questions != len(standardBank)+len(insightBank) {
		t.Errorf("expected %d questions, got %d", len(standardBank)+len(insightBank), result.Questions)
	}
	if result.Learners != 5 || result.Attempts != 10 || len(svc.attempts) != 10 {
		t.Errorf("unexpected counts %+v", result)
	}
	if svc.learners["sandbox-learner-001"] != 2 || svc.learners["sandbox-learner-005"] != 2 {
		t.Errorf("expected two attempts per learner, got %v", svc.learners)
	}
	if result.Passed > result.Learners {
		t.Errorf("passed %d exceeds learners %d", result.Passed, result.Learners)
	}
}

func TestSeeder_WithoutInsight(t *testing.T) {
	svc := newFakeQuizService()
	result, err := NewSeeder(svc, SeedConfig{LearnerCount: 2, Seed: 3}, zerolog.Nop()).Seed(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.InsightQuizID != uuid.Nil || len(svc.quizzes) != 1 {
		t.Errorf("expected only the standard quiz, got %+v", result)
	}
	if result.Attempts != 2 {
		t.Errorf("expected 2 attempts, got %d", result.Attempts)
	}
	if _, ok := svc.learners["sandbox-learner-002"]; !ok {
		t.Errorf("expected default learner prefix, got %v", svc.learners)
	}
}

func TestSeeder_PropagatesErrors(t *testing.T) {
	for _, stage := range []string{"quiz", "question", "attempt"} {
		svc := newFakeQuizService()
		svc.failOn = stage
		cfg := DefaultSeedConfig()
		cfg.LearnerCount = 1
		if _, err := NewSeeder(svc, cfg, zerolog.Nop()).Seed(context.Background()); err == nil {
			t.Errorf("%s: expected error", stage)
		}
	}
}
