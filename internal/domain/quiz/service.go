package quiz

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/carelearn/carelearn/internal/platform/auth"
	"github.com/carelearn/carelearn/internal/platform/db"
	"github.com/carelearn/carelearn/internal/platform/live"
	"github.com/carelearn/carelearn/internal/platform/notification"
	"github.com/carelearn/carelearn/internal/platform/reportcache"
	"github.com/carelearn/carelearn/internal/platform/reporting"
)

var (
	ErrForbidden    = errors.New("forbidden")
	ErrQuizInactive = errors.New("quiz is not active")
	ErrWrongKind    = errors.New("report is not available for this kind of quiz")
)

// ValidationError reports invalid input.
type ValidationError struct{ msg string }

func (e *ValidationError) Error() string { return e.msg }

func invalidf(format string, args ...interface{}) error {
	return &ValidationError{msg: fmt.Sprintf(format, args...)}
}

const notifyTimeout = 5 * time.Second

// Notifier emails learners their results.
type Notifier interface {
	NotifyQuizResult(ctx context.Context, recipient string, r notification.QuizResult) error
	NotifyInsightProfile(ctx context.Context, recipient string, r notification.InsightResult) error
}

// CardRenderer draws report cards.
type CardRenderer interface {
	RenderQuiz(w io.Writer, title string, r *reporting.QuizReport) error
	RenderInsight(w io.Writer, title string, p *reporting.InsightProfile) error
}

type Service struct {
	quizzes   QuizRepository
	questions QuestionRepository
	attempts  AttemptRepository
	logger    zerolog.Logger

	cache     reportcache.Cache
	notifier  Notifier
	publisher live.Publisher
	renderer  CardRenderer
}

func NewService(
	quizzes QuizRepository,
	questions QuestionRepository,
	attempts AttemptRepository,
	logger zerolog.Logger,
) *Service {
	return &Service{
		quizzes:   quizzes,
		questions: questions,
		attempts:  attempts,
		logger:    logger.With().Str("component", "quiz").Logger(),
		cache:     reportcache.Noop{},
	}
}

func (s *Service) WithCache(c reportcache.Cache) *Service {
	s.cache = c
	return s
}

func (s *Service) WithNotifier(n Notifier) *Service {
	s.notifier = n
	return s
}

func (s *Service) WithPublisher(p live.Publisher) *Service {
	s.publisher = p
	return s
}

func (s *Service) WithRenderer(r CardRenderer) *Service {
	s.renderer = r
	return s
}

// -- Quiz --

func (s *Service) validateQuiz(q *Quiz) error {
	q.Title = strings.TrimSpace(q.Title)
	if q.Title == "" {
		return invalidf("title is required")
	}
	q.Difficulty = normalize(q.Difficulty)
	if q.Difficulty != "" && !reporting.ValidDifficulty(q.Difficulty) {
		return invalidf("invalid difficulty: %s", q.Difficulty)
	}
	if !q.Certification.Valid() {
		return invalidf("invalid certification: %s", q.Certification)
	}
	if q.TimeLimitSeconds < 0 {
		return invalidf("time_limit_seconds must not be negative")
	}
	return nil
}

func (s *Service) CreateQuiz(ctx context.Context, q *Quiz) error {
	if q.Kind == "" {
		q.Kind = KindStandard
	}
	if !q.Kind.Valid() {
		return invalidf("invalid kind: %s", q.Kind)
	}
	if err := s.validateQuiz(q); err != nil {
		return err
	}
	if q.Kind == KindStandard && q.Certification == reporting.CertificationNone {
		q.Certification = reporting.DetectCertification(q.Title)
	}
	q.Active = true
	q.CreatedBy = auth.UserIDFromContext(ctx)
	return s.quizzes.Create(ctx, q)
}

func (s *Service) GetQuiz(ctx context.Context, id uuid.UUID) (*Quiz, error) {
	return s.quizzes.GetByID(ctx, id)
}

// UpdateQuiz replaces the editable fields of a quiz. The kind of a quiz
// cannot change once created.
func (s *Service) UpdateQuiz(ctx context.Context, q *Quiz) error {
	existing, err := s.quizzes.GetByID(ctx, q.ID)
	if err != nil {
		return err
	}
	if q.Kind != "" && q.Kind != existing.Kind {
		return invalidf("kind cannot be changed")
	}
	if err := s.validateQuiz(q); err != nil {
		return err
	}
	q.Kind = existing.Kind
	q.CreatedBy = existing.CreatedBy
	q.CreatedAt = existing.CreatedAt
	return s.quizzes.Update(ctx, q)
}

func (s *Service) DeleteQuiz(ctx context.Context, id uuid.UUID) error {
	return s.quizzes.Delete(ctx, id)
}

func (s *Service) ListQuizzes(ctx context.Context, activeOnly bool, limit, offset int) ([]*Quiz, int, error) {
	return s.quizzes.List(ctx, activeOnly, limit, offset)
}

// -- Question --

func validateQuestion(kind Kind, q *Question) error {
	q.Text = strings.TrimSpace(q.Text)
	q.Category = strings.TrimSpace(q.Category)
	if q.Text == "" {
		return invalidf("text is required")
	}
	if q.Position < 0 {
		return invalidf("position must not be negative")
	}
	labels := make(map[string]bool, len(q.Options))
	for i := range q.Options {
		o := &q.Options[i]
		o.Label = strings.TrimSpace(o.Label)
		o.Text = strings.TrimSpace(o.Text)
		if o.Label == "" {
			return invalidf("option %d: label is required", i+1)
		}
		if labels[normalize(o.Label)] {
			return invalidf("duplicate option label: %s", o.Label)
		}
		labels[normalize(o.Label)] = true
	}

	switch kind {
	case KindInsight:
		if len(q.Options) < 2 {
			return invalidf("insight questions need at least two options")
		}
		for _, o := range q.Options {
			if !o.Color.Valid() {
				return invalidf("option %s: invalid color %q", o.Label, o.Color)
			}
		}
		q.CorrectAnswer = ""
	default:
		q.CorrectAnswer = strings.TrimSpace(q.CorrectAnswer)
		if q.CorrectAnswer == "" {
			return invalidf("correct_answer is required")
		}
		if len(q.Options) > 0 && findOption(q.Options, q.CorrectAnswer) == nil {
			return invalidf("correct_answer does not match any option")
		}
		for i := range q.Options {
			q.Options[i].Color = ""
		}
	}
	return nil
}

func (s *Service) AddQuestion(ctx context.Context, q *Question) error {
	quiz, err := s.quizzes.GetByID(ctx, q.QuizID)
	if err != nil {
		return err
	}
	if err := validateQuestion(quiz.Kind, q); err != nil {
		return err
	}
	if q.Position == 0 {
		existing, err := s.questions.ListByQuiz(ctx, q.QuizID)
		if err != nil {
			return err
		}
		q.Position = len(existing) + 1
	}
	return s.questions.Create(ctx, q)
}

func (s *Service) GetQuestion(ctx context.Context, id uuid.UUID) (*Question, error) {
	return s.questions.GetByID(ctx, id)
}

func (s *Service) UpdateQuestion(ctx context.Context, q *Question) error {
	existing, err := s.questions.GetByID(ctx, q.ID)
	if err != nil {
		return err
	}
	quiz, err := s.quizzes.GetByID(ctx, existing.QuizID)
	if err != nil {
		return err
	}
	q.QuizID = existing.QuizID
	if q.Position == 0 {
		q.Position = existing.Position
	}
	if err := validateQuestion(quiz.Kind, q); err != nil {
		return err
	}
	q.CreatedAt = existing.CreatedAt
	return s.questions.Update(ctx, q)
}

func (s *Service) DeleteQuestion(ctx context.Context, id uuid.UUID) error {
	return s.questions.Delete(ctx, id)
}

func (s *Service) ListQuestions(ctx context.Context, quizID uuid.UUID) ([]*Question, error) {
	if _, err := s.quizzes.GetByID(ctx, quizID); err != nil {
		return nil, err
	}
	return s.questions.ListByQuiz(ctx, quizID)
}

// -- Attempt --

// SubmitAttempt grades a submission for the calling user and stores it.
// Standard quizzes are scored over the quiz's question count, so skipped
// questions count as wrong. Insight quizzes record the answers with a
// zero score. The owner is then notified and an attempt.completed event is
// published on the quiz topic; failures of either are logged only.
func (s *Service) SubmitAttempt(ctx context.Context, quizID uuid.UUID, sub *Submission) (*Attempt, error) {
	userID := auth.UserIDFromContext(ctx)
	if userID == "" {
		return nil, ErrForbidden
	}
	quiz, err := s.quizzes.GetByID(ctx, quizID)
	if err != nil {
		return nil, err
	}
	if !quiz.Active {
		return nil, ErrQuizInactive
	}
	if sub.TimeSpentSeconds < 0 {
		return nil, invalidf("time_spent_seconds must not be negative")
	}
	questions, err := s.questions.ListByQuiz(ctx, quizID)
	if err != nil {
		return nil, err
	}
	if len(questions) == 0 {
		return nil, invalidf("quiz has no questions")
	}

	attempt, err := grade(quiz, questions, sub)
	if err != nil {
		return nil, err
	}
	attempt.UserID = userID
	if err := s.attempts.Create(ctx, attempt); err != nil {
		return nil, err
	}

	s.logger.Info().
		Str("attempt_id", attempt.ID.String()).
		Str("quiz_id", quiz.ID.String()).
		Str("user_id", userID).
		Int("score", attempt.Score).
		Msg("attempt submitted")

	s.notifySubmitted(ctx, quiz, questions, attempt)
	s.publishSubmitted(ctx, quiz, attempt)
	return attempt, nil
}

func grade(quiz *Quiz, questions []*Question, sub *Submission) (*Attempt, error) {
	byID := make(map[uuid.UUID]*Question, len(questions))
	for _, q := range questions {
		byID[q.ID] = q
	}

	attempt := &Attempt{
		QuizID:           quiz.ID,
		Answers:          make([]Answer, 0, len(sub.Answers)),
		TotalQuestions:   len(questions),
		TimeSpentSeconds: sub.TimeSpentSeconds,
	}
	seen := make(map[uuid.UUID]bool, len(sub.Answers))
	for _, a := range sub.Answers {
		q, ok := byID[a.QuestionID]
		if !ok {
			return nil, invalidf("question %s does not belong to this quiz", a.QuestionID)
		}
		if seen[a.QuestionID] {
			return nil, invalidf("question %s answered more than once", a.QuestionID)
		}
		seen[a.QuestionID] = true

		ans := Answer{QuestionID: q.ID, SelectedAnswer: strings.TrimSpace(a.SelectedAnswer)}
		switch quiz.Kind {
		case KindInsight:
			opt := findOption(q.Options, ans.SelectedAnswer)
			if opt == nil {
				return nil, invalidf("question %s: %q matches no option", q.ID, ans.SelectedAnswer)
			}
			ans.SelectedAnswer = opt.Label
		default:
			ans.IsCorrect = q.IsCorrect(ans.SelectedAnswer)
			if ans.IsCorrect {
				attempt.CorrectAnswers++
			}
		}
		attempt.Answers = append(attempt.Answers, ans)
	}
	if quiz.Kind == KindStandard {
		attempt.Score = score(attempt.CorrectAnswers, attempt.TotalQuestions)
	}
	return attempt, nil
}

func (s *Service) notifySubmitted(ctx context.Context, quiz *Quiz, questions []*Question, a *Attempt) {
	if s.notifier == nil {
		return
	}
	recipient := auth.EmailFromContext(ctx)
	if recipient == "" {
		recipient = a.UserID
	}
	ctx, cancel := context.WithTimeout(ctx, notifyTimeout)
	defer cancel()

	var err error
	switch quiz.Kind {
	case KindInsight:
		profile := reporting.GenerateInsightDiscoveryReport(a.ToInput(), questionInputs(questions))
		err = s.notifier.NotifyInsightProfile(ctx, recipient, notification.InsightResult{
			QuizTitle:     quiz.Title,
			DominantColor: profile.DominantColor.Name,
		})
	default:
		threshold := reporting.PassThreshold(quiz.Difficulty)
		err = s.notifier.NotifyQuizResult(ctx, recipient, notification.QuizResult{
			QuizTitle:      quiz.Title,
			Score:          a.Score,
			PassThreshold:  threshold,
			Passed:         a.Score >= threshold,
			CorrectAnswers: a.CorrectAnswers,
			TotalQuestions: a.TotalQuestions,
		})
	}
	if err != nil {
		s.logger.Warn().Err(err).Str("attempt_id", a.ID.String()).Msg("attempt notification failed")
	}
}

// AttemptCompleted is the payload of an attempt.completed live event.
type AttemptCompleted struct {
	AttemptID uuid.UUID `json:"attempt_id"`
	QuizID    uuid.UUID `json:"quiz_id"`
	UserID    string    `json:"user_id"`
	Score     int       `json:"score"`
}

func (s *Service) publishSubmitted(ctx context.Context, quiz *Quiz, a *Attempt) {
	if s.publisher == nil {
		return
	}
	data, err := json.Marshal(AttemptCompleted{AttemptID: a.ID, QuizID: quiz.ID, UserID: a.UserID, Score: a.Score})
	if err != nil {
		return
	}
	err = s.publisher.Publish(ctx, live.Event{
		Type:   live.EventAttemptCompleted,
		Tenant: db.TenantFromContext(ctx),
		Topic:  live.QuizTopic(quiz.ID.String()),
		Data:   data,
	})
	if err != nil {
		s.logger.Warn().Err(err).Str("attempt_id", a.ID.String()).Msg("attempt event publish failed")
	}
}

// canView reports whether the caller may see attempts of userID.
func canView(ctx context.Context, userID string) bool {
	return auth.UserIDFromContext(ctx) == userID || auth.HasRole(ctx, auth.RoleInstructor)
}

// GetAttempt returns an attempt visible to the caller.
func (s *Service) GetAttempt(ctx context.Context, id uuid.UUID) (*Attempt, error) {
	a, err := s.attempts.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !canView(ctx, a.UserID) {
		return nil, ErrForbidden
	}
	return a, nil
}

func (s *Service) ListAttemptsByUser(ctx context.Context, userID string, limit, offset int) ([]*Attempt, int, error) {
	if !canView(ctx, userID) {
		return nil, 0, ErrForbidden
	}
	return s.attempts.ListByUser(ctx, userID, limit, offset)
}

func (s *Service) ListAttemptsByQuiz(ctx context.Context, quizID uuid.UUID, limit, offset int) ([]*Attempt, int, error) {
	return s.attempts.ListByQuiz(ctx, quizID, limit, offset)
}

// -- Reports --

func (s *Service) loadForReport(ctx context.Context, attemptID uuid.UUID) (*Attempt, *Quiz, error) {
	a, err := s.GetAttempt(ctx, attemptID)
	if err != nil {
		return nil, nil, err
	}
	q, err := s.quizzes.GetByID(ctx, a.QuizID)
	if err != nil {
		return nil, nil, fmt.Errorf("load quiz of attempt %s: %w", attemptID, err)
	}
	return a, q, nil
}

func (s *Service) reportInputs(ctx context.Context, a *Attempt) ([]reporting.QuestionInput, error) {
	questions, err := s.questions.ListByQuiz(ctx, a.QuizID)
	if err != nil {
		return nil, err
	}
	inputs := questionInputs(questions)

	known := make(map[uuid.UUID]bool, len(questions))
	for _, q := range questions {
		known[q.ID] = true
	}
	skipped := 0
	for _, ans := range a.Answers {
		if !known[ans.QuestionID] {
			skipped++
		}
	}
	if skipped > 0 {
		s.logger.Warn().
			Str("attempt_id", a.ID.String()).
			Int("skipped_answers", skipped).
			Msg("answers reference questions that no longer exist")
	}
	return inputs, nil
}

func (s *Service) cached(ctx context.Context, key string, dst interface{}) bool {
	found, err := s.cache.Get(ctx, key, dst)
	if err != nil {
		s.logger.Warn().Err(err).Str("key", key).Msg("report cache read failed")
		return false
	}
	return found
}

func (s *Service) store(ctx context.Context, key string, v interface{}) {
	if err := s.cache.Set(ctx, key, v); err != nil {
		s.logger.Warn().Err(err).Str("key", key).Msg("report cache write failed")
	}
}

func (s *Service) quizReport(ctx context.Context, a *Attempt, q *Quiz) (*reporting.QuizReport, error) {
	if q.Kind != KindStandard {
		return nil, ErrWrongKind
	}
	key := reportcache.Key(db.TenantFromContext(ctx), reportcache.KindQuiz, a.ID.String())
	var report reporting.QuizReport
	if s.cached(ctx, key, &report) {
		return &report, nil
	}

	inputs, err := s.reportInputs(ctx, a)
	if err != nil {
		return nil, err
	}
	r := reporting.GenerateQuizReport(a.ToInput(), q.ToInput(), inputs)
	s.store(ctx, key, r)
	return r, nil
}

func (s *Service) insightReport(ctx context.Context, a *Attempt, q *Quiz) (*reporting.InsightProfile, error) {
	if q.Kind != KindInsight {
		return nil, ErrWrongKind
	}
	key := reportcache.Key(db.TenantFromContext(ctx), reportcache.KindInsight, a.ID.String())
	var profile reporting.InsightProfile
	if s.cached(ctx, key, &profile) {
		return &profile, nil
	}

	inputs, err := s.reportInputs(ctx, a)
	if err != nil {
		return nil, err
	}
	p := reporting.GenerateInsightDiscoveryReport(a.ToInput(), inputs)
	s.store(ctx, key, p)
	return p, nil
}

// GetQuizReport returns the report of a standard quiz attempt.
func (s *Service) GetQuizReport(ctx context.Context, attemptID uuid.UUID) (*reporting.QuizReport, error) {
	a, q, err := s.loadForReport(ctx, attemptID)
	if err != nil {
		return nil, err
	}
	return s.quizReport(ctx, a, q)
}

// GetInsightReport returns the colour profile of an insight quiz attempt.
func (s *Service) GetInsightReport(ctx context.Context, attemptID uuid.UUID) (*reporting.InsightProfile, error) {
	a, q, err := s.loadForReport(ctx, attemptID)
	if err != nil {
		return nil, err
	}
	return s.insightReport(ctx, a, q)
}

// RenderReportCard writes the PNG card of an attempt of either kind.
func (s *Service) RenderReportCard(ctx context.Context, attemptID uuid.UUID, w io.Writer) error {
	if s.renderer == nil {
		return fmt.Errorf("report card rendering is not configured")
	}
	a, q, err := s.loadForReport(ctx, attemptID)
	if err != nil {
		return err
	}
	if q.Kind == KindInsight {
		p, err := s.insightReport(ctx, a, q)
		if err != nil {
			return err
		}
		return s.renderer.RenderInsight(w, q.Title, p)
	}
	r, err := s.quizReport(ctx, a, q)
	if err != nil {
		return err
	}
	return s.renderer.RenderQuiz(w, q.Title, r)
}
