package quiz

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

var ErrNotFound = errors.New("not found")

type QuizRepository interface {
	Create(ctx context.Context, q *Quiz) error
	GetByID(ctx context.Context, id uuid.UUID) (*Quiz, error)
	Update(ctx context.Context, q *Quiz) error
	Delete(ctx context.Context, id uuid.UUID) error
	List(ctx context.Context, activeOnly bool, limit, offset int) ([]*Quiz, int, error)
}

type QuestionRepository interface {
	Create(ctx context.Context, q *Question) error
	GetByID(ctx context.Context, id uuid.UUID) (*Question, error)
	Update(ctx context.Context, q *Question) error
	Delete(ctx context.Context, id uuid.UUID) error
	// ListByQuiz returns the questions of a quiz ordered by position.
	ListByQuiz(ctx context.Context, quizID uuid.UUID) ([]*Question, error)
}

type AttemptRepository interface {
	Create(ctx context.Context, a *Attempt) error
	GetByID(ctx context.Context, id uuid.UUID) (*Attempt, error)
	ListByUser(ctx context.Context, userID string, limit, offset int) ([]*Attempt, int, error)
	ListByQuiz(ctx context.Context, quizID uuid.UUID, limit, offset int) ([]*Attempt, int, error)
}
