package quiz

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/carelearn/carelearn/internal/platform/db"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

func connFor(ctx context.Context, pool *pgxpool.Pool) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return pool
}

func notFound(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

func affected(tag pgconn.CommandTag, err error) error {
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// =========== Quiz Repository ===========

type quizRepoPG struct{ pool *pgxpool.Pool }

func NewQuizRepoPG(pool *pgxpool.Pool) QuizRepository {
	return &quizRepoPG{pool: pool}
}

func (r *quizRepoPG) conn(ctx context.Context) queryable { return connFor(ctx, r.pool) }

const quizCols = `id, title, description, difficulty, kind, certification,
	time_limit_seconds, active, created_by, created_at, updated_at`

func (r *quizRepoPG) scanQuiz(row pgx.Row) (*Quiz, error) {
	var q Quiz
	err := row.Scan(&q.ID, &q.Title, &q.Description, &q.Difficulty, &q.Kind, &q.Certification,
		&q.TimeLimitSeconds, &q.Active, &q.CreatedBy, &q.CreatedAt, &q.UpdatedAt)
	if err != nil {
		return nil, notFound(err)
	}
	return &q, nil
}

func (r *quizRepoPG) Create(ctx context.Context, q *Quiz) error {
	q.ID = uuid.New()
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO quizzes (id, title, description, difficulty, kind, certification,
			time_limit_seconds, active, created_by)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		RETURNING created_at, updated_at`,
		q.ID, q.Title, q.Description, q.Difficulty, q.Kind, q.Certification,
		q.TimeLimitSeconds, q.Active, q.CreatedBy).Scan(&q.CreatedAt, &q.UpdatedAt)
}

func (r *quizRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Quiz, error) {
	return r.scanQuiz(r.conn(ctx).QueryRow(ctx, `SELECT `+quizCols+` FROM quizzes WHERE id = $1`, id))
}

func (r *quizRepoPG) Update(ctx context.Context, q *Quiz) error {
	err := r.conn(ctx).QueryRow(ctx, `
		UPDATE quizzes SET title=$2, description=$3, difficulty=$4, certification=$5,
			time_limit_seconds=$6, active=$7, updated_at=NOW()
		WHERE id = $1
		RETURNING updated_at`,
		q.ID, q.Title, q.Description, q.Difficulty, q.Certification,
		q.TimeLimitSeconds, q.Active).Scan(&q.UpdatedAt)
	return notFound(err)
}

func (r *quizRepoPG) Delete(ctx context.Context, id uuid.UUID) error {
	return affected(r.conn(ctx).Exec(ctx, `DELETE FROM quizzes WHERE id = $1`, id))
}

func (r *quizRepoPG) List(ctx context.Context, activeOnly bool, limit, offset int) ([]*Quiz, int, error) {
	where := ""
	if activeOnly {
		where = " WHERE active"
	}
	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM quizzes`+where).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+quizCols+` FROM quizzes`+where+` ORDER BY created_at DESC LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*Quiz
	for rows.Next() {
		q, err := r.scanQuiz(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, q)
	}
	return items, total, rows.Err()
}

// =========== Question Repository ===========

type questionRepoPG struct{ pool *pgxpool.Pool }

func NewQuestionRepoPG(pool *pgxpool.Pool) QuestionRepository {
	return &questionRepoPG{pool: pool}
}

func (r *questionRepoPG) conn(ctx context.Context) queryable { return connFor(ctx, r.pool) }

const questionCols = `id, quiz_id, text, category, correct_answer, options, position,
	created_at, updated_at`

func (r *questionRepoPG) scanQuestion(row pgx.Row) (*Question, error) {
	var q Question
	err := row.Scan(&q.ID, &q.QuizID, &q.Text, &q.Category, &q.CorrectAnswer, &q.Options,
		&q.Position, &q.CreatedAt, &q.UpdatedAt)
	if err != nil {
		return nil, notFound(err)
	}
	return &q, nil
}

func (r *questionRepoPG) Create(ctx context.Context, q *Question) error {
	q.ID = uuid.New()
	if q.Options == nil {
		q.Options = []Option{}
	}
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO quiz_questions (id, quiz_id, text, category, correct_answer, options, position)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
		RETURNING created_at, updated_at`,
		q.ID, q.QuizID, q.Text, q.Category, q.CorrectAnswer, q.Options, q.Position,
	).Scan(&q.CreatedAt, &q.UpdatedAt)
}

func (r *questionRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Question, error) {
	return r.scanQuestion(r.conn(ctx).QueryRow(ctx, `SELECT `+questionCols+` FROM quiz_questions WHERE id = $1`, id))
}

func (r *questionRepoPG) Update(ctx context.Context, q *Question) error {
	if q.Options == nil {
		q.Options = []Option{}
	}
	err := r.conn(ctx).QueryRow(ctx, `
		UPDATE quiz_questions SET text=$2, category=$3, correct_answer=$4, options=$5,
			position=$6, updated_at=NOW()
		WHERE id = $1
		RETURNING updated_at`,
		q.ID, q.Text, q.Category, q.CorrectAnswer, q.Options, q.Position).Scan(&q.UpdatedAt)
	return notFound(err)
}

func (r *questionRepoPG) Delete(ctx context.Context, id uuid.UUID) error {
	return affected(r.conn(ctx).Exec(ctx, `DELETE FROM quiz_questions WHERE id = $1`, id))
}

func (r *questionRepoPG) ListByQuiz(ctx context.Context, quizID uuid.UUID) ([]*Question, error) {
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+questionCols+` FROM quiz_questions
		WHERE quiz_id = $1 ORDER BY position, created_at`, quizID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*Question
	for rows.Next() {
		q, err := r.scanQuestion(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, q)
	}
	return items, rows.Err()
}

// =========== Attempt Repository ===========

type attemptRepoPG struct{ pool *pgxpool.Pool }

func NewAttemptRepoPG(pool *pgxpool.Pool) AttemptRepository {
	return &attemptRepoPG{pool: pool}
}

func (r *attemptRepoPG) conn(ctx context.Context) queryable { return connFor(ctx, r.pool) }

const attemptCols = `id, quiz_id, user_id, answers, score, correct_answers, total_questions,
	time_spent_seconds, completed_at`

func (r *attemptRepoPG) scanAttempt(row pgx.Row) (*Attempt, error) {
	var a Attempt
	err := row.Scan(&a.ID, &a.QuizID, &a.UserID, &a.Answers, &a.Score, &a.CorrectAnswers,
		&a.TotalQuestions, &a.TimeSpentSeconds, &a.CompletedAt)
	if err != nil {
		return nil, notFound(err)
	}
	return &a, nil
}

func (r *attemptRepoPG) Create(ctx context.Context, a *Attempt) error {
	a.ID = uuid.New()
	if a.Answers == nil {
		a.Answers = []Answer{}
	}
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO quiz_attempts (id, quiz_id, user_id, answers, score, correct_answers,
			total_questions, time_spent_seconds)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		RETURNING completed_at`,
		a.ID, a.QuizID, a.UserID, a.Answers, a.Score, a.CorrectAnswers,
		a.TotalQuestions, a.TimeSpentSeconds).Scan(&a.CompletedAt)
}

func (r *attemptRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Attempt, error) {
	return r.scanAttempt(r.conn(ctx).QueryRow(ctx, `SELECT `+attemptCols+` FROM quiz_attempts WHERE id = $1`, id))
}

func (r *attemptRepoPG) ListByUser(ctx context.Context, userID string, limit, offset int) ([]*Attempt, int, error) {
	return r.list(ctx, `user_id = $1`, userID, limit, offset)
}

func (r *attemptRepoPG) ListByQuiz(ctx context.Context, quizID uuid.UUID, limit, offset int) ([]*Attempt, int, error) {
	return r.list(ctx, `quiz_id = $1`, quizID, limit, offset)
}

func (r *attemptRepoPG) list(ctx context.Context, where string, arg interface{}, limit, offset int) ([]*Attempt, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM quiz_attempts WHERE `+where, arg).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+attemptCols+` FROM quiz_attempts WHERE `+where+`
		ORDER BY completed_at DESC LIMIT $2 OFFSET $3`, arg, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*Attempt
	for rows.Next() {
		a, err := r.scanAttempt(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, a)
	}
	return items, total, rows.Err()
}
