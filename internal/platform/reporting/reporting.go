package reporting

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"

	"github.com/carelearn/carelearn/internal/platform/auth"
	"github.com/carelearn/carelearn/internal/platform/db"
)

// MeasureDefinition defines a back-office measure with its SQL query.
// Parameters are bound positionally ($1, $2, ...) in the order listed.
type MeasureDefinition struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Description string   `json:"description"`
	SQL         string   `json:"-"`
	Parameters  []string `json:"parameters"`
}

// MeasureReport holds the results of evaluating a measure.
type MeasureReport struct {
	MeasureID   string                   `json:"measure_id"`
	MeasureName string                   `json:"measure_name"`
	GeneratedAt time.Time                `json:"generated_at"`
	Results     []map[string]interface{} `json:"results"`
	Parameters  map[string]string        `json:"parameters,omitempty"`
}

// PredefinedMeasures is the list of available back-office measures.
var PredefinedMeasures = []MeasureDefinition{
	{
		ID:          "attempt-count-by-quiz",
		Name:        "Attempt Count by Quiz",
		Description: "Number of completed attempts per quiz",
		SQL: `SELECT q.id, q.title, COUNT(a.id) AS attempts
			FROM quizzes q LEFT JOIN quiz_attempts a ON a.quiz_id = q.id
			GROUP BY q.id, q.title ORDER BY attempts DESC`,
		Parameters: []string{},
	},
	{
		ID:          "pass-rate-by-quiz",
		Name:        "Pass Rate by Quiz",
		Description: "Share of attempts at or above the difficulty pass threshold, per standard quiz",
		SQL: `SELECT q.id, q.title, q.difficulty, COUNT(a.id) AS attempts,
				COALESCE(ROUND(100.0 * SUM(CASE WHEN a.score >= CASE q.difficulty
					WHEN 'beginner' THEN 60 WHEN 'advanced' THEN 75 WHEN 'expert' THEN 75 ELSE 70 END
					THEN 1 ELSE 0 END) / NULLIF(COUNT(a.id), 0), 1), 0) AS pass_rate
			FROM quizzes q LEFT JOIN quiz_attempts a ON a.quiz_id = q.id
			WHERE q.kind = 'standard'
			GROUP BY q.id, q.title, q.difficulty ORDER BY pass_rate ASC`,
		Parameters: []string{},
	},
	{
		ID:          "average-score-by-difficulty",
		Name:        "Average Score by Difficulty",
		Description: "Mean score and mean time spent, grouped by quiz difficulty",
		SQL: `SELECT COALESCE(NULLIF(q.difficulty, ''), 'unspecified') AS difficulty,
				COUNT(a.id) AS attempts, ROUND(AVG(a.score), 1) AS average_score,
				ROUND(AVG(a.time_spent_seconds)) AS average_time_spent
			FROM quiz_attempts a JOIN quizzes q ON q.id = a.quiz_id
			WHERE q.kind = 'standard'
			GROUP BY 1 ORDER BY 1`,
		Parameters: []string{},
	},
	{
		ID:          "weakest-categories",
		Name:        "Weakest Categories",
		Description: "Question categories with the lowest share of correct answers across all attempts",
		SQL: `SELECT COALESCE(NULLIF(qq.category, ''), 'General') AS category,
				COUNT(*) AS answered,
				SUM(CASE WHEN (ans->>'is_correct')::boolean THEN 1 ELSE 0 END) AS correct
			FROM quiz_attempts a
			CROSS JOIN LATERAL jsonb_array_elements(a.answers) AS ans
			JOIN quiz_questions qq ON qq.id = (ans->>'question_id')::uuid
			GROUP BY 1
			ORDER BY SUM(CASE WHEN (ans->>'is_correct')::boolean THEN 1 ELSE 0 END)::float / COUNT(*) ASC
			LIMIT 10`,
		Parameters: []string{},
	},
	{
		ID:          "attempt-volume-since",
		Name:        "Attempt Volume Since",
		Description: "Daily attempt counts from the given date (YYYY-MM-DD)",
		SQL: `SELECT completed_at::date AS day, COUNT(*) AS attempts
			FROM quiz_attempts WHERE completed_at >= $1::date
			GROUP BY 1 ORDER BY 1`,
		Parameters: []string{"since"},
	},
}

type queryer interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
}

// Handler provides HTTP handlers for the measures API.
type Handler struct {
	pool *pgxpool.Pool
}

// NewHandler creates a new reporting handler.
func NewHandler(pool *pgxpool.Pool) *Handler {
	return &Handler{pool: pool}
}

// RegisterRoutes registers the measures API routes.
func (h *Handler) RegisterRoutes(api *echo.Group) {
	reportGroup := api.Group("/reports", auth.RequireRole("admin", "instructor"))
	reportGroup.GET("/measures", h.ListMeasures)
	reportGroup.GET("/measures/:id/evaluate", h.EvaluateMeasure)
}

// ListMeasures returns all available measure definitions.
func (h *Handler) ListMeasures(c echo.Context) error {
	return c.JSON(http.StatusOK, PredefinedMeasures)
}

// EvaluateMeasure executes a measure's SQL and returns the results.
func (h *Handler) EvaluateMeasure(c echo.Context) error {
	measure := FindMeasure(c.Param("id"))
	if measure == nil {
		return echo.NewHTTPError(http.StatusNotFound, "measure not found")
	}

	params, args, err := bindParameters(measure, c.QueryParam)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	ctx := c.Request().Context()
	results, err := executeSQL(ctx, h.conn(ctx), measure.SQL, args...)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, fmt.Sprintf("query failed: %v", err))
	}

	return c.JSON(http.StatusOK, MeasureReport{
		MeasureID:   measure.ID,
		MeasureName: measure.Name,
		GeneratedAt: time.Now().UTC(),
		Results:     results,
		Parameters:  params,
	})
}

func (h *Handler) conn(ctx context.Context) queryer {
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return h.pool
}

// bindParameters collects a measure's parameters from lookup in declaration
// order. Every declared parameter is required.
func bindParameters(m *MeasureDefinition, lookup func(string) string) (map[string]string, []interface{}, error) {
	params := make(map[string]string, len(m.Parameters))
	args := make([]interface{}, 0, len(m.Parameters))
	for _, p := range m.Parameters {
		v := lookup(p)
		if v == "" {
			return nil, nil, fmt.Errorf("missing parameter %q", p)
		}
		params[p] = v
		args = append(args, v)
	}
	return params, args, nil
}

// executeSQL runs a query and returns each row as a column-name keyed map.
func executeSQL(ctx context.Context, q queryer, sql string, args ...interface{}) ([]map[string]interface{}, error) {
	rows, err := q.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	fieldDescs := rows.FieldDescriptions()
	results := []map[string]interface{}{}
	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return nil, err
		}
		row := make(map[string]interface{}, len(fieldDescs))
		for i, fd := range fieldDescs {
			row[fd.Name] = values[i]
		}
		results = append(results, row)
	}
	return results, rows.Err()
}

// FindMeasure looks up a measure by ID.
func FindMeasure(id string) *MeasureDefinition {
	for i := range PredefinedMeasures {
		if PredefinedMeasures[i].ID == id {
			return &PredefinedMeasures[i]
		}
	}
	return nil
}
