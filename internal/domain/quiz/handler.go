package quiz

import (
	"bytes"
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/carelearn/carelearn/internal/platform/auth"
	"github.com/carelearn/carelearn/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	// Authoring endpoints – admin, instructor
	authorGroup := api.Group("", auth.RequireRole(auth.RoleAdmin, auth.RoleInstructor))
	authorGroup.POST("/quizzes", h.CreateQuiz)
	authorGroup.PUT("/quizzes/:id", h.UpdateQuiz)
	authorGroup.DELETE("/quizzes/:id", h.DeleteQuiz)
	authorGroup.POST("/quizzes/:id/questions", h.AddQuestion)
	authorGroup.PUT("/questions/:id", h.UpdateQuestion)
	authorGroup.DELETE("/questions/:id", h.DeleteQuestion)
	authorGroup.GET("/quizzes/:id/attempts", h.ListAttemptsByQuiz)

	// Learner endpoints – learner, instructor, admin
	learnerGroup := api.Group("", auth.RequireRole(auth.RoleLearner, auth.RoleInstructor, auth.RoleAdmin))
	learnerGroup.GET("/quizzes", h.ListQuizzes)
	learnerGroup.GET("/quizzes/:id", h.GetQuiz)
	learnerGroup.GET("/quizzes/:id/questions", h.ListQuestions)
	learnerGroup.POST("/quizzes/:id/attempts", h.SubmitAttempt)
	learnerGroup.GET("/attempts/:id", h.GetAttempt)
	learnerGroup.GET("/attempts/:id/report", h.GetQuizReport)
	learnerGroup.GET("/attempts/:id/insight", h.GetInsightReport)
	learnerGroup.GET("/attempts/:id/report-card.png", h.GetReportCard)
	learnerGroup.GET("/users/:id/attempts", h.ListAttemptsByUser)
}

// httpError maps service errors to HTTP errors.
func httpError(err error, notFoundMsg string) error {
	var verr *ValidationError
	switch {
	case errors.As(err, &verr):
		return echo.NewHTTPError(http.StatusBadRequest, verr.Error())
	case errors.Is(err, ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, notFoundMsg)
	case errors.Is(err, ErrForbidden):
		return echo.NewHTTPError(http.StatusForbidden, "access denied")
	case errors.Is(err, ErrQuizInactive), errors.Is(err, ErrWrongKind):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
}

func paramID(c echo.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	return id, nil
}

// -- Quiz Handlers --

func (h *Handler) CreateQuiz(c echo.Context) error {
	var q Quiz
	if err := c.Bind(&q); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := h.svc.CreateQuiz(c.Request().Context(), &q); err != nil {
		return httpError(err, "quiz not found")
	}
	return c.JSON(http.StatusCreated, q)
}

func (h *Handler) GetQuiz(c echo.Context) error {
	id, err := paramID(c)
	if err != nil {
		return err
	}
	q, err := h.svc.GetQuiz(c.Request().Context(), id)
	if err != nil {
		return httpError(err, "quiz not found")
	}
	if !q.Active && !auth.HasRole(c.Request().Context(), auth.RoleInstructor) {
		return echo.NewHTTPError(http.StatusNotFound, "quiz not found")
	}
	return c.JSON(http.StatusOK, q)
}

// ListQuizzes lists quizzes. Learners only see active quizzes; authors see
// all of them unless active=true is given.
func (h *Handler) ListQuizzes(c echo.Context) error {
	ctx := c.Request().Context()
	pg := pagination.FromContext(c)
	activeOnly := c.QueryParam("active") == "true" || !auth.HasRole(ctx, auth.RoleInstructor)
	items, total, err := h.svc.ListQuizzes(ctx, activeOnly, pg.Limit, pg.Offset)
	if err != nil {
		return httpError(err, "quiz not found")
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset).WithLinks(c.Request().URL.Path))
}

func (h *Handler) UpdateQuiz(c echo.Context) error {
	id, err := paramID(c)
	if err != nil {
		return err
	}
	var q Quiz
	if err := c.Bind(&q); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	q.ID = id
	if err := h.svc.UpdateQuiz(c.Request().Context(), &q); err != nil {
		return httpError(err, "quiz not found")
	}
	return c.JSON(http.StatusOK, q)
}

func (h *Handler) DeleteQuiz(c echo.Context) error {
	id, err := paramID(c)
	if err != nil {
		return err
	}
	if err := h.svc.DeleteQuiz(c.Request().Context(), id); err != nil {
		return httpError(err, "quiz not found")
	}
	return c.NoContent(http.StatusNoContent)
}

// -- Question Handlers --

func (h *Handler) AddQuestion(c echo.Context) error {
	id, err := paramID(c)
	if err != nil {
		return err
	}
	var q Question
	if err := c.Bind(&q); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	q.QuizID = id
	if err := h.svc.AddQuestion(c.Request().Context(), &q); err != nil {
		return httpError(err, "quiz not found")
	}
	return c.JSON(http.StatusCreated, q)
}

// ListQuestions returns the questions of a quiz. Correct answers are
// withheld from learners.
func (h *Handler) ListQuestions(c echo.Context) error {
	id, err := paramID(c)
	if err != nil {
		return err
	}
	ctx := c.Request().Context()
	items, err := h.svc.ListQuestions(ctx, id)
	if err != nil {
		return httpError(err, "quiz not found")
	}
	if !auth.HasRole(ctx, auth.RoleInstructor) {
		redacted := make([]Question, len(items))
		for i, q := range items {
			redacted[i] = *q
			redacted[i].CorrectAnswer = ""
		}
		return c.JSON(http.StatusOK, redacted)
	}
	if items == nil {
		items = []*Question{}
	}
	return c.JSON(http.StatusOK, items)
}

func (h *Handler) UpdateQuestion(c echo.Context) error {
	id, err := paramID(c)
	if err != nil {
		return err
	}
	var q Question
	if err := c.Bind(&q); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	q.ID = id
	if err := h.svc.UpdateQuestion(c.Request().Context(), &q); err != nil {
		return httpError(err, "question not found")
	}
	return c.JSON(http.StatusOK, q)
}

func (h *Handler) DeleteQuestion(c echo.Context) error {
	id, err := paramID(c)
	if err != nil {
		return err
	}
	if err := h.svc.DeleteQuestion(c.Request().Context(), id); err != nil {
		return httpError(err, "question not found")
	}
	return c.NoContent(http.StatusNoContent)
}

// -- Attempt Handlers --

func (h *Handler) SubmitAttempt(c echo.Context) error {
	id, err := paramID(c)
	if err != nil {
		return err
	}
	var sub Submission
	if err := c.Bind(&sub); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	a, err := h.svc.SubmitAttempt(c.Request().Context(), id, &sub)
	if err != nil {
		return httpError(err, "quiz not found")
	}
	return c.JSON(http.StatusCreated, a)
}

func (h *Handler) GetAttempt(c echo.Context) error {
	id, err := paramID(c)
	if err != nil {
		return err
	}
	a, err := h.svc.GetAttempt(c.Request().Context(), id)
	if err != nil {
		return httpError(err, "attempt not found")
	}
	return c.JSON(http.StatusOK, a)
}

func (h *Handler) ListAttemptsByQuiz(c echo.Context) error {
	id, err := paramID(c)
	if err != nil {
		return err
	}
	pg := pagination.FromContext(c)
	items, total, err := h.svc.ListAttemptsByQuiz(c.Request().Context(), id, pg.Limit, pg.Offset)
	if err != nil {
		return httpError(err, "quiz not found")
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset).WithLinks(c.Request().URL.Path))
}

// ListAttemptsByUser lists a user's attempts. "me" names the caller.
func (h *Handler) ListAttemptsByUser(c echo.Context) error {
	ctx := c.Request().Context()
	userID := c.Param("id")
	if userID == "me" {
		userID = auth.UserIDFromContext(ctx)
	}
	pg := pagination.FromContext(c)
	items, total, err := h.svc.ListAttemptsByUser(ctx, userID, pg.Limit, pg.Offset)
	if err != nil {
		return httpError(err, "user not found")
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset).WithLinks(c.Request().URL.Path))
}

// -- Report Handlers --

func (h *Handler) GetQuizReport(c echo.Context) error {
	id, err := paramID(c)
	if err != nil {
		return err
	}
	r, err := h.svc.GetQuizReport(c.Request().Context(), id)
	if err != nil {
		return httpError(err, "attempt not found")
	}
	return c.JSON(http.StatusOK, r)
}

func (h *Handler) GetInsightReport(c echo.Context) error {
	id, err := paramID(c)
	if err != nil {
		return err
	}
	p, err := h.svc.GetInsightReport(c.Request().Context(), id)
	if err != nil {
		return httpError(err, "attempt not found")
	}
	return c.JSON(http.StatusOK, p)
}

func (h *Handler) GetReportCard(c echo.Context) error {
	id, err := paramID(c)
	if err != nil {
		return err
	}
	var buf bytes.Buffer
	if err := h.svc.RenderReportCard(c.Request().Context(), id, &buf); err != nil {
		return httpError(err, "attempt not found")
	}
	c.Response().Header().Set("Cache-Control", "private, max-age=300")
	return c.Blob(http.StatusOK, "image/png", buf.Bytes())
}
