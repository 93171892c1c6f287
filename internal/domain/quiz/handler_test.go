package quiz

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/carelearn/carelearn/internal/platform/auth"
)

func newTestHandler() (*Handler, *testEnv, *echo.Echo) {
	env := newTestEnv()
	return NewHandler(env.svc), env, echo.New()
}

func newContext(e *echo.Echo, ctx context.Context, method, target, body string) (echo.Context, *httptest.ResponseRecorder) {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	req = req.WithContext(ctx)
	rec := httptest.NewRecorder()
	return e.NewContext(req, rec), rec
}

func expectHTTPError(t *testing.T, err error, code int) {
	t.Helper()
	he, ok := err.(*echo.HTTPError)
	if !ok || he.Code != code {
		t.Errorf("expected %d, got %v", code, err)
	}
}

func TestHandler_CreateQuiz(t *testing.T) {
	h, _, e := newTestHandler()
	c, rec := newContext(e, instructorCtx(), http.MethodPost, "/", `{"title":"AWS Practitioner","difficulty":"beginner"}`)

	if err := h.CreateQuiz(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusCreated {
		t.Errorf("expected 201, got %d", rec.Code)
	}
	var q Quiz
	json.Unmarshal(rec.Body.Bytes(), &q)
	if q.ID == uuid.Nil || q.Certification != "aws" {
		t.Errorf("unexpected quiz %+v", q)
	}
}

func TestHandler_CreateQuiz_BadRequest(t *testing.T) {
	h, _, e := newTestHandler()
	c, _ := newContext(e, instructorCtx(), http.MethodPost, "/", `{"difficulty":"beginner"}`)
	expectHTTPError(t, h.CreateQuiz(c), http.StatusBadRequest)
}

func TestHandler_GetQuiz_NotFound(t *testing.T) {
	h, _, e := newTestHandler()
	c, _ := newContext(e, learnerCtx("l"), http.MethodGet, "/", "")
	c.SetParamNames("id")
	c.SetParamValues(uuid.New().String())
	expectHTTPError(t, h.GetQuiz(c), http.StatusNotFound)
}

func TestHandler_GetQuiz_InvalidID(t *testing.T) {
	h, _, e := newTestHandler()
	c, _ := newContext(e, learnerCtx("l"), http.MethodGet, "/", "")
	c.SetParamNames("id")
	c.SetParamValues("not-a-uuid")
	expectHTTPError(t, h.GetQuiz(c), http.StatusBadRequest)
}

func TestHandler_GetQuiz_InactiveHiddenFromLearners(t *testing.T) {
	h, env, e := newTestHandler()
	q := &Quiz{Title: "Retired"}
	env.svc.CreateQuiz(instructorCtx(), q)
	env.svc.UpdateQuiz(instructorCtx(), &Quiz{ID: q.ID, Title: "Retired", Active: false})

	c, _ := newContext(e, learnerCtx("l"), http.MethodGet, "/", "")
	c.SetParamNames("id")
	c.SetParamValues(q.ID.String())
	expectHTTPError(t, h.GetQuiz(c), http.StatusNotFound)

	c, rec := newContext(e, instructorCtx(), http.MethodGet, "/", "")
	c.SetParamNames("id")
	c.SetParamValues(q.ID.String())
	if err := h.GetQuiz(c); err != nil || rec.Code != http.StatusOK {
		t.Errorf("expected instructor to see inactive quiz, got %v", err)
	}
}

func TestHandler_ListQuestions_RedactedForLearners(t *testing.T) {
	h, env, e := newTestHandler()
	quiz, _ := seedStandardQuiz(t, env)

	c, rec := newContext(e, learnerCtx("l"), http.MethodGet, "/", "")
	c.SetParamNames("id")
	c.SetParamValues(quiz.ID.String())
	if err := h.ListQuestions(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if strings.Contains(rec.Body.String(), "correct_answer") {
		t.Errorf("expected correct answers withheld, got %s", rec.Body.String())
	}

	c, rec = newContext(e, instructorCtx(), http.MethodGet, "/", "")
	c.SetParamNames("id")
	c.SetParamValues(quiz.ID.String())
	if err := h.ListQuestions(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var items []Question
	json.Unmarshal(rec.Body.Bytes(), &items)
	if len(items) != 10 || items[0].CorrectAnswer != "A" {
		t.Errorf("expected instructor to see correct answers, got %d items", len(items))
	}
}

func TestHandler_SubmitAttempt_AndReport(t *testing.T) {
	h, env, e := newTestHandler()
	quiz, questions := seedStandardQuiz(t, env)

	var sb strings.Builder
	sb.WriteString(`{"time_spent_seconds":420,"answers":[`)
	for i, q := range questions {
		if i > 0 {
			sb.WriteString(",")
		}
		sb.WriteString(`{"question_id":"` + q.ID.String() + `","selected_answer":"A"}`)
	}
	sb.WriteString("]}")

	c, rec := newContext(e, learnerCtx("learner-1"), http.MethodPost, "/", sb.String())
	c.SetParamNames("id")
	c.SetParamValues(quiz.ID.String())
	if err := h.SubmitAttempt(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", rec.Code)
	}
	var a Attempt
	json.Unmarshal(rec.Body.Bytes(), &a)
	if a.Score != 100 {
		t.Errorf("expected score 100, got %d", a.Score)
	}

	c, rec = newContext(e, learnerCtx("learner-1"), http.MethodGet, "/", "")
	c.SetParamNames("id")
	c.SetParamValues(a.ID.String())
	if err := h.GetQuizReport(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"pass_status":"pass"`) {
		t.Errorf("unexpected report %d %s", rec.Code, rec.Body.String())
	}

	c, _ = newContext(e, learnerCtx("learner-1"), http.MethodGet, "/", "")
	c.SetParamNames("id")
	c.SetParamValues(a.ID.String())
	expectHTTPError(t, h.GetInsightReport(c), http.StatusConflict)
}

func TestHandler_GetReportCard(t *testing.T) {
	h, env, e := newTestHandler()
	quiz, questions := seedStandardQuiz(t, env)
	a, _ := env.svc.SubmitAttempt(learnerCtx("l"), quiz.ID, answers(questions, func(int) string { return "A" }))

	c, rec := newContext(e, learnerCtx("l"), http.MethodGet, "/", "")
	c.SetParamNames("id")
	c.SetParamValues(a.ID.String())
	if err := h.GetReportCard(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ct := rec.Header().Get(echo.HeaderContentType); ct != "image/png" {
		t.Errorf("expected image/png, got %q", ct)
	}
	if rec.Body.String() != "quiz-png" {
		t.Errorf("unexpected body %q", rec.Body.String())
	}
}

func TestHandler_ListAttemptsByUser_Me(t *testing.T) {
	h, env, e := newTestHandler()
	quiz, questions := seedStandardQuiz(t, env)
	env.svc.SubmitAttempt(learnerCtx("learner-1"), quiz.ID, answers(questions, func(int) string { return "A" }))
	env.svc.SubmitAttempt(learnerCtx("learner-2"), quiz.ID, answers(questions, func(int) string { return "B" }))

	c, rec := newContext(e, learnerCtx("learner-1"), http.MethodGet, "/api/v1/users/me/attempts", "")
	c.SetParamNames("id")
	c.SetParamValues("me")
	if err := h.ListAttemptsByUser(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var body struct {
		Total int `json:"total"`
	}
	json.Unmarshal(rec.Body.Bytes(), &body)
	if body.Total != 1 {
		t.Errorf("expected 1 attempt, got %d", body.Total)
	}

	c, _ = newContext(e, learnerCtx("learner-1"), http.MethodGet, "/", "")
	c.SetParamNames("id")
	c.SetParamValues("learner-2")
	expectHTTPError(t, h.ListAttemptsByUser(c), http.StatusForbidden)
}

func TestHandler_ListQuizzes_LearnersSeeActiveOnly(t *testing.T) {
	h, env, e := newTestHandler()
	a := &Quiz{Title: "Live"}
	b := &Quiz{Title: "Draft"}
	env.svc.CreateQuiz(instructorCtx(), a)
	env.svc.CreateQuiz(instructorCtx(), b)
	env.svc.UpdateQuiz(instructorCtx(), &Quiz{ID: b.ID, Title: "Draft", Active: false})

	c, rec := newContext(e, learnerCtx("l"), http.MethodGet, "/api/v1/quizzes", "")
	if err := h.ListQuizzes(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var body struct {
		Total int `json:"total"`
	}
	json.Unmarshal(rec.Body.Bytes(), &body)
	if body.Total != 1 {
		t.Errorf("expected 1 visible quiz, got %d", body.Total)
	}
}

func TestHandler_DeleteQuiz(t *testing.T) {
	h, env, e := newTestHandler()
	q := &Quiz{Title: "Gone soon"}
	env.svc.CreateQuiz(instructorCtx(), q)

	c, rec := newContext(e, instructorCtx(), http.MethodDelete, "/", "")
	c.SetParamNames("id")
	c.SetParamValues(q.ID.String())
	if err := h.DeleteQuiz(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusNoContent {
		t.Errorf("expected 204, got %d", rec.Code)
	}
}

func TestHTTPError_Mapping(t *testing.T) {
	tests := []struct {
		err  error
		code int
	}{
		{invalidf("bad"), http.StatusBadRequest},
		{ErrNotFound, http.StatusNotFound},
		{ErrForbidden, http.StatusForbidden},
		{ErrQuizInactive, http.StatusConflict},
		{ErrWrongKind, http.StatusConflict},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		expectHTTPError(t, httpError(tt.err, "not found"), tt.code)
	}
}

func TestHandler_RegisterRoutes(t *testing.T) {
	h, _, e := newTestHandler()
	h.RegisterRoutes(e.Group("/api/v1"))

	want := map[string]bool{
		"POST /api/v1/quizzes":                     false,
		"GET /api/v1/quizzes/:id/questions":        false,
		"POST /api/v1/quizzes/:id/attempts":        false,
		"GET /api/v1/attempts/:id/report":          false,
		"GET /api/v1/attempts/:id/insight":         false,
		"GET /api/v1/attempts/:id/report-card.png": false,
		"GET /api/v1/users/:id/attempts":           false,
	}
	for _, r := range e.Routes() {
		key := r.Method + " " + r.Path
		if _, ok := want[key]; ok {
			want[key] = true
		}
	}
	for k, found := range want {
		if !found {
			t.Errorf("route %s not registered", k)
		}
	}
}

func TestHandler_RequireRole_LearnerCannotAuthor(t *testing.T) {
	h, _, e := newTestHandler()
	h.RegisterRoutes(e.Group("/api/v1"))

	req := httptest.NewRequest(http.MethodPost, "/api/v1/quizzes", strings.NewReader(`{"title":"x"}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	req = req.WithContext(auth.WithIdentity(req.Context(), "l", auth.RoleLearner))
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Errorf("expected 403, got %d", rec.Code)
	}
}
