package notification

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
)

func newNotificationContext(target string) (echo.Context, *httptest.ResponseRecorder) {
	e := echo.New()
	rec := httptest.NewRecorder()
	return e.NewContext(httptest.NewRequest(http.MethodGet, target, nil), rec), rec
}

func TestHandler_List_RequiresRecipient(t *testing.T) {
	m := newTestManager(&fakeSender{})
	c, _ := newNotificationContext("/")

	err := NewHandler(m, NewTemplateEngine()).List(c)
	if he, ok := err.(*echo.HTTPError); !ok || he.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %v", err)
	}
}

func TestHandler_GetAndRetry(t *testing.T) {
	sender := &fakeSender{failures: 3}
	m := newTestManager(sender)
	n := &Notification{Recipient: "a@example.com", Subject: "s"}
	_ = m.Send(context.Background(), n)
	h := NewHandler(m, NewTemplateEngine())

	c, rec := newNotificationContext("/")
	c.SetParamNames("id")
	c.SetParamValues(n.ID)
	if err := h.Get(c); err != nil || rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (%v)", rec.Code, err)
	}

	c, rec = newNotificationContext("/")
	c.SetParamNames("id")
	c.SetParamValues(n.ID)
	if err := h.Retry(c); err != nil || rec.Code != http.StatusOK {
		t.Fatalf("expected retry 200, got %d (%v)", rec.Code, err)
	}

	c, _ = newNotificationContext("/")
	c.SetParamNames("id")
	c.SetParamValues(n.ID)
	if he, ok := h.Retry(c).(*echo.HTTPError); !ok || he.Code != http.StatusConflict {
		t.Errorf("expected 409 for sent notification, got %v", he)
	}
}

func TestHandler_Get_NotFound(t *testing.T) {
	c, _ := newNotificationContext("/")
	c.SetParamNames("id")
	c.SetParamValues("nope")

	err := NewHandler(newTestManager(&fakeSender{}), NewTemplateEngine()).Get(c)
	if he, ok := err.(*echo.HTTPError); !ok || he.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %v", err)
	}
}
