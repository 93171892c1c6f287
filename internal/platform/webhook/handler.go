package webhook

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/carelearn/carelearn/internal/platform/auth"
	"github.com/carelearn/carelearn/internal/platform/db"
)

// Handler exposes endpoint management to admins. Endpoints are scoped to
// the tenant of the request.
type Handler struct {
	dispatcher *Dispatcher
}

func NewHandler(d *Dispatcher) *Handler {
	return &Handler{dispatcher: d}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	g := api.Group("/webhooks", auth.RequireRole(auth.RoleAdmin))
	g.POST("", h.Create)
	g.GET("", h.List)
	g.GET("/:id", h.Get)
	g.PUT("/:id/status", h.SetStatus)
	g.DELETE("/:id", h.Delete)
	g.POST("/:id/test", h.Test)
	g.GET("/:id/deliveries", h.Deliveries)
}

type createRequest struct {
	URL    string   `json:"url"`
	Secret string   `json:"secret"`
	Events []string `json:"events"`
}

type statusRequest struct {
	Status string `json:"status"`
}

func notFoundOr500(err error) error {
	if errors.Is(err, ErrNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "webhook endpoint not found")
	}
	return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
}

// Create registers an endpoint. The secret is only returned here.
func (h *Handler) Create(c echo.Context) error {
	var req createRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	ctx := c.Request().Context()
	ep, err := h.dispatcher.Register(ctx, db.TenantFromContext(ctx), req.URL, req.Secret, req.Events)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusCreated, ep)
}

func (h *Handler) List(c echo.Context) error {
	ctx := c.Request().Context()
	eps, err := h.dispatcher.store.ListEndpoints(ctx, db.TenantFromContext(ctx))
	if err != nil {
		return notFoundOr500(err)
	}
	for _, ep := range eps {
		ep.Secret = ""
	}
	return c.JSON(http.StatusOK, eps)
}

func (h *Handler) Get(c echo.Context) error {
	ctx := c.Request().Context()
	ep, err := h.dispatcher.store.GetEndpoint(ctx, db.TenantFromContext(ctx), c.Param("id"))
	if err != nil {
		return notFoundOr500(err)
	}
	ep.Secret = ""
	return c.JSON(http.StatusOK, ep)
}

func (h *Handler) SetStatus(c echo.Context) error {
	var req statusRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	ctx := c.Request().Context()
	if req.Status != StatusActive && req.Status != StatusPaused {
		return echo.NewHTTPError(http.StatusBadRequest, "status must be active or paused")
	}
	ep, err := h.dispatcher.SetStatus(ctx, db.TenantFromContext(ctx), c.Param("id"), req.Status)
	if err != nil {
		return notFoundOr500(err)
	}
	ep.Secret = ""
	return c.JSON(http.StatusOK, ep)
}

func (h *Handler) Delete(c echo.Context) error {
	ctx := c.Request().Context()
	if err := h.dispatcher.store.DeleteEndpoint(ctx, db.TenantFromContext(ctx), c.Param("id")); err != nil {
		return notFoundOr500(err)
	}
	return c.NoContent(http.StatusNoContent)
}

// Test sends a webhook.test event and returns the delivery record.
func (h *Handler) Test(c echo.Context) error {
	ctx := c.Request().Context()
	d, err := h.dispatcher.Test(ctx, db.TenantFromContext(ctx), c.Param("id"))
	if err != nil {
		return notFoundOr500(err)
	}
	return c.JSON(http.StatusOK, d)
}

func (h *Handler) Deliveries(c echo.Context) error {
	ctx := c.Request().Context()
	id := c.Param("id")
	if _, err := h.dispatcher.store.GetEndpoint(ctx, db.TenantFromContext(ctx), id); err != nil {
		return notFoundOr500(err)
	}
	limit, _ := strconv.Atoi(c.QueryParam("limit"))
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	ds, err := h.dispatcher.store.ListDeliveries(ctx, id, limit)
	if err != nil {
		return notFoundOr500(err)
	}
	return c.JSON(http.StatusOK, ds)
}
