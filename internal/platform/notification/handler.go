package notification

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/carelearn/carelearn/internal/platform/auth"
)

// Handler exposes the notification record to administrators.
type Handler struct {
	manager   *Manager
	templates *TemplateEngine
}

func NewHandler(manager *Manager, templates *TemplateEngine) *Handler {
	return &Handler{manager: manager, templates: templates}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	g := api.Group("/notifications", auth.RequireRole(auth.RoleAdmin))
	g.GET("", h.List)
	g.GET("/stats", h.Stats)
	g.GET("/templates", h.Templates)
	g.GET("/:id", h.Get)
	g.POST("/:id/retry", h.Retry)
}

func (h *Handler) List(c echo.Context) error {
	recipient := c.QueryParam("recipient")
	if recipient == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "recipient query parameter is required")
	}
	limit, _ := strconv.Atoi(c.QueryParam("limit"))
	if limit <= 0 || limit > 100 {
		limit = 100
	}
	return c.JSON(http.StatusOK, h.manager.ListByRecipient(recipient, limit))
}

func (h *Handler) Get(c echo.Context) error {
	n, err := h.manager.Get(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, "notification not found")
	}
	return c.JSON(http.StatusOK, n)
}

func (h *Handler) Retry(c echo.Context) error {
	id := c.Param("id")
	err := h.manager.Retry(c.Request().Context(), id)
	switch {
	case errors.Is(err, ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "notification not found")
	case errors.Is(err, ErrNotFailed):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	}

	n, _ := h.manager.Get(id)
	if err != nil {
		return c.JSON(http.StatusBadGateway, n)
	}
	return c.JSON(http.StatusOK, n)
}

func (h *Handler) Stats(c echo.Context) error {
	return c.JSON(http.StatusOK, h.manager.Stats())
}

func (h *Handler) Templates(c echo.Context) error {
	return c.JSON(http.StatusOK, h.templates.List())
}
