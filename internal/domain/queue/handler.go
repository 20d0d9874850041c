package queue

import (
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/clinicdesk/clinicdesk/internal/platform/auth"
	"github.com/clinicdesk/clinicdesk/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	g := api.Group("", auth.RequireRole("admin", "doctor", "nurse", "secretary"))

	g.POST("/appointments", h.Schedule)
	g.POST("/queue/walk-in", h.WalkIn)
	g.PUT("/queue/:id/check-in", h.CheckIn)
	g.PUT("/queue/:id/start", h.Start)
	g.PUT("/queue/:id/complete", h.Complete)
	g.PUT("/queue/:id/cancel", h.Cancel)
	g.PUT("/queue/:id/no-show", h.NoShow)
	g.PUT("/queue/:id/reschedule", h.Reschedule)
	g.PUT("/queue/reorder", h.Reorder)

	g.GET("/queue/today", h.Today)
	g.GET("/queue/stats", h.Stats)
	g.GET("/queue/next", h.Next)
	g.GET("/queue/day", h.Day)
	g.GET("/queue/:id", h.Get)
	g.GET("/patients/:id/appointments", h.History)

	g.DELETE("/queue/reset", h.Reset, auth.RequireRole("admin"))
}

// httpError maps domain errors onto status codes: unknown ids are 404, lost
// version races and illegal transitions are 409, malformed reorders are 400,
// an unreachable counter store is 503.
func httpError(err error) error {
	var transition *InvalidTransitionError
	var queueState *InvalidQueueStateError
	switch {
	case errors.Is(err, ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.As(err, &transition), errors.Is(err, ErrConcurrentModification):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case errors.As(err, &queueState):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrAllocationUnavailable):
		return echo.NewHTTPError(http.StatusServiceUnavailable, err.Error())
	}
	return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
}

func pathID(c echo.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	return id, nil
}

type scheduleRequest struct {
	PatientID     uuid.UUID `json:"patient_id"`
	ScheduledDate string    `json:"scheduled_date"` // 2006-01-02
	ScheduledTime *string   `json:"scheduled_time,omitempty"`
	Notes         *string   `json:"notes,omitempty"`
}

func (h *Handler) Schedule(c echo.Context) error {
	var req scheduleRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.PatientID == uuid.Nil {
		return echo.NewHTTPError(http.StatusBadRequest, "patient_id is required")
	}
	date, err := time.Parse(dayLayout, req.ScheduledDate)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "scheduled_date must be YYYY-MM-DD")
	}
	a, err := h.svc.Schedule(c.Request().Context(), req.PatientID, date, req.ScheduledTime, req.Notes)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, a)
}

type walkInRequest struct {
	PatientID uuid.UUID `json:"patient_id"`
	Notes     *string   `json:"notes,omitempty"`
}

func (h *Handler) WalkIn(c echo.Context) error {
	var req walkInRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.PatientID == uuid.Nil {
		return echo.NewHTTPError(http.StatusBadRequest, "patient_id is required")
	}
	a, err := h.svc.WalkIn(c.Request().Context(), req.PatientID, req.Notes)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, a)
}

func (h *Handler) CheckIn(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	a, err := h.svc.CheckIn(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, a)
}

func (h *Handler) Start(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	a, err := h.svc.Start(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, a)
}

type completeRequest struct {
	DiagnosisSummary *string `json:"diagnosis_summary,omitempty"`
	Notes            *string `json:"notes,omitempty"`
}

func (h *Handler) Complete(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	var req completeRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	a, err := h.svc.Complete(c.Request().Context(), id, req.DiagnosisSummary, req.Notes)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, a)
}

type cancelRequest struct {
	Reason string `json:"reason,omitempty"`
}

func (h *Handler) Cancel(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	var req cancelRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	a, err := h.svc.Cancel(c.Request().Context(), id, req.Reason)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, a)
}

func (h *Handler) NoShow(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	a, err := h.svc.NoShow(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, a)
}

type rescheduleRequest struct {
	NewDate string  `json:"new_date"` // 2006-01-02
	NewTime *string `json:"new_time,omitempty"`
	Reason  string  `json:"reason,omitempty"`
}

func (h *Handler) Reschedule(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	var req rescheduleRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	newDate, err := time.Parse(dayLayout, req.NewDate)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "new_date must be YYYY-MM-DD")
	}
	result, err := h.svc.Reschedule(c.Request().Context(), id, newDate, req.NewTime, req.Reason)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, result)
}

type reorderRequest struct {
	OrderedIDs []uuid.UUID `json:"ordered_ids"`
}

func (h *Handler) Reorder(c echo.Context) error {
	var req reorderRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if len(req.OrderedIDs) == 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "ordered_ids is required")
	}
	items, err := h.svc.Reorder(c.Request().Context(), req.OrderedIDs)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, map[string]any{"queue": items})
}

func (h *Handler) Today(c echo.Context) error {
	items, err := h.svc.TodayQueue(c.Request().Context())
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, map[string]any{"queue": items})
}

func (h *Handler) Stats(c echo.Context) error {
	stats, err := h.svc.Stats(c.Request().Context(), Day(c.QueryParam("day")))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, stats)
}

func (h *Handler) Next(c echo.Context) error {
	a, err := h.svc.NextInLine(c.Request().Context())
	if err != nil {
		return httpError(err)
	}
	if a == nil {
		return c.JSON(http.StatusOK, map[string]any{"next": nil})
	}
	return c.JSON(http.StatusOK, map[string]any{"next": a})
}

func (h *Handler) Day(c echo.Context) error {
	pg := pagination.FromContext(c)
	items, total, err := h.svc.ListForDay(c.Request().Context(), Day(c.QueryParam("day")), pg.Limit, pg.Offset)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

func (h *Handler) Get(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	a, err := h.svc.Get(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, a)
}

func (h *Handler) History(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	pg := pagination.FromContext(c)
	items, total, err := h.svc.History(c.Request().Context(), id, pg.Limit, pg.Offset)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

func (h *Handler) Reset(c echo.Context) error {
	n, err := h.svc.ResetDay(c.Request().Context(), Day(c.QueryParam("day")))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, map[string]any{"reset": n})
}
