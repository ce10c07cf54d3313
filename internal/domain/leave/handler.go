package leave

import (
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/hms/hms/internal/platform/auth"
	"github.com/hms/hms/pkg/pagination"
	"github.com/hms/hms/pkg/respond"
)

type Handler struct {
	svc *Service
	// resolveDoctor maps the authenticated user to their doctor profile.
	resolveDoctor func(c echo.Context) (uuid.UUID, error)
}

func NewHandler(svc *Service, resolveDoctor func(c echo.Context) (uuid.UUID, error)) *Handler {
	return &Handler{svc: svc, resolveDoctor: resolveDoctor}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	g := api.Group("/leaves")
	g.POST("", h.Apply, auth.RequireRole("doctor"))
	g.GET("", h.ListOwn, auth.RequireRole("doctor"))
	g.GET("/:id", h.Get)
	g.PATCH("/:id/cancel", h.CancelOwn, auth.RequireRole("doctor"))

	admin := api.Group("/admin/leaves", auth.RequireRole("admin"))
	admin.GET("", h.ListAll)
	admin.PATCH("/:id/approval", h.Approval)
}

func mapErr(err error) error {
	switch {
	case errors.Is(err, ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "leave request not found")
	case errors.Is(err, ErrAlreadyProcessed):
		return echo.NewHTTPError(http.StatusConflict, "leave request already processed")
	case errors.Is(err, ErrOverlapping):
		return echo.NewHTTPError(http.StatusConflict, "overlapping leave request exists")
	case errors.Is(err, ErrForbidden):
		return echo.NewHTTPError(http.StatusForbidden, "not your leave request")
	default:
		return err
	}
}

type applyRequest struct {
	LeaveType string `json:"leave_type"`
	StartDate string `json:"start_date"`
	EndDate   string `json:"end_date"`
	IsHalfDay bool   `json:"is_half_day"`
	Reason    string `json:"reason"`
}

func (h *Handler) Apply(c echo.Context) error {
	doctorID, err := h.resolveDoctor(c)
	if err != nil {
		return err
	}
	var req applyRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	start, err := time.Parse("2006-01-02", req.StartDate)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "start_date must be YYYY-MM-DD")
	}
	end, err := time.Parse("2006-01-02", req.EndDate)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "end_date must be YYYY-MM-DD")
	}

	l := &Leave{
		DoctorID:  doctorID,
		LeaveType: req.LeaveType,
		StartDate: start,
		EndDate:   end,
		IsHalfDay: req.IsHalfDay,
		Reason:    req.Reason,
	}
	if err := h.svc.Apply(c.Request().Context(), l); err != nil {
		if errors.Is(err, ErrOverlapping) {
			return mapErr(err)
		}
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return respond.Created(c, "leave request submitted", l)
}

func (h *Handler) Get(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid leave id")
	}
	l, err := h.svc.Get(c.Request().Context(), id)
	if err != nil {
		return mapErr(err)
	}
	return respond.OK(c, "leave fetched", l)
}

func (h *Handler) ListOwn(c echo.Context) error {
	doctorID, err := h.resolveDoctor(c)
	if err != nil {
		return err
	}
	pg := pagination.FromContext(c)
	items, total, err := h.svc.ListByDoctor(c.Request().Context(), doctorID, pg.Limit, pg.Offset)
	if err != nil {
		return err
	}
	return respond.OK(c, "leaves fetched", pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

func (h *Handler) ListAll(c echo.Context) error {
	pg := pagination.FromContext(c)
	items, total, err := h.svc.List(c.Request().Context(), c.QueryParam("status"), pg.Limit, pg.Offset)
	if err != nil {
		return err
	}
	return respond.OK(c, "leaves fetched", pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

type approvalRequest struct {
	Approve bool   `json:"approve"`
	Reason  string `json:"reason"`
}

func (h *Handler) Approval(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid leave id")
	}
	adminID, err := uuid.Parse(auth.UserIDFromContext(c.Request().Context()))
	if err != nil {
		return echo.NewHTTPError(http.StatusUnauthorized, "invalid user identity")
	}
	var req approvalRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	var l *Leave
	if req.Approve {
		l, err = h.svc.Approve(c.Request().Context(), id, adminID)
	} else {
		l, err = h.svc.Reject(c.Request().Context(), id, adminID, req.Reason)
	}
	if err != nil {
		if errors.Is(err, ErrNotFound) || errors.Is(err, ErrAlreadyProcessed) {
			return mapErr(err)
		}
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return respond.OK(c, "leave "+l.Status, l)
}

func (h *Handler) CancelOwn(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid leave id")
	}
	doctorID, err := h.resolveDoctor(c)
	if err != nil {
		return err
	}
	l, err := h.svc.CancelOwn(c.Request().Context(), id, doctorID)
	if err != nil {
		return mapErr(err)
	}
	return respond.OK(c, "leave request cancelled", l)
}
