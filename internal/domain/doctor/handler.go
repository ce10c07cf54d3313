package doctor

import (
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/hms/hms/internal/platform/auth"
	"github.com/hms/hms/pkg/pagination"
	"github.com/hms/hms/pkg/respond"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	g := api.Group("/doctors")
	g.POST("", h.Register, auth.RequireRole("doctor"))
	g.GET("", h.List)
	g.GET("/:id", h.Get)
	g.GET("/:id/schedule", h.WeeklySchedule)
	g.PUT("/:id/schedule", h.UpdateWeeklySchedule, auth.RequireRole("doctor"))
	g.GET("/:id/blocked-slots", h.BlockedSlots)
	g.POST("/:id/blocked-slots", h.AddBlockedSlot, auth.RequireRole("doctor"))
	g.DELETE("/:id/blocked-slots/:slotId", h.RemoveBlockedSlot, auth.RequireRole("doctor"))

	admin := api.Group("/admin/doctors", auth.RequireRole("admin"))
	admin.PATCH("/:id/approval", h.Approval)
	admin.POST("/:id/block", h.Block)
	admin.POST("/:id/unblock", h.Unblock)
	admin.DELETE("/:id", h.Delete)
}

func mapErr(err error) error {
	switch {
	case errors.Is(err, ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "doctor not found")
	case errors.Is(err, ErrAlreadyExists):
		return echo.NewHTTPError(http.StatusConflict, "doctor profile already exists")
	case errors.Is(err, ErrNotPending):
		return echo.NewHTTPError(http.StatusConflict, "doctor is not pending approval")
	case errors.Is(err, ErrAlreadyBlocked):
		return echo.NewHTTPError(http.StatusConflict, "doctor is already blocked")
	case errors.Is(err, ErrNotBlocked):
		return echo.NewHTTPError(http.StatusConflict, "doctor is not blocked")
	default:
		return err
	}
}

func pathID(c echo.Context, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, "invalid "+name)
	}
	return id, nil
}

func adminID(c echo.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(auth.UserIDFromContext(c.Request().Context()))
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusUnauthorized, "invalid user identity")
	}
	return id, nil
}

// requireSelfOrAdmin lets a doctor manage only their own profile; admins may
// manage any.
func (h *Handler) requireSelfOrAdmin(c echo.Context, doctorID uuid.UUID) error {
	ctx := c.Request().Context()
	if auth.HasRole(ctx, "admin") {
		return nil
	}
	uid, err := uuid.Parse(auth.UserIDFromContext(ctx))
	if err != nil {
		return echo.NewHTTPError(http.StatusUnauthorized, "invalid user identity")
	}
	d, err := h.svc.GetByUserID(ctx, uid)
	if err != nil || d.ID != doctorID {
		return echo.NewHTTPError(http.StatusForbidden, "not your doctor profile")
	}
	return nil
}

type registerRequest struct {
	UserID               string `json:"user_id"`
	Specialty            string `json:"specialty"`
	ConsultationDuration int    `json:"consultation_duration"`
}

func (h *Handler) Register(c echo.Context) error {
	var req registerRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	// Doctors register themselves; admins may register on behalf of a user.
	if req.UserID == "" {
		req.UserID = auth.UserIDFromContext(c.Request().Context())
	}
	userID, err := uuid.Parse(req.UserID)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid user_id")
	}

	d, err := h.svc.Register(c.Request().Context(), userID, req.Specialty, req.ConsultationDuration)
	if err != nil {
		if errors.Is(err, ErrAlreadyExists) {
			return mapErr(err)
		}
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return respond.Created(c, "doctor profile submitted for approval", d)
}

func (h *Handler) Get(c echo.Context) error {
	id, err := pathID(c, "id")
	if err != nil {
		return err
	}
	d, err := h.svc.Get(c.Request().Context(), id)
	if err != nil {
		return mapErr(err)
	}
	return respond.OK(c, "doctor fetched", d)
}

func (h *Handler) List(c echo.Context) error {
	pg := pagination.FromContext(c)
	items, total, err := h.svc.List(c.Request().Context(),
		c.QueryParam("status"), c.QueryParam("specialty"), pg.Limit, pg.Offset)
	if err != nil {
		return err
	}
	return respond.OK(c, "doctors fetched", pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

type approvalRequest struct {
	Approve bool   `json:"approve"`
	Reason  string `json:"reason"`
}

func (h *Handler) Approval(c echo.Context) error {
	id, err := pathID(c, "id")
	if err != nil {
		return err
	}
	var req approvalRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	var d *Doctor
	if req.Approve {
		d, err = h.svc.Approve(c.Request().Context(), id)
	} else {
		d, err = h.svc.Reject(c.Request().Context(), id, req.Reason)
	}
	if err != nil {
		return mapErr(err)
	}
	return respond.OK(c, "doctor "+d.Status, d)
}

func (h *Handler) WeeklySchedule(c echo.Context) error {
	id, err := pathID(c, "id")
	if err != nil {
		return err
	}
	days, err := h.svc.WeeklySchedule(c.Request().Context(), id)
	if err != nil {
		return mapErr(err)
	}
	return respond.OK(c, "schedule fetched", days)
}

type scheduleRequest struct {
	Days []DayAvailability `json:"days"`
}

func (h *Handler) UpdateWeeklySchedule(c echo.Context) error {
	id, err := pathID(c, "id")
	if err != nil {
		return err
	}
	if err := h.requireSelfOrAdmin(c, id); err != nil {
		return err
	}
	var req scheduleRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if err := h.svc.UpdateWeeklySchedule(c.Request().Context(), id, req.Days); err != nil {
		if errors.Is(err, ErrNotFound) {
			return mapErr(err)
		}
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return respond.OK(c, "schedule updated", nil)
}

type blockedSlotRequest struct {
	Weekday   int    `json:"weekday"`
	StartTime string `json:"start_time"`
	EndTime   string `json:"end_time"`
	Reason    string `json:"reason"`
}

func (h *Handler) AddBlockedSlot(c echo.Context) error {
	id, err := pathID(c, "id")
	if err != nil {
		return err
	}
	if err := h.requireSelfOrAdmin(c, id); err != nil {
		return err
	}
	var req blockedSlotRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	bs := &BlockedSlot{
		DoctorID:  id,
		Weekday:   req.Weekday,
		StartTime: req.StartTime,
		EndTime:   req.EndTime,
		Reason:    req.Reason,
	}
	if err := h.svc.AddBlockedSlot(c.Request().Context(), bs); err != nil {
		if errors.Is(err, ErrNotFound) {
			return mapErr(err)
		}
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return respond.Created(c, "slot blocked", bs)
}

func (h *Handler) RemoveBlockedSlot(c echo.Context) error {
	id, err := pathID(c, "id")
	if err != nil {
		return err
	}
	slotID, err := pathID(c, "slotId")
	if err != nil {
		return err
	}
	if err := h.requireSelfOrAdmin(c, id); err != nil {
		return err
	}
	if err := h.svc.RemoveBlockedSlot(c.Request().Context(), id, slotID); err != nil {
		return mapErr(err)
	}
	return respond.OK(c, "blocked slot removed", nil)
}

func (h *Handler) BlockedSlots(c echo.Context) error {
	id, err := pathID(c, "id")
	if err != nil {
		return err
	}
	items, err := h.svc.BlockedSlots(c.Request().Context(), id)
	if err != nil {
		return mapErr(err)
	}
	return respond.OK(c, "blocked slots fetched", items)
}

type blockRequest struct {
	Reason string `json:"reason"`
}

func (h *Handler) Block(c echo.Context) error {
	id, err := pathID(c, "id")
	if err != nil {
		return err
	}
	admin, err := adminID(c)
	if err != nil {
		return err
	}
	var req blockRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	result, err := h.svc.Block(c.Request().Context(), id, admin, req.Reason)
	if err != nil {
		if errors.Is(err, ErrNotFound) || errors.Is(err, ErrAlreadyBlocked) {
			return mapErr(err)
		}
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return respond.OK(c, "doctor blocked", result)
}

func (h *Handler) Unblock(c echo.Context) error {
	id, err := pathID(c, "id")
	if err != nil {
		return err
	}
	d, err := h.svc.Unblock(c.Request().Context(), id)
	if err != nil {
		return mapErr(err)
	}
	return respond.OK(c, "doctor unblocked", d)
}

func (h *Handler) Delete(c echo.Context) error {
	id, err := pathID(c, "id")
	if err != nil {
		return err
	}
	admin, err := adminID(c)
	if err != nil {
		return err
	}
	result, err := h.svc.Delete(c.Request().Context(), id, admin)
	if err != nil {
		return mapErr(err)
	}
	return respond.OK(c, "doctor deleted", result)
}
