package appointment

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
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	g := api.Group("/appointments")
	g.GET("/available-slots/:doctorId", h.AvailableSlots)
	g.POST("", h.Book, auth.RequireRole("patient"))
	g.GET("/:id", h.Get)
	g.GET("", h.ListOwn, auth.RequireRole("patient"))
	g.GET("/doctor/:doctorId", h.ListByDoctor, auth.RequireRole("doctor"))
	g.PATCH("/:id/cancel", h.Cancel)
	g.PATCH("/:id/reschedule", h.Reschedule, auth.RequireRole("patient"))
	g.PATCH("/:id/status", h.UpdateStatus, auth.RequireRole("doctor"))
}

func mapErr(err error) error {
	switch {
	case errors.Is(err, ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "appointment not found")
	case errors.Is(err, ErrSlotTaken):
		return echo.NewHTTPError(http.StatusConflict, "slot is already booked")
	case errors.Is(err, ErrSlotUnavailable):
		return echo.NewHTTPError(http.StatusConflict, "slot is not available")
	case errors.Is(err, ErrDoctorUnavailable):
		return echo.NewHTTPError(http.StatusConflict, "doctor is not accepting appointments")
	case errors.Is(err, ErrNotActive):
		return echo.NewHTTPError(http.StatusConflict, "appointment is not active")
	case errors.Is(err, ErrPastDate):
		return echo.NewHTTPError(http.StatusBadRequest, "date must not be in the past")
	case errors.Is(err, ErrForbidden):
		return echo.NewHTTPError(http.StatusForbidden, "not a party to this appointment")
	default:
		return err
	}
}

func currentUser(c echo.Context) (uuid.UUID, error) {
	uid, err := uuid.Parse(auth.UserIDFromContext(c.Request().Context()))
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusUnauthorized, "invalid user identity")
	}
	return uid, nil
}

func currentActor(c echo.Context) (Actor, error) {
	uid, err := currentUser(c)
	if err != nil {
		return Actor{}, err
	}
	return Actor{UserID: uid, Admin: auth.HasRole(c.Request().Context(), "admin")}, nil
}

func parseDate(s string) (time.Time, error) {
	d, err := time.Parse("2006-01-02", s)
	if err != nil {
		return time.Time{}, echo.NewHTTPError(http.StatusBadRequest, "date must be YYYY-MM-DD")
	}
	return d, nil
}

func (h *Handler) AvailableSlots(c echo.Context) error {
	doctorID, err := uuid.Parse(c.Param("doctorId"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid doctor id")
	}
	date, err := parseDate(c.QueryParam("date"))
	if err != nil {
		return err
	}

	slots, err := h.svc.AvailableSlots(c.Request().Context(), doctorID, date)
	if err != nil {
		return mapErr(err)
	}
	return respond.OK(c, "available slots fetched", slots)
}

type bookRequest struct {
	DoctorID string `json:"doctor_id"`
	Date     string `json:"date"`
	Time     string `json:"time"`
	Type     string `json:"type"`
	Reason   string `json:"reason"`
}

func (h *Handler) Book(c echo.Context) error {
	patientID, err := currentUser(c)
	if err != nil {
		return err
	}
	var req bookRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	doctorID, err := uuid.Parse(req.DoctorID)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid doctor_id")
	}
	date, err := parseDate(req.Date)
	if err != nil {
		return err
	}

	a := &Appointment{
		DoctorID:  doctorID,
		PatientID: patientID,
		Date:      date,
		Time:      req.Time,
		Type:      req.Type,
		Reason:    req.Reason,
	}
	if err := h.svc.Book(c.Request().Context(), a); err != nil {
		if errors.Is(err, ErrSlotTaken) || errors.Is(err, ErrSlotUnavailable) || errors.Is(err, ErrDoctorUnavailable) {
			return mapErr(err)
		}
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return respond.Created(c, "appointment booked", a)
}

func (h *Handler) Get(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid appointment id")
	}
	a, err := h.svc.Get(c.Request().Context(), id)
	if err != nil {
		return mapErr(err)
	}
	return respond.OK(c, "appointment fetched", a)
}

func (h *Handler) ListOwn(c echo.Context) error {
	patientID, err := currentUser(c)
	if err != nil {
		return err
	}
	pg := pagination.FromContext(c)
	items, total, err := h.svc.ListByPatient(c.Request().Context(), patientID, pg.Limit, pg.Offset)
	if err != nil {
		return err
	}
	return respond.OK(c, "appointments fetched", pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

func (h *Handler) ListByDoctor(c echo.Context) error {
	doctorID, err := uuid.Parse(c.Param("doctorId"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid doctor id")
	}
	var date *time.Time
	if ds := c.QueryParam("date"); ds != "" {
		d, err := parseDate(ds)
		if err != nil {
			return err
		}
		date = &d
	}
	pg := pagination.FromContext(c)
	items, total, err := h.svc.ListByDoctor(c.Request().Context(), doctorID, date, pg.Limit, pg.Offset)
	if err != nil {
		return err
	}
	return respond.OK(c, "appointments fetched", pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

type cancelRequest struct {
	Reason string `json:"reason"`
}

func (h *Handler) Cancel(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid appointment id")
	}
	actor, err := currentActor(c)
	if err != nil {
		return err
	}
	var req cancelRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	a, err := h.svc.Cancel(c.Request().Context(), id, actor, req.Reason)
	if err != nil {
		return mapErr(err)
	}
	return respond.OK(c, "appointment cancelled", a)
}

type rescheduleRequest struct {
	Date string `json:"date"`
	Time string `json:"time"`
}

func (h *Handler) Reschedule(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid appointment id")
	}
	actor, err := currentActor(c)
	if err != nil {
		return err
	}
	var req rescheduleRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	date, err := parseDate(req.Date)
	if err != nil {
		return err
	}

	a, err := h.svc.Reschedule(c.Request().Context(), id, date, req.Time, actor)
	if err != nil {
		if errors.Is(err, ErrNotFound) || errors.Is(err, ErrNotActive) ||
			errors.Is(err, ErrSlotTaken) || errors.Is(err, ErrSlotUnavailable) ||
			errors.Is(err, ErrDoctorUnavailable) || errors.Is(err, ErrForbidden) {
			return mapErr(err)
		}
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return respond.OK(c, "appointment rescheduled", a)
}

type statusRequest struct {
	Status string `json:"status"`
}

func (h *Handler) UpdateStatus(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid appointment id")
	}
	actor, err := currentActor(c)
	if err != nil {
		return err
	}
	var req statusRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	a, err := h.svc.UpdateStatus(c.Request().Context(), id, req.Status, actor)
	if err != nil {
		if errors.Is(err, ErrNotFound) || errors.Is(err, ErrNotActive) || errors.Is(err, ErrForbidden) {
			return mapErr(err)
		}
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return respond.OK(c, "appointment status updated", a)
}
