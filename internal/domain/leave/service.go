package leave

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/hms/hms/internal/domain/doctor"
	"github.com/hms/hms/internal/domain/identity"
	"github.com/hms/hms/internal/domain/notification"
)

const minRejectionReasonLen = 10

// CancelledVisit describes one appointment removed by an approval cascade.
type CancelledVisit struct {
	AppointmentID uuid.UUID
	PatientID     uuid.UUID
	Date          time.Time
	Time          string
}

// AppointmentCanceller cancels a doctor's active appointments inside a date
// range. Implemented by the appointment service.
type AppointmentCanceller interface {
	CancelActiveInRange(ctx context.Context, doctorID uuid.UUID, from, to time.Time, reason string, cancelledBy uuid.UUID) ([]CancelledVisit, error)
}

type DoctorStore interface {
	Get(ctx context.Context, id uuid.UUID) (*doctor.Doctor, error)
}

type UserStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*identity.User, error)
}

type Notifier interface {
	Create(ctx context.Context, n *notification.Notification) error
}

type Mailer interface {
	SendTemplate(ctx context.Context, templateID, to string, data map[string]string) error
}

type TxRunner interface {
	InTx(ctx context.Context, fn func(ctx context.Context) error) error
}

type Service struct {
	repo      Repository
	doctors   DoctorStore
	users     UserStore
	notifier  Notifier
	mailer    Mailer
	canceller AppointmentCanceller
	tx        TxRunner
	logger    zerolog.Logger
}

func NewService(repo Repository, doctors DoctorStore, users UserStore,
	notifier Notifier, mailer Mailer, tx TxRunner, logger zerolog.Logger) *Service {
	return &Service{
		repo:     repo,
		doctors:  doctors,
		users:    users,
		notifier: notifier,
		mailer:   mailer,
		tx:       tx,
		logger:   logger,
	}
}

// SetCanceller wires the appointment cascade after construction.
func (s *Service) SetCanceller(c AppointmentCanceller) {
	s.canceller = c
}

// Apply files a new leave request. A doctor cannot hold two pending or
// approved leaves over intersecting dates.
func (s *Service) Apply(ctx context.Context, l *Leave) error {
	if _, err := s.doctors.Get(ctx, l.DoctorID); err != nil {
		return err
	}
	if !ValidType(l.LeaveType) {
		return fmt.Errorf("invalid leave type: %s", l.LeaveType)
	}
	if strings.TrimSpace(l.Reason) == "" {
		return fmt.Errorf("reason is required")
	}

	l.StartDate = l.StartDate.Truncate(24 * time.Hour)
	l.EndDate = l.EndDate.Truncate(24 * time.Hour)
	if l.EndDate.Before(l.StartDate) {
		return fmt.Errorf("end_date must not be before start_date")
	}
	today := time.Now().Truncate(24 * time.Hour)
	if l.StartDate.Before(today) {
		return fmt.Errorf("leave cannot start in the past")
	}
	if l.IsHalfDay && !l.StartDate.Equal(l.EndDate) {
		return fmt.Errorf("half-day leave must cover a single date")
	}

	if l.IsHalfDay {
		l.TotalDays = 0.5
	} else {
		l.TotalDays = l.EndDate.Sub(l.StartDate).Hours()/24 + 1
	}

	overlapping, err := s.repo.HasOverlapping(ctx, l.DoctorID, l.StartDate, l.EndDate, uuid.Nil)
	if err != nil {
		return err
	}
	if overlapping {
		return ErrOverlapping
	}

	l.Status = StatusPending
	return s.repo.Create(ctx, l)
}

// Approve marks a pending leave approved and cancels every active appointment
// inside the leave window in the same transaction. Notifications go out after
// commit; a half-day leave still clears the whole day.
func (s *Service) Approve(ctx context.Context, id, adminID uuid.UUID) (*Leave, error) {
	l, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if l.Status != StatusPending {
		return nil, ErrAlreadyProcessed
	}

	// The cancellation reason records the leave type and when the doctor is
	// back, the day after the leave ends.
	returnDate := l.EndDate.AddDate(0, 0, 1).Format("2006-01-02")
	cancelReason := fmt.Sprintf("Doctor on %s leave, returning %s", l.LeaveType, returnDate)

	var cancelled []CancelledVisit
	err = s.tx.InTx(ctx, func(ctx context.Context) error {
		var cErr error
		cancelled, cErr = s.canceller.CancelActiveInRange(ctx, l.DoctorID, l.StartDate, l.EndDate,
			cancelReason, adminID)
		if cErr != nil {
			return fmt.Errorf("cancelling appointments: %w", cErr)
		}

		now := time.Now()
		l.Status = StatusApproved
		l.ApprovedBy = &adminID
		l.ApprovedAt = &now
		l.AffectedAppointments = make([]AffectedAppointment, 0, len(cancelled))
		for _, v := range cancelled {
			l.AffectedAppointments = append(l.AffectedAppointments, AffectedAppointment{
				AppointmentID: v.AppointmentID,
				PatientID:     v.PatientID,
				Date:          v.Date.Format("2006-01-02"),
				Time:          v.Time,
			})
		}
		return s.repo.Update(ctx, l)
	})
	if err != nil {
		return nil, err
	}

	for _, v := range cancelled {
		apptID := v.AppointmentID
		n := &notification.Notification{
			Recipient: v.PatientID,
			Type:      "appointment_cancelled",
			Title:     "Appointment Cancelled",
			Message: fmt.Sprintf("Your appointment on %s at %s was cancelled because the doctor is on %s leave. The doctor returns on %s.",
				v.Date.Format("2006-01-02"), v.Time, l.LeaveType, returnDate),
			Priority:          notification.PriorityHigh,
			Category:          "appointment",
			RelatedEntityType: "appointment",
			RelatedEntityID:   &apptID,
		}
		if err := s.notifier.Create(ctx, n); err != nil {
			s.logger.Error().Err(err).
				Str("patient", v.PatientID.String()).
				Msg("cancellation notification failed")
		}
	}

	s.notifyDoctor(ctx, l, "leave_approved", "Leave Approved",
		fmt.Sprintf("Your %s leave from %s to %s has been approved. %d appointment(s) were cancelled.",
			l.LeaveType, l.StartDate.Format("2006-01-02"), l.EndDate.Format("2006-01-02"), len(cancelled)))
	s.emailDoctor(ctx, l, "leave-approved", nil)

	return l, nil
}

// Reject declines a pending leave. The reason is mandatory and is sent to the
// doctor.
func (s *Service) Reject(ctx context.Context, id, adminID uuid.UUID, reason string) (*Leave, error) {
	if len(strings.TrimSpace(reason)) < minRejectionReasonLen {
		return nil, fmt.Errorf("rejection reason must be at least %d characters", minRejectionReasonLen)
	}
	l, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if l.Status != StatusPending {
		return nil, ErrAlreadyProcessed
	}

	l.Status = StatusRejected
	l.RejectionReason = reason
	if err := s.repo.Update(ctx, l); err != nil {
		return nil, err
	}

	s.notifyDoctor(ctx, l, "leave_rejected", "Leave Rejected",
		fmt.Sprintf("Your %s leave from %s to %s was rejected. Reason: %s",
			l.LeaveType, l.StartDate.Format("2006-01-02"), l.EndDate.Format("2006-01-02"), reason))
	s.emailDoctor(ctx, l, "leave-rejected", map[string]string{"reason": reason})

	return l, nil
}

// CancelOwn withdraws a pending leave. Only the owning doctor may do so, and
// only while the request is still pending.
func (s *Service) CancelOwn(ctx context.Context, id, doctorID uuid.UUID) (*Leave, error) {
	l, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if l.DoctorID != doctorID {
		return nil, ErrForbidden
	}
	if l.Status != StatusPending {
		return nil, ErrAlreadyProcessed
	}

	l.Status = StatusCancelled
	if err := s.repo.Update(ctx, l); err != nil {
		return nil, err
	}
	return l, nil
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Leave, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *Service) ListByDoctor(ctx context.Context, doctorID uuid.UUID, limit, offset int) ([]*Leave, int, error) {
	return s.repo.ListByDoctor(ctx, doctorID, limit, offset)
}

func (s *Service) List(ctx context.Context, status string, limit, offset int) ([]*Leave, int, error) {
	return s.repo.List(ctx, status, limit, offset)
}

// OnApprovedLeave reports whether the doctor is on approved leave on the
// given date. Used by the booking guard and the slot resolver.
func (s *Service) OnApprovedLeave(ctx context.Context, doctorID uuid.UUID, date time.Time) (bool, error) {
	return s.repo.OnApprovedLeave(ctx, doctorID, date.Truncate(24*time.Hour))
}

func (s *Service) notifyDoctor(ctx context.Context, l *Leave, nType, title, message string) {
	d, err := s.doctors.Get(ctx, l.DoctorID)
	if err != nil {
		s.logger.Error().Err(err).Str("doctor", l.DoctorID.String()).Msg("doctor lookup failed")
		return
	}
	leaveID := l.ID
	n := &notification.Notification{
		Recipient:         d.UserID,
		Type:              nType,
		Title:             title,
		Message:           message,
		Priority:          notification.PriorityNormal,
		Category:          "leave",
		RelatedEntityType: "leave",
		RelatedEntityID:   &leaveID,
	}
	if err := s.notifier.Create(ctx, n); err != nil {
		s.logger.Error().Err(err).Str("doctor", l.DoctorID.String()).Msg("leave notification failed")
	}
}

func (s *Service) emailDoctor(ctx context.Context, l *Leave, templateID string, extra map[string]string) {
	d, err := s.doctors.Get(ctx, l.DoctorID)
	if err != nil {
		s.logger.Error().Err(err).Str("doctor", l.DoctorID.String()).Msg("doctor lookup failed")
		return
	}
	u, err := s.users.GetByID(ctx, d.UserID)
	if err != nil {
		s.logger.Error().Err(err).Str("user", d.UserID.String()).Msg("user lookup failed")
		return
	}

	data := map[string]string{
		"doctor_name": u.FullName,
		"leave_type":  l.LeaveType,
		"start_date":  l.StartDate.Format("2006-01-02"),
		"end_date":    l.EndDate.Format("2006-01-02"),
	}
	for k, v := range extra {
		data[k] = v
	}
	if err := s.mailer.SendTemplate(ctx, templateID, u.Email, data); err != nil {
		s.logger.Error().Err(err).Str("to", u.Email).Str("template", templateID).Msg("email send failed")
	}
}
