package doctor

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/hms/hms/internal/domain/identity"
	"github.com/hms/hms/internal/domain/notification"
)

// minBlockReasonLen keeps suspension reasons meaningful for the audit trail.
const minBlockReasonLen = 10

// CancelledVisit describes one appointment removed by a suspension or
// deletion cascade.
type CancelledVisit struct {
	AppointmentID uuid.UUID
	PatientID     uuid.UUID
	Date          time.Time
	Time          string
}

// AppointmentCanceller cancels a doctor's active appointments from a given
// date onward. Implemented by the appointment service; declared here to keep
// the dependency pointing inward.
type AppointmentCanceller interface {
	CancelActiveFrom(ctx context.Context, doctorID uuid.UUID, from time.Time, reason string, cancelledBy uuid.UUID) ([]CancelledVisit, error)
}

type UserStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*identity.User, error)
	Delete(ctx context.Context, id uuid.UUID) error
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

// SuspensionResult summarizes a block or delete cascade.
type SuspensionResult struct {
	CancelledAppointments int `json:"cancelled_appointments"`
	NotifiedPatients      int `json:"notified_patients"`
}

type Service struct {
	repo      Repository
	blocked   BlockedSlotRepository
	users     UserStore
	notifier  Notifier
	mailer    Mailer
	canceller AppointmentCanceller
	tx        TxRunner
	logger    zerolog.Logger
}

func NewService(repo Repository, blocked BlockedSlotRepository, users UserStore,
	notifier Notifier, mailer Mailer, tx TxRunner, logger zerolog.Logger) *Service {
	return &Service{
		repo:     repo,
		blocked:  blocked,
		users:    users,
		notifier: notifier,
		mailer:   mailer,
		tx:       tx,
		logger:   logger,
	}
}

// SetCanceller wires the appointment cascade after construction, breaking the
// package cycle between doctor and appointment.
func (s *Service) SetCanceller(c AppointmentCanceller) {
	s.canceller = c
}

// Register creates a pending doctor profile for an existing user.
func (s *Service) Register(ctx context.Context, userID uuid.UUID, specialty string, consultationMinutes int) (*Doctor, error) {
	u, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("looking up user: %w", err)
	}
	if u.Role != identity.RoleDoctor {
		return nil, fmt.Errorf("user %s does not have the doctor role", userID)
	}
	if strings.TrimSpace(specialty) == "" {
		return nil, fmt.Errorf("specialty is required")
	}
	if consultationMinutes == 0 {
		consultationMinutes = DefaultConsultationMinutes
	}
	if consultationMinutes < 5 || consultationMinutes > 240 {
		return nil, fmt.Errorf("consultation_duration must be between 5 and 240 minutes")
	}

	d := &Doctor{
		UserID:               userID,
		Specialty:            specialty,
		ConsultationDuration: consultationMinutes,
		Status:               StatusPending,
	}
	if err := s.repo.Create(ctx, d); err != nil {
		return nil, err
	}
	return d, nil
}

func (s *Service) Approve(ctx context.Context, id uuid.UUID) (*Doctor, error) {
	d, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if d.Status != StatusPending {
		return nil, ErrNotPending
	}
	d.Status = StatusActive
	if err := s.repo.Update(ctx, d); err != nil {
		return nil, err
	}

	s.notify(ctx, d.UserID, "doctor_approved", "Profile Approved",
		"Your doctor profile has been approved. You can now receive appointments.",
		notification.PriorityNormal, "doctor", d.ID)
	return d, nil
}

func (s *Service) Reject(ctx context.Context, id uuid.UUID, reason string) (*Doctor, error) {
	d, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if d.Status != StatusPending {
		return nil, ErrNotPending
	}
	d.Status = StatusRejected
	if err := s.repo.Update(ctx, d); err != nil {
		return nil, err
	}

	msg := "Your doctor profile application was rejected."
	if reason != "" {
		msg += " Reason: " + reason
	}
	s.notify(ctx, d.UserID, "doctor_rejected", "Profile Rejected", msg,
		notification.PriorityNormal, "doctor", d.ID)
	return d, nil
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Doctor, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *Service) GetByUserID(ctx context.Context, userID uuid.UUID) (*Doctor, error) {
	return s.repo.GetByUserID(ctx, userID)
}

func (s *Service) List(ctx context.Context, status, specialty string, limit, offset int) ([]*Doctor, int, error) {
	return s.repo.List(ctx, status, specialty, limit, offset)
}

// UpdateWeeklySchedule replaces the doctor's recurring schedule. Exactly one
// entry per weekday is required; windows within a day must be well-formed and
// non-overlapping.
func (s *Service) UpdateWeeklySchedule(ctx context.Context, doctorID uuid.UUID, days []DayAvailability) error {
	if _, err := s.repo.GetByID(ctx, doctorID); err != nil {
		return err
	}
	if len(days) != 7 {
		return fmt.Errorf("schedule must cover all 7 weekdays, got %d entries", len(days))
	}

	seen := make(map[int]bool, 7)
	for _, day := range days {
		if day.Weekday < 0 || day.Weekday > 6 {
			return fmt.Errorf("invalid weekday %d", day.Weekday)
		}
		if seen[day.Weekday] {
			return fmt.Errorf("duplicate entry for weekday %d", day.Weekday)
		}
		seen[day.Weekday] = true

		if !day.IsAvailable {
			if len(day.Windows) > 0 {
				return fmt.Errorf("weekday %d is unavailable but has windows", day.Weekday)
			}
			continue
		}
		if len(day.Windows) == 0 {
			return fmt.Errorf("weekday %d is available but has no windows", day.Weekday)
		}

		windows := append([]Window(nil), day.Windows...)
		sort.Slice(windows, func(i, j int) bool { return windows[i].StartTime < windows[j].StartTime })
		for i, w := range windows {
			if err := w.Validate(); err != nil {
				return fmt.Errorf("weekday %d: %w", day.Weekday, err)
			}
			if i > 0 && windows[i-1].EndTime > w.StartTime {
				return fmt.Errorf("weekday %d: windows %s-%s and %s-%s overlap", day.Weekday,
					windows[i-1].StartTime, windows[i-1].EndTime, w.StartTime, w.EndTime)
			}
		}
	}

	return s.tx.InTx(ctx, func(ctx context.Context) error {
		return s.repo.ReplaceWeeklySchedule(ctx, doctorID, days)
	})
}

func (s *Service) WeeklySchedule(ctx context.Context, doctorID uuid.UUID) ([]DayAvailability, error) {
	if _, err := s.repo.GetByID(ctx, doctorID); err != nil {
		return nil, err
	}
	return s.repo.WeeklySchedule(ctx, doctorID)
}

func (s *Service) AddBlockedSlot(ctx context.Context, bs *BlockedSlot) error {
	if _, err := s.repo.GetByID(ctx, bs.DoctorID); err != nil {
		return err
	}
	if err := (Window{StartTime: bs.StartTime, EndTime: bs.EndTime}).Validate(); err != nil {
		return err
	}
	if bs.Weekday < 0 || bs.Weekday > 6 {
		return fmt.Errorf("weekday must be 0-6, got %d", bs.Weekday)
	}
	return s.blocked.Create(ctx, bs)
}

func (s *Service) RemoveBlockedSlot(ctx context.Context, doctorID, id uuid.UUID) error {
	return s.blocked.Delete(ctx, doctorID, id)
}

func (s *Service) BlockedSlots(ctx context.Context, doctorID uuid.UUID) ([]*BlockedSlot, error) {
	if _, err := s.repo.GetByID(ctx, doctorID); err != nil {
		return nil, err
	}
	return s.blocked.ListByDoctor(ctx, doctorID)
}

// Block flags a doctor and cancels all their future active appointments in
// one transaction. The cascade runs before the flag update so a retried block
// after a partial failure re-covers any appointments left behind. The
// approval status is untouched; blocking is independent of the approval
// lifecycle.
func (s *Service) Block(ctx context.Context, doctorID, adminID uuid.UUID, reason string) (*SuspensionResult, error) {
	if len(strings.TrimSpace(reason)) < minBlockReasonLen {
		return nil, fmt.Errorf("block reason must be at least %d characters", minBlockReasonLen)
	}
	d, err := s.repo.GetByID(ctx, doctorID)
	if err != nil {
		return nil, err
	}
	if d.IsBlocked {
		return nil, ErrAlreadyBlocked
	}

	var cancelled []CancelledVisit
	err = s.tx.InTx(ctx, func(ctx context.Context) error {
		var cErr error
		cancelled, cErr = s.canceller.CancelActiveFrom(ctx, doctorID, time.Now(),
			"Doctor unavailable: "+reason, adminID)
		if cErr != nil {
			return fmt.Errorf("cancelling appointments: %w", cErr)
		}

		now := time.Now()
		d.IsBlocked = true
		d.BlockedAt = &now
		d.BlockedBy = &adminID
		d.BlockReason = reason
		return s.repo.Update(ctx, d)
	})
	if err != nil {
		return nil, err
	}

	result := &SuspensionResult{CancelledAppointments: len(cancelled)}
	result.NotifiedPatients = s.notifyCancelledVisits(ctx, cancelled,
		"Your appointment on %s at %s was cancelled because the doctor is no longer available.")

	s.notify(ctx, d.UserID, "doctor_blocked", "Account Suspended",
		"Your account has been suspended. Reason: "+reason,
		notification.PriorityHigh, "doctor", d.ID)
	s.emailDoctor(ctx, d, "doctor-blocked", map[string]string{"reason": reason})

	return result, nil
}

// Unblock lifts a block. Past cancellations stay cancelled and the approval
// status the doctor had before the block still stands.
func (s *Service) Unblock(ctx context.Context, doctorID uuid.UUID) (*Doctor, error) {
	d, err := s.repo.GetByID(ctx, doctorID)
	if err != nil {
		return nil, err
	}
	if !d.IsBlocked {
		return nil, ErrNotBlocked
	}

	d.IsBlocked = false
	d.BlockedAt = nil
	d.BlockedBy = nil
	d.BlockReason = ""
	if err := s.repo.Update(ctx, d); err != nil {
		return nil, err
	}

	s.notify(ctx, d.UserID, "doctor_unblocked", "Account Restored",
		"Your account suspension has been lifted. You can receive appointments again.",
		notification.PriorityNormal, "doctor", d.ID)
	return d, nil
}

// Delete removes a doctor and their user account after cancelling all future
// active appointments. The whole cascade is one transaction.
func (s *Service) Delete(ctx context.Context, doctorID, adminID uuid.UUID) (*SuspensionResult, error) {
	d, err := s.repo.GetByID(ctx, doctorID)
	if err != nil {
		return nil, err
	}

	var cancelled []CancelledVisit
	err = s.tx.InTx(ctx, func(ctx context.Context) error {
		var cErr error
		cancelled, cErr = s.canceller.CancelActiveFrom(ctx, doctorID, time.Now(),
			"Doctor no longer practices at this hospital", adminID)
		if cErr != nil {
			return fmt.Errorf("cancelling appointments: %w", cErr)
		}
		if err := s.repo.Delete(ctx, doctorID); err != nil {
			return err
		}
		return s.users.Delete(ctx, d.UserID)
	})
	if err != nil {
		return nil, err
	}

	result := &SuspensionResult{CancelledAppointments: len(cancelled)}
	result.NotifiedPatients = s.notifyCancelledVisits(ctx, cancelled,
		"Your appointment on %s at %s was cancelled because the doctor is no longer with the hospital.")
	return result, nil
}

// notify creates an in-app notification, logging instead of failing the
// operation when the write does not succeed.
func (s *Service) notify(ctx context.Context, recipient uuid.UUID, nType, title, message, priority, entityType string, entityID uuid.UUID) {
	n := &notification.Notification{
		Recipient:         recipient,
		Type:              nType,
		Title:             title,
		Message:           message,
		Priority:          priority,
		Category:          "doctor",
		RelatedEntityType: entityType,
		RelatedEntityID:   &entityID,
	}
	if err := s.notifier.Create(ctx, n); err != nil {
		s.logger.Error().Err(err).
			Str("recipient", recipient.String()).
			Str("type", nType).
			Msg("notification write failed")
	}
}

func (s *Service) notifyCancelledVisits(ctx context.Context, cancelled []CancelledVisit, format string) int {
	notified := 0
	for _, v := range cancelled {
		apptID := v.AppointmentID
		n := &notification.Notification{
			Recipient:         v.PatientID,
			Type:              "appointment_cancelled",
			Title:             "Appointment Cancelled",
			Message:           fmt.Sprintf(format, v.Date.Format("2006-01-02"), v.Time),
			Priority:          notification.PriorityHigh,
			Category:          "appointment",
			RelatedEntityType: "appointment",
			RelatedEntityID:   &apptID,
		}
		if err := s.notifier.Create(ctx, n); err != nil {
			s.logger.Error().Err(err).
				Str("patient", v.PatientID.String()).
				Str("appointment", v.AppointmentID.String()).
				Msg("cancellation notification failed")
			continue
		}
		notified++
	}
	return notified
}

func (s *Service) emailDoctor(ctx context.Context, d *Doctor, templateID string, data map[string]string) {
	u, err := s.users.GetByID(ctx, d.UserID)
	if err != nil {
		s.logger.Error().Err(err).Str("doctor", d.ID.String()).Msg("email lookup failed")
		return
	}
	if data == nil {
		data = map[string]string{}
	}
	data["doctor_name"] = u.FullName
	if err := s.mailer.SendTemplate(ctx, templateID, u.Email, data); err != nil {
		s.logger.Error().Err(err).Str("to", u.Email).Str("template", templateID).Msg("email send failed")
	}
}
