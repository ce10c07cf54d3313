package appointment

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/hms/hms/internal/domain/doctor"
	"github.com/hms/hms/internal/domain/identity"
	"github.com/hms/hms/internal/domain/notification"
)

// DoctorDirectory exposes the doctor data the resolver and booking guard
// need.
type DoctorDirectory interface {
	Get(ctx context.Context, id uuid.UUID) (*doctor.Doctor, error)
	WeeklySchedule(ctx context.Context, id uuid.UUID) ([]doctor.DayAvailability, error)
	BlockedSlotsOn(ctx context.Context, id uuid.UUID, date time.Time) ([]*doctor.BlockedSlot, error)
}

// LeaveCalendar answers whether a doctor is on approved leave on a date.
type LeaveCalendar interface {
	OnApprovedLeave(ctx context.Context, doctorID uuid.UUID, date time.Time) (bool, error)
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

// Actor is the authenticated principal acting on an appointment.
type Actor struct {
	UserID uuid.UUID
	Admin  bool
}

type Service struct {
	repo     Repository
	doctors  DoctorDirectory
	leaves   LeaveCalendar
	users    UserStore
	notifier Notifier
	mailer   Mailer
	tx       TxRunner
	logger   zerolog.Logger
}

func NewService(repo Repository, doctors DoctorDirectory, leaves LeaveCalendar, users UserStore,
	notifier Notifier, mailer Mailer, tx TxRunner, logger zerolog.Logger) *Service {
	return &Service{
		repo:     repo,
		doctors:  doctors,
		leaves:   leaves,
		users:    users,
		notifier: notifier,
		mailer:   mailer,
		tx:       tx,
		logger:   logger,
	}
}

func clockToMinutes(s string) int {
	h, _ := strconv.Atoi(s[:2])
	m, _ := strconv.Atoi(s[3:])
	return h*60 + m
}

func minutesToClock(m int) string {
	return fmt.Sprintf("%02d:%02d", m/60, m%60)
}

// AvailableSlots resolves the bookable positions for a doctor on a date. The
// recurring schedule yields candidate start times stepping through each
// window at the doctor's consultation duration; candidates run up to the
// window's end time exclusive. Blocked spans remove candidates, an approved
// leave clears the day, and booked slots come back flagged unavailable.
func (s *Service) AvailableSlots(ctx context.Context, doctorID uuid.UUID, date time.Time) ([]SlotView, error) {
	date = date.Truncate(24 * time.Hour)
	if date.Before(time.Now().Truncate(24 * time.Hour)) {
		return nil, ErrPastDate
	}

	d, err := s.doctors.Get(ctx, doctorID)
	if err != nil {
		return nil, err
	}
	if d.Status != doctor.StatusActive || d.IsBlocked {
		return []SlotView{}, nil
	}

	onLeave, err := s.leaves.OnApprovedLeave(ctx, doctorID, date)
	if err != nil {
		return nil, err
	}
	if onLeave {
		return []SlotView{}, nil
	}

	schedule, err := s.doctors.WeeklySchedule(ctx, doctorID)
	if err != nil {
		return nil, err
	}
	var day *doctor.DayAvailability
	weekday := int(date.Weekday())
	for i := range schedule {
		if schedule[i].Weekday == weekday {
			day = &schedule[i]
			break
		}
	}
	if day == nil || !day.IsAvailable {
		return []SlotView{}, nil
	}

	duration := d.ConsultationDuration
	if duration <= 0 {
		duration = doctor.DefaultConsultationMinutes
	}

	var candidates []int
	for _, w := range day.Windows {
		start := clockToMinutes(w.StartTime)
		end := clockToMinutes(w.EndTime)
		for t := start; t < end; t += duration {
			candidates = append(candidates, t)
		}
	}
	sort.Ints(candidates)

	blocked, err := s.doctors.BlockedSlotsOn(ctx, doctorID, date)
	if err != nil {
		return nil, err
	}

	bookedTimes, err := s.repo.BookedTimes(ctx, doctorID, date)
	if err != nil {
		return nil, err
	}
	booked := make(map[string]bool, len(bookedTimes))
	for _, t := range bookedTimes {
		booked[t] = true
	}

	slots := make([]SlotView, 0, len(candidates))
	for _, t := range candidates {
		if overlapsBlocked(t, t+duration, blocked) {
			continue
		}
		clock := minutesToClock(t)
		slots = append(slots, SlotView{Time: clock, Available: !booked[clock]})
	}
	return slots, nil
}

func overlapsBlocked(start, end int, blocked []*doctor.BlockedSlot) bool {
	for _, b := range blocked {
		bStart := clockToMinutes(b.StartTime)
		bEnd := clockToMinutes(b.EndTime)
		if start < bEnd && end > bStart {
			return true
		}
	}
	return false
}

// Book places an appointment if the slot is open and notifies both parties.
// The database's partial unique index is the final arbiter under concurrency;
// a losing writer gets ErrSlotTaken.
func (s *Service) Book(ctx context.Context, a *Appointment) error {
	d, err := s.place(ctx, a)
	if err != nil {
		return err
	}
	s.notifyBooking(ctx, a, d)
	return nil
}

// place runs the booking guard and persists the appointment without
// notifying anyone.
func (s *Service) place(ctx context.Context, a *Appointment) (*doctor.Doctor, error) {
	if a.Type == "" {
		a.Type = TypeInPerson
	}
	if a.Type != TypeInPerson && a.Type != TypeEmergency {
		return nil, fmt.Errorf("invalid appointment type: %s", a.Type)
	}
	if !doctor.ValidClockTime(a.Time) {
		return nil, fmt.Errorf("time must be HH:MM, got %q", a.Time)
	}

	a.Date = a.Date.Truncate(24 * time.Hour)
	today := time.Now().Truncate(24 * time.Hour)
	if a.Date.Before(today) {
		return nil, fmt.Errorf("cannot book a past date")
	}
	if a.Date.After(today.Add(maxAdvanceBooking)) {
		return nil, fmt.Errorf("cannot book more than 3 months ahead")
	}

	if _, err := s.users.GetByID(ctx, a.PatientID); err != nil {
		return nil, fmt.Errorf("looking up patient: %w", err)
	}

	d, err := s.doctors.Get(ctx, a.DoctorID)
	if err != nil {
		return nil, err
	}
	if d.Status != doctor.StatusActive || d.IsBlocked {
		return nil, ErrDoctorUnavailable
	}

	onLeave, err := s.leaves.OnApprovedLeave(ctx, a.DoctorID, a.Date)
	if err != nil {
		return nil, err
	}
	if onLeave {
		return nil, ErrDoctorUnavailable
	}

	// Emergency visits skip the schedule check; they still contend for the
	// slot through the unique index.
	if a.Type != TypeEmergency {
		slots, err := s.AvailableSlots(ctx, a.DoctorID, a.Date)
		if err != nil {
			return nil, err
		}
		found := false
		for _, slot := range slots {
			if slot.Time == a.Time {
				if !slot.Available {
					return nil, ErrSlotTaken
				}
				found = true
				break
			}
		}
		if !found {
			return nil, ErrSlotUnavailable
		}
	}

	a.Status = StatusScheduled
	if err := s.repo.Create(ctx, a); err != nil {
		return nil, err
	}
	return d, nil
}

// isAppointmentDoctor reports whether the actor is the doctor on the
// appointment.
func (s *Service) isAppointmentDoctor(ctx context.Context, actor Actor, a *Appointment) bool {
	d, err := s.doctors.Get(ctx, a.DoctorID)
	return err == nil && d.UserID == actor.UserID
}

// Cancel marks an active appointment cancelled. Only the patient, the
// appointment's doctor or an admin may cancel.
func (s *Service) Cancel(ctx context.Context, id uuid.UUID, actor Actor, reason string) (*Appointment, error) {
	a, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !actor.Admin && actor.UserID != a.PatientID && !s.isAppointmentDoctor(ctx, actor, a) {
		return nil, ErrForbidden
	}
	if !IsActive(a.Status) {
		return nil, ErrNotActive
	}

	now := time.Now()
	a.Status = StatusCancelled
	a.CancellationReason = reason
	a.CancelledBy = &actor.UserID
	a.CancelledAt = &now
	if err := s.repo.Update(ctx, a); err != nil {
		return nil, err
	}

	s.notifyPatient(ctx, a, "appointment_cancelled", "Appointment Cancelled",
		fmt.Sprintf("Your appointment on %s at %s has been cancelled.", a.Date.Format("2006-01-02"), a.Time))
	s.emailPatient(ctx, a, "appointment-cancelled", map[string]string{"reason": reason})
	return a, nil
}

// Reschedule moves an active appointment to a new slot. Only the patient who
// owns it or an admin may reschedule. The original becomes rescheduled and a
// fresh appointment goes through the full booking guard, so a conflict on the
// new slot leaves the original untouched. The patient hears about the move
// once, as a reschedule; the booking-side notifications stay quiet.
func (s *Service) Reschedule(ctx context.Context, id uuid.UUID, newDate time.Time, newTime string, actor Actor) (*Appointment, error) {
	old, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !actor.Admin && actor.UserID != old.PatientID {
		return nil, ErrForbidden
	}
	if !IsActive(old.Status) {
		return nil, ErrNotActive
	}

	replacement := &Appointment{
		DoctorID:  old.DoctorID,
		PatientID: old.PatientID,
		Date:      newDate,
		Time:      newTime,
		Type:      old.Type,
		Reason:    old.Reason,
	}

	err = s.tx.InTx(ctx, func(ctx context.Context) error {
		old.Status = StatusRescheduled
		if err := s.repo.Update(ctx, old); err != nil {
			return err
		}
		_, err := s.place(ctx, replacement)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.notifyPatient(ctx, replacement, "appointment_rescheduled", "Appointment Rescheduled",
		fmt.Sprintf("Your appointment has been moved to %s at %s.", replacement.Date.Format("2006-01-02"), replacement.Time))
	s.emailPatient(ctx, replacement, "appointment-rescheduled", nil)
	return replacement, nil
}

// UpdateStatus moves an active appointment to completed or no_show. Only the
// appointment's doctor or an admin may change the status.
func (s *Service) UpdateStatus(ctx context.Context, id uuid.UUID, status string, actor Actor) (*Appointment, error) {
	if status != StatusCompleted && status != StatusNoShow && status != StatusConfirmed {
		return nil, fmt.Errorf("invalid status transition target: %s", status)
	}
	a, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !actor.Admin && !s.isAppointmentDoctor(ctx, actor, a) {
		return nil, ErrForbidden
	}
	if !IsActive(a.Status) {
		return nil, ErrNotActive
	}

	a.Status = status
	if err := s.repo.Update(ctx, a); err != nil {
		return nil, err
	}
	return a, nil
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *Service) ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*Appointment, int, error) {
	return s.repo.ListByPatient(ctx, patientID, limit, offset)
}

func (s *Service) ListByDoctor(ctx context.Context, doctorID uuid.UUID, date *time.Time, limit, offset int) ([]*Appointment, int, error) {
	return s.repo.ListByDoctor(ctx, doctorID, date, limit, offset)
}

// CancelActiveInRange powers the leave approval cascade. It joins whatever
// transaction is on the context.
func (s *Service) CancelActiveInRange(ctx context.Context, doctorID uuid.UUID, from, to time.Time, reason string, cancelledBy uuid.UUID) ([]*Appointment, error) {
	return s.repo.CancelActiveInRange(ctx, doctorID, from, &to, reason, cancelledBy)
}

// CancelActiveFrom powers the doctor suspension and deletion cascades.
func (s *Service) CancelActiveFrom(ctx context.Context, doctorID uuid.UUID, from time.Time, reason string, cancelledBy uuid.UUID) ([]*Appointment, error) {
	return s.repo.CancelActiveInRange(ctx, doctorID, from.Truncate(24*time.Hour), nil, reason, cancelledBy)
}

func (s *Service) notifyBooking(ctx context.Context, a *Appointment, d *doctor.Doctor) {
	apptID := a.ID
	patientNote := &notification.Notification{
		Recipient: a.PatientID,
		Type:      "appointment_booked",
		Title:     "Appointment Booked",
		Message: fmt.Sprintf("Your appointment on %s at %s has been booked.",
			a.Date.Format("2006-01-02"), a.Time),
		Priority:          notification.PriorityNormal,
		Category:          "appointment",
		RelatedEntityType: "appointment",
		RelatedEntityID:   &apptID,
	}
	if err := s.notifier.Create(ctx, patientNote); err != nil {
		s.logger.Error().Err(err).Str("appointment", a.ID.String()).Msg("patient notification failed")
	}

	doctorNote := &notification.Notification{
		Recipient: d.UserID,
		Type:      "appointment_booked",
		Title:     "New Appointment",
		Message: fmt.Sprintf("A new appointment was booked for %s at %s.",
			a.Date.Format("2006-01-02"), a.Time),
		Priority:          notification.PriorityNormal,
		Category:          "appointment",
		RelatedEntityType: "appointment",
		RelatedEntityID:   &apptID,
	}
	if err := s.notifier.Create(ctx, doctorNote); err != nil {
		s.logger.Error().Err(err).Str("appointment", a.ID.String()).Msg("doctor notification failed")
	}

	s.emailPatient(ctx, a, "appointment-confirmed", nil)
}

func (s *Service) notifyPatient(ctx context.Context, a *Appointment, nType, title, message string) {
	apptID := a.ID
	n := &notification.Notification{
		Recipient:         a.PatientID,
		Type:              nType,
		Title:             title,
		Message:           message,
		Priority:          notification.PriorityHigh,
		Category:          "appointment",
		RelatedEntityType: "appointment",
		RelatedEntityID:   &apptID,
	}
	if err := s.notifier.Create(ctx, n); err != nil {
		s.logger.Error().Err(err).Str("appointment", a.ID.String()).Msg("patient notification failed")
	}
}

func (s *Service) emailPatient(ctx context.Context, a *Appointment, templateID string, extra map[string]string) {
	patient, err := s.users.GetByID(ctx, a.PatientID)
	if err != nil {
		s.logger.Error().Err(err).Str("patient", a.PatientID.String()).Msg("patient lookup failed")
		return
	}

	data := map[string]string{
		"patient_name": patient.FullName,
		"date":         a.Date.Format("2006-01-02"),
		"time":         a.Time,
	}
	if d, err := s.doctors.Get(ctx, a.DoctorID); err == nil {
		if u, err := s.users.GetByID(ctx, d.UserID); err == nil {
			data["doctor_name"] = u.FullName
		}
	}
	for k, v := range extra {
		data[k] = v
	}
	if err := s.mailer.SendTemplate(ctx, templateID, patient.Email, data); err != nil {
		s.logger.Error().Err(err).Str("to", patient.Email).Str("template", templateID).Msg("email send failed")
	}
}
