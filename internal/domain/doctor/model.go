// Package doctor manages doctor profiles, weekly availability schedules,
// ad-hoc blocked slots, and the administrative suspension flow.
package doctor

import (
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/google/uuid"
)

var (
	ErrNotFound       = errors.New("doctor not found")
	ErrAlreadyExists  = errors.New("doctor profile already exists for user")
	ErrNotPending     = errors.New("doctor is not pending approval")
	ErrAlreadyBlocked = errors.New("doctor is already blocked")
	ErrNotBlocked     = errors.New("doctor is not blocked")
)

const (
	StatusPending   = "pending"
	StatusActive    = "active"
	StatusRejected  = "rejected"
	StatusSuspended = "suspended"
)

// DefaultConsultationMinutes is the slot length used when a doctor does not
// specify one.
const DefaultConsultationMinutes = 30

type Doctor struct {
	ID                   uuid.UUID  `json:"id"`
	UserID               uuid.UUID  `json:"user_id"`
	Specialty            string     `json:"specialty"`
	ConsultationDuration int        `json:"consultation_duration"`
	Status               string     `json:"status"`
	IsBlocked            bool       `json:"is_blocked"`
	BlockedAt            *time.Time `json:"blocked_at,omitempty"`
	BlockedBy            *uuid.UUID `json:"blocked_by,omitempty"`
	BlockReason          string     `json:"block_reason,omitempty"`
	CreatedAt            time.Time  `json:"created_at"`
	UpdatedAt            time.Time  `json:"updated_at"`
}

// Window is a contiguous working period within a day, in "HH:MM" wall time.
type Window struct {
	StartTime string `json:"start_time"`
	EndTime   string `json:"end_time"`
}

// DayAvailability is one weekday of a doctor's recurring schedule.
// Weekday follows time.Weekday numbering, Sunday = 0.
type DayAvailability struct {
	Weekday     int      `json:"weekday"`
	IsAvailable bool     `json:"is_available"`
	Windows     []Window `json:"windows"`
}

// BlockedSlot marks a recurring span on one weekday as unbookable, layered on
// top of the weekly schedule. Weekday follows time.Weekday numbering.
type BlockedSlot struct {
	ID        uuid.UUID `json:"id"`
	DoctorID  uuid.UUID `json:"doctor_id"`
	Weekday   int       `json:"weekday"`
	StartTime string    `json:"start_time"`
	EndTime   string    `json:"end_time"`
	Reason    string    `json:"reason,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

var timeRe = regexp.MustCompile(`^([01]\d|2[0-3]):[0-5]\d$`)

// ValidClockTime reports whether s is a well-formed 24-hour "HH:MM" string.
func ValidClockTime(s string) bool {
	return timeRe.MatchString(s)
}

// Validate checks window ordering and time format.
func (w Window) Validate() error {
	if !ValidClockTime(w.StartTime) || !ValidClockTime(w.EndTime) {
		return fmt.Errorf("window times must be HH:MM, got %s-%s", w.StartTime, w.EndTime)
	}
	if w.StartTime >= w.EndTime {
		return fmt.Errorf("window start %s must be before end %s", w.StartTime, w.EndTime)
	}
	return nil
}
