// Package appointment implements slot resolution against doctor schedules and
// the booking guard that keeps two patients out of the same slot.
package appointment

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrNotFound          = errors.New("appointment not found")
	ErrSlotTaken         = errors.New("slot is already booked")
	ErrSlotUnavailable   = errors.New("slot is not available")
	ErrDoctorUnavailable = errors.New("doctor is not accepting appointments")
	ErrNotActive         = errors.New("appointment is not active")
	ErrPastDate          = errors.New("date is in the past")
	ErrForbidden         = errors.New("not a party to this appointment")
)

const (
	StatusScheduled   = "scheduled"
	StatusConfirmed   = "confirmed"
	StatusCompleted   = "completed"
	StatusCancelled   = "cancelled"
	StatusNoShow      = "no_show"
	StatusRescheduled = "rescheduled"
)

const (
	TypeInPerson  = "in-person"
	TypeEmergency = "emergency"
)

// maxAdvanceBooking bounds how far ahead a visit can be booked.
const maxAdvanceBooking = 3 * 31 * 24 * time.Hour

// ActiveStatuses are the statuses that occupy a slot.
var ActiveStatuses = []string{StatusScheduled, StatusConfirmed}

func IsActive(status string) bool {
	return status == StatusScheduled || status == StatusConfirmed
}

type Appointment struct {
	ID                 uuid.UUID  `json:"id"`
	DoctorID           uuid.UUID  `json:"doctor_id"`
	PatientID          uuid.UUID  `json:"patient_id"`
	Date               time.Time  `json:"date"`
	Time               string     `json:"time"`
	Type               string     `json:"type"`
	Reason             string     `json:"reason,omitempty"`
	Status             string     `json:"status"`
	CancellationReason string     `json:"cancellation_reason,omitempty"`
	CancelledBy        *uuid.UUID `json:"cancelled_by,omitempty"`
	CancelledAt        *time.Time `json:"cancelled_at,omitempty"`
	CreatedAt          time.Time  `json:"created_at"`
	UpdatedAt          time.Time  `json:"updated_at"`
}

// SlotView is one bookable position in a doctor's day.
type SlotView struct {
	Time      string `json:"time"`
	Available bool   `json:"available"`
}
