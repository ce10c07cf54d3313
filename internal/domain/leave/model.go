// Package leave handles doctor leave requests and the appointment
// cancellation cascade that runs when a leave is approved.
package leave

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrNotFound         = errors.New("leave request not found")
	ErrAlreadyProcessed = errors.New("leave request already processed")
	ErrOverlapping      = errors.New("overlapping leave request exists")
	ErrForbidden        = errors.New("leave request belongs to another doctor")
)

const (
	StatusPending   = "pending"
	StatusApproved  = "approved"
	StatusRejected  = "rejected"
	StatusCancelled = "cancelled"
)

const (
	TypeSick      = "sick"
	TypeCasual    = "casual"
	TypeVacation  = "vacation"
	TypeEmergency = "emergency"
)

func ValidType(t string) bool {
	switch t {
	case TypeSick, TypeCasual, TypeVacation, TypeEmergency:
		return true
	}
	return false
}

// AffectedAppointment records one appointment cancelled by an approval
// cascade. Stored on the leave as a JSONB audit trail.
type AffectedAppointment struct {
	AppointmentID uuid.UUID `json:"appointment_id"`
	PatientID     uuid.UUID `json:"patient_id"`
	Date          string    `json:"date"`
	Time          string    `json:"time"`
}

type Leave struct {
	ID                   uuid.UUID             `json:"id"`
	DoctorID             uuid.UUID             `json:"doctor_id"`
	LeaveType            string                `json:"leave_type"`
	StartDate            time.Time             `json:"start_date"`
	EndDate              time.Time             `json:"end_date"`
	IsHalfDay            bool                  `json:"is_half_day"`
	TotalDays            float64               `json:"total_days"`
	Reason               string                `json:"reason"`
	Status               string                `json:"status"`
	AffectedAppointments []AffectedAppointment `json:"affected_appointments,omitempty"`
	ApprovedBy           *uuid.UUID            `json:"approved_by,omitempty"`
	ApprovedAt           *time.Time            `json:"approved_at,omitempty"`
	RejectionReason      string                `json:"rejection_reason,omitempty"`
	CreatedAt            time.Time             `json:"created_at"`
	UpdatedAt            time.Time             `json:"updated_at"`
}
