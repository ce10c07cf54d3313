package appointment

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type Repository interface {
	Create(ctx context.Context, a *Appointment) error
	GetByID(ctx context.Context, id uuid.UUID) (*Appointment, error)
	Update(ctx context.Context, a *Appointment) error
	ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*Appointment, int, error)
	ListByDoctor(ctx context.Context, doctorID uuid.UUID, date *time.Time, limit, offset int) ([]*Appointment, int, error)

	// BookedTimes returns the start times of active appointments for the
	// doctor on the date.
	BookedTimes(ctx context.Context, doctorID uuid.UUID, date time.Time) ([]string, error)

	// CancelActiveInRange cancels every active appointment for the doctor
	// with date in [from, to] and returns the cancelled rows. A nil to leaves
	// the range open-ended.
	CancelActiveInRange(ctx context.Context, doctorID uuid.UUID, from time.Time, to *time.Time, reason string, cancelledBy uuid.UUID) ([]*Appointment, error)
}
