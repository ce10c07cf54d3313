package leave

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type Repository interface {
	Create(ctx context.Context, l *Leave) error
	GetByID(ctx context.Context, id uuid.UUID) (*Leave, error)
	Update(ctx context.Context, l *Leave) error
	ListByDoctor(ctx context.Context, doctorID uuid.UUID, limit, offset int) ([]*Leave, int, error)
	List(ctx context.Context, status string, limit, offset int) ([]*Leave, int, error)

	// HasOverlapping reports whether the doctor has a pending or approved
	// leave intersecting [start, end].
	HasOverlapping(ctx context.Context, doctorID uuid.UUID, start, end time.Time, excludeID uuid.UUID) (bool, error)

	// OnApprovedLeave reports whether the date falls inside an approved leave.
	OnApprovedLeave(ctx context.Context, doctorID uuid.UUID, date time.Time) (bool, error)
}
