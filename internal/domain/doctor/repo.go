package doctor

import (
	"context"

	"github.com/google/uuid"
)

type Repository interface {
	Create(ctx context.Context, d *Doctor) error
	GetByID(ctx context.Context, id uuid.UUID) (*Doctor, error)
	GetByUserID(ctx context.Context, userID uuid.UUID) (*Doctor, error)
	Update(ctx context.Context, d *Doctor) error
	Delete(ctx context.Context, id uuid.UUID) error
	List(ctx context.Context, status, specialty string, limit, offset int) ([]*Doctor, int, error)

	// WeeklySchedule returns the recurring schedule, one entry per weekday.
	// Days with no stored row come back as unavailable.
	WeeklySchedule(ctx context.Context, doctorID uuid.UUID) ([]DayAvailability, error)
	ReplaceWeeklySchedule(ctx context.Context, doctorID uuid.UUID, days []DayAvailability) error
}

type BlockedSlotRepository interface {
	Create(ctx context.Context, bs *BlockedSlot) error
	Delete(ctx context.Context, doctorID, id uuid.UUID) error
	ListByDoctor(ctx context.Context, doctorID uuid.UUID) ([]*BlockedSlot, error)
	ListByDoctorAndWeekday(ctx context.Context, doctorID uuid.UUID, weekday int) ([]*BlockedSlot, error)
}
