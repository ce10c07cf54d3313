package doctor

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hms/hms/internal/platform/db"
)

type repoPG struct{ pool *pgxpool.Pool }

func NewRepoPG(pool *pgxpool.Pool) Repository { return &repoPG{pool: pool} }

func (r *repoPG) conn(ctx context.Context) db.Queryable {
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return r.pool
}

const doctorCols = `id, user_id, specialty, consultation_duration, status,
	is_blocked, blocked_at, blocked_by, block_reason, created_at, updated_at`

func scanDoctor(row pgx.Row) (*Doctor, error) {
	var d Doctor
	err := row.Scan(&d.ID, &d.UserID, &d.Specialty, &d.ConsultationDuration, &d.Status,
		&d.IsBlocked, &d.BlockedAt, &d.BlockedBy, &d.BlockReason, &d.CreatedAt, &d.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return &d, err
}

func (r *repoPG) Create(ctx context.Context, d *Doctor) error {
	if d.ID == uuid.Nil {
		d.ID = uuid.New()
	}
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO doctors (id, user_id, specialty, consultation_duration, status)
		VALUES ($1,$2,$3,$4,$5)
		RETURNING created_at, updated_at`,
		d.ID, d.UserID, d.Specialty, d.ConsultationDuration, d.Status).Scan(&d.CreatedAt, &d.UpdatedAt)
	if db.IsUniqueViolation(err, "doctors_user_id_key") {
		return ErrAlreadyExists
	}
	return err
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*Doctor, error) {
	return scanDoctor(r.conn(ctx).QueryRow(ctx, `SELECT `+doctorCols+` FROM doctors WHERE id = $1`, id))
}

func (r *repoPG) GetByUserID(ctx context.Context, userID uuid.UUID) (*Doctor, error) {
	return scanDoctor(r.conn(ctx).QueryRow(ctx, `SELECT `+doctorCols+` FROM doctors WHERE user_id = $1`, userID))
}

func (r *repoPG) Update(ctx context.Context, d *Doctor) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE doctors SET specialty=$2, consultation_duration=$3, status=$4,
			is_blocked=$5, blocked_at=$6, blocked_by=$7, block_reason=$8, updated_at=NOW()
		WHERE id = $1`,
		d.ID, d.Specialty, d.ConsultationDuration, d.Status,
		d.IsBlocked, d.BlockedAt, d.BlockedBy, d.BlockReason)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *repoPG) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.conn(ctx).Exec(ctx, `DELETE FROM doctors WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *repoPG) List(ctx context.Context, status, specialty string, limit, offset int) ([]*Doctor, int, error) {
	where := ` WHERE 1=1`
	var args []interface{}
	idx := 1
	if status != "" {
		where += fmt.Sprintf(` AND status = $%d`, idx)
		args = append(args, status)
		idx++
	}
	if specialty != "" {
		where += fmt.Sprintf(` AND specialty = $%d`, idx)
		args = append(args, specialty)
		idx++
	}

	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM doctors`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := fmt.Sprintf(`SELECT `+doctorCols+` FROM doctors`+where+` ORDER BY created_at DESC LIMIT $%d OFFSET $%d`, idx, idx+1)
	args = append(args, limit, offset)

	rows, err := r.conn(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var items []*Doctor
	for rows.Next() {
		d, err := scanDoctor(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, d)
	}
	return items, total, rows.Err()
}

func (r *repoPG) WeeklySchedule(ctx context.Context, doctorID uuid.UUID) ([]DayAvailability, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT da.weekday, da.is_available, w.start_time, w.end_time
		FROM doctor_availability da
		LEFT JOIN availability_windows w ON w.availability_id = da.id
		WHERE da.doctor_id = $1
		ORDER BY da.weekday, w.start_time`, doctorID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	byDay := make(map[int]*DayAvailability)
	for rows.Next() {
		var weekday int
		var isAvailable bool
		var start, end *string
		if err := rows.Scan(&weekday, &isAvailable, &start, &end); err != nil {
			return nil, err
		}
		day, ok := byDay[weekday]
		if !ok {
			day = &DayAvailability{Weekday: weekday, IsAvailable: isAvailable}
			byDay[weekday] = day
		}
		if start != nil && end != nil {
			day.Windows = append(day.Windows, Window{StartTime: *start, EndTime: *end})
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Always return all seven days so callers never guess about gaps.
	out := make([]DayAvailability, 7)
	for i := 0; i < 7; i++ {
		if day, ok := byDay[i]; ok {
			out[i] = *day
		} else {
			out[i] = DayAvailability{Weekday: i}
		}
	}
	return out, nil
}

func (r *repoPG) ReplaceWeeklySchedule(ctx context.Context, doctorID uuid.UUID, days []DayAvailability) error {
	conn := r.conn(ctx)
	if _, err := conn.Exec(ctx, `DELETE FROM doctor_availability WHERE doctor_id = $1`, doctorID); err != nil {
		return err
	}
	for _, day := range days {
		availID := uuid.New()
		if _, err := conn.Exec(ctx, `
			INSERT INTO doctor_availability (id, doctor_id, weekday, is_available)
			VALUES ($1,$2,$3,$4)`,
			availID, doctorID, day.Weekday, day.IsAvailable); err != nil {
			return err
		}
		for _, w := range day.Windows {
			if _, err := conn.Exec(ctx, `
				INSERT INTO availability_windows (id, availability_id, start_time, end_time)
				VALUES ($1,$2,$3,$4)`,
				uuid.New(), availID, w.StartTime, w.EndTime); err != nil {
				return err
			}
		}
	}
	return nil
}

type blockedSlotRepoPG struct{ pool *pgxpool.Pool }

func NewBlockedSlotRepoPG(pool *pgxpool.Pool) BlockedSlotRepository {
	return &blockedSlotRepoPG{pool: pool}
}

func (r *blockedSlotRepoPG) conn(ctx context.Context) db.Queryable {
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return r.pool
}

const blockedCols = `id, doctor_id, weekday, start_time, end_time, reason, created_at`

func scanBlockedSlot(row pgx.Row) (*BlockedSlot, error) {
	var bs BlockedSlot
	err := row.Scan(&bs.ID, &bs.DoctorID, &bs.Weekday, &bs.StartTime, &bs.EndTime, &bs.Reason, &bs.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return &bs, err
}

func (r *blockedSlotRepoPG) Create(ctx context.Context, bs *BlockedSlot) error {
	if bs.ID == uuid.Nil {
		bs.ID = uuid.New()
	}
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO blocked_slots (id, doctor_id, weekday, start_time, end_time, reason)
		VALUES ($1,$2,$3,$4,$5,$6)
		RETURNING created_at`,
		bs.ID, bs.DoctorID, bs.Weekday, bs.StartTime, bs.EndTime, bs.Reason).Scan(&bs.CreatedAt)
}

func (r *blockedSlotRepoPG) Delete(ctx context.Context, doctorID, id uuid.UUID) error {
	tag, err := r.conn(ctx).Exec(ctx,
		`DELETE FROM blocked_slots WHERE id = $1 AND doctor_id = $2`, id, doctorID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *blockedSlotRepoPG) list(ctx context.Context, query string, args ...interface{}) ([]*BlockedSlot, error) {
	rows, err := r.conn(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []*BlockedSlot
	for rows.Next() {
		bs, err := scanBlockedSlot(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, bs)
	}
	return items, rows.Err()
}

func (r *blockedSlotRepoPG) ListByDoctor(ctx context.Context, doctorID uuid.UUID) ([]*BlockedSlot, error) {
	return r.list(ctx,
		`SELECT `+blockedCols+` FROM blocked_slots WHERE doctor_id = $1 ORDER BY weekday, start_time`,
		doctorID)
}

func (r *blockedSlotRepoPG) ListByDoctorAndWeekday(ctx context.Context, doctorID uuid.UUID, weekday int) ([]*BlockedSlot, error) {
	return r.list(ctx,
		`SELECT `+blockedCols+` FROM blocked_slots WHERE doctor_id = $1 AND weekday = $2 ORDER BY start_time`,
		doctorID, weekday)
}
