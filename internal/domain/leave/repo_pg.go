package leave

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

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

const cols = `id, doctor_id, leave_type, start_date, end_date, is_half_day, total_days,
	reason, status, affected_appointments, approved_by, approved_at, rejection_reason,
	created_at, updated_at`

func scan(row pgx.Row) (*Leave, error) {
	var l Leave
	var affected []byte
	err := row.Scan(&l.ID, &l.DoctorID, &l.LeaveType, &l.StartDate, &l.EndDate, &l.IsHalfDay,
		&l.TotalDays, &l.Reason, &l.Status, &affected, &l.ApprovedBy, &l.ApprovedAt,
		&l.RejectionReason, &l.CreatedAt, &l.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if len(affected) > 0 {
		if err := json.Unmarshal(affected, &l.AffectedAppointments); err != nil {
			return nil, fmt.Errorf("decoding affected appointments: %w", err)
		}
	}
	return &l, nil
}

func (r *repoPG) Create(ctx context.Context, l *Leave) error {
	if l.ID == uuid.Nil {
		l.ID = uuid.New()
	}
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO leaves (id, doctor_id, leave_type, start_date, end_date, is_half_day,
			total_days, reason, status)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		RETURNING created_at, updated_at`,
		l.ID, l.DoctorID, l.LeaveType, l.StartDate, l.EndDate, l.IsHalfDay,
		l.TotalDays, l.Reason, l.Status).Scan(&l.CreatedAt, &l.UpdatedAt)
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*Leave, error) {
	return scan(r.conn(ctx).QueryRow(ctx, `SELECT `+cols+` FROM leaves WHERE id = $1`, id))
}

func (r *repoPG) Update(ctx context.Context, l *Leave) error {
	affected, err := json.Marshal(l.AffectedAppointments)
	if err != nil {
		return fmt.Errorf("encoding affected appointments: %w", err)
	}
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE leaves SET status=$2, affected_appointments=$3, approved_by=$4,
			approved_at=$5, rejection_reason=$6, updated_at=NOW()
		WHERE id = $1`,
		l.ID, l.Status, affected, l.ApprovedBy, l.ApprovedAt, l.RejectionReason)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *repoPG) listWhere(ctx context.Context, where string, args ...interface{}) ([]*Leave, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM leaves `+where, args[:len(args)-2]...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := fmt.Sprintf(`SELECT `+cols+` FROM leaves `+where+` ORDER BY created_at DESC LIMIT $%d OFFSET $%d`,
		len(args)-1, len(args))
	rows, err := r.conn(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var items []*Leave
	for rows.Next() {
		l, err := scan(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, l)
	}
	return items, total, rows.Err()
}

func (r *repoPG) ListByDoctor(ctx context.Context, doctorID uuid.UUID, limit, offset int) ([]*Leave, int, error) {
	return r.listWhere(ctx, `WHERE doctor_id = $1`, doctorID, limit, offset)
}

func (r *repoPG) List(ctx context.Context, status string, limit, offset int) ([]*Leave, int, error) {
	if status == "" {
		return r.listWhere(ctx, `WHERE 1=1`, limit, offset)
	}
	return r.listWhere(ctx, `WHERE status = $1`, status, limit, offset)
}

func (r *repoPG) HasOverlapping(ctx context.Context, doctorID uuid.UUID, start, end time.Time, excludeID uuid.UUID) (bool, error) {
	var exists bool
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM leaves
			WHERE doctor_id = $1
			  AND id <> $2
			  AND status IN ('pending', 'approved')
			  AND start_date <= $4
			  AND end_date >= $3
		)`, doctorID, excludeID, start, end).Scan(&exists)
	return exists, err
}

func (r *repoPG) OnApprovedLeave(ctx context.Context, doctorID uuid.UUID, date time.Time) (bool, error) {
	var exists bool
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM leaves
			WHERE doctor_id = $1
			  AND status = 'approved'
			  AND start_date <= $2
			  AND end_date >= $2
		)`, doctorID, date).Scan(&exists)
	return exists, err
}
