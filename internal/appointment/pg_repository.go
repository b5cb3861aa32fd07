package appointment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type PgRepository struct {
	pool *pgxpool.Pool
}

func NewPgRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{pool: pool}
}

// withTx runs fn inside a transaction. Rollback is deferred so any early
// return or panic unwinds the transaction; Commit wins when fn succeeds.
func (r *PgRepository) withTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	if err := fn(tx); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// Helpers

func scanUser(row pgx.Row) (*User, error) {
	var u User
	var role, mode string

	err := row.Scan(
		&u.ID,
		&u.FirstName,
		&u.LastName,
		&u.Email,
		&role,
		&mode,
		&u.CreatedAt,
		&u.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}

	u.Role = Role(role)
	u.Mode = Mode(mode)
	return &u, nil
}

func scanAppointment(row pgx.Row) (*Appointment, error) {
	var a Appointment
	var mode, status string

	err := row.Scan(
		&a.ID,
		&a.StudentID,
		&a.FacultyID,
		&mode,
		&status,
		&a.Reason,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAppointmentNotFound
		}
		return nil, err
	}

	a.Mode = Mode(mode)
	a.Status = Status(status)
	return &a, nil
}

const userColumns = "id, first_name, last_name, email, role, mode, created_at, updated_at"
const appointmentColumns = "id, student_id, faculty_id, mode, status, reason, created_at, updated_at"

// Interface methods

func (r *PgRepository) GetUserByID(ctx context.Context, id uuid.UUID) (*User, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+userColumns+`
		FROM users
		WHERE id = $1
	`, id)
	return scanUser(row)
}

func (r *PgRepository) ListFaculty(ctx context.Context) ([]User, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+userColumns+`
		FROM users
		WHERE role = 'faculty'
		ORDER BY last_name, first_name, id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectUsers(rows)
}

func (r *PgRepository) SearchFaculty(ctx context.Context, query string) ([]User, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+userColumns+`
		FROM users
		WHERE role = 'faculty'
		  AND (first_name ILIKE '%' || $1 || '%'
		    OR last_name ILIKE '%' || $1 || '%'
		    OR email ILIKE '%' || $1 || '%')
		ORDER BY last_name, first_name, id
	`, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectUsers(rows)
}

func (r *PgRepository) UpdateUserMode(ctx context.Context, id uuid.UUID, mode Mode) (*User, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE users
		SET mode = $2,
		    updated_at = now()
		WHERE id = $1
		RETURNING `+userColumns+`
	`, id, string(mode))
	return scanUser(row)
}

func (r *PgRepository) CreateAppointment(ctx context.Context, studentID, facultyID uuid.UUID, mode Mode, reason string) (*Appointment, error) {
	id := uuid.New()
	var created *Appointment

	err := r.withTx(ctx, func(tx pgx.Tx) error {
		var role string

		err := tx.QueryRow(ctx, `SELECT role FROM users WHERE id = $1`, studentID).Scan(&role)
		if errors.Is(err, pgx.ErrNoRows) || (err == nil && Role(role) != RoleStudent) {
			return ErrStudentNotFound
		}
		if err != nil {
			return fmt.Errorf("load student: %w", err)
		}

		err = tx.QueryRow(ctx, `SELECT role FROM users WHERE id = $1`, facultyID).Scan(&role)
		if errors.Is(err, pgx.ErrNoRows) || (err == nil && Role(role) != RoleFaculty) {
			return ErrFacultyNotFound
		}
		if err != nil {
			return fmt.Errorf("load faculty: %w", err)
		}

		row := tx.QueryRow(ctx, `
			INSERT INTO appointments (id, student_id, faculty_id, mode, status, reason, created_at, updated_at)
			VALUES ($1, $2, $3, $4, 'requested', $5, now(), now())
			RETURNING `+appointmentColumns+`
		`, id, studentID, facultyID, string(mode), reason)

		created, err = scanAppointment(row)
		if err != nil {
			return fmt.Errorf("insert appointment: %w", err)
		}

		return insertEvent(ctx, tx, created.ID, "APPOINTMENT_REQUESTED", map[string]any{
			"student_id": studentID.String(),
			"faculty_id": facultyID.String(),
			"mode":       string(mode),
		})
	})
	if err != nil {
		return nil, err
	}

	return created, nil
}

func (r *PgRepository) GetAppointmentByID(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE id = $1
	`, id)
	return scanAppointment(row)
}

func (r *PgRepository) ListByStudent(ctx context.Context, studentID uuid.UUID) ([]Appointment, error) {
	return r.list(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE student_id = $1
		ORDER BY created_at DESC, id
	`, studentID)
}

func (r *PgRepository) ListByFaculty(ctx context.Context, facultyID uuid.UUID) ([]Appointment, error) {
	return r.list(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE faculty_id = $1
		ORDER BY created_at DESC, id
	`, facultyID)
}

func (r *PgRepository) ListAll(ctx context.Context) ([]Appointment, error) {
	return r.list(ctx, `
		SELECT ` + appointmentColumns + `
		FROM appointments
		ORDER BY created_at DESC, id
	`)
}

func (r *PgRepository) UpdateStatus(ctx context.Context, id uuid.UUID, from, to Status) (*Appointment, error) {
	var updated *Appointment

	err := r.withTx(ctx, func(tx pgx.Tx) error {
		row := tx.QueryRow(ctx, `
			UPDATE appointments
			SET status = $2,
			    updated_at = now()
			WHERE id = $1
			  AND status = $3
			RETURNING `+appointmentColumns+`
		`, id, string(to), string(from))

		var err error
		updated, err = scanAppointment(row)
		if errors.Is(err, ErrAppointmentNotFound) {
			return r.classifyMissingRow(ctx, tx, id)
		}
		if err != nil {
			return err
		}

		return insertEvent(ctx, tx, id, "APPOINTMENT_STATUS_CHANGED", map[string]any{
			"from": string(from),
			"to":   string(to),
		})
	})
	if err != nil {
		return nil, err
	}

	return updated, nil
}

func (r *PgRepository) UpdateReason(ctx context.Context, id uuid.UUID, reason string) (*Appointment, error) {
	var updated *Appointment

	err := r.withTx(ctx, func(tx pgx.Tx) error {
		row := tx.QueryRow(ctx, `
			UPDATE appointments
			SET reason = $2,
			    updated_at = now()
			WHERE id = $1
			  AND status NOT IN ('declined', 'completed', 'cancelled')
			RETURNING `+appointmentColumns+`
		`, id, reason)

		var err error
		updated, err = scanAppointment(row)
		if errors.Is(err, ErrAppointmentNotFound) {
			return r.classifyMissingRow(ctx, tx, id)
		}
		return err
	})
	if err != nil {
		return nil, err
	}

	return updated, nil
}

// classifyMissingRow tells a truly absent appointment apart from one whose
// status guard failed under a concurrent write.
func (r *PgRepository) classifyMissingRow(ctx context.Context, tx pgx.Tx, id uuid.UUID) error {
	var exists bool
	if err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM appointments WHERE id = $1)`, id).Scan(&exists); err != nil {
		return err
	}
	if !exists {
		return ErrAppointmentNotFound
	}
	return ErrStatusConflict
}

func (r *PgRepository) list(ctx context.Context, query string, args ...any) ([]Appointment, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []Appointment
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *a)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return result, nil
}

func collectUsers(rows pgx.Rows) ([]User, error) {
	var result []User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *u)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return result, nil
}

func insertEvent(ctx context.Context, tx pgx.Tx, appointmentID uuid.UUID, eventType string, payload map[string]any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal event payload: %w", err)
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO appointment_events (appointment_id, event_type, payload, created_at)
		VALUES ($1, $2, $3, $4)
	`, appointmentID, eventType, data, time.Now())
	if err != nil {
		return fmt.Errorf("insert appointment event: %w", err)
	}

	return nil
}
