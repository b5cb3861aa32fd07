package appointment

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

var (
	ErrUserNotFound        = errors.New("user not found")
	ErrStudentNotFound     = errors.New("student not found")
	ErrFacultyNotFound     = errors.New("faculty member not found")
	ErrAppointmentNotFound = errors.New("appointment not found")

	// ErrStatusConflict means the row exists but its status no longer matches
	// the expected pre-state, i.e. a concurrent writer got there first.
	ErrStatusConflict = errors.New("appointment status changed concurrently")
)

// Repository contains all DB interactions needed by the service.
type Repository interface {
	GetUserByID(ctx context.Context, id uuid.UUID) (*User, error)
	ListFaculty(ctx context.Context) ([]User, error)
	SearchFaculty(ctx context.Context, query string) ([]User, error)
	UpdateUserMode(ctx context.Context, id uuid.UUID, mode Mode) (*User, error)

	// CreateAppointment verifies the student/faculty roles and inserts the
	// requested appointment plus its audit event in one transaction.
	CreateAppointment(ctx context.Context, studentID, facultyID uuid.UUID, mode Mode, reason string) (*Appointment, error)

	GetAppointmentByID(ctx context.Context, id uuid.UUID) (*Appointment, error)
	ListByStudent(ctx context.Context, studentID uuid.UUID) ([]Appointment, error)
	ListByFaculty(ctx context.Context, facultyID uuid.UUID) ([]Appointment, error)
	ListAll(ctx context.Context) ([]Appointment, error)

	// UpdateStatus applies the transition only if the row still holds the
	// expected pre-state, so a lost update is impossible.
	UpdateStatus(ctx context.Context, id uuid.UUID, from, to Status) (*Appointment, error)
	UpdateReason(ctx context.Context, id uuid.UUID, reason string) (*Appointment, error)
}
