package appointment

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

type Status string

const (
	StatusRequested Status = "requested"
	StatusApproved  Status = "approved"
	StatusDeclined  Status = "declined"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
)

// transitions is the full adjacency of the appointment lifecycle.
// Declined, completed and cancelled are terminal.
var transitions = map[Status][]Status{
	StatusRequested: {StatusApproved, StatusDeclined},
	StatusApproved:  {StatusCompleted, StatusCancelled},
	StatusDeclined:  {},
	StatusCompleted: {},
	StatusCancelled: {},
}

func ParseStatus(s string) (Status, error) {
	switch Status(s) {
	case StatusRequested, StatusApproved, StatusDeclined, StatusCompleted, StatusCancelled:
		return Status(s), nil
	}
	return "", fmt.Errorf("unknown appointment status %q", s)
}

// CanTransition reports whether from -> to is an edge of the lifecycle graph.
// Re-applying the current status is not an edge; the service treats it as an
// idempotent no-op before consulting the graph.
func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no further transitions are permitted.
func IsTerminal(s Status) bool {
	return len(transitions[s]) == 0
}

type Mode string

const (
	ModeOnline Mode = "online"
	ModeOnsite Mode = "onsite"
)

func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case ModeOnline, ModeOnsite:
		return Mode(s), nil
	}
	return "", fmt.Errorf("unknown appointment mode %q", s)
}

type Role string

const (
	RoleAdmin   Role = "admin"
	RoleFaculty Role = "faculty"
	RoleStudent Role = "student"
)

func ParseRole(s string) (Role, error) {
	switch Role(s) {
	case RoleAdmin, RoleFaculty, RoleStudent:
		return Role(s), nil
	}
	return "", fmt.Errorf("unknown role %q", s)
}

// User is a read-only projection of the auth service's user table.
type User struct {
	ID        uuid.UUID
	FirstName string
	LastName  string
	Email     string
	Role      Role
	Mode      Mode
	CreatedAt time.Time
	UpdatedAt time.Time
}

type Appointment struct {
	ID        uuid.UUID `json:"id"`
	StudentID uuid.UUID `json:"student_id"`
	FacultyID uuid.UUID `json:"faculty_id"`
	Mode      Mode      `json:"mode"`
	Status    Status    `json:"status"`
	Reason    string    `json:"reason"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Event is an append-only audit row, written in the same transaction as the
// change it records.
type Event struct {
	ID            int64
	AppointmentID uuid.UUID
	EventType     string
	Payload       []byte
	CreatedAt     time.Time
}
