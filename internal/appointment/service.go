package appointment

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	redisclient "github.com/campusmeet/appointments/internal/redis"
)

var (
	ErrInvalidInput      = errors.New("missing or malformed input")
	ErrRoleNotAllowed    = errors.New("role is not allowed to perform this operation")
	ErrNotOwner          = errors.New("appointment does not belong to this user")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrTerminalStatus    = errors.New("appointment is in a terminal status")

	// ErrAppointmentBusy means another transition on the same appointment
	// holds the lock right now.
	ErrAppointmentBusy = errors.New("appointment is being updated, please retry")
)

// Actor is the authenticated caller as seen by the service.
type Actor struct {
	ID   uuid.UUID
	Role Role
}

// Publisher pushes appointment snapshots to observers after a commit.
type Publisher interface {
	Publish(ctx context.Context, v any) error
}

type Service struct {
	repo      Repository
	locker    redisclient.Locker
	publisher Publisher
	log       *zap.Logger
}

func NewService(repo Repository, locker redisclient.Locker, publisher Publisher, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{
		repo:      repo,
		locker:    locker,
		publisher: publisher,
		log:       log,
	}
}

// RequestAppointment creates an appointment in the requested status on behalf
// of the calling student.
func (s *Service) RequestAppointment(ctx context.Context, actor Actor, facultyID uuid.UUID, mode Mode, reason string) (*Appointment, error) {
	if actor.Role != RoleStudent {
		return nil, ErrRoleNotAllowed
	}
	if facultyID == uuid.Nil || strings.TrimSpace(reason) == "" {
		return nil, ErrInvalidInput
	}
	if _, err := ParseMode(string(mode)); err != nil {
		return nil, ErrInvalidInput
	}

	created, err := s.repo.CreateAppointment(ctx, actor.ID, facultyID, mode, reason)
	if err != nil {
		return nil, fmt.Errorf("create appointment: %w", err)
	}

	s.log.Info("appointment requested",
		zap.String("appointment_id", created.ID.String()),
		zap.String("student_id", actor.ID.String()),
		zap.String("faculty_id", facultyID.String()),
	)

	s.publishSnapshot(ctx)
	return created, nil
}

// ListAppointments returns the caller's view: students see their own requests,
// faculty see appointments assigned to them, admins see everything.
func (s *Service) ListAppointments(ctx context.Context, actor Actor) ([]Appointment, error) {
	switch actor.Role {
	case RoleStudent:
		return s.repo.ListByStudent(ctx, actor.ID)
	case RoleFaculty:
		return s.repo.ListByFaculty(ctx, actor.ID)
	case RoleAdmin:
		return s.repo.ListAll(ctx)
	default:
		return nil, ErrRoleNotAllowed
	}
}

// GetAppointment fetches one appointment, denying cross-role access.
func (s *Service) GetAppointment(ctx context.Context, actor Actor, id uuid.UUID) (*Appointment, error) {
	appt, err := s.repo.GetAppointmentByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.authorize(actor, appt); err != nil {
		return nil, err
	}
	return appt, nil
}

// UpdateReason lets the owning student edit the free-text reason while the
// appointment has not reached a terminal status.
func (s *Service) UpdateReason(ctx context.Context, actor Actor, id uuid.UUID, reason string) (*Appointment, error) {
	if actor.Role != RoleStudent {
		return nil, ErrRoleNotAllowed
	}
	if strings.TrimSpace(reason) == "" {
		return nil, ErrInvalidInput
	}

	appt, err := s.repo.GetAppointmentByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if appt.StudentID != actor.ID {
		return nil, ErrNotOwner
	}
	if IsTerminal(appt.Status) {
		return nil, ErrTerminalStatus
	}

	updated, err := s.repo.UpdateReason(ctx, id, reason)
	if err != nil {
		// The status guard can fail if a transition landed between our read
		// and the update.
		if errors.Is(err, ErrStatusConflict) {
			return nil, ErrTerminalStatus
		}
		return nil, err
	}
	return updated, nil
}

// UpdateStatus moves an appointment along the lifecycle graph. Only the
// assigned faculty member may transition it. Re-applying the current status
// is an idempotent no-op. The per-appointment lock plus the conditional
// update in the repository make concurrent transitions safe: the loser sees
// either the pre- or post-state of the winner, never a lost update.
func (s *Service) UpdateStatus(ctx context.Context, actor Actor, id uuid.UUID, to Status) (*Appointment, error) {
	if actor.Role != RoleFaculty {
		return nil, ErrRoleNotAllowed
	}
	if _, err := ParseStatus(string(to)); err != nil {
		return nil, ErrInvalidInput
	}

	var result *Appointment
	var changed bool

	err := s.locker.WithAppointmentLock(ctx, id, func(lockCtx context.Context) error {
		appt, err := s.repo.GetAppointmentByID(lockCtx, id)
		if err != nil {
			return err
		}
		if appt.FacultyID != actor.ID {
			return ErrNotOwner
		}

		if appt.Status == to {
			result = appt
			return nil
		}

		if !CanTransition(appt.Status, to) {
			return ErrInvalidTransition
		}

		updated, err := s.repo.UpdateStatus(lockCtx, id, appt.Status, to)
		if err != nil {
			return err
		}

		result = updated
		changed = true
		return nil
	})
	if err != nil {
		if errors.Is(err, redisclient.ErrLockNotAcquired) {
			return nil, ErrAppointmentBusy
		}
		return nil, err
	}

	if changed {
		s.log.Info("appointment status updated",
			zap.String("appointment_id", id.String()),
			zap.String("faculty_id", actor.ID.String()),
			zap.String("status", string(to)),
		)
		s.publishSnapshot(ctx)
	}

	return result, nil
}

// Snapshot returns the full current appointment list, the same view the
// broadcaster pushes after a status change.
func (s *Service) Snapshot(ctx context.Context) ([]Appointment, error) {
	return s.repo.ListAll(ctx)
}

// ListFaculty returns the faculty directory.
func (s *Service) ListFaculty(ctx context.Context) ([]User, error) {
	return s.repo.ListFaculty(ctx)
}

// SearchFaculty finds faculty members by name or email.
func (s *Service) SearchFaculty(ctx context.Context, query string) ([]User, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, ErrInvalidInput
	}
	return s.repo.SearchFaculty(ctx, query)
}

// UpdateUserMode changes a user's meeting-mode preference. Users may change
// their own; admins may change anyone's.
func (s *Service) UpdateUserMode(ctx context.Context, actor Actor, userID uuid.UUID, mode Mode) (*User, error) {
	if actor.ID != userID && actor.Role != RoleAdmin {
		return nil, ErrNotOwner
	}
	if _, err := ParseMode(string(mode)); err != nil {
		return nil, ErrInvalidInput
	}
	return s.repo.UpdateUserMode(ctx, userID, mode)
}

func (s *Service) authorize(actor Actor, appt *Appointment) error {
	switch actor.Role {
	case RoleAdmin:
		return nil
	case RoleStudent:
		if appt.StudentID != actor.ID {
			return ErrNotOwner
		}
		return nil
	case RoleFaculty:
		if appt.FacultyID != actor.ID {
			return ErrNotOwner
		}
		return nil
	default:
		return ErrRoleNotAllowed
	}
}

// publishSnapshot pushes the refreshed global list to observers. Best-effort:
// failures are logged, never surfaced to the caller whose write committed.
func (s *Service) publishSnapshot(ctx context.Context) {
	if s.publisher == nil {
		return
	}

	snapshot, err := s.repo.ListAll(ctx)
	if err != nil {
		s.log.Warn("failed to load snapshot for broadcast", zap.Error(err))
		return
	}
	if snapshot == nil {
		snapshot = []Appointment{}
	}

	if err := s.publisher.Publish(ctx, snapshot); err != nil {
		s.log.Warn("failed to publish appointment snapshot", zap.Error(err))
	}
}
