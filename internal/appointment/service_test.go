package appointment

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	redisclient "github.com/campusmeet/appointments/internal/redis"
)

type fakeRepo struct {
	users map[uuid.UUID]*User
	appts map[uuid.UUID]*Appointment

	createErr       error
	updateStatusErr error
	listAllErr      error

	updateStatusCalls int
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		users: make(map[uuid.UUID]*User),
		appts: make(map[uuid.UUID]*Appointment),
	}
}

func (f *fakeRepo) addUser(role Role) uuid.UUID {
	id := uuid.New()
	f.users[id] = &User{ID: id, Role: role, Mode: ModeOnsite}
	return id
}

func (f *fakeRepo) addAppointment(studentID, facultyID uuid.UUID, status Status) *Appointment {
	a := &Appointment{
		ID:        uuid.New(),
		StudentID: studentID,
		FacultyID: facultyID,
		Mode:      ModeOnline,
		Status:    status,
		Reason:    "advising",
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}
	f.appts[a.ID] = a
	return a
}

func (f *fakeRepo) GetUserByID(ctx context.Context, id uuid.UUID) (*User, error) {
	u, ok := f.users[id]
	if !ok {
		return nil, ErrUserNotFound
	}
	cp := *u
	return &cp, nil
}

func (f *fakeRepo) ListFaculty(ctx context.Context) ([]User, error) {
	var out []User
	for _, u := range f.users {
		if u.Role == RoleFaculty {
			out = append(out, *u)
		}
	}
	return out, nil
}

func (f *fakeRepo) SearchFaculty(ctx context.Context, query string) ([]User, error) {
	return f.ListFaculty(ctx)
}

func (f *fakeRepo) UpdateUserMode(ctx context.Context, id uuid.UUID, mode Mode) (*User, error) {
	u, ok := f.users[id]
	if !ok {
		return nil, ErrUserNotFound
	}
	u.Mode = mode
	cp := *u
	return &cp, nil
}

func (f *fakeRepo) CreateAppointment(ctx context.Context, studentID, facultyID uuid.UUID, mode Mode, reason string) (*Appointment, error) {
	if f.createErr != nil {
		return nil, f.createErr
	}
	if u, ok := f.users[studentID]; !ok || u.Role != RoleStudent {
		return nil, ErrStudentNotFound
	}
	if u, ok := f.users[facultyID]; !ok || u.Role != RoleFaculty {
		return nil, ErrFacultyNotFound
	}

	a := &Appointment{
		ID:        uuid.New(),
		StudentID: studentID,
		FacultyID: facultyID,
		Mode:      mode,
		Status:    StatusRequested,
		Reason:    reason,
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}
	f.appts[a.ID] = a
	cp := *a
	return &cp, nil
}

func (f *fakeRepo) GetAppointmentByID(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	a, ok := f.appts[id]
	if !ok {
		return nil, ErrAppointmentNotFound
	}
	cp := *a
	return &cp, nil
}

func (f *fakeRepo) ListByStudent(ctx context.Context, studentID uuid.UUID) ([]Appointment, error) {
	var out []Appointment
	for _, a := range f.appts {
		if a.StudentID == studentID {
			out = append(out, *a)
		}
	}
	return out, nil
}

func (f *fakeRepo) ListByFaculty(ctx context.Context, facultyID uuid.UUID) ([]Appointment, error) {
	var out []Appointment
	for _, a := range f.appts {
		if a.FacultyID == facultyID {
			out = append(out, *a)
		}
	}
	return out, nil
}

func (f *fakeRepo) ListAll(ctx context.Context) ([]Appointment, error) {
	if f.listAllErr != nil {
		return nil, f.listAllErr
	}
	var out []Appointment
	for _, a := range f.appts {
		out = append(out, *a)
	}
	return out, nil
}

func (f *fakeRepo) UpdateStatus(ctx context.Context, id uuid.UUID, from, to Status) (*Appointment, error) {
	f.updateStatusCalls++
	if f.updateStatusErr != nil {
		return nil, f.updateStatusErr
	}
	a, ok := f.appts[id]
	if !ok {
		return nil, ErrAppointmentNotFound
	}
	if a.Status != from {
		return nil, ErrStatusConflict
	}
	a.Status = to
	a.UpdatedAt = time.Now()
	cp := *a
	return &cp, nil
}

func (f *fakeRepo) UpdateReason(ctx context.Context, id uuid.UUID, reason string) (*Appointment, error) {
	a, ok := f.appts[id]
	if !ok {
		return nil, ErrAppointmentNotFound
	}
	if IsTerminal(a.Status) {
		return nil, ErrStatusConflict
	}
	a.Reason = reason
	cp := *a
	return &cp, nil
}

type recordingPublisher struct {
	published []any
	err       error
}

func (p *recordingPublisher) Publish(ctx context.Context, v any) error {
	if p.err != nil {
		return p.err
	}
	p.published = append(p.published, v)
	return nil
}

type passLocker struct{}

func (passLocker) WithAppointmentLock(ctx context.Context, id uuid.UUID, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

type busyLocker struct{}

func (busyLocker) WithAppointmentLock(ctx context.Context, id uuid.UUID, fn func(ctx context.Context) error) error {
	return redisclient.ErrLockNotAcquired
}

func newTestService(repo *fakeRepo) (*Service, *recordingPublisher) {
	pub := &recordingPublisher{}
	return NewService(repo, passLocker{}, pub, nil), pub
}

func TestRequestAppointment(t *testing.T) {
	repo := newFakeRepo()
	student := repo.addUser(RoleStudent)
	faculty := repo.addUser(RoleFaculty)
	svc, pub := newTestService(repo)

	appt, err := svc.RequestAppointment(context.Background(), Actor{ID: student, Role: RoleStudent}, faculty, ModeOnline, "advising")
	require.NoError(t, err)

	assert.Equal(t, StatusRequested, appt.Status)
	assert.Equal(t, ModeOnline, appt.Mode)
	assert.Equal(t, student, appt.StudentID)
	assert.Equal(t, faculty, appt.FacultyID)
	assert.Len(t, pub.published, 1, "creation broadcasts a snapshot")
}

func TestRequestAppointmentRejectsNonStudents(t *testing.T) {
	repo := newFakeRepo()
	faculty := repo.addUser(RoleFaculty)
	svc, pub := newTestService(repo)

	_, err := svc.RequestAppointment(context.Background(), Actor{ID: faculty, Role: RoleFaculty}, faculty, ModeOnline, "advising")
	assert.ErrorIs(t, err, ErrRoleNotAllowed)
	assert.Empty(t, pub.published)
}

func TestRequestAppointmentValidation(t *testing.T) {
	repo := newFakeRepo()
	student := repo.addUser(RoleStudent)
	faculty := repo.addUser(RoleFaculty)
	svc, _ := newTestService(repo)

	actor := Actor{ID: student, Role: RoleStudent}

	_, err := svc.RequestAppointment(context.Background(), actor, faculty, ModeOnline, "   ")
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = svc.RequestAppointment(context.Background(), actor, uuid.Nil, ModeOnline, "advising")
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = svc.RequestAppointment(context.Background(), actor, faculty, Mode("hybrid"), "advising")
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestRequestAppointmentUnknownFaculty(t *testing.T) {
	repo := newFakeRepo()
	student := repo.addUser(RoleStudent)
	otherStudent := repo.addUser(RoleStudent)
	svc, pub := newTestService(repo)

	// Target exists but is not faculty
	_, err := svc.RequestAppointment(context.Background(), Actor{ID: student, Role: RoleStudent}, otherStudent, ModeOnline, "advising")
	assert.ErrorIs(t, err, ErrFacultyNotFound)
	assert.Empty(t, pub.published)
}

func TestUpdateStatusApprove(t *testing.T) {
	repo := newFakeRepo()
	student := repo.addUser(RoleStudent)
	faculty := repo.addUser(RoleFaculty)
	appt := repo.addAppointment(student, faculty, StatusRequested)
	svc, pub := newTestService(repo)

	updated, err := svc.UpdateStatus(context.Background(), Actor{ID: faculty, Role: RoleFaculty}, appt.ID, StatusApproved)
	require.NoError(t, err)

	assert.Equal(t, StatusApproved, updated.Status)
	require.Len(t, pub.published, 1)

	snapshot, ok := pub.published[0].([]Appointment)
	require.True(t, ok)
	require.Len(t, snapshot, 1)
	assert.Equal(t, StatusApproved, snapshot[0].Status, "broadcast carries the updated row")
}

func TestUpdateStatusRejectsDisallowedEdge(t *testing.T) {
	repo := newFakeRepo()
	student := repo.addUser(RoleStudent)
	faculty := repo.addUser(RoleFaculty)
	appt := repo.addAppointment(student, faculty, StatusApproved)
	svc, pub := newTestService(repo)

	_, err := svc.UpdateStatus(context.Background(), Actor{ID: faculty, Role: RoleFaculty}, appt.ID, StatusRequested)
	assert.ErrorIs(t, err, ErrInvalidTransition)

	// State unchanged, nothing broadcast
	current, err := repo.GetAppointmentByID(context.Background(), appt.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusApproved, current.Status)
	assert.Empty(t, pub.published)
}

func TestUpdateStatusFromTerminalState(t *testing.T) {
	repo := newFakeRepo()
	student := repo.addUser(RoleStudent)
	faculty := repo.addUser(RoleFaculty)
	svc, _ := newTestService(repo)

	for _, terminal := range []Status{StatusDeclined, StatusCompleted, StatusCancelled} {
		appt := repo.addAppointment(student, faculty, terminal)
		_, err := svc.UpdateStatus(context.Background(), Actor{ID: faculty, Role: RoleFaculty}, appt.ID, StatusApproved)
		assert.ErrorIs(t, err, ErrInvalidTransition, "from %s", terminal)
	}
}

func TestUpdateStatusIdempotentReapply(t *testing.T) {
	repo := newFakeRepo()
	student := repo.addUser(RoleStudent)
	faculty := repo.addUser(RoleFaculty)
	appt := repo.addAppointment(student, faculty, StatusApproved)
	svc, pub := newTestService(repo)

	updated, err := svc.UpdateStatus(context.Background(), Actor{ID: faculty, Role: RoleFaculty}, appt.ID, StatusApproved)
	require.NoError(t, err, "re-applying the current status is a no-op success")

	assert.Equal(t, StatusApproved, updated.Status)
	assert.Zero(t, repo.updateStatusCalls, "no write issued")
	assert.Empty(t, pub.published, "no broadcast for a no-op")
}

func TestUpdateStatusRequiresFacultyRole(t *testing.T) {
	repo := newFakeRepo()
	student := repo.addUser(RoleStudent)
	faculty := repo.addUser(RoleFaculty)
	appt := repo.addAppointment(student, faculty, StatusRequested)
	svc, _ := newTestService(repo)

	_, err := svc.UpdateStatus(context.Background(), Actor{ID: student, Role: RoleStudent}, appt.ID, StatusApproved)
	assert.ErrorIs(t, err, ErrRoleNotAllowed)

	_, err = svc.UpdateStatus(context.Background(), Actor{ID: repo.addUser(RoleAdmin), Role: RoleAdmin}, appt.ID, StatusApproved)
	assert.ErrorIs(t, err, ErrRoleNotAllowed)
}

func TestUpdateStatusRequiresOwnership(t *testing.T) {
	repo := newFakeRepo()
	student := repo.addUser(RoleStudent)
	faculty := repo.addUser(RoleFaculty)
	otherFaculty := repo.addUser(RoleFaculty)
	appt := repo.addAppointment(student, faculty, StatusRequested)
	svc, pub := newTestService(repo)

	_, err := svc.UpdateStatus(context.Background(), Actor{ID: otherFaculty, Role: RoleFaculty}, appt.ID, StatusApproved)
	assert.ErrorIs(t, err, ErrNotOwner)
	assert.Empty(t, pub.published)
}

func TestUpdateStatusBusyLock(t *testing.T) {
	repo := newFakeRepo()
	student := repo.addUser(RoleStudent)
	faculty := repo.addUser(RoleFaculty)
	appt := repo.addAppointment(student, faculty, StatusRequested)

	pub := &recordingPublisher{}
	svc := NewService(repo, busyLocker{}, pub, nil)

	_, err := svc.UpdateStatus(context.Background(), Actor{ID: faculty, Role: RoleFaculty}, appt.ID, StatusApproved)
	assert.ErrorIs(t, err, ErrAppointmentBusy)
	assert.Empty(t, pub.published)
}

func TestUpdateStatusNoBroadcastOnPersistenceFailure(t *testing.T) {
	repo := newFakeRepo()
	student := repo.addUser(RoleStudent)
	faculty := repo.addUser(RoleFaculty)
	appt := repo.addAppointment(student, faculty, StatusRequested)
	repo.updateStatusErr = errors.New("connection reset")
	svc, pub := newTestService(repo)

	_, err := svc.UpdateStatus(context.Background(), Actor{ID: faculty, Role: RoleFaculty}, appt.ID, StatusApproved)
	assert.Error(t, err)
	assert.Empty(t, pub.published)
}

func TestUpdateStatusConcurrentWriters(t *testing.T) {
	// Two sequential conflicting edges from the same pre-state: the first
	// wins, the second fails against the moved state without clobbering it.
	repo := newFakeRepo()
	student := repo.addUser(RoleStudent)
	faculty := repo.addUser(RoleFaculty)
	appt := repo.addAppointment(student, faculty, StatusRequested)
	svc, _ := newTestService(repo)

	actor := Actor{ID: faculty, Role: RoleFaculty}

	_, err := svc.UpdateStatus(context.Background(), actor, appt.ID, StatusApproved)
	require.NoError(t, err)

	_, err = svc.UpdateStatus(context.Background(), actor, appt.ID, StatusDeclined)
	assert.ErrorIs(t, err, ErrInvalidTransition)

	current, err := repo.GetAppointmentByID(context.Background(), appt.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusApproved, current.Status)
}

func TestGetAppointmentRoleIsolation(t *testing.T) {
	repo := newFakeRepo()
	student := repo.addUser(RoleStudent)
	otherStudent := repo.addUser(RoleStudent)
	faculty := repo.addUser(RoleFaculty)
	otherFaculty := repo.addUser(RoleFaculty)
	admin := repo.addUser(RoleAdmin)
	appt := repo.addAppointment(student, faculty, StatusRequested)
	svc, _ := newTestService(repo)

	_, err := svc.GetAppointment(context.Background(), Actor{ID: student, Role: RoleStudent}, appt.ID)
	assert.NoError(t, err)

	_, err = svc.GetAppointment(context.Background(), Actor{ID: otherStudent, Role: RoleStudent}, appt.ID)
	assert.ErrorIs(t, err, ErrNotOwner)

	_, err = svc.GetAppointment(context.Background(), Actor{ID: faculty, Role: RoleFaculty}, appt.ID)
	assert.NoError(t, err)

	_, err = svc.GetAppointment(context.Background(), Actor{ID: otherFaculty, Role: RoleFaculty}, appt.ID)
	assert.ErrorIs(t, err, ErrNotOwner)

	_, err = svc.GetAppointment(context.Background(), Actor{ID: admin, Role: RoleAdmin}, appt.ID)
	assert.NoError(t, err)
}

func TestListAppointmentsScopedByRole(t *testing.T) {
	repo := newFakeRepo()
	student := repo.addUser(RoleStudent)
	otherStudent := repo.addUser(RoleStudent)
	faculty := repo.addUser(RoleFaculty)
	admin := repo.addUser(RoleAdmin)
	repo.addAppointment(student, faculty, StatusRequested)
	svc, _ := newTestService(repo)

	appts, err := svc.ListAppointments(context.Background(), Actor{ID: faculty, Role: RoleFaculty})
	require.NoError(t, err)
	assert.Len(t, appts, 1)

	appts, err = svc.ListAppointments(context.Background(), Actor{ID: otherStudent, Role: RoleStudent})
	require.NoError(t, err)
	assert.Empty(t, appts)

	appts, err = svc.ListAppointments(context.Background(), Actor{ID: admin, Role: RoleAdmin})
	require.NoError(t, err)
	assert.Len(t, appts, 1)
}

func TestUpdateReason(t *testing.T) {
	repo := newFakeRepo()
	student := repo.addUser(RoleStudent)
	otherStudent := repo.addUser(RoleStudent)
	faculty := repo.addUser(RoleFaculty)
	appt := repo.addAppointment(student, faculty, StatusRequested)
	svc, _ := newTestService(repo)

	updated, err := svc.UpdateReason(context.Background(), Actor{ID: student, Role: RoleStudent}, appt.ID, "rescheduling question")
	require.NoError(t, err)
	assert.Equal(t, "rescheduling question", updated.Reason)
	assert.Equal(t, student, updated.StudentID, "ownership fields immutable across updates")
	assert.Equal(t, faculty, updated.FacultyID)

	_, err = svc.UpdateReason(context.Background(), Actor{ID: otherStudent, Role: RoleStudent}, appt.ID, "mine now")
	assert.ErrorIs(t, err, ErrNotOwner)

	_, err = svc.UpdateReason(context.Background(), Actor{ID: faculty, Role: RoleFaculty}, appt.ID, "faculty edit")
	assert.ErrorIs(t, err, ErrRoleNotAllowed)
}

func TestUpdateReasonOnTerminalAppointment(t *testing.T) {
	repo := newFakeRepo()
	student := repo.addUser(RoleStudent)
	faculty := repo.addUser(RoleFaculty)
	appt := repo.addAppointment(student, faculty, StatusDeclined)
	svc, _ := newTestService(repo)

	_, err := svc.UpdateReason(context.Background(), Actor{ID: student, Role: RoleStudent}, appt.ID, "still hoping")
	assert.ErrorIs(t, err, ErrTerminalStatus)
}

func TestUpdateUserMode(t *testing.T) {
	repo := newFakeRepo()
	student := repo.addUser(RoleStudent)
	otherStudent := repo.addUser(RoleStudent)
	admin := repo.addUser(RoleAdmin)
	svc, _ := newTestService(repo)

	user, err := svc.UpdateUserMode(context.Background(), Actor{ID: student, Role: RoleStudent}, student, ModeOnline)
	require.NoError(t, err)
	assert.Equal(t, ModeOnline, user.Mode)

	_, err = svc.UpdateUserMode(context.Background(), Actor{ID: otherStudent, Role: RoleStudent}, student, ModeOnsite)
	assert.ErrorIs(t, err, ErrNotOwner)

	user, err = svc.UpdateUserMode(context.Background(), Actor{ID: admin, Role: RoleAdmin}, student, ModeOnsite)
	require.NoError(t, err)
	assert.Equal(t, ModeOnsite, user.Mode)

	_, err = svc.UpdateUserMode(context.Background(), Actor{ID: student, Role: RoleStudent}, student, Mode("hybrid"))
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestSearchFacultyRequiresQuery(t *testing.T) {
	repo := newFakeRepo()
	svc, _ := newTestService(repo)

	_, err := svc.SearchFaculty(context.Background(), "   ")
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestSnapshotFailureDoesNotFailTheWrite(t *testing.T) {
	repo := newFakeRepo()
	student := repo.addUser(RoleStudent)
	faculty := repo.addUser(RoleFaculty)
	repo.listAllErr = errors.New("connection reset")
	svc, pub := newTestService(repo)

	appt, err := svc.RequestAppointment(context.Background(), Actor{ID: student, Role: RoleStudent}, faculty, ModeOnline, "advising")
	require.NoError(t, err, "broadcast is best-effort")
	assert.Equal(t, StatusRequested, appt.Status)
	assert.Empty(t, pub.published)
}
