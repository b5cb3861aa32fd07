package api

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/campusmeet/appointments/internal/appointment"
)

// Service is the slice of the appointment service the HTTP layer needs.
type Service interface {
	RequestAppointment(ctx context.Context, actor appointment.Actor, facultyID uuid.UUID, mode appointment.Mode, reason string) (*appointment.Appointment, error)
	ListAppointments(ctx context.Context, actor appointment.Actor) ([]appointment.Appointment, error)
	GetAppointment(ctx context.Context, actor appointment.Actor, id uuid.UUID) (*appointment.Appointment, error)
	UpdateReason(ctx context.Context, actor appointment.Actor, id uuid.UUID, reason string) (*appointment.Appointment, error)
	UpdateStatus(ctx context.Context, actor appointment.Actor, id uuid.UUID, to appointment.Status) (*appointment.Appointment, error)
	Snapshot(ctx context.Context) ([]appointment.Appointment, error)
	ListFaculty(ctx context.Context) ([]appointment.User, error)
	SearchFaculty(ctx context.Context, query string) ([]appointment.User, error)
	UpdateUserMode(ctx context.Context, actor appointment.Actor, userID uuid.UUID, mode appointment.Mode) (*appointment.User, error)
}

type handlers struct {
	svc      Service
	validate *validator.Validate
}

func newHandlers(svc Service) *handlers {
	return &handlers{
		svc:      svc,
		validate: validator.New(),
	}
}

func (h *handlers) actor(r *http.Request) (appointment.Actor, bool) {
	p, ok := principalFrom(r.Context())
	if !ok {
		return appointment.Actor{}, false
	}
	return appointment.Actor{ID: p.UserID, Role: p.Role}, true
}

func (h *handlers) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
		return false
	}
	if err := h.validate.Struct(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return false
	}
	return true
}

func pathID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_id", "id must be a valid UUID")
		return uuid.Nil, false
	}
	return id, true
}

func (h *handlers) requestAppointment(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "missing_token", "authentication required")
		return
	}

	var req RequestAppointmentRequest
	if !h.decode(w, r, &req) {
		return
	}

	facultyID, err := uuid.Parse(req.FacultyID)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_faculty_id", "faculty_id must be a valid UUID")
		return
	}

	appt, err := h.svc.RequestAppointment(r.Context(), actor, facultyID, appointment.Mode(req.Mode), req.Reason)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, toAppointmentResponse(appt))
}

func (h *handlers) listAppointments(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "missing_token", "authentication required")
		return
	}

	appts, err := h.svc.ListAppointments(r.Context(), actor)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toAppointmentList(appts))
}

func (h *handlers) getAppointment(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "missing_token", "authentication required")
		return
	}

	id, ok := pathID(w, r)
	if !ok {
		return
	}

	appt, err := h.svc.GetAppointment(r.Context(), actor, id)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
}

func (h *handlers) updateReason(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "missing_token", "authentication required")
		return
	}

	id, ok := pathID(w, r)
	if !ok {
		return
	}

	var req UpdateReasonRequest
	if !h.decode(w, r, &req) {
		return
	}

	appt, err := h.svc.UpdateReason(r.Context(), actor, id, req.Reason)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
}

func (h *handlers) updateStatus(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "missing_token", "authentication required")
		return
	}

	id, ok := pathID(w, r)
	if !ok {
		return
	}

	var req UpdateStatusRequest
	if !h.decode(w, r, &req) {
		return
	}

	appt, err := h.svc.UpdateStatus(r.Context(), actor, id, appointment.Status(req.Status))
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
}

func (h *handlers) listFaculty(w http.ResponseWriter, r *http.Request) {
	users, err := h.svc.ListFaculty(r.Context())
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toUserList(users))
}

func (h *handlers) searchFaculty(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query().Get("q")

	users, err := h.svc.SearchFaculty(r.Context(), query)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toUserList(users))
}

func (h *handlers) updateUserMode(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "missing_token", "authentication required")
		return
	}

	id, ok := pathID(w, r)
	if !ok {
		return
	}

	var req UpdateModeRequest
	if !h.decode(w, r, &req) {
		return
	}

	user, err := h.svc.UpdateUserMode(r.Context(), actor, id, appointment.Mode(req.Mode))
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toUserResponse(user))
}
