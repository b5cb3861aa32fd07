package api

import (
	"time"

	"github.com/google/uuid"

	"github.com/campusmeet/appointments/internal/appointment"
)

type RequestAppointmentRequest struct {
	FacultyID string `json:"faculty_id" validate:"required,uuid"`
	Mode      string `json:"mode" validate:"required,oneof=online onsite"`
	Reason    string `json:"reason" validate:"required"`
}

type UpdateReasonRequest struct {
	Reason string `json:"reason" validate:"required"`
}

type UpdateStatusRequest struct {
	Status string `json:"status" validate:"required,oneof=requested approved declined completed cancelled"`
}

type UpdateModeRequest struct {
	Mode string `json:"mode" validate:"required,oneof=online onsite"`
}

type AppointmentResponse struct {
	ID        uuid.UUID `json:"id"`
	StudentID uuid.UUID `json:"student_id"`
	FacultyID uuid.UUID `json:"faculty_id"`
	Mode      string    `json:"mode"`
	Status    string    `json:"status"`
	Reason    string    `json:"reason"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type UserResponse struct {
	ID        uuid.UUID `json:"id"`
	FirstName string    `json:"first_name"`
	LastName  string    `json:"last_name"`
	Email     string    `json:"email"`
	Role      string    `json:"role"`
	Mode      string    `json:"mode"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

func toAppointmentResponse(a *appointment.Appointment) AppointmentResponse {
	return AppointmentResponse{
		ID:        a.ID,
		StudentID: a.StudentID,
		FacultyID: a.FacultyID,
		Mode:      string(a.Mode),
		Status:    string(a.Status),
		Reason:    a.Reason,
		CreatedAt: a.CreatedAt,
		UpdatedAt: a.UpdatedAt,
	}
}

func toAppointmentList(appts []appointment.Appointment) []AppointmentResponse {
	out := make([]AppointmentResponse, 0, len(appts))
	for i := range appts {
		out = append(out, toAppointmentResponse(&appts[i]))
	}
	return out
}

func toUserResponse(u *appointment.User) UserResponse {
	return UserResponse{
		ID:        u.ID,
		FirstName: u.FirstName,
		LastName:  u.LastName,
		Email:     u.Email,
		Role:      string(u.Role),
		Mode:      string(u.Mode),
	}
}

func toUserList(users []appointment.User) []UserResponse {
	out := make([]UserResponse, 0, len(users))
	for i := range users {
		out = append(out, toUserResponse(&users[i]))
	}
	return out
}
