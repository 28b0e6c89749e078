package api

import (
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/geo-appointment-scheduling/internal/appointment"
	"github.com/hackgods/geo-appointment-scheduling/internal/calendar"
	"github.com/hackgods/geo-appointment-scheduling/internal/geo"
)

type CreateAppointmentRequest struct {
	DoctorID string `json:"doctor_id"`
	Date     string `json:"date"`
	Start    string `json:"start"`
	Reason   string `json:"reason"`
}

type RescheduleRequest struct {
	Date   string `json:"date"`
	Start  string `json:"start"`
	Reason string `json:"reason"`
}

type ReasonRequest struct {
	Reason string `json:"reason"`
}

type AppointmentResponse struct {
	ID            uuid.UUID  `json:"id"`
	PatientID     uuid.UUID  `json:"patient_id"`
	DoctorID      uuid.UUID  `json:"doctor_id"`
	SlotID        uuid.UUID  `json:"slot_id"`
	Date          string     `json:"date"`
	Start         time.Time  `json:"start"`
	End           time.Time  `json:"end"`
	Reason        string     `json:"reason"`
	Status        string     `json:"status"`
	StatusReason  *string    `json:"status_reason,omitempty"`
	ChangedBy     *uuid.UUID `json:"changed_by,omitempty"`
	HoldExpiresAt *time.Time `json:"hold_expires_at,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

func toAppointmentResponse(a *appointment.Appointment) AppointmentResponse {
	resp := AppointmentResponse{
		ID:           a.ID,
		PatientID:    a.PatientID,
		DoctorID:     a.DoctorID,
		SlotID:       a.SlotID,
		Date:         a.Date.Format(calendar.DateLayout),
		Start:        a.StartTime,
		End:          a.EndTime,
		Reason:       a.Reason,
		Status:       string(a.Status),
		StatusReason: a.StatusReason,
		ChangedBy:    a.ChangedBy,
		CreatedAt:    a.CreatedAt,
		UpdatedAt:    a.UpdatedAt,
	}
	if a.Status == appointment.StatusHeld {
		exp := a.HoldExpiresAt
		resp.HoldExpiresAt = &exp
	}
	return resp
}

type AppointmentListResponse struct {
	Items []AppointmentResponse `json:"items"`
	Total int                   `json:"total"`
	Page  int                   `json:"page"`
	Limit int                   `json:"limit"`
}

type SlotInput struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

type PublishSlotsRequest struct {
	Date  string      `json:"date"`
	Slots []SlotInput `json:"slots"`
}

type SlotResponse struct {
	ID       uuid.UUID `json:"id"`
	DoctorID uuid.UUID `json:"doctor_id"`
	Date     string    `json:"date"`
	Start    time.Time `json:"start"`
	End      time.Time `json:"end"`
	State    string    `json:"state"`
}

func toSlotResponses(slots []calendar.TimeSlot) []SlotResponse {
	out := make([]SlotResponse, 0, len(slots))
	for _, s := range slots {
		out = append(out, SlotResponse{
			ID:       s.ID,
			DoctorID: s.DoctorID,
			Date:     s.Date.Format(calendar.DateLayout),
			Start:    s.Start,
			End:      s.End,
			State:    string(s.State),
		})
	}
	return out
}

type SlotListResponse struct {
	Slots []SlotResponse `json:"slots"`
}

type LocationRequest struct {
	Lat *float64 `json:"lat"`
	Lon *float64 `json:"lon"`
}

type DoctorMatchResponse struct {
	DoctorID       uuid.UUID `json:"doctor_id"`
	Specialty      string    `json:"specialty"`
	DistanceMeters float64   `json:"distance_meters"`
}

type SearchResponse struct {
	Items []DoctorMatchResponse `json:"items"`
	Page  int                   `json:"page"`
	Limit int                   `json:"limit"`
}

func toSearchResponse(ms []geo.Match, q geo.Query) SearchResponse {
	items := make([]DoctorMatchResponse, 0, len(ms))
	for _, m := range ms {
		items = append(items, DoctorMatchResponse{DoctorID: m.DoctorID, Specialty: m.Specialty, DistanceMeters: m.DistanceMeters})
	}
	return SearchResponse{Items: items, Page: q.Page, Limit: q.Limit}
}

type ErrorResponse struct {
	Error        string `json:"error"`
	Details      string `json:"details,omitempty"`
	CurrentState string `json:"current_state,omitempty"`
	RequestID    string `json:"request_id,omitempty"`
}
