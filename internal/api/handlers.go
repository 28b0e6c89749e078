package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/hackgods/geo-appointment-scheduling/internal/apperr"
	"github.com/hackgods/geo-appointment-scheduling/internal/appointment"
	"github.com/hackgods/geo-appointment-scheduling/internal/auth"
	"github.com/hackgods/geo-appointment-scheduling/internal/calendar"
)

func createAppointmentHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor := mustActor(r)

		var req CreateAppointmentRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			badRequest(w, r, "invalid_request_body", "could not parse JSON")
			return
		}
		doctorID, err := uuid.Parse(req.DoctorID)
		if err != nil {
			badRequest(w, r, "invalid_doctor_id", "doctor_id must be a valid UUID")
			return
		}
		date, err := calendar.ParseDate(req.Date)
		if err != nil {
			writeError(w, r, err)
			return
		}
		start, err := calendar.At(date, req.Start)
		if err != nil {
			writeError(w, r, err)
			return
		}

		appt, err := svc.RequestAppointment(r.Context(), appointment.RequestInput{
			PatientID: actor.ID,
			DoctorID:  doctorID,
			Date:      date,
			Start:     start,
			Reason:    req.Reason,
		})
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, toAppointmentResponse(appt))
	}
}

func getAppointmentHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := appointmentID(w, r)
		if !ok {
			return
		}
		actor := mustActor(r)
		viewer := actor.ID
		if actor.Role == auth.RoleSystem {
			viewer = uuid.Nil
		}

		appt, err := svc.Get(r.Context(), id, viewer)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
	}
}

func listAppointmentsHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor := mustActor(r)
		q := r.URL.Query()

		filter, err := listFilterFor(actor, q.Get("scope"))
		if err != nil {
			writeError(w, r, err)
			return
		}
		if s := q.Get("status"); s != "" {
			status, err := appointment.ParseStatus(s)
			if err != nil {
				writeError(w, r, err)
				return
			}
			filter.Status = &status
		}
		if filter.Page, err = intParam(q.Get("page")); err != nil {
			badRequest(w, r, "invalid_page", "page must be an integer")
			return
		}
		if filter.Limit, err = intParam(q.Get("limit")); err != nil {
			badRequest(w, r, "invalid_limit", "limit must be an integer")
			return
		}

		page, err := svc.List(r.Context(), filter)
		if err != nil {
			writeError(w, r, err)
			return
		}
		resp := AppointmentListResponse{
			Items: make([]AppointmentResponse, 0, len(page.Items)),
			Total: page.Total,
			Page:  page.Page,
			Limit: page.Limit,
		}
		for i := range page.Items {
			resp.Items = append(resp.Items, toAppointmentResponse(&page.Items[i]))
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

// listFilterFor scopes a listing to the caller. Patients and doctors only
// see their own appointments; the system role sees everything.
func listFilterFor(actor auth.Actor, scope string) (appointment.ListFilter, error) {
	var f appointment.ListFilter
	if scope == "" {
		scope = string(actor.Role)
	}
	switch {
	case actor.Role == auth.RoleSystem && scope == string(auth.RoleSystem):
		return f, nil
	case scope == string(auth.RolePatient) && actor.Role == auth.RolePatient:
		f.PatientID = &actor.ID
	case scope == string(auth.RoleDoctor) && actor.Role == auth.RoleDoctor:
		f.DoctorID = &actor.ID
	case scope != string(auth.RolePatient) && scope != string(auth.RoleDoctor):
		return f, fmt.Errorf("%w: scope must be patient or doctor", apperr.ErrInvalidArgument)
	default:
		return f, fmt.Errorf("%w: role %s cannot list scope %s", apperr.ErrForbidden, actor.Role, scope)
	}
	return f, nil
}

func confirmAppointmentHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := appointmentID(w, r)
		if !ok {
			return
		}
		appt, err := svc.DoctorConfirm(r.Context(), id, mustActor(r).ID)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
	}
}

func rejectAppointmentHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := appointmentID(w, r)
		if !ok {
			return
		}
		reason, ok := optionalReason(w, r)
		if !ok {
			return
		}
		appt, err := svc.DoctorReject(r.Context(), id, mustActor(r).ID, reason)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
	}
}

func cancelAppointmentHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := appointmentID(w, r)
		if !ok {
			return
		}
		reason, ok := optionalReason(w, r)
		if !ok {
			return
		}
		appt, err := svc.Cancel(r.Context(), id, mustActor(r).ID, reason)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
	}
}

func rescheduleAppointmentHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := appointmentID(w, r)
		if !ok {
			return
		}
		var req RescheduleRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			badRequest(w, r, "invalid_request_body", "could not parse JSON")
			return
		}
		date, err := calendar.ParseDate(req.Date)
		if err != nil {
			writeError(w, r, err)
			return
		}
		start, err := calendar.At(date, req.Start)
		if err != nil {
			writeError(w, r, err)
			return
		}

		appt, err := svc.Reschedule(r.Context(), id, mustActor(r).ID, appointment.RescheduleInput{
			Date:   date,
			Start:  start,
			Reason: req.Reason,
		})
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
	}
}

func completeAppointmentHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := appointmentID(w, r)
		if !ok {
			return
		}
		actor := mustActor(r)
		doctorID := actor.ID
		if actor.Role == auth.RoleSystem {
			doctorID = uuid.Nil
		}
		appt, err := svc.Complete(r.Context(), id, doctorID)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
	}
}

func appointmentID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		badRequest(w, r, "invalid_appointment_id", "id must be a valid UUID")
		return uuid.Nil, false
	}
	return id, true
}

// optionalReason reads {"reason": "..."}; an empty body is allowed.
func optionalReason(w http.ResponseWriter, r *http.Request) (string, bool) {
	var req ReasonRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		badRequest(w, r, "invalid_request_body", "could not parse JSON")
		return "", false
	}
	return req.Reason, true
}

func intParam(s string) (int, error) {
	if s == "" {
		return 0, nil
	}
	return strconv.Atoi(s)
}

// mustActor is only called behind auth.Middleware.
func mustActor(r *http.Request) auth.Actor {
	actor, _ := auth.ActorFromContext(r.Context())
	return actor
}
