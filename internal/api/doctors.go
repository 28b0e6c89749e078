package api

import (
	"context"
	"encoding/json"
	"math"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/hackgods/geo-appointment-scheduling/internal/calendar"
	"github.com/hackgods/geo-appointment-scheduling/internal/directory"
	"github.com/hackgods/geo-appointment-scheduling/internal/geo"
	"github.com/hackgods/geo-appointment-scheduling/internal/metrics"
)

// DoctorProfiles is the part of the directory the doctor endpoints write to.
type DoctorProfiles interface {
	UpdateDoctorLocation(ctx context.Context, id uuid.UUID, c geo.Coordinate) (*directory.Doctor, error)
}

func searchDoctorsHandler(idx geo.Index, m *metrics.GeoMetrics) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()

		lat, errLat := strconv.ParseFloat(q.Get("lat"), 64)
		lon, errLon := strconv.ParseFloat(q.Get("lon"), 64)
		if errLat != nil || errLon != nil {
			badRequest(w, r, "invalid_coordinate", "lat and lon are required numbers")
			return
		}

		query := geo.Query{
			Point:        geo.Coordinate{Lat: lat, Lon: lon},
			RadiusMeters: geo.DefaultRadiusMeters,
			Specialty:    q.Get("specialty"),
		}
		if s := q.Get("radius_m"); s != "" {
			radius, err := strconv.ParseFloat(s, 64)
			if err != nil || math.IsNaN(radius) || math.IsInf(radius, 0) || radius < 0 {
				badRequest(w, r, "invalid_radius", "radius_m must be a finite non-negative number")
				return
			}
			query.RadiusMeters = radius
		}
		var err error
		if query.Page, err = intParam(q.Get("page")); err != nil {
			badRequest(w, r, "invalid_page", "page must be an integer")
			return
		}
		if query.Limit, err = intParam(q.Get("limit")); err != nil {
			badRequest(w, r, "invalid_limit", "limit must be an integer")
			return
		}

		matches, err := idx.Query(r.Context(), query)
		if err != nil {
			m.ObserveQuery("error", 0)
			writeError(w, r, err)
			return
		}
		m.ObserveQuery("ok", len(matches))
		writeJSON(w, http.StatusOK, toSearchResponse(matches, query.Normalize()))
	}
}

// updateLocationHandler stores the doctor's new position in the directory and
// pushes it to the index right away; the periodic sync would pick it up too.
func updateLocationHandler(profiles DoctorProfiles, idx geo.Index) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor := mustActor(r)

		var req LocationRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Lat == nil || req.Lon == nil {
			badRequest(w, r, "invalid_request_body", "lat and lon are required")
			return
		}
		coord := geo.Coordinate{Lat: *req.Lat, Lon: *req.Lon}
		if err := coord.Validate(); err != nil {
			writeError(w, r, err)
			return
		}

		doc, err := profiles.UpdateDoctorLocation(r.Context(), actor.ID, coord)
		if err != nil {
			writeError(w, r, err)
			return
		}
		if err := idx.Upsert(r.Context(), geo.DoctorLocation{
			DoctorID:  doc.ID,
			Specialty: doc.Specialty,
			Coord:     coord,
			UpdatedAt: doc.UpdatedAt,
		}); err != nil {
			writeError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func publishSlotsHandler(cal calendar.Calendar) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor := mustActor(r)

		var req PublishSlotsRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			badRequest(w, r, "invalid_request_body", "could not parse JSON")
			return
		}
		date, err := calendar.ParseDate(req.Date)
		if err != nil {
			writeError(w, r, err)
			return
		}

		batch := make([]calendar.Interval, 0, len(req.Slots))
		for _, s := range req.Slots {
			start, err := calendar.At(date, s.Start)
			if err != nil {
				writeError(w, r, err)
				return
			}
			end, err := calendar.At(date, s.End)
			if err != nil {
				writeError(w, r, err)
				return
			}
			batch = append(batch, calendar.Interval{Start: start, End: end})
		}

		created, err := cal.PublishSlots(r.Context(), actor.ID, date, batch)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, SlotListResponse{Slots: toSlotResponses(created)})
	}
}

func listSlotsHandler(cal calendar.Calendar) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		doctorID, err := uuid.Parse(chi.URLParam(r, "id"))
		if err != nil {
			badRequest(w, r, "invalid_doctor_id", "id must be a valid UUID")
			return
		}
		date, err := calendar.ParseDate(r.URL.Query().Get("date"))
		if err != nil {
			writeError(w, r, err)
			return
		}

		slots, err := cal.ListSlots(r.Context(), doctorID, date)
		if err != nil {
			writeError(w, r, err)
			return
		}
		if free, _ := strconv.ParseBool(r.URL.Query().Get("free")); free {
			kept := slots[:0]
			for _, s := range slots {
				if s.State == calendar.SlotFree {
					kept = append(kept, s)
				}
			}
			slots = kept
		}
		writeJSON(w, http.StatusOK, SlotListResponse{Slots: toSlotResponses(slots)})
	}
}
