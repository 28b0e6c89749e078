package notify

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/geo-appointment-scheduling/internal/apperr"
	"github.com/hackgods/geo-appointment-scheduling/internal/directory"
)

func samplePayload() Payload {
	start := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	return Payload{
		AppointmentID: uuid.New(),
		PatientID:     uuid.New(),
		DoctorID:      uuid.New(),
		Status:        "confirmed",
		Date:          "2026-03-02",
		Start:         start,
		End:           start.Add(30 * time.Minute),
		Reason:        "checkup",
	}
}

func TestHTTPNotifierPostsJSON(t *testing.T) {
	p := samplePayload()
	recipient := p.PatientID

	var got sendRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/notifications", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.Equal(t, p.AppointmentID.String()+":Confirmed:"+recipient.String(), r.Header.Get("Idempotency-Key"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	n := NewHTTPNotifier(srv.URL+"/", srv.Client())
	require.NoError(t, n.Send(context.Background(), recipient, "Confirmed", p))

	assert.Equal(t, recipient, got.RecipientID)
	assert.Equal(t, "Confirmed", got.Kind)
	assert.Equal(t, p.AppointmentID, got.Payload.AppointmentID)
	assert.Equal(t, "checkup", got.Payload.Reason)
}

func TestHTTPNotifierClassifiesFailures(t *testing.T) {
	cases := []struct {
		status    int
		transient bool
	}{
		{http.StatusInternalServerError, true},
		{http.StatusServiceUnavailable, true},
		{http.StatusTooManyRequests, true},
		{http.StatusBadRequest, false},
		{http.StatusNotFound, false},
	}
	for _, tc := range cases {
		t.Run(http.StatusText(tc.status), func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				http.Error(w, "nope", tc.status)
			}))
			defer srv.Close()

			err := NewHTTPNotifier(srv.URL, nil).Send(context.Background(), uuid.New(), "Requested", samplePayload())
			require.Error(t, err)
			assert.Equal(t, tc.transient, errors.Is(err, apperr.ErrTransient))
			assert.Contains(t, err.Error(), "nope")
		})
	}
}

func TestHTTPNotifierNetworkErrorIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	err := NewHTTPNotifier(url, nil).Send(context.Background(), uuid.New(), "Requested", samplePayload())
	require.Error(t, err)
	assert.ErrorIs(t, err, apperr.ErrTransient)
}

func TestSendGridNotifierSendsEmail(t *testing.T) {
	p := samplePayload()
	dir := directory.NewMemoryDirectory()
	email := "amel@example.com"
	dir.AddPatient(directory.Patient{ID: p.PatientID, Name: "Amel", Email: &email})

	var body string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v3/mail/send", r.URL.Path)
		assert.Equal(t, "Bearer sg-key", r.Header.Get("Authorization"))
		raw, _ := io.ReadAll(r.Body)
		body = string(raw)
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	n, err := NewSendGridNotifier(SendGridConfig{
		APIKey:    "sg-key",
		FromEmail: "noreply@example.com",
		Host:      srv.URL,
	}, dir, zerolog.Nop())
	require.NoError(t, err)

	p.StatusReason = "doctor unavailable"
	require.NoError(t, n.Send(context.Background(), p.PatientID, "Rejected", p))
	assert.Contains(t, body, "amel@example.com")
	assert.Contains(t, body, "Appointment request declined")
	assert.Contains(t, body, "doctor unavailable")
}

func TestSendGridNotifierErrors(t *testing.T) {
	dir := directory.NewMemoryDirectory()
	email := "doc@example.com"
	doctorID := uuid.New()
	dir.AddDoctor(directory.Doctor{ID: doctorID, Name: "Dr Ben Ali", Email: &email, Specialty: "Cardiology"})

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	n, err := NewSendGridNotifier(SendGridConfig{APIKey: "k", FromEmail: "noreply@example.com", Host: srv.URL}, dir, zerolog.Nop())
	require.NoError(t, err)

	err = n.Send(context.Background(), doctorID, "Requested", samplePayload())
	assert.ErrorIs(t, err, apperr.ErrTransient)

	err = n.Send(context.Background(), uuid.New(), "Requested", samplePayload())
	assert.ErrorIs(t, err, directory.ErrContactNotFound)
	assert.NotErrorIs(t, err, apperr.ErrTransient)

	_, err = NewSendGridNotifier(SendGridConfig{}, dir, zerolog.Nop())
	assert.Error(t, err)
}

func TestRenderFallsBackToStatus(t *testing.T) {
	subject, body := render("Completed", samplePayload())
	assert.Equal(t, "Appointment update", subject)
	assert.True(t, strings.HasSuffix(body, "is now confirmed."))
}

func TestRenderRescheduled(t *testing.T) {
	p := samplePayload()
	subject, body := render("Rescheduled", p)
	assert.Equal(t, "Appointment rescheduled", subject)
	assert.Contains(t, body, p.Date)
	assert.Contains(t, body, p.Start.Format("15:04"))
}
