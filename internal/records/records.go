// Package records talks to the medical records service.
package records

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/hackgods/geo-appointment-scheduling/internal/apperr"
)

type SeedRequest struct {
	AppointmentID uuid.UUID `json:"appointment_id"`
	PatientID     uuid.UUID `json:"patient_id"`
	DoctorID      uuid.UUID `json:"doctor_id"`
	Reason        string    `json:"reason"`
	Date          string    `json:"date"`
}

type seedResponse struct {
	ConsultationID string `json:"consultation_id"`
}

// Seeder opens a consultation record for a completed appointment.
type Seeder interface {
	SeedConsultation(ctx context.Context, req SeedRequest) (string, error)
}

type Client struct {
	baseURL    string
	httpClient *http.Client
}

func NewClient(baseURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &Client{baseURL: strings.TrimRight(baseURL, "/"), httpClient: httpClient}
}

// SeedConsultation sends the appointment id as the idempotency key, so
// repeating a call for the same appointment is safe.
func (c *Client) SeedConsultation(ctx context.Context, in SeedRequest) (string, error) {
	body, err := json.Marshal(in)
	if err != nil {
		return "", fmt.Errorf("records: marshal: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/consultations", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("records: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", in.AppointmentID.String())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", apperr.Transient(fmt.Errorf("records: seed consultation: %w", err))
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	switch {
	case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
		return "", apperr.Transient(fmt.Errorf("records: status %d: %s", resp.StatusCode, bytes.TrimSpace(raw)))
	case resp.StatusCode >= 300:
		return "", fmt.Errorf("records: status %d: %s", resp.StatusCode, bytes.TrimSpace(raw))
	}

	var out seedResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return "", fmt.Errorf("records: decode response: %w", err)
	}
	return out.ConsultationID, nil
}

// LogSeeder stands in when no records service is configured.
type LogSeeder struct {
	logger zerolog.Logger
}

func NewLogSeeder(logger zerolog.Logger) *LogSeeder {
	return &LogSeeder{logger: logger}
}

func (s *LogSeeder) SeedConsultation(_ context.Context, in SeedRequest) (string, error) {
	s.logger.Info().
		Str("appointment_id", in.AppointmentID.String()).
		Str("patient_id", in.PatientID.String()).
		Msg("consultation seed skipped, no records service configured")
	return "", nil
}
