package notify

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

	"github.com/hackgods/geo-appointment-scheduling/internal/apperr"
)

// HTTPNotifier posts notifications to the notification service.
type HTTPNotifier struct {
	baseURL    string
	httpClient *http.Client
}

func NewHTTPNotifier(baseURL string, httpClient *http.Client) *HTTPNotifier {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &HTTPNotifier{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpClient,
	}
}

type sendRequest struct {
	RecipientID uuid.UUID `json:"recipient_id"`
	Kind        string    `json:"kind"`
	Payload     Payload   `json:"payload"`
}

func (n *HTTPNotifier) Send(ctx context.Context, recipientID uuid.UUID, kind string, p Payload) error {
	body, err := json.Marshal(sendRequest{RecipientID: recipientID, Kind: kind, Payload: p})
	if err != nil {
		return fmt.Errorf("notify: marshal: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.baseURL+"/notifications", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("notify: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", fmt.Sprintf("%s:%s:%s", p.AppointmentID, kind, recipientID))

	resp, err := n.httpClient.Do(req)
	if err != nil {
		return apperr.Transient(fmt.Errorf("notify: send: %w", err))
	}
	defer resp.Body.Close()
	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))

	return classifyStatus("notify", resp.StatusCode, snippet)
}

// classifyStatus maps an HTTP status to nil, a transient error (5xx, 429) or
// a permanent one.
func classifyStatus(component string, status int, body []byte) error {
	switch {
	case status >= 200 && status < 300:
		return nil
	case status >= 500 || status == http.StatusTooManyRequests:
		return apperr.Transient(fmt.Errorf("%s: status %d: %s", component, status, bytes.TrimSpace(body)))
	default:
		return fmt.Errorf("%s: status %d: %s", component, status, bytes.TrimSpace(body))
	}
}
