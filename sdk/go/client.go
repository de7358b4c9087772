package carepoolsdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a minimal Carepool HTTP API client.
type Client struct {
	BaseURL    string
	FacilityID string
	ActorID    string
	HTTPClient *http.Client
	Timeout    time.Duration
}

// New creates a client with sane defaults.
func New(baseURL, facilityID string) *Client {
	return &Client{
		BaseURL:    baseURL,
		FacilityID: facilityID,
		Timeout:    10 * time.Second,
	}
}

// Unit represents the API resource unit model (partial).
type Unit struct {
	ID         string `json:"id"`
	FacilityID string `json:"facility_id"`
	Kind       string `json:"kind"`
	Name       string `json:"name"`
	Capacity   int    `json:"capacity"`
	Allocated  int    `json:"allocated"`
	Remaining  int    `json:"remaining"`
	State      string `json:"state"`
	Version    int64  `json:"version"`
}

// Reservation represents one claim on a unit.
type Reservation struct {
	ID          string  `json:"id"`
	UnitID      string  `json:"unit_id"`
	RequesterID string  `json:"requester_id"`
	Quantity    int     `json:"quantity"`
	WindowStart *string `json:"window_start,omitempty"`
	WindowEnd   *string `json:"window_end,omitempty"`
	Status      string  `json:"status"`
	CreatedAt   string  `json:"created_at"`
	ReleasedAt  *string `json:"released_at,omitempty"`
}

// Alert represents a threshold alert.
type Alert struct {
	UnitID           string `json:"unit_id"`
	UnitName         string `json:"unit_name,omitempty"`
	Kind             string `json:"kind,omitempty"`
	Level            string `json:"level"`
	ObservedQuantity int    `json:"observed_quantity"`
	Limit            int    `json:"limit"`
	RaisedAt         string `json:"raised_at"`
}

// Allocation bundles a reservation with its unit and any raised alerts.
type Allocation struct {
	Reservation Reservation `json:"reservation"`
	Unit        Unit        `json:"unit"`
	Alerts      []Alert     `json:"alerts,omitempty"`
}

// Event represents a log entry.
type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts"`
	Type       string `json:"type"`
	FacilityID string `json:"facility_id"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// AllocateRequest carries allocation criteria; zero values are omitted.
type AllocateRequest struct {
	Kind        string `json:"kind,omitempty"`
	UnitID      string `json:"unit_id,omitempty"`
	Department  string `json:"department,omitempty"`
	RoomType    string `json:"room_type,omitempty"`
	Category    string `json:"category,omitempty"`
	BloodType   string `json:"blood_type,omitempty"`
	DoctorID    string `json:"doctor_id,omitempty"`
	RequesterID string `json:"requester_id"`
	Quantity    int    `json:"quantity,omitempty"`
	WindowStart string `json:"window_start,omitempty"`
	WindowEnd   string `json:"window_end,omitempty"`
	Hold        bool   `json:"hold,omitempty"`
	Note        string `json:"note,omitempty"`
}

// Allocate reserves a unit matching the request.
func (c *Client) Allocate(ctx context.Context, req AllocateRequest) (Allocation, error) {
	var resp Allocation
	err := c.do(ctx, http.MethodPost, c.facilityPath("allocations"), req, &resp)
	return resp, err
}

// Release ends a reservation and returns its capacity.
func (c *Client) Release(ctx context.Context, reservationID string) (Allocation, error) {
	return c.reservationAction(ctx, reservationID, "release")
}

// Confirm books a pending appointment request.
func (c *Client) Confirm(ctx context.Context, reservationID string) (Allocation, error) {
	return c.reservationAction(ctx, reservationID, "confirm")
}

// Cancel cancels a reservation.
func (c *Client) Cancel(ctx context.Context, reservationID string) (Allocation, error) {
	return c.reservationAction(ctx, reservationID, "cancel")
}

func (c *Client) reservationAction(ctx context.Context, reservationID, action string) (Allocation, error) {
	var resp Allocation
	endpoint := c.facilityPath(fmt.Sprintf("reservations/%s/%s", url.PathEscape(reservationID), action))
	err := c.do(ctx, http.MethodPost, endpoint, nil, &resp)
	return resp, err
}

// Units lists registered units, optionally narrowed by kind.
func (c *Client) Units(ctx context.Context, kind string) ([]Unit, error) {
	endpoint := c.facilityPath("units")
	if kind != "" {
		endpoint = fmt.Sprintf("%s?kind=%s", endpoint, url.QueryEscape(kind))
	}
	var resp []Unit
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// Alerts returns current threshold alerts.
func (c *Client) Alerts(ctx context.Context, kind string) ([]Alert, error) {
	endpoint := c.facilityPath("alerts")
	if kind != "" {
		endpoint = fmt.Sprintf("%s?kind=%s", endpoint, url.QueryEscape(kind))
	}
	var resp []Alert
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// Events returns recent audit events.
func (c *Client) Events(ctx context.Context, limit int) ([]Event, error) {
	endpoint := c.facilityPath("events")
	if limit > 0 {
		endpoint = fmt.Sprintf("%s?limit=%d", endpoint, limit)
	}
	var resp []Event
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.ActorID != "" {
		req.Header.Set("X-Actor-Id", c.ActorID)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) facilityPath(p string) string {
	facility := url.PathEscape(c.FacilityID)
	return fmt.Sprintf("v0/facilities/%s/%s", facility, strings.TrimLeft(p, "/"))
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
