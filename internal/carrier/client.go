package carrier

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	domain "github.com/weave/storefront/internal/domain"
)

const (
	defaultTimeout  = 10 * time.Second
	maxResponseBody = 1 << 20
)

var (
	// ErrTrackingUnavailable reports a transport failure or a non-2xx answer from the carrier.
	ErrTrackingUnavailable = errors.New("carrier: tracking unavailable")
	// ErrTrackingRejected reports a well-formed response that carries an error payload.
	ErrTrackingRejected = errors.New("carrier: tracking rejected")
	// ErrInvalidShipment is returned for a blank shipment id.
	ErrInvalidShipment = errors.New("carrier: shipment id is required")
)

// Option customises the client.
type Option func(*Client)

// WithHTTPClient replaces the instrumented default client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

// WithTimeout bounds each tracking request.
func WithTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		if timeout > 0 {
			c.http.Timeout = timeout
		}
	}
}

// Client fetches shipment tracking snapshots from the carrier API.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

// NewClient builds a client for baseURL authenticated with a bearer token.
func NewClient(baseURL, token string, opts ...Option) (*Client, error) {
	base := strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if base == "" {
		return nil, errors.New("carrier: base url is required")
	}
	if _, err := url.Parse(base); err != nil {
		return nil, fmt.Errorf("carrier: parse base url: %w", err)
	}
	c := &Client{
		baseURL: base,
		token:   strings.TrimSpace(token),
		http: &http.Client{
			Timeout:   defaultTimeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c, nil
}

type trackingPayload struct {
	TrackingCode json.RawMessage `json:"trackingCode"`
	TrackURL     string          `json:"trackUrl"`
	ETD          string          `json:"etd"`
	History      []eventPayload  `json:"history"`
	Error        string          `json:"error"`
}

type eventPayload struct {
	Status        string `json:"status"`
	Location      string `json:"location"`
	Date          string `json:"date"`
	DeliveredDate string `json:"deliveredDate"`
}

// FetchTracking calls GET {base}/tracking/{shipmentId}.
func (c *Client) FetchTracking(ctx context.Context, shipmentID string) (domain.TrackingSnapshot, error) {
	shipmentID = strings.TrimSpace(shipmentID)
	if shipmentID == "" {
		return domain.TrackingSnapshot{}, ErrInvalidShipment
	}

	endpoint, err := url.JoinPath(c.baseURL, "tracking", shipmentID)
	if err != nil {
		return domain.TrackingSnapshot{}, fmt.Errorf("carrier: build url: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return domain.TrackingSnapshot{}, fmt.Errorf("carrier: build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return domain.TrackingSnapshot{}, fmt.Errorf("%w: %w", ErrTrackingUnavailable, ctxErr)
		}
		return domain.TrackingSnapshot{}, fmt.Errorf("%w: %v", ErrTrackingUnavailable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return domain.TrackingSnapshot{}, fmt.Errorf("%w: read body: %v", ErrTrackingUnavailable, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return domain.TrackingSnapshot{}, fmt.Errorf("%w: status %d: %s", ErrTrackingUnavailable, resp.StatusCode, snippet(body))
	}

	var payload trackingPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return domain.TrackingSnapshot{}, fmt.Errorf("%w: decode: %v", ErrTrackingRejected, err)
	}
	if msg := strings.TrimSpace(payload.Error); msg != "" {
		return domain.TrackingSnapshot{}, fmt.Errorf("%w: %s", ErrTrackingRejected, msg)
	}

	snapshot := domain.TrackingSnapshot{
		ShipmentID:   shipmentID,
		TrackingCode: parseTrackingCode(payload.TrackingCode),
		TrackURL:     strings.TrimSpace(payload.TrackURL),
		ETD:          strings.TrimSpace(payload.ETD),
		History:      make([]domain.TrackingEvent, 0, len(payload.History)),
	}
	for _, event := range payload.History {
		snapshot.History = append(snapshot.History, domain.TrackingEvent{
			Status:        strings.TrimSpace(event.Status),
			Location:      strings.TrimSpace(event.Location),
			Date:          strings.TrimSpace(event.Date),
			DeliveredDate: strings.TrimSpace(event.DeliveredDate),
		})
	}
	return snapshot, nil
}

// parseTrackingCode accepts a JSON number or a numeric string. Anything else yields 0, which no
// mapping table entry uses, so the line is left as is.
func parseTrackingCode(raw json.RawMessage) int {
	if len(raw) == 0 {
		return 0
	}
	var number json.Number
	if err := json.Unmarshal(raw, &number); err != nil {
		var text string
		if err := json.Unmarshal(raw, &text); err != nil {
			return 0
		}
		number = json.Number(strings.TrimSpace(text))
	}
	code, err := strconv.Atoi(number.String())
	if err != nil {
		return 0
	}
	return code
}

func snippet(body []byte) string {
	text := strings.TrimSpace(string(body))
	if len(text) > 200 {
		text = text[:200]
	}
	return text
}
