package tracker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/taxibcn/reten/internal/zones"
)

const exitAttempts = 3

// HTTPGeofence talks to the geofence API mounted at BaseURL.
type HTTPGeofence struct {
	BaseURL string
	Client  *http.Client
	// RetryInitial is the first delay between exit attempts.
	RetryInitial time.Duration
}

func NewHTTPGeofence(baseURL string) *HTTPGeofence {
	return &HTTPGeofence{
		BaseURL:      strings.TrimRight(baseURL, "/"),
		Client:       &http.Client{Timeout: 15 * time.Second},
		RetryInitial: 500 * time.Millisecond,
	}
}

type statusError struct {
	Code    int
	Message string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("geofence: %d %s", e.Code, e.Message)
}

type checkBody struct {
	Lat      float64 `json:"lat"`
	Lng      float64 `json:"lng"`
	Action   string  `json:"action"`
	DeviceID string  `json:"deviceId"`
}

type checkReply struct {
	Success bool    `json:"success"`
	Zona    *string `json:"zona"`
	Message string  `json:"message"`
}

// Check registers the device at p and reports the zone the server placed it
// in.
func (g *HTTPGeofence) Check(ctx context.Context, deviceID string, p zones.Point) (Observation, error) {
	var reply checkReply
	code, err := g.post(ctx, "/check", checkBody{Lat: p.Lat, Lng: p.Lng, Action: "register", DeviceID: deviceID}, &reply)
	if err != nil {
		return Observation{}, err
	}
	if code == http.StatusTooManyRequests {
		return Observation{Throttled: true}, nil
	}
	if reply.Zona == nil {
		return Observation{}, nil
	}
	return Observation{Zone: *reply.Zona}, nil
}

// Exit closes the device's presence in zone. The server treats repeated exits
// as no-ops, so transient failures are retried.
func (g *HTTPGeofence) Exit(ctx context.Context, deviceID, zone string) error {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = g.RetryInitial
	bo := backoff.WithContext(backoff.WithMaxRetries(eb, exitAttempts-1), ctx)

	return backoff.Retry(func() error {
		_, err := g.post(ctx, "/exit", map[string]string{"deviceId": deviceID, "zona": zone}, nil)
		var se *statusError
		if errors.As(err, &se) && se.Code < http.StatusInternalServerError {
			return backoff.Permanent(err)
		}
		return err
	}, bo)
}

// post sends body as JSON and decodes the reply into out. 2xx and 429 are
// returned as codes; any other status is a *statusError.
func (g *HTTPGeofence) post(ctx context.Context, path string, body, out any) (int, error) {
	buf, err := json.Marshal(body)
	if err != nil {
		return 0, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.BaseURL+path, bytes.NewReader(buf))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := g.Client.Do(req)
	if err != nil {
		return 0, err
	}
	defer res.Body.Close()

	if res.StatusCode == http.StatusTooManyRequests {
		_, _ = io.Copy(io.Discard, res.Body)
		return res.StatusCode, nil
	}
	if res.StatusCode < 200 || res.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(res.Body, 512))
		return res.StatusCode, &statusError{Code: res.StatusCode, Message: strings.TrimSpace(string(msg))}
	}
	if out != nil {
		if err := json.NewDecoder(res.Body).Decode(out); err != nil {
			return res.StatusCode, fmt.Errorf("decode %s reply: %w", path, err)
		}
	}
	return res.StatusCode, nil
}
