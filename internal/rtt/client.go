// Package rtt fetches per-station arrival records from the external
// timetable API.
package rtt

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// FetchError is returned for any failure talking to the timetable API:
// transport errors, non-2xx responses, and malformed payloads. The caller
// decides whether to retry or skip the day.
type FetchError struct {
	Station string
	Date    string
	Status  int // HTTP status, 0 if the request never completed.
	Err     error
}

func (e *FetchError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("fetch arrivals %s %s: HTTP %d", e.Station, e.Date, e.Status)
	}
	return fmt.Sprintf("fetch arrivals %s %s: %v", e.Station, e.Date, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// Client talks to the timetable API using basic auth.
type Client struct {
	baseURL  string
	username string
	password string
	http     *http.Client
}

// NewClient creates a timetable API client. Credentials come from
// configuration; the client never reads them itself.
func NewClient(baseURL, username, password string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL:  baseURL,
		username: username,
		password: password,
		http:     &http.Client{Timeout: timeout},
	}
}

// Arrivals fetches all arrival records for the given station and date.
// Only calls at the queried station are kept; passing services and records
// for other locations in the response are filtered out.
func (c *Client) Arrivals(ctx context.Context, station string, date time.Time) ([]Service, error) {
	dateStr := date.Format("2006-01-02")
	url := fmt.Sprintf("%s/%s/%s/arrivals", c.baseURL, station, date.Format("2006/01/02"))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, &FetchError{Station: station, Date: dateStr, Err: err}
	}
	req.SetBasicAuth(c.username, c.password)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &FetchError{Station: station, Date: dateStr, Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		// Drain so the connection can be reused.
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, &FetchError{
			Station: station,
			Date:    dateStr,
			Status:  resp.StatusCode,
			Err:     fmt.Errorf("unexpected status %s", resp.Status),
		}
	}

	var payload apiResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, &FetchError{Station: station, Date: dateStr, Err: fmt.Errorf("decode response: %w", err)}
	}

	services := make([]Service, 0, len(payload.Services))
	for _, s := range payload.Services {
		if s.LocationDetail.CRS != station {
			continue
		}
		services = append(services, s.flatten())
	}
	return services, nil
}
