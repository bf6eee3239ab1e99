// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package client

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

	"github.com/danielhkuo/doorlist/models"
)

// HTTPSubmitter talks to the doorlist server's HTTP API as one staff member
type HTTPSubmitter struct {
	baseURL  string
	staffID  string
	staffKey string
	http     *http.Client
}

// NewHTTPSubmitter creates a submitter. The timeout bounds each request;
// callers may pass a shorter context deadline.
func NewHTTPSubmitter(baseURL, staffID, staffKey string, timeout time.Duration) *HTTPSubmitter {
	return &HTTPSubmitter{
		baseURL:  strings.TrimRight(baseURL, "/"),
		staffID:  staffID,
		staffKey: staffKey,
		http:     &http.Client{Timeout: timeout},
	}
}

// Submit posts one action. COMMITTED and DUPLICATE return a result and
// no error. Everything else returns *RetryableTransportError or
// *TerminalValidationError.
func (s *HTTPSubmitter) Submit(ctx context.Context, action models.CheckInAction) (models.TransitionResult, error) {
	action.SyncState = ""
	body, err := json.Marshal(action)
	if err != nil {
		return models.TransitionResult{}, &TerminalValidationError{Reason: err.Error()}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/checkins", bytes.NewReader(body))
	if err != nil {
		return models.TransitionResult{}, &TerminalValidationError{Reason: err.Error()}
	}
	req.Header.Set("Content-Type", "application/json")
	s.authorize(req.Header)

	resp, err := s.http.Do(req)
	if err != nil {
		// Timeouts, refused connections and resets all land here
		return models.TransitionResult{}, &RetryableTransportError{Op: "submit", Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return models.TransitionResult{}, &RetryableTransportError{Op: "submit", Err: err}
	}

	switch {
	case resp.StatusCode == http.StatusOK:
		var result models.TransitionResult
		if err := json.Unmarshal(raw, &result); err != nil {
			return models.TransitionResult{}, &RetryableTransportError{Op: "submit", Err: fmt.Errorf("bad response: %w", err)}
		}
		return result, nil

	case resp.StatusCode == http.StatusUnprocessableEntity:
		var result models.TransitionResult
		if err := json.Unmarshal(raw, &result); err != nil {
			return models.TransitionResult{}, &TerminalValidationError{StatusCode: resp.StatusCode, Reason: "rejected"}
		}
		return result, &TerminalValidationError{StatusCode: resp.StatusCode, Reason: result.Reason, Result: &result}

	case resp.StatusCode >= 500,
		resp.StatusCode == http.StatusTooManyRequests,
		resp.StatusCode == http.StatusRequestTimeout:
		return models.TransitionResult{}, &RetryableTransportError{Op: "submit", StatusCode: resp.StatusCode}

	case resp.StatusCode == http.StatusUnauthorized, resp.StatusCode == http.StatusForbidden:
		// Credentials are device config, not a property of the action
		return models.TransitionResult{}, &RetryableTransportError{Op: "submit", StatusCode: resp.StatusCode}

	default:
		return models.TransitionResult{}, &TerminalValidationError{StatusCode: resp.StatusCode, Reason: errorMessage(raw, resp.StatusCode)}
	}
}

// Health reports whether the server answers GET /health
func (s *HTTPSubmitter) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+"/health", nil)
	if err != nil {
		return err
	}
	resp, err := s.http.Do(req)
	if err != nil {
		return &RetryableTransportError{Op: "health", Err: err}
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		return &RetryableTransportError{Op: "health", StatusCode: resp.StatusCode}
	}
	return nil
}

// Stats fetches GET /events/{event}/stats
func (s *HTTPSubmitter) Stats(ctx context.Context, eventRef string) (models.AggregateStats, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		s.baseURL+"/events/"+url.PathEscape(eventRef)+"/stats", nil)
	if err != nil {
		return models.AggregateStats{}, err
	}
	s.authorize(req.Header)

	resp, err := s.http.Do(req)
	if err != nil {
		return models.AggregateStats{}, &RetryableTransportError{Op: "stats", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
		return models.AggregateStats{}, fmt.Errorf("stats: %s", errorMessage(raw, resp.StatusCode))
	}

	var st models.AggregateStats
	if err := json.NewDecoder(resp.Body).Decode(&st); err != nil {
		return models.AggregateStats{}, fmt.Errorf("stats: bad response: %w", err)
	}
	return st, nil
}

func (s *HTTPSubmitter) authorize(h http.Header) {
	h.Set("X-Staff-ID", s.staffID)
	h.Set("X-Staff-Key", s.staffKey)
}

func errorMessage(raw []byte, status int) string {
	var e models.ErrorResponse
	if err := json.Unmarshal(raw, &e); err == nil && e.Message != "" {
		return e.Message
	}
	return http.StatusText(status)
}
