// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

/*
Package middleware provides HTTP middleware and helper functions.

# Request Logging

Wrap handlers with request logging:

	mux.HandleFunc("GET /health", middleware.WithLogging(handler))

Logs request start (method, path, remote) and completion (duration_ms).

# Metrics

Instrument records http_requests_total and http_request_duration_seconds
under a fixed handler name:

	mux.HandleFunc("POST /checkins", middleware.Instrument("checkins", handler))

The recorder it installs supports Hijack so /live can be instrumented.

# Staff Authentication

WithStaff checks X-Staff-ID and X-Staff-Key (or the staff_id and
staff_key query parameters) against the configured salt and answers 401
on mismatch. Handlers read the identity back with StaffID(r.Context()).

# CORS Middleware

Enable cross-origin requests for staff dashboards:

	server := http.Server{
		Handler: middleware.CORS(mux),
	}

Allows methods GET, POST, OPTIONS with headers Content-Type, X-Staff-ID,
X-Staff-Key.

# JSON Helpers

Write JSON responses:

	middleware.JSONResponse(w, http.StatusOK, data)
	middleware.ErrorResponse(w, http.StatusBadRequest, "message")

Parse JSON request bodies:

	var action models.CheckInAction
	if err := middleware.ParseJSONBody(r, &action); err != nil {
		middleware.ErrorResponse(w, http.StatusBadRequest, "Invalid JSON")
		return
	}

# Client IP Extraction

	ip := middleware.GetClientIP(r)

Handles X-Forwarded-For and X-Real-IP; used in request and auth logs.
*/
package middleware
