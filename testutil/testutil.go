// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package testutil

import (
	"bytes"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/danielhkuo/doorlist/auth"
	"github.com/danielhkuo/doorlist/cliparse"
	"github.com/danielhkuo/doorlist/db"
	"github.com/danielhkuo/doorlist/models"
)

// TestStaffSalt is the staff key salt used by GetTestConfig
const TestStaffSalt = "test-staff-salt"

// SetupTestDB creates a fresh SQLite database with the full schema.
// The file lives in the test's temp dir and is closed on cleanup.
func SetupTestDB(t *testing.T) *sql.DB {
	t.Helper()

	conn, err := db.Open("sqlite", filepath.Join(t.TempDir(), "doorlist-test.db"))
	require.NoError(t, err, "open test database")
	t.Cleanup(func() { conn.Close() })

	require.NoError(t, db.CreateSchema(conn), "create schema")

	return conn
}

// GetTestConfig returns a standard test configuration
func GetTestConfig() cliparse.Config {
	return cliparse.Config{
		Port:                 3318,
		DatabaseType:         "sqlite",
		StaffKeySalt:         TestStaffSalt,
		IdempotencyRetention: 72 * time.Hour,
		StatsInterval:        30 * time.Second,
		BackfillLimit:        50,
	}
}

// CreateTestEvent inserts an event and returns its ID
func CreateTestEvent(t *testing.T, db *sql.DB, name string) string {
	t.Helper()

	eventID := "evt-" + uuid.NewString()[:8]
	_, err := db.Exec(`
		INSERT INTO event (id, name, commit_seq, created_at)
		VALUES ($1, $2, 0, $3)
	`, eventID, name, time.Now().UTC())
	require.NoError(t, err, "create test event")

	return eventID
}

// CreateTestGuest inserts a guest without putting them on any list.
// An empty qrCode stores NULL.
func CreateTestGuest(t *testing.T, db *sql.DB, name, qrCode string) string {
	t.Helper()

	guestID := "g-" + uuid.NewString()[:8]
	var qr *string
	if qrCode != "" {
		qr = &qrCode
	}
	_, err := db.Exec(`
		INSERT INTO guest (id, name, qr_code)
		VALUES ($1, $2, $3)
	`, guestID, name, qr)
	require.NoError(t, err, "create test guest")

	return guestID
}

// AddTestGuest creates a guest and adds them to the event's list as
// NOT_ARRIVED. Returns the guest ID.
func AddTestGuest(t *testing.T, db *sql.DB, eventID, name, qrCode string) string {
	t.Helper()

	guestID := CreateTestGuest(t, db, name, qrCode)
	AddToList(t, db, eventID, guestID)
	return guestID
}

// AddToList puts an existing guest on an event's list as NOT_ARRIVED
func AddToList(t *testing.T, db *sql.DB, eventID, guestID string) {
	t.Helper()

	_, err := db.Exec(`
		INSERT INTO attendance (guest_id, event_id, status)
		VALUES ($1, $2, 'NOT_ARRIVED')
	`, guestID, eventID)
	require.NoError(t, err, "add guest to list")
}

// AttendanceStatus reads the stored status for one guest
func AttendanceStatus(t *testing.T, db *sql.DB, eventID, guestID string) string {
	t.Helper()

	var status string
	err := db.QueryRow(`
		SELECT status FROM attendance WHERE guest_id = $1 AND event_id = $2
	`, guestID, eventID).Scan(&status)
	require.NoError(t, err, "read attendance")

	return status
}

// NewAction builds a check-in action with a fresh action ID
func NewAction(eventID, guestRef string) models.CheckInAction {
	return models.CheckInAction{
		ActionID:  uuid.NewString(),
		GuestRef:  guestRef,
		EventRef:  eventID,
		Method:    models.MethodQRScan,
		CreatedAt: time.Now().UTC(),
	}
}

// StaffHeaders returns valid staff credentials for the test config
func StaffHeaders(staffID string) map[string]string {
	return map[string]string{
		"X-Staff-ID":  staffID,
		"X-Staff-Key": auth.GenerateStaffKey(staffID, TestStaffSalt),
	}
}

// MakeRequest creates an HTTP test request
func MakeRequest(method, path string, body interface{}, headers map[string]string) *http.Request {
	var req *http.Request
	if body != nil {
		jsonBody, _ := json.Marshal(body)
		req = httptest.NewRequest(method, path, bytes.NewReader(jsonBody))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}

	for k, v := range headers {
		req.Header.Set(k, v)
	}

	return req
}

// AssertStatus checks that the response has the expected status code
func AssertStatus(t *testing.T, w *httptest.ResponseRecorder, expected int) {
	t.Helper()
	require.Equal(t, expected, w.Code, "unexpected status, body: %s", w.Body.String())
}

// AssertJSON decodes the response body into the provided struct
func AssertJSON(t *testing.T, w *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	require.NoError(t, json.NewDecoder(w.Body).Decode(v), "decode JSON response")
}
