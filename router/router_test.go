// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package router

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/danielhkuo/doorlist/checkin"
	"github.com/danielhkuo/doorlist/cliparse"
	"github.com/danielhkuo/doorlist/metrics"
	"github.com/danielhkuo/doorlist/models"
	"github.com/danielhkuo/doorlist/realtime"
	"github.com/danielhkuo/doorlist/store"
	"github.com/danielhkuo/doorlist/testutil"
)

type testServer struct {
	db  *sql.DB
	st  *store.Store
	hub *realtime.Hub
	srv *httptest.Server
	cfg cliparse.Config
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	metrics.Register()
	db := testutil.SetupTestDB(t)
	cfg := testutil.GetTestConfig()
	st := store.New(db, "sqlite")
	hub := realtime.NewHub(st, realtime.Options{StatsInterval: time.Hour})
	processor := checkin.NewProcessor(st, hub, cfg.IdempotencyRetention)

	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)

	srv := httptest.NewServer(NewRouter(cfg, st, processor, hub))
	t.Cleanup(func() {
		cancel()
		srv.Close()
	})

	return &testServer{db: db, st: st, hub: hub, srv: srv, cfg: cfg}
}

func (ts *testServer) submit(t *testing.T, staffID string, action models.CheckInAction) (int, models.TransitionResult) {
	t.Helper()

	body, _ := json.Marshal(action)
	req, _ := http.NewRequest("POST", ts.srv.URL+"/checkins", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range testutil.StaffHeaders(staffID) {
		req.Header.Set(k, v)
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err, "POST /checkins")
	defer resp.Body.Close()

	var result models.TransitionResult
	json.NewDecoder(resp.Body).Decode(&result)
	return resp.StatusCode, result
}

// subscribe opens a live session and returns it with its snapshot
func (ts *testServer) subscribe(t *testing.T, staffID, eventRef string, limit int) (*websocket.Conn, models.Snapshot) {
	t.Helper()

	header := http.Header{}
	for k, v := range testutil.StaffHeaders(staffID) {
		header.Set(k, v)
	}
	url := "ws" + strings.TrimPrefix(ts.srv.URL, "http") + "/live"
	conn, _, err := websocket.DefaultDialer.Dial(url, header)
	require.NoError(t, err, "dial /live")
	t.Cleanup(func() { conn.Close() })

	err = conn.WriteJSON(models.SubscribeRequest{
		Type:          models.MessageSubscribe,
		EventRef:      eventRef,
		BackfillLimit: limit,
	})
	require.NoError(t, err, "subscribe")

	msg := readLive(t, conn)
	require.Equal(t, models.MessageSnapshot, msg.Type)
	require.NotNil(t, msg.Snapshot)
	return conn, *msg.Snapshot
}

func readLive(t *testing.T, conn *websocket.Conn) models.LiveMessage {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	var msg models.LiveMessage
	require.NoError(t, conn.ReadJSON(&msg), "read live message")
	return msg
}

// readUntil skips messages until one of the wanted type arrives
func readUntil(t *testing.T, conn *websocket.Conn, msgType string) models.LiveMessage {
	t.Helper()
	for range 10 {
		if msg := readLive(t, conn); msg.Type == msgType {
			return msg
		}
	}
	require.FailNow(t, "no "+msgType+" message received")
	return models.LiveMessage{}
}

func TestHealthEndpoint(t *testing.T) {
	ts := newTestServer(t)

	resp, err := http.Get(ts.srv.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestRootEndpoint(t *testing.T) {
	ts := newTestServer(t)
	mux := ts.srv.Config.Handler

	req := httptest.NewRequest("GET", "/", nil)
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "doorlist API v1", w.Body.String())

	req = httptest.NewRequest("GET", "/nope", nil)
	w = httptest.NewRecorder()
	mux.ServeHTTP(w, req)
	assert.Equal(t, http.StatusNotFound, w.Code, "unknown path")
}

func TestRouteExistence(t *testing.T) {
	ts := newTestServer(t)
	mux := ts.srv.Config.Handler

	// Staff routes answer 401 without credentials, which proves the route is wired
	testCases := []struct {
		method   string
		path     string
		expected int
	}{
		{"GET", "/health", http.StatusOK},
		{"GET", "/metrics", http.StatusOK},
		{"POST", "/checkins", http.StatusUnauthorized},
		{"GET", "/events/e1/stats", http.StatusUnauthorized},
		{"GET", "/events/e1/backfill", http.StatusUnauthorized},
		{"GET", "/live", http.StatusUnauthorized},
	}

	for _, tc := range testCases {
		t.Run(tc.method+" "+tc.path, func(t *testing.T) {
			req := httptest.NewRequest(tc.method, tc.path, nil)
			w := httptest.NewRecorder()
			mux.ServeHTTP(w, req)

			assert.Equal(t, tc.expected, w.Code)
		})
	}
}

func TestWrongMethodRejected(t *testing.T) {
	ts := newTestServer(t)
	mux := ts.srv.Config.Handler

	testCases := []struct {
		method string
		path   string
	}{
		{"GET", "/checkins"},
		{"PUT", "/checkins"},
		{"DELETE", "/events/e1/stats"},
		{"POST", "/health"},
		{"POST", "/"},
	}

	for _, tc := range testCases {
		t.Run(tc.method+" "+tc.path, func(t *testing.T) {
			req := httptest.NewRequest(tc.method, tc.path, nil)
			w := httptest.NewRecorder()
			mux.ServeHTTP(w, req)

			assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
		})
	}
}

// Device A scans G1 online; device B sees the commit and the new count
func TestScanBroadcastsToOtherDevices(t *testing.T) {
	ts := newTestServer(t)
	eventID := testutil.CreateTestEvent(t, ts.db, "Gala")
	g1 := testutil.AddTestGuest(t, ts.db, eventID, "Alice", "QR-G1")
	testutil.AddTestGuest(t, ts.db, eventID, "Bob", "QR-G2")

	connA, _ := ts.subscribe(t, "door-A", eventID, 10)
	connB, snapB := ts.subscribe(t, "door-B", eventID, 10)
	before := snapB.Stats.CheckedInCount

	status, result := ts.submit(t, "door-A", testutil.NewAction(eventID, "QR-G1"))
	require.Equal(t, http.StatusOK, status)
	require.Equal(t, models.OutcomeCommitted, result.Outcome)

	// Both devices, the sender included, learn of the commit from the stream
	for name, conn := range map[string]*websocket.Conn{"A": connA, "B": connB} {
		update := readUntil(t, conn, models.MessageCheckinUpdate)
		assert.Equal(t, g1, update.Transition.GuestID, "device %s", name)
	}

	stats := readUntil(t, connB, models.MessageStatsUpdate)
	assert.Equal(t, before+1, stats.Stats.CheckedInCount)
}

// A second scan of an arrived guest reports the original time
func TestDuplicateScanReportsOriginalTime(t *testing.T) {
	ts := newTestServer(t)
	eventID := testutil.CreateTestEvent(t, ts.db, "Gala")
	testutil.AddTestGuest(t, ts.db, eventID, "Alice", "QR-G1")

	_, first := ts.submit(t, "door-A", testutil.NewAction(eventID, "QR-G1"))
	time.Sleep(20 * time.Millisecond)

	status, second := ts.submit(t, "door-B", testutil.NewAction(eventID, "QR-G1"))
	require.Equal(t, http.StatusOK, status)
	require.Equal(t, models.OutcomeDuplicate, second.Outcome)
	assert.True(t, second.CheckedInAt.Equal(*first.CheckedInAt),
		"expected original time %v, got %v", first.CheckedInAt, second.CheckedInAt)
	assert.Equal(t, "door-A", second.CheckedInBy, "original staff")
}

// A guest of another event is rejected with 422
func TestScanOfForeignGuestRejected(t *testing.T) {
	ts := newTestServer(t)
	eventID := testutil.CreateTestEvent(t, ts.db, "Gala")
	otherEvent := testutil.CreateTestEvent(t, ts.db, "Afterparty")
	outsider := testutil.AddTestGuest(t, ts.db, otherEvent, "Mallory", "")

	status, result := ts.submit(t, "door-A", testutil.NewAction(eventID, outsider))
	assert.Equal(t, http.StatusUnprocessableEntity, status)
	assert.Equal(t, models.OutcomeRejected, result.Outcome)
	assert.NotEmpty(t, result.Reason)
}

// Every subscriber sees the same transitions in the same order
func TestFanOutConsistency(t *testing.T) {
	ts := newTestServer(t)
	eventID := testutil.CreateTestEvent(t, ts.db, "Gala")

	guests := make([]string, 5)
	for i := range guests {
		guests[i] = testutil.AddTestGuest(t, ts.db, eventID, "Guest", "")
	}

	conns := make([]*websocket.Conn, 3)
	for i := range conns {
		conns[i], _ = ts.subscribe(t, "door", eventID, 0)
	}

	for _, g := range guests {
		status, _ := ts.submit(t, "door-A", testutil.NewAction(eventID, g))
		require.Equal(t, http.StatusOK, status)
	}

	want := []int64{1, 2, 3, 4, 5}
	for i, conn := range conns {
		var seqs []int64
		for len(seqs) < len(guests) {
			msg := readUntil(t, conn, models.MessageCheckinUpdate)
			seqs = append(seqs, msg.Seq)
		}
		assert.Equal(t, want, seqs, "session %d", i)
	}
}

// A reconnecting device's backfill equals the store's current state
func TestReconnectBackfillMatchesStore(t *testing.T) {
	ts := newTestServer(t)
	eventID := testutil.CreateTestEvent(t, ts.db, "Gala")

	conn, _ := ts.subscribe(t, "door-B", eventID, 10)
	conn.Close()

	// Commits happen while device B is disconnected
	for range 3 {
		g := testutil.AddTestGuest(t, ts.db, eventID, "Guest", "")
		ts.submit(t, "door-A", testutil.NewAction(eventID, g))
	}
	testutil.AddTestGuest(t, ts.db, eventID, "Late", "")

	_, snap := ts.subscribe(t, "door-B", eventID, 10)

	stats, err := ts.st.Stats(context.Background(), eventID)
	require.NoError(t, err)
	assert.Equal(t, stats.TotalGuests, snap.Stats.TotalGuests)
	assert.Equal(t, stats.CheckedInCount, snap.Stats.CheckedInCount)
	assert.Equal(t, stats.PendingCount, snap.Stats.PendingCount)
	assert.Equal(t, int64(3), snap.Seq)
	assert.Len(t, snap.Transitions, 3)
}
