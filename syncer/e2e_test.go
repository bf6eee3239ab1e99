// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package syncer_test

import (
	"context"
	"database/sql"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/danielhkuo/doorlist/auth"
	"github.com/danielhkuo/doorlist/backoff"
	"github.com/danielhkuo/doorlist/checkin"
	"github.com/danielhkuo/doorlist/client"
	"github.com/danielhkuo/doorlist/metrics"
	"github.com/danielhkuo/doorlist/models"
	"github.com/danielhkuo/doorlist/queue"
	"github.com/danielhkuo/doorlist/realtime"
	"github.com/danielhkuo/doorlist/router"
	"github.com/danielhkuo/doorlist/store"
	"github.com/danielhkuo/doorlist/syncer"
	"github.com/danielhkuo/doorlist/testutil"
)

type server struct {
	db       *sql.DB
	url      string
	checkins atomic.Int32
	// failNext answers that many submissions with 503
	failNext atomic.Int32
}

func startServer(t *testing.T) *server {
	t.Helper()

	metrics.Register()
	db := testutil.SetupTestDB(t)
	cfg := testutil.GetTestConfig()
	st := store.New(db, "sqlite")
	hub := realtime.NewHub(st, realtime.Options{StatsInterval: time.Hour})
	processor := checkin.NewProcessor(st, hub, cfg.IdempotencyRetention)

	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)

	s := &server{db: db}
	mux := router.NewRouter(cfg, st, processor, hub)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/checkins" {
			s.checkins.Add(1)
			if s.failNext.Add(-1) >= 0 {
				http.Error(w, "unavailable", http.StatusServiceUnavailable)
				return
			}
		}
		mux.ServeHTTP(w, r)
	}))
	t.Cleanup(func() {
		cancel()
		srv.Close()
	})

	s.url = srv.URL
	return s
}

type device struct {
	q    *queue.Queue
	m    *syncer.Manager
	live *client.LiveClient
}

// startDevice wires a device the way cmd/device does, with the sync
// manager left offline until the test flips it
func startDevice(t *testing.T, srv *server, staffID, eventRef string, opts syncer.Options) *device {
	t.Helper()

	q, err := queue.Open(filepath.Join(t.TempDir(), staffID+".db"), eventRef)
	require.NoError(t, err)

	key := auth.GenerateStaffKey(staffID, testutil.TestStaffSalt)
	submitter := client.NewHTTPSubmitter(srv.url, staffID, key, 5*time.Second)
	m := syncer.New(q, submitter, opts)

	live, err := client.NewLiveClient(srv.url, staffID, key, eventRef, q, client.LiveOptions{
		Policy: backoff.Policy{Base: 20 * time.Millisecond, Max: 100 * time.Millisecond, Factor: 2},
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{}, 2)
	go func() { m.Run(ctx); done <- struct{}{} }()
	go func() { live.Run(ctx); done <- struct{}{} }()
	t.Cleanup(func() {
		cancel()
		<-done
		<-done
		q.Close()
	})

	return &device{q: q, m: m, live: live}
}

func (d *device) scan(t *testing.T, guestRef string) models.CheckInAction {
	t.Helper()
	a, err := d.q.Capture(context.Background(), guestRef, models.MethodQRScan)
	require.NoError(t, err)
	d.m.Notify()
	return a
}

func cachedStatus(d *device, guestID string) string {
	g, ok, err := d.q.CachedGuest(context.Background(), guestID)
	if err != nil || !ok {
		return ""
	}
	return g.Status
}

func TestOfflineScanSyncsWhenOnline(t *testing.T) {
	srv := startServer(t)
	eventID := testutil.CreateTestEvent(t, srv.db, "Gala")
	guestID := testutil.AddTestGuest(t, srv.db, eventID, "Grace", "QR-G2")

	a := startDevice(t, srv, "staff-a", eventID, syncer.Options{})
	b := startDevice(t, srv, "staff-b", eventID, syncer.Options{})
	b.m.SetOnline(true)

	// Device A scans while offline: queued locally, nothing sent
	a.scan(t, "QR-G2")
	assert.Equal(t, 1, a.m.Status().UnsyncedCount)
	assert.False(t, a.m.Status().IsOnline)
	assert.Equal(t, int32(0), srv.checkins.Load())
	assert.Equal(t, models.StatusNotArrived, testutil.AttendanceStatus(t, srv.db, eventID, guestID))

	a.m.SetOnline(true)

	require.Eventually(t, func() bool {
		return a.m.Status().UnsyncedCount == 0
	}, 5*time.Second, 10*time.Millisecond, "queue should drain once online")
	assert.Equal(t, models.StatusCheckedIn, testutil.AttendanceStatus(t, srv.db, eventID, guestID))

	// Device A caches its own result; device B learns it from the live channel
	require.Eventually(t, func() bool {
		return cachedStatus(a, guestID) == models.StatusCheckedIn &&
			cachedStatus(b, guestID) == models.StatusCheckedIn
	}, 5*time.Second, 10*time.Millisecond)

	g, _, err := b.q.CachedGuest(context.Background(), guestID)
	require.NoError(t, err)
	assert.Equal(t, "staff-a", g.CheckedInBy)
	assert.Equal(t, "Grace", g.GuestName)
}

func TestForeignGuestIsRejectedOnce(t *testing.T) {
	srv := startServer(t)
	eventID := testutil.CreateTestEvent(t, srv.db, "Gala")
	otherEvent := testutil.CreateTestEvent(t, srv.db, "Other")
	testutil.AddTestGuest(t, srv.db, otherEvent, "Frank", "QR-G4")
	guestID := testutil.AddTestGuest(t, srv.db, eventID, "Hana", "QR-G5")

	d := startDevice(t, srv, "staff-a", eventID, syncer.Options{})
	d.scan(t, "QR-G4")
	d.scan(t, "QR-G5")
	d.m.SetOnline(true)

	require.Eventually(t, func() bool {
		return d.m.Status().UnsyncedCount == 0
	}, 5*time.Second, 10*time.Millisecond)

	// The rejection did not block the next guest
	assert.Equal(t, models.StatusCheckedIn, testutil.AttendanceStatus(t, srv.db, eventID, guestID))

	failures, err := d.q.Failures(context.Background())
	require.NoError(t, err)
	require.Len(t, failures, 1)
	assert.Equal(t, "QR-G4", failures[0].Action.GuestRef)
	assert.Equal(t, store.ReasonNotOnList, failures[0].Reason)

	// Terminal failures are never resubmitted
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, int32(2), srv.checkins.Load())
}

func TestRetryAfterServerOutage(t *testing.T) {
	srv := startServer(t)
	eventID := testutil.CreateTestEvent(t, srv.db, "Gala")
	guestID := testutil.AddTestGuest(t, srv.db, eventID, "Ivy", "QR-G6")
	srv.failNext.Store(2)

	d := startDevice(t, srv, "staff-a", eventID, syncer.Options{
		Policy: backoff.Policy{Base: 10 * time.Millisecond, Max: 50 * time.Millisecond, Factor: 2},
	})
	action := d.scan(t, "QR-G6")
	d.m.SetOnline(true)

	require.Eventually(t, func() bool {
		return d.m.Status().UnsyncedCount == 0
	}, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, int32(3), srv.checkins.Load(), "two 503s, then success")
	assert.Equal(t, models.StatusCheckedIn, testutil.AttendanceStatus(t, srv.db, eventID, guestID))
	assert.Empty(t, d.m.Status().Error)

	// Resubmitting the same action_id is answered from the idempotency log
	key := auth.GenerateStaffKey("staff-a", testutil.TestStaffSalt)
	again, err := client.NewHTTPSubmitter(srv.url, "staff-a", key, 5*time.Second).
		Submit(context.Background(), action)
	require.NoError(t, err)
	assert.Equal(t, models.OutcomeDuplicate, again.Outcome)
	assert.True(t, again.Replayed)
	assert.Equal(t, "staff-a", again.CheckedInBy)
}
