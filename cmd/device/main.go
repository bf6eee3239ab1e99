// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

// Command device is the staff device agent. It reads scanned codes from
// stdin, queues them locally, and keeps them in sync with the server.
//
// Input lines:
//
//	<code>            queue a QR scan
//	/manual <guest>   queue a manual check-in
//	/sync             retry now, skipping backoff
//	/status           show sync status and counts
//	/failures         list rejected check-ins
//	/dismiss <id>     acknowledge a rejected check-in
//	/guests           list checked-in guests known to this device
package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/joho/godotenv"

	"github.com/danielhkuo/doorlist/cliparse"
	"github.com/danielhkuo/doorlist/client"
	"github.com/danielhkuo/doorlist/models"
	"github.com/danielhkuo/doorlist/queue"
	"github.com/danielhkuo/doorlist/syncer"
)

type agent struct {
	q       *queue.Queue
	manager *syncer.Manager
	live    *client.LiveClient
	out     io.Writer

	mu    sync.Mutex
	stats *models.AggregateStats
}

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.Warn("failed to load .env", "error", err)
	}

	cfg, err := cliparse.ParseDeviceFlags(os.Args[1:])
	if err != nil {
		slog.Error("Error parsing flags", "error", err)
		os.Exit(1)
	}

	q, err := queue.Open(cfg.QueuePath, cfg.EventRef)
	if err != nil {
		slog.Error("failed to open local queue", "error", err, "path", cfg.QueuePath)
		os.Exit(1)
	}
	defer q.Close()

	a := &agent{q: q, out: os.Stdout}

	submitter := client.NewHTTPSubmitter(cfg.ServerURL, cfg.StaffID, cfg.StaffKey, cfg.SubmitTimeout)
	a.manager = syncer.New(q, submitter, syncer.Options{
		SubmitTimeout: cfg.SubmitTimeout,
		OnResult:      a.printResult,
	})

	a.live, err = client.NewLiveClient(cfg.ServerURL, cfg.StaffID, cfg.StaffKey, cfg.EventRef, q, client.LiveOptions{
		OnMessage: a.onLive,
	})
	if err != nil {
		slog.Error("invalid server URL", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var wg sync.WaitGroup
	wg.Go(func() { a.manager.Run(ctx) })
	wg.Go(func() { a.live.Run(ctx) })
	wg.Go(func() { syncer.NewProber(submitter, a.manager, cfg.ProbeInterval, nil).Run(ctx) })
	wg.Go(func() { a.watchStatus(ctx) })

	slog.Info("device ready",
		"event_ref", cfg.EventRef,
		"staff_id", cfg.StaffID,
		"server", cfg.ServerURL,
		"queue", cfg.QueuePath,
	)

	// Scanner input ends on EOF or signal
	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(os.Stdin)
		for sc.Scan() {
			lines <- sc.Text()
		}
	}()

loop:
	for {
		select {
		case <-ctx.Done():
			break loop
		case line, ok := <-lines:
			if !ok {
				break loop
			}
			a.handleLine(ctx, strings.TrimSpace(line))
		}
	}

	stop()
	wg.Wait()

	if n, err := q.Pending(context.Background()); err == nil && n > 0 {
		fmt.Fprintf(a.out, "%s check-ins still queued; they will sync on next start\n", humanize.Comma(int64(n)))
	}
}

func (a *agent) handleLine(ctx context.Context, line string) {
	if line == "" {
		return
	}

	cmd, arg, _ := strings.Cut(line, " ")
	arg = strings.TrimSpace(arg)

	switch cmd {
	case "/sync":
		a.manager.ForceSyncNow()
	case "/status":
		a.printStatus(a.manager.Status())
	case "/failures":
		a.printFailures(ctx)
	case "/dismiss":
		if err := a.q.DismissFailure(ctx, arg); err != nil {
			fmt.Fprintf(a.out, "dismiss %s: %v\n", arg, err)
		}
	case "/guests":
		a.printGuests(ctx)
	case "/manual":
		if arg == "" {
			fmt.Fprintln(a.out, "usage: /manual <guest>")
			return
		}
		a.capture(ctx, arg, models.MethodManual)
	default:
		if strings.HasPrefix(cmd, "/") {
			fmt.Fprintf(a.out, "unknown command %s\n", cmd)
			return
		}
		a.capture(ctx, line, models.MethodQRScan)
	}
}

func (a *agent) capture(ctx context.Context, guestRef, method string) {
	action, err := a.q.Capture(ctx, guestRef, method)
	if err != nil {
		slog.Error("failed to queue check-in", "guest_ref", guestRef, "error", err)
		fmt.Fprintf(a.out, "NOT SAVED %s: %v\n", guestRef, err)
		return
	}
	a.manager.Notify()
	fmt.Fprintf(a.out, "queued %s (%s)\n", guestRef, action.ActionID[:8])
}

func (a *agent) printResult(r syncer.Result) {
	res := r.Result
	switch {
	case r.Err != nil:
		fmt.Fprintf(a.out, "REJECTED %s: %v\n", r.Action.GuestRef, reasonOf(r))
	case res.Outcome == models.OutcomeDuplicate && res.CheckedInAt != nil:
		fmt.Fprintf(a.out, "ALREADY IN %s, checked in %s by %s\n",
			res.GuestName, humanize.Time(*res.CheckedInAt), res.CheckedInBy)
	default:
		fmt.Fprintf(a.out, "WELCOME %s\n", res.GuestName)
	}
}

func reasonOf(r syncer.Result) string {
	if r.Result.Reason != "" {
		return r.Result.Reason
	}
	return r.Err.Error()
}

func (a *agent) onLive(msg models.LiveMessage) {
	var st *models.AggregateStats
	switch msg.Type {
	case models.MessageSnapshot:
		if msg.Snapshot != nil {
			s := msg.Snapshot.Stats
			st = &s
		}
	case models.MessageStatsUpdate:
		st = msg.Stats
	case models.MessageCheckinUpdate:
		if t := msg.Transition; t != nil {
			fmt.Fprintf(a.out, "%s checked in by %s\n", t.GuestName, t.CheckedInBy)
		}
	}
	if st != nil {
		a.mu.Lock()
		a.stats = st
		a.mu.Unlock()
	}
}

// watchStatus prints a line whenever connectivity, sync or error state
// changes
func (a *agent) watchStatus(ctx context.Context) {
	updates := a.manager.Watch()
	var last syncer.Status
	for {
		select {
		case <-ctx.Done():
			return
		case st := <-updates:
			if st.IsOnline != last.IsOnline || st.Error != last.Error ||
				(st.UnsyncedCount == 0) != (last.UnsyncedCount == 0) {
				a.printStatus(st)
			}
			last = st
		}
	}
}

func (a *agent) printStatus(st syncer.Status) {
	conn := "offline"
	if st.IsOnline {
		conn = "online"
	}
	if a.live.Connected() {
		conn += ", live"
	}

	lastSync := "never"
	if !st.LastSyncTime.IsZero() {
		lastSync = humanize.Time(st.LastSyncTime)
	}

	line := fmt.Sprintf("[%s] unsynced %s, last sync %s", conn, humanize.Comma(int64(st.UnsyncedCount)), lastSync)

	a.mu.Lock()
	if s := a.stats; s != nil {
		line += fmt.Sprintf(", %s/%s in (%.0f%%)",
			humanize.Comma(int64(s.CheckedInCount)), humanize.Comma(int64(s.TotalGuests)), s.CheckedInRate*100)
	}
	a.mu.Unlock()

	if st.Error != "" {
		line += " | " + st.Error
	}
	fmt.Fprintln(a.out, line)
}

func (a *agent) printFailures(ctx context.Context) {
	failures, err := a.q.Failures(ctx)
	if err != nil {
		fmt.Fprintf(a.out, "failures: %v\n", err)
		return
	}
	if len(failures) == 0 {
		fmt.Fprintln(a.out, "no rejected check-ins")
		return
	}
	for _, f := range failures {
		fmt.Fprintf(a.out, "%s  %s  %s (%s)\n",
			f.Action.ActionID, f.Action.GuestRef, f.Reason, humanize.Time(f.FailedAt))
	}
}

func (a *agent) printGuests(ctx context.Context) {
	guests, err := a.q.CachedGuests(ctx)
	if err != nil {
		fmt.Fprintf(a.out, "guests: %v\n", err)
		return
	}
	in := 0
	for _, g := range guests {
		if g.Status != models.StatusCheckedIn || g.CheckedInAt == nil {
			continue
		}
		in++
		fmt.Fprintf(a.out, "%-24s %s by %s\n", g.GuestName, g.CheckedInAt.Local().Format(time.Kitchen), g.CheckedInBy)
	}
	fmt.Fprintf(a.out, "%s checked in\n", humanize.Comma(int64(in)))
}
