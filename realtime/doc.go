// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

/*
Package realtime implements the live session registry and the event
broadcaster behind GET /live.

# Registry

Hub keeps one room per event. Subscribe and Unsubscribe are the only
operations that change room membership; a room is created with its
first session and removed with its last. Each Session owns a bounded
send buffer that the hub fills without blocking. A full buffer or a
failed write drops that session alone.

# Ordering

Every committed transition carries a per-event seq allocated in the
commit transaction. PublishTransition delivers checkin_update messages
in seq order per room. A transition that arrives ahead of a gap is held
for ReorderWindow; if the gap does not fill, held transitions are
delivered anyway and the gap is logged.

# Backfill

Attach subscribes a session and then loads a Snapshot (stats, the last
K transitions and the seq they are bounded by). Updates already covered
by the snapshot are skipped by Session.Next, so a reconnecting client
sees each transition exactly once.

# Stats

Run recomputes AggregateStats from the store for rooms that saw a
commit and for every room each StatsInterval. stats_update messages are
never derived from transition counts.

# Multiple instances

RedisRelay publishes local commits to a Redis channel and feeds commits
from other instances into the local hub.

# Protocol

	client -> {"type":"subscribe","event_ref":"evt-1","backfill_limit":50}
	server -> {"type":"snapshot","event_ref":"evt-1","seq":12,"snapshot":{...}}
	server -> {"type":"checkin_update","event_ref":"evt-1","seq":13,"transition":{...}}
	server -> {"type":"stats_update","event_ref":"evt-1","stats":{...}}
*/
package realtime
