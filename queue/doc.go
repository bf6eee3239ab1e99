// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

/*
Package queue is the device-local action queue and guest cache.

Each staff device keeps one SQLite file per event. A scan is captured with
Capture (or Enqueue) and is durable once the call returns; nothing here
touches the network. The sync manager drains the queue oldest-first:

	PENDING -> IN_FLIGHT -> deleted        (MarkConfirmed)
	                     -> PENDING        (MarkFailed, retryable; attempts+1)
	                     -> failed_action  (MarkFailed, terminal)

Open moves any IN_FLIGHT row back to PENDING, so an action interrupted by
a crash is submitted again with the same action_id.

The guest cache is written by the live channel (ApplySnapshot,
ApplyTransition) and by the sync manager for confirmed results
(CacheGuest). A CHECKED_IN guest is never downgraded.
*/
package queue
