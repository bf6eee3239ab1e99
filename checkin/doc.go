// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

/*
Package checkin applies device check-in actions to the authoritative
attendance records.

# Processor

Processor.Process validates an action, serializes work per guest with a
KeyedMutex and hands the action to a Ledger (normally *store.Store),
which runs the whole attempt in one transaction:

 1. An unexpired idempotency entry for (event_ref, action_id) is
    answered as DUPLICATE with replayed=true and the original data.
 2. The guest_ref is resolved by guest id, then by QR code. Unknown
    guests and guests without an attendance row for the event are
    REJECTED.
 3. A conditional update moves NOT_ARRIVED to CHECKED_IN. If it touched
    a row the result is COMMITTED and a per-event sequence number is
    allocated; otherwise the guest was already checked in and the
    result is DUPLICATE carrying the first check-in's data.
 4. The result is written to the idempotency log with an expiry of
    now + retention.

Only COMMITTED results reach the Publisher. REJECTED is a normal result;
errors are ErrInvalidAction for malformed input and ErrStorage when the
transaction could not complete, in which case nothing was changed.

# Janitor

Janitor deletes expired idempotency entries on an interval. Lookups
already ignore expired rows, so pruning is only housekeeping.
*/
package checkin
