// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

/*
Package client is the device side of the doorlist wire protocol.

HTTPSubmitter posts queued actions to POST /checkins and classifies the
outcome:

	200 COMMITTED / DUPLICATE      -> result, nil
	422 REJECTED, other 4xx        -> *TerminalValidationError
	timeout, refused, 5xx, 401/403 -> *RetryableTransportError

LiveClient holds the /live subscription for one event and writes every
snapshot and checkin_update into a LiveCache.
*/
package client
