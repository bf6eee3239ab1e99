// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

// Package syncer drains a device's action queue to the server.
//
// A Manager submits the oldest pending action, waits for it to resolve,
// and only then moves on. Retryable failures keep the action at the head
// of the queue and back off (1s, 2s, 4s ... 30s). Terminal rejections move
// the action to the failure list and the queue continues. A Prober polls
// /health and switches the manager online or offline.
//
// Confirmed results are merged into the device's guest cache. The live
// channel writes the same cache, and a checked-in guest is never
// downgraded, so the two sources converge.
package syncer
