// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

// Package backoff holds the retry policy used by the device sync loop and
// the Clock it waits on. FakeClock lets tests drive the loop
// deterministically.
package backoff
