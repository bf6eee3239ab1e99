// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

/*
Package auth verifies staff identities presented by devices.

# Staff Keys

Staff keys use HMAC-SHA256 over the staff identity:

	key := auth.GenerateStaffKey(staffID, salt)
	err := auth.ValidateStaffKey(staffID, key, salt)

The key is URL-safe base64 encoded without padding. Since it's deterministic,
validation needs no stored credential. Issuing keys to staff happens outside
this service; operators mint them with GenerateStaffKey.

Devices send the pair on every request:

	X-Staff-ID:  door-1
	X-Staff-Key: <key>
*/
package auth
