// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"strings"
)

var (
	ErrMissingStaff    = errors.New("staff identity required")
	ErrInvalidStaffKey = errors.New("invalid staff key")
)

// GenerateStaffKey creates an HMAC-based key binding a staff identity.
// Keys are minted by the operator tooling; the server only verifies them.
func GenerateStaffKey(staffID, salt string) string {
	h := hmac.New(sha256.New, []byte(salt))
	h.Write([]byte("staff:"))
	h.Write([]byte(staffID))
	sum := h.Sum(nil)
	// Use URL-safe base64 and trim padding for cleaner keys
	return strings.TrimRight(base64.URLEncoding.EncodeToString(sum), "=")
}

// ValidateStaffKey checks the key presented by a device
func ValidateStaffKey(staffID, staffKey, salt string) error {
	if staffID == "" {
		return ErrMissingStaff
	}
	expected := GenerateStaffKey(staffID, salt)
	if !hmac.Equal([]byte(staffKey), []byte(expected)) {
		return ErrInvalidStaffKey
	}
	return nil
}
