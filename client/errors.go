// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package client

import (
	"errors"
	"fmt"

	"github.com/danielhkuo/doorlist/models"
)

// RetryableTransportError means the action may not have reached the
// server, or the server could not process it right now. The same action
// must be submitted again.
type RetryableTransportError struct {
	Op         string
	StatusCode int
	Err        error
}

func (e *RetryableTransportError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s: server answered %d", e.Op, e.StatusCode)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *RetryableTransportError) Unwrap() error { return e.Err }

// TerminalValidationError means the server refused the action and will
// refuse it again. Result is set when the server answered REJECTED.
type TerminalValidationError struct {
	StatusCode int
	Reason     string
	Result     *models.TransitionResult
}

func (e *TerminalValidationError) Error() string {
	return fmt.Sprintf("rejected (%d): %s", e.StatusCode, e.Reason)
}

// IsRetryable reports whether err should leave the action queued.
// Errors of unknown kind are treated as retryable so an action is never
// dropped by mistake.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var terminal *TerminalValidationError
	return !errors.As(err, &terminal)
}
