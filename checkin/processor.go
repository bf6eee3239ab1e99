// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package checkin

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/danielhkuo/doorlist/metrics"
	"github.com/danielhkuo/doorlist/models"
)

var (
	ErrInvalidAction = errors.New("invalid check-in action")
	ErrStorage       = errors.New("check-in storage failure")
)

// Ledger performs the transactional part of a check-in
type Ledger interface {
	Apply(ctx context.Context, staffID string, action models.CheckInAction, now, expiresAt time.Time) (models.TransitionResult, *models.Transition, error)
}

// Publisher receives every committed transition
type Publisher interface {
	PublishTransition(t models.Transition)
}

type Processor struct {
	ledger    Ledger
	publisher Publisher
	locks     *KeyedMutex
	validate  *validator.Validate
	retention time.Duration
	now       func() time.Time
}

func NewProcessor(ledger Ledger, publisher Publisher, retention time.Duration) *Processor {
	return &Processor{
		ledger:    ledger,
		publisher: publisher,
		locks:     NewKeyedMutex(),
		validate:  validator.New(validator.WithRequiredStructEnabled()),
		retention: retention,
		now:       time.Now,
	}
}

// SetClock replaces the processor's time source
func (p *Processor) SetClock(now func() time.Time) {
	p.now = now
}

// Process performs the idempotent NOT_ARRIVED -> CHECKED_IN transition
// for one action. REJECTED is a normal result, not an error. Errors are
// either ErrInvalidAction or ErrStorage.
func (p *Processor) Process(ctx context.Context, staffID string, action models.CheckInAction) (models.TransitionResult, error) {
	start := time.Now()
	defer func() {
		metrics.CheckinDuration.Observe(time.Since(start).Seconds())
	}()

	if err := p.validate.Struct(action); err != nil {
		return models.TransitionResult{}, fmt.Errorf("%w: %s", ErrInvalidAction, describeValidation(err))
	}
	if staffID == "" {
		return models.TransitionResult{}, fmt.Errorf("%w: staff identity required", ErrInvalidAction)
	}

	unlock := p.locks.Lock(guestKey(action.EventRef, action.GuestRef))
	now := p.now().UTC().Truncate(time.Microsecond)
	result, transition, err := p.ledger.Apply(ctx, staffID, action, now, now.Add(p.retention))
	unlock()

	if err != nil {
		slog.Error("check-in transaction failed",
			"error", err,
			"action_id", action.ActionID,
			"event_ref", action.EventRef,
		)
		return models.TransitionResult{}, fmt.Errorf("%w: %w", ErrStorage, err)
	}

	metrics.CheckinOutcomesTotal.WithLabelValues(result.Outcome, strconv.FormatBool(result.Replayed)).Inc()
	slog.Info("check-in processed",
		"action_id", action.ActionID,
		"event_ref", action.EventRef,
		"guest_ref", action.GuestRef,
		"outcome", result.Outcome,
		"replayed", result.Replayed,
		"staff_id", staffID,
	)

	if transition != nil && p.publisher != nil {
		p.publisher.PublishTransition(*transition)
	}

	return result, nil
}

func describeValidation(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		field := strings.ToLower(fe.Field())
		switch fe.Field() {
		case "ActionID":
			field = "action_id"
		case "GuestRef":
			field = "guest_ref"
		case "EventRef":
			field = "event_ref"
		}
		switch fe.Tag() {
		case "required":
			parts = append(parts, field+" is required")
		case "oneof":
			parts = append(parts, field+" must be one of: "+fe.Param())
		case "max":
			parts = append(parts, field+" is too long")
		default:
			parts = append(parts, field+" is invalid")
		}
	}
	return strings.Join(parts, "; ")
}
