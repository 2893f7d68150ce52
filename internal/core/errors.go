package core

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrInvalidDay       = errors.New("invalid day")
	ErrInvalidMonth     = errors.New("invalid month")
	ErrInvalidAmount    = errors.New("invalid amount")
	ErrEmptyDescription = errors.New("empty description")
	ErrEmptyCategory    = errors.New("empty category")
	ErrEmptyRecipient   = errors.New("empty recipient")
	ErrEmptySponsor     = errors.New("empty sponsor")
	ErrEmptySkipReason  = errors.New("skip reason is required")
	ErrInvalidCooldown  = errors.New("cooldown must be a positive number of months")
	ErrInvalidStatus    = errors.New("invalid grant status")

	ErrInsufficientBudget     = errors.New("insufficient budget")
	ErrInsufficientPool       = errors.New("insufficient pool balance")
	ErrPeriodNotFound         = errors.New("budget period not found")
	ErrInvalidStateTransition = errors.New("invalid archive state transition")
	ErrRecordNotFound         = errors.New("record not found")
	ErrSponsorArchived        = errors.New("sponsor is archived")
	ErrGrantArchived          = errors.New("grant is archived")
	ErrRecipientRestricted    = errors.New("recipient is within the waiting period")
)

// InsufficientBudgetError is returned when a deduction exceeds the remaining
// balance of the current budget period.
type InsufficientBudgetError struct {
	SponsorID string
	Month     YearMonth
	Requested Money
	Remaining Money
}

func (e *InsufficientBudgetError) Error() string {
	return fmt.Sprintf("insufficient budget for sponsor %s in %s: requested %s, remaining %s, short %s",
		e.SponsorID, e.Month, e.Requested, e.Remaining, e.Shortfall())
}

func (e *InsufficientBudgetError) Unwrap() error { return ErrInsufficientBudget }

// Shortfall is the amount missing to cover the request.
func (e *InsufficientBudgetError) Shortfall() Money {
	return Money{Cents: e.Requested.Cents - e.Remaining.Cents}
}

// InsufficientPoolError is returned when a pooled grant exceeds the
// recomputed pool remaining.
type InsufficientPoolError struct {
	SponsorID string
	Requested Money
	Remaining Money
}

func (e *InsufficientPoolError) Error() string {
	return fmt.Sprintf("insufficient pool for sponsor %s: requested %s, remaining %s, short %s",
		e.SponsorID, e.Requested, e.Remaining, e.Shortfall())
}

func (e *InsufficientPoolError) Unwrap() error { return ErrInsufficientPool }

func (e *InsufficientPoolError) Shortfall() Money {
	return Money{Cents: e.Requested.Cents - e.Remaining.Cents}
}

// TransitionError reports an archive action attempted from a state that does
// not allow it.
type TransitionError struct {
	SponsorID string
	From      ArchiveStatus
	Action    string
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("cannot %s archive for sponsor %s from status %q", e.Action, e.SponsorID, e.From)
}

func (e *TransitionError) Unwrap() error { return ErrInvalidStateTransition }

// NotFoundError names the collection and id of a failed lookup.
type NotFoundError struct {
	Collection string
	ID         string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q: record not found", e.Collection, e.ID)
}

func (e *NotFoundError) Unwrap() error { return ErrRecordNotFound }

// RestrictedError is returned when a gated grant is attempted for a recipient
// still inside the sponsor's waiting period.
type RestrictedError struct {
	RecipientID   string
	SponsorID     string
	EligibleOn    time.Time
	DaysRemaining int
}

func (e *RestrictedError) Error() string {
	return fmt.Sprintf("recipient %s is not eligible for sponsor %s until %s (%d days)",
		e.RecipientID, e.SponsorID, e.EligibleOn.Format(time.DateOnly), e.DaysRemaining)
}

func (e *RestrictedError) Unwrap() error { return ErrRecipientRestricted }
