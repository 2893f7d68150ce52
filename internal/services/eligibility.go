package services

import (
	"context"
	"math"
	"strings"
	"time"

	"aidledger/internal/core"
	applog "aidledger/internal/log"
	"aidledger/internal/storage"
)

// Eligibility decides whether a recipient may receive another gated grant
// from the same sponsor. Restrictions are strictly per sponsor.
type Eligibility struct {
	store   storage.Store
	clock   core.Clock
	presets *CooldownPresets
	logger  *applog.Logger
}

func NewEligibility(store storage.Store, clock core.Clock, presets *CooldownPresets) *Eligibility {
	if presets == nil {
		presets = DefaultCooldownPresets()
	}
	return &Eligibility{
		store:   store,
		clock:   clock,
		presets: presets,
		logger:  applog.ForComponent(applog.ComponentEligibility),
	}
}

// Restriction is the outcome of CheckRestriction.
type Restriction struct {
	Restricted    bool
	LastGrant     *core.GatedGrant
	EligibleOn    *time.Time
	DaysRemaining int
}

// NextEligibleDate is grantDate plus cooldownMonths calendar months.
func NextEligibleDate(grantDate time.Time, cooldownMonths int) time.Time {
	return core.AddMonths(grantDate, cooldownMonths)
}

// Presets exposes the cooldown presets this engine resolves against.
func (e *Eligibility) Presets() *CooldownPresets { return e.presets }

// CheckRestriction looks at the most recent non-archived, non-denied gated
// grant between recipient and sponsor. A skipped grant (no eligible date) or
// one whose eligible date has passed does not restrict.
func (e *Eligibility) CheckRestriction(ctx context.Context, recipientID, sponsorID string) (Restriction, error) {
	grants, err := storage.All[core.GatedGrant](ctx, e.store, storage.GatedGrants)
	if err != nil {
		return Restriction{}, err
	}

	var last *core.GatedGrant
	for i := range grants {
		g := &grants[i]
		if g.RecipientID != recipientID || g.SponsorID != sponsorID {
			continue
		}
		if g.Archived || !g.Counts() {
			continue
		}
		// Later insertion wins on equal timestamps.
		if last == nil || !g.CreatedAt.Before(last.CreatedAt) {
			last = g
		}
	}

	if last == nil {
		return Restriction{}, nil
	}
	res := Restriction{LastGrant: last, EligibleOn: last.NextEligibleDate}
	if last.NextEligibleDate == nil {
		return res, nil
	}

	now := e.clock.Now()
	if !now.Before(*last.NextEligibleDate) {
		return res, nil
	}
	res.Restricted = true
	res.DaysRemaining = int(math.Ceil(last.NextEligibleDate.Sub(now).Hours() / 24))
	return res, nil
}

// ApplySkip marks a draft as bypassing the waiting period. The eligible date
// is cleared and the reason and acknowledgement stay on the record.
func ApplySkip(draft *core.GatedGrant, reason string, acknowledged bool) error {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return core.ErrEmptySkipReason
	}
	draft.SkipWaiting = true
	draft.SkipReason = reason
	draft.SkipAcknowledged = acknowledged
	draft.NextEligibleDate = nil
	return nil
}

// stamp fills the eligible date of a non-skipped draft from its creation time.
func (e *Eligibility) stamp(ctx context.Context, draft *core.GatedGrant) {
	if draft.SkipWaiting {
		e.logger.InfoContext(ctx, "Waiting period skipped",
			applog.FieldSponsorID, draft.SponsorID,
			applog.FieldRecipientID, draft.RecipientID,
			applog.FieldActingUser, draft.CreatedBy,
			"reason", draft.SkipReason,
			"acknowledged", draft.SkipAcknowledged)
		return
	}
	next := NextEligibleDate(draft.CreatedAt, draft.CooldownMonths)
	draft.NextEligibleDate = &next
}
