package services

import (
	"errors"
	"testing"
	"time"

	"aidledger/internal/amqp"
	"aidledger/internal/core"
	"aidledger/internal/storage"
)

func TestGrants_CompensatingRefundOnWriteFailure(t *testing.T) {
	store := newFaultyStore()
	f := newFixtureWithStore(t, store)
	sp := f.sponsor(t, "Ana Cruz", 70000)
	rc := f.recipient(t, "Juan Dela Cruz")
	ym := core.MonthOf(testStart)

	if _, err := f.engine.Ledger.Deduct(f.ctx, "clerk", sp.ID, core.Cents(10000)); err != nil {
		t.Fatalf("Deduct: %v", err)
	}
	before := f.period(t, sp.ID, ym)

	store.setFail(true, storage.GatedGrants, true)
	_, err := f.engine.Grants.CreateGatedGrant(f.ctx, "clerk", GatedDraft{
		RecipientID: rc.ID, SponsorID: sp.ID, Category: "medical",
		Amount: core.Cents(5000), CooldownPreset: PresetSixMonths,
	})
	if !errors.Is(err, errInjected) {
		t.Fatalf("CreateGatedGrant = %v, want injected failure", err)
	}

	after := f.period(t, sp.ID, ym)
	if after.UsedAmount != before.UsedAmount || after.RemainingAmount != before.RemainingAmount {
		t.Errorf("deduction not compensated: before %+v after %+v", before, after)
	}
	if c, _ := f.engine.Risk.Classify(f.ctx, rc.ID); c.Total != 0 {
		t.Errorf("failed grant was counted for risk: %+v", c)
	}
	if len(f.pub.types()) != 0 {
		t.Errorf("failed grant published events: %v", f.pub.types())
	}
}

func TestGrants_CompensatingRefundOnValidationFailure(t *testing.T) {
	tests := []struct {
		name  string
		draft GatedDraft
		want  error
	}{
		{"empty category", GatedDraft{Category: " ", CooldownMonths: 3}, core.ErrEmptyCategory},
		{"empty recipient", GatedDraft{Category: "medical", CooldownMonths: 3}, core.ErrEmptyRecipient},
		{"skip without reason", GatedDraft{Category: "medical", CooldownMonths: 3, Skip: true}, core.ErrEmptySkipReason},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			sp := f.sponsor(t, "Ana Cruz", 70000)
			d := tt.draft
			d.SponsorID = sp.ID
			d.Amount = core.Cents(2500)
			if tt.want != core.ErrEmptyRecipient {
				d.RecipientID = f.recipient(t, "Juan Dela Cruz").ID
			}

			_, err := f.engine.Grants.CreateGatedGrant(f.ctx, "clerk", d)
			if !errors.Is(err, tt.want) {
				t.Fatalf("CreateGatedGrant = %v, want %v", err, tt.want)
			}
			p := f.period(t, sp.ID, core.MonthOf(testStart))
			if p.UsedAmount.Cents != 0 || p.RemainingAmount.Cents != 70000 {
				t.Errorf("deduction not refunded: %+v", p)
			}
			if grants, _ := f.engine.Grants.ListGated(f.ctx, sp.ID); len(grants) != 0 {
				t.Errorf("invalid grant written: %+v", grants)
			}
		})
	}
}

func TestGrants_RejectedBeforeDeduct(t *testing.T) {
	f := newFixture(t)
	sp := f.sponsor(t, "Ana Cruz", 70000)
	rc := f.recipient(t, "Juan Dela Cruz")

	tests := []struct {
		name  string
		draft GatedDraft
		want  error
	}{
		{"zero cooldown", GatedDraft{CooldownMonths: 0}, core.ErrInvalidCooldown},
		{"negative cooldown", GatedDraft{CooldownMonths: -3}, core.ErrInvalidCooldown},
		{"over budget", GatedDraft{CooldownMonths: 3, Amount: core.Cents(70001)}, core.ErrInsufficientBudget},
		{"zero amount", GatedDraft{CooldownMonths: 3, Amount: core.Cents(0)}, core.ErrInvalidAmount},
		{"unknown sponsor", GatedDraft{SponsorID: "sponsor-missing", CooldownMonths: 3}, core.ErrRecordNotFound},
		{"no sponsor", GatedDraft{SponsorID: " ", CooldownMonths: 3}, core.ErrEmptySponsor},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := tt.draft
			d.RecipientID = rc.ID
			d.Category = "medical"
			if d.SponsorID == "" {
				d.SponsorID = sp.ID
			}
			if d.Amount == (core.Money{}) && tt.want != core.ErrInvalidAmount {
				d.Amount = core.Cents(1000)
			}
			if _, err := f.engine.Grants.CreateGatedGrant(f.ctx, "clerk", d); !errors.Is(err, tt.want) {
				t.Fatalf("CreateGatedGrant = %v, want %v", err, tt.want)
			}
		})
	}

	p, ok, _ := f.engine.Ledger.FindPeriod(f.ctx, sp.ID, core.MonthOf(testStart))
	if ok && p.UsedAmount.Cents != 0 {
		t.Errorf("rejected drafts used budget: %+v", p)
	}
}

func TestGrants_StatusTransitions(t *testing.T) {
	f := newFixture(t)
	sp := f.sponsor(t, "Ana Cruz", 70000)
	rc := f.recipient(t, "Juan Dela Cruz")
	ym := core.MonthOf(testStart)

	g := f.gated(t, sp.ID, rc.ID, 8000)
	if g.Status != core.StatusOngoing {
		t.Fatalf("new grant status = %s", g.Status)
	}

	done, err := f.engine.Grants.SetGatedStatus(f.ctx, "clerk", g.ID, core.StatusSuccessful)
	if err != nil {
		t.Fatalf("SetGatedStatus successful: %v", err)
	}
	if done.Status != core.StatusSuccessful {
		t.Errorf("status = %s", done.Status)
	}
	if p := f.period(t, sp.ID, ym); p.UsedAmount.Cents != 8000 {
		t.Errorf("successful grant should keep funds used, got %d", p.UsedAmount.Cents)
	}

	if _, err := f.engine.Grants.SetGatedStatus(f.ctx, "clerk", g.ID, core.GrantStatus("lost")); !errors.Is(err, core.ErrInvalidStatus) {
		t.Errorf("unknown status = %v, want ErrInvalidStatus", err)
	}

	// Deny next month: the refund lands in the month the grant drew from.
	f.clock.Set(testStart.AddDate(0, 1, 0))
	if _, err := f.engine.Grants.SetGatedStatus(f.ctx, "clerk", g.ID, core.StatusDenied); err != nil {
		t.Fatalf("SetGatedStatus denied: %v", err)
	}
	if p := f.period(t, sp.ID, ym); p.UsedAmount.Cents != 0 || p.RemainingAmount.Cents != 70000 {
		t.Errorf("denied grant not refunded to its month: %+v", p)
	}
	if _, ok, _ := f.engine.Ledger.FindPeriod(f.ctx, sp.ID, ym.Next()); ok {
		t.Error("refund should not create the current period")
	}

	// Denying again is a no-op; leaving denied is rejected.
	if _, err := f.engine.Grants.SetGatedStatus(f.ctx, "clerk", g.ID, core.StatusDenied); err != nil {
		t.Fatalf("repeat deny: %v", err)
	}
	if p := f.period(t, sp.ID, ym); p.UsedAmount.Cents != 0 {
		t.Errorf("repeat deny refunded twice: %+v", p)
	}
	if _, err := f.engine.Grants.SetGatedStatus(f.ctx, "clerk", g.ID, core.StatusOngoing); !errors.Is(err, core.ErrInvalidStatus) {
		t.Errorf("leaving denied = %v, want ErrInvalidStatus", err)
	}

	if _, err := f.engine.Grants.SetGatedStatus(f.ctx, "clerk", "gated-missing", core.StatusDenied); !errors.Is(err, core.ErrRecordNotFound) {
		t.Errorf("missing grant = %v, want ErrRecordNotFound", err)
	}
}

func TestGrants_ArchivedGrantIsReadOnly(t *testing.T) {
	f := newFixture(t)
	sp := f.sponsor(t, "Ana Cruz", 70000)
	rc := f.recipient(t, "Juan Dela Cruz")
	g := f.gated(t, sp.ID, rc.ID, 1000)

	if _, err := f.engine.Archive.RequestArchive(f.ctx, "clerk", sp.ID); err != nil {
		t.Fatalf("RequestArchive: %v", err)
	}
	if _, err := f.engine.Archive.Approve(f.ctx, "admin", sp.ID); err != nil {
		t.Fatalf("Approve: %v", err)
	}
	if _, err := f.engine.Grants.SetGatedStatus(f.ctx, "clerk", g.ID, core.StatusDenied); !errors.Is(err, core.ErrGrantArchived) {
		t.Errorf("SetGatedStatus on archived = %v, want ErrGrantArchived", err)
	}
	if _, err := f.engine.Grants.VoidGatedGrant(f.ctx, "clerk", g.ID, "typo"); !errors.Is(err, core.ErrGrantArchived) {
		t.Errorf("VoidGatedGrant on archived = %v, want ErrGrantArchived", err)
	}
}

func TestGrants_VoidGated(t *testing.T) {
	f := newFixture(t)
	sp := f.sponsor(t, "Ana Cruz", 70000)
	rc := f.recipient(t, "Juan Dela Cruz")
	g := f.gated(t, sp.ID, rc.ID, 4000)

	if _, err := f.engine.Grants.VoidGatedGrant(f.ctx, "clerk", g.ID, "  "); err == nil {
		t.Fatal("void without reason should fail")
	}

	voided, err := f.engine.Grants.VoidGatedGrant(f.ctx, "clerk", g.ID, "entered twice")
	if err != nil {
		t.Fatalf("VoidGatedGrant: %v", err)
	}
	if voided.Status != core.StatusDenied || voided.VoidReason != "entered twice" {
		t.Errorf("unexpected voided grant %+v", voided)
	}
	if p := f.period(t, sp.ID, core.MonthOf(testStart)); p.UsedAmount.Cents != 0 {
		t.Errorf("void did not refund: %+v", p)
	}
	if _, err := f.engine.Grants.VoidGatedGrant(f.ctx, "clerk", g.ID, "again"); !errors.Is(err, core.ErrInvalidStatus) {
		t.Errorf("second void = %v, want ErrInvalidStatus", err)
	}

	// A voided grant no longer restricts the recipient.
	if r, _ := f.engine.Eligibility.CheckRestriction(f.ctx, rc.ID, sp.ID); r.Restricted {
		t.Error("voided grant still restricts")
	}
}

func TestGrants_DenyResumesFailedRelease(t *testing.T) {
	tests := []struct {
		name       string
		failOn     string
		wantRefund bool
	}{
		{"refund fails", storage.Periods, false},
		{"risk reversal fails", storage.Frequency, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newFaultyStore()
			f := newFixtureWithStore(t, store)
			sp := f.sponsor(t, "Ana Cruz", 70000)
			rc := f.recipient(t, "Juan Dela Cruz")
			g := f.gated(t, sp.ID, rc.ID, 4000)
			ym := core.MonthOf(testStart)

			store.setFailUpdate(tt.failOn, true)
			if _, err := f.engine.Grants.SetGatedStatus(f.ctx, "auditor", g.ID, core.StatusDenied); !errors.Is(err, errInjected) {
				t.Fatalf("SetGatedStatus = %v, want injected failure", err)
			}
			got, err := f.engine.Grants.GetGated(f.ctx, g.ID)
			if err != nil {
				t.Fatalf("GetGated: %v", err)
			}
			if got.Status != core.StatusDenied || got.Uncounted || got.Refunded != tt.wantRefund {
				t.Fatalf("after failed release = %+v", got.GrantRecord)
			}
			if p := f.period(t, sp.ID, ym); (p.UsedAmount.Cents == 0) != tt.wantRefund {
				t.Fatalf("period after failed release = %+v", p)
			}

			store.setFailUpdate(tt.failOn, false)
			got, err = f.engine.Grants.SetGatedStatus(f.ctx, "auditor", g.ID, core.StatusDenied)
			if err != nil {
				t.Fatalf("retry SetGatedStatus: %v", err)
			}
			if !got.Refunded || !got.Uncounted {
				t.Errorf("release not completed: %+v", got.GrantRecord)
			}
			p := f.period(t, sp.ID, ym)
			if p.UsedAmount.Cents != 0 || p.RemainingAmount.Cents != 70000 {
				t.Errorf("refund not applied exactly once: %+v", p)
			}
			if c, _ := f.engine.Risk.Classify(f.ctx, rc.ID); c.Total != 0 || c.SponsorCount != 0 {
				t.Errorf("risk count after release = %+v", c)
			}

			// Once released, further denials are no-ops.
			if _, err := f.engine.Grants.SetGatedStatus(f.ctx, "auditor", g.ID, core.StatusDenied); err != nil {
				t.Fatalf("third SetGatedStatus: %v", err)
			}
			if p := f.period(t, sp.ID, ym); p.RemainingAmount.Cents != 70000 {
				t.Errorf("repeat deny changed the period: %+v", p)
			}
			if _, err := f.engine.Grants.VoidGatedGrant(f.ctx, "auditor", g.ID, "again"); !errors.Is(err, core.ErrInvalidStatus) {
				t.Errorf("void after release = %v, want ErrInvalidStatus", err)
			}
		})
	}
}

func TestGrants_EventsAndPublisherFailures(t *testing.T) {
	f := newFixture(t)
	sp := f.sponsor(t, "Ana Cruz", 70000)
	rc := f.recipient(t, "Juan Dela Cruz")

	g := f.gated(t, sp.ID, rc.ID, 1000)
	if _, err := f.engine.Grants.SetGatedStatus(f.ctx, "clerk", g.ID, core.StatusSuccessful); err != nil {
		t.Fatalf("SetGatedStatus: %v", err)
	}

	f.pub.mu.Lock()
	created := f.pub.events[0]
	changed := f.pub.events[1]
	f.pub.mu.Unlock()
	if created.Type != amqp.EventGrantCreated || created.GrantID != g.ID || created.Kind != "gated" || created.AmountCents != 1000 {
		t.Errorf("unexpected created event %+v", created)
	}
	if changed.Type != amqp.EventGrantStatusChanged || changed.Status != string(core.StatusSuccessful) {
		t.Errorf("unexpected status event %+v", changed)
	}

	// A broken publisher never fails the operation.
	f.pub.err = errors.New("broker down")
	if _, err := f.engine.Grants.VoidGatedGrant(f.ctx, "clerk", g.ID, "mistake"); err != nil {
		t.Fatalf("VoidGatedGrant with failing publisher: %v", err)
	}
	types := f.pub.types()
	if types[len(types)-1] != amqp.EventGrantVoided {
		t.Errorf("last event = %s, want %s", types[len(types)-1], amqp.EventGrantVoided)
	}
}

func TestGrants_ForRecipient(t *testing.T) {
	f := newFixture(t)
	sp := f.sponsor(t, "Ana Cruz", 70000)
	rc := f.recipient(t, "Juan Dela Cruz")
	other := f.recipient(t, "Maria Lopez")
	if _, err := f.engine.Pool.AddEntry(f.ctx, "clerk", sp.ID, core.Cents(10000), "seed"); err != nil {
		t.Fatalf("AddEntry: %v", err)
	}

	f.gated(t, sp.ID, rc.ID, 1000)
	f.clock.Advance(time.Minute)
	latest := f.pooled(t, sp.ID, rc.ID, 500)
	f.pooled(t, sp.ID, other.ID, 500)

	grants, err := f.engine.Grants.ForRecipient(f.ctx, rc.ID)
	if err != nil {
		t.Fatalf("ForRecipient: %v", err)
	}
	if len(grants) != 2 {
		t.Fatalf("len = %d, want 2", len(grants))
	}
	if grants[0].Record().ID != latest.ID || grants[0].Kind() != core.Pooled {
		t.Errorf("newest first expected, got %+v", grants[0].Record())
	}
	if grants[1].Kind() != core.Gated {
		t.Errorf("second grant kind = %s", grants[1].Kind())
	}
}
