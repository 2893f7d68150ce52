package services

import (
	"errors"
	"reflect"
	"testing"
	"time"

	"aidledger/internal/amqp"
	"aidledger/internal/core"
	"aidledger/internal/storage"
)

func TestArchive_StateMachineLegality(t *testing.T) {
	tests := []struct {
		name   string
		setup  []string
		action string
		want   core.ArchiveStatus
		ok     bool
	}{
		{"request from none", nil, ActionRequest, core.ArchivePending, true},
		{"approve from none", nil, ActionApprove, core.ArchiveNone, false},
		{"deny from none", nil, ActionDeny, core.ArchiveNone, false},
		{"request from pending", []string{ActionRequest}, ActionRequest, core.ArchivePending, false},
		{"approve from pending", []string{ActionRequest}, ActionApprove, core.ArchiveApproved, true},
		{"deny from pending", []string{ActionRequest}, ActionDeny, core.ArchiveDenied, true},
		{"request from denied", []string{ActionRequest, ActionDeny}, ActionRequest, core.ArchivePending, true},
		{"approve from denied", []string{ActionRequest, ActionDeny}, ActionApprove, core.ArchiveDenied, false},
		{"deny from denied", []string{ActionRequest, ActionDeny}, ActionDeny, core.ArchiveDenied, false},
		{"request from approved", []string{ActionRequest, ActionApprove}, ActionRequest, core.ArchiveApproved, false},
		{"deny from approved", []string{ActionRequest, ActionApprove}, ActionDeny, core.ArchiveApproved, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			sp := f.sponsor(t, "Ana Cruz", 70000)
			run := func(action string) error {
				var err error
				switch action {
				case ActionRequest:
					_, err = f.engine.Archive.RequestArchive(f.ctx, "clerk", sp.ID)
				case ActionApprove:
					_, err = f.engine.Archive.Approve(f.ctx, "admin", sp.ID)
				case ActionDeny:
					_, err = f.engine.Archive.Deny(f.ctx, "admin", sp.ID)
				}
				return err
			}
			for _, step := range tt.setup {
				if err := run(step); err != nil {
					t.Fatalf("setup %s: %v", step, err)
				}
			}
			before, _ := f.engine.Sponsors.Get(f.ctx, sp.ID)

			err := run(tt.action)
			if tt.ok && err != nil {
				t.Fatalf("%s: %v", tt.action, err)
			}
			if !tt.ok {
				var te *core.TransitionError
				if !errors.As(err, &te) || !errors.Is(err, core.ErrInvalidStateTransition) {
					t.Fatalf("%s: expected TransitionError, got %v", tt.action, err)
				}
				after, _ := f.engine.Sponsors.Get(f.ctx, sp.ID)
				if !reflect.DeepEqual(before, after) {
					t.Errorf("rejected transition mutated sponsor:\nbefore %+v\nafter  %+v", before, after)
				}
			}

			got, _ := f.engine.Sponsors.Get(f.ctx, sp.ID)
			if got.CurrentArchiveStatus() != tt.want {
				t.Errorf("status = %s, want %s", got.CurrentArchiveStatus(), tt.want)
			}
		})
	}
}

func TestArchive_ApproveCascadesAndIsIdempotent(t *testing.T) {
	f := newFixture(t)
	sp := f.sponsor(t, "Ana Cruz", 70000)
	other := f.sponsor(t, "Ben Reyes", 70000)
	rc := f.recipient(t, "Juan Dela Cruz")
	rc2 := f.recipient(t, "Maria Lopez")
	if _, err := f.engine.Pool.AddEntry(f.ctx, "clerk", sp.ID, core.Cents(50000), "seed"); err != nil {
		t.Fatalf("AddEntry: %v", err)
	}

	f.gated(t, sp.ID, rc.ID, 1000)
	f.gated(t, sp.ID, rc2.ID, 1000)
	f.pooled(t, sp.ID, rc.ID, 1000)
	untouched := f.gated(t, other.ID, rc.ID, 1000)

	if _, err := f.engine.Archive.RequestArchive(f.ctx, "clerk", sp.ID); err != nil {
		t.Fatalf("RequestArchive: %v", err)
	}
	pending, err := f.engine.Archive.PendingArchives(f.ctx)
	if err != nil || len(pending) != 1 || pending[0].ID != sp.ID {
		t.Fatalf("PendingArchives = %+v, %v", pending, err)
	}

	res, err := f.engine.Archive.Approve(f.ctx, "admin", sp.ID)
	if err != nil {
		t.Fatalf("Approve: %v", err)
	}
	if res.GatedArchived != 2 || res.PooledArchived != 1 || res.AlreadyApproved {
		t.Fatalf("unexpected result %+v", res)
	}

	snapshot := func() ([]core.GatedGrant, []core.PooledGrant, []core.Sponsor) {
		g, _ := storage.All[core.GatedGrant](f.ctx, f.store, storage.GatedGrants)
		p, _ := storage.All[core.PooledGrant](f.ctx, f.store, storage.PooledGrants)
		s, _ := storage.All[core.Sponsor](f.ctx, f.store, storage.Sponsors)
		return g, p, s
	}
	g1, p1, s1 := snapshot()
	for _, g := range g1 {
		if g.SponsorID == sp.ID && (!g.Archived || g.ArchivedBy != "admin" || g.ArchivedAt == nil) {
			t.Errorf("grant %s not archived: %+v", g.ID, g)
		}
		if g.ID == untouched.ID && g.Archived {
			t.Errorf("other sponsor's grant archived")
		}
	}
	if !p1[0].Archived {
		t.Error("pooled grant not archived")
	}

	f.clock.Advance(time.Hour)
	res, err = f.engine.Archive.Approve(f.ctx, "admin2", sp.ID)
	if err != nil {
		t.Fatalf("second Approve: %v", err)
	}
	if !res.AlreadyApproved || res.GatedArchived != 0 {
		t.Fatalf("second approve result %+v", res)
	}
	g2, p2, s2 := snapshot()
	if !reflect.DeepEqual(g1, g2) || !reflect.DeepEqual(p1, p2) || !reflect.DeepEqual(s1, s2) {
		t.Error("second approve changed state")
	}

	archived, err := f.engine.Archive.IsArchived(f.ctx, sp.ID)
	if err != nil || !archived {
		t.Errorf("IsArchived = %v, %v", archived, err)
	}
	if pending, _ := f.engine.Archive.PendingArchives(f.ctx); len(pending) != 0 {
		t.Errorf("pending after approval: %+v", pending)
	}

	// Archived sponsors take no new grants.
	_, err = f.engine.Grants.CreatePooledGrant(f.ctx, "clerk", PooledDraft{
		RecipientID: rc.ID, SponsorID: sp.ID, Category: "burial", Amount: core.Cents(100),
	})
	if !errors.Is(err, core.ErrSponsorArchived) {
		t.Errorf("grant under archived sponsor = %v, want ErrSponsorArchived", err)
	}

	types := f.pub.types()
	want := []amqp.EventType{amqp.EventArchiveRequested, amqp.EventArchiveApproved}
	if got := types[len(types)-2:]; !reflect.DeepEqual(got, want) {
		t.Errorf("archive events = %v, want %v", got, want)
	}
}

func TestArchive_FallbackCascadeIsRerunnable(t *testing.T) {
	store := newFaultyStore()
	f := newFixtureWithStore(t, store)
	sp := f.sponsor(t, "Ana Cruz", 70000)
	rc := f.recipient(t, "Juan Dela Cruz")
	if _, err := f.engine.Pool.AddEntry(f.ctx, "clerk", sp.ID, core.Cents(50000), "seed"); err != nil {
		t.Fatalf("AddEntry: %v", err)
	}
	f.gated(t, sp.ID, rc.ID, 1000)
	f.pooled(t, sp.ID, rc.ID, 1000)

	if _, err := f.engine.Archive.RequestArchive(f.ctx, "clerk", sp.ID); err != nil {
		t.Fatalf("RequestArchive: %v", err)
	}

	// Interrupt after the grant writes: the sponsor write fails.
	store.setFail(false, storage.Sponsors, true)
	if _, err := f.engine.Archive.Approve(f.ctx, "admin", sp.ID); !errors.Is(err, errInjected) {
		t.Fatalf("Approve = %v, want injected failure", err)
	}
	got, _ := f.engine.Sponsors.Get(f.ctx, sp.ID)
	if got.CurrentArchiveStatus() != core.ArchivePending || got.Archived {
		t.Fatalf("sponsor must stay pending after interrupted cascade: %+v", got)
	}

	store.setFail(false, storage.Sponsors, false)
	res, err := f.engine.Archive.Approve(f.ctx, "admin", sp.ID)
	if err != nil {
		t.Fatalf("re-run Approve: %v", err)
	}
	// Grants archived by the interrupted run are not archived twice.
	if res.GatedArchived != 0 || res.PooledArchived != 0 {
		t.Errorf("re-run archived grants again: %+v", res)
	}
	got, _ = f.engine.Sponsors.Get(f.ctx, sp.ID)
	if got.CurrentArchiveStatus() != core.ArchiveApproved || !got.Archived {
		t.Fatalf("sponsor not approved after re-run: %+v", got)
	}
	grants, _ := f.engine.Grants.ListGated(f.ctx, sp.ID)
	if len(grants) != 1 || !grants[0].Archived {
		t.Errorf("gated grants after re-run: %+v", grants)
	}
}

func TestArchive_DenyThenRequestAgain(t *testing.T) {
	f := newFixture(t)
	sp := f.sponsor(t, "Ana Cruz", 70000)
	rc := f.recipient(t, "Juan Dela Cruz")
	g := f.gated(t, sp.ID, rc.ID, 1000)

	if _, err := f.engine.Archive.RequestArchive(f.ctx, "clerk", sp.ID); err != nil {
		t.Fatalf("RequestArchive: %v", err)
	}
	denied, err := f.engine.Archive.Deny(f.ctx, "admin", sp.ID)
	if err != nil {
		t.Fatalf("Deny: %v", err)
	}
	if denied.ArchiveDecidedBy != "admin" || denied.Archived {
		t.Errorf("unexpected denied sponsor %+v", denied)
	}
	stored, _ := f.engine.Grants.GetGated(f.ctx, g.ID)
	if stored.Archived {
		t.Error("deny must not archive grants")
	}

	again, err := f.engine.Archive.RequestArchive(f.ctx, "clerk", sp.ID)
	if err != nil {
		t.Fatalf("RequestArchive after deny: %v", err)
	}
	if again.CurrentArchiveStatus() != core.ArchivePending || again.ArchiveDecidedAt != nil {
		t.Errorf("unexpected re-requested sponsor %+v", again)
	}
}

func TestArchive_UnknownSponsor(t *testing.T) {
	f := newFixture(t)
	if _, err := f.engine.Archive.Approve(f.ctx, "admin", "sponsor-missing"); !errors.Is(err, core.ErrRecordNotFound) {
		t.Errorf("Approve unknown = %v, want ErrRecordNotFound", err)
	}
}
