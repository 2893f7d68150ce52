package services

import (
	"context"
	"fmt"

	"aidledger/internal/amqp"
	"aidledger/internal/core"
	applog "aidledger/internal/log"
	"aidledger/internal/storage"
)

// Archive actions, used in transition errors and events.
const (
	ActionRequest = "request"
	ActionApprove = "approve"
	ActionDeny    = "deny"
)

// ArchiveResult describes what an approval changed.
type ArchiveResult struct {
	SponsorID       string
	GatedArchived   int
	PooledArchived  int
	AlreadyApproved bool
}

// Archiver runs the end-of-term archive workflow:
// none -> pending -> approved | denied, and denied -> pending again.
type Archiver struct {
	store  storage.Store
	clock  core.Clock
	pub    EventPublisher
	logger *applog.Logger
}

// NewArchiver creates the archive workflow. pub may be nil.
func NewArchiver(store storage.Store, clock core.Clock, pub EventPublisher) *Archiver {
	return &Archiver{
		store:  store,
		clock:  clock,
		pub:    pub,
		logger: applog.ForComponent(applog.ComponentArchive),
	}
}

// RequestArchive moves a sponsor from none or denied into pending.
func (a *Archiver) RequestArchive(ctx context.Context, actingUser, sponsorID string) (core.Sponsor, error) {
	sp, err := loadSponsor(ctx, a.store, sponsorID)
	if err != nil {
		return core.Sponsor{}, err
	}
	from := sp.CurrentArchiveStatus()
	if from != core.ArchiveNone && from != core.ArchiveDenied {
		return core.Sponsor{}, &core.TransitionError{SponsorID: sponsorID, From: from, Action: ActionRequest}
	}

	now := a.clock.Now()
	if err := a.store.Update(ctx, storage.Sponsors, sponsorID, map[string]any{
		"archive_status":       core.ArchivePending,
		"archive_requested_at": now,
		"archive_requested_by": actingUser,
		"archive_decided_at":   nil,
		"archive_decided_by":   "",
	}); err != nil {
		return core.Sponsor{}, fmt.Errorf("request archive: %w", err)
	}

	a.logger.InfoContext(ctx, "Archive requested",
		applog.FieldSponsorID, sponsorID,
		applog.FieldActingUser, actingUser,
		applog.FieldStatus, string(from))
	emit(ctx, a.pub, a.logger, amqp.NewEvent(amqp.EventArchiveRequested, sponsorID, actingUser))
	return loadSponsor(ctx, a.store, sponsorID)
}

// Approve archives every non-archived grant of the sponsor and the sponsor
// itself. Approving an approved sponsor changes nothing and reports
// AlreadyApproved.
//
// Stores implementing storage.BatchSetter get all writes in one batch.
// Otherwise grants are written before the sponsor, so an interrupted run
// leaves the sponsor pending and a second Approve completes it.
func (a *Archiver) Approve(ctx context.Context, actingAdmin, sponsorID string) (ArchiveResult, error) {
	sp, err := loadSponsor(ctx, a.store, sponsorID)
	if err != nil {
		return ArchiveResult{}, err
	}
	switch from := sp.CurrentArchiveStatus(); from {
	case core.ArchiveApproved:
		a.logger.InfoContext(ctx, "Archive already approved",
			applog.FieldSponsorID, sponsorID,
			applog.FieldActingUser, actingAdmin)
		return ArchiveResult{SponsorID: sponsorID, AlreadyApproved: true}, nil
	case core.ArchivePending:
	default:
		return ArchiveResult{}, &core.TransitionError{SponsorID: sponsorID, From: from, Action: ActionApprove}
	}

	gated, err := storage.All[core.GatedGrant](ctx, a.store, storage.GatedGrants)
	if err != nil {
		return ArchiveResult{}, err
	}
	pooled, err := storage.All[core.PooledGrant](ctx, a.store, storage.PooledGrants)
	if err != nil {
		return ArchiveResult{}, err
	}
	sponsors, err := storage.All[core.Sponsor](ctx, a.store, storage.Sponsors)
	if err != nil {
		return ArchiveResult{}, err
	}

	now := a.clock.Now()
	res := ArchiveResult{SponsorID: sponsorID}
	mark := func(g *core.GrantRecord) bool {
		if g.SponsorID != sponsorID || g.Archived {
			return false
		}
		g.Archived = true
		g.ArchivedAt = &now
		g.ArchivedBy = actingAdmin
		return true
	}
	for i := range gated {
		if mark(&gated[i].GrantRecord) {
			res.GatedArchived++
		}
	}
	for i := range pooled {
		if mark(&pooled[i].GrantRecord) {
			res.PooledArchived++
		}
	}
	for i := range sponsors {
		if sponsors[i].ID != sponsorID {
			continue
		}
		sponsors[i].ArchiveStatus = core.ArchiveApproved
		sponsors[i].ArchiveDecidedAt = &now
		sponsors[i].ArchiveDecidedBy = actingAdmin
		sponsors[i].Archived = true
		sponsors[i].ArchivedAt = &now
		sponsors[i].ArchivedBy = actingAdmin
	}

	if err := a.writeCascade(ctx, gated, pooled, sponsors); err != nil {
		a.logger.ErrorContext(ctx, "Archive cascade failed",
			applog.FieldSponsorID, sponsorID,
			applog.FieldActingUser, actingAdmin,
			applog.FieldError, err)
		return ArchiveResult{}, fmt.Errorf("approve archive: %w", err)
	}

	a.logger.InfoContext(ctx, "Archive approved",
		applog.FieldSponsorID, sponsorID,
		applog.FieldActingUser, actingAdmin,
		"gated_archived", res.GatedArchived,
		"pooled_archived", res.PooledArchived)
	emit(ctx, a.pub, a.logger, amqp.NewEvent(amqp.EventArchiveApproved, sponsorID, actingAdmin))
	return res, nil
}

// Deny rejects a pending request. Grants are not touched.
func (a *Archiver) Deny(ctx context.Context, actingAdmin, sponsorID string) (core.Sponsor, error) {
	sp, err := loadSponsor(ctx, a.store, sponsorID)
	if err != nil {
		return core.Sponsor{}, err
	}
	if from := sp.CurrentArchiveStatus(); from != core.ArchivePending {
		return core.Sponsor{}, &core.TransitionError{SponsorID: sponsorID, From: from, Action: ActionDeny}
	}

	if err := a.store.Update(ctx, storage.Sponsors, sponsorID, map[string]any{
		"archive_status":     core.ArchiveDenied,
		"archive_decided_at": a.clock.Now(),
		"archive_decided_by": actingAdmin,
	}); err != nil {
		return core.Sponsor{}, fmt.Errorf("deny archive: %w", err)
	}

	a.logger.InfoContext(ctx, "Archive denied",
		applog.FieldSponsorID, sponsorID,
		applog.FieldActingUser, actingAdmin)
	emit(ctx, a.pub, a.logger, amqp.NewEvent(amqp.EventArchiveDenied, sponsorID, actingAdmin))
	return loadSponsor(ctx, a.store, sponsorID)
}

// PendingArchives lists sponsors waiting for an admin decision.
func (a *Archiver) PendingArchives(ctx context.Context) ([]core.Sponsor, error) {
	sponsors, err := storage.All[core.Sponsor](ctx, a.store, storage.Sponsors)
	if err != nil {
		return nil, err
	}
	var out []core.Sponsor
	for _, sp := range sponsors {
		if sp.CurrentArchiveStatus() == core.ArchivePending {
			out = append(out, sp)
		}
	}
	return out, nil
}

func (a *Archiver) IsArchived(ctx context.Context, sponsorID string) (bool, error) {
	sp, err := loadSponsor(ctx, a.store, sponsorID)
	if err != nil {
		return false, err
	}
	return sp.Archived, nil
}

func (a *Archiver) writeCascade(ctx context.Context, gated []core.GatedGrant, pooled []core.PooledGrant, sponsors []core.Sponsor) error {
	if bs, ok := a.store.(storage.BatchSetter); ok {
		gatedDocs, err := storage.EncodeAll(gated)
		if err != nil {
			return err
		}
		pooledDocs, err := storage.EncodeAll(pooled)
		if err != nil {
			return err
		}
		sponsorDocs, err := storage.EncodeAll(sponsors)
		if err != nil {
			return err
		}
		return bs.SetBatch(ctx, map[string][]storage.Document{
			storage.GatedGrants:  gatedDocs,
			storage.PooledGrants: pooledDocs,
			storage.Sponsors:     sponsorDocs,
		})
	}

	if err := storage.Replace(ctx, a.store, storage.GatedGrants, gated); err != nil {
		return err
	}
	if err := storage.Replace(ctx, a.store, storage.PooledGrants, pooled); err != nil {
		return err
	}
	return storage.Replace(ctx, a.store, storage.Sponsors, sponsors)
}
