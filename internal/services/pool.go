package services

import (
	"context"
	"fmt"
	"strings"

	"aidledger/internal/amqp"
	"aidledger/internal/core"
	applog "aidledger/internal/log"
	"aidledger/internal/storage"
)

// Pool owns the unbounded pooled fund used by pooled grants. Its balance is
// never stored: every read recomputes it from live entries and the sponsor's
// non-denied pooled grants of the current term.
type Pool struct {
	store  storage.Store
	clock  core.Clock
	pub    EventPublisher
	logger *applog.Logger
}

// NewPool creates the pool engine. pub may be nil.
func NewPool(store storage.Store, clock core.Clock, pub EventPublisher) *Pool {
	return &Pool{
		store:  store,
		clock:  clock,
		pub:    pub,
		logger: applog.ForComponent(applog.ComponentPool),
	}
}

// AddEntry appends a fund addition. Entries are never merged.
func (p *Pool) AddEntry(ctx context.Context, actingUser, sponsorID string, amount core.Money, description string) (core.PoolEntry, error) {
	if err := amount.Validate(); err != nil {
		return core.PoolEntry{}, err
	}
	if _, err := loadSponsor(ctx, p.store, sponsorID); err != nil {
		return core.PoolEntry{}, err
	}

	e := core.PoolEntry{
		ID:          p.store.GenerateID("pool"),
		SponsorID:   sponsorID,
		Amount:      amount,
		Description: strings.TrimSpace(description),
		CreatedBy:   actingUser,
		CreatedAt:   p.clock.Now(),
	}
	if err := e.Validate(); err != nil {
		return core.PoolEntry{}, err
	}
	if err := storage.Insert(ctx, p.store, storage.PoolEntries, e); err != nil {
		return core.PoolEntry{}, fmt.Errorf("add pool entry: %w", err)
	}
	if err := p.syncSponsorBalance(ctx, sponsorID); err != nil {
		return core.PoolEntry{}, err
	}

	p.logger.InfoContext(ctx, "Pool entry added",
		applog.FieldSponsorID, sponsorID,
		applog.FieldEntryID, e.ID,
		applog.FieldActingUser, actingUser,
		applog.FieldAmountCents, amount.Cents)

	ev := amqp.NewEvent(amqp.EventPoolEntryAdded, sponsorID, actingUser)
	ev.EntryID = e.ID
	ev.AmountCents = amount.Cents
	emit(ctx, p.pub, p.logger, ev)
	return e, nil
}

// RemoveEntry soft-deletes an entry. Grants already issued are untouched, so
// the remaining balance may go negative.
func (p *Pool) RemoveEntry(ctx context.Context, actingUser, entryID string) error {
	entries, err := storage.All[core.PoolEntry](ctx, p.store, storage.PoolEntries)
	if err != nil {
		return err
	}
	var entry *core.PoolEntry
	for i := range entries {
		if entries[i].ID == entryID {
			entry = &entries[i]
			break
		}
	}
	if entry == nil {
		return &core.NotFoundError{Collection: storage.PoolEntries, ID: entryID}
	}
	if entry.Deleted {
		return nil
	}

	now := p.clock.Now()
	if err := p.store.Update(ctx, storage.PoolEntries, entryID, map[string]any{
		"deleted":    true,
		"deleted_at": now,
		"deleted_by": actingUser,
	}); err != nil {
		return fmt.Errorf("remove pool entry: %w", err)
	}
	if err := p.syncSponsorBalance(ctx, entry.SponsorID); err != nil {
		return err
	}

	p.logger.InfoContext(ctx, "Pool entry removed",
		applog.FieldSponsorID, entry.SponsorID,
		applog.FieldEntryID, entryID,
		applog.FieldActingUser, actingUser,
		applog.FieldAmountCents, entry.Amount.Cents)

	ev := amqp.NewEvent(amqp.EventPoolEntryRemoved, entry.SponsorID, actingUser)
	ev.EntryID = entryID
	ev.AmountCents = entry.Amount.Cents
	emit(ctx, p.pub, p.logger, ev)
	return nil
}

// Summary recomputes the pool from scratch.
func (p *Pool) Summary(ctx context.Context, sponsorID string) (core.PoolSummary, error) {
	sponsor, err := loadSponsor(ctx, p.store, sponsorID)
	if err != nil {
		return core.PoolSummary{}, err
	}

	entries, err := p.liveEntries(ctx, sponsorID)
	if err != nil {
		return core.PoolSummary{}, err
	}
	var total core.Money
	for _, e := range entries {
		total = total.Add(e.Amount)
	}

	grants, err := storage.All[core.PooledGrant](ctx, p.store, storage.PooledGrants)
	if err != nil {
		return core.PoolSummary{}, err
	}
	var used core.Money
	for _, g := range grants {
		if g.SponsorID != sponsorID || !g.Counts() {
			continue
		}
		if g.CreatedAt.Before(sponsor.TermStart) {
			continue
		}
		used = used.Add(g.Amount)
	}

	return core.PoolSummary{
		SponsorID: sponsorID,
		TotalPool: total,
		TotalUsed: used,
		Remaining: total.Sub(used),
		Entries:   entries,
	}, nil
}

// Reserve checks that a pooled grant of amount fits the recomputed remaining
// balance. It mutates nothing; the grant record is the unit of change.
func (p *Pool) Reserve(ctx context.Context, sponsorID string, amount core.Money) (core.PoolSummary, error) {
	if err := amount.Validate(); err != nil {
		return core.PoolSummary{}, err
	}
	sum, err := p.Summary(ctx, sponsorID)
	if err != nil {
		return core.PoolSummary{}, err
	}
	if amount.Cents > sum.Remaining.Cents {
		p.logger.WarnContext(ctx, "Pooled grant exceeds pool remaining",
			applog.FieldSponsorID, sponsorID,
			applog.FieldAmountCents, amount.Cents,
			"remaining_cents", sum.Remaining.Cents)
		return sum, &core.InsufficientPoolError{
			SponsorID: sponsorID,
			Requested: amount,
			Remaining: sum.Remaining,
		}
	}
	return sum, nil
}

func (p *Pool) liveEntries(ctx context.Context, sponsorID string) ([]core.PoolEntry, error) {
	all, err := storage.All[core.PoolEntry](ctx, p.store, storage.PoolEntries)
	if err != nil {
		return nil, err
	}
	var out []core.PoolEntry
	for _, e := range all {
		if e.SponsorID == sponsorID && !e.Deleted {
			out = append(out, e)
		}
	}
	return out, nil
}

// syncSponsorBalance mirrors the live entry total onto the sponsor record
// for display. Balances are never read back from it.
func (p *Pool) syncSponsorBalance(ctx context.Context, sponsorID string) error {
	entries, err := p.liveEntries(ctx, sponsorID)
	if err != nil {
		return err
	}
	var total core.Money
	for _, e := range entries {
		total = total.Add(e.Amount)
	}
	if err := p.store.Update(ctx, storage.Sponsors, sponsorID, map[string]any{
		"pool_balance": total,
	}); err != nil {
		return fmt.Errorf("update sponsor pool balance: %w", err)
	}
	return nil
}
