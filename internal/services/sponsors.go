package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"aidledger/internal/core"
	applog "aidledger/internal/log"
	"aidledger/internal/storage"
)

// Sponsors manages Board Member records and their terms.
type Sponsors struct {
	store  storage.Store
	clock  core.Clock
	logger *applog.Logger
}

func NewSponsors(store storage.Store, clock core.Clock) *Sponsors {
	return &Sponsors{
		store:  store,
		clock:  clock,
		logger: applog.ForComponent(applog.ComponentApp),
	}
}

// Register creates a sponsor in its first term. A zero base leaves the
// sponsor on the ledger's default allotment.
func (s *Sponsors) Register(ctx context.Context, actingUser, name string, base core.Money, termStart, termEnd time.Time) (core.Sponsor, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return core.Sponsor{}, core.ErrEmptySponsor
	}
	if base.IsNegative() {
		return core.Sponsor{}, core.ErrInvalidAmount
	}
	if !termEnd.IsZero() && termEnd.Before(termStart) {
		return core.Sponsor{}, fmt.Errorf("term end %s is before term start %s",
			termEnd.Format(time.DateOnly), termStart.Format(time.DateOnly))
	}

	sp := core.Sponsor{
		ID:            s.store.GenerateID("sponsor"),
		Name:          name,
		BaseBudget:    base,
		TermStart:     termStart,
		TermEnd:       termEnd,
		TermNumber:    1,
		ArchiveStatus: core.ArchiveNone,
		CreatedAt:     s.clock.Now(),
	}
	if err := storage.Insert(ctx, s.store, storage.Sponsors, sp); err != nil {
		return core.Sponsor{}, fmt.Errorf("save sponsor: %w", err)
	}

	s.logger.InfoContext(ctx, "Sponsor registered",
		applog.FieldSponsorID, sp.ID,
		applog.FieldActingUser, actingUser,
		"name", sp.Name,
		"base_budget_cents", base.Cents)
	return sp, nil
}

func (s *Sponsors) Get(ctx context.Context, id string) (core.Sponsor, error) {
	return loadSponsor(ctx, s.store, id)
}

func (s *Sponsors) List(ctx context.Context) ([]core.Sponsor, error) {
	return storage.All[core.Sponsor](ctx, s.store, storage.Sponsors)
}

// StartNewTerm moves a sponsor into its next term. Pool usage from earlier
// terms stops counting against the pool and the archive workflow resets to
// none. A pending archive request must be decided first.
func (s *Sponsors) StartNewTerm(ctx context.Context, actingUser, id string, start, end time.Time) (core.Sponsor, error) {
	sp, err := loadSponsor(ctx, s.store, id)
	if err != nil {
		return core.Sponsor{}, err
	}
	if sp.CurrentArchiveStatus() == core.ArchivePending {
		return core.Sponsor{}, &core.TransitionError{SponsorID: id, From: core.ArchivePending, Action: "start new term"}
	}
	if !end.IsZero() && end.Before(start) {
		return core.Sponsor{}, fmt.Errorf("term end %s is before term start %s",
			end.Format(time.DateOnly), start.Format(time.DateOnly))
	}

	fields := map[string]any{
		"term_start":           start,
		"term_end":             end,
		"term_number":          sp.TermNumber + 1,
		"archive_status":       core.ArchiveNone,
		"archived":             false,
		"archived_at":          nil,
		"archived_by":          "",
		"archive_requested_at": nil,
		"archive_requested_by": "",
		"archive_decided_at":   nil,
		"archive_decided_by":   "",
	}
	if err := s.store.Update(ctx, storage.Sponsors, id, fields); err != nil {
		return core.Sponsor{}, fmt.Errorf("start new term: %w", err)
	}

	s.logger.InfoContext(ctx, "Sponsor term started",
		applog.FieldSponsorID, id,
		applog.FieldActingUser, actingUser,
		"term_number", sp.TermNumber+1,
		"term_start", start.Format(time.DateOnly))
	return loadSponsor(ctx, s.store, id)
}

func loadSponsor(ctx context.Context, store storage.Store, id string) (core.Sponsor, error) {
	sponsors, err := storage.All[core.Sponsor](ctx, store, storage.Sponsors)
	if err != nil {
		return core.Sponsor{}, err
	}
	for _, sp := range sponsors {
		if sp.ID == id {
			return sp, nil
		}
	}
	return core.Sponsor{}, &core.NotFoundError{Collection: storage.Sponsors, ID: id}
}

// Recipients keeps the deduplicated person registry grants point at.
type Recipients struct {
	store  storage.Store
	clock  core.Clock
	logger *applog.Logger
}

func NewRecipients(store storage.Store, clock core.Clock) *Recipients {
	return &Recipients{store: store, clock: clock, logger: applog.ForComponent(applog.ComponentApp)}
}

// Ensure returns the recipient whose normalized name matches, creating one
// when none exists. The boolean reports whether a record was created.
func (r *Recipients) Ensure(ctx context.Context, actingUser, name string) (core.Recipient, bool, error) {
	key := core.NormalizeName(name)
	if key == "" {
		return core.Recipient{}, false, core.ErrEmptyRecipient
	}

	all, err := storage.All[core.Recipient](ctx, r.store, storage.Recipients)
	if err != nil {
		return core.Recipient{}, false, err
	}
	for _, rc := range all {
		if rc.Key == key {
			return rc, false, nil
		}
	}

	rc := core.Recipient{
		ID:        r.store.GenerateID("recipient"),
		Name:      strings.Join(strings.Fields(name), " "),
		Key:       key,
		CreatedAt: r.clock.Now(),
		CreatedBy: actingUser,
	}
	if err := storage.Insert(ctx, r.store, storage.Recipients, rc); err != nil {
		return core.Recipient{}, false, fmt.Errorf("save recipient: %w", err)
	}
	r.logger.DebugContext(ctx, "Recipient created", applog.FieldRecipientID, rc.ID)
	return rc, true, nil
}

func (r *Recipients) Get(ctx context.Context, id string) (core.Recipient, error) {
	all, err := storage.All[core.Recipient](ctx, r.store, storage.Recipients)
	if err != nil {
		return core.Recipient{}, err
	}
	for _, rc := range all {
		if rc.ID == id {
			return rc, nil
		}
	}
	return core.Recipient{}, &core.NotFoundError{Collection: storage.Recipients, ID: id}
}
