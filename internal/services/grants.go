package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"aidledger/internal/amqp"
	"aidledger/internal/core"
	applog "aidledger/internal/log"
	"aidledger/internal/storage"
)

// GatedDraft is the input for a new gated grant. The cooldown is either a
// preset name or a custom number of months.
type GatedDraft struct {
	RecipientID      string
	SponsorID        string
	Category         string
	Amount           core.Money
	CooldownPreset   string
	CooldownMonths   int
	Skip             bool
	SkipReason       string
	SkipAcknowledged bool
}

type PooledDraft struct {
	RecipientID string
	SponsorID   string
	Category    string
	Amount      core.Money
}

// GrantService creates grants and moves them through their lifecycle while
// keeping the ledger, pool and risk counters consistent. Funds are always
// reserved before a record is written; a failed write after a deduction is
// compensated with a refund.
type GrantService struct {
	store       storage.Store
	clock       core.Clock
	ledger      *Ledger
	pool        *Pool
	eligibility *Eligibility
	risk        *Risk
	pub         EventPublisher
	logger      *applog.Logger
}

func NewGrantService(store storage.Store, clock core.Clock, ledger *Ledger, pool *Pool, eligibility *Eligibility, risk *Risk, pub EventPublisher) *GrantService {
	return &GrantService{
		store:       store,
		clock:       clock,
		ledger:      ledger,
		pool:        pool,
		eligibility: eligibility,
		risk:        risk,
		pub:         pub,
		logger:      applog.ForComponent(applog.ComponentGrants),
	}
}

// CreateGatedGrant checks the waiting period, deducts from the current
// month's budget and writes the grant.
func (s *GrantService) CreateGatedGrant(ctx context.Context, actingUser string, d GatedDraft) (core.GatedGrant, error) {
	if err := s.ensureActiveSponsor(ctx, d.SponsorID); err != nil {
		return core.GatedGrant{}, err
	}
	months, err := s.eligibility.Presets().Resolve(d.CooldownPreset, d.CooldownMonths)
	if err != nil {
		return core.GatedGrant{}, err
	}
	if !d.Skip {
		r, err := s.eligibility.CheckRestriction(ctx, d.RecipientID, d.SponsorID)
		if err != nil {
			return core.GatedGrant{}, err
		}
		if r.Restricted {
			return core.GatedGrant{}, &core.RestrictedError{
				RecipientID:   d.RecipientID,
				SponsorID:     d.SponsorID,
				EligibleOn:    *r.EligibleOn,
				DaysRemaining: r.DaysRemaining,
			}
		}
	}

	period, err := s.ledger.Deduct(ctx, actingUser, d.SponsorID, d.Amount)
	if err != nil {
		return core.GatedGrant{}, err
	}

	g := core.GatedGrant{
		GrantRecord:    s.newRecord("gated", actingUser, d.RecipientID, d.SponsorID, d.Category, d.Amount),
		CooldownMonths: months,
	}
	err = func() error {
		if d.Skip {
			if err := ApplySkip(&g, d.SkipReason, d.SkipAcknowledged); err != nil {
				return err
			}
		}
		s.eligibility.stamp(ctx, &g)
		if err := g.Validate(); err != nil {
			return err
		}
		return storage.Insert(ctx, s.store, storage.GatedGrants, g)
	}()
	if err != nil {
		if rerr := s.ledger.Refund(ctx, actingUser, d.SponsorID, d.Amount, period.Month); rerr != nil {
			s.logger.ErrorContext(ctx, "Compensating refund failed",
				applog.FieldSponsorID, d.SponsorID,
				applog.FieldYearMonth, period.Month.String(),
				applog.FieldAmountCents, d.Amount.Cents,
				applog.FieldError, rerr)
			return core.GatedGrant{}, errors.Join(fmt.Errorf("create gated grant: %w", err), rerr)
		}
		s.logger.WarnContext(ctx, "Gated grant not created, budget refunded",
			applog.FieldSponsorID, d.SponsorID,
			applog.FieldAmountCents, d.Amount.Cents,
			applog.FieldError, err)
		return core.GatedGrant{}, fmt.Errorf("create gated grant: %w", err)
	}

	s.afterCreate(ctx, actingUser, g)
	return g, nil
}

// CreatePooledGrant checks the pool balance and writes the grant. The pool
// has no stored balance, so the grant record is the whole state change.
func (s *GrantService) CreatePooledGrant(ctx context.Context, actingUser string, d PooledDraft) (core.PooledGrant, error) {
	if err := s.ensureActiveSponsor(ctx, d.SponsorID); err != nil {
		return core.PooledGrant{}, err
	}
	if _, err := s.pool.Reserve(ctx, d.SponsorID, d.Amount); err != nil {
		return core.PooledGrant{}, err
	}

	g := core.PooledGrant{
		GrantRecord: s.newRecord("pooled", actingUser, d.RecipientID, d.SponsorID, d.Category, d.Amount),
	}
	if err := g.Validate(); err != nil {
		return core.PooledGrant{}, fmt.Errorf("create pooled grant: %w", err)
	}
	if err := storage.Insert(ctx, s.store, storage.PooledGrants, g); err != nil {
		return core.PooledGrant{}, fmt.Errorf("create pooled grant: %w", err)
	}

	s.afterCreate(ctx, actingUser, g)
	return g, nil
}

// SetGatedStatus changes a gated grant's status. Moving to denied refunds the
// month the grant drew from and uncounts it for risk.
func (s *GrantService) SetGatedStatus(ctx context.Context, actingUser, grantID string, status core.GrantStatus) (core.GatedGrant, error) {
	g, err := s.GetGated(ctx, grantID)
	if err != nil {
		return core.GatedGrant{}, err
	}
	if err := s.transition(ctx, actingUser, g, status, ""); err != nil {
		return core.GatedGrant{}, err
	}
	return s.GetGated(ctx, grantID)
}

// SetPooledStatus changes a pooled grant's status. A denied pooled grant
// drops out of pool usage on the next summary.
func (s *GrantService) SetPooledStatus(ctx context.Context, actingUser, grantID string, status core.GrantStatus) (core.PooledGrant, error) {
	g, err := s.GetPooled(ctx, grantID)
	if err != nil {
		return core.PooledGrant{}, err
	}
	if err := s.transition(ctx, actingUser, g, status, ""); err != nil {
		return core.PooledGrant{}, err
	}
	return s.GetPooled(ctx, grantID)
}

// VoidGatedGrant cancels an erroneous gated grant, releasing its funds.
func (s *GrantService) VoidGatedGrant(ctx context.Context, actingUser, grantID, reason string) (core.GatedGrant, error) {
	g, err := s.GetGated(ctx, grantID)
	if err != nil {
		return core.GatedGrant{}, err
	}
	if err := s.void(ctx, actingUser, g, reason); err != nil {
		return core.GatedGrant{}, err
	}
	return s.GetGated(ctx, grantID)
}

func (s *GrantService) VoidPooledGrant(ctx context.Context, actingUser, grantID, reason string) (core.PooledGrant, error) {
	g, err := s.GetPooled(ctx, grantID)
	if err != nil {
		return core.PooledGrant{}, err
	}
	if err := s.void(ctx, actingUser, g, reason); err != nil {
		return core.PooledGrant{}, err
	}
	return s.GetPooled(ctx, grantID)
}

func (s *GrantService) GetGated(ctx context.Context, id string) (core.GatedGrant, error) {
	grants, err := storage.All[core.GatedGrant](ctx, s.store, storage.GatedGrants)
	if err != nil {
		return core.GatedGrant{}, err
	}
	for _, g := range grants {
		if g.ID == id {
			return g, nil
		}
	}
	return core.GatedGrant{}, &core.NotFoundError{Collection: storage.GatedGrants, ID: id}
}

func (s *GrantService) GetPooled(ctx context.Context, id string) (core.PooledGrant, error) {
	grants, err := storage.All[core.PooledGrant](ctx, s.store, storage.PooledGrants)
	if err != nil {
		return core.PooledGrant{}, err
	}
	for _, g := range grants {
		if g.ID == id {
			return g, nil
		}
	}
	return core.PooledGrant{}, &core.NotFoundError{Collection: storage.PooledGrants, ID: id}
}

// ListGated returns a sponsor's gated grants, newest first. An empty sponsor
// lists every sponsor's grants.
func (s *GrantService) ListGated(ctx context.Context, sponsorID string) ([]core.GatedGrant, error) {
	grants, err := storage.All[core.GatedGrant](ctx, s.store, storage.GatedGrants)
	if err != nil {
		return nil, err
	}
	out := grants[:0]
	for _, g := range grants {
		if sponsorID == "" || g.SponsorID == sponsorID {
			out = append(out, g)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (s *GrantService) ListPooled(ctx context.Context, sponsorID string) ([]core.PooledGrant, error) {
	grants, err := storage.All[core.PooledGrant](ctx, s.store, storage.PooledGrants)
	if err != nil {
		return nil, err
	}
	out := grants[:0]
	for _, g := range grants {
		if sponsorID == "" || g.SponsorID == sponsorID {
			out = append(out, g)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

// ForRecipient returns every grant of both kinds made to a recipient, newest
// first.
func (s *GrantService) ForRecipient(ctx context.Context, recipientID string) ([]core.Grant, error) {
	gated, err := storage.All[core.GatedGrant](ctx, s.store, storage.GatedGrants)
	if err != nil {
		return nil, err
	}
	pooled, err := storage.All[core.PooledGrant](ctx, s.store, storage.PooledGrants)
	if err != nil {
		return nil, err
	}
	var out []core.Grant
	for _, g := range gated {
		if g.RecipientID == recipientID {
			out = append(out, g)
		}
	}
	for _, g := range pooled {
		if g.RecipientID == recipientID {
			out = append(out, g)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Record().CreatedAt.After(out[j].Record().CreatedAt)
	})
	return out, nil
}

func (s *GrantService) ensureActiveSponsor(ctx context.Context, sponsorID string) error {
	if strings.TrimSpace(sponsorID) == "" {
		return core.ErrEmptySponsor
	}
	sp, err := loadSponsor(ctx, s.store, sponsorID)
	if err != nil {
		return err
	}
	if sp.Archived {
		return fmt.Errorf("sponsor %s: %w", sponsorID, core.ErrSponsorArchived)
	}
	return nil
}

func (s *GrantService) newRecord(prefix, actingUser, recipientID, sponsorID, category string, amount core.Money) core.GrantRecord {
	return core.GrantRecord{
		ID:          s.store.GenerateID(prefix),
		RecipientID: strings.TrimSpace(recipientID),
		SponsorID:   sponsorID,
		Category:    strings.TrimSpace(category),
		Amount:      amount,
		Status:      core.StatusOngoing,
		CreatedAt:   s.clock.Now(),
		CreatedBy:   actingUser,
	}
}

// afterCreate counts the grant for risk and announces it. The grant is
// already persisted, so failures here are logged only.
func (s *GrantService) afterCreate(ctx context.Context, actingUser string, g core.Grant) {
	rec := g.Record()
	if err := s.risk.RecordGrant(ctx, actingUser, rec.RecipientID, g.Kind(), rec.Amount, rec.SponsorID, core.MonthOf(rec.CreatedAt)); err != nil {
		s.logger.ErrorContext(ctx, "Failed to count grant for risk",
			applog.FieldGrantID, rec.ID,
			applog.FieldRecipientID, rec.RecipientID,
			applog.FieldError, err)
	}

	s.logger.InfoContext(ctx, "Grant created",
		applog.FieldGrantID, rec.ID,
		applog.FieldGrantKind, string(g.Kind()),
		applog.FieldSponsorID, rec.SponsorID,
		applog.FieldRecipientID, rec.RecipientID,
		applog.FieldActingUser, actingUser,
		applog.FieldAmountCents, rec.Amount.Cents)

	ev := grantEvent(amqp.EventGrantCreated, actingUser, g)
	emit(ctx, s.pub, s.logger, ev)
}

func (s *GrantService) transition(ctx context.Context, actingUser string, g core.Grant, status core.GrantStatus, voidReason string) error {
	rec := g.Record()
	if !status.IsValid() {
		return fmt.Errorf("grant %s: %w: %q", rec.ID, core.ErrInvalidStatus, status)
	}
	if rec.Archived {
		return fmt.Errorf("grant %s: %w", rec.ID, core.ErrGrantArchived)
	}

	// A failed release leaves the grant denied with its markers unset, so
	// denying it again resumes where it stopped.
	resuming := rec.Status == core.StatusDenied && status == core.StatusDenied && releasePending(g)
	if !resuming {
		if rec.Status == status && voidReason == "" {
			return nil
		}
		if rec.Status == core.StatusDenied {
			return fmt.Errorf("grant %s is denied and cannot change status: %w", rec.ID, core.ErrInvalidStatus)
		}
		fields := map[string]any{"status": status}
		if voidReason != "" {
			fields["void_reason"] = voidReason
		}
		if err := s.store.Update(ctx, grantCollection(g), rec.ID, fields); err != nil {
			return fmt.Errorf("update grant status: %w", err)
		}
	}

	if status == core.StatusDenied {
		if err := s.release(ctx, actingUser, g); err != nil {
			return err
		}
	}

	s.logger.InfoContext(ctx, "Grant status changed",
		applog.FieldGrantID, rec.ID,
		applog.FieldGrantKind, string(g.Kind()),
		applog.FieldSponsorID, rec.SponsorID,
		applog.FieldActingUser, actingUser,
		applog.FieldStatus, string(status),
		"previous_status", string(rec.Status))

	typ := amqp.EventGrantStatusChanged
	if voidReason != "" {
		typ = amqp.EventGrantVoided
	}
	ev := grantEvent(typ, actingUser, g)
	ev.Status = string(status)
	emit(ctx, s.pub, s.logger, ev)
	return nil
}

func (s *GrantService) void(ctx context.Context, actingUser string, g core.Grant, reason string) error {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return errors.New("void reason is required")
	}
	if g.Record().Status == core.StatusDenied && !releasePending(g) {
		return fmt.Errorf("grant %s is already denied: %w", g.Record().ID, core.ErrInvalidStatus)
	}
	return s.transition(ctx, actingUser, g, core.StatusDenied, reason)
}

// release returns a denied grant's funds and uncounts it. Gated grants are
// refunded to the month they were created in; pooled usage is derived and
// needs no write. Each step is marked on the grant once done and skipped
// when already marked.
func (s *GrantService) release(ctx context.Context, actingUser string, g core.Grant) error {
	rec := g.Record()
	month := core.MonthOf(rec.CreatedAt)
	collection := grantCollection(g)

	if g.Kind() == core.Gated && !rec.Refunded {
		if err := s.ledger.Refund(ctx, actingUser, rec.SponsorID, rec.Amount, month); err != nil {
			return fmt.Errorf("refund denied grant: %w", err)
		}
		if err := s.store.Update(ctx, collection, rec.ID, map[string]any{"refunded": true}); err != nil {
			s.logger.ErrorContext(ctx, "Refund applied but not marked on grant",
				applog.FieldGrantID, rec.ID,
				applog.FieldSponsorID, rec.SponsorID,
				applog.FieldActingUser, actingUser,
				applog.FieldError, err)
			return fmt.Errorf("mark grant refunded: %w", err)
		}
	}
	if !rec.Uncounted {
		if err := s.risk.ReverseGrant(ctx, actingUser, rec.RecipientID, g.Kind(), rec.Amount, rec.SponsorID, month); err != nil {
			return fmt.Errorf("reverse risk count: %w", err)
		}
		if err := s.store.Update(ctx, collection, rec.ID, map[string]any{"uncounted": true}); err != nil {
			s.logger.ErrorContext(ctx, "Risk count reversed but not marked on grant",
				applog.FieldGrantID, rec.ID,
				applog.FieldRecipientID, rec.RecipientID,
				applog.FieldActingUser, actingUser,
				applog.FieldError, err)
			return fmt.Errorf("mark grant uncounted: %w", err)
		}
	}
	return nil
}

// releasePending reports whether a denied grant still holds funds or a risk
// count.
func releasePending(g core.Grant) bool {
	rec := g.Record()
	if g.Kind() == core.Gated && !rec.Refunded {
		return true
	}
	return !rec.Uncounted
}

func grantCollection(g core.Grant) string {
	if g.Kind() == core.Pooled {
		return storage.PooledGrants
	}
	return storage.GatedGrants
}

func grantEvent(typ amqp.EventType, actingUser string, g core.Grant) *amqp.Event {
	rec := g.Record()
	ev := amqp.NewEvent(typ, rec.SponsorID, actingUser)
	ev.RecipientID = rec.RecipientID
	ev.GrantID = rec.ID
	ev.Kind = string(g.Kind())
	ev.Status = string(rec.Status)
	ev.AmountCents = rec.Amount.Cents
	return ev
}
