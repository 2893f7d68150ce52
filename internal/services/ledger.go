package services

import (
	"context"
	"fmt"
	"sort"

	"aidledger/internal/core"
	applog "aidledger/internal/log"
	"aidledger/internal/storage"
)

// Ledger owns the monthly budget period of each sponsor. Balances are stored
// on the period row and every mutation keeps used+remaining == total.
type Ledger struct {
	store       storage.Store
	clock       core.Clock
	defaultBase core.Money
	logger      *applog.Logger
}

// NewLedger creates a ledger. defaultBase is used for sponsors that carry no
// base allotment of their own.
func NewLedger(store storage.Store, clock core.Clock, defaultBase core.Money) *Ledger {
	return &Ledger{
		store:       store,
		clock:       clock,
		defaultBase: defaultBase,
		logger:      applog.ForComponent(applog.ComponentLedger),
	}
}

// CurrentMonth is the calendar month of the ledger clock.
func (l *Ledger) CurrentMonth() core.YearMonth {
	return core.MonthOf(l.clock.Now())
}

// FindPeriod looks up a sponsor's period for a month without creating it.
func (l *Ledger) FindPeriod(ctx context.Context, sponsorID string, ym core.YearMonth) (core.BudgetPeriod, bool, error) {
	periods, err := storage.All[core.BudgetPeriod](ctx, l.store, storage.Periods)
	if err != nil {
		return core.BudgetPeriod{}, false, err
	}
	for _, p := range periods {
		if p.SponsorID == sponsorID && p.Month == ym {
			return p, true, nil
		}
	}
	return core.BudgetPeriod{}, false, nil
}

// GetOrCreatePeriod returns the sponsor's period for ym, creating it on first
// access. Creation is a write: the new row is persisted before returning.
//
// The rollover of a new period is the remaining amount of the immediately
// preceding month's period as it stands right now, and only when that period
// has rollover selected.
func (l *Ledger) GetOrCreatePeriod(ctx context.Context, sponsorID string, ym core.YearMonth) (core.BudgetPeriod, error) {
	if err := ym.Validate(); err != nil {
		return core.BudgetPeriod{}, err
	}
	if p, ok, err := l.FindPeriod(ctx, sponsorID, ym); err != nil || ok {
		return p, err
	}

	sponsor, err := loadSponsor(ctx, l.store, sponsorID)
	if err != nil {
		return core.BudgetPeriod{}, err
	}
	base := sponsor.BaseBudget
	if base.Cents <= 0 {
		base = l.defaultBase
	}

	var rollover core.Money
	prev, ok, err := l.FindPeriod(ctx, sponsorID, ym.Prev())
	if err != nil {
		return core.BudgetPeriod{}, err
	}
	if ok && prev.RolloverSelected && prev.RemainingAmount.Cents > 0 {
		rollover = prev.RemainingAmount
	}

	now := l.clock.Now()
	total := base.Add(rollover)
	p := core.BudgetPeriod{
		ID:               l.store.GenerateID("period"),
		SponsorID:        sponsorID,
		Month:            ym,
		BaseBudget:       base,
		RolloverAmount:   rollover,
		RolloverSelected: false,
		TotalBudget:      total,
		UsedAmount:       core.Money{},
		RemainingAmount:  total,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := storage.Insert(ctx, l.store, storage.Periods, p); err != nil {
		return core.BudgetPeriod{}, fmt.Errorf("create budget period: %w", err)
	}

	l.logger.InfoContext(ctx, "Budget period created",
		applog.FieldSponsorID, sponsorID,
		applog.FieldPeriodID, p.ID,
		applog.FieldYearMonth, ym.String(),
		"base_cents", base.Cents,
		"rollover_cents", rollover.Cents)
	return p, nil
}

// CurrentPeriod is GetOrCreatePeriod for the clock's month.
func (l *Ledger) CurrentPeriod(ctx context.Context, sponsorID string) (core.BudgetPeriod, error) {
	return l.GetOrCreatePeriod(ctx, sponsorID, l.CurrentMonth())
}

// Deduct reserves amount from the current period. When amount exceeds the
// remaining balance it returns *core.InsufficientBudgetError and leaves the
// period untouched.
func (l *Ledger) Deduct(ctx context.Context, actingUser, sponsorID string, amount core.Money) (core.BudgetPeriod, error) {
	if err := amount.Validate(); err != nil {
		return core.BudgetPeriod{}, err
	}
	p, err := l.CurrentPeriod(ctx, sponsorID)
	if err != nil {
		return core.BudgetPeriod{}, err
	}
	if amount.Cents > p.RemainingAmount.Cents {
		l.logger.WarnContext(ctx, "Deduction exceeds remaining budget",
			applog.FieldSponsorID, sponsorID,
			applog.FieldYearMonth, p.Month.String(),
			applog.FieldAmountCents, amount.Cents,
			"remaining_cents", p.RemainingAmount.Cents)
		return p, &core.InsufficientBudgetError{
			SponsorID: sponsorID,
			Month:     p.Month,
			Requested: amount,
			Remaining: p.RemainingAmount,
		}
	}

	p.UsedAmount = p.UsedAmount.Add(amount)
	p.RemainingAmount = p.RemainingAmount.Sub(amount)
	if err := l.saveBalances(ctx, actingUser, &p); err != nil {
		return core.BudgetPeriod{}, fmt.Errorf("deduct: %w", err)
	}

	l.logger.InfoContext(ctx, "Budget deducted",
		applog.FieldSponsorID, sponsorID,
		applog.FieldActingUser, actingUser,
		applog.FieldYearMonth, p.Month.String(),
		applog.FieldAmountCents, amount.Cents,
		"remaining_cents", p.RemainingAmount.Cents)
	return p, nil
}

// Refund releases amount back into the period of month ym, which is the month
// the original grant drew from. A missing period is a silent no-op. Used never
// drops below zero; only the amount actually released is returned to
// remaining so the period stays balanced.
func (l *Ledger) Refund(ctx context.Context, actingUser, sponsorID string, amount core.Money, ym core.YearMonth) error {
	if err := amount.Validate(); err != nil {
		return err
	}
	p, ok, err := l.FindPeriod(ctx, sponsorID, ym)
	if err != nil {
		return err
	}
	if !ok {
		l.logger.DebugContext(ctx, "Refund skipped, no period for month",
			applog.FieldSponsorID, sponsorID,
			applog.FieldYearMonth, ym.String(),
			applog.FieldAmountCents, amount.Cents)
		return nil
	}

	released := amount
	if released.Cents > p.UsedAmount.Cents {
		released = p.UsedAmount
	}
	p.UsedAmount = p.UsedAmount.Sub(released)
	p.RemainingAmount = p.RemainingAmount.Add(released)
	if err := l.saveBalances(ctx, actingUser, &p); err != nil {
		return fmt.Errorf("refund: %w", err)
	}

	l.logger.InfoContext(ctx, "Budget refunded",
		applog.FieldSponsorID, sponsorID,
		applog.FieldActingUser, actingUser,
		applog.FieldYearMonth, ym.String(),
		applog.FieldAmountCents, amount.Cents,
		"released_cents", released.Cents)
	return nil
}

// SetRolloverPreference flags whether the current period's leftover carries
// into the next month. It only affects the next period's creation.
func (l *Ledger) SetRolloverPreference(ctx context.Context, actingUser, sponsorID string, selected bool) (core.BudgetPeriod, error) {
	p, err := l.CurrentPeriod(ctx, sponsorID)
	if err != nil {
		return core.BudgetPeriod{}, err
	}
	p.RolloverSelected = selected
	p.UpdatedAt = l.clock.Now()
	p.UpdatedBy = actingUser
	if err := l.store.Update(ctx, storage.Periods, p.ID, map[string]any{
		"rollover_selected": selected,
		"updated_at":        p.UpdatedAt,
		"updated_by":        actingUser,
	}); err != nil {
		return core.BudgetPeriod{}, fmt.Errorf("set rollover preference: %w", err)
	}

	l.logger.InfoContext(ctx, "Rollover preference changed",
		applog.FieldSponsorID, sponsorID,
		applog.FieldActingUser, actingUser,
		applog.FieldYearMonth, p.Month.String(),
		"selected", selected)
	return p, nil
}

// EditBaseBudget changes the base of the current period, moving total and
// remaining by the same delta, and stores newBase as the sponsor's standing
// allotment for months not yet created. Remaining may go negative when the
// base drops below what was already used.
func (l *Ledger) EditBaseBudget(ctx context.Context, actingUser, sponsorID string, newBase core.Money) (core.BudgetPeriod, error) {
	if err := newBase.Validate(); err != nil {
		return core.BudgetPeriod{}, err
	}
	p, err := l.CurrentPeriod(ctx, sponsorID)
	if err != nil {
		return core.BudgetPeriod{}, err
	}

	delta := newBase.Sub(p.BaseBudget)
	p.BaseBudget = newBase
	p.TotalBudget = p.TotalBudget.Add(delta)
	p.RemainingAmount = p.RemainingAmount.Add(delta)
	p.UpdatedAt = l.clock.Now()
	p.UpdatedBy = actingUser
	if err := l.store.Update(ctx, storage.Periods, p.ID, map[string]any{
		"base_budget":      p.BaseBudget,
		"total_budget":     p.TotalBudget,
		"remaining_amount": p.RemainingAmount,
		"updated_at":       p.UpdatedAt,
		"updated_by":       actingUser,
	}); err != nil {
		return core.BudgetPeriod{}, fmt.Errorf("edit base budget: %w", err)
	}
	if err := l.store.Update(ctx, storage.Sponsors, sponsorID, map[string]any{
		"base_budget": newBase,
	}); err != nil {
		return core.BudgetPeriod{}, fmt.Errorf("edit sponsor base budget: %w", err)
	}

	l.logger.InfoContext(ctx, "Base budget edited",
		applog.FieldSponsorID, sponsorID,
		applog.FieldActingUser, actingUser,
		applog.FieldYearMonth, p.Month.String(),
		"new_base_cents", newBase.Cents,
		"delta_cents", delta.Cents)
	return p, nil
}

// History lists every period of a sponsor, newest month first.
func (l *Ledger) History(ctx context.Context, sponsorID string) ([]core.BudgetPeriod, error) {
	periods, err := storage.All[core.BudgetPeriod](ctx, l.store, storage.Periods)
	if err != nil {
		return nil, err
	}
	var out []core.BudgetPeriod
	for _, p := range periods {
		if p.SponsorID == sponsorID {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Month.Start().After(out[j].Month.Start())
	})
	return out, nil
}

func (l *Ledger) saveBalances(ctx context.Context, actingUser string, p *core.BudgetPeriod) error {
	p.UpdatedAt = l.clock.Now()
	p.UpdatedBy = actingUser
	return l.store.Update(ctx, storage.Periods, p.ID, map[string]any{
		"used_amount":      p.UsedAmount,
		"remaining_amount": p.RemainingAmount,
		"updated_at":       p.UpdatedAt,
		"updated_by":       actingUser,
	})
}
