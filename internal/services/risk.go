package services

import (
	"context"
	"fmt"
	"sort"

	"aidledger/internal/cache"
	"aidledger/internal/core"
	applog "aidledger/internal/log"
	"aidledger/internal/storage"
)

// Thresholds are the monthly grant counts at which a recipient moves into
// the monitor and high tiers.
type Thresholds struct {
	Monitor int `toml:"monitor"`
	High    int `toml:"high"`
}

// DefaultThresholds returns 3 for monitor and 5 for high.
func DefaultThresholds() Thresholds {
	return Thresholds{Monitor: 3, High: 5}
}

// Level classifies a monthly grant count.
func (t Thresholds) Level(total int) core.RiskLevel {
	switch {
	case total >= t.High:
		return core.RiskHigh
	case total >= t.Monitor:
		return core.RiskMonitor
	default:
		return core.RiskNormal
	}
}

func (t Thresholds) Validate() error {
	if t.Monitor <= 0 || t.High <= 0 {
		return fmt.Errorf("risk thresholds must be positive (monitor=%d high=%d)", t.Monitor, t.High)
	}
	if t.Monitor >= t.High {
		return fmt.Errorf("risk monitor threshold %d must be below high threshold %d", t.Monitor, t.High)
	}
	return nil
}

// Risk keeps per-recipient monthly frequency counters across all sponsors.
type Risk struct {
	store      storage.Store
	clock      core.Clock
	thresholds Thresholds
	names      cache.Cache[string]
	logger     *applog.Logger
}

// NewRisk creates the risk engine. names caches sponsor display names for
// CrossSponsorInfo and may be nil.
func NewRisk(store storage.Store, clock core.Clock, thresholds Thresholds, names cache.Cache[string]) *Risk {
	return &Risk{
		store:      store,
		clock:      clock,
		thresholds: thresholds,
		names:      names,
		logger:     applog.ForComponent(applog.ComponentRisk),
	}
}

func (r *Risk) Thresholds() Thresholds { return r.thresholds }

// RecordGrant counts one grant against the recipient's counter for ym.
func (r *Risk) RecordGrant(ctx context.Context, actingUser, recipientID string, kind core.GrantKind, amount core.Money, sponsorID string, ym core.YearMonth) error {
	if !kind.IsValid() {
		return fmt.Errorf("record grant: unknown kind %q", kind)
	}
	c, ok, err := r.findCounter(ctx, recipientID, ym)
	if err != nil {
		return err
	}
	if !ok {
		c = core.FrequencyCounter{
			ID:          r.store.GenerateID("freq"),
			RecipientID: recipientID,
			Month:       ym,
			SponsorIDs:  []string{},
		}
	}

	if kind == core.Gated {
		c.GatedCount++
	} else {
		c.PooledCount++
	}
	c.TotalAmount = c.TotalAmount.Add(amount)
	if !c.HasSponsor(sponsorID) {
		c.SponsorIDs = append(c.SponsorIDs, sponsorID)
	}

	if !ok {
		if err := storage.Insert(ctx, r.store, storage.Frequency, c); err != nil {
			return fmt.Errorf("record grant: %w", err)
		}
	} else if err := r.saveCounter(ctx, c); err != nil {
		return fmt.Errorf("record grant: %w", err)
	}

	r.logger.DebugContext(ctx, "Grant counted",
		applog.FieldRecipientID, recipientID,
		applog.FieldSponsorID, sponsorID,
		applog.FieldActingUser, actingUser,
		applog.FieldGrantKind, string(kind),
		applog.FieldYearMonth, ym.String(),
		"month_total", c.Total())
	return nil
}

// ReverseGrant undoes RecordGrant. Counts and amount are floored at zero. The
// sponsor leaves the month's sponsor set only when no counted grant from that
// sponsor to the recipient remains in the month.
func (r *Risk) ReverseGrant(ctx context.Context, actingUser, recipientID string, kind core.GrantKind, amount core.Money, sponsorID string, ym core.YearMonth) error {
	c, ok, err := r.findCounter(ctx, recipientID, ym)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}

	if kind == core.Gated {
		c.GatedCount = max(c.GatedCount-1, 0)
	} else {
		c.PooledCount = max(c.PooledCount-1, 0)
	}
	c.TotalAmount = c.TotalAmount.Sub(amount)
	if c.TotalAmount.IsNegative() {
		c.TotalAmount = core.Money{}
	}

	still, err := r.sponsorStillCounted(ctx, recipientID, sponsorID, ym)
	if err != nil {
		return err
	}
	if !still {
		kept := make([]string, 0, len(c.SponsorIDs))
		for _, id := range c.SponsorIDs {
			if id != sponsorID {
				kept = append(kept, id)
			}
		}
		c.SponsorIDs = kept
	}

	if err := r.saveCounter(ctx, c); err != nil {
		return fmt.Errorf("reverse grant: %w", err)
	}
	r.logger.DebugContext(ctx, "Grant count reversed",
		applog.FieldRecipientID, recipientID,
		applog.FieldSponsorID, sponsorID,
		applog.FieldActingUser, actingUser,
		applog.FieldGrantKind, string(kind),
		applog.FieldYearMonth, ym.String(),
		"month_total", c.Total())
	return nil
}

// Classify reports the recipient's tier for the current month only.
func (r *Risk) Classify(ctx context.Context, recipientID string) (core.Classification, error) {
	return r.ClassifyMonth(ctx, recipientID, core.MonthOf(r.clock.Now()))
}

func (r *Risk) ClassifyMonth(ctx context.Context, recipientID string, ym core.YearMonth) (core.Classification, error) {
	c, _, err := r.findCounter(ctx, recipientID, ym)
	if err != nil {
		return core.Classification{}, err
	}
	return r.classification(recipientID, ym, c), nil
}

// FlaggedRecipients lists recipients at monitor or above for ym, highest
// count first.
func (r *Risk) FlaggedRecipients(ctx context.Context, ym core.YearMonth) ([]core.Classification, error) {
	counters, err := storage.All[core.FrequencyCounter](ctx, r.store, storage.Frequency)
	if err != nil {
		return nil, err
	}
	var out []core.Classification
	for _, c := range counters {
		if c.Month != ym {
			continue
		}
		cl := r.classification(c.RecipientID, ym, c)
		if cl.Level != core.RiskNormal {
			out = append(out, cl)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Total == out[j].Total {
			return out[i].RecipientID < out[j].RecipientID
		}
		return out[i].Total > out[j].Total
	})
	return out, nil
}

// CrossSponsorInfo aggregates every non-denied grant ever made to the
// recipient, archived ones included, grouped by sponsor. excluding may be
// empty. Totals are sorted by amount, largest first.
func (r *Risk) CrossSponsorInfo(ctx context.Context, recipientID, excluding string) (core.CrossSponsorInfo, error) {
	gated, err := storage.All[core.GatedGrant](ctx, r.store, storage.GatedGrants)
	if err != nil {
		return core.CrossSponsorInfo{}, err
	}
	pooled, err := storage.All[core.PooledGrant](ctx, r.store, storage.PooledGrants)
	if err != nil {
		return core.CrossSponsorInfo{}, err
	}

	records := make([]core.GrantRecord, 0, len(gated)+len(pooled))
	for _, g := range gated {
		records = append(records, g.GrantRecord)
	}
	for _, g := range pooled {
		records = append(records, g.GrantRecord)
	}

	totals := map[string]*core.SponsorTotal{}
	for _, g := range records {
		if g.RecipientID != recipientID || !g.Counts() {
			continue
		}
		if excluding != "" && g.SponsorID == excluding {
			continue
		}
		t, ok := totals[g.SponsorID]
		if !ok {
			t = &core.SponsorTotal{SponsorID: g.SponsorID}
			totals[g.SponsorID] = t
		}
		t.GrantCount++
		t.Amount = t.Amount.Add(g.Amount)
	}

	info := core.CrossSponsorInfo{RecipientID: recipientID, SponsorCount: len(totals)}
	for _, t := range totals {
		name, err := r.sponsorName(ctx, t.SponsorID)
		if err != nil {
			return core.CrossSponsorInfo{}, err
		}
		t.SponsorName = name
		info.PerSponsorTotals = append(info.PerSponsorTotals, *t)
	}
	sort.Slice(info.PerSponsorTotals, func(i, j int) bool {
		a, b := info.PerSponsorTotals[i], info.PerSponsorTotals[j]
		if a.Amount.Cents == b.Amount.Cents {
			return a.SponsorID < b.SponsorID
		}
		return a.Amount.Cents > b.Amount.Cents
	})
	for _, t := range info.PerSponsorTotals {
		info.SponsorNames = append(info.SponsorNames, t.SponsorName)
	}
	return info, nil
}

func (r *Risk) classification(recipientID string, ym core.YearMonth, c core.FrequencyCounter) core.Classification {
	total := c.Total()
	return core.Classification{
		RecipientID:  recipientID,
		Month:        ym,
		Level:        r.thresholds.Level(total),
		Total:        total,
		GatedCount:   c.GatedCount,
		PooledCount:  c.PooledCount,
		SponsorCount: len(c.SponsorIDs),
	}
}

func (r *Risk) findCounter(ctx context.Context, recipientID string, ym core.YearMonth) (core.FrequencyCounter, bool, error) {
	counters, err := storage.All[core.FrequencyCounter](ctx, r.store, storage.Frequency)
	if err != nil {
		return core.FrequencyCounter{}, false, err
	}
	for _, c := range counters {
		if c.RecipientID == recipientID && c.Month == ym {
			return c, true, nil
		}
	}
	return core.FrequencyCounter{}, false, nil
}

func (r *Risk) saveCounter(ctx context.Context, c core.FrequencyCounter) error {
	return r.store.Update(ctx, storage.Frequency, c.ID, map[string]any{
		"gated_count":  c.GatedCount,
		"pooled_count": c.PooledCount,
		"total_amount": c.TotalAmount,
		"sponsor_ids":  c.SponsorIDs,
	})
}

// sponsorStillCounted runs after the reversed grant has been marked denied,
// so only the remaining grants are seen.
func (r *Risk) sponsorStillCounted(ctx context.Context, recipientID, sponsorID string, ym core.YearMonth) (bool, error) {
	match := func(g core.GrantRecord) bool {
		return g.RecipientID == recipientID && g.SponsorID == sponsorID &&
			g.Counts() && core.MonthOf(g.CreatedAt) == ym
	}
	gated, err := storage.All[core.GatedGrant](ctx, r.store, storage.GatedGrants)
	if err != nil {
		return false, err
	}
	for _, g := range gated {
		if match(g.GrantRecord) {
			return true, nil
		}
	}
	pooled, err := storage.All[core.PooledGrant](ctx, r.store, storage.PooledGrants)
	if err != nil {
		return false, err
	}
	for _, g := range pooled {
		if match(g.GrantRecord) {
			return true, nil
		}
	}
	return false, nil
}

func (r *Risk) sponsorName(ctx context.Context, sponsorID string) (string, error) {
	load := func() (string, error) {
		s, err := loadSponsor(ctx, r.store, sponsorID)
		if err != nil {
			return "", err
		}
		return s.Name, nil
	}
	if r.names == nil {
		return load()
	}
	return r.names.GetOrLoad(sponsorID, load)
}
