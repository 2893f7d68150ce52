package core

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

const (
	ArchiveNone     ArchiveStatus = "none"
	ArchivePending  ArchiveStatus = "pending"
	ArchiveApproved ArchiveStatus = "approved"
	ArchiveDenied   ArchiveStatus = "denied"
)

const (
	StatusOngoing    GrantStatus = "ongoing"
	StatusSuccessful GrantStatus = "successful"
	StatusDenied     GrantStatus = "denied"
)

const (
	// Gated grants are cooldown-eligible and draw from the monthly ledger.
	Gated GrantKind = "gated"
	// Pooled grants have no cooldown and draw from the sponsor's pool.
	Pooled GrantKind = "pooled"
)

const (
	RiskNormal  RiskLevel = "normal"
	RiskMonitor RiskLevel = "monitor"
	RiskHigh    RiskLevel = "high"
)

type (
	ArchiveStatus string
	GrantStatus   string
	GrantKind     string
	RiskLevel     string

	// Sponsor is a Board Member whose discretionary aid is tracked.
	Sponsor struct {
		ID          string `json:"id"`
		Name        string `json:"name"`
		BaseBudget  Money  `json:"base_budget"`
		PoolBalance Money  `json:"pool_balance"` // mirror of live pool entries, never read for balances

		TermStart  time.Time `json:"term_start"`
		TermEnd    time.Time `json:"term_end"`
		TermNumber int       `json:"term_number"`

		ArchiveStatus      ArchiveStatus `json:"archive_status"`
		ArchiveRequestedAt *time.Time    `json:"archive_requested_at,omitempty"`
		ArchiveRequestedBy string        `json:"archive_requested_by,omitempty"`
		ArchiveDecidedAt   *time.Time    `json:"archive_decided_at,omitempty"`
		ArchiveDecidedBy   string        `json:"archive_decided_by,omitempty"`
		Archived           bool          `json:"archived"`
		ArchivedAt         *time.Time    `json:"archived_at,omitempty"`
		ArchivedBy         string        `json:"archived_by,omitempty"`

		CreatedAt time.Time `json:"created_at"`
	}

	// BudgetPeriod is one sponsor's ledger row for a calendar month.
	BudgetPeriod struct {
		ID               string    `json:"id"`
		SponsorID        string    `json:"sponsor_id"`
		Month            YearMonth `json:"month"`
		BaseBudget       Money     `json:"base_budget"`
		RolloverAmount   Money     `json:"rollover_amount"`
		RolloverSelected bool      `json:"rollover_selected"`
		TotalBudget      Money     `json:"total_budget"`
		UsedAmount       Money     `json:"used_amount"`
		RemainingAmount  Money     `json:"remaining_amount"`
		CreatedAt        time.Time `json:"created_at"`
		UpdatedAt        time.Time `json:"updated_at"`
		UpdatedBy        string    `json:"updated_by,omitempty"`
	}

	// PoolEntry is a single addition to a sponsor's pooled fund.
	PoolEntry struct {
		ID          string     `json:"id"`
		SponsorID   string     `json:"sponsor_id"`
		Amount      Money      `json:"amount"`
		Description string     `json:"description"`
		CreatedBy   string     `json:"created_by"`
		CreatedAt   time.Time  `json:"created_at"`
		Deleted     bool       `json:"deleted"`
		DeletedAt   *time.Time `json:"deleted_at,omitempty"`
		DeletedBy   string     `json:"deleted_by,omitempty"`
	}

	// GrantRecord holds the fields shared by both grant variants.
	GrantRecord struct {
		ID          string      `json:"id"`
		RecipientID string      `json:"recipient_id"`
		SponsorID   string      `json:"sponsor_id"`
		Category    string      `json:"category"`
		Amount      Money       `json:"amount"`
		Status      GrantStatus `json:"status"`
		CreatedAt   time.Time   `json:"created_at"`
		CreatedBy   string      `json:"created_by"`
		VoidReason  string      `json:"void_reason,omitempty"`
		Refunded    bool        `json:"refunded,omitempty"`
		Uncounted   bool        `json:"uncounted,omitempty"`
		Archived    bool        `json:"archived"`
		ArchivedAt  *time.Time  `json:"archived_at,omitempty"`
		ArchivedBy  string      `json:"archived_by,omitempty"`
	}

	GatedGrant struct {
		GrantRecord
		CooldownMonths   int        `json:"cooldown_months"`
		NextEligibleDate *time.Time `json:"next_eligible_date"`
		SkipWaiting      bool       `json:"skip_waiting"`
		SkipReason       string     `json:"skip_reason,omitempty"`
		SkipAcknowledged bool       `json:"skip_acknowledged"`
	}

	PooledGrant struct {
		GrantRecord
	}

	// Recipient is a deduplicated person record.
	Recipient struct {
		ID        string    `json:"id"`
		Name      string    `json:"name"`
		Key       string    `json:"key"`
		CreatedAt time.Time `json:"created_at"`
		CreatedBy string    `json:"created_by"`
	}

	// FrequencyCounter aggregates one recipient's grants for one calendar month
	// across all sponsors.
	FrequencyCounter struct {
		ID          string    `json:"id"`
		RecipientID string    `json:"recipient_id"`
		Month       YearMonth `json:"month"`
		GatedCount  int       `json:"gated_count"`
		PooledCount int       `json:"pooled_count"`
		TotalAmount Money     `json:"total_amount"`
		SponsorIDs  []string  `json:"sponsor_ids"`
	}
)

// Grant is implemented by GatedGrant and PooledGrant.
type Grant interface {
	Kind() GrantKind
	Record() GrantRecord
}

func (GatedGrant) Kind() GrantKind  { return Gated }
func (PooledGrant) Kind() GrantKind { return Pooled }

// Record returns the shared fields of a grant.
func (g GrantRecord) Record() GrantRecord { return g }

// Counts reports whether the grant still consumes funds and frequency.
func (g GrantRecord) Counts() bool { return g.Status != StatusDenied }

func (s ArchiveStatus) IsValid() bool {
	switch s {
	case ArchiveNone, ArchivePending, ArchiveApproved, ArchiveDenied:
		return true
	}
	return false
}

func (s GrantStatus) IsValid() bool {
	switch s {
	case StatusOngoing, StatusSuccessful, StatusDenied:
		return true
	}
	return false
}

func (k GrantKind) IsValid() bool {
	return k == Gated || k == Pooled
}

// CurrentArchiveStatus treats an unset status as none.
func (s Sponsor) CurrentArchiveStatus() ArchiveStatus {
	if s.ArchiveStatus == "" {
		return ArchiveNone
	}
	return s.ArchiveStatus
}

// Check verifies the two ledger identities: used+remaining == total and
// total == base+rollover.
func (p BudgetPeriod) Check() error {
	if p.UsedAmount.Cents+p.RemainingAmount.Cents != p.TotalBudget.Cents {
		return fmt.Errorf("period %s: used %d + remaining %d != total %d",
			p.ID, p.UsedAmount.Cents, p.RemainingAmount.Cents, p.TotalBudget.Cents)
	}
	if p.BaseBudget.Cents+p.RolloverAmount.Cents != p.TotalBudget.Cents {
		return fmt.Errorf("period %s: base %d + rollover %d != total %d",
			p.ID, p.BaseBudget.Cents, p.RolloverAmount.Cents, p.TotalBudget.Cents)
	}
	return nil
}

func (g GrantRecord) Validate() error {
	if strings.TrimSpace(g.RecipientID) == "" {
		return ErrEmptyRecipient
	}
	if strings.TrimSpace(g.SponsorID) == "" {
		return ErrEmptySponsor
	}
	if strings.TrimSpace(g.Category) == "" {
		return ErrEmptyCategory
	}
	if len(g.Category) > 100 {
		return errors.New("category too long (max 100 characters)")
	}
	if err := g.Amount.Validate(); err != nil {
		return err
	}
	if !g.Status.IsValid() {
		return ErrInvalidStatus
	}
	return nil
}

func (g GatedGrant) Validate() error {
	if err := g.GrantRecord.Validate(); err != nil {
		return err
	}
	if g.CooldownMonths <= 0 {
		return ErrInvalidCooldown
	}
	if g.SkipWaiting {
		if g.NextEligibleDate != nil {
			return errors.New("skipped grant cannot carry a next eligible date")
		}
		if strings.TrimSpace(g.SkipReason) == "" {
			return ErrEmptySkipReason
		}
	} else if g.NextEligibleDate == nil {
		return errors.New("next eligible date is required unless the waiting period is skipped")
	}
	return nil
}

func (e PoolEntry) Validate() error {
	if err := e.Amount.Validate(); err != nil {
		return err
	}
	if len(strings.TrimSpace(e.Description)) == 0 {
		return ErrEmptyDescription
	}
	if len(e.Description) > 200 {
		return errors.New("description too long (max 200 characters)")
	}
	return nil
}

// HasSponsor reports whether sponsorID touched the recipient this month.
func (c FrequencyCounter) HasSponsor(sponsorID string) bool {
	for _, id := range c.SponsorIDs {
		if id == sponsorID {
			return true
		}
	}
	return false
}

// Total is the number of grants of both kinds in the counter's month.
func (c FrequencyCounter) Total() int {
	return c.GatedCount + c.PooledCount
}

// NormalizeName builds the dedupe key for recipient names: case-folded with
// runs of whitespace collapsed.
func NormalizeName(name string) string {
	return strings.ToLower(strings.Join(strings.Fields(name), " "))
}
