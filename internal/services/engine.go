package services

import (
	"aidledger/internal/cache"
	"aidledger/internal/core"
	"aidledger/internal/storage"
)

// Options tunes the engines. Zero values fall back to defaults.
type Options struct {
	DefaultBaseBudget core.Money
	Thresholds        Thresholds
	Presets           *CooldownPresets
	SponsorNames      cache.Cache[string]
}

// Engine wires every engine over one store and one clock.
type Engine struct {
	Sponsors    *Sponsors
	Recipients  *Recipients
	Ledger      *Ledger
	Pool        *Pool
	Eligibility *Eligibility
	Risk        *Risk
	Archive     *Archiver
	Grants      *GrantService
}

// DefaultBaseBudget is the monthly allotment used when neither the sponsor
// nor the options carry one.
var DefaultBaseBudget = core.Cents(70000)

// New builds the engines. pub may be nil to disable events.
func New(store storage.Store, clock core.Clock, pub EventPublisher, opts Options) *Engine {
	if clock == nil {
		clock = core.SystemClock{}
	}
	if opts.DefaultBaseBudget.Cents <= 0 {
		opts.DefaultBaseBudget = DefaultBaseBudget
	}
	if opts.Thresholds == (Thresholds{}) {
		opts.Thresholds = DefaultThresholds()
	}

	ledger := NewLedger(store, clock, opts.DefaultBaseBudget)
	pool := NewPool(store, clock, pub)
	eligibility := NewEligibility(store, clock, opts.Presets)
	risk := NewRisk(store, clock, opts.Thresholds, opts.SponsorNames)

	return &Engine{
		Sponsors:    NewSponsors(store, clock),
		Recipients:  NewRecipients(store, clock),
		Ledger:      ledger,
		Pool:        pool,
		Eligibility: eligibility,
		Risk:        risk,
		Archive:     NewArchiver(store, clock, pub),
		Grants:      NewGrantService(store, clock, ledger, pool, eligibility, risk, pub),
	}
}
