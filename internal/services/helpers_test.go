package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"aidledger/internal/amqp"
	"aidledger/internal/core"
	"aidledger/internal/storage"
)

var (
	errInjected = errors.New("injected failure")
	testStart   = time.Date(2025, time.March, 10, 12, 0, 0, 0, time.UTC)
	termStart   = time.Date(2025, time.January, 1, 0, 0, 0, 0, time.UTC)
	termEnd     = time.Date(2028, time.December, 31, 0, 0, 0, 0, time.UTC)
)

// faultyStore wraps a store and fails selected writes. It does not implement
// storage.BatchSetter.
type faultyStore struct {
	storage.Store
	mu      sync.Mutex
	failAdd    map[string]bool
	failSet    map[string]bool
	failUpdate map[string]bool
}

func newFaultyStore() *faultyStore {
	return &faultyStore{
		Store:      storage.NewMemoryStore(),
		failAdd:    map[string]bool{},
		failSet:    map[string]bool{},
		failUpdate: map[string]bool{},
	}
}

func (f *faultyStore) Add(ctx context.Context, collection string, doc storage.Document) error {
	f.mu.Lock()
	fail := f.failAdd[collection]
	f.mu.Unlock()
	if fail {
		return errInjected
	}
	return f.Store.Add(ctx, collection, doc)
}

func (f *faultyStore) Set(ctx context.Context, collection string, docs []storage.Document) error {
	f.mu.Lock()
	fail := f.failSet[collection]
	f.mu.Unlock()
	if fail {
		return errInjected
	}
	return f.Store.Set(ctx, collection, docs)
}

func (f *faultyStore) Update(ctx context.Context, collection, id string, fields map[string]any) error {
	f.mu.Lock()
	fail := f.failUpdate[collection]
	f.mu.Unlock()
	if fail {
		return errInjected
	}
	return f.Store.Update(ctx, collection, id, fields)
}

func (f *faultyStore) setFailUpdate(collection string, fail bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failUpdate[collection] = fail
}

func (f *faultyStore) setFail(add bool, collection string, fail bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if add {
		f.failAdd[collection] = fail
	} else {
		f.failSet[collection] = fail
	}
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []*amqp.Event
	err    error
}

func (p *recordingPublisher) PublishEvent(_ context.Context, ev *amqp.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return p.err
}

func (p *recordingPublisher) types() []amqp.EventType {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]amqp.EventType, 0, len(p.events))
	for _, ev := range p.events {
		out = append(out, ev.Type)
	}
	return out
}

type fixture struct {
	ctx    context.Context
	store  storage.Store
	clock  *core.ManualClock
	pub    *recordingPublisher
	engine *Engine
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	return newFixtureWithStore(t, storage.NewMemoryStore())
}

func newFixtureWithStore(t *testing.T, store storage.Store) *fixture {
	t.Helper()
	clock := core.NewManualClock(testStart)
	pub := &recordingPublisher{}
	return &fixture{
		ctx:    context.Background(),
		store:  store,
		clock:  clock,
		pub:    pub,
		engine: New(store, clock, pub, Options{}),
	}
}

func (f *fixture) sponsor(t *testing.T, name string, base int64) core.Sponsor {
	t.Helper()
	sp, err := f.engine.Sponsors.Register(f.ctx, "admin", name, core.Cents(base), termStart, termEnd)
	if err != nil {
		t.Fatalf("Register(%s): %v", name, err)
	}
	return sp
}

func (f *fixture) recipient(t *testing.T, name string) core.Recipient {
	t.Helper()
	rc, _, err := f.engine.Recipients.Ensure(f.ctx, "clerk", name)
	if err != nil {
		t.Fatalf("Ensure(%s): %v", name, err)
	}
	return rc
}

func (f *fixture) gated(t *testing.T, sponsorID, recipientID string, amount int64) core.GatedGrant {
	t.Helper()
	g, err := f.engine.Grants.CreateGatedGrant(f.ctx, "clerk", GatedDraft{
		RecipientID:    recipientID,
		SponsorID:      sponsorID,
		Category:       "medical",
		Amount:         core.Cents(amount),
		CooldownPreset: PresetThreeMonths,
	})
	if err != nil {
		t.Fatalf("CreateGatedGrant: %v", err)
	}
	return g
}

func (f *fixture) pooled(t *testing.T, sponsorID, recipientID string, amount int64) core.PooledGrant {
	t.Helper()
	g, err := f.engine.Grants.CreatePooledGrant(f.ctx, "clerk", PooledDraft{
		RecipientID: recipientID,
		SponsorID:   sponsorID,
		Category:    "burial",
		Amount:      core.Cents(amount),
	})
	if err != nil {
		t.Fatalf("CreatePooledGrant: %v", err)
	}
	return g
}

func (f *fixture) period(t *testing.T, sponsorID string, ym core.YearMonth) core.BudgetPeriod {
	t.Helper()
	p, ok, err := f.engine.Ledger.FindPeriod(f.ctx, sponsorID, ym)
	if err != nil {
		t.Fatalf("FindPeriod: %v", err)
	}
	if !ok {
		t.Fatalf("no period for %s %s", sponsorID, ym)
	}
	if err := p.Check(); err != nil {
		t.Fatalf("conservation broken: %v", err)
	}
	return p
}
