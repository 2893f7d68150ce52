package worker

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"aidledger/internal/amqp"
	"aidledger/internal/core"
	applog "aidledger/internal/log"
	"aidledger/internal/metrics"
)

// FlaggedSource lists recipients at monitor or high risk for a month.
type FlaggedSource interface {
	FlaggedRecipients(ctx context.Context, ym core.YearMonth) ([]core.Classification, error)
}

// PendingSource lists sponsors awaiting an archive decision.
type PendingSource interface {
	PendingArchives(ctx context.Context) ([]core.Sponsor, error)
}

// EventWorker turns published allocation events into Prometheus series and
// periodically recomputes the gauges that events alone cannot keep exact.
type EventWorker struct {
	metrics *metrics.Metrics
	flagged FlaggedSource
	pending PendingSource
	clock   core.Clock
	logger  *applog.Logger
}

func NewEventWorker(m *metrics.Metrics, flagged FlaggedSource, pending PendingSource, clock core.Clock) *EventWorker {
	if clock == nil {
		clock = core.SystemClock{}
	}
	return &EventWorker{
		metrics: m,
		flagged: flagged,
		pending: pending,
		clock:   clock,
		logger:  applog.ForComponent(applog.ComponentWorker),
	}
}

// HandleEvent processes a single event from AMQP. Unknown types are logged
// and acknowledged so a newer publisher never wedges the queue.
func (w *EventWorker) HandleEvent(ctx context.Context, ev *amqp.Event) error {
	if ev == nil {
		return fmt.Errorf("nil event")
	}

	w.logger.DebugContext(ctx, "Processing event",
		"type", string(ev.Type),
		applog.FieldSponsorID, ev.SponsorID,
		applog.FieldGrantID, ev.GrantID)

	m := w.metrics
	switch ev.Type {
	case amqp.EventGrantCreated:
		m.GrantsCreated.WithLabelValues(ev.Kind).Inc()
		m.GrantAmount.WithLabelValues(ev.Kind).Observe(float64(ev.AmountCents))
	case amqp.EventGrantStatusChanged:
		m.GrantStatusChanges.WithLabelValues(ev.Kind, ev.Status).Inc()
	case amqp.EventGrantVoided:
		m.GrantsVoided.WithLabelValues(ev.Kind).Inc()
	case amqp.EventArchiveRequested:
		m.ArchiveEvents.WithLabelValues("requested").Inc()
		m.PendingArchives.Inc()
	case amqp.EventArchiveApproved:
		m.ArchiveEvents.WithLabelValues("approved").Inc()
		m.PendingArchives.Dec()
	case amqp.EventArchiveDenied:
		m.ArchiveEvents.WithLabelValues("denied").Inc()
		m.PendingArchives.Dec()
	case amqp.EventPoolEntryAdded:
		m.PoolEntries.WithLabelValues("added").Inc()
		m.PoolAmount.WithLabelValues("added").Add(float64(ev.AmountCents))
	case amqp.EventPoolEntryRemoved:
		m.PoolEntries.WithLabelValues("removed").Inc()
		m.PoolAmount.WithLabelValues("removed").Add(float64(ev.AmountCents))
	default:
		w.logger.WarnContext(ctx, "Ignoring unknown event type", "type", string(ev.Type))
		return nil
	}

	m.EventsHandled.WithLabelValues(string(ev.Type)).Inc()
	return nil
}

// Refresh recomputes the flagged-recipient and pending-archive gauges from
// the store.
func (w *EventWorker) Refresh(ctx context.Context) error {
	ym := core.MonthOf(w.clock.Now())

	flagged, err := w.flagged.FlaggedRecipients(ctx, ym)
	if err != nil {
		w.metrics.RefreshErrors.Inc()
		return fmt.Errorf("list flagged recipients: %w", err)
	}
	counts := map[core.RiskLevel]int{core.RiskMonitor: 0, core.RiskHigh: 0}
	for _, c := range flagged {
		counts[c.Level]++
	}
	for level, n := range counts {
		w.metrics.FlaggedRecipients.WithLabelValues(string(level)).Set(float64(n))
	}

	pending, err := w.pending.PendingArchives(ctx)
	if err != nil {
		w.metrics.RefreshErrors.Inc()
		return fmt.Errorf("list pending archives: %w", err)
	}
	w.metrics.PendingArchives.Set(float64(len(pending)))

	w.logger.DebugContext(ctx, "Gauges refreshed",
		applog.FieldYearMonth, ym.String(),
		"monitor", strconv.Itoa(counts[core.RiskMonitor]),
		"high", strconv.Itoa(counts[core.RiskHigh]),
		"pending_archives", len(pending))
	return nil
}

// StartupCheck runs a first refresh so gauges are populated before any event
// arrives.
func (w *EventWorker) StartupCheck(ctx context.Context) error {
	if err := w.Refresh(ctx); err != nil {
		return err
	}
	w.logger.InfoContext(ctx, "Startup refresh complete", applog.FieldOperation, applog.OpStartup)
	return nil
}

// RunRefreshLoop refreshes the gauges every interval until ctx is done.
// Individual failures are logged and retried on the next tick.
func (w *EventWorker) RunRefreshLoop(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := w.Refresh(ctx); err != nil {
				w.logger.ErrorContext(ctx, "Gauge refresh failed", applog.FieldError, err)
			}
		}
	}
}
