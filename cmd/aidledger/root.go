package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"aidledger/internal/amqp"
	"aidledger/internal/backend"
	"aidledger/internal/cli"
	"aidledger/internal/config"
	"aidledger/internal/core"
	applog "aidledger/internal/log"
	"aidledger/internal/services"
)

// app holds what every subcommand needs. It is opened lazily so commands that
// never touch the store (policy init) do not create one.
type app struct {
	actingUser string

	cfg    *config.Config
	logger *applog.Logger
	store  *backend.BackendResult
	client *amqp.Client
	deps   *cli.EngineDeps
}

func newRootCmd() *cobra.Command {
	a := &app{}

	root := &cobra.Command{
		Use:           "aidledger",
		Short:         "Discretionary aid allocation ledger",
		Long:          "Track sponsor budgets, pooled funds, gated and pooled grants, recipient cooldowns and risk.",
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cli.LoadEnvFile()
			cfg, err := cli.LoadAndValidateConfig()
			if err != nil {
				return err
			}
			a.cfg = cfg
			a.logger = cli.SetupLogger(cfg)
			return nil
		},
		PersistentPostRunE: func(cmd *cobra.Command, _ []string) error {
			return a.close()
		},
	}

	defaultUser := os.Getenv("USER")
	if defaultUser == "" {
		defaultUser = "operator"
	}
	root.PersistentFlags().StringVar(&a.actingUser, "as", defaultUser, "Acting user recorded on every change")

	root.AddCommand(
		newSponsorCmd(a),
		newRecipientCmd(a),
		newPeriodCmd(a),
		newPoolCmd(a),
		newGrantCmd(a),
		newEligibilityCmd(a),
		newRiskCmd(a),
		newArchiveCmd(a),
		newPolicyCmd(a),
	)
	return root
}

// engine opens the store and builds the engines on first use.
func (a *app) engine(ctx context.Context) (*services.Engine, error) {
	if a.deps != nil {
		return a.deps.Engine, nil
	}
	store, err := cli.OpenStore(ctx, a.cfg)
	if err != nil {
		return nil, err
	}
	a.store = store

	client, err := cli.ConnectAMQP(ctx, a.cfg)
	if err != nil {
		// Events are best effort; the ledger still works without a broker.
		a.logger.WarnContext(ctx, "AMQP unavailable, events disabled", applog.FieldError, err)
		client = nil
	}
	a.client = client

	deps, err := cli.BuildEngine(a.cfg, store, client, core.SystemClock{})
	if err != nil {
		return nil, err
	}
	a.deps = deps
	return deps.Engine, nil
}

func (a *app) close() error {
	var firstErr error
	if a.deps != nil {
		a.deps.Caches.Stop()
	}
	if a.client != nil {
		if err := a.client.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	a.deps, a.client, a.store = nil, nil, nil
	return firstErr
}

func newTable(w io.Writer) *tabwriter.Writer {
	return tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
}

func parseDate(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.DateOnly, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q, expected YYYY-MM-DD", s)
	}
	return t, nil
}

// parseMonth defaults to the current month when s is empty.
func parseMonth(s string) (core.YearMonth, error) {
	if s == "" {
		return core.MonthOf(time.Now().UTC()), nil
	}
	return core.ParseYearMonth(s)
}

func formatDate(t *time.Time) string {
	if t == nil || t.IsZero() {
		return "-"
	}
	return t.Format(time.DateOnly)
}
