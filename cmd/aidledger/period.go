package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"aidledger/internal/core"
)

func newPeriodCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "period",
		Short: "Inspect and adjust monthly budget periods",
	}

	var month string
	show := &cobra.Command{
		Use:   "show SPONSOR_ID",
		Short: "Show a sponsor's period, creating it if needed",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			ym, err := parseMonth(month)
			if err != nil {
				return err
			}
			engine, err := a.engine(ctx)
			if err != nil {
				return err
			}
			p, err := engine.Ledger.GetOrCreatePeriod(ctx, args[0], ym)
			if err != nil {
				return err
			}
			return printPeriods(cmd.OutOrStdout(), p)
		},
	}
	show.Flags().StringVar(&month, "month", "", "Month YYYY-MM (default: current)")

	history := &cobra.Command{
		Use:   "history SPONSOR_ID",
		Short: "List every period of a sponsor, newest first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			engine, err := a.engine(ctx)
			if err != nil {
				return err
			}
			periods, err := engine.Ledger.History(ctx, args[0])
			if err != nil {
				return err
			}
			return printPeriods(cmd.OutOrStdout(), periods...)
		},
	}

	var off bool
	rollover := &cobra.Command{
		Use:   "rollover SPONSOR_ID",
		Short: "Carry this month's leftover into next month",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			engine, err := a.engine(ctx)
			if err != nil {
				return err
			}
			p, err := engine.Ledger.SetRolloverPreference(ctx, a.actingUser, args[0], !off)
			if err != nil {
				return err
			}
			return printPeriods(cmd.OutOrStdout(), p)
		},
	}
	rollover.Flags().BoolVar(&off, "off", false, "Clear the rollover selection instead")

	base := &cobra.Command{
		Use:   "base SPONSOR_ID AMOUNT",
		Short: "Change the sponsor's base allotment from this month on",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			amount, err := core.ParseMoney(args[1])
			if err != nil {
				return err
			}
			engine, err := a.engine(ctx)
			if err != nil {
				return err
			}
			p, err := engine.Ledger.EditBaseBudget(ctx, a.actingUser, args[0], amount)
			if err != nil {
				return err
			}
			return printPeriods(cmd.OutOrStdout(), p)
		},
	}

	cmd.AddCommand(show, history, rollover, base)
	return cmd
}

func printPeriods(w io.Writer, periods ...core.BudgetPeriod) error {
	tw := newTable(w)
	fmt.Fprintln(tw, "MONTH\tBASE\tROLLOVER\tTOTAL\tUSED\tREMAINING\tCARRY")
	for _, p := range periods {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%t\n",
			p.Month, p.BaseBudget, p.RolloverAmount, p.TotalBudget, p.UsedAmount, p.RemainingAmount, p.RolloverSelected)
	}
	return tw.Flush()
}
