package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"aidledger/internal/core"
)

func newPoolCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pool",
		Short: "Manage a sponsor's pooled fund",
	}

	var description string
	add := &cobra.Command{
		Use:   "add SPONSOR_ID AMOUNT",
		Short: "Add funds to the pool",
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
			e, err := engine.Pool.AddEntry(ctx, a.actingUser, args[0], amount, description)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), e.ID)
			return nil
		},
	}
	add.Flags().StringVar(&description, "desc", "", "What the funds are from")
	_ = add.MarkFlagRequired("desc")

	remove := &cobra.Command{
		Use:   "remove ENTRY_ID",
		Short: "Remove a pool entry",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			engine, err := a.engine(ctx)
			if err != nil {
				return err
			}
			return engine.Pool.RemoveEntry(ctx, a.actingUser, args[0])
		},
	}

	summary := &cobra.Command{
		Use:   "summary SPONSOR_ID",
		Short: "Show pool total, used and remaining",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			engine, err := a.engine(ctx)
			if err != nil {
				return err
			}
			sum, err := engine.Pool.Summary(ctx, args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "total %s  used %s  remaining %s\n", sum.TotalPool, sum.TotalUsed, sum.Remaining)
			tw := newTable(out)
			fmt.Fprintln(tw, "ENTRY\tAMOUNT\tDESCRIPTION\tBY\tDATE")
			for _, e := range sum.Entries {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
					e.ID, e.Amount, e.Description, e.CreatedBy, formatDate(&e.CreatedAt))
			}
			return tw.Flush()
		},
	}

	cmd.AddCommand(add, remove, summary)
	return cmd
}
