package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"aidledger/internal/core"
)

func newSponsorCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sponsor",
		Short: "Register sponsors and manage their terms",
	}

	var base, termStart, termEnd string
	register := &cobra.Command{
		Use:   "register NAME",
		Short: "Register a sponsor in its first term",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			var amount core.Money
			if base != "" {
				m, err := core.ParseMoney(base)
				if err != nil {
					return err
				}
				amount = m
			}
			start, err := parseDate(termStart)
			if err != nil {
				return err
			}
			end, err := parseDate(termEnd)
			if err != nil {
				return err
			}
			engine, err := a.engine(ctx)
			if err != nil {
				return err
			}
			sp, err := engine.Sponsors.Register(ctx, a.actingUser, args[0], amount, start, end)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), sp.ID)
			return nil
		},
	}
	register.Flags().StringVar(&base, "base", "", "Monthly base allotment, e.g. 700.00 (default: configured default)")
	register.Flags().StringVar(&termStart, "term-start", "", "Term start date YYYY-MM-DD")
	register.Flags().StringVar(&termEnd, "term-end", "", "Term end date YYYY-MM-DD")
	_ = register.MarkFlagRequired("term-start")

	list := &cobra.Command{
		Use:   "list",
		Short: "List sponsors",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			engine, err := a.engine(ctx)
			if err != nil {
				return err
			}
			sponsors, err := engine.Sponsors.List(ctx)
			if err != nil {
				return err
			}
			tw := newTable(cmd.OutOrStdout())
			fmt.Fprintln(tw, "ID\tNAME\tBASE\tPOOL\tTERM\tARCHIVE")
			for _, sp := range sponsors {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%s\n",
					sp.ID, sp.Name, sp.BaseBudget, sp.PoolBalance, sp.TermNumber, sp.CurrentArchiveStatus())
			}
			return tw.Flush()
		},
	}

	var newStart, newEnd string
	newTerm := &cobra.Command{
		Use:   "new-term SPONSOR_ID",
		Short: "Start a new term for an archived sponsor",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			start, err := parseDate(newStart)
			if err != nil {
				return err
			}
			end, err := parseDate(newEnd)
			if err != nil {
				return err
			}
			engine, err := a.engine(ctx)
			if err != nil {
				return err
			}
			sp, err := engine.Sponsors.StartNewTerm(ctx, a.actingUser, args[0], start, end)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s now in term %d\n", sp.ID, sp.TermNumber)
			return nil
		},
	}
	newTerm.Flags().StringVar(&newStart, "start", "", "Term start date YYYY-MM-DD")
	newTerm.Flags().StringVar(&newEnd, "end", "", "Term end date YYYY-MM-DD")
	_ = newTerm.MarkFlagRequired("start")

	cmd.AddCommand(register, list, newTerm)
	return cmd
}

func newRecipientCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "recipient",
		Short: "Manage recipients",
	}

	add := &cobra.Command{
		Use:   "add NAME",
		Short: "Find or create a recipient by normalized name",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			engine, err := a.engine(ctx)
			if err != nil {
				return err
			}
			r, created, err := engine.Recipients.Ensure(ctx, a.actingUser, args[0])
			if err != nil {
				return err
			}
			if !created {
				fmt.Fprintf(cmd.ErrOrStderr(), "recipient already exists as %s\n", r.ID)
			}
			fmt.Fprintln(cmd.OutOrStdout(), r.ID)
			return nil
		},
	}

	cmd.AddCommand(add)
	return cmd
}
