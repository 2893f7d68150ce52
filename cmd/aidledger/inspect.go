package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newEligibilityCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "eligibility",
		Short: "Check recipient cooldowns",
	}

	check := &cobra.Command{
		Use:   "check RECIPIENT_ID SPONSOR_ID",
		Short: "Report whether a sponsor may give the recipient a gated grant today",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			engine, err := a.engine(ctx)
			if err != nil {
				return err
			}
			r, err := engine.Eligibility.CheckRestriction(ctx, args[0], args[1])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if !r.Restricted {
				fmt.Fprintln(out, "eligible")
				return nil
			}
			fmt.Fprintf(out, "restricted until %s (%d days), last grant %s on %s\n",
				formatDate(r.EligibleOn), r.DaysRemaining, r.LastGrant.ID, formatDate(&r.LastGrant.CreatedAt))
			return nil
		},
	}

	cmd.AddCommand(check)
	return cmd
}

func newRiskCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "risk",
		Short: "Inspect recipient frequency and cross-sponsor activity",
	}

	var month string
	classify := &cobra.Command{
		Use:   "classify RECIPIENT_ID",
		Short: "Show a recipient's risk tier for a month",
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
			c, err := engine.Risk.ClassifyMonth(ctx, args[0], ym)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s: %s (%d grants: %d gated, %d pooled, %d sponsors)\n",
				c.RecipientID, c.Month, c.Level, c.Total, c.GatedCount, c.PooledCount, c.SponsorCount)
			return nil
		},
	}
	classify.Flags().StringVar(&month, "month", "", "Month YYYY-MM (default: current)")

	var exclude string
	cross := &cobra.Command{
		Use:   "cross RECIPIENT_ID",
		Short: "List every sponsor that has assisted a recipient",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			engine, err := a.engine(ctx)
			if err != nil {
				return err
			}
			info, err := engine.Risk.CrossSponsorInfo(ctx, args[0], exclude)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%d sponsors\n", info.SponsorCount)
			tw := newTable(out)
			fmt.Fprintln(tw, "SPONSOR\tNAME\tGRANTS\tAMOUNT")
			for _, t := range info.PerSponsorTotals {
				fmt.Fprintf(tw, "%s\t%s\t%d\t%s\n", t.SponsorID, t.SponsorName, t.GrantCount, t.Amount)
			}
			return tw.Flush()
		},
	}
	cross.Flags().StringVar(&exclude, "exclude", "", "Sponsor ID to leave out, usually the one asking")

	var flaggedMonth string
	flagged := &cobra.Command{
		Use:   "flagged",
		Short: "List recipients at monitor or high risk",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			ym, err := parseMonth(flaggedMonth)
			if err != nil {
				return err
			}
			engine, err := a.engine(ctx)
			if err != nil {
				return err
			}
			list, err := engine.Risk.FlaggedRecipients(ctx, ym)
			if err != nil {
				return err
			}
			tw := newTable(cmd.OutOrStdout())
			fmt.Fprintln(tw, "RECIPIENT\tLEVEL\tTOTAL\tGATED\tPOOLED\tSPONSORS")
			for _, c := range list {
				fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%d\t%d\n",
					c.RecipientID, c.Level, c.Total, c.GatedCount, c.PooledCount, c.SponsorCount)
			}
			return tw.Flush()
		},
	}
	flagged.Flags().StringVar(&flaggedMonth, "month", "", "Month YYYY-MM (default: current)")

	cmd.AddCommand(classify, cross, flagged)
	return cmd
}
