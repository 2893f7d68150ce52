package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"aidledger/internal/core"
	"aidledger/internal/services"
)

type grantFlags struct {
	sponsor   string
	recipient string
	category  string
	amount    string
}

func (f *grantFlags) bind(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.sponsor, "sponsor", "", "Sponsor ID")
	cmd.Flags().StringVar(&f.recipient, "recipient", "", "Recipient ID")
	cmd.Flags().StringVar(&f.category, "category", "", "Assistance category")
	cmd.Flags().StringVar(&f.amount, "amount", "", "Amount, e.g. 150.00")
	for _, name := range []string{"sponsor", "recipient", "category", "amount"} {
		_ = cmd.MarkFlagRequired(name)
	}
}

func newGrantCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "grant",
		Short: "Create and manage grants",
	}

	var (
		gf           grantFlags
		preset       string
		months       int
		skip         bool
		skipReason   string
		acknowledged bool
	)
	gated := &cobra.Command{
		Use:   "gated",
		Short: "Create a cooldown-gated grant from the monthly budget",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			amount, err := core.ParseMoney(gf.amount)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("months") && !cmd.Flags().Changed("cooldown") {
				preset = ""
			}
			engine, err := a.engine(ctx)
			if err != nil {
				return err
			}
			g, err := engine.Grants.CreateGatedGrant(ctx, a.actingUser, services.GatedDraft{
				RecipientID:      gf.recipient,
				SponsorID:        gf.sponsor,
				Category:         gf.category,
				Amount:           amount,
				CooldownPreset:   preset,
				CooldownMonths:   months,
				Skip:             skip,
				SkipReason:       skipReason,
				SkipAcknowledged: acknowledged,
			})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s next eligible %s\n", g.ID, formatDate(g.NextEligibleDate))
			return nil
		},
	}
	gf.bind(gated)
	gated.Flags().StringVar(&preset, "cooldown", services.PresetThreeMonths, "Cooldown preset name")
	gated.Flags().IntVar(&months, "months", 0, "Custom cooldown in months; a preset given with --cooldown wins")
	gated.Flags().BoolVar(&skip, "skip-waiting", false, "Bypass the recipient's cooldown")
	gated.Flags().StringVar(&skipReason, "skip-reason", "", "Why the cooldown is bypassed")
	gated.Flags().BoolVar(&acknowledged, "ack", false, "Acknowledge the bypass")

	var pf grantFlags
	pooled := &cobra.Command{
		Use:   "pooled",
		Short: "Create a grant from the sponsor's pooled fund",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			amount, err := core.ParseMoney(pf.amount)
			if err != nil {
				return err
			}
			engine, err := a.engine(ctx)
			if err != nil {
				return err
			}
			g, err := engine.Grants.CreatePooledGrant(ctx, a.actingUser, services.PooledDraft{
				RecipientID: pf.recipient,
				SponsorID:   pf.sponsor,
				Category:    pf.category,
				Amount:      amount,
			})
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), g.ID)
			return nil
		},
	}
	pf.bind(pooled)

	status := &cobra.Command{
		Use:   "status KIND GRANT_ID STATUS",
		Short: "Move a grant to ongoing, successful or denied",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			kind, err := parseKind(args[0])
			if err != nil {
				return err
			}
			st := core.GrantStatus(args[2])
			engine, err := a.engine(ctx)
			if err != nil {
				return err
			}
			if kind == core.Gated {
				_, err = engine.Grants.SetGatedStatus(ctx, a.actingUser, args[1], st)
			} else {
				_, err = engine.Grants.SetPooledStatus(ctx, a.actingUser, args[1], st)
			}
			return err
		},
	}

	var reason string
	void := &cobra.Command{
		Use:   "void KIND GRANT_ID",
		Short: "Void a grant, releasing its funds",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			kind, err := parseKind(args[0])
			if err != nil {
				return err
			}
			engine, err := a.engine(ctx)
			if err != nil {
				return err
			}
			if kind == core.Gated {
				_, err = engine.Grants.VoidGatedGrant(ctx, a.actingUser, args[1], reason)
			} else {
				_, err = engine.Grants.VoidPooledGrant(ctx, a.actingUser, args[1], reason)
			}
			return err
		},
	}
	void.Flags().StringVar(&reason, "reason", "", "Why the grant is voided")
	_ = void.MarkFlagRequired("reason")

	var listSponsor, listRecipient string
	list := &cobra.Command{
		Use:   "list",
		Short: "List grants for a sponsor or a recipient",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			engine, err := a.engine(ctx)
			if err != nil {
				return err
			}
			var grants []core.Grant
			if listRecipient != "" {
				grants, err = engine.Grants.ForRecipient(ctx, listRecipient)
				if err != nil {
					return err
				}
			} else {
				gated, err := engine.Grants.ListGated(ctx, listSponsor)
				if err != nil {
					return err
				}
				pooled, err := engine.Grants.ListPooled(ctx, listSponsor)
				if err != nil {
					return err
				}
				for _, g := range gated {
					grants = append(grants, g)
				}
				for _, g := range pooled {
					grants = append(grants, g)
				}
			}
			return printGrants(cmd.OutOrStdout(), grants)
		},
	}
	list.Flags().StringVar(&listSponsor, "sponsor", "", "Only grants from this sponsor")
	list.Flags().StringVar(&listRecipient, "recipient", "", "Only grants to this recipient, across sponsors")

	cmd.AddCommand(gated, pooled, status, void, list)
	return cmd
}

func parseKind(s string) (core.GrantKind, error) {
	k := core.GrantKind(s)
	if !k.IsValid() {
		return "", fmt.Errorf("unknown grant kind %q, expected gated or pooled", s)
	}
	return k, nil
}

func printGrants(w io.Writer, grants []core.Grant) error {
	tw := newTable(w)
	fmt.Fprintln(tw, "ID\tKIND\tSPONSOR\tRECIPIENT\tCATEGORY\tAMOUNT\tSTATUS\tDATE\tARCHIVED")
	for _, g := range grants {
		r := g.Record()
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\t%t\n",
			r.ID, g.Kind(), r.SponsorID, r.RecipientID, r.Category, r.Amount, r.Status, formatDate(&r.CreatedAt), r.Archived)
	}
	return tw.Flush()
}
