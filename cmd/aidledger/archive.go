package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"aidledger/internal/config"
)

func newArchiveCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "archive",
		Short: "Request and decide sponsor archives",
	}

	request := &cobra.Command{
		Use:   "request SPONSOR_ID",
		Short: "Ask an admin to archive a sponsor at term end",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			engine, err := a.engine(ctx)
			if err != nil {
				return err
			}
			sp, err := engine.Archive.RequestArchive(ctx, a.actingUser, args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", sp.ID, sp.CurrentArchiveStatus())
			return nil
		},
	}

	approve := &cobra.Command{
		Use:   "approve SPONSOR_ID",
		Short: "Approve a pending archive and archive every grant",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			engine, err := a.engine(ctx)
			if err != nil {
				return err
			}
			res, err := engine.Archive.Approve(ctx, a.actingUser, args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if res.AlreadyApproved {
				fmt.Fprintf(out, "%s already archived\n", res.SponsorID)
				return nil
			}
			fmt.Fprintf(out, "%s archived: %d gated, %d pooled grants\n",
				res.SponsorID, res.GatedArchived, res.PooledArchived)
			return nil
		},
	}

	deny := &cobra.Command{
		Use:   "deny SPONSOR_ID",
		Short: "Deny a pending archive",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			engine, err := a.engine(ctx)
			if err != nil {
				return err
			}
			sp, err := engine.Archive.Deny(ctx, a.actingUser, args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", sp.ID, sp.CurrentArchiveStatus())
			return nil
		},
	}

	pending := &cobra.Command{
		Use:   "pending",
		Short: "List sponsors awaiting an archive decision",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			engine, err := a.engine(ctx)
			if err != nil {
				return err
			}
			list, err := engine.Archive.PendingArchives(ctx)
			if err != nil {
				return err
			}
			tw := newTable(cmd.OutOrStdout())
			fmt.Fprintln(tw, "SPONSOR\tNAME\tREQUESTED BY\tREQUESTED")
			for _, sp := range list {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n",
					sp.ID, sp.Name, sp.ArchiveRequestedBy, formatDate(sp.ArchiveRequestedAt))
			}
			return tw.Flush()
		},
	}

	cmd.AddCommand(request, approve, deny, pending)
	return cmd
}

func newPolicyCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "policy",
		Short: "Manage the allocation policy file",
	}

	initCmd := &cobra.Command{
		Use:   "init PATH",
		Short: "Write the effective risk thresholds and cooldown presets to a TOML file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p := config.Policy{
				Risk: config.RiskPolicy{
					Monitor: a.cfg.RiskMonitorThreshold,
					High:    a.cfg.RiskHighThreshold,
				},
				Cooldown: config.CooldownPolicy{Presets: a.cfg.CooldownPresets},
			}
			if err := config.SavePolicy(args[0], p); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "policy written to %s\n", args[0])
			return nil
		},
	}

	cmd.AddCommand(initCmd)
	return cmd
}
