package main

import (
	"fmt"
	"sort"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/trezcool/fieldops/core"
	"github.com/trezcool/fieldops/core/tenant"
)

func (cli *commandLine) createTenantCmd() *cobra.Command {
	var (
		nt   tenant.NewTenant
		plan string
	)
	cmd := &cobra.Command{
		Use:   "createtenant",
		Short: "Create a tenant",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if nt.Name == "" || nt.Slug == "" {
				_ = cmd.Usage()
				return errHelp
			}
			nt.Plan = tenant.Plan(plan)
			if err := nt.Validate(cmd.Context(), cli.validate, cli.tenantSvc); err != nil {
				return err
			}
			t, err := cli.tenantSvc.Create(cmd.Context(), nt)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "tenant %s created (%s), plan %s, next reset at %s\n",
				t.Slug, t.ID, t.Subscription.Plan, t.Subscription.NextResetAt.Format(time.RFC3339))
			return nil
		},
	}
	cmd.Flags().StringVar(&nt.Name, "name", "", "display name")
	cmd.Flags().StringVar(&nt.Slug, "slug", "", "unique slug")
	cmd.Flags().StringVar(&nt.Timezone, "timezone", "", "IANA time zone (default UTC)")
	cmd.Flags().StringVar(&plan, "plan", string(tenant.PlanFree), "free | basic | pro | enterprise")
	cmd.Flags().IntVar(&nt.BillingDay, "billing-day", 0, "day of the month the billing cycle starts (default today)")
	return cmd
}

func (cli *commandLine) resetUsageCmd() *cobra.Command {
	var (
		tenantRef string
		force     bool
	)
	cmd := &cobra.Command{
		Use:   "resetusage",
		Short: "Reset the monthly usage of every due tenant, or of one tenant",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			now := core.NowFunc()
			out := cmd.OutOrStdout()

			if tenantRef == "" {
				if force {
					return errors.New("--force needs --tenant")
				}
				summary, err := cli.tenantSvc.ResetDue(ctx, now)
				if err != nil {
					return err
				}
				for _, res := range summary.Results {
					printResetResult(cmd, res)
				}
				fmt.Fprintf(out, "checked %d: %d reset, %d skipped, %d in progress, %d failed\n",
					summary.Checked, summary.Reset, summary.Skipped, summary.InProgress, summary.Failed)
				if summary.Failed > 0 {
					return errors.Errorf("%d resets failed", summary.Failed)
				}
				return nil
			}

			t, err := cli.findTenant(cmd, tenantRef)
			if err != nil {
				return err
			}
			res, err := cli.tenantSvc.ResetUsage(ctx, t.ID, now, force)
			if err != nil {
				return err
			}
			printResetResult(cmd, res)
			return nil
		},
	}
	cmd.Flags().StringVar(&tenantRef, "tenant", "", "the tenant's slug or id")
	cmd.Flags().BoolVar(&force, "force", false, "reset even if the billing cycle has not ended")
	return cmd
}

func printResetResult(cmd *cobra.Command, res tenant.ResetResult) {
	out := cmd.OutOrStdout()
	switch res.Status {
	case tenant.ResetDone:
		fmt.Fprintf(out, "%s: reset, %d work orders and %d sms archived, next reset at %s\n",
			res.TenantID, res.Previous.WorkOrders, res.Previous.SMS, res.NextResetAt.Format(time.RFC3339))
	case tenant.ResetSkipped:
		fmt.Fprintf(out, "%s: skipped, next reset at %s\n", res.TenantID, res.NextResetAt.Format(time.RFC3339))
	default:
		fmt.Fprintf(out, "%s: %s %s\n", res.TenantID, res.Status, res.Error)
	}
}

func (cli *commandLine) recalcStorageCmd() *cobra.Command {
	var tenantRef string
	cmd := &cobra.Command{
		Use:   "recalcstorage",
		Short: "Recompute the storage usage of every tenant, or of one tenant, from the object store",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			out := cmd.OutOrStdout()

			if tenantRef != "" {
				t, err := cli.findTenant(cmd, tenantRef)
				if err != nil {
					return err
				}
				size, err := cli.tenantSvc.RecalculateStorage(ctx, t.ID)
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "%s: %d bytes\n", t.Slug, size)
				return nil
			}

			sizes, err := cli.tenantSvc.RecalculateAllStorage(ctx)
			ids := make([]string, 0, len(sizes))
			for id := range sizes {
				ids = append(ids, id)
			}
			sort.Strings(ids)
			for _, id := range ids {
				fmt.Fprintf(out, "%s: %d bytes\n", id, sizes[id])
			}
			return err
		},
	}
	cmd.Flags().StringVar(&tenantRef, "tenant", "", "the tenant's slug or id")
	return cmd
}
