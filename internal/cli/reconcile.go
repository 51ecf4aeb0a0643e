package cli

import (
	"github.com/spf13/cobra"
)

func NewReconcileCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Fetch a snapshot from the order service and update the local cache",
		Long: `Run one forced reconciliation: restore the local cache, fetch the order
service snapshot, merge it and write the result back to the cache.

Example:
  billgenie reconcile --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := loadConfig(rootOpts, true)
			if err != nil {
				return err
			}
			c, err := openCore(ctx, cfg, true)
			if err != nil {
				return err
			}
			defer c.Close()

			svc := c.service(cfg, nil)
			svc.RestoreCache(ctx)
			res, err := svc.RequestReconciliation(ctx, true)
			if err != nil {
				return err
			}
			return writeReconcile(cmd.OutOrStdout(), rootOpts.Format, res)
		},
	}
	return cmd
}
