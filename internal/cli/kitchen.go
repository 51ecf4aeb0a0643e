package cli

import (
	"github.com/spf13/cobra"
)

type KitchenOptions struct {
	*RootOptions
	Fetch bool
}

func NewKitchenCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &KitchenOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "kitchen",
		Short: "Print the kitchen view",
		Long: `Print active items grouped per order as the kitchen display shows them.

Reads the local cache; --fetch reconciles with the order service first.

Example:
  billgenie kitchen
  billgenie kitchen --fetch --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := loadConfig(opts.RootOptions, true)
			if err != nil {
				return err
			}
			c, err := openCore(ctx, cfg, opts.Fetch)
			if err != nil {
				return err
			}
			defer c.Close()

			svc := c.service(cfg, nil)
			svc.RestoreCache(ctx)
			if opts.Fetch {
				if _, err := svc.RequestReconciliation(ctx, true); err != nil {
					return err
				}
			}
			return writeKitchen(cmd.OutOrStdout(), opts.Format, svc.KitchenView())
		},
	}
	cmd.Flags().BoolVar(&opts.Fetch, "fetch", false, "reconcile with the order service before printing")
	return cmd
}
