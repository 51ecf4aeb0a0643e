package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/veerananda/billgenie-sync/internal/migrate"
)

func NewMigrateCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "migrate [up|down|status]",
		Short:         "Manage the order service database schema",
		Args:          cobra.MatchAll(cobra.MaximumNArgs(1), cobra.OnlyValidArgs),
		ValidArgs:     []string{"up", "down", "status"},
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(rootOpts, true)
			if err != nil {
				return err
			}
			if cfg.DB_STRING == "" {
				return errNoDatabase
			}
			action := "up"
			if len(args) == 1 {
				action = args[0]
			}
			switch action {
			case "up":
				return migrate.Up(cfg.DB_STRING)
			case "down":
				return migrate.Down(cfg.DB_STRING)
			case "status":
				return migrate.Status(cfg.DB_STRING)
			}
			return fmt.Errorf("unknown migrate action %q", action)
		},
	}
	return cmd
}
