package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newCheckpointsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "checkpoints [site]",
		Short: "List recorded checkpoints",
		Long: `List checkpoints, newest first. Without a site argument every
site's checkpoints are shown.`,
		Example: `  # All checkpoints
  stagehand checkpoints

  # Checkpoints for one site
  stagehand checkpoints demo-stage`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			siteID := ""
			if len(args) == 1 {
				siteID = args[0]
			}

			app, err := loadApp(cmd.Context())
			if err != nil {
				return err
			}
			defer app.close()

			checkpoints, err := app.checkpoints.List(cmd.Context(), siteID)
			if err != nil {
				return err
			}
			if len(checkpoints) == 0 {
				fmt.Println("No checkpoints recorded")
				return nil
			}

			fmt.Printf("%-36s  %-20s  %-12s  %-11s  %s\n", "ID", "SITE", "ENVIRONMENT", "STATUS", "CREATED")
			for _, cp := range checkpoints {
				fmt.Printf("%-36s  %-20s  %-12s  %-11s  %s\n",
					cp.ID, cp.SiteID, cp.Environment, cp.Status,
					cp.CreatedAt.Local().Format("2006-01-02 15:04:05"))
			}
			return nil
		},
	}

	return cmd
}
