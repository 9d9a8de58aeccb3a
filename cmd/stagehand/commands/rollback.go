package commands

import (
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/stagehand/stagehand/pkg/steps"
)

func newRollbackCommand() *cobra.Command {
	var environment string

	cmd := &cobra.Command{
		Use:   "rollback <site>",
		Short: "Roll back to the most recent checkpoint",
		Long: `Restore the site's dataset from the most recent active checkpoint.

Rollback fails closed: without an active checkpoint, or with a missing
checkpoint artifact, nothing is touched. After the restore the site's
health is probed and reported; an unhealthy site after a successful
restore is reported to the operator, not reverted again.`,
		Example: `  # Roll back the staging copy of demo
  stagehand rollback demo-stage --env staging`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			siteID := args[0]
			env, err := steps.ParseEnvironment(environment)
			if err != nil {
				return err
			}

			app, err := loadApp(cmd.Context())
			if err != nil {
				return err
			}
			defer app.close()

			log.Info().Str("site", siteID).Str("environment", string(env)).Msg("Rolling back")

			cp, health, err := app.checkpoints.ExecuteRollback(cmd.Context(), siteID, string(env))
			if err != nil {
				app.metrics.RecordRollback("failure")
				return err
			}
			app.metrics.RecordRollback("success")

			fmt.Printf("Rolled back %s to checkpoint %s (taken %s)\n",
				siteID, cp.ID, cp.CreatedAt.Local().Format("2006-01-02 15:04:05"))
			fmt.Printf("Site health: %s\n", health)
			if !health.Healthy() {
				// The data is restored; the operator decides what to do next.
				log.Warn().Str("site", siteID).Msg("Site is unhealthy after rollback")
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&environment, "env", "e", string(steps.EnvDevelopment), "target environment (development, staging, production)")

	return cmd
}
