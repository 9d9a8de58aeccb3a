package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/stagehand/stagehand/pkg/steps"
)

func newStatusCommand() *cobra.Command {
	var (
		environment string
		events      int
	)

	cmd := &cobra.Command{
		Use:   "status <site>",
		Short: "Show a site's deployment status",
		Long: `Show the reconciled deployment status for a site: the tracked step
position checked against the observed environment state, plus the most
recent deployment events.

A site with no tracked progress that is nonetheless materialized in the
environment reports "Complete (untracked)" rather than "Not started".`,
		Example: `  stagehand status demo-stage --env staging`,
		Args:    cobra.ExactArgs(1),
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

			status, err := app.tracker.StatusDisplay(cmd.Context(), siteID, env, app.local)
			if err != nil {
				return err
			}
			fmt.Printf("%s (%s): %s\n", siteID, env, status)

			if events > 0 {
				recent, err := app.db.ListDeployEvents(cmd.Context(), siteID, events)
				if err != nil {
					return err
				}
				if len(recent) > 0 {
					fmt.Println("\nRecent events:")
					for _, event := range recent {
						fmt.Printf("  %s  %-7s  %s\n",
							event.CreatedAt.Local().Format("2006-01-02 15:04:05"),
							event.Level, event.Message)
					}
				}
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&environment, "env", "e", string(steps.EnvDevelopment), "target environment (development, staging, production)")
	cmd.Flags().IntVar(&events, "events", 10, "number of recent events to show (0 = none)")

	return cmd
}
