package commands

import (
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/stagehand/stagehand/pkg/acquire"
	"github.com/stagehand/stagehand/pkg/orchestrator"
	"github.com/stagehand/stagehand/pkg/steps"
)

func newDeployCommand() *cobra.Command {
	var (
		target      string
		environment string
		deployType  string
		source      string
	)

	cmd := &cobra.Command{
		Use:   "deploy <site>",
		Short: "Run a full deployment",
		Long: `Deploy <site> through the ordered step catalog for the chosen
environment.

The run starts with a preflight check, records a checkpoint before the
first data-destructive step when the target already holds data, and tracks
progress so a failed run can be resumed from where it stopped. Known step
failures are remediated automatically and retried once.`,
		Example: `  # Fresh development copy of demo as demo-dev
  stagehand deploy demo --target demo-dev

  # Staging rehearsal fed from the best available data source
  stagehand deploy demo --target demo-stage --env staging --type import

  # Deploy from an explicit backup file
  stagehand deploy demo --source backup:/dumps/demo.sql.gz`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			deployment, err := buildDeployment(args[0], target, environment, deployType, source)
			if err != nil {
				return err
			}

			app, err := loadApp(cmd.Context())
			if err != nil {
				return err
			}
			defer app.close()

			log.Info().
				Str("site", deployment.SiteID).
				Str("target", deployment.TargetID).
				Str("environment", string(deployment.Environment)).
				Msg("Starting deployment")

			if err := app.orch.Deploy(cmd.Context(), deployment); err != nil {
				return err
			}
			fmt.Printf("Deployment of %s to %s complete\n", deployment.TargetID, deployment.Environment)
			return nil
		},
	}

	cmd.Flags().StringVarP(&target, "target", "t", "", "target site (defaults to the source site)")
	cmd.Flags().StringVarP(&environment, "env", "e", string(steps.EnvDevelopment), "target environment (development, staging, production)")
	cmd.Flags().StringVar(&deployType, "type", string(orchestrator.DeployFresh), "deployment type (fresh, import, promote)")
	cmd.Flags().StringVarP(&source, "source", "s", "auto", "data source: auto, production, development, backup:<path>, url:<url>")

	return cmd
}

// buildDeployment validates the operator's flag values into a deployment.
func buildDeployment(siteID, target, environment, deployType, source string) (orchestrator.Deployment, error) {
	if target == "" {
		target = siteID
	}
	env, err := steps.ParseEnvironment(environment)
	if err != nil {
		return orchestrator.Deployment{}, err
	}
	dt, err := orchestrator.ParseDeployType(deployType)
	if err != nil {
		return orchestrator.Deployment{}, err
	}
	intent, err := acquire.ParseIntent(source)
	if err != nil {
		return orchestrator.Deployment{}, err
	}
	return orchestrator.Deployment{
		Type:        dt,
		SiteID:      siteID,
		TargetID:    target,
		Environment: env,
		Intent:      intent,
	}, nil
}
