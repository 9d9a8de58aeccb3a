package commands

import (
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/stagehand/stagehand/pkg/orchestrator"
	"github.com/stagehand/stagehand/pkg/steps"
)

func newResumeCommand() *cobra.Command {
	var (
		target      string
		environment string
		deployType  string
		source      string
		fromStep    int
	)

	cmd := &cobra.Command{
		Use:   "resume <site>",
		Short: "Resume a stopped deployment",
		Long: `Continue a deployment that stopped partway through the catalog.

By default the run resumes from the tracked stopped position. Steps below
the resume point are verified rather than re-run, and re-run only when
their verification fails, so a resume after a transient failure is cheap.
--from-step overrides the tracked position for manual recovery.`,
		Example: `  # Resume from where the last run stopped
  stagehand resume demo --target demo-stage --env staging

  # Force a resume from step 5
  stagehand resume demo --target demo-stage --env staging --from-step 5`,
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
				Str("target", deployment.TargetID).
				Int("from_step", fromStep).
				Msg("Resuming deployment")

			if err := app.orch.Resume(cmd.Context(), deployment, fromStep); err != nil {
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
	cmd.Flags().IntVar(&fromStep, "from-step", 0, "override the tracked resume position (0 = tracked)")

	return cmd
}
