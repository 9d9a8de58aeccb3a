package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/stagehand/stagehand/pkg/acquire"
)

func newAcquireCommand() *cobra.Command {
	var (
		target string
		source string
	)

	cmd := &cobra.Command{
		Use:   "acquire <site>",
		Short: "Acquire a working dataset for a site",
		Long: `Populate a site's database from the best available source, outside
of a full deployment.

With --source auto the strategies are tried in priority order: a fresh
sanitized snapshot, a fresh unsanitized snapshot (sanitized after
restore), a live production extraction, then a clone of the development
sibling. Explicit sources skip the fallback chain.`,
		Example: `  # Best available source for demo-stage, data logically belonging to demo
  stagehand acquire demo --target demo-stage

  # Force a production pull
  stagehand acquire demo --target demo-stage --source production

  # Load an operator-supplied dump as-is
  stagehand acquire demo --source backup:/dumps/demo.sql.gz`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			siteID := args[0]
			if target == "" {
				target = siteID
			}
			intent, err := acquire.ParseIntent(source)
			if err != nil {
				return err
			}

			app, err := loadApp(cmd.Context())
			if err != nil {
				return err
			}
			defer app.close()

			handle, err := app.router.Acquire(cmd.Context(), intent, siteID, target)
			if err != nil {
				app.metrics.RecordAcquisition(string(intent.Kind), "failure")
				return err
			}
			app.metrics.RecordAcquisition(handle.Strategy, "success")

			fmt.Printf("Dataset acquired for %s\n", target)
			fmt.Printf("  strategy:  %s\n", handle.Strategy)
			if handle.Path != "" {
				fmt.Printf("  source:    %s\n", handle.Path)
			}
			fmt.Printf("  sanitized: %v\n", handle.Sanitized)
			return nil
		},
	}

	cmd.Flags().StringVarP(&target, "target", "t", "", "target site receiving the data (defaults to the source site)")
	cmd.Flags().StringVarP(&source, "source", "s", "auto", "data source: auto, production, development, backup:<path>, url:<url>")

	return cmd
}
