package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/stagehand/stagehand/pkg/preflight"
)

func newPreflightCommand() *cobra.Command {
	var target string

	cmd := &cobra.Command{
		Use:   "preflight <site>",
		Short: "Validate the environment before a deployment",
		Long: `Run the preflight battery for a deployment of <site>.

Every check runs even when an earlier one fails, so a single run shows the
whole picture: required tooling, disk space, production reachability, and
source and target site readiness. Warnings and informational results never
block a deployment; failures do.`,
		Example: `  # Check a fresh deployment of demo onto demo-stage
  stagehand preflight demo --target demo-stage

  # Check an in-place refresh
  stagehand preflight demo`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			siteID := args[0]
			if target == "" {
				target = siteID
			}

			app, err := loadApp(cmd.Context())
			if err != nil {
				return err
			}
			defer app.close()

			report, err := app.preflight.Run(cmd.Context(), preflight.Request{SourceID: siteID, TargetID: target})
			if err != nil {
				return err
			}

			printReport(report)
			if !report.Passed() {
				return fmt.Errorf("preflight failed with %d error(s)", report.ErrorCount())
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&target, "target", "t", "", "target site (defaults to the source site)")

	return cmd
}

func printReport(report *preflight.Report) {
	for _, res := range report.Results {
		fmt.Printf("%-6s %-26s %s\n", severityTag(res.Severity), res.Name, res.Detail)
	}
	fmt.Printf("\n%d failure(s), %d warning(s)\n", report.ErrorCount(), report.WarnCount())
}

func severityTag(s preflight.Severity) string {
	switch s {
	case preflight.SeverityPass:
		return "[ OK ]"
	case preflight.SeverityWarn:
		return "[WARN]"
	case preflight.SeverityFail:
		return "[FAIL]"
	default:
		return "[INFO]"
	}
}
