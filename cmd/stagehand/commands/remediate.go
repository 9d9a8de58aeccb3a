package commands

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/stagehand/stagehand/pkg/stores"
)

func newRemediateCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "remediate",
		Short: "Match and fix known deployment failures",
		Long: `Remediate known failure patterns on a site.

Failure output is matched against the registered patterns in registration
order; the first match wins. The matched pattern's corrective command runs
in the site directory and, when the pattern defines one, a verification
command's exit status decides whether the fix counts as successful.`,
	}

	cmd.AddCommand(newRemediateRunCommand())
	cmd.AddCommand(newRemediateScanCommand())
	cmd.AddCommand(newRemediatePatternsCommand())
	cmd.AddCommand(newRemediateHistoryCommand())

	return cmd
}

func newRemediateRunCommand() *cobra.Command {
	var (
		inputFile string
		dryRun    bool
	)

	cmd := &cobra.Command{
		Use:   "run <site>",
		Short: "Remediate a failure from captured output",
		Long: `Match failure output against the pattern registry and apply the
corrective command for <site>.

The failure output is read from --input, or from stdin when --input is
omitted. With --dry-run the resolved command is printed without running
anything and without recording an attempt.`,
		Example: `  # Pipe a failed command's output in
  ddev exec drush config:import -y 2>&1 | stagehand remediate run demo

  # Preview what would run
  stagehand remediate run demo --input failure.log --dry-run`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			siteID := args[0]

			output, err := readFailureOutput(inputFile)
			if err != nil {
				return err
			}
			if strings.TrimSpace(output) == "" {
				return fmt.Errorf("no failure output to analyze (use --input or pipe to stdin)")
			}

			app, err := loadApp(cmd.Context())
			if err != nil {
				return err
			}
			defer app.close()

			engine := app.newRemedyEngine(dryRun)
			match, ok := engine.Analyze(output)
			if !ok {
				return fmt.Errorf("no pattern matches the failure output")
			}
			fmt.Printf("Matched pattern: %s (%s)\n", match.Pattern.ID, match.Pattern.Description)

			outcome, err := engine.Apply(cmd.Context(), match, siteID)
			if err != nil {
				return err
			}
			if outcome.DryRun {
				fmt.Printf("Would run: %s\n", outcome.Command)
				return nil
			}

			fmt.Printf("Ran: %s\n", outcome.Command)
			if outcome.Result != stores.RemediationResultSuccess {
				if outcome.VerifyOutput != "" {
					fmt.Fprintln(os.Stderr, outcome.VerifyOutput)
				}
				return fmt.Errorf("remediation %s did not verify", outcome.PatternID)
			}
			fmt.Println("Remediation verified")
			return nil
		},
	}

	cmd.Flags().StringVarP(&inputFile, "input", "i", "", "file holding the failure output (default: stdin)")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "print the resolved command without executing it")

	return cmd
}

func newRemediateScanCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "scan <site>",
		Short: "Proactively scan a site for latent problems",
		Long: `Probe a site for problems without a triggering failure: runtime
state, database connectivity, and pending migrations. The site's derived
caches are rebuilt at the end of every scan.`,
		Example: `  stagehand remediate scan demo`,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := loadApp(cmd.Context())
			if err != nil {
				return err
			}
			defer app.close()

			report, err := app.remedy.SiteScan(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			if len(report.Issues) == 0 {
				fmt.Println("No issues found")
				return nil
			}
			fmt.Printf("%d issue(s) found:\n", len(report.Issues))
			for _, issue := range report.Issues {
				fmt.Printf("  - %s\n", issue)
			}
			for _, id := range report.Fixed {
				fmt.Printf("Fixed: %s\n", id)
			}
			for _, id := range report.Unfixed {
				fmt.Printf("Unfixed: %s\n", id)
			}
			if !report.Healthy() {
				return fmt.Errorf("%d issue(s) could not be fixed", len(report.Unfixed))
			}
			fmt.Println("All issues fixed")
			return nil
		},
	}

	return cmd
}

func newRemediatePatternsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "patterns",
		Short: "List the registered failure patterns",
		Long: `List every registered failure pattern in match order: the builtins
first, then the operator pattern file entries.`,
		Example: `  stagehand remediate patterns`,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := loadApp(cmd.Context())
			if err != nil {
				return err
			}
			defer app.close()

			fmt.Printf("%-28s  %-8s  %s\n", "ID", "SEVERITY", "DESCRIPTION")
			for _, p := range app.registry.Patterns() {
				fmt.Printf("%-28s  %-8s  %s\n", p.ID, p.Severity, p.Description)
			}
			return nil
		},
	}

	return cmd
}

func newRemediateHistoryCommand() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "history <site>",
		Short: "Show recent remediation attempts",
		Example: `  stagehand remediate history demo --limit 10`,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := loadApp(cmd.Context())
			if err != nil {
				return err
			}
			defer app.close()

			attempts, err := app.remedy.History(cmd.Context(), args[0], limit)
			if err != nil {
				return err
			}
			if len(attempts) == 0 {
				fmt.Println("No remediation attempts recorded")
				return nil
			}

			fmt.Printf("%-24s  %-8s  %-20s  %s\n", "PATTERN", "RESULT", "WHEN", "COMMAND")
			for _, attempt := range attempts {
				fmt.Printf("%-24s  %-8s  %-20s  %s\n",
					attempt.PatternID, attempt.Result,
					attempt.CreatedAt.Local().Format("2006-01-02 15:04:05"),
					attempt.Command)
			}
			return nil
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "number of attempts to show")

	return cmd
}

// readFailureOutput reads the failure text from a file or stdin.
func readFailureOutput(path string) (string, error) {
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return "", fmt.Errorf("failed to read failure output: %w", err)
		}
		return string(data), nil
	}
	data, err := io.ReadAll(os.Stdin)
	if err != nil {
		return "", fmt.Errorf("failed to read failure output from stdin: %w", err)
	}
	return string(data), nil
}
