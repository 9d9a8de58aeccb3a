package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/stagehand/stagehand/pkg/configstore"
)

func newConfigCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Read and write settings values",
		Long: `Read and write dot-addressed keys in the settings file.

Writes rewrite only the addressed key; unrelated keys, comments, and
ordering in the settings document are preserved.`,
	}

	cmd.AddCommand(newConfigGetCommand())
	cmd.AddCommand(newConfigSetCommand())

	return cmd
}

func newConfigGetCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "get <key>",
		Short: "Print a settings value",
		Example: `  stagehand config get production.host
  stagehand config get sites.demo.environments.staging.deploy_step`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore()
			if err != nil {
				return err
			}
			value := store.Get(args[0], "")
			if value == "" {
				return fmt.Errorf("key %s is not set", args[0])
			}
			fmt.Println(value)
			return nil
		},
	}

	return cmd
}

func newConfigSetCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "set <key> <value>",
		Short: "Write a settings value",
		Example: `  stagehand config set production.host prod.example.com
  stagehand config set production.user deploy`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore()
			if err != nil {
				return err
			}
			if err := store.Set(args[0], args[1]); err != nil {
				return err
			}
			fmt.Printf("%s = %s\n", args[0], args[1])
			return nil
		},
	}

	return cmd
}

// openStore opens the settings store without wiring the full app; config
// commands must work before the rest of the configuration is valid.
func openStore() (*configstore.Store, error) {
	path, err := resolveConfigPath()
	if err != nil {
		return nil, err
	}
	return configstore.New(path)
}
