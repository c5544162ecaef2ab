package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func init() {
	rootCmd.AddCommand(newNewCmd())
}

func newNewCmd() *cobra.Command {
	var serverURL string

	cmd := &cobra.Command{
		Use:   "new [base_url] <name>",
		Short: "Create a remote project from the current repository",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := args[0]
			if len(args) == 2 {
				serverURL = args[0]
				name = args[1]
			}
			if serverURL == "" {
				serverURL = viper.GetString("server_url")
			}
			if serverURL == "" {
				return fmt.Errorf("no server given: pass a base URL or set server_url in the config")
			}

			eng, err := newEngine(cmd)
			if err != nil {
				return err
			}
			result, err := eng.NewProject(cmd.Context(), serverURL, name)
			if err != nil {
				return err
			}

			fmt.Printf("%s created project %s (%d files) at rev %s\n",
				green("ok"), result.ProjectID, result.Files, result.Revision)
			return nil
		},
	}

	cmd.Flags().StringVarP(&serverURL, "server", "s", "", "Server base URL")
	return cmd
}
