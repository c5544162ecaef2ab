package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(newPushCmd())
}

func newPushCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "push",
		Short: "Upload local commits to the remote project",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			eng, err := newEngine(cmd)
			if err != nil {
				return err
			}
			result, err := eng.Push(cmd.Context())
			if err != nil {
				return err
			}

			if result.UpToDate {
				fmt.Printf("%s nothing to push, remote is at rev %s\n", green("ok"), result.Revision)
				return nil
			}
			fmt.Printf("%s pushed %d change(s), remote now at rev %s\n",
				green("ok"), len(result.Pushed), result.Revision)
			for _, change := range result.Pushed {
				fmt.Printf("  %s %s\n", change.Kind, change.Path)
			}
			return nil
		},
	}
}
