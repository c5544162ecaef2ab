package main

import (
	"fmt"
	"path"

	"github.com/spf13/cobra"

	"github.com/texsync/texsync/internal/sharelatex"
)

func init() {
	rootCmd.AddCommand(newCloneCmd())
}

func newCloneCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "clone <project_url> [path]",
		Short: "Mirror a remote project into a new local repository",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			target := ""
			if len(args) > 1 {
				target = args[1]
			} else {
				// default to the project id segment of the URL
				_, projectID, err := sharelatex.ParseProjectURL(args[0])
				if err != nil {
					return err
				}
				target = path.Base(projectID)
			}

			eng, err := engineAt(target)
			if err != nil {
				return err
			}
			result, err := eng.Clone(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			fmt.Printf("%s cloned project %s at rev %s (%d files) into %s\n",
				green("ok"), result.ProjectID, result.Revision, result.Files, result.Path)
			return nil
		},
	}
}
