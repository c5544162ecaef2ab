package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/texsync/texsync/internal/engine"
)

func init() {
	rootCmd.AddCommand(newPullCmd())
}

func newPullCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "pull",
		Short: "Fetch remote changes and merge them into the local branch",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			eng, err := newEngine(cmd)
			if err != nil {
				return err
			}
			result, err := eng.Pull(cmd.Context())
			if err != nil {
				return err
			}

			switch result.Status {
			case engine.StatusUpToDate:
				fmt.Printf("%s already up to date at rev %s\n", green("ok"), result.Revision)

			case engine.StatusMerged:
				fmt.Printf("%s merged remote changes at rev %s\n", green("ok"), result.Revision)
				for _, change := range result.Applied {
					fmt.Printf("  %s %s\n", change.Kind, change.Path)
				}

			case engine.StatusConflicts:
				fmt.Printf("%s pull left %d conflicted file(s) at rev %s:\n",
					yellow("conflicts"), len(result.Conflicts), result.Revision)
				for _, conflict := range result.Conflicts {
					fmt.Printf("  %s\n", conflict.Path)
					if conflict.Preview != "" {
						fmt.Println(indent(conflict.Preview, "    "))
					}
				}
				fmt.Println(cyan("resolve the markers, commit, then run 'texsync pull' again"))
				os.Exit(exitConflicts)
			}
			return nil
		},
	}
}

func indent(s, prefix string) string {
	return prefix + strings.ReplaceAll(s, "\n", "\n"+prefix)
}
