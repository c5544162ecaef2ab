package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(newCompileCmd())
	rootCmd.AddCommand(newShareCmd())
}

func newCompileCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "compile",
		Short: "Trigger a remote compile of the linked project",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			eng, err := newEngine(cmd)
			if err != nil {
				return err
			}
			if err := eng.Compile(cmd.Context()); err != nil {
				return err
			}
			fmt.Printf("%s compile finished\n", green("ok"))
			return nil
		},
	}
}

func newShareCmd() *cobra.Command {
	var readOnly bool

	cmd := &cobra.Command{
		Use:   "share <email>",
		Short: "Invite a collaborator to the linked project",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			eng, err := newEngine(cmd)
			if err != nil {
				return err
			}
			if err := eng.Share(cmd.Context(), args[0], !readOnly); err != nil {
				return err
			}
			fmt.Printf("%s invited %s\n", green("ok"), args[0])
			return nil
		},
	}

	cmd.Flags().BoolVar(&readOnly, "read-only", false, "Grant read-only access")
	return cmd
}
