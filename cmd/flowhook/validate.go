package main

import (
	"fmt"

	"github.com/awantoch/flowhook/apps"
	"github.com/awantoch/flowhook/constants"
	"github.com/awantoch/flowhook/dsl"
	"github.com/spf13/cobra"
)

// newValidateCmd creates the 'validate' subcommand.
func newValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   constants.CmdValidate + " <file>...",
		Short: constants.DescValidate,
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			reg, err := apps.NewRegistry()
			if err != nil {
				return err
			}
			var failed int
			for _, file := range args {
				flow, err := dsl.Load(file, reg)
				if err != nil {
					failed++
					fmt.Fprintf(cmd.ErrOrStderr(), "%v\n", err)
					continue
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s: flow %q (%s) is valid\n", file, flow.Name, flow.ID)
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d flow file(s) invalid", failed, len(args))
			}
			return nil
		},
	}
}
