package main

import (
	"fmt"

	"github.com/awantoch/flowhook/constants"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

// newReplayCmd creates the 'replay' subcommand.
func newReplayCmd() *cobra.Command {
	return &cobra.Command{
		Use:   constants.CmdReplay + " <execution-id>",
		Short: constants.DescReplay,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			id, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid execution id: %w", err)
			}
			rt, err := newRuntime(ctx)
			if err != nil {
				return err
			}
			defer rt.Close(ctx)

			exec, runErr := rt.runner.Replay(ctx, id)
			if exec != nil {
				if err := rt.printExecution(ctx, cmd.OutOrStdout(), exec.ID); err != nil {
					return err
				}
			}
			return runErr
		},
	}
}
