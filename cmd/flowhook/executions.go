package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/awantoch/flowhook/constants"
	"github.com/awantoch/flowhook/model"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

// newExecutionsCmd creates the 'executions' subcommand group.
func newExecutionsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   constants.CmdExecutions,
		Short: constants.DescExecutions,
	}
	cmd.AddCommand(newListExecutionsCmd(), newShowExecutionCmd())
	return cmd
}

func newListExecutionsCmd() *cobra.Command {
	var flowID, status string
	var limit int
	cmd := &cobra.Command{
		Use:   constants.CmdList,
		Short: constants.DescListExecs,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			filter := model.ExecutionFilter{Status: model.ExecutionStatus(status), Limit: limit}
			if flowID != "" {
				id, err := uuid.Parse(flowID)
				if err != nil {
					return fmt.Errorf("invalid flow id: %w", err)
				}
				filter.FlowID = &id
			}
			rt, err := newRuntime(ctx)
			if err != nil {
				return err
			}
			defer rt.Close(ctx)

			execs, err := rt.store.ListExecutions(ctx, filter)
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tFLOW\tSTATUS\tTEST\tCREATED\tERROR")
			for _, e := range execs {
				fmt.Fprintf(w, "%s\t%s\t%s\t%t\t%s\t%s\n",
					e.ID, e.FlowID, e.Status, e.TestRun, e.CreatedAt.Format(time.RFC3339), e.Error)
			}
			return w.Flush()
		},
	}
	cmd.Flags().StringVar(&flowID, constants.FlagFlow, "", "Only executions of this flow")
	cmd.Flags().StringVar(&status, constants.FlagStatus, "", "Only executions with this status")
	cmd.Flags().IntVar(&limit, constants.FlagLimit, 20, "Maximum number of executions")
	return cmd
}

func newShowExecutionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   constants.CmdShow + " <execution-id>",
		Short: constants.DescShowExec,
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

			return rt.printExecution(ctx, cmd.OutOrStdout(), id)
		},
	}
}
