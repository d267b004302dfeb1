package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/awantoch/flowhook/constants"
	"github.com/awantoch/flowhook/dsl"
	"github.com/spf13/cobra"
)

// newRunCmd creates the 'run' subcommand.
func newRunCmd() *cobra.Command {
	var until, triggerPath, triggerJSON string
	cmd := &cobra.Command{
		Use:   constants.CmdRun + " <file>",
		Short: constants.DescRun,
		Long: "Runs a flow file once as a test run. Without --trigger or --trigger-json the " +
			"trigger is sampled from the provider and the most recent item is used.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			output, err := loadTriggerOutput(triggerPath, triggerJSON)
			if err != nil {
				return err
			}
			rt, err := newRuntime(ctx)
			if err != nil {
				return err
			}
			defer rt.Close(ctx)

			flow, err := dsl.Load(args[0], rt.registry)
			if err != nil {
				return err
			}
			now := time.Now().UTC()
			flow.CreatedAt, flow.UpdatedAt = now, now
			if existing, err := rt.store.GetFlow(ctx, flow.ID); err == nil {
				// a test run never changes whether the stored flow is active
				flow.Active = existing.Active
				flow.CreatedAt = existing.CreatedAt
			} else {
				flow.Active = false
			}
			if err := rt.store.SaveFlow(ctx, flow); err != nil {
				return err
			}

			exec, runErr := rt.runner.TestRun(ctx, flow, until, output)
			if exec != nil {
				if err := rt.printExecution(ctx, cmd.OutOrStdout(), exec.ID); err != nil {
					return err
				}
			}
			return runErr
		},
	}
	cmd.Flags().StringVar(&until, constants.FlagUntil, "", "Stop after this step")
	cmd.Flags().StringVar(&triggerPath, "trigger", "", "Path to a JSON file used as the trigger output")
	cmd.Flags().StringVar(&triggerJSON, "trigger-json", "", "Inline JSON used as the trigger output")
	return cmd
}

func loadTriggerOutput(path, inline string) (map[string]any, error) {
	raw := []byte(inline)
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		raw = data
	}
	if len(raw) == 0 {
		return nil, nil
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("trigger output must be a JSON object: %w", err)
	}
	return out, nil
}
