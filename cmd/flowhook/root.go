package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/awantoch/flowhook/constants"
	"github.com/awantoch/flowhook/utils"
	"github.com/spf13/cobra"
)

var (
	configPath string
	debug      bool
	flowsDir   string
)

// NewRootCmd creates the root 'flowhook' command with persistent flags and subcommands.
func NewRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "flowhook",
		Short:         constants.DescRoot,
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, constants.FlagConfig, "c", constants.ConfigFileName, "Path to config file (JSON or YAML)")
	rootCmd.PersistentFlags().BoolVar(&debug, constants.FlagDebug, os.Getenv(constants.EnvDebug) != "", "Enable debug logs")
	rootCmd.PersistentFlags().StringVar(&flowsDir, constants.FlagFlowDir, "", "Path to flows directory (overrides config file)")
	rootCmd.PersistentPreRun = func(cmd *cobra.Command, args []string) {
		if debug {
			utils.SetLevel("debug")
		}
	}

	rootCmd.AddCommand(
		newServeCmd(),
		newRunCmd(),
		newValidateCmd(),
		newConnectCmd(),
		newAppsCmd(),
		newExecutionsCmd(),
		newReplayCmd(),
	)
	return rootCmd
}

func printJSON(w io.Writer, v any) error {
	out, err := json.MarshalIndent(v, "", constants.JSONIndent)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(out))
	return err
}
