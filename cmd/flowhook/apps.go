package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/awantoch/flowhook/apps"
	"github.com/awantoch/flowhook/constants"
	"github.com/spf13/cobra"
)

// newAppsCmd creates the 'apps' subcommand.
func newAppsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   constants.CmdApps,
		Short: constants.DescApps,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			reg, err := apps.NewRegistry()
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "APP\tKIND\tKEY\tDETAIL")
			for _, a := range reg.Apps() {
				authKind := "none"
				if a.Auth != nil {
					authKind = string(a.Auth.Kind())
				}
				fmt.Fprintf(w, "%s\tauth\t-\t%s\n", a.Key, authKind)
				for _, t := range a.Triggers {
					fmt.Fprintf(w, "%s\ttrigger\t%s\t%s\n", a.Key, t.Key, t.Type)
				}
				for _, act := range a.Actions {
					fmt.Fprintf(w, "%s\taction\t%s\t%s\n", a.Key, act.Key, act.Name)
				}
			}
			return w.Flush()
		},
	}
}
