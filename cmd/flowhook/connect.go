package main

import (
	"fmt"
	"strings"

	"github.com/awantoch/flowhook/auth"
	"github.com/awantoch/flowhook/constants"
	"github.com/awantoch/flowhook/credentials"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

// newConnectCmd creates the 'connect' subcommand.
func newConnectCmd() *cobra.Command {
	var fields []string
	var user string
	cmd := &cobra.Command{
		Use:   constants.CmdConnect + " <app>",
		Short: constants.DescConnect,
		Long: "Verifies the given fields against the app and stores a connection. For OAuth2 apps, " +
			"run once without a code field to print the authorization URL, then again with --field code=<code>.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			input, err := parseFields(fields)
			if err != nil {
				return err
			}
			rt, err := newRuntime(ctx)
			if err != nil {
				return err
			}
			defer rt.Close(ctx)

			a, err := rt.registry.App(args[0])
			if err != nil {
				return err
			}
			for _, f := range a.AuthFields {
				if _, ok := input[f.Key]; !ok && f.Default != "" {
					input[f.Key] = f.Default
				}
			}
			if _, isAuthCode := a.Auth.(*auth.OAuth2AuthCode); isAuthCode && input.String(constants.FieldCode) == "" {
				url, err := rt.auth.AuthCodeURL(ctx, a.Key, input, uuid.NewString())
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Open this URL to authorize %s, then rerun with --field %s=<code>:\n%s\n", a.Name, constants.FieldCode, url)
				return nil
			}

			conn, err := rt.auth.Verify(ctx, a.Key, user, input)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), conn)
		},
	}
	cmd.Flags().StringArrayVar(&fields, constants.FlagField, nil, "Connection field as key=value (repeatable)")
	cmd.Flags().StringVar(&user, constants.FlagUser, "", "Owner of the connection")
	return cmd
}

func parseFields(fields []string) (credentials.Data, error) {
	out := credentials.Data{}
	for _, f := range fields {
		key, value, ok := strings.Cut(f, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("field %q must be key=value", f)
		}
		out[key] = value
	}
	return out, nil
}
