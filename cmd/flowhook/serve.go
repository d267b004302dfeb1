package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/awantoch/flowhook/constants"
	flowhttp "github.com/awantoch/flowhook/http"
	"github.com/awantoch/flowhook/utils"
	"github.com/spf13/cobra"
)

// newServeCmd creates the 'serve' subcommand.
func newServeCmd() *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   constants.CmdServe,
		Short: constants.DescServe,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, addr)
		},
	}
	cmd.Flags().StringVar(&addr, constants.FlagAddr, "", "Listen address (overrides config)")
	return cmd
}

func serve(ctx context.Context, addr string) error {
	rt, err := newRuntime(ctx)
	if err != nil {
		return err
	}
	defer rt.Close(context.Background())

	n, err := rt.syncFlows(ctx)
	if err != nil {
		return err
	}
	utils.Info("loaded %d flow(s) from %s", n, rt.cfg.FlowsDir)

	if err := rt.dispatcher.Start(ctx); err != nil {
		return err
	}
	if addr == "" {
		addr = rt.cfg.Addr()
	}
	server := flowhttp.NewServer(addr, rt.dispatcher, rt.bus)
	errCh := make(chan error, 1)
	go func() { errCh <- server.Start() }()

	select {
	case <-ctx.Done():
	case err = <-errCh:
		if err != nil {
			utils.Error("http server failed: %v", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), constants.DefaultShutdownTimeout)
	defer cancel()
	if stopErr := server.Stop(shutdownCtx); stopErr != nil {
		utils.Warn("http shutdown: %v", stopErr)
	}
	if stopErr := rt.dispatcher.Stop(shutdownCtx); stopErr != nil {
		utils.Warn("dispatcher shutdown: %v", stopErr)
	}
	return err
}
