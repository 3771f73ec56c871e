package main

import (
	"context"
	"fmt"
	"time"

	"meshnode/cmd/meshnoded/ui"
	"meshnode/infra/health"
	"meshnode/node/reconfig"

	"github.com/spf13/cobra"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

const statusTimeout = 5 * time.Second

func statusCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Ask a running node whether its network is up",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), statusTimeout)
			defer cancel()

			socket := healthSocket(*g)
			conn, err := grpc.NewClient("unix://"+socket, grpc.WithTransportCredentials(insecure.NewCredentials()))
			if err != nil {
				return fmt.Errorf("connect to node: %w", err)
			}
			defer conn.Close()

			resp, err := healthpb.NewHealthClient(conn).Check(ctx, &healthpb.HealthCheckRequest{Service: health.Service})
			if err != nil {
				return fmt.Errorf("node not reachable at %s: %w", socket, err)
			}

			status := ui.ErrorMsg(reconfig.UserMessage)
			if resp.GetStatus() == healthpb.HealthCheckResponse_SERVING {
				status = ui.SuccessMsg("serving")
			}
			fmt.Fprint(cmd.OutOrStdout(), ui.KeyValues("",
				ui.KV("config", g.configPath),
				ui.KV("socket", socket),
				ui.KV("status", status),
			))
			return nil
		},
	}
}
