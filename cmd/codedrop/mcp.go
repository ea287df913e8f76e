package main

import (
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/spf13/cobra"
)

func newMCPCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Serve the codedrop tools over MCP (stdio)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, st, err := opts.openService()
			if err != nil {
				return err
			}
			defer st.Close()

			srv := mcp.NewServer(&mcp.Implementation{
				Name:    "codedrop",
				Version: "1.0.0",
			}, nil)
			svc.RegisterMCP(srv)

			opts.logger.Info("codedrop: serving MCP on stdio")
			return srv.Run(cmd.Context(), &mcp.StdioTransport{})
		},
	}
}
