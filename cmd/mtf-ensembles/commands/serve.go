package commands

import (
	"github.com/spf13/cobra"

	"mtf-ensembles/internal/mcp"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the ensemble operations as MCP tools over stdio",
	RunE: func(cmd *cobra.Command, args []string) error {
		server := mcp.NewServer(cfg, Version)
		return server.Run(cmd.Context())
	},
}
